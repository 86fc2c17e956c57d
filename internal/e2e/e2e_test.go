package e2e

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinMeld/go-dm/internal/auth"
	"github.com/VinMeld/go-dm/internal/client"
	"github.com/VinMeld/go-dm/internal/clock"
	"github.com/VinMeld/go-dm/internal/crypto"
	"github.com/VinMeld/go-dm/internal/server"
	"github.com/VinMeld/go-dm/internal/store/sqlitestore"
)

const (
	jwtSecret         = "e2e-secret"
	registrationToken = "secret-token"
)

var idPattern = regexp.MustCompile(`\(ID: ([0-9a-f-]+)\)`)

func startServer(t *testing.T, clk *clock.FakeClock) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	st, err := sqlitestore.Open(sqlitestore.Config{Path: filepath.Join(dir, "dm.db")})
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	gw, err := crypto.NewGateway(key)
	require.NoError(t, err)
	blobs, err := server.NewLocalBlobStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	tokens, err := auth.NewTokens(jwtSecret, time.Hour, clk)
	require.NoError(t, err)

	srv := server.New(server.Options{
		Store:             st,
		Cipher:            gw,
		Blobs:             blobs,
		Tokens:            tokens,
		Clock:             clk,
		RegistrationToken: registrationToken,
	})
	ctx, cancel := context.WithCancel(context.Background())
	srv.RunWorkers(ctx)
	ts := httptest.NewServer(srv.Server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		_ = srv.Close()
	})
	return ts
}

// runCmd executes the CLI against the config file in configDir.
func runCmd(t *testing.T, configDir string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := client.GetRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append(args, "--config", filepath.Join(configDir, "config.json")))
	require.NoError(t, cmd.Execute())
	return out.String()
}

func lastID(t *testing.T, output string) string {
	t.Helper()
	m := idPattern.FindAllStringSubmatch(output, -1)
	require.NotEmpty(t, m, "no message id in %q", output)
	return m[len(m)-1][1]
}

func TestEndToEnd(t *testing.T) {
	clk := clock.Fake(time.Now())
	ts := startServer(t, clk)

	aliceDir, bobDir := t.TempDir(), t.TempDir()
	for user, dir := range map[string]string{"alice": aliceDir, "bob": bobDir} {
		out := runCmd(t, dir, "config", "init", "--server", ts.URL, "--registration-token", registrationToken)
		require.Contains(t, out, "Config saved")
		out = runCmd(t, dir, "token", "mint", user, "--secret", jwtSecret)
		require.Contains(t, out, "Token stored for "+user)
	}
	require.Contains(t, runCmd(t, aliceDir, "register", "alice", "Alice"), "registered")
	require.Contains(t, runCmd(t, aliceDir, "register", "bob", "Bob"), "registered")
	assert.Contains(t, runCmd(t, aliceDir, "ping"), "Pong!")

	// Seen messages disappear five minutes later.
	out := runCmd(t, aliceDir, "send", "Bob", "hello", "bob")
	require.Contains(t, out, "Message sent")

	out = runCmd(t, bobDir, "conversations")
	assert.Contains(t, out, "* Alice (alice): hello bob")

	out = runCmd(t, bobDir, "messages", "alice")
	assert.Contains(t, out, "[1] alice -> bob: hello bob")
	assert.Contains(t, runCmd(t, bobDir, "seen", "1"), "seen, expires")

	clk.Advance(6 * time.Minute)
	assert.Contains(t, runCmd(t, bobDir, "messages", "alice"), "No messages.")

	// Files travel through the upload endpoint and come back intact.
	testFile := filepath.Join(aliceDir, "hello.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("Hello Bob!"), 0o644))
	out = runCmd(t, aliceDir, "send-file", "bob", testFile)
	require.Contains(t, out, "File hello.txt (10 B) sent")
	fileID := lastID(t, out)

	out = runCmd(t, bobDir, "messages", "alice")
	assert.Contains(t, out, "[1] alice -> bob: File: hello.txt")
	dest := filepath.Join(bobDir, "downloaded.txt")
	assert.Contains(t, runCmd(t, bobDir, "download", "1", "-o", dest), "File downloaded to")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "Hello Bob!", string(data))

	// A mutually saved message survives being seen.
	out = runCmd(t, aliceDir, "send", "bob", "keep", "me")
	keepID := lastID(t, out)
	assert.Contains(t, runCmd(t, aliceDir, "save", keepID), "updated")
	assert.Contains(t, runCmd(t, bobDir, "save", keepID), "saved by both sides")
	runCmd(t, bobDir, "seen", keepID)
	clk.Advance(time.Hour)
	out = runCmd(t, bobDir, "messages", "alice")
	assert.Contains(t, out, "keep me")
	assert.Contains(t, out, "saved")

	// Read cursors.
	assert.Contains(t, runCmd(t, bobDir, "read-status", "set", "alice", keepID), "Read cursor for alice at "+keepID)
	assert.Contains(t, runCmd(t, bobDir, "read-status", "get"), "alice: "+keepID)

	// Only file messages can be deleted.
	assert.Contains(t, runCmd(t, aliceDir, "delete-message", keepID), "only file messages")
	assert.Contains(t, runCmd(t, aliceDir, "delete-message", fileID), "deleted")

	// Deleting an account removes the conversation on both sides.
	out = runCmd(t, aliceDir, "delete-user", "bob")
	assert.Contains(t, out, "User bob deleted:")
	assert.Contains(t, out, "1 read statuses, 0 files")
	assert.Contains(t, runCmd(t, aliceDir, "conversations"), "No conversations.")
	assert.Contains(t, runCmd(t, aliceDir, "send", "bob", "still", "there?"), "user not found")
}
