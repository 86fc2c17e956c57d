package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

func TestDefaults(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)
	c, err := Parse(v)
	require.NoError(t, err)

	assert.Equal(t, ":8082", c.Server.Addr)
	assert.Equal(t, "sqlite", c.Store.Driver)
	assert.Equal(t, "local", c.Blob.Type)
	assert.Equal(t, time.Minute, c.Expiry.SweepInterval)
	assert.Equal(t, 720*time.Hour, c.Expiry.ReadStatusRetention)
	assert.Equal(t, []string{"*"}, c.Server.AllowOrigins)
	assert.Empty(t, c.Redis.Addr)

	assert.ErrorContains(t, c.Validate(), "jwtSecret")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DM_AUTH_JWTSECRET", "s3cret")
	t.Setenv("DM_SERVER_REGISTRATIONTOKEN", "reg")
	t.Setenv("DM_CRYPTO_MESSAGEKEY", testKey)
	t.Setenv("DM_STORE_DRIVER", "mongo")
	t.Setenv("DM_REDIS_ADDR", "localhost:6379")
	t.Setenv("DM_EXPIRY_SWEEPINTERVAL", "30s")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", c.Auth.JWTSecret)
	assert.Equal(t, "mongo", c.Store.Driver)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, 30*time.Second, c.Expiry.SweepInterval)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dm.yaml")
	yaml := `
server:
  addr: ":9000"
  debug: true
  registrationToken: reg
auth:
  jwtSecret: from-file
crypto:
  messageKey: ` + testKey + `
blob:
  type: s3
  bucket: dm-files
  region: eu-west-1
logger:
  development: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("DM_AUTH_JWTSECRET", "from-env")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.Server.Addr)
	assert.True(t, c.Server.Debug)
	assert.Equal(t, "reg", c.Server.RegistrationToken)
	assert.Equal(t, "from-env", c.Auth.JWTSecret, "environment wins over the file")
	assert.Equal(t, "dm-files", c.Blob.Bucket)
	assert.True(t, c.Logger.Development)
	assert.Equal(t, "debug", c.Logger.Level)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: Server{RegistrationToken: "reg"},
			Auth:   Auth{JWTSecret: "s"},
			Crypto: Crypto{MessageKey: testKey},
			Store:  Store{Driver: "sqlite", SQLitePath: "dm.db"},
			Blob:   Blob{Type: "local", Dir: "blobs"},
			Expiry: Expiry{SweepInterval: time.Minute},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"open internal endpoints", func(c *Config) { c.Server.RegistrationToken = "" }, "registrationToken"},
		{"no key", func(c *Config) { c.Crypto.MessageKey = "" }, "messageKey"},
		{"short key", func(c *Config) { c.Crypto.MessageKey = base64.StdEncoding.EncodeToString([]byte("short")) }, "messageKey"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"mongo without uri", func(c *Config) { c.Store.Driver = "mongo" }, "mongoURI"},
		{"s3 without bucket", func(c *Config) { c.Blob.Type = "s3" }, "bucket"},
		{"zero interval", func(c *Config) { c.Expiry.SweepInterval = 0 }, "sweepInterval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}

	debug := valid()
	debug.Server.RegistrationToken = ""
	debug.Server.Debug = true
	assert.NoError(t, debug.Validate(), "debug mode may leave the internal endpoints open")
}
