package conversation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinMeld/go-dm/internal/clock"
	"github.com/VinMeld/go-dm/internal/crypto"
	"github.com/VinMeld/go-dm/internal/expiry"
	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/store/sqlitestore"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	agg   *Aggregator
	store *sqlitestore.Store
	gw    *crypto.Gateway
	clk   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := sqlitestore.Open(sqlitestore.Config{Path: filepath.Join(t.TempDir(), "dm.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	gw, err := crypto.NewGateway(key)
	require.NoError(t, err)

	for _, id := range []string{"u", "a", "b", "c"} {
		require.NoError(t, s.AddUser(context.Background(), models.User{ID: id, Username: "name-" + id, CreatedAt: t0}))
	}

	clk := clock.Fake(t0.Add(time.Hour))
	agg := NewAggregator(Config{
		Messages:   s,
		ReadStatus: s,
		Directory:  s,
		Revealer:   gw,
		Clock:      clk,
	})
	return &fixture{agg: agg, store: s, gw: gw, clk: clk}
}

func (f *fixture) send(t *testing.T, id, from, to, content string, at time.Time) *models.Message {
	t.Helper()
	env, err := f.gw.Seal([]byte(content))
	require.NoError(t, err)
	m := &models.Message{ID: id, SenderID: from, ReceiverID: to, Kind: models.KindText, Envelope: env, CreatedAt: at}
	require.NoError(t, f.store.CreateMessage(context.Background(), m))
	return m
}

func (f *fixture) cursor(t *testing.T, viewer, counterpart, messageID string) {
	t.Helper()
	require.NoError(t, f.store.UpsertReadStatuses(context.Background(), []models.ReadStatus{
		{ViewerID: viewer, CounterpartID: counterpart, LastSeenMessageID: messageID, LastSeenAt: t0},
	}))
}

func TestListConversationsOrderingAndUnread(t *testing.T) {
	f := newFixture(t)
	f.send(t, "a1", "a", "u", "hello from a", t0)
	f.send(t, "b1", "u", "b", "hi b", t0.Add(time.Minute))
	f.send(t, "b2", "b", "u", "hey u", t0.Add(2*time.Minute))
	f.send(t, "c1", "u", "c", "ping c", t0.Add(3*time.Minute))
	f.cursor(t, "u", "b", "b1")

	got, err := f.agg.ListConversations(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "c", got[0].Counterpart.ID)
	assert.Equal(t, "name-c", got[0].Counterpart.Username)
	assert.Equal(t, "c1", got[0].LastMessage.ID)
	assert.Equal(t, "ping c", got[0].LastMessage.Content)
	assert.False(t, got[0].Unread, "own last message is never unread")

	assert.Equal(t, "b", got[1].Counterpart.ID)
	assert.Equal(t, "b2", got[1].LastMessage.ID)
	assert.True(t, got[1].Unread, "cursor points at an older message")

	assert.Equal(t, "a", got[2].Counterpart.ID)
	assert.True(t, got[2].Unread, "no cursor at all")

	f.cursor(t, "u", "b", "b2")
	f.cursor(t, "u", "a", "a1")
	got, err = f.agg.ListConversations(context.Background(), "u")
	require.NoError(t, err)
	for _, s := range got {
		assert.False(t, s.Unread, "counterpart %s", s.Counterpart.ID)
	}
}

func TestListConversationsDropsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, "a1", "a", "u", "old", t0)
	f.send(t, "a2", "a", "u", "new", t0.Add(time.Minute))
	f.send(t, "b1", "b", "u", "only", t0)

	seenAt := t0.Add(2 * time.Minute)
	for _, id := range []string{"a2", "b1"} {
		_, _, err := f.store.MarkSeen(ctx, id, "u", seenAt)
		require.NoError(t, err)
	}

	f.clk.Set(expiry.Deadline(seenAt))
	got, err := f.agg.ListConversations(ctx, "u")
	require.NoError(t, err)
	require.Len(t, got, 1, "b has no visible messages left")
	assert.Equal(t, "a", got[0].Counterpart.ID)
	assert.Equal(t, "a1", got[0].LastMessage.ID, "newest visible, not newest stored")
}

func TestListConversationsDropsUnknownCounterpart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, "a1", "a", "u", "hi", t0)
	f.send(t, "b1", "b", "u", "hi", t0)
	require.NoError(t, f.store.DeleteUser(ctx, "b"))

	got, err := f.agg.ListConversations(ctx, "u")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Counterpart.ID)
}

func TestListConversationsUndecryptable(t *testing.T) {
	f := newFixture(t)
	m := &models.Message{
		ID: "bad", SenderID: "a", ReceiverID: "u", Kind: models.KindText,
		Envelope:  models.Envelope{Ciphertext: []byte("garbage"), IV: make([]byte, 24), AuthTag: make([]byte, 16)},
		CreatedAt: t0,
	}
	require.NoError(t, f.store.CreateMessage(context.Background(), m))

	got, err := f.agg.ListConversations(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].LastMessage.ContentUnavailable)
	assert.Empty(t, got[0].LastMessage.Content)
	assert.True(t, got[0].Unread)
}

func TestListConversationsFileLabel(t *testing.T) {
	f := newFixture(t)
	m := &models.Message{
		ID: "f1", SenderID: "a", ReceiverID: "u", Kind: models.KindFile,
		File:      &models.FileMetadata{FileName: "report.pdf", MimeType: "application/pdf", StoragePath: "k"},
		CreatedAt: t0,
	}
	require.NoError(t, f.store.CreateMessage(context.Background(), m))

	got, err := f.agg.ListConversations(context.Background(), "u")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "File: report.pdf", got[0].LastMessage.Content)
}

func TestListConversationsEmpty(t *testing.T) {
	f := newFixture(t)
	got, err := f.agg.ListConversations(context.Background(), "u")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
