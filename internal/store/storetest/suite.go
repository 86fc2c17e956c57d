// Package storetest is a conformance suite shared by the store backends.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinMeld/go-dm/internal/expiry"
	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/store"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// T0 is second-aligned so every backend round-trips it exactly, and lies
// in the future so TTL monitors never reap fixtures mid-test.
var T0 = time.Date(2031, 3, 1, 9, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"DuplicateID", testDuplicateID},
		{"VisibilityCutoff", testVisibilityCutoff},
		{"ConversationWindow", testConversationWindow},
		{"LastPerCounterpart", testLastPerCounterpart},
		{"MarkSeen", testMarkSeen},
		{"MarkSeenConcurrent", testMarkSeenConcurrent},
		{"SetSaved", testSetSaved},
		{"SetSavedConcurrent", testSetSavedConcurrent},
		{"SavedBeforeSeen", testSavedBeforeSeen},
		{"DeleteMessage", testDeleteMessage},
		{"DeleteUserMessages", testDeleteUserMessages},
		{"PurgeExpired", testPurgeExpired},
		{"FileReferenced", testFileReferenced},
		{"ReadStatus", testReadStatus},
		{"ReadStatusCascadeAndPurge", testReadStatusCascadeAndPurge},
		{"Directory", testDirectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func sameTime(t *testing.T, want time.Time, got *time.Time) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), "got %v want %v", *got, want)
}

func text(id, from, to string, at time.Time) *models.Message {
	return &models.Message{
		ID:         id,
		SenderID:   from,
		ReceiverID: to,
		Kind:       models.KindText,
		Envelope: models.Envelope{
			Ciphertext: []byte("cipher-" + id),
			IV:         []byte("iv-" + id),
			AuthTag:    []byte("tag-" + id),
		},
		CreatedAt: at,
	}
}

func file(id, from, to, path string, at time.Time) *models.Message {
	return &models.Message{
		ID:         id,
		SenderID:   from,
		ReceiverID: to,
		Kind:       models.KindFile,
		Content:    "Image: cat.png",
		File: &models.FileMetadata{
			FileName:    "cat.png",
			FileSize:    2048,
			MimeType:    "image/png",
			FileURL:     "/files/" + path,
			StoragePath: path,
		},
		CreatedAt: at,
	}
}

func mustCreate(t *testing.T, s store.Store, msgs ...*models.Message) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, s.CreateMessage(context.Background(), m))
	}
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, text("m1", "x", "y", T0), file("f1", "y", "x", "blob-1", T0.Add(time.Second)))

	got, err := s.GetMessage(ctx, "m1", T0)
	require.NoError(t, err)
	assert.Equal(t, "x", got.SenderID)
	assert.Equal(t, "y", got.ReceiverID)
	assert.Equal(t, models.KindText, got.Kind)
	assert.Equal(t, []byte("cipher-m1"), got.Envelope.Ciphertext)
	assert.Equal(t, []byte("iv-m1"), got.Envelope.IV)
	assert.Equal(t, []byte("tag-m1"), got.Envelope.AuthTag)
	assert.False(t, got.IsSeen)
	assert.Nil(t, got.SeenAt)
	assert.Nil(t, got.ExpiresAt)
	assert.True(t, T0.Equal(got.CreatedAt))

	f, err := s.GetMessage(ctx, "f1", T0)
	require.NoError(t, err)
	require.NotNil(t, f.File)
	assert.Equal(t, "blob-1", f.File.StoragePath)
	assert.Equal(t, "image/png", f.File.MimeType)
	assert.Equal(t, int64(2048), f.File.FileSize)
	assert.Equal(t, "Image: cat.png", f.Content)

	_, err = s.GetMessage(ctx, "missing", T0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateID(t *testing.T, s store.Store) {
	mustCreate(t, s, text("m1", "x", "y", T0))
	err := s.CreateMessage(context.Background(), text("m1", "x", "y", T0))
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testVisibilityCutoff(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := text("m1", "x", "y", T0)
	deadline := T0.Add(time.Minute)
	m.IsSeen = true
	m.SeenAt = &T0
	m.ExpiresAt = &deadline
	mustCreate(t, s, m, text("m2", "x", "y", T0.Add(time.Second)))

	_, err := s.GetMessage(ctx, "m1", deadline.Add(-time.Second))
	require.NoError(t, err)

	// Nothing has removed the row yet; reads must still hide it.
	_, err = s.GetMessage(ctx, "m1", deadline)
	assert.ErrorIs(t, err, store.ErrNotFound)

	msgs, err := s.ListConversation(ctx, "y", "x", deadline, store.Window{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)

	_, _, err = s.MarkSeen(ctx, "m1", "y", deadline)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.SetSaved(ctx, "m1", "y", true, deadline)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testConversationWindow(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		from, to := "x", "y"
		if i%2 == 1 {
			from, to = "y", "x"
		}
		mustCreate(t, s, text(fmt.Sprintf("m%d", i), from, to, T0.Add(time.Duration(i)*time.Second)))
	}
	mustCreate(t, s, text("other", "x", "z", T0))

	all, err := s.ListConversation(ctx, "x", "y", T0, store.Window{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, m := range all {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.ID, "oldest first")
	}

	page, err := s.ListConversation(ctx, "y", "x", T0, store.Window{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].ID)
	assert.Equal(t, "m4", page[1].ID)

	older, err := s.ListConversation(ctx, "x", "y", T0, store.Window{Limit: 2, Before: page[0].CreatedAt})
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "m1", older[0].ID)
	assert.Equal(t, "m2", older[1].ID)

	none, err := s.ListConversation(ctx, "x", "nobody", T0, store.Window{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testLastPerCounterpart(t *testing.T, s store.Store) {
	ctx := context.Background()
	gone := text("z2", "z", "x", T0.Add(5*time.Second))
	deadline := T0.Add(6 * time.Second)
	gone.IsSeen = true
	gone.SeenAt = &T0
	gone.ExpiresAt = &deadline

	mustCreate(t, s,
		text("y1", "x", "y", T0),
		text("y2", "y", "x", T0.Add(2*time.Second)),
		text("z1", "x", "z", T0.Add(time.Second)),
		gone,
		text("w1", "w", "v", T0.Add(3*time.Second)),
	)

	last, err := s.LastPerCounterpart(ctx, "x", T0.Add(10*time.Second))
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "y2", last["y"].ID)
	assert.Equal(t, "z1", last["z"].ID, "expired newest falls back to the older visible one")

	last, err = s.LastPerCounterpart(ctx, "nobody", T0)
	require.NoError(t, err)
	assert.Empty(t, last)
}

func testMarkSeen(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, text("m1", "x", "y", T0))
	seenAt := T0.Add(10 * time.Second)

	_, _, err := s.MarkSeen(ctx, "m1", "x", seenAt)
	assert.ErrorIs(t, err, store.ErrNotRecipient)
	_, _, err = s.MarkSeen(ctx, "m1", "stranger", seenAt)
	assert.ErrorIs(t, err, store.ErrNotRecipient)
	_, _, err = s.MarkSeen(ctx, "missing", "y", seenAt)
	assert.ErrorIs(t, err, store.ErrNotFound)

	m, changed, err := s.MarkSeen(ctx, "m1", "y", seenAt)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, m.IsSeen)
	sameTime(t, seenAt, m.SeenAt)
	sameTime(t, seenAt.Add(expiry.SeenTTL), m.ExpiresAt)

	m, changed, err = s.MarkSeen(ctx, "m1", "y", seenAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
	sameTime(t, seenAt, m.SeenAt)
	sameTime(t, seenAt.Add(expiry.SeenTTL), m.ExpiresAt)

	stored, err := s.GetMessage(ctx, "m1", seenAt)
	require.NoError(t, err)
	sameTime(t, seenAt.Add(expiry.SeenTTL), stored.ExpiresAt)
}

func testMarkSeenConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, text("m1", "x", "y", T0))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, changed, err := s.MarkSeen(ctx, "m1", "y", T0.Add(time.Duration(i+1)*time.Second))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if changed {
				changes++
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, changes, "exactly one caller starts the countdown")

	m, err := s.GetMessage(ctx, "m1", T0)
	require.NoError(t, err)
	require.NotNil(t, m.SeenAt)
	sameTime(t, m.SeenAt.Add(expiry.SeenTTL), m.ExpiresAt)
}

func testSetSaved(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, text("m1", "x", "y", T0))
	_, _, err := s.MarkSeen(ctx, "m1", "y", T0)
	require.NoError(t, err)
	deadline := T0.Add(expiry.SeenTTL)

	_, err = s.SetSaved(ctx, "m1", "stranger", true, T0)
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	m, err := s.SetSaved(ctx, "m1", "y", true, T0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, m.IsSavedByReceiver)
	assert.False(t, m.IsSavedBySender)
	sameTime(t, deadline, m.ExpiresAt)

	m, err = s.SetSaved(ctx, "m1", "x", true, T0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, m.IsSavedBySender)
	assert.Nil(t, m.ExpiresAt)

	m, err = s.GetMessage(ctx, "m1", deadline.Add(time.Hour))
	require.NoError(t, err, "mutually saved message outlives its old deadline")
	assert.Nil(t, m.ExpiresAt)

	m, err = s.SetSaved(ctx, "m1", "x", false, deadline.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, m.IsSavedBySender)
	assert.Nil(t, m.ExpiresAt, "breaking a mutual save does not restart the clock")
}

func testSavedBeforeSeen(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, text("m1", "x", "y", T0))
	_, err := s.SetSaved(ctx, "m1", "x", true, T0)
	require.NoError(t, err)
	_, err = s.SetSaved(ctx, "m1", "y", true, T0)
	require.NoError(t, err)

	m, changed, err := s.MarkSeen(ctx, "m1", "y", T0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotNil(t, m.SeenAt)
	assert.Nil(t, m.ExpiresAt)

	_, err = s.GetMessage(ctx, "m1", T0.Add(time.Hour))
	assert.NoError(t, err)
}

func testDeleteMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, text("m1", "x", "y", T0))
	require.NoError(t, s.DeleteMessage(ctx, "m1"))
	_, err := s.GetMessage(ctx, "m1", T0)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, s.DeleteMessage(ctx, "m1"))
}

func testDeleteUserMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s,
		text("a", "x", "y", T0),
		text("b", "z", "x", T0),
		file("c", "x", "y", "blob-c", T0),
		text("d", "y", "z", T0),
	)

	res, err := s.DeleteUserMessages(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Messages)
	assert.ElementsMatch(t, []string{"y", "z"}, res.Counterparts)
	assert.Equal(t, []string{"blob-c"}, res.StoragePaths)

	left, err := s.ListConversation(ctx, "y", "z", T0, store.Window{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "d", left[0].ID)

	res, err = s.DeleteUserMessages(ctx, "x")
	require.NoError(t, err)
	assert.Zero(t, res.Messages)
}

func testPurgeExpired(t *testing.T, s store.Store) {
	ctx := context.Background()
	expired := text("old", "x", "y", T0)
	deadline := T0.Add(time.Minute)
	expired.IsSeen = true
	expired.SeenAt = &T0
	expired.ExpiresAt = &deadline
	mustCreate(t, s, expired, text("keep", "x", "y", T0))

	purged, err := s.PurgeExpired(ctx, deadline.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, purged)

	purged, err = s.PurgeExpired(ctx, deadline, 10)
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, "old", purged[0].ID)

	_, err = s.GetMessage(ctx, "keep", deadline)
	assert.NoError(t, err)
	purged, err = s.PurgeExpired(ctx, deadline.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, purged)
}

func testReadStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	rows, err := s.ListReadStatuses(ctx, "y")
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, s.UpsertReadStatuses(ctx, []models.ReadStatus{
		{ViewerID: "y", CounterpartID: "x", LastSeenMessageID: "m5", LastSeenAt: T0},
		{ViewerID: "y", CounterpartID: "z", LastSeenMessageID: "m1", LastSeenAt: T0},
	}))
	// An older message id still overwrites: last write wins.
	require.NoError(t, s.UpsertReadStatuses(ctx, []models.ReadStatus{
		{ViewerID: "y", CounterpartID: "x", LastSeenMessageID: "m3", LastSeenAt: T0.Add(time.Minute)},
		{ViewerID: "y", CounterpartID: "x", LastSeenMessageID: "m4", LastSeenAt: T0.Add(2 * time.Minute)},
	}))

	rows, err = s.ListReadStatuses(ctx, "y")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byCounterpart := map[string]models.ReadStatus{}
	for _, r := range rows {
		assert.Equal(t, "y", r.ViewerID)
		byCounterpart[r.CounterpartID] = r
	}
	assert.Equal(t, "m4", byCounterpart["x"].LastSeenMessageID)
	assert.True(t, T0.Add(2*time.Minute).Equal(byCounterpart["x"].LastSeenAt))
	assert.Equal(t, "m1", byCounterpart["z"].LastSeenMessageID)

	require.NoError(t, s.DeleteReadStatus(ctx, "y", "x"))
	require.NoError(t, s.DeleteReadStatus(ctx, "y", "x"))
	rows, err = s.ListReadStatuses(ctx, "y")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "z", rows[0].CounterpartID)
}

func testReadStatusCascadeAndPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertReadStatuses(ctx, []models.ReadStatus{
		{ViewerID: "x", CounterpartID: "y", LastSeenMessageID: "m1", LastSeenAt: T0},
		{ViewerID: "y", CounterpartID: "x", LastSeenMessageID: "m2", LastSeenAt: T0},
		{ViewerID: "y", CounterpartID: "z", LastSeenMessageID: "m3", LastSeenAt: T0.Add(48 * time.Hour)},
		{ViewerID: "z", CounterpartID: "w", LastSeenMessageID: "m4", LastSeenAt: T0},
	}))

	n, err := s.DeleteUserReadStatuses(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.PurgeReadStatuses(ctx, T0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.ListReadStatuses(ctx, "y")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "z", rows[0].CounterpartID)
}

func testDirectory(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.AddUser(ctx, models.User{ID: "u1", Username: "alice", CreatedAt: T0}))
	require.NoError(t, s.AddUser(ctx, models.User{ID: "u2", Username: "bob", CreatedAt: T0}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	u, err = s.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "u2", u.ID)
	_, err = s.GetUser(ctx, "carol")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.AddUser(ctx, models.User{ID: "u3", Username: "alice", CreatedAt: T0})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// Re-registering an id renames it.
	require.NoError(t, s.AddUser(ctx, models.User{ID: "u2", Username: "robert", CreatedAt: T0}))
	u, err = s.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "robert", u.Username)

	found, err := s.LookupUsers(ctx, []string{"u1", "u2", "ghost"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, "alice", found["u1"].Username)

	all, err := s.ListAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Username)

	require.NoError(t, s.DeleteUser(ctx, "u1"))
	require.NoError(t, s.DeleteUser(ctx, "u1"))
	_, err = s.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// User builds a directory entry created at T0.
func User(id, username string) models.User {
	return models.User{ID: id, Username: username, CreatedAt: T0}
}

func testFileReferenced(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustCreate(t, s, file("f1", "x", "y", "blob-1", T0), text("t1", "x", "y", T0))

	ok, err := s.FileReferenced(ctx, "blob-1", T0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.FileReferenced(ctx, "blob-unknown", T0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.MarkSeen(ctx, "f1", "y", T0)
	require.NoError(t, err)
	deadline := T0.Add(expiry.SeenTTL)

	ok, err = s.FileReferenced(ctx, "blob-1", deadline.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.FileReferenced(ctx, "blob-1", deadline)
	require.NoError(t, err)
	assert.False(t, ok, "an expired message no longer references its object")
}

// testSetSavedConcurrent races both saves against the receiver's first
// read. Whatever the interleaving, the message ends up mutually saved with
// no deadline.
func testSetSavedConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const rounds = 10
	for r := 0; r < rounds; r++ {
		id := fmt.Sprintf("m%d", r)
		mustCreate(t, s, text(id, "x", "y", T0))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		record := func(err error) {
			if err == nil {
				return
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, err := s.SetSaved(ctx, id, "x", true, T0)
			record(err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.SetSaved(ctx, id, "y", true, T0)
			record(err)
		}()
		go func() {
			defer wg.Done()
			_, _, err := s.MarkSeen(ctx, id, "y", T0)
			record(err)
		}()
		wg.Wait()
		require.Empty(t, errs)

		m, err := s.GetMessage(ctx, id, T0.Add(time.Hour))
		require.NoError(t, err, "round %d", r)
		assert.True(t, m.IsSavedBySender, "round %d", r)
		assert.True(t, m.IsSavedByReceiver, "round %d", r)
		assert.True(t, m.IsSeen, "round %d", r)
		assert.Nil(t, m.ExpiresAt, "round %d", r)
	}
}
