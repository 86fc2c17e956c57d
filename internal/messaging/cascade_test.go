package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinMeld/go-dm/internal/apperrors"
	"github.com/VinMeld/go-dm/internal/fanout"
	"github.com/VinMeld/go-dm/internal/models"
)

func (f *fixture) sendFile(t *testing.T, from, to, key string) string {
	t.Helper()
	ack, _, err := f.svc.SendFile(context.Background(), from, models.SendFileRequest{
		ReceiverRef: to,
		File:        models.FileMetadata{FileName: key + ".bin", MimeType: "application/octet-stream", StoragePath: key},
	})
	require.NoError(t, err)
	return ack.ID
}

// X's account goes away and Y sees nothing of it.
func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, "x", "y", "one")
	f.send(t, "y", "x", "two")
	f.sendFile(t, "z", "x", "blob-z")
	f.send(t, "y", "z", "unrelated")

	_, err := f.tracker.Update(ctx, "y", models.ReadStatusUpdate{CounterpartID: "x", MessageID: "m"})
	require.NoError(t, err)
	_, err = f.tracker.Update(ctx, "x", models.ReadStatusUpdate{CounterpartID: "y", MessageID: "m"})
	require.NoError(t, err)

	report, events, err := f.svc.DeleteAccount(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Messages)
	assert.Equal(t, 2, report.ReadStatuses)
	assert.Equal(t, 1, report.Blobs)
	assert.Equal(t, []string{"y", "z"}, report.Counterparts)
	assert.Empty(t, report.Failed)
	assert.Equal(t, []string{"blob-z"}, f.blobs.deleted)

	require.Len(t, events, 1)
	assert.Equal(t, fanout.TypeUserDeleted, events[0].Type)
	assert.Equal(t, []string{"y", "z"}, events[0].To)

	assert.Empty(t, f.fetch(t, "y", "x"))
	assert.Len(t, f.fetch(t, "y", "z"), 1)

	cursors, err := f.tracker.Query(ctx, "y")
	require.NoError(t, err)
	assert.Empty(t, cursors)

	_, err = f.svc.ResolveUser(ctx, "x")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)

	again, events, err := f.svc.DeleteAccount(ctx, "x")
	require.NoError(t, err, "cascade is idempotent")
	assert.Zero(t, again.Messages)
	assert.Empty(t, events)
}

func TestDeleteAccountRetriesBlob(t *testing.T) {
	f := newFixture(t)
	f.sendFile(t, "x", "y", "blob-x")
	f.blobs.failures = 2

	report, _, err := f.svc.DeleteAccount(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Blobs)
	assert.Equal(t, []string{"blob-x"}, f.blobs.deleted)
}

func TestDeleteAccountIncomplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sendFile(t, "x", "y", "blob-x")
	f.send(t, "x", "y", "hi")
	f.blobs.failures = 100

	report, events, err := f.svc.DeleteAccount(ctx, "x")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnavailable, apperrors.CodeOf(err))
	assert.Equal(t, []string{"blob:blob-x"}, report.Failed)
	assert.Equal(t, 2, report.Messages, "later steps still ran")
	require.Len(t, events, 1)

	_, err = f.svc.ResolveUser(ctx, "x")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestDeleteAccountCanceled(t *testing.T) {
	f := newFixture(t)
	f.sendFile(t, "x", "y", "blob-x")
	f.blobs.failures = 100

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := f.svc.DeleteAccount(ctx, "x")
	assert.Error(t, err)
}

func TestDeleteAccountRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.DeleteAccount(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidUser)
}
