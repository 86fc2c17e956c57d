package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinMeld/go-dm/internal/models"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newMessage() *models.Message {
	return &models.Message{
		ID:         "m1",
		SenderID:   "x",
		ReceiverID: "y",
		Kind:       models.KindText,
		CreatedAt:  t0,
	}
}

func TestIsVisibleCutoff(t *testing.T) {
	m := newMessage()
	assert.True(t, IsVisible(m, t0.Add(100*time.Hour)), "no deadline is always visible")

	deadline := t0.Add(time.Minute)
	m.ExpiresAt = &deadline
	assert.True(t, IsVisible(m, deadline.Add(-time.Nanosecond)))
	assert.False(t, IsVisible(m, deadline), "visible at the exact deadline")
	assert.False(t, IsVisible(m, deadline.Add(time.Second)))
}

func TestMarkSeenStartsCountdownOnce(t *testing.T) {
	m := newMessage()
	seenAt := t0.Add(2 * time.Second)

	require.True(t, MarkSeen(m, seenAt))
	require.NotNil(t, m.SeenAt)
	require.NotNil(t, m.ExpiresAt)
	assert.True(t, m.IsSeen)
	assert.Equal(t, seenAt, *m.SeenAt)
	assert.Equal(t, seenAt.Add(5*time.Minute), *m.ExpiresAt)
	assert.Equal(t, Counting, StateOf(m, seenAt))

	assert.False(t, MarkSeen(m, seenAt.Add(time.Minute)), "second markSeen must be a no-op")
	assert.Equal(t, seenAt, *m.SeenAt)
	assert.Equal(t, seenAt.Add(5*time.Minute), *m.ExpiresAt)
}

func TestStateTransitions(t *testing.T) {
	m := newMessage()
	assert.Equal(t, Pending, StateOf(m, t0))

	MarkSeen(m, t0)
	assert.Equal(t, Counting, StateOf(m, t0.Add(time.Minute)))
	assert.Equal(t, Expired, StateOf(m, t0.Add(SeenTTL)))

	m2 := newMessage()
	MarkSeen(m2, t0)
	SetSaved(m2, models.PartySender, true)
	SetSaved(m2, models.PartyReceiver, true)
	assert.Equal(t, Preserved, StateOf(m2, t0.Add(time.Hour)))
}

func TestUnilateralSaveKeepsDeadline(t *testing.T) {
	m := newMessage()
	MarkSeen(m, t0)
	deadline := *m.ExpiresAt

	require.True(t, SetSaved(m, models.PartyReceiver, true))
	require.NotNil(t, m.ExpiresAt)
	assert.Equal(t, deadline, *m.ExpiresAt)
	assert.False(t, IsVisible(m, deadline))
}

func TestMutualSaveClearsDeadline(t *testing.T) {
	m := newMessage()
	MarkSeen(m, t0)

	SetSaved(m, models.PartySender, true)
	SetSaved(m, models.PartyReceiver, true)
	assert.Nil(t, m.ExpiresAt)
	assert.True(t, IsVisible(m, t0.Add(24*time.Hour)))
}

func TestBrokenMutualSaveStaysPreserved(t *testing.T) {
	m := newMessage()
	MarkSeen(m, t0)
	SetSaved(m, models.PartySender, true)
	SetSaved(m, models.PartyReceiver, true)

	require.True(t, SetSaved(m, models.PartySender, false))
	assert.Nil(t, m.ExpiresAt)
	assert.Equal(t, Preserved, StateOf(m, t0.Add(time.Hour)))
}

func TestSavedBeforeSeenGetsNoDeadline(t *testing.T) {
	m := newMessage()
	SetSaved(m, models.PartySender, true)
	SetSaved(m, models.PartyReceiver, true)

	require.True(t, MarkSeen(m, t0))
	assert.NotNil(t, m.SeenAt)
	assert.Nil(t, m.ExpiresAt)
	assert.Equal(t, Preserved, StateOf(m, t0.Add(time.Hour)))
}

func TestSetSavedNoChange(t *testing.T) {
	m := newMessage()
	assert.False(t, SetSaved(m, models.PartySender, false))
	assert.False(t, SetSaved(m, models.Party("bystander"), true))
	assert.True(t, SetSaved(m, models.PartySender, true))
	assert.False(t, SetSaved(m, models.PartySender, true))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "preserved", Preserved.String())
	assert.Equal(t, "unknown", State(42).String())
}
