package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinMeld/go-dm/internal/fanout"
	"github.com/VinMeld/go-dm/internal/fanout/mocks"
	"github.com/VinMeld/go-dm/internal/models"
)

func (f *fixture) seenBy(t *testing.T, viewer string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, _, err := f.svc.MarkSeen(context.Background(), viewer, id)
		require.NoError(t, err)
	}
}

func TestJanitorPurgesExpired(t *testing.T) {
	f := newFixture(t)
	a := f.send(t, "x", "y", "a")
	b := f.send(t, "x", "y", "b")
	c := f.send(t, "y", "x", "c")
	kept := f.send(t, "x", "y", "unseen")
	f.seenBy(t, "y", a, b)
	f.seenBy(t, "x", c)

	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)
	var (
		mu       sync.Mutex
		expired  []string
		audience [][]string
	)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, events ...fanout.Event) error {
			mu.Lock()
			defer mu.Unlock()
			for _, e := range events {
				assert.Equal(t, fanout.TypeMessageExpired, e.Type)
				expired = append(expired, e.Data.(fanout.MessageRef).MessageID)
				audience = append(audience, e.To)
			}
			return nil
		}).Times(2)

	j := NewJanitor(JanitorConfig{Messages: f.store, Tracker: f.tracker, Publisher: pub, Clock: f.clk, BatchSize: 2})

	f.clk.Advance(6 * time.Minute)
	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Messages)
	assert.ElementsMatch(t, []string{a, b, c}, expired)
	for _, to := range audience {
		assert.ElementsMatch(t, []string{"x", "y"}, to)
	}

	msgs := f.fetch(t, "y", "x")
	require.Len(t, msgs, 1)
	assert.Equal(t, kept, msgs[0].ID)
}

func TestJanitorNothingToDo(t *testing.T) {
	f := newFixture(t)
	f.send(t, "x", "y", "a")

	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	j := NewJanitor(JanitorConfig{Messages: f.store, Tracker: f.tracker, Publisher: pub, Clock: f.clk})
	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
}

func TestJanitorPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	id := f.send(t, "x", "y", "a")
	f.seenBy(t, "y", id)

	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	j := NewJanitor(JanitorConfig{Messages: f.store, Publisher: pub, Clock: f.clk})
	f.clk.Advance(time.Hour)
	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Messages)
}

func TestJanitorSweepsStaleCursors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tracker.Update(ctx, "x", models.ReadStatusUpdate{CounterpartID: "y", MessageID: "m1"})
	require.NoError(t, err)

	f.clk.Advance(29 * 24 * time.Hour)
	_, err = f.tracker.Update(ctx, "x", models.ReadStatusUpdate{CounterpartID: "z", MessageID: "m2"})
	require.NoError(t, err)

	f.clk.Advance(2 * 24 * time.Hour)
	j := NewJanitor(JanitorConfig{Messages: f.store, Tracker: f.tracker, Clock: f.clk})
	report, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ReadStatuses)

	cursors, err := f.tracker.Query(ctx, "x")
	require.NoError(t, err)
	assert.Contains(t, cursors, "z")
	assert.NotContains(t, cursors, "y")
}

func TestJanitorRunTicks(t *testing.T) {
	f := newFixture(t)
	id := f.send(t, "x", "y", "a")
	f.seenBy(t, "y", id)

	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)
	fired := make(chan struct{})
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, ...fanout.Event) error {
			close(fired)
			return nil
		})

	j := NewJanitor(JanitorConfig{Messages: f.store, Publisher: pub, Clock: f.clk, Interval: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		f.clk.Advance(time.Minute)
		select {
		case <-fired:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestJanitorRemovesExpiredFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expired := f.sendFile(t, "x", "y", "blob-expired")
	f.sendFile(t, "x", "y", "blob-unseen")
	f.seenBy(t, "y", expired)

	ok, err := f.svc.FileAvailable(ctx, "blob-expired")
	require.NoError(t, err)
	assert.True(t, ok)

	f.clk.Advance(6 * time.Minute)
	ok, err = f.svc.FileAvailable(ctx, "blob-expired")
	require.NoError(t, err)
	assert.False(t, ok, "gone at the deadline, before any sweep")

	j := NewJanitor(JanitorConfig{Messages: f.store, Tracker: f.tracker, Blobs: f.blobs, Clock: f.clk})
	report, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Messages)
	assert.Equal(t, 1, report.Blobs)
	assert.Equal(t, []string{"blob-expired"}, f.blobs.deleted)

	ok, err = f.svc.FileAvailable(ctx, "blob-unseen")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJanitorKeepsGoingWhenFileRemovalFails(t *testing.T) {
	f := newFixture(t)
	a := f.sendFile(t, "x", "y", "blob-a")
	b := f.sendFile(t, "x", "y", "blob-b")
	f.seenBy(t, "y", a, b)
	f.blobs.failures = 1

	j := NewJanitor(JanitorConfig{Messages: f.store, Blobs: f.blobs, Clock: f.clk})
	f.clk.Advance(6 * time.Minute)
	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Messages)
	assert.Equal(t, 1, report.Blobs)
	assert.Len(t, f.blobs.deleted, 1)
}
