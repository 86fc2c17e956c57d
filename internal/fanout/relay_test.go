package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinMeld/go-dm/internal/codec"
	"github.com/VinMeld/go-dm/internal/models"
)

func runRelay(t *testing.T, relay *RedisRelay) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		if err := relay.Run(ctx); err != nil {
			t.Logf("relay stopped: %v", err)
		}
	}()
	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay never subscribed")
	}
}

// withRelay wires a relay as the hub's upstream before the hub starts.
func withRelay(rdb *redis.Client, out **RedisRelay) func(*Hub) {
	return func(h *Hub) {
		*out = NewRedisRelay(rdb, h, nil)
		h.SetUpstream(*out)
	}
}

func TestRedisRelayCrossInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	// Two instances: x is connected to the first, y to the second.
	var relayA, relayB *RedisRelay
	hubA, srvA := startHub(t, withRelay(rdb, &relayA))
	hubB, srvB := startHub(t, withRelay(rdb, &relayB))
	runRelay(t, relayA)
	runRelay(t, relayB)

	y := dial(t, hubB, srvB, "y")
	x := dial(t, hubA, srvA, "x")

	m := &models.Message{ID: "m1", SenderID: "x", ReceiverID: "y", Content: "hi"}
	require.NoError(t, relayA.Publish(context.Background(), MessageReceived(m)))

	got := readFrame(t, y)
	assert.Equal(t, TypeReceiveMessage, got.Type)
	assertSilent(t, x)

	// Typing raised on instance A reaches y on instance B.
	require.NoError(t, x.WriteJSON(map[string]any{"type": "user_typing", "to": "y", "isTyping": true}))
	got = readFrame(t, y)
	assert.Equal(t, TypeUserTyping, got.Type)
}

func TestRedisRelayEnvelopeIsCBOR(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, DefaultRelayChannel)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	relay := NewRedisRelay(rdb, NewHub(HubConfig{}), nil)
	require.NoError(t, relay.Publish(ctx, UserTyping("x", "y", false)))

	select {
	case msg := <-sub.Channel():
		var env relayEnvelope
		require.NoError(t, codec.Unmarshal([]byte(msg.Payload), &env))
		assert.Equal(t, []string{"y"}, env.To)
		assert.JSONEq(t, `{"type":"user_typing","data":{"userRef":"x","isTyping":false}}`, string(env.Frame))
	case <-time.After(2 * time.Second):
		t.Fatal("no relay payload published")
	}
}

func TestRedisRelaySkipsUnaddressedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	relay := NewRedisRelay(rdb, NewHub(HubConfig{}), nil)
	require.NoError(t, relay.Publish(context.Background(), UserDeleted("x", nil)))
}
