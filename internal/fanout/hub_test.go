package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VinMeld/go-dm/internal/models"
)

type received struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T, configure ...func(*Hub)) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := NewHub(HubConfig{})
	for _, fn := range configure {
		fn(h)
	}
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.ServeWS(w, r, r.URL.Query().Get("user")); err != nil {
			t.Logf("serve ws: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, h *Hub, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	before := h.Connections(user)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.Connections(user) == before+1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var got received
	require.NoError(t, json.Unmarshal(raw, &got))
	return got
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "expected no frame")
}

func TestHubDeliversToRecipientOnly(t *testing.T) {
	h, srv := startHub(t)
	x := dial(t, h, srv, "x")
	y := dial(t, h, srv, "y")

	m := &models.Message{ID: "m1", SenderID: "x", ReceiverID: "y", Kind: models.KindText, Content: "hi"}
	require.NoError(t, h.Publish(context.Background(), MessageReceived(m)))

	got := readFrame(t, y)
	assert.Equal(t, TypeReceiveMessage, got.Type)
	var msg models.Message
	require.NoError(t, json.Unmarshal(got.Data, &msg))
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hi", msg.Content)

	assertSilent(t, x)
}

func TestHubFansOutToEveryConnection(t *testing.T) {
	h, srv := startHub(t)
	first := dial(t, h, srv, "y")
	second := dial(t, h, srv, "y")

	m := &models.Message{ID: "m1", SenderID: "x", ReceiverID: "y"}
	require.NoError(t, h.Publish(context.Background(), MessageExpired(m)))

	for _, conn := range []*websocket.Conn{first, second} {
		got := readFrame(t, conn)
		assert.Equal(t, TypeMessageExpired, got.Type)
		assert.JSONEq(t, `{"messageId":"m1"}`, string(got.Data))
	}
}

func TestHubRelaysTyping(t *testing.T) {
	h, srv := startHub(t)
	x := dial(t, h, srv, "x")
	y := dial(t, h, srv, "y")

	require.NoError(t, x.WriteJSON(map[string]any{"type": "user_typing", "to": "y", "isTyping": true}))

	got := readFrame(t, y)
	assert.Equal(t, TypeUserTyping, got.Type)
	assert.JSONEq(t, `{"userRef":"x","isTyping":true}`, string(got.Data))
}

func TestHubIgnoresSelfTypingAndGarbage(t *testing.T) {
	h, srv := startHub(t)
	x := dial(t, h, srv, "x")

	require.NoError(t, x.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, x.WriteJSON(map[string]any{"type": "user_typing", "to": "x", "isTyping": true}))
	assertSilent(t, x)
	assert.Equal(t, 1, h.Connections("x"), "bad frames do not drop the connection")
}

func TestHubUnregistersOnClose(t *testing.T) {
	h, srv := startHub(t)
	y := dial(t, h, srv, "y")
	require.NoError(t, y.Close())
	require.Eventually(t, func() bool { return h.Connections("y") == 0 }, 2*time.Second, 10*time.Millisecond)

	// Publishing to a user with no sockets is a no-op.
	assert.NoError(t, h.Publish(context.Background(), UserDeleted("x", []string{"y"})))
}

func TestEventFrames(t *testing.T) {
	seenAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	expiresAt := seenAt.Add(5 * time.Minute)
	m := &models.Message{
		ID: "m1", SenderID: "x", ReceiverID: "y",
		SeenAt: &seenAt, ExpiresAt: &expiresAt, IsSavedByReceiver: true,
	}

	seen := MessageSeen(m)
	assert.Equal(t, []string{"x"}, seen.To)
	frame, err := seen.Frame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message_seen","data":{"messageId":"m1","seenAt":"2026-03-01T09:00:00Z","expiresAt":"2026-03-01T09:05:00Z"}}`, string(frame))

	saved := MessageSaved(m)
	assert.ElementsMatch(t, []string{"x", "y"}, saved.To)
	frame, err = saved.Frame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message_saved","data":{"messageId":"m1","isSavedBySender":false,"isSavedByReceiver":true,"expiresAt":"2026-03-01T09:05:00Z"}}`, string(frame))

	deleted := UserDeleted("x", []string{"y", "z"})
	frame, err = deleted.Frame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user_deleted","data":{"userId":"x"}}`, string(frame))
}
