// Package fanout delivers message events to connected clients.
//
// Services never hold a connection registry. Mutating operations return the
// events they caused and the caller hands them to a Publisher: the local Hub
// on a single node, or a RedisRelay when several instances share clients.
// Delivery is best effort; a client that only polls still converges.
package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/VinMeld/go-dm/internal/models"
)

type Type string

const (
	TypeReceiveMessage Type = "receive_message"
	TypeMessageSeen    Type = "message_seen"
	TypeMessageSaved   Type = "message_saved"
	TypeMessageExpired Type = "message_expired"
	TypeMessageDeleted Type = "message_deleted"
	TypeUserTyping     Type = "user_typing"
	TypeUserDeleted    Type = "user_deleted"
)

// Event is addressed to every open connection of the users in To.
type Event struct {
	Type Type
	To   []string
	Data any
}

type frame struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

// Frame is the JSON text a client receives.
func (e Event) Frame() ([]byte, error) {
	return json.Marshal(frame{Type: e.Type, Data: e.Data})
}

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks github.com/VinMeld/go-dm/internal/fanout Publisher

// Publisher delivers events. Implementations must not block on slow
// clients.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, ...Event) error { return nil }

type SeenData struct {
	MessageID string     `json:"messageId"`
	SeenAt    *time.Time `json:"seenAt"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type SavedData struct {
	MessageID string `json:"messageId"`
	models.SaveState
}

type MessageRef struct {
	MessageID string `json:"messageId"`
}

type TypingData struct {
	UserRef  string `json:"userRef"`
	IsTyping bool   `json:"isTyping"`
}

type UserDeletedData struct {
	UserID string `json:"userId"`
}

// MessageReceived notifies the receiver of a new message. m must already
// carry display content.
func MessageReceived(m *models.Message) Event {
	return Event{Type: TypeReceiveMessage, To: []string{m.ReceiverID}, Data: m}
}

// MessageSeen tells the sender the countdown started.
func MessageSeen(m *models.Message) Event {
	return Event{
		Type: TypeMessageSeen,
		To:   []string{m.SenderID},
		Data: SeenData{MessageID: m.ID, SeenAt: m.SeenAt, ExpiresAt: m.ExpiresAt},
	}
}

func MessageSaved(m *models.Message) Event {
	return Event{
		Type: TypeMessageSaved,
		To:   []string{m.SenderID, m.ReceiverID},
		Data: SavedData{MessageID: m.ID, SaveState: models.SaveStateOf(m)},
	}
}

func MessageExpired(m *models.Message) Event {
	return Event{
		Type: TypeMessageExpired,
		To:   []string{m.SenderID, m.ReceiverID},
		Data: MessageRef{MessageID: m.ID},
	}
}

func MessageDeleted(m *models.Message) Event {
	return Event{
		Type: TypeMessageDeleted,
		To:   []string{m.SenderID, m.ReceiverID},
		Data: MessageRef{MessageID: m.ID},
	}
}

func UserTyping(from, to string, isTyping bool) Event {
	return Event{
		Type: TypeUserTyping,
		To:   []string{to},
		Data: TypingData{UserRef: from, IsTyping: isTyping},
	}
}

func UserDeleted(user string, counterparts []string) Event {
	return Event{
		Type: TypeUserDeleted,
		To:   counterparts,
		Data: UserDeletedData{UserID: user},
	}
}
