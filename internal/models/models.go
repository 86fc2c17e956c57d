package models

import "time"

// Kind discriminates message payloads.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Valid reports whether k is a known payload kind.
func (k Kind) Valid() bool {
	return k == KindText || k == KindFile
}

// Party identifies which side of a message an actor is on.
type Party string

const (
	PartySender   Party = "sender"
	PartyReceiver Party = "receiver"
)

// User is the directory entry for an account owned by the account service.
// The messaging core only ever stores the ID on messages.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Envelope is the sealed form of text content.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"authTag"`
}

// Empty reports whether the envelope carries no ciphertext.
func (e Envelope) Empty() bool {
	return len(e.Ciphertext) == 0 && len(e.IV) == 0 && len(e.AuthTag) == 0
}

// FileMetadata describes an object already uploaded to blob storage.
// It is stored verbatim and never encrypted.
type FileMetadata struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
	FileURL     string `json:"fileUrl"`
	StoragePath string `json:"storagePath"`
}

// Message is a single direct message between a sender and a receiver.
//
// Content holds the plaintext only after the envelope has been opened;
// for file messages it holds the display fallback "<fileType>: <fileName>".
type Message struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId"`
	Kind       Kind          `json:"kind"`
	Content    string        `json:"content"`
	Envelope   Envelope      `json:"-"`
	File       *FileMetadata `json:"fileMetadata,omitempty"`

	IsSeen    bool       `json:"isSeen"`
	SeenAt    *time.Time `json:"seenAt"`
	ExpiresAt *time.Time `json:"expiresAt"`

	IsSavedBySender   bool `json:"isSavedBySender"`
	IsSavedByReceiver bool `json:"isSavedByReceiver"`

	CreatedAt time.Time `json:"createdAt"`

	// ContentUnavailable is set when the envelope failed to open and the
	// message is still returned (conversation summaries).
	ContentUnavailable bool `json:"contentUnavailable,omitempty"`
}

// Counterpart returns the other participant relative to user.
func (m *Message) Counterpart(user string) string {
	if m.SenderID == user {
		return m.ReceiverID
	}
	return m.SenderID
}

// PartyOf returns the side user is on, or false if user is not a participant.
func (m *Message) PartyOf(user string) (Party, bool) {
	switch user {
	case m.SenderID:
		return PartySender, true
	case m.ReceiverID:
		return PartyReceiver, true
	}
	return "", false
}

// MutuallySaved reports whether both participants saved the message.
func (m *Message) MutuallySaved() bool {
	return m.IsSavedBySender && m.IsSavedByReceiver
}

// SaveState is the response shape of a save toggle.
type SaveState struct {
	IsSavedBySender   bool       `json:"isSavedBySender"`
	IsSavedByReceiver bool       `json:"isSavedByReceiver"`
	ExpiresAt         *time.Time `json:"expiresAt"`
}

// SaveStateOf extracts the save-related fields of m.
func SaveStateOf(m *Message) SaveState {
	return SaveState{
		IsSavedBySender:   m.IsSavedBySender,
		IsSavedByReceiver: m.IsSavedByReceiver,
		ExpiresAt:         m.ExpiresAt,
	}
}

// ReadStatus is the read cursor of a viewer for one counterpart.
type ReadStatus struct {
	ViewerID          string    `json:"viewerId"`
	CounterpartID     string    `json:"counterpartId"`
	LastSeenMessageID string    `json:"lastSeenMessageId"`
	LastSeenAt        time.Time `json:"lastSeenAt"`
}

// ReadCursor is the per-counterpart value of a read-status snapshot.
type ReadCursor struct {
	LastSeenMessageID string    `json:"lastSeenMessageId"`
	LastSeenAt        time.Time `json:"lastSeenAt"`
}

// ConversationSummary is one entry of a user's conversation list.
type ConversationSummary struct {
	Counterpart User     `json:"counterpart"`
	LastMessage *Message `json:"lastMessage"`
	Unread      bool     `json:"unread"`
}

// SendRequest is the payload for sending a text message.
type SendRequest struct {
	ReceiverRef string `json:"receiverRef"`
	Content     string `json:"content"`
}

// SendFileRequest is the payload for sending a file message.
type SendFileRequest struct {
	ReceiverRef string       `json:"receiverRef"`
	File        FileMetadata `json:"fileMetadata"`
}

// SendAck is the minimal acknowledgement returned by a send.
type SendAck struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// SaveRequest toggles the caller's save flag on a message.
type SaveRequest struct {
	Saved *bool `json:"saved"`
}

// ReadStatusUpdate is a single cursor move.
type ReadStatusUpdate struct {
	CounterpartID string `json:"counterpartId"`
	MessageID     string `json:"messageId"`
}

// ReadStatusBatchRequest carries a list of cursor moves.
type ReadStatusBatchRequest struct {
	Updates []ReadStatusUpdate `json:"updates"`
}

// ReadStatusRejection describes a batch entry that was not applied.
type ReadStatusRejection struct {
	CounterpartID string `json:"counterpartId"`
	MessageID     string `json:"messageId"`
	Code          string `json:"code"`
	Reason        string `json:"reason"`
}

// ReadStatusBatchResult is the outcome of a batch update.
type ReadStatusBatchResult struct {
	Applied  []ReadStatus          `json:"applied"`
	Rejected []ReadStatusRejection `json:"rejected"`
}

// RegisterUserRequest is sent by the account service to mirror a user.
type RegisterUserRequest struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
