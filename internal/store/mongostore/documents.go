package mongostore

import (
	"time"

	"github.com/VinMeld/go-dm/internal/models"
)

type fileDoc struct {
	FileName    string `bson:"fileName"`
	FileSize    int64  `bson:"fileSize"`
	MimeType    string `bson:"mimeType"`
	FileURL     string `bson:"fileUrl"`
	StoragePath string `bson:"storagePath"`
}

type messageDoc struct {
	ID              string     `bson:"_id"`
	SenderID        string     `bson:"senderId"`
	ReceiverID      string     `bson:"receiverId"`
	Kind            string     `bson:"kind"`
	Content         string     `bson:"content"`
	Ciphertext      []byte     `bson:"ciphertext,omitempty"`
	IV              []byte     `bson:"iv,omitempty"`
	AuthTag         []byte     `bson:"authTag,omitempty"`
	File            *fileDoc   `bson:"file,omitempty"`
	IsSeen          bool       `bson:"isSeen"`
	SeenAt          *time.Time `bson:"seenAt"`
	ExpiresAt       *time.Time `bson:"expiresAt"`
	SavedBySender   bool       `bson:"savedBySender"`
	SavedByReceiver bool       `bson:"savedByReceiver"`
	CreatedAt       time.Time  `bson:"createdAt"`
}

type readStatusDoc struct {
	ViewerID          string    `bson:"viewerId"`
	CounterpartID     string    `bson:"counterpartId"`
	LastSeenMessageID string    `bson:"lastSeenMessageId"`
	LastSeenAt        time.Time `bson:"lastSeenAt"`
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Username  string    `bson:"username"`
	CreatedAt time.Time `bson:"createdAt"`
}

func toMessageDoc(m *models.Message) messageDoc {
	d := messageDoc{
		ID:              m.ID,
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		Kind:            string(m.Kind),
		Content:         m.Content,
		Ciphertext:      m.Envelope.Ciphertext,
		IV:              m.Envelope.IV,
		AuthTag:         m.Envelope.AuthTag,
		IsSeen:          m.IsSeen,
		SeenAt:          m.SeenAt,
		ExpiresAt:       m.ExpiresAt,
		SavedBySender:   m.IsSavedBySender,
		SavedByReceiver: m.IsSavedByReceiver,
		CreatedAt:       m.CreatedAt,
	}
	if m.File != nil {
		d.File = &fileDoc{
			FileName:    m.File.FileName,
			FileSize:    m.File.FileSize,
			MimeType:    m.File.MimeType,
			FileURL:     m.File.FileURL,
			StoragePath: m.File.StoragePath,
		}
	}
	return d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (d messageDoc) toModel() *models.Message {
	m := &models.Message{
		ID:         d.ID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Kind:       models.Kind(d.Kind),
		Content:    d.Content,
		Envelope: models.Envelope{
			Ciphertext: d.Ciphertext,
			IV:         d.IV,
			AuthTag:    d.AuthTag,
		},
		IsSeen:            d.IsSeen,
		SeenAt:            utcPtr(d.SeenAt),
		ExpiresAt:         utcPtr(d.ExpiresAt),
		IsSavedBySender:   d.SavedBySender,
		IsSavedByReceiver: d.SavedByReceiver,
		CreatedAt:         d.CreatedAt.UTC(),
	}
	if d.File != nil {
		m.File = &models.FileMetadata{
			FileName:    d.File.FileName,
			FileSize:    d.File.FileSize,
			MimeType:    d.File.MimeType,
			FileURL:     d.File.FileURL,
			StoragePath: d.File.StoragePath,
		}
	}
	return m
}

func (d readStatusDoc) toModel() models.ReadStatus {
	return models.ReadStatus{
		ViewerID:          d.ViewerID,
		CounterpartID:     d.CounterpartID,
		LastSeenMessageID: d.LastSeenMessageID,
		LastSeenAt:        d.LastSeenAt.UTC(),
	}
}

func (d userDoc) toModel() models.User {
	return models.User{ID: d.ID, Username: d.Username, CreatedAt: d.CreatedAt.UTC()}
}
