// Package store defines the persistence contract of the messaging core.
//
// Backends must apply the expiry filter on every read: a message whose
// deadline has passed is never returned, whether or not the backend's
// background removal has caught up. MarkSeen and SetSaved must each be a
// single atomic conditional update of one message.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/VinMeld/go-dm/internal/models"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrNotRecipient   = errors.New("store: viewer is not the receiver")
	ErrNotParticipant = errors.New("store: actor is not a participant")
	ErrDuplicate      = errors.New("store: duplicate key")
)

const (
	DefaultWindowLimit = 50
	MaxWindowLimit     = 200
)

// Window selects a page of a conversation: the newest Limit visible
// messages created strictly before Before (zero means no cursor).
type Window struct {
	Limit  int
	Before time.Time
}

// Normalize clamps the limit to sane bounds.
func (w Window) Normalize() Window {
	if w.Limit <= 0 {
		w.Limit = DefaultWindowLimit
	}
	if w.Limit > MaxWindowLimit {
		w.Limit = MaxWindowLimit
	}
	return w
}

// CascadeResult reports what an account cascade removed.
type CascadeResult struct {
	Messages     int
	Counterparts []string
	StoragePaths []string
}

type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	// GetMessage returns a visible message by id.
	GetMessage(ctx context.Context, id string, now time.Time) (*models.Message, error)
	// ListConversation returns visible messages between a and b, oldest first.
	ListConversation(ctx context.Context, a, b string, now time.Time, w Window) ([]*models.Message, error)
	// LastPerCounterpart returns, in one query, the newest visible message
	// for every counterpart of user.
	LastPerCounterpart(ctx context.Context, user string, now time.Time) (map[string]*models.Message, error)
	// MarkSeen starts the countdown if viewer is the receiver. changed is
	// false when the message had already been seen.
	MarkSeen(ctx context.Context, id, viewer string, now time.Time) (m *models.Message, changed bool, err error)
	// SetSaved sets actor's save flag and recomputes the deadline.
	SetSaved(ctx context.Context, id, actor string, saved bool, now time.Time) (*models.Message, error)
	// FileReferenced reports whether a visible file message still points
	// at storagePath.
	FileReferenced(ctx context.Context, storagePath string, now time.Time) (bool, error)
	// DeleteMessage removes a message; a missing id is not an error.
	DeleteMessage(ctx context.Context, id string) error
	// DeleteUserMessages removes every message user sent or received.
	DeleteUserMessages(ctx context.Context, user string) (CascadeResult, error)
	// PurgeExpired removes up to limit messages whose deadline passed and
	// returns them.
	PurgeExpired(ctx context.Context, now time.Time, limit int) ([]*models.Message, error)
}

type ReadStatusStore interface {
	// UpsertReadStatuses writes all rows in one atomic operation. Later
	// rows for the same pair win.
	UpsertReadStatuses(ctx context.Context, rows []models.ReadStatus) error
	ListReadStatuses(ctx context.Context, viewer string) ([]models.ReadStatus, error)
	// DeleteReadStatus removes one row; a missing row is not an error.
	DeleteReadStatus(ctx context.Context, viewer, counterpart string) error
	// DeleteUserReadStatuses removes rows where user is viewer or counterpart.
	DeleteUserReadStatuses(ctx context.Context, user string) (int, error)
	// PurgeReadStatuses removes rows last touched before cutoff.
	PurgeReadStatuses(ctx context.Context, cutoff time.Time) (int, error)
}

// Directory mirrors the identities owned by the account service.
type Directory interface {
	AddUser(ctx context.Context, user models.User) error
	// GetUser resolves a user by id or username.
	GetUser(ctx context.Context, ref string) (models.User, error)
	LookupUsers(ctx context.Context, ids []string) (map[string]models.User, error)
	ListAllUsers(ctx context.Context) ([]models.User, error)
	DeleteUser(ctx context.Context, id string) error
}

type Store interface {
	MessageStore
	ReadStatusStore
	Directory
	Close() error
}
