// Package messaging implements the direct-message operations: sending,
// fetching, the seen and save transitions, file removal and the account
// cascade.
//
// Every mutating call returns the fanout events it caused. The service
// never delivers them itself; the caller publishes them after the call
// succeeds.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/VinMeld/go-dm/internal/apperrors"
	"github.com/VinMeld/go-dm/internal/clock"
	"github.com/VinMeld/go-dm/internal/crypto"
	"github.com/VinMeld/go-dm/internal/fanout"
	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/readstatus"
	"github.com/VinMeld/go-dm/internal/store"
)

const (
	DefaultMaxContentLength = 4096
	defaultCascadeAttempts  = 3
	defaultCascadeBackoff   = 250 * time.Millisecond
)

// Cipher seals outgoing text and opens stored messages.
type Cipher interface {
	Seal(plaintext []byte) (models.Envelope, error)
	RevealMessage(m *models.Message) error
}

// BlobRemover deletes uploaded file objects.
type BlobRemover interface {
	Delete(ctx context.Context, key string) error
}

type Config struct {
	Store      store.Store
	Cipher     Cipher
	ReadStatus *readstatus.Tracker
	// Blobs is optional; without it file objects are left in place.
	Blobs  BlobRemover
	Clock  clock.Clock
	Logger *slog.Logger

	MaxContentLength int
	CascadeAttempts  int
	CascadeBackoff   time.Duration
}

type Service struct {
	store      store.Store
	cipher     Cipher
	readStatus *readstatus.Tracker
	blobs      BlobRemover
	clock      clock.Clock
	logger     *slog.Logger

	maxContentLength int
	cascadeAttempts  int
	cascadeBackoff   time.Duration
}

func NewService(cfg Config) *Service {
	s := &Service{
		store:            cfg.Store,
		cipher:           cfg.Cipher,
		readStatus:       cfg.ReadStatus,
		blobs:            cfg.Blobs,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		maxContentLength: cfg.MaxContentLength,
		cascadeAttempts:  cfg.CascadeAttempts,
		cascadeBackoff:   cfg.CascadeBackoff,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxContentLength <= 0 {
		s.maxContentLength = DefaultMaxContentLength
	}
	if s.cascadeAttempts <= 0 {
		s.cascadeAttempts = defaultCascadeAttempts
	}
	if s.cascadeBackoff <= 0 {
		s.cascadeBackoff = defaultCascadeBackoff
	}
	if s.readStatus == nil {
		s.readStatus = readstatus.NewTracker(readstatus.Config{
			Store:     cfg.Store,
			Directory: cfg.Store,
			Clock:     s.clock,
			Logger:    s.logger,
		})
	}
	return s
}

// RegisterUser mirrors an account into the directory. Re-registering an
// id renames it.
func (s *Service) RegisterUser(ctx context.Context, req models.RegisterUserRequest) (models.User, error) {
	req.ID = strings.TrimSpace(req.ID)
	req.Username = strings.TrimSpace(req.Username)
	if req.ID == "" || req.Username == "" {
		return models.User{}, apperrors.ErrInvalidUser
	}
	user := models.User{ID: req.ID, Username: req.Username, CreatedAt: s.clock.Now().UTC()}
	if err := s.store.AddUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return models.User{}, apperrors.Validation("username already taken")
		}
		return models.User{}, apperrors.ErrStoreUnavailable(err)
	}
	s.logger.Info("user registered", "id", user.ID, "username", user.Username)
	return user, nil
}

// ResolveUser looks a user up by id or username.
func (s *Service) ResolveUser(ctx context.Context, ref string) (models.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.User{}, apperrors.ErrEmptyReceiver
	}
	u, err := s.store.GetUser(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.User{}, apperrors.ErrUserNotFound
		}
		return models.User{}, apperrors.ErrStoreUnavailable(err)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.store.ListAllUsers(ctx)
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

func (s *Service) resolveReceiver(ctx context.Context, sender, ref string) (models.User, error) {
	if strings.TrimSpace(ref) == "" {
		return models.User{}, apperrors.ErrEmptyReceiver
	}
	receiver, err := s.ResolveUser(ctx, ref)
	if err != nil {
		return models.User{}, err
	}
	if receiver.ID == sender {
		return models.User{}, apperrors.ErrSelfMessage
	}
	return receiver, nil
}

func newMessageID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *Service) create(ctx context.Context, m *models.Message) error {
	id, err := newMessageID()
	if err != nil {
		return apperrors.Internal("generating message id", err)
	}
	m.ID = id
	m.CreatedAt = s.clock.Now().UTC()
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	return nil
}

// Send seals content and stores a text message from sender.
func (s *Service) Send(ctx context.Context, sender string, req models.SendRequest) (models.SendAck, []fanout.Event, error) {
	if strings.TrimSpace(req.Content) == "" {
		return models.SendAck{}, nil, apperrors.ErrEmptyContent
	}
	if utf8.RuneCountInString(req.Content) > s.maxContentLength {
		return models.SendAck{}, nil, apperrors.ErrContentTooLong
	}
	receiver, err := s.resolveReceiver(ctx, sender, req.ReceiverRef)
	if err != nil {
		return models.SendAck{}, nil, err
	}

	env, err := s.cipher.Seal([]byte(req.Content))
	if err != nil {
		return models.SendAck{}, nil, apperrors.Internal("sealing message", err)
	}
	m := &models.Message{
		SenderID:   sender,
		ReceiverID: receiver.ID,
		Kind:       models.KindText,
		Envelope:   env,
	}
	if err := s.create(ctx, m); err != nil {
		return models.SendAck{}, nil, err
	}
	s.logger.Info("message sent", "id", m.ID, "sender", sender, "receiver", receiver.ID)

	delivered := *m
	delivered.Content = req.Content
	return models.SendAck{ID: m.ID, CreatedAt: m.CreatedAt}, []fanout.Event{fanout.MessageReceived(&delivered)}, nil
}

// SendFile stores a file message. The metadata is kept verbatim and the
// content is the plaintext label "<fileType>: <fileName>".
func (s *Service) SendFile(ctx context.Context, sender string, req models.SendFileRequest) (models.SendAck, []fanout.Event, error) {
	if strings.TrimSpace(req.File.FileName) == "" || strings.TrimSpace(req.File.StoragePath) == "" {
		return models.SendAck{}, nil, apperrors.ErrInvalidFile
	}
	receiver, err := s.resolveReceiver(ctx, sender, req.ReceiverRef)
	if err != nil {
		return models.SendAck{}, nil, err
	}

	file := req.File
	m := &models.Message{
		SenderID:   sender,
		ReceiverID: receiver.ID,
		Kind:       models.KindFile,
		Content:    crypto.FileLabel(&file),
		File:       &file,
	}
	if err := s.create(ctx, m); err != nil {
		return models.SendAck{}, nil, err
	}
	s.logger.Info("file message sent", "id", m.ID, "sender", sender, "receiver", receiver.ID, "size", file.FileSize)

	delivered := *m
	return models.SendAck{ID: m.ID, CreatedAt: m.CreatedAt}, []fanout.Event{fanout.MessageReceived(&delivered)}, nil
}

// FetchConversation returns the visible messages between user and the
// counterpart, oldest first, with content opened. Messages whose content
// fails to open are skipped. An unknown counterpart yields an empty list.
func (s *Service) FetchConversation(ctx context.Context, user, counterpartRef string, w store.Window) ([]*models.Message, error) {
	counterpartRef = strings.TrimSpace(counterpartRef)
	if counterpartRef == "" {
		return nil, apperrors.ErrEmptyCounterpart
	}
	if w.Limit < 0 || w.Limit > store.MaxWindowLimit {
		return nil, apperrors.ErrInvalidWindow
	}

	// A deleted account is no longer in the directory; fall back to the
	// raw id so the read still succeeds (and finds nothing).
	counterpart := counterpartRef
	if u, err := s.store.GetUser(ctx, counterpartRef); err == nil {
		counterpart = u.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	msgs, err := s.store.ListConversation(ctx, user, counterpart, s.clock.Now(), w)
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if err := s.cipher.RevealMessage(m); err != nil {
			s.logger.Warn("skipping undecryptable message", "id", m.ID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// FileAvailable reports whether key belongs to a file message that is
// still visible. Expired or deleted messages take their objects with them.
func (s *Service) FileAvailable(ctx context.Context, key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, nil
	}
	ok, err := s.store.FileReferenced(ctx, key, s.clock.Now())
	if err != nil {
		return false, apperrors.ErrStoreUnavailable(err)
	}
	return ok, nil
}

// GetMessage returns one visible message to a participant. Content that
// fails to open is a hard error here.
func (s *Service) GetMessage(ctx context.Context, user, id string) (*models.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.ErrEmptyMessageID
	}
	m, err := s.store.GetMessage(ctx, id, s.clock.Now())
	if err != nil {
		return nil, translate(err)
	}
	if _, ok := m.PartyOf(user); !ok {
		return nil, apperrors.ErrNotParticipant
	}
	if err := s.cipher.RevealMessage(m); err != nil {
		return nil, apperrors.ErrUndecryptable(err)
	}
	return m, nil
}

// MarkSeen starts the expiry countdown. Only the receiver may call it;
// repeating it changes nothing and emits nothing.
func (s *Service) MarkSeen(ctx context.Context, viewer, id string) (*models.Message, []fanout.Event, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil, apperrors.ErrEmptyMessageID
	}
	m, changed, err := s.store.MarkSeen(ctx, id, viewer, s.clock.Now())
	if err != nil {
		return nil, nil, translate(err)
	}
	if !changed {
		return m, nil, nil
	}
	s.logger.Info("message seen", "id", m.ID, "viewer", viewer, "expires_at", m.ExpiresAt)
	return m, []fanout.Event{fanout.MessageSeen(m)}, nil
}

// SetSaved sets the caller's save flag. A mutual save clears the deadline.
func (s *Service) SetSaved(ctx context.Context, actor, id string, saved bool) (models.SaveState, []fanout.Event, error) {
	if strings.TrimSpace(id) == "" {
		return models.SaveState{}, nil, apperrors.ErrEmptyMessageID
	}
	m, err := s.store.SetSaved(ctx, id, actor, saved, s.clock.Now())
	if err != nil {
		return models.SaveState{}, nil, translate(err)
	}
	s.logger.Info("message save toggled", "id", m.ID, "actor", actor, "saved", saved, "mutual", m.MutuallySaved())
	return models.SaveStateOf(m), []fanout.Event{fanout.MessageSaved(m)}, nil
}

// DeleteMessage removes a file message and its stored object. Only
// participants may delete, and only file messages. A message that is
// already gone is not an error.
func (s *Service) DeleteMessage(ctx context.Context, actor, id string) ([]fanout.Event, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.ErrEmptyMessageID
	}
	m, err := s.store.GetMessage(ctx, id, s.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	if _, ok := m.PartyOf(actor); !ok {
		return nil, apperrors.ErrNotParticipant
	}
	if m.Kind != models.KindFile {
		return nil, apperrors.ErrNotFileMessage
	}

	if s.blobs != nil && m.File != nil && m.File.StoragePath != "" {
		if err := s.blobs.Delete(ctx, m.File.StoragePath); err != nil {
			return nil, apperrors.ErrBlobStoreUnavailable(err)
		}
	}
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	s.logger.Info("file message deleted", "id", id, "actor", actor)
	return []fanout.Event{fanout.MessageDeleted(m)}, nil
}

// translate maps store sentinels onto the request error taxonomy.
func translate(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.ErrMessageNotFound
	case errors.Is(err, store.ErrNotRecipient):
		return apperrors.ErrSenderCannotMarkSeen
	case errors.Is(err, store.ErrNotParticipant):
		return apperrors.ErrNotParticipant
	default:
		return apperrors.ErrStoreUnavailable(err)
	}
}
