// Package conversation derives a user's conversation list from the
// message store and read cursors. Nothing here is persisted; every call
// recomputes the list so it cannot drift from the underlying state.
package conversation

import (
	"context"
	"log/slog"
	"sort"

	"github.com/VinMeld/go-dm/internal/apperrors"
	"github.com/VinMeld/go-dm/internal/clock"
	"github.com/VinMeld/go-dm/internal/expiry"
	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/store"
)

// Revealer opens a stored message's content in place.
type Revealer interface {
	RevealMessage(m *models.Message) error
}

type Config struct {
	Messages   store.MessageStore
	ReadStatus store.ReadStatusStore
	Directory  store.Directory
	Revealer   Revealer
	Clock      clock.Clock
	Logger     *slog.Logger
}

type Aggregator struct {
	messages   store.MessageStore
	readStatus store.ReadStatusStore
	directory  store.Directory
	revealer   Revealer
	clock      clock.Clock
	logger     *slog.Logger
}

func NewAggregator(cfg Config) *Aggregator {
	a := &Aggregator{
		messages:   cfg.Messages,
		readStatus: cfg.ReadStatus,
		directory:  cfg.Directory,
		revealer:   cfg.Revealer,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
	if a.clock == nil {
		a.clock = clock.Real()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// ListConversations returns one summary per counterpart that still has a
// visible message with user, most recently active first.
//
// A message is unread when the counterpart sent it and user's cursor for
// that counterpart is missing or points elsewhere. Counterparts missing
// from the directory are dropped. A last message whose content fails to
// open is kept with ContentUnavailable set.
func (a *Aggregator) ListConversations(ctx context.Context, user string) ([]models.ConversationSummary, error) {
	now := a.clock.Now()

	last, err := a.messages.LastPerCounterpart(ctx, user, now)
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	if len(last) == 0 {
		return []models.ConversationSummary{}, nil
	}

	ids := make([]string, 0, len(last))
	for id := range last {
		ids = append(ids, id)
	}
	users, err := a.directory.LookupUsers(ctx, ids)
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	rows, err := a.readStatus.ListReadStatuses(ctx, user)
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	cursors := make(map[string]string, len(rows))
	for _, r := range rows {
		cursors[r.CounterpartID] = r.LastSeenMessageID
	}

	out := make([]models.ConversationSummary, 0, len(last))
	for counterpart, m := range last {
		if !expiry.IsVisible(m, now) {
			continue
		}
		u, ok := users[counterpart]
		if !ok {
			a.logger.Debug("dropping conversation with unknown user", "user", user, "counterpart", counterpart)
			continue
		}
		if err := a.revealer.RevealMessage(m); err != nil {
			a.logger.Warn("last message content unavailable", "id", m.ID, "error", err)
			m.Content = ""
			m.ContentUnavailable = true
		}

		seenID, hasCursor := cursors[counterpart]
		out = append(out, models.ConversationSummary{
			Counterpart: u,
			LastMessage: m,
			Unread:      m.SenderID != user && (!hasCursor || seenID != m.ID),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}
