// Package readstatus keeps one read cursor per (viewer, counterpart) pair.
//
// Cursor moves are last-write-wins: the client is trusted to report the
// newest message it rendered, and an older id reported later simply
// replaces the newer one. A missing row means nothing was seen yet.
package readstatus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/VinMeld/go-dm/internal/apperrors"
	"github.com/VinMeld/go-dm/internal/clock"
	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/store"
)

// DefaultRetention is how long an untouched cursor is kept.
const DefaultRetention = 30 * 24 * time.Hour

type Config struct {
	Store     store.ReadStatusStore
	Directory store.Directory
	Clock     clock.Clock
	Retention time.Duration
	Logger    *slog.Logger
}

type Tracker struct {
	store     store.ReadStatusStore
	directory store.Directory
	clock     clock.Clock
	retention time.Duration
	logger    *slog.Logger
}

func NewTracker(cfg Config) *Tracker {
	t := &Tracker{
		store:     cfg.Store,
		directory: cfg.Directory,
		clock:     cfg.Clock,
		retention: cfg.Retention,
		logger:    cfg.Logger,
	}
	if t.clock == nil {
		t.clock = clock.Real()
	}
	if t.retention <= 0 {
		t.retention = DefaultRetention
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

func validateUpdate(viewer string, u models.ReadStatusUpdate) error {
	switch {
	case u.CounterpartID == "":
		return apperrors.ErrEmptyCounterpart
	case u.MessageID == "":
		return apperrors.ErrEmptyMessageID
	case u.CounterpartID == viewer:
		return apperrors.Validation("counterpartId must differ from the viewer")
	}
	return nil
}

// Update moves viewer's cursor for counterpart to messageID.
func (t *Tracker) Update(ctx context.Context, viewer string, u models.ReadStatusUpdate) (models.ReadStatus, error) {
	if err := validateUpdate(viewer, u); err != nil {
		return models.ReadStatus{}, err
	}
	if _, err := t.directory.GetUser(ctx, u.CounterpartID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.ReadStatus{}, apperrors.ErrUserNotFound
		}
		return models.ReadStatus{}, apperrors.ErrStoreUnavailable(err)
	}

	row := models.ReadStatus{
		ViewerID:          viewer,
		CounterpartID:     u.CounterpartID,
		LastSeenMessageID: u.MessageID,
		LastSeenAt:        t.clock.Now(),
	}
	if err := t.store.UpsertReadStatuses(ctx, []models.ReadStatus{row}); err != nil {
		return models.ReadStatus{}, apperrors.ErrStoreUnavailable(err)
	}
	return row, nil
}

// BatchUpdate applies every valid entry in one store write. Invalid
// entries, including unknown counterparts, are reported and skipped; the
// rest still commit. Entries for the same counterpart apply in order.
func (t *Tracker) BatchUpdate(ctx context.Context, viewer string, updates []models.ReadStatusUpdate) (models.ReadStatusBatchResult, error) {
	result := models.ReadStatusBatchResult{
		Applied:  []models.ReadStatus{},
		Rejected: []models.ReadStatusRejection{},
	}
	if len(updates) == 0 {
		return result, apperrors.ErrEmptyBatch
	}

	var ids []string
	seen := make(map[string]bool)
	for _, u := range updates {
		if u.CounterpartID != "" && !seen[u.CounterpartID] {
			seen[u.CounterpartID] = true
			ids = append(ids, u.CounterpartID)
		}
	}
	known, err := t.directory.LookupUsers(ctx, ids)
	if err != nil {
		return result, apperrors.ErrStoreUnavailable(err)
	}

	now := t.clock.Now()
	for _, u := range updates {
		if err := validateUpdate(viewer, u); err != nil {
			result.Rejected = append(result.Rejected, reject(u, err))
			continue
		}
		if _, ok := known[u.CounterpartID]; !ok {
			result.Rejected = append(result.Rejected, reject(u, apperrors.ErrUserNotFound))
			continue
		}
		result.Applied = append(result.Applied, models.ReadStatus{
			ViewerID:          viewer,
			CounterpartID:     u.CounterpartID,
			LastSeenMessageID: u.MessageID,
			LastSeenAt:        now,
		})
	}

	if err := t.store.UpsertReadStatuses(ctx, result.Applied); err != nil {
		return models.ReadStatusBatchResult{}, apperrors.ErrStoreUnavailable(err)
	}
	if len(result.Rejected) > 0 {
		t.logger.Info("read status batch partially applied",
			"viewer", viewer, "applied", len(result.Applied), "rejected", len(result.Rejected))
	}
	return result, nil
}

func reject(u models.ReadStatusUpdate, err error) models.ReadStatusRejection {
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	return models.ReadStatusRejection{
		CounterpartID: u.CounterpartID,
		MessageID:     u.MessageID,
		Code:          string(apperrors.CodeOf(err)),
		Reason:        msg,
	}
}

// Query returns the viewer's cursors keyed by counterpart.
func (t *Tracker) Query(ctx context.Context, viewer string) (map[string]models.ReadCursor, error) {
	rows, err := t.store.ListReadStatuses(ctx, viewer)
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	out := make(map[string]models.ReadCursor, len(rows))
	for _, r := range rows {
		out[r.CounterpartID] = models.ReadCursor{
			LastSeenMessageID: r.LastSeenMessageID,
			LastSeenAt:        r.LastSeenAt,
		}
	}
	return out, nil
}

// Delete removes one cursor. Deleting a missing cursor succeeds.
func (t *Tracker) Delete(ctx context.Context, viewer, counterpart string) error {
	if counterpart == "" {
		return apperrors.ErrEmptyCounterpart
	}
	if err := t.store.DeleteReadStatus(ctx, viewer, counterpart); err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	return nil
}

// DeleteForUser removes every cursor user owns or is the subject of.
func (t *Tracker) DeleteForUser(ctx context.Context, user string) (int, error) {
	n, err := t.store.DeleteUserReadStatuses(ctx, user)
	if err != nil {
		return 0, apperrors.ErrStoreUnavailable(err)
	}
	return n, nil
}

// Sweep removes cursors untouched for longer than the retention period.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	cutoff := t.clock.Now().Add(-t.retention)
	n, err := t.store.PurgeReadStatuses(ctx, cutoff)
	if err != nil {
		return 0, apperrors.ErrStoreUnavailable(err)
	}
	if n > 0 {
		t.logger.Info("read status sweep", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}
