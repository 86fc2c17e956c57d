package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/VinMeld/go-dm/internal/clock"
	"github.com/VinMeld/go-dm/internal/fanout"
	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/readstatus"
	"github.com/VinMeld/go-dm/internal/store"
)

const (
	DefaultSweepInterval = time.Minute
	defaultPurgeBatch    = 500
)

// Janitor reclaims storage: expired messages, their file objects and stale
// read cursors. It is
// housekeeping only. Reads already hide expired messages whether or not
// the janitor ever runs.
type Janitor struct {
	messages  store.MessageStore
	tracker   *readstatus.Tracker
	blobs     BlobRemover
	publisher fanout.Publisher
	clock     clock.Clock
	interval  time.Duration
	batch     int
	logger    *slog.Logger
}

type JanitorConfig struct {
	Messages  store.MessageStore
	Tracker   *readstatus.Tracker
	Blobs     BlobRemover
	Publisher fanout.Publisher
	Clock     clock.Clock
	Interval  time.Duration
	BatchSize int
	Logger    *slog.Logger
}

func NewJanitor(cfg JanitorConfig) *Janitor {
	j := &Janitor{
		messages:  cfg.Messages,
		tracker:   cfg.Tracker,
		blobs:     cfg.Blobs,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		interval:  cfg.Interval,
		batch:     cfg.BatchSize,
		logger:    cfg.Logger,
	}
	if j.publisher == nil {
		j.publisher = fanout.Discard
	}
	if j.clock == nil {
		j.clock = clock.Real()
	}
	if j.interval <= 0 {
		j.interval = DefaultSweepInterval
	}
	if j.batch <= 0 {
		j.batch = defaultPurgeBatch
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	return j
}

type SweepReport struct {
	Messages     int `json:"messages"`
	Blobs        int `json:"blobs"`
	ReadStatuses int `json:"readStatuses"`
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := j.clock.Now()
	for {
		purged, err := j.messages.PurgeExpired(ctx, now, j.batch)
		if err != nil {
			return report, err
		}
		report.Messages += len(purged)
		report.Blobs += j.removeFiles(ctx, purged)
		if len(purged) > 0 {
			events := make([]fanout.Event, len(purged))
			for i, m := range purged {
				events[i] = fanout.MessageExpired(m)
			}
			if err := j.publisher.Publish(ctx, events...); err != nil {
				j.logger.Warn("expiry notification failed", "count", len(events), "error", err)
			}
		}
		if len(purged) < j.batch {
			break
		}
	}

	if j.tracker != nil {
		n, err := j.tracker.Sweep(ctx)
		if err != nil {
			return report, err
		}
		report.ReadStatuses = n
	}

	if report.Messages > 0 {
		j.logger.Info("janitor sweep", "messages", report.Messages, "blobs", report.Blobs, "read_statuses", report.ReadStatuses)
	}
	return report, nil
}

// removeFiles deletes the objects behind purged file messages. A failed
// delete is logged and left behind; the row is already gone.
func (j *Janitor) removeFiles(ctx context.Context, purged []*models.Message) int {
	if j.blobs == nil {
		return 0
	}
	removed := 0
	for _, m := range purged {
		if m.File == nil || m.File.StoragePath == "" {
			continue
		}
		if err := j.blobs.Delete(ctx, m.File.StoragePath); err != nil {
			j.logger.Warn("expired file not removed", "id", m.ID, "key", m.File.StoragePath, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()
	j.logger.Info("janitor started", "interval", j.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("janitor sweep failed", "error", err)
			}
		}
	}
}
