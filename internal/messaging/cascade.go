package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/VinMeld/go-dm/internal/apperrors"
	"github.com/VinMeld/go-dm/internal/fanout"
)

// CascadeReport summarises an account cascade.
type CascadeReport struct {
	UserID       string   `json:"userId"`
	Messages     int      `json:"messages"`
	ReadStatuses int      `json:"readStatuses"`
	Blobs        int      `json:"blobs"`
	Counterparts []string `json:"counterparts"`
	Failed       []string `json:"failed,omitempty"`
}

// DeleteAccount removes everything that references user: messages in
// either direction, their file objects, read cursors on both sides and the
// directory entry. Each step is retried; a step that still fails is logged
// and the cascade moves on. Every step is idempotent, so the caller may
// simply repeat the call after an error.
func (s *Service) DeleteAccount(ctx context.Context, user string) (CascadeReport, []fanout.Event, error) {
	report := CascadeReport{UserID: user, Counterparts: []string{}}
	if user == "" {
		return report, nil, apperrors.ErrInvalidUser
	}

	var paths []string
	if err := s.retry(ctx, "messages", user, func() error {
		res, err := s.store.DeleteUserMessages(ctx, user)
		if err != nil {
			return err
		}
		report.Messages = res.Messages
		report.Counterparts = append(report.Counterparts, res.Counterparts...)
		paths = res.StoragePaths
		return nil
	}); err != nil {
		report.Failed = append(report.Failed, "messages")
	}

	if s.blobs != nil {
		for _, path := range paths {
			err := s.retry(ctx, "blob", user, func() error { return s.blobs.Delete(ctx, path) })
			if err != nil {
				report.Failed = append(report.Failed, "blob:"+path)
				continue
			}
			report.Blobs++
		}
	}

	if err := s.retry(ctx, "read_status", user, func() error {
		n, err := s.readStatus.DeleteForUser(ctx, user)
		report.ReadStatuses = n
		return err
	}); err != nil {
		report.Failed = append(report.Failed, "read_status")
	}

	if err := s.retry(ctx, "directory", user, func() error {
		return s.store.DeleteUser(ctx, user)
	}); err != nil {
		report.Failed = append(report.Failed, "directory")
	}

	var events []fanout.Event
	if len(report.Counterparts) > 0 {
		events = append(events, fanout.UserDeleted(user, report.Counterparts))
	}

	if len(report.Failed) > 0 {
		s.logger.Error("account cascade incomplete", "user", user, "failed", report.Failed)
		return report, events, apperrors.Dependency("account cascade incomplete",
			fmt.Errorf("failed steps: %v", report.Failed))
	}
	s.logger.Info("account cascade complete",
		"user", user,
		"messages", report.Messages,
		"read_statuses", report.ReadStatuses,
		"blobs", report.Blobs,
		"counterparts", len(report.Counterparts),
	)
	return report, events, nil
}

// retry runs fn up to cascadeAttempts times with doubling backoff.
func (s *Service) retry(ctx context.Context, step, user string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.cascadeAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.cascadeBackoff << (attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		s.logger.Warn("cascade step failed",
			"step", step,
			"user", user,
			"attempt", attempt+1,
			"error", lastErr,
		)
	}
	s.logger.Error("cascade step gave up", "step", step, "user", user, "error", lastErr)
	return lastErr
}
