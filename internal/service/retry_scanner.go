package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dkovalenko/crpt-relay/internal/domain"
	"github.com/dkovalenko/crpt-relay/internal/queue"
	"github.com/dkovalenko/crpt-relay/internal/repository"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100

	// staleSendingAfter is how long a submission may sit in SENDING before it
	// is presumed orphaned by a dead worker and demoted back to QUEUED.
	staleSendingAfter = 5 * time.Minute
)

// RetryScanner periodically re-enqueues due submissions marked for retry, and
// rescues submissions orphaned mid-send by a crashed or cancelled worker.
type RetryScanner struct {
	submissions repository.SubmissionRepository
	publisher   queue.Publisher
	logger      *zap.Logger
	interval    time.Duration
	limit       int
	staleAfter  time.Duration
	now         func() time.Time
}

func NewRetryScanner(
	submissions repository.SubmissionRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		submissions: submissions,
		publisher:   publisher,
		logger:      logger,
		interval:    interval,
		limit:       limit,
		staleAfter:  staleSendingAfter,
		now:         time.Now,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

// scan demotes orphaned SENDING rows first so the due-retry pass in the same
// tick re-enqueues them.
func (s *RetryScanner) scan(ctx context.Context) error {
	if err := s.requeueStaleSending(ctx); err != nil {
		return err
	}
	return s.scanDue(ctx)
}

func (s *RetryScanner) requeueStaleSending(ctx context.Context) error {
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.submissions.GetStaleSending(ctx, cutoff, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch stale sending submissions: %w", err)
	}

	for i := range stale {
		submission := stale[i]
		// The interrupted attempt counts: UpdateStatusWithRetry bumps the
		// attempt counter and sets an immediately-due retry timestamp.
		if err := s.submissions.UpdateStatusWithRetry(ctx, submission.ID, domain.StatusQueued, s.now()); err != nil {
			s.logger.Error("failed to requeue stale sending submission",
				zap.String("submissionId", submission.ID),
				zap.Error(err),
			)
			continue
		}

		s.logger.Warn("requeued submission orphaned in sending state",
			zap.String("submissionId", submission.ID),
			zap.Time("lastUpdatedBefore", cutoff),
		)
	}

	return nil
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	dueSubmissions, err := s.submissions.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range dueSubmissions {
		submission := dueSubmissions[i]
		msg := queue.SubmissionMessage{
			SubmissionID:  submission.ID,
			CorrelationID: submission.CorrelationID,
		}

		if err := s.publisher.Publish(ctx, queue.SubmissionsQueue, msg); err != nil {
			s.logger.Error("failed to enqueue retry submission",
				zap.String("submissionId", submission.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.submissions.ClearNextRetryAt(ctx, submission.ID); err != nil {
			s.logger.Error("failed to clear next retry timestamp after enqueue",
				zap.String("submissionId", submission.ID),
				zap.Error(err),
			)
			continue
		}
	}

	return nil
}
