package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dkovalenko/crpt-relay/internal/crpt"
	"github.com/dkovalenko/crpt-relay/internal/domain"
	"github.com/dkovalenko/crpt-relay/internal/observability"
	"github.com/dkovalenko/crpt-relay/internal/queue"
	"github.com/dkovalenko/crpt-relay/internal/ratelimit"
	"github.com/dkovalenko/crpt-relay/internal/repository"
)

const (
	minWorkerConcurrency = 1
	maxRetryDelay        = 60 * time.Second
	baseRetryDelay       = time.Second
	maxRetryJitterMillis = 250
)

// Submitter delivers one document to the registry. Admission control happens
// inside the implementation; a blocked Submit is a worker waiting at the gate.
type Submitter interface {
	Submit(ctx context.Context, doc *domain.GoodsTurnoverDocument, signature string) (*crpt.SubmissionResult, error)
}

// GateStats exposes the local gate's remaining permits for the gauge. A shared
// Redis gate has no cheap local view, so the field stays nil in that mode.
type GateStats interface {
	Available() int
}

// WorkerService drains the submissions queue and relays each document to the
// registry through the rate-limited client.
type WorkerService struct {
	submissions repository.SubmissionRepository
	attempts    repository.AttemptRepository
	consumer    queue.Consumer
	submitter   Submitter
	logger      *zap.Logger
	metrics     *observability.Metrics
	gateStats   GateStats
	concurrency int
	now         func() time.Time
	randIntn    func(n int) int
}

func NewWorkerService(
	submissions repository.SubmissionRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	submitter Submitter,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		submissions: submissions,
		attempts:    attempts,
		consumer:    consumer,
		submitter:   submitter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		randIntn:    rand.Intn,
	}, nil
}

// Start consumes the submissions queue until context cancellation. All workers
// share one queue; fairness comes from the broker, throughput ceiling from the
// admission gate inside the submitter.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.SubmissionsQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.SubmissionsQueue, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.SubmissionMessage) error {
	submission, err := s.submissions.LockForSending(ctx, msg.SubmissionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("submission not found during lock, skipping",
				zap.String("submissionId", msg.SubmissionID),
			)
			return nil
		}
		return fmt.Errorf("failed to lock submission for sending: %w", err)
	}

	// Nil means terminal/sending state; ack and skip.
	if submission == nil {
		return nil
	}

	if s.metrics != nil {
		s.metrics.IncWorkerInFlight()
		defer s.metrics.DecWorkerInFlight()
	}

	doc, err := decodeSubmissionPayload(submission.Payload)
	if err != nil {
		// A payload that stored validated but no longer decodes is corrupt;
		// retrying cannot help.
		s.logger.Error("submission payload is not decodable",
			zap.String("submissionId", submission.ID),
			zap.Error(err),
		)
		if updateErr := s.submissions.UpdateStatus(ctx, submission.ID, domain.StatusFailed); updateErr != nil {
			return fmt.Errorf("failed to mark corrupt submission as failed: %w", updateErr)
		}
		if s.metrics != nil {
			s.metrics.IncSubmissionFailed("corrupt_payload")
		}
		return nil
	}

	attemptNumber := submission.AttemptCount + 1
	// Gate wait and call durations are observed inside the submitter, where
	// the two phases are distinguishable.
	result, sendErr := s.submitter.Submit(ctx, doc, submission.Signature)
	if s.metrics != nil && s.gateStats != nil {
		s.metrics.SetGateAvailable(s.gateStats.Available())
	}

	// Cancellation while waiting at the gate consumed no permit and made no
	// attempt; requeue so another worker (or the next run) picks it up.
	if crpt.IsAdmissionCancelled(sendErr) {
		return fmt.Errorf("admission wait interrupted: %w", sendErr)
	}
	if errors.Is(sendErr, ratelimit.ErrGateClosed) {
		if s.metrics != nil {
			s.metrics.IncGateStopped()
		}
		return fmt.Errorf("admission gate is stopped: %w", sendErr)
	}

	if err := s.recordAttempt(ctx, submission.ID, attemptNumber, result, sendErr); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	if sendErr == nil {
		if result != nil && strings.TrimSpace(result.RegistryDocumentID) != "" {
			if err := s.submissions.SetRegistryDocumentID(ctx, submission.ID, result.RegistryDocumentID); err != nil {
				return fmt.Errorf("failed to set registry document id: %w", err)
			}
		}

		if err := s.submissions.UpdateStatus(ctx, submission.ID, domain.StatusSent); err != nil {
			return fmt.Errorf("failed to update submission status to sent: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncSubmissionSent()
		}
		return nil
	}

	isTransient := crpt.IsTransient(sendErr)
	maxRetries := submission.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	if isTransient && attemptNumber < maxRetries {
		nextRetryAt := s.now().Add(s.computeRetryDelay(attemptNumber))
		if err := s.submissions.UpdateStatusWithRetry(ctx, submission.ID, domain.StatusQueued, nextRetryAt); err != nil {
			return fmt.Errorf("failed to update submission for retry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncRetryScheduled()
		}
		return nil
	}

	if err := s.submissions.UpdateStatus(ctx, submission.ID, domain.StatusFailed); err != nil {
		return fmt.Errorf("failed to update submission status to failed: %w", err)
	}
	if s.metrics != nil {
		reason := "permanent_error"
		if isTransient {
			reason = "retry_exhausted"
		}
		s.metrics.IncSubmissionFailed(reason)
	}

	return nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *WorkerService) SetGateStats(stats GateStats) {
	if s == nil {
		return
	}
	s.gateStats = stats
}

func (s *WorkerService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func (s *WorkerService) recordAttempt(
	ctx context.Context,
	submissionID string,
	attemptNumber int,
	result *crpt.SubmissionResult,
	sendErr error,
) error {
	var statusCode *int
	var responseBody *string
	var attemptErr *string

	if result != nil {
		if result.StatusCode > 0 {
			value := result.StatusCode
			statusCode = &value
		}
		if body := strings.TrimSpace(result.Body); body != "" {
			value := result.Body
			responseBody = &value
		}
	}

	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value

		var submissionErr *crpt.SubmissionError
		if errors.As(sendErr, &submissionErr) {
			if submissionErr.StatusCode > 0 && statusCode == nil {
				value := submissionErr.StatusCode
				statusCode = &value
			}
			if body := strings.TrimSpace(submissionErr.Body); body != "" && responseBody == nil {
				value := submissionErr.Body
				responseBody = &value
			}
		}
	}

	attempt := &domain.SubmissionAttempt{
		ID:            uuid.NewString(),
		SubmissionID:  submissionID,
		AttemptNumber: attemptNumber,
		StatusCode:    statusCode,
		ResponseBody:  responseBody,
		Error:         attemptErr,
		CreatedAt:     s.now().UTC(),
	}

	return s.attempts.Create(ctx, attempt)
}

func decodeSubmissionPayload(payload string) (*domain.GoodsTurnoverDocument, error) {
	var doc domain.GoodsTurnoverDocument
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode stored document: %w", err)
	}
	return &doc, nil
}
