package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dkovalenko/crpt-relay/internal/domain"
	"github.com/dkovalenko/crpt-relay/internal/queue"
	"github.com/dkovalenko/crpt-relay/internal/repository"
)

const defaultMaxRetries = 5

// SubmissionService accepts documents over the API, persists them, and hands
// them to the work queue for rate-limited delivery.
type SubmissionService struct {
	submissions repository.SubmissionRepository
	attempts    repository.AttemptRepository
	publisher   queue.Publisher
	logger      *zap.Logger
}

// CreateParams carries everything the caller provides for a new submission.
// The document is validated and serialized here; workers never re-validate.
type CreateParams struct {
	Document       *domain.GoodsTurnoverDocument
	Signature      string
	CorrelationID  string
	IdempotencyKey *string
	MaxRetries     int
}

func NewSubmissionService(
	submissions repository.SubmissionRepository,
	attempts repository.AttemptRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*SubmissionService, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SubmissionService{
		submissions: submissions,
		attempts:    attempts,
		publisher:   publisher,
		logger:      logger,
	}, nil
}

func (s *SubmissionService) Create(ctx context.Context, params CreateParams) (*domain.Submission, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	submission, err := prepareSubmissionForCreate(params)
	if err != nil {
		return nil, err
	}

	if err := s.submissions.Create(ctx, submission); err != nil {
		existing, resolved, resolveErr := s.resolveIdempotencyConflict(ctx, err, submission.IdempotencyKey)
		if resolveErr != nil {
			return nil, resolveErr
		}
		if resolved {
			return existing, nil
		}
		return nil, err
	}

	msg := queue.SubmissionMessage{
		SubmissionID:  submission.ID,
		CorrelationID: submission.CorrelationID,
	}
	if err := s.publisher.Publish(ctx, queue.SubmissionsQueue, msg); err != nil {
		s.logger.Error("failed to publish submission",
			zap.String("submissionId", submission.ID),
			zap.Error(err),
		)
		if updateErr := s.submissions.UpdateStatus(ctx, submission.ID, domain.StatusFailed); updateErr != nil {
			s.logger.Error("failed to mark submission as failed after publish error",
				zap.String("submissionId", submission.ID),
				zap.Error(updateErr),
			)
			return nil, fmt.Errorf("failed to publish submission: %w (failed to mark as failed: %v)", err, updateErr)
		}
		submission.Status = domain.StatusFailed
		return nil, fmt.Errorf("failed to publish submission: %w", err)
	}

	if err := s.submissions.UpdateStatus(ctx, submission.ID, domain.StatusQueued); err != nil {
		return nil, fmt.Errorf("failed to update submission status to queued: %w", err)
	}
	submission.Status = domain.StatusQueued

	return submission, nil
}

func (s *SubmissionService) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: submission id is required", domain.ErrValidation)
	}
	return s.submissions.GetByID(ctx, strings.TrimSpace(id))
}

func (s *SubmissionService) GetAttempts(ctx context.Context, submissionID string) ([]domain.SubmissionAttempt, error) {
	if strings.TrimSpace(submissionID) == "" {
		return nil, fmt.Errorf("%w: submission id is required", domain.ErrValidation)
	}
	if s.attempts == nil {
		return nil, nil
	}

	// Missing submission must surface as not-found, not an empty attempt list.
	if _, err := s.submissions.GetByID(ctx, strings.TrimSpace(submissionID)); err != nil {
		return nil, err
	}
	return s.attempts.GetBySubmissionID(ctx, strings.TrimSpace(submissionID))
}

func (s *SubmissionService) Cancel(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: submission id is required", domain.ErrValidation)
	}
	return s.submissions.Cancel(ctx, strings.TrimSpace(id))
}

func (s *SubmissionService) List(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.Submission, int64, error) {
	return s.submissions.List(ctx, params)
}

func prepareSubmissionForCreate(params CreateParams) (*domain.Submission, error) {
	doc := params.Document
	if doc == nil {
		return nil, fmt.Errorf("%w: document is required", domain.ErrValidation)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	signature := strings.TrimSpace(params.Signature)
	if signature == "" {
		return nil, fmt.Errorf("%w: signature is required", domain.ErrValidation)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %q: %w", doc.DocID, err)
	}

	correlationID := strings.TrimSpace(params.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &domain.Submission{
		ID:             uuid.NewString(),
		CorrelationID:  correlationID,
		IdempotencyKey: normalizeOptionalString(params.IdempotencyKey),
		DocID:          strings.TrimSpace(doc.DocID),
		DocType:        doc.DocType,
		Payload:        string(payload),
		Signature:      signature,
		Status:         domain.StatusAccepted,
		AttemptCount:   0,
		MaxRetries:     maxRetries,
	}, nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *SubmissionService) resolveIdempotencyConflict(
	ctx context.Context,
	createErr error,
	idempotencyKey *string,
) (*domain.Submission, bool, error) {
	if idempotencyKey == nil || strings.TrimSpace(*idempotencyKey) == "" {
		return nil, false, nil
	}
	if !isUniqueViolationError(createErr) {
		return nil, false, nil
	}

	existing, err := s.submissions.GetByIdempotencyKey(ctx, strings.TrimSpace(*idempotencyKey))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing submission after idempotency conflict: %w", err)
	}
	s.logger.Info("idempotency conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("idempotencyKey", *idempotencyKey),
	)
	return existing, true, nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
