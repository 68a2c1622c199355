package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dkovalenko/crpt-relay/internal/domain"
)

type ListParams struct {
	Status   *domain.Status
	DocType  *domain.DocumentType
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type SubmissionRepository interface {
	Create(ctx context.Context, s *domain.Submission) error
	GetByID(ctx context.Context, id string) (*domain.Submission, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Submission, error)
	List(ctx context.Context, params ListParams) ([]domain.Submission, int64, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	UpdateStatusWithRetry(ctx context.Context, id string, status domain.Status, nextRetryAt time.Time) error
	Cancel(ctx context.Context, id string) error
	LockForSending(ctx context.Context, id string) (*domain.Submission, error)
	GetDueForRetry(ctx context.Context, limit int) ([]domain.Submission, error)
	GetStaleSending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Submission, error)
	ClearNextRetryAt(ctx context.Context, id string) error
	SetRegistryDocumentID(ctx context.Context, id string, registryDocID string) error
}

type GormSubmissionRepo struct {
	db *gorm.DB
}

func NewGormSubmissionRepo(db *gorm.DB) *GormSubmissionRepo {
	return &GormSubmissionRepo{db: db}
}

func (r *GormSubmissionRepo) Create(ctx context.Context, s *domain.Submission) error {
	model := submissionModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if s != nil {
		*s = *submissionModelToDomain(model)
	}
	return nil
}

func (r *GormSubmissionRepo) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	var model SubmissionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return submissionModelToDomain(&model), nil
}

func (r *GormSubmissionRepo) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Submission, error) {
	var model SubmissionModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return submissionModelToDomain(&model), nil
}

func (r *GormSubmissionRepo) List(ctx context.Context, params ListParams) ([]domain.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&SubmissionModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.DocType != nil {
		query = query.Where("doc_type = ?", *params.DocType)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []SubmissionModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	submissions := make([]domain.Submission, 0, len(models))
	for i := range models {
		submissions = append(submissions, *submissionModelToDomain(&models[i]))
	}

	return submissions, total, nil
}

func (r *GormSubmissionRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	result := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubmissionRepo) UpdateStatusWithRetry(ctx context.Context, id string, status domain.Status, nextRetryAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        status,
			"next_retry_at": nextRetryAt,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormSubmissionRepo) Cancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusAccepted, domain.StatusQueued}).
		Update("status", domain.StatusCanceled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormSubmissionRepo) LockForSending(ctx context.Context, id string) (*domain.Submission, error) {
	var model SubmissionModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Skip if already in a terminal or sending state
	switch model.Status {
	case domain.StatusCanceled, domain.StatusSent, domain.StatusFailed, domain.StatusSending:
		return nil, nil
	}

	model.Status = domain.StatusSending
	if err := r.db.WithContext(ctx).
		Model(&model).
		Update("status", domain.StatusSending).Error; err != nil {
		return nil, err
	}

	return submissionModelToDomain(&model), nil
}

func (r *GormSubmissionRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Submission, error) {
	if limit < 1 {
		limit = 100
	}

	var models []SubmissionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", domain.StatusQueued, time.Now().UTC()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	submissions := make([]domain.Submission, 0, len(models))
	for i := range models {
		submissions = append(submissions, *submissionModelToDomain(&models[i]))
	}

	return submissions, nil
}

// GetStaleSending returns submissions stuck in SENDING since before cutoff.
// A worker that died between locking and the final status update leaves its
// row in this state; nothing else moves it out.
func (r *GormSubmissionRepo) GetStaleSending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Submission, error) {
	if limit < 1 {
		limit = 100
	}

	var models []SubmissionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.StatusSending, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	submissions := make([]domain.Submission, 0, len(models))
	for i := range models {
		submissions = append(submissions, *submissionModelToDomain(&models[i]))
	}

	return submissions, nil
}

func (r *GormSubmissionRepo) ClearNextRetryAt(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("id = ?", id).
		Update("next_retry_at", nil).Error
}

func (r *GormSubmissionRepo) SetRegistryDocumentID(ctx context.Context, id string, registryDocID string) error {
	result := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("id = ?", id).
		Update("registry_document_id", registryDocID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
