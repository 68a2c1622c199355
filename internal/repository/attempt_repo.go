package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/dkovalenko/crpt-relay/internal/domain"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.SubmissionAttempt) error
	GetBySubmissionID(ctx context.Context, submissionID string) ([]domain.SubmissionAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.SubmissionAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetBySubmissionID(ctx context.Context, submissionID string) ([]domain.SubmissionAttempt, error) {
	var models []SubmissionAttemptModel
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.SubmissionAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
