package repository

import (
	"time"

	"github.com/dkovalenko/crpt-relay/internal/domain"
)

// SubmissionModel is the persistence model for the submissions table.
type SubmissionModel struct {
	ID                 string              `gorm:"type:uuid;primaryKey"`
	CorrelationID      string              `gorm:"type:varchar(36);not null"`
	IdempotencyKey     *string             `gorm:"type:varchar(255)"`
	DocID              string              `gorm:"type:varchar(255);not null"`
	DocType            domain.DocumentType `gorm:"type:varchar(40);not null"`
	Payload            string              `gorm:"type:text;not null"`
	Signature          string              `gorm:"type:text;not null"`
	Status             domain.Status       `gorm:"type:varchar(20);not null"`
	RegistryDocumentID *string             `gorm:"type:varchar(255)"`
	AttemptCount       int                 `gorm:"not null;default:0"`
	MaxRetries         int                 `gorm:"not null;default:5"`
	NextRetryAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (SubmissionModel) TableName() string {
	return "submissions"
}

// SubmissionAttemptModel is the persistence model for submission_attempts.
type SubmissionAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	SubmissionID  string  `gorm:"type:uuid;not null"`
	AttemptNumber int     `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	ResponseBody  *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (SubmissionAttemptModel) TableName() string {
	return "submission_attempts"
}

func submissionModelFromDomain(s *domain.Submission) *SubmissionModel {
	if s == nil {
		return nil
	}

	return &SubmissionModel{
		ID:                 s.ID,
		CorrelationID:      s.CorrelationID,
		IdempotencyKey:     s.IdempotencyKey,
		DocID:              s.DocID,
		DocType:            s.DocType,
		Payload:            s.Payload,
		Signature:          s.Signature,
		Status:             s.Status,
		RegistryDocumentID: s.RegistryDocumentID,
		AttemptCount:       s.AttemptCount,
		MaxRetries:         s.MaxRetries,
		NextRetryAt:        s.NextRetryAt,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func submissionModelToDomain(m *SubmissionModel) *domain.Submission {
	if m == nil {
		return nil
	}

	return &domain.Submission{
		ID:                 m.ID,
		CorrelationID:      m.CorrelationID,
		IdempotencyKey:     m.IdempotencyKey,
		DocID:              m.DocID,
		DocType:            m.DocType,
		Payload:            m.Payload,
		Signature:          m.Signature,
		Status:             m.Status,
		RegistryDocumentID: m.RegistryDocumentID,
		AttemptCount:       m.AttemptCount,
		MaxRetries:         m.MaxRetries,
		NextRetryAt:        m.NextRetryAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.SubmissionAttempt) *SubmissionAttemptModel {
	if a == nil {
		return nil
	}

	return &SubmissionAttemptModel{
		ID:            a.ID,
		SubmissionID:  a.SubmissionID,
		AttemptNumber: a.AttemptNumber,
		StatusCode:    a.StatusCode,
		ResponseBody:  a.ResponseBody,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *SubmissionAttemptModel) *domain.SubmissionAttempt {
	if m == nil {
		return nil
	}

	return &domain.SubmissionAttempt{
		ID:            m.ID,
		SubmissionID:  m.SubmissionID,
		AttemptNumber: m.AttemptNumber,
		StatusCode:    m.StatusCode,
		ResponseBody:  m.ResponseBody,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}
