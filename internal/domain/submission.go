package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a submission.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusQueued   Status = "QUEUED"
	StatusSending  Status = "SENDING"
	StatusSent     Status = "SENT"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusAccepted, StatusQueued, StatusSending, StatusSent, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Submission is one document handed to the relay for delivery to the registry.
// Payload holds the already-validated document serialized to JSON; Signature
// is the detached cryptographic signature forwarded as a request credential,
// never inspected locally.
type Submission struct {
	ID                 string
	CorrelationID      string
	IdempotencyKey     *string
	DocID              string
	DocType            DocumentType
	Payload            string
	Signature          string
	Status             Status
	RegistryDocumentID *string
	AttemptCount       int
	MaxRetries         int
	NextRetryAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (s *Submission) Validate() error {
	if strings.TrimSpace(s.DocID) == "" {
		return fmt.Errorf("%w: doc id is required", ErrValidation)
	}
	if !s.DocType.IsValid() {
		return fmt.Errorf("%w: invalid document type %q", ErrValidation, s.DocType)
	}
	if strings.TrimSpace(s.Payload) == "" {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if strings.TrimSpace(s.Signature) == "" {
		return fmt.Errorf("%w: signature is required", ErrValidation)
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, s.Status)
	}
	return nil
}
