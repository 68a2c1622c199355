package domain

import "time"

// SubmissionAttempt records a single delivery attempt against the registry.
type SubmissionAttempt struct {
	ID            string
	SubmissionID  string
	AttemptNumber int
	StatusCode    *int
	ResponseBody  *string
	Error         *string
	CreatedAt     time.Time
}
