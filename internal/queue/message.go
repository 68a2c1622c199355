package queue

import (
	"fmt"
	"strings"
)

// SubmissionMessage is the broker payload for submission processing. The
// document itself stays in the database; the message only references it.
type SubmissionMessage struct {
	SubmissionID  string `json:"submissionId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m SubmissionMessage) Validate() error {
	if strings.TrimSpace(m.SubmissionID) == "" {
		return fmt.Errorf("submissionId is required")
	}
	return nil
}
