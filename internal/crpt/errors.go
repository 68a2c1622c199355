package crpt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/dkovalenko/crpt-relay/internal/ratelimit"
)

// SubmissionError classifies registry call failures as transient/permanent.
// Transport failures and 5xx/429 responses are transient; everything else is
// permanent. Cancellation of an admission wait is reported separately and
// never carries a SubmissionError.
type SubmissionError struct {
	StatusCode int
	Message    string
	Body       string
	Transient  bool
	Cause      error
}

func (e *SubmissionError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "registry submission error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SubmissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsAdmissionCancelled reports whether the caller was cancelled or timed out
// while waiting at the gate; no permit was consumed in that case.
func IsAdmissionCancelled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ratelimit.ErrGateClosed) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsTransient reports whether an error is worth retrying by an outer caller.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// A stopped gate never reopens; retrying would spin forever.
	if errors.Is(err, ratelimit.ErrGateClosed) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var submissionErr *SubmissionError
	if errors.As(err, &submissionErr) {
		return submissionErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
