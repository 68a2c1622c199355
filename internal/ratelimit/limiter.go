package ratelimit

import "context"

// Gate bounds aggregate outbound call throughput over a repeating time
// window. Acquire blocks the caller while the current window's quota is
// exhausted and returns once a permit is obtained or ctx is done.
type Gate interface {
	Acquire(ctx context.Context) error
}
