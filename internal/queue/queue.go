package queue

import "context"

const (
	// SubmissionsQueue is the durable work queue feeding the relay workers.
	SubmissionsQueue = "submissions"
	// SubmissionsDLQ receives messages rejected as unprocessable.
	SubmissionsDLQ = "dlq.submissions"
)

// Publisher publishes submission messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg SubmissionMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg SubmissionMessage) error

// Consumer consumes submission messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
