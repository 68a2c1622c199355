package queue

import (
	"context"
	"strings"
	"testing"
)

func TestSubmissionMessageValidate(t *testing.T) {
	t.Parallel()

	valid := SubmissionMessage{SubmissionID: "s-1", CorrelationID: "c-1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	missing := SubmissionMessage{SubmissionID: "  "}
	err := missing.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing submission id")
	}
	if !strings.Contains(err.Error(), "submissionId") {
		t.Fatalf("Validate() error = %q, want mention of submissionId", err)
	}
}

func TestQueueNames(t *testing.T) {
	t.Parallel()

	if SubmissionsQueue != "submissions" {
		t.Fatalf("SubmissionsQueue = %q, want submissions", SubmissionsQueue)
	}
	if SubmissionsDLQ != "dlq.submissions" {
		t.Fatalf("SubmissionsDLQ = %q, want dlq.submissions", SubmissionsDLQ)
	}
}

func TestPublisherRequiresInitialization(t *testing.T) {
	t.Parallel()

	var p *RabbitMQPublisher
	err := p.Publish(context.Background(), SubmissionsQueue, SubmissionMessage{SubmissionID: "s-1"})
	if err == nil {
		t.Fatal("Publish() on nil publisher expected error")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close() on nil publisher error = %v", err)
	}
}

func TestConsumerArgumentValidation(t *testing.T) {
	t.Parallel()

	c := NewRabbitMQConsumer(&RabbitMQ{url: "amqp://localhost"}, 0, nil)

	if err := c.Consume(context.Background(), "", func(context.Context, SubmissionMessage) error { return nil }); err == nil {
		t.Fatal("Consume() expected error for empty queue name")
	}
	if err := c.Consume(context.Background(), SubmissionsQueue, nil); err == nil {
		t.Fatal("Consume() expected error for nil handler")
	}
}
