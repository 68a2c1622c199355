// Package crpt submits goods-turnover documents to the Chestny Znak registry
// under a fixed-window call-rate ceiling.
package crpt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/dkovalenko/crpt-relay/internal/domain"
	"github.com/dkovalenko/crpt-relay/internal/ratelimit"
	"github.com/dkovalenko/crpt-relay/internal/registry"
)

const (
	defaultRequestTimeout = 10 * time.Second

	// signatureHeader carries the caller-supplied detached signature. The
	// client forwards it verbatim and never inspects it.
	signatureHeader = "Signature"
)

// MetricsObserver receives the client's timing observations: how long a call
// waited at the admission gate, and how long the registry call itself took.
type MetricsObserver interface {
	ObserveAdmissionWait(time.Duration)
	ObserveSubmissionDuration(time.Duration)
}

// SubmissionResult is the registry's answer to an accepted document.
type SubmissionResult struct {
	StatusCode int
	Body       string
	// RegistryDocumentID is the identifier the registry assigned to the
	// document ("value" in the create response), when present.
	RegistryDocumentID string
}

// Client is a rate-limited registry submission client. Every Submit consumes
// one gate permit before the HTTP call; permits are restored only by the
// gate's window timer, never by call completion.
type Client struct {
	http      *resty.Client
	gate      ratelimit.Gate
	ownedGate *ratelimit.FixedWindowGate
	endpoints *registry.Endpoints
	logger    *zap.Logger
	metrics   MetricsObserver
	now       func() time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the default resty client.
func WithHTTPClient(httpClient *resty.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// WithGate replaces the client-owned fixed-window gate, e.g. with a
// Redis-backed gate shared across relay instances. The caller keeps
// ownership: Close will not stop an injected gate.
func WithGate(gate ratelimit.Gate) Option {
	return func(c *Client) { c.gate = gate }
}

// WithEndpoints overrides the endpoint table, typically to point at a test
// or sandbox registry.
func WithEndpoints(endpoints *registry.Endpoints) Option {
	return func(c *Client) { c.endpoints = endpoints }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics wires timing observations for gate waits and registry calls.
func WithMetrics(metrics MetricsObserver) Option {
	return func(c *Client) { c.metrics = metrics }
}

// NewClient builds a submission client admitting at most requestLimit calls
// per window.
func NewClient(window time.Duration, requestLimit int, opts ...Option) (*Client, error) {
	c := &Client{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.endpoints == nil {
		endpoints, err := registry.NewEndpoints(registry.DefaultBaseURL)
		if err != nil {
			return nil, err
		}
		c.endpoints = endpoints
	}
	if c.http == nil {
		c.http = resty.New()
		c.http.SetTimeout(defaultRequestTimeout)
	}
	if c.http.GetClient().Timeout == 0 {
		c.http.SetTimeout(defaultRequestTimeout)
	}
	// Retry policy belongs to the caller, not this client.
	c.http.SetRetryCount(0)

	if c.gate == nil {
		gate, err := ratelimit.NewFixedWindowGate(window, requestLimit, c.logger)
		if err != nil {
			return nil, err
		}
		c.gate = gate
		c.ownedGate = gate
	}

	return c, nil
}

// Close stops the client-owned gate's replenishment timer. Injected gates
// are left running.
func (c *Client) Close() {
	if c != nil && c.ownedGate != nil {
		c.ownedGate.Stop()
	}
}

// Submit delivers one document to the registry. The call blocks while the
// current window's quota is exhausted; cancellation while waiting consumes no
// permit. Once admitted, the permit is spent regardless of the transport
// outcome.
func (c *Client) Submit(ctx context.Context, doc *domain.GoodsTurnoverDocument, signature string) (*SubmissionResult, error) {
	if c == nil || c.http == nil || c.gate == nil {
		return nil, fmt.Errorf("client is not initialized")
	}
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: signature is required", domain.ErrValidation)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}

	endpointURL, err := c.endpoints.URLFor(doc.DocType)
	if err != nil {
		return nil, err
	}

	waitStart := c.now()
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.ObserveAdmissionWait(c.now().Sub(waitStart))
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %q: %w", doc.DocID, err)
	}

	c.logger.Debug("submitting document",
		zap.String("docId", doc.DocID),
		zap.String("docType", doc.DocType.String()),
		zap.String("url", endpointURL),
		zap.Int("bodyBytes", len(body)),
	)

	callStart := c.now()
	response, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(signatureHeader, signature).
		SetBody(body).
		Post(endpointURL)
	if c.metrics != nil {
		c.metrics.ObserveSubmissionDuration(c.now().Sub(callStart))
	}
	if err != nil {
		return nil, &SubmissionError{
			Message:   "registry request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &SubmissionError{
			Message:   "registry returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SubmissionResult{
			StatusCode:         statusCode,
			Body:               responseBody,
			RegistryDocumentID: registryDocumentID(responseBody),
		}, nil
	}

	return nil, &SubmissionError{
		StatusCode: statusCode,
		Message:    submissionErrorMessage(statusCode, responseBody),
		Body:       responseBody,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func submissionErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("registry returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

// registryDocumentID extracts the assigned document identifier from the
// create response body. A body without it is not an error.
func registryDocumentID(body string) string {
	if body == "" {
		return ""
	}

	var payload struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Value)
}
