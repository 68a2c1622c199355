package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dkovalenko/crpt-relay/internal/domain"
	"github.com/dkovalenko/crpt-relay/internal/repository"
	"github.com/dkovalenko/crpt-relay/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type SubmissionService interface {
	Create(ctx context.Context, params service.CreateParams) (*domain.Submission, error)
	GetByID(ctx context.Context, id string) (*domain.Submission, error)
	GetAttempts(ctx context.Context, submissionID string) ([]domain.SubmissionAttempt, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context, params repository.ListParams) ([]domain.Submission, int64, error)
}

type SubmissionHandler struct {
	service SubmissionService
}

func NewSubmissionHandler(service SubmissionService) (*SubmissionHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("submission service is required")
	}
	return &SubmissionHandler{service: service}, nil
}

func RegisterSubmissionRoutes(router fiber.Router, service SubmissionService) error {
	h, err := NewSubmissionHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/submissions", h.CreateSubmission)
	v1.Get("/submissions/:id", h.GetSubmission)
	v1.Get("/submissions/:id/attempts", h.GetSubmissionAttempts)
	v1.Post("/submissions/:id/cancel", h.CancelSubmission)
	v1.Get("/submissions", h.ListSubmissions)

	return nil
}

type createSubmissionRequest struct {
	CorrelationID  string                        `json:"correlationId"`
	IdempotencyKey *string                       `json:"idempotencyKey"`
	Signature      string                        `json:"signature"`
	MaxRetries     *int                          `json:"maxRetries,omitempty"`
	Document       *domain.GoodsTurnoverDocument `json:"document"`
}

type submissionResponse struct {
	ID                 string     `json:"id"`
	CorrelationID      string     `json:"correlationId"`
	IdempotencyKey     *string    `json:"idempotencyKey,omitempty"`
	DocID              string     `json:"docId"`
	DocType            string     `json:"docType"`
	Status             string     `json:"status"`
	RegistryDocumentID *string    `json:"registryDocumentId,omitempty"`
	AttemptCount       int        `json:"attemptCount"`
	MaxRetries         int        `json:"maxRetries"`
	NextRetryAt        *time.Time `json:"nextRetryAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt,omitempty"`
}

type listSubmissionsResponse struct {
	Data []submissionResponse `json:"data"`
	Meta listMeta             `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type attemptResponse struct {
	ID            string    `json:"id"`
	AttemptNumber int       `json:"attemptNumber"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	ResponseBody  *string   `json:"responseBody,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (h *SubmissionHandler) CreateSubmission(c *fiber.Ctx) error {
	var req createSubmissionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if req.Document == nil {
		return toHTTPError(fmt.Errorf("%w: document is required", domain.ErrValidation))
	}
	if strings.TrimSpace(req.Signature) == "" {
		return toHTTPError(fmt.Errorf("%w: signature is required", domain.ErrValidation))
	}

	params := service.CreateParams{
		Document:       req.Document,
		Signature:      strings.TrimSpace(req.Signature),
		CorrelationID:  strings.TrimSpace(req.CorrelationID),
		IdempotencyKey: req.IdempotencyKey,
	}
	if params.CorrelationID == "" {
		params.CorrelationID = requestCorrelationID(c)
	}
	if req.MaxRetries != nil {
		params.MaxRetries = *req.MaxRetries
	}

	created, err := h.service.Create(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toSubmissionResponse(created))
}

func (h *SubmissionHandler) GetSubmission(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	submission, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSubmissionResponse(submission))
}

func (h *SubmissionHandler) GetSubmissionAttempts(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempts, err := h.service.GetAttempts(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]attemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		items = append(items, attemptResponse{
			ID:            attempt.ID,
			AttemptNumber: attempt.AttemptNumber,
			StatusCode:    attempt.StatusCode,
			ResponseBody:  attempt.ResponseBody,
			Error:         attempt.Error,
			CreatedAt:     attempt.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"submissionId": id,
		"attempts":     items,
	})
}

func (h *SubmissionHandler) CancelSubmission(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"submissionId": id,
		"status":       domain.StatusCanceled.String(),
	})
}

func (h *SubmissionHandler) ListSubmissions(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	submissions, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listSubmissionsResponse{
		Data: toSubmissionResponses(submissions),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawDocType := strings.TrimSpace(c.Query("docType")); rawDocType != "" {
		docType, err := domain.ParseDocumentTypeFromString(rawDocType)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.DocType = &docType
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toSubmissionResponses(submissions []domain.Submission) []submissionResponse {
	responses := make([]submissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		s := submission
		responses = append(responses, toSubmissionResponse(&s))
	}
	return responses
}

func toSubmissionResponse(s *domain.Submission) submissionResponse {
	if s == nil {
		return submissionResponse{}
	}

	return submissionResponse{
		ID:                 s.ID,
		CorrelationID:      s.CorrelationID,
		IdempotencyKey:     s.IdempotencyKey,
		DocID:              s.DocID,
		DocType:            s.DocType.String(),
		Status:             s.Status.String(),
		RegistryDocumentID: s.RegistryDocumentID,
		AttemptCount:       s.AttemptCount,
		MaxRetries:         s.MaxRetries,
		NextRetryAt:        s.NextRetryAt,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
