package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dkovalenko/crpt-relay/internal/domain"
	"github.com/dkovalenko/crpt-relay/internal/repository"
	"github.com/dkovalenko/crpt-relay/internal/service"
	"github.com/dkovalenko/crpt-relay/internal/transport"
)

const validDocumentJSON = `{
	"doc_id": "doc-1",
	"doc_status": "DRAFT",
	"doc_type": "LP_INTRODUCE_GOODS",
	"importRequest": false,
	"owner_inn": "7712345678",
	"participant_inn": "7712345678",
	"producer_inn": "7712345678",
	"production_date": "2024-03-15",
	"production_type": "OWN_PRODUCTION",
	"products": [
		{
			"owner_inn": "7712345678",
			"producer_inn": "7712345678",
			"tnved_code": "6401100000",
			"uit_code": "010460406000600021N4N57RSCBUZTQ"
		}
	],
	"reg_date": "2024-03-15"
}`

func TestSubmissionIntegration_CreateSubmission(t *testing.T) {
	t.Parallel()

	svc := &stubSubmissionService{
		createFn: func(ctx context.Context, params service.CreateParams) (*domain.Submission, error) {
			if err := params.Document.Validate(); err != nil {
				return nil, err
			}
			if params.Signature != "c2lnbmF0dXJl" {
				t.Fatalf("signature = %q, want c2lnbmF0dXJl", params.Signature)
			}
			return &domain.Submission{
				ID:            "s-created",
				CorrelationID: "corr-1",
				DocID:         params.Document.DocID,
				DocType:       params.Document.DocType,
				Status:        domain.StatusQueued,
				MaxRetries:    5,
			}, nil
		},
	}

	app := newSubmissionTestApp(t, svc)

	validBody := `{"signature":"c2lnbmF0dXJl","document":` + validDocumentJSON + `}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/submissions", validBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["id"] != "s-created" {
		t.Fatalf("id = %v, want s-created", accepted["id"])
	}
	if accepted["status"] != domain.StatusQueued.String() {
		t.Fatalf("status = %v, want %s", accepted["status"], domain.StatusQueued.String())
	}

	missingSignatureBody := `{"document":` + validDocumentJSON + `}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/submissions", missingSignatureBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing signature", resp.StatusCode)
	}

	missingDocumentBody := `{"signature":"c2lnbmF0dXJl"}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/submissions", missingDocumentBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing document", resp.StatusCode)
	}

	invalidINNBody := strings.Replace(
		`{"signature":"c2lnbmF0dXJl","document":`+validDocumentJSON+`}`,
		`"owner_inn": "7712345678"`,
		`"owner_inn": "123"`,
		1,
	)
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/submissions", invalidINNBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid inn", resp.StatusCode)
	}
}

func TestSubmissionIntegration_GetSubmission(t *testing.T) {
	t.Parallel()

	svc := &stubSubmissionService{
		getByIDFn: func(ctx context.Context, id string) (*domain.Submission, error) {
			if id == "s-found" {
				registryID := "registry-1"
				return &domain.Submission{
					ID:                 "s-found",
					CorrelationID:      "corr-1",
					DocID:              "doc-1",
					DocType:            domain.DocTypeGoodsTurnover,
					Status:             domain.StatusSent,
					RegistryDocumentID: &registryID,
					MaxRetries:         5,
				}, nil
			}
			return nil, domain.ErrNotFound
		},
	}

	app := newSubmissionTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/submissions/s-found", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["registryDocumentId"] != "registry-1" {
		t.Fatalf("registryDocumentId = %v, want registry-1", parsed["registryDocumentId"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/submissions/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmissionIntegration_GetSubmissionAttempts(t *testing.T) {
	t.Parallel()

	statusCode := 500
	svc := &stubSubmissionService{
		getAttemptsFn: func(ctx context.Context, submissionID string) ([]domain.SubmissionAttempt, error) {
			if submissionID != "s-attempted" {
				return nil, domain.ErrNotFound
			}
			return []domain.SubmissionAttempt{
				{ID: "a1", SubmissionID: "s-attempted", AttemptNumber: 1, StatusCode: &statusCode},
			}, nil
		},
	}

	app := newSubmissionTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/submissions/s-attempted/attempts", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		SubmissionID string           `json:"submissionId"`
		Attempts     []map[string]any `json:"attempts"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Attempts) != 1 {
		t.Fatalf("attempts len = %d, want 1", len(parsed.Attempts))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/submissions/missing/attempts", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmissionIntegration_CancelSubmission(t *testing.T) {
	t.Parallel()

	svc := &stubSubmissionService{
		cancelFn: func(ctx context.Context, id string) error {
			if id == "s-cancelable" {
				return nil
			}
			return domain.ErrConflict
		},
	}

	app := newSubmissionTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/submissions/s-cancelable/cancel", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/submissions/s-locked/cancel", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSubmissionIntegration_ListSubmissionsPaginationAndFilters(t *testing.T) {
	t.Parallel()

	fromExpected, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")
	toExpected, _ := time.Parse(time.RFC3339, "2026-01-31T23:59:59Z")

	svc := &stubSubmissionService{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.Submission, int64, error) {
			if params.Page != 2 {
				t.Fatalf("page = %d, want 2", params.Page)
			}
			if params.PageSize != 10 {
				t.Fatalf("pageSize = %d, want 10", params.PageSize)
			}
			if params.Status == nil || *params.Status != domain.StatusQueued {
				t.Fatalf("status filter = %v, want QUEUED", params.Status)
			}
			if params.DocType == nil || *params.DocType != domain.DocTypeGoodsTurnover {
				t.Fatalf("docType filter = %v, want LP_INTRODUCE_GOODS", params.DocType)
			}
			if params.From == nil || !params.From.Equal(fromExpected) {
				t.Fatalf("from = %v, want %v", params.From, fromExpected)
			}
			if params.To == nil || !params.To.Equal(toExpected) {
				t.Fatalf("to = %v, want %v", params.To, toExpected)
			}

			return []domain.Submission{
				{
					ID:            "s-list-1",
					CorrelationID: "corr-list",
					DocID:         "doc-1",
					DocType:       domain.DocTypeGoodsTurnover,
					Status:        domain.StatusQueued,
					MaxRetries:    5,
				},
			}, 1, nil
		},
	}

	app := newSubmissionTestApp(t, svc)

	path := "/v1/submissions?page=2&pageSize=10&status=queued&docType=lp_introduce_goods&from=2026-01-01T00:00:00Z&to=2026-01-31T23:59:59Z"
	resp, body := performRequest(t, app, http.MethodGet, path, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Page     int   `json:"page"`
			PageSize int   `json:"pageSize"`
			Total    int64 `json:"total"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}

	if parsed.Meta.Page != 2 || parsed.Meta.PageSize != 10 || parsed.Meta.Total != 1 {
		t.Fatalf("meta = %+v, want page=2,pageSize=10,total=1", parsed.Meta)
	}
	if len(parsed.Data) != 1 {
		t.Fatalf("data len = %d, want 1", len(parsed.Data))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/submissions?pageSize=500", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized pageSize", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/submissions?status=bogus", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown status", resp.StatusCode)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz skips redis when gate is local", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, nil)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
		if strings.Contains(string(body), "redis") {
			t.Fatalf("readyz body should not mention redis without a client, body=%s", string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

type stubSubmissionService struct {
	createFn      func(ctx context.Context, params service.CreateParams) (*domain.Submission, error)
	getByIDFn     func(ctx context.Context, id string) (*domain.Submission, error)
	getAttemptsFn func(ctx context.Context, submissionID string) ([]domain.SubmissionAttempt, error)
	cancelFn      func(ctx context.Context, id string) error
	listFn        func(ctx context.Context, params repository.ListParams) ([]domain.Submission, int64, error)
}

func (s *stubSubmissionService) Create(ctx context.Context, params service.CreateParams) (*domain.Submission, error) {
	if s.createFn != nil {
		return s.createFn(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (s *stubSubmissionService) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubSubmissionService) GetAttempts(ctx context.Context, submissionID string) ([]domain.SubmissionAttempt, error) {
	if s.getAttemptsFn != nil {
		return s.getAttemptsFn(ctx, submissionID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubSubmissionService) Cancel(ctx context.Context, id string) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id)
	}
	return nil
}

func (s *stubSubmissionService) List(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.Submission, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

func newSubmissionTestApp(t *testing.T, svc SubmissionService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterSubmissionRoutes(app, svc); err != nil {
		t.Fatalf("RegisterSubmissionRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
