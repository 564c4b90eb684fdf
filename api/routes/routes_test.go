package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/inventory-etl/api/handlers"
	"github.com/feichai0017/inventory-etl/api/middleware"
	"github.com/feichai0017/inventory-etl/internal/agent/tabular"
	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/internal/service/etl"
	"github.com/feichai0017/inventory-etl/internal/service/query"
	"github.com/feichai0017/inventory-etl/internal/utils/validator"
	"github.com/feichai0017/inventory-etl/pkg/database/postgres"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

type fakeETL struct {
	submitted *models.SubmitRequest
	submitErr error
	jobs      map[string]*models.Job
	cancel    map[string]bool
	filter    models.JobFilter
	validated *models.RowBatch
	sheets    []string
	sheetsErr error
}

func (f *fakeETL) SubmitJob(ctx context.Context, req *models.SubmitRequest) (*models.Job, error) {
	f.submitted = req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &models.Job{ID: "job-1", Status: models.JobStatusPending, SourceFile: req.Filename}, nil
}

func (f *fakeETL) GetJob(ctx context.Context, id string) (*models.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, etl.ErrJobNotFound
}

func (f *fakeETL) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	f.filter = filter
	return []*models.Job{{ID: "job-1"}}, nil
}

func (f *fakeETL) CancelJob(ctx context.Context, id string) (bool, error) {
	ok, known := f.cancel[id]
	if !known {
		return false, etl.ErrJobNotFound
	}
	return ok, nil
}

func (f *fakeETL) ValidateBatch(batch *models.RowBatch, label string) *models.ValidationResult {
	f.validated = batch
	return &models.ValidationResult{IsValid: true, TotalRecords: batch.Len(), ValidRows: batch.Len()}
}

func (f *fakeETL) ValidateSheets(ctx context.Context, data []byte, filename string, sheetNames []string) (map[string]*models.ValidationResult, error) {
	f.sheets = sheetNames
	if f.sheetsErr != nil {
		return nil, f.sheetsErr
	}
	out := make(map[string]*models.ValidationResult, len(sheetNames))
	for _, name := range sheetNames {
		out[name] = &models.ValidationResult{IsValid: name != "Missing"}
	}
	return out, nil
}

func (f *fakeETL) Inspect(ctx context.Context, data []byte, filename string) ([]models.SheetSummary, error) {
	return []models.SheetSummary{{Name: "Sheet1", RowCount: 1}}, nil
}

type fakeQuery struct {
	err error
}

func (f *fakeQuery) Execute(ctx context.Context, sql string) (*query.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &query.Result{SQL: sql, Columns: []string{"n"}, Rows: []map[string]any{{"n": 1}}, RowCount: 1}, nil
}

func (f *fakeQuery) Ask(ctx context.Context, question string) (*query.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &query.Result{Question: question, SQL: "SELECT 1 LIMIT 1000"}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func newRouter(e *fakeETL, q *fakeQuery, db handlers.Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, handlers.NewHandlers(e, q, db, logger.NewNop()), logger.NewNop())
	return r
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func do(r http.Handler, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestUploadCreatesJob(t *testing.T) {
	e := &fakeETL{}
	r := newRouter(e, &fakeQuery{}, nil)

	body, ct := multipartBody(t, "inventory.csv", []byte("Sku\nTW001\n"), map[string]string{
		"target_date":   "2025-08-28",
		"validate_only": "true",
		"sheet_name":    "Sheet1",
	})
	rec := do(r, http.MethodPost, "/api/v1/etl/upload", body, ct)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
	require.Equal(t, "inventory.csv", e.submitted.Filename)
	require.Equal(t, "2025-08-28", e.submitted.TargetDate)
	require.Equal(t, "Sheet1", e.submitted.SheetName)
	require.True(t, e.submitted.ValidateOnly)
	require.Equal(t, []byte("Sku\nTW001\n"), e.submitted.Data)
}

func TestUploadErrors(t *testing.T) {
	r := newRouter(&fakeETL{}, &fakeQuery{}, nil)
	rec := do(r, http.MethodPost, "/api/v1/etl/upload", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct := multipartBody(t, "a.csv", []byte("x"), map[string]string{"validate_only": "maybe"})
	rec = do(r, http.MethodPost, "/api/v1/etl/upload", body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	r = newRouter(&fakeETL{submitErr: validator.ErrUnsupportedFormat}, &fakeQuery{}, nil)
	body, ct = multipartBody(t, "a.pdf", []byte("%PDF"), nil)
	rec = do(r, http.MethodPost, "/api/v1/etl/upload", body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "unsupported file format", decodeError(t, rec).Error)

	r = newRouter(&fakeETL{submitErr: errors.New("disk full")}, &fakeQuery{}, nil)
	body, ct = multipartBody(t, "a.csv", []byte("x"), nil)
	rec = do(r, http.MethodPost, "/api/v1/etl/upload", body, ct)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetAndCancelJob(t *testing.T) {
	e := &fakeETL{
		jobs:   map[string]*models.Job{"job-1": {ID: "job-1", Status: models.JobStatusCompleted}},
		cancel: map[string]bool{"pending-job": true, "loading-job": false},
	}
	r := newRouter(e, &fakeQuery{}, nil)

	rec := do(r, http.MethodGet, "/api/v1/etl/jobs/job-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"job_id":"job-1"`)

	rec = do(r, http.MethodGet, "/api/v1/etl/jobs/nope", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodPost, "/api/v1/etl/jobs/pending-job/cancel", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodPost, "/api/v1/etl/jobs/loading-job/cancel", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/api/v1/etl/jobs/nope/cancel", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	e := &fakeETL{}
	r := newRouter(e, &fakeQuery{}, nil)

	rec := do(r, http.MethodGet, "/api/v1/etl/jobs?status=failed&limit=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.JobFilter{Status: models.JobStatusFailed, Limit: 5}, e.filter)

	rec = do(r, http.MethodGet, "/api/v1/etl/jobs?limit=abc", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateRecords(t *testing.T) {
	e := &fakeETL{}
	r := newRouter(e, &fakeQuery{}, nil)

	body := bytes.NewBufferString(`{"label":"api","records":[{"Sku":"TW001","Qty":5}]}`)
	rec := do(r, http.MethodPost, "/api/v1/etl/validate", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"Sku", "Qty"}, e.validated.Headers)
	require.Equal(t, "5", e.validated.Rows[0]["Qty"])

	body = bytes.NewBufferString(`{"records":{"Sku":"TW001"}}`)
	rec = do(r, http.MethodPost, "/api/v1/etl/validate", body, "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateSheets(t *testing.T) {
	e := &fakeETL{}
	r := newRouter(e, &fakeQuery{}, nil)

	body, ct := multipartBody(t, "stock.xlsx", []byte("PK"), map[string]string{"sheet_names": "Inventory, Missing"})
	rec := do(r, http.MethodPost, "/api/v1/etl/validate-sheets", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"Inventory", "Missing"}, e.sheets)

	var results map[string]models.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.True(t, results["Inventory"].IsValid)
	require.False(t, results["Missing"].IsValid)

	e = &fakeETL{sheetsErr: fmt.Errorf("stock.csv: %w", tabular.ErrNoData)}
	body, ct = multipartBody(t, "stock.csv", []byte("Sku\n"), nil)
	rec = do(newRouter(e, &fakeQuery{}, nil), http.MethodPost, "/api/v1/etl/validate-sheets", body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, e.sheets)
}

func TestInspect(t *testing.T) {
	r := newRouter(&fakeETL{}, &fakeQuery{}, nil)
	body, ct := multipartBody(t, "inventory.csv", []byte("Sku\nTW001\n"), nil)
	rec := do(r, http.MethodPost, "/api/v1/etl/inspect", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"sheet_name":"Sheet1"`)
}

func TestQueryStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{query.ErrEmptyQuery, http.StatusBadRequest},
		{query.ErrUnsafeQuery, http.StatusForbidden},
		{postgres.ErrStatementTimeout, http.StatusRequestTimeout},
		{query.ErrGeneratorUnavailable, http.StatusServiceUnavailable},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := newRouter(&fakeETL{}, &fakeQuery{err: tc.err}, nil)
		rec := do(r, http.MethodPost, "/api/v1/query/execute", bytes.NewBufferString(`{"sql":"SELECT 1"}`), "application/json")
		require.Equal(t, tc.code, rec.Code, "%v", tc.err)
		if tc.err != nil {
			require.NotEmpty(t, decodeError(t, rec).Message)
		}
	}
}

func TestAsk(t *testing.T) {
	r := newRouter(&fakeETL{}, &fakeQuery{}, nil)

	rec := do(r, http.MethodPost, "/api/v1/query/ask", bytes.NewBufferString(`{"question":"how many?"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"question":"how many?"`)

	rec = do(r, http.MethodPost, "/api/v1/query/ask", bytes.NewBufferString(`{}`), "application/json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := do(newRouter(&fakeETL{}, &fakeQuery{}, fakePinger{}), http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(newRouter(&fakeETL{}, &fakeQuery{}, fakePinger{err: errors.New("down")}), http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
