package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/auth"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/documents"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/eligibility"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/generation"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/jobs"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/pdf"
)

var created = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeGenerations struct {
	submitReq jobs.SubmitRequest
	submitErr error
	views     map[string]*jobs.StatusView
	history   jobs.HistoryQuery
	results   map[string]*jobs.Result
}

func (f *fakeGenerations) Submit(_ context.Context, req jobs.SubmitRequest) (*jobs.SubmitResult, error) {
	f.submitReq = req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &jobs.SubmitResult{JobID: "job-1", Status: jobs.StatusPending, CreatedAt: created, CreditsRemaining: 2}, nil
}

func (f *fakeGenerations) GetStatus(_ context.Context, jobID, userID string) (*jobs.StatusView, error) {
	view, ok := f.views[jobID]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	if userID != "alice" {
		return nil, jobs.ErrForbidden
	}
	return view, nil
}

func (f *fakeGenerations) ListHistory(_ context.Context, _ string, q jobs.HistoryQuery) (*jobs.HistoryPage, error) {
	f.history = q
	if q.Status == "bogus" {
		return nil, jobs.ErrInvalidInput
	}
	return &jobs.HistoryPage{
		Jobs:       []jobs.HistoryItem{{JobID: "job-1", Status: jobs.StatusPending, CreatedAt: created, UpdatedAt: created}},
		NextCursor: "next",
	}, nil
}

func (f *fakeGenerations) ReadResult(_ context.Context, jobID, _ string) (*jobs.Result, error) {
	res, ok := f.results[jobID]
	if !ok {
		return nil, jobs.ErrResultNotReady
	}
	return res, nil
}

type fakeDocuments struct {
	got    []byte
	err    error
	stored []*documents.Document
}

func (f *fakeDocuments) List(_ context.Context, userID string) ([]*documents.Document, error) {
	var out []*documents.Document
	for _, doc := range f.stored {
		if doc.UserID == userID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeDocuments) Get(_ context.Context, userID, fileID string) (*documents.Document, error) {
	for _, doc := range f.stored {
		if doc.FileID != fileID {
			continue
		}
		if doc.UserID != userID {
			return nil, documents.ErrForbidden
		}
		return doc, nil
	}
	return nil, documents.ErrNotFound
}

func (f *fakeDocuments) Upload(_ context.Context, userID, filename string, data []byte) (*documents.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = data
	return &documents.Document{FileID: "file-1", UserID: userID, Filename: filename, Size: int64(len(data)), Pages: 1}, nil
}

type fakeCredits map[string]int

func (f fakeCredits) Balance(_ context.Context, userID string) (int, error) {
	return f[userID], nil
}

func newRouter(user string, gens *fakeGenerations, docs *fakeDocuments) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger(zerolog.Nop()))
	router.Use(func(c *gin.Context) {
		if user != "" {
			c.Set(auth.ContextUserKey, user)
		}
		c.Next()
	})
	opts := HandlerOptions{ResultBaseURL: "https://app.example.com/", MaxUploadBytes: 1024}
	router.POST("/api/generations", SubmitHandler(gens))
	router.GET("/api/generations", HistoryHandler(gens))
	router.GET("/api/generations/:id", StatusHandler(gens, opts))
	router.GET("/api/generations/:id/result", ResultHandler(gens))
	router.POST("/api/documents", UploadHandler(docs, opts))
	router.GET("/api/documents", ListDocumentsHandler(docs))
	router.GET("/api/documents/:id", DocumentHandler(docs))
	router.GET("/api/credits", CreditsHandler(fakeCredits{"alice": 2}))
	return router
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSubmitHandlerAccepts(t *testing.T) {
	gens := &fakeGenerations{}
	router := newRouter("alice", gens, &fakeDocuments{})

	req := httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(`{"fileId":"f1","jobDescription":"Go engineer","temperature":0.9}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(router, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "job-1", body["jobId"])
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, float64(2), body["creditsRemaining"])
	assert.Equal(t, "/api/generations/job-1", rec.Header().Get("Location"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	assert.Equal(t, "alice", gens.submitReq.UserID)
	assert.Equal(t, "f1", gens.submitReq.SourceFileID)
	require.NotNil(t, gens.submitReq.Temperature)
	assert.InDelta(t, 0.9, *gens.submitReq.Temperature, 1e-6)
}

func TestSubmitHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not owned", eligibility.ErrNotOwned, http.StatusForbidden, "FORBIDDEN"},
		{"quota", eligibility.ErrQuotaExhausted, http.StatusPaymentRequired, "QUOTA_EXHAUSTED"},
		{"invalid", jobs.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
		{"dispatch", &jobs.DispatchError{JobID: "job-9", Err: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable, "DISPATCH_FAILED"},
		{"canceled", context.Canceled, http.StatusRequestTimeout, "REQUEST_CANCELED"},
		{"internal", errors.New("redis: pool exhausted"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter("alice", &fakeGenerations{submitErr: tc.err}, &fakeDocuments{})
			req := httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(`{"fileId":"f1","jobDescription":"x"}`))
			req.Header.Set("Content-Type", "application/json")
			rec := serve(router, req)

			assert.Equal(t, tc.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tc.code, body["code"])
			assert.NotContains(t, rec.Body.String(), "redis")
			assert.NotContains(t, rec.Body.String(), "dial tcp")
		})
	}
}

func TestSubmitHandlerDispatchFailureCarriesJobID(t *testing.T) {
	router := newRouter("alice", &fakeGenerations{submitErr: &jobs.DispatchError{JobID: "job-9", Err: errors.New("x")}}, &fakeDocuments{})
	req := httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(`{"fileId":"f1","jobDescription":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(router, req)

	assert.Equal(t, "job-9", decodeBody(t, rec)["jobId"])
}

func TestSubmitHandlerRejectsBadBodyAndAnonymous(t *testing.T) {
	router := newRouter("alice", &fakeGenerations{}, &fakeDocuments{})
	req := httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(`{"fileId":""}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, serve(router, req).Code)

	anon := newRouter("", &fakeGenerations{}, &fakeDocuments{})
	req = httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(`{"fileId":"f","jobDescription":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, serve(anon, req).Code)
}

func TestStatusHandler(t *testing.T) {
	gens := &fakeGenerations{views: map[string]*jobs.StatusView{
		"done": {JobID: "done", Status: jobs.StatusCompleted, ResultLocation: "gs://b/generations/done/result.json", CreatedAt: created, UpdatedAt: created},
		"bad":  {JobID: "bad", Status: jobs.StatusFailed, ErrorDetail: jobs.CategoryTimeout, CreatedAt: created, UpdatedAt: created},
		"wait": {JobID: "wait", Status: jobs.StatusPending, CreatedAt: created, UpdatedAt: created},
	}}
	router := newRouter("alice", gens, &fakeDocuments{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/generations/done", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, "https://app.example.com/api/generations/done/result", body["downloadUrl"])
	assert.NotContains(t, body, "errorDetail")

	body = decodeBody(t, serve(router, httptest.NewRequest(http.MethodGet, "/api/generations/bad", nil)))
	assert.Equal(t, "TIMEOUT", body["errorDetail"])
	assert.NotContains(t, body, "resultLocation")

	body = decodeBody(t, serve(router, httptest.NewRequest(http.MethodGet, "/api/generations/wait", nil)))
	assert.NotContains(t, body, "resultLocation")
	assert.NotContains(t, body, "errorDetail")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/generations/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeBody(t, rec)["code"])

	other := newRouter("mallory", gens, &fakeDocuments{})
	rec = serve(other, httptest.NewRequest(http.MethodGet, "/api/generations/done", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "gs://")
}

func TestHistoryHandler(t *testing.T) {
	gens := &fakeGenerations{}
	router := newRouter("alice", gens, &fakeDocuments{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/generations?limit=5&cursor=abc&status=PENDING", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobs.HistoryQuery{Cursor: "abc", Limit: 5, Status: "PENDING"}, gens.history)
	body := decodeBody(t, rec)
	assert.Equal(t, "next", body["nextCursor"])
	assert.Len(t, body["jobs"], 1)

	assert.Equal(t, http.StatusBadRequest, serve(router, httptest.NewRequest(http.MethodGet, "/api/generations?limit=abc", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, httptest.NewRequest(http.MethodGet, "/api/generations?status=bogus", nil)).Code)
}

func TestResultHandler(t *testing.T) {
	gens := &fakeGenerations{results: map[string]*jobs.Result{
		"done": {JobID: "done", Artifact: &generation.Artifact{
			Documents: generation.Documents{TailoredResume: "R", CoverLetter: "C"},
			Model:     "gemini-test",
		}},
	}}
	router := newRouter("alice", gens, &fakeDocuments{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/generations/done/result", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", rec.Header().Get("X-Job-Id"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "done.json")
	body := decodeBody(t, rec)
	assert.Equal(t, "R", body["tailoredResume"])
	assert.Equal(t, "C", body["coverLetter"])

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/generations/pending/result", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func multipartUpload(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadHandler(t *testing.T) {
	docs := &fakeDocuments{}
	router := newRouter("alice", &fakeGenerations{}, docs)

	rec := serve(router, multipartUpload(t, "file", "resume.pdf", []byte("%PDF-1.4 body")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "file-1", decodeBody(t, rec)["fileId"])
	assert.Equal(t, []byte("%PDF-1.4 body"), docs.got)

	rec = serve(router, multipartUpload(t, "other", "resume.pdf", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, multipartUpload(t, "file", "big.pdf", bytes.Repeat([]byte("a"), 2048)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadHandlerReportsInspectionErrors(t *testing.T) {
	_, inspectErr := pdf.Inspect([]byte("plain text"), pdf.Limits{})
	require.Error(t, inspectErr)

	router := newRouter("alice", &fakeGenerations{}, &fakeDocuments{err: inspectErr})
	rec := serve(router, multipartUpload(t, "file", "notes.txt", []byte("plain text")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["code"])
}

func TestDocumentHandlers(t *testing.T) {
	docs := &fakeDocuments{stored: []*documents.Document{
		{FileID: "file-2", UserID: "alice", Filename: "new.pdf", Size: 20, Pages: 2, CreatedAt: created.Add(time.Hour)},
		{FileID: "file-1", UserID: "alice", Filename: "old.pdf", Size: 10, Pages: 1, CreatedAt: created},
		{FileID: "file-9", UserID: "bob", Filename: "bob.pdf", CreatedAt: created},
	}}
	router := newRouter("alice", &fakeGenerations{}, docs)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Documents []documentView `json:"documents"`
		Count     int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Documents, 2)
	assert.Equal(t, "file-2", list.Documents[0].FileID)
	assert.Equal(t, "new.pdf", list.Documents[0].Filename)
	assert.True(t, list.Documents[1].UploadedAt.Equal(created))
	assert.NotContains(t, rec.Body.String(), "bob.pdf")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/documents/file-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "old.pdf", decodeBody(t, rec)["filename"])

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/documents/file-9", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeBody(t, rec)["code"])
	assert.NotContains(t, rec.Body.String(), "bob.pdf")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/documents/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DOCUMENT_NOT_FOUND", decodeBody(t, rec)["code"])

	anonymous := newRouter("", &fakeGenerations{}, docs)
	rec = serve(anonymous, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreditsHandler(t *testing.T) {
	router := newRouter("alice", &fakeGenerations{}, &fakeDocuments{})
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/credits", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"creditsRemaining":2}`, rec.Body.String())
}

func TestRequestLoggerKeepsValidRequestID(t *testing.T) {
	router := newRouter("alice", &fakeGenerations{}, &fakeDocuments{})
	req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
	req.Header.Set(RequestIDHeader, "7f1f6b1e-6a43-4a8e-9a43-0c6c1f1b2d3e")
	rec := serve(router, req)
	assert.Equal(t, "7f1f6b1e-6a43-4a8e-9a43-0c6c1f1b2d3e", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/api/credits", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid\n")
	rec = serve(router, req)
	assert.NotEqual(t, "not-a-uuid\n", rec.Header().Get(RequestIDHeader))
}
