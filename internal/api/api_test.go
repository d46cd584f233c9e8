package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/api"
	"github.com/dataflowslab/core.rompharm-sub001/internal/artifact"
	"github.com/dataflowslab/core.rompharm-sub001/internal/auth"
	"github.com/dataflowslab/core.rompharm-sub001/internal/config"
	"github.com/dataflowslab/core.rompharm-sub001/internal/database"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/event"
	"github.com/dataflowslab/core.rompharm-sub001/internal/job"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/dataflowslab/core.rompharm-sub001/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RateLimit.RPS = 0
	return cfg
}

// workerDirectory 固定的 worker 名单
type workerDirectory map[string]bool

func (w workerDirectory) Matches(_ context.Context, identity domain.Identity, spec domain.OfficerSpec) (bool, error) {
	return spec == domain.Role("generation-worker") && w[identity.ID], nil
}

func jobRouter(t *testing.T) *gin.Engine {
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)
	orch := job.NewOrchestrator(repository.NewJobRepository(db), store)
	audit := service.NewAuditLogService(repository.NewAuditLogRepository(db))

	return api.SetupRoutes(api.RouterDeps{
		Config:     testConfig(),
		DB:         db,
		Logger:     quietLogger(),
		JobService: service.NewJobService(orch, workerDirectory{"worker-1": true}, "generation-worker", audit, quietLogger()),
	})
}

type envelope struct {
	Code    int             `json:"code"`
	Reason  string          `json:"reason"`
	Message string          `json:"message"`
	Notice  string          `json:"notice"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, router http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if req.Header.Get(auth.HeaderUserID) == "" {
		req.Header.Set(auth.HeaderUserID, "worker-1")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestStatusFor(t *testing.T) {
	cases := map[domain.Code]int{
		domain.CodeNotAuthorized:     http.StatusForbidden,
		domain.CodeAlreadySigned:     http.StatusConflict,
		domain.CodeNotReady:          http.StatusConflict,
		domain.CodeInvalidTransition: http.StatusConflict,
		domain.CodeNotConfigured:     http.StatusOK,
		domain.CodeNotFound:          http.StatusNotFound,
		domain.CodeGenerationFailed:  http.StatusUnprocessableEntity,
		domain.CodeInvalidArgument:   http.StatusBadRequest,
		domain.Code("SOMETHING_ELSE"): http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, api.StatusFor(code), code)
	}
}

func TestRespondError(t *testing.T) {
	router := gin.New()
	router.Use(api.I18nMiddleware())
	router.GET("/not-configured", func(c *gin.Context) {
		api.RespondError(c, domain.ErrNotConfigured)
	})
	router.GET("/wrapped", func(c *gin.Context) {
		api.RespondError(c, domain.WrapError(domain.CodeNotFound, "flow not found", errors.New("record not found")))
	})
	router.GET("/internal", func(c *gin.Context) {
		api.RespondError(c, errors.New("boom"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/not-configured", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":0,"message":"success","data":{"configured":false}}`, w.Body.String())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wrapped", nil)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "NOT_FOUND", env.Reason)
	assert.NotEmpty(t, env.Notice)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func completeRequest(t *testing.T, jobID, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+jobID+"/complete", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestJobs_WorkerLifecycle(t *testing.T) {
	router := jobRouter(t)

	w, env := do(t, router, jsonRequest(http.MethodPost, "/api/v1/jobs", map[string]string{
		"entity_id": "PO-7", "template_code": "coa", "template_name": "Certificate",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var queued domain.GenerationJob
	require.NoError(t, json.Unmarshal(env.Data, &queued))
	assert.Equal(t, domain.JobStatusQueued, queued.Status)
	assert.Equal(t, 1, queued.Version)

	// 未完成时下载
	w, env = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+queued.ID+"/download", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NOT_READY", env.Reason)

	w, _ = do(t, router, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+queued.ID+"/claim", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, router, completeRequest(t, queued.ID, "coa.pdf", "%PDF-1.7"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var done domain.GenerationJob
	require.NoError(t, json.Unmarshal(env.Data, &done))
	assert.Equal(t, domain.JobStatusDone, done.Status)
	assert.Equal(t, "coa.pdf", done.Filename)

	w, _ = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+queued.ID+"/download", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.7", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="coa.pdf"`)

	// 终态不可再变更
	w, env = do(t, router, jsonRequest(http.MethodPost, "/api/v1/jobs/"+queued.ID+"/fail", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", env.Reason)

	w, env = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/current?entity_id=PO-7&template_code=coa", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var current domain.GenerationJob
	require.NoError(t, json.Unmarshal(env.Data, &current))
	assert.Equal(t, queued.ID, current.ID)

	w, _ = do(t, router, asAdministrator(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+queued.ID, nil)))
	require.Equal(t, http.StatusOK, w.Code)
	w, env = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+queued.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Reason)
}

func asUser(req *http.Request, user string) *http.Request {
	req.Header.Set(auth.HeaderUserID, user)
	return req
}

func asAdministrator(req *http.Request) *http.Request {
	req.Header.Set(auth.HeaderUserID, "root")
	req.Header.Set(auth.HeaderRoles, "administrator")
	return req
}

// 非 worker 不能回写任务,非管理员不能删除任务
func TestJobs_Authorization(t *testing.T) {
	router := jobRouter(t)

	w, env := do(t, router, asUser(jsonRequest(http.MethodPost, "/api/v1/jobs", map[string]string{
		"entity_id": "PO-9", "template_code": "coa",
	}), "clerk"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var j domain.GenerationJob
	require.NoError(t, json.Unmarshal(env.Data, &j))

	w, env = do(t, router, asUser(jsonRequest(http.MethodPost, "/api/v1/jobs/"+j.ID+"/fail", map[string]string{"message": "sabotage"}), "random-user"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_AUTHORIZED", env.Reason)

	w, env = do(t, router, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+j.ID+"/claim", nil), "random-user"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_AUTHORIZED", env.Reason)

	w, env = do(t, router, asUser(completeRequest(t, j.ID, "forged.pdf", "%PDF-forged"), "random-user"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_AUTHORIZED", env.Reason)

	w, env = do(t, router, asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+j.ID, nil), "random-user"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_AUTHORIZED", env.Reason)

	// worker 本人也不能删除
	w, _ = do(t, router, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+j.ID, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+j.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var unchanged domain.GenerationJob
	require.NoError(t, json.Unmarshal(env.Data, &unchanged))
	assert.Equal(t, domain.JobStatusQueued, unchanged.Status)
	assert.Empty(t, unchanged.Error)

	// 管理员可以代为回写
	w, _ = do(t, router, asAdministrator(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+j.ID+"/claim", nil)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJobs_FailedDownload(t *testing.T) {
	router := jobRouter(t)

	_, env := do(t, router, jsonRequest(http.MethodPost, "/api/v1/jobs", map[string]string{
		"entity_id": "PO-8", "template_code": "coa",
	}))
	var j domain.GenerationJob
	require.NoError(t, json.Unmarshal(env.Data, &j))

	w, _ := do(t, router, jsonRequest(http.MethodPost, "/api/v1/jobs/"+j.ID+"/fail", map[string]string{"message": "template missing"}))
	require.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+j.ID+"/download", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "GENERATION_FAILED", env.Reason)
}

func TestJobs_Validation(t *testing.T) {
	router := jobRouter(t)

	w, _ := do(t, router, jsonRequest(http.MethodPost, "/api/v1/jobs", map[string]string{"entity_id": "PO 1", "template_code": "coa"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?entity_id=PO-1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]event.Handler
	ready    chan struct{}
}

func (f *fakeSubscriber) Subscribe(key string, handler event.Handler) func() {
	f.mu.Lock()
	f.handlers[key] = handler
	f.mu.Unlock()
	close(f.ready)
	return func() {
		f.mu.Lock()
		delete(f.handlers, key)
		f.mu.Unlock()
	}
}

func (f *fakeSubscriber) publish(key string, evt event.Event) {
	f.mu.Lock()
	h := f.handlers[key]
	f.mu.Unlock()
	h(evt)
}

func TestSSE_ForwardsDocumentEvents(t *testing.T) {
	sub := &fakeSubscriber{handlers: map[string]event.Handler{}, ready: make(chan struct{})}
	router := api.SetupRoutes(api.RouterDeps{Config: testConfig(), Logger: quietLogger(), Events: sub, Heartbeat: time.Minute})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/documents/PO-1", nil)
	require.NoError(t, err)
	req.Header.Set(auth.HeaderUserID, "alice")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"type":"connected"`)

	<-sub.ready
	sub.publish("PO-1", event.Event{Topic: event.TopicFlowChanged, DocumentID: "PO-1"})

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Contains(t, line, `"document_id":"PO-1"`)
}

func TestHealth_ReportsFailingDependency(t *testing.T) {
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	defer database.Close(db)

	router := api.SetupRoutes(api.RouterDeps{
		Config: testConfig(),
		DB:     db,
		Logger: quietLogger(),
		Health: map[string]api.HealthChecker{
			"openfga": api.HealthCheckerFunc(func(context.Context) error { return errors.New("connection refused") }),
		},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "healthy", body.Checks["database"])
	assert.Contains(t, body.Checks["openfga"], "connection refused")
}

func TestMiddleware_RequestIDAndHeaders(t *testing.T) {
	router := api.SetupRoutes(api.RouterDeps{Config: testConfig(), Logger: quietLogger()})

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set(api.HeaderRequestID, "req-42")
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(api.HeaderRequestID))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	assert.Contains(t, w.Body.String(), `"api_version":"v1"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.NotEmpty(t, w.Header().Get(api.HeaderRequestID))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestMiddleware_CORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
	router := api.SetupRoutes(api.RouterDeps{Config: cfg, Logger: quietLogger()})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestMiddleware_HTTPSRedirect(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ForceHTTPS = true
	router := api.SetupRoutes(api.RouterDeps{Config: cfg, Logger: quietLogger()})

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Host = "signflow.local"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMovedPermanently, w.Code)
	assert.Equal(t, "https://signflow.local/version", w.Header().Get("Location"))
}

func TestMiddleware_RateLimitPerUser(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RPS = 0.001
	cfg.RateLimit.Burst = 1
	router := api.SetupRoutes(api.RouterDeps{Config: cfg, Logger: quietLogger()})

	get := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
		req.Header.Set(auth.HeaderUserID, user)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	// 第一次请求通过限流后因缺少 entity_id 返回 400
	assert.Equal(t, http.StatusBadRequest, get("alice"))
	assert.Equal(t, http.StatusTooManyRequests, get("alice"))
	assert.Equal(t, http.StatusBadRequest, get("bob"))
}

func TestNoRoute_JSON(t *testing.T) {
	router := api.SetupRoutes(api.RouterDeps{Config: testConfig(), Logger: quietLogger()})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}
