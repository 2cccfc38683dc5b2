package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/db"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/services"
	"github.com/labsage/backend/internal/store"
	"github.com/labsage/backend/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type stubLLM struct {
	down    bool
	calls   []services.LLMAPICall
	cleared bool
}

func (s *stubLLM) CheckLLMHealth(ctx context.Context) error {
	_, err := s.GetAvailableModels(ctx)
	return err
}

func (s *stubLLM) GetAvailableModels(context.Context) ([]string, error) {
	if s.down {
		return nil, &services.CallError{Kind: services.ErrorUnavailable, Op: "tags", Err: errors.New("connection refused")}
	}
	return []string{"llama3.1:8b"}, nil
}

func (s *stubLLM) Model() string                      { return "llama3.1:8b" }
func (s *stubLLM) EmbedModel() string                 { return "nomic-embed-text" }
func (s *stubLLM) GetAPICalls() []services.LLMAPICall { return s.calls }
func (s *stubLLM) ClearAPICalls()                     { s.cleared = true; s.calls = nil }

type constEmbedder struct{ err error }

func (e constEmbedder) Embed(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0, 0}, nil
}

type testServer struct {
	router *gin.Engine
	store  *store.GormStore
	llm    *stubLLM
	runs   int
}

func newTestServer(t *testing.T, embedder services.Embedder) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(conn))
	t.Cleanup(func() { _ = db.Close(conn) })

	ts := &testServer{store: store.New(conn), llm: &stubLLM{}}
	memory := services.NewMemoryService(embedder, vector.NewMemoryIndex(), services.MemoryConfig{Collection: "test", Dimension: 4})
	tasks := services.NewTaskSet(services.NewPeriodicTask("detect", time.Hour, func(ctx context.Context) error {
		ts.runs++
		return nil
	}))

	ts.router = gin.New()
	SetupRoutes(ts.router, Dependencies{
		DB:            conn,
		Store:         ts.store,
		Registry:      adapters.NewRegistry(),
		LLM:           ts.llm,
		OllamaURL:     "http://ollama:11434",
		Memory:        memory,
		VectorBackend: "memory",
		Tasks:         tasks,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (ts *testServer) seedIncident(t *testing.T, ref string) uint {
	t.Helper()
	incident := &models.Incident{
		Title:             "Container web crashed",
		Severity:          models.SeverityHigh,
		Status:            models.StatusOpen,
		AffectedResources: datatypes.JSONSlice[string]{ref},
		RuleName:          "container_crash",
		DetectedAt:        time.Now(),
	}
	narrative := &models.IncidentNarrative{NarrativeText: "## Container web crashed", RootCauseHypothesis: "unknown"}
	require.NoError(t, ts.store.CreateIncidentWithNarrative(context.Background(), incident, narrative))
	return incident.ID
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, constEmbedder{})

	w, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "up", body["database"])
	assert.Equal(t, "memory", body["vectorBackend"])

	w, _ = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "labsage_")
}

func TestFactsEndpoints(t *testing.T) {
	ts := newTestServer(t, constEmbedder{})
	fact, err := models.NewFact("docker://abc", "docker", time.Now().UTC(), models.ContainerStatus{ID: "abc", Name: "web", State: "running"})
	require.NoError(t, err)
	require.NoError(t, ts.store.AppendFacts(context.Background(), []models.Fact{fact}))

	w, body := ts.do(t, http.MethodGet, "/api/v1/facts?resourceRef=docker://abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = ts.do(t, http.MethodGet, "/api/v1/facts/latest?resourceRef=docker://abc&factType=docker_container_status", "")
	require.Equal(t, http.StatusOK, w.Code)
	payload := body["payload"].(map[string]interface{})
	assert.Equal(t, "web", payload["name"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/facts/latest?resourceRef=docker://missing&factType=docker_container_status", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/api/v1/facts/latest", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/api/v1/facts?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIncidentLifecycle(t *testing.T) {
	ts := newTestServer(t, constEmbedder{})
	id := ts.seedIncident(t, "docker://abc")

	w, body := ts.do(t, http.MethodGet, "/api/v1/incidents?status=open", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = ts.do(t, http.MethodGet, "/api/v1/incidents/"+itoa(id), "")
	require.Equal(t, http.StatusOK, w.Code)
	incident := body["incident"].(map[string]interface{})
	assert.NotNil(t, incident["narrative"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/incidents/9999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = ts.do(t, http.MethodGet, "/api/v1/incidents/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPut, "/api/v1/incidents/"+itoa(id)+"/status", `{"status":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = ts.do(t, http.MethodPut, "/api/v1/incidents/"+itoa(id)+"/status", `{"status":"resolved"}`)
	require.Equal(t, http.StatusOK, w.Code)
	incident = body["incident"].(map[string]interface{})
	assert.Equal(t, "resolved", incident["status"])
	assert.NotNil(t, incident["resolvedAt"])

	w, _ = ts.do(t, http.MethodPut, "/api/v1/incidents/"+itoa(id)+"/status", `{"status":"open"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogsAndSummaries(t *testing.T) {
	ts := newTestServer(t, constEmbedder{})
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, ts.store.InsertLogEntries(ctx, []models.LogEntry{
		{ResourceRef: "docker://abc", LogSource: models.LogSourceStdout, Content: "ok", Level: models.LogLevelInfo, Timestamp: now, RetentionDate: now.Add(time.Hour)},
		{ResourceRef: "docker://abc", LogSource: models.LogSourceStderr, Content: "boom", Level: models.LogLevelError, Timestamp: now, RetentionDate: now.Add(time.Hour)},
	}))
	require.NoError(t, ts.store.CreateSummary(ctx, &models.LogSummaryDocument{
		ResourceRef: "docker://abc", Summary: "fine", PeriodStart: now, PeriodEnd: now, RetentionDate: now.Add(time.Hour),
	}))

	w, body := ts.do(t, http.MethodGet, "/api/v1/logs?resourceRef=docker://abc&level=error", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = ts.do(t, http.MethodGet, "/api/v1/summaries?resourceRef=docker://abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/logs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemorySearch(t *testing.T) {
	ts := newTestServer(t, constEmbedder{})
	w, body := ts.do(t, http.MethodGet, "/api/v1/memory/search?q=crash", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["count"])

	w, _ = ts.do(t, http.MethodGet, "/api/v1/memory/search", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	down := newTestServer(t, constEmbedder{err: &services.CallError{Kind: services.ErrorTimeout, Op: "embed", Err: context.DeadlineExceeded}})
	w, body = down.do(t, http.MethodGet, "/api/v1/memory/search?q=crash", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "timeout", body["errorKind"])
}

func TestTasksEndpoints(t *testing.T) {
	ts := newTestServer(t, constEmbedder{})

	w, body := ts.do(t, http.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["tasks"], 1)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/tasks/detect/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.runs)

	w, _ = ts.do(t, http.MethodPost, "/api/v1/tasks/unknown/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLLMEndpoints(t *testing.T) {
	ts := newTestServer(t, constEmbedder{})
	ts.llm.calls = []services.LLMAPICall{{ID: "llm_1", CallType: "incident_narrative"}}

	w, body := ts.do(t, http.MethodGet, "/api/v1/llm/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "llama3.1:8b", body["currentModel"])

	ts.llm.down = true
	_, body = ts.do(t, http.MethodGet, "/api/v1/llm/status", "")
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "unavailable", body["errorKind"])

	_, body = ts.do(t, http.MethodGet, "/api/v1/llm/api-calls", "")
	assert.EqualValues(t, 1, body["count"])

	w, _ = ts.do(t, http.MethodDelete, "/api/v1/llm/api-calls", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ts.llm.cleared)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
