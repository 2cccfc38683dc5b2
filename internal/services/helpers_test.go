package services

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/db"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/store"
	"github.com/labsage/backend/internal/vector"
	"github.com/stretchr/testify/require"
)

const testDimension = 8

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(conn))
	t.Cleanup(func() { _ = db.Close(conn) })
	return store.New(conn)
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func intPtr(i int) *int { return &i }

// fakeGenerator returns canned responses and records every request.
type fakeGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	requests []GenerateRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// fakeEmbedder hashes words into a small fixed-size vector so that texts
// sharing words score higher.
type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, testDimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%testDimension]++
	}
	vec[0] += 0.01
	return vec, nil
}

func newTestMemory(t *testing.T, embedder Embedder) *MemoryService {
	t.Helper()
	return NewMemoryService(embedder, vector.NewMemoryIndex(), MemoryConfig{Collection: "test_memory", Dimension: testDimension})
}

// recordingMemory captures writes without an index behind it.
type recordingMemory struct {
	mu      sync.Mutex
	writes  []map[string]interface{}
	content []string
	err     error
}

func (m *recordingMemory) StoreMemory(_ context.Context, content string, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = append(m.content, content)
	m.writes = append(m.writes, metadata)
	return m.err
}

// fakeAdapter serves a fixed inventory.
type fakeAdapter struct {
	kind      adapters.Kind
	name      string
	down      bool
	resources []adapters.ResourceSummary
	infos     map[string]*adapters.ResourceInfo
	stats     map[string]*adapters.ResourceStats
	logs      map[string][]adapters.LogLine
	// ignoreSince returns every line regardless of the requested since.
	ignoreSince bool

	mu     sync.Mutex
	sinces map[string]time.Time
}

func (a *fakeAdapter) Kind() adapters.Kind                { return a.kind }
func (a *fakeAdapter) Name() string                       { return a.name }
func (a *fakeAdapter) IsAvailable(_ context.Context) bool { return !a.down }

func (a *fakeAdapter) ListResources(_ context.Context) ([]adapters.ResourceSummary, error) {
	return a.resources, nil
}

func (a *fakeAdapter) GetResourceInfo(_ context.Context, id string) (*adapters.ResourceInfo, error) {
	info, ok := a.infos[id]
	if !ok {
		return nil, adapters.ErrResourceNotFound
	}
	return info, nil
}

func (a *fakeAdapter) GetResourceStats(_ context.Context, id string) (*adapters.ResourceStats, error) {
	stats, ok := a.stats[id]
	if !ok {
		return nil, adapters.ErrResourceNotFound
	}
	return stats, nil
}

// GetLogs mimics the Engine API: whole-second since, lines at or after it.
func (a *fakeAdapter) GetLogs(_ context.Context, id string, since time.Time) ([]adapters.LogLine, error) {
	a.mu.Lock()
	if a.sinces == nil {
		a.sinces = make(map[string]time.Time)
	}
	a.sinces[id] = since
	a.mu.Unlock()

	cutoff := since.Truncate(time.Second)
	var out []adapters.LogLine
	for _, line := range a.logs[id] {
		if a.ignoreSince || !line.Timestamp.Before(cutoff) {
			out = append(out, line)
		}
	}
	return out, nil
}

func (a *fakeAdapter) lastSince(id string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sinces[id]
}

// fakeHypervisor adds a raw inventory snapshot to fakeAdapter.
type fakeHypervisor struct {
	fakeAdapter
	records []interface{}
}

func (h *fakeHypervisor) Snapshot(_ context.Context) ([]interface{}, error) {
	return h.records, nil
}

func crashedContainerFact(t *testing.T, id, name string, code int, ts time.Time) models.Fact {
	t.Helper()
	fact, err := models.NewFact("docker://"+id, "docker", ts, models.ContainerStatus{
		ID:       id,
		Name:     name,
		Image:    "nginx:1.27",
		State:    "exited",
		Status:   "Exited (" + strconv.Itoa(code) + ")",
		ExitCode: intPtr(code),
	})
	require.NoError(t, err)
	return fact
}

func runningContainerFact(t *testing.T, id, name string, ts time.Time) models.Fact {
	t.Helper()
	fact, err := models.NewFact("docker://"+id, "docker", ts, models.ContainerStatus{
		ID:    id,
		Name:  name,
		Image: "nginx:1.27",
		State: "running",
	})
	require.NoError(t, err)
	return fact
}
