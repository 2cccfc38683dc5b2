package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/metrics"
	"github.com/labsage/backend/internal/vector"
)

const (
	MemoryTypeLogSummary        = "log_summary"
	MemoryTypeIncidentNarrative = "incident_narrative"
)

// ContextItem is one piece of retrieved history.
type ContextItem struct {
	Source      string    `json:"source"`
	Content     string    `json:"content"`
	Relevance   float64   `json:"relevance"`
	Timestamp   time.Time `json:"timestamp"`
	ResourceRef string    `json:"resourceRef,omitempty"`
}

// ContextProvider retrieves history for prompt injection. Retrieval is best
// effort: failures yield an empty slice, never an error.
type ContextProvider interface {
	GetContext(ctx context.Context, query string, limit int) []ContextItem
	FormatContext(items []ContextItem) string
}

// MemoryWriter appends text to long-term memory.
type MemoryWriter interface {
	StoreMemory(ctx context.Context, content string, metadata map[string]interface{}) error
}

type MemoryConfig struct {
	Collection string
	Dimension  int
}

type MemoryService struct {
	embedder   Embedder
	index      vector.Index
	collection string
	dimension  int

	ensureMu sync.Mutex
	ready    bool
	now      func() time.Time
}

func NewMemoryService(embedder Embedder, index vector.Index, cfg MemoryConfig) *MemoryService {
	if cfg.Collection == "" {
		cfg.Collection = "labsage_memory"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	return &MemoryService{
		embedder:   embedder,
		index:      index,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		now:        time.Now,
	}
}

func (ms *MemoryService) Collection() string { return ms.collection }
func (ms *MemoryService) Backend() string    { return ms.index.Backend() }

// EnsureCollection creates the collection on first use. An existing
// collection with a different dimension is an error; it is never migrated
// implicitly (see RecreateCollection).
func (ms *MemoryService) EnsureCollection(ctx context.Context) error {
	ms.ensureMu.Lock()
	defer ms.ensureMu.Unlock()
	if ms.ready {
		return nil
	}

	info, err := ms.index.CollectionInfo(ctx, ms.collection)
	switch {
	case errors.Is(err, vector.ErrCollectionNotFound):
		if err := ms.index.CreateCollection(ctx, ms.collection, ms.dimension, vector.MetricCosine); err != nil {
			return fmt.Errorf("failed to create collection %q: %w", ms.collection, err)
		}
		logger.Info("Created memory collection", map[string]interface{}{
			"collection": ms.collection,
			"dimension":  ms.dimension,
			"backend":    ms.index.Backend(),
		})
	case err != nil:
		return fmt.Errorf("failed to inspect collection %q: %w", ms.collection, err)
	case info.Dimension != ms.dimension:
		return fmt.Errorf("%w: collection %q has dimension %d but the embedding model is configured for %d; run recreate-collection",
			vector.ErrDimensionMismatch, ms.collection, info.Dimension, ms.dimension)
	}

	ms.ready = true
	return nil
}

// RecreateCollection drops every stored memory and recreates the collection
// with the configured dimension.
func (ms *MemoryService) RecreateCollection(ctx context.Context) error {
	ms.ensureMu.Lock()
	defer ms.ensureMu.Unlock()
	ms.ready = false

	if err := ms.index.DeleteCollection(ctx, ms.collection); err != nil && !errors.Is(err, vector.ErrCollectionNotFound) {
		return fmt.Errorf("failed to delete collection %q: %w", ms.collection, err)
	}
	if err := ms.index.CreateCollection(ctx, ms.collection, ms.dimension, vector.MetricCosine); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", ms.collection, err)
	}
	ms.ready = true
	logger.Warn("Recreated memory collection; previous memories were dropped", map[string]interface{}{
		"collection": ms.collection,
		"dimension":  ms.dimension,
	})
	return nil
}

// Search is the error-propagating form of GetContext, used by the query API.
func (ms *MemoryService) Search(ctx context.Context, query string, limit int) ([]ContextItem, error) {
	if limit <= 0 {
		limit = 5
	}
	if err := ms.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	embedding, err := ms.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := ms.index.Search(ctx, ms.collection, embedding, limit)
	if err != nil {
		return nil, err
	}

	items := make([]ContextItem, 0, len(hits))
	for _, hit := range hits {
		items = append(items, contextItemFromPayload(hit))
	}
	return items, nil
}

func (ms *MemoryService) GetContext(ctx context.Context, query string, limit int) []ContextItem {
	items, err := ms.Search(ctx, query, limit)
	if err != nil {
		metrics.MemoryOperationsTotal.WithLabelValues("search", "error").Inc()
		logger.WithError(err, "memory").WithField("error_kind", KindOf(err)).Warn("Context retrieval failed; continuing without history")
		return []ContextItem{}
	}
	metrics.MemoryOperationsTotal.WithLabelValues("search", "ok").Inc()
	return items
}

func (ms *MemoryService) FormatContext(items []ContextItem) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("RELATED HISTORY (most relevant first):\n")
	for i, item := range items {
		fmt.Fprintf(&b, "%d. [relevance %.2f] %s", i+1, item.Relevance, item.Source)
		if item.ResourceRef != "" {
			fmt.Fprintf(&b, " %s", item.ResourceRef)
		}
		if !item.Timestamp.IsZero() {
			fmt.Fprintf(&b, " at %s", item.Timestamp.Format(time.RFC3339))
		}
		b.WriteString("\n")
		b.WriteString(truncate(strings.TrimSpace(item.Content), 1500))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (ms *MemoryService) StoreMemory(ctx context.Context, content string, metadata map[string]interface{}) error {
	err := ms.storeMemory(ctx, content, metadata)
	if err != nil {
		metrics.MemoryOperationsTotal.WithLabelValues("store", "error").Inc()
		logger.WithError(err, "memory").WithField("error_kind", KindOf(err)).Warn("Memory write dropped")
		return err
	}
	metrics.MemoryOperationsTotal.WithLabelValues("store", "ok").Inc()
	return nil
}

func (ms *MemoryService) storeMemory(ctx context.Context, content string, metadata map[string]interface{}) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("refusing to store empty memory")
	}
	if err := ms.EnsureCollection(ctx); err != nil {
		return err
	}
	embedding, err := ms.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}

	payload := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["content"] = content
	payload["timestamp"] = ms.now().UTC().Format(time.RFC3339)

	return ms.index.Upsert(ctx, ms.collection, vector.Point{
		ID:      uuid.NewString(),
		Vector:  embedding,
		Payload: payload,
	})
}

func contextItemFromPayload(hit vector.ScoredPoint) ContextItem {
	item := ContextItem{Relevance: hit.Score, Source: "memory"}
	if v, ok := hit.Payload["content"].(string); ok {
		item.Content = v
	}
	if v, ok := hit.Payload["type"].(string); ok && v != "" {
		item.Source = v
	}
	if v, ok := hit.Payload["resourceRef"].(string); ok {
		item.ResourceRef = v
	}
	if v, ok := hit.Payload["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			item.Timestamp = ts
		}
	}
	return item
}
