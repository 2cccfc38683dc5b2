package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/labsage/backend/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatContextEmpty(t *testing.T) {
	ms := newTestMemory(t, &fakeEmbedder{})
	assert.Equal(t, "", ms.FormatContext(nil))
	assert.Equal(t, "", ms.FormatContext([]ContextItem{}))
}

func TestFormatContext(t *testing.T) {
	ms := newTestMemory(t, &fakeEmbedder{})
	out := ms.FormatContext([]ContextItem{
		{Source: MemoryTypeLogSummary, Content: "quiet day", Relevance: 0.91, ResourceRef: "docker://a", Timestamp: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{Source: MemoryTypeIncidentNarrative, Content: "crashed twice", Relevance: 0.5},
	})
	assert.Contains(t, out, "RELATED HISTORY")
	assert.Contains(t, out, "1. [relevance 0.91] log_summary docker://a at 2026-05-01T00:00:00Z")
	assert.Contains(t, out, "2. [relevance 0.50] incident_narrative")
	assert.Contains(t, out, "crashed twice")
}

func TestGetContextIsEmptyOnFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("embedder down", func(t *testing.T) {
		ms := newTestMemory(t, &fakeEmbedder{err: &CallError{Kind: ErrorUnavailable, Op: "embed", Err: errors.New("down")}})
		items := ms.GetContext(ctx, "anything", 3)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		index := vector.NewMemoryIndex()
		require.NoError(t, index.CreateCollection(ctx, "test_memory", testDimension*2, vector.MetricCosine))
		ms := NewMemoryService(&fakeEmbedder{}, index, MemoryConfig{Collection: "test_memory", Dimension: testDimension})

		items := ms.GetContext(ctx, "anything", 3)
		assert.NotNil(t, items)
		assert.Empty(t, items)

		_, err := ms.Search(ctx, "anything", 3)
		assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
	})

	t.Run("empty collection", func(t *testing.T) {
		ms := newTestMemory(t, &fakeEmbedder{})
		items := ms.GetContext(ctx, "anything", 3)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})
}

func TestStoreMemoryThenSearch(t *testing.T) {
	ctx := context.Background()
	ms := newTestMemory(t, &fakeEmbedder{})
	ms.now = fixedClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))

	require.NoError(t, ms.StoreMemory(ctx, "postgres connection refused during backup", map[string]interface{}{
		"type":        MemoryTypeLogSummary,
		"resourceRef": "docker://db",
	}))
	require.NoError(t, ms.StoreMemory(ctx, "nginx served traffic normally", map[string]interface{}{
		"type":        MemoryTypeLogSummary,
		"resourceRef": "docker://web",
	}))

	items, err := ms.Search(ctx, "postgres connection refused", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "docker://db", items[0].ResourceRef)
	assert.Equal(t, MemoryTypeLogSummary, items[0].Source)
	assert.Equal(t, "postgres connection refused during backup", items[0].Content)
	assert.True(t, items[0].Timestamp.Equal(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)))
	assert.Greater(t, items[0].Relevance, 0.0)
}

func TestStoreMemoryFailuresAreReported(t *testing.T) {
	ctx := context.Background()

	ms := newTestMemory(t, &fakeEmbedder{err: &CallError{Kind: ErrorTimeout, Op: "embed", Err: context.DeadlineExceeded}})
	err := ms.StoreMemory(ctx, "content", nil)
	assert.Equal(t, ErrorTimeout, KindOf(err))

	ms = newTestMemory(t, &fakeEmbedder{})
	assert.Error(t, ms.StoreMemory(ctx, "   ", nil))
}

func TestRecreateCollectionFixesDimension(t *testing.T) {
	ctx := context.Background()
	index := vector.NewMemoryIndex()
	require.NoError(t, index.CreateCollection(ctx, "test_memory", 3, vector.MetricCosine))
	ms := NewMemoryService(&fakeEmbedder{}, index, MemoryConfig{Collection: "test_memory", Dimension: testDimension})

	assert.ErrorIs(t, ms.EnsureCollection(ctx), vector.ErrDimensionMismatch)

	require.NoError(t, ms.RecreateCollection(ctx))
	info, err := index.CollectionInfo(ctx, "test_memory")
	require.NoError(t, err)
	assert.Equal(t, testDimension, info.Dimension)
	require.NoError(t, ms.StoreMemory(ctx, "works now", nil))
}
