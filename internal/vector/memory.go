package vector

import (
	"context"
	"fmt"
	"sync"
)

type memoryCollection struct {
	dimension int
	metric    Metric
	points    map[string]Point
}

// MemoryIndex keeps everything in process. Contents are lost on restart.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryIndex) Backend() string { return "memory" }

func (m *MemoryIndex) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MemoryIndex) CollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return &CollectionInfo{Name: name, Dimension: c.dimension, Metric: c.metric, Points: len(c.points)}, nil
}

func (m *MemoryIndex) CreateCollection(_ context.Context, name string, dimension int, metric Metric) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return fmt.Errorf("collection %q already exists", name)
	}
	m.collections[name] = &memoryCollection{dimension: dimension, metric: metric, points: make(map[string]Point)}
	return nil
}

func (m *MemoryIndex) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, collection string, points ...Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return ErrCollectionNotFound
	}
	for _, p := range points {
		if err := checkDimension(c.dimension, p.Vector); err != nil {
			return err
		}
	}
	for _, p := range points {
		c.points[p.ID] = p
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	if err := checkDimension(c.dimension, vector); err != nil {
		return nil, err
	}

	results := make([]ScoredPoint, 0, len(c.points))
	for _, p := range c.points {
		results = append(results, ScoredPoint{ID: p.ID, Score: CosineSimilarity(vector, p.Vector), Payload: p.Payload})
	}
	return topK(results, limit), nil
}
