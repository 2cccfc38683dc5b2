package vector

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// fakeQdrant holds the state behind the handful of Qdrant gRPC calls the
// index makes. Collections and Points both define Get and Delete, so each
// service gets its own wrapper type.
type fakeQdrant struct {
	mu        sync.Mutex
	apiKeys   []string
	exists    bool
	dimension uint64
	upserted  []*qdrant.PointStruct
	query     *qdrant.QueryPoints
}

func (f *fakeQdrant) record(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	f.apiKeys = append(f.apiKeys, md.Get("api-key")...)
}

type fakeHealth struct {
	qdrant.UnimplementedQdrantServer
}

type fakeCollections struct {
	qdrant.UnimplementedCollectionsServer
	*fakeQdrant
}

type fakePoints struct {
	qdrant.UnimplementedPointsServer
	*fakeQdrant
}

func (fakeHealth) HealthCheck(context.Context, *qdrant.HealthCheckRequest) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{Title: "qdrant - vector search engine", Version: "1.14.0"}, nil
}

func (f fakeCollections) CollectionExists(ctx context.Context, _ *qdrant.CollectionExistsRequest) (*qdrant.CollectionExistsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	return &qdrant.CollectionExistsResponse{Result: &qdrant.CollectionExists{Exists: f.exists}}, nil
}

func (f fakeCollections) Get(ctx context.Context, req *qdrant.GetCollectionInfoRequest) (*qdrant.GetCollectionInfoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	if !f.exists {
		return nil, status.Errorf(codes.NotFound, "Collection `%s` doesn't exist!", req.GetCollectionName())
	}
	return &qdrant.GetCollectionInfoResponse{Result: &qdrant.CollectionInfo{
		PointsCount: qdrant.PtrOf(uint64(len(f.upserted))),
		Config: &qdrant.CollectionConfig{Params: &qdrant.CollectionParams{
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: f.dimension, Distance: qdrant.Distance_Cosine}),
		}},
	}}, nil
}

func (f fakeCollections) Create(ctx context.Context, req *qdrant.CreateCollection) (*qdrant.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	f.exists = true
	f.dimension = req.GetVectorsConfig().GetParams().GetSize()
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

func (f fakeCollections) Delete(ctx context.Context, _ *qdrant.DeleteCollection) (*qdrant.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	f.exists = false
	f.upserted = nil
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

func (f fakePoints) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	f.upserted = append(f.upserted, req.GetPoints()...)
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

func (f fakePoints) Query(ctx context.Context, req *qdrant.QueryPoints) (*qdrant.QueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(ctx)
	f.query = req
	return &qdrant.QueryResponse{Result: []*qdrant.ScoredPoint{{
		Id:    qdrant.NewID("7c9e6679-7425-40de-944b-e07fc1f90ae7"),
		Score: 0.97,
		Payload: qdrant.NewValueMap(map[string]any{
			"content":    "disk full",
			"incidentId": 42,
			"tags":       []any{"disk", "storage"},
		}),
	}}}, nil
}

func newFakeQdrant(t *testing.T) (*QdrantIndex, *fakeQdrant) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fake := &fakeQdrant{}
	srv := grpc.NewServer()
	qdrant.RegisterQdrantServer(srv, fakeHealth{})
	qdrant.RegisterCollectionsServer(srv, fakeCollections{fakeQdrant: fake})
	qdrant.RegisterPointsServer(srv, fakePoints{fakeQdrant: fake})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	idx, err := NewQdrantIndex(QdrantConfig{
		Host:    "127.0.0.1",
		Port:    lis.Addr().(*net.TCPAddr).Port,
		APIKey:  "secret",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx, fake
}

func TestQdrantIndex(t *testing.T) {
	idx, fake := newFakeQdrant(t)
	ctx := context.Background()
	assert.Equal(t, "qdrant", idx.Backend())

	exists, err := idx.CollectionExists(ctx, "mem")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = idx.CollectionInfo(ctx, "mem")
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	require.NoError(t, idx.CreateCollection(ctx, "mem", 3, MetricCosine))
	exists, err = idx.CollectionExists(ctx, "mem")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, idx.Upsert(ctx, "mem",
		Point{ID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Vector: []float32{1, 0, 0}, Payload: map[string]interface{}{
			"content":    "disk full",
			"incidentId": uint(42),
			"tags":       []string{"disk", "storage"},
		}},
		Point{ID: "17", Vector: []float32{0, 1, 0}},
	))
	require.Len(t, fake.upserted, 2)
	assert.Equal(t, "7c9e6679-7425-40de-944b-e07fc1f90ae7", fake.upserted[0].GetId().GetUuid())
	assert.Equal(t, "disk full", fake.upserted[0].GetPayload()["content"].GetStringValue())
	assert.Len(t, fake.upserted[0].GetPayload()["tags"].GetListValue().GetValues(), 2)
	assert.EqualValues(t, 17, fake.upserted[1].GetId().GetNum())

	info, err := idx.CollectionInfo(ctx, "mem")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Dimension)
	assert.Equal(t, MetricCosine, info.Metric)
	assert.Equal(t, 2, info.Points)

	hits, err := idx.Search(ctx, "mem", []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "7c9e6679-7425-40de-944b-e07fc1f90ae7", hits[0].ID)
	assert.InDelta(t, 0.97, hits[0].Score, 1e-6)
	assert.Equal(t, "disk full", hits[0].Payload["content"])
	assert.EqualValues(t, 42, hits[0].Payload["incidentId"])
	assert.Equal(t, []interface{}{"disk", "storage"}, hits[0].Payload["tags"])
	assert.EqualValues(t, 3, fake.query.GetLimit())
	assert.True(t, fake.query.GetWithPayload().GetEnable())

	require.NoError(t, idx.DeleteCollection(ctx, "mem"))
	exists, err = idx.CollectionExists(ctx, "mem")
	require.NoError(t, err)
	assert.False(t, exists)

	for _, key := range fake.apiKeys {
		assert.Equal(t, "secret", key)
	}
	assert.NotEmpty(t, fake.apiKeys)
}

func TestQdrantErrorMapping(t *testing.T) {
	err := qdrantError("search", status.Error(codes.NotFound, "Collection `mem` doesn't exist!"))
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	err = qdrantError("upsert", status.Error(codes.InvalidArgument, "Wrong input: Vector dimension error: expected dim: 3, got 2"))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = qdrantError("upsert", status.Error(codes.InvalidArgument, "Wrong input: bad payload"))
	assert.NotErrorIs(t, err, ErrDimensionMismatch)

	err = qdrantError("search", errors.New("connection reset"))
	assert.ErrorContains(t, err, "qdrant search failed")
	assert.NoError(t, qdrantError("search", nil))
}

func TestQdrantUnavailable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())

	idx, err := NewQdrantIndex(QdrantConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	_, err = idx.CollectionExists(context.Background(), "mem")
	assert.Error(t, err)
}
