package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig addresses the gRPC endpoint of a Qdrant server.
type QdrantConfig struct {
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
	Timeout time.Duration
}

// QdrantIndex stores points in Qdrant through the official gRPC client.
type QdrantIndex struct {
	client  *qdrant.Client
	timeout time.Duration
}

func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantIndex{client: client, timeout: cfg.Timeout}, nil
}

func (q *QdrantIndex) Backend() string { return "qdrant" }

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func (q *QdrantIndex) CollectionExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return false, qdrantError("collection exists", err)
	}
	return exists, nil
}

func (q *QdrantIndex) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	info, err := q.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, qdrantError("collection info", err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return &CollectionInfo{
		Name:      name,
		Dimension: int(params.GetSize()),
		Metric:    metricFromDistance(params.GetDistance()),
		Points:    int(info.GetPointsCount()),
	}, nil
}

func (q *QdrantIndex) CreateCollection(ctx context.Context, name string, dimension int, metric Metric) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: distanceFromMetric(metric),
		}),
	})
	if err != nil {
		return qdrantError("create collection", err)
	}
	return nil
}

func (q *QdrantIndex) DeleteCollection(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	err := q.client.DeleteCollection(ctx, name)
	if err = qdrantError("delete collection", err); errors.Is(err, ErrCollectionNotFound) {
		return nil
	}
	return err
}

func (q *QdrantIndex) Upsert(ctx context.Context, collection string, points ...Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := toQdrantPayload(p.Payload)
		if err != nil {
			return fmt.Errorf("point %s: %w", p.ID, err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      pointID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return qdrantError("upsert", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		limit = 5
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, qdrantError("search", err)
	}

	results := make([]ScoredPoint, 0, len(hits))
	for _, h := range hits {
		results = append(results, ScoredPoint{
			ID:      pointIDString(h.GetId()),
			Score:   float64(h.GetScore()),
			Payload: fromQdrantPayload(h.GetPayload()),
		})
	}
	return results, nil
}

// qdrantError maps gRPC status codes onto the index sentinels.
func qdrantError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch st, _ := status.FromError(err); st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, st.Message())
	case codes.InvalidArgument:
		if strings.Contains(strings.ToLower(st.Message()), "dimension") {
			return fmt.Errorf("%w: %s", ErrDimensionMismatch, st.Message())
		}
	}
	return fmt.Errorf("qdrant %s failed: %w", op, err)
}

// pointID keeps numeric ids numeric; anything else is sent as a UUID string.
func pointID(id string) *qdrant.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return qdrant.NewIDNum(n)
	}
	return qdrant.NewID(id)
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// toQdrantPayload round-trips through JSON so typed values (uint ids, []string)
// reach the client as the plain kinds its value converter accepts.
func toQdrantPayload(payload map[string]interface{}) (map[string]*qdrant.Value, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	var plain map[string]interface{}
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return qdrant.TryValueMap(plain)
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = fromQdrantValue(v)
	}
	return out
}

func fromQdrantValue(v *qdrant.Value) interface{} {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]interface{}, 0, len(values))
		for _, item := range values {
			list = append(list, fromQdrantValue(item))
		}
		return list
	case *qdrant.Value_StructValue:
		return fromQdrantPayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}

// Cosine is the only metric the memory layer creates collections with.
func distanceFromMetric(Metric) qdrant.Distance {
	return qdrant.Distance_Cosine
}

func metricFromDistance(d qdrant.Distance) Metric {
	if d == qdrant.Distance_Cosine {
		return MetricCosine
	}
	return Metric(d.String())
}
