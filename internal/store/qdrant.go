package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// maxGrpcMessageSize accommodates large vector batches during ingest.
const maxGrpcMessageSize = 32 * 1024 * 1024

// QdrantStore implements VectorStore against a remote Qdrant collection.
// Tenant isolation is enforced server-side with a payload filter, so no
// overfetching is needed.
type QdrantStore struct {
	mu         sync.Mutex
	client     *pb.Client
	collection string
	dimensions int
	count      int
	closed     bool
}

// NewQdrantStore connects to Qdrant and ensures the collection exists with
// the expected dimensionality and cosine distance.
func NewQdrantStore(host string, port int, collection string, dimensions int) (*QdrantStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}

	client, err := pb.NewClient(&pb.Config{
		Host: host,
		Port: port,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxGrpcMessageSize),
				grpc.MaxCallSendMsgSize(maxGrpcMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s:%d: %w", host, port, err)
	}

	s := &QdrantStore{
		client:     client,
		collection: collection,
		dimensions: dimensions,
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ensure collection %q: %w", collection, err)
	}

	slog.Info("qdrant_connected",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
		slog.Int("dimensions", dimensions))
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return err
	}

	slog.Info("qdrant_collection_created", slog.String("collection", s.collection))
	return nil
}

// Add upserts scene vectors. Ownership metadata lives in the payload; the
// point ID is a deterministic UUID derived from the scene ID so that
// re-adding a scene overwrites its previous vector.
func (s *QdrantStore) Add(ctx context.Context, items []VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(items))
	for _, item := range items {
		if len(item.Vector) != s.dimensions {
			return &ErrDimensionMismatch{Expected: s.dimensions, Got: len(item.Vector)}
		}
		points = append(points, &pb.PointStruct{
			Id:      pb.NewIDUUID(sceneUUID(item.SceneID)),
			Vectors: pb.NewVectors(item.Vector...),
			Payload: pb.NewValueMap(map[string]any{
				"scene_id":  item.SceneID,
				"tenant_id": item.TenantID,
				"video_id":  item.VideoID,
			}),
		})
	}

	if _, err := s.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}

	s.mu.Lock()
	s.count += len(points)
	s.mu.Unlock()
	return nil
}

// Search returns up to k nearest scenes within scope, best first.
func (s *QdrantStore) Search(ctx context.Context, scope Scope, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != s.dimensions {
		return nil, &ErrDimensionMismatch{Expected: s.dimensions, Got: len(query)}
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	req := &pb.QueryPoints{
		CollectionName: s.collection,
		Query:          pb.NewQuery(query...),
		Limit:          pb.PtrOf(uint64(k)),
		WithPayload:    pb.NewWithPayloadInclude("scene_id"),
	}
	var must []*pb.Condition
	if scope.TenantID != "" {
		must = append(must, pb.NewMatch("tenant_id", scope.TenantID))
	}
	if scope.VideoID != "" {
		must = append(must, pb.NewMatch("video_id", scope.VideoID))
	}
	if len(must) > 0 {
		req.Filter = &pb.Filter{Must: must}
	}

	hits, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	results := make([]*VectorResult, 0, len(hits))
	for _, hit := range hits {
		sceneID := hit.GetPayload()["scene_id"].GetStringValue()
		if sceneID == "" {
			continue
		}
		// Qdrant reports cosine similarity; fold into the same [0,1]
		// similarity scale as the local store.
		sim := hit.GetScore()
		results = append(results, &VectorResult{
			SceneID:  sceneID,
			Distance: 1.0 - sim,
			Score:    (1.0 + sim) / 2.0,
		})
	}
	return results, nil
}

// Delete removes scenes by ID.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*pb.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pb.NewIDUUID(sceneUUID(id)))
	}

	if _, err := s.client.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	}); err != nil {
		return fmt.Errorf("qdrant delete failed: %w", err)
	}

	s.mu.Lock()
	s.count -= len(ids)
	if s.count < 0 {
		s.count = 0
	}
	s.mu.Unlock()
	return nil
}

// Count returns the number of vectors upserted through this store instance.
// The remote collection may hold more; use the Qdrant API for exact totals.
func (s *QdrantStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

var _ VectorStore = (*QdrantStore)(nil)

// sceneUUID derives a stable UUID-formatted identifier from a scene ID.
// Qdrant point IDs must be UUIDs or integers; hashing keeps upserts
// idempotent for arbitrary scene ID strings.
func sceneUUID(sceneID string) string {
	sum := sha256.Sum256([]byte(sceneID))
	return fmt.Sprintf("%x-%x-%x-%x-%x", sum[0:4], sum[4:6], sum[6:8], sum[8:10], sum[10:16])
}
