package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore over a pure Go HNSW graph. One store
// holds one embedding space; the engine keeps one per dense channel.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	// Scene IDs are strings, graph keys are uint64.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	tenants map[uint64]string // graph key -> owning tenant
	videos  map[uint64]string // graph key -> parent video
	nextKey uint64

	closed bool
}

// hnswMetadata is the sidecar gob payload persisted next to the graph.
type hnswMetadata struct {
	IDMap   map[string]uint64
	Tenants map[uint64]string
	Videos  map[uint64]string
	NextKey uint64
	Config  VectorStoreConfig
}

// tenantOverfetch is how many extra candidates to pull from the graph so
// that a tenant filter applied after the ANN search can still fill k.
const tenantOverfetch = 4

// NewHNSWStore creates an empty HNSW vector store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.DistanceMetric == "" {
		cfg.DistanceMetric = "cosine"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.DistanceMetric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		tenants: make(map[uint64]string),
		videos:  make(map[uint64]string),
	}, nil
}

// Add upserts vectors. Re-adding an existing scene ID orphans the old graph
// node instead of deleting it; coder/hnsw misbehaves when the last node of a
// graph is removed, so deletion is always lazy.
func (s *HNSWStore) Add(ctx context.Context, items []VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, item := range items {
		if len(item.Vector) != s.config.Dimensions {
			return &ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(item.Vector)}
		}
	}

	for _, item := range items {
		if oldKey, exists := s.idMap[item.SceneID]; exists {
			delete(s.keyMap, oldKey)
			delete(s.tenants, oldKey)
			delete(s.videos, oldKey)
			delete(s.idMap, item.SceneID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(item.Vector))
		copy(vec, item.Vector)
		if s.config.DistanceMetric == "cosine" {
			normalizeVectorInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[item.SceneID] = key
		s.keyMap[key] = item.SceneID
		s.tenants[key] = item.TenantID
		s.videos[key] = item.VideoID
	}

	return nil
}

// Search returns up to k nearest scenes within scope, best first.
func (s *HNSWStore) Search(ctx context.Context, scope Scope, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, &ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 || k <= 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.DistanceMetric == "cosine" {
		normalizeVectorInPlace(q)
	}

	// Overfetch so that orphaned nodes and out-of-scope scenes can be
	// dropped without starving the result.
	fetch := k * tenantOverfetch
	if fetch > s.graph.Len() {
		fetch = s.graph.Len()
	}
	nodes := s.graph.Search(q, fetch)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, valid := s.keyMap[node.Key]
		if !valid {
			continue // lazy-deleted
		}
		if scope.TenantID != "" && s.tenants[node.Key] != scope.TenantID {
			continue
		}
		if scope.VideoID != "" && s.videos[node.Key] != scope.VideoID {
			continue
		}

		distance := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			SceneID:  id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.DistanceMetric),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete removes scenes by ID. The graph nodes stay behind as orphans and
// are skipped at search time.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.tenants, key)
			delete(s.videos, key)
			delete(s.idMap, id)
		}
	}

	return nil
}

// Contains reports whether a scene ID is present.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// HNSWStats describes graph occupancy, including lazy-deleted orphans.
type HNSWStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats returns occupancy statistics. A high orphan ratio means the store
// should be rebuilt from the scene database.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}
	return HNSWStats{
		ValidIDs:   len(s.idMap),
		GraphNodes: s.graph.Len(),
		Orphans:    s.graph.Len() - len(s.idMap),
	}
}

// Save persists the graph and its ID mappings atomically (temp file + rename).
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.idMap,
		Tenants: s.tenants,
		Videos:  s.videos,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a previously saved store.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func (s *HNSWStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.tenants = meta.Tenants
	if s.tenants == nil {
		s.tenants = make(map[uint64]string)
	}
	s.videos = meta.Videos
	if s.videos == nil {
		s.videos = make(map[uint64]string)
	}
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases the graph.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

var _ PersistentVectorStore = (*HNSWStore)(nil)

// normalizeVectorInPlace scales v to unit length. Zero vectors are left as-is.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance to a similarity in [0,1].
// Cosine distance ranges 0..2, so score = 1 - d/2.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
