// Package store provides the persistence layer: scene metadata and tenant
// preferences in SQLite, lexical search over Bleve, and dense vectors in
// either a local HNSW graph or a remote Qdrant collection.
package store

import (
	"context"
	"fmt"
	"time"
)

// Scene is one indexed video segment. Each dense channel embeds a different
// field of the scene; the lexical channel indexes the text fields together.
type Scene struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	VideoID       string    `json:"video_id"`
	Title         string    `json:"title,omitempty"`
	StartMS       int64     `json:"start_ms"`
	EndMS         int64     `json:"end_ms"`
	Transcript    string    `json:"transcript,omitempty"`
	VisualCaption string    `json:"visual_caption,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// TenantPreferences holds per-tenant retrieval overrides. Zero values mean
// "no override": an empty FusionMethod or nil Weights falls through to the
// system defaults.
type TenantPreferences struct {
	TenantID     string             `json:"tenant_id"`
	FusionMethod string             `json:"fusion_method,omitempty"`
	Weights      map[string]float64 `json:"weights,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at,omitempty"`
}

// SceneStore persists scene metadata and hydrates result lists.
type SceneStore interface {
	// SaveScenes inserts or replaces scenes in one transaction.
	SaveScenes(ctx context.Context, scenes []*Scene) error

	// GetScene returns a single scene, or ErrCodeSceneNotFound.
	GetScene(ctx context.Context, id string) (*Scene, error)

	// GetScenes fetches a batch of scenes in one query. IDs with no stored
	// scene are silently absent from the result; callers re-order as needed.
	GetScenes(ctx context.Context, ids []string) (map[string]*Scene, error)

	// DeleteScenes removes scenes by ID. Unknown IDs are ignored.
	DeleteScenes(ctx context.Context, ids []string) error

	Count(ctx context.Context) (int, error)
	Close() error
}

// PreferencesStore persists tenant retrieval preferences.
type PreferencesStore interface {
	// GetPreferences returns the tenant's overrides, or (nil, nil) when the
	// tenant has none.
	GetPreferences(ctx context.Context, tenantID string) (*TenantPreferences, error)
	SavePreferences(ctx context.Context, prefs *TenantPreferences) error
	DeletePreferences(ctx context.Context, tenantID string) error
}

// Scope restricts a search to one tenant and, optionally, one video.
// An empty TenantID matches every tenant (admin/maintenance paths only).
type Scope struct {
	TenantID string
	VideoID  string
}

// VectorResult is a single dense hit. Score is a similarity in [0,1]
// derived from cosine distance; higher is better.
type VectorResult struct {
	SceneID  string
	Distance float32
	Score    float32
}

// VectorItem is one vector to upsert, with its ownership metadata.
type VectorItem struct {
	SceneID  string
	TenantID string
	VideoID  string
	Vector   []float32
}

// VectorStore is one embedding space (one per dense channel).
type VectorStore interface {
	// Add upserts vectors. Every vector must match the store's
	// dimensionality.
	Add(ctx context.Context, items []VectorItem) error

	// Search returns up to k nearest scenes within scope, best first.
	Search(ctx context.Context, scope Scope, query []float32, k int) ([]*VectorResult, error)

	Delete(ctx context.Context, ids []string) error
	Count() int
	Close() error
}

// PersistentVectorStore is a VectorStore that snapshots to local disk.
// Remote backends persist on their own and do not implement it.
type PersistentVectorStore interface {
	VectorStore
	Save(path string) error
	Load(path string) error
}

// LexicalResult is a single BM25 hit.
type LexicalResult struct {
	SceneID      string
	Score        float64
	MatchedTerms []string
}

// LexicalStore is the keyword search index over scene text fields.
type LexicalStore interface {
	Index(ctx context.Context, scenes []*Scene) error

	// Search returns up to k BM25-ranked scenes within scope, best first.
	Search(ctx context.Context, scope Scope, query string, k int) ([]*LexicalResult, error)

	// Available reports whether the index can serve queries right now.
	Available(ctx context.Context) bool

	Delete(ctx context.Context, ids []string) error
	Count() (uint64, error)
	Close() error
}

// VectorStoreConfig configures a local HNSW vector store.
type VectorStoreConfig struct {
	Dimensions     int
	M              int // graph connectivity
	EfSearch       int // search beam width
	DistanceMetric string
}

// DefaultVectorStoreConfig returns settings tuned for scene-scale indexes
// (tens of thousands of vectors per tenant).
func DefaultVectorStoreConfig(dims int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dims,
		M:              16,
		EfSearch:       64,
		DistanceMetric: "cosine",
	}
}

// ErrDimensionMismatch reports a vector whose length does not match the
// store's configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
