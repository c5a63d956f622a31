package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

// sceneAnalyzerName is the analyzer applied to scene text fields.
const sceneAnalyzerName = "scene_text"

// Relative weight of each text field in the lexical score. Tags are curated
// so an exact tag hit outranks an incidental transcript mention.
const (
	boostTags       = 4.0
	boostTranscript = 3.0
	boostVisual     = 2.0
	boostSummary    = 1.0
)

// BleveLexicalStore implements LexicalStore with BM25 scoring over the
// scene text fields.
type BleveLexicalStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveScene is the indexed projection of a Scene.
type bleveScene struct {
	TenantID      string   `json:"tenant_id"`
	VideoID       string   `json:"video_id"`
	Transcript    string   `json:"transcript"`
	VisualCaption string   `json:"visual_caption"`
	Summary       string   `json:"summary"`
	Tags          []string `json:"tags"`
}

// validateIndexIntegrity checks a Bleve index directory before opening.
// Returns nil when the index is absent or looks healthy.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveLexicalStore opens or creates the lexical index at path.
// An empty path creates an in-memory index. A corrupted on-disk index is
// cleared and recreated; the scenes must then be reindexed.
func NewBleveLexicalStore(path string) (*BleveLexicalStore, error) {
	indexMapping, err := createSceneMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("lexical_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveLexicalStore{index: idx, path: path}, nil
}

// createSceneMapping builds the index mapping: analyzed text fields with an
// English analyzer, tenant_id kept verbatim for exact filtering.
func createSceneMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(sceneAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			en.StopName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = sceneAnalyzerName

	tenantField := bleve.NewTextFieldMapping()
	tenantField.Analyzer = keyword.Name
	tenantField.IncludeInAll = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("tenant_id", tenantField)
	docMapping.AddFieldMappingsAt("video_id", tenantField)
	docMapping.AddFieldMappingsAt("transcript", textField)
	docMapping.AddFieldMappingsAt("visual_caption", textField)
	docMapping.AddFieldMappingsAt("summary", textField)
	docMapping.AddFieldMappingsAt("tags", textField)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = sceneAnalyzerName
	return indexMapping, nil
}

// Index adds or replaces scenes in one batch.
func (b *BleveLexicalStore) Index(ctx context.Context, scenes []*Scene) error {
	if len(scenes) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, scene := range scenes {
		doc := bleveScene{
			TenantID:      scene.TenantID,
			VideoID:       scene.VideoID,
			Transcript:    scene.Transcript,
			VisualCaption: scene.VisualCaption,
			Summary:       scene.Summary,
			Tags:          scene.Tags,
		}
		if err := batch.Index(scene.ID, doc); err != nil {
			return fmt.Errorf("failed to index scene %s: %w", scene.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search runs a boosted multi-field match query, constrained to the scope.
func (b *BleveLexicalStore) Search(ctx context.Context, scope Scope, queryStr string, k int) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" || k <= 0 {
		return []*LexicalResult{}, nil
	}

	fieldQueries := []query.Query{
		fieldMatch(queryStr, "tags", boostTags),
		fieldMatch(queryStr, "transcript", boostTranscript),
		fieldMatch(queryStr, "visual_caption", boostVisual),
		fieldMatch(queryStr, "summary", boostSummary),
	}
	var q query.Query = bleve.NewDisjunctionQuery(fieldQueries...)

	filters := []query.Query{}
	if scope.TenantID != "" {
		filters = append(filters, exactTerm(scope.TenantID, "tenant_id"))
	}
	if scope.VideoID != "" {
		filters = append(filters, exactTerm(scope.VideoID, "video_id"))
	}
	if len(filters) > 0 {
		q = bleve.NewConjunctionQuery(append(filters, q)...)
	}

	searchRequest := bleve.NewSearchRequest(q)
	searchRequest.Size = k
	searchRequest.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &LexicalResult{
			SceneID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}
	return results, nil
}

func fieldMatch(queryStr, field string, boost float64) query.Query {
	q := bleve.NewMatchQuery(queryStr)
	q.SetField(field)
	q.SetBoost(boost)
	return q
}

func exactTerm(term, field string) query.Query {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	return q
}

// Available reports whether the index can serve queries.
func (b *BleveLexicalStore) Available(ctx context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false
	}
	_, err := b.index.DocCount()
	return err == nil
}

// Delete removes scenes from the index. Unknown IDs are no-ops.
func (b *BleveLexicalStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete scenes: %w", err)
	}
	return nil
}

// Count returns the number of indexed scenes.
func (b *BleveLexicalStore) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("index is closed")
	}
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveLexicalStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// extractMatchedTerms collects the distinct analyzed terms that matched,
// across all text fields.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "tenant_id" {
			continue
		}
		for term := range locations {
			terms[term] = struct{}{}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

var _ LexicalStore = (*BleveLexicalStore)(nil)
