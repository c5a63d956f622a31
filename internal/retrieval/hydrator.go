package retrieval

import (
	"context"
	"log/slog"

	ferrors "github.com/framefind/framefind/internal/errors"
	"github.com/framefind/framefind/internal/store"
)

// SceneReader is the metadata lookup the hydrator needs.
type SceneReader interface {
	GetScenes(ctx context.Context, ids []string) (map[string]*store.Scene, error)
}

// Hydrator turns fused candidates into full results with one batched
// metadata lookup.
type Hydrator struct {
	scenes SceneReader
	logger *slog.Logger
}

// NewHydrator creates a Hydrator backed by the given scene reader.
func NewHydrator(scenes SceneReader, logger *slog.Logger) *Hydrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hydrator{scenes: scenes, logger: logger}
}

// Hydrate fetches scene metadata for fused candidates in a single batch.
// Fused order is preserved. Candidates whose scene record is gone (deleted
// between retrieval and hydration) are dropped, not errored.
func (h *Hydrator) Hydrate(ctx context.Context, fused []*FusedCandidate) ([]*Result, error) {
	if len(fused) == 0 {
		return []*Result{}, nil
	}

	ids := make([]string, len(fused))
	for i, fc := range fused {
		ids[i] = fc.SceneID
	}

	scenes, err := h.scenes.GetScenes(ctx, ids)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeHydrationFailed, "scene metadata lookup failed", err)
	}

	results := make([]*Result, 0, len(fused))
	for _, fc := range fused {
		scene, ok := scenes[fc.SceneID]
		if !ok {
			h.logger.Warn("dropping result with missing scene metadata",
				slog.String("scene_id", fc.SceneID))
			continue
		}
		results = append(results, &Result{
			Scene:      scene,
			FusedScore: fc.FusedScore,
			ScoreType:  fc.ScoreType,
			Debug:      fc.Debug,
		})
	}
	return results, nil
}
