package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/framefind/framefind/internal/errors"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "scenes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SaveAndGetScene(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	scene := &Scene{
		ID:            "scene-1",
		TenantID:      "tenant-1",
		VideoID:       "vid-1",
		Title:         "Opening chase",
		StartMS:       15000,
		EndMS:         42000,
		Transcript:    "engines roaring",
		VisualCaption: "cars on a bridge at dusk",
		Summary:       "the chase begins",
		Tags:          []string{"chase", "night"},
		ThumbnailURL:  "https://cdn.example.com/t/scene-1.jpg",
		CreatedAt:     time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveScenes(ctx, []*Scene{scene}))

	got, err := s.GetScene(ctx, "scene-1")
	require.NoError(t, err)
	assert.Equal(t, scene.ID, got.ID)
	assert.Equal(t, scene.TenantID, got.TenantID)
	assert.Equal(t, scene.Title, got.Title)
	assert.Equal(t, scene.StartMS, got.StartMS)
	assert.Equal(t, scene.EndMS, got.EndMS)
	assert.Equal(t, scene.Tags, got.Tags)
	assert.Equal(t, scene.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
}

func TestSQLiteStore_GetSceneNotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetScene(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeSceneNotFound, ferrors.GetCode(err))
}

func TestSQLiteStore_GetScenesBatch(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SaveScenes(ctx, []*Scene{
		{ID: "x", TenantID: "t", VideoID: "v", StartMS: 0, EndMS: 1000},
		{ID: "z", TenantID: "t", VideoID: "v", StartMS: 2000, EndMS: 3000},
	}))

	// "y" was never stored, it is simply absent from the map.
	scenes, err := s.GetScenes(ctx, []string{"x", "y", "z"})
	require.NoError(t, err)

	assert.Len(t, scenes, 2)
	assert.Contains(t, scenes, "x")
	assert.Contains(t, scenes, "z")
	assert.NotContains(t, scenes, "y")
}

func TestSQLiteStore_GetScenesEmptyInput(t *testing.T) {
	s := newTestSQLite(t)

	scenes, err := s.GetScenes(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, scenes)
}

func TestSQLiteStore_SaveScenesUpsert(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SaveScenes(ctx, []*Scene{
		{ID: "a", TenantID: "t", VideoID: "v", Title: "before"},
	}))
	require.NoError(t, s.SaveScenes(ctx, []*Scene{
		{ID: "a", TenantID: "t", VideoID: "v", Title: "after"},
	}))

	got, err := s.GetScene(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_DeleteScenes(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SaveScenes(ctx, []*Scene{
		{ID: "a", TenantID: "t", VideoID: "v"},
		{ID: "b", TenantID: "t", VideoID: "v"},
	}))
	require.NoError(t, s.DeleteScenes(ctx, []string{"a", "unknown"}))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_Preferences(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	// No row yet: nil, nil means "use system defaults"
	prefs, err := s.GetPreferences(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, prefs)

	require.NoError(t, s.SavePreferences(ctx, &TenantPreferences{
		TenantID:     "tenant-1",
		FusionMethod: "reciprocal_rank_fusion",
		Weights: map[string]float64{
			"transcript": 0.5,
			"lexical":    0.5,
		},
	}))

	prefs, err = s.GetPreferences(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, prefs)
	assert.Equal(t, "reciprocal_rank_fusion", prefs.FusionMethod)
	assert.InDelta(t, 0.5, prefs.Weights["transcript"], 1e-9)
	assert.InDelta(t, 0.5, prefs.Weights["lexical"], 1e-9)
	assert.False(t, prefs.UpdatedAt.IsZero())
}

func TestSQLiteStore_PreferencesOverwrite(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SavePreferences(ctx, &TenantPreferences{
		TenantID:     "tenant-1",
		FusionMethod: "reciprocal_rank_fusion",
	}))
	require.NoError(t, s.SavePreferences(ctx, &TenantPreferences{
		TenantID:     "tenant-1",
		FusionMethod: "min_max_weighted_mean",
	}))

	prefs, err := s.GetPreferences(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, prefs)
	assert.Equal(t, "min_max_weighted_mean", prefs.FusionMethod)
	assert.Nil(t, prefs.Weights)
}

func TestSQLiteStore_DeletePreferences(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SavePreferences(ctx, &TenantPreferences{TenantID: "t"}))
	require.NoError(t, s.DeletePreferences(ctx, "t"))

	prefs, err := s.GetPreferences(ctx, "t")
	require.NoError(t, err)
	assert.Nil(t, prefs)
}

func TestSQLiteStore_SavePreferencesRequiresTenant(t *testing.T) {
	s := newTestSQLite(t)

	assert.Error(t, s.SavePreferences(context.Background(), &TenantPreferences{}))
	assert.Error(t, s.SavePreferences(context.Background(), nil))
}

func TestSQLiteStore_PersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenes.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveScenes(ctx, []*Scene{
		{ID: "persist", TenantID: "t", VideoID: "v", Transcript: "kept"},
	}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetScene(ctx, "persist")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Transcript)
}

func TestSQLiteStore_ClosedRejectsOperations(t *testing.T) {
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.Error(t, s.SaveScenes(ctx, []*Scene{{ID: "a"}}))
	_, err = s.GetScenes(ctx, []string{"a"})
	assert.Error(t, err)
	_, err = s.GetPreferences(ctx, "t")
	assert.Error(t, err)
}
