package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)

	assert.Equal(t, "min_max_weighted_mean", cfg.Fusion.MethodDefault)
	assert.Equal(t, 60, cfg.Fusion.RRFConstant)
	assert.Equal(t, 1e-9, cfg.Fusion.MinMaxEpsilon)

	assert.Equal(t, 200, cfg.Retrieval.DenseCandidateK)
	assert.Equal(t, 200, cfg.Retrieval.LexicalCandidateK)
	assert.Equal(t, 10, cfg.Retrieval.DefaultLimit)
	assert.Equal(t, 100, cfg.Retrieval.MaxLimit)
	assert.False(t, cfg.Retrieval.DebugEnabled)

	// All channels enabled with 800ms deadlines
	for _, name := range knownChannels {
		cc, ok := cfg.Channels.ByName(name)
		require.True(t, ok, name)
		assert.True(t, cc.IsEnabled(), name)
		assert.Equal(t, 800, cc.DeadlineMS, name)
	}

	assert.Equal(t, 1536, cfg.Embeddings.TextDimensions)
	assert.Equal(t, 512, cfg.Embeddings.CLIPDimensions)
	assert.Equal(t, "hnsw", cfg.Stores.VectorBackend)
}

func TestNewConfig_DefaultWeightsSumToOne(t *testing.T) {
	cfg := NewConfig()

	var sum float64
	for _, w := range cfg.Fusion.WeightsDefault {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, WeightSumTolerance)
	assert.Len(t, cfg.Fusion.WeightsDefault, 5)
}

func TestValidate_DefaultConfigIsValid(t *testing.T) {
	cfg := NewConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadWeightSum(t *testing.T) {
	cfg := NewConfig()
	cfg.Fusion.WeightsDefault["lexical"] = 0.5 // sum now 1.3

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidate_RejectsUnknownChannelWeight(t *testing.T) {
	cfg := NewConfig()
	cfg.Fusion.WeightsDefault["audio"] = 0.0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel")
}

func TestValidate_RejectsUnknownFusionMethod(t *testing.T) {
	cfg := NewConfig()
	cfg.Fusion.MethodDefault = "borda_count"

	assert.Error(t, cfg.Validate())
}

func TestValidate_DisabledChannelWeightExcludedFromSum(t *testing.T) {
	// Given: clip_visual disabled and its weight redistributed in config
	cfg := NewConfig()
	disabled := false
	cfg.Channels.CLIPVisual.Enabled = &disabled
	cfg.Fusion.WeightsDefault = map[string]float64{
		"transcript":  0.40,
		"visual":      0.20,
		"summary":     0.15,
		"clip_visual": 0.15, // ignored: channel disabled
		"lexical":     0.25,
	}

	// Then: sum over enabled channels is 1.0 and the config validates
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
fusion:
  method_default: reciprocal_rank_fusion
  rrf_constant: 90
retrieval:
  dense_candidate_k: 50
channels:
  clip_visual:
    enabled: false
    deadline_ms: 300
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".framefind.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "reciprocal_rank_fusion", cfg.Fusion.MethodDefault)
	assert.Equal(t, 90, cfg.Fusion.RRFConstant)
	assert.Equal(t, 50, cfg.Retrieval.DenseCandidateK)
	assert.False(t, cfg.Channels.CLIPVisual.IsEnabled())
	assert.Equal(t, 300, cfg.Channels.CLIPVisual.DeadlineMS)
	// Untouched values keep defaults
	assert.Equal(t, 200, cfg.Retrieval.LexicalCandidateK)
	assert.True(t, cfg.Channels.Lexical.IsEnabled())
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".framefind.yaml"), []byte("fusion: ["), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "min_max_weighted_mean", cfg.Fusion.MethodDefault)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FRAMEFIND_FUSION_METHOD", "reciprocal_rank_fusion")
	t.Setenv("FRAMEFIND_RRF_CONSTANT", "30")
	t.Setenv("FRAMEFIND_DEBUG_ENABLED", "true")
	t.Setenv("FRAMEFIND_VECTOR_BACKEND", "qdrant")

	cfg := NewConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "reciprocal_rank_fusion", cfg.Fusion.MethodDefault)
	assert.Equal(t, 30, cfg.Fusion.RRFConstant)
	assert.True(t, cfg.Retrieval.DebugEnabled)
	assert.Equal(t, "qdrant", cfg.Stores.VectorBackend)
}

func TestApplyEnvOverrides_IgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("FRAMEFIND_RRF_CONSTANT", "not-a-number")
	t.Setenv("FRAMEFIND_DENSE_CANDIDATE_K", "-5")

	cfg := NewConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 60, cfg.Fusion.RRFConstant)
	assert.Equal(t, 200, cfg.Retrieval.DenseCandidateK)
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := NewConfig()
	cfg.Fusion.RRFConstant = 42
	require.NoError(t, cfg.WriteYAML(path))

	loaded := NewConfig()
	require.NoError(t, loaded.loadYAML(path))
	assert.Equal(t, 42, loaded.Fusion.RRFConstant)
}

func TestScenesDBPath_DefaultsUnderDataDir(t *testing.T) {
	cfg := NewConfig()
	cfg.Stores.DataDir = "/data/framefind"

	assert.Equal(t, filepath.Join("/data/framefind", "scenes.db"), cfg.ScenesDBPath())
	assert.Equal(t, filepath.Join("/data/framefind", "lexical.bleve"), cfg.LexicalIndexPath())

	cfg.Stores.ScenesPath = "/elsewhere/meta.db"
	assert.Equal(t, "/elsewhere/meta.db", cfg.ScenesDBPath())
}
