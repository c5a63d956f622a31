package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/framefind/framefind/internal/errors"
	"github.com/framefind/framefind/internal/store"
)

var systemDefaults = map[string]float64{
	"transcript":  0.30,
	"visual":      0.20,
	"summary":     0.15,
	"clip_visual": 0.15,
	"lexical":     0.20,
}

func TestResolveFusionMethod_RequestWins(t *testing.T) {
	prefs := &store.TenantPreferences{TenantID: "t", FusionMethod: string(FusionMinMaxWeightedMean)}

	m, err := ResolveFusionMethod(FusionReciprocalRank, prefs, string(FusionMinMaxWeightedMean))
	require.NoError(t, err)
	assert.Equal(t, FusionReciprocalRank, m)
}

func TestResolveFusionMethod_InvalidRequestRejected(t *testing.T) {
	_, err := ResolveFusionMethod("cosine_blend", nil, string(FusionMinMaxWeightedMean))
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidRequest, ferrors.GetCode(err))
}

func TestResolveFusionMethod_TenantPreference(t *testing.T) {
	prefs := &store.TenantPreferences{TenantID: "t", FusionMethod: string(FusionReciprocalRank)}

	m, err := ResolveFusionMethod("", prefs, string(FusionMinMaxWeightedMean))
	require.NoError(t, err)
	assert.Equal(t, FusionReciprocalRank, m)
}

func TestResolveFusionMethod_InvalidPreferenceIgnored(t *testing.T) {
	prefs := &store.TenantPreferences{TenantID: "t", FusionMethod: "legacy_blend"}

	m, err := ResolveFusionMethod("", prefs, string(FusionMinMaxWeightedMean))
	require.NoError(t, err)
	assert.Equal(t, FusionMinMaxWeightedMean, m)
}

func TestResolveFusionMethod_InvalidDefaultFails(t *testing.T) {
	_, err := ResolveFusionMethod("", nil, "nonsense")
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeConfigInvalid, ferrors.GetCode(err))
}

func TestResolveWeights_DefaultsRenormalizedOverEnabled(t *testing.T) {
	// Only transcript and lexical are enabled; defaults 0.30 and 0.20
	// renormalize to 0.6 and 0.4.
	weights, err := ResolveWeights(nil, nil, systemDefaults,
		[]Channel{ChannelTranscript, ChannelLexical})
	require.NoError(t, err)

	assert.InDelta(t, 0.6, weights[ChannelTranscript], 1e-9)
	assert.InDelta(t, 0.4, weights[ChannelLexical], 1e-9)
	assert.Len(t, weights, 2)
}

func TestResolveWeights_FullChannelSetSumsToOne(t *testing.T) {
	weights, err := ResolveWeights(nil, nil, systemDefaults, AllChannels)
	require.NoError(t, err)

	var sum float64
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, WeightSumTolerance)
}

func TestResolveWeights_TenantOverlay(t *testing.T) {
	prefs := &store.TenantPreferences{
		TenantID: "t",
		Weights:  map[string]float64{"transcript": 0.9, "lexical": 0.1},
	}

	weights, err := ResolveWeights(nil, prefs, systemDefaults,
		[]Channel{ChannelTranscript, ChannelLexical})
	require.NoError(t, err)

	assert.InDelta(t, 0.9, weights[ChannelTranscript], 1e-9)
	assert.InDelta(t, 0.1, weights[ChannelLexical], 1e-9)
}

func TestResolveWeights_TenantUnknownChannelIgnored(t *testing.T) {
	prefs := &store.TenantPreferences{
		TenantID: "t",
		Weights:  map[string]float64{"hologram": 0.5, "transcript": 0.5, "lexical": 0.5},
	}

	weights, err := ResolveWeights(nil, prefs, systemDefaults,
		[]Channel{ChannelTranscript, ChannelLexical})
	require.NoError(t, err)

	// The unknown channel is dropped and the rest renormalized.
	assert.InDelta(t, 0.5, weights[ChannelTranscript], 1e-9)
	assert.InDelta(t, 0.5, weights[ChannelLexical], 1e-9)
}

func TestResolveWeights_RequestIsComplete(t *testing.T) {
	// A request vector naming one channel puts zero on the others.
	weights, err := ResolveWeights(
		map[Channel]float64{ChannelTranscript: 1.0},
		nil, systemDefaults,
		[]Channel{ChannelTranscript, ChannelLexical})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, weights[ChannelTranscript], 1e-9)
	assert.InDelta(t, 0.0, weights[ChannelLexical], 1e-9)
}

func TestResolveWeights_RequestSumOffOne(t *testing.T) {
	_, err := ResolveWeights(
		map[Channel]float64{ChannelTranscript: 0.5, ChannelLexical: 0.4},
		nil, systemDefaults,
		[]Channel{ChannelTranscript, ChannelLexical})
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidWeights, ferrors.GetCode(err))
}

func TestResolveWeights_RequestUnknownChannel(t *testing.T) {
	_, err := ResolveWeights(
		map[Channel]float64{"hologram": 1.0},
		nil, systemDefaults,
		[]Channel{ChannelTranscript, ChannelLexical})
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidWeights, ferrors.GetCode(err))
}

func TestResolveWeights_RequestNegativeWeight(t *testing.T) {
	_, err := ResolveWeights(
		map[Channel]float64{ChannelTranscript: 1.2, ChannelLexical: -0.2},
		nil, systemDefaults,
		[]Channel{ChannelTranscript, ChannelLexical})
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidWeights, ferrors.GetCode(err))
}

func TestResolveWeights_RequestDisabledChannel(t *testing.T) {
	_, err := ResolveWeights(
		map[Channel]float64{ChannelVisual: 1.0},
		nil, systemDefaults,
		[]Channel{ChannelTranscript, ChannelLexical})
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidWeights, ferrors.GetCode(err))
}

func TestResolveWeights_ToleranceAccepted(t *testing.T) {
	weights, err := ResolveWeights(
		map[Channel]float64{ChannelTranscript: 0.5 + 4e-7, ChannelLexical: 0.5},
		nil, systemDefaults,
		[]Channel{ChannelTranscript, ChannelLexical})
	require.NoError(t, err)
	assert.Len(t, weights, 2)
}

func TestResolveWeights_NoEnabledChannels(t *testing.T) {
	weights, err := ResolveWeights(nil, nil, systemDefaults, nil)
	require.NoError(t, err)
	assert.Empty(t, weights)
}

func TestRedistribute_ProportionalShift(t *testing.T) {
	declared := map[Channel]float64{
		ChannelTranscript: 0.5,
		ChannelVisual:     0.3,
		ChannelLexical:    0.2,
	}

	// Visual came back empty: its 0.3 spreads over transcript and lexical.
	effective := Redistribute(declared, map[Channel]bool{
		ChannelTranscript: true,
		ChannelLexical:    true,
	})

	require.Len(t, effective, 2)
	assert.InDelta(t, 0.5/0.7, effective[ChannelTranscript], 1e-9)
	assert.InDelta(t, 0.2/0.7, effective[ChannelLexical], 1e-9)
}

func TestRedistribute_AllEmpty(t *testing.T) {
	declared := map[Channel]float64{ChannelTranscript: 0.5, ChannelLexical: 0.5}
	assert.Empty(t, Redistribute(declared, map[Channel]bool{}))
}

func TestRedistribute_NoSurvivingMass(t *testing.T) {
	// All declared weight sits on the empty channel.
	declared := map[Channel]float64{ChannelTranscript: 1.0, ChannelLexical: 0.0}
	effective := Redistribute(declared, map[Channel]bool{ChannelLexical: true})
	assert.Empty(t, effective)
}

func TestRedistribute_NoOpWhenAllPresent(t *testing.T) {
	declared := map[Channel]float64{
		ChannelTranscript: 0.5,
		ChannelVisual:     0.3,
		ChannelLexical:    0.2,
	}
	effective := Redistribute(declared, map[Channel]bool{
		ChannelTranscript: true,
		ChannelVisual:     true,
		ChannelLexical:    true,
	})
	assert.InDelta(t, 0.5, effective[ChannelTranscript], 1e-9)
	assert.InDelta(t, 0.3, effective[ChannelVisual], 1e-9)
	assert.InDelta(t, 0.2, effective[ChannelLexical], 1e-9)
}
