// Package retrieval implements the query-time core: multi-channel fan-out,
// score fusion, weight resolution, and result hydration. Given a tenant
// scoped query it returns a single ranked list of scenes assembled from up
// to five independent retrieval channels.
package retrieval

import (
	"time"

	"github.com/framefind/framefind/internal/store"
)

// Channel identifies one retrieval signal. The set is closed.
type Channel string

const (
	// ChannelTranscript searches 1536-d embeddings of the spoken transcript.
	ChannelTranscript Channel = "transcript"

	// ChannelVisual searches 1536-d embeddings of the visual caption.
	ChannelVisual Channel = "visual"

	// ChannelSummary searches 1536-d embeddings of the scene summary.
	ChannelSummary Channel = "summary"

	// ChannelCLIPVisual searches 512-d CLIP text embeddings aligned with
	// the scene's frames.
	ChannelCLIPVisual Channel = "clip_visual"

	// ChannelLexical is BM25 keyword search over the scene text fields.
	ChannelLexical Channel = "lexical"
)

// AllChannels lists every channel in its fixed, documented order. This
// order also decides which dense channel supplies rank tie-breaks.
var AllChannels = []Channel{
	ChannelTranscript,
	ChannelVisual,
	ChannelSummary,
	ChannelCLIPVisual,
	ChannelLexical,
}

// Valid reports whether c names a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelTranscript, ChannelVisual, ChannelSummary, ChannelCLIPVisual, ChannelLexical:
		return true
	}
	return false
}

// Dense reports whether the channel retrieves by vector similarity.
func (c Channel) Dense() bool {
	return c != ChannelLexical && c.Valid()
}

// ImageAligned reports whether the channel uses the CLIP embedding space.
func (c Channel) ImageAligned() bool {
	return c == ChannelCLIPVisual
}

// FusionMethod selects how channel scores are combined.
type FusionMethod string

const (
	FusionMinMaxWeightedMean FusionMethod = "min_max_weighted_mean"
	FusionReciprocalRank     FusionMethod = "reciprocal_rank_fusion"
)

// Valid reports whether m names a known fusion method.
func (m FusionMethod) Valid() bool {
	return m == FusionMinMaxWeightedMean || m == FusionReciprocalRank
}

// ScoreType records which scoring path produced a fused score.
type ScoreType string

const (
	ScoreMinMaxMean  ScoreType = "min_max_mean"
	ScoreRRF         ScoreType = "rrf"
	ScoreDenseOnly   ScoreType = "dense_only"
	ScoreLexicalOnly ScoreType = "lexical_only"
)

// Candidate is one ranked hit from one channel. Rank is 1-indexed within
// the channel; RawScore is on the channel's native scale (cosine similarity
// for dense channels, BM25 for lexical).
type Candidate struct {
	SceneID  string
	Rank     int
	RawScore float64
}

// ChannelDebug is the per-channel attribution attached to a fused result
// when debug output is requested.
type ChannelDebug struct {
	Raw          float64 `json:"raw"`
	Norm         float64 `json:"norm"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Rank         int     `json:"rank"`
	Present      bool    `json:"present"`
}

// FusedCandidate is a scored, ordered scene identifier produced by fusion.
type FusedCandidate struct {
	SceneID    string
	FusedScore float64
	ScoreType  ScoreType

	// Debug is nil unless debug output was requested.
	Debug map[Channel]*ChannelDebug
}

// Request is the query input contract.
type Request struct {
	// Query is the natural-language query text. Required.
	Query string

	// TenantID scopes every channel to one tenant. Required.
	TenantID string

	// VideoScopeID optionally restricts retrieval to one parent video.
	VideoScopeID string

	// Limit is the requested result count, 1..max_limit. Zero means the
	// configured default.
	Limit int

	// DenseThreshold is the minimum cosine similarity for dense channels.
	// Zero means the default (0.2).
	DenseThreshold float64

	// FusionMethod overrides the tenant and system fusion method.
	FusionMethod FusionMethod

	// Weights overrides the tenant and system channel weights. When set it
	// must cover the enabled channels and sum to 1.0.
	Weights map[Channel]float64

	// Debug requests per-channel attribution in the response.
	Debug bool
}

// DefaultDenseThreshold is applied when a request leaves the threshold unset.
const DefaultDenseThreshold = 0.2

// Mode is the retrieval strategy the orchestrator selected for a request.
type Mode string

const (
	// ModeMultiChannel fans out to every enabled channel.
	ModeMultiChannel Mode = "multi_channel"

	// ModeHybrid runs a single dense channel plus lexical.
	ModeHybrid Mode = "hybrid"

	// ModeLexicalOnly runs only the lexical channel (embedder unreachable).
	ModeLexicalOnly Mode = "lexical_only"

	// ModeDenseOnly runs only dense channels (lexical store unreachable).
	ModeDenseOnly Mode = "dense_only"
)

// ChannelFailure records why a channel contributed nothing to a response.
type ChannelFailure struct {
	Channel Channel `json:"channel"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}

// Result is one hydrated search hit.
type Result struct {
	Scene      *store.Scene              `json:"scene"`
	FusedScore float64                   `json:"fused_score"`
	ScoreType  ScoreType                 `json:"score_type"`
	Debug      map[Channel]*ChannelDebug `json:"debug,omitempty"`
}

// Response is the full query outcome.
type Response struct {
	Query        string       `json:"query"`
	Results      []*Result    `json:"results"`
	Total        int          `json:"total"`
	LatencyMS    int64        `json:"latency_ms"`
	Mode         Mode         `json:"mode"`
	FusionMethod FusionMethod `json:"fusion_method"`

	// FusionWeights are the declared weights after resolution, before any
	// empty-channel redistribution.
	FusionWeights map[Channel]float64 `json:"fusion_weights"`

	// EffectiveWeights are the post-redistribution weights. Debug only.
	EffectiveWeights map[Channel]float64 `json:"effective_weights,omitempty"`

	// ChannelCandidateCounts is the per-channel candidate count. Debug only.
	ChannelCandidateCounts map[Channel]int `json:"channel_candidate_counts,omitempty"`

	ChannelsActive []Channel `json:"channels_active"`
	ChannelsEmpty  []Channel `json:"channels_empty"`

	// Failures lists folded per-channel errors. Debug only.
	Failures []ChannelFailure `json:"failures,omitempty"`
}

// channelResult is the outcome of one channel task.
type channelResult struct {
	channel    Channel
	candidates []Candidate
	err        error
	elapsed    time.Duration
}
