package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/framefind/framefind/internal/config"
	ferrors "github.com/framefind/framefind/internal/errors"
	"github.com/framefind/framefind/internal/store"
)

// TextEmbedder is the slice of the embedder surface the orchestrator needs.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Available(ctx context.Context) bool
}

// VectorSearcher serves one dense channel.
type VectorSearcher interface {
	Search(ctx context.Context, scope store.Scope, query []float32, k int) ([]*store.VectorResult, error)
}

// LexicalSearcher serves the lexical channel.
type LexicalSearcher interface {
	Search(ctx context.Context, scope store.Scope, query string, k int) ([]*store.LexicalResult, error)
	Available(ctx context.Context) bool
}

// PreferencesReader loads per-tenant fusion settings.
type PreferencesReader interface {
	GetPreferences(ctx context.Context, tenantID string) (*store.TenantPreferences, error)
}

// QueryStats is the per-query observation handed to a metrics recorder.
type QueryStats struct {
	Query            string
	Mode             Mode
	FusionMethod     FusionMethod
	Latency          time.Duration
	ResultCount      int
	FailureCount     int
	ChannelLatencies map[Channel]time.Duration
	ChannelCounts    map[Channel]int
}

// MetricsRecorder receives query observations. Implementations must not block.
type MetricsRecorder interface {
	RecordQuery(stats QueryStats)
}

// Deps wires the orchestrator's collaborators. Vectors maps each dense
// channel to its searcher; a channel without an entry is treated as
// disabled regardless of configuration.
type Deps struct {
	TextEmbedder TextEmbedder
	CLIPEmbedder TextEmbedder
	Vectors      map[Channel]VectorSearcher
	Lexical      LexicalSearcher
	Scenes       SceneReader
	Preferences  PreferencesReader
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator runs a query across the enabled channels, fuses the ranked
// lists, and hydrates the winners into full results.
type Orchestrator struct {
	cfg      *config.Config
	text     TextEmbedder
	clip     TextEmbedder
	vectors  map[Channel]VectorSearcher
	lexical  LexicalSearcher
	prefs    PreferencesReader
	hydrator *Hydrator
	fusers   map[FusionMethod]Fuser
	metrics  MetricsRecorder
	logger   *slog.Logger
}

// NewOrchestrator builds an Orchestrator from configuration and wired
// dependencies.
func NewOrchestrator(cfg *config.Config, deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		text:    deps.TextEmbedder,
		clip:    deps.CLIPEmbedder,
		vectors: deps.Vectors,
		lexical: deps.Lexical,
		prefs:   deps.Preferences,
		fusers: map[FusionMethod]Fuser{
			FusionMinMaxWeightedMean: NewMinMaxFuser(cfg.Fusion.MinMaxEpsilon),
			FusionReciprocalRank:     NewRRFFuser(float64(cfg.Fusion.RRFConstant)),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.hydrator = NewHydrator(deps.Scenes, o.logger)
	return o
}

// Retrieve executes one query end to end: validate, resolve fusion
// settings, fan out to the viable channels, fuse, and hydrate.
func (o *Orchestrator) Retrieve(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	limit, threshold, err := o.validate(req)
	if err != nil {
		return nil, err
	}
	debug := req.Debug && o.cfg.Retrieval.DebugEnabled

	prefs := o.loadPreferences(ctx, req.TenantID)

	method, err := ResolveFusionMethod(req.FusionMethod, prefs, o.cfg.Fusion.MethodDefault)
	if err != nil {
		return nil, err
	}

	enabled := o.enabledChannels()
	if len(enabled) == 0 {
		return nil, ferrors.RetrievalUnavailable("no retrieval channels are configured", nil)
	}

	// Declared weights resolve over the configured channel set. Channels
	// that later fail or come back empty are handled by redistribution,
	// never by re-resolving.
	declared, err := ResolveWeights(req.Weights, prefs, o.cfg.Fusion.WeightsDefault, enabled)
	if err != nil {
		return nil, err
	}

	active, failures := o.probeChannels(ctx, enabled)
	mode, err := selectMode(active)
	if err != nil {
		return nil, err
	}

	scope := store.Scope{TenantID: req.TenantID, VideoID: req.VideoScopeID}
	slots := o.fanOut(ctx, active, req.Query, scope, threshold)

	channels := make(map[Channel][]Candidate, len(active))
	nonEmpty := make(map[Channel]bool, len(active))
	counts := make(map[Channel]int, len(active))
	latencies := make(map[Channel]time.Duration, len(active))
	for _, slot := range slots {
		latencies[slot.channel] = slot.elapsed
		if slot.err != nil {
			o.logger.Warn("channel failed, folding to empty",
				slog.String("channel", string(slot.channel)),
				slog.String("code", ferrors.GetCode(slot.err)),
				slog.String("error", slot.err.Error()))
			failures = append(failures, ChannelFailure{
				Channel: slot.channel,
				Code:    ferrors.GetCode(slot.err),
				Message: slot.err.Error(),
			})
			counts[slot.channel] = 0
			continue
		}
		channels[slot.channel] = slot.candidates
		counts[slot.channel] = len(slot.candidates)
		if len(slot.candidates) > 0 {
			nonEmpty[slot.channel] = true
		}
	}

	// Channels that failed the health probe never ran but still count as
	// empty in the response.
	for _, f := range failures {
		if _, ok := counts[f.Channel]; !ok {
			counts[f.Channel] = 0
		}
	}

	if len(nonEmpty) == 0 {
		if len(failures) > 0 {
			return nil, ferrors.RetrievalUnavailable(
				fmt.Sprintf("all channels empty with %d failed", len(failures)), nil)
		}
		// Every channel ran and genuinely found nothing.
		resp := o.buildResponse(req, nil, mode, method, declared, nil, counts, failures, debug, start)
		o.record(resp, failures, latencies, counts)
		return resp, nil
	}

	effective := Redistribute(declared, nonEmpty)
	if len(effective) == 0 {
		// All declared weight sits on empty channels. Nothing to rank.
		resp := o.buildResponse(req, nil, mode, method, declared, effective, counts, failures, debug, start)
		o.record(resp, failures, latencies, counts)
		return resp, nil
	}

	fused := o.fusers[method].Fuse(channels, effective, limit, debug)

	results, err := o.hydrator.Hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}

	resp := o.buildResponse(req, results, mode, method, declared, effective, counts, failures, debug, start)
	o.record(resp, failures, latencies, counts)
	return resp, nil
}

// validate checks the request contract and returns the effective limit and
// dense threshold.
func (o *Orchestrator) validate(req *Request) (limit int, threshold float64, err error) {
	if req == nil {
		return 0, 0, ferrors.InvalidRequest("request must not be nil")
	}
	if strings.TrimSpace(req.Query) == "" {
		return 0, 0, ferrors.New(ferrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if req.TenantID == "" {
		return 0, 0, ferrors.InvalidRequest("tenant_id is required")
	}

	limit = req.Limit
	switch {
	case limit == 0:
		limit = o.cfg.Retrieval.DefaultLimit
	case limit < 0:
		return 0, 0, ferrors.InvalidRequest(fmt.Sprintf("limit must be positive, got %d", limit))
	case limit > o.cfg.Retrieval.MaxLimit:
		return 0, 0, ferrors.InvalidRequest(
			fmt.Sprintf("limit %d exceeds maximum %d", limit, o.cfg.Retrieval.MaxLimit))
	}

	threshold = req.DenseThreshold
	switch {
	case threshold == 0:
		threshold = DefaultDenseThreshold
	case threshold < 0 || threshold > 1:
		return 0, 0, ferrors.InvalidRequest(
			fmt.Sprintf("dense_threshold must be in [0,1], got %g", threshold))
	}

	return limit, threshold, nil
}

// loadPreferences fetches tenant preferences. Lookup failures degrade to
// system defaults rather than failing the query.
func (o *Orchestrator) loadPreferences(ctx context.Context, tenantID string) *store.TenantPreferences {
	if o.prefs == nil {
		return nil
	}
	prefs, err := o.prefs.GetPreferences(ctx, tenantID)
	if err != nil {
		o.logger.Warn("tenant preferences unavailable, using defaults",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()))
		return nil
	}
	return prefs
}

// enabledChannels returns the channels that are both configured on and
// wired to a backend, in fixed order.
func (o *Orchestrator) enabledChannels() []Channel {
	var out []Channel
	for _, c := range AllChannels {
		cc, _ := o.cfg.Channels.ByName(string(c))
		if !cc.IsEnabled() {
			continue
		}
		if c == ChannelLexical {
			if o.lexical == nil {
				continue
			}
		} else if o.vectors[c] == nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// probeChannels splits the enabled channels into runnable and failed based
// on backend health. Dense channels need their embedder; lexical needs its
// index. The health probes run once per embedding space.
func (o *Orchestrator) probeChannels(ctx context.Context, enabled []Channel) (active []Channel, failures []ChannelFailure) {
	textOK := o.text != nil && o.text.Available(ctx)
	clipOK := o.clip != nil && o.clip.Available(ctx)

	for _, c := range enabled {
		switch {
		case c == ChannelLexical:
			if o.lexical.Available(ctx) {
				active = append(active, c)
			} else {
				failures = append(failures, ChannelFailure{
					Channel: c,
					Code:    ferrors.ErrCodeChannelUnavailable,
					Message: "lexical index unavailable",
				})
			}
		case c.ImageAligned():
			if clipOK {
				active = append(active, c)
			} else {
				failures = append(failures, ChannelFailure{
					Channel: c,
					Code:    ferrors.ErrCodeEmbeddingUnavailable,
					Message: "clip embedder unavailable",
				})
			}
		default:
			if textOK {
				active = append(active, c)
			} else {
				failures = append(failures, ChannelFailure{
					Channel: c,
					Code:    ferrors.ErrCodeEmbeddingUnavailable,
					Message: "text embedder unavailable",
				})
			}
		}
	}
	return active, failures
}

// selectMode maps the runnable channel set to a retrieval mode.
func selectMode(active []Channel) (Mode, error) {
	dense := 0
	lexical := false
	for _, c := range active {
		if c.Dense() {
			dense++
		} else {
			lexical = true
		}
	}

	switch {
	case lexical && dense >= 2:
		return ModeMultiChannel, nil
	case lexical && dense == 1:
		return ModeHybrid, nil
	case lexical:
		return ModeLexicalOnly, nil
	case dense >= 1:
		return ModeDenseOnly, nil
	default:
		return "", ferrors.RetrievalUnavailable("no retrieval channel is currently viable", nil)
	}
}

// lazyEmbed computes one embedding on first use and shares it across the
// channels of the same embedding space.
type lazyEmbed struct {
	once sync.Once
	vec  []float32
	err  error
}

func (l *lazyEmbed) get(ctx context.Context, e TextEmbedder, query string) ([]float32, error) {
	l.once.Do(func() {
		l.vec, l.err = e.Embed(ctx, query)
	})
	return l.vec, l.err
}

// fanOut runs every active channel concurrently. Each task captures its own
// outcome and returns nil so one channel's failure never cancels siblings.
func (o *Orchestrator) fanOut(ctx context.Context, active []Channel, query string, scope store.Scope, threshold float64) []channelResult {
	slots := make([]channelResult, len(active))
	textEmbed := &lazyEmbed{}
	clipEmbed := &lazyEmbed{}

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range active {
		i, c := i, c
		g.Go(func() error {
			slots[i] = o.runChannel(gctx, c, query, scope, threshold, textEmbed, clipEmbed)
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

// runChannel executes one channel under its configured deadline.
func (o *Orchestrator) runChannel(ctx context.Context, c Channel, query string, scope store.Scope, threshold float64, textEmbed, clipEmbed *lazyEmbed) channelResult {
	start := time.Now()

	cc, _ := o.cfg.Channels.ByName(string(c))
	if cc.DeadlineMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cc.DeadlineMS)*time.Millisecond)
		defer cancel()
	}

	var candidates []Candidate
	var err error
	if c == ChannelLexical {
		candidates, err = o.runLexical(ctx, query, scope)
	} else {
		candidates, err = o.runDense(ctx, c, query, scope, threshold, textEmbed, clipEmbed)
	}

	return channelResult{
		channel:    c,
		candidates: candidates,
		err:        err,
		elapsed:    time.Since(start),
	}
}

func (o *Orchestrator) runDense(ctx context.Context, c Channel, query string, scope store.Scope, threshold float64, textEmbed, clipEmbed *lazyEmbed) ([]Candidate, error) {
	embedder, lazy := o.text, textEmbed
	if c.ImageAligned() {
		embedder, lazy = o.clip, clipEmbed
	}

	vec, err := lazy.get(ctx, embedder, query)
	if err != nil {
		return nil, ferrors.EmbeddingUnavailable(
			fmt.Sprintf("embedding query for channel %s", c), err)
	}

	hits, err := o.vectors[c].Search(ctx, scope, vec, o.cfg.Retrieval.DenseCandidateK)
	if err != nil {
		return nil, foldChannelError(c, err)
	}

	candidates := make([]Candidate, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		if float64(hit.Score) < threshold {
			continue
		}
		if _, dup := seen[hit.SceneID]; dup {
			return nil, ferrors.InternalError(
				fmt.Sprintf("channel %s returned duplicate scene %s", c, hit.SceneID), nil)
		}
		seen[hit.SceneID] = struct{}{}
		candidates = append(candidates, Candidate{
			SceneID:  hit.SceneID,
			Rank:     len(candidates) + 1,
			RawScore: float64(hit.Score),
		})
	}
	return candidates, nil
}

func (o *Orchestrator) runLexical(ctx context.Context, query string, scope store.Scope) ([]Candidate, error) {
	hits, err := o.lexical.Search(ctx, scope, query, o.cfg.Retrieval.LexicalCandidateK)
	if err != nil {
		return nil, foldChannelError(ChannelLexical, err)
	}

	candidates := make([]Candidate, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		if _, dup := seen[hit.SceneID]; dup {
			return nil, ferrors.InternalError(
				fmt.Sprintf("lexical channel returned duplicate scene %s", hit.SceneID), nil)
		}
		seen[hit.SceneID] = struct{}{}
		candidates = append(candidates, Candidate{
			SceneID:  hit.SceneID,
			Rank:     len(candidates) + 1,
			RawScore: hit.Score,
		})
	}
	return candidates, nil
}

// foldChannelError classifies a channel failure. Deadline overruns become
// timeouts, everything else an unavailable channel, and FrameErrors pass
// through untouched.
func foldChannelError(c Channel, err error) error {
	var fe *ferrors.FrameError
	if errors.As(err, &fe) {
		switch ferrors.GetCode(err) {
		case ferrors.ErrCodeChannelTimeout, ferrors.ErrCodeChannelUnavailable, ferrors.ErrCodeEmbeddingUnavailable:
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ferrors.ChannelTimeout(string(c), err)
	}
	return ferrors.ChannelUnavailable(string(c), err)
}

func (o *Orchestrator) buildResponse(
	req *Request,
	results []*Result,
	mode Mode,
	method FusionMethod,
	declared, effective map[Channel]float64,
	counts map[Channel]int,
	failures []ChannelFailure,
	debug bool,
	start time.Time,
) *Response {
	if results == nil {
		results = []*Result{}
	}

	var activeChannels, emptyChannels []Channel
	for _, c := range AllChannels {
		n, ran := counts[c]
		if !ran {
			continue
		}
		if n > 0 {
			activeChannels = append(activeChannels, c)
		} else {
			emptyChannels = append(emptyChannels, c)
		}
	}

	resp := &Response{
		Query:          req.Query,
		Results:        results,
		Total:          len(results),
		LatencyMS:      time.Since(start).Milliseconds(),
		Mode:           mode,
		FusionMethod:   method,
		FusionWeights:  declared,
		ChannelsActive: activeChannels,
		ChannelsEmpty:  emptyChannels,
	}
	if debug {
		resp.EffectiveWeights = effective
		resp.ChannelCandidateCounts = counts
		resp.Failures = failures
	}
	return resp
}

func (o *Orchestrator) record(resp *Response, failures []ChannelFailure, latencies map[Channel]time.Duration, counts map[Channel]int) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordQuery(QueryStats{
		Query:            resp.Query,
		Mode:             resp.Mode,
		FusionMethod:     resp.FusionMethod,
		Latency:          time.Duration(resp.LatencyMS) * time.Millisecond,
		ResultCount:      resp.Total,
		FailureCount:     len(failures),
		ChannelLatencies: latencies,
		ChannelCounts:    counts,
	})
}
