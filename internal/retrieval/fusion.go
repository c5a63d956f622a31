package retrieval

import (
	"math"
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = 60.0

// DefaultMinMaxEpsilon pads the min-max denominator against division by a
// vanishing score spread.
const DefaultMinMaxEpsilon = 1e-9

// Fuser combines per-channel candidate lists into one ordered list.
// Implementations are pure: no I/O, deterministic under fixed inputs and
// invariant to the order channels completed in.
type Fuser interface {
	Method() FusionMethod

	// Fuse reduces the candidate lists to at most limit FusedCandidates,
	// ordered best first. weights is the post-redistribution weight vector;
	// channels without candidates must already be absent from it.
	Fuse(channels map[Channel][]Candidate, weights map[Channel]float64, limit int, debug bool) []*FusedCandidate
}

// MinMaxFuser normalizes each channel's raw scores to [0,1] by min-max and
// sums them under the weight vector.
type MinMaxFuser struct {
	Epsilon float64
}

// NewMinMaxFuser creates a MinMaxFuser. A non-positive epsilon falls back
// to the default.
func NewMinMaxFuser(epsilon float64) *MinMaxFuser {
	if epsilon <= 0 {
		epsilon = DefaultMinMaxEpsilon
	}
	return &MinMaxFuser{Epsilon: epsilon}
}

func (f *MinMaxFuser) Method() FusionMethod { return FusionMinMaxWeightedMean }

func (f *MinMaxFuser) Fuse(channels map[Channel][]Candidate, weights map[Channel]float64, limit int, debug bool) []*FusedCandidate {
	if single, ok := singleChannel(channels); ok {
		return fuseSingle(single, channels[single], limit, debug)
	}

	acc := newAccumulator(debug, weights)
	for _, c := range AllChannels {
		cands := channels[c]
		if len(cands) == 0 {
			continue
		}

		minRaw, maxRaw := scoreRange(cands)
		for _, cand := range cands {
			var norm float64
			if maxRaw == minRaw {
				// Degenerate spread, including single-candidate lists.
				norm = 1.0
			} else {
				norm = (cand.RawScore - minRaw) / (maxRaw - minRaw + f.Epsilon)
			}
			acc.add(c, cand, norm, weights[c])
		}
	}

	return acc.finish(ScoreMinMaxMean, limit)
}

// RRFFuser combines channels by reciprocal rank, ignoring raw scores.
// Robust to incomparable score scales at the cost of score magnitude.
type RRFFuser struct {
	K float64
}

// NewRRFFuser creates an RRFFuser. A non-positive k falls back to 60.
func NewRRFFuser(k float64) *RRFFuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFuser{K: k}
}

func (f *RRFFuser) Method() FusionMethod { return FusionReciprocalRank }

func (f *RRFFuser) Fuse(channels map[Channel][]Candidate, weights map[Channel]float64, limit int, debug bool) []*FusedCandidate {
	if single, ok := singleChannel(channels); ok {
		return fuseSingle(single, channels[single], limit, debug)
	}

	acc := newAccumulator(debug, weights)
	for _, c := range AllChannels {
		cands := channels[c]
		if len(cands) == 0 {
			continue
		}
		for _, cand := range cands {
			norm := 1.0 / (f.K + float64(cand.Rank))
			acc.add(c, cand, norm, weights[c])
		}
	}

	return acc.finish(ScoreRRF, limit)
}

// singleChannel reports whether exactly one channel has candidates.
func singleChannel(channels map[Channel][]Candidate) (Channel, bool) {
	var found Channel
	count := 0
	for _, c := range AllChannels {
		if len(channels[c]) > 0 {
			found = c
			count++
		}
	}
	return found, count == 1
}

// fuseSingle handles the degenerate one-channel case: dense scores pass
// through unchanged, lexical scores map to a position-wise [0,1] scale.
func fuseSingle(channel Channel, cands []Candidate, limit int, debug bool) []*FusedCandidate {
	scoreType := ScoreDenseOnly
	if channel == ChannelLexical {
		scoreType = ScoreLexicalOnly
	}

	n := len(cands)
	results := make([]*FusedCandidate, 0, n)
	for _, cand := range cands {
		score := cand.RawScore
		if channel == ChannelLexical {
			score = float64(n-cand.Rank+1) / float64(n)
		}

		fc := &FusedCandidate{
			SceneID:    cand.SceneID,
			FusedScore: score,
			ScoreType:  scoreType,
		}
		if debug {
			fc.Debug = map[Channel]*ChannelDebug{
				channel: {
					Raw:          cand.RawScore,
					Norm:         score,
					Weight:       1.0,
					Contribution: score,
					Rank:         cand.Rank,
					Present:      true,
				},
			}
		}
		results = append(results, fc)
	}

	sortFused(results, rankIndex(channel, ChannelTranscript, cands), rankIndex(channel, ChannelLexical, cands))
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// rankIndex builds the per-scene rank map for the tie-break channel when
// the single active channel happens to be it.
func rankIndex(active, want Channel, cands []Candidate) map[string]int {
	if active != want {
		return map[string]int{}
	}
	ranks := make(map[string]int, len(cands))
	for _, c := range cands {
		ranks[c.SceneID] = c.Rank
	}
	return ranks
}

// accumulator gathers weighted contributions per scene across channels.
type accumulator struct {
	byID    map[string]*FusedCandidate
	order   []string // insertion order, for reproducible construction
	tRank   map[string]int
	lexRank map[string]int
	debug   bool
	weights map[Channel]float64
}

func newAccumulator(debug bool, weights map[Channel]float64) *accumulator {
	return &accumulator{
		byID:    make(map[string]*FusedCandidate),
		tRank:   make(map[string]int),
		lexRank: make(map[string]int),
		debug:   debug,
		weights: weights,
	}
}

func (a *accumulator) add(channel Channel, cand Candidate, norm, weight float64) {
	fc, ok := a.byID[cand.SceneID]
	if !ok {
		fc = &FusedCandidate{SceneID: cand.SceneID}
		if a.debug {
			fc.Debug = make(map[Channel]*ChannelDebug, len(a.weights))
		}
		a.byID[cand.SceneID] = fc
		a.order = append(a.order, cand.SceneID)
	}

	contribution := weight * norm
	fc.FusedScore += contribution

	switch channel {
	case ChannelTranscript:
		a.tRank[cand.SceneID] = cand.Rank
	case ChannelLexical:
		a.lexRank[cand.SceneID] = cand.Rank
	}

	if a.debug {
		fc.Debug[channel] = &ChannelDebug{
			Raw:          cand.RawScore,
			Norm:         norm,
			Weight:       weight,
			Contribution: contribution,
			Rank:         cand.Rank,
			Present:      true,
		}
	}
}

func (a *accumulator) finish(scoreType ScoreType, limit int) []*FusedCandidate {
	results := make([]*FusedCandidate, 0, len(a.byID))
	for _, id := range a.order {
		fc := a.byID[id]
		fc.ScoreType = scoreType
		if a.debug {
			// Absent channels still get an attribution entry.
			for c, w := range a.weights {
				if _, ok := fc.Debug[c]; !ok {
					fc.Debug[c] = &ChannelDebug{Weight: w}
				}
			}
		}
		results = append(results, fc)
	}

	sortFused(results, a.tRank, a.lexRank)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// sortFused orders results by the deterministic ranking key: fused score
// descending, then transcript rank ascending (absent last), then lexical
// rank ascending (absent last), then scene ID. The transcript channel is
// the fixed dense tie-break source.
func sortFused(results []*FusedCandidate, tRank, lexRank map[string]int) {
	rankOf := func(m map[string]int, id string) int {
		if r, ok := m[id]; ok {
			return r
		}
		return math.MaxInt
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		ta, tb := rankOf(tRank, a.SceneID), rankOf(tRank, b.SceneID)
		if ta != tb {
			return ta < tb
		}
		la, lb := rankOf(lexRank, a.SceneID), rankOf(lexRank, b.SceneID)
		if la != lb {
			return la < lb
		}
		return a.SceneID < b.SceneID
	})
}

// scoreRange returns the min and max raw scores in a candidate list.
func scoreRange(cands []Candidate) (minRaw, maxRaw float64) {
	minRaw, maxRaw = cands[0].RawScore, cands[0].RawScore
	for _, c := range cands[1:] {
		if c.RawScore < minRaw {
			minRaw = c.RawScore
		}
		if c.RawScore > maxRaw {
			maxRaw = c.RawScore
		}
	}
	return minRaw, maxRaw
}
