package retrieval

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/framefind/framefind/internal/config"
	ferrors "github.com/framefind/framefind/internal/errors"
	"github.com/framefind/framefind/internal/store"
)

// WeightSumTolerance is the allowed deviation of declared weights from 1.0.
const WeightSumTolerance = config.WeightSumTolerance

// ResolveFusionMethod picks the fusion method for a request. Precedence:
// request override, then the tenant's saved preference, then the system
// default. An invalid request override is rejected; an invalid saved
// preference is ignored with a warning.
func ResolveFusionMethod(req FusionMethod, prefs *store.TenantPreferences, systemDefault string) (FusionMethod, error) {
	if req != "" {
		if !req.Valid() {
			return "", ferrors.InvalidRequest(fmt.Sprintf("unknown fusion method: %s", req))
		}
		return req, nil
	}
	if prefs != nil && prefs.FusionMethod != "" {
		m := FusionMethod(prefs.FusionMethod)
		if m.Valid() {
			return m, nil
		}
		slog.Warn("ignoring invalid tenant fusion method",
			slog.String("tenant_id", prefs.TenantID),
			slog.String("method", prefs.FusionMethod))
	}
	m := FusionMethod(systemDefault)
	if !m.Valid() {
		return "", ferrors.ConfigError(fmt.Sprintf("invalid default fusion method: %s", systemDefault), nil)
	}
	return m, nil
}

// ResolveWeights produces the declared weight vector over the enabled
// channels. Per channel the first non-null source wins: request override,
// then tenant preference, then system default.
//
// Defaults and tenant preferences are renormalized over the enabled set,
// so disabling a channel by configuration never invalidates them. Request
// weights are taken literally: negatives, unknown channels, or a sum off
// 1.0 by more than the tolerance are rejected with InvalidWeights before
// any channel runs.
func ResolveWeights(
	reqWeights map[Channel]float64,
	prefs *store.TenantPreferences,
	defaults map[string]float64,
	enabled []Channel,
) (map[Channel]float64, error) {
	if len(enabled) == 0 {
		return map[Channel]float64{}, nil
	}

	// Base layer: system defaults over the enabled set.
	weights := make(map[Channel]float64, len(enabled))
	for _, c := range enabled {
		weights[c] = defaults[string(c)]
	}
	renormalize(weights)

	// Tenant layer. A tenant's saved weights are advisory: unknown
	// channels are ignored, and the merged map is renormalized.
	if prefs != nil && len(prefs.Weights) > 0 {
		merged := false
		for name, w := range prefs.Weights {
			c := Channel(name)
			if _, ok := weights[c]; !ok || w < 0 {
				slog.Warn("ignoring invalid tenant weight",
					slog.String("tenant_id", prefs.TenantID),
					slog.String("channel", name),
					slog.Float64("weight", w))
				continue
			}
			weights[c] = w
			merged = true
		}
		if merged {
			renormalize(weights)
		}
	}

	// Request layer, validated strictly. A request weight vector is
	// complete: enabled channels it omits get weight zero.
	if len(reqWeights) > 0 {
		for c := range weights {
			weights[c] = 0
		}
		var sum float64
		for c, w := range reqWeights {
			if !c.Valid() {
				return nil, ferrors.InvalidWeights(fmt.Sprintf("unknown channel: %s", c))
			}
			if w < 0 {
				return nil, ferrors.InvalidWeights(fmt.Sprintf("negative weight for channel %s: %g", c, w))
			}
			if _, ok := weights[c]; !ok {
				return nil, ferrors.InvalidWeights(fmt.Sprintf("channel %s is disabled", c))
			}
			weights[c] = w
			sum += w
		}
		if math.Abs(sum-1.0) > WeightSumTolerance {
			return nil, ferrors.InvalidWeights(fmt.Sprintf("weights must sum to 1.0, got %g", sum))
		}
	}

	return weights, nil
}

// Redistribute reallocates the weight of empty channels proportionally
// across the channels that produced candidates. Channels absent from
// nonEmpty contribute nothing. Returns an empty map when no channel has
// candidates or the surviving weight mass is zero.
func Redistribute(declared map[Channel]float64, nonEmpty map[Channel]bool) map[Channel]float64 {
	var sum float64
	for c, w := range declared {
		if nonEmpty[c] {
			sum += w
		}
	}
	if sum <= 0 {
		return map[Channel]float64{}
	}

	effective := make(map[Channel]float64, len(nonEmpty))
	for c, w := range declared {
		if nonEmpty[c] {
			effective[c] = w / sum
		}
	}
	return effective
}

// renormalize scales weights so they sum to 1.0. No-op when the sum is 0.
func renormalize(weights map[Channel]float64) {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return
	}
	for c, w := range weights {
		weights[c] = w / sum
	}
}
