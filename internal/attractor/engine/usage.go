package engine

import (
	"math"
	"strings"
)

// UsageEntry is one attempt's worth of usage metrics, in the order attempts
// actually ran.
type UsageEntry struct {
	StageID string
	Attempt int
	Metrics map[string]float64
}

// RunUsageSummary is the aggregate usage for an entire run. It is always
// produced, even for a run with zero completed stages.
type RunUsageSummary struct {
	Entries []UsageEntry
	Totals  map[string]float64
}

// UsageAggregator accumulates per-attempt usage across a run. Each attempt's
// usage is read exclusively from that attempt's own outcome.ContextUpdates
// (never from the shared run context), so a stage's usage is never
// attributed to it twice.
type UsageAggregator struct {
	entries []UsageEntry
}

// RecordAttempt extracts "<stageID>.usage.*" keys from updates, coercing
// non-finite/non-numeric values to 0, and appends one UsageEntry only when
// at least one extracted metric is non-zero.
func (u *UsageAggregator) RecordAttempt(stageID string, attempt int, updates map[string]any) {
	prefix := stageID + ".usage."
	metrics := map[string]float64{}
	nonZero := false
	for k, v := range updates {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		name := strings.TrimPrefix(k, prefix)
		metrics[name] = coerceFloat(v)
		if metrics[name] != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return
	}
	u.entries = append(u.entries, UsageEntry{StageID: stageID, Attempt: attempt, Metrics: metrics})
}

// Summary returns the always-present run usage summary.
func (u *UsageAggregator) Summary() RunUsageSummary {
	totals := map[string]float64{}
	for _, e := range u.entries {
		for k, v := range e.Metrics {
			totals[k] += v
		}
	}
	return RunUsageSummary{Entries: append([]UsageEntry{}, u.entries...), Totals: totals}
}

func coerceFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		if isFinite(t) {
			return t
		}
		return 0
	case float32:
		f := float64(t)
		if isFinite(f) {
			return f
		}
		return 0
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
