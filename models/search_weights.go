package models

// SearchWeights is the per-tier weighting applied by query_memory's
// hybrid ranker. Weights need not sum to exactly 1.0 on input — callers
// auto-renormalize via Normalized().
type SearchWeights struct {
	L2Weight float64
	L3Weight float64
	L4Weight float64
}

// DefaultSearchWeights matches the spec's default (0.3, 0.5, 0.2) split
// across L2/L3/L4.
func DefaultSearchWeights() SearchWeights {
	return SearchWeights{L2Weight: 0.3, L3Weight: 0.5, L4Weight: 0.2}
}

// Normalized returns w scaled so its components sum to 1.0. If all
// components are zero, it returns the defaults rather than dividing by
// zero.
func (w SearchWeights) Normalized() SearchWeights {
	sum := w.L2Weight + w.L3Weight + w.L4Weight
	if sum <= 0 {
		return DefaultSearchWeights()
	}
	return SearchWeights{
		L2Weight: w.L2Weight / sum,
		L3Weight: w.L3Weight / sum,
		L4Weight: w.L4Weight / sum,
	}
}
