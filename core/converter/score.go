package converter

// Score computes the fidelity score from parse bookkeeping:
// mapped/(mapped+unmapped), penalized by 0.1 per error and 0.05 per
// warning, clamped to [0,1]. A parse that mapped nothing scores 0 unless
// it also saw nothing, in which case an empty input round-trips perfectly
// and scores 1.
//
// The formula is a process-local heuristic, not a standardized metric;
// only "higher is better" and the [0,1] range are contractual.
func Score(mapped, unmapped, errorCount, warningCount int) float64 {
	var score float64
	total := mapped + unmapped
	if total == 0 {
		score = 1.0
	} else {
		score = float64(mapped) / float64(total)
	}
	score -= 0.1 * float64(errorCount)
	score -= 0.05 * float64(warningCount)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
