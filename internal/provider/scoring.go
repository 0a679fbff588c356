package provider

// CalculateScore computes an endpoint's health score: a base of 100
// minus a latency penalty, an error penalty, and a block-lag penalty,
// clamped to [0, 100].
func CalculateScore(latencyMs *int, consecutiveFailures, blockLag int) int {
	latencyPenalty := 0.0
	if latencyMs != nil && *latencyMs > 200 {
		latencyPenalty = float64(*latencyMs-200) / 50
		if latencyPenalty > 30 {
			latencyPenalty = 30
		}
	}

	errorPenalty := float64(consecutiveFailures * 25)
	if errorPenalty > 75 {
		errorPenalty = 75
	}

	blockLagPenalty := float64(blockLag * 10)

	score := 100 - latencyPenalty - errorPenalty - blockLagPenalty
	if score < 0 {
		score = 0
	}
	return int(score)
}

// ScoreToStatus maps a 0-100 score to the endpoint status string.
func ScoreToStatus(score int) string {
	switch {
	case score > 80:
		return "healthy"
	case score > 50:
		return "degraded"
	default:
		return "unhealthy"
	}
}
