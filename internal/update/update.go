package update

import "math"

// #region weights
// AgeWeight grows with the number of updates the cell has absorbed, so well-visited
// cells move slowly.
func AgeWeight(cellUpdates uint64) float64 {
	return 1 + 2*math.Log10(float64(cellUpdates)+2)
}

// CuriosityWeight grows with the number of updates the row has absorbed.
func CuriosityWeight(rowUpdates uint64) float64 {
	return 1 + math.Log10(float64(rowUpdates)+2)
}

// WeightedScore folds one reward into an existing score estimate.
func WeightedScore(old, reward float64, cellUpdates, rowUpdates uint64) float64 {
	age := AgeWeight(cellUpdates)
	return (old*age + reward*CuriosityWeight(rowUpdates)) / (age + 1)
}

// #endregion weights

// #region update-function
// Apply is a pure function computing the new rows of one action signature from the
// existing rows (keyed by horizon), the rewards per horizon, and the cell's update count.
// Missing horizons are created with the reward as their score. Every updated row bumps
// both its own count and the running cell count seen by the next horizon.
func Apply(existing map[int]Row, rewards []float64, cellUpdates uint64) Result {
	res := Result{
		Rows:      make([]Row, 0, len(rewards)),
		Decisions: make([]Decision, 0, len(rewards)),
		BestScore: math.Inf(1),
	}
	count := cellUpdates

	for h, reward := range rewards {
		old, ok := existing[h]
		if !ok {
			res.Rows = append(res.Rows, Row{Horizon: h, Score: reward})
			res.Decisions = append(res.Decisions, Decision{Horizon: h, Action: "create", After: reward})
			res.BestScore = math.Min(res.BestScore, reward)
			continue
		}

		score := WeightedScore(old.Score, reward, count, old.UpdateCount)
		res.Rows = append(res.Rows, Row{Horizon: h, Score: score, UpdateCount: old.UpdateCount + 1})
		res.Decisions = append(res.Decisions, Decision{Horizon: h, Action: "update", Before: old.Score, After: score})
		res.BestScore = math.Min(res.BestScore, score)
		count++
		res.CellIncrement++
	}
	return res
}

// #endregion update-function

// #region rubber-band
// Band pulls a score above the target toward it by the decay fraction. Scores at or
// below the target, and any score when banding is disabled, are returned unchanged.
func Band(score float64, rb RubberBanding) (float64, bool) {
	if !rb.Enabled || rb.Decay <= 0 || score <= rb.TargetScore {
		return score, false
	}
	return score*(1-rb.Decay) + rb.TargetScore*rb.Decay, true
}

// #endregion rubber-band
