package strategy

import (
	"sort"

	"castd/internal/domain"
)

const (
	priorityWeight = 0.7
	roiWeight      = 0.3
	// Strategies whose combined scores sit within this band are considered
	// tied and fall back to last observed performance.
	tieBand = 5
)

// Rank orders strategies by 0.7 x highest action priority + 0.3 x estimated
// ROI, descending. Near-ties go to the strategy with the better last
// performance. The sort is stable, so equal strategies keep input order.
func Rank(strategies []domain.Strategy) []domain.Strategy {
	ranked := make([]domain.Strategy, len(strategies))
	copy(ranked, strategies)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := combinedScore(ranked[i]), combinedScore(ranked[j])
		diff := si - sj
		if diff < tieBand && diff > -tieBand {
			return lastPerformance(ranked[i]) > lastPerformance(ranked[j])
		}
		return si > sj
	})
	return ranked
}

// Select returns the top limit strategies by rank.
func Select(strategies []domain.Strategy, limit int) []domain.Strategy {
	ranked := Rank(strategies)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func combinedScore(s domain.Strategy) float64 {
	return maxPriority(s)*priorityWeight + s.EstimatedROI*roiWeight
}

func maxPriority(s domain.Strategy) float64 {
	var top float64
	for _, a := range s.Actions {
		if a.PriorityScore > top {
			top = a.PriorityScore
		}
	}
	return top
}

func lastPerformance(s domain.Strategy) float64 {
	if s.LastPerformance == nil {
		return 0
	}
	return *s.LastPerformance
}
