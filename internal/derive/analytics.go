package derive

import (
	"math"
	"slices"
)

// computeStreak derives current and longest runs from a set of service-day
// numbers. The current streak counts back from today, or from yesterday when
// today has no entry yet, so an unbroken run survives until the day ends.
func computeStreak(days map[int64]struct{}, today int64) Streak {
	if len(days) == 0 {
		return Streak{}
	}

	var s Streak
	cursor := today
	if _, ok := days[cursor]; !ok {
		cursor--
	}
	for {
		if _, ok := days[cursor]; !ok {
			break
		}
		s.Current++
		cursor--
	}

	sorted := make([]int64, 0, len(days))
	for d := range days {
		sorted = append(sorted, d)
	}
	slices.Sort(sorted)

	run := 0
	for i, d := range sorted {
		if i > 0 && d == sorted[i-1]+1 {
			run++
		} else {
			run = 1
		}
		s.Longest = max(s.Longest, run)
	}
	return s
}

// normalizeScores maps raw per-category accumulators onto [0,1].
func normalizeScores(raw map[string]float64, ceiling float64) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for cat, v := range raw {
		out[cat] = clamp(v/ceiling, 0, 1)
	}
	return out
}

// diminishingReturns shrinks rewards as capacity approaches the ceiling.
func diminishingReturns(capacity, maxCapacity, exponent float64) float64 {
	return math.Pow(math.Max(0, 1-capacity/maxCapacity), exponent)
}

// Reward computes the capacity reward for closing a goal at the given
// capacity. Unknown classes or results contribute a zero multiplier.
func Reward(r Rules, durationClass, difficultyClass string, result int, capacity float64) float64 {
	return r.BaseReward[durationClass] *
		r.DifficultyMultiplier[difficultyClass] *
		r.ResultMultiplier[result] *
		diminishingReturns(capacity, r.MaxCapacity, r.DiminishingExponent)
}

// round2 rounds to two decimal places so repeated replays on different
// platforms do not drift.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}
