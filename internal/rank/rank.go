// Package rank maps an accumulated civic point total to a named tier.
// Rank is derived state: every code path that changes a user's points
// recomputes and persists the rank through this table, never directly.
package rank

type Rank string

const (
	Citizen  Rank = "Citizen"
	Helper   Rank = "Helper"
	Champion Rank = "Champion"
	Hero     Rank = "Hero"
	Legend   Rank = "Legend"
)

type threshold struct {
	min  int
	rank Rank
}

// Highest threshold first so the lookup returns the first tier whose
// inclusive lower bound is met.
var thresholds = []threshold{
	{10000, Legend},
	{5000, Hero},
	{2000, Champion},
	{500, Helper},
	{0, Citizen},
}

// RankFor returns the tier for a point total. Total over all non-negative
// inputs and monotonic non-decreasing; negative inputs clamp to Citizen.
func RankFor(points int) Rank {
	for _, t := range thresholds {
		if points >= t.min {
			return t.rank
		}
	}
	return Citizen
}

// All lists the tiers in ascending order with their inclusive lower bounds.
func All() []struct {
	Min  int
	Rank Rank
} {
	out := make([]struct {
		Min  int
		Rank Rank
	}, 0, len(thresholds))
	for i := len(thresholds) - 1; i >= 0; i-- {
		out = append(out, struct {
			Min  int
			Rank Rank
		}{thresholds[i].min, thresholds[i].rank})
	}
	return out
}
