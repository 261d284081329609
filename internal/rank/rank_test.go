package rank

import "testing"

func TestRankForBoundaries(t *testing.T) {
	tests := []struct {
		points int
		want   Rank
	}{
		{0, Citizen},
		{1, Citizen},
		{499, Citizen},
		{500, Helper},
		{1999, Helper},
		{2000, Champion},
		{4999, Champion},
		{5000, Hero},
		{9999, Hero},
		{10000, Legend},
		{1000000, Legend},
	}
	for _, tc := range tests {
		if got := RankFor(tc.points); got != tc.want {
			t.Errorf("RankFor(%d) = %s, want %s", tc.points, got, tc.want)
		}
	}
}

func TestRankForMonotonic(t *testing.T) {
	order := map[Rank]int{Citizen: 0, Helper: 1, Champion: 2, Hero: 3, Legend: 4}
	prev := RankFor(0)
	for points := 1; points <= 12000; points++ {
		current := RankFor(points)
		if order[current] < order[prev] {
			t.Fatalf("rank decreased at %d points: %s -> %s", points, prev, current)
		}
		prev = current
	}
}

func TestRankForNegativeClampsToCitizen(t *testing.T) {
	if got := RankFor(-1); got != Citizen {
		t.Fatalf("RankFor(-1) = %s, want Citizen", got)
	}
}

func TestAllAscending(t *testing.T) {
	tiers := All()
	if len(tiers) != 5 {
		t.Fatalf("expected 5 tiers, got %d", len(tiers))
	}
	if tiers[0].Rank != Citizen || tiers[0].Min != 0 {
		t.Fatalf("first tier should be Citizen at 0, got %s at %d", tiers[0].Rank, tiers[0].Min)
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Min <= tiers[i-1].Min {
			t.Fatalf("tier bounds not ascending: %d after %d", tiers[i].Min, tiers[i-1].Min)
		}
	}
}
