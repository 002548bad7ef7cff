package features

import (
	"fmt"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// Label is 1 when side A did not outscore side B (ties included) and 0 when
// side A won. It always works on raw, unsmoothed scores.
func Label(scoreA, scoreB float64) int {
	if scoreA-scoreB <= 0 {
		return 1
	}
	return 0
}

// Labels applies Label to every aligned fixture.
func Labels(a, b Scores) ([]int, error) {
	if !sameIndex(a.Index, b.Index) || len(a.Values) != len(b.Values) {
		return nil, fmt.Errorf("features: labels: %w", domain.ErrMisaligned)
	}
	out := make([]int, len(a.Values))
	for i := range a.Values {
		out[i] = Label(a.Values[i], b.Values[i])
	}
	return out, nil
}
