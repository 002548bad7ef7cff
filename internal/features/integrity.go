package features

import (
	"fmt"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// IntegrityFilter removes every fixture in which either side has a missing
// stat. It runs in two passes: first each side drops the fixtures the
// opposite side is incomplete for, then each side drops its own incomplete
// fixtures. Scores are dropped in lockstep with their side. Afterwards the
// four members share one identical fixture index and contain no missing
// values.
func IntegrityFilter(p Pairing) (Pairing, error) {
	if err := p.checkSide("before filter"); err != nil {
		return Pairing{}, err
	}

	// Cross-drop.
	incA, incB := p.A.incomplete(), p.B.incomplete()
	out := Pairing{
		A:      p.A.drop(incB),
		ScoreA: p.ScoreA.drop(incB),
		B:      p.B.drop(incA),
		ScoreB: p.ScoreB.drop(incA),
	}
	if err := out.checkSide("after cross-drop"); err != nil {
		return Pairing{}, err
	}

	// Self-drop.
	incA, incB = out.A.incomplete(), out.B.incomplete()
	out.A, out.ScoreA = out.A.drop(incA), out.ScoreA.drop(incA)
	out.B, out.ScoreB = out.B.drop(incB), out.ScoreB.drop(incB)
	if err := out.checkSide("after self-drop"); err != nil {
		return Pairing{}, err
	}

	if !sameIndex(out.A.Index, out.B.Index) {
		return Pairing{}, fmt.Errorf("features: sides diverge after filter (%d vs %d rows): %w",
			out.A.Len(), out.B.Len(), domain.ErrMisaligned)
	}
	return out, nil
}

// checkSide verifies each side still shares its index with its scores.
func (p Pairing) checkSide(stage string) error {
	if len(p.A.Index) != len(p.A.Records) || len(p.B.Index) != len(p.B.Records) {
		return fmt.Errorf("features: %s: sequence index and rows differ in length: %w", stage, domain.ErrMisaligned)
	}
	if !sameIndex(p.A.Index, p.ScoreA.Index) {
		return fmt.Errorf("features: %s: side A and its scores diverge: %w", stage, domain.ErrMisaligned)
	}
	if !sameIndex(p.B.Index, p.ScoreB.Index) {
		return fmt.Errorf("features: %s: side B and its scores diverge: %w", stage, domain.ErrMisaligned)
	}
	return nil
}

func sameIndex(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
