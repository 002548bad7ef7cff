package features

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// DefaultPlaces is the number of decimal places relative features keep.
const DefaultPlaces = 4

// RelativeDiff returns a-b rounded to places decimals. The exact binary value
// of the difference is rounded, half-to-even, so 2.675 keeps to 2.67 at two
// places. A difference outside the float64 range is rejected.
func RelativeDiff(a, b float64, places int32) (float64, error) {
	d := a - b
	if math.IsInf(d, 0) || math.IsNaN(d) {
		return 0, fmt.Errorf("features: %g - %g is not finite: %w", a, b, domain.ErrSchema)
	}
	r := new(big.Rat).SetFloat64(d)
	// The denominator is a power of two, so this many digits are exact.
	exact := decimal.NewFromBigRat(r, int32(r.Denom().BitLen()-1))
	return exact.RoundBank(places).InexactFloat64(), nil
}

// Relative computes the element-wise A-B difference for every aligned
// fixture. Identity fields are not part of the result; only the stat
// vectors are compared.
func Relative(a, b Sequence, places int32) ([][]float64, error) {
	if !sameIndex(a.Index, b.Index) {
		return nil, fmt.Errorf("features: relative: %w", domain.ErrMisaligned)
	}
	out := make([][]float64, a.Len())
	for i := range a.Records {
		sa, sb := a.Records[i].Stats, b.Records[i].Stats
		if len(sa) != len(sb) {
			return nil, fmt.Errorf("features: relative: fixture %d has %d vs %d stats: %w",
				a.Index[i], len(sa), len(sb), domain.ErrSchema)
		}
		row := make([]float64, len(sa))
		for c := range sa {
			v, err := RelativeDiff(sa[c], sb[c], places)
			if err != nil {
				return nil, fmt.Errorf("features: relative: fixture %d column %d: %w", a.Index[i], c, err)
			}
			row[c] = v
		}
		out[i] = row
	}
	return out, nil
}
