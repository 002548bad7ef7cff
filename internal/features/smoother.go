package features

import (
	"fmt"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// DefaultSpan is the EWMA span used for recent-form statistics.
const DefaultSpan = 5

// Alpha returns the EWMA decay factor for a span: 2/(span+1).
func Alpha(span int) float64 {
	return 2.0 / (float64(span) + 1.0)
}

// ewma is a recursive exponentially weighted mean that tolerates missing
// observations. A missing value leaves the running mean untouched but still
// ages it, so the next observation is weighted against (1-alpha)^gap.
type ewma struct {
	alpha float64
	oldWt float64
	value float64
	seen  bool
}

func (e *ewma) update(x float64) float64 {
	observed := !domain.IsMissing(x)
	switch {
	case e.seen:
		e.oldWt *= 1 - e.alpha
		if observed {
			e.value = (e.oldWt*e.value + e.alpha*x) / (e.oldWt + e.alpha)
			e.oldWt = 1
		}
	case observed:
		e.value = x
		e.oldWt = 1
		e.seen = true
	}
	if !e.seen {
		return domain.Missing()
	}
	return e.value
}

// Smooth replaces every stat of every record with the team's EWMA through
// its previous appearance. The current game never contributes to its own
// value, and a team's first appearance is entirely missing. Row order, row
// count and the score/identity fields are preserved; the input is not
// modified.
func Smooth(table domain.RecordTable, span int) (domain.RecordTable, error) {
	if span < 1 {
		return domain.RecordTable{}, fmt.Errorf("features: span must be >= 1, got %d", span)
	}
	alpha := Alpha(span)
	width := len(table.StatColumns)

	out := table.Clone()

	// Per team: one running mean per stat column plus the value computed at
	// the team's previous appearance, which is what the shift exposes.
	type state struct {
		means []ewma
		prev  []float64
	}
	teams := make(map[string]*state)

	for i, rec := range table.Records {
		if len(rec.Stats) != width {
			return domain.RecordTable{}, fmt.Errorf("features: record %d has %d stats, want %d: %w",
				i, len(rec.Stats), width, domain.ErrSchema)
		}

		st, ok := teams[rec.Team]
		if !ok {
			st = &state{means: make([]ewma, width), prev: make([]float64, width)}
			for c := range st.means {
				st.means[c].alpha = alpha
				st.prev[c] = domain.Missing()
			}
			teams[rec.Team] = st
		}

		for c, x := range rec.Stats {
			out.Records[i].Stats[c] = st.prev[c]
			st.prev[c] = st.means[c].update(x)
		}
	}

	return out, nil
}
