package features

import (
	"fmt"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// Sequence is one side of every fixture, labelled by fixture index so that
// rows can be dropped without losing track of which fixture they belong to.
type Sequence struct {
	Index   []int
	Records []domain.GameRecord
}

// Len returns the number of rows.
func (s Sequence) Len() int { return len(s.Index) }

// incomplete returns the fixture indices whose record has a missing stat.
func (s Sequence) incomplete() map[int]bool {
	out := make(map[int]bool)
	for i, r := range s.Records {
		if !r.Complete() {
			out[s.Index[i]] = true
		}
	}
	return out
}

// drop returns a copy of s without the rows whose index is in idx.
func (s Sequence) drop(idx map[int]bool) Sequence {
	out := Sequence{
		Index:   make([]int, 0, len(s.Index)),
		Records: make([]domain.GameRecord, 0, len(s.Records)),
	}
	for i, k := range s.Index {
		if idx[k] {
			continue
		}
		out.Index = append(out.Index, k)
		out.Records = append(out.Records, s.Records[i])
	}
	return out
}

// Scores is the raw score of one side of every fixture, labelled like
// Sequence.
type Scores struct {
	Index  []int
	Values []float64
}

func (s Scores) drop(idx map[int]bool) Scores {
	out := Scores{
		Index:  make([]int, 0, len(s.Index)),
		Values: make([]float64, 0, len(s.Values)),
	}
	for i, k := range s.Index {
		if idx[k] {
			continue
		}
		out.Index = append(out.Index, k)
		out.Values = append(out.Values, s.Values[i])
	}
	return out
}

// Pairing holds the fixture-aligned sides of a record table together with
// their raw scores. Position i of every member refers to the same fixture
// until IntegrityFilter removes rows.
type Pairing struct {
	A, B           Sequence
	ScoreA, ScoreB Scores
}

// Pair splits a smoothed table into side A and side B sequences using the
// fixture and side identifiers attached at ingestion. Fixtures are indexed
// in order of first appearance. An odd number of records, or a fixture that
// does not hold exactly one record per side, is rejected.
func Pair(table domain.RecordTable) (Pairing, error) {
	n := len(table.Records)
	if n%2 != 0 {
		return Pairing{}, fmt.Errorf("features: %d records: %w", n, domain.ErrOddRecordCount)
	}

	type slot struct {
		a, b       int
		hasA, hasB bool
	}
	order := make([]int, 0, n/2)
	slots := make(map[int]*slot, n/2)

	for i, rec := range table.Records {
		s, ok := slots[rec.Fixture]
		if !ok {
			s = &slot{}
			slots[rec.Fixture] = s
			order = append(order, rec.Fixture)
		}
		switch rec.Side {
		case domain.SideA:
			if s.hasA {
				return Pairing{}, fmt.Errorf("features: fixture %d has two side A records (rows %d and %d): %w",
					rec.Fixture, s.a, i, domain.ErrMispairedFixture)
			}
			s.a, s.hasA = i, true
		case domain.SideB:
			if s.hasB {
				return Pairing{}, fmt.Errorf("features: fixture %d has two side B records (rows %d and %d): %w",
					rec.Fixture, s.b, i, domain.ErrMispairedFixture)
			}
			s.b, s.hasB = i, true
		}
	}

	p := Pairing{
		A:      Sequence{Index: make([]int, len(order)), Records: make([]domain.GameRecord, len(order))},
		B:      Sequence{Index: make([]int, len(order)), Records: make([]domain.GameRecord, len(order))},
		ScoreA: Scores{Index: make([]int, len(order)), Values: make([]float64, len(order))},
		ScoreB: Scores{Index: make([]int, len(order)), Values: make([]float64, len(order))},
	}
	for i, id := range order {
		s := slots[id]
		if !s.hasA || !s.hasB {
			return Pairing{}, fmt.Errorf("features: fixture %d is missing a side: %w", id, domain.ErrMispairedFixture)
		}
		a, b := table.Records[s.a], table.Records[s.b]
		if a.Team == b.Team {
			return Pairing{}, fmt.Errorf("features: fixture %d pairs %q with itself: %w", id, a.Team, domain.ErrMispairedFixture)
		}
		p.A.Index[i], p.A.Records[i] = i, a
		p.B.Index[i], p.B.Records[i] = i, b
		p.ScoreA.Index[i], p.ScoreA.Values[i] = i, a.Score
		p.ScoreB.Index[i], p.ScoreB.Values[i] = i, b.Score
	}
	return p, nil
}
