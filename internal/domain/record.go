package domain

import (
	"fmt"
	"math"
)

// Side identifies which half of a fixture a record belongs to.
type Side uint8

const (
	SideA Side = iota
	SideB
)

// String returns "A" or "B".
func (s Side) String() string {
	if s == SideB {
		return "B"
	}
	return "A"
}

// ParseSide accepts "A"/"B" (any case) as well as the home/away and 0/1
// spellings produced by upstream scrapers.
func ParseSide(v string) (Side, error) {
	switch v {
	case "A", "a", "0", "home", "HOME":
		return SideA, nil
	case "B", "b", "1", "away", "AWAY":
		return SideB, nil
	}
	return SideA, fmt.Errorf("%w: unknown side %q", ErrSchema, v)
}

// Missing returns the value used for an undefined stat.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is an undefined stat.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// GameRecord is one team's participation in one game.
//
// Stats is aligned with the owning table's StatColumns. A missing value is
// stored as NaN (see Missing).
type GameRecord struct {
	Fixture int
	Side    Side
	Team    string
	Date    string
	Score   float64
	Stats   []float64
}

// Complete reports whether every stat value is defined.
func (r GameRecord) Complete() bool {
	for _, v := range r.Stats {
		if IsMissing(v) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the record.
func (r GameRecord) Clone() GameRecord {
	out := r
	out.Stats = append([]float64(nil), r.Stats...)
	return out
}

// RecordTable is the chronological per-team-per-game input table. The two
// sides of every fixture carry the same Fixture id. Positional is set when
// the ids were assigned from row order rather than read from the source, so
// they only identify fixtures within this table.
type RecordTable struct {
	StatColumns []string
	Records     []GameRecord
	Positional  bool
}

// Clone returns a deep copy of the table.
func (t RecordTable) Clone() RecordTable {
	out := RecordTable{
		StatColumns: append([]string(nil), t.StatColumns...),
		Records:     make([]GameRecord, len(t.Records)),
		Positional:  t.Positional,
	}
	for i, r := range t.Records {
		out.Records[i] = r.Clone()
	}
	return out
}

// ColumnIndex returns the position of name in StatColumns, or -1.
func (t RecordTable) ColumnIndex(name string) int {
	for i, c := range t.StatColumns {
		if c == name {
			return i
		}
	}
	return -1
}

// Schema declares the column layout of a raw box-score CSV. Stat columns are
// fixed at configuration time; nothing is inferred from row contents.
type Schema struct {
	TeamColumn    string
	DateColumn    string
	ScoreColumn   string
	FixtureColumn string
	SideColumn    string
	StatColumns   []string
}

// DefaultStatColumns is the NAIA box-score layout after composite fields
// have been expanded by the scraper. Score leads so that a team's scoring
// form is itself a feature.
var DefaultStatColumns = []string{
	"Score",
	"FIRST DOWNS",
	"THIRD DOWN EFFICIENCY",
	"FOURTH DOWN EFFICIENCY",
	"TOTAL OFFENSE",
	"NET YARDS PASSING",
	"completionAttemptsNumber",
	"completionAttemptsYards",
	"NetYards",
	"SackedNumber",
	"SackedYards",
	"intercepted",
	"NET YARDS RUSHING",
	"Rushing Attempts",
	"Average gain per rush",
	"PUNTS: Number",
	"PUNTS: Yards",
	"Average",
	"TOTAL RETURN YARDS",
	"PENALTIES: Number",
	"PENALTIES: Yards",
	"FUMBLES: Number",
	"FUMBLES: Lost",
	"SACKS: Number",
	"SACKS: Yards",
	"INTERCEPTIONS: Number",
	"INTERCEPTIONS: Yards",
	"TIME OF POSSESSION",
}

// DefaultSchema returns the schema of the scraped NAIA games table.
func DefaultSchema() Schema {
	return Schema{
		TeamColumn:    "Name",
		DateColumn:    "Date",
		ScoreColumn:   "Score",
		FixtureColumn: "fixture_id",
		SideColumn:    "side",
		StatColumns:   append([]string(nil), DefaultStatColumns...),
	}
}
