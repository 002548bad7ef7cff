// Package dataset reads raw box-score tables and writes feature tables as CSV.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// ReadRecords decodes a raw box-score CSV. The header must name the team,
// score and every stat column of the schema. When the fixture and side
// columns are both present they are used as given; when both are absent,
// consecutive rows are paired (row 2k is side A, row 2k+1 side B of fixture
// k) after checking that each pair shares a date and has two different teams.
func ReadRecords(r io.Reader, schema domain.Schema) (domain.RecordTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return domain.RecordTable{}, fmt.Errorf("dataset: read header: %w", domain.ErrEmptyInput)
	}
	if err != nil {
		return domain.RecordTable{}, fmt.Errorf("dataset: read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	lookup := func(name string) (int, bool) {
		if name == "" {
			return -1, false
		}
		i, ok := cols[name]
		return i, ok
	}

	teamIdx, ok := lookup(schema.TeamColumn)
	if !ok {
		return domain.RecordTable{}, fmt.Errorf("dataset: team column %q not in header: %w", schema.TeamColumn, domain.ErrSchema)
	}
	scoreIdx, ok := lookup(schema.ScoreColumn)
	if !ok {
		return domain.RecordTable{}, fmt.Errorf("dataset: score column %q not in header: %w", schema.ScoreColumn, domain.ErrSchema)
	}
	dateIdx, hasDate := lookup(schema.DateColumn)
	fixtureIdx, hasFixture := lookup(schema.FixtureColumn)
	sideIdx, hasSide := lookup(schema.SideColumn)
	if hasFixture != hasSide {
		return domain.RecordTable{}, fmt.Errorf("dataset: %q and %q must be given together: %w",
			schema.FixtureColumn, schema.SideColumn, domain.ErrSchema)
	}

	statIdx := make([]int, len(schema.StatColumns))
	for i, name := range schema.StatColumns {
		j, ok := cols[name]
		if !ok {
			return domain.RecordTable{}, fmt.Errorf("dataset: stat column %q not in header: %w", name, domain.ErrSchema)
		}
		statIdx[i] = j
	}

	table := domain.RecordTable{StatColumns: append([]string(nil), schema.StatColumns...)}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.RecordTable{}, fmt.Errorf("dataset: read line %d: %w", line, err)
		}

		rec := domain.GameRecord{
			Team:  strings.TrimSpace(row[teamIdx]),
			Stats: make([]float64, len(statIdx)),
		}
		if rec.Team == "" {
			return domain.RecordTable{}, fmt.Errorf("dataset: line %d: empty team: %w", line, domain.ErrSchema)
		}
		if hasDate {
			rec.Date = strings.TrimSpace(row[dateIdx])
		}

		rec.Score, err = parseValue(row[scoreIdx])
		if err != nil {
			return domain.RecordTable{}, fmt.Errorf("dataset: line %d column %q: %w", line, schema.ScoreColumn, err)
		}
		if domain.IsMissing(rec.Score) {
			return domain.RecordTable{}, fmt.Errorf("dataset: line %d: missing score: %w", line, domain.ErrSchema)
		}

		for i, j := range statIdx {
			rec.Stats[i], err = parseValue(row[j])
			if err != nil {
				return domain.RecordTable{}, fmt.Errorf("dataset: line %d column %q: %w", line, schema.StatColumns[i], err)
			}
		}

		if hasFixture {
			rec.Fixture, err = strconv.Atoi(strings.TrimSpace(row[fixtureIdx]))
			if err != nil {
				return domain.RecordTable{}, fmt.Errorf("dataset: line %d: fixture id %q: %w", line, row[fixtureIdx], domain.ErrSchema)
			}
			rec.Side, err = domain.ParseSide(strings.TrimSpace(row[sideIdx]))
			if err != nil {
				return domain.RecordTable{}, fmt.Errorf("dataset: line %d: %w", line, err)
			}
		}

		table.Records = append(table.Records, rec)
	}

	if !hasFixture {
		if err := AssignFixtures(table.Records); err != nil {
			return domain.RecordTable{}, err
		}
		table.Positional = true
	}
	return table, nil
}

// AssignFixtures attaches fixture and side identifiers to records delivered
// as consecutive pairs. It fails on an odd count, on a pair with two dates,
// or on a team paired with itself.
func AssignFixtures(records []domain.GameRecord) error {
	if len(records)%2 != 0 {
		return fmt.Errorf("dataset: %d records: %w", len(records), domain.ErrOddRecordCount)
	}
	for i := 0; i < len(records); i += 2 {
		a, b := &records[i], &records[i+1]
		if a.Date != b.Date {
			return fmt.Errorf("dataset: rows %d and %d have dates %q and %q: %w",
				i, i+1, a.Date, b.Date, domain.ErrMispairedFixture)
		}
		if a.Team == b.Team {
			return fmt.Errorf("dataset: rows %d and %d both belong to %q: %w",
				i, i+1, a.Team, domain.ErrMispairedFixture)
		}
		a.Fixture, a.Side = i/2, domain.SideA
		b.Fixture, b.Side = i/2, domain.SideB
	}
	return nil
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "na", "n/a", "-", "--":
		return domain.Missing(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number %q: %w", s, domain.ErrSchema)
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q: %w", s, domain.ErrSchema)
	}
	return v, nil
}
