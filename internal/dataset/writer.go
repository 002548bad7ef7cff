package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// WriteFeatures encodes a feature table: the header is the stat columns
// followed by the label column, stat values are fixed at four decimals and
// the label is 0 or 1.
func WriteFeatures(w io.Writer, t domain.FeatureTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return fmt.Errorf("dataset: write header: %w", err)
	}

	rec := make([]string, len(t.Columns)+1)
	for i, row := range t.Rows {
		if len(row.Diffs) != len(t.Columns) {
			return fmt.Errorf("dataset: row %d has %d values, want %d: %w",
				i, len(row.Diffs), len(t.Columns), domain.ErrSchema)
		}
		for c, v := range row.Diffs {
			rec[c] = strconv.FormatFloat(v, 'f', 4, 64)
		}
		rec[len(rec)-1] = strconv.Itoa(row.Label)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("dataset: write row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("dataset: flush: %w", err)
	}
	return nil
}

// EncodeFeatures returns the CSV encoding of t.
func EncodeFeatures(t domain.FeatureTable) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFeatures(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRecords encodes a record table with explicit fixture and side
// columns so that it can be read back without positional pairing.
func WriteRecords(w io.Writer, schema domain.Schema, t domain.RecordTable) error {
	cw := csv.NewWriter(w)

	header := []string{schema.DateColumn, schema.TeamColumn, schema.FixtureColumn, schema.SideColumn}
	scoreIsStat := false
	for _, c := range t.StatColumns {
		if c == schema.ScoreColumn {
			scoreIsStat = true
		}
	}
	if !scoreIsStat {
		header = append(header, schema.ScoreColumn)
	}
	header = append(header, t.StatColumns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("dataset: write header: %w", err)
	}

	for i, r := range t.Records {
		row := []string{r.Date, r.Team, strconv.Itoa(r.Fixture), r.Side.String()}
		if !scoreIsStat {
			row = append(row, formatValue(r.Score))
		}
		for _, v := range r.Stats {
			row = append(row, formatValue(v))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("dataset: write record %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("dataset: flush: %w", err)
	}
	return nil
}

func formatValue(v float64) string {
	if domain.IsMissing(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
