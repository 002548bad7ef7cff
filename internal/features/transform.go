// Package features turns a chronological per-team box-score table into a
// fixture-level training table: recent-form smoothing, fixture pairing,
// integrity filtering, relative differencing and labelling. Everything here
// is pure and deterministic; callers own I/O and logging.
package features

import (
	"fmt"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// Options configures Build.
type Options struct {
	Span        int
	Places      int32
	LabelColumn string
}

// DefaultOptions returns span 5, four decimal places and the
// "Target Data" label column.
func DefaultOptions() Options {
	return Options{
		Span:        DefaultSpan,
		Places:      DefaultPlaces,
		LabelColumn: domain.DefaultLabelColumn,
	}
}

// Result is the output of Build.
type Result struct {
	Table domain.FeatureTable
	Stats domain.BuildStats
}

// Build runs the full transform. Row i of the result is the i-th surviving
// fixture in input order; its Fixture field carries the fixture id assigned
// at ingestion.
func Build(table domain.RecordTable, opts Options) (Result, error) {
	if opts.LabelColumn == "" {
		opts.LabelColumn = domain.DefaultLabelColumn
	}

	smoothed, err := Smooth(table, opts.Span)
	if err != nil {
		return Result{}, err
	}

	paired, err := Pair(smoothed)
	if err != nil {
		return Result{}, err
	}
	fixtures := paired.A.Len()

	filtered, err := IntegrityFilter(paired)
	if err != nil {
		return Result{}, err
	}

	diffs, err := Relative(filtered.A, filtered.B, opts.Places)
	if err != nil {
		return Result{}, err
	}
	labels, err := Labels(filtered.ScoreA, filtered.ScoreB)
	if err != nil {
		return Result{}, err
	}
	if len(diffs) != len(labels) {
		return Result{}, fmt.Errorf("features: %d feature rows vs %d labels: %w",
			len(diffs), len(labels), domain.ErrMisaligned)
	}

	ft := domain.FeatureTable{
		Columns:     append([]string(nil), table.StatColumns...),
		LabelColumn: opts.LabelColumn,
		Rows:        make([]domain.FeatureRow, len(diffs)),
	}
	for i := range diffs {
		ft.Rows[i] = domain.FeatureRow{
			Fixture: filtered.A.Records[i].Fixture,
			Diffs:   diffs[i],
			Label:   labels[i],
		}
	}

	teams := make(map[string]struct{})
	for _, r := range table.Records {
		teams[r.Team] = struct{}{}
	}

	return Result{
		Table: ft,
		Stats: domain.BuildStats{
			Records:      len(table.Records),
			Teams:        len(teams),
			Fixtures:     fixtures,
			Kept:         len(ft.Rows),
			Dropped:      fixtures - len(ft.Rows),
			PositiveRate: ft.PositiveRate(),
		},
	}, nil
}
