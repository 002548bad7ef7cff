package domain

// DefaultLabelColumn is the header of the label column in the output table.
const DefaultLabelColumn = "Target Data"

// FeatureRow is the relative feature vector of one surviving fixture.
type FeatureRow struct {
	Fixture int
	Diffs   []float64
	Label   int
}

// FeatureTable is the model-ready output: one row per fixture with complete
// data on both sides. Columns holds the stat names; LabelColumn is the
// terminal column.
type FeatureTable struct {
	Columns     []string
	LabelColumn string
	Rows        []FeatureRow
}

// Header returns the full output header including the label column.
func (t FeatureTable) Header() []string {
	h := make([]string, 0, len(t.Columns)+1)
	h = append(h, t.Columns...)
	return append(h, t.LabelColumn)
}

// PositiveRate is the share of rows labelled 1, i.e. the accuracy of always
// predicting "side A does not win". Zero for an empty table.
func (t FeatureTable) PositiveRate() float64 {
	if len(t.Rows) == 0 {
		return 0
	}
	n := 0
	for _, r := range t.Rows {
		if r.Label == 1 {
			n++
		}
	}
	return float64(n) / float64(len(t.Rows))
}

// Split cuts the table chronologically: the first floor(len*fraction) rows
// form the training part and the rest the test part. Rows are shared, not
// copied.
func (t FeatureTable) Split(fraction float64) (train, test FeatureTable) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	cut := int(float64(len(t.Rows)) * fraction)
	train = FeatureTable{Columns: t.Columns, LabelColumn: t.LabelColumn, Rows: t.Rows[:cut]}
	test = FeatureTable{Columns: t.Columns, LabelColumn: t.LabelColumn, Rows: t.Rows[cut:]}
	return train, test
}
