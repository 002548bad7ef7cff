package dataset

import (
	"fmt"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// Impute fills missing values of the named stat columns with the column mean
// over the rows where it is defined. A column that is missing everywhere is
// left untouched. The input table is not modified.
func Impute(table domain.RecordTable, columns []string) (domain.RecordTable, error) {
	out := table.Clone()
	for _, name := range columns {
		c := out.ColumnIndex(name)
		if c < 0 {
			return domain.RecordTable{}, fmt.Errorf("dataset: impute column %q: %w", name, domain.ErrSchema)
		}

		var sum float64
		var n int
		for _, r := range out.Records {
			if v := r.Stats[c]; !domain.IsMissing(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		mean := sum / float64(n)
		for i := range out.Records {
			if domain.IsMissing(out.Records[i].Stats[c]) {
				out.Records[i].Stats[c] = mean
			}
		}
	}
	return out, nil
}
