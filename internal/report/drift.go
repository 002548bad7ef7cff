// Package report compares successive feature tables.
package report

import (
	"bytes"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// CompareCSV counts data rows added and removed between two encoded feature
// tables. Header lines are ignored. A nil previous table yields zero drift
// with PreviousRows 0.
func CompareCSV(previous, current []byte) domain.Drift {
	prev := dataLines(previous)
	cur := dataLines(current)

	drift := domain.Drift{PreviousRows: strings.Count(prev, "\n")}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(prev, cur)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			drift.Added += n
		case diffmatchpatch.DiffDelete:
			drift.Removed += n
		}
	}
	return drift
}

// dataLines drops the header and guarantees a trailing newline so every row
// is counted.
func dataLines(data []byte) string {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return ""
	}
	body := string(data[i+1:])
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return body
}
