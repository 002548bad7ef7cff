package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

func TestCompareCSV(t *testing.T) {
	tests := []struct {
		name     string
		previous string
		current  string
		want     domain.Drift
	}{
		{
			name:    "first build",
			current: "Score,Target Data\n1.0000,1\n",
			want:    domain.Drift{},
		},
		{
			name:     "unchanged",
			previous: "Score,Target Data\n1.0000,1\n2.0000,0\n",
			current:  "Score,Target Data\n1.0000,1\n2.0000,0\n",
			want:     domain.Drift{PreviousRows: 2},
		},
		{
			name:     "rows appended and revised",
			previous: "Score,Target Data\n1.0000,1\n2.0000,0\n3.0000,1\n",
			current:  "Score,Target Data\n1.0000,1\n3.0000,1\n4.0000,0\n5.0000,1",
			want:     domain.Drift{PreviousRows: 3, Added: 2, Removed: 1},
		},
		{
			name:     "header change alone is not drift",
			previous: "Score,Target Data\n1.0000,1\n",
			current:  "Score,Label\r\n1.0000,1\r\n",
			want:     domain.Drift{PreviousRows: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareCSV([]byte(tt.previous), []byte(tt.current))
			assert.Equal(t, tt.want, got)
		})
	}
}
