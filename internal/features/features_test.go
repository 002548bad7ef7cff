package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonahBenton321/college-football-prediction/internal/dataset"
	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

func game(fixture int, side domain.Side, team string, score float64, stats ...float64) domain.GameRecord {
	return domain.GameRecord{
		Fixture: fixture,
		Side:    side,
		Team:    team,
		Date:    "2023-09-01",
		Score:   score,
		Stats:   stats,
	}
}

func twoFixtureTable() domain.RecordTable {
	return domain.RecordTable{
		StatColumns: []string{"TOTAL OFFENSE"},
		Records: []domain.GameRecord{
			game(0, domain.SideA, "TeamX", 20, 10),
			game(0, domain.SideB, "TeamY", 17, 5),
			game(1, domain.SideA, "TeamX", 14, 20),
			game(1, domain.SideB, "TeamY", 21, 7),
		},
	}
}

func TestAlpha(t *testing.T) {
	assert.InDelta(t, 1.0/3.0, Alpha(5), 1e-12)
	assert.InDelta(t, 1.0, Alpha(1), 1e-12)
}

func TestSmooth_FirstAppearanceMissing(t *testing.T) {
	out, err := Smooth(twoFixtureTable(), DefaultSpan)
	require.NoError(t, err)

	assert.True(t, domain.IsMissing(out.Records[0].Stats[0]))
	assert.True(t, domain.IsMissing(out.Records[1].Stats[0]))
	assert.InDelta(t, 10.0, out.Records[2].Stats[0], 1e-12)
	assert.InDelta(t, 5.0, out.Records[3].Stats[0], 1e-12)
}

func TestSmooth_RecursiveMean(t *testing.T) {
	table := domain.RecordTable{
		StatColumns: []string{"FIRST DOWNS"},
		Records: []domain.GameRecord{
			game(0, domain.SideA, "TeamX", 0, 10),
			game(1, domain.SideA, "TeamX", 0, 20),
			game(2, domain.SideA, "TeamX", 0, 30),
			game(3, domain.SideA, "TeamX", 0, 99),
		},
	}
	out, err := Smooth(table, 5)
	require.NoError(t, err)

	assert.True(t, domain.IsMissing(out.Records[0].Stats[0]))
	assert.InDelta(t, 10.0, out.Records[1].Stats[0], 1e-9)
	assert.InDelta(t, 40.0/3.0, out.Records[2].Stats[0], 1e-9)
	assert.InDelta(t, 170.0/9.0, out.Records[3].Stats[0], 1e-9)
}

func TestSmooth_MissingInputAgesWeight(t *testing.T) {
	table := domain.RecordTable{
		StatColumns: []string{"Average"},
		Records: []domain.GameRecord{
			game(0, domain.SideA, "TeamX", 0, 10),
			game(1, domain.SideA, "TeamX", 0, math.NaN()),
			game(2, domain.SideA, "TeamX", 0, 40),
			game(3, domain.SideA, "TeamX", 0, 1),
		},
	}
	out, err := Smooth(table, 5)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, out.Records[1].Stats[0], 1e-9)
	// The gap carries the previous mean forward.
	assert.InDelta(t, 10.0, out.Records[2].Stats[0], 1e-9)
	assert.InDelta(t, 160.0/7.0, out.Records[3].Stats[0], 1e-9)
}

func TestSmooth_TeamsAreIndependent(t *testing.T) {
	table := domain.RecordTable{
		StatColumns: []string{"FIRST DOWNS"},
		Records: []domain.GameRecord{
			game(0, domain.SideA, "TeamX", 0, 10),
			game(0, domain.SideB, "TeamY", 0, 1000),
			game(1, domain.SideA, "TeamZ", 0, 3),
			game(1, domain.SideB, "TeamX", 0, 20),
		},
	}
	out, err := Smooth(table, 5)
	require.NoError(t, err)

	assert.True(t, domain.IsMissing(out.Records[2].Stats[0]))
	assert.InDelta(t, 10.0, out.Records[3].Stats[0], 1e-9)
}

func TestSmooth_DoesNotMutateInput(t *testing.T) {
	in := twoFixtureTable()
	_, err := Smooth(in, 5)
	require.NoError(t, err)
	assert.Equal(t, 10.0, in.Records[0].Stats[0])
	assert.Equal(t, 20.0, in.Records[2].Stats[0])
}

func TestSmooth_ScoreFieldStaysRaw(t *testing.T) {
	out, err := Smooth(twoFixtureTable(), 5)
	require.NoError(t, err)
	assert.Equal(t, 14.0, out.Records[2].Score)
	assert.Equal(t, 21.0, out.Records[3].Score)
}

func TestSmooth_InvalidSpan(t *testing.T) {
	_, err := Smooth(twoFixtureTable(), 0)
	require.Error(t, err)
}

func TestSmooth_RaggedRecord(t *testing.T) {
	table := twoFixtureTable()
	table.Records[1].Stats = []float64{1, 2}
	_, err := Smooth(table, 5)
	require.ErrorIs(t, err, domain.ErrSchema)
}

func TestPair_OddCount(t *testing.T) {
	table := twoFixtureTable()
	table.Records = table.Records[:3]
	_, err := Pair(table)
	require.ErrorIs(t, err, domain.ErrOddRecordCount)
}

func TestPair_DuplicateSide(t *testing.T) {
	table := twoFixtureTable()
	table.Records[1].Side = domain.SideA
	_, err := Pair(table)
	require.ErrorIs(t, err, domain.ErrMispairedFixture)
}

func TestPair_MissingSide(t *testing.T) {
	table := twoFixtureTable()
	table.Records[1].Fixture = 7
	table.Records[3].Fixture = 8
	_, err := Pair(table)
	require.ErrorIs(t, err, domain.ErrMispairedFixture)
}

func TestPair_SameTeamBothSides(t *testing.T) {
	table := twoFixtureTable()
	table.Records[1].Team = "TeamX"
	_, err := Pair(table)
	require.ErrorIs(t, err, domain.ErrMispairedFixture)
}

func TestPair_InterleavedFixtures(t *testing.T) {
	table := domain.RecordTable{
		StatColumns: []string{"FIRST DOWNS"},
		Records: []domain.GameRecord{
			game(10, domain.SideB, "TeamY", 3, 1),
			game(11, domain.SideA, "TeamZ", 4, 2),
			game(10, domain.SideA, "TeamX", 5, 3),
			game(11, domain.SideB, "TeamW", 6, 4),
		},
	}
	p, err := Pair(table)
	require.NoError(t, err)

	require.Equal(t, 2, p.A.Len())
	assert.Equal(t, []int{0, 1}, p.A.Index)
	assert.Equal(t, "TeamX", p.A.Records[0].Team)
	assert.Equal(t, "TeamY", p.B.Records[0].Team)
	assert.Equal(t, "TeamZ", p.A.Records[1].Team)
	assert.Equal(t, []float64{5, 4}, p.ScoreA.Values)
	assert.Equal(t, []float64{3, 6}, p.ScoreB.Values)
}

func TestIntegrityFilter_DropsEitherSide(t *testing.T) {
	nan := math.NaN()
	table := domain.RecordTable{
		StatColumns: []string{"a", "b"},
		Records: []domain.GameRecord{
			game(0, domain.SideA, "A0", 1, nan, 1),
			game(0, domain.SideB, "B0", 2, 1, 1),
			game(1, domain.SideA, "A1", 3, 1, 1),
			game(1, domain.SideB, "B1", 4, 1, nan),
			game(2, domain.SideA, "A2", 5, 1, 1),
			game(2, domain.SideB, "B2", 6, 2, 2),
			game(3, domain.SideA, "A3", 7, nan, nan),
			game(3, domain.SideB, "B3", 8, nan, 1),
		},
	}
	p, err := Pair(table)
	require.NoError(t, err)

	out, err := IntegrityFilter(p)
	require.NoError(t, err)

	assert.Equal(t, []int{2}, out.A.Index)
	assert.Equal(t, []int{2}, out.B.Index)
	assert.Equal(t, []int{2}, out.ScoreA.Index)
	assert.Equal(t, []int{2}, out.ScoreB.Index)
	assert.Equal(t, []float64{5}, out.ScoreA.Values)
	assert.Equal(t, []float64{6}, out.ScoreB.Values)
	for _, r := range append(out.A.Records, out.B.Records...) {
		assert.True(t, r.Complete())
	}
}

func TestIntegrityFilter_RejectsMisalignedScores(t *testing.T) {
	p, err := Pair(twoFixtureTable())
	require.NoError(t, err)
	p.ScoreA.Index = []int{1, 0}

	_, err = IntegrityFilter(p)
	require.ErrorIs(t, err, domain.ErrMisaligned)
}

func TestRelativeDiff_Rounding(t *testing.T) {
	tests := []struct {
		a, b   float64
		places int32
		want   float64
	}{
		{10, 5, 4, 5},
		{1.0 / 3.0, 0, 4, 0.3333},
		{0, 2.0 / 3.0, 4, -0.6667},
		{1.5, 1.5, 4, 0},
		// The stored binary value sits just above the written decimal.
		{0.00125, 0, 4, 0.0013},
		{0.12345, 0, 4, 0.1235},
		{-0.12345, 0, 4, -0.1235},
		{1.00005, 0, 4, 1.0001},
		// ...or just below it.
		{2.675, 0, 2, 2.67},
		// Exact binary ties go to even.
		{0.03125, 0, 4, 0.0312},
		{0.09375, 0, 4, 0.0938},
	}
	for _, tt := range tests {
		got, err := RelativeDiff(tt.a, tt.b, tt.places)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v - %v at %d places", tt.a, tt.b, tt.places)
	}
}

func TestRelativeDiff_Overflow(t *testing.T) {
	_, err := RelativeDiff(1.7e308, -1.7e308, 4)
	require.ErrorIs(t, err, domain.ErrSchema)

	_, err = RelativeDiff(-1.7e308, 1.7e308, 4)
	require.ErrorIs(t, err, domain.ErrSchema)
}

func TestBuild_OverflowingDifferenceFails(t *testing.T) {
	table := domain.RecordTable{
		StatColumns: []string{"TOTAL OFFENSE"},
		Records: []domain.GameRecord{
			game(0, domain.SideA, "TeamX", 20, 1.7e308),
			game(0, domain.SideB, "TeamY", 17, -1.7e308),
			game(1, domain.SideA, "TeamX", 14, 1),
			game(1, domain.SideB, "TeamY", 21, 1),
		},
	}
	require.NotPanics(t, func() {
		_, err := Build(table, DefaultOptions())
		require.ErrorIs(t, err, domain.ErrSchema)
	})
}

func TestLabel(t *testing.T) {
	assert.Equal(t, 0, Label(28, 21))
	assert.Equal(t, 1, Label(21, 28))
	assert.Equal(t, 1, Label(14, 14), "ties count as side A not winning")
}

func TestLabels_Misaligned(t *testing.T) {
	_, err := Labels(Scores{Index: []int{0}, Values: []float64{1}}, Scores{Index: []int{1}, Values: []float64{2}})
	require.ErrorIs(t, err, domain.ErrMisaligned)
}

func TestBuild_TwoFixtures(t *testing.T) {
	res, err := Build(twoFixtureTable(), DefaultOptions())
	require.NoError(t, err)

	require.Len(t, res.Table.Rows, 1)
	row := res.Table.Rows[0]
	assert.Equal(t, 1, row.Fixture)
	assert.Equal(t, []float64{5}, row.Diffs)
	assert.Equal(t, 1, row.Label)
	assert.Equal(t, []string{"TOTAL OFFENSE", "Target Data"}, res.Table.Header())

	assert.Equal(t, domain.BuildStats{
		Records:      4,
		Teams:        2,
		Fixtures:     2,
		Kept:         1,
		Dropped:      1,
		PositiveRate: 1,
	}, res.Stats)
}

func TestBuild_LabelFollowsRawScores(t *testing.T) {
	table := domain.RecordTable{
		StatColumns: []string{"Score"},
		Records: []domain.GameRecord{
			game(0, domain.SideA, "TeamX", 50, 50),
			game(0, domain.SideB, "TeamY", 0, 0),
			game(1, domain.SideA, "TeamX", 3, 3),
			game(1, domain.SideB, "TeamY", 10, 10),
			game(2, domain.SideA, "TeamY", 7, 7),
			game(2, domain.SideB, "TeamX", 6, 6),
		},
	}
	res, err := Build(table, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Table.Rows, 2)

	// Smoothed scoring form favours TeamX but the label uses the result.
	assert.Greater(t, res.Table.Rows[0].Diffs[0], 0.0)
	assert.Equal(t, 1, res.Table.Rows[0].Label)
	assert.Less(t, res.Table.Rows[1].Diffs[0], 0.0)
	assert.Equal(t, 0, res.Table.Rows[1].Label)
}

func TestBuild_RowCountBounds(t *testing.T) {
	teams := []string{"A", "B", "C", "D", "E", "F"}
	table := domain.RecordTable{StatColumns: []string{"x", "y"}}
	fixture := 0
	for week := 0; week < 6; week++ {
		for i := 0; i < len(teams); i += 2 {
			h, a := teams[(i+week)%len(teams)], teams[(i+week+1)%len(teams)]
			table.Records = append(table.Records,
				game(fixture, domain.SideA, h, float64(week+i), float64(week), float64(i)),
				game(fixture, domain.SideB, a, float64(week*i), float64(i), float64(week)),
			)
			fixture++
		}
	}

	res, err := Build(table, DefaultOptions())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Table.Rows), len(table.Records)/2)
	assert.Equal(t, res.Stats.Fixtures, res.Stats.Kept+res.Stats.Dropped)
	for _, row := range res.Table.Rows {
		assert.Len(t, row.Diffs, 2)
		assert.Contains(t, []int{0, 1}, row.Label)
		for _, v := range row.Diffs {
			assert.False(t, math.IsNaN(v))
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	table := twoFixtureTable()
	first, err := Build(table, DefaultOptions())
	require.NoError(t, err)
	second, err := Build(table, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	a, err := dataset.EncodeFeatures(first.Table)
	require.NoError(t, err)
	b, err := dataset.EncodeFeatures(second.Table)
	require.NoError(t, err)
	assert.Equal(t, "TOTAL OFFENSE,Target Data\n5.0000,1\n", string(a))
	assert.Equal(t, a, b, "re-runs are byte-identical")
}

func TestBuild_EmptyTable(t *testing.T) {
	res, err := Build(domain.RecordTable{StatColumns: []string{"x"}}, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Table.Rows)
	assert.Zero(t, res.Stats.PositiveRate)
}

func TestBuild_OddCountFails(t *testing.T) {
	table := twoFixtureTable()
	table.Records = append(table.Records, game(2, domain.SideA, "TeamZ", 1, 1))
	_, err := Build(table, DefaultOptions())
	require.ErrorIs(t, err, domain.ErrOddRecordCount)
}

func TestFeatureTable_Split(t *testing.T) {
	ft := domain.FeatureTable{Rows: make([]domain.FeatureRow, 10)}
	train, test := ft.Split(0.8)
	assert.Len(t, train.Rows, 8)
	assert.Len(t, test.Rows, 2)

	train, test = ft.Split(1.5)
	assert.Len(t, train.Rows, 10)
	assert.Empty(t, test.Rows)
}
