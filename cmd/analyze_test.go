package cmd

import (
	"bytes"
	"context"
	"testing"

	"derby/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_CountsEveryRace(t *testing.T) {
	tuning := config.DefaultTuning().Race

	report, err := Analyze(context.Background(), tuning, 200, 42)
	require.NoError(t, err)

	assert.Equal(t, 200, report.Races)

	wins := 0
	for _, n := range report.WinsByHorse {
		wins += n
	}
	assert.Equal(t, 200, wins)

	boosted := 0
	for _, n := range report.BoostedRankCounts {
		boosted += n
	}
	assert.Equal(t, 200, boosted)
	for rank, n := range report.RankCounts {
		assert.Equal(t, 200, n, "rank %d", rank+1)
	}

	assert.Equal(t, report.BoostedRankCounts[0], report.BoostedWins)
	// The burst makes the boosted horse a strong favourite
	assert.Greater(t, report.BoostedWinRate(), 0.5)
	assert.Greater(t, report.BurstRaces, 0)
	assert.Greater(t, report.AverageDuration.Seconds(), 4.0)

	// Any-horse return is the mean of the multiplier table
	assert.InDelta(t, 0.95, report.ExpectedReturn(), 1e-9)
	assert.Greater(t, report.BoostedExpectedReturn(), report.ExpectedReturn())
}

func TestAnalyze_RejectsNonPositiveRaceCount(t *testing.T) {
	_, err := Analyze(context.Background(), config.DefaultTuning().Race, 0, 1)
	assert.Error(t, err)
}

func TestExpectedReturn(t *testing.T) {
	multipliers := []decimal.Decimal{decimal.RequireFromString("2.0"), decimal.RequireFromString("0.5")}

	tests := []struct {
		name       string
		rankCounts []int
		expected   float64
	}{
		{"no races", []int{0, 0}, 0},
		{"always first", []int{10, 0}, 2.0},
		{"even split", []int{5, 5}, 1.25},
		{"ranks past the table pay nothing", []int{1, 1, 2}, 0.625},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.expected, expectedReturn(tt.rankCounts, multipliers), 1e-9)
		})
	}
}

func TestWriteReport(t *testing.T) {
	report, err := Analyze(context.Background(), config.DefaultTuning().Race, 20, 3)
	require.NoError(t, err)

	var out bytes.Buffer
	WriteReport(&out, report)
	text := out.String()
	assert.Contains(t, text, "=== Race Analysis (20 races) ===")
	assert.Contains(t, text, "Boosted horse win rate")
	assert.Contains(t, text, "#4 Blaze")
	assert.Contains(t, text, "rank 1 (x2)")
}
