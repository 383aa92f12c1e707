package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"derby/config"
	"derby/database"
	"derby/events"
	"derby/loop"
	"derby/models"
	"derby/repository"
	"derby/service"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// analysisBet is staked on every horse in every simulated race
const analysisBet = 10

// AnalysisReport summarizes a batch of simulated races
type AnalysisReport struct {
	Races             int
	BoostedWins       int
	BurstRaces        int
	AverageDuration   time.Duration
	WinsByHorse       map[int]int
	BoostedRankCounts []int // index i counts races the boosted horse finished at rank i+1
	RankCounts        []int // every horse, every race
	Multipliers       []decimal.Decimal
}

// BoostedWinRate is the share of races won by the boosted horse
func (r *AnalysisReport) BoostedWinRate() float64 {
	if r.Races == 0 {
		return 0
	}
	return float64(r.BoostedWins) / float64(r.Races)
}

// ExpectedReturn is the average payout per coin for a bet on any horse
func (r *AnalysisReport) ExpectedReturn() float64 {
	return expectedReturn(r.RankCounts, r.Multipliers)
}

// BoostedExpectedReturn is the average payout per coin for a bet on the boosted horse
func (r *AnalysisReport) BoostedExpectedReturn() float64 {
	return expectedReturn(r.BoostedRankCounts, r.Multipliers)
}

func expectedReturn(rankCounts []int, multipliers []decimal.Decimal) float64 {
	total := 0
	for _, n := range rankCounts {
		total += n
	}
	if total == 0 {
		return 0
	}
	sum := decimal.Zero
	for i, n := range rankCounts {
		if i < len(multipliers) {
			sum = sum.Add(multipliers[i].Mul(decimal.NewFromInt(int64(n))))
		}
	}
	return sum.Div(decimal.NewFromInt(int64(total))).InexactFloat64()
}

// Analyze runs races back to back on a virtual clock with the real engine
// and an in-memory store
func Analyze(ctx context.Context, tuning config.RaceTuning, races int, seed int64) (*AnalysisReport, error) {
	if races <= 0 {
		return nil, fmt.Errorf("race count must be positive, got %d", races)
	}

	db, err := database.OpenMemoryPebble()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	lp := loop.New(clock.NewMock())
	bus := events.NewBus()
	engine, err := service.NewRaceEngine(ctx, tuning, lp, repository.NewPebbleUnitOfWorkFactory(db), bus, rand.New(rand.NewSource(seed)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create race engine: %w", err)
	}
	defer engine.Close()

	report := &AnalysisReport{
		WinsByHorse:       make(map[int]int),
		BoostedRankCounts: make([]int, tuning.TotalHorses),
		RankCounts:        make([]int, tuning.TotalHorses),
		Multipliers:       tuning.Multipliers(),
	}

	stake := int64(analysisBet * tuning.TotalHorses)
	maxSteps := int(10 * time.Minute / tuning.TickInterval)
	var totalDuration time.Duration

	for i := 0; i < races; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if engine.Coins() < stake {
			engine.ResetGame(ctx)
		}
		for horse := 1; horse <= tuning.TotalHorses; horse++ {
			if err := engine.PlaceBet(ctx, horse, analysisBet); err != nil {
				return nil, fmt.Errorf("failed to place bet on horse %d: %w", horse, err)
			}
		}
		if !engine.StartRace(ctx) {
			return nil, fmt.Errorf("race %d did not start", i+1)
		}

		started := lp.Now()
		for step := 0; step < maxSteps && engine.State() != models.GameStateResult; step++ {
			lp.Advance(tuning.TickInterval)
		}
		if engine.State() != models.GameStateResult {
			return nil, fmt.Errorf("race %d did not finish", i+1)
		}
		totalDuration += lp.Now().Sub(started)

		session, _ := engine.Session()
		result := engine.LastResult()
		report.Races++
		report.WinsByHorse[result.Winner()]++
		if session.BurstActivated {
			report.BurstRaces++
		}
		for rank, number := range result.FinishOrder {
			report.RankCounts[rank]++
			if number == session.BoostedHorse {
				report.BoostedRankCounts[rank]++
				if rank == 0 {
					report.BoostedWins++
				}
			}
		}

		engine.ReturnToMainMenu(ctx)
	}

	report.AverageDuration = totalDuration / time.Duration(report.Races)
	return report, nil
}

// WriteReport prints a report in a human readable form
func WriteReport(out io.Writer, r *AnalysisReport) {
	fmt.Fprintf(out, "=== Race Analysis (%d races) ===\n\n", r.Races)
	fmt.Fprintf(out, "Average race length (countdown included): %s\n", r.AverageDuration)
	fmt.Fprintf(out, "Races with a burst: %d (%.2f%%)\n", r.BurstRaces, percent(r.BurstRaces, r.Races))
	fmt.Fprintf(out, "Boosted horse win rate: %.2f%% (fair share %.2f%%)\n\n",
		r.BoostedWinRate()*100, percent(1, len(r.RankCounts)))

	fmt.Fprintln(out, "Wins by horse:")
	for horse := 1; horse <= len(r.RankCounts); horse++ {
		wins := r.WinsByHorse[horse]
		fmt.Fprintf(out, "  #%d %-10s %6d (%.2f%%)\n", horse, models.HorseName(horse), wins, percent(wins, r.Races))
	}

	fmt.Fprintln(out, "\nBoosted horse rank distribution:")
	for i, n := range r.BoostedRankCounts {
		multiplier := "0"
		if i < len(r.Multipliers) {
			multiplier = r.Multipliers[i].String()
		}
		fmt.Fprintf(out, "  rank %d (x%s): %6d (%.2f%%)\n", i+1, multiplier, n, percent(n, r.Races))
	}

	fmt.Fprintf(out, "\nExpected return per coin, any horse:     %.4f\n", r.ExpectedReturn())
	fmt.Fprintf(out, "Expected return per coin, boosted horse: %.4f\n", r.BoostedExpectedReturn())
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// RunAnalyze is the entry point of the analyze subcommand
func RunAnalyze(ctx context.Context, races int, out io.Writer) error {
	cfg := config.Get()
	// Per-race lifecycle logs would drown the report
	log.SetLevel(log.WarnLevel)

	report, err := Analyze(ctx, cfg.Tuning.Race, races, time.Now().UnixNano())
	if err != nil {
		return err
	}
	WriteReport(out, report)
	return nil
}
