package service

import (
	"sort"

	"derby/models"

	"github.com/shopspring/decimal"
)

// RankHorses orders horses by position, furthest first, assigns each its
// FinishPosition and returns the finish order as horse numbers. Horses
// level on position keep their relative order from the input slice.
func RankHorses(horses []*models.Horse) []int {
	ranked := make([]*models.Horse, len(horses))
	copy(ranked, horses)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Position > ranked[j].Position
	})

	order := make([]int, len(ranked))
	for i, h := range ranked {
		h.FinishPosition = i + 1
		order[i] = h.Number
	}
	return order
}

// ComputePayout settles bets against a finish order. balance is the
// balance after the stake was deducted. multipliers[i] applies to rank i+1;
// any rank beyond the table pays nothing.
func ComputePayout(bets []models.Bet, finishOrder []int, balance int64, multipliers []decimal.Decimal) *models.RaceResult {
	rankOf := make(map[int]int, len(finishOrder))
	for i, number := range finishOrder {
		rankOf[number] = i + 1
	}

	result := &models.RaceResult{
		FinishOrder: append([]int(nil), finishOrder...),
		Payouts:     make([]models.BetPayout, 0, len(bets)),
	}

	for _, bet := range bets {
		rank := rankOf[bet.HorseNumber]
		multiplier := decimal.Zero
		if rank >= 1 && rank <= len(multipliers) {
			multiplier = multipliers[rank-1]
		}

		var winnings int64
		if multiplier.IsPositive() {
			winnings = decimal.NewFromInt(bet.Amount).Mul(multiplier).Floor().IntPart()
		}

		result.Payouts = append(result.Payouts, models.BetPayout{
			Bet:        bet,
			Rank:       rank,
			Multiplier: multiplier.InexactFloat64(),
			Winnings:   winnings,
		})
		result.TotalWinnings += winnings
		result.TotalLosses += bet.Amount
	}

	result.NetChange = result.TotalWinnings - result.TotalLosses
	result.NewBalance = balance + result.TotalWinnings
	return result
}
