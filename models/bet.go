package models

// Bet is a stake on a single horse. Bets are never modified after creation.
type Bet struct {
	HorseNumber int   `json:"horse_number"`
	Amount      int64 `json:"amount"`
}

// TotalStake sums the amounts of the given bets
func TotalStake(bets []Bet) int64 {
	var total int64
	for _, b := range bets {
		total += b.Amount
	}
	return total
}

// BetPayout is the per-bet breakdown of a race payout
type BetPayout struct {
	Bet        Bet     `json:"bet"`
	Rank       int     `json:"rank"`
	Multiplier float64 `json:"multiplier"`
	Winnings   int64   `json:"winnings"`
}
