package models

import "github.com/google/uuid"

// RaceResult is the payout snapshot of one completed race
type RaceResult struct {
	RaceID        uuid.UUID   `json:"race_id"`
	FinishOrder   []int       `json:"finish_order"`
	Payouts       []BetPayout `json:"payouts"`
	TotalWinnings int64       `json:"total_winnings"`
	TotalLosses   int64       `json:"total_losses"`
	NetChange     int64       `json:"net_change"`
	NewBalance    int64       `json:"new_balance"`
}

// NetChangePercentage returns the net change relative to the total stake
func (r *RaceResult) NetChangePercentage() float64 {
	if r.TotalLosses == 0 {
		return 0
	}
	return float64(r.NetChange) / float64(r.TotalLosses) * 100
}

// Winner returns the number of the first-ranked horse, or 0 if the order is empty
func (r *RaceResult) Winner() int {
	if len(r.FinishOrder) == 0 {
		return 0
	}
	return r.FinishOrder[0]
}

// Clone returns a deep copy so observers can't alias engine-owned slices
func (r *RaceResult) Clone() *RaceResult {
	if r == nil {
		return nil
	}
	c := *r
	c.FinishOrder = append([]int(nil), r.FinishOrder...)
	c.Payouts = append([]BetPayout(nil), r.Payouts...)
	return &c
}
