package testutil

import (
	"derby/models"

	"github.com/google/uuid"
)

// CreateTestBalanceHistory creates a test balance history entry
func CreateTestBalanceHistory(transactionType models.TransactionType) *models.BalanceHistory {
	return &models.BalanceHistory{
		BalanceBefore:   100,
		BalanceAfter:    90,
		ChangeAmount:    -10,
		TransactionType: transactionType,
		TransactionMetadata: map[string]any{
			"test": true,
		},
	}
}

// CreateTestBalanceHistoryWithAmounts creates a test balance history with specific amounts
func CreateTestBalanceHistoryWithAmounts(before, after int64, transactionType models.TransactionType) *models.BalanceHistory {
	history := CreateTestBalanceHistory(transactionType)
	history.BalanceBefore = before
	history.BalanceAfter = after
	history.ChangeAmount = after - before
	return history
}

// CreateTestRaceHistory creates a ledger entry tied to a race
func CreateTestRaceHistory(raceID uuid.UUID, before, after int64, transactionType models.TransactionType) *models.BalanceHistory {
	history := CreateTestBalanceHistoryWithAmounts(before, after, transactionType)
	id := raceID.String()
	history.RaceID = &id
	return history
}
