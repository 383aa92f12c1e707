package service

import (
	"context"
	"fmt"

	"derby/events"
	"derby/models"

	"github.com/google/uuid"
)

// RecordBalanceChange records a balance history entry.
// This is the single entry point for all balance changes in the system.
func RecordBalanceChange(ctx context.Context, uow UnitOfWork, history *models.BalanceHistory) error {
	if err := uow.BalanceHistoryRepository().Record(ctx, history); err != nil {
		return fmt.Errorf("failed to record balance history: %w", err)
	}
	return nil
}

// newBalanceHistory builds a ledger entry for a balance movement
func newBalanceHistory(before, after int64, txType models.TransactionType, raceID uuid.UUID, metadata map[string]any) *models.BalanceHistory {
	history := &models.BalanceHistory{
		BalanceBefore:       before,
		BalanceAfter:        after,
		ChangeAmount:        after - before,
		TransactionType:     txType,
		TransactionMetadata: metadata,
	}
	if raceID != uuid.Nil {
		id := raceID.String()
		history.RaceID = &id
	}
	return history
}

// balanceChangeEvent converts a ledger entry into its bus event
func balanceChangeEvent(history *models.BalanceHistory, raceID uuid.UUID) events.BalanceChangeEvent {
	return events.BalanceChangeEvent{
		OldBalance:      history.BalanceBefore,
		NewBalance:      history.BalanceAfter,
		TransactionType: history.TransactionType,
		ChangeAmount:    history.ChangeAmount,
		RaceID:          raceID,
	}
}
