package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"derby/models"

	"github.com/cockroachdb/pebble"
)

// pebbleBalanceHistoryRepository appends JSON entries under ledger/<seq>
type pebbleBalanceHistoryRepository struct {
	batch *pebble.Batch
}

func (r *pebbleBalanceHistoryRepository) Record(ctx context.Context, history *models.BalanceHistory) error {
	seq, err := r.lastSeq()
	if err != nil {
		return err
	}
	seq++

	history.ID = int64(seq)
	history.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal balance history: %w", err)
	}
	if err := r.batch.Set(kLedger(seq), data, nil); err != nil {
		return fmt.Errorf("failed to record %s balance history: %w", history.TransactionType, err)
	}
	if err := r.batch.Set(ledgerSeqKey, encodeSeq(seq), nil); err != nil {
		return fmt.Errorf("failed to advance ledger sequence: %w", err)
	}
	return nil
}

func (r *pebbleBalanceHistoryRepository) GetRecent(ctx context.Context, limit int) ([]*models.BalanceHistory, error) {
	iter, err := r.batch.NewIter(&pebble.IterOptions{
		LowerBound: ledgerPrefix,
		UpperBound: ledgerEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger iterator: %w", err)
	}
	defer iter.Close()

	var histories []*models.BalanceHistory
	for iter.Last(); iter.Valid() && (limit <= 0 || len(histories) < limit); iter.Prev() {
		var history models.BalanceHistory
		if err := json.Unmarshal(iter.Value(), &history); err != nil {
			return nil, fmt.Errorf("failed to decode balance history: %w", err)
		}
		histories = append(histories, &history)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate balance history: %w", err)
	}
	return histories, nil
}

func (r *pebbleBalanceHistoryRepository) lastSeq() (uint64, error) {
	val, closer, err := r.batch.Get(ledgerSeqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger sequence: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt ledger sequence: %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}
