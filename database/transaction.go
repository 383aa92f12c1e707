package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

// WithTransaction runs fn in a read-committed transaction. The transaction
// is committed when fn succeeds and rolled back otherwise.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
	if err != nil {
		log.WithError(err).Debug("Transaction rolled back")
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}
