package repository

import (
	"context"
	"errors"
	"fmt"

	"derby/database"
	"derby/service"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

// NewUnitOfWorkFactory creates units of work backed by Postgres transactions
func NewUnitOfWorkFactory(db *database.DB) service.UnitOfWorkFactory {
	return &unitOfWorkFactory{db: db}
}

type unitOfWorkFactory struct {
	db *database.DB
}

func (f *unitOfWorkFactory) Create() service.UnitOfWork {
	return &unitOfWork{db: f.db}
}

// unitOfWork scopes the preference and ledger repositories to one
// read-committed transaction
type unitOfWork struct {
	db      *database.DB
	tx      pgx.Tx
	ctx     context.Context
	prefs   *PreferenceRepository
	history *BalanceHistoryRepository
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.tx, u.ctx = tx, ctx
	u.prefs = newPreferenceRepositoryWithTx(tx)
	u.history = newBalanceHistoryRepositoryWithTx(tx)
	return nil
}

func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}
	defer u.end()

	if err := u.tx.Commit(u.ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback is a no-op after Commit, so callers can always defer it
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	defer u.end()

	if err := u.tx.Rollback(u.ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.WithError(err).Warn("Postgres rollback failed")
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func (u *unitOfWork) end() {
	u.tx = nil
}

func (u *unitOfWork) PreferenceRepository() service.PreferenceRepository {
	if u.prefs == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.prefs
}

func (u *unitOfWork) BalanceHistoryRepository() service.BalanceHistoryRepository {
	if u.history == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.history
}
