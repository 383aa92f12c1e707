package repository

import (
	"context"
	"fmt"
	"sync"

	"derby/service"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"
)

// pebbleUnitOfWork buffers every write in an indexed batch so reads inside
// the unit of work see its own writes. Commit applies the batch with Sync.
type pebbleUnitOfWork struct {
	factory            *pebbleUnitOfWorkFactory
	batch              *pebble.Batch
	preferenceRepo     service.PreferenceRepository
	balanceHistoryRepo service.BalanceHistoryRepository
}

// NewPebbleUnitOfWorkFactory creates a UnitOfWork factory over a local store.
// Units of work are serialized: Begin blocks until the previous one ends.
func NewPebbleUnitOfWorkFactory(db *pebble.DB) service.UnitOfWorkFactory {
	return &pebbleUnitOfWorkFactory{db: db}
}

type pebbleUnitOfWorkFactory struct {
	db *pebble.DB
	mu sync.Mutex // held from Begin until Commit or Rollback
}

func (f *pebbleUnitOfWorkFactory) Create() service.UnitOfWork {
	return &pebbleUnitOfWork{factory: f}
}

// Begin starts a new batch
func (u *pebbleUnitOfWork) Begin(ctx context.Context) error {
	if u.batch != nil {
		return fmt.Errorf("transaction already started")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.factory.mu.Lock()
	u.batch = u.factory.db.NewIndexedBatch()
	u.preferenceRepo = &pebblePreferenceRepository{batch: u.batch}
	u.balanceHistoryRepo = &pebbleBalanceHistoryRepository{batch: u.batch}
	return nil
}

// Commit applies the batch durably
func (u *pebbleUnitOfWork) Commit() error {
	if u.batch == nil {
		return fmt.Errorf("no transaction to commit")
	}
	defer u.end()

	if err := u.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Rollback drops the batch
func (u *pebbleUnitOfWork) Rollback() error {
	if u.batch == nil {
		return nil // Nothing to rollback
	}
	u.end()
	return nil
}

func (u *pebbleUnitOfWork) end() {
	if err := u.batch.Close(); err != nil {
		log.WithError(err).Debug("Failed to close batch")
	}
	u.batch = nil
	u.factory.mu.Unlock()
}

// PreferenceRepository returns the preference repository for this unit of work
func (u *pebbleUnitOfWork) PreferenceRepository() service.PreferenceRepository {
	if u.preferenceRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.preferenceRepo
}

// BalanceHistoryRepository returns the balance history repository for this unit of work
func (u *pebbleUnitOfWork) BalanceHistoryRepository() service.BalanceHistoryRepository {
	if u.balanceHistoryRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.balanceHistoryRepo
}
