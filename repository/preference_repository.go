package repository

import (
	"context"
	"errors"
	"fmt"

	"derby/database"
	"derby/models"

	"github.com/jackc/pgx/v5"
)

// PreferenceRepository implements the PreferenceRepository interface
type PreferenceRepository struct {
	q queryable
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *database.DB) *PreferenceRepository {
	return &PreferenceRepository{q: db.Pool}
}

// newPreferenceRepositoryWithTx creates a new preference repository with a transaction
func newPreferenceRepositoryWithTx(tx queryable) *PreferenceRepository {
	return &PreferenceRepository{q: tx}
}

// Get returns the value stored under store/key
func (r *PreferenceRepository) Get(ctx context.Context, store models.PreferenceStore, key string) (string, bool, error) {
	query := `SELECT value FROM preferences WHERE store = $1 AND key = $2`

	var value string
	err := r.q.QueryRow(ctx, query, string(store), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get preference %s/%s: %w", store, key, err)
	}
	return value, true, nil
}

// Set upserts the value stored under store/key
func (r *PreferenceRepository) Set(ctx context.Context, store models.PreferenceStore, key, value string) error {
	query := `
		INSERT INTO preferences (store, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (store, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.q.Exec(ctx, query, string(store), key, value); err != nil {
		return fmt.Errorf("failed to set preference %s/%s: %w", store, key, err)
	}
	return nil
}
