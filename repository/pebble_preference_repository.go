package repository

import (
	"context"
	"errors"
	"fmt"

	"derby/models"

	"github.com/cockroachdb/pebble"
)

// pebblePreferenceRepository stores preferences under pref/<store>/<key>
type pebblePreferenceRepository struct {
	batch *pebble.Batch
}

func (r *pebblePreferenceRepository) Get(ctx context.Context, store models.PreferenceStore, key string) (string, bool, error) {
	val, closer, err := r.batch.Get(kPref(store, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get preference %s/%s: %w", store, key, err)
	}
	defer closer.Close()
	return string(val), true, nil
}

func (r *pebblePreferenceRepository) Set(ctx context.Context, store models.PreferenceStore, key, value string) error {
	if err := r.batch.Set(kPref(store, key), []byte(value), nil); err != nil {
		return fmt.Errorf("failed to set preference %s/%s: %w", store, key, err)
	}
	return nil
}
