package database

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	log "github.com/sirupsen/logrus"
)

// OpenPebble opens the local key/value store at path
func OpenPebble(path string) (*pebble.DB, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store at %s: %w", path, err)
	}
	log.WithField("path", path).Info("Opened local store")
	return db, nil
}

// OpenMemoryPebble opens a store that lives only in memory
func OpenMemoryPebble() (*pebble.DB, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble store: %w", err)
	}
	return db, nil
}
