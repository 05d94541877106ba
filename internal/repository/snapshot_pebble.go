package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

type pebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a Pebble database in dir.
func OpenPebble(dir string) (*pebble.DB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return db, nil
}

// NewPebbleSnapshotRepository stores snapshots in a local Pebble database.
func NewPebbleSnapshotRepository(db *pebble.DB, namespace string) SnapshotRepository {
	return newSnapshotRepository(&pebbleStore{db: db}, namespace)
}

func (s *pebbleStore) get(_ context.Context, key string) ([]byte, bool, error) {
	value, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), true, nil
}

func (s *pebbleStore) set(_ context.Context, key string, value []byte) error {
	return s.db.Set([]byte(key), value, pebble.Sync)
}

func (s *pebbleStore) del(_ context.Context, keys ...string) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, key := range keys {
		if err := batch.Delete([]byte(key), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}
