// Package store persists job records in BadgerDB so the control plane can
// list and inspect streaming jobs across process restarts.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/chainstream/pkg/jobs"
)

// ErrNotFound indicates the requested job record does not exist.
var ErrNotFound = errors.New("job record not found")

const keyPrefix = "job/"

// Store is a Badger-backed job record store. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store at path. An empty path opens an
// in-memory store, used by tests and by runs that do not need persistence.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Put writes or replaces a job record.
func (s *Store) Put(ctx context.Context, rec *jobs.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("job record has no ID")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode job record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ID), data)
	})
}

// Get returns the job record with the given ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*jobs.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec jobs.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns all job records, in key order.
func (s *Store) List(ctx context.Context) ([]*jobs.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*jobs.Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec jobs.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a job record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(id))
	})
}
