package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"ledger/internal/core"
	"ledger/internal/ledger"
)

// Bucket names.
const (
	BucketCurrent = "current"
	BucketHistory = "history"
)

// BoltStore keeps each account's records as one JSON value per bucket.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens the database and creates the buckets.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{BucketCurrent, BucketHistory} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping fails once the database has been closed.
func (s *BoltStore) Ping(_ context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

// Load reads both buckets. An account whose value does not decode is skipped
// and reported; everything else still loads.
func (s *BoltStore) Load(_ context.Context) (ledger.Snapshot, error) {
	snap := ledger.NewSnapshot()
	var errs []error

	err := s.db.View(func(tx *bolt.Tx) error {
		current := make(map[string][]core.CurrentRecord)
		if b := tx.Bucket([]byte(BucketCurrent)); b != nil {
			_ = b.ForEach(func(k, v []byte) error {
				var records []core.CurrentRecord
				if err := json.Unmarshal(v, &records); err != nil {
					errs = append(errs, fmt.Errorf("decode current records for %q: %w", k, err))
					return nil
				}
				current[string(k)] = records
				return nil
			})
		}
		snap.Current = currentMaps(current)

		if b := tx.Bucket([]byte(BucketHistory)); b != nil {
			_ = b.ForEach(func(k, v []byte) error {
				var records []core.HistoricalRecord
				if err := json.Unmarshal(v, &records); err != nil {
					errs = append(errs, fmt.Errorf("decode history records for %q: %w", k, err))
					return nil
				}
				snap.History[string(k)] = records
				return nil
			})
		}
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("read snapshot: %w", err))
	}

	return snap, errors.Join(errs...)
}

// Save rewrites both buckets in a single transaction.
func (s *BoltStore) Save(_ context.Context, snap ledger.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putAll(tx, BucketCurrent, currentLists(snap)); err != nil {
			return err
		}
		return putAll(tx, BucketHistory, snap.History)
	})
}

func putAll[T any](tx *bolt.Tx, bucket string, values map[string][]T) error {
	if err := tx.DeleteBucket([]byte(bucket)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return fmt.Errorf("failed to reset bucket %s: %w", bucket, err)
	}
	b, err := tx.CreateBucket([]byte(bucket))
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	for account, records := range values {
		data, err := json.Marshal(records)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		if err := b.Put([]byte(account), data); err != nil {
			return fmt.Errorf("failed to put %s/%s: %w", bucket, account, err)
		}
	}
	return nil
}
