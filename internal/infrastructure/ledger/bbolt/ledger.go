package boltledger

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/internal/infrastructure/ledger"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const ledgerDbFile = "ledger.db"

var ledgerBucket = []byte("ledger")

type store struct {
	db *bolt.DB
}

// NewLedgerStore opens a bolt ledger in the given dir.
func NewLedgerStore(baseDir string) (ports.LedgerStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("missing ledger datadir")
	}
	db, err := bolt.Open(
		filepath.Join(baseDir, ledgerDbFile), 0600, &bolt.Options{Timeout: time.Second},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ledgerBucket)
		return err
	}); err != nil {
		//nolint:errcheck
		db.Close()
		return nil, fmt.Errorf("failed to create ledger bucket: %w", err)
	}
	return &store{db}, nil
}

func (s *store) View(_ context.Context, fn func(tx ports.LedgerTx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(ledger.NewTx(reader(btx.Bucket(ledgerBucket)), true))
	})
}

func (s *store) Update(_ context.Context, fn func(tx ports.LedgerTx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		bucket := btx.Bucket(ledgerBucket)
		tx := ledger.NewTx(reader(bucket), false)
		if err := fn(tx); err != nil {
			return err
		}
		if _, err := tx.IncrementVersion(); err != nil {
			return err
		}

		for _, change := range tx.Changes() {
			if change.Deleted {
				if err := bucket.Delete(change.Key); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(change.Key, change.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *store) Version(_ context.Context) (version uint64, err error) {
	err = s.db.View(func(btx *bolt.Tx) error {
		version, err = ledger.ReadVersion(reader(btx.Bucket(ledgerBucket)))
		return err
	})
	return
}

func (s *store) Close() {
	if err := s.db.Close(); err != nil {
		log.WithError(err).Warn("failed to close ledger db")
	}
}

func reader(bucket *bolt.Bucket) ledger.Reader {
	return ledger.ReaderFunc(func(key []byte) ([]byte, error) {
		v := bucket.Get(key)
		if v == nil {
			return nil, nil
		}
		// bolt values are only valid for the life of the transaction
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	})
}
