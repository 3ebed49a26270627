package badgerledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/internal/infrastructure/ledger"
	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
)

const maxRetries = 5

type store struct {
	lock sync.Mutex
	db   *badger.DB
}

// NewLedgerStore opens a badger ledger in the given dir, or in memory if the
// dir is empty.
func NewLedgerStore(config ...interface{}) (ports.LedgerStore, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	opts := badger.DefaultOptions(baseDir)
	if len(baseDir) <= 0 {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) View(_ context.Context, fn func(tx ports.LedgerTx) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(ledger.NewTx(reader(txn), true))
	})
}

func (s *store) Update(_ context.Context, fn func(tx ports.LedgerTx) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	var err error
	for range maxRetries {
		err = s.db.Update(func(txn *badger.Txn) error {
			tx := ledger.NewTx(reader(txn), false)
			if err := fn(tx); err != nil {
				return err
			}
			if _, err := tx.IncrementVersion(); err != nil {
				return err
			}

			for _, change := range tx.Changes() {
				if change.Deleted {
					if err := txn.Delete(change.Key); err != nil {
						return err
					}
					continue
				}
				if err := txn.Set(change.Key, change.Value); err != nil {
					return err
				}
			}
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		log.Debug("ledger update conflict, retrying")
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func (s *store) Version(_ context.Context) (version uint64, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		version, err = ledger.ReadVersion(reader(txn))
		return err
	})
	return
}

func (s *store) Close() {
	if err := s.db.Close(); err != nil {
		log.WithError(err).Warn("failed to close ledger db")
	}
}

func reader(txn *badger.Txn) ledger.Reader {
	return ledger.ReaderFunc(func(key []byte) ([]byte, error) {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return item.ValueCopy(nil)
	})
}
