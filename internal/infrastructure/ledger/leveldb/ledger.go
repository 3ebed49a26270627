package leveldbledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/internal/infrastructure/ledger"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

type store struct {
	// writes are serialized, reads go through snapshots
	lock sync.Mutex
	db   *leveldb.DB
}

// NewLedgerStore opens a leveldb ledger at path, or in memory if the path is
// empty.
func NewLedgerStore(path string) (ports.LedgerStore, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) View(_ context.Context, fn func(tx ports.LedgerTx) error) error {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("failed to get ledger snapshot: %w", err)
	}
	defer snap.Release()

	return fn(ledger.NewTx(reader(snap.Get), true))
}

func (s *store) Update(_ context.Context, fn func(tx ports.LedgerTx) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	tx := ledger.NewTx(reader(s.db.Get), false)
	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.IncrementVersion(); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	for _, change := range tx.Changes() {
		if change.Deleted {
			batch.Delete(change.Key)
			continue
		}
		batch.Put(change.Key, change.Value)
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to write ledger batch: %w", err)
	}
	return nil
}

func (s *store) Version(_ context.Context) (uint64, error) {
	return ledger.ReadVersion(reader(s.db.Get))
}

func (s *store) Close() {
	if err := s.db.Close(); err != nil {
		log.WithError(err).Warn("failed to close ledger db")
	}
}

func reader(get func([]byte, *opt.ReadOptions) ([]byte, error)) ledger.Reader {
	return ledger.ReaderFunc(func(key []byte) ([]byte, error) {
		v, err := get(key, nil)
		if err != nil {
			if errors.Is(err, leveldb.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return v, nil
	})
}
