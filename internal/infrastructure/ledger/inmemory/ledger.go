package inmemoryledger

import (
	"context"
	"sync"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/internal/infrastructure/ledger"
)

type store struct {
	lock sync.RWMutex
	data map[string][]byte
}

func NewLedgerStore() ports.LedgerStore {
	return &store{data: make(map[string][]byte)}
}

func (s *store) View(_ context.Context, fn func(tx ports.LedgerTx) error) error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return fn(ledger.NewTx(ledger.ReaderFunc(s.get), true))
}

func (s *store) Update(_ context.Context, fn func(tx ports.LedgerTx) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	tx := ledger.NewTx(ledger.ReaderFunc(s.get), false)
	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.IncrementVersion(); err != nil {
		return err
	}

	for _, change := range tx.Changes() {
		if change.Deleted {
			delete(s.data, string(change.Key))
			continue
		}
		s.data[string(change.Key)] = change.Value
	}
	return nil
}

func (s *store) Version(_ context.Context) (uint64, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return ledger.ReadVersion(ledger.ReaderFunc(s.get))
}

func (s *store) Close() {}

func (s *store) get(key []byte) ([]byte, error) {
	v, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}
	return v, nil
}
