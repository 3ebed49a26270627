package redisledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/internal/infrastructure/ledger"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const keyPrefix = "ledger:"

type store struct {
	lock         sync.Mutex
	rdb          *redis.Client
	numOfRetries int
}

func NewLedgerStore(rdb *redis.Client, numOfRetries int) ports.LedgerStore {
	if numOfRetries <= 0 {
		numOfRetries = 1
	}
	return &store{rdb: rdb, numOfRetries: numOfRetries}
}

func (s *store) View(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	return fn(ledger.NewTx(s.reader(ctx, s.rdb), true))
}

// Update watches the version key, every committed update bumps it so a
// concurrent writer makes the transaction fail and retry.
func (s *store) Update(ctx context.Context, fn func(tx ports.LedgerTx) error) (err error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	versionKey := redisKey(ledger.VersionKey)
	for attempt := 0; attempt < s.numOfRetries; attempt++ {
		err = s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
			tx := ledger.NewTx(s.reader(ctx, rtx), false)
			if err := fn(tx); err != nil {
				return err
			}
			if _, err := tx.IncrementVersion(); err != nil {
				return err
			}

			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, change := range tx.Changes() {
					if change.Deleted {
						pipe.Del(ctx, redisKey(change.Key))
						continue
					}
					pipe.Set(ctx, redisKey(change.Key), change.Value, 0)
				}
				return nil
			})
			return err
		}, versionKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		log.Debugf("ledger update conflict, retrying (%d/%d)", attempt+1, s.numOfRetries)
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("ledger update failed after %d attempts: %w", s.numOfRetries, err)
}

func (s *store) Version(ctx context.Context) (uint64, error) {
	return ledger.ReadVersion(s.reader(ctx, s.rdb))
}

func (s *store) Close() {
	if err := s.rdb.Close(); err != nil {
		log.WithError(err).Warn("failed to close ledger redis client")
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *store) reader(ctx context.Context, cmd getter) ledger.Reader {
	return ledger.ReaderFunc(func(key []byte) ([]byte, error) {
		v, err := cmd.Get(ctx, redisKey(key)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, err
		}
		return v, nil
	})
}

func redisKey(key []byte) string {
	return keyPrefix + hex.EncodeToString(key)
}
