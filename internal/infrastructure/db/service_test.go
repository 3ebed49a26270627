package db_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/internal/infrastructure/db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	dbDir := t.TempDir()
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "repo_manager_with_badger_stores",
			config: db.ServiceConfig{
				EventStoreType:   "gochannel",
				DataStoreType:    "badger",
				EventStoreConfig: []interface{}{},
				DataStoreConfig:  []interface{}{"", nil},
			},
		},
		{
			name: "repo_manager_with_sqlite_stores",
			config: db.ServiceConfig{
				EventStoreType:   "gochannel",
				DataStoreType:    "sqlite",
				EventStoreConfig: []interface{}{},
				DataStoreConfig:  []interface{}{dbDir},
			},
		},
	}
	if dsn := os.Getenv("FEEDIST_TEST_PG_DSN"); dsn != "" {
		tests = append(tests, struct {
			name   string
			config db.ServiceConfig
		}{
			name: "repo_manager_with_postgres_stores",
			config: db.ServiceConfig{
				EventStoreType:   "gochannel",
				DataStoreType:    "postgres",
				EventStoreConfig: []interface{}{},
				DataStoreConfig:  []interface{}{dsn, true},
			},
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			defer svc.Close()

			testEventRepository(t, svc)
			testReportRepository(t, svc)
		})
	}
}

func TestInvalidServiceConfig(t *testing.T) {
	_, err := db.NewService(db.ServiceConfig{EventStoreType: "kafka", DataStoreType: "badger"})
	require.Error(t, err)

	_, err = db.NewService(db.ServiceConfig{EventStoreType: "gochannel", DataStoreType: "mysql"})
	require.Error(t, err)

	_, err = db.NewService(db.ServiceConfig{
		EventStoreType:  "gochannel",
		DataStoreType:   "sqlite",
		DataStoreConfig: []interface{}{1},
	})
	require.Error(t, err)
}

func testEventRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_event_repository", func(t *testing.T) {
		ctx := context.Background()
		lock := sync.Mutex{}
		received := make([]domain.Event, 0)
		svc.Events().RegisterEventsHandler(domain.DistributionTopic, func(events []domain.Event) {
			lock.Lock()
			defer lock.Unlock()
			received = append(received, events...)
		})
		defer svc.Events().ClearRegisteredHandlers(domain.DistributionTopic)

		id := uuid.New().String()
		events := []domain.Event{
			domain.DistributionInitiated{
				DistributionEvent: domain.DistributionEvent{
					Id: id, Type: domain.EventTypeDistributionInitiated, Timestamp: 1,
				},
				CurrentChainID:      1,
				CurrentFeeAmount:    "10",
				CurrentStakedAmount: "20",
			},
			domain.BridgingCompleted{
				DistributionEvent: domain.DistributionEvent{
					Id: id, Type: domain.EventTypeBridgingCompleted, Timestamp: 2,
				},
				CurrentBalance: "10",
			},
		}
		require.NoError(t, svc.Events().Save(ctx, domain.DistributionTopic, id, events))

		lock.Lock()
		defer lock.Unlock()
		require.Equal(t, events, received)
	})
}

func testReportRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("test_report_repository", func(t *testing.T) {
		ctx := context.Background()
		repo := svc.Reports()

		reports, err := repo.List(ctx, 0, 0)
		require.NoError(t, err)
		require.Empty(t, reports)

		_, err = repo.Get(ctx, "unknown")
		require.Error(t, err)

		first := newReport(1000)
		second := newReport(2000)
		second.Transfers = nil
		second.Referrals = []domain.ReferralAuthorization{
			{Token: common.HexToAddress("0xaa"), Amount: uint256.NewInt(5)},
		}

		require.NoError(t, repo.Add(ctx, first))
		require.NoError(t, repo.Add(ctx, second))

		got, err := repo.Get(ctx, first.CycleID)
		require.NoError(t, err)
		require.Equal(t, first, *got)

		reports, err = repo.List(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, reports, 2)
		require.Equal(t, second.CycleID, reports[0].CycleID)
		require.Equal(t, first.CycleID, reports[1].CycleID)

		reports, err = repo.List(ctx, 1500, 0)
		require.NoError(t, err)
		require.Len(t, reports, 1)
		require.Equal(t, second.CycleID, reports[0].CycleID)

		reports, err = repo.List(ctx, 0, 1500)
		require.NoError(t, err)
		require.Len(t, reports, 1)
		require.Equal(t, first.CycleID, reports[0].CycleID)

		_, err = repo.List(ctx, 2000, 1000)
		require.Error(t, err)

		// Adding a report twice overwrites it.
		first.FeeTokenDistributed = uint256.NewInt(7)
		require.NoError(t, repo.Add(ctx, first))
		got, err = repo.Get(ctx, first.CycleID)
		require.NoError(t, err)
		require.Equal(t, uint64(7), got.FeeTokenDistributed.Uint64())
	})
}

func newReport(distributedAt int64) domain.DistributionReport {
	return domain.DistributionReport{
		CycleID:        uuid.New().String(),
		InitiatedAt:    distributedAt - 100,
		ReadResponseAt: distributedAt - 50,
		DistributedAt:  distributedAt,
		Chains: domain.ChainRecords{
			domain.NewChainRecord(1, uint256.NewInt(100), uint256.NewInt(50)),
			domain.NewChainRecord(2, uint256.NewInt(0), uint256.NewInt(50)),
		},
		Transfers: []domain.BridgeTransfer{
			{FromChainID: 1, ToChainID: 2, Amount: uint256.NewInt(50)},
		},
		RequiredFeeAmount:   uint256.NewInt(50),
		FeeTokenDistributed: uint256.NewInt(50),
		Buckets: domain.CostBuckets{
			Total: uint256.NewInt(1000),
			KeeperCosts: []domain.KeeperCost{
				{Keeper: common.HexToAddress("0x01"), Amount: uint256.NewInt(30), TreasuryOnly: true},
			},
			KeeperCostsTreasury: uint256.NewInt(30),
			KeeperCostsGlp:      uint256.NewInt(0),
			ForExternalService:  uint256.NewInt(50),
			ForTreasury:         uint256.NewInt(420),
			ForReferralRewards:  uint256.NewInt(50),
			Residual:            uint256.NewInt(450),
			TreasuryShortfall:   uint256.NewInt(0),
		},
		Referrals: []domain.ReferralAuthorization{},
	}
}
