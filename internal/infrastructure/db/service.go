package db

import (
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	badgerdb "github.com/arkade-os/fee-distributor/internal/infrastructure/db/badger"
	pgdb "github.com/arkade-os/fee-distributor/internal/infrastructure/db/postgres"
	sqlitedb "github.com/arkade-os/fee-distributor/internal/infrastructure/db/sqlite"
	watermilldb "github.com/arkade-os/fee-distributor/internal/infrastructure/db/watermill"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed sqlite/migration/*
var migrations embed.FS

//go:embed postgres/migration/*
var pgMigration embed.FS

var (
	eventStoreTypes = map[string]func(...interface{}) (domain.EventRepository, error){
		"gochannel": newGoChannelEventRepository,
	}
	reportStoreTypes = map[string]func(...interface{}) (domain.ReportRepository, error){
		"badger":   badgerdb.NewReportRepository,
		"sqlite":   sqlitedb.NewReportRepository,
		"postgres": pgdb.NewReportRepository,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

type ServiceConfig struct {
	EventStoreType string
	DataStoreType  string

	EventStoreConfig []interface{}
	DataStoreConfig  []interface{}
}

type service struct {
	eventStore  domain.EventRepository
	reportStore domain.ReportRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	eventStoreFactory, ok := eventStoreTypes[config.EventStoreType]
	if !ok {
		return nil, fmt.Errorf("event store type not supported")
	}
	reportStoreFactory, ok := reportStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	eventStore, err := eventStoreFactory(config.EventStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %s", err)
	}

	var reportStore domain.ReportRepository
	switch config.DataStoreType {
	case "badger":
		reportStore, err = reportStoreFactory(config.DataStoreConfig...)
		if err != nil {
			return nil, fmt.Errorf("failed to open report store: %s", err)
		}
	case "postgres":
		if len(config.DataStoreConfig) != 2 {
			return nil, fmt.Errorf("invalid data store config for postgres")
		}

		dsn, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid DSN for postgres")
		}
		autoCreate, ok := config.DataStoreConfig[1].(bool)
		if !ok {
			return nil, fmt.Errorf("invalid autocreate flag for postgres")
		}

		db, err := pgdb.OpenDb(dsn, autoCreate)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres db: %w", err)
		}

		pgDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres migration driver: %s", err)
		}

		source, err := iofs.New(pgMigration, "postgres/migration")
		if err != nil {
			return nil, fmt.Errorf("failed to embed postgres migrations: %s", err)
		}

		m, err := migrate.NewWithInstance("iofs", source, "postgres", pgDriver)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres migration instance: %s", err)
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run postgres migrations: %s", err)
		}

		reportStore, err = reportStoreFactory(db)
		if err != nil {
			return nil, fmt.Errorf("failed to open report store: %s", err)
		}
	case "sqlite":
		if len(config.DataStoreConfig) != 1 {
			return nil, fmt.Errorf("invalid data store config")
		}

		baseDir, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}

		dbFile := filepath.Join(baseDir, sqliteDbFile)
		db, err := sqlitedb.OpenDb(dbFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %s", err)
		}

		driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init driver: %s", err)
		}

		source, err := iofs.New(migrations, "sqlite/migration")
		if err != nil {
			return nil, fmt.Errorf("failed to embed migrations: %s", err)
		}

		m, err := migrate.NewWithInstance("iofs", source, "feedistdb", driver)
		if err != nil {
			return nil, fmt.Errorf("failed to create migration instance: %s", err)
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run migrations: %s", err)
		}

		reportStore, err = reportStoreFactory(db)
		if err != nil {
			return nil, fmt.Errorf("failed to open report store: %s", err)
		}
	}

	svc := &service{
		eventStore:  eventStore,
		reportStore: reportStore,
	}

	eventStore.RegisterEventsHandler(domain.DistributionTopic, svc.logEvents)

	return svc, nil
}

func (s *service) Events() domain.EventRepository {
	return s.eventStore
}

func (s *service) Reports() domain.ReportRepository {
	return s.reportStore
}

func (s *service) Close() {
	s.eventStore.Close()
	s.reportStore.Close()
}

func (s *service) logEvents(events []domain.Event) {
	for _, event := range events {
		log.WithField("cycle_id", event.GetCycleID()).Debugf("distribution event %s", event.GetType())
	}
}

// newGoChannelEventRepository publishes events on an in-process channel. The
// publisher blocks until every handler has processed a batch, so batches are
// handled in saving order.
func newGoChannelEventRepository(config ...interface{}) (domain.EventRepository, error) {
	if len(config) > 1 {
		return nil, fmt.Errorf("invalid event store config")
	}
	logger := watermill.LoggerAdapter(watermill.NopLogger{})
	if len(config) == 1 && config[0] != nil {
		l, ok := config[0].(watermill.LoggerAdapter)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
		logger = l
	}

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	return watermilldb.NewWatermillEventRepository(pubsub, pubsub), nil
}
