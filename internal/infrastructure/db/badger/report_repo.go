package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/infrastructure/db/dbutil"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const reportStoreDir = "reports"

// Report is the stored form of a distribution report.
type Report struct {
	CycleID       string
	DistributedAt int64 `badgerhold:"index"`
	Data          []byte
}

type reportRepository struct {
	store *badgerhold.Store
}

func NewReportRepository(config ...interface{}) (domain.ReportRepository, error) {
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

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, reportStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open report store: %s", err)
	}

	return &reportRepository{store}, nil
}

func (r *reportRepository) Add(_ context.Context, report domain.DistributionReport) error {
	data, err := dbutil.EncodeReport(report)
	if err != nil {
		return err
	}
	if err := r.store.Upsert(report.CycleID, Report{
		CycleID:       report.CycleID,
		DistributedAt: report.DistributedAt,
		Data:          data,
	}); err != nil {
		return fmt.Errorf("failed to upsert report %s: %w", report.CycleID, err)
	}
	return nil
}

func (r *reportRepository) Get(_ context.Context, cycleID string) (*domain.DistributionReport, error) {
	var report Report
	if err := r.store.Get(cycleID, &report); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrReportNotFound, cycleID)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return dbutil.DecodeReport(report.Data)
}

func (r *reportRepository) List(
	_ context.Context, after, before int64,
) ([]domain.DistributionReport, error) {
	if err := dbutil.ValidateTimeRange(after, before); err != nil {
		return nil, err
	}

	query := badgerhold.Where("DistributedAt").Ge(after)
	if before > 0 {
		query = query.And("DistributedAt").Le(before)
	}

	var stored []Report
	if err := r.store.Find(&stored, query.SortBy("DistributedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	reports := make([]domain.DistributionReport, 0, len(stored))
	for _, s := range stored {
		report, err := dbutil.DecodeReport(s.Data)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

func (r *reportRepository) Close() {
	// nolint:all
	r.store.Close()
}
