package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/infrastructure/db/dbutil"
)

const (
	upsertReport = `
INSERT INTO distribution_report (cycle_id, initiated_at, distributed_at, data)
VALUES (?, ?, ?, ?)
ON CONFLICT(cycle_id) DO UPDATE SET
    initiated_at = excluded.initiated_at,
    distributed_at = excluded.distributed_at,
    data = excluded.data;`
	selectReport = `SELECT data FROM distribution_report WHERE cycle_id = ?;`
	selectReports = `
SELECT data FROM distribution_report
WHERE distributed_at >= ? AND (? = 0 OR distributed_at <= ?)
ORDER BY distributed_at DESC;`
)

type reportRepository struct {
	db *sql.DB
}

func NewReportRepository(config ...interface{}) (domain.ReportRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open report repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &reportRepository{db}, nil
}

func (r *reportRepository) Add(ctx context.Context, report domain.DistributionReport) error {
	data, err := dbutil.EncodeReport(report)
	if err != nil {
		return err
	}
	if err := withRetries(func() error {
		_, err := r.db.ExecContext(
			ctx, upsertReport, report.CycleID, report.InitiatedAt, report.DistributedAt, data,
		)
		return err
	}); err != nil {
		return fmt.Errorf("failed to upsert report %s: %w", report.CycleID, err)
	}
	return nil
}

func (r *reportRepository) Get(ctx context.Context, cycleID string) (*domain.DistributionReport, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, selectReport, cycleID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrReportNotFound, cycleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return dbutil.DecodeReport(data)
}

func (r *reportRepository) List(
	ctx context.Context, after, before int64,
) ([]domain.DistributionReport, error) {
	if err := dbutil.ValidateTimeRange(after, before); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, selectReports, after, before, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	// nolint
	defer rows.Close()

	reports := make([]domain.DistributionReport, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		report, err := dbutil.DecodeReport(data)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	return reports, nil
}

func (r *reportRepository) Close() {
	_ = r.db.Close()
}
