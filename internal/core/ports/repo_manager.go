package ports

import "github.com/arkade-os/fee-distributor/internal/core/domain"

type RepoManager interface {
	Events() domain.EventRepository
	Reports() domain.ReportRepository
	Close()
}
