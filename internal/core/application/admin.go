package application

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

type AdminService interface {
	// WithdrawTokens moves tokens out of the holding account regardless of
	// the distribution state.
	WithdrawTokens(
		ctx context.Context, token, receiver common.Address, amount *uint256.Int,
	) error
	GetParams(ctx context.Context) (*domain.DistributionParams, error)
	UpdateParams(ctx context.Context, params domain.DistributionParams) error
	ListReports(ctx context.Context, after, before int64) ([]domain.DistributionReport, error)
	GetReport(ctx context.Context, cycleID string) (*domain.DistributionReport, error)
}

type adminService struct {
	ledger      ports.LedgerStore
	repoManager ports.RepoManager
	vault       ports.TokenVault
	clock       clockwork.Clock
}

func NewAdminService(
	ledger ports.LedgerStore, repoManager ports.RepoManager, vault ports.TokenVault,
	clock clockwork.Clock,
) AdminService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &adminService{
		ledger:      ledger,
		repoManager: repoManager,
		vault:       vault,
		clock:       clock,
	}
}

func (a *adminService) WithdrawTokens(
	ctx context.Context, token, receiver common.Address, amount *uint256.Int,
) error {
	if amount == nil || amount.IsZero() {
		return errors.INVALID_PARAMS.New("missing withdrawal amount").
			WithMetadata(errors.InvalidParamsMetadata{Field: "amount"})
	}
	if receiver == (common.Address{}) {
		return errors.INVALID_PARAMS.New("missing withdrawal receiver").
			WithMetadata(errors.InvalidParamsMetadata{Field: "receiver"})
	}
	if err := a.vault.Transfer(ctx, token, receiver, amount); err != nil {
		return errors.INTERNAL_ERROR.Wrap(fmt.Errorf("failed to withdraw tokens: %w", err))
	}

	log.Infof("withdrew %s of token %s to %s", amount.Dec(), token.Hex(), receiver.Hex())

	id := token.Hex()
	if err := a.repoManager.Events().Save(
		ctx, domain.DistributionTopic, id, []domain.Event{domain.TokensWithdrawn{
			DistributionEvent: domain.DistributionEvent{
				Id:        id,
				Type:      domain.EventTypeTokensWithdrawn,
				Timestamp: a.clock.Now().Unix(),
			},
			Token:    token.Hex(),
			Receiver: receiver.Hex(),
			Amount:   amount.Dec(),
		}},
	); err != nil {
		log.WithError(err).Warn("failed to save tokens withdrawn event")
	}
	return nil
}

func (a *adminService) GetParams(ctx context.Context) (*domain.DistributionParams, error) {
	var params *domain.DistributionParams
	if err := a.ledger.View(ctx, func(tx ports.LedgerTx) error {
		var err error
		params, err = ledgerTx{tx}.params()
		return err
	}); err != nil {
		return nil, typedError(err)
	}
	if params == nil {
		return nil, errors.INVALID_PARAMS.New("distribution params not configured")
	}
	return params, nil
}

// UpdateParams rewrites the ledger params, only while no cycle is in flight.
func (a *adminService) UpdateParams(ctx context.Context, params domain.DistributionParams) error {
	if err := params.Validate(); err != nil {
		return errors.INVALID_PARAMS.New("%s", flattenErrors(err))
	}
	if err := a.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		ltx := ledgerTx{tx}
		state, err := ltx.state()
		if err != nil {
			return err
		}
		if err := requireState(state, domain.DistributionStateNone); err != nil {
			return err
		}
		return ltx.setParams(params)
	}); err != nil {
		return typedError(err)
	}
	log.Info("updated distribution params")
	return nil
}

func (a *adminService) ListReports(
	ctx context.Context, after, before int64,
) ([]domain.DistributionReport, error) {
	reports, err := a.repoManager.Reports().List(ctx, after, before)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	return reports, nil
}

func (a *adminService) GetReport(
	ctx context.Context, cycleID string,
) (*domain.DistributionReport, error) {
	report, err := a.repoManager.Reports().Get(ctx, cycleID)
	if err != nil {
		if stderrors.Is(err, domain.ErrReportNotFound) {
			return nil, errors.REPORT_NOT_FOUND.Wrap(err).
				WithMetadata(errors.ReportNotFoundMetadata{CycleID: cycleID})
		}
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	return report, nil
}

func flattenErrors(err error) string {
	merr, ok := err.(*multierror.Error)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(merr.Errors))
	for _, e := range merr.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}
