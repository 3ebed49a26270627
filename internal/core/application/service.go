package application

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/internal/metrics"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/arkade-os/fee-distributor/pkg/keys"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

const scheduledTaskTimeout = 2 * time.Minute

type service struct {
	// services
	ledger      ports.LedgerStore
	repoManager ports.RepoManager
	vault       ports.TokenVault
	transport   ports.ReadTransport
	bridge      ports.Bridge
	feeSources  []ports.FeeSource
	trackers    ports.RewardTracker
	oracle      ports.PriceOracle
	scheduler   ports.SchedulerService
	alerts      ports.Alerts
	clock       clockwork.Clock

	// config
	initiateAt      string
	confirmInterval time.Duration

	// channels
	eventsCh chan []domain.Event

	// every entry point runs under this lock, one at a time
	lock *sync.Mutex
}

// NewService writes params into the ledger, unless a cycle is in flight, and
// registers the service as the handler of the read responses. scheduler and
// alerts are optional.
func NewService(
	ledger ports.LedgerStore,
	repoManager ports.RepoManager,
	vault ports.TokenVault,
	transport ports.ReadTransport,
	bridge ports.Bridge,
	feeSources []ports.FeeSource,
	trackers ports.RewardTracker,
	oracle ports.PriceOracle,
	scheduler ports.SchedulerService,
	alerts ports.Alerts,
	clock clockwork.Clock,
	params *domain.DistributionParams,
	initiateAt string,
	confirmInterval time.Duration,
) (Service, error) {
	if ledger == nil || repoManager == nil || vault == nil || transport == nil ||
		bridge == nil || trackers == nil || oracle == nil {
		return nil, fmt.Errorf("missing service dependency")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	svc := &service{
		ledger:          ledger,
		repoManager:     repoManager,
		vault:           vault,
		transport:       transport,
		bridge:          bridge,
		feeSources:      feeSources,
		trackers:        trackers,
		oracle:          oracle,
		scheduler:       scheduler,
		alerts:          alerts,
		clock:           clock,
		initiateAt:      initiateAt,
		confirmInterval: confirmInterval,
		eventsCh:        make(chan []domain.Event, 64),
		lock:            &sync.Mutex{},
	}

	if params != nil {
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("invalid distribution params: %w", err)
		}
		ctx := context.Background()
		written := false
		if err := ledger.Update(ctx, func(tx ports.LedgerTx) error {
			written = false
			ltx := ledgerTx{tx}
			state, err := ltx.state()
			if err != nil {
				return err
			}
			if state != domain.DistributionStateNone {
				return nil
			}
			written = true
			return ltx.setParams(*params)
		}); err != nil {
			return nil, fmt.Errorf("failed to write distribution params: %w", err)
		}
		if !written {
			log.Warn("distribution in progress, keeping the params stored in the ledger")
		}
	}

	repoManager.Events().RegisterEventsHandler(
		domain.DistributionTopic, func(events []domain.Event) {
			select {
			case svc.eventsCh <- events:
			default:
				log.Warn("events channel full, dropping distribution events")
			}
		},
	)
	transport.RegisterResponseHandler(svc.OnAggregationResponse)

	return svc, nil
}

func (s *service) Start() error {
	ctx := context.Background()

	state, err := s.refreshStateGauge(ctx)
	if err != nil {
		return err
	}
	log.Debugf("distribution state on start: %s", state)

	if s.scheduler == nil {
		return nil
	}

	var params *domain.DistributionParams
	if err := s.ledger.View(ctx, func(tx ports.LedgerTx) error {
		var err error
		params, err = ledgerTx{tx}.params()
		return err
	}); err != nil {
		return fmt.Errorf("failed to load distribution params: %w", err)
	}
	if params == nil {
		return fmt.Errorf("distribution params not configured")
	}

	if s.initiateAt != "" {
		day := time.Weekday(params.DistributionDay)
		if err := s.scheduler.ScheduleWeekly(day, s.initiateAt, s.scheduledInitiate); err != nil {
			return fmt.Errorf("failed to schedule distribution: %w", err)
		}
		log.Debugf("distribution scheduled every %s at %s UTC", day, s.initiateAt)
	}
	if s.confirmInterval > 0 {
		if err := s.scheduler.ScheduleEvery(s.confirmInterval, s.scheduledConfirm); err != nil {
			return fmt.Errorf("failed to schedule bridging confirmation: %w", err)
		}
	}
	s.scheduler.Start()
	log.Debug("started scheduler")
	return nil
}

func (s *service) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		log.Debug("stopped scheduler")
	}
	s.repoManager.Close()
	log.Debug("closed connection to db")
	s.ledger.Close()
	log.Debug("closed ledger")
	close(s.eventsCh)
}

func (s *service) GetEventsChannel(_ context.Context) <-chan []domain.Event {
	return s.eventsCh
}

func (s *service) InitiateDistribute(ctx context.Context) (res *InitiateResult, err error) {
	defer s.observe("initiate", time.Now(), &err)

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.initiate(ctx)
}

func (s *service) OnAggregationResponse(
	ctx context.Context, requestID common.Hash, timestamp int64, payload []byte,
) (err error) {
	defer s.observe("read_response", time.Now(), &err)

	s.lock.Lock()
	defer s.lock.Unlock()

	_, err = s.onAggregationResponse(ctx, requestID, timestamp, payload)
	return err
}

func (s *service) ConfirmBridgingCompleted(
	ctx context.Context,
) (state domain.DistributionState, err error) {
	defer s.observe("confirm_bridging", time.Now(), &err)

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.confirmBridgingCompleted(ctx)
}

func (s *service) Distribute(
	ctx context.Context, req DistributeRequest,
) (report *domain.DistributionReport, err error) {
	defer s.observe("distribute", time.Now(), &err)

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.distribute(ctx, req)
}

func (s *service) SendReferralRewards(
	ctx context.Context, req ReferralRewardsRequest,
) (err error) {
	defer s.observe("referral_rewards", time.Now(), &err)

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.sendReferralRewards(ctx, req)
}

func (s *service) GetStatus(ctx context.Context) (*DistributionStatus, error) {
	status := &DistributionStatus{}
	if err := s.ledger.View(ctx, func(tx ports.LedgerTx) error {
		ltx := ledgerTx{tx}
		var err error
		if status.State, err = ltx.state(); err != nil {
			return err
		}
		if status.LastDistributionTime, err = ltx.getInt64(keys.LastDistributionTime); err != nil {
			return err
		}
		c, err := ltx.cycle()
		if err != nil {
			return err
		}
		status.CycleID = c.id
		status.InitiatedAt = c.initiatedAt
		status.PendingRequestID = c.pendingRequestID
		status.ReadResponseTimestamp = c.readResponseAt
		status.OriginalFeeAmount = c.originalFee
		status.RequiredFeeAmount = c.requiredFee
		status.BridgedOutAmount = c.bridgedOut
		if status.PayoutStep, err = ltx.getUint64(keys.PayoutStep); err != nil {
			return err
		}

		params, err := ltx.params()
		if err != nil || params == nil {
			return err
		}
		if status.Chains, err = ltx.chainRecords(params.ChainIDs()); err != nil {
			return err
		}
		for _, token := range referralRewardsTokens(*params) {
			authorized, sent, err := ltx.referralRewards(token)
			if err != nil {
				return err
			}
			status.ReferralRewards = append(status.ReferralRewards, ReferralRewardsStatus{
				Token:      token,
				Authorized: authorized,
				Sent:       sent,
			})
		}
		return nil
	}); err != nil {
		return nil, typedError(err)
	}

	version, err := s.ledger.Version(ctx)
	if err != nil {
		return nil, typedError(err)
	}
	status.LedgerVersion = version
	return status, nil
}

func (s *service) initiate(ctx context.Context) (*InitiateResult, error) {
	now := s.clock.Now()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireState(snap.state, domain.DistributionStateNone); err != nil {
		return nil, err
	}
	if err := validateDistributionNotCompleted(
		snap.lastDistributionTime, now.Unix(), snap.params.DistributionDay,
	); err != nil {
		return nil, err
	}
	params := *snap.params

	current, err := s.currentChainRecord(ctx, params)
	if err != nil {
		return nil, typedError(err)
	}

	remote := params.RemoteChains()
	if len(remote) == 0 {
		// The response is processed right away, make sure it can't fail
		// after the cycle is opened.
		if _, err := domain.ComputeRebalance(domain.ChainRecords{current}); err != nil {
			return nil, typedError(err)
		}
	}

	receipt, err := s.beginAggregation(ctx, params)
	if err != nil {
		return nil, typedError(err)
	}
	requestID := common.Hash{}
	if receipt != nil {
		requestID = receipt.RequestID
	}

	cycleID := uuid.New().String()
	if err := s.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		ltx := ledgerTx{tx}
		if err := ltx.transition(
			domain.DistributionStateNone, domain.DistributionStateInitiated,
		); err != nil {
			return err
		}
		for _, token := range referralRewardsTokens(params) {
			if err := ltx.SetUint(keys.ReferralRewardsSentKey(token), fixedpoint.Zero()); err != nil {
				return err
			}
		}
		for _, key := range []common.Hash{
			keys.ReadResponseTimestamp,
			keys.RequiredFeeAmount,
			keys.TotalFeeAmount,
			keys.TotalStakedAmount,
			keys.BridgedOutAmount,
		} {
			if err := ltx.Delete(key); err != nil {
				return err
			}
		}
		if err := ltx.setChainRecord(current); err != nil {
			return err
		}
		if err := ltx.SetUint(keys.OriginalFeeAmount, current.FeeAmount); err != nil {
			return err
		}
		if err := ltx.setCycleID(cycleID); err != nil {
			return err
		}
		if err := ltx.setInt64(keys.DistributionInitiatedAt, now.Unix()); err != nil {
			return err
		}
		return ltx.setHash(keys.PendingReadRequest, requestID)
	}); err != nil {
		return nil, typedError(err)
	}
	s.recordTransition(domain.DistributionStateNone, domain.DistributionStateInitiated)

	log.WithField("cycle", cycleID).Infof(
		"distribution initiated with fee amount %s on chain %d, read request %s",
		current.FeeAmount.Dec(), current.ChainID, requestID.Hex(),
	)
	s.saveEvents(ctx, cycleID, []domain.Event{domain.DistributionInitiated{
		DistributionEvent: domain.DistributionEvent{
			Id:        cycleID,
			Type:      domain.EventTypeDistributionInitiated,
			Timestamp: now.Unix(),
		},
		RequestID:           requestID.Hex(),
		CurrentChainID:      current.ChainID,
		CurrentFeeAmount:    current.FeeAmount.Dec(),
		CurrentStakedAmount: current.StakedAmount.Dec(),
	}})

	result := &InitiateResult{
		CycleID:   cycleID,
		RequestID: requestID,
		State:     domain.DistributionStateInitiated,
	}
	if len(remote) == 0 {
		state, err := s.onAggregationResponse(ctx, requestID, now.Unix(), nil)
		if err != nil {
			return nil, err
		}
		result.State = state
	}
	return result, nil
}

func (s *service) onAggregationResponse(
	ctx context.Context, requestID common.Hash, timestamp int64, payload []byte,
) (domain.DistributionState, error) {
	now := s.clock.Now()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return snap.stateOrNone(), err
	}
	if err := requireState(snap.state, domain.DistributionStateInitiated); err != nil {
		return snap.state, err
	}
	if requestID != snap.cycle.pendingRequestID {
		return snap.state, errors.UNKNOWN_REQUEST.New(
			"read response %s does not match pending request %s",
			requestID.Hex(), snap.cycle.pendingRequestID.Hex(),
		).WithMetadata(errors.UnknownRequestMetadata{
			ExpectedRequestID: snap.cycle.pendingRequestID.Hex(),
			GotRequestID:      requestID.Hex(),
		})
	}
	params := *snap.params
	if err := validateFreshness(params, requestID, timestamp, now.Unix()); err != nil {
		return snap.state, err
	}

	remote, err := decodeReadResponse(params, payload)
	if err != nil {
		return snap.state, err
	}
	currentIndex := snap.records.IndexOf(params.CurrentChainID)
	records := mergeChainRecords(params, snap.records[currentIndex], remote)
	rebalance, err := domain.ComputeRebalance(records)
	if err != nil {
		return snap.state, typedError(err)
	}
	currentIndex = records.IndexOf(params.CurrentChainID)
	required := rebalance.Targets[currentIndex]
	difference := rebalance.Differences[currentIndex]

	logger := log.WithField("cycle", snap.cycle.id)
	logger.Debugf(
		"aggregated fee amount %s, staked amount %s, required on current chain %s",
		rebalance.TotalFee.Dec(), rebalance.TotalStake.Dec(), required.Dec(),
	)

	current := params.CurrentChain()
	live, err := s.currentFeeBalance(ctx, params)
	if err != nil {
		return snap.state, typedError(err)
	}

	next := domain.DistributionStateBridgingCompleted
	transfers := []domain.BridgeTransfer{}
	events := []domain.Event{domain.ReadDataReceived{
		DistributionEvent: domain.DistributionEvent{
			Id:        snap.cycle.id,
			Type:      domain.EventTypeReadDataReceived,
			Timestamp: now.Unix(),
		},
		ResponseTimestamp: timestamp,
		TotalFeeAmount:    rebalance.TotalFee.Dec(),
		TotalStakedAmount: rebalance.TotalStake.Dec(),
		RequiredFeeAmount: required.Dec(),
	}}

	switch difference.Sign() {
	case -1:
		suff, err := checkSufficiency(
			required, snap.cycle.originalFee, live,
			current.BridgeSlippageFactor, params.BridgeSlippageBuffer,
		)
		if err != nil {
			return snap.state, typedError(err)
		}
		if !suff.ok() {
			next = domain.DistributionStateReadDataReceived
			logger.Infof(
				"waiting for inbound fees, expected at least %s more",
				suff.minReceived.Dec(),
			)
		}
	case 1:
		transfers = plannedBridgeTransfers(params, records, rebalance)
		planned := fixedpoint.Zero()
		for _, t := range transfers {
			planned.Add(planned, t.Amount)
		}
		if err := validateBridgeAmount(required, live, planned); err != nil {
			return snap.state, err
		}
		if err := s.withdrawFees(ctx, snap.cycle.id, current.FeeToken); err != nil {
			return snap.state, typedError(err)
		}
		// The read data is committed before bridging, a redelivered
		// response finds no pending request and cannot bridge twice.
		if len(transfers) > 0 {
			next = domain.DistributionStateReadDataReceived
		}
	}

	if err := s.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		ltx := ledgerTx{tx}
		if err := ltx.transition(domain.DistributionStateInitiated, next); err != nil {
			return err
		}
		for _, record := range remote {
			if err := ltx.setChainRecord(record); err != nil {
				return err
			}
		}
		amounts := map[common.Hash]*uint256.Int{
			keys.TotalFeeAmount:    rebalance.TotalFee,
			keys.TotalStakedAmount: rebalance.TotalStake,
			keys.RequiredFeeAmount: required,
			keys.BridgedOutAmount:  fixedpoint.Zero(),
		}
		for key, amount := range amounts {
			if err := ltx.SetUint(key, amount); err != nil {
				return err
			}
		}
		if err := ltx.setInt64(keys.ReadResponseTimestamp, timestamp); err != nil {
			return err
		}
		return ltx.Delete(keys.PendingReadRequest)
	}); err != nil {
		return snap.state, typedError(err)
	}
	s.recordTransition(domain.DistributionStateInitiated, next)

	if len(transfers) > 0 {
		sent, bridgeEvents, err := s.bridgeSurplus(ctx, snap.cycle.id, params, transfers, now)
		events = append(events, bridgeEvents...)
		if err != nil {
			// The cycle stays in ReadDataReceived, the confirmation moves it on
			// once the current chain holds its share. What was not bridged is
			// distributed on the current chain.
			logger.WithError(err).Errorf(
				"bridging interrupted after sending %s fee tokens", sent.Dec(),
			)
			s.saveEvents(ctx, snap.cycle.id, events)
			return next, typedError(err)
		}
		if err := s.ledger.Update(ctx, func(tx ports.LedgerTx) error {
			return ledgerTx{tx}.transition(
				domain.DistributionStateReadDataReceived, domain.DistributionStateBridgingCompleted,
			)
		}); err != nil {
			s.saveEvents(ctx, snap.cycle.id, events)
			return next, typedError(err)
		}
		s.recordTransition(
			domain.DistributionStateReadDataReceived, domain.DistributionStateBridgingCompleted,
		)
		next = domain.DistributionStateBridgingCompleted
	}

	if next == domain.DistributionStateBridgingCompleted {
		events = append(events, domain.BridgingCompleted{
			DistributionEvent: domain.DistributionEvent{
				Id:        snap.cycle.id,
				Type:      domain.EventTypeBridgingCompleted,
				Timestamp: now.Unix(),
			},
			CurrentBalance: live.Dec(),
		})
	}
	logger.Infof("read response processed, distribution state %s", next)
	s.saveEvents(ctx, snap.cycle.id, events)
	return next, nil
}

func (s *service) confirmBridgingCompleted(ctx context.Context) (domain.DistributionState, error) {
	now := s.clock.Now()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return snap.stateOrNone(), err
	}
	if err := requireState(
		snap.state,
		domain.DistributionStateReadDataReceived, domain.DistributionStateDistributePending,
	); err != nil {
		return snap.state, err
	}
	params := *snap.params

	live, err := s.currentFeeBalance(ctx, params)
	if err != nil {
		return snap.state, typedError(err)
	}
	suff, err := checkSufficiency(
		snap.cycle.requiredFee, snap.cycle.originalFee, live,
		params.CurrentChain().BridgeSlippageFactor, params.BridgeSlippageBuffer,
	)
	if err != nil {
		return snap.state, typedError(err)
	}

	next := domain.DistributionStateDistributePending
	if suff.ok() {
		next = domain.DistributionStateBridgingCompleted
	}
	if err := s.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		return ledgerTx{tx}.transition(snap.state, next)
	}); err != nil {
		return snap.state, typedError(err)
	}
	s.recordTransition(snap.state, next)

	logger := log.WithField("cycle", snap.cycle.id)
	event := domain.DistributionEvent{Id: snap.cycle.id, Timestamp: now.Unix()}
	if next == domain.DistributionStateDistributePending {
		logger.Warnf(
			"bridged fees not settled yet, balance %s, expected %s + %s",
			live.Dec(), snap.cycle.originalFee.Dec(), suff.minReceived.Dec(),
		)
		event.Type = domain.EventTypeDistributePending
		s.saveEvents(ctx, snap.cycle.id, []domain.Event{domain.DistributePending{
			DistributionEvent: event,
			RequiredFeeAmount: snap.cycle.requiredFee.Dec(),
			CurrentBalance:    live.Dec(),
		}})
		return next, nil
	}

	logger.Info("bridging completed")
	event.Type = domain.EventTypeBridgingCompleted
	s.saveEvents(ctx, snap.cycle.id, []domain.Event{domain.BridgingCompleted{
		DistributionEvent: event,
		CurrentBalance:    live.Dec(),
	}})
	return next, nil
}

func (s *service) distribute(
	ctx context.Context, req DistributeRequest,
) (*domain.DistributionReport, error) {
	now := s.clock.Now()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireState(snap.state, domain.DistributionStateBridgingCompleted); err != nil {
		return nil, err
	}
	params := *snap.params
	logger := log.WithField("cycle", snap.cycle.id)

	plan, from := snap.payout, snap.payoutStep
	if plan == nil {
		if plan, err = s.planPayout(ctx, snap, req, now); err != nil {
			return nil, err
		}
	} else {
		logger.Infof("resuming payout from step %d, request amounts ignored", from)
	}

	// The cycle stays open until every step of the payout is done, a failed
	// step is retried by the next distribution call.
	if err := s.payout(ctx, snap.cycle.id, params, plan, from); err != nil {
		logger.WithError(err).Error("distribution payout failed")
		s.publishAlert(ports.DistributionFailed, ports.DistributionFailedAlert{
			Operation: "distribute",
			State:     domain.DistributionStateBridgingCompleted.String(),
			Code:      errors.INTERNAL_ERROR.Name,
			Error:     err.Error(),
		})
		return nil, typedError(err)
	}

	if err := s.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		ltx := ledgerTx{tx}
		if err := ltx.transition(
			domain.DistributionStateBridgingCompleted, domain.DistributionStateNone,
		); err != nil {
			return err
		}
		if err := ltx.SetUint(
			keys.ReferralRewardsAuthorizedKey(params.RewardToken), plan.buckets.ForReferralRewards,
		); err != nil {
			return err
		}
		if params.EsToken != (common.Address{}) {
			if err := ltx.SetUint(
				keys.ReferralRewardsAuthorizedKey(params.EsToken), plan.esTokenAmount,
			); err != nil {
				return err
			}
		}
		if err := ltx.setInt64(keys.LastDistributionTime, plan.createdAt); err != nil {
			return err
		}
		return ltx.deletePayoutPlan()
	}); err != nil {
		return nil, typedError(err)
	}
	s.recordTransition(domain.DistributionStateBridgingCompleted, domain.DistributionStateNone)
	metrics.LastDistributionTime.Set(float64(plan.createdAt))
	recordBuckets(&plan.buckets)

	report := domain.DistributionReport{
		CycleID:             snap.cycle.id,
		InitiatedAt:         snap.cycle.initiatedAt,
		ReadResponseAt:      snap.cycle.readResponseAt,
		DistributedAt:       plan.createdAt,
		Chains:              snap.records,
		RequiredFeeAmount:   snap.cycle.requiredFee,
		FeeTokenDistributed: plan.feeTokenAmount,
		Buckets:             plan.buckets,
		Referrals: []domain.ReferralAuthorization{
			{Token: params.RewardToken, Amount: plan.buckets.ForReferralRewards},
		},
	}
	if params.EsToken != (common.Address{}) {
		report.Referrals = append(report.Referrals, domain.ReferralAuthorization{
			Token: params.EsToken, Amount: plan.esTokenAmount,
		})
	}
	if rebalance, err := domain.ComputeRebalance(snap.records); err == nil {
		report.Transfers = allTransfers(snap.records, rebalance)
	}
	if err := s.repoManager.Reports().Add(ctx, report); err != nil {
		logger.WithError(err).Warn("failed to store distribution report")
	}

	logger.Infof(
		"distributed %s fee tokens and %s reward tokens",
		plan.feeTokenAmount.Dec(), plan.buckets.Total.Dec(),
	)
	s.saveEvents(ctx, snap.cycle.id, []domain.Event{domain.DistributionCompleted{
		DistributionEvent: domain.DistributionEvent{
			Id:        snap.cycle.id,
			Type:      domain.EventTypeDistributionCompleted,
			Timestamp: now.Unix(),
		},
		FeeTokenDistributed: plan.feeTokenAmount.Dec(),
		TotalRewardAmount:   plan.buckets.Total.Dec(),
		ForTreasury:         plan.buckets.ForTreasury.Dec(),
		ForExternalService:  plan.buckets.ForExternalService.Dec(),
		ForReferralRewards:  plan.buckets.ForReferralRewards.Dec(),
		Residual:            plan.buckets.Residual.Dec(),
	}})
	s.sendDistributionAlert(report)

	return &report, nil
}

// planPayout validates a first distribution attempt, computes the split of
// the reward pool and stores it before any fund moves.
func (s *service) planPayout(
	ctx context.Context, snap *snapshot, req DistributeRequest, now time.Time,
) (*payoutPlan, error) {
	params := *snap.params
	if err := validateFreshness(
		params, snap.cycle.pendingRequestID, snap.cycle.readResponseAt, now.Unix(),
	); err != nil {
		return nil, err
	}
	if err := validateDistributionNotCompleted(
		snap.lastDistributionTime, now.Unix(), params.DistributionDay,
	); err != nil {
		return nil, err
	}

	current := params.CurrentChain()
	live, err := s.currentFeeBalance(ctx, params)
	if err != nil {
		return nil, typedError(err)
	}
	suff, err := checkSufficiency(
		snap.cycle.requiredFee, snap.cycle.originalFee, live,
		current.BridgeSlippageFactor, params.BridgeSlippageBuffer,
	)
	if err != nil {
		return nil, typedError(err)
	}
	if !suff.ok() {
		return nil, errors.BRIDGED_AMOUNT_NOT_SUFFICIENT.New(
			"fee balance %s below expected %s + %s",
			live.Dec(), snap.cycle.originalFee.Dec(), suff.minReceived.Dec(),
		).WithMetadata(suff.metadata())
	}

	esTokenAmount := orZero(req.EsTokenForReferralRewards)
	if esTokenAmount.Gt(params.MaxEsTokenReferralRewards) {
		return nil, errors.ES_TOKEN_REFERRAL_REWARDS_THRESHOLD_BREACHED.New(
			"es token referral rewards %s above cap %s",
			esTokenAmount.Dec(), params.MaxEsTokenReferralRewards.Dec(),
		).WithMetadata(errors.ThresholdMetadata{
			Token:     params.EsToken.Hex(),
			Amount:    esTokenAmount.Dec(),
			Threshold: params.MaxEsTokenReferralRewards.Dec(),
		})
	}

	if err := s.withdrawFees(ctx, snap.cycle.id, current.FeeToken, params.RewardToken); err != nil {
		return nil, typedError(err)
	}
	feeTokenAmount, err := s.vault.BalanceOf(ctx, current.FeeToken, params.HoldingAccount)
	if err != nil {
		return nil, typedError(fmt.Errorf("failed to read fee token balance: %w", err))
	}
	total, err := s.vault.BalanceOf(ctx, params.RewardToken, params.HoldingAccount)
	if err != nil {
		return nil, typedError(fmt.Errorf("failed to read reward token balance: %w", err))
	}
	keeperBalances := make([]*uint256.Int, 0, len(params.Keepers))
	for _, k := range params.Keepers {
		balance, err := s.vault.BalanceOf(ctx, params.RewardToken, k.Address)
		if err != nil {
			return nil, typedError(fmt.Errorf("failed to read keeper balance: %w", err))
		}
		keeperBalances = append(keeperBalances, balance)
	}
	price, err := s.oracle.GetPrice(ctx, params.RewardToken)
	if err != nil {
		return nil, typedError(fmt.Errorf("failed to get reward token price: %w", err))
	}

	buckets, err := computeCostBuckets(params, bucketsInput{
		total:            total,
		keeperCosts:      keeperCosts(params.Keepers, keeperBalances),
		feesV1Usd:        orZero(req.FeesV1Usd),
		feesV2Usd:        orZero(req.FeesV2Usd),
		referralUsd:      orZero(req.WntReferralRewardsUsd),
		rewardTokenPrice: price,
	})
	if err != nil {
		return nil, err
	}

	log.WithField("cycle", snap.cycle.id).Debugf(
		"reward pool %s: treasury %s, external %s, referral %s, residual %s, keepers %s+%s",
		buckets.Total.Dec(), buckets.ForTreasury.Dec(), buckets.ForExternalService.Dec(),
		buckets.ForReferralRewards.Dec(), buckets.Residual.Dec(),
		buckets.KeeperCostsTreasury.Dec(), buckets.KeeperCostsGlp.Dec(),
	)

	plan := &payoutPlan{
		feeTokenAmount: feeTokenAmount,
		esTokenAmount:  esTokenAmount,
		buckets:        *buckets,
		createdAt:      now.Unix(),
	}
	if err := s.ledger.Update(ctx, func(tx ports.LedgerTx) error {
		ltx := ledgerTx{tx}
		state, err := ltx.state()
		if err != nil {
			return err
		}
		if err := requireState(state, domain.DistributionStateBridgingCompleted); err != nil {
			return err
		}
		return ltx.setPayoutPlan(*plan)
	}); err != nil {
		return nil, typedError(err)
	}
	return plan, nil
}

// withdrawFees pulls the accrued fees of every fee source into the holding
// account.
func (s *service) withdrawFees(
	ctx context.Context, cycleID string, tokens ...common.Address,
) error {
	for _, source := range s.feeSources {
		for _, token := range tokens {
			amount, err := source.WithdrawAccruedFees(ctx, token)
			if err != nil {
				return fmt.Errorf("failed to withdraw fees from %s: %w", source.Name(), err)
			}
			log.WithField("cycle", cycleID).Debugf(
				"withdrew %s of %s from %s", amount.Dec(), token, source.Name(),
			)
		}
	}
	return nil
}

// snapshot is the ledger state read at the beginning of an operation.
type snapshot struct {
	state                domain.DistributionState
	params               *domain.DistributionParams
	cycle                *cycle
	records              domain.ChainRecords
	lastDistributionTime int64
	payout               *payoutPlan
	payoutStep           uint64
}

func (s *snapshot) stateOrNone() domain.DistributionState {
	if s == nil {
		return domain.DistributionStateNone
	}
	return s.state
}

func (s *service) snapshot(ctx context.Context) (*snapshot, error) {
	snap := &snapshot{}
	if err := s.ledger.View(ctx, func(tx ports.LedgerTx) error {
		ltx := ledgerTx{tx}
		var err error
		if snap.state, err = ltx.state(); err != nil {
			return err
		}
		if snap.params, err = ltx.params(); err != nil || snap.params == nil {
			return err
		}
		if snap.cycle, err = ltx.cycle(); err != nil {
			return err
		}
		if snap.records, err = ltx.chainRecords(snap.params.ChainIDs()); err != nil {
			return err
		}
		if snap.payout, snap.payoutStep, err = ltx.payoutPlan(snap.params.Keepers); err != nil {
			return err
		}
		snap.lastDistributionTime, err = ltx.getInt64(keys.LastDistributionTime)
		return err
	}); err != nil {
		return nil, typedError(err)
	}
	if snap.params == nil {
		return nil, errors.INVALID_PARAMS.New("distribution params not configured")
	}
	return snap, nil
}

func (s *service) refreshStateGauge(ctx context.Context) (domain.DistributionState, error) {
	var state domain.DistributionState
	if err := s.ledger.View(ctx, func(tx ports.LedgerTx) error {
		var err error
		state, err = ledgerTx{tx}.state()
		return err
	}); err != nil {
		return state, fmt.Errorf("failed to read distribution state: %w", err)
	}
	metrics.DistributionState.Set(float64(state))
	return state, nil
}

func (s *service) recordTransition(from, to domain.DistributionState) {
	metrics.DistributionState.Set(float64(to))
	metrics.StateTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
}

// observe records the outcome of an entry point. err must be typed.
func (s *service) observe(operation string, start time.Time, err *error) {
	code := ""
	if *err != nil {
		code = errors.INTERNAL_ERROR.Name
		if e, ok := (*err).(errors.Error); ok {
			code = e.CodeName()
		}
		log.WithError(*err).WithField("operation", operation).Debug("operation failed")
	}
	metrics.RecordOperation(operation, code, time.Since(start))
}

func (s *service) saveEvents(ctx context.Context, id string, events []domain.Event) {
	if len(events) <= 0 {
		return
	}
	if err := s.repoManager.Events().Save(ctx, domain.DistributionTopic, id, events); err != nil {
		log.WithError(err).WithField("cycle", id).Warn("failed to save distribution events")
	}
}

func (s *service) scheduledInitiate() {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledTaskTimeout)
	defer cancel()

	res, err := s.InitiateDistribute(ctx)
	if err != nil {
		if errors.FEE_DISTRIBUTION_ALREADY_COMPLETED.Is(err) {
			log.Info("fees already distributed this week, skipping")
			return
		}
		s.reportFailure(ctx, "initiate", err)
		return
	}
	log.WithField("cycle", res.CycleID).Debug("scheduled distribution initiated")
}

// scheduledConfirm pokes the bridging confirmation while a cycle waits for
// inbound fees.
func (s *service) scheduledConfirm() {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledTaskTimeout)
	defer cancel()

	status, err := s.GetStatus(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to get distribution status")
		return
	}
	if status.State != domain.DistributionStateReadDataReceived &&
		status.State != domain.DistributionStateDistributePending {
		return
	}
	if _, err := s.ConfirmBridgingCompleted(ctx); err != nil {
		s.reportFailure(ctx, "confirm_bridging", err)
	}
}

func (s *service) reportFailure(ctx context.Context, operation string, err error) {
	alert := ports.DistributionFailedAlert{
		Operation: operation,
		Code:      errors.INTERNAL_ERROR.Name,
		Error:     err.Error(),
	}
	if e, ok := err.(errors.Error); ok {
		alert.Code = e.CodeName()
		e.Log().WithField("operation", operation).Warn(e.Error())
	} else {
		log.WithError(err).WithField("operation", operation).Warn("scheduled operation failed")
	}
	if status, err := s.GetStatus(ctx); err == nil {
		alert.State = status.State.String()
	}
	s.publishAlert(ports.DistributionFailed, alert)
}

func requireState(current domain.DistributionState, expected ...domain.DistributionState) error {
	if slices.Contains(expected, current) {
		return nil
	}
	names := make([]string, 0, len(expected))
	for _, state := range expected {
		names = append(names, state.String())
	}
	return errors.INVALID_DISTRIBUTION_STATE.New(
		"distribution state is %s, expected %s", current, strings.Join(names, " or "),
	).WithMetadata(errors.DistributionStateMetadata{
		CurrentState:  current.String(),
		ExpectedState: names,
	})
}

// validateFreshness rejects remote data older than the max read response delay.
func validateFreshness(
	params domain.DistributionParams, requestID common.Hash, timestamp, now int64,
) error {
	maxDelay := int64(params.MaxReadResponseDelay / time.Second)
	if now-timestamp <= maxDelay {
		return nil
	}
	return errors.OUTDATED_READ_RESPONSE.New(
		"read response of %d is %ds old, max %ds", timestamp, now-timestamp, maxDelay,
	).WithMetadata(errors.ReadResponseMetadata{
		RequestID:         requestID.Hex(),
		ResponseTimestamp: timestamp,
		Now:               now,
		MaxDelay:          maxDelay,
	})
}

func referralRewardsTokens(params domain.DistributionParams) []common.Address {
	tokens := []common.Address{params.RewardToken}
	if params.EsToken != (common.Address{}) && params.EsToken != params.RewardToken {
		tokens = append(tokens, params.EsToken)
	}
	return tokens
}

func recordBuckets(b *domain.CostBuckets) {
	buckets := map[string]*uint256.Int{
		"total":              b.Total,
		"keeper_treasury":    b.KeeperCostsTreasury,
		"keeper_glp":         b.KeeperCostsGlp,
		"external_service":   b.ForExternalService,
		"treasury":           b.ForTreasury,
		"referral_rewards":   b.ForReferralRewards,
		"residual":           b.Residual,
		"treasury_shortfall": b.TreasuryShortfall,
	}
	for name, amount := range buckets {
		metrics.BucketAmount.WithLabelValues(name).Set(metrics.Amount(amount))
	}
}
