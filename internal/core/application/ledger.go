package application

import (
	"fmt"
	"math"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/arkade-os/fee-distributor/pkg/keys"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// cycle is the ledger state of the distribution in flight.
type cycle struct {
	id               string
	initiatedAt      int64
	pendingRequestID common.Hash
	readResponseAt   int64
	originalFee      *uint256.Int
	requiredFee      *uint256.Int
	totalFee         *uint256.Int
	totalStaked      *uint256.Int
	bridgedOut       *uint256.Int
}

// ledgerTx adds typed accessors over the composite keys of the distributor.
type ledgerTx struct {
	ports.LedgerTx
}

func (tx ledgerTx) getInt64(key common.Hash) (int64, error) {
	v, err := tx.GetUint(key)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() || v.Uint64() > math.MaxInt64 {
		return 0, fmt.Errorf("value of key %s overflows int64", key.Hex())
	}
	return int64(v.Uint64()), nil
}

func (tx ledgerTx) setInt64(key common.Hash, value int64) error {
	if value < 0 {
		return fmt.Errorf("negative value for key %s", key.Hex())
	}
	return tx.SetUint(key, uint256.NewInt(uint64(value)))
}

func (tx ledgerTx) getUint64(key common.Hash) (uint64, error) {
	v, err := tx.GetUint(key)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("value of key %s overflows uint64", key.Hex())
	}
	return v.Uint64(), nil
}

func (tx ledgerTx) setUint64(key common.Hash, value uint64) error {
	return tx.SetUint(key, uint256.NewInt(value))
}

func (tx ledgerTx) getDuration(key common.Hash) (time.Duration, error) {
	seconds, err := tx.getInt64(key)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

func (tx ledgerTx) setDuration(key common.Hash, value time.Duration) error {
	return tx.setInt64(key, int64(value/time.Second))
}

func (tx ledgerTx) getHash(key common.Hash) (common.Hash, error) {
	v, err := tx.GetUint(key)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(v.Bytes32()), nil
}

func (tx ledgerTx) setHash(key common.Hash, value common.Hash) error {
	return tx.SetUint(key, new(uint256.Int).SetBytes32(value.Bytes()))
}

func (tx ledgerTx) state() (domain.DistributionState, error) {
	v, err := tx.getUint64(keys.DistributionState)
	if err != nil {
		return domain.DistributionStateNone, err
	}
	if v > uint64(domain.DistributionStateDistributePending) {
		return domain.DistributionStateNone, fmt.Errorf("invalid distribution state %d", v)
	}
	return domain.DistributionState(v), nil
}

// transition moves the state from the expected one, failing if the ledger
// moved on in the meantime or the move is not allowed.
func (tx ledgerTx) transition(from, to domain.DistributionState) error {
	current, err := tx.state()
	if err != nil {
		return err
	}
	if current != from {
		return errors.INVALID_DISTRIBUTION_STATE.New(
			"distribution state changed from %s to %s", from, current,
		).WithMetadata(errors.DistributionStateMetadata{
			CurrentState:  current.String(),
			ExpectedState: []string{from.String()},
		})
	}
	next, err := current.Transition(to)
	if err != nil {
		return err
	}
	return tx.setUint64(keys.DistributionState, uint64(next))
}

func (tx ledgerTx) cycle() (*cycle, error) {
	c := &cycle{}
	rawID, err := tx.GetUint(keys.DistributionCycleID)
	if err != nil {
		return nil, err
	}
	if !rawID.IsZero() {
		b := rawID.Bytes32()
		id, err := uuid.FromBytes(b[16:])
		if err != nil {
			return nil, err
		}
		c.id = id.String()
	}
	if c.initiatedAt, err = tx.getInt64(keys.DistributionInitiatedAt); err != nil {
		return nil, err
	}
	if c.pendingRequestID, err = tx.getHash(keys.PendingReadRequest); err != nil {
		return nil, err
	}
	if c.readResponseAt, err = tx.getInt64(keys.ReadResponseTimestamp); err != nil {
		return nil, err
	}
	if c.originalFee, err = tx.GetUint(keys.OriginalFeeAmount); err != nil {
		return nil, err
	}
	if c.requiredFee, err = tx.GetUint(keys.RequiredFeeAmount); err != nil {
		return nil, err
	}
	if c.totalFee, err = tx.GetUint(keys.TotalFeeAmount); err != nil {
		return nil, err
	}
	if c.totalStaked, err = tx.GetUint(keys.TotalStakedAmount); err != nil {
		return nil, err
	}
	if c.bridgedOut, err = tx.GetUint(keys.BridgedOutAmount); err != nil {
		return nil, err
	}
	return c, nil
}

func (tx ledgerTx) setCycleID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	return tx.SetUint(keys.DistributionCycleID, new(uint256.Int).SetBytes(parsed[:]))
}

func (tx ledgerTx) chainRecord(chainID uint64) (domain.ChainRecord, error) {
	fee, err := tx.GetUint(keys.FeeAmountKey(chainID))
	if err != nil {
		return domain.ChainRecord{}, err
	}
	staked, err := tx.GetUint(keys.StakedAmountKey(chainID))
	if err != nil {
		return domain.ChainRecord{}, err
	}
	return domain.NewChainRecord(chainID, fee, staked), nil
}

func (tx ledgerTx) setChainRecord(record domain.ChainRecord) error {
	if err := tx.SetUint(keys.FeeAmountKey(record.ChainID), record.FeeAmount); err != nil {
		return err
	}
	return tx.SetUint(keys.StakedAmountKey(record.ChainID), record.StakedAmount)
}

func (tx ledgerTx) chainRecords(chainIDs []uint64) (domain.ChainRecords, error) {
	records := make(domain.ChainRecords, 0, len(chainIDs))
	for _, id := range chainIDs {
		record, err := tx.chainRecord(id)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (tx ledgerTx) referralRewards(token common.Address) (authorized, sent *uint256.Int, err error) {
	if authorized, err = tx.GetUint(keys.ReferralRewardsAuthorizedKey(token)); err != nil {
		return nil, nil, err
	}
	if sent, err = tx.GetUint(keys.ReferralRewardsSentKey(token)); err != nil {
		return nil, nil, err
	}
	return authorized, sent, nil
}

// params loads the distribution parameters, nil if they were never written.
func (tx ledgerTx) params() (*domain.DistributionParams, error) {
	rawChainIDs, err := tx.GetUintArray(keys.ChainIDs)
	if err != nil {
		return nil, err
	}
	if len(rawChainIDs) == 0 {
		return nil, nil
	}

	p := &domain.DistributionParams{}
	if p.CurrentChainID, err = tx.getUint64(keys.CurrentChainID); err != nil {
		return nil, err
	}

	for _, raw := range rawChainIDs {
		if !raw.IsUint64() {
			return nil, fmt.Errorf("invalid chain id %s", raw.Dec())
		}
		id := raw.Uint64()
		c := domain.ChainConfig{ChainID: id}
		if c.FeeHandler, err = tx.GetAddress(keys.FeeHandlerKey(id)); err != nil {
			return nil, err
		}
		if c.FeeReceiver, err = tx.GetAddress(keys.FeeReceiverKey(id)); err != nil {
			return nil, err
		}
		if c.FeeToken, err = tx.GetAddress(keys.FeeTokenKey(id)); err != nil {
			return nil, err
		}
		if c.StakedToken, err = tx.GetAddress(keys.StakedTokenKey(id)); err != nil {
			return nil, err
		}
		if c.BridgeSlippageFactor, err = tx.GetUint(keys.BridgeSlippageFactorKey(id)); err != nil {
			return nil, err
		}
		c.BridgeOriginDelay, err = tx.getDuration(keys.BridgeOriginDelayKey(p.CurrentChainID, id))
		if err != nil {
			return nil, err
		}
		c.BridgeDestinationDelay, err = tx.getDuration(
			keys.BridgeDestinationDelayKey(p.CurrentChainID, id),
		)
		if err != nil {
			return nil, err
		}
		p.Chains = append(p.Chains, c)
	}

	addresses := []struct {
		key common.Hash
		dst *common.Address
	}{
		{keys.RewardToken, &p.RewardToken},
		{keys.EsToken, &p.EsToken},
		{keys.HoldingAccount, &p.HoldingAccount},
		{keys.Treasury, &p.Treasury},
		{keys.ExternalService, &p.ExternalService},
		{keys.FeeTokenRewardTracker, &p.FeeTokenRewardTracker},
		{keys.GlpRewardTracker, &p.GlpRewardTracker},
	}
	for _, a := range addresses {
		if *a.dst, err = tx.GetAddress(a.key); err != nil {
			return nil, err
		}
	}

	amounts := []struct {
		key common.Hash
		dst **uint256.Int
	}{
		{keys.BridgeSlippageBuffer, &p.BridgeSlippageBuffer},
		{keys.KeeperGlpFactor, &p.KeeperGlpFactor},
		{keys.ExternalServiceFactor, &p.ExternalServiceFactor},
		{keys.MaxReferralRewardsUsdAmount, &p.MaxReferralRewardsUsdAmount},
		{keys.MaxReferralRewardsUsdFactor, &p.MaxReferralRewardsUsdFactor},
		{keys.MaxReferralRewardsWntFactor, &p.MaxReferralRewardsWntFactor},
		{keys.MaxEsTokenReferralRewards, &p.MaxEsTokenReferralRewards},
		{keys.MinResidualFactor, &p.MinResidualFactor},
		{keys.MaxTreasuryShortfallFactor, &p.MaxTreasuryShortfallFactor},
	}
	for _, a := range amounts {
		if *a.dst, err = tx.GetUint(a.key); err != nil {
			return nil, err
		}
	}

	day, err := tx.getUint64(keys.DistributionDay)
	if err != nil {
		return nil, err
	}
	p.DistributionDay = uint8(day)
	if p.MaxReadResponseDelay, err = tx.getDuration(keys.MaxReadResponseDelay); err != nil {
		return nil, err
	}
	if p.ReadGasBase, err = tx.getUint64(keys.ReadGasBase); err != nil {
		return nil, err
	}
	if p.ReadGasPerRead, err = tx.getUint64(keys.ReadGasPerRead); err != nil {
		return nil, err
	}

	keepers, err := tx.GetAddressArray(keys.Keepers)
	if err != nil {
		return nil, err
	}
	targets, err := tx.GetUintArray(keys.KeeperTargets)
	if err != nil {
		return nil, err
	}
	treasuryOnly, err := tx.GetBoolArray(keys.KeeperTreasuryOnly)
	if err != nil {
		return nil, err
	}
	if len(targets) != len(keepers) || len(treasuryOnly) != len(keepers) {
		got := len(targets)
		if got == len(keepers) {
			got = len(treasuryOnly)
		}
		return nil, errors.KEEPER_ARRAY_LENGTH_MISMATCH.New(
			"got %d keepers, %d targets and %d treasury flags",
			len(keepers), len(targets), len(treasuryOnly),
		).WithMetadata(errors.ArrayMismatchMetadata{
			ExpectedLength: len(keepers),
			GotLength:      got,
		})
	}
	for i, addr := range keepers {
		p.Keepers = append(p.Keepers, domain.Keeper{
			Address:       addr,
			TargetBalance: targets[i],
			TreasuryOnly:  treasuryOnly[i],
		})
	}

	return p, nil
}

func (tx ledgerTx) setParams(p domain.DistributionParams) error {
	chainIDs := make([]*uint256.Int, 0, len(p.Chains))
	for _, c := range p.Chains {
		chainIDs = append(chainIDs, uint256.NewInt(c.ChainID))
	}
	if err := tx.SetUintArray(keys.ChainIDs, chainIDs); err != nil {
		return err
	}
	if err := tx.setUint64(keys.CurrentChainID, p.CurrentChainID); err != nil {
		return err
	}

	for _, c := range p.Chains {
		addresses := map[common.Hash]common.Address{
			keys.FeeHandlerKey(c.ChainID):  c.FeeHandler,
			keys.FeeReceiverKey(c.ChainID): c.FeeReceiver,
			keys.FeeTokenKey(c.ChainID):    c.FeeToken,
			keys.StakedTokenKey(c.ChainID): c.StakedToken,
		}
		for key, addr := range addresses {
			if err := tx.SetAddress(key, addr); err != nil {
				return err
			}
		}
		if err := tx.SetUint(
			keys.BridgeSlippageFactorKey(c.ChainID), orZero(c.BridgeSlippageFactor),
		); err != nil {
			return err
		}
		if err := tx.setDuration(
			keys.BridgeOriginDelayKey(p.CurrentChainID, c.ChainID), c.BridgeOriginDelay,
		); err != nil {
			return err
		}
		if err := tx.setDuration(
			keys.BridgeDestinationDelayKey(p.CurrentChainID, c.ChainID), c.BridgeDestinationDelay,
		); err != nil {
			return err
		}
	}

	addresses := map[common.Hash]common.Address{
		keys.RewardToken:           p.RewardToken,
		keys.EsToken:               p.EsToken,
		keys.HoldingAccount:        p.HoldingAccount,
		keys.Treasury:              p.Treasury,
		keys.ExternalService:       p.ExternalService,
		keys.FeeTokenRewardTracker: p.FeeTokenRewardTracker,
		keys.GlpRewardTracker:      p.GlpRewardTracker,
	}
	for key, addr := range addresses {
		if err := tx.SetAddress(key, addr); err != nil {
			return err
		}
	}

	amounts := map[common.Hash]*uint256.Int{
		keys.BridgeSlippageBuffer:        p.BridgeSlippageBuffer,
		keys.KeeperGlpFactor:             p.KeeperGlpFactor,
		keys.ExternalServiceFactor:       p.ExternalServiceFactor,
		keys.MaxReferralRewardsUsdAmount: p.MaxReferralRewardsUsdAmount,
		keys.MaxReferralRewardsUsdFactor: p.MaxReferralRewardsUsdFactor,
		keys.MaxReferralRewardsWntFactor: p.MaxReferralRewardsWntFactor,
		keys.MaxEsTokenReferralRewards:   p.MaxEsTokenReferralRewards,
		keys.MinResidualFactor:           p.MinResidualFactor,
		keys.MaxTreasuryShortfallFactor:  p.MaxTreasuryShortfallFactor,
	}
	for key, amount := range amounts {
		if err := tx.SetUint(key, orZero(amount)); err != nil {
			return err
		}
	}

	if err := tx.setUint64(keys.DistributionDay, uint64(p.DistributionDay)); err != nil {
		return err
	}
	if err := tx.setDuration(keys.MaxReadResponseDelay, p.MaxReadResponseDelay); err != nil {
		return err
	}
	if err := tx.setUint64(keys.ReadGasBase, p.ReadGasBase); err != nil {
		return err
	}
	if err := tx.setUint64(keys.ReadGasPerRead, p.ReadGasPerRead); err != nil {
		return err
	}

	keepers := make([]common.Address, 0, len(p.Keepers))
	targets := make([]*uint256.Int, 0, len(p.Keepers))
	treasuryOnly := make([]bool, 0, len(p.Keepers))
	for _, k := range p.Keepers {
		keepers = append(keepers, k.Address)
		targets = append(targets, orZero(k.TargetBalance))
		treasuryOnly = append(treasuryOnly, k.TreasuryOnly)
	}
	if err := tx.SetAddressArray(keys.Keepers, keepers); err != nil {
		return err
	}
	if err := tx.SetUintArray(keys.KeeperTargets, targets); err != nil {
		return err
	}
	return tx.SetBoolArray(keys.KeeperTreasuryOnly, treasuryOnly)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
