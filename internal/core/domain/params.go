package domain

import (
	"fmt"
	"time"

	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/holiman/uint256"
)

// DistributionPeriod is the streaming period of reward trackers.
const DistributionPeriod = 7 * 24 * time.Hour

// ChainConfig holds the addresses read on a chain and the bridge settings used
// when the current chain sends fees to it.
type ChainConfig struct {
	ChainID     uint64
	FeeHandler  common.Address
	FeeReceiver common.Address
	FeeToken    common.Address
	StakedToken common.Address

	BridgeSlippageFactor   *uint256.Int
	BridgeOriginDelay      time.Duration
	BridgeDestinationDelay time.Duration
}

type Keeper struct {
	Address       common.Address
	TargetBalance *uint256.Int
	// TreasuryOnly keepers are reimbursed by the treasury alone, the others
	// share the cost with the staking reward pool.
	TreasuryOnly bool
}

// DistributionParams is the ledger-backed configuration of the distributor.
type DistributionParams struct {
	CurrentChainID uint64
	Chains         []ChainConfig

	RewardToken           common.Address
	EsToken               common.Address
	HoldingAccount        common.Address
	Treasury              common.Address
	ExternalService       common.Address
	FeeTokenRewardTracker common.Address
	GlpRewardTracker      common.Address

	Keepers []Keeper

	// DistributionDay is the first day of the distribution week, 0 is Sunday.
	DistributionDay      uint8
	MaxReadResponseDelay time.Duration
	ReadGasBase          uint64
	ReadGasPerRead       uint64
	BridgeSlippageBuffer *uint256.Int

	KeeperGlpFactor             *uint256.Int
	ExternalServiceFactor       *uint256.Int
	MaxReferralRewardsUsdAmount *uint256.Int
	MaxReferralRewardsUsdFactor *uint256.Int
	MaxReferralRewardsWntFactor *uint256.Int
	MaxEsTokenReferralRewards   *uint256.Int
	MinResidualFactor           *uint256.Int
	MaxTreasuryShortfallFactor  *uint256.Int
}

func (p DistributionParams) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(p.Chains))
	for _, c := range p.Chains {
		ids = append(ids, c.ChainID)
	}
	return ids
}

func (p DistributionParams) Chain(chainID uint64) (ChainConfig, bool) {
	for _, c := range p.Chains {
		if c.ChainID == chainID {
			return c, true
		}
	}
	return ChainConfig{}, false
}

func (p DistributionParams) CurrentChain() ChainConfig {
	c, _ := p.Chain(p.CurrentChainID)
	return c
}

// RemoteChains returns the configured chains except the current one, in order.
func (p DistributionParams) RemoteChains() []ChainConfig {
	remote := make([]ChainConfig, 0, len(p.Chains))
	for _, c := range p.Chains {
		if c.ChainID != p.CurrentChainID {
			remote = append(remote, c)
		}
	}
	return remote
}

func (p DistributionParams) Validate() error {
	var result *multierror.Error

	if len(p.Chains) == 0 {
		result = multierror.Append(result, fmt.Errorf("missing chains"))
	}
	seen := make(map[uint64]struct{}, len(p.Chains))
	for _, c := range p.Chains {
		if _, ok := seen[c.ChainID]; ok {
			result = multierror.Append(result, fmt.Errorf("duplicated chain %d", c.ChainID))
		}
		seen[c.ChainID] = struct{}{}
		if c.FeeToken == (common.Address{}) || c.StakedToken == (common.Address{}) {
			result = multierror.Append(
				result, fmt.Errorf("chain %d: missing fee or staked token", c.ChainID),
			)
		}
		if c.BridgeSlippageFactor != nil && c.BridgeSlippageFactor.Gt(fixedpoint.PrecisionUnit) {
			result = multierror.Append(
				result, fmt.Errorf("chain %d: slippage factor above 100%%", c.ChainID),
			)
		}
		// Fees only move across chains when there is more than one.
		if len(p.Chains) > 1 {
			if c.BridgeSlippageFactor == nil {
				result = multierror.Append(
					result, fmt.Errorf("chain %d: missing bridge slippage factor", c.ChainID),
				)
			}
			if c.BridgeOriginDelay <= 0 || c.BridgeDestinationDelay <= 0 {
				result = multierror.Append(
					result, fmt.Errorf("chain %d: bridge delays must be > 0", c.ChainID),
				)
			} else if c.BridgeDestinationDelay < c.BridgeOriginDelay {
				result = multierror.Append(result, fmt.Errorf(
					"chain %d: bridge destination delay shorter than origin delay", c.ChainID,
				))
			}
		}
	}
	if _, ok := seen[p.CurrentChainID]; !ok {
		result = multierror.Append(
			result, fmt.Errorf("current chain %d not in chain list", p.CurrentChainID),
		)
	} else {
		feeToken := p.CurrentChain().FeeToken
		if feeToken == p.RewardToken {
			result = multierror.Append(
				result, fmt.Errorf("fee token and reward token must differ"),
			)
		}
		if feeToken == p.EsToken {
			result = multierror.Append(
				result, fmt.Errorf("fee token and es token must differ"),
			)
		}
	}
	// The es token is minted for referral rewards, the reward token never is.
	if p.EsToken == p.RewardToken {
		result = multierror.Append(result, fmt.Errorf("es token and reward token must differ"))
	}

	required := map[string]common.Address{
		"reward token":             p.RewardToken,
		"holding account":          p.HoldingAccount,
		"treasury":                 p.Treasury,
		"external service":         p.ExternalService,
		"fee token reward tracker": p.FeeTokenRewardTracker,
		"glp reward tracker":       p.GlpRewardTracker,
	}
	for name, addr := range required {
		if addr == (common.Address{}) {
			result = multierror.Append(result, fmt.Errorf("missing %s address", name))
		}
	}

	if p.DistributionDay > 6 {
		result = multierror.Append(result, fmt.Errorf("distribution day must be in [0, 6]"))
	}
	if p.MaxReadResponseDelay <= 0 {
		result = multierror.Append(result, fmt.Errorf("max read response delay must be > 0"))
	}

	fractions := map[string]*uint256.Int{
		"keeper glp factor":               p.KeeperGlpFactor,
		"external service factor":         p.ExternalServiceFactor,
		"max referral rewards usd factor": p.MaxReferralRewardsUsdFactor,
		"max referral rewards wnt factor": p.MaxReferralRewardsWntFactor,
		"min residual factor":             p.MinResidualFactor,
		"max treasury shortfall factor":   p.MaxTreasuryShortfallFactor,
	}
	for name, factor := range fractions {
		if factor == nil {
			result = multierror.Append(result, fmt.Errorf("missing %s", name))
			continue
		}
		if factor.Gt(fixedpoint.PrecisionUnit) {
			result = multierror.Append(result, fmt.Errorf("%s above 100%%", name))
		}
	}
	if p.MaxReferralRewardsUsdAmount == nil || p.MaxEsTokenReferralRewards == nil {
		result = multierror.Append(result, fmt.Errorf("missing referral rewards thresholds"))
	}

	for i, k := range p.Keepers {
		if k.Address == (common.Address{}) || k.TargetBalance == nil {
			result = multierror.Append(result, fmt.Errorf("keeper %d: missing address or target", i))
		}
	}

	return result.ErrorOrNil()
}
