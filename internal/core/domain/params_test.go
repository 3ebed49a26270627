package domain_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func addr(v uint64) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%x", v))
}

func chainConfig(chainID uint64) domain.ChainConfig {
	return domain.ChainConfig{
		ChainID:                chainID,
		FeeHandler:             addr(chainID*16 + 1),
		FeeReceiver:            addr(chainID*16 + 2),
		FeeToken:               addr(chainID*16 + 3),
		StakedToken:            addr(chainID*16 + 4),
		BridgeSlippageFactor:   fixedpoint.Factor(99, 100),
		BridgeOriginDelay:      10 * time.Minute,
		BridgeDestinationDelay: time.Hour,
	}
}

func validParams() domain.DistributionParams {
	return domain.DistributionParams{
		CurrentChainID:        1,
		Chains:                []domain.ChainConfig{chainConfig(1), chainConfig(2)},
		RewardToken:           addr(0xa1),
		EsToken:               addr(0xa2),
		HoldingAccount:        addr(0xb1),
		Treasury:              addr(0xb2),
		ExternalService:       addr(0xb3),
		FeeTokenRewardTracker: addr(0xb4),
		GlpRewardTracker:      addr(0xb5),
		Keepers: []domain.Keeper{
			{Address: addr(0xc1), TargetBalance: uint256.NewInt(30), TreasuryOnly: true},
		},
		MaxReadResponseDelay:        time.Hour,
		BridgeSlippageBuffer:        uint256.NewInt(0),
		KeeperGlpFactor:             fixedpoint.Factor(50, 100),
		ExternalServiceFactor:       fixedpoint.Factor(10, 100),
		MaxReferralRewardsUsdAmount: uint256.NewInt(1000),
		MaxReferralRewardsUsdFactor: fixedpoint.Factor(50, 100),
		MaxReferralRewardsWntFactor: fixedpoint.Factor(10, 100),
		MaxEsTokenReferralRewards:   uint256.NewInt(500),
		MinResidualFactor:           fixedpoint.Factor(80, 100),
		MaxTreasuryShortfallFactor:  fixedpoint.Factor(20, 100),
	}
}

func TestValidateParams(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validParams().Validate())

		single := validParams()
		single.Chains = []domain.ChainConfig{chainConfig(1)}
		single.Chains[0].BridgeSlippageFactor = nil
		single.Chains[0].BridgeOriginDelay = 0
		single.Chains[0].BridgeDestinationDelay = 0
		require.NoError(t, single.Validate())
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name     string
			mutate   func(p *domain.DistributionParams)
			expected string
		}{
			{
				"es_token_is_reward_token",
				func(p *domain.DistributionParams) { p.EsToken = p.RewardToken },
				"es token and reward token must differ",
			},
			{
				"es_token_is_fee_token",
				func(p *domain.DistributionParams) { p.EsToken = p.Chains[0].FeeToken },
				"fee token and es token must differ",
			},
			{
				"reward_token_is_fee_token",
				func(p *domain.DistributionParams) { p.RewardToken = p.Chains[0].FeeToken },
				"fee token and reward token must differ",
			},
			{
				"missing_slippage_factor",
				func(p *domain.DistributionParams) { p.Chains[0].BridgeSlippageFactor = nil },
				"chain 1: missing bridge slippage factor",
			},
			{
				"slippage_factor_above_one",
				func(p *domain.DistributionParams) {
					p.Chains[1].BridgeSlippageFactor = fixedpoint.Factor(101, 100)
				},
				"chain 2: slippage factor above 100%",
			},
			{
				"zero_origin_delay",
				func(p *domain.DistributionParams) { p.Chains[1].BridgeOriginDelay = 0 },
				"chain 2: bridge delays must be > 0",
			},
			{
				"zero_destination_delay",
				func(p *domain.DistributionParams) { p.Chains[0].BridgeDestinationDelay = 0 },
				"chain 1: bridge delays must be > 0",
			},
			{
				"destination_before_origin",
				func(p *domain.DistributionParams) {
					p.Chains[1].BridgeDestinationDelay = time.Minute
				},
				"chain 2: bridge destination delay shorter than origin delay",
			},
			{
				"duplicated_chain",
				func(p *domain.DistributionParams) { p.Chains[1].ChainID = 1 },
				"duplicated chain 1",
			},
			{
				"unknown_current_chain",
				func(p *domain.DistributionParams) { p.CurrentChainID = 3 },
				"current chain 3 not in chain list",
			},
			{
				"missing_factor",
				func(p *domain.DistributionParams) { p.MinResidualFactor = nil },
				"missing min residual factor",
			},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				params := validParams()
				f.mutate(&params)
				err := params.Validate()
				require.Error(t, err)
				require.Contains(t, err.Error(), f.expected)
			})
		}
	})
}
