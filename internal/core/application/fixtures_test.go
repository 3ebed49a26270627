package application

import (
	"fmt"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	rewardToken     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	esToken         = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	holdingAccount  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	treasury        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	externalService = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	feeTracker      = common.HexToAddress("0x00000000000000000000000000000000000000b4")
	glpTracker      = common.HexToAddress("0x00000000000000000000000000000000000000b5")
	keeperA         = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	keeperB         = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

// chainAddress returns a distinct address per chain and role.
func chainAddress(chainID uint64, role byte) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%038x%02x", chainID, role))
}

func testChain(chainID uint64) domain.ChainConfig {
	return domain.ChainConfig{
		ChainID:                chainID,
		FeeHandler:             chainAddress(chainID, 1),
		FeeReceiver:            chainAddress(chainID, 2),
		FeeToken:               chainAddress(chainID, 3),
		StakedToken:            chainAddress(chainID, 4),
		BridgeSlippageFactor:   fixedpoint.Factor(99, 100),
		BridgeOriginDelay:      10 * time.Minute,
		BridgeDestinationDelay: time.Hour,
	}
}

// testParams returns valid params for the given chains, the first one being
// the current chain.
func testParams(chainIDs ...uint64) domain.DistributionParams {
	chains := make([]domain.ChainConfig, 0, len(chainIDs))
	for _, id := range chainIDs {
		chains = append(chains, testChain(id))
	}
	return domain.DistributionParams{
		CurrentChainID:        chainIDs[0],
		Chains:                chains,
		RewardToken:           rewardToken,
		EsToken:               esToken,
		HoldingAccount:        holdingAccount,
		Treasury:              treasury,
		ExternalService:       externalService,
		FeeTokenRewardTracker: feeTracker,
		GlpRewardTracker:      glpTracker,
		Keepers: []domain.Keeper{
			{Address: keeperA, TargetBalance: uint256.NewInt(30), TreasuryOnly: true},
			{Address: keeperB, TargetBalance: uint256.NewInt(50)},
		},
		DistributionDay:             0,
		MaxReadResponseDelay:        time.Hour,
		ReadGasBase:                 100_000,
		ReadGasPerRead:              20_000,
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

func amount(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}
