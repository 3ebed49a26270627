// Package keys builds the ledger keys of the fee distributor. A base key is
// keccak256(abi.encode(name)) and a composite key is
// keccak256(abi.encode(base, subIDs...)).
package keys

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	stringType  = mustType("string")
	bytes32Type = mustType("bytes32")
	uint256Type = mustType("uint256")
	addressType = mustType("address")
)

// Distribution lifecycle.
var (
	DistributionState         = key("FEE_DISTRIBUTOR_STATE")
	DistributionCycleID       = key("FEE_DISTRIBUTOR_CYCLE_ID")
	DistributionInitiatedAt   = key("FEE_DISTRIBUTOR_INITIATED_AT")
	LastDistributionTime      = key("FEE_DISTRIBUTOR_LAST_DISTRIBUTION_TIME")
	ReadResponseTimestamp     = key("FEE_DISTRIBUTOR_READ_RESPONSE_TIMESTAMP")
	PendingReadRequest        = key("FEE_DISTRIBUTOR_PENDING_READ_REQUEST")
	OriginalFeeAmount         = key("FEE_DISTRIBUTOR_ORIGINAL_FEE_AMOUNT")
	RequiredFeeAmount         = key("FEE_DISTRIBUTOR_REQUIRED_FEE_AMOUNT")
	TotalFeeAmount            = key("FEE_DISTRIBUTOR_TOTAL_FEE_AMOUNT")
	TotalStakedAmount         = key("FEE_DISTRIBUTOR_TOTAL_STAKED_AMOUNT")
	BridgedOutAmount          = key("FEE_DISTRIBUTOR_BRIDGED_OUT_AMOUNT")
	FeeAmount                 = key("FEE_DISTRIBUTOR_FEE_AMOUNT")
	StakedAmount              = key("FEE_DISTRIBUTOR_STAKED_AMOUNT")
	ReferralRewardsAuthorized = key("FEE_DISTRIBUTOR_REFERRAL_REWARDS_AUTHORIZED")
	ReferralRewardsSent       = key("FEE_DISTRIBUTOR_REFERRAL_REWARDS_SENT")
	PayoutPlan                = key("FEE_DISTRIBUTOR_PAYOUT_PLAN")
	PayoutStep                = key("FEE_DISTRIBUTOR_PAYOUT_STEP")
)

// Configuration.
var (
	ChainIDs                    = key("FEE_DISTRIBUTOR_CHAIN_ID")
	CurrentChainID              = key("FEE_DISTRIBUTOR_CURRENT_CHAIN_ID")
	DistributionDay             = key("FEE_DISTRIBUTOR_DISTRIBUTION_DAY")
	MaxReadResponseDelay        = key("FEE_DISTRIBUTOR_MAX_READ_RESPONSE_DELAY")
	ReadGasBase                 = key("FEE_DISTRIBUTOR_READ_GAS_BASE")
	ReadGasPerRead              = key("FEE_DISTRIBUTOR_READ_GAS_PER_READ")
	BridgeSlippageFactor        = key("FEE_DISTRIBUTOR_BRIDGE_SLIPPAGE_FACTOR")
	BridgeSlippageBuffer        = key("FEE_DISTRIBUTOR_BRIDGE_SLIPPAGE_BUFFER")
	BridgeOriginDelay           = key("FEE_DISTRIBUTOR_BRIDGE_ORIGIN_DELAY")
	BridgeDestinationDelay      = key("FEE_DISTRIBUTOR_BRIDGE_DESTINATION_DELAY")
	FeeToken                    = key("FEE_DISTRIBUTOR_FEE_TOKEN")
	StakedToken                 = key("FEE_DISTRIBUTOR_STAKED_TOKEN")
	RewardToken                 = key("FEE_DISTRIBUTOR_REWARD_TOKEN")
	EsToken                     = key("FEE_DISTRIBUTOR_ES_TOKEN")
	FeeHandler                  = key("FEE_DISTRIBUTOR_FEE_HANDLER")
	FeeReceiver                 = key("FEE_DISTRIBUTOR_FEE_RECEIVER")
	HoldingAccount              = key("FEE_DISTRIBUTOR_HOLDING_ACCOUNT")
	Treasury                    = key("FEE_DISTRIBUTOR_TREASURY")
	ExternalService             = key("FEE_DISTRIBUTOR_EXTERNAL_SERVICE")
	FeeTokenRewardTracker       = key("FEE_DISTRIBUTOR_FEE_TOKEN_REWARD_TRACKER")
	GlpRewardTracker            = key("FEE_DISTRIBUTOR_GLP_REWARD_TRACKER")
	Keepers                     = key("FEE_DISTRIBUTOR_KEEPERS")
	KeeperTargets               = key("FEE_DISTRIBUTOR_KEEPER_TARGETS")
	KeeperTreasuryOnly          = key("FEE_DISTRIBUTOR_KEEPER_TREASURY_ONLY")
	KeeperGlpFactor             = key("FEE_DISTRIBUTOR_KEEPER_GLP_FACTOR")
	ExternalServiceFactor       = key("FEE_DISTRIBUTOR_EXTERNAL_SERVICE_FACTOR")
	MaxReferralRewardsUsdAmount = key("FEE_DISTRIBUTOR_MAX_REFERRAL_REWARDS_USD_AMOUNT")
	MaxReferralRewardsUsdFactor = key("FEE_DISTRIBUTOR_MAX_REFERRAL_REWARDS_USD_FACTOR")
	MaxReferralRewardsWntFactor = key("FEE_DISTRIBUTOR_MAX_REFERRAL_REWARDS_WNT_FACTOR")
	MaxEsTokenReferralRewards   = key("FEE_DISTRIBUTOR_MAX_ES_TOKEN_REFERRAL_REWARDS")
	MinResidualFactor           = key("FEE_DISTRIBUTOR_MIN_RESIDUAL_FACTOR")
	MaxTreasuryShortfallFactor  = key("FEE_DISTRIBUTOR_MAX_TREASURY_SHORTFALL_FACTOR")
)

// FeeAmountKey is the fee amount of the given chain.
func FeeAmountKey(chainID uint64) common.Hash {
	return Compose(FeeAmount, chainID)
}

// StakedAmountKey is the staked-token total supply of the given chain.
func StakedAmountKey(chainID uint64) common.Hash {
	return Compose(StakedAmount, chainID)
}

func FeeHandlerKey(chainID uint64) common.Hash {
	return Compose(FeeHandler, chainID)
}

func FeeReceiverKey(chainID uint64) common.Hash {
	return Compose(FeeReceiver, chainID)
}

func FeeTokenKey(chainID uint64) common.Hash {
	return Compose(FeeToken, chainID)
}

func StakedTokenKey(chainID uint64) common.Hash {
	return Compose(StakedToken, chainID)
}

func BridgeSlippageFactorKey(chainID uint64) common.Hash {
	return Compose(BridgeSlippageFactor, chainID)
}

func BridgeOriginDelayKey(from, to uint64) common.Hash {
	return Compose(BridgeOriginDelay, from, to)
}

func BridgeDestinationDelayKey(from, to uint64) common.Hash {
	return Compose(BridgeDestinationDelay, from, to)
}

func ReferralRewardsAuthorizedKey(token common.Address) common.Hash {
	return Compose(ReferralRewardsAuthorized, token)
}

func ReferralRewardsSentKey(token common.Address) common.Hash {
	return Compose(ReferralRewardsSent, token)
}

// Compose hashes a base key together with sub identifiers. Supported sub
// identifier types are uint64, common.Address, common.Hash and string.
func Compose(base common.Hash, subIDs ...any) common.Hash {
	args := abi.Arguments{{Type: bytes32Type}}
	values := []any{[32]byte(base)}
	for _, id := range subIDs {
		switch v := id.(type) {
		case uint64:
			args = append(args, abi.Argument{Type: uint256Type})
			values = append(values, new(big.Int).SetUint64(v))
		case common.Address:
			args = append(args, abi.Argument{Type: addressType})
			values = append(values, v)
		case common.Hash:
			args = append(args, abi.Argument{Type: bytes32Type})
			values = append(values, [32]byte(v))
		case string:
			args = append(args, abi.Argument{Type: stringType})
			values = append(values, v)
		default:
			panic(fmt.Sprintf("unsupported key component %T", id))
		}
	}
	return hash(args, values...)
}

func key(name string) common.Hash {
	return hash(abi.Arguments{{Type: stringType}}, name)
}

func hash(args abi.Arguments, values ...any) common.Hash {
	buf, err := args.Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("failed to encode key: %s", err))
	}
	return crypto.Keccak256Hash(buf)
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
