package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"
)

// ChainParams is the document form of domain.ChainConfig. Factors are decimal
// fractions ("0.99"), delays are Go durations ("10m").
type ChainParams struct {
	ChainID                uint64 `mapstructure:"chain-id" json:"chainId"`
	FeeHandler             string `mapstructure:"fee-handler" json:"feeHandler"`
	FeeReceiver            string `mapstructure:"fee-receiver" json:"feeReceiver"`
	FeeToken               string `mapstructure:"fee-token" json:"feeToken"`
	StakedToken            string `mapstructure:"staked-token" json:"stakedToken"`
	BridgeSlippageFactor   string `mapstructure:"bridge-slippage-factor" json:"bridgeSlippageFactor,omitempty"`
	BridgeOriginDelay      string `mapstructure:"bridge-origin-delay" json:"bridgeOriginDelay,omitempty"`
	BridgeDestinationDelay string `mapstructure:"bridge-destination-delay" json:"bridgeDestinationDelay,omitempty"`
}

type KeeperParams struct {
	Address       string `mapstructure:"address" json:"address"`
	TargetBalance string `mapstructure:"target-balance" json:"targetBalance"`
	TreasuryOnly  bool   `mapstructure:"treasury-only" json:"treasuryOnly"`
}

// Params is the document form of domain.DistributionParams, shared by the
// params file and the admin API. Amounts are decimal strings in token units.
type Params struct {
	CurrentChainID uint64        `mapstructure:"current-chain-id" json:"currentChainId"`
	Chains         []ChainParams `mapstructure:"chains" json:"chains"`

	RewardToken           string `mapstructure:"reward-token" json:"rewardToken"`
	EsToken               string `mapstructure:"es-token" json:"esToken"`
	HoldingAccount        string `mapstructure:"holding-account" json:"holdingAccount"`
	Treasury              string `mapstructure:"treasury" json:"treasury"`
	ExternalService       string `mapstructure:"external-service" json:"externalService"`
	FeeTokenRewardTracker string `mapstructure:"fee-token-reward-tracker" json:"feeTokenRewardTracker"`
	GlpRewardTracker      string `mapstructure:"glp-reward-tracker" json:"glpRewardTracker"`

	Keepers []KeeperParams `mapstructure:"keepers" json:"keepers"`

	DistributionDay      uint8  `mapstructure:"distribution-day" json:"distributionDay"`
	MaxReadResponseDelay string `mapstructure:"max-read-response-delay" json:"maxReadResponseDelay"`
	ReadGasBase          uint64 `mapstructure:"read-gas-base" json:"readGasBase"`
	ReadGasPerRead       uint64 `mapstructure:"read-gas-per-read" json:"readGasPerRead"`
	BridgeSlippageBuffer string `mapstructure:"bridge-slippage-buffer" json:"bridgeSlippageBuffer"`

	KeeperGlpFactor             string `mapstructure:"keeper-glp-factor" json:"keeperGlpFactor"`
	ExternalServiceFactor       string `mapstructure:"external-service-factor" json:"externalServiceFactor"`
	MaxReferralRewardsUsdAmount string `mapstructure:"max-referral-rewards-usd-amount" json:"maxReferralRewardsUsdAmount"`
	MaxReferralRewardsUsdFactor string `mapstructure:"max-referral-rewards-usd-factor" json:"maxReferralRewardsUsdFactor"`
	MaxReferralRewardsWntFactor string `mapstructure:"max-referral-rewards-wnt-factor" json:"maxReferralRewardsWntFactor"`
	MaxEsTokenReferralRewards   string `mapstructure:"max-es-token-referral-rewards" json:"maxEsTokenReferralRewards"`
	MinResidualFactor           string `mapstructure:"min-residual-factor" json:"minResidualFactor"`
	MaxTreasuryShortfallFactor  string `mapstructure:"max-treasury-shortfall-factor" json:"maxTreasuryShortfallFactor"`
}

// LoadParamsFile reads a params file (yaml, json or toml). Top level scalar
// values can be overridden by FEEDIST_ env vars, eg. FEEDIST_DISTRIBUTION_DAY.
func LoadParamsFile(path string) (*domain.DistributionParams, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FEEDIST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read params file: %w", err)
	}

	var doc Params
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode params file: %w", err)
	}
	return doc.ToDomain()
}

func (p Params) ToDomain() (*domain.DistributionParams, error) {
	d := &decoder{}

	params := &domain.DistributionParams{
		CurrentChainID:              p.CurrentChainID,
		Chains:                      make([]domain.ChainConfig, 0, len(p.Chains)),
		RewardToken:                 d.address("reward token", p.RewardToken),
		EsToken:                     d.address("es token", p.EsToken),
		HoldingAccount:              d.address("holding account", p.HoldingAccount),
		Treasury:                    d.address("treasury", p.Treasury),
		ExternalService:             d.address("external service", p.ExternalService),
		FeeTokenRewardTracker:       d.address("fee token reward tracker", p.FeeTokenRewardTracker),
		GlpRewardTracker:            d.address("glp reward tracker", p.GlpRewardTracker),
		Keepers:                     make([]domain.Keeper, 0, len(p.Keepers)),
		DistributionDay:             p.DistributionDay,
		MaxReadResponseDelay:        d.duration("max read response delay", p.MaxReadResponseDelay),
		ReadGasBase:                 p.ReadGasBase,
		ReadGasPerRead:              p.ReadGasPerRead,
		BridgeSlippageBuffer:        d.amount("bridge slippage buffer", p.BridgeSlippageBuffer),
		KeeperGlpFactor:             d.factor("keeper glp factor", p.KeeperGlpFactor),
		ExternalServiceFactor:       d.factor("external service factor", p.ExternalServiceFactor),
		MaxReferralRewardsUsdAmount: d.amount("max referral rewards usd amount", p.MaxReferralRewardsUsdAmount),
		MaxReferralRewardsUsdFactor: d.factor("max referral rewards usd factor", p.MaxReferralRewardsUsdFactor),
		MaxReferralRewardsWntFactor: d.factor("max referral rewards wnt factor", p.MaxReferralRewardsWntFactor),
		MaxEsTokenReferralRewards:   d.amount("max es token referral rewards", p.MaxEsTokenReferralRewards),
		MinResidualFactor:           d.factor("min residual factor", p.MinResidualFactor),
		MaxTreasuryShortfallFactor:  d.factor("max treasury shortfall factor", p.MaxTreasuryShortfallFactor),
	}
	for _, c := range p.Chains {
		name := fmt.Sprintf("chain %d", c.ChainID)
		params.Chains = append(params.Chains, domain.ChainConfig{
			ChainID:                c.ChainID,
			FeeHandler:             d.address(name+" fee handler", c.FeeHandler),
			FeeReceiver:            d.address(name+" fee receiver", c.FeeReceiver),
			FeeToken:               d.address(name+" fee token", c.FeeToken),
			StakedToken:            d.address(name+" staked token", c.StakedToken),
			BridgeSlippageFactor:   d.factor(name+" bridge slippage factor", c.BridgeSlippageFactor),
			BridgeOriginDelay:      d.duration(name+" bridge origin delay", c.BridgeOriginDelay),
			BridgeDestinationDelay: d.duration(name+" bridge destination delay", c.BridgeDestinationDelay),
		})
	}
	for i, k := range p.Keepers {
		name := fmt.Sprintf("keeper %d", i)
		params.Keepers = append(params.Keepers, domain.Keeper{
			Address:       d.address(name+" address", k.Address),
			TargetBalance: d.amount(name+" target balance", k.TargetBalance),
			TreasuryOnly:  k.TreasuryOnly,
		})
	}

	if err := d.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return params, nil
}

func ParamsFromDomain(p domain.DistributionParams) Params {
	doc := Params{
		CurrentChainID:              p.CurrentChainID,
		Chains:                      make([]ChainParams, 0, len(p.Chains)),
		RewardToken:                 p.RewardToken.Hex(),
		EsToken:                     p.EsToken.Hex(),
		HoldingAccount:              p.HoldingAccount.Hex(),
		Treasury:                    p.Treasury.Hex(),
		ExternalService:             p.ExternalService.Hex(),
		FeeTokenRewardTracker:       p.FeeTokenRewardTracker.Hex(),
		GlpRewardTracker:            p.GlpRewardTracker.Hex(),
		Keepers:                     make([]KeeperParams, 0, len(p.Keepers)),
		DistributionDay:             p.DistributionDay,
		MaxReadResponseDelay:        p.MaxReadResponseDelay.String(),
		ReadGasBase:                 p.ReadGasBase,
		ReadGasPerRead:              p.ReadGasPerRead,
		BridgeSlippageBuffer:        amountString(p.BridgeSlippageBuffer),
		KeeperGlpFactor:             factorString(p.KeeperGlpFactor),
		ExternalServiceFactor:       factorString(p.ExternalServiceFactor),
		MaxReferralRewardsUsdAmount: amountString(p.MaxReferralRewardsUsdAmount),
		MaxReferralRewardsUsdFactor: factorString(p.MaxReferralRewardsUsdFactor),
		MaxReferralRewardsWntFactor: factorString(p.MaxReferralRewardsWntFactor),
		MaxEsTokenReferralRewards:   amountString(p.MaxEsTokenReferralRewards),
		MinResidualFactor:           factorString(p.MinResidualFactor),
		MaxTreasuryShortfallFactor:  factorString(p.MaxTreasuryShortfallFactor),
	}
	for _, c := range p.Chains {
		doc.Chains = append(doc.Chains, ChainParams{
			ChainID:                c.ChainID,
			FeeHandler:             c.FeeHandler.Hex(),
			FeeReceiver:            c.FeeReceiver.Hex(),
			FeeToken:               c.FeeToken.Hex(),
			StakedToken:            c.StakedToken.Hex(),
			BridgeSlippageFactor:   factorString(c.BridgeSlippageFactor),
			BridgeOriginDelay:      c.BridgeOriginDelay.String(),
			BridgeDestinationDelay: c.BridgeDestinationDelay.String(),
		})
	}
	for _, k := range p.Keepers {
		doc.Keepers = append(doc.Keepers, KeeperParams{
			Address:       k.Address.Hex(),
			TargetBalance: amountString(k.TargetBalance),
			TreasuryOnly:  k.TreasuryOnly,
		})
	}
	return doc
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

func factorString(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return fixedpoint.FormatFactor(v)
}

// decoder collects every invalid field instead of failing on the first one.
// Empty values decode to their zero value and are left to the params
// validation.
type decoder struct {
	errs *multierror.Error
}

func (d *decoder) address(name, s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	if !common.IsHexAddress(s) {
		d.errs = multierror.Append(d.errs, fmt.Errorf("invalid %s address %q", name, s))
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func (d *decoder) amount(name, s string) *uint256.Int {
	if s == "" {
		return nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		d.errs = multierror.Append(d.errs, fmt.Errorf("invalid %s %q", name, s))
		return nil
	}
	return v
}

func (d *decoder) factor(name, s string) *uint256.Int {
	if s == "" {
		return nil
	}
	v, err := fixedpoint.ParseFactor(s)
	if err != nil {
		d.errs = multierror.Append(d.errs, fmt.Errorf("invalid %s: %w", name, err))
		return nil
	}
	return v
}

func (d *decoder) duration(name, s string) time.Duration {
	if s == "" {
		return 0
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		d.errs = multierror.Append(d.errs, fmt.Errorf("invalid %s %q", name, s))
		return 0
	}
	return v
}
