package simulated

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type vault struct {
	network *Network
	chainID uint64
	holding common.Address
}

// NewVault returns the token vault of the holding account on chainID.
func NewVault(network *Network, chainID uint64, holding common.Address) ports.TokenVault {
	return &vault{network, chainID, holding}
}

func (v *vault) BalanceOf(_ context.Context, token, account common.Address) (*uint256.Int, error) {
	return v.network.BalanceOf(v.chainID, token, account)
}

func (v *vault) TotalSupply(_ context.Context, token common.Address) (*uint256.Int, error) {
	return v.network.TotalSupply(v.chainID, token)
}

func (v *vault) ClaimableFees(
	_ context.Context, feeHandler, token common.Address,
) (*uint256.Int, error) {
	return v.network.ClaimableFees(v.chainID, feeHandler, token)
}

func (v *vault) Transfer(
	_ context.Context, token, to common.Address, amount *uint256.Int,
) error {
	return v.network.Transfer(v.chainID, token, v.holding, to, amount)
}

func (v *vault) Mint(_ context.Context, token, to common.Address, amount *uint256.Int) error {
	return v.network.Mint(v.chainID, token, to, amount)
}

type feeSource struct {
	name       string
	network    *Network
	chainID    uint64
	feeHandler common.Address
	receiver   common.Address
}

// NewFeeSource returns a fee source claiming the fees accrued in feeHandler
// to receiver.
func NewFeeSource(
	name string, network *Network, chainID uint64, feeHandler, receiver common.Address,
) ports.FeeSource {
	return &feeSource{name, network, chainID, feeHandler, receiver}
}

func (s *feeSource) Name() string {
	return s.name
}

func (s *feeSource) WithdrawAccruedFees(
	_ context.Context, token common.Address,
) (*uint256.Int, error) {
	return s.network.ClaimFees(s.chainID, s.feeHandler, token, s.receiver)
}

// Notification is a reward amount notified to a tracker.
type Notification struct {
	Tracker           common.Address
	Token             common.Address
	Amount            *uint256.Int
	TokensPerInterval *uint256.Int
}

// RewardTracker records the notifications it gets. The notified amount must
// have been transferred to the tracker beforehand.
type RewardTracker struct {
	network *Network
	chainID uint64

	lock          sync.Mutex
	notifications []Notification
}

func NewRewardTracker(network *Network, chainID uint64) *RewardTracker {
	return &RewardTracker{network: network, chainID: chainID}
}

func (r *RewardTracker) NotifyNewRewardAmount(
	_ context.Context, tracker, token common.Address, amount, tokensPerInterval *uint256.Int,
) error {
	balance, err := r.network.BalanceOf(r.chainID, token, tracker)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf(
			"tracker %s holds %s of %s, less than notified %s",
			tracker.Hex(), balance.Dec(), token.Hex(), amount.Dec(),
		)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.notifications = append(r.notifications, Notification{
		Tracker:           tracker,
		Token:             token,
		Amount:            amount.Clone(),
		TokensPerInterval: tokensPerInterval.Clone(),
	})
	return nil
}

func (r *RewardTracker) Notifications() []Notification {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]Notification(nil), r.notifications...)
}

// PriceOracle serves fixed prices set by the operator.
type PriceOracle struct {
	lock   sync.RWMutex
	prices map[common.Address]*uint256.Int
}

func NewPriceOracle(prices map[common.Address]*uint256.Int) *PriceOracle {
	o := &PriceOracle{prices: make(map[common.Address]*uint256.Int, len(prices))}
	for token, price := range prices {
		o.prices[token] = price.Clone()
	}
	return o
}

func (o *PriceOracle) SetPrice(token common.Address, price *uint256.Int) {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.prices[token] = price.Clone()
}

func (o *PriceOracle) GetPrice(_ context.Context, token common.Address) (*uint256.Int, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()

	price, ok := o.prices[token]
	if !ok || price.IsZero() {
		return nil, fmt.Errorf("no price for token %s", token.Hex())
	}
	return price.Clone(), nil
}
