// Package simulated implements the chain ports on top of an in-process
// multi-chain ledger. Every chain tracks token balances, total supplies and
// the fees accrued in fee handlers. Bridge transfers are debited on the
// source chain right away and credited on the destination chain only when the
// network settles.
package simulated

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
)

type chainState struct {
	balances  map[common.Address]map[common.Address]*uint256.Int
	supplies  map[common.Address]*uint256.Int
	claimable map[common.Address]map[common.Address]*uint256.Int
}

func newChainState() *chainState {
	return &chainState{
		balances:  make(map[common.Address]map[common.Address]*uint256.Int),
		supplies:  make(map[common.Address]*uint256.Int),
		claimable: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func get(m map[common.Address]map[common.Address]*uint256.Int, a, b common.Address) *uint256.Int {
	if inner, ok := m[a]; ok {
		if v, ok := inner[b]; ok {
			return v.Clone()
		}
	}
	return new(uint256.Int)
}

func set(m map[common.Address]map[common.Address]*uint256.Int, a, b common.Address, v *uint256.Int) {
	if _, ok := m[a]; !ok {
		m[a] = make(map[common.Address]*uint256.Int)
	}
	m[a][b] = v
}

// InflightTransfer is a bridge transfer debited on the source chain and not
// yet credited on the destination chain.
type InflightTransfer struct {
	SourceChainID      uint64
	SourceToken        common.Address
	Sender             common.Address
	Refund             *uint256.Int
	DestinationChainID uint64
	Token              common.Address
	Recipient          common.Address
	Amount             *uint256.Int
	Deadline           time.Time
}

type Network struct {
	lock     sync.RWMutex
	clock    clockwork.Clock
	chains   map[uint64]*chainState
	inflight []InflightTransfer
}

func NewNetwork(clock clockwork.Clock, chainIDs ...uint64) *Network {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	chains := make(map[uint64]*chainState, len(chainIDs))
	for _, id := range chainIDs {
		chains[id] = newChainState()
	}
	return &Network{
		clock:  clock,
		chains: chains,
	}
}

func (n *Network) chain(chainID uint64) (*chainState, error) {
	c, ok := n.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("unknown chain %d", chainID)
	}
	return c, nil
}

// Mint credits account and grows the token supply.
func (n *Network) Mint(chainID uint64, token, account common.Address, amount *uint256.Int) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.mint(chainID, token, account, amount)
}

// Burn debits account and shrinks the token supply.
func (n *Network) Burn(chainID uint64, token, account common.Address, amount *uint256.Int) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	c, err := n.chain(chainID)
	if err != nil {
		return err
	}
	if err := n.debit(c, token, account, amount); err != nil {
		return err
	}
	supply := n.supply(c, token)
	c.supplies[token] = supply.Sub(supply, amount)
	return nil
}

// AccrueFees adds amount of token to the fees claimable from feeHandler.
func (n *Network) AccrueFees(
	chainID uint64, feeHandler, token common.Address, amount *uint256.Int,
) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	c, err := n.chain(chainID)
	if err != nil {
		return err
	}
	claimable := get(c.claimable, feeHandler, token)
	set(c.claimable, feeHandler, token, claimable.Add(claimable, amount))
	c.supplies[token] = new(uint256.Int).Add(n.supply(c, token), amount)
	return nil
}

func (n *Network) BalanceOf(chainID uint64, token, account common.Address) (*uint256.Int, error) {
	n.lock.RLock()
	defer n.lock.RUnlock()

	c, err := n.chain(chainID)
	if err != nil {
		return nil, err
	}
	return get(c.balances, token, account), nil
}

func (n *Network) TotalSupply(chainID uint64, token common.Address) (*uint256.Int, error) {
	n.lock.RLock()
	defer n.lock.RUnlock()

	c, err := n.chain(chainID)
	if err != nil {
		return nil, err
	}
	return n.supply(c, token), nil
}

func (n *Network) ClaimableFees(
	chainID uint64, feeHandler, token common.Address,
) (*uint256.Int, error) {
	n.lock.RLock()
	defer n.lock.RUnlock()

	c, err := n.chain(chainID)
	if err != nil {
		return nil, err
	}
	return get(c.claimable, feeHandler, token), nil
}

func (n *Network) Transfer(
	chainID uint64, token, from, to common.Address, amount *uint256.Int,
) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	c, err := n.chain(chainID)
	if err != nil {
		return err
	}
	if err := n.debit(c, token, from, amount); err != nil {
		return err
	}
	n.credit(c, token, to, amount)
	return nil
}

// ClaimFees moves the fees accrued in feeHandler to receiver and returns the
// amount moved.
func (n *Network) ClaimFees(
	chainID uint64, feeHandler, token, receiver common.Address,
) (*uint256.Int, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	c, err := n.chain(chainID)
	if err != nil {
		return nil, err
	}
	amount := get(c.claimable, feeHandler, token)
	set(c.claimable, feeHandler, token, new(uint256.Int))
	n.credit(c, token, receiver, amount)
	return amount, nil
}

// Inflight returns the bridge transfers waiting to be settled.
func (n *Network) Inflight() []InflightTransfer {
	n.lock.RLock()
	defer n.lock.RUnlock()

	inflight := make([]InflightTransfer, 0, len(n.inflight))
	for _, t := range n.inflight {
		t.Amount = t.Amount.Clone()
		t.Refund = t.Refund.Clone()
		inflight = append(inflight, t)
	}
	return inflight
}

// Settle credits every inflight transfer on its destination chain. Transfers
// past their destination deadline are refunded to the sender on the source
// chain instead. It returns the number of transfers credited on destination.
func (n *Network) Settle() (int, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	now := n.clock.Now()
	settled := 0
	for _, t := range n.inflight {
		if !t.Deadline.IsZero() && now.After(t.Deadline) {
			source, err := n.chain(t.SourceChainID)
			if err != nil {
				return settled, err
			}
			n.credit(source, t.SourceToken, t.Sender, t.Refund)
			continue
		}
		destination, err := n.chain(t.DestinationChainID)
		if err != nil {
			return settled, err
		}
		n.credit(destination, t.Token, t.Recipient, t.Amount)
		settled++
	}
	n.inflight = nil
	return settled, nil
}

// bridgeOut debits the sender on the source chain and queues the transfer.
func (n *Network) bridgeOut(t InflightTransfer) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	source, err := n.chain(t.SourceChainID)
	if err != nil {
		return err
	}
	if _, err := n.chain(t.DestinationChainID); err != nil {
		return err
	}
	if err := n.debit(source, t.SourceToken, t.Sender, t.Refund); err != nil {
		return err
	}
	n.inflight = append(n.inflight, t)
	return nil
}

func (n *Network) mint(chainID uint64, token, account common.Address, amount *uint256.Int) error {
	c, err := n.chain(chainID)
	if err != nil {
		return err
	}
	n.credit(c, token, account, amount)
	c.supplies[token] = new(uint256.Int).Add(n.supply(c, token), amount)
	return nil
}

func (n *Network) supply(c *chainState, token common.Address) *uint256.Int {
	if v, ok := c.supplies[token]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func (n *Network) credit(c *chainState, token, account common.Address, amount *uint256.Int) {
	balance := get(c.balances, token, account)
	set(c.balances, token, account, balance.Add(balance, amount))
}

func (n *Network) debit(c *chainState, token, account common.Address, amount *uint256.Int) error {
	balance := get(c.balances, token, account)
	if balance.Lt(amount) {
		return fmt.Errorf(
			"insufficient balance of %s for %s: %s < %s",
			token.Hex(), account.Hex(), balance.Dec(), amount.Dec(),
		)
	}
	set(c.balances, token, account, balance.Sub(balance, amount))
	return nil
}
