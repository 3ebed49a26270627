package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LedgerStore is the versioned key-value store backing the distributor state
// and configuration. Writes of an Update are applied atomically, an Update
// whose callback fails leaves the store untouched.
type LedgerStore interface {
	View(ctx context.Context, fn func(tx LedgerTx) error) error
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
	// Version is incremented by every successful Update.
	Version(ctx context.Context) (uint64, error)
	Close()
}

// LedgerTx reads and writes typed values. Missing keys read as zero values.
type LedgerTx interface {
	GetUint(key common.Hash) (*uint256.Int, error)
	SetUint(key common.Hash, value *uint256.Int) error
	GetAddress(key common.Hash) (common.Address, error)
	SetAddress(key common.Hash, value common.Address) error
	GetUintArray(key common.Hash) ([]*uint256.Int, error)
	SetUintArray(key common.Hash, values []*uint256.Int) error
	GetAddressArray(key common.Hash) ([]common.Address, error)
	SetAddressArray(key common.Hash, values []common.Address) error
	GetBoolArray(key common.Hash) ([]bool, error)
	SetBoolArray(key common.Hash, values []bool) error
	Delete(key common.Hash) error
}
