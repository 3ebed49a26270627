// Package ledger holds the value encoding and the write staging shared by the
// ledger store backends. Values are a one byte kind followed by their RLP
// encoding, so reading a key with the wrong accessor fails.
package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// VersionKey stores the ledger version. Its length differs from the 32 byte
// ledger keys so it can not collide with them.
var VersionKey = []byte("ledger/version")

type kind byte

const (
	kindUint kind = iota + 1
	kindAddress
	kindUintArray
	kindAddressArray
	kindBoolArray
)

func (k kind) String() string {
	switch k {
	case kindUint:
		return "uint"
	case kindAddress:
		return "address"
	case kindUintArray:
		return "uint[]"
	case kindAddressArray:
		return "address[]"
	case kindBoolArray:
		return "bool[]"
	default:
		return "unknown"
	}
}

// Reader returns the raw value of a key, or nil if the key is missing.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

type ReaderFunc func(key []byte) ([]byte, error)

func (f ReaderFunc) Get(key []byte) ([]byte, error) {
	return f(key)
}

type Change struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Tx implements ports.LedgerTx on top of a Reader, staging writes until the
// backend commits them.
type Tx struct {
	reader   Reader
	readOnly bool
	writes   map[string]*Change
}

func NewTx(reader Reader, readOnly bool) *Tx {
	return &Tx{
		reader:   reader,
		readOnly: readOnly,
		writes:   make(map[string]*Change),
	}
}

var _ ports.LedgerTx = (*Tx)(nil)

func (t *Tx) GetUint(key common.Hash) (*uint256.Int, error) {
	var v *big.Int
	found, err := t.get(key, kindUint, &v)
	if err != nil || !found {
		return new(uint256.Int), err
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("value of key %s overflows uint256", key.Hex())
	}
	return u, nil
}

func (t *Tx) SetUint(key common.Hash, value *uint256.Int) error {
	return t.set(key, kindUint, value.ToBig())
}

func (t *Tx) GetAddress(key common.Hash) (common.Address, error) {
	var v common.Address
	_, err := t.get(key, kindAddress, &v)
	return v, err
}

func (t *Tx) SetAddress(key common.Hash, value common.Address) error {
	return t.set(key, kindAddress, value)
}

func (t *Tx) GetUintArray(key common.Hash) ([]*uint256.Int, error) {
	var v []*big.Int
	if _, err := t.get(key, kindUintArray, &v); err != nil {
		return nil, err
	}
	out := make([]*uint256.Int, 0, len(v))
	for _, b := range v {
		u, overflow := uint256.FromBig(b)
		if overflow {
			return nil, fmt.Errorf("value of key %s overflows uint256", key.Hex())
		}
		out = append(out, u)
	}
	return out, nil
}

func (t *Tx) SetUintArray(key common.Hash, values []*uint256.Int) error {
	v := make([]*big.Int, 0, len(values))
	for _, u := range values {
		v = append(v, u.ToBig())
	}
	return t.set(key, kindUintArray, v)
}

func (t *Tx) GetAddressArray(key common.Hash) ([]common.Address, error) {
	var v []common.Address
	_, err := t.get(key, kindAddressArray, &v)
	return v, err
}

func (t *Tx) SetAddressArray(key common.Hash, values []common.Address) error {
	return t.set(key, kindAddressArray, values)
}

func (t *Tx) GetBoolArray(key common.Hash) ([]bool, error) {
	var v []bool
	_, err := t.get(key, kindBoolArray, &v)
	return v, err
}

func (t *Tx) SetBoolArray(key common.Hash, values []bool) error {
	return t.set(key, kindBoolArray, values)
}

func (t *Tx) Delete(key common.Hash) error {
	if t.readOnly {
		return fmt.Errorf("ledger transaction is read-only")
	}
	t.writes[string(key.Bytes())] = &Change{Key: key.Bytes(), Deleted: true}
	return nil
}

// IncrementVersion stages the next ledger version and returns it.
func (t *Tx) IncrementVersion() (uint64, error) {
	version, err := ReadVersion(t)
	if err != nil {
		return 0, err
	}
	version++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, version)
	t.writes[string(VersionKey)] = &Change{Key: VersionKey, Value: buf}
	return version, nil
}

// Changes returns the staged writes sorted by key.
func (t *Tx) Changes() []Change {
	changes := make([]Change, 0, len(t.writes))
	for _, c := range t.writes {
		changes = append(changes, *c)
	}
	sort.Slice(changes, func(i, j int) bool {
		return bytes.Compare(changes[i].Key, changes[j].Key) < 0
	})
	return changes
}

// Get reads through the staged writes.
func (t *Tx) Get(key []byte) ([]byte, error) {
	if c, ok := t.writes[string(key)]; ok {
		if c.Deleted {
			return nil, nil
		}
		return c.Value, nil
	}
	return t.reader.Get(key)
}

func (t *Tx) get(key common.Hash, k kind, out any) (bool, error) {
	raw, err := t.Get(key.Bytes())
	if err != nil {
		return false, fmt.Errorf("failed to read key %s: %w", key.Hex(), err)
	}
	if len(raw) == 0 {
		return false, nil
	}
	if kind(raw[0]) != k {
		return false, fmt.Errorf(
			"key %s holds a %s value, not %s", key.Hex(), kind(raw[0]), k,
		)
	}
	if err := rlp.DecodeBytes(raw[1:], out); err != nil {
		return false, fmt.Errorf("failed to decode key %s: %w", key.Hex(), err)
	}
	return true, nil
}

func (t *Tx) set(key common.Hash, k kind, value any) error {
	if t.readOnly {
		return fmt.Errorf("ledger transaction is read-only")
	}
	buf, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("failed to encode key %s: %w", key.Hex(), err)
	}
	t.writes[string(key.Bytes())] = &Change{
		Key:   key.Bytes(),
		Value: append([]byte{byte(k)}, buf...),
	}
	return nil
}

// ReadVersion reads the ledger version, zero for an empty ledger.
func ReadVersion(reader Reader) (uint64, error) {
	raw, err := reader.Get(VersionKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger version: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("invalid ledger version encoding")
	}
	return binary.BigEndian.Uint64(raw), nil
}
