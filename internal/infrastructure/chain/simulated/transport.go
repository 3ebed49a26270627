package simulated

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkade-os/fee-distributor/internal/core/ports"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	log "github.com/sirupsen/logrus"
)

var uint256Type = func() abi.Type {
	t, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return t
}()

type response struct {
	requestID common.Hash
	timestamp int64
	payload   []byte
}

// Transport serves the batched reads from the network state at the time they
// are sent. Responses are handed to the registered handler either in a
// goroutine right after sending, or on Deliver.
type Transport struct {
	network     *Network
	fee         *uint256.Int
	autoDeliver bool

	lock    sync.Mutex
	handler ports.ReadResponseHandler
	pending []response
}

func NewTransport(network *Network, fee *uint256.Int, autoDeliver bool) *Transport {
	if fee == nil {
		fee = new(uint256.Int)
	}
	return &Transport{
		network:     network,
		fee:         fee.Clone(),
		autoDeliver: autoDeliver,
	}
}

func (t *Transport) RegisterResponseHandler(handler ports.ReadResponseHandler) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.handler = handler
}

func (t *Transport) QuoteFee(
	_ context.Context, reqs []ports.ReadRequest, _ ports.ReadOptions,
) (*uint256.Int, error) {
	return new(uint256.Int).Mul(t.fee, uint256.NewInt(uint64(len(reqs)))), nil
}

func (t *Transport) Send(
	ctx context.Context, reqs []ports.ReadRequest, opts ports.ReadOptions, fee *uint256.Int,
) (*ports.ReadReceipt, error) {
	quote, err := t.QuoteFee(ctx, reqs, opts)
	if err != nil {
		return nil, err
	}
	if fee == nil || fee.Lt(quote) {
		return nil, fmt.Errorf("read fee below quote %s", quote.Dec())
	}

	payload, err := t.read(reqs)
	if err != nil {
		return nil, err
	}
	if opts.ResponseSize > 0 && len(payload) != int(opts.ResponseSize) {
		return nil, fmt.Errorf(
			"response of %d bytes does not match expected size %d", len(payload), opts.ResponseSize,
		)
	}

	id := uuid.New()
	res := response{
		requestID: crypto.Keccak256Hash(id[:]),
		timestamp: t.network.clock.Now().Unix(),
		payload:   payload,
	}

	t.lock.Lock()
	handler := t.handler
	if !t.autoDeliver {
		t.pending = append(t.pending, res)
	}
	t.lock.Unlock()

	if t.autoDeliver && handler != nil {
		go func() {
			if err := handler(
				context.Background(), res.requestID, res.timestamp, res.payload,
			); err != nil {
				log.WithError(err).Warnf("failed to deliver read response %s", res.requestID.Hex())
			}
		}()
	}

	return &ports.ReadReceipt{RequestID: res.requestID, Fee: fee.Clone()}, nil
}

// Pending returns the ids of the responses not yet delivered.
func (t *Transport) Pending() []common.Hash {
	t.lock.Lock()
	defer t.lock.Unlock()

	ids := make([]common.Hash, 0, len(t.pending))
	for _, res := range t.pending {
		ids = append(ids, res.requestID)
	}
	return ids
}

// Deliver hands every pending response to the handler, in sending order, and
// returns the first handler error.
func (t *Transport) Deliver(ctx context.Context) error {
	t.lock.Lock()
	handler := t.handler
	pending := t.pending
	t.pending = nil
	t.lock.Unlock()

	if handler == nil {
		return fmt.Errorf("no response handler registered")
	}
	for _, res := range pending {
		if err := handler(ctx, res.requestID, res.timestamp, res.payload); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) read(reqs []ports.ReadRequest) ([]byte, error) {
	args := make(abi.Arguments, 0, len(reqs))
	values := make([]any, 0, len(reqs))
	for _, req := range reqs {
		var (
			value *uint256.Int
			err   error
		)
		switch req.Method {
		case ports.ReadClaimableFees:
			value, err = t.network.ClaimableFees(req.ChainID, req.Target, req.Token)
		case ports.ReadBalanceOf:
			value, err = t.network.BalanceOf(req.ChainID, req.Token, req.Account)
		case ports.ReadTotalSupply:
			value, err = t.network.TotalSupply(req.ChainID, req.Token)
		default:
			err = fmt.Errorf("unsupported read method %s", req.Method)
		}
		if err != nil {
			return nil, err
		}
		args = append(args, abi.Argument{Type: uint256Type})
		values = append(values, value.ToBig())
	}
	return args.Pack(values...)
}
