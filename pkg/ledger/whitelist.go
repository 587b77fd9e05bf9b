// Package ledger reads the whitelist tree from its on-chain contract.
//
// The contract exposes the tree through two view functions:
//
//	L(uint256 key)   returns (uint256 nodeIndex)
//	M(uint256 index) returns (uint256 value)
//
// WhitelistContract adapts them to whitelist.Accessor. Reads can be pinned to
// a block so that every node of a path comes from the same tree state.
package ledger

import (
	"context"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/allsmog/zkaudit-go/pkg/whitelist"
)

// WhitelistABI is the read-only part of the whitelist contract interface.
const WhitelistABI = `[
	{"type":"function","name":"L","stateMutability":"view",
	 "inputs":[{"name":"key","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"M","stateMutability":"view",
	 "inputs":[{"name":"index","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	ErrNoContract      = errors.New("no contract code at address")
	ErrUnexpectedReply = errors.New("unexpected contract reply")
)

var whitelistABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(WhitelistABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// BlockNumberReader reports the latest block. ethclient.Client implements it.
type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// WhitelistContract is a whitelist.Accessor over the deployed contract.
type WhitelistContract struct {
	caller  bind.ContractCaller
	address common.Address
	block   *big.Int // nil reads the latest state
	log     *zap.Logger
}

// Option configures a WhitelistContract.
type Option func(*WhitelistContract)

// WithLogger sets the logger for contract calls.
func WithLogger(log *zap.Logger) Option {
	return func(c *WhitelistContract) {
		c.log = log
	}
}

// NewWhitelistContract binds the contract at address.
func NewWhitelistContract(caller bind.ContractCaller, address common.Address, opts ...Option) *WhitelistContract {
	c := &WhitelistContract{caller: caller, address: address, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to an RPC endpoint and binds the contract there. The
// returned close function releases the connection.
func Dial(ctx context.Context, url string, address common.Address, opts ...Option) (*WhitelistContract, func(), error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "dialing %s", url)
	}

	c := NewWhitelistContract(client, address, opts...)
	if err := c.Check(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	return c, client.Close, nil
}

// Address returns the contract address.
func (c *WhitelistContract) Address() common.Address {
	return c.address
}

// Block returns the pinned block, or nil when reading the latest state.
func (c *WhitelistContract) Block() *big.Int {
	if c.block == nil {
		return nil
	}
	return new(big.Int).Set(c.block)
}

// Check verifies that code is deployed at the contract address.
func (c *WhitelistContract) Check(ctx context.Context) error {
	code, err := c.caller.CodeAt(ctx, c.address, c.block)
	if err != nil {
		return errors.Wrap(err, "reading contract code")
	}
	if len(code) == 0 {
		return errors.Wrapf(ErrNoContract, "%s", c.address.Hex())
	}
	return nil
}

// AtBlock returns a copy of the binding whose reads are pinned to block n.
func (c *WhitelistContract) AtBlock(n uint64) *WhitelistContract {
	cp := *c
	cp.block = new(big.Int).SetUint64(n)
	return &cp
}

// Snapshot pins reads to the latest block. Without a block source the
// binding is returned unpinned.
func (c *WhitelistContract) Snapshot(ctx context.Context) (whitelist.Accessor, error) {
	if c.block != nil {
		return c, nil
	}

	reader, ok := c.caller.(BlockNumberReader)
	if !ok {
		c.log.Debug("caller cannot report block numbers, reading latest state")
		return c, nil
	}

	n, err := reader.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading block number")
	}
	return c.AtBlock(n), nil
}

// NodeIndex calls L(key).
func (c *WhitelistContract) NodeIndex(ctx context.Context, key *big.Int) (uint64, error) {
	v, err := c.call(ctx, "L", whitelist.Canonicalize(key))
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, errors.Wrapf(whitelist.ErrInvalidNodeIndex, "%s", v)
	}
	return v.Uint64(), nil
}

// Node calls M(index).
func (c *WhitelistContract) Node(ctx context.Context, index uint64) (*big.Int, error) {
	return c.call(ctx, "M", new(big.Int).SetUint64(index))
}

func (c *WhitelistContract) call(ctx context.Context, method string, arg *big.Int) (*big.Int, error) {
	data, err := whitelistABI.Pack(method, arg)
	if err != nil {
		return nil, errors.Wrapf(err, "packing %s", method)
	}

	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, c.block)
	if err != nil {
		return nil, errors.Wrapf(err, "calling %s(%s)", method, arg)
	}

	values, err := whitelistABI.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(errors.Join(ErrUnexpectedReply, err), "unpacking %s", method)
	}
	if len(values) != 1 {
		return nil, errors.Wrapf(ErrUnexpectedReply, "%s returned %d values", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Wrapf(ErrUnexpectedReply, "%s returned %T", method, values[0])
	}

	c.log.Debug("contract call", zap.String("method", method), zap.Stringer("arg", arg), zap.Stringer("block", c.block))
	return v, nil
}
