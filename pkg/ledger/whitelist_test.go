package ledger

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allsmog/zkaudit-go/pkg/crypto/hash"
	"github.com/allsmog/zkaudit-go/pkg/storage"
	"github.com/allsmog/zkaudit-go/pkg/whitelist"
)

var contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// fakeChain answers L and M from an in-memory tree, ABI-encoded the way a
// node would.
type fakeChain struct {
	tree *storage.WhitelistTree
	head uint64
	code []byte

	mu     sync.Mutex
	blocks []*big.Int
}

func (f *fakeChain) CodeAt(_ context.Context, _ common.Address, _ *big.Int) ([]byte, error) {
	return f.code, nil
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.blocks = append(f.blocks, block)
	f.mu.Unlock()

	if call.To == nil || *call.To != contractAddr {
		return nil, errors.New("wrong contract")
	}

	for name, method := range whitelistABI.Methods {
		if !bytes.Equal(call.Data[:4], method.ID) {
			continue
		}
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		arg := args[0].(*big.Int)

		var out *big.Int
		switch name {
		case "L":
			idx, err := f.tree.NodeIndex(ctx, arg)
			if err != nil {
				return nil, err
			}
			out = new(big.Int).SetUint64(idx)
		case "M":
			out, err = f.tree.Node(ctx, arg.Uint64())
			if err != nil {
				return nil, err
			}
		}
		return method.Outputs.Pack(out)
	}
	return nil, errors.New("unknown selector")
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func newChain(t *testing.T, keys ...int64) *fakeChain {
	t.Helper()

	tree, err := storage.NewWhitelistTree(hash.MiMC{}, 3, nil)
	require.NoError(t, err)
	for _, k := range keys {
		_, err := tree.Insert(big.NewInt(k))
		require.NoError(t, err)
	}
	return &fakeChain{tree: tree, head: 1234, code: []byte{0x60, 0x80}}
}

func TestWhitelistContractReads(t *testing.T) {
	ctx := context.Background()
	chain := newChain(t, 10, 20, 30)
	c := NewWhitelistContract(chain, contractAddr)

	idx, err := c.NodeIndex(ctx, big.NewInt(30))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), idx)

	v, err := c.Node(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(30), v.Int64())

	root, err := c.Node(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, root.Cmp(chain.tree.Root()))

	idx, err = c.NodeIndex(ctx, big.NewInt(99))
	require.NoError(t, err)
	assert.Zero(t, idx)
}

func TestWhitelistContractMembershipPath(t *testing.T) {
	ctx := context.Background()
	chain := newChain(t, 10, 20, 30)
	c := NewWhitelistContract(chain, contractAddr)

	client, err := whitelist.NewClient(c, 3)
	require.NoError(t, err)

	path, err := client.MembershipPath(ctx, big.NewInt(30))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), path.LeafIndex)
	require.NoError(t, whitelist.VerifyPath(hash.MiMC{}, big.NewInt(30), path))

	// every read of the path is pinned to the head block
	chain.mu.Lock()
	blocks := append([]*big.Int(nil), chain.blocks...)
	chain.mu.Unlock()

	require.NotEmpty(t, blocks)
	for _, b := range blocks {
		require.NotNil(t, b)
		assert.Equal(t, uint64(1234), b.Uint64())
	}

	_, err = client.MembershipPath(ctx, big.NewInt(40))
	assert.ErrorIs(t, err, whitelist.ErrKeyNotWhitelisted)
}

func TestWhitelistContractAtBlock(t *testing.T) {
	chain := newChain(t, 1)
	c := NewWhitelistContract(chain, contractAddr)
	assert.Nil(t, c.Block())

	pinned := c.AtBlock(7)
	assert.Equal(t, uint64(7), pinned.Block().Uint64())
	assert.Nil(t, c.Block(), "AtBlock must not modify the receiver")

	snap, err := pinned.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, pinned, snap)
}

func TestWhitelistContractCheck(t *testing.T) {
	chain := newChain(t)
	c := NewWhitelistContract(chain, contractAddr)
	require.NoError(t, c.Check(context.Background()))

	chain.code = nil
	assert.True(t, errors.Is(c.Check(context.Background()), ErrNoContract))
}

type garbageCaller struct{ fakeChain }

func (g *garbageCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return []byte{1, 2, 3}, nil
}

func TestWhitelistContractBadReply(t *testing.T) {
	c := NewWhitelistContract(&garbageCaller{}, contractAddr)

	_, err := c.Node(context.Background(), 0)
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}
