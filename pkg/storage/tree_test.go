package storage

import (
	"context"
	"math/big"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allsmog/zkaudit-go/pkg/crypto/hash"
	"github.com/allsmog/zkaudit-go/pkg/whitelist"
)

func newTree(t *testing.T, height uint) *WhitelistTree {
	t.Helper()
	tree, err := NewWhitelistTree(hash.MiMC{}, height, nil)
	require.NoError(t, err)
	return tree
}

func TestWhitelistTreeInsert(t *testing.T) {
	ctx := context.Background()
	tree := newTree(t, 3)
	emptyRoot := tree.Root()

	for i := int64(1); i <= 3; i++ {
		leaf, err := tree.Insert(big.NewInt(100 + i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i-1), leaf)
	}
	assert.Equal(t, 3, tree.Len())
	assert.NotEqual(t, 0, emptyRoot.Cmp(tree.Root()))

	idx, err := tree.NodeIndex(ctx, big.NewInt(103))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), idx)

	v, err := tree.Node(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(103), v.Int64())

	idx, err = tree.NodeIndex(ctx, big.NewInt(999))
	require.NoError(t, err)
	assert.Zero(t, idx)

	_, err = tree.Insert(big.NewInt(101))
	assert.True(t, errors.Is(err, ErrAlreadyWhitelisted))

	_, err = tree.Insert(big.NewInt(0))
	assert.True(t, errors.Is(err, ErrInvalidKey))
	_, err = tree.Insert(nil)
	assert.True(t, errors.Is(err, ErrInvalidKey))
	assert.True(t, errors.Is(tree.Remove(nil), whitelist.ErrKeyNotWhitelisted))

	_, err = tree.Node(ctx, 15)
	assert.True(t, errors.Is(err, whitelist.ErrInvalidNodeIndex))
}

func TestWhitelistTreeFull(t *testing.T) {
	tree := newTree(t, 1)

	_, err := tree.Insert(big.NewInt(1))
	require.NoError(t, err)
	_, err = tree.Insert(big.NewInt(2))
	require.NoError(t, err)

	_, err = tree.Insert(big.NewInt(3))
	assert.True(t, errors.Is(err, ErrTreeFull))
}

func TestWhitelistTreePathsVerify(t *testing.T) {
	ctx := context.Background()
	tree := newTree(t, 4)

	keys := []*big.Int{big.NewInt(11), big.NewInt(22), big.NewInt(33), big.NewInt(44), big.NewInt(55)}
	for _, k := range keys {
		_, err := tree.Insert(k)
		require.NoError(t, err)
	}

	c, err := whitelist.NewClient(tree, 4)
	require.NoError(t, err)

	for i, k := range keys {
		path, err := c.MembershipPath(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), path.LeafIndex)
		assert.Len(t, path.Nodes, 5)
		assert.Equal(t, 0, path.Root().Cmp(tree.Root()))
		assert.NoError(t, whitelist.VerifyPath(hash.MiMC{}, whitelist.Canonicalize(k), path))
	}
}

func TestWhitelistTreeRemove(t *testing.T) {
	ctx := context.Background()
	tree := newTree(t, 3)
	empty := tree.Root()

	_, err := tree.Insert(big.NewInt(5))
	require.NoError(t, err)
	require.NoError(t, tree.Remove(big.NewInt(5)))
	assert.Equal(t, 0, empty.Cmp(tree.Root()), "clearing the only leaf restores the empty root")

	c, err := whitelist.NewClient(tree, 3)
	require.NoError(t, err)
	_, err = c.MembershipPath(ctx, big.NewInt(5))
	assert.True(t, errors.Is(err, whitelist.ErrKeyNotWhitelisted))

	err = tree.Remove(big.NewInt(5))
	assert.True(t, errors.Is(err, whitelist.ErrKeyNotWhitelisted))

	leaf, err := tree.Insert(big.NewInt(6))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), leaf, "removed slots are not reused")
}

func TestWhitelistTreeSnapshot(t *testing.T) {
	ctx := context.Background()
	tree := newTree(t, 3)
	_, err := tree.Insert(big.NewInt(1))
	require.NoError(t, err)

	snap, err := tree.Snapshot(ctx)
	require.NoError(t, err)
	before, err := snap.Node(ctx, 0)
	require.NoError(t, err)

	_, err = tree.Insert(big.NewInt(2))
	require.NoError(t, err)

	after, err := snap.Node(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, before.Cmp(after), "snapshot must not see later inserts")
	assert.NotEqual(t, 0, before.Cmp(tree.Root()))

	idx, err := snap.NodeIndex(ctx, big.NewInt(2))
	require.NoError(t, err)
	assert.Zero(t, idx)
}

func TestWhitelistTreeStalePathDetected(t *testing.T) {
	ctx := context.Background()
	tree := newTree(t, 3)
	_, err := tree.Insert(big.NewInt(1))
	require.NoError(t, err)

	c, err := whitelist.NewClient(tree, 3)
	require.NoError(t, err)
	path, err := c.MembershipPath(ctx, big.NewInt(1))
	require.NoError(t, err)

	// a sibling changes after the root was read
	_, err = tree.Insert(big.NewInt(2))
	require.NoError(t, err)
	sib, err := tree.Node(ctx, path.NodeIndex+1)
	require.NoError(t, err)
	path.Nodes[1] = sib

	err = whitelist.VerifyPath(hash.MiMC{}, big.NewInt(1), path)
	assert.True(t, errors.Is(err, whitelist.ErrStalePath))
}
