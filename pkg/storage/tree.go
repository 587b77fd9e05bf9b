package storage

import (
	"context"
	"math/big"
	"math/bits"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/allsmog/zkaudit-go/pkg/crypto/hash"
	"github.com/allsmog/zkaudit-go/pkg/whitelist"
)

// WhitelistTree is an in-memory copy of the ledger's whitelist contract:
// leaves are appended left to right, a leaf holds the canonical key, an
// empty leaf holds 0 and an inner node holds H(left, right). It implements
// whitelist.Accessor and whitelist.Snapshotter.
type WhitelistTree struct {
	hasher hash.Hasher
	height uint
	log    *zap.Logger

	mu    sync.RWMutex
	nodes map[uint64]*big.Int
	index map[string]uint64
	next  uint64     // next free leaf
	zero  []*big.Int // zero[d] is the value of an empty node at depth d
}

// NewWhitelistTree creates an empty tree of the given height.
func NewWhitelistTree(h hash.Hasher, height uint, log *zap.Logger) (*WhitelistTree, error) {
	if height == 0 || height > whitelist.MaxHeight {
		return nil, errors.Wrapf(whitelist.ErrInvalidHeight, "%d", height)
	}
	if log == nil {
		log = zap.NewNop()
	}

	zero := make([]*big.Int, height+1)
	zero[height] = new(big.Int)
	for d := int(height) - 1; d >= 0; d-- {
		v, err := h.Hash(zero[d+1], zero[d+1])
		if err != nil {
			return nil, errors.Wrapf(err, "hashing empty level %d", d)
		}
		zero[d] = v
	}

	return &WhitelistTree{
		hasher: h,
		height: height,
		log:    log,
		nodes:  make(map[uint64]*big.Int),
		index:  make(map[string]uint64),
		zero:   zero,
	}, nil
}

// Height returns the tree height.
func (t *WhitelistTree) Height() uint {
	return t.height
}

// Insert whitelists key in the next free leaf and returns its leaf index.
func (t *WhitelistTree) Insert(key *big.Int) (uint64, error) {
	k := whitelist.Canonicalize(key)
	if k.Sign() == 0 {
		return 0, errors.Wrap(ErrInvalidKey, "zero marks an empty leaf")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.index[k.String()]; ok {
		return 0, errors.Wrapf(ErrAlreadyWhitelisted, "key %s", k.Text(16))
	}

	first := whitelist.FirstLeafIndex(t.height)
	if t.next > first {
		return 0, ErrTreeFull
	}

	leaf := t.next
	nodeIndex := first + leaf
	if err := t.update(nodeIndex, k); err != nil {
		return 0, err
	}
	t.index[k.String()] = nodeIndex
	t.next++

	t.log.Info("whitelisted key", zap.Uint64("leafIndex", leaf), zap.String("root", t.root().Text(16)))
	return leaf, nil
}

// Remove clears the key's leaf. The slot is not reused.
func (t *WhitelistTree) Remove(key *big.Int) error {
	k := whitelist.Canonicalize(key)

	t.mu.Lock()
	defer t.mu.Unlock()

	nodeIndex, ok := t.index[k.String()]
	if !ok {
		return errors.Wrapf(whitelist.ErrKeyNotWhitelisted, "key %s", k.Text(16))
	}
	if err := t.update(nodeIndex, new(big.Int)); err != nil {
		return err
	}
	delete(t.index, k.String())

	t.log.Info("removed key", zap.Uint64("nodeIndex", nodeIndex), zap.String("root", t.root().Text(16)))
	return nil
}

// NodeIndex implements L(key); absent keys map to 0.
func (t *WhitelistTree) NodeIndex(_ context.Context, key *big.Int) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.index[whitelist.Canonicalize(key).String()], nil
}

// Node implements M(i).
func (t *WhitelistTree) Node(_ context.Context, i uint64) (*big.Int, error) {
	if i > 2*whitelist.FirstLeafIndex(t.height) {
		return nil, errors.Wrapf(whitelist.ErrInvalidNodeIndex, "%d", i)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.node(i)), nil
}

// Root returns M(0).
func (t *WhitelistTree) Root() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.root())
}

// Len returns the number of whitelisted keys.
func (t *WhitelistTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

// Snapshot returns a frozen copy of the current tree.
func (t *WhitelistTree) Snapshot(context.Context) (whitelist.Accessor, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cp := &WhitelistTree{
		hasher: t.hasher,
		height: t.height,
		log:    t.log,
		nodes:  make(map[uint64]*big.Int, len(t.nodes)),
		index:  make(map[string]uint64, len(t.index)),
		next:   t.next,
		zero:   t.zero,
	}
	for k, v := range t.nodes {
		cp.nodes[k] = v
	}
	for k, v := range t.index {
		cp.index[k] = v
	}
	return cp, nil
}

func (t *WhitelistTree) root() *big.Int {
	return t.node(0)
}

func (t *WhitelistTree) node(i uint64) *big.Int {
	if v, ok := t.nodes[i]; ok {
		return v
	}
	return t.zero[bits.Len64(i+1)-1]
}

// update writes a leaf and rehashes its ancestors. Stored values are never
// mutated in place so snapshots can share them.
func (t *WhitelistTree) update(nodeIndex uint64, value *big.Int) error {
	t.nodes[nodeIndex] = value

	for idx := nodeIndex; idx > 0; {
		_, parent := whitelist.SiblingAndParent(idx)
		v, err := t.hasher.Hash(t.node(2*parent+1), t.node(2*parent+2))
		if err != nil {
			return errors.Wrapf(err, "hashing node %d", parent)
		}
		t.nodes[parent] = v
		idx = parent
	}
	return nil
}
