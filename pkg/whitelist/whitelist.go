// Package whitelist reads membership paths from the ledger's whitelist tree.
//
// The tree is a complete binary tree of height H stored as a flat heap:
// node 0 is the root, the children of i are 2i+1 and 2i+2, and the leaves
// occupy [2^H-1, 2^(H+1)-2]. The ledger exposes two reads: L(key), the heap
// index of a whitelisted key, and M(i), the value stored at index i.
package whitelist

import (
	"context"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/allsmog/zkaudit-go/pkg/crypto/hash"
)

// MaxHeight bounds the tree height so heap indices fit in a uint64.
const MaxHeight = 62

var (
	// ErrKeyNotWhitelisted means L(key) points above the leaf level.
	ErrKeyNotWhitelisted = errors.New("key is not whitelisted")

	// ErrInvalidNodeIndex means L(key) points past the last leaf.
	ErrInvalidNodeIndex = errors.New("node index outside the tree")

	// ErrStalePath means the path does not hash to its root, usually because
	// the tree changed between reads.
	ErrStalePath = errors.New("path does not match root")

	ErrInvalidHeight = errors.New("invalid tree height")
)

// Accessor is the read-only view of the ledger tree.
type Accessor interface {
	// NodeIndex is L(key). Keys that were never inserted map to 0.
	NodeIndex(ctx context.Context, key *big.Int) (uint64, error)

	// Node is M(i).
	Node(ctx context.Context, index uint64) (*big.Int, error)
}

// Snapshotter is implemented by accessors that can pin every read to one
// tree state.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Accessor, error)
}

// SiblingAndParent returns the sibling and parent heap indices of a non-root
// node. Left children have odd indices.
func SiblingAndParent(index uint64) (sibling, parent uint64) {
	if index%2 == 0 {
		return index - 1, (index - 1) / 2
	}
	return index + 1, index / 2
}

// FirstLeafIndex returns 2^H - 1.
func FirstLeafIndex(height uint) uint64 {
	return (uint64(1) << height) - 1
}

// Canonicalize reduces a key modulo the field modulus. A nil key reads as
// zero, the empty-leaf value.
func Canonicalize(key *big.Int) *big.Int {
	if key == nil {
		return new(big.Int)
	}
	return new(big.Int).Mod(key, fr.Modulus())
}

// KeyBytes returns the canonical key as a 32-byte big-endian field element.
func KeyBytes(key *big.Int) []byte {
	return Canonicalize(key).FillBytes(make([]byte, fr.Bytes))
}

// Path is a membership proof for one leaf.
type Path struct {
	// LeafIndex is the 0-based position among the leaves.
	LeafIndex uint64
	// NodeIndex is the heap index of the leaf.
	NodeIndex uint64
	// Nodes holds the root at 0, then the siblings from the leaf upward.
	Nodes []*big.Int
}

// Root returns Nodes[0].
func (p *Path) Root() *big.Int {
	if p == nil || len(p.Nodes) == 0 {
		return nil
	}
	return p.Nodes[0]
}

// Siblings returns Nodes[1:].
func (p *Path) Siblings() []*big.Int {
	if p == nil || len(p.Nodes) == 0 {
		return nil
	}
	return p.Nodes[1:]
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for path lookups.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// Client computes membership paths against an Accessor.
type Client struct {
	accessor Accessor
	height   uint
	log      *zap.Logger
}

// NewClient returns a client for a tree of the given height.
func NewClient(accessor Accessor, height uint, opts ...Option) (*Client, error) {
	if height == 0 || height > MaxHeight {
		return nil, errors.Wrapf(ErrInvalidHeight, "%d", height)
	}

	c := &Client{accessor: accessor, height: height, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Height returns the tree height.
func (c *Client) Height() uint {
	return c.height
}

// MembershipPath returns the leaf index of key and its sibling path.
func (c *Client) MembershipPath(ctx context.Context, key *big.Int) (*Path, error) {
	if key == nil {
		return nil, errors.Wrap(ErrKeyNotWhitelisted, "nil key")
	}
	acc := c.accessor
	if s, ok := acc.(Snapshotter); ok {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "pinning tree snapshot")
		}
		acc = snap
	}

	k := Canonicalize(key)
	nodeIndex, err := acc.NodeIndex(ctx, k)
	if err != nil {
		return nil, errors.Wrap(err, "reading node index")
	}

	first := FirstLeafIndex(c.height)
	if nodeIndex < first {
		return nil, errors.Wrapf(ErrKeyNotWhitelisted, "key %s", k.Text(16))
	}
	if nodeIndex > 2*first {
		return nil, errors.Wrapf(ErrInvalidNodeIndex, "%d for height %d", nodeIndex, c.height)
	}

	indices := make([]uint64, c.height+1)
	for level, idx := 1, nodeIndex; idx > 0; level++ {
		sibling, parent := SiblingAndParent(idx)
		indices[level] = sibling
		idx = parent
	}

	nodes := make([]*big.Int, len(indices))
	g, gctx := errgroup.WithContext(ctx)
	for i, idx := range indices {
		i, idx := i, idx
		g.Go(func() error {
			v, err := acc.Node(gctx, idx)
			if err != nil {
				return errors.Wrapf(err, "reading node %d", idx)
			}
			nodes[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.log.Debug("membership path",
		zap.Uint64("nodeIndex", nodeIndex),
		zap.Uint64("leafIndex", nodeIndex-first),
		zap.Uint64s("indices", indices),
	)

	return &Path{
		LeafIndex: nodeIndex - first,
		NodeIndex: nodeIndex,
		Nodes:     nodes,
	}, nil
}

// ComputeRoot folds leaf up the tree along the siblings of path.
func ComputeRoot(h hash.Hasher, leaf *big.Int, path *Path) (*big.Int, error) {
	cur := leaf
	idx := path.NodeIndex
	for _, sib := range path.Siblings() {
		if idx == 0 {
			return nil, errors.Wrap(ErrInvalidNodeIndex, "path longer than the tree")
		}

		var err error
		if idx%2 == 1 {
			cur, err = h.Hash(cur, sib)
		} else {
			cur, err = h.Hash(sib, cur)
		}
		if err != nil {
			return nil, err
		}
		_, idx = SiblingAndParent(idx)
	}
	if idx != 0 {
		return nil, errors.Wrap(ErrInvalidNodeIndex, "path shorter than the tree")
	}
	return cur, nil
}

// VerifyPath checks that leaf and the siblings hash to the path's root.
func VerifyPath(h hash.Hasher, leaf *big.Int, path *Path) error {
	if path == nil || len(path.Nodes) == 0 {
		return errors.Wrap(ErrStalePath, "empty path")
	}

	root, err := ComputeRoot(h, leaf, path)
	if err != nil {
		return err
	}
	if root.Cmp(path.Root()) != 0 {
		return errors.Wrapf(ErrStalePath, "computed %s, path root %s", root.Text(16), path.Root().Text(16))
	}
	return nil
}
