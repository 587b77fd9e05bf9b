// Package transfer assembles the public inputs of deposit, transfer and
// withdraw transactions: commitments and nullifiers, the whitelist root and
// paths of the participants, and the compressed authority ciphertext of the
// hidden values.
//
// The resulting list is handed to the external prover as-is; its layout is
// the one package eventlog reads back.
package transfer

import (
	"context"
	"math/big"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
	"github.com/allsmog/zkaudit-go/pkg/crypto/elgamal"
	"github.com/allsmog/zkaudit-go/pkg/crypto/hash"
	"github.com/allsmog/zkaudit-go/pkg/eventlog"
	"github.com/allsmog/zkaudit-go/pkg/whitelist"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrRootMismatch  = errors.Wrap(whitelist.ErrStalePath, "participant paths disagree on the whitelist root")
)

// Request describes one transaction. Sender is unused for deposits and
// Recipient for withdrawals.
type Request struct {
	Kind      eventlog.Kind
	Amount    *big.Int
	Sender    curve.Point
	Recipient curve.Point

	// Salt blinds the output commitment.
	Salt *big.Int
	// NoteSecret is the secret of the spent note; it derives the nullifier.
	NoteSecret *big.Int
	// Randomness overrides the encryption nonce. Nil draws a fresh one.
	Randomness curve.Scalar
}

// Inputs are the public inputs of one transaction.
type Inputs struct {
	Kind       eventlog.Kind
	Values     []*big.Int
	Ciphertext elgamal.Ciphertext
	Commitment *big.Int // nil for withdrawals
	Nullifier  *big.Int // nil for deposits
	Root       *big.Int
	Paths      map[eventlog.Field]*whitelist.Path
	// Hash is the combined public-inputs hash, SHA-256 reduced mod p.
	Hash *big.Int
}

// Event returns the inputs in the form they are logged.
func (in *Inputs) Event(txHash string) eventlog.Event {
	values := make([]*big.Int, len(in.Values))
	copy(values, in.Values)
	return eventlog.Event{Kind: in.Kind, TxHash: txHash, PublicInputs: values}
}

// Builder assembles public inputs against one whitelist and authority set.
type Builder struct {
	authority *elgamal.Authority
	codec     curve.FieldCodec
	hasher    hash.Hasher
	paths     *whitelist.Client
	layouts   map[eventlog.Kind]eventlog.Layout
	log       *zap.Logger
}

// NewBuilder returns a builder. The authority curve must implement
// curve.FieldCodec.
func NewBuilder(authority *elgamal.Authority, hasher hash.Hasher, paths *whitelist.Client, log *zap.Logger) (*Builder, error) {
	codec, ok := authority.Curve().(curve.FieldCodec)
	if !ok {
		return nil, errors.Wrapf(eventlog.ErrNoFieldCodec, "%s", authority.Curve().Name())
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Builder{
		authority: authority,
		codec:     codec,
		hasher:    hasher,
		paths:     paths,
		layouts:   eventlog.DefaultLayouts(),
		log:       log,
	}, nil
}

// WhitelistKey returns the field-element key a participant is whitelisted
// under: its compressed point, canonicalized.
func (b *Builder) WhitelistKey(pk curve.Point) (*big.Int, error) {
	v, err := b.codec.CompressPoint(pk)
	if err != nil {
		return nil, err
	}
	return whitelist.Canonicalize(v), nil
}

// Build assembles the public inputs of req.
func (b *Builder) Build(ctx context.Context, req Request) (*Inputs, error) {
	layout, ok := b.layouts[req.Kind]
	if !ok {
		return nil, errors.Wrapf(eventlog.ErrUnknownKind, "%q", req.Kind)
	}
	if req.Amount == nil || req.Amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	in := &Inputs{Kind: req.Kind, Paths: make(map[eventlog.Field]*whitelist.Path)}

	// participants in ciphertext order
	messages := []*big.Int{req.Amount}
	var siblings []*big.Int
	for _, f := range layout.Fields[1:] {
		pk := req.Recipient
		if f == eventlog.SenderID {
			pk = req.Sender
		}
		if pk == nil {
			return nil, errors.Wrapf(curve.ErrInvalidPoint, "%s missing", f)
		}

		key, err := b.WhitelistKey(pk)
		if err != nil {
			return nil, errors.Wrapf(err, "%s key", f)
		}
		path, err := b.paths.MembershipPath(ctx, key)
		if err != nil {
			return nil, errors.Wrapf(err, "%s path", f)
		}
		if err := whitelist.VerifyPath(b.hasher, key, path); err != nil {
			return nil, errors.Wrapf(err, "%s path", f)
		}

		if in.Root == nil {
			in.Root = path.Root()
		} else if in.Root.Cmp(path.Root()) != 0 {
			return nil, errors.Wrapf(ErrRootMismatch, "%s path", f)
		}

		in.Paths[f] = path
		messages = append(messages, new(big.Int).SetUint64(path.LeafIndex))
		siblings = append(siblings, path.Siblings()...)
	}

	r := req.Randomness
	if r == nil {
		var err error
		if r, err = elgamal.RandomScalar(b.authority.Curve()); err != nil {
			return nil, err
		}
	}
	ct, err := b.authority.Encrypt(r, messages...)
	if err != nil {
		return nil, errors.Wrap(err, "encrypting")
	}
	in.Ciphertext = ct

	var head []*big.Int
	switch req.Kind {
	case eventlog.Deposit:
		if in.Commitment, err = b.commitment(req, req.Recipient); err != nil {
			return nil, err
		}
		head = []*big.Int{in.Commitment}
	case eventlog.Transfer:
		if in.Commitment, err = b.commitment(req, req.Recipient); err != nil {
			return nil, err
		}
		if in.Nullifier, err = b.nullifier(req); err != nil {
			return nil, err
		}
		head = []*big.Int{in.Commitment, in.Nullifier}
	case eventlog.Withdraw:
		if in.Nullifier, err = b.nullifier(req); err != nil {
			return nil, err
		}
		head = []*big.Int{in.Nullifier}
	}
	head = append(head, in.Root)
	if len(head) != layout.Start {
		return nil, errors.AssertionFailedf("%s head has %d inputs, layout starts at %d", req.Kind, len(head), layout.Start)
	}

	values := make([]*big.Int, 0, layout.End+len(siblings))
	values = append(values, head...)
	for i, p := range ct {
		v, err := b.codec.CompressPoint(p)
		if err != nil {
			return nil, errors.Wrapf(err, "compressing ciphertext point %d", i)
		}
		values = append(values, v)
	}
	values = append(values, siblings...)
	in.Values = values

	if in.Hash, err = (hash.SHA256{}).Hash(values...); err != nil {
		return nil, errors.Wrap(err, "hashing public inputs")
	}

	b.log.Debug("built public inputs", zap.String("kind", string(req.Kind)), zap.Int("inputs", len(values)))
	return in, nil
}

// commitment is H(amount, recipientKey, salt).
func (b *Builder) commitment(req Request, recipient curve.Point) (*big.Int, error) {
	if req.Salt == nil {
		return nil, errors.New("commitment salt required")
	}
	key, err := b.WhitelistKey(recipient)
	if err != nil {
		return nil, err
	}
	c, err := b.hasher.Hash(req.Amount, key, req.Salt)
	return c, errors.Wrap(err, "hashing commitment")
}

// nullifier is H(noteSecret, senderKey).
func (b *Builder) nullifier(req Request) (*big.Int, error) {
	if req.NoteSecret == nil {
		return nil, errors.New("note secret required")
	}
	key, err := b.WhitelistKey(req.Sender)
	if err != nil {
		return nil, err
	}
	n, err := b.hasher.Hash(req.NoteSecret, key)
	return n, errors.Wrap(err, "hashing nullifier")
}
