// Package eventlog recovers the hidden values of mined transactions from
// their public inputs.
//
// Every transaction kind logs its public-input array with the compressed
// ciphertext at a fixed offset. Recovering a value takes three steps:
// decompress the points, remove the authority mask, then search the bounded
// message domain for m with m*G equal to the result.
package eventlog

import (
	"context"
	"math/big"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
	"github.com/allsmog/zkaudit-go/pkg/crypto/dlog"
	"github.com/allsmog/zkaudit-go/pkg/crypto/elgamal"
)

// Kind names a transaction type.
type Kind string

const (
	Deposit  Kind = "deposit"
	Transfer Kind = "transfer"
	Withdraw Kind = "withdraw"
)

// Field names a hidden value carried by a ciphertext.
type Field string

const (
	Amount      Field = "amount"
	SenderID    Field = "senderID"
	RecipientID Field = "recipientID"
)

var (
	ErrUnknownKind    = errors.New("unknown transaction kind")
	ErrMalformedEvent = errors.New("malformed event payload")
	ErrNoFieldCodec   = errors.New("curve points do not pack into field elements")
)

// Layout locates the ciphertext within a public-input array. Inputs[Start]
// is the ephemeral point; the masked points follow in Fields order up to End.
type Layout struct {
	Start  int
	End    int
	Fields []Field
}

// Len returns the number of ciphertext points.
func (l Layout) Len() int {
	return l.End - l.Start
}

func (l Layout) validate() error {
	if l.Start < 0 || l.End-l.Start != len(l.Fields)+1 {
		return errors.Wrapf(ErrMalformedEvent, "layout [%d,%d) for %d fields", l.Start, l.End, len(l.Fields))
	}
	return nil
}

// DefaultLayouts are the public-input layouts of the three transaction kinds:
//
//	deposit:  commitment, whitelistRoot, R, C(amount), C(recipientID), ...
//	transfer: commitment, nullifier, whitelistRoot, R, C(amount), C(senderID), C(recipientID), ...
//	withdraw: nullifier, whitelistRoot, R, C(amount), C(senderID), ...
//
// Whitelist paths of the participants follow the ciphertext.
func DefaultLayouts() map[Kind]Layout {
	return map[Kind]Layout{
		Deposit:  {Start: 2, End: 5, Fields: []Field{Amount, RecipientID}},
		Transfer: {Start: 3, End: 7, Fields: []Field{Amount, SenderID, RecipientID}},
		Withdraw: {Start: 2, End: 5, Fields: []Field{Amount, SenderID}},
	}
}

// Bounds are the exclusive upper bounds of the plaintext domains.
type Bounds struct {
	Amount int64
	KeyID  int64
}

// DefaultBounds covers 16-bit amounts and a height-20 whitelist.
var DefaultBounds = Bounds{Amount: 1 << 16, KeyID: 1 << 20}

func (b Bounds) of(f Field) int64 {
	if f == Amount {
		return b.Amount
	}
	return b.KeyID
}

// Event is one logged transaction.
type Event struct {
	Kind         Kind       `json:"kind"`
	TxHash       string     `json:"txHash,omitempty"`
	PublicInputs []*big.Int `json:"publicInputs"`
}

// Record holds the recovered values of one event.
type Record struct {
	Kind   Kind               `json:"kind"`
	TxHash string             `json:"txHash,omitempty"`
	Values map[Field]*big.Int `json:"values"`
}

// Result pairs a batch entry with its outcome.
type Result struct {
	Record *Record
	Err    error
}

// Option configures a Decryptor.
type Option func(*Decryptor)

// WithLayouts replaces the default layouts.
func WithLayouts(layouts map[Kind]Layout) Option {
	return func(d *Decryptor) {
		d.layouts = layouts
	}
}

// WithBounds sets the plaintext domain bounds.
func WithBounds(b Bounds) Option {
	return func(d *Decryptor) {
		d.bounds = b
	}
}

// WithMaxIterations bounds each discrete-log search.
func WithMaxIterations(n uint64) Option {
	return func(d *Decryptor) {
		d.maxIterations = n
	}
}

// WithWorkers sets the batch pool size.
func WithWorkers(n int) Option {
	return func(d *Decryptor) {
		d.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Decryptor) {
		d.log = log
	}
}

// Decryptor turns event payloads into records using the authority shares
// currently installed in its Authority.
type Decryptor struct {
	authority     *elgamal.Authority
	codec         curve.FieldCodec
	layouts       map[Kind]Layout
	bounds        Bounds
	maxIterations uint64
	workers       int
	log           *zap.Logger
}

// NewDecryptor returns a decryptor for the authority's curve, which must
// implement curve.FieldCodec.
func NewDecryptor(authority *elgamal.Authority, opts ...Option) (*Decryptor, error) {
	codec, ok := authority.Curve().(curve.FieldCodec)
	if !ok {
		return nil, errors.Wrapf(ErrNoFieldCodec, "%s", authority.Curve().Name())
	}

	d := &Decryptor{
		authority: authority,
		codec:     codec,
		layouts:   DefaultLayouts(),
		bounds:    DefaultBounds,
		workers:   4,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	for kind, l := range d.layouts {
		if err := l.validate(); err != nil {
			return nil, errors.Wrapf(err, "%s", kind)
		}
	}
	if d.workers < 1 {
		d.workers = 1
	}
	return d, nil
}

// Layout returns the layout of kind.
func (d *Decryptor) Layout(kind Kind) (Layout, bool) {
	l, ok := d.layouts[kind]
	return l, ok
}

// Ciphertext extracts and decompresses the ciphertext of ev.
func (d *Decryptor) Ciphertext(ev Event) (elgamal.Ciphertext, Layout, error) {
	l, ok := d.layouts[ev.Kind]
	if !ok {
		return nil, Layout{}, errors.Wrapf(ErrUnknownKind, "%q", ev.Kind)
	}
	if len(ev.PublicInputs) < l.End {
		return nil, l, errors.Wrapf(ErrMalformedEvent, "%s needs %d public inputs, got %d", ev.Kind, l.End, len(ev.PublicInputs))
	}

	ct := make(elgamal.Ciphertext, 0, l.Len())
	for i := l.Start; i < l.End; i++ {
		if ev.PublicInputs[i] == nil {
			return nil, l, errors.Wrapf(ErrMalformedEvent, "public input %d missing", i)
		}
		p, err := d.codec.DecompressPoint(ev.PublicInputs[i])
		if err != nil {
			return nil, l, errors.Wrapf(errors.Join(ErrMalformedEvent, err), "public input %d", i)
		}
		ct = append(ct, p)
	}
	return ct, l, nil
}

// Decrypt recovers the hidden values of one event.
func (d *Decryptor) Decrypt(ctx context.Context, ev Event) (*Record, error) {
	ct, l, err := d.Ciphertext(ev)
	if err != nil {
		return nil, err
	}

	points, err := d.authority.Decrypt(ct)
	if err != nil {
		return nil, err
	}

	crv := d.authority.Curve()
	rec := &Record{Kind: ev.Kind, TxHash: ev.TxHash, Values: make(map[Field]*big.Int, len(l.Fields))}
	for i, f := range l.Fields {
		v, err := dlog.BruteForce(ctx, crv, points[i], dlog.Range(d.bounds.of(f)), dlog.WithMaxIterations(d.maxIterations))
		if err != nil {
			return nil, errors.Wrapf(err, "recovering %s", f)
		}
		rec.Values[f] = v
	}

	d.log.Debug("decrypted event", zap.String("kind", string(ev.Kind)), zap.String("tx", ev.TxHash))
	return rec, nil
}

// DecryptBatch decrypts events concurrently. Results are in input order;
// a failing event does not stop the others.
func (d *Decryptor) DecryptBatch(ctx context.Context, events []Event) ([]Result, error) {
	pool, err := ants.NewPool(d.workers)
	if err != nil {
		return nil, errors.Wrap(err, "creating worker pool")
	}
	defer pool.Release()

	results := make([]Result, len(events))
	var wg sync.WaitGroup
	for i := range events {
		i := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			rec, err := d.Decrypt(ctx, events[i])
			results[i] = Result{Record: rec, Err: err}
		}); err != nil {
			wg.Done()
			results[i] = Result{Err: errors.Wrap(err, "submitting event")}
		}
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	d.log.Info("decrypted batch", zap.Int("events", len(events)), zap.Int("failed", failed))
	return results, nil
}
