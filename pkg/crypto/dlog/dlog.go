// Package dlog recovers small integers from their curve encoding m*G by
// searching a bounded candidate domain.
package dlog

import (
	"context"
	"math/big"

	"github.com/cockroachdb/errors"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
)

// checkEvery is how many candidates are tried between context checks.
const checkEvery = 1024

var (
	// ErrNoMatchFound means the domain was exhausted: the bound is wrong or
	// the point was decrypted with the wrong keys.
	ErrNoMatchFound = errors.New("no candidate matches the point")

	// ErrSearchAborted means the iteration budget or the context ended the
	// search before the domain was exhausted.
	ErrSearchAborted = errors.New("discrete log search aborted")
)

// Guesser yields candidate plaintexts in search order.
type Guesser interface {
	// Next returns the next candidate, or false once the sequence is done.
	Next() (*big.Int, bool)
}

type rangeGuesser struct {
	next, end *big.Int
}

// Range returns a fresh sequence 0, 1, ..., n-1.
func Range(n int64) Guesser {
	if n < 0 {
		n = 0
	}
	return &rangeGuesser{next: new(big.Int), end: big.NewInt(n)}
}

// RangeBig is Range for bounds that do not fit an int64.
func RangeBig(n *big.Int) Guesser {
	end := new(big.Int)
	if n != nil && n.Sign() > 0 {
		end.Set(n)
	}
	return &rangeGuesser{next: new(big.Int), end: end}
}

func (g *rangeGuesser) Next() (*big.Int, bool) {
	if g.next.Cmp(g.end) >= 0 {
		return nil, false
	}
	v := new(big.Int).Set(g.next)
	g.next.Add(g.next, big.NewInt(1))
	return v, true
}

type valuesGuesser struct {
	values []*big.Int
	pos    int
}

// Values returns a sequence over an explicit domain, in the given order.
func Values(values ...*big.Int) Guesser {
	vs := make([]*big.Int, len(values))
	copy(vs, values)
	return &valuesGuesser{values: vs}
}

func (g *valuesGuesser) Next() (*big.Int, bool) {
	if g.pos >= len(g.values) {
		return nil, false
	}
	v := g.values[g.pos]
	g.pos++
	return new(big.Int).Set(v), true
}

type options struct {
	maxIterations uint64
}

// Option configures BruteForce.
type Option func(*options)

// WithMaxIterations bounds the number of candidates tried. Zero means no
// bound beyond the guesser itself.
func WithMaxIterations(n uint64) Option {
	return func(o *options) {
		o.maxIterations = n
	}
}

// BruteForce returns the first candidate c from guesses with c*G == target.
func BruteForce(ctx context.Context, crv curve.Curve, target curve.Point, guesses Guesser, opts ...Option) (*big.Int, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	G := crv.ScalarBaseMult(crv.NewScalar(big.NewInt(1)))
	one := big.NewInt(1)

	var (
		prev    *big.Int
		current curve.Point
		tried   uint64
	)
	for {
		c, ok := guesses.Next()
		if !ok {
			return nil, errors.Wrapf(ErrNoMatchFound, "after %d candidates", tried)
		}

		if o.maxIterations > 0 && tried >= o.maxIterations {
			return nil, errors.Wrapf(ErrSearchAborted, "iteration budget of %d spent", o.maxIterations)
		}
		if tried%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrapf(errors.Join(ErrSearchAborted, err), "after %d candidates", tried)
			}
		}
		tried++

		// sequential candidates cost one addition
		if prev != nil && new(big.Int).Sub(c, prev).Cmp(one) == 0 {
			current = crv.Add(current, G)
		} else {
			current = crv.ScalarBaseMult(crv.NewScalar(c))
		}
		prev = c

		if current.Equal(target) {
			return c, nil
		}
	}
}
