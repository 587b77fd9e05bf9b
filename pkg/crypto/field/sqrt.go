// Package field provides modular arithmetic helpers that the curve codec
// needs but that no curve library exposes for an arbitrary prime.
package field

import (
	"math/big"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNonResidue is returned when n has no square root modulo p.
	ErrNonResidue = errors.New("not a quadratic residue")

	// ErrInvalidModulus is returned for moduli that cannot be an odd prime or 2.
	ErrInvalidModulus = errors.New("invalid prime modulus")
)

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

// SqrtModPrime returns r such that r² ≡ n (mod p).
//
// Of the two roots {r, p-r} the smaller one is returned; callers that need
// the other root compute p - r. p must be prime. Primes with p ≡ 3 (mod 4)
// use the exponentiation shortcut, every other odd prime goes through
// Tonelli-Shanks.
func SqrtModPrime(n, p *big.Int) (*big.Int, error) {
	if p == nil || p.Cmp(two) < 0 {
		return nil, errors.Wrapf(ErrInvalidModulus, "modulus %v", p)
	}

	a := new(big.Int).Mod(n, p)
	if a.Sign() == 0 || p.Cmp(two) == 0 {
		return a, nil
	}
	if p.Bit(0) == 0 {
		return nil, errors.Wrapf(ErrInvalidModulus, "even modulus %s", p)
	}

	if big.Jacobi(a, p) != 1 {
		return nil, errors.Wrapf(ErrNonResidue, "%s mod %s", a, p)
	}

	var r *big.Int
	if p.Bit(1) == 1 {
		// p ≡ 3 (mod 4): r = a^((p+1)/4)
		e := new(big.Int).Add(p, one)
		e.Rsh(e, 2)
		r = new(big.Int).Exp(a, e, p)
	} else {
		var err error
		if r, err = tonelliShanks(a, p); err != nil {
			return nil, err
		}
	}

	if alt := new(big.Int).Sub(p, r); alt.Cmp(r) < 0 {
		r = alt
	}
	return r, nil
}

// tonelliShanks expects a to be a non-zero quadratic residue mod p.
func tonelliShanks(a, p *big.Int) (*big.Int, error) {
	// p - 1 = q * 2^s with q odd
	q := new(big.Int).Sub(p, one)
	s := 0
	for q.Bit(0) == 0 {
		q.Rsh(q, 1)
		s++
	}

	z := big.NewInt(2)
	for big.Jacobi(z, p) != -1 {
		z.Add(z, one)
		if z.Cmp(p) >= 0 {
			return nil, errors.Wrapf(ErrInvalidModulus, "no non-residue below %s", p)
		}
	}

	m := s
	c := new(big.Int).Exp(z, q, p)
	t := new(big.Int).Exp(a, q, p)
	e := new(big.Int).Add(q, one)
	e.Rsh(e, 1)
	r := new(big.Int).Exp(a, e, p)

	tt := new(big.Int)
	b := new(big.Int)
	for t.Cmp(one) != 0 {
		// least i in (0, m) with t^(2^i) = 1
		i := 0
		tt.Set(t)
		for tt.Cmp(one) != 0 {
			tt.Mul(tt, tt).Mod(tt, p)
			i++
			if i == m {
				return nil, errors.Wrapf(ErrNonResidue, "%s mod %s", a, p)
			}
		}

		b.Set(c)
		for j := 0; j < m-i-1; j++ {
			b.Mul(b, b).Mod(b, p)
		}

		m = i
		c.Mul(b, b).Mod(c, p)
		t.Mul(t, c).Mod(t, p)
		r.Mul(r, b).Mod(r, p)
	}

	return r, nil
}
