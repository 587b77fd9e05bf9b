// Package elgamal implements additive ElGamal encryption to a set of
// compliance authorities.
//
// Messages are small integers encoded as m*G. A ciphertext carries one
// ephemeral point R = r*G followed by one masked point per message:
//
//	C_i = m_i*G + r*K,  K = PK_1 + ... + PK_n
//
// Decryption subtracts (sk_1 + ... + sk_n)*R and therefore needs the share
// of every authority. Recovering m_i from m_i*G is left to package dlog.
package elgamal

import (
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
)

// RandomnessBytes is the entropy drawn for an encryption nonce. It keeps the
// nonce uniform below 2^248, well under every supported group order.
const RandomnessBytes = 31

var (
	ErrNoAuthorities         = errors.New("no authority public keys")
	ErrUnknownAuthorityKey   = errors.New("private key does not match any authority")
	ErrDuplicateAuthorityKey = errors.New("duplicate authority private key")
	ErrAuthorityKeysNotSet   = errors.New("authority private keys not set")
	ErrZeroRandomness        = errors.New("encryption randomness is zero")
	ErrMessageOutOfRange     = errors.New("message out of range")
	ErrMalformedCiphertext   = errors.New("malformed ciphertext")
)

// Ciphertext is the ephemeral point followed by the masked message points.
type Ciphertext []curve.Point

// Ephemeral returns R, or nil for an empty ciphertext.
func (c Ciphertext) Ephemeral() curve.Point {
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// Masked returns the masked message points.
func (c Ciphertext) Masked() []curve.Point {
	if len(c) == 0 {
		return nil
	}
	return c[1:]
}

// Authority holds the authority key set for one deployment. Public keys are
// fixed at construction; private keys are provided per decryption session.
// It is safe for concurrent use: a decryption sees either the key list before
// or after a concurrent SetPrivateKeys, never a mix.
type Authority struct {
	crv      curve.Curve
	keys     []curve.Point
	combined curve.Point

	mu     sync.RWMutex
	shares []curve.Scalar
}

// NewAuthority fixes the authority public keys. Every key must be a valid,
// non-identity group element.
func NewAuthority(crv curve.Curve, publicKeys ...curve.Point) (*Authority, error) {
	if len(publicKeys) == 0 {
		return nil, ErrNoAuthorities
	}

	keys := make([]curve.Point, len(publicKeys))
	for i, pk := range publicKeys {
		if err := crv.ValidatePoint(pk); err != nil {
			return nil, errors.Wrapf(errors.Join(curve.ErrInvalidPoint, err), "authority %d", i)
		}
		keys[i] = pk
	}

	return &Authority{
		crv:      crv,
		keys:     keys,
		combined: curve.Sum(crv, keys...),
	}, nil
}

// Curve returns the group the authority operates in.
func (a *Authority) Curve() curve.Curve {
	return a.crv
}

// PublicKeys returns the authority public keys in their configured order.
func (a *Authority) PublicKeys() []curve.Point {
	out := make([]curve.Point, len(a.keys))
	copy(out, a.keys)
	return out
}

// CombinedPublicKey returns K, the sum of all authority public keys.
func (a *Authority) CombinedPublicKey() curve.Point {
	return a.combined
}

// IndexOf returns the position of the authority whose public key is pk, or -1.
func (a *Authority) IndexOf(pk curve.Point) int {
	for i, k := range a.keys {
		if k.Equal(pk) {
			return i
		}
	}
	return -1
}

// SetPrivateKeys installs the private shares for a decryption session. Each
// share must belong to a configured authority and appear at most once. An
// empty list clears the shares. Shares for only some authorities are
// accepted, but decryption will not recover the messages until all are set.
func (a *Authority) SetPrivateKeys(keys []curve.Scalar) error {
	seen := make([]bool, len(a.keys))
	shares := make([]curve.Scalar, 0, len(keys))

	for i, sk := range keys {
		if sk == nil {
			return errors.Wrapf(ErrUnknownAuthorityKey, "key %d is nil", i)
		}
		idx := a.IndexOf(a.crv.ScalarBaseMult(sk))
		if idx < 0 {
			return errors.Wrapf(ErrUnknownAuthorityKey, "key %d", i)
		}
		if seen[idx] {
			return errors.Wrapf(ErrDuplicateAuthorityKey, "authority %d", idx)
		}
		seen[idx] = true
		shares = append(shares, sk)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(shares) == 0 {
		a.shares = nil
		return nil
	}
	a.shares = shares
	return nil
}

// ClearPrivateKeys drops all private shares.
func (a *Authority) ClearPrivateKeys() {
	a.mu.Lock()
	a.shares = nil
	a.mu.Unlock()
}

// HasPrivateKeys reports whether any private share is installed.
func (a *Authority) HasPrivateKeys() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.shares) > 0
}

// Complete reports whether a share is installed for every authority.
func (a *Authority) Complete() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.shares) == len(a.keys)
}

// Encrypt masks messages under the combined authority key with randomness r.
// The result is deterministic in its inputs.
func (a *Authority) Encrypt(r curve.Scalar, messages ...*big.Int) (Ciphertext, error) {
	if r == nil || r.BigInt().Sign() == 0 {
		return nil, ErrZeroRandomness
	}

	order := a.crv.Order()
	for i, m := range messages {
		if m == nil || m.Sign() < 0 || m.Cmp(order) >= 0 {
			return nil, errors.Wrapf(ErrMessageOutOfRange, "message %d", i)
		}
	}

	ephemeral := a.crv.ScalarBaseMult(r)
	if ephemeral == nil {
		return nil, errors.Wrapf(curve.ErrInvalidScalar, "randomness is not a %s scalar", a.crv.Name())
	}
	mask := a.crv.ScalarMult(a.combined, r)
	ct := make(Ciphertext, 0, len(messages)+1)
	ct = append(ct, ephemeral)

	for _, m := range messages {
		mG := a.crv.ScalarBaseMult(a.crv.NewScalar(m))
		ct = append(ct, a.crv.Add(mG, mask))
	}
	return ct, nil
}

// Decrypt removes the mask from every message point and returns m_i*G.
func (a *Authority) Decrypt(ct Ciphertext) ([]curve.Point, error) {
	a.mu.RLock()
	shares := a.shares
	a.mu.RUnlock()

	if len(shares) == 0 {
		return nil, ErrAuthorityKeysNotSet
	}
	if len(ct) == 0 {
		return nil, errors.Wrap(ErrMalformedCiphertext, "missing ephemeral point")
	}
	for i, p := range ct {
		if p == nil {
			return nil, errors.Wrapf(ErrMalformedCiphertext, "point %d is nil", i)
		}
	}

	secret := new(big.Int)
	for _, sk := range shares {
		secret.Add(secret, sk.BigInt())
	}

	shared := a.crv.ScalarMult(ct.Ephemeral(), a.crv.NewScalar(secret))
	if shared == nil {
		return nil, errors.Wrap(ErrMalformedCiphertext, "ephemeral point from another curve")
	}
	unmask := a.crv.Neg(shared)

	out := make([]curve.Point, 0, len(ct)-1)
	for i, c := range ct.Masked() {
		p := a.crv.Add(c, unmask)
		if p == nil {
			return nil, errors.Wrapf(ErrMalformedCiphertext, "point %d from another curve", i+1)
		}
		out = append(out, p)
	}
	return out, nil
}

// RandomScalar draws fresh non-zero encryption randomness.
func RandomScalar(crv curve.Curve) (curve.Scalar, error) {
	buf := make([]byte, RandomnessBytes)
	for {
		if _, err := rand.Read(buf); err != nil {
			return nil, errors.Wrap(err, "reading randomness")
		}
		v := new(big.Int).SetBytes(buf)
		if v.Sign() != 0 {
			return crv.NewScalar(v), nil
		}
	}
}
