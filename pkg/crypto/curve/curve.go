// Package curve provides the prime-order group abstraction every other
// cryptographic package in this module is written against.
//
// # Supported Groups
//
//   - babyjubjub: the twisted Edwards curve embedded in the BN254 scalar
//     field (gnark-crypto). It is the protocol curve: points can be packed
//     into a single BN254 field element, which is what the proof circuits
//     consume as public inputs. Implements FieldCodec.
//
//   - secp256k1: the Bitcoin/Ethereum curve (btcec). Useful for authorities
//     that keep their shares in existing secp256k1 key infrastructure.
//
//   - ristretto255: the prime-order group over Curve25519.
//
// # Group Operations
//
// The ElGamal cipher, the discrete-log search and the Schnorr proofs only
// need the additive group law:
//
//   - Add(P, Q) and Neg(P) give subtraction
//   - ScalarMult(P, s) and ScalarBaseMult(s) give keys and masks
//   - Identity() is the neutral element, produced by 0*G
//
// Unlike key parsing, NewScalar accepts zero: plaintext messages are small
// integers and 0*G is a legitimate encoding of the message 0.
package curve

import (
	"math/big"

	"github.com/cockroachdb/errors"
)

// Point represents an element of the group.
type Point interface {
	// Bytes returns the canonical serialization of the point.
	//   babyjubjub:   32 bytes, compressed (y plus x parity bit, big-endian)
	//   secp256k1:    33 bytes SEC1 compressed, a single 0x00 for the identity
	//   ristretto255: 32 bytes canonical encoding
	Bytes() []byte

	// Equal reports whether both points are the same group element.
	Equal(other Point) bool

	// IsIdentity reports whether this is the neutral element.
	IsIdentity() bool
}

// Scalar represents an integer modulo the group order q.
type Scalar interface {
	// Bytes returns the scalar as a fixed-size big-endian slice.
	Bytes() []byte

	// BigInt returns a copy of the scalar value.
	BigInt() *big.Int
}

// Curve abstracts group operations for the supported curves.
//
// Arithmetic methods return nil when handed points or scalars that belong to
// a different implementation.
type Curve interface {
	// Name returns the group identifier used in configuration and tokens.
	Name() string

	// ParsePoint deserializes and validates a point. The identity and points
	// outside the prime-order subgroup are rejected.
	ParsePoint(b []byte) (Point, error)

	// ParseScalar deserializes a scalar in [1, q-1].
	ParseScalar(b []byte) (Scalar, error)

	// NewScalar reduces v modulo q. Zero is allowed.
	NewScalar(v *big.Int) Scalar

	// Identity returns the neutral element.
	Identity() Point

	// ScalarBaseMult computes s*G.
	ScalarBaseMult(s Scalar) Point

	// ScalarMult computes s*P.
	ScalarMult(p Point, s Scalar) Point

	// Add computes P + Q.
	Add(p, q Point) Point

	// Neg computes -P.
	Neg(p Point) Point

	// Order returns q, the order of the group generated by G.
	Order() *big.Int

	// GenerateScalar returns a uniformly random scalar in [1, q-1].
	GenerateScalar() (Scalar, error)

	// ValidatePoint rejects points off the curve, the identity and points
	// of small order.
	ValidatePoint(p Point) error
}

// FieldCodec is implemented by curves whose points pack into a single
// field element, the form the proof circuits take as public input.
type FieldCodec interface {
	CompressPoint(p Point) (*big.Int, error)
	DecompressPoint(v *big.Int) (Point, error)
}

var (
	// ErrInvalidPoint indicates an invalid point
	ErrInvalidPoint = errors.New("invalid point")

	// ErrInvalidScalar indicates an invalid scalar
	ErrInvalidScalar = errors.New("invalid scalar")

	// ErrIdentityPoint indicates the point is the identity point
	ErrIdentityPoint = errors.New("point is identity")

	// ErrPointNotOnCurve indicates the point is not on the curve
	ErrPointNotOnCurve = errors.New("point is not on curve")

	// ErrSmallOrder indicates the point lies outside the prime-order subgroup
	ErrSmallOrder = errors.New("point is not in the prime-order subgroup")
)

// Sub computes P - Q.
func Sub(crv Curve, p, q Point) Point {
	neg := crv.Neg(q)
	if neg == nil {
		return nil
	}
	return crv.Add(p, neg)
}

// Sum adds all points, returning the identity for an empty list.
func Sum(crv Curve, points ...Point) Point {
	acc := crv.Identity()
	for _, p := range points {
		if acc = crv.Add(acc, p); acc == nil {
			return nil
		}
	}
	return acc
}

// fixedBytes left-pads v to size big-endian bytes.
func fixedBytes(v *big.Int, size int) []byte {
	return v.FillBytes(make([]byte, size))
}
