package curve

import (
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/cockroachdb/errors"
)

// Secp256k1Point represents a point on the secp256k1 curve, held in
// normalized affine form inside a Jacobian point. The zero value is the
// point at infinity.
type Secp256k1Point struct {
	point btcec.JacobianPoint
}

func newSecp256k1Point(j *btcec.JacobianPoint) *Secp256k1Point {
	if isInfinity(j) {
		return &Secp256k1Point{}
	}
	j.ToAffine()
	return &Secp256k1Point{point: *j}
}

func isInfinity(j *btcec.JacobianPoint) bool {
	return (j.X.IsZero() && j.Y.IsZero()) || j.Z.IsZero()
}

// Bytes returns the 33-byte compressed encoding, or 0x00 for infinity.
func (p *Secp256k1Point) Bytes() []byte {
	if p.IsIdentity() {
		return []byte{0x00}
	}
	x, y := p.point.X, p.point.Y
	return btcec.NewPublicKey(&x, &y).SerializeCompressed()
}

// Equal checks if two points are equal.
func (p *Secp256k1Point) Equal(other Point) bool {
	o, ok := other.(*Secp256k1Point)
	if !ok || p == nil || o == nil {
		return false
	}
	if p.IsIdentity() || o.IsIdentity() {
		return p.IsIdentity() == o.IsIdentity()
	}
	return p.point.X.Equals(&o.point.X) && p.point.Y.Equals(&o.point.Y)
}

// IsIdentity checks if this is the point at infinity.
func (p *Secp256k1Point) IsIdentity() bool {
	return isInfinity(&p.point)
}

// Secp256k1Scalar represents a scalar for secp256k1 operations
type Secp256k1Scalar struct {
	scalar *big.Int
}

// Bytes returns the scalar as a 32-byte slice (big-endian)
func (s *Secp256k1Scalar) Bytes() []byte {
	return fixedBytes(s.scalar, 32)
}

// BigInt returns the scalar as a big.Int
func (s *Secp256k1Scalar) BigInt() *big.Int {
	return new(big.Int).Set(s.scalar)
}

func (s *Secp256k1Scalar) modN() *btcec.ModNScalar {
	var k btcec.ModNScalar
	k.SetByteSlice(s.Bytes())
	return &k
}

// Secp256k1Curve implements the Curve interface for secp256k1
type Secp256k1Curve struct{}

// NewSecp256k1 creates a new secp256k1 curve instance
func NewSecp256k1() *Secp256k1Curve {
	return &Secp256k1Curve{}
}

// Name returns the curve name
func (c *Secp256k1Curve) Name() string {
	return "secp256k1"
}

// ParsePoint parses a point from bytes (33-byte compressed or 65-byte uncompressed)
func (c *Secp256k1Curve) ParsePoint(b []byte) (Point, error) {
	if len(b) == 0 {
		return nil, ErrInvalidPoint
	}

	pubKey, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPoint, "%v", err)
	}

	var j btcec.JacobianPoint
	pubKey.AsJacobian(&j)
	point := newSecp256k1Point(&j)

	if err := c.ValidatePoint(point); err != nil {
		return nil, err
	}
	return point, nil
}

// ParseScalar parses a scalar from bytes (32 bytes, big-endian)
func (c *Secp256k1Curve) ParseScalar(b []byte) (Scalar, error) {
	if len(b) != 32 {
		return nil, errors.Wrapf(ErrInvalidScalar, "expected 32 bytes, got %d", len(b))
	}

	scalar := new(big.Int).SetBytes(b)
	if scalar.Sign() <= 0 || scalar.Cmp(c.Order()) >= 0 {
		return nil, errors.Wrap(ErrInvalidScalar, "scalar out of range")
	}

	return &Secp256k1Scalar{scalar: scalar}, nil
}

// NewScalar reduces v modulo the curve order.
func (c *Secp256k1Curve) NewScalar(v *big.Int) Scalar {
	return &Secp256k1Scalar{scalar: new(big.Int).Mod(v, c.Order())}
}

// Identity returns the point at infinity.
func (c *Secp256k1Curve) Identity() Point {
	return &Secp256k1Point{}
}

// ScalarBaseMult computes s * G (scalar multiplication with generator)
func (c *Secp256k1Curve) ScalarBaseMult(s Scalar) Point {
	ss, ok := s.(*Secp256k1Scalar)
	if !ok {
		return nil
	}
	if ss.scalar.Sign() == 0 {
		return c.Identity()
	}

	var result btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(ss.modN(), &result)
	return newSecp256k1Point(&result)
}

// ScalarMult computes s * P (scalar multiplication)
func (c *Secp256k1Curve) ScalarMult(p Point, s Scalar) Point {
	sp, ok := p.(*Secp256k1Point)
	if !ok {
		return nil
	}
	ss, ok := s.(*Secp256k1Scalar)
	if !ok {
		return nil
	}
	if sp.IsIdentity() || ss.scalar.Sign() == 0 {
		return c.Identity()
	}

	point := sp.point
	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(ss.modN(), &point, &result)
	return newSecp256k1Point(&result)
}

// Add adds two points: P + Q
func (c *Secp256k1Curve) Add(p, q Point) Point {
	sp, ok := p.(*Secp256k1Point)
	if !ok {
		return nil
	}
	sq, ok := q.(*Secp256k1Point)
	if !ok {
		return nil
	}

	switch {
	case sp.IsIdentity():
		return &Secp256k1Point{point: sq.point}
	case sq.IsIdentity():
		return &Secp256k1Point{point: sp.point}
	}

	p1, p2 := sp.point, sq.point
	var result btcec.JacobianPoint
	btcec.AddNonConst(&p1, &p2, &result)
	return newSecp256k1Point(&result)
}

// Neg returns (x, -y).
func (c *Secp256k1Curve) Neg(p Point) Point {
	sp, ok := p.(*Secp256k1Point)
	if !ok {
		return nil
	}
	if sp.IsIdentity() {
		return c.Identity()
	}

	neg := sp.point
	neg.Y.Negate(1).Normalize()
	return &Secp256k1Point{point: neg}
}

// Order returns the order of the secp256k1 curve
func (c *Secp256k1Curve) Order() *big.Int {
	return new(big.Int).Set(btcec.S256().N)
}

// GenerateScalar generates a cryptographically secure random scalar
func (c *Secp256k1Curve) GenerateScalar() (Scalar, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate scalar")
	}

	return &Secp256k1Scalar{scalar: new(big.Int).SetBytes(privKey.Serialize())}, nil
}

// ValidatePoint validates that a point is on the curve and not the identity
func (c *Secp256k1Curve) ValidatePoint(p Point) error {
	sp, ok := p.(*Secp256k1Point)
	if !ok || sp == nil {
		return ErrInvalidPoint
	}
	if sp.IsIdentity() {
		return ErrIdentityPoint
	}

	x := new(big.Int).SetBytes(sp.point.X.Bytes()[:])
	y := new(big.Int).SetBytes(sp.point.Y.Bytes()[:])
	if !btcec.S256().IsOnCurve(x, y) {
		return ErrPointNotOnCurve
	}
	return nil
}
