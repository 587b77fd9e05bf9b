package curve

import (
	"crypto/rand"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/allsmog/zkaudit-go/pkg/crypto/edwards"
)

var bjjParams = twistededwards.GetEdwardsCurve()

// BabyJubJubPoint is a point on the BN254-embedded twisted Edwards curve.
type BabyJubJubPoint struct {
	point twistededwards.PointAffine
}

// NewBabyJubJubPoint wraps an affine point. No validation is performed.
func NewBabyJubJubPoint(p twistededwards.PointAffine) *BabyJubJubPoint {
	return &BabyJubJubPoint{point: p}
}

// Affine returns a copy of the underlying affine coordinates.
func (p *BabyJubJubPoint) Affine() twistededwards.PointAffine {
	return p.point
}

// Bytes returns the 32-byte compressed encoding.
func (p *BabyJubJubPoint) Bytes() []byte {
	b, err := edwards.CompressBytes(&p.point)
	if err != nil {
		return nil
	}
	return b
}

// Equal checks if two points are equal.
func (p *BabyJubJubPoint) Equal(other Point) bool {
	o, ok := other.(*BabyJubJubPoint)
	if !ok || p == nil || o == nil {
		return false
	}
	return p.point.Equal(&o.point)
}

// IsIdentity reports whether the point is (0, 1).
func (p *BabyJubJubPoint) IsIdentity() bool {
	return p.point.IsZero()
}

// BabyJubJubScalar is an integer modulo the BabyJubJub subgroup order.
type BabyJubJubScalar struct {
	scalar *big.Int
}

// Bytes returns the scalar as 32 big-endian bytes.
func (s *BabyJubJubScalar) Bytes() []byte {
	return fixedBytes(s.scalar, 32)
}

// BigInt returns the scalar as a big.Int.
func (s *BabyJubJubScalar) BigInt() *big.Int {
	return new(big.Int).Set(s.scalar)
}

// BabyJubJubCurve implements Curve and FieldCodec.
type BabyJubJubCurve struct{}

// NewBabyJubJub returns the protocol curve.
func NewBabyJubJub() *BabyJubJubCurve {
	return &BabyJubJubCurve{}
}

// Name returns the curve name.
func (c *BabyJubJubCurve) Name() string {
	return "babyjubjub"
}

// ParsePoint decodes a 32-byte compressed point.
func (c *BabyJubJubCurve) ParsePoint(b []byte) (Point, error) {
	affine, err := edwards.DecompressBytes(b)
	if err != nil {
		return nil, errors.Join(ErrInvalidPoint, err)
	}

	point := &BabyJubJubPoint{point: affine}
	if err := c.ValidatePoint(point); err != nil {
		return nil, err
	}
	return point, nil
}

// ParseScalar parses a 32-byte big-endian scalar in [1, q-1].
func (c *BabyJubJubCurve) ParseScalar(b []byte) (Scalar, error) {
	if len(b) != 32 {
		return nil, errors.Wrapf(ErrInvalidScalar, "expected 32 bytes, got %d", len(b))
	}

	v := new(big.Int).SetBytes(b)
	if v.Sign() <= 0 || v.Cmp(&bjjParams.Order) >= 0 {
		return nil, errors.Wrap(ErrInvalidScalar, "scalar out of range")
	}
	return &BabyJubJubScalar{scalar: v}, nil
}

// NewScalar reduces v modulo the subgroup order.
func (c *BabyJubJubCurve) NewScalar(v *big.Int) Scalar {
	return &BabyJubJubScalar{scalar: new(big.Int).Mod(v, &bjjParams.Order)}
}

// Identity returns (0, 1).
func (c *BabyJubJubCurve) Identity() Point {
	p := &BabyJubJubPoint{}
	p.point.Y.SetOne()
	return p
}

// ScalarBaseMult computes s*G for the standard base point.
func (c *BabyJubJubCurve) ScalarBaseMult(s Scalar) Point {
	bs, ok := s.(*BabyJubJubScalar)
	if !ok {
		return nil
	}

	res := &BabyJubJubPoint{}
	res.point.ScalarMultiplication(&bjjParams.Base, bs.scalar)
	return res
}

// ScalarMult computes s*P.
func (c *BabyJubJubCurve) ScalarMult(p Point, s Scalar) Point {
	bp, ok := p.(*BabyJubJubPoint)
	if !ok {
		return nil
	}
	bs, ok := s.(*BabyJubJubScalar)
	if !ok {
		return nil
	}

	res := &BabyJubJubPoint{}
	res.point.ScalarMultiplication(&bp.point, bs.scalar)
	return res
}

// Add computes P + Q.
func (c *BabyJubJubCurve) Add(p, q Point) Point {
	bp, ok := p.(*BabyJubJubPoint)
	if !ok {
		return nil
	}
	bq, ok := q.(*BabyJubJubPoint)
	if !ok {
		return nil
	}

	res := &BabyJubJubPoint{}
	res.point.Add(&bp.point, &bq.point)
	return res
}

// Neg computes -P = (-x, y).
func (c *BabyJubJubCurve) Neg(p Point) Point {
	bp, ok := p.(*BabyJubJubPoint)
	if !ok {
		return nil
	}

	res := &BabyJubJubPoint{}
	res.point.Neg(&bp.point)
	return res
}

// Order returns the order of the subgroup generated by the base point.
func (c *BabyJubJubCurve) Order() *big.Int {
	return new(big.Int).Set(&bjjParams.Order)
}

// GenerateScalar returns a uniformly random scalar in [1, q-1].
func (c *BabyJubJubCurve) GenerateScalar() (Scalar, error) {
	max := new(big.Int).Sub(&bjjParams.Order, big.NewInt(1))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate scalar")
	}
	return &BabyJubJubScalar{scalar: v.Add(v, big.NewInt(1))}, nil
}

// ValidatePoint checks curve membership, rejects the identity and anything
// outside the prime-order subgroup.
func (c *BabyJubJubCurve) ValidatePoint(p Point) error {
	bp, ok := p.(*BabyJubJubPoint)
	if !ok || bp == nil {
		return ErrInvalidPoint
	}
	if !bp.point.IsOnCurve() {
		return ErrPointNotOnCurve
	}
	if bp.IsIdentity() {
		return ErrIdentityPoint
	}
	if !edwards.InSubgroup(&bp.point) {
		return ErrSmallOrder
	}
	return nil
}

// CompressPoint packs p into a single field element.
func (c *BabyJubJubCurve) CompressPoint(p Point) (*big.Int, error) {
	bp, ok := p.(*BabyJubJubPoint)
	if !ok || bp == nil {
		return nil, errors.Join(ErrInvalidPoint, edwards.ErrInvalidPoint)
	}
	return edwards.Compress(&bp.point)
}

// DecompressPoint unpacks a field element produced by CompressPoint. Unlike
// ParsePoint it accepts the identity and small-order points, since any
// point the codec can produce must round-trip.
func (c *BabyJubJubCurve) DecompressPoint(v *big.Int) (Point, error) {
	affine, err := edwards.Decompress(v)
	if err != nil {
		return nil, err
	}
	return &BabyJubJubPoint{point: affine}, nil
}
