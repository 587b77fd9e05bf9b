// Package edwards packs BabyJubJub points into a single field element and
// back.
//
// # Encoding
//
// The curve is the twisted Edwards curve a·x² + y² = 1 + d·x²·y² over the
// BN254 scalar field (gnark-crypto's bn254/twistededwards). A point (x, y)
// is encoded as one 256-bit integer:
//
//	bit 255     parity of x (x mod 2)
//	bits 0-254  y
//
// Since p < 2^254, y always fits and bit 254 is always zero. Decoding solves
// the curve equation for x²:
//
//	x² = (y² - 1) / (d·y² - a)  (mod p)
//
// and picks the square root whose parity matches the stored bit. The
// identity (0, 1) needs no reserved value: it encodes to 1.
//
// The parity convention must match the one assumed by the proof circuits;
// a mismatch yields valid-looking but wrong public inputs.
package edwards

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/allsmog/zkaudit-go/pkg/crypto/field"
)

// EncodedSize is the byte length of the big-endian encoding.
const EncodedSize = 32

const signBit = 255

var (
	// ErrInvalidPoint is returned when compressing a point off the curve.
	ErrInvalidPoint = errors.New("point is not on the curve")

	// ErrInvalidEncoding is returned when a value does not decode to a curve point.
	ErrInvalidEncoding = errors.New("invalid compressed point")
)

var (
	params  = twistededwards.GetEdwardsCurve()
	modulus = fr.Modulus()
	coeffA  = params.A.BigInt(new(big.Int))
	coeffD  = params.D.BigInt(new(big.Int))
	yMask   = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), signBit), big.NewInt(1))
)

// Modulus returns a copy of the base field modulus p.
func Modulus() *big.Int {
	return new(big.Int).Set(modulus)
}

// Compress packs p into a single integer below 2^256.
func Compress(p *twistededwards.PointAffine) (*big.Int, error) {
	if p == nil || !p.IsOnCurve() {
		return nil, ErrInvalidPoint
	}

	x := p.X.BigInt(new(big.Int))
	out := p.Y.BigInt(new(big.Int))
	if x.Bit(0) == 1 {
		out.SetBit(out, signBit, 1)
	}
	return out, nil
}

// Decompress reverses Compress.
func Decompress(v *big.Int) (twistededwards.PointAffine, error) {
	var res twistededwards.PointAffine

	if v == nil || v.Sign() < 0 || v.BitLen() > EncodedSize*8 {
		return res, errors.Wrap(ErrInvalidEncoding, "value out of range")
	}

	sign := v.Bit(signBit)
	y := new(big.Int).And(v, yMask)
	if y.Cmp(modulus) >= 0 {
		return res, errors.Wrap(ErrInvalidEncoding, "y coordinate not reduced")
	}

	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, modulus)

	num := new(big.Int).Sub(y2, big.NewInt(1))
	num.Mod(num, modulus)

	den := new(big.Int).Mul(coeffD, y2)
	den.Sub(den, coeffA)
	den.Mod(den, modulus)
	if den.ModInverse(den, modulus) == nil {
		return res, errors.Wrap(ErrInvalidEncoding, "degenerate y coordinate")
	}

	x2 := num.Mul(num, den)
	x2.Mod(x2, modulus)

	x, err := field.SqrtModPrime(x2, modulus)
	if err != nil {
		return res, errors.Wrap(errors.Join(ErrInvalidEncoding, err), "recovering x")
	}

	if x.Sign() == 0 && sign == 1 {
		return res, errors.Wrap(ErrInvalidEncoding, "sign bit set for x = 0")
	}
	if x.Bit(0) != sign {
		x.Sub(modulus, x)
	}

	res.X.SetBigInt(x)
	res.Y.SetBigInt(y)
	if !res.IsOnCurve() {
		return twistededwards.PointAffine{}, errors.Wrap(ErrInvalidEncoding, "decoded point off curve")
	}
	return res, nil
}

// CompressBytes returns the 32-byte big-endian form of Compress.
func CompressBytes(p *twistededwards.PointAffine) ([]byte, error) {
	v, err := Compress(p)
	if err != nil {
		return nil, err
	}
	return v.FillBytes(make([]byte, EncodedSize)), nil
}

// DecompressBytes decodes the 32-byte big-endian form.
func DecompressBytes(b []byte) (twistededwards.PointAffine, error) {
	if len(b) != EncodedSize {
		return twistededwards.PointAffine{}, errors.Wrapf(ErrInvalidEncoding, "expected %d bytes, got %d", EncodedSize, len(b))
	}
	return Decompress(new(big.Int).SetBytes(b))
}

// InSubgroup reports whether p lies in the prime-order subgroup generated by
// the base point. Points from the cofactor part decode fine but must not be
// used as keys.
func InSubgroup(p *twistededwards.PointAffine) bool {
	if !p.IsOnCurve() {
		return false
	}
	var q twistededwards.PointAffine
	q.ScalarMultiplication(p, &params.Order)
	return q.IsZero()
}
