// Package schnorr implements the Schnorr identification protocol that
// compliance authorities use to prove possession of their decryption share
// before they may submit it.
//
// # Protocol
//
// An authority with share x and public key PK = x*G:
//
//  1. commits to a random nonce r by sending T = r*G
//  2. receives the challenge c = H(DomainChallenge || T || PK || ctx) mod q,
//     where ctx binds the login to the audience, the authority slot, a time
//     window and server randomness
//  3. answers s = r + c*x (mod q)
//
// The server accepts when s*G == T + c*PK. Since s*G = r*G + c*x*G, only a
// holder of x can answer every challenge.
//
// Reusing r with two challenges reveals x = (s1 - s2) / (c1 - c2), so a
// commitment must never be answered twice.
package schnorr

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math/big"

	"github.com/cockroachdb/errors"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
)

// Domain separation tags for the two hashes.
const (
	// DomainChallenge prefixes H(DomainChallenge || T || PK || ctx).
	DomainChallenge = "zkaudit/1/chal"

	// DomainContext prefixes the login context hash.
	DomainContext = "zkaudit/1/ctx"
)

// ErrInvalidProof is returned by Verify for a proof that does not check out.
var ErrInvalidProof = errors.New("invalid schnorr proof")

// Context binds a proof to one login attempt.
type Context struct {
	Audience        string
	AuthorityIndex  int
	Timeslice       string
	ServerEphemeral []byte
}

// VerificationResult contains the result of Schnorr verification
type VerificationResult struct {
	Valid   bool
	Error   error
	Context []byte // the derived context hash
}

// VerifySchnorr checks s*G == T + c*PK for serialized inputs.
//
// Points are parsed with full validation, so points off the curve, the
// identity and small-order points are rejected before any arithmetic.
// Malformed input yields Valid == false with Error set; the returned error
// is reserved for failures of the group implementation itself.
func VerifySchnorr(crv curve.Curve, pk, T, c, s []byte) (*VerificationResult, error) {
	PK, err := crv.ParsePoint(pk)
	if err != nil {
		return &VerificationResult{Error: errors.Wrap(err, "invalid public key")}, nil
	}
	TT, err := crv.ParsePoint(T)
	if err != nil {
		return &VerificationResult{Error: errors.Wrap(err, "invalid commitment point")}, nil
	}
	cs, err := crv.ParseScalar(c)
	if err != nil {
		return &VerificationResult{Error: errors.Wrap(err, "invalid challenge scalar")}, nil
	}
	ss, err := crv.ParseScalar(s)
	if err != nil {
		return &VerificationResult{Error: errors.Wrap(err, "invalid response scalar")}, nil
	}

	left := crv.ScalarBaseMult(ss)
	right := crv.Add(TT, crv.ScalarMult(PK, cs))
	if left == nil || right == nil {
		return nil, errors.AssertionFailedf("%s arithmetic returned nil", crv.Name())
	}

	return &VerificationResult{Valid: left.Equal(right)}, nil
}

// DeriveChallenge computes c = H(DomainChallenge || T || PK || ctx) mod q,
// serialized at the curve's scalar width.
func DeriveChallenge(crv curve.Curve, T, PK, ctxBytes []byte) ([]byte, error) {
	h := sha256.New()
	h.Write([]byte(DomainChallenge))
	h.Write(T)
	h.Write(PK)
	h.Write(ctxBytes)

	challenge := new(big.Int).SetBytes(h.Sum(nil))
	challenge.Mod(challenge, crv.Order())
	if challenge.Sign() == 0 {
		return nil, errors.New("challenge reduced to zero")
	}
	return padToOrderBytes(challenge, crv), nil
}

// DeriveContext hashes the login binding. Variable-length fields are length
// prefixed so that no two contexts share an encoding.
func DeriveContext(c Context) []byte {
	h := sha256.New()
	h.Write([]byte(DomainContext))
	writeField(h, []byte(c.Audience))

	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(c.AuthorityIndex))
	h.Write(idx[:])

	writeField(h, []byte(c.Timeslice))
	writeField(h, c.ServerEphemeral)
	return h.Sum(nil)
}

func writeField(h io.Writer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	h.Write(n[:])
	h.Write(b)
}

// FullVerifySchnorr derives the context and challenge, then verifies.
func FullVerifySchnorr(crv curve.Curve, pk, T, s []byte, c Context) (*VerificationResult, error) {
	ctx := DeriveContext(c)

	challenge, err := DeriveChallenge(crv, T, pk, ctx)
	if err != nil {
		return &VerificationResult{Error: errors.Wrap(err, "failed to derive challenge"), Context: ctx}, nil
	}

	result, err := VerifySchnorr(crv, pk, T, challenge, s)
	if err != nil {
		return nil, err
	}
	result.Context = ctx
	return result, nil
}

// Verify is FullVerifySchnorr folded into a single error.
func Verify(crv curve.Curve, pk, T, s []byte, c Context) error {
	result, err := FullVerifySchnorr(crv, pk, T, s, c)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return errors.Join(ErrInvalidProof, result.Error)
	}
	if !result.Valid {
		return ErrInvalidProof
	}
	return nil
}

// padToOrderBytes left-pads num to the byte width of the group order.
func padToOrderBytes(num *big.Int, crv curve.Curve) []byte {
	orderBytes := (crv.Order().BitLen() + 7) / 8
	return num.FillBytes(make([]byte, orderBytes))
}

// GenerateCommitment draws the nonce r and returns T = r*G. r must be kept
// secret and used for exactly one response.
func GenerateCommitment(crv curve.Curve) (T []byte, r curve.Scalar, err error) {
	r, err = crv.GenerateScalar()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to generate nonce")
	}

	TPoint := crv.ScalarBaseMult(r)
	if TPoint == nil {
		return nil, nil, errors.New("failed to compute commitment point")
	}
	return TPoint.Bytes(), r, nil
}

// ComputeResponse returns s = r + c*x mod q.
func ComputeResponse(crv curve.Curve, r, c, x curve.Scalar) (curve.Scalar, error) {
	s := new(big.Int).Mul(c.BigInt(), x.BigInt())
	s.Add(s, r.BigInt())
	s.Mod(s, crv.Order())

	return crv.ParseScalar(padToOrderBytes(s, crv))
}

// Respond answers the challenge for commitment T under context c.
func Respond(crv curve.Curve, x curve.Scalar, T []byte, r curve.Scalar, c Context) (curve.Scalar, error) {
	pk := crv.ScalarBaseMult(x)
	if pk == nil {
		return nil, errors.Wrap(curve.ErrInvalidScalar, "private key from another curve")
	}

	challenge, err := DeriveChallenge(crv, T, pk.Bytes(), DeriveContext(c))
	if err != nil {
		return nil, err
	}
	cs, err := crv.ParseScalar(challenge)
	if err != nil {
		return nil, errors.Wrap(err, "parsing challenge")
	}
	return ComputeResponse(crv, r, cs, x)
}
