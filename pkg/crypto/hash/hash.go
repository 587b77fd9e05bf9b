// Package hash provides the commitment and nullifier hash functions. Both
// consume field elements and return one field element of the BN254 scalar
// field; which one a deployment uses is a configuration choice and must
// match the proof circuits.
package hash

import (
	"crypto/sha256"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

var (
	ErrUnsupportedHash = errors.New("unsupported hash")
	ErrInputOutOfField = errors.New("hash input is not a field element")
)

// Hasher maps a list of field elements to a single field element.
type Hasher interface {
	Name() string
	Hash(inputs ...*big.Int) (*big.Int, error)
}

// FromName returns "mimc" or "sha256". An empty name selects MiMC.
func FromName(name string) (Hasher, error) {
	switch strings.ToLower(name) {
	case "", "mimc":
		return MiMC{}, nil
	case "sha256":
		return SHA256{}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedHash, "%q", name)
	}
}

// MiMC is the BN254 MiMC sponge from gnark-crypto. Inputs must already be
// reduced below the field modulus.
type MiMC struct{}

func (MiMC) Name() string { return "mimc" }

func (MiMC) Hash(inputs ...*big.Int) (*big.Int, error) {
	h := mimc.NewMiMC()
	for i, in := range inputs {
		b, err := fieldBytes(in)
		if err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
		if _, err := h.Write(b); err != nil {
			return nil, errors.Wrapf(errors.Join(ErrInputOutOfField, err), "input %d", i)
		}
	}
	return new(big.Int).SetBytes(h.Sum(nil)), nil
}

// SHA256 hashes the 32-byte big-endian inputs and reduces the digest mod p.
// Inputs may be any non-negative integer below 2^256.
type SHA256 struct{}

func (SHA256) Name() string { return "sha256" }

func (SHA256) Hash(inputs ...*big.Int) (*big.Int, error) {
	h := sha256.New()
	for i, in := range inputs {
		if in == nil || in.Sign() < 0 || in.BitLen() > 256 {
			return nil, errors.Wrapf(ErrInputOutOfField, "input %d", i)
		}
		h.Write(in.FillBytes(make([]byte, 32)))
	}
	out := new(big.Int).SetBytes(h.Sum(nil))
	return out.Mod(out, fr.Modulus()), nil
}

func fieldBytes(v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return nil, ErrInputOutOfField
	}
	return v.FillBytes(make([]byte, fr.Bytes)), nil
}
