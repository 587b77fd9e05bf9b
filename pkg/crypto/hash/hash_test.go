package hash

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromName(t *testing.T) {
	for name, want := range map[string]string{"": "mimc", "MiMC": "mimc", "sha256": "sha256"} {
		h, err := FromName(name)
		require.NoError(t, err)
		assert.Equal(t, want, h.Name())
	}

	_, err := FromName("poseidon")
	assert.ErrorIs(t, err, ErrUnsupportedHash)
}

func TestHashers(t *testing.T) {
	p := fr.Modulus()

	for _, h := range []Hasher{MiMC{}, SHA256{}} {
		h := h
		t.Run(h.Name(), func(t *testing.T) {
			a, err := h.Hash(big.NewInt(1), big.NewInt(2))
			require.NoError(t, err)
			b, err := h.Hash(big.NewInt(1), big.NewInt(2))
			require.NoError(t, err)
			c, err := h.Hash(big.NewInt(2), big.NewInt(1))
			require.NoError(t, err)

			assert.Equal(t, 0, a.Cmp(b), "deterministic")
			assert.NotEqual(t, 0, a.Cmp(c), "order sensitive")
			assert.Negative(t, a.Cmp(p), "output is a field element")

			_, err = h.Hash(big.NewInt(-1))
			assert.ErrorIs(t, err, ErrInputOutOfField)
			_, err = h.Hash(nil)
			assert.ErrorIs(t, err, ErrInputOutOfField)
		})
	}
}

func TestOutOfFieldInputs(t *testing.T) {
	p := fr.Modulus()

	_, err := MiMC{}.Hash(p)
	assert.ErrorIs(t, err, ErrInputOutOfField)

	// compressed points can exceed p; SHA256 accepts them
	wide := new(big.Int).SetBit(big.NewInt(5), 255, 1)
	out, err := SHA256{}.Hash(wide)
	require.NoError(t, err)
	assert.Negative(t, out.Cmp(p))

	_, err = SHA256{}.Hash(new(big.Int).Lsh(big.NewInt(1), 256))
	assert.ErrorIs(t, err, ErrInputOutOfField)
}
