package field

import (
	"math/big"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqrtModPrime(t *testing.T) {
	primes := []struct {
		name string
		p    *big.Int
	}{
		{"p=7 (3 mod 4)", big.NewInt(7)},
		{"p=13 (1 mod 4)", big.NewInt(13)},
		{"p=17 (1 mod 16)", big.NewInt(17)},
		{"p=41 (1 mod 8)", big.NewInt(41)},
		{"p=97", big.NewInt(97)},
	}

	for _, tc := range primes {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.p.Int64()
			for n := int64(0); n < p; n++ {
				nn := big.NewInt(n)
				r, err := SqrtModPrime(nn, tc.p)

				if n != 0 && big.Jacobi(nn, tc.p) != 1 {
					require.Error(t, err)
					assert.True(t, errors.Is(err, ErrNonResidue), "n=%d", n)
					continue
				}

				require.NoError(t, err, "n=%d", n)
				sq := new(big.Int).Mul(r, r)
				sq.Mod(sq, tc.p)
				assert.Equal(t, n, sq.Int64(), "n=%d", n)

				// canonical root is the smaller of the pair
				other := new(big.Int).Sub(tc.p, r)
				assert.True(t, r.Cmp(other) <= 0 || r.Sign() == 0, "n=%d r=%s", n, r)
			}
		})
	}
}

func TestSqrtModPrimeBN254(t *testing.T) {
	p := fr.Modulus()

	t.Run("Squares", func(t *testing.T) {
		for i := 0; i < 32; i++ {
			var x fr.Element
			_, err := x.SetRandom()
			require.NoError(t, err)

			xb := x.BigInt(new(big.Int))
			n := new(big.Int).Mul(xb, xb)
			n.Mod(n, p)

			r, err := SqrtModPrime(n, p)
			require.NoError(t, err)

			sq := new(big.Int).Mul(r, r)
			assert.Equal(t, 0, sq.Mod(sq, p).Cmp(n))

			neg := new(big.Int).Sub(p, xb)
			assert.True(t, r.Cmp(xb) == 0 || r.Cmp(neg) == 0)
		}
	})

	t.Run("AgreesWithStdlib", func(t *testing.T) {
		n := big.NewInt(1 << 40)
		n.Add(n, big.NewInt(12345))
		want := new(big.Int).ModSqrt(n, p)
		got, err := SqrtModPrime(n, p)
		if want == nil {
			assert.True(t, errors.Is(err, ErrNonResidue))
			return
		}
		require.NoError(t, err)
		alt := new(big.Int).Sub(p, want)
		assert.True(t, got.Cmp(want) == 0 || got.Cmp(alt) == 0)
	})

	t.Run("KnownNonResidue", func(t *testing.T) {
		// 5 generates the multiplicative group of the BN254 scalar field
		_, err := SqrtModPrime(big.NewInt(5), p)
		assert.True(t, errors.Is(err, ErrNonResidue))
	})

	t.Run("ReducesInput", func(t *testing.T) {
		n := new(big.Int).Add(p, big.NewInt(4))
		r, err := SqrtModPrime(n, p)
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.Int64())
	})
}

func TestSqrtModPrimeInvalidModulus(t *testing.T) {
	for _, p := range []*big.Int{nil, big.NewInt(0), big.NewInt(1), big.NewInt(12)} {
		_, err := SqrtModPrime(big.NewInt(3), p)
		assert.True(t, errors.Is(err, ErrInvalidModulus), "p=%v", p)
	}

	r, err := SqrtModPrime(big.NewInt(3), big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Int64())
}
