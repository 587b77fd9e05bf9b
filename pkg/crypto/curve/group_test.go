package curve

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allCurves() []Curve {
	return []Curve{NewBabyJubJub(), NewSecp256k1(), NewRistretto255()}
}

func TestGroupLaw(t *testing.T) {
	for _, crv := range allCurves() {
		crv := crv
		t.Run(crv.Name(), func(t *testing.T) {
			a, err := crv.GenerateScalar()
			require.NoError(t, err)
			b, err := crv.GenerateScalar()
			require.NoError(t, err)

			A := crv.ScalarBaseMult(a)
			B := crv.ScalarBaseMult(b)
			require.NoError(t, crv.ValidatePoint(A))

			t.Run("Homomorphic", func(t *testing.T) {
				sum := crv.NewScalar(new(big.Int).Add(a.BigInt(), b.BigInt()))
				assert.True(t, crv.Add(A, B).Equal(crv.ScalarBaseMult(sum)))
			})

			t.Run("ZeroScalar", func(t *testing.T) {
				zero := crv.NewScalar(big.NewInt(0))
				assert.True(t, crv.ScalarBaseMult(zero).IsIdentity())
				assert.True(t, crv.ScalarMult(A, zero).IsIdentity())
			})

			t.Run("Identity", func(t *testing.T) {
				id := crv.Identity()
				assert.True(t, id.IsIdentity())
				assert.True(t, crv.Add(A, id).Equal(A))
				assert.True(t, crv.Add(id, A).Equal(A))
				assert.ErrorIs(t, crv.ValidatePoint(id), ErrIdentityPoint)
			})

			t.Run("Neg", func(t *testing.T) {
				assert.True(t, crv.Add(A, crv.Neg(A)).IsIdentity())
				assert.True(t, Sub(crv, A, A).IsIdentity())
				assert.True(t, Sub(crv, crv.Add(A, B), B).Equal(A))
				assert.True(t, crv.Neg(crv.Identity()).IsIdentity())
			})

			t.Run("Sum", func(t *testing.T) {
				assert.True(t, Sum(crv).IsIdentity())
				assert.True(t, Sum(crv, A, B, crv.Neg(B)).Equal(A))
			})

			t.Run("NewScalarReduces", func(t *testing.T) {
				v := new(big.Int).Add(crv.Order(), big.NewInt(7))
				assert.Equal(t, int64(7), crv.NewScalar(v).BigInt().Int64())
				assert.True(t, crv.ScalarBaseMult(crv.NewScalar(crv.Order())).IsIdentity())
			})

			t.Run("SmallMultiples", func(t *testing.T) {
				one := crv.NewScalar(big.NewInt(1))
				G := crv.ScalarBaseMult(one)
				acc := crv.Identity()
				for i := int64(1); i <= 5; i++ {
					acc = crv.Add(acc, G)
					assert.True(t, acc.Equal(crv.ScalarBaseMult(crv.NewScalar(big.NewInt(i)))), "multiple %d", i)
				}
			})

			t.Run("ParseRoundTrip", func(t *testing.T) {
				parsed, err := crv.ParsePoint(A.Bytes())
				require.NoError(t, err)
				assert.True(t, parsed.Equal(A))

				s, err := crv.ParseScalar(a.Bytes())
				require.NoError(t, err)
				assert.Equal(t, 0, s.BigInt().Cmp(a.BigInt()))

				_, err = crv.ParseScalar(make([]byte, 32))
				assert.ErrorIs(t, err, ErrInvalidScalar)
				_, err = crv.ParseScalar([]byte{1})
				assert.ErrorIs(t, err, ErrInvalidScalar)
			})

			t.Run("ForeignTypes", func(t *testing.T) {
				for _, other := range allCurves() {
					if other.Name() == crv.Name() {
						continue
					}
					s, err := other.GenerateScalar()
					require.NoError(t, err)
					P := other.ScalarBaseMult(s)

					assert.Nil(t, crv.ScalarBaseMult(s))
					assert.Nil(t, crv.Add(A, P))
					assert.False(t, A.Equal(P))
					assert.ErrorIs(t, crv.ValidatePoint(P), ErrInvalidPoint)
				}
			})
		})
	}
}
