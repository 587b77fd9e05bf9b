package dlog

import (
	"context"
	"math/big"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
)

func mulG(crv curve.Curve, m int64) curve.Point {
	return crv.ScalarBaseMult(crv.NewScalar(big.NewInt(m)))
}

func TestBruteForceRecoversAllInRange(t *testing.T) {
	const n = 256

	for _, crv := range []curve.Curve{curve.NewBabyJubJub(), curve.NewSecp256k1(), curve.NewRistretto255()} {
		crv := crv
		t.Run(crv.Name(), func(t *testing.T) {
			for m := int64(0); m < n; m += 17 {
				got, err := BruteForce(context.Background(), crv, mulG(crv, m), Range(n))
				require.NoError(t, err)
				assert.Equal(t, m, got.Int64())
			}
		})
	}
}

func TestBruteForceZeroIsDistinct(t *testing.T) {
	crv := curve.NewBabyJubJub()

	got, err := BruteForce(context.Background(), crv, crv.Identity(), Range(10))
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Int64())
}

func TestBruteForceNoMatch(t *testing.T) {
	crv := curve.NewBabyJubJub()
	const n = 100

	_, err := BruteForce(context.Background(), crv, mulG(crv, n), Range(n))
	assert.ErrorIs(t, err, ErrNoMatchFound)
	assert.False(t, errors.Is(err, ErrSearchAborted))

	_, err = BruteForce(context.Background(), crv, mulG(crv, 1), Range(0))
	assert.ErrorIs(t, err, ErrNoMatchFound)
}

func TestBruteForceBudget(t *testing.T) {
	crv := curve.NewBabyJubJub()

	_, err := BruteForce(context.Background(), crv, mulG(crv, 50), Range(100), WithMaxIterations(10))
	assert.ErrorIs(t, err, ErrSearchAborted)
	assert.False(t, errors.Is(err, ErrNoMatchFound))

	// the budget covers exactly the candidates needed
	got, err := BruteForce(context.Background(), crv, mulG(crv, 9), Range(100), WithMaxIterations(10))
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Int64())
}

func TestBruteForceContext(t *testing.T) {
	crv := curve.NewBabyJubJub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BruteForce(ctx, crv, mulG(crv, 5), Range(100))
	assert.ErrorIs(t, err, ErrSearchAborted)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBruteForceValues(t *testing.T) {
	crv := curve.NewBabyJubJub()
	domain := []*big.Int{big.NewInt(1000), big.NewInt(5), big.NewInt(6), big.NewInt(77)}

	for _, v := range domain {
		got, err := BruteForce(context.Background(), crv, crv.ScalarBaseMult(crv.NewScalar(v)), Values(domain...))
		require.NoError(t, err)
		assert.Equal(t, 0, got.Cmp(v))
	}

	_, err := BruteForce(context.Background(), crv, mulG(crv, 4), Values(domain...))
	assert.ErrorIs(t, err, ErrNoMatchFound)
}

func TestRangeIsFreshPerCall(t *testing.T) {
	g1 := Range(3)
	g2 := Range(3)

	v, ok := g1.Next()
	require.True(t, ok)
	assert.Equal(t, int64(0), v.Int64())
	v, _ = g1.Next()
	assert.Equal(t, int64(1), v.Int64())

	v, ok = g2.Next()
	require.True(t, ok)
	assert.Equal(t, int64(0), v.Int64(), "second range must not share state")

	v, _ = g1.Next()
	assert.Equal(t, int64(2), v.Int64())
	_, ok = g1.Next()
	assert.False(t, ok)

	// mutating a yielded value must not disturb the sequence
	v, _ = g2.Next()
	v.SetInt64(100)
	v, _ = g2.Next()
	assert.Equal(t, int64(2), v.Int64())
}

func TestRangeBig(t *testing.T) {
	g := RangeBig(big.NewInt(2))
	var got []int64
	for v, ok := g.Next(); ok; v, ok = g.Next() {
		got = append(got, v.Int64())
	}
	assert.Equal(t, []int64{0, 1}, got)

	_, ok := RangeBig(nil).Next()
	assert.False(t, ok)
	_, ok = Range(-5).Next()
	assert.False(t, ok)
}

func BenchmarkBruteForce(b *testing.B) {
	crv := curve.NewBabyJubJub()
	target := mulG(crv, 4095)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := BruteForce(context.Background(), crv, target, Range(4096)); err != nil {
			b.Fatal(err)
		}
	}
}
