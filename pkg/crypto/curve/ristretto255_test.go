package curve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRistrettoGenerateScalar(t *testing.T) {
	crv := NewRistretto255()

	scalar, err := crv.GenerateScalar()
	require.NoError(t, err)

	assert.NotNil(t, scalar.Bytes())
	assert.Positive(t, scalar.BigInt().Sign())
	assert.Negative(t, scalar.BigInt().Cmp(crv.Order()), "scalar should be reduced modulo curve order")
}

func TestRistrettoParsePointRejects(t *testing.T) {
	crv := NewRistretto255()

	_, err := crv.ParsePoint(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidPoint)

	// all zeros is the canonical identity encoding
	_, err = crv.ParsePoint(make([]byte, 32))
	assert.ErrorIs(t, err, ErrIdentityPoint)

	bad := make([]byte, 32)
	for i := range bad {
		bad[i] = 0xff
	}
	_, err = crv.ParsePoint(bad)
	assert.ErrorIs(t, err, ErrInvalidPoint)
}

func TestRistrettoScalarEndianness(t *testing.T) {
	crv := NewRistretto255()

	s, err := crv.GenerateScalar()
	require.NoError(t, err)

	parsed, err := crv.ParseScalar(s.Bytes())
	require.NoError(t, err)
	assert.Equal(t, s.Bytes(), parsed.Bytes())
	assert.True(t, crv.ScalarBaseMult(s).Equal(crv.ScalarBaseMult(parsed)))
}
