package curve

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromName(t *testing.T) {
	curves := map[string]string{
		"":             "babyjubjub",
		"babyjubjub":   "babyjubjub",
		"BJJ":          "babyjubjub",
		"secp256k1":    "secp256k1",
		"ristretto255": "ristretto255",
	}

	for input, expected := range curves {
		crv, err := FromName(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, expected, crv.Name())
	}

	_, err := FromName("unknown")
	assert.True(t, errors.Is(err, ErrUnsupportedCurve))
}

func TestSupportedCurvesResolve(t *testing.T) {
	for _, name := range SupportedCurves() {
		crv, err := FromName(name)
		require.NoError(t, err)
		assert.Equal(t, name, crv.Name())
	}
}
