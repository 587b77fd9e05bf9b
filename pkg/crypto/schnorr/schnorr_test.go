package schnorr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
)

var testContext = Context{
	Audience:        "zkaudit",
	AuthorityIndex:  1,
	Timeslice:       "2024-01-01T12:00:00Z",
	ServerEphemeral: []byte("server-ephemeral"),
}

func allCurves() []curve.Curve {
	return []curve.Curve{curve.NewBabyJubJub(), curve.NewSecp256k1(), curve.NewRistretto255()}
}

func TestSchnorrVerification(t *testing.T) {
	for _, crv := range allCurves() {
		crv := crv
		t.Run(crv.Name(), func(t *testing.T) {
			privateKey, err := crv.GenerateScalar()
			require.NoError(t, err)
			publicKeyBytes := crv.ScalarBaseMult(privateKey).Bytes()

			t.Run("ValidProof", func(t *testing.T) {
				T, r, err := GenerateCommitment(crv)
				require.NoError(t, err)

				challenge, err := DeriveChallenge(crv, T, publicKeyBytes, DeriveContext(testContext))
				require.NoError(t, err)
				challengeScalar, err := crv.ParseScalar(challenge)
				require.NoError(t, err)

				response, err := ComputeResponse(crv, r, challengeScalar, privateKey)
				require.NoError(t, err)

				result, err := VerifySchnorr(crv, publicKeyBytes, T, challenge, response.Bytes())
				require.NoError(t, err)
				assert.True(t, result.Valid)
				assert.NoError(t, result.Error)
			})

			t.Run("CorruptedResponse", func(t *testing.T) {
				T, r, err := GenerateCommitment(crv)
				require.NoError(t, err)

				response, err := Respond(crv, privateKey, T, r, testContext)
				require.NoError(t, err)

				responseBytes := response.Bytes()
				responseBytes[len(responseBytes)-1] ^= 1

				err = Verify(crv, publicKeyBytes, T, responseBytes, testContext)
				assert.ErrorIs(t, err, ErrInvalidProof)
			})

			t.Run("WrongPublicKey", func(t *testing.T) {
				other, err := crv.GenerateScalar()
				require.NoError(t, err)
				otherPK := crv.ScalarBaseMult(other).Bytes()

				T, r, err := GenerateCommitment(crv)
				require.NoError(t, err)
				response, err := Respond(crv, privateKey, T, r, testContext)
				require.NoError(t, err)

				err = Verify(crv, otherPK, T, response.Bytes(), testContext)
				assert.ErrorIs(t, err, ErrInvalidProof)
			})
		})
	}
}

func TestFullVerifySchnorr(t *testing.T) {
	crv := curve.NewBabyJubJub()

	privateKey, err := crv.GenerateScalar()
	require.NoError(t, err)
	publicKeyBytes := crv.ScalarBaseMult(privateKey).Bytes()

	T, r, err := GenerateCommitment(crv)
	require.NoError(t, err)
	response, err := Respond(crv, privateKey, T, r, testContext)
	require.NoError(t, err)

	result, err := FullVerifySchnorr(crv, publicKeyBytes, T, response.Bytes(), testContext)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, DeriveContext(testContext), result.Context)
	require.NoError(t, Verify(crv, publicKeyBytes, T, response.Bytes(), testContext))

	// every context field is bound into the proof
	mutations := map[string]func(c *Context){
		"Audience":        func(c *Context) { c.Audience = "other" },
		"AuthorityIndex":  func(c *Context) { c.AuthorityIndex = 2 },
		"Timeslice":       func(c *Context) { c.Timeslice = "2024-01-01T12:01:00Z" },
		"ServerEphemeral": func(c *Context) { c.ServerEphemeral = []byte("different") },
	}
	for name, mutate := range mutations {
		c := testContext
		mutate(&c)
		err := Verify(crv, publicKeyBytes, T, response.Bytes(), c)
		assert.ErrorIs(t, err, ErrInvalidProof, "changing %s must invalidate the proof", name)
	}
}

func TestDeriveContextUnambiguous(t *testing.T) {
	a := DeriveContext(Context{Audience: "ab", Timeslice: "c"})
	b := DeriveContext(Context{Audience: "a", Timeslice: "bc"})
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}

func TestVerifyRejectsMalformedInputs(t *testing.T) {
	crv := curve.NewBabyJubJub()
	privateKey, err := crv.GenerateScalar()
	require.NoError(t, err)
	pk := crv.ScalarBaseMult(privateKey).Bytes()

	T, r, err := GenerateCommitment(crv)
	require.NoError(t, err)
	response, err := Respond(crv, privateKey, T, r, testContext)
	require.NoError(t, err)

	cases := map[string]struct {
		pk, T, s []byte
	}{
		"IdentityPublicKey": {crv.Identity().Bytes(), T, response.Bytes()},
		"GarbageCommitment": {pk, []byte{1, 2, 3}, response.Bytes()},
		"ShortResponse":     {pk, T, []byte{1}},
		"ZeroResponse":      {pk, T, make([]byte, 32)},
	}
	for name, tc := range cases {
		result, err := FullVerifySchnorr(crv, tc.pk, tc.T, tc.s, testContext)
		require.NoError(t, err, name)
		assert.False(t, result.Valid, name)
		assert.Error(t, result.Error, name)
	}
}

func TestComputeResponseEquation(t *testing.T) {
	crv := curve.NewSecp256k1()

	x, err := crv.GenerateScalar()
	require.NoError(t, err)
	T, r, err := GenerateCommitment(crv)
	require.NoError(t, err)
	c, err := crv.GenerateScalar()
	require.NoError(t, err)

	s, err := ComputeResponse(crv, r, c, x)
	require.NoError(t, err)

	Tp, err := crv.ParsePoint(T)
	require.NoError(t, err)
	left := crv.ScalarBaseMult(s)
	right := crv.Add(Tp, crv.ScalarMult(crv.ScalarBaseMult(x), c))
	assert.True(t, left.Equal(right))
}
