package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePEM(t *testing.T, file, blockType string, der []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(file, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0o600))
}

func TestGenerateES256KeyPair(t *testing.T) {
	privateKey, err := GenerateES256KeyPair()
	require.NoError(t, err)

	assert.Equal(t, elliptic.P256(), privateKey.Curve)
	assert.True(t, privateKey.Curve.IsOnCurve(privateKey.X, privateKey.Y))
}

func TestSaveLoadPrivateKeyPEM(t *testing.T) {
	dir := t.TempDir()

	t.Run("SEC1", func(t *testing.T) {
		file := filepath.Join(dir, "ec.pem")
		original, err := GenerateES256KeyPair()
		require.NoError(t, err)
		require.NoError(t, SavePrivateKeyPEM(original, file))

		loaded, err := LoadPrivateKeyPEM(file)
		require.NoError(t, err)
		assert.Equal(t, 0, original.D.Cmp(loaded.D))

		info, err := os.Stat(file)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("PKCS8", func(t *testing.T) {
		file := filepath.Join(dir, "pkcs8.pem")
		original, err := GenerateES256KeyPair()
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(original)
		require.NoError(t, err)
		writePEM(t, file, "PRIVATE KEY", der)

		loaded, err := LoadPrivateKeyPEM(file)
		require.NoError(t, err)
		assert.Equal(t, 0, original.D.Cmp(loaded.D))
	})

	t.Run("WrongCurve", func(t *testing.T) {
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		require.NoError(t, err)
		assert.ErrorIs(t, SavePrivateKeyPEM(key, filepath.Join(dir, "p384.pem")), ErrNotES256Key)

		der, err := x509.MarshalECPrivateKey(key)
		require.NoError(t, err)
		file := filepath.Join(dir, "p384-raw.pem")
		writePEM(t, file, "EC PRIVATE KEY", der)
		_, err = LoadPrivateKeyPEM(file)
		assert.ErrorIs(t, err, ErrNotES256Key)
	})

	t.Run("RSAInPKCS8", func(t *testing.T) {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		file := filepath.Join(dir, "rsa.pem")
		writePEM(t, file, "PRIVATE KEY", der)

		_, err = LoadPrivateKeyPEM(file)
		assert.ErrorIs(t, err, ErrNotES256Key)
	})

	t.Run("UnknownBlock", func(t *testing.T) {
		file := filepath.Join(dir, "cert.pem")
		writePEM(t, file, "CERTIFICATE", []byte{1, 2, 3})
		_, err := LoadPrivateKeyPEM(file)
		assert.ErrorIs(t, err, ErrNotES256Key)
	})

	t.Run("Garbage", func(t *testing.T) {
		file := filepath.Join(dir, "garbage.pem")
		require.NoError(t, os.WriteFile(file, []byte("not pem"), 0o600))
		_, err := LoadPrivateKeyPEM(file)
		assert.Error(t, err)

		_, err = LoadPrivateKeyPEM(filepath.Join(dir, "missing.pem"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("NilKey", func(t *testing.T) {
		assert.ErrorIs(t, SavePrivateKeyPEM(nil, filepath.Join(dir, "nil.pem")), ErrNotES256Key)
	})
}

func TestSaveLoadKeyConfig(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "config.json")
	original := &KeyConfig{Algorithm: "ES256", KeyID: "k1", Issuer: "https://auditd.example"}
	require.NoError(t, SaveKeyConfig(original, file))

	loaded, err := LoadKeyConfig(file)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)

	legacy := filepath.Join(dir, "legacy.json")
	require.NoError(t, os.WriteFile(legacy, []byte(`{"kid":"k0","issuer":"i"}`), 0o600))
	loaded, err = LoadKeyConfig(legacy)
	require.NoError(t, err)
	assert.Equal(t, "ES256", loaded.Algorithm)

	rs := filepath.Join(dir, "rs256.json")
	require.NoError(t, os.WriteFile(rs, []byte(`{"alg":"RS256","kid":"r1"}`), 0o600))
	_, err = LoadKeyConfig(rs)
	assert.ErrorIs(t, err, ErrNotES256Key)
}

func TestLoadOrGenerateSigner(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "keys", "signing.pem")
	configFile := filepath.Join(dir, "conf", "signing.json")

	first, generated, err := LoadOrGenerateSigner(keyFile, configFile, "k1", "issuer")
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Equal(t, "issuer", first.Issuer())

	second, generated, err := LoadOrGenerateSigner(keyFile, configFile, "ignored", "ignored")
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, 0, first.privateKey.D.Cmp(second.privateKey.D))
	_, ok := second.JWKS().LookupKeyID("k1")
	assert.True(t, ok)
}

func TestNewES256SignerFromFileRejectsForeignKey(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "rsa.pem")
	configFile := filepath.Join(dir, "rsa.json")

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	writePEM(t, keyFile, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	require.NoError(t, SaveKeyConfig(&KeyConfig{KeyID: "r1", Issuer: "issuer"}, configFile))

	_, err = NewES256SignerFromFile(keyFile, configFile)
	assert.ErrorIs(t, err, ErrNotES256Key)
}
