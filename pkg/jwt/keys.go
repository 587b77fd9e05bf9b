package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// ErrNotES256Key is returned when a key file holds anything other than a
// P-256 ECDSA private key.
var ErrNotES256Key = errors.New("signing key is not an ES256 key")

const ecPrivateKeyBlock = "EC PRIVATE KEY"

// GenerateES256KeyPair generates a new ECDSA P-256 key pair
func GenerateES256KeyPair() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate signing key")
	}
	return key, nil
}

// SavePrivateKeyPEM writes key as an SEC 1 PEM block readable only by the owner.
func SavePrivateKeyPEM(key *ecdsa.PrivateKey, filename string) error {
	if key == nil || key.Curve != elliptic.P256() {
		return ErrNotES256Key
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return errors.Wrap(err, "failed to marshal signing key")
	}
	data := pem.EncodeToMemory(&pem.Block{Type: ecPrivateKeyBlock, Bytes: der})
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to write key file")
	}
	return nil
}

// LoadPrivateKeyPEM reads a P-256 key stored either as SEC 1 or PKCS #8.
func LoadPrivateKeyPEM(filename string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key file")
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.Newf("%s: no PEM block", filename)
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case ecPrivateKeyBlock:
		key, err = x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse EC key")
		}
	case "PRIVATE KEY":
		raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse PKCS #8 key")
		}
		ec, ok := raw.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.Wrapf(ErrNotES256Key, "found %T", raw)
		}
		key = ec
	default:
		return nil, errors.Wrapf(ErrNotES256Key, "PEM block %q", block.Type)
	}

	if key.Curve != elliptic.P256() {
		return nil, errors.Wrapf(ErrNotES256Key, "curve %s", key.Curve.Params().Name)
	}
	return key, nil
}

// KeyConfig is the JSON sidecar stored next to the signing key.
type KeyConfig struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Issuer    string `json:"issuer"`
}

// SaveKeyConfig writes config as indented JSON.
func SaveKeyConfig(config *KeyConfig, filename string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal key config")
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to write key config")
	}
	return nil
}

// LoadKeyConfig reads a sidecar written by SaveKeyConfig. A missing alg is
// read as ES256; any other value is rejected.
func LoadKeyConfig(filename string) (*KeyConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key config")
	}
	var config KeyConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal key config")
	}
	switch config.Algorithm {
	case "":
		config.Algorithm = "ES256"
	case "ES256":
	default:
		return nil, errors.Wrapf(ErrNotES256Key, "key config alg %q", config.Algorithm)
	}
	return &config, nil
}

// NewES256SignerFromFile builds a signer from a key file and its sidecar.
func NewES256SignerFromFile(keyFile, configFile string) (*ES256Signer, error) {
	key, err := LoadPrivateKeyPEM(keyFile)
	if err != nil {
		return nil, err
	}
	config, err := LoadKeyConfig(configFile)
	if err != nil {
		return nil, err
	}
	return NewES256Signer(key, config.KeyID, config.Issuer)
}

func writeSignerFiles(keyID, issuer, keyFile, configFile string) error {
	for _, dir := range []string{filepath.Dir(keyFile), filepath.Dir(configFile)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrap(err, "failed to create key directory")
		}
	}
	key, err := GenerateES256KeyPair()
	if err != nil {
		return err
	}
	if err := SavePrivateKeyPEM(key, keyFile); err != nil {
		return err
	}
	return SaveKeyConfig(&KeyConfig{Algorithm: "ES256", KeyID: keyID, Issuer: issuer}, configFile)
}

// LoadOrGenerateSigner loads the signer from keyFile and configFile,
// generating both first when keyFile does not exist.
func LoadOrGenerateSigner(keyFile, configFile, keyID, issuer string) (signer *ES256Signer, generated bool, err error) {
	if _, err := os.Stat(keyFile); errors.Is(err, os.ErrNotExist) {
		if err := writeSignerFiles(keyID, issuer, keyFile, configFile); err != nil {
			return nil, false, err
		}
		generated = true
	} else if err != nil {
		return nil, false, errors.Wrap(err, "failed to stat key file")
	}

	signer, err = NewES256SignerFromFile(keyFile, configFile)
	return signer, generated, err
}
