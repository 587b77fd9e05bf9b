// Package jwt mints and verifies the ES256 access tokens issued to
// compliance authorities after a successful Schnorr login.
package jwt

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// SchemeSchnorr is the login scheme recorded in the token.
const SchemeSchnorr = "schnorr-id"

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidAudience  = errors.New("invalid audience")
	ErrMissingAuthority = errors.New("token carries no authority claim")
)

// TokenSigner defines the interface for JWT signing
type TokenSigner interface {
	// Sign creates a JWT with the given claims
	Sign(claims map[string]interface{}) (string, error)

	// JWKS returns the public keys for JWT verification
	JWKS() jwk.Set

	// Algorithm returns the signing algorithm
	Algorithm() string
}

// TokenVerifier defines the interface for JWT verification
type TokenVerifier interface {
	Verify(token string, expectedAudience string) (*Claims, error)
}

// Claims are the claims of an authority access token.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  string
	IssuedAt  int64
	ExpiresAt int64
	Authority *AuthorityClaims
	Extra     map[string]interface{}
}

// AuthorityClaims identify the authority slot a token was issued for.
type AuthorityClaims struct {
	Index     int    `json:"idx"`
	PKHash    string `json:"pk_hash"` // base64url SHA-256 of the authority public key
	Scheme    string `json:"scheme"`
	Group     string `json:"grp"`
	Timeslice string `json:"ts"`
}

// ES256Signer implements JWT signing using ECDSA P-256
type ES256Signer struct {
	privateKey *ecdsa.PrivateKey
	keyID      string
	issuer     string
	jwks       jwk.Set
}

// NewES256Signer creates a new ES256 JWT signer
func NewES256Signer(privateKey *ecdsa.PrivateKey, keyID, issuer string) (*ES256Signer, error) {
	publicJWK, err := jwk.FromRaw(&privateKey.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create JWK from public key")
	}
	if err := publicJWK.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, errors.Wrap(err, "failed to set key ID")
	}
	if err := publicJWK.Set(jwk.AlgorithmKey, "ES256"); err != nil {
		return nil, errors.Wrap(err, "failed to set algorithm")
	}
	if err := publicJWK.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, errors.Wrap(err, "failed to set key usage")
	}

	jwks := jwk.NewSet()
	if err := jwks.AddKey(publicJWK); err != nil {
		return nil, errors.Wrap(err, "failed to build JWKS")
	}

	return &ES256Signer{
		privateKey: privateKey,
		keyID:      keyID,
		issuer:     issuer,
		jwks:       jwks,
	}, nil
}

// Sign creates a JWT with the given claims
func (s *ES256Signer) Sign(claims map[string]interface{}) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims(claims))
	token.Header["kid"] = s.keyID

	tokenString, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign JWT")
	}
	return tokenString, nil
}

// JWKS returns the public keys for JWT verification
func (s *ES256Signer) JWKS() jwk.Set {
	return s.jwks
}

// Algorithm returns the signing algorithm
func (s *ES256Signer) Algorithm() string {
	return "ES256"
}

// Issuer returns the configured issuer.
func (s *ES256Signer) Issuer() string {
	return s.issuer
}

// JWTVerifier verifies tokens against an issuer key set.
type JWTVerifier struct {
	issuerJWKS jwk.Set
}

// NewJWTVerifier creates a new JWT verifier
func NewJWTVerifier(issuerJWKS jwk.Set) *JWTVerifier {
	return &JWTVerifier{issuerJWKS: issuerJWKS}
}

// Verify checks signature, expiry and audience and returns the claims.
func (v *JWTVerifier) Verify(tokenString string, expectedAudience string) (*Claims, error) {
	return v.verify(tokenString, expectedAudience, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("missing key ID")
		}
		key, ok := v.issuerJWKS.LookupKeyID(kid)
		if !ok {
			return nil, errors.Newf("key not found: %s", kid)
		}

		var publicKey interface{}
		if err := key.Raw(&publicKey); err != nil {
			return nil, errors.Wrap(err, "failed to extract public key")
		}
		return publicKey, nil
	})
}

// VerifyWithKey verifies a JWT using a specific key
func (v *JWTVerifier) VerifyWithKey(tokenString string, expectedAudience string, publicKey interface{}) (*Claims, error) {
	return v.verify(tokenString, expectedAudience, func(*jwt.Token) (interface{}, error) {
		return publicKey, nil
	})
}

func (v *JWTVerifier) verify(tokenString, expectedAudience string, keyFunc jwt.Keyfunc) (*Claims, error) {
	token, err := jwt.Parse(tokenString, keyFunc, jwt.WithValidMethods([]string{"ES256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Wrap(errors.Join(ErrInvalidToken, err), "failed to parse JWT")
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claimsMap, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Wrap(ErrInvalidToken, "unexpected claims type")
	}

	aud, ok := claimsMap["aud"].(string)
	if !ok {
		return nil, errors.Wrap(ErrInvalidAudience, "missing audience claim")
	}
	if aud != expectedAudience {
		return nil, errors.Wrapf(ErrInvalidAudience, "expected %s, got %s", expectedAudience, aud)
	}

	return parseClaimsMap(claimsMap), nil
}

// parseClaimsMap parses JWT claims map into structured Claims
func parseClaimsMap(claimsMap jwt.MapClaims) *Claims {
	claims := &Claims{Extra: make(map[string]interface{})}

	if iss, ok := claimsMap["iss"].(string); ok {
		claims.Issuer = iss
	}
	if sub, ok := claimsMap["sub"].(string); ok {
		claims.Subject = sub
	}
	if aud, ok := claimsMap["aud"].(string); ok {
		claims.Audience = aud
	}
	if iat, ok := claimsMap["iat"].(float64); ok {
		claims.IssuedAt = int64(iat)
	}
	if exp, ok := claimsMap["exp"].(float64); ok {
		claims.ExpiresAt = int64(exp)
	}

	if raw, ok := claimsMap["authority"].(map[string]interface{}); ok {
		a := &AuthorityClaims{}
		if idx, ok := raw["idx"].(float64); ok {
			a.Index = int(idx)
		}
		if h, ok := raw["pk_hash"].(string); ok {
			a.PKHash = h
		}
		if scheme, ok := raw["scheme"].(string); ok {
			a.Scheme = scheme
		}
		if grp, ok := raw["grp"].(string); ok {
			a.Group = grp
		}
		if ts, ok := raw["ts"].(string); ok {
			a.Timeslice = ts
		}
		claims.Authority = a
	}

	for k, v := range claimsMap {
		switch k {
		case "iss", "sub", "aud", "iat", "exp", "authority":
		default:
			claims.Extra[k] = v
		}
	}
	return claims
}

// HashPublicKey returns the pk_hash claim value for pk.
func HashPublicKey(pk []byte) string {
	sum := sha256.Sum256(pk)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AuthorityToken describes a token to mint for a logged-in authority.
type AuthorityToken struct {
	Issuer         string
	Audience       string
	AuthorityIndex int
	PublicKey      []byte
	Group          string
	Timeslice      time.Time
	TTL            time.Duration
}

// MintAuthorityToken signs an access token for t.
func MintAuthorityToken(signer TokenSigner, t AuthorityToken) (string, error) {
	now := time.Now()

	claims := map[string]interface{}{
		"iss": t.Issuer,
		"sub": GeneratePairwiseSubject(t.PublicKey, t.Audience),
		"aud": t.Audience,
		"iat": now.Unix(),
		"exp": now.Add(t.TTL).Unix(),
		"authority": map[string]interface{}{
			"idx":     t.AuthorityIndex,
			"pk_hash": HashPublicKey(t.PublicKey),
			"scheme":  SchemeSchnorr,
			"grp":     t.Group,
			"ts":      t.Timeslice.UTC().Format(time.RFC3339),
		},
	}
	return signer.Sign(claims)
}

// GeneratePairwiseSubject derives an opaque per-audience subject from pk.
func GeneratePairwiseSubject(pk []byte, audience string) string {
	h := sha256.New()
	h.Write([]byte("zkaudit/1/sub"))
	h.Write(pk)
	h.Write([]byte(audience))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
