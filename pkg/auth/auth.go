// Package auth implements the authority login: a compliance authority proves
// possession of the private key behind its configured public key with an
// interactive Schnorr proof and receives a short-lived access token for the
// audit endpoints.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
	"github.com/allsmog/zkaudit-go/pkg/crypto/elgamal"
	"github.com/allsmog/zkaudit-go/pkg/crypto/schnorr"
	"github.com/allsmog/zkaudit-go/pkg/jwt"
	"github.com/allsmog/zkaudit-go/pkg/storage"
)

// DefaultTokenTTL is the access token lifetime when none is configured.
const DefaultTokenTTL = 5 * time.Minute

// Handlers contains all authentication handlers
type Handlers struct {
	sessions    storage.SessionStore
	authority   *elgamal.Authority
	curve       curve.Curve
	tokenSigner jwt.TokenSigner
	config      Config
	log         *zap.Logger
}

// Config contains configuration for auth handlers
type Config struct {
	Issuer     string        // JWT issuer
	Audience   string        // JWT audience
	TokenTTL   time.Duration // JWT lifetime
	SessionTTL time.Duration // login session lifetime
}

// NewHandlers creates the login handlers for the authorities of authority.
func NewHandlers(sessions storage.SessionStore, authority *elgamal.Authority, tokenSigner jwt.TokenSigner, config Config, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = storage.DefaultSessionTTL
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	return &Handlers{
		sessions:    sessions,
		authority:   authority,
		curve:       authority.Curve(),
		tokenSigner: tokenSigner,
		config:      config,
		log:         log,
	}
}

// AuthoritiesResponse lists the configured authorities.
type AuthoritiesResponse struct {
	Curve       string   `json:"curve"`
	PublicKeys  []string `json:"public_keys"`  // hex, in authority order
	CombinedKey string   `json:"combined_key"` // hex
}

// StartCommitRequest opens a login with a commitment T.
type StartCommitRequest struct {
	PK string `json:"pk"` // authority public key (hex)
	T  string `json:"T"`  // commitment point (hex)
}

// StartCommitResponse carries the challenge for the commitment.
type StartCommitResponse struct {
	SessionID       string `json:"session_id"`
	AuthorityIndex  int    `json:"authority_index"`
	C               string `json:"c"`                // challenge scalar (hex)
	Audience        string `json:"aud"`              // bound into the challenge
	Timeslice       string `json:"timeslice"`        // RFC3339, bound into the challenge
	ServerEphemeral string `json:"server_ephemeral"` // hex, bound into the challenge
}

// CompleteRequest answers the challenge of a session.
type CompleteRequest struct {
	SessionID string `json:"session_id"`
	S         string `json:"s"` // response scalar (hex)
}

// CompleteResponse represents the token response
type CompleteResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authorities lists the authority public keys a login may use.
func (h *Handlers) Authorities(w http.ResponseWriter, r *http.Request) {
	keys := h.authority.PublicKeys()
	resp := AuthoritiesResponse{
		Curve:       h.curve.Name(),
		PublicKeys:  make([]string, len(keys)),
		CombinedKey: hex.EncodeToString(h.authority.CombinedPublicKey().Bytes()),
	}
	for i, k := range keys {
		resp.PublicKeys[i] = hex.EncodeToString(k.Bytes())
	}
	writeJSON(w, http.StatusOK, resp)
}

// StartCommit handles the commitment phase of the login.
func (h *Handlers) StartCommit(w http.ResponseWriter, r *http.Request) {
	var req StartCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	pkBytes, err := DecodeHex(req.PK)
	if err != nil {
		http.Error(w, "invalid public key format", http.StatusBadRequest)
		return
	}
	pk, err := h.curve.ParsePoint(pkBytes)
	if err != nil {
		http.Error(w, "invalid public key", http.StatusBadRequest)
		return
	}
	index := h.authority.IndexOf(pk)
	if index < 0 {
		http.Error(w, "public key is not a configured authority", http.StatusForbidden)
		return
	}

	TBytes, err := DecodeHex(req.T)
	if err != nil {
		http.Error(w, "invalid commitment format", http.StatusBadRequest)
		return
	}
	if _, err := h.curve.ParsePoint(TBytes); err != nil {
		http.Error(w, "invalid commitment", http.StatusBadRequest)
		return
	}

	timeslice := time.Now().UTC().Truncate(time.Minute)
	serverEphemeral := make([]byte, 32)
	if _, err := rand.Read(serverEphemeral); err != nil {
		h.log.Error("reading randomness", zap.Error(err))
		http.Error(w, "failed to generate randomness", http.StatusInternalServerError)
		return
	}

	binding := schnorr.Context{
		Audience:        h.config.Audience,
		AuthorityIndex:  index,
		Timeslice:       timeslice.Format(time.RFC3339),
		ServerEphemeral: serverEphemeral,
	}
	canonicalPK := pk.Bytes()
	challenge, err := schnorr.DeriveChallenge(h.curve, TBytes, canonicalPK, schnorr.DeriveContext(binding))
	if err != nil {
		// a zero challenge; the client retries with a new commitment
		http.Error(w, "commitment rejected, retry", http.StatusConflict)
		return
	}

	session := &storage.LoginSession{
		ID:              uuid.NewString(),
		AuthorityIndex:  index,
		PK:              hex.EncodeToString(canonicalPK),
		T:               TBytes,
		C:               challenge,
		Timeslice:       timeslice,
		ServerEphemeral: serverEphemeral,
	}
	if err := h.sessions.CreateSession(session); err != nil {
		h.log.Error("storing login session", zap.Error(err))
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	h.log.Debug("login challenge issued", zap.String("session", session.ID), zap.Int("authority", index))
	writeJSON(w, http.StatusOK, StartCommitResponse{
		SessionID:       session.ID,
		AuthorityIndex:  index,
		C:               hex.EncodeToString(challenge),
		Audience:        binding.Audience,
		Timeslice:       binding.Timeslice,
		ServerEphemeral: hex.EncodeToString(serverEphemeral),
	})
}

// Complete verifies the response and mints the access token. A session
// accepts exactly one response, right or wrong.
func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	session, err := h.sessions.GetSession(req.SessionID)
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("loading login session", zap.Error(err))
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	if session.Used {
		http.Error(w, "session already used", http.StatusConflict)
		return
	}
	if time.Since(session.CreatedAt) > h.config.SessionTTL {
		http.Error(w, "session expired", http.StatusGone)
		return
	}

	sBytes, err := DecodeHex(req.S)
	if err != nil {
		http.Error(w, "invalid response format", http.StatusBadRequest)
		return
	}

	if err := h.sessions.MarkSessionUsed(req.SessionID); err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionUsed):
			http.Error(w, "session already used", http.StatusConflict)
		case errors.Is(err, storage.ErrSessionNotFound):
			http.Error(w, "session expired", http.StatusGone)
		default:
			h.log.Error("marking login session", zap.Error(err))
			http.Error(w, "storage error", http.StatusInternalServerError)
		}
		return
	}

	pkBytes, err := hex.DecodeString(session.PK)
	if err != nil {
		h.log.Error("corrupt session public key", zap.String("session", session.ID), zap.Error(err))
		http.Error(w, "invalid session public key", http.StatusInternalServerError)
		return
	}

	result, err := schnorr.VerifySchnorr(h.curve, pkBytes, session.T, session.C, sBytes)
	if err != nil {
		h.log.Error("verifying login proof", zap.Error(err))
		http.Error(w, "verification error", http.StatusInternalServerError)
		return
	}
	if !result.Valid {
		h.log.Info("login rejected", zap.Int("authority", session.AuthorityIndex), zap.NamedError("reason", result.Error))
		http.Error(w, "invalid Schnorr proof", http.StatusUnauthorized)
		return
	}

	token, err := jwt.MintAuthorityToken(h.tokenSigner, jwt.AuthorityToken{
		Issuer:         h.config.Issuer,
		Audience:       h.config.Audience,
		AuthorityIndex: session.AuthorityIndex,
		PublicKey:      pkBytes,
		Group:          h.curve.Name(),
		Timeslice:      session.Timeslice,
		TTL:            h.config.TokenTTL,
	})
	if err != nil {
		h.log.Error("minting token", zap.Error(err))
		http.Error(w, "failed to mint token", http.StatusInternalServerError)
		return
	}

	h.log.Info("authority logged in", zap.Int("authority", session.AuthorityIndex))
	writeJSON(w, http.StatusOK, CompleteResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.config.TokenTTL.Seconds()),
	})
}

// JWKS returns the public keys for JWT verification
func (h *Handlers) JWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, h.tokenSigner.JWKS())
}

// DecodeHex decodes hex with an optional 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, errors.New("empty hex string")
	}
	b, err := hex.DecodeString(s)
	return b, errors.Wrap(err, "decoding hex")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
