// Package audit serves the compliance API: whitelist membership paths for
// transaction builders, key-share provisioning for logged-in authorities and
// decryption of logged transactions once every share is in place.
package audit

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
	"github.com/allsmog/zkaudit-go/pkg/crypto/elgamal"
	"github.com/allsmog/zkaudit-go/pkg/eventlog"
	"github.com/allsmog/zkaudit-go/pkg/middleware"
	"github.com/allsmog/zkaudit-go/pkg/whitelist"
)

// DefaultMaxBatch caps the events of one batch request.
const DefaultMaxBatch = 256

// maxBody caps request bodies.
const maxBody = 4 << 20

// Registry adds and removes whitelist leaves. Only the in-memory development
// tree implements it; the ledger contract is administered on chain.
type Registry interface {
	Insert(key *big.Int) (uint64, error)
	Remove(key *big.Int) error
}

// Option configures Handlers.
type Option func(*Handlers)

// WithRegistry enables the whitelist administration endpoints.
func WithRegistry(reg Registry) Option {
	return func(h *Handlers) {
		h.registry = reg
	}
}

// WithMaxBatch caps the events of one batch request.
func WithMaxBatch(n int) Option {
	return func(h *Handlers) {
		h.maxBatch = n
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Handlers) {
		h.log = log
	}
}

// Handlers implements the compliance endpoints.
type Handlers struct {
	paths     *whitelist.Client
	decryptor *eventlog.Decryptor
	book      *ShareBook
	crv       curve.Curve
	codec     curve.FieldCodec
	registry  Registry
	maxBatch  int
	log       *zap.Logger
}

// NewHandlers wires the compliance endpoints. The book's authority curve
// must implement curve.FieldCodec.
func NewHandlers(paths *whitelist.Client, decryptor *eventlog.Decryptor, book *ShareBook, opts ...Option) (*Handlers, error) {
	crv := book.Authority().Curve()
	codec, ok := crv.(curve.FieldCodec)
	if !ok {
		return nil, errors.Wrapf(eventlog.ErrNoFieldCodec, "%s", crv.Name())
	}

	h := &Handlers{
		paths:     paths,
		decryptor: decryptor,
		book:      book,
		crv:       crv,
		codec:     codec,
		maxBatch:  DefaultMaxBatch,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Mount registers the routes on r. gate guards the authority-only routes.
func (h *Handlers) Mount(r chi.Router, gate func(http.Handler) http.Handler) {
	r.Get("/whitelist/paths/{key}", h.Path)

	r.Group(func(r chi.Router) {
		r.Use(gate)

		if h.registry != nil {
			r.Post("/whitelist/keys", h.Whitelist)
			r.Delete("/whitelist/keys/{key}", h.Unwhitelist)
		}

		r.Get("/audit/shares", h.Shares)
		r.Put("/audit/shares", h.SubmitShare)
		r.Delete("/audit/shares", h.RevokeShare)
		r.Post("/audit/decrypt", h.Decrypt)
		r.Post("/audit/decrypt/batch", h.DecryptBatch)
	})
}

// PathResponse is a membership path. Nodes are field elements.
type PathResponse struct {
	Key       *big.Int   `json:"key"`
	LeafIndex uint64     `json:"leaf_index"`
	NodeIndex uint64     `json:"node_index"`
	Root      *big.Int   `json:"root"`
	Siblings  []*big.Int `json:"siblings"` // leaf level first
}

// Path returns the membership path of a whitelist key, given in decimal or
// 0x-prefixed hex.
func (h *Handlers) Path(w http.ResponseWriter, r *http.Request) {
	key, ok := new(big.Int).SetString(chi.URLParam(r, "key"), 0)
	if !ok || key.Sign() < 0 {
		http.Error(w, "invalid whitelist key", http.StatusBadRequest)
		return
	}

	path, err := h.paths.MembershipPath(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PathResponse{
		Key:       whitelist.Canonicalize(key),
		LeafIndex: path.LeafIndex,
		NodeIndex: path.NodeIndex,
		Root:      path.Root(),
		Siblings:  path.Siblings(),
	})
}

// WhitelistRequest registers a participant public key.
type WhitelistRequest struct {
	PublicKey string `json:"public_key"` // hex
}

// WhitelistResponse reports the leaf a key was stored in.
type WhitelistResponse struct {
	Key       *big.Int `json:"key"`
	LeafIndex uint64   `json:"leaf_index"`
}

// Whitelist stores the compressed public key in the next free leaf.
func (h *Handlers) Whitelist(w http.ResponseWriter, r *http.Request) {
	var req WhitelistRequest
	if !decode(w, r, &req) {
		return
	}

	raw, err := decodeHex(req.PublicKey)
	if err != nil {
		http.Error(w, "invalid public key format", http.StatusBadRequest)
		return
	}
	pk, err := h.crv.ParsePoint(raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key, err := h.codec.CompressPoint(pk)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key = whitelist.Canonicalize(key)

	leaf, err := h.registry.Insert(key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, WhitelistResponse{Key: key, LeafIndex: leaf})
}

// Unwhitelist clears the leaf of a key.
func (h *Handlers) Unwhitelist(w http.ResponseWriter, r *http.Request) {
	key, ok := new(big.Int).SetString(chi.URLParam(r, "key"), 0)
	if !ok || key.Sign() < 0 {
		http.Error(w, "invalid whitelist key", http.StatusBadRequest)
		return
	}
	if err := h.registry.Remove(key); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SharesResponse reports provisioning progress.
type SharesResponse struct {
	Complete bool          `json:"complete"`
	Shares   []ShareStatus `json:"shares"`
}

// Shares lists which authorities have a live share.
func (h *Handlers) Shares(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SharesResponse{Complete: h.book.Complete(), Shares: h.book.Status()})
}

// ShareRequest carries the caller's private share.
type ShareRequest struct {
	Share string `json:"share"` // hex scalar
}

// SubmitShare installs the calling authority's share.
func (h *Handlers) SubmitShare(w http.ResponseWriter, r *http.Request) {
	index, ok := middleware.AuthorityIndex(r)
	if !ok {
		http.Error(w, "authority token required", http.StatusForbidden)
		return
	}

	var req ShareRequest
	if !decode(w, r, &req) {
		return
	}
	raw, err := decodeHex(req.Share)
	if err != nil {
		http.Error(w, "invalid share format", http.StatusBadRequest)
		return
	}
	sk, err := h.crv.ParseScalar(raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.book.Submit(index, sk); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SharesResponse{Complete: h.book.Complete(), Shares: h.book.Status()})
}

// RevokeShare drops the calling authority's share.
func (h *Handlers) RevokeShare(w http.ResponseWriter, r *http.Request) {
	index, ok := middleware.AuthorityIndex(r)
	if !ok {
		http.Error(w, "authority token required", http.StatusForbidden)
		return
	}
	if err := h.book.Revoke(index); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Decrypt recovers the hidden values of one logged transaction.
func (h *Handlers) Decrypt(w http.ResponseWriter, r *http.Request) {
	var ev eventlog.Event
	if !decode(w, r, &ev) {
		return
	}
	if err := h.ready(); err != nil {
		h.fail(w, r, err)
		return
	}

	rec, err := h.decryptor.Decrypt(r.Context(), ev)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// BatchRequest is a list of logged transactions.
type BatchRequest struct {
	Events []eventlog.Event `json:"events"`
}

// BatchResult is the outcome of one event of a batch.
type BatchResult struct {
	Record *eventlog.Record `json:"record,omitempty"`
	Status int              `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// DecryptBatch decrypts many transactions; failures are reported per event.
func (h *Handlers) DecryptBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		http.Error(w, "no events", http.StatusBadRequest)
		return
	}
	if len(req.Events) > h.maxBatch {
		http.Error(w, "too many events", http.StatusRequestEntityTooLarge)
		return
	}
	if err := h.ready(); err != nil {
		h.fail(w, r, err)
		return
	}

	results, err := h.decryptor.DecryptBatch(r.Context(), req.Events)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]BatchResult, len(results))
	for i, res := range results {
		if res.Err != nil {
			status, msg := statusFor(res.Err)
			out[i] = BatchResult{Status: status, Error: msg}
			continue
		}
		out[i] = BatchResult{Record: res.Record, Status: http.StatusOK}
	}
	writeJSON(w, http.StatusOK, out)
}

// ready refuses to spend search time while shares are missing: with a
// partial key every recovery fails.
func (h *Handlers) ready() error {
	if !h.book.Complete() {
		return errors.Wrap(elgamal.ErrAuthorityKeysNotSet, "waiting for authority shares")
	}
	return nil
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("id", middleware.GetRequestID(r)),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	} else {
		h.log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	http.Error(w, msg, status)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// canceled reports a client that went away.
func canceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
