package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/allsmog/zkaudit-go/pkg/audit"
	"github.com/allsmog/zkaudit-go/pkg/auth"
	"github.com/allsmog/zkaudit-go/pkg/config"
	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
	"github.com/allsmog/zkaudit-go/pkg/crypto/elgamal"
	"github.com/allsmog/zkaudit-go/pkg/crypto/hash"
	"github.com/allsmog/zkaudit-go/pkg/eventlog"
	"github.com/allsmog/zkaudit-go/pkg/jwt"
	"github.com/allsmog/zkaudit-go/pkg/ledger"
	mw "github.com/allsmog/zkaudit-go/pkg/middleware"
	"github.com/allsmog/zkaudit-go/pkg/storage"
	"github.com/allsmog/zkaudit-go/pkg/whitelist"
)

const signingKeyID = "auditd-1"

// server owns the wired components of the daemon.
type server struct {
	cfg       *config.Config
	log       *zap.Logger
	curve     curve.Curve
	authority *elgamal.Authority
	sessions  *storage.MemorySessionStore
	paths     *whitelist.Client
	book      *audit.ShareBook
	signer    *jwt.ES256Signer
	auth      *auth.Handlers
	audit     *audit.Handlers
	limit     func(http.Handler) http.Handler
	closers   []func()
}

func newServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *server, err error) {
	s := &server{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.curve, err = curve.FromName(cfg.Curve); err != nil {
		return nil, err
	}
	hasher, err := hash.FromName(cfg.Hash)
	if err != nil {
		return nil, err
	}

	keys := make([]curve.Point, len(cfg.Authorities.PublicKeys))
	for i, k := range cfg.Authorities.PublicKeys {
		b, err := auth.DecodeHex(k)
		if err != nil {
			return nil, errors.Wrapf(err, "authority %d", i)
		}
		if keys[i], err = s.curve.ParsePoint(b); err != nil {
			return nil, errors.Wrapf(err, "authority %d", i)
		}
	}
	if s.authority, err = elgamal.NewAuthority(s.curve, keys...); err != nil {
		return nil, err
	}

	var (
		accessor whitelist.Accessor
		registry audit.Registry
	)
	switch cfg.Whitelist.Source {
	case config.SourceLedger:
		if !common.IsHexAddress(cfg.Ledger.Address) {
			return nil, errors.Wrapf(config.ErrInvalidConfig, "ledger.address %q", cfg.Ledger.Address)
		}
		contract, closeClient, err := ledger.Dial(ctx, cfg.Ledger.URL, common.HexToAddress(cfg.Ledger.Address),
			ledger.WithLogger(log.Named("ledger")))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, closeClient)
		accessor = contract
	default:
		tree, err := storage.NewWhitelistTree(hasher, cfg.Whitelist.Height, log.Named("tree"))
		if err != nil {
			return nil, err
		}
		accessor, registry = tree, tree
	}

	if s.paths, err = whitelist.NewClient(accessor, cfg.Whitelist.Height, whitelist.WithLogger(log.Named("whitelist"))); err != nil {
		return nil, err
	}

	decryptor, err := eventlog.NewDecryptor(s.authority,
		eventlog.WithBounds(eventlog.Bounds{Amount: cfg.Audit.AmountBound, KeyID: 1 << cfg.Whitelist.Height}),
		eventlog.WithMaxIterations(cfg.Audit.MaxIterations),
		eventlog.WithWorkers(cfg.Audit.Workers),
		eventlog.WithLogger(log.Named("eventlog")),
	)
	if err != nil {
		return nil, err
	}

	if s.book, err = audit.NewShareBook(s.authority, cfg.Audit.ShareTTL, log.Named("shares")); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = s.book.Close() })

	signer, generated, err := jwt.LoadOrGenerateSigner(cfg.JWT.KeyFile, cfg.JWT.ConfigFile, signingKeyID, cfg.JWT.Issuer)
	if err != nil {
		return nil, err
	}
	if generated {
		log.Info("generated token signing key", zap.String("file", cfg.JWT.KeyFile))
	}
	s.signer = signer

	if s.sessions, err = storage.NewMemorySessionStore(cfg.Auth.SessionTTL); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = s.sessions.Close() })

	s.auth = auth.NewHandlers(s.sessions, s.authority, signer, auth.Config{
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		TokenTTL:   cfg.JWT.TokenTTL,
		SessionTTL: cfg.Auth.SessionTTL,
	}, log.Named("auth"))

	opts := []audit.Option{audit.WithMaxBatch(cfg.Audit.MaxBatch), audit.WithLogger(log.Named("audit"))}
	if registry != nil {
		opts = append(opts, audit.WithRegistry(registry))
	}
	if s.audit, err = audit.NewHandlers(s.paths, decryptor, s.book, opts...); err != nil {
		return nil, err
	}

	s.limit = mw.RateLimit(ctx, cfg.HTTP.RateLimit, time.Minute)

	log.Info("auditd configured",
		zap.String("curve", s.curve.Name()),
		zap.String("hash", hasher.Name()),
		zap.Int("authorities", len(keys)),
		zap.String("whitelist", cfg.Whitelist.Source),
		zap.Uint("height", cfg.Whitelist.Height),
		zap.String("issuer", cfg.JWT.Issuer),
	)
	return s, nil
}

// Router returns the HTTP routes of the daemon.
func (s *server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(s.log.Named("http")))
	r.Use(mw.Recovery(s.log))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.limit)
	r.Use(mw.CORS)

	r.Get("/health", s.health)
	r.Get("/.well-known/jwks.json", s.auth.JWKS)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/authorities", s.auth.Authorities)
		r.Post("/authority/commit", s.auth.StartCommit)
		r.Post("/authority/complete", s.auth.Complete)
	})

	s.audit.Mount(r, s.gate())
	return r
}

// gate admits bearer tokens minted by this daemon for one of the configured
// authorities on the configured curve.
func (s *server) gate() func(http.Handler) http.Handler {
	keys := s.authority.PublicKeys()
	pks := make([][]byte, len(keys))
	for i, k := range keys {
		pks[i] = k.Bytes()
	}

	verify := mw.JWTMiddleware(jwt.NewJWTVerifier(s.signer.JWKS()), s.cfg.JWT.Audience)
	authority := mw.RequireAuthority(pks)
	group := mw.RequireCurve(s.curve.Name())
	return func(next http.Handler) http.Handler {
		return verify(authority(group(next)))
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Curve       string `json:"curve"`
	SharesReady bool   `json:"shares_ready"`
	Sessions    int    `json:"sessions"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		Service:     "auditd",
		Curve:       s.curve.Name(),
		SharesReady: s.book.Complete(),
		Sessions:    s.sessions.Count(),
	})
}

// Close releases the components in reverse order.
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
