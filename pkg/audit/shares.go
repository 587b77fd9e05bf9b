package audit

import (
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jellydator/ttlcache/v2"
	"go.uber.org/zap"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
	"github.com/allsmog/zkaudit-go/pkg/crypto/elgamal"
)

// DefaultShareTTL is how long a submitted share stays installed.
const DefaultShareTTL = 15 * time.Minute

// ErrShareMismatch is returned for a share whose public key is not the one
// configured for the submitting authority.
var ErrShareMismatch = errors.Wrap(elgamal.ErrUnknownAuthorityKey, "share does not match the authority public key")

// ShareStatus reports one authority slot.
type ShareStatus struct {
	Index       int        `json:"index"`
	Provisioned bool       `json:"provisioned"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type shareEntry struct {
	scalar    curve.Scalar
	gen       uint64
	expiresAt time.Time
}

// ShareBook collects the private shares authorities submit one at a time and
// keeps the Authority's installed key list in sync with them. A share is
// dropped ttl after submission; the Authority then decrypts with the
// remaining shares only, so it stops recovering plaintexts.
type ShareBook struct {
	authority *elgamal.Authority
	ttl       time.Duration
	log       *zap.Logger

	mu     sync.Mutex
	shares map[int]shareEntry
	gen    uint64
	cache  *ttlcache.Cache
}

// NewShareBook creates an empty book for authority and clears any shares it
// holds.
func NewShareBook(authority *elgamal.Authority, ttl time.Duration, log *zap.Logger) (*ShareBook, error) {
	if ttl <= 0 {
		ttl = DefaultShareTTL
	}
	if log == nil {
		log = zap.NewNop()
	}

	cache := ttlcache.NewCache()
	if err := cache.SetTTL(ttl); err != nil {
		return nil, errors.Wrap(err, "setting share ttl")
	}
	cache.SkipTTLExtensionOnHit(true)

	b := &ShareBook{
		authority: authority,
		ttl:       ttl,
		log:       log,
		shares:    make(map[int]shareEntry),
		cache:     cache,
	}
	// callbacks run on their own goroutine and also fire for Remove
	cache.SetExpirationCallback(func(key string, value interface{}) {
		index, err := strconv.Atoi(key)
		if err != nil {
			return
		}
		gen, _ := value.(uint64)
		b.expire(index, gen)
	})

	authority.ClearPrivateKeys()
	return b, nil
}

// Authority returns the authority the book provisions.
func (b *ShareBook) Authority() *elgamal.Authority {
	return b.authority
}

// Submit installs sk as the share of authority index, replacing an earlier
// one and restarting its lifetime.
func (b *ShareBook) Submit(index int, sk curve.Scalar) error {
	keys := b.authority.PublicKeys()
	if index < 0 || index >= len(keys) {
		return errors.Wrapf(elgamal.ErrUnknownAuthorityKey, "authority %d", index)
	}
	if sk == nil {
		return errors.Wrap(curve.ErrInvalidScalar, "share missing")
	}
	pk := b.authority.Curve().ScalarBaseMult(sk)
	if pk == nil || !pk.Equal(keys[index]) {
		return errors.Wrapf(ErrShareMismatch, "authority %d", index)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	b.shares[index] = shareEntry{scalar: sk, gen: b.gen, expiresAt: time.Now().Add(b.ttl)}
	if err := b.install(); err != nil {
		delete(b.shares, index)
		return err
	}
	if err := b.cache.Set(strconv.Itoa(index), b.gen); err != nil {
		return errors.Wrap(err, "scheduling share expiry")
	}

	b.log.Info("share submitted", zap.Int("authority", index), zap.Int("provisioned", len(b.shares)), zap.Int("of", len(keys)))
	return nil
}

// Revoke drops the share of authority index.
func (b *ShareBook) Revoke(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.shares[index]; !ok {
		return nil
	}
	delete(b.shares, index)
	if err := b.cache.Remove(strconv.Itoa(index)); err != nil && !errors.Is(err, ttlcache.ErrNotFound) {
		b.log.Warn("removing share timer", zap.Int("authority", index), zap.Error(err))
	}

	b.log.Info("share revoked", zap.Int("authority", index))
	return b.install()
}

// Clear drops every share.
func (b *ShareBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.shares = make(map[int]shareEntry)
	if err := b.cache.Purge(); err != nil {
		b.log.Warn("purging share timers", zap.Error(err))
	}
	b.authority.ClearPrivateKeys()
}

// Complete reports whether every authority has a live share.
func (b *ShareBook) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.shares) == len(b.authority.PublicKeys())
}

// Status lists every authority slot.
func (b *ShareBook) Status() []ShareStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ShareStatus, len(b.authority.PublicKeys()))
	for i := range out {
		out[i].Index = i
		if e, ok := b.shares[i]; ok {
			expiresAt := e.expiresAt
			out[i].Provisioned = true
			out[i].ExpiresAt = &expiresAt
		}
	}
	return out
}

// Close drops every share and stops the expiry loop.
func (b *ShareBook) Close() error {
	b.Clear()
	return b.cache.Close()
}

func (b *ShareBook) expire(index int, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.shares[index]
	if !ok || e.gen != gen {
		return
	}
	delete(b.shares, index)
	if err := b.install(); err != nil {
		b.log.Error("reinstalling shares after expiry", zap.Error(err))
		b.authority.ClearPrivateKeys()
	}
	b.log.Info("share expired", zap.Int("authority", index))
}

// install pushes the current shares into the authority. b.mu must be held.
func (b *ShareBook) install() error {
	keys := make([]curve.Scalar, 0, len(b.shares))
	for _, e := range b.shares {
		keys = append(keys, e.scalar)
	}
	return errors.Wrap(b.authority.SetPrivateKeys(keys), "installing shares")
}
