package storage

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jellydator/ttlcache/v2"
)

// DefaultSessionTTL is how long a login handshake may stay open.
const DefaultSessionTTL = 2 * time.Minute

// MemorySessionStore implements SessionStore on an expiring cache.
type MemorySessionStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache
}

// NewMemorySessionStore creates a store whose sessions expire ttl after
// creation. Reads do not extend the lifetime.
func NewMemorySessionStore(ttl time.Duration) (*MemorySessionStore, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	cache := ttlcache.NewCache()
	if err := cache.SetTTL(ttl); err != nil {
		return nil, errors.Wrap(err, "setting session ttl")
	}
	cache.SkipTTLExtensionOnHit(true)

	return &MemorySessionStore{cache: cache}, nil
}

// CreateSession stores a copy of session, stamping its creation time.
func (s *MemorySessionStore) CreateSession(session *LoginSession) error {
	if session == nil || session.ID == "" {
		return errors.New("session id required")
	}

	cp := *session
	cp.CreatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.cache.Set(cp.ID, &cp), "storing session")
}

// GetSession retrieves a session by ID.
func (s *MemorySessionStore) GetSession(sessionID string) (*LoginSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	cp := *session
	return &cp, nil
}

// MarkSessionUsed marks a session as used.
func (s *MemorySessionStore) MarkSessionUsed(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.get(sessionID)
	if err != nil {
		return err
	}
	if session.Used {
		return ErrSessionUsed
	}
	session.Used = true
	return nil
}

// Count returns the number of live sessions.
func (s *MemorySessionStore) Count() int {
	return s.cache.Count()
}

// Close stops the cache's expiry loop.
func (s *MemorySessionStore) Close() error {
	return s.cache.Close()
}

func (s *MemorySessionStore) get(sessionID string) (*LoginSession, error) {
	v, err := s.cache.Get(sessionID)
	if errors.Is(err, ttlcache.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading session")
	}
	return v.(*LoginSession), nil
}
