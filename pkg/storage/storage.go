// Package storage holds the daemon's in-process state: the development
// whitelist tree that stands in for the ledger contract, and the short-lived
// login sessions of the authority handshake.
package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

// LoginSession is one authority login handshake, between the commitment and
// the response.
type LoginSession struct {
	ID              string    `json:"id"`
	AuthorityIndex  int       `json:"authority_index"`
	PK              string    `json:"pk"`               // hex encoded point
	T               []byte    `json:"T"`                // commitment point
	C               []byte    `json:"c"`                // challenge scalar
	Timeslice       time.Time `json:"timeslice"`        // minute granularity
	ServerEphemeral []byte    `json:"server_ephemeral"` // server randomness
	Used            bool      `json:"used"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionStore keeps login sessions until they are used or expire.
type SessionStore interface {
	// CreateSession stores a copy of session.
	CreateSession(session *LoginSession) error

	// GetSession returns a copy of the session.
	GetSession(sessionID string) (*LoginSession, error)

	// MarkSessionUsed flips the session to used exactly once.
	MarkSessionUsed(sessionID string) error

	// Close stops background expiry.
	Close() error
}

var (
	// ErrSessionNotFound indicates a session was not found or has expired
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionUsed indicates a session has already been used
	ErrSessionUsed = errors.New("session already used")

	// ErrTreeFull indicates every leaf of the whitelist tree is taken
	ErrTreeFull = errors.New("whitelist tree is full")

	// ErrAlreadyWhitelisted indicates the key already occupies a leaf
	ErrAlreadyWhitelisted = errors.New("key already whitelisted")

	// ErrInvalidKey indicates a key that cannot be stored as a leaf
	ErrInvalidKey = errors.New("invalid whitelist key")
)
