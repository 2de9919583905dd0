// Package sessions owns the session registry and the per-session payload
// encryption that sits on top of it.
//
// A session is created by the handshake and carries the symmetric secret used
// to encrypt every later request and response on it. Secure sessions run over
// a transport that is already trusted and carry no secret; their payloads
// travel as plain JSON.
package sessions

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Store for ids it does not hold.
	ErrNotFound = errors.New("session not found")
	// ErrUnknownSession is returned by Manager for ids with no live session.
	ErrUnknownSession = errors.New("unknown session")
	// ErrConfiguration is returned when an insecure session is requested
	// without a client public key to wrap its secret.
	ErrConfiguration = errors.New("payload encryption requires the user's public key")
)

type Session struct {
	ID            string    `json:"id"`
	IP            string    `json:"ip"`
	Key           string    `json:"key,omitempty"`
	UserPublicKey string    `json:"user_public_key,omitempty"`
	SetupTime     time.Time `json:"setup_time"`
	LastSeen      time.Time `json:"last_seen"`
	Secure        bool      `json:"secure"`
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}
