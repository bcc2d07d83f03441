// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package gateway

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"pkt.systems/pslog"
)

const (
	// TokenDigits is the length of the numeric access token.
	TokenDigits = 6
	// DefaultTokenLifetime is how long a token stays valid.
	DefaultTokenLifetime = 24 * time.Hour
	// DefaultMaxConnections caps simultaneously authenticated remote
	// connections.
	DefaultMaxConnections = 5
)

// AuthService holds the single active access token and the set of
// authenticated connections. One mutex guards everything: token
// rotation must atomically invalidate the whole connection set, so
// fine-grained locking buys nothing here.
type AuthService struct {
	mu       sync.Mutex
	token    string
	expiry   time.Time
	lifetime time.Duration
	maxConns int
	conns    map[string]time.Time
	log      pslog.Logger
}

// NewAuthService creates an auth service. Zero values select the
// defaults (24h lifetime, 5 connections).
func NewAuthService(lifetime time.Duration, maxConns int, logger pslog.Logger) *AuthService {
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &AuthService{
		lifetime: lifetime,
		maxConns: maxConns,
		conns:    make(map[string]time.Time),
		log:      logger,
	}
}

// generateToken returns a fresh 6-digit numeric code from crypto/rand.
func generateToken() string {
	buf := make([]byte, TokenDigits)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable for a security token.
		panic("gateway: crypto/rand unavailable: " + err.Error())
	}
	digits := make([]byte, TokenDigits)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits)
}

// CurrentToken returns the active token, lazily regenerating it when
// absent or expired.
func (a *AuthService) CurrentToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == "" || time.Now().After(a.expiry) {
		a.rotateLocked()
	}
	return a.token
}

// RefreshToken forces a new token and invalidates every authenticated
// connection. Rotation is a hard security boundary: connections
// admitted under the old token lose authentication immediately, before
// they are ever notified.
func (a *AuthService) RefreshToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rotateLocked()
	a.conns = make(map[string]time.Time)
	a.log.Info("access token rotated, all connections deauthenticated")
	return a.token
}

func (a *AuthService) rotateLocked() {
	a.token = generateToken()
	a.expiry = time.Now().Add(a.lifetime)
}

// TryAuthenticate admits a connection if the supplied token matches,
// is unexpired, and the connection cap has room after pruning entries
// older than the token lifetime.
func (a *AuthService) TryAuthenticate(connID, supplied string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == "" || supplied != a.token || time.Now().After(a.expiry) {
		return false
	}

	cutoff := time.Now().Add(-a.lifetime)
	for id, at := range a.conns {
		if at.Before(cutoff) {
			delete(a.conns, id)
		}
	}

	if _, ok := a.conns[connID]; !ok && len(a.conns) >= a.maxConns {
		a.log.Warn("connection refused, cap reached", "cap", a.maxConns)
		return false
	}

	a.conns[connID] = time.Now()
	return true
}

// VerifyToken reports whether supplied would authenticate right now,
// without admitting anything. Used by the HTTP pre-check endpoint.
func (a *AuthService) VerifyToken(supplied string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token != "" && supplied == a.token && !time.Now().After(a.expiry)
}

// IsAuthenticated reports whether the connection is currently admitted.
// Returns false for connections admitted before the last rotation.
func (a *AuthService) IsAuthenticated(connID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.conns[connID]
	return ok
}

// RemoveConnection drops a connection from the authenticated set.
func (a *AuthService) RemoveConnection(connID string) {
	a.mu.Lock()
	delete(a.conns, connID)
	a.mu.Unlock()
}

// ConnectionCount returns the number of authenticated connections.
func (a *AuthService) ConnectionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}
