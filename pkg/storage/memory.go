// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lighthouse-oidc/lighthouse/pkg/logger"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
)

// timedEntry wraps a value with its expiry for TTL tracking.
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryStorage implements Storage with in-memory maps. It is thread-safe
// and suitable for single-instance deployments and tests; multi-instance
// deployments need the Redis backend so replay and revocation state is
// shared.
type MemoryStorage struct {
	mu sync.RWMutex

	// sessions maps session id -> AuthSession. Sessions have no TTL; they
	// live until sign-out.
	sessions map[string]*oidc.AuthSession

	// tokenStatus maps jti -> registry state, expiring with the token.
	tokenStatus map[string]*timedEntry[TokenStatus]

	// replayJTIs maps "namespace:jti" -> entry expiry.
	replayJTIs map[string]time.Time

	// authCodes maps code -> entry; consumedCodes tracks redeemed codes so a
	// second redemption can return ErrCodeConsumed with the entry intact.
	authCodes     map[string]*timedEntry[*AuthorizationCodeEntry]
	consumedCodes map[string]*timedEntry[bool]

	// bcRequests maps auth_req_id -> CIBA request.
	bcRequests map[string]*timedEntry[*oidc.BackChannelAuthenticationRequest]

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStorage creates in-memory storage and starts the background
// cleanup goroutine. Call Close when done.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		sessions:        make(map[string]*oidc.AuthSession),
		tokenStatus:     make(map[string]*timedEntry[TokenStatus]),
		replayJTIs:      make(map[string]time.Time),
		authCodes:       make(map[string]*timedEntry[*AuthorizationCodeEntry]),
		consumedCodes:   make(map[string]*timedEntry[bool]),
		bcRequests:      make(map[string]*timedEntry[*oidc.BackChannelAuthenticationRequest]),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Ping is a no-op for in-memory storage.
func (*MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes expired entries. Keys are collected under the read
// lock and deleted under the write lock to keep write lock hold time short.
func (s *MemoryStorage) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()

	var expiredStatus []string
	for k, v := range s.tokenStatus {
		if now.After(v.expiresAt) {
			expiredStatus = append(expiredStatus, k)
		}
	}

	var expiredReplay []string
	for k, exp := range s.replayJTIs {
		if now.After(exp) {
			expiredReplay = append(expiredReplay, k)
		}
	}

	var expiredCodes []string
	for k, v := range s.authCodes {
		if now.After(v.expiresAt) {
			expiredCodes = append(expiredCodes, k)
		}
	}

	var expiredConsumed []string
	for k, v := range s.consumedCodes {
		if now.After(v.expiresAt) {
			expiredConsumed = append(expiredConsumed, k)
		}
	}

	var expiredBC []string
	for k, v := range s.bcRequests {
		if now.After(v.expiresAt) {
			expiredBC = append(expiredBC, k)
		}
	}

	s.mu.RUnlock()

	if len(expiredStatus) == 0 && len(expiredReplay) == 0 &&
		len(expiredCodes) == 0 && len(expiredConsumed) == 0 && len(expiredBC) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredStatus {
		delete(s.tokenStatus, k)
	}
	for _, k := range expiredReplay {
		delete(s.replayJTIs, k)
	}
	for _, k := range expiredCodes {
		delete(s.authCodes, k)
		delete(s.consumedCodes, k)
	}
	for _, k := range expiredConsumed {
		delete(s.consumedCodes, k)
	}
	for _, k := range expiredBC {
		delete(s.bcRequests, k)
	}
}

// -----------------------
// SessionStore
// -----------------------

// PutSession stores or replaces a session. A defensive copy is kept so later
// caller mutations do not leak into storage.
func (s *MemoryStorage) PutSession(_ context.Context, session *oidc.AuthSession) error {
	if session == nil || session.SessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

// GetSession returns a copy of the session.
func (s *MemoryStorage) GetSession(_ context.Context, sessionID string) (*oidc.AuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		logger.Debugw("session not found", "session_id", sessionID)
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return session.Clone(), nil
}

// DeleteSession removes the session.
func (s *MemoryStorage) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

// -----------------------
// TokenRegistry
// -----------------------

// RegisterToken records a newly issued token as Active.
func (s *MemoryStorage) RegisterToken(_ context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("jti cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokenStatus[jti] = &timedEntry[TokenStatus]{
		value:     StatusActive,
		expiresAt: expiresAt.Add(ReplayClockSkew),
	}
	return nil
}

// SetTokenStatus moves a registered token to the given state.
func (s *MemoryStorage) SetTokenStatus(_ context.Context, jti string, status TokenStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokenStatus[jti]
	if !ok || time.Now().After(entry.expiresAt) {
		return fmt.Errorf("%w: token %s", ErrNotFound, jti)
	}
	entry.value = status
	return nil
}

// GetTokenStatus returns the token state; absent entries read as Unknown.
func (s *MemoryStorage) GetTokenStatus(_ context.Context, jti string) (TokenStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tokenStatus[jti]
	if !ok || time.Now().After(entry.expiresAt) {
		return StatusUnknown, nil
	}
	return entry.value, nil
}

// -----------------------
// ReplayStore
// -----------------------

func replayKey(namespace, jti string) string {
	return fmt.Sprintf("%d:%s:%s", len(namespace), namespace, jti)
}

// MarkJTIUsed records the jti and reports whether this call was first.
func (s *MemoryStorage) MarkJTIUsed(_ context.Context, namespace, jti string, expiresAt time.Time) (bool, error) {
	key := replayKey(namespace, jti)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.replayJTIs[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.replayJTIs[key] = now.Add(replayTTL(expiresAt, now))
	return true, nil
}

// IsJTIReplayed reports whether the jti was already marked used.
func (s *MemoryStorage) IsJTIReplayed(_ context.Context, namespace, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.replayJTIs[replayKey(namespace, jti)]
	return ok && time.Now().Before(exp), nil
}

// -----------------------
// AuthorizationCodeStore
// -----------------------

// PutAuthorizationCode stores a code entry.
func (s *MemoryStorage) PutAuthorizationCode(_ context.Context, entry *AuthorizationCodeEntry) error {
	if entry == nil || entry.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	stored := entry.Clone()
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = time.Now().Add(DefaultAuthorizationCodeTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.authCodes[stored.Code] = &timedEntry[*AuthorizationCodeEntry]{
		value:     stored,
		expiresAt: stored.ExpiresAt,
	}
	return nil
}

// GetAuthorizationCode returns the entry; consumed codes return the entry
// together with ErrCodeConsumed.
func (s *MemoryStorage) GetAuthorizationCode(_ context.Context, code string) (*AuthorizationCodeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.authCodes[code]
	if !ok {
		logger.Debugw("authorization code not found")
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	if time.Now().After(entry.expiresAt) {
		return nil, ErrExpired
	}
	if s.consumedCodes[code] != nil {
		return entry.value.Clone(), ErrCodeConsumed
	}
	return entry.value.Clone(), nil
}

// ConsumeAuthorizationCode marks the code as redeemed.
func (s *MemoryStorage) ConsumeAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code]; !ok {
		return fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	if s.consumedCodes[code] != nil {
		return ErrCodeConsumed
	}
	s.consumedCodes[code] = &timedEntry[bool]{
		value:     true,
		expiresAt: time.Now().Add(DefaultConsumedCodeTTL),
	}
	return nil
}

// DeleteAuthorizationCode removes the entry and its consumed marker.
func (s *MemoryStorage) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code]; !ok {
		return fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	delete(s.authCodes, code)
	delete(s.consumedCodes, code)
	return nil
}

// -----------------------
// BackChannelRequestStore
// -----------------------

// PutBackChannelRequest stores or replaces a CIBA request.
func (s *MemoryStorage) PutBackChannelRequest(_ context.Context, req *oidc.BackChannelAuthenticationRequest) error {
	if req == nil || req.AuthReqID == "" {
		return fmt.Errorf("auth_req_id cannot be empty")
	}

	stored := *req
	stored.Grant = cloneGrant(req.Grant)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bcRequests[req.AuthReqID] = &timedEntry[*oidc.BackChannelAuthenticationRequest]{
		value:     &stored,
		expiresAt: req.ExpiresAt.Add(DefaultBackChannelGrace),
	}
	return nil
}

// GetBackChannelRequest returns a copy of the request.
func (s *MemoryStorage) GetBackChannelRequest(_ context.Context, authReqID string) (*oidc.BackChannelAuthenticationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.bcRequests[authReqID]
	if !ok || time.Now().After(entry.expiresAt) {
		logger.Debugw("backchannel request not found", "auth_req_id", authReqID)
		return nil, fmt.Errorf("%w: backchannel request %s", ErrNotFound, authReqID)
	}

	out := *entry.value
	out.Grant = cloneGrant(entry.value.Grant)
	return &out, nil
}

// DeleteBackChannelRequest removes the request.
func (s *MemoryStorage) DeleteBackChannelRequest(_ context.Context, authReqID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bcRequests[authReqID]; !ok {
		return fmt.Errorf("%w: backchannel request %s", ErrNotFound, authReqID)
	}
	delete(s.bcRequests, authReqID)
	return nil
}

// Stats contains entry counts for testing and monitoring.
type Stats struct {
	Sessions            int
	TokenStatusEntries  int
	ReplayEntries       int
	AuthorizationCodes  int
	ConsumedCodes       int
	BackChannelRequests int
}

// Stats returns current entry counts.
func (s *MemoryStorage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Sessions:            len(s.sessions),
		TokenStatusEntries:  len(s.tokenStatus),
		ReplayEntries:       len(s.replayJTIs),
		AuthorizationCodes:  len(s.authCodes),
		ConsumedCodes:       len(s.consumedCodes),
		BackChannelRequests: len(s.bcRequests),
	}
}

// Compile-time interface compliance check
var _ Storage = (*MemoryStorage)(nil)
