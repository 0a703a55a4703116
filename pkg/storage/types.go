// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the collaborator interfaces of the authorization
// server core and in-memory and Redis-backed implementations.
package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/lighthouse-oidc/lighthouse/pkg/jose"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
)

// Storage errors. Callers match with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a record with the same key exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrExpired indicates the record exists but its lifetime has passed.
	ErrExpired = errors.New("expired")

	// ErrCodeConsumed indicates an authorization code was already redeemed.
	ErrCodeConsumed = errors.New("authorization code already consumed")
)

const (
	// DefaultCleanupInterval is how often the in-memory background cleanup runs.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultAuthorizationCodeTTL is the authorization code lifetime when the
	// entry carries no expiry (RFC 6749 recommendation).
	DefaultAuthorizationCodeTTL = 10 * time.Minute

	// DefaultConsumedCodeTTL is how long consumed-code markers are kept so a
	// second redemption can be detected and the grant revoked.
	DefaultConsumedCodeTTL = 30 * time.Minute

	// DefaultBackChannelGrace keeps expired CIBA requests around so polling
	// clients receive expired_token instead of invalid_grant.
	DefaultBackChannelGrace = 5 * time.Minute

	// MinReplayEntryTTL is the floor on replay-cache entry lifetimes.
	MinReplayEntryTTL = 10 * time.Second

	// ReplayClockSkew pads replay entries past token expiry so skewed
	// validators still detect reuse.
	ReplayClockSkew = time.Minute
)

// TokenStatus is the lifecycle state of a token in the registry.
type TokenStatus string

// Token registry states. Unknown means no registry entry exists; tokens
// issued before the registry was enabled read as Unknown and are accepted.
const (
	StatusActive  TokenStatus = "active"
	StatusUsed    TokenStatus = "used"
	StatusRevoked TokenStatus = "revoked"
	StatusUnknown TokenStatus = "unknown"
)

// AuthorizationCodeEntry binds an authorization code to the grant it was
// issued under.
type AuthorizationCodeEntry struct {
	// Code is the opaque authorization code value.
	Code string `json:"code"`

	// Grant is the authorized grant the code will redeem into tokens.
	Grant *oidc.AuthorizedGrant `json:"grant"`

	// ExpiresAt is the code expiry.
	ExpiresAt time.Time `json:"expires_at"`
}

// Clone returns a deep copy of the entry.
func (e *AuthorizationCodeEntry) Clone() *AuthorizationCodeEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Grant = cloneGrant(e.Grant)
	return &out
}

func cloneGrant(g *oidc.AuthorizedGrant) *oidc.AuthorizedGrant {
	if g == nil {
		return nil
	}
	out := *g
	out.Session = g.Session.Clone()
	out.IssuedTokens = slices.Clone(g.IssuedTokens)
	out.Context.Scope = slices.Clone(g.Context.Scope)
	out.Context.Resources = slices.Clone(g.Context.Resources)
	return &out
}

// ClientInfoProvider resolves registered client metadata.
type ClientInfoProvider interface {
	// GetClientInfo returns the client registration or ErrNotFound.
	GetClientInfo(ctx context.Context, clientID string) (*oidc.ClientInfo, error)
}

// SessionStore persists authenticated user sessions keyed by session id.
type SessionStore interface {
	// PutSession stores or replaces a session.
	PutSession(ctx context.Context, session *oidc.AuthSession) error

	// GetSession returns the session or ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (*oidc.AuthSession, error)

	// DeleteSession removes the session. Deleting an absent session returns
	// ErrNotFound.
	DeleteSession(ctx context.Context, sessionID string) error
}

// TokenRegistry tracks the lifecycle state of issued tokens by jti.
type TokenRegistry interface {
	// RegisterToken records a newly issued token as Active until expiresAt.
	RegisterToken(ctx context.Context, jti string, expiresAt time.Time) error

	// SetTokenStatus moves a registered token to the given state. Returns
	// ErrNotFound when the jti was never registered or has expired out.
	SetTokenStatus(ctx context.Context, jti string, status TokenStatus) error

	// GetTokenStatus returns the token state; absent entries read as
	// StatusUnknown with a nil error.
	GetTokenStatus(ctx context.Context, jti string) (TokenStatus, error)
}

// ReplayStore is a namespaced set of used jti values with TTL semantics.
type ReplayStore interface {
	// MarkJTIUsed records the jti as used and reports whether this call was
	// the first to do so. The entry outlives expiresAt by ReplayClockSkew and
	// never lives shorter than MinReplayEntryTTL.
	MarkJTIUsed(ctx context.Context, namespace, jti string, expiresAt time.Time) (bool, error)

	// IsJTIReplayed reports whether the jti was already marked used.
	IsJTIReplayed(ctx context.Context, namespace, jti string) (bool, error)
}

// AuthorizationCodeStore persists authorization codes with single-use
// redemption semantics.
type AuthorizationCodeStore interface {
	// PutAuthorizationCode stores a code entry.
	PutAuthorizationCode(ctx context.Context, entry *AuthorizationCodeEntry) error

	// GetAuthorizationCode returns the entry. A consumed code returns the
	// entry together with ErrCodeConsumed so the caller can revoke the
	// tokens issued under it.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCodeEntry, error)

	// ConsumeAuthorizationCode marks the code as redeemed. A second call
	// returns ErrCodeConsumed.
	ConsumeAuthorizationCode(ctx context.Context, code string) error

	// DeleteAuthorizationCode removes the entry and its consumed marker.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// BackChannelRequestStore persists CIBA transactions keyed by auth_req_id.
type BackChannelRequestStore interface {
	// PutBackChannelRequest stores or replaces a request.
	PutBackChannelRequest(ctx context.Context, req *oidc.BackChannelAuthenticationRequest) error

	// GetBackChannelRequest returns the request or ErrNotFound.
	GetBackChannelRequest(ctx context.Context, authReqID string) (*oidc.BackChannelAuthenticationRequest, error)

	// DeleteBackChannelRequest removes the request.
	DeleteBackChannelRequest(ctx context.Context, authReqID string) error
}

// Storage combines the persistence collaborators of the token pipeline.
type Storage interface {
	SessionStore
	TokenRegistry
	ReplayStore
	AuthorizationCodeStore
	BackChannelRequestStore

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// NamespacedReplayCache adapts a ReplayStore to the single-namespace replay
// cache the JWT validator consumes.
type NamespacedReplayCache struct {
	Store     ReplayStore
	Namespace string
}

// IsReplayed implements jose.ReplayCache.
func (c *NamespacedReplayCache) IsReplayed(ctx context.Context, jti string) (bool, error) {
	return c.Store.IsJTIReplayed(ctx, c.Namespace, jti)
}

// MarkUsed implements jose.ReplayCache.
func (c *NamespacedReplayCache) MarkUsed(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	return c.Store.MarkJTIUsed(ctx, c.Namespace, jti, expiresAt)
}

var _ jose.ReplayCache = (*NamespacedReplayCache)(nil)

// replayTTL computes a replay entry lifetime from the token expiry.
func replayTTL(expiresAt time.Time, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now) + ReplayClockSkew
	if ttl < MinReplayEntryTTL {
		ttl = MinReplayEntryTTL
	}
	return ttl
}
