// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
)

func newTestStorage(t *testing.T) *MemoryStorage {
	t.Helper()
	s := NewMemoryStorage()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testGrant() *oidc.AuthorizedGrant {
	return &oidc.AuthorizedGrant{
		Session: &oidc.AuthSession{Subject: "user-1", SessionID: "sid-1"},
		Context: oidc.AuthorizationContext{
			ClientID: "app",
			Scope:    []string{"openid"},
		},
	}
}

func TestMemorySessionLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()

	session := &oidc.AuthSession{Subject: "user-1", SessionID: "sid-1", AMR: []string{"pwd"}}
	require.NoError(t, s.PutSession(ctx, session))

	// Mutating the caller's copy must not affect stored state.
	session.AMR[0] = "mfa"

	got, err := s.GetSession(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"pwd"}, got.AMR)

	require.NoError(t, s.DeleteSession(ctx, "sid-1"))
	_, err = s.GetSession(ctx, "sid-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteSession(ctx, "sid-1"), ErrNotFound)
}

func TestMemoryTokenRegistry(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()

	status, err := s.GetTokenStatus(ctx, "never-registered")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status, "absent entries read as Unknown")

	require.NoError(t, s.RegisterToken(ctx, "jti-1", time.Now().Add(time.Hour)))
	status, err = s.GetTokenStatus(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, status)

	require.NoError(t, s.SetTokenStatus(ctx, "jti-1", StatusRevoked))
	status, _ = s.GetTokenStatus(ctx, "jti-1")
	assert.Equal(t, StatusRevoked, status)

	assert.ErrorIs(t, s.SetTokenStatus(ctx, "jti-missing", StatusUsed), ErrNotFound)
}

func TestMemoryReplayStore(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	fresh, err := s.MarkJTIUsed(ctx, "assertions", "jti-1", exp)
	require.NoError(t, err)
	assert.True(t, fresh, "first mark must report fresh")

	fresh, err = s.MarkJTIUsed(ctx, "assertions", "jti-1", exp)
	require.NoError(t, err)
	assert.False(t, fresh, "second mark must not report fresh")

	replayed, err := s.IsJTIReplayed(ctx, "assertions", "jti-1")
	require.NoError(t, err)
	assert.True(t, replayed)

	// Namespaces are independent.
	replayed, err = s.IsJTIReplayed(ctx, "refresh", "jti-1")
	require.NoError(t, err)
	assert.False(t, replayed)
}

func TestMemoryReplayTTLFloor(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()

	// An already expired token still gets a replay entry for the minimum TTL.
	fresh, err := s.MarkJTIUsed(ctx, "ns", "jti-old", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, fresh)

	replayed, err := s.IsJTIReplayed(ctx, "ns", "jti-old")
	require.NoError(t, err)
	assert.True(t, replayed)
}

func TestMemoryAuthorizationCodeConsumeOnce(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()

	entry := &AuthorizationCodeEntry{
		Code:      "code-1",
		Grant:     testGrant(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.PutAuthorizationCode(ctx, entry))

	got, err := s.GetAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "app", got.Grant.Context.ClientID)

	require.NoError(t, s.ConsumeAuthorizationCode(ctx, "code-1"))

	err = s.ConsumeAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, ErrCodeConsumed)

	// A consumed code still resolves to its grant for revocation cascade.
	got, err = s.GetAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, ErrCodeConsumed)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.Grant.Session.Subject)
}

func TestMemoryAuthorizationCodeNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetAuthorizationCode(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.ConsumeAuthorizationCode(ctx, "missing"), ErrNotFound)
}

func TestMemoryBackChannelRequests(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	ctx := context.Background()

	req := &oidc.BackChannelAuthenticationRequest{
		AuthReqID: "req-1",
		Status:    oidc.StatusPending,
		Grant:     testGrant(),
		ExpiresAt: time.Now().Add(2 * time.Minute),
		Interval:  5 * time.Second,
	}
	require.NoError(t, s.PutBackChannelRequest(ctx, req))

	got, err := s.GetBackChannelRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, oidc.StatusPending, got.Status)

	// Upsert with a new status.
	got.Status = oidc.StatusAuthenticated
	require.NoError(t, s.PutBackChannelRequest(ctx, got))

	got, err = s.GetBackChannelRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, oidc.StatusAuthenticated, got.Status)

	require.NoError(t, s.DeleteBackChannelRequest(ctx, "req-1"))
	_, err = s.GetBackChannelRequest(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCleanupRemovesExpiredEntries(t *testing.T) {
	t.Parallel()

	s := NewMemoryStorage(WithCleanupInterval(20 * time.Millisecond))
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.PutAuthorizationCode(ctx, &AuthorizationCodeEntry{
		Code:      "short-lived",
		Grant:     testGrant(),
		ExpiresAt: time.Now().Add(10 * time.Millisecond),
	}))

	assert.Eventually(t, func() bool {
		return s.Stats().AuthorizationCodes == 0
	}, time.Second, 10*time.Millisecond, "expired code should be cleaned up")
}

func TestStaticClientProvider(t *testing.T) {
	t.Parallel()

	p, err := NewStaticClientProvider(
		&oidc.ClientInfo{ID: "app", AllowedGrantTypes: []string{oidc.GrantClientCredentials}},
	)
	require.NoError(t, err)

	ctx := context.Background()
	client, err := p.GetClientInfo(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, "app", client.ID)

	_, err = p.GetClientInfo(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, p.RegisterClient(&oidc.ClientInfo{}), "invalid registration is rejected")
}

func TestNamespacedReplayCache(t *testing.T) {
	t.Parallel()

	s := newTestStorage(t)
	cache := &NamespacedReplayCache{Store: s, Namespace: "identity"}
	ctx := context.Background()

	fresh, err := cache.MarkUsed(ctx, "jti-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, fresh)

	replayed, err := cache.IsReplayed(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, replayed)
}
