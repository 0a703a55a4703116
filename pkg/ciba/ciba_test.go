// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package ciba

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lighthouse-oidc/lighthouse/pkg/networking"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
	"github.com/lighthouse-oidc/lighthouse/pkg/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentNotification struct {
	Endpoint string
	Bearer   string
	Payload  any
	Mode     string
}

type fakeDelivery struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (d *fakeDelivery) Send(_ context.Context, endpoint, bearer string, payload any, mode string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, sentNotification{Endpoint: endpoint, Bearer: bearer, Payload: payload, Mode: mode})
	return nil
}

func (d *fakeDelivery) notifications() []sentNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentNotification(nil), d.sent...)
}

type fakeIssuer struct {
	err error
}

func (f *fakeIssuer) IssueForGrant(_ context.Context, _ *oidc.ClientInfo, _ *oidc.AuthorizedGrant, authReqID string) (*oidc.TokenResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oidc.TokenResponse{
		AccessToken: "at-" + authReqID,
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		AuthReqID:   authReqID,
	}, nil
}

func pollClient() *oidc.ClientInfo {
	return &oidc.ClientInfo{
		ID:                      "poll-client",
		Secret:                  "s3cret",
		AllowedGrantTypes:       []string{oidc.GrantCIBA},
		BackChannelDeliveryMode: oidc.DeliveryModePoll,
	}
}

func pushClient() *oidc.ClientInfo {
	return &oidc.ClientInfo{
		ID:                         "push-client",
		Secret:                     "s3cret",
		AllowedGrantTypes:          []string{oidc.GrantCIBA},
		BackChannelDeliveryMode:    oidc.DeliveryModePush,
		ClientNotificationEndpoint: "https://rp.example/cb",
	}
}

type testEngine struct {
	engine   *Engine
	st       *storage.MemoryStorage
	clock    *fakeClock
	delivery *fakeDelivery
	issuer   *fakeIssuer
}

func newTestEngine(t *testing.T, mutate func(*Config), clients ...*oidc.ClientInfo) *testEngine {
	t.Helper()

	st := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = st.Close() })

	provider, err := storage.NewStaticClientProvider(clients...)
	require.NoError(t, err)

	clock := newFakeClock()
	delivery := &fakeDelivery{}
	issuer := &fakeIssuer{}

	cfg := Config{
		Store:    st,
		Clients:  provider,
		Delivery: delivery,
		Issuer:   issuer,
		Now:      clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	return &testEngine{engine: engine, st: st, clock: clock, delivery: delivery, issuer: issuer}
}

func (e *testEngine) start(t *testing.T, client *oidc.ClientInfo, params StartParams) *StartResponse {
	t.Helper()
	if params.LoginHint == "" {
		params.LoginHint = "user-1"
	}
	resp, err := e.engine.StartAuthentication(context.Background(), client, params)
	require.NoError(t, err)
	return resp
}

func userSession() *oidc.AuthSession {
	return &oidc.AuthSession{Subject: "user-1", SessionID: "sess-1", AuthTime: time.Now()}
}

func TestStartAuthentication(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, pollClient(), pushClient())
	ctx := context.Background()

	resp := e.start(t, pollClient(), StartParams{Scope: []string{"openid"}})
	assert.NotEmpty(t, resp.AuthReqID)
	assert.Equal(t, int64(120), resp.ExpiresIn)
	assert.Equal(t, int64(5), resp.Interval)

	stored, err := e.st.GetBackChannelRequest(ctx, resp.AuthReqID)
	require.NoError(t, err)
	assert.Equal(t, oidc.StatusPending, stored.Status)
	assert.Equal(t, "poll-client", stored.Grant.Context.ClientID)

	// Push requests carry no polling interval.
	pushResp := e.start(t, pushClient(), StartParams{ClientNotificationToken: "bearer-1"})
	assert.Zero(t, pushResp.Interval)

	// Ping and push require the notification token.
	_, err = e.engine.StartAuthentication(ctx, pushClient(), StartParams{LoginHint: "user-1"})
	require.Error(t, err)
	assert.True(t, oidcerr.IsCode(err, oidcerr.CodeInvalidRequest))

	// A login hint is mandatory.
	_, err = e.engine.StartAuthentication(ctx, pollClient(), StartParams{})
	require.Error(t, err)
	assert.True(t, oidcerr.IsCode(err, oidcerr.CodeInvalidRequest))

	// Clients without the CIBA grant are refused.
	noCIBA := pollClient()
	noCIBA.AllowedGrantTypes = []string{oidc.GrantAuthorizationCode}
	_, err = e.engine.StartAuthentication(ctx, noCIBA, StartParams{LoginHint: "user-1"})
	require.Error(t, err)
	assert.True(t, oidcerr.IsCode(err, oidcerr.CodeUnauthorizedClient))
}

func TestRequestedExpiryShortensLifetime(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, pollClient())

	resp := e.start(t, pollClient(), StartParams{RequestedExpiry: 30 * time.Second})
	assert.Equal(t, int64(30), resp.ExpiresIn)

	// It never extends past the server bound.
	resp = e.start(t, pollClient(), StartParams{RequestedExpiry: time.Hour})
	assert.Equal(t, int64(120), resp.ExpiresIn)
}

func TestPollLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, pollClient())
	ctx := context.Background()
	client := pollClient()

	resp := e.start(t, client, StartParams{Scope: []string{"openid"}})

	for range 2 {
		_, err := e.engine.Redeem(ctx, client, resp.AuthReqID)
		require.Error(t, err)
		assert.True(t, oidcerr.IsCode(err, oidcerr.CodeAuthorizationPending))
		e.clock.Advance(10 * time.Second)
	}

	require.NoError(t, e.engine.Authenticate(ctx, resp.AuthReqID, userSession()))

	grant, err := e.engine.Redeem(ctx, client, resp.AuthReqID)
	require.NoError(t, err)
	require.NotNil(t, grant.Session)
	assert.Equal(t, "user-1", grant.Session.Subject)
	assert.Equal(t, []string{"openid"}, grant.Context.Scope)

	// Redemption consumes the request.
	_, err = e.engine.Redeem(ctx, client, resp.AuthReqID)
	require.Error(t, err)
	assert.True(t, oidcerr.IsCode(err, oidcerr.CodeInvalidGrant))
}

func TestPollIntervalEnforcement(t *testing.T) {
	t.Parallel()

	throttled := pollClient()
	throttled.PollInterval = 5 * time.Second
	e := newTestEngine(t, nil, throttled)
	ctx := context.Background()

	resp := e.start(t, throttled, StartParams{})

	_, err := e.engine.Redeem(ctx, throttled, resp.AuthReqID)
	assert.True(t, oidcerr.IsCode(err, oidcerr.CodeAuthorizationPending))

	e.clock.Advance(2 * time.Second)
	_, err = e.engine.Redeem(ctx, throttled, resp.AuthReqID)
	assert.True(t, oidcerr.IsCode(err, oidcerr.CodeSlowDown))

	e.clock.Advance(6 * time.Second)
	_, err = e.engine.Redeem(ctx, throttled, resp.AuthReqID)
	assert.True(t, oidcerr.IsCode(err, oidcerr.CodeAuthorizationPending))
}

func TestRedeemWrongClient(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, pollClient())
	resp := e.start(t, pollClient(), StartParams{})

	other := pollClient()
	other.ID = "other-client"
	_, err := e.engine.Redeem(context.Background(), other, resp.AuthReqID)
	require.Error(t, err)
	assert.True(t, oidcerr.IsCode(err, oidcerr.CodeInvalidGrant))
}

func TestDenyLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, pollClient())
	ctx := context.Background()
	client := pollClient()

	resp := e.start(t, client, StartParams{})
	require.NoError(t, e.engine.Deny(ctx, resp.AuthReqID))

	_, err := e.engine.Redeem(ctx, client, resp.AuthReqID)
	require.Error(t, err)
	assert.True(t, oidcerr.IsCode(err, oidcerr.CodeAccessDenied))

	// The denial poll consumed the record.
	_, err = e.engine.Redeem(ctx, client, resp.AuthReqID)
	require.Error(t, err)
	assert.True(t, oidcerr.IsCode(err, oidcerr.CodeInvalidGrant))
}

func TestExpiredRequest(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, pollClient())
	ctx := context.Background()
	client := pollClient()

	resp := e.start(t, client, StartParams{})
	e.clock.Advance(3 * time.Minute)

	// Expiry reads stay expired_token until storage ages the entry out.
	for range 2 {
		_, err := e.engine.Redeem(ctx, client, resp.AuthReqID)
		require.Error(t, err)
		assert.True(t, oidcerr.IsCode(err, oidcerr.CodeExpiredToken))
	}

	// A terminal request refuses late user decisions.
	err := e.engine.Authenticate(ctx, resp.AuthReqID, userSession())
	require.Error(t, err)
}

func TestPingCompletion(t *testing.T) {
	t.Parallel()

	ping := pollClient()
	ping.ID = "ping-client"
	ping.BackChannelDeliveryMode = oidc.DeliveryModePing
	ping.ClientNotificationEndpoint = "https://rp.example/ping"
	e := newTestEngine(t, nil, ping)
	ctx := context.Background()

	resp := e.start(t, ping, StartParams{ClientNotificationToken: "bearer-1"})
	require.NoError(t, e.engine.Authenticate(ctx, resp.AuthReqID, userSession()))

	sent := e.delivery.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "https://rp.example/ping", sent[0].Endpoint)
	assert.Equal(t, "bearer-1", sent[0].Bearer)
	assert.Equal(t, oidc.DeliveryModePing, sent[0].Mode)
	assert.Equal(t, map[string]string{"auth_req_id": resp.AuthReqID}, sent[0].Payload)

	// The request stays redeemable after the ping.
	grant, err := e.engine.Redeem(ctx, ping, resp.AuthReqID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", grant.Session.Subject)
}

func TestPushCompletionRemovesRequest(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, pushClient())
	ctx := context.Background()

	resp := e.start(t, pushClient(), StartParams{ClientNotificationToken: "bearer-b"})
	require.NoError(t, e.engine.Authenticate(ctx, resp.AuthReqID, userSession()))

	sent := e.delivery.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "https://rp.example/cb", sent[0].Endpoint)
	assert.Equal(t, "bearer-b", sent[0].Bearer)
	tokenResp, ok := sent[0].Payload.(*oidc.TokenResponse)
	require.True(t, ok)
	assert.Equal(t, "at-"+resp.AuthReqID, tokenResp.AccessToken)
	assert.Equal(t, resp.AuthReqID, tokenResp.AuthReqID)

	_, err := e.st.GetBackChannelRequest(ctx, resp.AuthReqID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPushFailureStillRemovesRequest(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, pushClient())
	ctx := context.Background()

	resp := e.start(t, pushClient(), StartParams{ClientNotificationToken: "bearer-b"})
	e.issuer.err = errors.New("signing key unavailable")

	err := e.engine.Authenticate(ctx, resp.AuthReqID, userSession())
	require.Error(t, err)

	_, err = e.st.GetBackChannelRequest(ctx, resp.AuthReqID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLongPollWakesOnDecision(t *testing.T) {
	t.Parallel()

	notifier := NewMemoryNotifier()
	e := newTestEngine(t, func(cfg *Config) {
		cfg.Notifier = notifier
		cfg.UseLongPolling = true
		cfg.MaxLongPollWait = 2 * time.Second
	}, pollClient())
	ctx := context.Background()
	client := pollClient()

	resp := e.start(t, client, StartParams{})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = e.engine.Authenticate(ctx, resp.AuthReqID, userSession())
	}()

	begun := time.Now()
	grant, err := e.engine.Redeem(ctx, client, resp.AuthReqID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", grant.Session.Subject)
	assert.Less(t, time.Since(begun), 2*time.Second, "should wake before the park deadline")
}

func TestMemoryNotifierWakesAllWaiters(t *testing.T) {
	t.Parallel()

	notifier := NewMemoryNotifier()
	results := make(chan bool, 3)
	for range 3 {
		go func() {
			results <- notifier.WaitForStatusChange(context.Background(), "req-1", 2*time.Second)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	notifier.NotifyStatusChange("req-1")

	for range 3 {
		assert.True(t, <-results)
	}
}

func TestMemoryNotifierTimeout(t *testing.T) {
	t.Parallel()

	notifier := NewMemoryNotifier()
	assert.False(t, notifier.WaitForStatusChange(context.Background(), "req-1", 20*time.Millisecond))
}

func TestRedisNotifier(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	notifier := NewRedisNotifier(client, "lighthouse:test:")

	woke := make(chan bool, 1)
	go func() {
		woke <- notifier.WaitForStatusChange(context.Background(), "req-1", 2*time.Second)
	}()
	time.Sleep(100 * time.Millisecond)
	notifier.NotifyStatusChange("req-1")

	assert.True(t, <-woke)
	assert.False(t, notifier.WaitForStatusChange(context.Background(), "req-2", 20*time.Millisecond))
}

func TestHTTPDeliveryService(t *testing.T) {
	t.Parallel()

	type received struct {
		auth string
		body map[string]any
	}
	var (
		mu       sync.Mutex
		requests []received
		failures int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, received{auth: r.Header.Get("Authorization"), body: body})
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	client := networking.NewClient(
		networking.WithAllowedSchemes("http", "https"),
		networking.WithPrivateNetworkAccess(true),
	)
	svc := NewHTTPDeliveryService(client,
		WithMaxDeliveryTries(3),
		WithInitialRetryInterval(10*time.Millisecond),
	)
	ctx := context.Background()

	mu.Lock()
	failures = 1
	mu.Unlock()
	err := svc.Send(ctx, srv.URL, "bearer-1", map[string]string{"auth_req_id": "req-1"}, oidc.DeliveryModePing)
	require.NoError(t, err, "a 5xx should be retried into success")

	mu.Lock()
	require.Len(t, requests, 1)
	assert.Equal(t, "Bearer bearer-1", requests[0].auth)
	assert.Equal(t, "req-1", requests[0].body["auth_req_id"])
	mu.Unlock()
}

func TestHTTPDeliveryPermanentFailure(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	client := networking.NewClient(
		networking.WithAllowedSchemes("http", "https"),
		networking.WithPrivateNetworkAccess(true),
	)
	svc := NewHTTPDeliveryService(client,
		WithMaxDeliveryTries(5),
		WithInitialRetryInterval(10*time.Millisecond),
	)

	err := svc.Send(context.Background(), srv.URL, "", map[string]string{"auth_req_id": "req-1"}, oidc.DeliveryModePush)
	require.Error(t, err)

	mu.Lock()
	assert.Equal(t, 1, calls, "4xx responses must not be retried")
	mu.Unlock()
}
