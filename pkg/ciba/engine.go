// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package ciba implements Client-Initiated Backchannel Authentication
// (OIDC CIBA Core 1.0): the per-auth_req_id request state machine, the
// completion router with poll, ping and push delivery, long-poll
// notification and outbound token delivery.
package ciba

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lighthouse-oidc/lighthouse/pkg/grants"
	"github.com/lighthouse-oidc/lighthouse/pkg/logger"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
	"github.com/lighthouse-oidc/lighthouse/pkg/storage"
)

// Engine defaults.
const (
	// DefaultRequestTTL is the backchannel request lifetime.
	DefaultRequestTTL = 2 * time.Minute

	// DefaultPollInterval is the advisory polling interval returned to
	// clients without a registered one.
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxLongPollWait caps how long a token-endpoint poll may park
	// waiting for a status change.
	DefaultMaxLongPollWait = 5 * time.Second
)

// TokenIssuer mints a token response for an authorized grant. The grant
// processor implements it; the push handler uses it to generate the response
// it delivers to the client's notification endpoint.
type TokenIssuer interface {
	IssueForGrant(ctx context.Context, client *oidc.ClientInfo, grant *oidc.AuthorizedGrant, authReqID string) (*oidc.TokenResponse, error)
}

// UserDeviceAuthenticationHandler delivers the authentication challenge to
// the end-user's device. The decision arrives asynchronously through
// Authenticate or Deny.
type UserDeviceAuthenticationHandler interface {
	DeliverAuthenticationRequest(ctx context.Context, req *oidc.BackChannelAuthenticationRequest, loginHint string) error
}

// Config wires the engine's collaborators.
type Config struct {
	// Store persists requests keyed by auth_req_id.
	Store storage.BackChannelRequestStore

	// Clients resolves registrations during completion.
	Clients storage.ClientInfoProvider

	// Notifier wakes parked long-polls on status changes; optional.
	Notifier Notifier

	// Delivery posts ping and push notifications; required when any
	// registered client uses those modes.
	Delivery NotificationDeliveryService

	// Issuer mints push-mode token responses.
	Issuer TokenIssuer

	// Devices forwards the challenge to the authentication device; optional
	// when an external component drives completion.
	Devices UserDeviceAuthenticationHandler

	// RequestTTL bounds the request lifetime (default 2m). requested_expiry
	// may shorten it per request, never extend it.
	RequestTTL time.Duration

	// PollInterval is the advisory interval for clients without a
	// registered one (default 5s).
	PollInterval time.Duration

	// UseLongPolling parks pending token-endpoint polls on the notifier.
	UseLongPolling bool

	// MaxLongPollWait caps the park duration (default 5s).
	MaxLongPollWait time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.RequestTTL <= 0 {
		c.RequestTTL = DefaultRequestTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxLongPollWait <= 0 || c.MaxLongPollWait > DefaultMaxLongPollWait {
		c.MaxLongPollWait = DefaultMaxLongPollWait
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type completionHandler func(ctx context.Context, client *oidc.ClientInfo, req *oidc.BackChannelAuthenticationRequest) error

// Engine coordinates backchannel authentication requests. The delivery-mode
// dispatch table is resolved once at construction.
type Engine struct {
	cfg      Config
	handlers map[string]completionHandler
}

// NewEngine builds the engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("a backchannel request store is required")
	}
	if cfg.Clients == nil {
		return nil, errors.New("a client info provider is required")
	}
	cfg.applyDefaults()

	e := &Engine{cfg: cfg}
	e.handlers = map[string]completionHandler{
		oidc.DeliveryModePoll: e.completePoll,
		oidc.DeliveryModePing: e.completePing,
		oidc.DeliveryModePush: e.completePush,
	}
	return e, nil
}

// StartParams carries the backchannel authentication request parameters.
type StartParams struct {
	// Scope is the requested scope.
	Scope []string

	// Resources are the RFC 8707 resource indicators.
	Resources []string

	// LoginHint identifies the end-user to authenticate.
	LoginHint string

	// BindingMessage is displayed on both devices.
	BindingMessage string

	// UserCode is the user-supplied secret, when the client uses user codes.
	UserCode string

	// ClientNotificationToken is the bearer for ping/push callbacks.
	ClientNotificationToken string

	// RequestedExpiry shortens the request lifetime when positive.
	RequestedExpiry time.Duration
}

// StartResponse is the bc-authorize success body.
type StartResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int64  `json:"expires_in"`
	Interval  int64  `json:"interval,omitempty"`
}

// StartAuthentication validates the request, persists a pending transaction
// and forwards the challenge to the authentication device.
func (e *Engine) StartAuthentication(ctx context.Context, client *oidc.ClientInfo, params StartParams) (*StartResponse, error) {
	if !client.AllowsGrantType(oidc.GrantCIBA) {
		return nil, oidcerr.UnauthorizedClient("client may not use backchannel authentication")
	}

	mode := client.BackChannelDeliveryMode
	if mode == "" {
		mode = oidc.DeliveryModePoll
	}
	if mode != oidc.DeliveryModePoll {
		if client.ClientNotificationEndpoint == "" {
			return nil, oidcerr.InvalidRequest("client has no registered notification endpoint")
		}
		if params.ClientNotificationToken == "" {
			return nil, oidcerr.InvalidRequest("client_notification_token is required for " + mode + " mode")
		}
	}
	if params.LoginHint == "" {
		return nil, oidcerr.InvalidRequest("a login hint is required")
	}

	ttl := e.cfg.RequestTTL
	if params.RequestedExpiry > 0 && params.RequestedExpiry < ttl {
		ttl = params.RequestedExpiry
	}

	req := &oidc.BackChannelAuthenticationRequest{
		AuthReqID: uuid.NewString(),
		Status:    oidc.StatusPending,
		Grant: &oidc.AuthorizedGrant{
			Context: oidc.AuthorizationContext{
				ClientID:  client.ID,
				Scope:     params.Scope,
				Resources: params.Resources,
			},
		},
		DeliveryMode:               mode,
		ClientNotificationEndpoint: client.ClientNotificationEndpoint,
		ClientNotificationToken:    params.ClientNotificationToken,
		BindingMessage:             params.BindingMessage,
		UserCode:                   params.UserCode,
		ExpiresAt:                  e.cfg.Now().Add(ttl),
		Interval:                   client.PollInterval,
	}
	if err := e.cfg.Store.PutBackChannelRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to store backchannel request: %w", err)
	}

	if e.cfg.Devices != nil {
		if err := e.cfg.Devices.DeliverAuthenticationRequest(ctx, req, params.LoginHint); err != nil {
			_ = e.cfg.Store.DeleteBackChannelRequest(ctx, req.AuthReqID)
			return nil, oidcerr.Wrap(oidcerr.CodeInvalidRequest, "could not reach the authentication device", err)
		}
	}

	resp := &StartResponse{
		AuthReqID: req.AuthReqID,
		ExpiresIn: int64(ttl.Seconds()),
	}
	if mode != oidc.DeliveryModePush {
		interval := client.PollInterval
		if interval <= 0 {
			interval = e.cfg.PollInterval
		}
		resp.Interval = int64(interval.Seconds())
	}
	return resp, nil
}

// Authenticate records the end-user's approval: the session is attached to
// the grant, the request transitions to Authenticated and the delivery-mode
// handler runs.
func (e *Engine) Authenticate(ctx context.Context, authReqID string, session *oidc.AuthSession) error {
	if session == nil {
		return errors.New("an authenticated session is required")
	}

	req, err := e.cfg.Store.GetBackChannelRequest(ctx, authReqID)
	if err != nil {
		return fmt.Errorf("backchannel request lookup failed: %w", err)
	}
	if status := req.EffectiveStatus(e.cfg.Now()); status != oidc.StatusPending {
		return fmt.Errorf("backchannel request %s: already %s", authReqID, status)
	}

	client, err := e.cfg.Clients.GetClientInfo(ctx, req.Grant.Context.ClientID)
	if err != nil {
		return fmt.Errorf("client lookup failed for backchannel request %s: %w", authReqID, err)
	}

	req.Grant.Session = session
	if err := req.Transition(oidc.StatusAuthenticated); err != nil {
		return err
	}

	// Waiters re-read storage on wakeup, so they observe whatever state the
	// handler left behind, including push removal.
	defer e.notify(authReqID)

	handler, ok := e.handlers[req.DeliveryMode]
	if !ok {
		handler = e.completePoll
	}
	return handler(ctx, client, req)
}

// Deny records the end-user's refusal.
func (e *Engine) Deny(ctx context.Context, authReqID string) error {
	req, err := e.cfg.Store.GetBackChannelRequest(ctx, authReqID)
	if err != nil {
		return fmt.Errorf("backchannel request lookup failed: %w", err)
	}
	if err := req.Transition(oidc.StatusDenied); err != nil {
		return err
	}

	if req.DeliveryMode == oidc.DeliveryModePush {
		// Push clients cannot poll for the denial; notify them and drop
		// the record.
		if e.cfg.Delivery != nil {
			payload := map[string]string{"auth_req_id": req.AuthReqID, "error": oidcerr.CodeAccessDenied}
			if err := e.cfg.Delivery.Send(ctx, req.ClientNotificationEndpoint, req.ClientNotificationToken, payload, oidc.DeliveryModePush); err != nil {
				logger.Warnw("failed to deliver push denial", "auth_req_id", authReqID, "error", err)
			}
		}
		if err := e.cfg.Store.DeleteBackChannelRequest(ctx, authReqID); err != nil {
			return fmt.Errorf("failed to remove denied push request: %w", err)
		}
	} else if err := e.cfg.Store.PutBackChannelRequest(ctx, req); err != nil {
		return fmt.Errorf("failed to store denied request: %w", err)
	}

	e.notify(authReqID)
	return nil
}

// Redeem resolves an auth_req_id presented at the token endpoint into its
// authorized grant. Implements grants.BackChannelGrantSource; the processor
// has already refused push-mode clients before calling.
func (e *Engine) Redeem(ctx context.Context, client *oidc.ClientInfo, authReqID string) (*oidc.AuthorizedGrant, error) {
	req, err := e.cfg.Store.GetBackChannelRequest(ctx, authReqID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oidcerr.InvalidGrant("auth_req_id is invalid or expired")
		}
		return nil, fmt.Errorf("backchannel request lookup failed: %w", err)
	}
	if req.Grant == nil || req.Grant.Context.ClientID != client.ID {
		return nil, oidcerr.InvalidGrant("auth_req_id was issued to another client")
	}

	now := e.cfg.Now()
	if !req.PollAllowed(now) {
		req.LastPolledAt = now
		if err := e.cfg.Store.PutBackChannelRequest(ctx, req); err != nil {
			logger.Warnw("failed to record backchannel poll", "auth_req_id", authReqID, "error", err)
		}
		return nil, oidcerr.SlowDown()
	}
	req.LastPolledAt = now

	status := req.EffectiveStatus(now)
	if status == oidc.StatusPending && e.cfg.UseLongPolling && e.cfg.Notifier != nil {
		if err := e.cfg.Store.PutBackChannelRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("failed to record backchannel poll: %w", err)
		}
		if e.cfg.Notifier.WaitForStatusChange(ctx, authReqID, e.cfg.MaxLongPollWait) {
			fresh, err := e.cfg.Store.GetBackChannelRequest(ctx, authReqID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, oidcerr.InvalidGrant("auth_req_id is invalid or expired")
				}
				return nil, fmt.Errorf("backchannel request lookup failed: %w", err)
			}
			req = fresh
			status = req.EffectiveStatus(e.cfg.Now())
		}
	}

	switch status {
	case oidc.StatusAuthenticated:
		if err := e.cfg.Store.DeleteBackChannelRequest(ctx, authReqID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to consume backchannel request: %w", err)
		}
		return req.Grant, nil
	case oidc.StatusDenied:
		if err := e.cfg.Store.DeleteBackChannelRequest(ctx, authReqID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warnw("failed to remove denied backchannel request", "auth_req_id", authReqID, "error", err)
		}
		return nil, oidcerr.AccessDenied("the end-user denied the authorization request")
	case oidc.StatusExpired:
		// The entry ages out of storage on its own; until then repeated
		// polls keep seeing expired_token rather than invalid_grant.
		return nil, oidcerr.ExpiredToken()
	default:
		if err := e.cfg.Store.PutBackChannelRequest(ctx, req); err != nil {
			logger.Warnw("failed to record backchannel poll", "auth_req_id", authReqID, "error", err)
		}
		return nil, oidcerr.AuthorizationPending()
	}
}

// completePoll persists the authenticated request for the client to collect
// at the token endpoint.
func (e *Engine) completePoll(ctx context.Context, _ *oidc.ClientInfo, req *oidc.BackChannelAuthenticationRequest) error {
	return e.cfg.Store.PutBackChannelRequest(ctx, req)
}

// completePing persists the request and pings the client's notification
// endpoint. A failed ping is logged but leaves the request redeemable; the
// client discovers it on its next poll.
func (e *Engine) completePing(ctx context.Context, _ *oidc.ClientInfo, req *oidc.BackChannelAuthenticationRequest) error {
	if e.cfg.Delivery == nil {
		req.Status = oidc.StatusDenied
		_ = e.cfg.Store.PutBackChannelRequest(ctx, req)
		return errors.New("ping delivery requires a notification service")
	}
	if err := e.cfg.Store.PutBackChannelRequest(ctx, req); err != nil {
		return fmt.Errorf("failed to store authenticated request: %w", err)
	}

	payload := map[string]string{"auth_req_id": req.AuthReqID}
	if err := e.cfg.Delivery.Send(ctx, req.ClientNotificationEndpoint, req.ClientNotificationToken, payload, oidc.DeliveryModePing); err != nil {
		logger.Warnw("ping notification failed, client can still poll",
			"auth_req_id", req.AuthReqID, "error", err)
	}
	return nil
}

// completePush mints the token response and delivers it to the client's
// notification endpoint. The stored request is removed on every outcome:
// push clients cannot poll, so a surviving record would only orphan state.
func (e *Engine) completePush(ctx context.Context, client *oidc.ClientInfo, req *oidc.BackChannelAuthenticationRequest) error {
	defer func() {
		if err := e.cfg.Store.DeleteBackChannelRequest(ctx, req.AuthReqID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Errorw("failed to remove push backchannel request", "auth_req_id", req.AuthReqID, "error", err)
		}
	}()

	if e.cfg.Issuer == nil || e.cfg.Delivery == nil {
		return errors.New("push delivery requires a token issuer and a notification service")
	}

	resp, err := e.cfg.Issuer.IssueForGrant(ctx, client, req.Grant, req.AuthReqID)
	if err != nil {
		return fmt.Errorf("failed to issue push tokens: %w", err)
	}
	if err := e.cfg.Delivery.Send(ctx, req.ClientNotificationEndpoint, req.ClientNotificationToken, resp, oidc.DeliveryModePush); err != nil {
		return fmt.Errorf("failed to deliver push tokens: %w", err)
	}
	return nil
}

func (e *Engine) notify(authReqID string) {
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.NotifyStatusChange(authReqID)
	}
}

var _ grants.BackChannelGrantSource = (*Engine)(nil)
