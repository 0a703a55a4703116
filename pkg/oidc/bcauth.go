// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"fmt"
	"time"
)

// BackChannelStatus is the lifecycle state of a CIBA request.
type BackChannelStatus string

// Back-channel request states. Pending is the only state with outgoing
// transitions.
const (
	StatusPending       BackChannelStatus = "pending"
	StatusAuthenticated BackChannelStatus = "authenticated"
	StatusDenied        BackChannelStatus = "denied"
	StatusExpired       BackChannelStatus = "expired"
)

// BackChannelAuthenticationRequest is the server-side record of a CIBA
// transaction, keyed by auth_req_id.
type BackChannelAuthenticationRequest struct {
	// AuthReqID is the opaque request identifier handed to the client.
	AuthReqID string `json:"auth_req_id"`

	// Status is the current lifecycle state.
	Status BackChannelStatus `json:"status"`

	// Grant holds the authorization context and, once the user authenticates,
	// the session.
	Grant *AuthorizedGrant `json:"grant"`

	// DeliveryMode is the client's registered mode at request time.
	DeliveryMode string `json:"delivery_mode"`

	// ClientNotificationEndpoint is the ping/push callback URL.
	ClientNotificationEndpoint string `json:"client_notification_endpoint,omitempty"`

	// ClientNotificationToken is the bearer token for the callback.
	ClientNotificationToken string `json:"client_notification_token,omitempty"`

	// BindingMessage is shown on both the consumption and authentication
	// devices.
	BindingMessage string `json:"binding_message,omitempty"`

	// UserCode is the user-supplied secret, when the client uses user codes.
	UserCode string `json:"user_code,omitempty"`

	// ExpiresAt is when the transaction expires.
	ExpiresAt time.Time `json:"expires_at"`

	// Interval is the minimum seconds between token-endpoint polls.
	Interval time.Duration `json:"interval"`

	// LastPolledAt is the time of the most recent token-endpoint poll; zero
	// until the first poll.
	LastPolledAt time.Time `json:"last_polled_at,omitzero"`
}

// Transition moves the request into a terminal state. Only pending requests
// may transition; terminal states are final.
func (r *BackChannelAuthenticationRequest) Transition(to BackChannelStatus) error {
	switch to {
	case StatusAuthenticated, StatusDenied, StatusExpired:
	default:
		return fmt.Errorf("backchannel request %s: cannot transition to %q", r.AuthReqID, to)
	}
	if r.Status != StatusPending {
		return fmt.Errorf("backchannel request %s: already %s", r.AuthReqID, r.Status)
	}
	r.Status = to
	return nil
}

// EffectiveStatus folds expiry into the stored status: a pending request past
// its deadline reads as expired.
func (r *BackChannelAuthenticationRequest) EffectiveStatus(now time.Time) BackChannelStatus {
	if r.Status == StatusPending && now.After(r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// PollAllowed reports whether a token-endpoint poll at now respects the
// request's interval.
func (r *BackChannelAuthenticationRequest) PollAllowed(now time.Time) bool {
	if r.LastPolledAt.IsZero() || r.Interval <= 0 {
		return true
	}
	return !now.Before(r.LastPolledAt.Add(r.Interval))
}
