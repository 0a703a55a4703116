// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"slices"
	"time"
)

// AuthSession is the record of an authenticated end-user. It is created at
// sign-in, mutated only to append affected client ids, and destroyed at
// sign-out or expiry.
type AuthSession struct {
	// Subject is the end-user identifier.
	Subject string `json:"subject"`

	// SessionID is the opaque session identifier (the sid claim).
	SessionID string `json:"session_id"`

	// AuthTime is when the user last actively authenticated.
	AuthTime time.Time `json:"auth_time"`

	// IdentityProviderID identifies the provider that authenticated the user.
	IdentityProviderID string `json:"identity_provider_id,omitempty"`

	// ACR is the authentication context class reference.
	ACR string `json:"acr,omitempty"`

	// AMR lists the authentication method references.
	AMR []string `json:"amr,omitempty"`

	// Email is the user's email, when released by the provider.
	Email string `json:"email,omitempty"`

	// EmailVerified reports whether the email was verified; nil when unknown.
	EmailVerified *bool `json:"email_verified,omitempty"`

	// AffectedClientIDs is the set of clients that received tokens bound to
	// this session; used for logout-token fan-out.
	AffectedClientIDs []string `json:"affected_client_ids,omitempty"`

	// AdditionalClaims carries provider-specific claims verbatim.
	AdditionalClaims map[string]any `json:"additional_claims,omitempty"`
}

// AppendAffectedClient records that the client received tokens for this
// session. The set is deduplicated.
func (s *AuthSession) AppendAffectedClient(clientID string) {
	if slices.Contains(s.AffectedClientIDs, clientID) {
		return
	}
	s.AffectedClientIDs = append(s.AffectedClientIDs, clientID)
}

// Clone returns a deep copy so callers can mutate without aliasing stored
// state.
func (s *AuthSession) Clone() *AuthSession {
	if s == nil {
		return nil
	}
	out := *s
	out.AMR = slices.Clone(s.AMR)
	out.AffectedClientIDs = slices.Clone(s.AffectedClientIDs)
	if s.AdditionalClaims != nil {
		out.AdditionalClaims = make(map[string]any, len(s.AdditionalClaims))
		for k, v := range s.AdditionalClaims {
			out.AdditionalClaims[k] = v
		}
	}
	if s.EmailVerified != nil {
		v := *s.EmailVerified
		out.EmailVerified = &v
	}
	return &out
}
