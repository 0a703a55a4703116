// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"context"
	"strings"

	"github.com/lighthouse-oidc/lighthouse/pkg/logger"
)

// IntrospectionResponse is the RFC 7662 introspection rendering of a token.
type IntrospectionResponse struct {
	// Active reports whether the token is valid right now.
	Active bool `json:"active"`

	// Scope is the space-separated granted scope.
	Scope string `json:"scope,omitempty"`

	// ClientID is the client the token was issued to.
	ClientID string `json:"client_id,omitempty"`

	// Subject is the sub claim.
	Subject string `json:"sub,omitempty"`

	// TokenType is always Bearer for active tokens.
	TokenType string `json:"token_type,omitempty"`

	// ExpiresAt, IssuedAt are epoch seconds.
	ExpiresAt int64 `json:"exp,omitempty"`
	IssuedAt  int64 `json:"iat,omitempty"`

	// JTI is the token identifier.
	JTI string `json:"jti,omitempty"`

	// Issuer is the iss claim.
	Issuer string `json:"iss,omitempty"`

	// Audience is the aud claim.
	Audience []string `json:"aud,omitempty"`
}

// Introspector renders tokens for the introspection endpoint.
type Introspector struct {
	cfg *Config
}

// NewIntrospector builds an introspector over the shared configuration.
func NewIntrospector(cfg *Config) *Introspector {
	cfg.applyDefaults()
	return &Introspector{cfg: cfg}
}

// Introspect validates the token and renders the result. Every validation
// failure, whatever its kind, collapses to {"active": false}; the endpoint
// must not leak why a token is rejected (RFC 7662 §2.2).
func (i *Introspector) Introspect(ctx context.Context, encoded string) *IntrospectionResponse {
	token, jwtErr := i.cfg.validate(ctx, encoded, 0)
	if jwtErr != nil {
		logger.Debugw("introspected token is inactive", "kind", jwtErr.Kind)
		return &IntrospectionResponse{Active: false}
	}

	p := token.Payload
	out := &IntrospectionResponse{
		Active:    true,
		TokenType: TokenTypeBearer,
		Audience:  p.Audience(),
	}
	if scope := p.Scope(); len(scope) > 0 {
		out.Scope = strings.Join(scope, " ")
	}
	out.ClientID, _ = p.ClientID()
	out.Subject, _ = p.Subject()
	out.JTI, _ = p.JTI()
	out.Issuer, _ = p.Issuer()
	if exp, ok := p.ExpiresAt(); ok {
		out.ExpiresAt = exp.Unix()
	}
	if iat, ok := p.IssuedAt(); ok {
		out.IssuedAt = iat.Unix()
	}
	return out
}
