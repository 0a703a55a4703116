// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"context"
	"errors"
	"fmt"

	"github.com/lighthouse-oidc/lighthouse/pkg/jose"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
	"github.com/lighthouse-oidc/lighthouse/pkg/storage"
)

// RefreshTokenService mints, validates and rotates refresh tokens. Refresh
// tokens are opaque to clients but are signed JWTs carrying the grant
// context, so a restarted server can honor them without extra state beyond
// the registry entry.
type RefreshTokenService struct {
	cfg *Config
}

// NewRefreshTokenService builds the service over a shared configuration.
func NewRefreshTokenService(cfg *Config) *RefreshTokenService {
	cfg.applyDefaults()
	return &RefreshTokenService{cfg: cfg}
}

// Create mints a refresh token and registers its jti as Active. The grant's
// authorization context travels inside the token so redemption can rebuild
// the original scope and resource set.
func (s *RefreshTokenService) Create(ctx context.Context, client *oidc.ClientInfo, grant *oidc.AuthorizedGrant) (*Issued, error) {
	ttl := s.cfg.RefreshTokenTTL
	if client.RefreshTokenTTL > 0 {
		ttl = client.RefreshTokenTTL
	}

	var subject string
	if grant.Session != nil {
		subject = grant.Session.Subject
	}
	payload := s.cfg.baseClaims(subject, nil, ttl)
	grant.Context.ApplyTo(payload)
	payload[jose.ClaimClientID] = client.ID
	if grant.Session != nil && grant.Session.SessionID != "" {
		payload[jose.ClaimSID] = grant.Session.SessionID
	}

	issued, err := s.cfg.mint(ctx, payload, s.cfg.SigningAlgorithm, "refresh+jwt")
	if err != nil {
		return nil, err
	}
	if err := s.cfg.register(ctx, issued); err != nil {
		return nil, err
	}
	return issued, nil
}

// Parse decodes a refresh token without verifying it.
func (s *RefreshTokenService) Parse(encoded string) (*jose.JSONWebToken, error) {
	return jose.ParseCompact(encoded)
}

// Validate verifies the token signature, time window and registry status.
// A rotated-out predecessor reads Used in the registry and fails here.
func (s *RefreshTokenService) Validate(ctx context.Context, encoded string) (*jose.JSONWebToken, *oidcerr.JWTError) {
	return s.cfg.validate(ctx, encoded, 0)
}

// MarkRotated moves a predecessor token to Used once its successor is
// issued. An unknown jti is not an error: the predecessor may have expired
// out of the registry already.
func (s *RefreshTokenService) MarkRotated(ctx context.Context, jti string) error {
	if s.cfg.Registry == nil || jti == "" {
		return nil
	}
	err := s.cfg.Registry.SetTokenStatus(ctx, jti, storage.StatusUsed)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to rotate refresh token %s: %w", jti, err)
	}
	return nil
}
