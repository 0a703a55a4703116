// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lighthouse-oidc/lighthouse/pkg/logger"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
	"github.com/lighthouse-oidc/lighthouse/pkg/storage"
)

// CodeRedeemer enforces single-use authorization codes. A replayed code is
// treated as an attack: the entry is deleted and every token issued under it
// is revoked before the error goes back to the caller.
type CodeRedeemer struct {
	Codes    storage.AuthorizationCodeStore
	Registry storage.TokenRegistry
}

// Redeem consumes the code and returns its grant. On a replay it cascades
// revocation over the grant's issued tokens and returns invalid_grant.
func (r *CodeRedeemer) Redeem(ctx context.Context, code string) (*oidc.AuthorizedGrant, error) {
	entry, err := r.Codes.GetAuthorizationCode(ctx, code)
	switch {
	case errors.Is(err, storage.ErrCodeConsumed):
		r.revokeReplayed(ctx, code, entry)
		return nil, oidcerr.InvalidGrant("authorization code already used")
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrExpired):
		return nil, oidcerr.InvalidGrant("authorization code is invalid or expired")
	case err != nil:
		return nil, fmt.Errorf("failed to look up authorization code: %w", err)
	}

	if err := r.Codes.ConsumeAuthorizationCode(ctx, code); err != nil {
		if errors.Is(err, storage.ErrCodeConsumed) {
			// Lost the race against a concurrent redemption of the same code.
			r.revokeReplayed(ctx, code, entry)
			return nil, oidcerr.InvalidGrant("authorization code already used")
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	return entry.Grant, nil
}

// RecordIssuedTokens writes the jtis minted during redemption back onto the
// stored entry so a later replay can revoke them.
func (r *CodeRedeemer) RecordIssuedTokens(ctx context.Context, code string, issued []*Issued) error {
	entry, err := r.Codes.GetAuthorizationCode(ctx, code)
	if err != nil && !errors.Is(err, storage.ErrCodeConsumed) {
		return fmt.Errorf("failed to record issued tokens: %w", err)
	}
	for _, tok := range issued {
		entry.Grant.RecordIssuedToken(tok.JTI, tok.ExpiresAt)
	}
	return r.Codes.PutAuthorizationCode(ctx, entry)
}

func (r *CodeRedeemer) revokeReplayed(ctx context.Context, code string, entry *storage.AuthorizationCodeEntry) {
	if err := r.Codes.DeleteAuthorizationCode(ctx, code); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Errorw("failed to delete replayed authorization code", "error", err)
	}
	if entry == nil || entry.Grant == nil || r.Registry == nil {
		return
	}
	for _, tok := range entry.Grant.IssuedTokens {
		err := r.Registry.SetTokenStatus(ctx, tok.JTI, storage.StatusRevoked)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Errorw("failed to revoke token issued under replayed code", "jti", tok.JTI, "error", err)
		}
	}
	logger.Warnw("authorization code replay detected, grant revoked",
		"client_id", entry.Grant.Context.ClientID, "revoked_tokens", len(entry.Grant.IssuedTokens))
}

// Revoker backs the RFC 7009 revocation endpoint.
type Revoker struct {
	Registry storage.TokenRegistry
}

// Revoke marks the jti revoked until expiresAt. Unknown tokens are not an
// error: RFC 7009 §2.2 requires the endpoint to answer 200 regardless.
func (r *Revoker) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if r.Registry == nil || jti == "" {
		return nil
	}
	err := r.Registry.SetTokenStatus(ctx, jti, storage.StatusRevoked)
	if errors.Is(err, storage.ErrNotFound) {
		// Never registered (or already expired out). Register a tombstone so
		// validation keeps rejecting it for the rest of its lifetime.
		if expiresAt.IsZero() {
			return nil
		}
		if err := r.Registry.RegisterToken(ctx, jti, expiresAt); err != nil {
			return err
		}
		return r.Registry.SetTokenStatus(ctx, jti, storage.StatusRevoked)
	}
	return err
}
