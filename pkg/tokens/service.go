// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokens implements the token pipeline: access, refresh and identity
// token services over the JOSE layer, registry-decorated validation, and the
// introspection and logout-token renderings.
package tokens

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/lighthouse-oidc/lighthouse/pkg/jose"
	"github.com/lighthouse-oidc/lighthouse/pkg/keys"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
	"github.com/lighthouse-oidc/lighthouse/pkg/storage"
)

// Default token lifetimes, applied when neither the client registration nor
// the service configuration overrides them.
const (
	DefaultAccessTokenTTL   = time.Hour
	DefaultRefreshTokenTTL  = 30 * 24 * time.Hour
	DefaultIdentityTokenTTL = time.Hour
	DefaultLogoutTokenTTL   = 2 * time.Minute
)

// TokenTypeBearer is the token_type of every issued access token.
const TokenTypeBearer = "Bearer"

// Config carries the shared collaborators of the token services.
type Config struct {
	// Issuer is the iss claim value and the accepted issuer on validation.
	Issuer string

	// SigningAlgorithm selects the server signing key; defaults to
	// keys.DefaultAlgorithm.
	SigningAlgorithm string

	// Keys supplies the server signing and decryption keys.
	Keys keys.AuthServiceKeysProvider

	// ClientKeys resolves client keys for identity-token encryption. May be
	// nil when no client registers encryption.
	ClientKeys keys.ClientKeysProvider

	// Registry tracks issued token lifecycle; nil disables registration and
	// the registry validation decorator.
	Registry storage.TokenRegistry

	// AccessTokenTTL, RefreshTokenTTL and IdentityTokenTTL are the server
	// defaults; per-client registration overrides win.
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	IdentityTokenTTL time.Duration

	// ClockSkew is the validation time tolerance.
	ClockSkew time.Duration

	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.SigningAlgorithm == "" {
		c.SigningAlgorithm = keys.DefaultAlgorithm
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.IdentityTokenTTL <= 0 {
		c.IdentityTokenTTL = DefaultIdentityTokenTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.Keys == nil {
		return fmt.Errorf("a key provider is required")
	}
	return nil
}

// Issued is the result of minting a token.
type Issued struct {
	// Token is the decoded form of the minted token.
	Token *jose.JSONWebToken

	// Encoded is the compact serialization handed to the client.
	Encoded string

	// JTI is the token identifier.
	JTI string

	// TTL is the token lifetime at issuance.
	TTL time.Duration

	// ExpiresAt is the absolute expiry.
	ExpiresAt time.Time
}

// signingKeyFor picks the private signing key for alg: an exact "alg" match
// first, then an algorithm-agnostic key.
func (c *Config) signingKeyFor(ctx context.Context, alg string) (jwk.Key, error) {
	all, err := c.Keys.GetSigningKeys(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signing keys: %w", err)
	}

	var agnostic jwk.Key
	for _, key := range all {
		keyAlg, ok := key.Algorithm()
		if !ok {
			if agnostic == nil {
				agnostic = key
			}
			continue
		}
		if keyAlg.String() == alg {
			return key, nil
		}
	}
	if agnostic != nil {
		return agnostic, nil
	}
	return nil, fmt.Errorf("no signing key for algorithm %s: %w", alg, jose.ErrNoKeyForAlgorithm)
}

// mint signs the payload and assembles the Issued record.
func (c *Config) mint(ctx context.Context, payload jose.Payload, alg, typ string) (*Issued, error) {
	key, err := c.signingKeyFor(ctx, alg)
	if err != nil {
		return nil, err
	}
	encoded, err := jose.SignCompact(payload, key, alg, typ)
	if err != nil {
		return nil, err
	}

	token, err := jose.ParseCompact(encoded)
	if err != nil {
		return nil, err
	}
	jti, _ := payload.JTI()
	exp, _ := payload.ExpiresAt()
	return &Issued{
		Token:     token,
		Encoded:   encoded,
		JTI:       jti,
		TTL:       exp.Sub(c.Now()),
		ExpiresAt: exp,
	}, nil
}

// baseClaims populates the registered claims every minted token carries.
func (c *Config) baseClaims(subject string, audience []string, ttl time.Duration) jose.Payload {
	now := c.Now()
	p := jose.Payload{
		jose.ClaimIssuer: c.Issuer,
		jose.ClaimJTI:    uuid.NewString(),
	}
	if subject != "" {
		p[jose.ClaimSubject] = subject
	}
	switch len(audience) {
	case 0:
	case 1:
		p[jose.ClaimAudience] = audience[0]
	default:
		p[jose.ClaimAudience] = slices.Clone(audience)
	}
	p.SetTime(jose.ClaimIssuedAt, now)
	p.SetTime(jose.ClaimExpiration, now.Add(ttl))
	return p
}

// register records the token in the registry when one is configured.
func (c *Config) register(ctx context.Context, issued *Issued) error {
	if c.Registry == nil {
		return nil
	}
	return c.Registry.RegisterToken(ctx, issued.JTI, issued.ExpiresAt)
}

// validationParams builds the parameters shared by every token validation:
// issuer pinning and server key resolution. Audience and replay handling vary
// per caller.
func (c *Config) validationParams(opts jose.ValidationOptions) jose.ValidationParams {
	return jose.ValidationParams{
		Options:   opts,
		ClockSkew: c.ClockSkew,
		Now:       c.Now,
		ValidateIssuer: func(issuer string) bool {
			return issuer == c.Issuer
		},
		IssuerSigningKeys: func(ctx context.Context, _ string) ([]jwk.Key, error) {
			return c.Keys.GetSigningKeys(ctx, true)
		},
		TokenDecryptionKeys: func(ctx context.Context, _ string) ([]jwk.Key, error) {
			return c.Keys.GetEncryptionKeys(ctx, true)
		},
	}
}

// validate runs the JWT validator and the registry decorator.
func (c *Config) validate(ctx context.Context, raw string, opts jose.ValidationOptions) (*jose.JSONWebToken, *oidcerr.JWTError) {
	token, jwtErr := jose.Validate(ctx, raw, c.validationParams(opts|jose.SkipAudienceValidation))
	if jwtErr != nil {
		return nil, jwtErr
	}
	if jwtErr := c.checkRegistry(ctx, token.Payload); jwtErr != nil {
		return nil, jwtErr
	}
	return token, nil
}

// checkRegistry rejects tokens whose jti reads Used or Revoked. Unknown
// entries pass: tokens issued before the registry was enabled stay valid.
func (c *Config) checkRegistry(ctx context.Context, payload jose.Payload) *oidcerr.JWTError {
	if c.Registry == nil {
		return nil
	}
	jti, ok := payload.JTI()
	if !ok || jti == "" {
		return nil
	}
	status, err := c.Registry.GetTokenStatus(ctx, jti)
	if err != nil {
		return oidcerr.WrapJWTError(oidcerr.KindInvalidToken, "token registry unavailable", err)
	}
	switch status {
	case storage.StatusUsed:
		return oidcerr.NewJWTError(oidcerr.KindReplayed, "token has already been used")
	case storage.StatusRevoked:
		return oidcerr.NewJWTError(oidcerr.KindInvalidToken, "token has been revoked")
	default:
		return nil
	}
}
