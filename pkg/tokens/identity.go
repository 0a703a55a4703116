// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"context"
	"fmt"
	"slices"

	"github.com/lighthouse-oidc/lighthouse/pkg/jose"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
)

// Artifacts are the sibling values an identity token is bound to at
// issuance. Hashes are only computed for non-empty fields.
type Artifacts struct {
	// AccessToken is the compact access token issued alongside; produces
	// at_hash.
	AccessToken string

	// Code is the authorization code the token was redeemed from; produces
	// c_hash.
	Code string

	// AuthReqID, when set, marks a CIBA push-mode token and is carried in
	// the urn:openid:params:jwt:claim:auth_req_id claim.
	AuthReqID string
}

// IdentityTokenService mints and validates OIDC identity tokens, including
// the optional JWE wrapping for clients that register encryption.
type IdentityTokenService struct {
	cfg *Config
}

// NewIdentityTokenService builds the service over a shared configuration.
func NewIdentityTokenService(cfg *Config) *IdentityTokenService {
	cfg.applyDefaults()
	return &IdentityTokenService{cfg: cfg}
}

// Create mints an identity token for the grant. The nonce is echoed exactly
// as captured at authorization time; auth_time, acr, amr and sid come from
// the session. When the client registers id-token encryption, the signed
// token is nested inside a JWE against the client's encryption key.
func (s *IdentityTokenService) Create(ctx context.Context, client *oidc.ClientInfo, grant *oidc.AuthorizedGrant, artifacts Artifacts) (*Issued, error) {
	if grant.Session == nil {
		return nil, fmt.Errorf("identity token requires an authenticated session")
	}

	ttl := s.cfg.IdentityTokenTTL
	if client.IdentityTokenTTL > 0 {
		ttl = client.IdentityTokenTTL
	}
	alg := s.cfg.SigningAlgorithm
	if client.IdentityTokenSignedAlg != "" {
		alg = client.IdentityTokenSignedAlg
	}

	requested, err := oidc.ParseRequestedClaims(grant.Context.RequestedClaims)
	if err != nil {
		return nil, fmt.Errorf("grant carries an invalid claims request: %w", err)
	}

	session := grant.Session
	payload := s.cfg.baseClaims(session.Subject, []string{client.ID}, ttl)
	payload[jose.ClaimAZP] = client.ID
	payload.SetTime(jose.ClaimAuthTime, session.AuthTime)
	if grant.Context.Nonce != "" {
		payload[jose.ClaimNonce] = grant.Context.Nonce
	}
	if session.ACR != "" {
		payload[jose.ClaimACR] = session.ACR
	}
	if len(session.AMR) > 0 {
		payload[jose.ClaimAMR] = session.AMR
	}
	if session.SessionID != "" {
		payload[jose.ClaimSID] = session.SessionID
	}

	// Session claims beyond the protocol set: a claims request with an
	// id_token section selects which of them are released; without one the
	// whole session surface is released.
	selected := requested.IDTokenClaimNames()
	include := func(name string) bool {
		return selected == nil || slices.Contains(selected, name)
	}
	if session.Email != "" && include("email") {
		payload["email"] = session.Email
		if session.EmailVerified != nil {
			payload["email_verified"] = *session.EmailVerified
		}
	}
	for name, value := range session.AdditionalClaims {
		if _, taken := payload[name]; !taken && include(name) {
			payload[name] = value
		}
	}

	if artifacts.AccessToken != "" {
		atHash, err := HalfDigest(alg, artifacts.AccessToken)
		if err != nil {
			return nil, err
		}
		payload[jose.ClaimAccessTokenHash] = atHash
	}
	if artifacts.Code != "" {
		cHash, err := HalfDigest(alg, artifacts.Code)
		if err != nil {
			return nil, err
		}
		payload[jose.ClaimCodeHash] = cHash
	}
	if artifacts.AuthReqID != "" {
		payload[jose.ClaimAuthReqID] = artifacts.AuthReqID
	}

	issued, err := s.cfg.mint(ctx, payload, alg, "JWT")
	if err != nil {
		return nil, err
	}

	if client.IdentityTokenEncryptedAlg != "" && client.IdentityTokenEncryptedEnc != "" {
		encrypted, err := s.encrypt(ctx, client, issued.Encoded)
		if err != nil {
			return nil, err
		}
		issued.Encoded = encrypted
	}
	return issued, nil
}

// encrypt nests the signed token inside a compact JWE against the first
// usable client encryption key.
func (s *IdentityTokenService) encrypt(ctx context.Context, client *oidc.ClientInfo, signed string) (string, error) {
	if s.cfg.ClientKeys == nil {
		return "", fmt.Errorf("client %s requests id token encryption but no client key provider is configured", client.ID)
	}
	encKeys, err := s.cfg.ClientKeys.GetEncryptionKeys(ctx, client)
	if err != nil {
		return "", err
	}

	for _, key := range encKeys {
		ke, ok := jose.KeyEncrypterForKey(client.IdentityTokenEncryptedAlg, key)
		if !ok {
			continue
		}
		hdr := &jose.Header{
			Algorithm:   client.IdentityTokenEncryptedAlg,
			Encryption:  client.IdentityTokenEncryptedEnc,
			Type:        "JWT",
			ContentType: "JWT",
		}
		if kid, ok := key.KeyID(); ok {
			hdr.KeyID = kid
		}
		if encrypted, ok := jose.EncryptCompact([]byte(signed), hdr, ke); ok {
			return encrypted, nil
		}
	}
	return "", fmt.Errorf("client %s has no usable encryption key for %s", client.ID, client.IdentityTokenEncryptedAlg)
}

// Parse decodes an identity token without verifying it. Encrypted tokens
// cannot be parsed without validation.
func (s *IdentityTokenService) Parse(encoded string) (*jose.JSONWebToken, error) {
	return jose.ParseCompact(encoded)
}

// Validate verifies the token, decrypting first when it arrives as a JWE.
func (s *IdentityTokenService) Validate(ctx context.Context, encoded string) (*jose.JSONWebToken, *oidcerr.JWTError) {
	return s.cfg.validate(ctx, encoded, 0)
}

// CreateLogoutToken mints a back-channel logout token (OIDC Back-Channel
// Logout 1.0 §2.4) for the client: sub and sid identify the ended session,
// the events claim marks the token type, and nonce is forbidden.
func (s *IdentityTokenService) CreateLogoutToken(ctx context.Context, client *oidc.ClientInfo, session *oidc.AuthSession) (*Issued, error) {
	alg := s.cfg.SigningAlgorithm
	if client.IdentityTokenSignedAlg != "" {
		alg = client.IdentityTokenSignedAlg
	}

	payload := s.cfg.baseClaims(session.Subject, []string{client.ID}, DefaultLogoutTokenTTL)
	payload[jose.ClaimEvents] = map[string]any{
		"http://schemas.openid.net/event/backchannel-logout": map[string]any{},
	}
	if session.SessionID != "" {
		payload[jose.ClaimSID] = session.SessionID
	}

	return s.cfg.mint(ctx, payload, alg, "logout+jwt")
}
