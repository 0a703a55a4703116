// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
)

// ValidationOptions is a bit-set of checks to skip during validation.
type ValidationOptions uint8

// Validation option flags.
const (
	// SkipExpiration disables the exp/nbf/iat time checks.
	SkipExpiration ValidationOptions = 1 << iota

	// SkipIssuerValidation disables the issuer check.
	SkipIssuerValidation

	// SkipAudienceValidation disables the audience check.
	SkipAudienceValidation

	// SkipReplayCheck disables jti replay detection.
	SkipReplayCheck
)

// Has reports whether the option flag is set.
func (o ValidationOptions) Has(flag ValidationOptions) bool {
	return o&flag != 0
}

// ReplayCache detects reuse of jti values within a token's lifetime.
// MarkUsed must be atomic: of two concurrent callers with the same jti,
// exactly one observes fresh == true.
type ReplayCache interface {
	// IsReplayed reports whether the jti has already been presented.
	IsReplayed(ctx context.Context, jti string) (bool, error)

	// MarkUsed records the jti until expiresAt plus the configured skew and
	// reports whether it was newly recorded.
	MarkUsed(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
}

// ValidationParams parameterizes Validate.
type ValidationParams struct {
	// Options selects checks to skip.
	Options ValidationOptions

	// ClockSkew is the tolerance applied to all time comparisons.
	ClockSkew time.Duration

	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time

	// ValidateIssuer accepts or rejects the token's iss claim.
	ValidateIssuer func(issuer string) bool

	// ValidateAudience accepts or rejects the token's aud claim values.
	ValidateAudience func(audiences []string) bool

	// IssuerSigningKeys resolves the verification keys for an issuer.
	IssuerSigningKeys func(ctx context.Context, issuer string) ([]jwk.Key, error)

	// TokenDecryptionKeys resolves decryption keys for an encrypted token;
	// kid may be empty when the JWE header carries none.
	TokenDecryptionKeys func(ctx context.Context, kid string) ([]jwk.Key, error)

	// ReplayCache, when set, enforces one-time presentation of jti-bearing
	// tokens.
	ReplayCache ReplayCache
}

// Validate decodes, optionally decrypts, verifies and validates a compact
// JWT. The order is fixed: decode, decrypt and re-parse, signature, time
// window, issuer, audience, replay.
func Validate(ctx context.Context, raw string, p ValidationParams) (*JSONWebToken, *oidcerr.JWTError) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	token := raw
	if IsEncrypted(token) {
		inner, jwtErr := decryptNested(ctx, token, p)
		if jwtErr != nil {
			return nil, jwtErr
		}
		token = inner
	}

	unverified, err := ParseCompact(token)
	if err != nil {
		return nil, oidcerr.WrapJWTError(oidcerr.KindInvalidToken, "token could not be decoded", err)
	}

	payload, jwtErr := verifySignature(ctx, token, unverified, p)
	if jwtErr != nil {
		return nil, jwtErr
	}

	if !p.Options.Has(SkipExpiration) {
		if jwtErr := checkTimeWindow(payload, now(), p.ClockSkew); jwtErr != nil {
			return nil, jwtErr
		}
	}

	if p.ValidateIssuer != nil && !p.Options.Has(SkipIssuerValidation) {
		iss, ok := payload.Issuer()
		if !ok {
			return nil, oidcerr.NewJWTError(oidcerr.KindMissingClaim, "iss claim is required")
		}
		if !p.ValidateIssuer(iss) {
			return nil, oidcerr.NewJWTError(oidcerr.KindInvalidIssuer, "issuer is not trusted")
		}
	}

	if p.ValidateAudience != nil && !p.Options.Has(SkipAudienceValidation) {
		auds := payload.Audience()
		if len(auds) == 0 {
			return nil, oidcerr.NewJWTError(oidcerr.KindMissingClaim, "aud claim is required")
		}
		if !p.ValidateAudience(auds) {
			return nil, oidcerr.NewJWTError(oidcerr.KindInvalidAudience, "audience mismatch")
		}
	}

	if p.ReplayCache != nil && !p.Options.Has(SkipReplayCheck) {
		if jwtErr := checkReplay(ctx, payload, p); jwtErr != nil {
			return nil, jwtErr
		}
	}

	return &JSONWebToken{Header: unverified.Header, Payload: payload, Raw: raw}, nil
}

// decryptNested decrypts a five-part JWE and returns the nested compact JWS.
func decryptNested(ctx context.Context, token string, p ValidationParams) (string, *oidcerr.JWTError) {
	if p.TokenDecryptionKeys == nil {
		return "", oidcerr.NewJWTError(oidcerr.KindInvalidToken, "token is encrypted and no decryption keys are configured")
	}

	hdr, err := ParseHeader(CompactParts(token)[0])
	if err != nil {
		return "", oidcerr.WrapJWTError(oidcerr.KindInvalidToken, "token could not be decoded", err)
	}

	keys, err := p.TokenDecryptionKeys(ctx, hdr.KeyID)
	if err != nil {
		return "", oidcerr.WrapJWTError(oidcerr.KindInvalidToken, "decryption keys could not be resolved", err)
	}

	for _, key := range keys {
		ke, ok := KeyEncrypterForKey(hdr.Algorithm, key)
		if !ok {
			continue
		}
		plaintext, _, ok := DecryptCompact(token, ke)
		if !ok {
			continue
		}
		return string(plaintext), nil
	}
	return "", oidcerr.NewJWTError(oidcerr.KindInvalidToken, "token could not be decrypted")
}

func verifySignature(ctx context.Context, token string, unverified *JSONWebToken, p ValidationParams) (Payload, *oidcerr.JWTError) {
	alg := unverified.Header.Algorithm
	if !SignatureAlgorithmSupported(alg) {
		return nil, oidcerr.NewJWTError(oidcerr.KindInvalidToken, "unsupported signature algorithm")
	}
	if p.IssuerSigningKeys == nil {
		return nil, oidcerr.NewJWTError(oidcerr.KindInvalidSignature, "no signing keys configured")
	}

	iss, _ := unverified.Payload.Issuer()
	keys, err := p.IssuerSigningKeys(ctx, iss)
	if err != nil {
		return nil, oidcerr.WrapJWTError(oidcerr.KindInvalidSignature, "signing keys could not be resolved", err)
	}

	candidates := VerificationCandidates(keys, alg, unverified.Header.KeyID)
	payload, ok := VerifyCompact(token, alg, candidates)
	if !ok {
		return nil, oidcerr.NewJWTError(oidcerr.KindInvalidSignature, "signature verification failed")
	}
	return payload, nil
}

func checkTimeWindow(payload Payload, now time.Time, skew time.Duration) *oidcerr.JWTError {
	if nbf, ok := payload.NotBefore(); ok && now.Add(skew).Before(nbf) {
		return oidcerr.NewJWTError(oidcerr.KindInvalidToken, "token not yet valid")
	}
	if iat, ok := payload.IssuedAt(); ok && now.Add(skew).Before(iat) {
		return oidcerr.NewJWTError(oidcerr.KindInvalidToken, "token issued in the future")
	}
	exp, ok := payload.ExpiresAt()
	if !ok {
		return oidcerr.NewJWTError(oidcerr.KindMissingClaim, "exp claim is required")
	}
	if now.Add(-skew).After(exp) {
		return oidcerr.NewJWTError(oidcerr.KindTokenExpired, "token has expired")
	}
	return nil
}

func checkReplay(ctx context.Context, payload Payload, p ValidationParams) *oidcerr.JWTError {
	jti, ok := payload.JTI()
	if !ok || jti == "" {
		return nil
	}
	exp, _ := payload.ExpiresAt()
	fresh, err := p.ReplayCache.MarkUsed(ctx, jti, exp)
	if err != nil {
		return oidcerr.WrapJWTError(oidcerr.KindInvalidToken, "replay cache unavailable", err)
	}
	if !fresh {
		return oidcerr.NewJWTError(oidcerr.KindReplayed, "token has already been presented")
	}
	return nil
}
