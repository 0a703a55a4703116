// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"crypto/subtle"

	"golang.org/x/oauth2"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
)

// PKCE challenge methods (RFC 7636).
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// VerifyPKCE checks a code_verifier against the challenge captured at
// authorization time. requirePKCE refuses redemptions of codes that were
// issued without a challenge.
func VerifyPKCE(challenge, method, verifier string, requirePKCE bool) error {
	if challenge == "" {
		if requirePKCE {
			return oidcerr.InvalidGrant("PKCE is required for this client")
		}
		if verifier != "" {
			return oidcerr.InvalidGrant("code_verifier provided but no code_challenge was registered")
		}
		return nil
	}
	if verifier == "" {
		return oidcerr.InvalidGrant("code_verifier is required")
	}

	switch method {
	case PKCEMethodS256:
		computed := oauth2.S256ChallengeFromVerifier(verifier)
		if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
			return oidcerr.InvalidGrant("code_verifier does not match the challenge")
		}
	case PKCEMethodPlain, "":
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return oidcerr.InvalidGrant("code_verifier does not match the challenge")
		}
	default:
		return oidcerr.InvalidGrant("unsupported code_challenge_method")
	}
	return nil
}
