// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package keys provides the signing and encryption key providers of the
// authorization server: static sets, ephemeral generation for development,
// and client key resolution from registered JWKS documents or remote JWKS
// endpoints.
package keys

import (
	"context"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
)

// DefaultAlgorithm is the signing algorithm for auto-generated keys.
// ES256 provides equivalent security to RSA-3072 with smaller keys and
// faster operations.
const DefaultAlgorithm = "ES256"

// AuthServiceKeysProvider supplies the server's own keys. With includePrivate
// false only public material is returned, suitable for the JWKS endpoint.
type AuthServiceKeysProvider interface {
	// GetSigningKeys returns the server's token signing keys.
	GetSigningKeys(ctx context.Context, includePrivate bool) ([]jwk.Key, error)

	// GetEncryptionKeys returns the server's token decryption keys.
	GetEncryptionKeys(ctx context.Context, includePrivate bool) ([]jwk.Key, error)
}

// ClientKeysProvider resolves a client's registered public keys, used to
// verify private_key_jwt assertions and to encrypt identity tokens.
type ClientKeysProvider interface {
	// GetSigningKeys returns the client's assertion verification keys.
	GetSigningKeys(ctx context.Context, client *oidc.ClientInfo) ([]jwk.Key, error)

	// GetEncryptionKeys returns the client's token encryption keys.
	GetEncryptionKeys(ctx context.Context, client *oidc.ClientInfo) ([]jwk.Key, error)
}

// keysFromSet flattens a jwk.Set into a slice.
func keysFromSet(set jwk.Set) []jwk.Key {
	if set == nil {
		return nil
	}
	out := make([]jwk.Key, 0, set.Len())
	for i := range set.Len() {
		if key, ok := set.Key(i); ok {
			out = append(out, key)
		}
	}
	return out
}
