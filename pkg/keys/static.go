// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto"
	"encoding/base64"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// StaticProvider serves pre-configured key sets, typically loaded from disk
// or a secret store at startup.
type StaticProvider struct {
	signing    jwk.Set
	encryption jwk.Set
}

// NewStaticProvider builds a provider over fixed signing and encryption key
// sets. Either set may be nil.
func NewStaticProvider(signing, encryption jwk.Set) *StaticProvider {
	return &StaticProvider{signing: signing, encryption: encryption}
}

// GetSigningKeys implements AuthServiceKeysProvider.
func (p *StaticProvider) GetSigningKeys(_ context.Context, includePrivate bool) ([]jwk.Key, error) {
	return selectKeys(keysFromSet(p.signing), includePrivate)
}

// GetEncryptionKeys implements AuthServiceKeysProvider.
func (p *StaticProvider) GetEncryptionKeys(_ context.Context, includePrivate bool) ([]jwk.Key, error) {
	return selectKeys(keysFromSet(p.encryption), includePrivate)
}

// selectKeys returns the keys as-is when private material is requested,
// otherwise their public counterparts. Symmetric keys have no public form
// and are dropped from the public view.
func selectKeys(all []jwk.Key, includePrivate bool) ([]jwk.Key, error) {
	if includePrivate {
		return all, nil
	}
	out := make([]jwk.Key, 0, len(all))
	for _, key := range all {
		if _, symmetric := key.(jwk.SymmetricKey); symmetric {
			continue
		}
		pub, err := jwk.PublicKeyOf(key)
		if err != nil {
			return nil, fmt.Errorf("failed to derive public key: %w", err)
		}
		out = append(out, pub)
	}
	return out, nil
}

// ImportKey wraps raw key material as a JWK with the given algorithm and use
// attributes. The key ID is the RFC 7638 thumbprint unless kid is non-empty.
func ImportKey(raw any, kid, alg, use string) (jwk.Key, error) {
	key, err := jwk.Import(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	if kid == "" {
		tp, err := key.Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("failed to compute key thumbprint: %w", err)
		}
		kid = base64.RawURLEncoding.EncodeToString(tp)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, fmt.Errorf("failed to set kid: %w", err)
	}
	if alg != "" {
		if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
			return nil, fmt.Errorf("failed to set alg: %w", err)
		}
	}
	if use != "" {
		if err := key.Set(jwk.KeyUsageKey, use); err != nil {
			return nil, fmt.Errorf("failed to set use: %w", err)
		}
	}
	return key, nil
}

var _ AuthServiceKeysProvider = (*StaticProvider)(nil)
