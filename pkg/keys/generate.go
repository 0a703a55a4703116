// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/lighthouse-oidc/lighthouse/pkg/jose"
	"github.com/lighthouse-oidc/lighthouse/pkg/logger"
)

// GeneratingProvider creates ephemeral keys on first use. Intended for
// development and testing; tokens signed with a generated key become
// unverifiable after a restart.
type GeneratingProvider struct {
	mu            sync.Mutex
	signingAlg    string
	signingKey    jwk.Key
	encryptionKey jwk.Key
}

// NewGeneratingProvider builds a provider that lazily generates a signing
// key for the given algorithm and an RSA-OAEP encryption key. An empty
// algorithm selects DefaultAlgorithm.
func NewGeneratingProvider(signingAlg string) *GeneratingProvider {
	if signingAlg == "" {
		signingAlg = DefaultAlgorithm
	}
	return &GeneratingProvider{signingAlg: signingAlg}
}

// GetSigningKeys implements AuthServiceKeysProvider.
func (p *GeneratingProvider) GetSigningKeys(_ context.Context, includePrivate bool) ([]jwk.Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.signingKey == nil {
		raw, err := generateRawKey(p.signingAlg)
		if err != nil {
			return nil, err
		}
		key, err := ImportKey(raw, "", p.signingAlg, "sig")
		if err != nil {
			return nil, err
		}
		p.signingKey = key
		logger.Warnf("generated ephemeral %s signing key - tokens will be invalid after restart", p.signingAlg)
	}
	return selectKeys([]jwk.Key{p.signingKey}, includePrivate)
}

// GetEncryptionKeys implements AuthServiceKeysProvider.
func (p *GeneratingProvider) GetEncryptionKeys(_ context.Context, includePrivate bool) ([]jwk.Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.encryptionKey == nil {
		raw, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		key, err := ImportKey(raw, "", jose.AlgRSAOAEP, "enc")
		if err != nil {
			return nil, err
		}
		p.encryptionKey = key
		logger.Warnf("generated ephemeral RSA-OAEP encryption key - tokens will be invalid after restart")
	}
	return selectKeys([]jwk.Key{p.encryptionKey}, includePrivate)
}

// generateRawKey creates key material for a JWS signing algorithm.
func generateRawKey(alg string) (crypto.Signer, error) {
	switch alg {
	case "ES256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "ES384":
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case "ES512":
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", alg)
	}
}

var _ AuthServiceKeysProvider = (*GeneratingProvider)(nil)
