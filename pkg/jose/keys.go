// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"crypto/rsa"
	"errors"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// ErrNoKeyForAlgorithm is returned when no signing key matches the requested
// algorithm.
var ErrNoKeyForAlgorithm = errors.New("no key for algorithm")

// keyAlgorithm returns the "alg" attribute of a key, or "" when absent.
func keyAlgorithm(key jwk.Key) string {
	alg, ok := key.Algorithm()
	if !ok {
		return ""
	}
	return alg.String()
}

// keyID returns the "kid" attribute of a key, or "" when absent.
func keyID(key jwk.Key) string {
	kid, ok := key.KeyID()
	if !ok {
		return ""
	}
	return kid
}

// SelectSigningKey picks a signing key for alg from the set: first an exact
// "alg" match, then an algorithm-agnostic key (no alg attribute, per RFC 7517
// §4.4). Keys carrying alg "none" are never returned.
func SelectSigningKey(set jwk.Set, alg string) (jwk.Key, error) {
	if alg == "" || alg == "none" {
		return nil, ErrNoKeyForAlgorithm
	}

	var agnostic jwk.Key
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		switch keyAlgorithm(key) {
		case alg:
			return key, nil
		case "":
			if agnostic == nil {
				agnostic = key
			}
		}
	}
	if agnostic != nil {
		return agnostic, nil
	}
	return nil, ErrNoKeyForAlgorithm
}

// VerificationCandidates selects keys to try during signature verification:
// a key matching the header kid comes first, then keys matching the header
// alg, then algorithm-agnostic keys.
func VerificationCandidates(keys []jwk.Key, alg, kid string) []jwk.Key {
	var byKid, byAlg, agnostic []jwk.Key
	for _, key := range keys {
		if kid != "" && keyID(key) == kid {
			byKid = append(byKid, key)
			continue
		}
		switch keyAlgorithm(key) {
		case alg:
			byAlg = append(byAlg, key)
		case "":
			agnostic = append(agnostic, key)
		}
	}
	out := make([]jwk.Key, 0, len(byKid)+len(byAlg)+len(agnostic))
	out = append(out, byKid...)
	out = append(out, byAlg...)
	return append(out, agnostic...)
}

// KeyEncrypterForKey builds a KeyEncrypter from a JWK for the given
// key-management algorithm. RSA algorithms want an RSA key; AES-GCM-KW and
// dir want a symmetric (oct) key.
func KeyEncrypterForKey(alg string, key jwk.Key) (KeyEncrypter, bool) {
	switch alg {
	case AlgRSAOAEP, AlgRSAOAEP256, AlgRSA15:
		var priv rsa.PrivateKey
		if err := jwk.Export(key, &priv); err == nil {
			return NewRSAKeyEncrypter(alg, nil, &priv)
		}
		var pub rsa.PublicKey
		if err := jwk.Export(key, &pub); err == nil {
			return NewRSAKeyEncrypter(alg, &pub, nil)
		}
		return nil, false
	case AlgA128GCMKW, AlgA192GCMKW, AlgA256GCMKW:
		var raw []byte
		if err := jwk.Export(key, &raw); err != nil {
			return nil, false
		}
		return NewAESGCMKeyEncrypter(alg, raw)
	case AlgDirect:
		var raw []byte
		if err := jwk.Export(key, &raw); err != nil {
			return nil, false
		}
		return NewDirectKeyEncrypter(raw)
	default:
		return nil, false
	}
}
