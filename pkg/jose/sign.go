// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
)

// signatureAlgorithms maps "alg" identifiers to jwa algorithm values.
var signatureAlgorithms = map[string]jwa.SignatureAlgorithm{
	"RS256": jwa.RS256(),
	"RS384": jwa.RS384(),
	"RS512": jwa.RS512(),
	"PS256": jwa.PS256(),
	"PS384": jwa.PS384(),
	"PS512": jwa.PS512(),
	"ES256": jwa.ES256(),
	"ES384": jwa.ES384(),
	"ES512": jwa.ES512(),
	"HS256": jwa.HS256(),
	"HS384": jwa.HS384(),
	"HS512": jwa.HS512(),
	"EdDSA": jwa.EdDSA(),
}

// SignatureAlgorithmSupported reports whether alg is a supported JWS
// signature algorithm.
func SignatureAlgorithmSupported(alg string) bool {
	_, ok := signatureAlgorithms[alg]
	return ok
}

// SignCompact signs the payload as a compact JWS. The key's kid, when set,
// is placed into the protected header; typ defaults to "JWT".
func SignCompact(payload Payload, key jwk.Key, alg, typ string) (string, error) {
	sigAlg, ok := signatureAlgorithms[alg]
	if !ok {
		return "", fmt.Errorf("unsupported signature algorithm %q", alg)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	if typ == "" {
		typ = "JWT"
	}
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.TypeKey, typ); err != nil {
		return "", err
	}
	if kid := keyID(key); kid != "" {
		if err := hdrs.Set(jws.KeyIDKey, kid); err != nil {
			return "", err
		}
	}

	signed, err := jws.Sign(raw, jws.WithKey(sigAlg, key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return string(signed), nil
}

// VerifyCompact verifies a compact JWS against the candidate keys in order
// and returns the verified payload on the first success. Verification is
// pinned to the header algorithm; keys that fail are skipped.
func VerifyCompact(token string, alg string, candidates []jwk.Key) (Payload, bool) {
	sigAlg, ok := signatureAlgorithms[alg]
	if !ok {
		return nil, false
	}

	for _, key := range candidates {
		raw, err := jws.Verify([]byte(token), jws.WithKey(sigAlg, key))
		if err != nil {
			continue
		}
		var payload Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, false
		}
		return payload, true
	}
	return nil, false
}

// PublicKeyOf returns the public half of a key for JWKS publication,
// carrying over kid, alg and use.
func PublicKeyOf(key jwk.Key) (jwk.Key, error) {
	return jwk.PublicKeyOf(key)
}
