// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Header is the JOSE header of a JWT, shared between the JWS and JWE
// serializations. Encryption-specific parameters are only present on JWE
// headers.
type Header struct {
	// Algorithm is the "alg" header: a signature algorithm for JWS,
	// a key-management algorithm for JWE.
	Algorithm string `json:"alg,omitempty"`

	// Encryption is the "enc" content-encryption algorithm (JWE only).
	Encryption string `json:"enc,omitempty"`

	// KeyID is the "kid" of the key used to sign or encrypt.
	KeyID string `json:"kid,omitempty"`

	// Type is the "typ" header, e.g. "JWT" or "logout+jwt".
	Type string `json:"typ,omitempty"`

	// ContentType is the "cty" header; "JWT" marks a nested token.
	ContentType string `json:"cty,omitempty"`
}

// MarshalCompact serializes the header as a base64url segment.
func (h *Header) MarshalCompact() (string, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ParseHeader decodes the first segment of a compact serialization.
func ParseHeader(segment string) (*Header, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, err
	}
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// CompactParts splits a compact serialization into its segments.
// A JWS has 3 parts, a JWE has 5.
func CompactParts(token string) []string {
	return strings.Split(token, ".")
}
