// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// Registered claim names used by the token pipeline.
const (
	ClaimIssuer          = "iss"
	ClaimSubject         = "sub"
	ClaimAudience        = "aud"
	ClaimExpiration      = "exp"
	ClaimIssuedAt        = "iat"
	ClaimNotBefore       = "nbf"
	ClaimJTI             = "jti"
	ClaimAuthTime        = "auth_time"
	ClaimNonce           = "nonce"
	ClaimScope           = "scope"
	ClaimClientID        = "client_id"
	ClaimAMR             = "amr"
	ClaimACR             = "acr"
	ClaimSID             = "sid"
	ClaimAZP             = "azp"
	ClaimAccessTokenHash = "at_hash"
	ClaimCodeHash        = "c_hash"
	ClaimEvents          = "events"
	ClaimRequestedClaims = "requested_claims"

	// ClaimAuthReqID carries the CIBA auth_req_id in push-mode id tokens.
	ClaimAuthReqID = "urn:openid:params:jwt:claim:auth_req_id"
)

// Payload is a free-form mapping from claim name to JSON value, with typed
// accessors for the registered claims. Numeric dates are epoch seconds.
type Payload map[string]any

// ParsePayload decodes a base64url payload segment.
func ParsePayload(segment string) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// MarshalCompact serializes the payload as a base64url segment.
func (p Payload) MarshalCompact() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// GetString returns a string claim.
func (p Payload) GetString(name string) (string, bool) {
	v, ok := p[name].(string)
	return v, ok
}

// GetStrings returns a claim that may be a string or an array of strings.
func (p Payload) GetStrings(name string) []string {
	switch v := p[name].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// GetTime returns a numeric-date claim as a time.Time.
func (p Payload) GetTime(name string) (time.Time, bool) {
	switch v := p[name].(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(n, 0), true
	default:
		return time.Time{}, false
	}
}

// Issuer returns the iss claim.
func (p Payload) Issuer() (string, bool) { return p.GetString(ClaimIssuer) }

// Subject returns the sub claim.
func (p Payload) Subject() (string, bool) { return p.GetString(ClaimSubject) }

// Audience returns the aud claim as a list; a bare string becomes a
// single-element list.
func (p Payload) Audience() []string { return p.GetStrings(ClaimAudience) }

// ExpiresAt returns the exp claim.
func (p Payload) ExpiresAt() (time.Time, bool) { return p.GetTime(ClaimExpiration) }

// IssuedAt returns the iat claim.
func (p Payload) IssuedAt() (time.Time, bool) { return p.GetTime(ClaimIssuedAt) }

// NotBefore returns the nbf claim.
func (p Payload) NotBefore() (time.Time, bool) { return p.GetTime(ClaimNotBefore) }

// JTI returns the jti claim.
func (p Payload) JTI() (string, bool) { return p.GetString(ClaimJTI) }

// AuthTime returns the auth_time claim.
func (p Payload) AuthTime() (time.Time, bool) { return p.GetTime(ClaimAuthTime) }

// Nonce returns the nonce claim.
func (p Payload) Nonce() (string, bool) { return p.GetString(ClaimNonce) }

// Scope returns the scope claim. The claim may be either the space-separated
// string form or an array of strings.
func (p Payload) Scope() []string {
	if s, ok := p.GetString(ClaimScope); ok {
		if s == "" {
			return nil
		}
		return strings.Fields(s)
	}
	return p.GetStrings(ClaimScope)
}

// ClientID returns the client_id claim.
func (p Payload) ClientID() (string, bool) { return p.GetString(ClaimClientID) }

// AMR returns the amr claim.
func (p Payload) AMR() []string { return p.GetStrings(ClaimAMR) }

// ACR returns the acr claim.
func (p Payload) ACR() (string, bool) { return p.GetString(ClaimACR) }

// SID returns the sid claim.
func (p Payload) SID() (string, bool) { return p.GetString(ClaimSID) }

// AZP returns the azp claim.
func (p Payload) AZP() (string, bool) { return p.GetString(ClaimAZP) }

// RequestedClaims returns the serialized requested-claims object, if present.
func (p Payload) RequestedClaims() (string, bool) {
	return p.GetString(ClaimRequestedClaims)
}

// SetTime stores a numeric-date claim as epoch seconds.
func (p Payload) SetTime(name string, t time.Time) {
	p[name] = t.Unix()
}

// JSONWebToken is a decoded JWT: its JOSE header and claims payload.
type JSONWebToken struct {
	// Header is the (outermost verified) JOSE header.
	Header *Header

	// Payload holds the claims.
	Payload Payload

	// Raw is the compact serialization the token was parsed from.
	Raw string
}

// ParseCompact decodes a compact JWS serialization without verifying the
// signature. Callers that need authenticity must use Validate.
func ParseCompact(token string) (*JSONWebToken, error) {
	parts := CompactParts(token)
	if len(parts) != 3 {
		return nil, errMalformedToken
	}
	hdr, err := ParseHeader(parts[0])
	if err != nil {
		return nil, err
	}
	payload, err := ParsePayload(parts[1])
	if err != nil {
		return nil, err
	}
	return &JSONWebToken{Header: hdr, Payload: payload, Raw: token}, nil
}
