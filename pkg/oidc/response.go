// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

// TokenResponse is the successful token-endpoint response body (RFC 6749
// §5.1). It is also the payload of CIBA push deliveries.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// AuthReqID echoes the CIBA request id in push deliveries.
	AuthReqID string `json:"auth_req_id,omitempty"`
}
