// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package oidcerr defines the error taxonomies used across the authorization
// server core: the OIDC/OAuth protocol errors surfaced to clients, and the
// JWT validation error kinds produced by the token pipeline.
package oidcerr

import (
	"errors"
	"fmt"
)

// OAuth 2.0 / OIDC protocol error codes (RFC 6749 §5.2, CIBA Core §11).
const (
	// CodeInvalidRequest is returned when the request is malformed.
	CodeInvalidRequest = "invalid_request"

	// CodeInvalidClient is returned when client authentication fails.
	CodeInvalidClient = "invalid_client"

	// CodeInvalidGrant is returned when the presented grant is invalid, expired or revoked.
	CodeInvalidGrant = "invalid_grant"

	// CodeUnauthorizedClient is returned when the client may not use the requested grant type.
	CodeUnauthorizedClient = "unauthorized_client"

	// CodeUnsupportedGrantType is returned when the grant type is not supported by the server.
	CodeUnsupportedGrantType = "unsupported_grant_type"

	// CodeInvalidScope is returned when a requested scope is invalid or exceeds the granted set.
	CodeInvalidScope = "invalid_scope"

	// CodeInvalidTarget is returned when a resource indicator is not permitted (RFC 8707).
	CodeInvalidTarget = "invalid_target"

	// CodeAccessDenied is returned when the end-user denied the request.
	CodeAccessDenied = "access_denied"

	// CodeAuthorizationPending is returned on a CIBA poll before the user has acted.
	CodeAuthorizationPending = "authorization_pending"

	// CodeSlowDown is returned when a CIBA client polls faster than its registered interval.
	CodeSlowDown = "slow_down"

	// CodeExpiredToken is returned when a CIBA auth_req_id has expired.
	CodeExpiredToken = "expired_token"

	// CodeInvalidClientMetadata is returned when client metadata could not be retrieved
	// or fails validation, including SSRF-blocked fetches.
	CodeInvalidClientMetadata = "invalid_client_metadata"
)

// Error is an OIDC protocol error. It renders as the RFC 6749 JSON error body
// and is surfaced verbatim to the caller.
type Error struct {
	// Code is the protocol error code, e.g. "invalid_grant".
	Code string `json:"error"`

	// Description is the human-readable error_description.
	Description string `json:"error_description,omitempty"`

	// Cause is the underlying error, never serialized.
	Cause error `json:"-"`
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a protocol error with the given code and description.
func New(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Wrap creates a protocol error carrying an underlying cause.
func Wrap(code, description string, cause error) *Error {
	return &Error{Code: code, Description: description, Cause: cause}
}

// InvalidRequest creates an invalid_request error.
func InvalidRequest(description string) *Error {
	return New(CodeInvalidRequest, description)
}

// InvalidClient creates an invalid_client error.
func InvalidClient(description string) *Error {
	return New(CodeInvalidClient, description)
}

// InvalidGrant creates an invalid_grant error.
func InvalidGrant(description string) *Error {
	return New(CodeInvalidGrant, description)
}

// UnauthorizedClient creates an unauthorized_client error.
func UnauthorizedClient(description string) *Error {
	return New(CodeUnauthorizedClient, description)
}

// UnsupportedGrantType creates an unsupported_grant_type error.
func UnsupportedGrantType(description string) *Error {
	return New(CodeUnsupportedGrantType, description)
}

// InvalidScope creates an invalid_scope error.
func InvalidScope(description string) *Error {
	return New(CodeInvalidScope, description)
}

// InvalidTarget creates an invalid_target error.
func InvalidTarget(description string) *Error {
	return New(CodeInvalidTarget, description)
}

// AccessDenied creates an access_denied error.
func AccessDenied(description string) *Error {
	return New(CodeAccessDenied, description)
}

// AuthorizationPending creates an authorization_pending error.
func AuthorizationPending() *Error {
	return New(CodeAuthorizationPending, "the authorization request is still pending")
}

// SlowDown creates a slow_down error.
func SlowDown() *Error {
	return New(CodeSlowDown, "polling interval not respected")
}

// ExpiredToken creates an expired_token error.
func ExpiredToken() *Error {
	return New(CodeExpiredToken, "the auth_req_id has expired")
}

// InvalidClientMetadata creates an invalid_client_metadata error.
func InvalidClientMetadata(description string, cause error) *Error {
	return Wrap(CodeInvalidClientMetadata, description, cause)
}

// IsCode reports whether err is a protocol error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// AsError extracts a protocol error from err, or wraps err as an opaque
// invalid_request if it is not one.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeInvalidRequest, "request processing failed", err)
}
