// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package oidcerr

import (
	"errors"
	"fmt"
)

// JWTErrorKind classifies JWT validation failures.
type JWTErrorKind string

// JWT validation error kinds. These map to invalid_grant at the token endpoint
// and to the inactive response at the introspection endpoint.
const (
	// KindInvalidToken marks a token that could not be decoded or decrypted.
	KindInvalidToken JWTErrorKind = "InvalidToken"

	// KindTokenExpired marks a token past its exp claim.
	KindTokenExpired JWTErrorKind = "TokenExpired"

	// KindInvalidSignature marks a token whose signature verified with no candidate key.
	KindInvalidSignature JWTErrorKind = "InvalidSignature"

	// KindInvalidIssuer marks a token whose iss claim was rejected.
	KindInvalidIssuer JWTErrorKind = "InvalidIssuer"

	// KindInvalidAudience marks a token whose aud claim was rejected.
	KindInvalidAudience JWTErrorKind = "InvalidAudience"

	// KindReplayed marks a token whose jti was already presented.
	KindReplayed JWTErrorKind = "Replayed"

	// KindMissingClaim marks a token missing a required claim.
	KindMissingClaim JWTErrorKind = "MissingClaim"
)

// JWTError is a typed JWT validation failure.
type JWTError struct {
	// Kind classifies the failure.
	Kind JWTErrorKind

	// Description is a short human-readable description.
	Description string

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *JWTError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Description)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error.
func (e *JWTError) Unwrap() error {
	return e.Cause
}

// NewJWTError creates a JWT validation error.
func NewJWTError(kind JWTErrorKind, description string) *JWTError {
	return &JWTError{Kind: kind, Description: description}
}

// WrapJWTError creates a JWT validation error carrying an underlying cause.
func WrapJWTError(kind JWTErrorKind, description string, cause error) *JWTError {
	return &JWTError{Kind: kind, Description: description, Cause: cause}
}

// IsJWTKind reports whether err is a JWT validation error of the given kind.
func IsJWTKind(err error, kind JWTErrorKind) bool {
	var e *JWTError
	return errors.As(err, &e) && e.Kind == kind
}

// ToProtocol maps a JWT validation error to the invalid_grant protocol error
// presented at the token endpoint.
func (e *JWTError) ToProtocol() *Error {
	return Wrap(CodeInvalidGrant, e.Error(), e)
}
