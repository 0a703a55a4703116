// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
)

// ErrorPreviewSize caps the response body preview kept in HTTPError.
const ErrorPreviewSize = 1024

// Fetcher retrieves JSON documents by URL. Client and CachingFetcher
// implement it.
type Fetcher interface {
	FetchBytes(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPError is a non-200 response with a body preview.
type HTTPError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Body is a preview of the response body.
	Body string

	// URL is the requested URL.
	URL string
}

func newHTTPError(rawURL string, statusCode int, body []byte) *HTTPError {
	preview := string(body)
	if len(preview) > ErrorPreviewSize {
		preview = preview[:ErrorPreviewSize]
	}
	return &HTTPError{StatusCode: statusCode, Body: preview, URL: rawURL}
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP request to %s failed with status %d", e.URL, e.StatusCode)
}

// IsHTTPError checks whether err is an HTTPError with the given status code.
// A statusCode of 0 matches any HTTPError.
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return statusCode == 0 || httpErr.StatusCode == statusCode
}

// FetchJSON retrieves and decodes a JSON document.
func FetchJSON[T any](ctx context.Context, f Fetcher, rawURL string) (T, error) {
	var out T

	body, err := f.FetchBytes(ctx, rawURL)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("failed to parse JSON response from %s: %w", rawURL, err)
	}
	return out, nil
}

// ClientMetadataError wraps a fetch failure for a client-registered URL into
// the invalid_client_metadata protocol error.
func ClientMetadataError(rawURL string, err error) *oidcerr.Error {
	return oidcerr.InvalidClientMetadata(fmt.Sprintf("failed to fetch %s", rawURL), err)
}
