// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package networking provides the hardened HTTP client the authorization
// server uses for every outbound request: remote JWKS fetches, CIBA ping and
// push notifications. Destinations are validated in layers so registered
// client URLs cannot be abused to reach internal infrastructure.
package networking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultTimeout bounds the entire request lifecycle: DNS, TLS,
	// headers and body.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBytes caps response bodies (5 MiB).
	DefaultMaxResponseBytes = 5 * 1024 * 1024

	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"
)

var blockedIPBlocks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918
		"192.168.0.0/16", // RFC1918
		"169.254.0.0/16", // RFC3927 link-local / cloud metadata
		"224.0.0.0/4",    // IPv4 multicast
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local addr
		"ff00::/8",       // IPv6 multicast
	} {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Errorf("parse error on %q: %v", cidr, err))
		}
		blockedIPBlocks = append(blockedIPBlocks, block)
	}
}

// blockedHostnames are names that always resolve inward.
var blockedHostnames = map[string]bool{
	"localhost":     true,
	"loopback":      true,
	"broadcasthost": true,
	"local":         true,
	"internal":      true,
	"intranet":      true,
	"private":       true,
	"corp":          true,
	"home":          true,
	"lan":           true,
}

// blockedTLDs are suffixes reserved for internal name resolution.
var blockedTLDs = []string{
	".local", ".localhost", ".internal", ".intranet", ".corp", ".home", ".lan",
}

func isBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, block := range blockedIPBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// validateHostname applies the hostname deny-list. IP literals are checked
// against the IP ranges instead.
func validateHostname(host string) error {
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("host %s resolves to a blocked address range", host)
		}
		return nil
	}

	if blockedHostnames[host] {
		return fmt.Errorf("hostname %s is not allowed", host)
	}
	for _, tld := range blockedTLDs {
		if strings.HasSuffix(host, tld) {
			return fmt.Errorf("hostname %s uses a blocked top-level domain", host)
		}
	}
	if !strings.Contains(host, ".") {
		return fmt.Errorf("single-label hostname %s is not allowed", host)
	}
	return nil
}

// guardedDialControl re-validates the resolved address immediately before the
// connection is opened. The dialer resolves per attempt, so this closes the
// DNS-rebinding window between URL validation and the network write.
func guardedDialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if isBlockedIP(net.ParseIP(host)) {
		return fmt.Errorf("connection to %s blocked: address is in a private range", address)
	}
	return nil
}

// validatingTransport checks scheme and hostname before forwarding.
type validatingTransport struct {
	transport      http.RoundTripper
	allowedSchemes map[string]bool
	allowPrivate   bool
}

func (t *validatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.allowedSchemes[req.URL.Scheme] {
		return nil, fmt.Errorf("scheme %q is not allowed for %s", req.URL.Scheme, req.URL.Redacted())
	}
	if !t.allowPrivate {
		if err := validateHostname(req.URL.Hostname()); err != nil {
			return nil, err
		}
	}
	return t.transport.RoundTrip(req)
}

// Client is the SSRF-guarded HTTP client.
type Client struct {
	http             *http.Client
	maxResponseBytes int64
}

type clientOptions struct {
	timeout          time.Duration
	maxResponseBytes int64
	allowedSchemes   []string
	allowPrivate     bool
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

// WithTimeout sets the total request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithMaxResponseBytes caps response body sizes.
func WithMaxResponseBytes(n int64) ClientOption {
	return func(o *clientOptions) {
		o.maxResponseBytes = n
	}
}

// WithAllowedSchemes replaces the scheme allow-list. The default is https
// only.
func WithAllowedSchemes(schemes ...string) ClientOption {
	return func(o *clientOptions) {
		o.allowedSchemes = schemes
	}
}

// WithPrivateNetworkAccess disables the hostname and IP range guards. Only
// for tests against loopback servers.
func WithPrivateNetworkAccess(allow bool) ClientOption {
	return func(o *clientOptions) {
		o.allowPrivate = allow
	}
}

// NewClient builds a hardened client: redirects disabled, compression
// disabled, dial-time address re-validation, total-request timeout.
func NewClient(opts ...ClientOption) *Client {
	o := &clientOptions{
		timeout:          DefaultTimeout,
		maxResponseBytes: DefaultMaxResponseBytes,
		allowedSchemes:   []string{"https"},
	}
	for _, opt := range opts {
		opt(o)
	}

	transport := &http.Transport{
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		DisableCompression:    true,
	}
	if !o.allowPrivate {
		transport.DialContext = (&net.Dialer{
			Control: guardedDialControl,
		}).DialContext
	}

	schemes := make(map[string]bool, len(o.allowedSchemes))
	for _, s := range o.allowedSchemes {
		schemes[strings.ToLower(s)] = true
	}

	return &Client{
		http: &http.Client{
			Transport: &validatingTransport{
				transport:      transport,
				allowedSchemes: schemes,
				allowPrivate:   o.allowPrivate,
			},
			CheckRedirect: func(req *http.Request, _ []*http.Request) error {
				return fmt.Errorf("redirect to %s refused", req.URL.Redacted())
			},
			Timeout: o.timeout,
		},
		maxResponseBytes: o.maxResponseBytes,
	}
}

// readCapped reads the body rejecting responses over the configured cap.
func (c *Client) readCapped(resp *http.Response) ([]byte, error) {
	if resp.ContentLength > c.maxResponseBytes {
		return nil, fmt.Errorf("response of %d bytes exceeds the %d byte limit", resp.ContentLength, c.maxResponseBytes)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.maxResponseBytes {
		return nil, fmt.Errorf("response exceeds the %d byte limit", c.maxResponseBytes)
	}
	return body, nil
}

// FetchBytes performs a GET expecting a JSON response and returns the raw
// body.
func (c *Client) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("malformed URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", ContentTypeJSON)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := c.readCapped(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPError(rawURL, resp.StatusCode, body)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), ContentTypeJSON) {
		return nil, fmt.Errorf("unexpected content type %q from %s", contentType, rawURL)
	}

	return body, nil
}

// PostJSON posts a JSON payload with optional bearer authorization and
// returns the response status code. The body is drained and discarded.
func (c *Client) PostJSON(ctx context.Context, rawURL, bearer string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxResponseBytes))
	return resp.StatusCode, nil
}
