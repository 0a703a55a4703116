// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient allows http and loopback so httptest servers are reachable.
func testClient(opts ...ClientOption) *Client {
	base := []ClientOption{
		WithAllowedSchemes("http", "https"),
		WithPrivateNetworkAccess(true),
	}
	return NewClient(append(base, opts...)...)
}

func TestValidateHostname(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host    string
		blocked bool
	}{
		{"example.com", false},
		{"jwks.client.example.org", false},
		{"localhost", true},
		{"LOCALHOST", true},
		{"loopback", true},
		{"broadcasthost", true},
		{"intranet", true},
		{"corp", true},
		{"server.local", true},
		{"api.internal", true},
		{"files.corp", true},
		{"nas.home", true},
		{"printer.lan", true},
		{"web.localhost", true},
		{"singlelabel", true},
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.5", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"224.0.0.1", true},
		{"::1", true},
		{"fe80::1", true},
		{"fc00::1", true},
		{"ff02::1", true},
		{"8.8.8.8", false},
		{"2606:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			t.Parallel()

			err := validateHostname(tt.host)
			if tt.blocked {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClientRejectsDisallowedScheme(t *testing.T) {
	t.Parallel()

	c := NewClient() // https only
	_, err := c.FetchBytes(context.Background(), "http://example.com/jwks")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestClientRejectsBlockedHostname(t *testing.T) {
	t.Parallel()

	c := NewClient(WithAllowedSchemes("https"))
	_, err := c.FetchBytes(context.Background(), "https://metadata.internal/creds")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked top-level domain")
}

func TestGuardedDialControl(t *testing.T) {
	t.Parallel()

	assert.Error(t, guardedDialControl("tcp", "127.0.0.1:443", nil))
	assert.Error(t, guardedDialControl("tcp", "169.254.169.254:80", nil))
	assert.Error(t, guardedDialControl("tcp", "[::1]:443", nil))
	assert.NoError(t, guardedDialControl("tcp", "93.184.216.34:443", nil))
}

func TestFetchBytesSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ContentTypeJSON, r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer srv.Close()

	body, err := testClient().FetchBytes(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":[]}`, string(body))
}

func TestFetchBytesRejectsNonJSONContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	_, err := testClient().FetchBytes(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestFetchBytesHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient().FetchBytes(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, IsHTTPError(err, http.StatusForbidden))
	assert.True(t, IsHTTPError(err, 0))
	assert.False(t, IsHTTPError(err, http.StatusNotFound))
}

func TestFetchBytesEnforcesSizeCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", ContentTypeJSON)
		_, _ = w.Write([]byte(`{"padding":"` + strings.Repeat("x", 2048) + `"}`))
	}))
	defer srv.Close()

	_, err := testClient(WithMaxResponseBytes(512)).FetchBytes(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "byte limit")
}

func TestFetchBytesRefusesRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://example.com/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	_, err := testClient().FetchBytes(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect")
}

func TestFetchJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", ContentTypeJSON)
		_, _ = w.Write([]byte(`{"issuer":"https://issuer.example"}`))
	}))
	defer srv.Close()

	type discovery struct {
		Issuer string `json:"issuer"`
	}

	doc, err := FetchJSON[discovery](context.Background(), testClient(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example", doc.Issuer)
}

func TestPostJSON(t *testing.T) {
	t.Parallel()

	var gotAuth, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	status, err := testClient().PostJSON(context.Background(), srv.URL, "notify-token", map[string]string{"auth_req_id": "req-1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, "Bearer notify-token", gotAuth)
	assert.Equal(t, ContentTypeJSON, gotContentType)
	assert.JSONEq(t, `{"auth_req_id":"req-1"}`, gotBody)
}

func TestIsBlockedIPUnspecified(t *testing.T) {
	t.Parallel()

	assert.True(t, isBlockedIP(net.ParseIP("0.0.0.0")))
	assert.True(t, isBlockedIP(net.ParseIP("::")))
	assert.True(t, isBlockedIP(nil))
}
