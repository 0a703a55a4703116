// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/lighthouse-oidc/lighthouse/pkg/ciba"
	"github.com/lighthouse-oidc/lighthouse/pkg/networking"
	"github.com/lighthouse-oidc/lighthouse/pkg/storage"
	"github.com/lighthouse-oidc/lighthouse/pkg/tokens"
)

// DefaultHTTPHandlerLifetime bounds a single endpoint invocation, long-poll
// parking included.
const DefaultHTTPHandlerLifetime = 30 * time.Second

// BackChannelAuthOptions tunes the CIBA engine.
type BackChannelAuthOptions struct {
	// PollInterval is the advisory interval returned to clients without a
	// registered one.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// MaxLongPollSeconds caps how long a pending token-endpoint poll may
	// park waiting for the user's decision.
	MaxLongPollSeconds int `mapstructure:"max_long_poll_seconds"`

	// UseLongPolling parks pending polls instead of answering immediately.
	UseLongPolling bool `mapstructure:"use_long_polling"`

	// NotificationTimeout bounds a single ping/push delivery request.
	NotificationTimeout time.Duration `mapstructure:"notification_timeout"`

	// HTTPHandlerLifetime bounds an endpoint invocation end to end.
	HTTPHandlerLifetime time.Duration `mapstructure:"http_handler_lifetime"`
}

// SecureHTTPFetchOptions tunes the SSRF-guarded outbound client.
type SecureHTTPFetchOptions struct {
	// AllowedSchemes is the URL scheme allow-list (default: https only).
	AllowedSchemes []string `mapstructure:"allowed_schemes"`

	// AllowPrivateNetworks turns the hostname and IP range guards off.
	// The guards are on unless this is set explicitly.
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`

	// RequestTimeout bounds the whole outbound request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxResponseBytes caps response bodies.
	MaxResponseBytes int64 `mapstructure:"max_response_bytes"`
}

// Options is the recognized server configuration. Unset fields fall back to
// safe defaults; the outbound-fetch guards are on unless
// SecureHTTPFetch.AllowPrivateNetworks opts out of them.
type Options struct {
	// Issuer is the issuer identifier, included in the iss claim of every
	// issued token and as the base of the advertised endpoints.
	Issuer string `mapstructure:"issuer"`

	// Token lifetimes; zero values fall back to the token-service defaults.
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `mapstructure:"refresh_token_ttl"`
	AuthorizationCodeTTL time.Duration `mapstructure:"authorization_code_ttl"`

	// ClockSkew is the leeway applied to time-based token checks.
	ClockSkew time.Duration `mapstructure:"clock_skew"`

	// JWKSCacheTTL bounds how long fetched client key sets are reused.
	JWKSCacheTTL time.Duration `mapstructure:"jwks_cache_ttl"`

	// BackChannelAuth tunes the CIBA engine.
	BackChannelAuth BackChannelAuthOptions `mapstructure:"backchannel_auth"`

	// SecureHTTPFetch tunes the outbound HTTP client.
	SecureHTTPFetch SecureHTTPFetchOptions `mapstructure:"secure_http_fetch"`
}

// DefaultOptions returns the safe defaults: https-only outbound fetches with
// private networks blocked, standard token lifetimes, long polling off.
func DefaultOptions() Options {
	return Options{
		AccessTokenTTL:       tokens.DefaultAccessTokenTTL,
		RefreshTokenTTL:      tokens.DefaultRefreshTokenTTL,
		AuthorizationCodeTTL: storage.DefaultAuthorizationCodeTTL,
		JWKSCacheTTL:         networking.DefaultCacheTTL,
		BackChannelAuth: BackChannelAuthOptions{
			PollInterval:        ciba.DefaultPollInterval,
			MaxLongPollSeconds:  int(ciba.DefaultMaxLongPollWait.Seconds()),
			NotificationTimeout: 10 * time.Second,
			HTTPHandlerLifetime: DefaultHTTPHandlerLifetime,
		},
		SecureHTTPFetch: SecureHTTPFetchOptions{
			AllowedSchemes:   []string{"https"},
			RequestTimeout:   networking.DefaultTimeout,
			MaxResponseBytes: networking.DefaultMaxResponseBytes,
		},
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.AccessTokenTTL <= 0 {
		o.AccessTokenTTL = def.AccessTokenTTL
	}
	if o.RefreshTokenTTL <= 0 {
		o.RefreshTokenTTL = def.RefreshTokenTTL
	}
	if o.AuthorizationCodeTTL <= 0 {
		o.AuthorizationCodeTTL = def.AuthorizationCodeTTL
	}
	if o.JWKSCacheTTL <= 0 {
		o.JWKSCacheTTL = def.JWKSCacheTTL
	}
	if o.BackChannelAuth.PollInterval <= 0 {
		o.BackChannelAuth.PollInterval = def.BackChannelAuth.PollInterval
	}
	if o.BackChannelAuth.MaxLongPollSeconds <= 0 {
		o.BackChannelAuth.MaxLongPollSeconds = def.BackChannelAuth.MaxLongPollSeconds
	}
	if o.BackChannelAuth.NotificationTimeout <= 0 {
		o.BackChannelAuth.NotificationTimeout = def.BackChannelAuth.NotificationTimeout
	}
	if o.BackChannelAuth.HTTPHandlerLifetime <= 0 {
		o.BackChannelAuth.HTTPHandlerLifetime = def.BackChannelAuth.HTTPHandlerLifetime
	}
	if len(o.SecureHTTPFetch.AllowedSchemes) == 0 {
		o.SecureHTTPFetch.AllowedSchemes = def.SecureHTTPFetch.AllowedSchemes
	}
	if o.SecureHTTPFetch.RequestTimeout <= 0 {
		o.SecureHTTPFetch.RequestTimeout = def.SecureHTTPFetch.RequestTimeout
	}
	if o.SecureHTTPFetch.MaxResponseBytes <= 0 {
		o.SecureHTTPFetch.MaxResponseBytes = def.SecureHTTPFetch.MaxResponseBytes
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	if o.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	u, err := url.Parse(o.Issuer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL, got %q", o.Issuer)
	}
	if u.Fragment != "" || u.RawQuery != "" {
		return fmt.Errorf("issuer must not carry a query or fragment")
	}
	return nil
}

// LoadOptions reads options from a configuration file (any format viper
// recognizes by extension). Unset keys take the DefaultOptions values.
func LoadOptions(path string) (*Options, error) {
	v := viper.New()
	v.SetConfigFile(path)

	def := DefaultOptions()
	v.SetDefault("access_token_ttl", def.AccessTokenTTL)
	v.SetDefault("refresh_token_ttl", def.RefreshTokenTTL)
	v.SetDefault("authorization_code_ttl", def.AuthorizationCodeTTL)
	v.SetDefault("jwks_cache_ttl", def.JWKSCacheTTL)
	v.SetDefault("backchannel_auth.poll_interval", def.BackChannelAuth.PollInterval)
	v.SetDefault("backchannel_auth.max_long_poll_seconds", def.BackChannelAuth.MaxLongPollSeconds)
	v.SetDefault("backchannel_auth.notification_timeout", def.BackChannelAuth.NotificationTimeout)
	v.SetDefault("backchannel_auth.http_handler_lifetime", def.BackChannelAuth.HTTPHandlerLifetime)
	v.SetDefault("secure_http_fetch.allowed_schemes", def.SecureHTTPFetch.AllowedSchemes)
	v.SetDefault("secure_http_fetch.allow_private_networks", def.SecureHTTPFetch.AllowPrivateNetworks)
	v.SetDefault("secure_http_fetch.request_timeout", def.SecureHTTPFetch.RequestTimeout)
	v.SetDefault("secure_http_fetch.max_response_bytes", def.SecureHTTPFetch.MaxResponseBytes)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}
