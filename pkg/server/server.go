// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the authorization-server core into an HTTP
// surface: token, introspection, revocation, userinfo, discovery, JWKS and
// backchannel-authorize endpoints over chi.
package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lighthouse-oidc/lighthouse/pkg/ciba"
	"github.com/lighthouse-oidc/lighthouse/pkg/grants"
	"github.com/lighthouse-oidc/lighthouse/pkg/keys"
	"github.com/lighthouse-oidc/lighthouse/pkg/networking"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/storage"
	"github.com/lighthouse-oidc/lighthouse/pkg/tokens"
)

// Config wires the server's collaborators. Options carries the recognized
// tunables; everything else is dependency injection.
type Config struct {
	Options Options

	// Store is the persistence backend.
	Store storage.Storage

	// Clients resolves registered client metadata.
	Clients storage.ClientInfoProvider

	// Keys signs and decrypts for the server. Defaults to an ephemeral
	// generating provider.
	Keys keys.AuthServiceKeysProvider

	// SigningAlgorithm selects the token signing algorithm; defaults to
	// the key provider's default.
	SigningAlgorithm string

	// Scopes and Resources are the server-wide policies; optional.
	Scopes    grants.ScopeManager
	Resources grants.ResourceManager

	// Devices forwards CIBA challenges to the authentication device;
	// optional.
	Devices ciba.UserDeviceAuthenticationHandler

	// Notifier wakes parked CIBA long-polls; optional.
	Notifier ciba.Notifier
}

// Server is the assembled authorization server.
type Server struct {
	opts   Options
	store  storage.Storage
	keys   keys.AuthServiceKeysProvider
	alg    string
	issuer string

	clientAuth   *grants.ClientAuthenticator
	processor    *grants.Processor
	engine       *ciba.Engine
	accessTokens *tokens.AccessTokenService
	introspector *tokens.Introspector
	revoker      *tokens.Revoker
}

// deferredIssuer breaks the construction cycle between the CIBA engine
// (which mints push responses through the processor) and the processor
// (which redeems CIBA grants through the engine).
type deferredIssuer struct {
	p *grants.Processor
}

func (d *deferredIssuer) IssueForGrant(ctx context.Context, client *oidc.ClientInfo, grant *oidc.AuthorizedGrant, authReqID string) (*oidc.TokenResponse, error) {
	if d.p == nil {
		return nil, errors.New("token processor is not initialized")
	}
	return d.p.IssueForGrant(ctx, client, grant, authReqID)
}

// New assembles the server.
func New(cfg Config) (*Server, error) {
	cfg.Options.applyDefaults()
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, errors.New("a storage backend is required")
	}
	if cfg.Clients == nil {
		return nil, errors.New("a client info provider is required")
	}
	if cfg.Keys == nil {
		cfg.Keys = keys.NewGeneratingProvider(cfg.SigningAlgorithm)
	}

	fetch := cfg.Options.SecureHTTPFetch
	outbound := networking.NewClient(
		networking.WithAllowedSchemes(fetch.AllowedSchemes...),
		networking.WithPrivateNetworkAccess(fetch.AllowPrivateNetworks),
		networking.WithTimeout(fetch.RequestTimeout),
		networking.WithMaxResponseBytes(fetch.MaxResponseBytes),
	)
	fetcher := networking.NewCachingFetcher(outbound, cfg.Options.JWKSCacheTTL)
	clientKeys := keys.NewClientKeys(fetcher)

	tokenCfg := &tokens.Config{
		Issuer:           cfg.Options.Issuer,
		SigningAlgorithm: cfg.SigningAlgorithm,
		Keys:             cfg.Keys,
		ClientKeys:       clientKeys,
		Registry:         cfg.Store,
		AccessTokenTTL:   cfg.Options.AccessTokenTTL,
		RefreshTokenTTL:  cfg.Options.RefreshTokenTTL,
		ClockSkew:        cfg.Options.ClockSkew,
	}

	accessTokens := tokens.NewAccessTokenService(tokenCfg)
	s := &Server{
		opts:         cfg.Options,
		store:        cfg.Store,
		keys:         cfg.Keys,
		alg:          tokenCfg.SigningAlgorithm,
		issuer:       cfg.Options.Issuer,
		accessTokens: accessTokens,
		introspector: tokens.NewIntrospector(tokenCfg),
		revoker:      &tokens.Revoker{Registry: cfg.Store},
	}

	s.clientAuth = &grants.ClientAuthenticator{
		Clients:         cfg.Clients,
		ClientKeys:      clientKeys,
		TokenEndpoint:   cfg.Options.Issuer + "/token",
		AssertionReplay: &storage.NamespacedReplayCache{Store: cfg.Store, Namespace: "assertion"},
		ClockSkew:       cfg.Options.ClockSkew,
	}

	bc := cfg.Options.BackChannelAuth
	notifyClient := networking.NewClient(
		networking.WithAllowedSchemes(fetch.AllowedSchemes...),
		networking.WithPrivateNetworkAccess(fetch.AllowPrivateNetworks),
		networking.WithTimeout(bc.NotificationTimeout),
		networking.WithMaxResponseBytes(fetch.MaxResponseBytes),
	)
	issuer := &deferredIssuer{}
	engine, err := ciba.NewEngine(ciba.Config{
		Store:           cfg.Store,
		Clients:         cfg.Clients,
		Notifier:        cfg.Notifier,
		Delivery:        ciba.NewHTTPDeliveryService(notifyClient),
		Issuer:          issuer,
		Devices:         cfg.Devices,
		PollInterval:    bc.PollInterval,
		UseLongPolling:  bc.UseLongPolling,
		MaxLongPollWait: time.Duration(bc.MaxLongPollSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build backchannel engine: %w", err)
	}
	s.engine = engine

	processor, err := grants.NewProcessor(grants.ProcessorConfig{
		ClientAuth:     s.clientAuth,
		AccessTokens:   s.accessTokens,
		RefreshTokens:  tokens.NewRefreshTokenService(tokenCfg),
		IdentityTokens: tokens.NewIdentityTokenService(tokenCfg),
		Redeemer:       &tokens.CodeRedeemer{Codes: cfg.Store, Registry: cfg.Store},
		Sessions:       cfg.Store,
		BackChannel:    engine,
		Scopes:         cfg.Scopes,
		Resources:      cfg.Resources,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build grant processor: %w", err)
	}
	s.processor = processor
	issuer.p = processor

	return s, nil
}

// BackChannel exposes the CIBA engine so the hosting application can route
// user decisions (Authenticate / Deny) into it.
func (s *Server) BackChannel() *ciba.Engine {
	return s.engine
}

// IssueAuthorizationCode stores a grant under a fresh single-use code. The
// hosting application's authorization endpoint calls this after the user
// approves; the code is redeemed at /token.
func (s *Server) IssueAuthorizationCode(ctx context.Context, grant *oidc.AuthorizedGrant) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(raw)

	err := s.store.PutAuthorizationCode(ctx, &storage.AuthorizationCodeEntry{
		Code:      code,
		Grant:     grant,
		ExpiresAt: time.Now().Add(s.opts.AuthorizationCodeTTL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store authorization code: %w", err)
	}
	return code, nil
}

// Routes returns the HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(s.opts.BackChannelAuth.HTTPHandlerLifetime))

	r.Post("/token", s.tokenHandler)
	r.Post("/introspect", s.introspectHandler)
	r.Post("/revoke", s.revokeHandler)
	r.Get("/userinfo", s.userInfoHandler)
	r.Post("/userinfo", s.userInfoHandler)
	r.Post("/bc-authorize", s.backChannelHandler)
	r.Get("/.well-known/openid-configuration", s.discoveryHandler)
	r.Get("/.well-known/jwks.json", s.jwksHandler)

	return r
}
