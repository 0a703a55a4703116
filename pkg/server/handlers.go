// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/lighthouse-oidc/lighthouse/pkg/ciba"
	"github.com/lighthouse-oidc/lighthouse/pkg/grants"
	"github.com/lighthouse-oidc/lighthouse/pkg/jose"
	"github.com/lighthouse-oidc/lighthouse/pkg/logger"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
)

// DefaultDiscoveryCacheMaxAge is the Cache-Control max-age for the discovery
// and JWKS endpoints (1 hour).
const DefaultDiscoveryCacheMaxAge = 3600

// errorBody is the RFC 6749 error rendering.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("failed to write response", "error", err)
	}
}

// writeProtocolError renders an error in RFC 6749 shape. invalid_client gets
// 401 with a WWW-Authenticate challenge; anything untyped is a server_error.
func writeProtocolError(w http.ResponseWriter, err error) {
	protoErr := oidcerr.AsError(err)
	if protoErr == nil {
		logger.Errorw("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "server_error"})
		return
	}

	status := http.StatusBadRequest
	if protoErr.Code == oidcerr.CodeInvalidClient {
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", `Basic realm="token endpoint"`)
	}
	writeJSON(w, status, errorBody{Error: protoErr.Code, Description: protoErr.Description})
}

// tokenRequestFromForm maps the POST form and transport credentials onto the
// processor's request type.
func tokenRequestFromForm(r *http.Request) *grants.TokenRequest {
	req := &grants.TokenRequest{
		GrantType:           r.PostFormValue("grant_type"),
		Code:                r.PostFormValue("code"),
		CodeVerifier:        r.PostFormValue("code_verifier"),
		RedirectURI:         r.PostFormValue("redirect_uri"),
		RefreshToken:        r.PostFormValue("refresh_token"),
		AuthReqID:           r.PostFormValue("auth_req_id"),
		Scope:               strings.Fields(r.PostFormValue("scope")),
		Resources:           r.PostForm["resource"],
		ClientID:            r.PostFormValue("client_id"),
		ClientSecret:        r.PostFormValue("client_secret"),
		ClientAssertionType: r.PostFormValue("client_assertion_type"),
		ClientAssertion:     r.PostFormValue("client_assertion"),
	}

	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
		req.SecretViaBasic = true
	}

	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		leaf := r.TLS.PeerCertificates[0]
		req.PeerSubjectDN = leaf.Subject.String()
		req.PeerCertSelfSigned = leaf.Subject.String() == leaf.Issuer.String()
	}
	return req
}

func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeProtocolError(w, oidcerr.InvalidRequest("malformed form body"))
		return
	}

	resp, err := s.processor.Process(r.Context(), tokenRequestFromForm(r))
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) introspectHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeProtocolError(w, oidcerr.InvalidRequest("malformed form body"))
		return
	}
	if _, err := s.clientAuth.Authenticate(r.Context(), tokenRequestFromForm(r)); err != nil {
		writeProtocolError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.introspector.Introspect(r.Context(), r.PostFormValue("token")))
}

// revokeHandler implements RFC 7009. Unknown, malformed or expired tokens
// still answer 200: the caller's goal (the token is unusable) is met.
func (s *Server) revokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeProtocolError(w, oidcerr.InvalidRequest("malformed form body"))
		return
	}
	if _, err := s.clientAuth.Authenticate(r.Context(), tokenRequestFromForm(r)); err != nil {
		writeProtocolError(w, err)
		return
	}

	token, err := jose.ParseCompact(r.PostFormValue("token"))
	if err == nil {
		jti, _ := token.Payload.JTI()
		expiresAt, _ := token.Payload.ExpiresAt()
		if err := s.revoker.Revoke(r.Context(), jti, expiresAt); err != nil {
			logger.Errorw("revocation failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "server_error"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) userInfoHandler(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo"`)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_token", Description: "a bearer access token is required"})
		return
	}

	token, jwtErr := s.accessTokens.Validate(r.Context(), raw)
	if jwtErr != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo", error="invalid_token"`)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_token", Description: "the access token is invalid"})
		return
	}

	scope := token.Payload.Scope()
	if !slices.Contains(scope, "openid") {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo", error="insufficient_scope"`)
		writeJSON(w, http.StatusForbidden, errorBody{Error: "insufficient_scope", Description: "the openid scope is required"})
		return
	}

	claims := map[string]any{}
	claims["sub"], _ = token.Payload.Subject()

	if sid, ok := token.Payload.SID(); ok && sid != "" {
		if session, err := s.store.GetSession(r.Context(), sid); err == nil {
			if slices.Contains(scope, "email") && session.Email != "" {
				claims["email"] = session.Email
				if session.EmailVerified != nil {
					claims["email_verified"] = *session.EmailVerified
				}
			}
			if slices.Contains(scope, "profile") {
				for name, value := range session.AdditionalClaims {
					if _, taken := claims[name]; !taken {
						claims[name] = value
					}
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, claims)
}

func (s *Server) backChannelHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeProtocolError(w, oidcerr.InvalidRequest("malformed form body"))
		return
	}

	client, err := s.clientAuth.Authenticate(r.Context(), tokenRequestFromForm(r))
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	params := ciba.StartParams{
		Scope:                   strings.Fields(r.PostFormValue("scope")),
		Resources:               r.PostForm["resource"],
		LoginHint:               r.PostFormValue("login_hint"),
		BindingMessage:          r.PostFormValue("binding_message"),
		UserCode:                r.PostFormValue("user_code"),
		ClientNotificationToken: r.PostFormValue("client_notification_token"),
	}
	if raw := r.PostFormValue("requested_expiry"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			writeProtocolError(w, oidcerr.InvalidRequest("requested_expiry must be a positive integer"))
			return
		}
		params.RequestedExpiry = time.Duration(seconds) * time.Second
	}

	resp, err := s.engine.StartAuthentication(r.Context(), client, params)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// providerMetadata is the OIDC discovery document, trimmed to what this
// server implements.
type providerMetadata struct {
	Issuer                            string   `json:"issuer"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	BackChannelAuthEndpoint           string   `json:"backchannel_authentication_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgsSupported       []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	BackChannelDeliveryModesSupported []string `json:"backchannel_token_delivery_modes_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

func (s *Server) discoveryHandler(w http.ResponseWriter, _ *http.Request) {
	doc := providerMetadata{
		Issuer:                  s.issuer,
		TokenEndpoint:           s.issuer + "/token",
		IntrospectionEndpoint:   s.issuer + "/introspect",
		RevocationEndpoint:      s.issuer + "/revoke",
		UserInfoEndpoint:        s.issuer + "/userinfo",
		JWKSURI:                 s.issuer + "/.well-known/jwks.json",
		BackChannelAuthEndpoint: s.issuer + "/bc-authorize",
		ResponseTypesSupported:  []string{"code"},
		GrantTypesSupported: []string{
			oidc.GrantAuthorizationCode,
			oidc.GrantRefreshToken,
			oidc.GrantClientCredentials,
			oidc.GrantCIBA,
		},
		SubjectTypesSupported:       []string{oidc.SubjectTypePublic, oidc.SubjectTypePairwise},
		IDTokenSigningAlgsSupported: []string{s.alg},
		TokenEndpointAuthMethodsSupported: []string{
			oidc.AuthMethodSecretBasic,
			oidc.AuthMethodSecretPost,
			oidc.AuthMethodSecretJWT,
			oidc.AuthMethodPrivateKeyJWT,
			oidc.AuthMethodTLSClientAuth,
			oidc.AuthMethodNone,
		},
		CodeChallengeMethodsSupported: []string{grants.PKCEMethodPlain, grants.PKCEMethodS256},
		BackChannelDeliveryModesSupported: []string{
			oidc.DeliveryModePoll, oidc.DeliveryModePing, oidc.DeliveryModePush,
		},
		ScopesSupported: []string{"openid", "profile", "email"},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DefaultDiscoveryCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		logger.Errorw("failed to write discovery document", "error", err)
	}
}

func (s *Server) jwksHandler(w http.ResponseWriter, r *http.Request) {
	signing, err := s.keys.GetSigningKeys(r.Context(), false)
	if err != nil {
		logger.Errorw("failed to load signing keys", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	set := jwk.NewSet()
	for _, key := range signing {
		if err := set.AddKey(key); err != nil {
			logger.Errorw("failed to assemble JWKS", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
	}

	data, err := json.Marshal(set)
	if err != nil {
		logger.Errorw("failed to encode JWKS", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DefaultDiscoveryCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}
