// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"fmt"
	"slices"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
)

// ScopeManager decides which scopes the server recognizes.
type ScopeManager interface {
	// AllowsScope reports whether the scope may be granted at all.
	AllowsScope(scope string) bool
}

// ResourceManager decides which RFC 8707 resource indicators are served.
type ResourceManager interface {
	// AllowsResource reports whether the resource indicator is recognized.
	AllowsResource(resource string) bool
}

// StaticScopeManager allows a fixed scope list. An empty list allows
// everything.
type StaticScopeManager []string

// AllowsScope implements ScopeManager.
func (m StaticScopeManager) AllowsScope(scope string) bool {
	return len(m) == 0 || slices.Contains(m, scope)
}

// StaticResourceManager allows a fixed resource list. An empty list refuses
// everything: resources are opt-in.
type StaticResourceManager []string

// AllowsResource implements ResourceManager.
func (m StaticResourceManager) AllowsResource(resource string) bool {
	return slices.Contains(m, resource)
}

// scopeValidator resolves the granted scope: the request may narrow the
// grant's scope but never broaden it, and every scope must pass the manager
// and the client's allow-list.
func scopeValidator(scopes ScopeManager) TokenContextValidator {
	return func(_ context.Context, tc *TokenContext) error {
		var base []string
		if tc.Grant != nil {
			base = tc.Grant.Context.Scope
		}

		requested := tc.Request.Scope
		if len(requested) == 0 {
			requested = base
		}

		for _, scope := range requested {
			if scopes != nil && !scopes.AllowsScope(scope) {
				return oidcerr.InvalidScope(fmt.Sprintf("scope %q is not recognized", scope))
			}
			if len(tc.Client.AllowedScopes) > 0 && !slices.Contains(tc.Client.AllowedScopes, scope) {
				return oidcerr.InvalidScope(fmt.Sprintf("client may not request scope %q", scope))
			}
			if len(base) > 0 && !slices.Contains(base, scope) {
				return oidcerr.InvalidScope(fmt.Sprintf("scope %q exceeds the granted scope", scope))
			}
		}
		tc.GrantedScope = slices.Clone(requested)
		return nil
	}
}

// resourceValidator resolves the granted resources against the manager and,
// when the grant pinned resources, refuses additions.
func resourceValidator(resources ResourceManager) TokenContextValidator {
	return func(_ context.Context, tc *TokenContext) error {
		var base []string
		if tc.Grant != nil {
			base = tc.Grant.Context.Resources
		}

		requested := tc.Request.Resources
		if len(requested) == 0 {
			// Resources pinned at authorization time were validated then.
			tc.GrantedResources = slices.Clone(base)
			return nil
		}

		for _, resource := range requested {
			if resources == nil || !resources.AllowsResource(resource) {
				return oidcerr.InvalidTarget(fmt.Sprintf("resource %q is not served here", resource))
			}
			if len(base) > 0 && !slices.Contains(base, resource) {
				return oidcerr.InvalidTarget(fmt.Sprintf("resource %q exceeds the granted resources", resource))
			}
		}
		tc.GrantedResources = slices.Clone(requested)
		return nil
	}
}
