// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/lighthouse-oidc/lighthouse/pkg/networking"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
)

// ErrNoClientKeys is returned when a client registered neither an inline
// key set nor a jwks_uri.
var ErrNoClientKeys = fmt.Errorf("client has no registered keys")

// ClientKeys resolves client key sets from registration metadata: inline
// JWKS first, then the jwks_uri via the fetcher. Wrap the fetcher in a
// networking.CachingFetcher to avoid refetching per token request.
type ClientKeys struct {
	fetcher networking.Fetcher
}

// NewClientKeys builds a resolver. A nil fetcher serves inline key sets
// only.
func NewClientKeys(fetcher networking.Fetcher) *ClientKeys {
	return &ClientKeys{fetcher: fetcher}
}

// GetSigningKeys implements ClientKeysProvider. Keys marked "use":"enc" are
// excluded.
func (c *ClientKeys) GetSigningKeys(ctx context.Context, client *oidc.ClientInfo) ([]jwk.Key, error) {
	all, err := c.resolve(ctx, client)
	if err != nil {
		return nil, err
	}
	return filterByUse(all, "enc"), nil
}

// GetEncryptionKeys implements ClientKeysProvider. Keys marked "use":"sig"
// are excluded.
func (c *ClientKeys) GetEncryptionKeys(ctx context.Context, client *oidc.ClientInfo) ([]jwk.Key, error) {
	all, err := c.resolve(ctx, client)
	if err != nil {
		return nil, err
	}
	return filterByUse(all, "sig"), nil
}

// Invalidate drops any cached copy of the client's remote key set, forcing
// the next resolution to refetch. Used when a kid lookup misses, which
// usually means the client rotated keys.
func (c *ClientKeys) Invalidate(client *oidc.ClientInfo) {
	type invalidator interface{ Invalidate(string) }
	if inv, ok := c.fetcher.(invalidator); ok && client.JWKSURI != "" {
		inv.Invalidate(client.JWKSURI)
	}
}

func (c *ClientKeys) resolve(ctx context.Context, client *oidc.ClientInfo) ([]jwk.Key, error) {
	if client.JWKS != nil {
		return keysFromSet(client.JWKS), nil
	}
	if client.JWKSURI == "" || c.fetcher == nil {
		return nil, fmt.Errorf("client %s: %w", client.ID, ErrNoClientKeys)
	}

	body, err := c.fetcher.FetchBytes(ctx, client.JWKSURI)
	if err != nil {
		return nil, networking.ClientMetadataError(client.JWKSURI, err)
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, networking.ClientMetadataError(client.JWKSURI, fmt.Errorf("failed to parse JWKS: %w", err))
	}
	return keysFromSet(set), nil
}

// filterByUse drops keys whose "use" attribute matches exclude. Keys with
// no use attribute serve both purposes and are kept.
func filterByUse(all []jwk.Key, exclude string) []jwk.Key {
	out := make([]jwk.Key, 0, len(all))
	for _, key := range all {
		if use, ok := key.KeyUsage(); ok && use == exclude {
			continue
		}
		out = append(out, key)
	}
	return out
}

var _ ClientKeysProvider = (*ClientKeys)(nil)
