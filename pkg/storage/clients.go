// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
)

// StaticClientProvider serves client registrations from an in-memory map.
// Registrations are validated on insert so lookups never return malformed
// metadata.
type StaticClientProvider struct {
	mu      sync.RWMutex
	clients map[string]*oidc.ClientInfo
}

// NewStaticClientProvider creates a provider pre-loaded with the given
// registrations.
func NewStaticClientProvider(clients ...*oidc.ClientInfo) (*StaticClientProvider, error) {
	p := &StaticClientProvider{clients: make(map[string]*oidc.ClientInfo, len(clients))}
	for _, c := range clients {
		if err := p.RegisterClient(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// RegisterClient adds or replaces a client registration.
func (p *StaticClientProvider) RegisterClient(client *oidc.ClientInfo) error {
	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}
	if err := client.Validate(); err != nil {
		return fmt.Errorf("invalid client registration: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[client.ID] = client
	return nil
}

// GetClientInfo returns the client registration or ErrNotFound.
func (p *StaticClientProvider) GetClientInfo(_ context.Context, clientID string) (*oidc.ClientInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	client, ok := p.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: client %s", ErrNotFound, clientID)
	}
	return client, nil
}

var _ ClientInfoProvider = (*StaticClientProvider)(nil)
