// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package oidc defines the protocol value records shared across the
// authorization server core: client metadata, authentication sessions,
// authorization contexts, authorized grants and back-channel authentication
// requests.
//
// The records deliberately carry identifiers rather than object graphs;
// related records are resolved on demand through the provider interfaces in
// pkg/storage.
package oidc
