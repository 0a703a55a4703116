// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package jose implements the JOSE layer of the authorization server:
// JWE content encryption and key management, JWS signing and verification,
// the JWT header/payload model, and the JWT validator used by the token
// pipeline.
//
// Key modelling and signature algorithms ride on lestrrat-go/jwx; the JWE
// primitives are implemented here because the token pipeline requires
// primitive-level control: tag-first verification, uniform non-throwing
// failures, and candidate-key iteration during decryption.
package jose
