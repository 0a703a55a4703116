// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
)

// fakeReplayCache is an in-memory set-if-absent replay cache for tests.
type fakeReplayCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeReplayCache() *fakeReplayCache {
	return &fakeReplayCache{seen: make(map[string]bool)}
}

func (c *fakeReplayCache) IsReplayed(_ context.Context, jti string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[jti], nil
}

func (c *fakeReplayCache) MarkUsed(_ context.Context, jti string, _ time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[jti] {
		return false, nil
	}
	c.seen[jti] = true
	return true, nil
}

func basePayload(now time.Time) Payload {
	p := Payload{
		ClaimIssuer:   "https://issuer.example",
		ClaimSubject:  "user-1",
		ClaimAudience: "https://api.example",
	}
	p.SetTime(ClaimIssuedAt, now)
	p.SetTime(ClaimExpiration, now.Add(time.Hour))
	return p
}

func paramsFor(pub jwk.Key) ValidationParams {
	return ValidationParams{
		ValidateIssuer:   func(iss string) bool { return iss == "https://issuer.example" },
		ValidateAudience: func(auds []string) bool { return len(auds) == 1 && auds[0] == "https://api.example" },
		IssuerSigningKeys: func(_ context.Context, _ string) ([]jwk.Key, error) {
			return []jwk.Key{pub}, nil
		},
	}
}

func signingPair(t *testing.T, alg string) (jwk.Key, jwk.Key) {
	t.Helper()

	var raw any
	switch alg {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		raw = key
	case "ES256":
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		raw = key
	case "ES384":
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		require.NoError(t, err)
		raw = key
	case "ES512":
		key, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
		require.NoError(t, err)
		raw = key
	case "EdDSA":
		_, key, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		raw = key
	case "HS256", "HS384", "HS512":
		secret := make([]byte, 64)
		_, err := rand.Read(secret)
		require.NoError(t, err)
		priv := importKey(t, secret, "sym-1", alg)
		return priv, priv
	default:
		t.Fatalf("unsupported test algorithm %s", alg)
	}

	priv := importKey(t, raw, "sig-1", alg)
	pub, err := jwk.PublicKeyOf(priv)
	require.NoError(t, err)
	return priv, pub
}

func TestSignAndValidateRoundTrip(t *testing.T) {
	t.Parallel()

	algs := []string{
		"RS256", "RS384", "RS512",
		"PS256", "PS384", "PS512",
		"ES256", "ES384", "ES512",
		"HS256", "HS384", "HS512",
		"EdDSA",
	}

	for _, alg := range algs {
		t.Run(alg, func(t *testing.T) {
			t.Parallel()

			priv, pub := signingPair(t, alg)
			payload := basePayload(time.Now())

			token, err := SignCompact(payload, priv, alg, "JWT")
			require.NoError(t, err)

			got, jwtErr := Validate(context.Background(), token, paramsFor(pub))
			require.Nil(t, jwtErr)
			sub, _ := got.Payload.Subject()
			assert.Equal(t, "user-1", sub)
			assert.Equal(t, alg, got.Header.Algorithm)
		})
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	t.Parallel()

	priv, pub := signingPair(t, "RS256")
	token, err := SignCompact(basePayload(time.Now()), priv, "RS256", "JWT")
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "AAAA"
	_, jwtErr := Validate(context.Background(), tampered, paramsFor(pub))
	require.NotNil(t, jwtErr)
	assert.Equal(t, oidcerr.KindInvalidSignature, jwtErr.Kind)
}

func TestValidateExpiredToken(t *testing.T) {
	t.Parallel()

	priv, pub := signingPair(t, "ES256")
	payload := basePayload(time.Now().Add(-2 * time.Hour))

	token, err := SignCompact(payload, priv, "ES256", "JWT")
	require.NoError(t, err)

	_, jwtErr := Validate(context.Background(), token, paramsFor(pub))
	require.NotNil(t, jwtErr)
	assert.Equal(t, oidcerr.KindTokenExpired, jwtErr.Kind)

	p := paramsFor(pub)
	p.Options = SkipExpiration
	_, jwtErr = Validate(context.Background(), token, p)
	assert.Nil(t, jwtErr, "SkipExpiration must bypass the time window check")
}

func TestValidateIssuerAndAudience(t *testing.T) {
	t.Parallel()

	priv, pub := signingPair(t, "RS256")

	t.Run("wrong issuer", func(t *testing.T) {
		t.Parallel()

		payload := basePayload(time.Now())
		payload[ClaimIssuer] = "https://rogue.example"
		token, err := SignCompact(payload, priv, "RS256", "JWT")
		require.NoError(t, err)

		_, jwtErr := Validate(context.Background(), token, paramsFor(pub))
		require.NotNil(t, jwtErr)
		assert.Equal(t, oidcerr.KindInvalidIssuer, jwtErr.Kind)
	})

	t.Run("wrong audience", func(t *testing.T) {
		t.Parallel()

		payload := basePayload(time.Now())
		payload[ClaimAudience] = []string{"https://other.example"}
		token, err := SignCompact(payload, priv, "RS256", "JWT")
		require.NoError(t, err)

		_, jwtErr := Validate(context.Background(), token, paramsFor(pub))
		require.NotNil(t, jwtErr)
		assert.Equal(t, oidcerr.KindInvalidAudience, jwtErr.Kind)
	})

	t.Run("audience as bare string", func(t *testing.T) {
		t.Parallel()

		payload := basePayload(time.Now())
		payload[ClaimAudience] = "https://api.example"
		token, err := SignCompact(payload, priv, "RS256", "JWT")
		require.NoError(t, err)

		_, jwtErr := Validate(context.Background(), token, paramsFor(pub))
		assert.Nil(t, jwtErr)
	})
}

func TestValidateReplayDetection(t *testing.T) {
	t.Parallel()

	priv, pub := signingPair(t, "RS256")
	payload := basePayload(time.Now())
	payload[ClaimJTI] = "jti-once"

	token, err := SignCompact(payload, priv, "RS256", "JWT")
	require.NoError(t, err)

	p := paramsFor(pub)
	p.ReplayCache = newFakeReplayCache()

	_, jwtErr := Validate(context.Background(), token, p)
	require.Nil(t, jwtErr, "first presentation must succeed")

	_, jwtErr = Validate(context.Background(), token, p)
	require.NotNil(t, jwtErr, "second presentation must fail")
	assert.Equal(t, oidcerr.KindReplayed, jwtErr.Kind)
}

func TestValidateNestedEncryptedToken(t *testing.T) {
	t.Parallel()

	sigPriv, sigPub := signingPair(t, "RS256")

	encKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	encJWK := importKey(t, encKey, "enc-1", "")

	inner, err := SignCompact(basePayload(time.Now()), sigPriv, "RS256", "JWT")
	require.NoError(t, err)

	ke, ok := NewRSAKeyEncrypter(AlgRSAOAEP, nil, encKey)
	require.True(t, ok)
	hdr := &Header{Algorithm: AlgRSAOAEP, Encryption: EncA256GCM, KeyID: "enc-1", Type: "JWT", ContentType: "JWT"}
	outer, ok := EncryptCompact([]byte(inner), hdr, ke)
	require.True(t, ok)

	p := paramsFor(sigPub)
	p.TokenDecryptionKeys = func(_ context.Context, kid string) ([]jwk.Key, error) {
		assert.Equal(t, "enc-1", kid)
		return []jwk.Key{encJWK}, nil
	}

	got, jwtErr := Validate(context.Background(), outer, p)
	require.Nil(t, jwtErr)
	sub, _ := got.Payload.Subject()
	assert.Equal(t, "user-1", sub)
}

func TestValidateEncryptedTokenWithoutKeys(t *testing.T) {
	t.Parallel()

	sigPriv, sigPub := signingPair(t, "RS256")
	encKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	inner, err := SignCompact(basePayload(time.Now()), sigPriv, "RS256", "JWT")
	require.NoError(t, err)

	ke, _ := NewRSAKeyEncrypter(AlgRSAOAEP, nil, encKey)
	outer, ok := EncryptCompact([]byte(inner), &Header{Algorithm: AlgRSAOAEP, Encryption: EncA256GCM}, ke)
	require.True(t, ok)

	_, jwtErr := Validate(context.Background(), outer, paramsFor(sigPub))
	require.NotNil(t, jwtErr)
	assert.Equal(t, oidcerr.KindInvalidToken, jwtErr.Kind)
}

func TestValidateMalformedToken(t *testing.T) {
	t.Parallel()

	_, pub := signingPair(t, "RS256")
	_, jwtErr := Validate(context.Background(), "not-a-token", paramsFor(pub))
	require.NotNil(t, jwtErr)
	assert.Equal(t, oidcerr.KindInvalidToken, jwtErr.Kind)
}

func TestPayloadScopeForms(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"openid", "profile"}, Payload{"scope": "openid profile"}.Scope())
	assert.Equal(t, []string{"openid", "profile"}, Payload{"scope": []any{"openid", "profile"}}.Scope())
	assert.Nil(t, Payload{}.Scope())
}
