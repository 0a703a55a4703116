// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWECompactRoundTripRSA(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t, 2048)
	plaintext := []byte(`{"sub":"user-1"}`)

	for _, alg := range []string{AlgRSAOAEP, AlgRSAOAEP256, AlgRSA15} {
		for _, enc := range []string{EncA128CBCHS256, EncA256CBCHS512, EncA128GCM, EncA256GCM} {
			t.Run(alg+"/"+enc, func(t *testing.T) {
				t.Parallel()

				ke, ok := NewRSAKeyEncrypter(alg, nil, key)
				require.True(t, ok)

				hdr := &Header{Algorithm: alg, Encryption: enc, KeyID: "enc-1", Type: "JWT"}
				token, ok := EncryptCompact(plaintext, hdr, ke)
				require.True(t, ok)
				require.Len(t, CompactParts(token), 5)

				got, gotHdr, ok := DecryptCompact(token, ke)
				require.True(t, ok)
				assert.Equal(t, plaintext, got)
				assert.Equal(t, "enc-1", gotHdr.KeyID)
			})
		}
	}
}

func TestJWECompactRoundTripDirect(t *testing.T) {
	t.Parallel()

	// dir requires the shared key to have the CEK size of the enc algorithm.
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	ke, ok := NewDirectKeyEncrypter(key)
	require.True(t, ok)

	hdr := &Header{Algorithm: AlgDirect, Encryption: EncA256GCM}
	token, ok := EncryptCompact([]byte("hello"), hdr, ke)
	require.True(t, ok)

	parts := CompactParts(token)
	assert.Empty(t, parts[1], "dir leaves the encrypted_key segment empty")

	got, _, ok := DecryptCompact(token, ke)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)
}

func TestJWECompactRoundTripAESGCMKW(t *testing.T) {
	t.Parallel()

	kek := make([]byte, 32)
	_, err := rand.Read(kek)
	require.NoError(t, err)

	ke, ok := NewAESGCMKeyEncrypter(AlgA256GCMKW, kek)
	require.True(t, ok)

	hdr := &Header{Algorithm: AlgA256GCMKW, Encryption: EncA128CBCHS256}
	token, ok := EncryptCompact([]byte("payload"), hdr, ke)
	require.True(t, ok)

	got, _, ok := DecryptCompact(token, ke)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestJWEDecryptWithWrongKeyFails(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t, 2048)
	other := testRSAKey(t, 2048)

	ke, _ := NewRSAKeyEncrypter(AlgRSAOAEP, nil, key)
	wrong, _ := NewRSAKeyEncrypter(AlgRSAOAEP, nil, other)

	hdr := &Header{Algorithm: AlgRSAOAEP, Encryption: EncA128GCM}
	token, ok := EncryptCompact([]byte("secret"), hdr, ke)
	require.True(t, ok)

	got, _, ok := DecryptCompact(token, wrong)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestJWEDirCEKSizeMismatch(t *testing.T) {
	t.Parallel()

	ke, _ := NewDirectKeyEncrypter(make([]byte, 16))

	// A 16-byte key cannot serve A256GCM (32-byte CEK).
	hdr := &Header{Algorithm: AlgDirect, Encryption: EncA256GCM}
	_, ok := EncryptCompact([]byte("x"), hdr, ke)
	assert.False(t, ok)
}

func TestJWEHeaderAlgorithmMismatch(t *testing.T) {
	t.Parallel()

	key := testRSAKey(t, 2048)
	ke, _ := NewRSAKeyEncrypter(AlgRSAOAEP, nil, key)

	hdr := &Header{Algorithm: AlgRSAOAEP256, Encryption: EncA128GCM}
	_, ok := EncryptCompact([]byte("x"), hdr, ke)
	assert.False(t, ok, "header alg must match the key encrypter")
}
