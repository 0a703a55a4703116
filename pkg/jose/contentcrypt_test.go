// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentEncryptionRoundTrip(t *testing.T) {
	t.Parallel()

	plaintext := []byte(`{"sub":"user-1","scope":"openid profile"}`)
	aad := []byte("eyJhbGciOiJSU0EtT0FFUCJ9")

	for _, enc := range []string{
		EncA128CBCHS256, EncA192CBCHS384, EncA256CBCHS512,
		EncA128GCM, EncA192GCM, EncA256GCM,
	} {
		t.Run(enc, func(t *testing.T) {
			t.Parallel()

			ce, ok := ContentEncryptionFor(enc)
			require.True(t, ok)

			cek, ok := ce.GenerateCEK()
			require.True(t, ok)
			require.Len(t, cek, ce.CEKSize)

			data, ok := ce.Encrypt(cek, plaintext, aad)
			require.True(t, ok)
			assert.Len(t, data.IV, ce.IVSize)
			assert.Len(t, data.Tag, ce.TagSize)

			got, ok := ce.Decrypt(cek, data, aad)
			require.True(t, ok)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestContentEncryptionRejectsModifiedAAD(t *testing.T) {
	t.Parallel()

	for _, enc := range []string{EncA256CBCHS512, EncA256GCM} {
		t.Run(enc, func(t *testing.T) {
			t.Parallel()

			ce, _ := ContentEncryptionFor(enc)
			cek, _ := ce.GenerateCEK()

			data, ok := ce.Encrypt(cek, []byte("payload"), []byte("aad"))
			require.True(t, ok)

			got, ok := ce.Decrypt(cek, data, []byte("aad'"))
			assert.False(t, ok)
			assert.Nil(t, got)
		})
	}
}

func TestContentEncryptionRejectsWrongCEK(t *testing.T) {
	t.Parallel()

	ce, _ := ContentEncryptionFor(EncA128GCM)
	cek, _ := ce.GenerateCEK()
	other, _ := ce.GenerateCEK()

	data, ok := ce.Encrypt(cek, []byte("payload"), nil)
	require.True(t, ok)

	got, ok := ce.Decrypt(other, data, nil)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCBCDecryptionTruncatedCiphertext(t *testing.T) {
	t.Parallel()

	ce, _ := ContentEncryptionFor(EncA128CBCHS256)
	cek, _ := ce.GenerateCEK()

	data, ok := ce.Encrypt(cek, []byte("a longer plaintext spanning blocks"), nil)
	require.True(t, ok)

	// Truncating the ciphertext must fail at the tag check; the padding is
	// never inspected and no distinguishable error is produced.
	data.Ciphertext = data.Ciphertext[:len(data.Ciphertext)-16]
	got, ok := ce.Decrypt(cek, data, nil)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestGCMDecryptionFlippedTagBit(t *testing.T) {
	t.Parallel()

	ce, _ := ContentEncryptionFor(EncA256GCM)
	cek, _ := ce.GenerateCEK()

	data, ok := ce.Encrypt(cek, []byte("secret"), nil)
	require.True(t, ok)

	data.Tag[0] ^= 0x01
	got, ok := ce.Decrypt(cek, data, nil)
	assert.False(t, ok)
	assert.Nil(t, got, "no plaintext bytes may reach the caller")
}

func TestContentEncryptionRejectsBadSizes(t *testing.T) {
	t.Parallel()

	ce, _ := ContentEncryptionFor(EncA128GCM)

	_, ok := ce.Encrypt(make([]byte, 5), []byte("p"), nil)
	assert.False(t, ok, "wrong CEK size must be rejected")

	cek, _ := ce.GenerateCEK()
	data, _ := ce.Encrypt(cek, []byte("p"), nil)
	data.IV = data.IV[:8]
	_, ok = ce.Decrypt(cek, data, nil)
	assert.False(t, ok, "wrong IV size must be rejected")
}

func TestPKCS7Unpad(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		data []byte
		ok   bool
	}{
		{name: "valid", data: append([]byte("abcdefghijklmn"), 2, 2), ok: true},
		{name: "full block padding", data: padPKCS7(nil, 16), ok: true},
		{name: "zero pad byte", data: append(make([]byte, 15), 0), ok: false},
		{name: "pad larger than block", data: append(make([]byte, 15), 17), ok: false},
		{name: "inconsistent padding", data: append([]byte("abcdefghijklmn"), 1, 2), ok: false},
		{name: "empty", data: nil, ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, ok := unpadPKCS7(tc.data, 16)
			assert.Equal(t, tc.ok, ok)
		})
	}
}
