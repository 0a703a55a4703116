// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"encoding/base64"
	"strings"
)

// EncryptCompact produces the five-part JWE compact serialization of
// plaintext. The header must carry the key-management "alg" and
// content-encryption "enc"; the kid and typ are taken from it as-is.
// The AAD is the ASCII form of the base64url-encoded protected header,
// per RFC 7516 §5.1.
func EncryptCompact(plaintext []byte, hdr *Header, ke KeyEncrypter) (string, bool) {
	ce, ok := ContentEncryptionFor(hdr.Encryption)
	if !ok || hdr.Algorithm != ke.Algorithm() {
		return "", false
	}

	var cek []byte
	if direct, isDir := ke.(*directKeyEncrypter); isDir {
		cek = direct.CEK()
		if len(cek) != ce.CEKSize {
			return "", false
		}
	} else {
		cek, ok = ce.GenerateCEK()
		if !ok {
			return "", false
		}
	}

	encryptedKey, ok := ke.Encrypt(cek)
	if !ok {
		return "", false
	}

	protected, err := hdr.MarshalCompact()
	if err != nil {
		return "", false
	}

	data, ok := ce.Encrypt(cek, plaintext, []byte(protected))
	if !ok {
		return "", false
	}

	parts := []string{
		protected,
		base64.RawURLEncoding.EncodeToString(encryptedKey),
		base64.RawURLEncoding.EncodeToString(data.IV),
		base64.RawURLEncoding.EncodeToString(data.Ciphertext),
		base64.RawURLEncoding.EncodeToString(data.Tag),
	}
	return strings.Join(parts, "."), true
}

// DecryptCompact decrypts a five-part JWE compact serialization with the
// given key encrypter. Returns the plaintext and the protected header, or
// (nil, nil, false) on any failure; failure causes are never distinguished.
func DecryptCompact(token string, ke KeyEncrypter) ([]byte, *Header, bool) {
	parts := CompactParts(token)
	if len(parts) != 5 {
		return nil, nil, false
	}

	hdr, err := ParseHeader(parts[0])
	if err != nil {
		return nil, nil, false
	}
	if hdr.Algorithm != ke.Algorithm() {
		return nil, nil, false
	}
	ce, ok := ContentEncryptionFor(hdr.Encryption)
	if !ok {
		return nil, nil, false
	}

	encryptedKey, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, false
	}
	iv, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, false
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, nil, false
	}
	tag, err := base64.RawURLEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, false
	}

	cek, ok := ke.Decrypt(encryptedKey)
	if !ok {
		return nil, nil, false
	}

	plaintext, ok := ce.Decrypt(cek, &EncryptedData{IV: iv, Ciphertext: ciphertext, Tag: tag}, []byte(parts[0]))
	if !ok {
		return nil, nil, false
	}
	return plaintext, hdr, true
}

// IsEncrypted reports whether the compact serialization has the five-part
// JWE shape.
func IsEncrypted(token string) bool {
	return len(CompactParts(token)) == 5
}
