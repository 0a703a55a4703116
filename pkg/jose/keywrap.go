// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // RSA-OAEP with SHA-1 is mandated by RFC 7518 §4.3
	"crypto/sha256"
)

// Key-management algorithm identifiers (RFC 7518 §4.1).
const (
	AlgRSAOAEP    = "RSA-OAEP"
	AlgRSAOAEP256 = "RSA-OAEP-256"
	AlgRSA15      = "RSA1_5"
	AlgA128GCMKW  = "A128GCMKW"
	AlgA192GCMKW  = "A192GCMKW"
	AlgA256GCMKW  = "A256GCMKW"
	AlgDirect     = "dir"
)

// MinRSAKeyBits is the minimum accepted RSA modulus size.
// 2048 bits is required per NIST SP 800-57 recommendations.
const MinRSAKeyBits = 2048

// AES-GCM key wrap wire format: IV(12) || ciphertext || tag(16).
const (
	gcmKWIVSize  = 12
	gcmKWTagSize = 16
)

// KeyEncrypter wraps and unwraps content-encryption keys for one
// key-management algorithm. All operations return (nil, false) on failure.
type KeyEncrypter interface {
	// Algorithm returns the "alg" identifier.
	Algorithm() string

	// Encrypt wraps the CEK, producing the JWE encrypted_key value.
	Encrypt(cek []byte) ([]byte, bool)

	// Decrypt unwraps the JWE encrypted_key back into the CEK.
	Decrypt(encryptedKey []byte) ([]byte, bool)
}

// rsaOverhead is the maximum-plaintext overhead in bytes per RSA padding mode.
var rsaOverhead = map[string]int{
	AlgRSAOAEP:    42,
	AlgRSAOAEP256: 66,
	AlgRSA15:      11,
}

type rsaKeyEncrypter struct {
	alg  string
	pub  *rsa.PublicKey
	priv *rsa.PrivateKey
}

// NewRSAKeyEncrypter creates a key encrypter for RSA-OAEP, RSA-OAEP-256 or
// RSA1_5. The private key may be nil for encrypt-only use. Keys with a
// modulus below MinRSAKeyBits are rejected.
func NewRSAKeyEncrypter(alg string, pub *rsa.PublicKey, priv *rsa.PrivateKey) (KeyEncrypter, bool) {
	if _, ok := rsaOverhead[alg]; !ok {
		return nil, false
	}
	if pub == nil && priv != nil {
		pub = &priv.PublicKey
	}
	if pub == nil || pub.N.BitLen() < MinRSAKeyBits {
		return nil, false
	}
	return &rsaKeyEncrypter{alg: alg, pub: pub, priv: priv}, true
}

func (e *rsaKeyEncrypter) Algorithm() string { return e.alg }

func (e *rsaKeyEncrypter) Encrypt(cek []byte) ([]byte, bool) {
	keySize := e.pub.Size()
	if len(cek) > keySize-rsaOverhead[e.alg] {
		return nil, false
	}

	var out []byte
	var err error
	switch e.alg {
	case AlgRSAOAEP:
		out, err = rsa.EncryptOAEP(sha1.New(), rand.Reader, e.pub, cek, nil)
	case AlgRSAOAEP256:
		out, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, e.pub, cek, nil)
	case AlgRSA15:
		out, err = rsa.EncryptPKCS1v15(rand.Reader, e.pub, cek)
	}
	if err != nil || len(out) != keySize {
		return nil, false
	}
	return out, true
}

func (e *rsaKeyEncrypter) Decrypt(encryptedKey []byte) ([]byte, bool) {
	if e.priv == nil || len(encryptedKey) == 0 {
		return nil, false
	}

	var out []byte
	var err error
	switch e.alg {
	case AlgRSAOAEP:
		out, err = rsa.DecryptOAEP(sha1.New(), rand.Reader, e.priv, encryptedKey, nil)
	case AlgRSAOAEP256:
		out, err = rsa.DecryptOAEP(sha256.New(), rand.Reader, e.priv, encryptedKey, nil)
	case AlgRSA15:
		out, err = rsa.DecryptPKCS1v15(rand.Reader, e.priv, encryptedKey)
	}
	if err != nil {
		return nil, false
	}
	return out, true
}

type aesGCMKeyEncrypter struct {
	alg string
	key []byte
}

// aesGCMKWKeySizes maps algorithm to required wrapping-key size.
var aesGCMKWKeySizes = map[string]int{
	AlgA128GCMKW: 16,
	AlgA192GCMKW: 24,
	AlgA256GCMKW: 32,
}

// NewAESGCMKeyEncrypter creates a key encrypter for A128GCMKW, A192GCMKW or
// A256GCMKW. The wire format is IV(12) || ciphertext || tag(16).
func NewAESGCMKeyEncrypter(alg string, key []byte) (KeyEncrypter, bool) {
	size, ok := aesGCMKWKeySizes[alg]
	if !ok || len(key) != size {
		return nil, false
	}
	return &aesGCMKeyEncrypter{alg: alg, key: key}, true
}

func (e *aesGCMKeyEncrypter) Algorithm() string { return e.alg }

func (e *aesGCMKeyEncrypter) aead() (cipher.AEAD, bool) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, false
	}
	return aead, true
}

func (e *aesGCMKeyEncrypter) Encrypt(cek []byte) ([]byte, bool) {
	aead, ok := e.aead()
	if !ok {
		return nil, false
	}
	iv := make([]byte, gcmKWIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, false
	}
	sealed := aead.Seal(nil, iv, cek, nil)
	out := make([]byte, 0, gcmKWIVSize+len(sealed))
	out = append(out, iv...)
	out = append(out, sealed...)
	return out, true
}

func (e *aesGCMKeyEncrypter) Decrypt(encryptedKey []byte) ([]byte, bool) {
	if len(encryptedKey) < gcmKWIVSize+gcmKWTagSize {
		return nil, false
	}
	aead, ok := e.aead()
	if !ok {
		return nil, false
	}
	iv, sealed := encryptedKey[:gcmKWIVSize], encryptedKey[gcmKWIVSize:]
	cek, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, false
	}
	return cek, true
}

type directKeyEncrypter struct {
	key []byte
}

// NewDirectKeyEncrypter creates the "dir" key encrypter: the CEK is the
// shared symmetric key and the JWE encrypted_key field stays empty.
func NewDirectKeyEncrypter(key []byte) (KeyEncrypter, bool) {
	if len(key) == 0 {
		return nil, false
	}
	return &directKeyEncrypter{key: key}, true
}

func (*directKeyEncrypter) Algorithm() string { return AlgDirect }

// Encrypt enforces that the CEK equals the shared key and emits an empty
// encrypted_key.
func (e *directKeyEncrypter) Encrypt(cek []byte) ([]byte, bool) {
	if !bytes.Equal(cek, e.key) {
		return nil, false
	}
	return []byte{}, true
}

// Decrypt rejects any non-empty encrypted_key per RFC 7518 §4.5.
func (e *directKeyEncrypter) Decrypt(encryptedKey []byte) ([]byte, bool) {
	if len(encryptedKey) != 0 {
		return nil, false
	}
	out := make([]byte, len(e.key))
	copy(out, e.key)
	return out, true
}

// CEK returns the shared key so that encrypting callers can pass it to the
// content encryption.
func (e *directKeyEncrypter) CEK() []byte {
	out := make([]byte, len(e.key))
	copy(out, e.key)
	return out
}
