// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package jose

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"hash"
)

var errMalformedToken = errors.New("malformed token")

// EncryptedData is the output of an authenticated content encryption:
// initialization vector, ciphertext, and authentication tag.
type EncryptedData struct {
	IV         []byte
	Ciphertext []byte
	Tag        []byte
}

// Content-encryption algorithm identifiers (RFC 7518 §5.1).
const (
	EncA128CBCHS256 = "A128CBC-HS256"
	EncA192CBCHS384 = "A192CBC-HS384"
	EncA256CBCHS512 = "A256CBC-HS512"
	EncA128GCM      = "A128GCM"
	EncA192GCM      = "A192GCM"
	EncA256GCM      = "A256GCM"
)

// ContentEncryption describes one RFC 7518 content-encryption algorithm.
// All operations return a false ok value on any failure; callers never learn
// whether a decryption failed on the tag or on the padding.
type ContentEncryption struct {
	// Name is the "enc" identifier.
	Name string

	// CEKSize is the content-encryption key size in bytes.
	CEKSize int

	// IVSize is the initialization vector size in bytes.
	IVSize int

	// TagSize is the authentication tag size in bytes.
	TagSize int

	gcm      bool
	hashFunc func() hash.Hash
}

var contentEncryptions = map[string]ContentEncryption{
	EncA128CBCHS256: {Name: EncA128CBCHS256, CEKSize: 32, IVSize: 16, TagSize: 16, hashFunc: sha256.New},
	EncA192CBCHS384: {Name: EncA192CBCHS384, CEKSize: 48, IVSize: 16, TagSize: 24, hashFunc: sha512.New384},
	EncA256CBCHS512: {Name: EncA256CBCHS512, CEKSize: 64, IVSize: 16, TagSize: 32, hashFunc: sha512.New},
	EncA128GCM:      {Name: EncA128GCM, CEKSize: 16, IVSize: 12, TagSize: 16, gcm: true},
	EncA192GCM:      {Name: EncA192GCM, CEKSize: 24, IVSize: 12, TagSize: 16, gcm: true},
	EncA256GCM:      {Name: EncA256GCM, CEKSize: 32, IVSize: 12, TagSize: 16, gcm: true},
}

// ContentEncryptionFor looks up a content-encryption algorithm by its "enc"
// identifier.
func ContentEncryptionFor(enc string) (ContentEncryption, bool) {
	ce, ok := contentEncryptions[enc]
	return ce, ok
}

// GenerateCEK produces a fresh random content-encryption key of the right size.
func (ce ContentEncryption) GenerateCEK() ([]byte, bool) {
	cek := make([]byte, ce.CEKSize)
	if _, err := rand.Read(cek); err != nil {
		return nil, false
	}
	return cek, true
}

// Encrypt encrypts plaintext under cek, binding aad. A fresh IV is generated
// per call.
func (ce ContentEncryption) Encrypt(cek, plaintext, aad []byte) (*EncryptedData, bool) {
	if len(cek) != ce.CEKSize {
		return nil, false
	}
	iv := make([]byte, ce.IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, false
	}
	if ce.gcm {
		return ce.encryptGCM(cek, iv, plaintext, aad)
	}
	return ce.encryptCBC(cek, iv, plaintext, aad)
}

// Decrypt verifies the tag and decrypts. Tag mismatch and padding errors are
// indistinguishable: both return (nil, false).
func (ce ContentEncryption) Decrypt(cek []byte, data *EncryptedData, aad []byte) ([]byte, bool) {
	if len(cek) != ce.CEKSize || data == nil {
		return nil, false
	}
	if len(data.IV) != ce.IVSize || len(data.Tag) != ce.TagSize {
		return nil, false
	}
	if ce.gcm {
		return ce.decryptGCM(cek, data, aad)
	}
	return ce.decryptCBC(cek, data, aad)
}

func (ce ContentEncryption) encryptGCM(cek, iv, plaintext, aad []byte) (*EncryptedData, bool) {
	aead, ok := ce.newGCM(cek)
	if !ok {
		return nil, false
	}
	sealed := aead.Seal(nil, iv, plaintext, aad)
	split := len(sealed) - ce.TagSize
	return &EncryptedData{
		IV:         iv,
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
	}, true
}

func (ce ContentEncryption) decryptGCM(cek []byte, data *EncryptedData, aad []byte) ([]byte, bool) {
	aead, ok := ce.newGCM(cek)
	if !ok {
		return nil, false
	}
	sealed := make([]byte, 0, len(data.Ciphertext)+len(data.Tag))
	sealed = append(sealed, data.Ciphertext...)
	sealed = append(sealed, data.Tag...)
	plaintext, err := aead.Open(nil, data.IV, sealed, aad)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

func (ce ContentEncryption) newGCM(cek []byte) (cipher.AEAD, bool) {
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, false
	}
	return aead, true
}

func (ce ContentEncryption) encryptCBC(cek, iv, plaintext, aad []byte) (*EncryptedData, bool) {
	macKey, encKey := cek[:ce.CEKSize/2], cek[ce.CEKSize/2:]

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, false
	}
	padded := padPKCS7(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	tag := ce.computeCBCTag(macKey, aad, iv, ciphertext)
	return &EncryptedData{IV: iv, Ciphertext: ciphertext, Tag: tag}, true
}

func (ce ContentEncryption) decryptCBC(cek []byte, data *EncryptedData, aad []byte) ([]byte, bool) {
	macKey, encKey := cek[:ce.CEKSize/2], cek[ce.CEKSize/2:]

	// Tag verification comes first; nothing is decrypted on mismatch.
	expected := ce.computeCBCTag(macKey, aad, data.IV, data.Ciphertext)
	if !hmac.Equal(expected, data.Tag) {
		return nil, false
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, false
	}
	if len(data.Ciphertext) == 0 || len(data.Ciphertext)%block.BlockSize() != 0 {
		return nil, false
	}
	padded := make([]byte, len(data.Ciphertext))
	cipher.NewCBCDecrypter(block, data.IV).CryptBlocks(padded, data.Ciphertext)

	return unpadPKCS7(padded, block.BlockSize())
}

// computeCBCTag computes HMAC(macKey, AAD || IV || ciphertext || AL) truncated
// to the tag size, where AL is the AAD length in bits as a 64-bit big-endian
// integer (RFC 7518 §5.2.2.1).
func (ce ContentEncryption) computeCBCTag(macKey, aad, iv, ciphertext []byte) []byte {
	al := make([]byte, 8)
	binary.BigEndian.PutUint64(al, uint64(len(aad))*8)

	mac := hmac.New(ce.hashFunc, macKey)
	mac.Write(aad)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(al)
	return mac.Sum(nil)[:ce.TagSize]
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
