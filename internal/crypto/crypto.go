// Package crypto provides the primitive AEAD operations the envelope
// encryption layer (internal/kms, internal/store) builds on: key derivation,
// authenticated encryption with associated data, and the deterministic
// nonce scheme used for equality-searchable fields (§4.2).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a keyLen-byte key via HKDF-SHA256. Used by the local KMS
// backend to turn a master key plus a per-tenant salt into a wrapping key,
// and is stable across process restarts as long as masterKey is stable.
func DeriveKey(masterKey, salt []byte, info string, keyLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, masterKey, salt, []byte(info))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// GenerateRandomBytes returns n cryptographically secure random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// HMACSign computes an HMAC-SHA256 signature.
func HMACSign(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeterministicNonce derives a nonce for gcm by truncating an HMAC of the
// AAD and plaintext under key. Reusing the same (key, aad, plaintext) always
// yields the same nonce and therefore the same ciphertext — required for
// equality search over a field like email without a dedicated hash column.
// It must never be used for fields that are not equality-searchable, since
// repeated plaintexts become observably equal ciphertexts.
func DeterministicNonce(gcm cipher.AEAD, key, aad, plaintext []byte) []byte {
	mac := HMACSign(key, append(append([]byte{}, aad...), plaintext...))
	return mac[:gcm.NonceSize()]
}

// SealAAD encrypts plaintext with AES-256-GCM under key, binding aad, using
// the given nonce (random for most fields, deterministic for
// equality-searchable ones). The nonce is prepended to the returned
// ciphertext.
func SealAAD(key, nonce, aad, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// SealRandomAAD encrypts plaintext with a fresh random nonce.
func SealRandomAAD(key, aad, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateRandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// SealDeterministicAAD encrypts plaintext with a nonce derived from
// DeterministicNonce, making repeated plaintexts produce identical
// ciphertext for a given key and aad.
func SealDeterministicAAD(key, aad, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := DeterministicNonce(gcm, key, aad, plaintext)
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// OpenAAD decrypts a ciphertext produced by SealAAD/SealRandomAAD/
// SealDeterministicAAD, verifying aad.
func OpenAAD(key, aad, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ct, aad)
}

// Hash256 computes SHA-256.
func Hash256(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// ZeroBytes overwrites b with zeroes, used to scrub plaintext DEKs and keys
// from memory once a request is done with them.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
