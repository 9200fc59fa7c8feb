// Package kms abstracts the three key-management backends a deployment can
// choose via P8_KMS_PROVIDER (§6): local (dev), vault (HashiCorp Vault
// transit-style HTTP API), and aws (a REST-shaped cloud KMS). Each backend
// wraps/unwraps per-tenant data-encryption keys and can encrypt/decrypt
// small blobs directly (used for the wrapped-DEK envelope itself).
package kms

import (
	"context"
	"fmt"
	"strings"

	"github.com/percolation-labs/p8k8/internal/platform/config"
)

// Adapter is the contract every KMS backend implements.
type Adapter interface {
	// WrapKey encrypts a plaintext DEK for storage, returning the wrapped
	// bytes and the backend's key identifier used to unwrap it later.
	WrapKey(ctx context.Context, tenantID string, plaintextDEK []byte) (wrapped []byte, keyID string, err error)
	// UnwrapKey decrypts a previously wrapped DEK.
	UnwrapKey(ctx context.Context, tenantID, keyID string, wrapped []byte) ([]byte, error)
	// EncryptBlob and DecryptBlob operate directly on the backend's master
	// key, used for sealed-mode bootstrap material and KMS self-tests.
	EncryptBlob(ctx context.Context, plaintext []byte) ([]byte, error)
	DecryptBlob(ctx context.Context, ciphertext []byte) ([]byte, error)
	// Name identifies the backend for metrics labels.
	Name() string
}

// New builds the Adapter selected by cfg.Provider.
func New(cfg config.KMSConfig) (Adapter, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "local":
		return newLocalAdapter(cfg)
	case "vault":
		return newVaultAdapter(cfg)
	case "aws":
		return newAWSAdapter(cfg)
	default:
		return nil, fmt.Errorf("kms: unknown provider %q", cfg.Provider)
	}
}
