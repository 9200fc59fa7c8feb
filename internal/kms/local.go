package kms

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/platform/config"
)

// masterKeyEnv names the config field a deployer sets for the local backend.
const masterKeyEnv = "P8_KMS_LOCAL_MASTER_KEY"

// localAdapter derives a per-tenant wrapping key from a single process
// master key via HKDF, so the master key itself never touches disk per
// tenant. Intended for development and single-node deployments; production
// deployments should use vault or aws.
type localAdapter struct {
	masterKey []byte
}

func newLocalAdapter(cfg config.KMSConfig) (Adapter, error) {
	key, err := normalizeMasterKey(cfg.LocalMasterKey)
	if err != nil {
		return nil, err
	}
	return &localAdapter{masterKey: key}, nil
}

func (a *localAdapter) Name() string { return "local" }

func (a *localAdapter) wrappingKey(tenantID string) ([]byte, error) {
	return crypto.DeriveKey(a.masterKey, []byte(tenantID), "p8k8-tenant-dek-wrap", 32)
}

func (a *localAdapter) WrapKey(ctx context.Context, tenantID string, plaintextDEK []byte) ([]byte, string, error) {
	wk, err := a.wrappingKey(tenantID)
	if err != nil {
		return nil, "", err
	}
	defer crypto.ZeroBytes(wk)
	wrapped, err := crypto.SealRandomAAD(wk, []byte(tenantID), plaintextDEK)
	if err != nil {
		return nil, "", fmt.Errorf("kms local: wrap: %w", err)
	}
	return wrapped, "local:" + tenantID, nil
}

func (a *localAdapter) UnwrapKey(ctx context.Context, tenantID, keyID string, wrapped []byte) ([]byte, error) {
	wk, err := a.wrappingKey(tenantID)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(wk)
	plaintext, err := crypto.OpenAAD(wk, []byte(tenantID), wrapped)
	if err != nil {
		return nil, fmt.Errorf("kms local: unwrap: %w", err)
	}
	return plaintext, nil
}

func (a *localAdapter) EncryptBlob(ctx context.Context, plaintext []byte) ([]byte, error) {
	return crypto.SealRandomAAD(a.masterKey, []byte("p8k8-kms-blob"), plaintext)
}

func (a *localAdapter) DecryptBlob(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return crypto.OpenAAD(a.masterKey, []byte("p8k8-kms-blob"), ciphertext)
}

// normalizeMasterKey accepts either 64 hex chars (32 bytes) or, in
// development, a raw 32-byte string — mirroring how teacher deployments
// historically tolerated a plaintext dev key while requiring hex in any
// non-local environment.
func normalizeMasterKey(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return nil, fmt.Errorf("kms local: %s is required", masterKeyEnv)
	}
	if decoded, err := hex.DecodeString(trimmed); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(trimmed) == 32 {
		return []byte(trimmed), nil
	}
	return nil, fmt.Errorf("kms local: %s must be 32 bytes raw or 64 hex chars", masterKeyEnv)
}
