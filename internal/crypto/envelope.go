package crypto

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/kms"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// Mode is the per-tenant encryption mode policy (§4.1).
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModePlatform Mode = "platform"
	ModeClient   Mode = "client"
	ModeSealed   Mode = "sealed"
)

// dekCacheTTL bounds how long a tenant's plaintext DEK stays resident in
// process memory after an unwrap.
const dekCacheTTL = 10 * time.Minute

// TenantKeyStore is the persistence boundary envelope needs: fetching and
// saving the wrapped-DEK row per tenant.
type TenantKeyStore interface {
	GetTenantKey(ctx context.Context, tenantID string) (*domain.TenantKey, error)
	PutTenantKey(ctx context.Context, key *domain.TenantKey) error
}

// Service implements field-level envelope encryption: per-tenant DEKs
// wrapped by a KMS master key, AES-256-GCM at the field, and the
// disabled/platform/client/sealed mode policy of §4.1-4.2.
type Service struct {
	kms     kms.Adapter
	keys    TenantKeyStore
	dekCache *lru.LRU[string, []byte]
}

// NewService builds an encryption Service backed by adapter and keys.
func NewService(adapter kms.Adapter, keys TenantKeyStore) *Service {
	return &Service{
		kms:      adapter,
		keys:     keys,
		dekCache: lru.NewLRU[string, []byte](1024, nil, dekCacheTTL),
	}
}

// dek resolves (and caches) the plaintext DEK for tenantID, creating a new
// one if the tenant has none yet.
func (s *Service) dek(ctx context.Context, tenantID string) ([]byte, error) {
	if key, ok := s.dekCache.Get(tenantID); ok {
		return key, nil
	}

	tk, err := s.keys.GetTenantKey(ctx, tenantID)
	if err != nil {
		return nil, perrors.TransientStore("get_tenant_key", err)
	}

	if tk == nil {
		plaintext, err := GenerateRandomBytes(32)
		if err != nil {
			return nil, perrors.Internal("generate dek", err)
		}
		wrapped, keyID, err := s.kms.WrapKey(ctx, tenantID, plaintext)
		if err != nil {
			return nil, perrors.KmsUnavailable(err)
		}
		tk = &domain.TenantKey{
			TenantID:   tenantID,
			WrappedDEK: wrapped,
			KMSKeyID:   keyID,
			Algorithm:  "aes-256-gcm",
			Mode:       string(ModePlatform),
			RotatedAt:  time.Now(),
		}
		if err := s.keys.PutTenantKey(ctx, tk); err != nil {
			return nil, perrors.TransientStore("put_tenant_key", err)
		}
		s.dekCache.Add(tenantID, plaintext)
		return plaintext, nil
	}

	plaintext, err := s.kms.UnwrapKey(ctx, tenantID, tk.KMSKeyID, tk.WrappedDEK)
	if err != nil {
		return nil, perrors.KmsAuthError(err)
	}
	if len(plaintext) != 32 {
		return nil, perrors.KmsCorrupt(fmt.Errorf("unwrapped dek has length %d, want 32", len(plaintext)))
	}
	s.dekCache.Add(tenantID, plaintext)
	return plaintext, nil
}

// aad builds the AES-GCM associated data binding a ciphertext to the
// tenant/entity pair it belongs to, matching §4.2 exactly:
// AAD = tenant_id || ':' || entity_id.
func aad(tenantID, entityID string) []byte {
	return []byte(strings.Join([]string{tenantID, entityID}, ":"))
}

// EncryptField encrypts plaintext for (tenantID, entityID) under mode.
// deterministic must be true only for equality-searchable fields (email);
// every other field gets a fresh random nonce.
func (s *Service) EncryptField(ctx context.Context, mode Mode, tenantID, entityID string, plaintext string, deterministic bool) (string, error) {
	switch mode {
	case ModeDisabled:
		return plaintext, nil
	case ModeClient:
		// Client-held keys never reach this service; the caller is
		// responsible for having already encrypted the value.
		return plaintext, nil
	case ModeSealed:
		return s.sealField(ctx, tenantID, entityID, plaintext)
	}

	key, err := s.dek(ctx, tenantID)
	if err != nil {
		return "", err
	}

	var ciphertext []byte
	if deterministic {
		ciphertext, err = SealDeterministicAAD(key, aad(tenantID, entityID), []byte(plaintext))
	} else {
		ciphertext, err = SealRandomAAD(key, aad(tenantID, entityID), []byte(plaintext))
	}
	if err != nil {
		return "", perrors.Internal("encrypt field", err)
	}
	return encodeCiphertext(ciphertext), nil
}

// DecryptField reverses EncryptField. Sealed-mode rows can never be
// decrypted here: the hybrid scheme wraps the field's ephemeral DEK with
// the tenant's RSA public key, and the server never holds the matching
// private key. A sealed read always surfaces as ModeMismatch so callers
// fall back to returning ciphertext to the client.
func (s *Service) DecryptField(ctx context.Context, mode Mode, tenantID, entityID string, stored string) (string, error) {
	switch mode {
	case ModeDisabled, ModeClient:
		return stored, nil
	case ModeSealed:
		return "", perrors.ModeMismatch(tenantID)
	}

	key, err := s.dek(ctx, tenantID)
	if err != nil {
		return "", err
	}

	ciphertext, err := decodeCiphertext(stored)
	if err != nil {
		return "", perrors.KmsCorrupt(err)
	}

	plaintext, err := OpenAAD(key, aad(tenantID, entityID), ciphertext)
	if err != nil {
		return "", perrors.DecryptAuthFail(entityID, err)
	}
	return string(plaintext), nil
}

// sealField implements sealed mode's hybrid scheme: a fresh per-field
// ephemeral DEK AES-256-GCM encrypts plaintext, then the ephemeral DEK
// itself is wrapped with the tenant's RSA public key via OAEP. Unlike
// platform mode, no per-tenant symmetric DEK from the KMS is involved —
// the tenant's own registered public key is the only wrapping key, and
// only the holder of the matching private key (the client) can ever
// unwrap it.
func (s *Service) sealField(ctx context.Context, tenantID, entityID, plaintext string) (string, error) {
	tk, err := s.keys.GetTenantKey(ctx, tenantID)
	if err != nil {
		return "", perrors.TransientStore("get_tenant_key", err)
	}
	if tk == nil || tk.PublicKeyPEM == "" {
		return "", perrors.EncryptKeyMissing(tenantID)
	}
	pub, err := parseTenantRSAPublicKey(tk.PublicKeyPEM)
	if err != nil {
		return "", perrors.Internal("parse tenant public key", err)
	}

	ephemeral, err := GenerateRandomBytes(32)
	if err != nil {
		return "", perrors.Internal("generate ephemeral dek", err)
	}
	defer ZeroBytes(ephemeral)

	ciphertext, err := SealRandomAAD(ephemeral, aad(tenantID, entityID), []byte(plaintext))
	if err != nil {
		return "", perrors.Internal("seal field", err)
	}

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, ephemeral, nil)
	if err != nil {
		return "", perrors.Internal("wrap ephemeral dek", err)
	}

	return encodeSealed(wrappedKey, ciphertext), nil
}

// parseTenantRSAPublicKey decodes a PEM-encoded PKIX RSA public key, the
// form TenantKey.PublicKeyPEM/Device.PublicKey are registered in.
func parseTenantRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("crypto: invalid public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: tenant public key is not RSA")
	}
	return rsaPub, nil
}

// ResolveMode caps a requested read mode against the tenant's configured
// policy: the sealed->platform capping named in §4.1 for the chat path,
// where a sealed-mode tenant's messages are still readable by platform
// background jobs (dreaming, summarization) operating without the client's
// private key.
func ResolveMode(tenantMode Mode, chatPath bool) Mode {
	if tenantMode == ModeSealed && chatPath {
		return ModePlatform
	}
	return tenantMode
}
