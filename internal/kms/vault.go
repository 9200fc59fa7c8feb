package kms

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/percolation-labs/p8k8/internal/platform/config"
)

// vaultAdapter speaks Vault's transit-secrets-engine HTTP API
// (encrypt/decrypt under a named transit key), used to wrap/unwrap
// per-tenant DEKs without the master key ever leaving Vault.
type vaultAdapter struct {
	baseURL    string
	token      string
	transitKey string
	httpClient *http.Client
}

func newVaultAdapter(cfg config.KMSConfig) (Adapter, error) {
	if strings.TrimSpace(cfg.VaultAddr) == "" {
		return nil, fmt.Errorf("kms vault: P8_KMS_VAULT_ADDR is required")
	}
	if strings.TrimSpace(cfg.VaultToken) == "" {
		return nil, fmt.Errorf("kms vault: P8_KMS_VAULT_TOKEN is required")
	}
	return &vaultAdapter{
		baseURL:    strings.TrimRight(cfg.VaultAddr, "/"),
		token:      cfg.VaultToken,
		transitKey: cfg.VaultTransitKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (a *vaultAdapter) Name() string { return "vault" }

type vaultTransitRequest struct {
	Plaintext  string `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Context    string `json:"context,omitempty"`
}

type vaultTransitResponse struct {
	Data struct {
		Plaintext  string `json:"plaintext"`
		Ciphertext string `json:"ciphertext"`
	} `json:"data"`
	Errors []string `json:"errors"`
}

func (a *vaultAdapter) do(ctx context.Context, op string, req vaultTransitRequest) (*vaultTransitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("kms vault: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/transit/%s/%s", a.baseURL, op, a.transitKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kms vault: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Vault-Token", a.token)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kms vault: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("kms vault: read response: %w", err)
	}

	var out vaultTransitResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("kms vault: unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(out.Errors) > 0 {
			return nil, fmt.Errorf("kms vault: %s: %s", op, strings.Join(out.Errors, "; "))
		}
		return nil, fmt.Errorf("kms vault: %s failed: %s", op, resp.Status)
	}
	return &out, nil
}

func (a *vaultAdapter) WrapKey(ctx context.Context, tenantID string, plaintextDEK []byte) ([]byte, string, error) {
	resp, err := a.do(ctx, "encrypt", vaultTransitRequest{
		Plaintext: base64.StdEncoding.EncodeToString(plaintextDEK),
		Context:   base64.StdEncoding.EncodeToString([]byte(tenantID)),
	})
	if err != nil {
		return nil, "", err
	}
	return []byte(resp.Data.Ciphertext), a.transitKey, nil
}

func (a *vaultAdapter) UnwrapKey(ctx context.Context, tenantID, keyID string, wrapped []byte) ([]byte, error) {
	resp, err := a.do(ctx, "decrypt", vaultTransitRequest{
		Ciphertext: string(wrapped),
		Context:    base64.StdEncoding.EncodeToString([]byte(tenantID)),
	})
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.Data.Plaintext)
}

func (a *vaultAdapter) EncryptBlob(ctx context.Context, plaintext []byte) ([]byte, error) {
	resp, err := a.do(ctx, "encrypt", vaultTransitRequest{Plaintext: base64.StdEncoding.EncodeToString(plaintext)})
	if err != nil {
		return nil, err
	}
	return []byte(resp.Data.Ciphertext), nil
}

func (a *vaultAdapter) DecryptBlob(ctx context.Context, ciphertext []byte) ([]byte, error) {
	resp, err := a.do(ctx, "decrypt", vaultTransitRequest{Ciphertext: string(ciphertext)})
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.Data.Plaintext)
}
