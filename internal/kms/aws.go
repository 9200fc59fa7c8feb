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

// awsAdapter speaks a KMS-style REST API (Encrypt/Decrypt actions over a
// key ID) via a thin hand-rolled client rather than the full AWS SDK — the
// only two calls this package ever needs are Encrypt and Decrypt, so
// pulling in the SDK's credential chain and service registry for that
// would be pure overhead (see DESIGN.md).
type awsAdapter struct {
	endpoint   string
	keyID      string
	accessKey  string
	secretKey  string
	httpClient *http.Client
}

func newAWSAdapter(cfg config.KMSConfig) (Adapter, error) {
	if strings.TrimSpace(cfg.AWSEndpoint) == "" {
		return nil, fmt.Errorf("kms aws: P8_KMS_AWS_ENDPOINT is required")
	}
	if strings.TrimSpace(cfg.AWSKeyID) == "" {
		return nil, fmt.Errorf("kms aws: P8_KMS_AWS_KEY_ID is required")
	}
	return &awsAdapter{
		endpoint:   strings.TrimRight(cfg.AWSEndpoint, "/"),
		keyID:      cfg.AWSKeyID,
		accessKey:  cfg.AWSAccessKey,
		secretKey:  cfg.AWSSecretKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (a *awsAdapter) Name() string { return "aws" }

type awsKMSRequest struct {
	KeyID               string `json:"KeyId"`
	Plaintext           string `json:"Plaintext,omitempty"`
	CiphertextBlob      string `json:"CiphertextBlob,omitempty"`
	EncryptionContext   map[string]string `json:"EncryptionContext,omitempty"`
}

type awsKMSResponse struct {
	Plaintext      string `json:"Plaintext"`
	CiphertextBlob string `json:"CiphertextBlob"`
	KeyId          string `json:"KeyId"`
	Message        string `json:"message"`
}

func (a *awsAdapter) call(ctx context.Context, action string, req awsKMSRequest) (*awsKMSResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("kms aws: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kms aws: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-amz-json-1.1")
	httpReq.Header.Set("X-Amz-Target", "TrentService."+action)
	if a.accessKey != "" {
		httpReq.Header.Set("Authorization", "AWS4-HMAC-SHA256 Credential="+a.accessKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kms aws: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("kms aws: read response: %w", err)
	}

	var out awsKMSResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("kms aws: unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Message != "" {
			return nil, fmt.Errorf("kms aws: %s failed: %s", action, out.Message)
		}
		return nil, fmt.Errorf("kms aws: %s failed: %s", action, resp.Status)
	}
	return &out, nil
}

func (a *awsAdapter) WrapKey(ctx context.Context, tenantID string, plaintextDEK []byte) ([]byte, string, error) {
	resp, err := a.call(ctx, "Encrypt", awsKMSRequest{
		KeyID:             a.keyID,
		Plaintext:         base64.StdEncoding.EncodeToString(plaintextDEK),
		EncryptionContext: map[string]string{"tenant_id": tenantID},
	})
	if err != nil {
		return nil, "", err
	}
	blob, err := base64.StdEncoding.DecodeString(resp.CiphertextBlob)
	if err != nil {
		return nil, "", fmt.Errorf("kms aws: decode ciphertext blob: %w", err)
	}
	return blob, resp.KeyId, nil
}

func (a *awsAdapter) UnwrapKey(ctx context.Context, tenantID, keyID string, wrapped []byte) ([]byte, error) {
	resp, err := a.call(ctx, "Decrypt", awsKMSRequest{
		KeyID:             keyID,
		CiphertextBlob:    base64.StdEncoding.EncodeToString(wrapped),
		EncryptionContext: map[string]string{"tenant_id": tenantID},
	})
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.Plaintext)
}

func (a *awsAdapter) EncryptBlob(ctx context.Context, plaintext []byte) ([]byte, error) {
	resp, err := a.call(ctx, "Encrypt", awsKMSRequest{KeyID: a.keyID, Plaintext: base64.StdEncoding.EncodeToString(plaintext)})
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.CiphertextBlob)
}

func (a *awsAdapter) DecryptBlob(ctx context.Context, ciphertext []byte) ([]byte, error) {
	resp, err := a.call(ctx, "Decrypt", awsKMSRequest{KeyID: a.keyID, CiphertextBlob: base64.StdEncoding.EncodeToString(ciphertext)})
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.Plaintext)
}
