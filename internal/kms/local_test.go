package kms

import (
	"context"
	"testing"

	"github.com/percolation-labs/p8k8/internal/platform/config"
)

func newLocalTestAdapter(t *testing.T, masterKey string) Adapter {
	t.Helper()
	adapter, err := New(config.KMSConfig{Provider: "local", LocalMasterKey: masterKey})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return adapter
}

func TestLocalAdapterWrapUnwrapRoundTrip(t *testing.T) {
	a := newLocalTestAdapter(t, "12345678901234567890123456789012")
	ctx := context.Background()

	plaintext := []byte("thirty-two-byte-plaintext-dek!!")
	wrapped, keyID, err := a.WrapKey(ctx, "tenant-1", plaintext)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if keyID != "local:tenant-1" {
		t.Errorf("got key id %q", keyID)
	}

	unwrapped, err := a.UnwrapKey(ctx, "tenant-1", keyID, wrapped)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if string(unwrapped) != string(plaintext) {
		t.Errorf("got %q, want %q", unwrapped, plaintext)
	}
}

func TestLocalAdapterUnwrapFailsForWrongTenant(t *testing.T) {
	a := newLocalTestAdapter(t, "12345678901234567890123456789012")
	ctx := context.Background()

	wrapped, keyID, err := a.WrapKey(ctx, "tenant-1", []byte("thirty-two-byte-plaintext-dek!!"))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if _, err := a.UnwrapKey(ctx, "tenant-2", keyID, wrapped); err == nil {
		t.Fatal("expected unwrap under a different tenant id to fail")
	}
}

func TestLocalAdapterEncryptDecryptBlobRoundTrip(t *testing.T) {
	a := newLocalTestAdapter(t, "12345678901234567890123456789012")
	ctx := context.Background()

	ciphertext, err := a.EncryptBlob(ctx, []byte("seal bootstrap material"))
	if err != nil {
		t.Fatalf("encrypt blob: %v", err)
	}
	plaintext, err := a.DecryptBlob(ctx, ciphertext)
	if err != nil {
		t.Fatalf("decrypt blob: %v", err)
	}
	if string(plaintext) != "seal bootstrap material" {
		t.Errorf("got %q", plaintext)
	}
}

func TestLocalAdapterAcceptsHexMasterKey(t *testing.T) {
	hexKey := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	a := newLocalTestAdapter(t, hexKey)
	if a.Name() != "local" {
		t.Errorf("got name %q", a.Name())
	}
}

func TestLocalAdapterRejectsEmptyMasterKey(t *testing.T) {
	if _, err := New(config.KMSConfig{Provider: "local", LocalMasterKey: ""}); err == nil {
		t.Fatal("expected an error for a missing master key")
	}
}

func TestLocalAdapterRejectsWrongLengthMasterKey(t *testing.T) {
	if _, err := New(config.KMSConfig{Provider: "local", LocalMasterKey: "too-short"}); err == nil {
		t.Fatal("expected an error for a master key that is neither 32 raw bytes nor 64 hex chars")
	}
}
