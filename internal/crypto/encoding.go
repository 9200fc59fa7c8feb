package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// encodeCiphertext renders raw ciphertext bytes as the string form stored
// in an encrypted text column.
func encodeCiphertext(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// decodeCiphertext reverses encodeCiphertext.
func decodeCiphertext(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// sealedPrefix tags a sealed-mode column value so a reader can tell it
// apart from a platform/client AEAD ciphertext at a glance.
const sealedPrefix = "sealed.v1."

// encodeSealed renders a sealed-mode field's RSA-wrapped ephemeral DEK and
// AES-GCM ciphertext as the single string stored in the column.
func encodeSealed(wrappedKey, ciphertext []byte) string {
	return sealedPrefix + base64.StdEncoding.EncodeToString(wrappedKey) + "." + base64.StdEncoding.EncodeToString(ciphertext)
}

// decodeSealed reverses encodeSealed. Only a client holding the tenant's
// RSA private key can do anything useful with the returned pieces.
func decodeSealed(s string) (wrappedKey, ciphertext []byte, err error) {
	if !strings.HasPrefix(s, sealedPrefix) {
		return nil, nil, fmt.Errorf("crypto: not a sealed-mode value")
	}
	parts := strings.SplitN(strings.TrimPrefix(s, sealedPrefix), ".", 2)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("crypto: malformed sealed-mode value")
	}
	wrappedKey, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: decode wrapped key: %w", err)
	}
	ciphertext, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}
	return wrappedKey, ciphertext, nil
}
