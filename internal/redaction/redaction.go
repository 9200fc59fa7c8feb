// Package redaction implements the reversible redaction map (§3 "Redaction
// map"): PII-shaped spans in free text are replaced with a
// "{{redact:<token>}}" placeholder, and the original value is stored
// encrypted under the tenant's DEK, scoped by (tenant, entity, session).
// Unlike the teacher's infrastructure/redaction package — which masks
// secrets for safe logging and never recovers the original — this map is
// built to be reversed: a platform job with the right tenant key can look
// a token up and decrypt the span back.
package redaction

import (
	"context"
	"regexp"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// piiPatterns classifies the spans this package redacts, the same
// named-capture-then-replace shape as the teacher's secretPatterns, but
// aimed at PII instead of credential leakage: email addresses, phone
// numbers, and bearer-style tokens.
var piiPatterns = map[string]*regexp.Regexp{
	"email": regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"phone": regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
	"token": regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`),
}

// MappingStore persists token -> ciphertext(original) rows scoped by
// (tenant, entity, session).
type MappingStore interface {
	Put(ctx context.Context, m domain.RedactionMapping) error
	Get(ctx context.Context, tenantID, entityID, sessionID, token string) (string, error)
}

// Service redacts and un-redacts text, encrypting spans with the same
// envelope-encryption service the rest of the core uses for field-level
// encryption (§4.2).
type Service struct {
	envelope *crypto.Service
	mappings MappingStore
}

func NewService(envelope *crypto.Service, mappings MappingStore) *Service {
	return &Service{envelope: envelope, mappings: mappings}
}

// Redact replaces every PII-shaped span in text with a "{{redact:<token>}}"
// placeholder, storing the original (encrypted under mode) against a fresh
// token scoped to (tenantID, entityID, sessionID). Disabled mode is a
// passthrough: redaction only makes sense once a tenant has a DEK to
// encrypt spans under.
func (s *Service) Redact(ctx context.Context, mode crypto.Mode, tenantID, entityID, sessionID, text string) (string, error) {
	if mode == crypto.ModeDisabled {
		return text, nil
	}

	out := text
	for _, pattern := range piiPatterns {
		out = pattern.ReplaceAllStringFunc(out, func(span string) string {
			token := domain.NewID()
			ciphertext, err := s.envelope.EncryptField(ctx, mode, tenantID, entityID, span, false)
			if err != nil {
				// Leave the span untouched rather than losing it: a failed
				// encrypt should never erase user data.
				return span
			}
			if perr := s.mappings.Put(ctx, domain.RedactionMapping{
				Token:     token,
				TenantID:  tenantID,
				EntityID:  entityID,
				SessionID: sessionID,
				Ciphertext: ciphertext,
			}); perr != nil {
				return span
			}
			return "{{redact:" + token + "}}"
		})
	}
	return out, nil
}

var placeholderPattern = regexp.MustCompile(`\{\{redact:([a-zA-Z0-9_\-]+)\}\}`)

// Unredact reverses Redact: every "{{redact:<token>}}" placeholder in text
// is looked up and decrypted back to its original span. A token that can't
// be resolved (wrong scope, expired mapping) is left as-is rather than
// failing the whole call.
func (s *Service) Unredact(ctx context.Context, mode crypto.Mode, tenantID, entityID, sessionID, text string) (string, error) {
	if mode == crypto.ModeDisabled {
		return text, nil
	}

	var outerErr error
	out := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		groups := placeholderPattern.FindStringSubmatch(m)
		token := groups[1]
		ciphertext, err := s.mappings.Get(ctx, tenantID, entityID, sessionID, token)
		if err != nil {
			if !perrors.Is(err, perrors.CodeNotFound) {
				outerErr = err
			}
			return m
		}
		plaintext, err := s.envelope.DecryptField(ctx, mode, tenantID, entityID, ciphertext)
		if err != nil {
			outerErr = err
			return m
		}
		return plaintext
	})
	if outerErr != nil {
		return "", outerErr
	}
	return out, nil
}
