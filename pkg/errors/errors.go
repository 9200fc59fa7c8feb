// Package errors provides the structured error taxonomy shared across the
// memory core (§7). Each error carries a stable Code and an HTTPStatus hint;
// the hint exists for external collaborators (HTTP/CLI surfaces) to map
// from even though this core never imports net/http handling itself.
package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error kind.
type Code string

const (
	// Storage / infra.
	CodeTransientStore Code = "TRANSIENT_STORE"
	CodeSchemaDrift    Code = "SCHEMA_DRIFT"

	// KMS / encryption (§4.1, §4.2).
	CodeKmsUnavailable   Code = "KMS_UNAVAILABLE"
	CodeKmsAuthError     Code = "KMS_AUTH_ERROR"
	CodeKmsCorrupt       Code = "KMS_CORRUPT"
	CodeDecryptAuthFail  Code = "DECRYPT_AUTH_FAIL"
	CodeModeMismatch     Code = "MODE_MISMATCH"
	CodeEncryptKeyMissing Code = "ENCRYPT_KEY_MISSING"

	// Usage / scheduling.
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"
	CodeScheduleStale Code = "SCHEDULE_STALE"

	// REM.
	CodeRemParseError Code = "REM_PARSE_ERROR"

	// Generic.
	CodeNotFound    Code = "NOT_FOUND"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeConflict    Code = "CONFLICT"
	CodeInternal    Code = "INTERNAL"
)

// httpHints maps each Code to the status an HTTP collaborator would use.
// Kept out of the core's control flow entirely; it's a hint, nothing calls
// net/http here.
var httpHints = map[Code]int{
	CodeTransientStore:    503,
	CodeSchemaDrift:       500,
	CodeKmsUnavailable:    503,
	CodeKmsAuthError:      500,
	CodeKmsCorrupt:        500,
	CodeDecryptAuthFail:   409,
	CodeModeMismatch:      409,
	CodeEncryptKeyMissing: 500,
	CodeQuotaExceeded:     429,
	CodeScheduleStale:     500,
	CodeRemParseError:     400,
	CodeNotFound:          404,
	CodeInvalidInput:      400,
	CodeConflict:          409,
	CodeInternal:          500,
}

// CoreError is the structured error type every core operation returns.
type CoreError struct {
	Code       Code
	Message    string
	Details    map[string]any
	Err        error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// HTTPStatus returns the hint external collaborators should map this error
// to; it is informational only.
func (e *CoreError) HTTPStatus() int {
	if s, ok := httpHints[e.Code]; ok {
		return s
	}
	return 500
}

// WithDetails attaches structured context and returns the receiver.
func (e *CoreError) WithDetails(key string, value any) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a CoreError without an underlying cause.
func New(code Code, message string) *CoreError {
	return &CoreError{Code: code, Message: message}
}

// Wrap creates a CoreError around an underlying cause.
func Wrap(code Code, message string, err error) *CoreError {
	return &CoreError{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code, unwrapping as needed.
func Is(err error, code Code) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Constructors for the kinds named explicitly in §7.

func TransientStore(op string, err error) *CoreError {
	return Wrap(CodeTransientStore, "store operation failed transiently", err).WithDetails("operation", op)
}

func KmsUnavailable(err error) *CoreError {
	return Wrap(CodeKmsUnavailable, "kms backend unavailable", err)
}

func KmsAuthError(err error) *CoreError {
	return Wrap(CodeKmsAuthError, "kms authentication failed", err)
}

func KmsCorrupt(err error) *CoreError {
	return Wrap(CodeKmsCorrupt, "kms returned malformed ciphertext", err)
}

func DecryptAuthFail(rowID string, err error) *CoreError {
	return Wrap(CodeDecryptAuthFail, "decryption authentication failed", err).WithDetails("row_id", rowID)
}

func ModeMismatch(tenantID string) *CoreError {
	return New(CodeModeMismatch, "row encrypted under a mode the caller cannot read").WithDetails("tenant_id", tenantID)
}

func EncryptKeyMissing(tenantID string) *CoreError {
	return New(CodeEncryptKeyMissing, "no encryption key configured for tenant").WithDetails("tenant_id", tenantID)
}

func QuotaExceeded(resource string) *CoreError {
	return New(CodeQuotaExceeded, "usage quota exceeded").WithDetails("resource", resource)
}

func ScheduleStale(taskID string) *CoreError {
	return New(CodeScheduleStale, "task reclaimed from a stale claim").WithDetails("task_id", taskID)
}

func SchemaDriftError(table, suggestion string) *CoreError {
	return New(CodeSchemaDrift, "schema drift detected").
		WithDetails("table", table).
		WithDetails("suggested_migration", suggestion)
}

func RemParseError(position int, reason string) *CoreError {
	return New(CodeRemParseError, reason).WithDetails("position", position)
}

func NotFound(resource, id string) *CoreError {
	return New(CodeNotFound, "resource not found").WithDetails("resource", resource).WithDetails("id", id)
}

func InvalidInput(field, reason string) *CoreError {
	return New(CodeInvalidInput, reason).WithDetails("field", field)
}

func Internal(message string, err error) *CoreError {
	return Wrap(CodeInternal, message, err)
}
