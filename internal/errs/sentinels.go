// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrValidation indicates malformed input, e.g. a tag containing the delimiter.
	ErrValidation = errors.New("validation failed")

	// ErrEncrypt indicates key generation or cipher failure on the write path.
	ErrEncrypt = errors.New("encryption failed")

	// ErrDecrypt indicates tamper or wrong key. Always fail-closed.
	ErrDecrypt = errors.New("decryption failed")

	// ErrPermission indicates key material absent or undecryptable for the caller.
	ErrPermission = errors.New("permission denied")

	// ErrNotFound indicates the requested document, branch, or recipient does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNetwork indicates a store round-trip failure.
	ErrNetwork = errors.New("network error")

	// ErrAuthRequired indicates no authenticated identity.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNotReady indicates the identity's key material is not yet available.
	// Transient after sign-in; absorbed by the retry executor.
	ErrNotReady = errors.New("key material not ready")
)
