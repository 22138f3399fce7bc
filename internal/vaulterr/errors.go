// Package vaulterr holds the error taxonomy shared by every layer of the
// vault engine. Callers match with errors.Is; lower layers wrap with %w.
package vaulterr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidArgument marks malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidData marks input streams that do not conform to the expected format.
	ErrInvalidData = errors.New("invalid data")
	// ErrAuthenticationFailure is returned when ciphertext fails its integrity check:
	// wrong key or tampered/truncated data. It is never retried.
	ErrAuthenticationFailure = errors.New("authentication failure")
	// ErrUnsupportedServiceName is returned when a manifest names an implementation
	// this build does not know.
	ErrUnsupportedServiceName = errors.New("unsupported service name")
	// ErrFailedToLoadVaultInfo marks a missing or corrupt manifest/info object.
	ErrFailedToLoadVaultInfo = errors.New("failed to load vault info")
	// ErrFailedToLoadVaultIndex marks a missing, corrupt or unauthenticated index.
	ErrFailedToLoadVaultIndex = errors.New("failed to load vault index")
	// ErrStorageUnavailable marks transient backend faults. Retrying is up to the caller.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrNotFound marks an absent object.
	ErrNotFound = errors.New("object not found")
)

var (
	ErrUnsupportedCompressionService       = fmt.Errorf("%w: compression service", ErrUnsupportedServiceName)
	ErrUnsupportedCryptoService            = fmt.Errorf("%w: crypto service", ErrUnsupportedServiceName)
	ErrUnsupportedEncryptedStorageProvider = fmt.Errorf("%w: encrypted storage provider", ErrUnsupportedServiceName)
	ErrUnsupportedKeyDerivation            = fmt.Errorf("%w: key derivation", ErrUnsupportedServiceName)
)

// Invalid returns an ErrInvalidArgument with context.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// ObjectError ties a failure to the storage key it happened on.
type ObjectError struct {
	Op  string
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error { return e.Err }

// MultiError aggregates per-key failures of a multi-object operation.
type MultiError struct {
	Op     string
	Failed map[string]error
}

func (e *MultiError) Error() string {
	keys := e.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Failed[k]))
	}
	return fmt.Sprintf("%s failed for %d object(s): %s", e.Op, len(keys), strings.Join(parts, "; "))
}

// Keys returns the failed keys in sorted order.
func (e *MultiError) Keys() []string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *MultiError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, k := range e.Keys() {
		errs = append(errs, e.Failed[k])
	}
	return errs
}
