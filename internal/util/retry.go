package util

import (
	"context"
	"errors"
	"time"

	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// Retryable reports whether err is a transient storage fault. Authentication
// failures, unsupported services and invalid data are terminal.
func Retryable(err error) bool {
	return errors.Is(err, vaulterr.ErrStorageUnavailable) &&
		!errors.Is(err, vaulterr.ErrAuthenticationFailure)
}

// Retry executes fn with retries and linear backoff while its error is
// Retryable.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !Retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff * time.Duration(i+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
