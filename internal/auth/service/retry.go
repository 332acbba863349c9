package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/store"
)

const storeRetryBackoff = 50 * time.Millisecond

// retryTransient runs fn and, when it fails with something other than a
// known store outcome or a dead context, retries it once after a short
// backoff. A second transient failure surfaces as ErrStoreUnavailable.
// Rotation never goes through here; it is not safe to replay verbatim.
func retryTransient(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !transientStoreErr(err) {
		return err
	}

	select {
	case <-ctx.Done():
		return err
	case <-time.After(storeRetryBackoff):
	}

	if err := fn(); err != nil {
		if transientStoreErr(err) {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return err
	}
	return nil
}

func transientStoreErr(err error) bool {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
