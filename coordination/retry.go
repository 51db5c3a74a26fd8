package coordination

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/tabrev-incubator/tabrev/taberr"
	"go.uber.org/zap"
)

// RetryConfig bounds how hard callers lean on a flaky coordination store
// before giving up with taberr.ErrCoordinationUnavailable.
type RetryConfig struct {
	// Budget is the number of retries after the first attempt.
	Budget int
	// Backoff is the delay before the first retry; it doubles on each
	// subsequent retry, capped at MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetry matches the defaults in the config package.
var DefaultRetry = RetryConfig{Budget: 5, Backoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second}

// retryable reports whether an error is worth retrying: connectivity-shaped
// failures are, node precondition failures and caller cancellation are not.
func retryable(err error) bool {
	switch errors.Cause(err) {
	case nil, ErrNodeExists, ErrNodeNotFound, ErrVersionConflict, context.Canceled:
		return false
	}
	return true
}

// WithRetry runs op, retrying transient failures with exponential backoff.
// Once the budget is spent the last error is wrapped in
// taberr.ErrCoordinationUnavailable so callers can classify it without
// knowing the backend. Timeouts count as transient: a request that timed out
// may still have been applied, so op must be idempotent or conditional.
func WithRetry(ctx context.Context, rc RetryConfig, op func() error) error {
	backoff := rc.Backoff
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if !retryable(err) {
			return err
		}
		if attempt >= rc.Budget {
			break
		}
		log.Warn("retrying coordination store operation",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			retryExhaustedCounter.Inc()
			return errors.Annotate(taberr.ErrCoordinationUnavailable, ctx.Err().Error())
		}
		if backoff *= 2; rc.MaxBackoff > 0 && backoff > rc.MaxBackoff {
			backoff = rc.MaxBackoff
		}
	}
	retryExhaustedCounter.Inc()
	return errors.Annotate(taberr.ErrCoordinationUnavailable, err.Error())
}
