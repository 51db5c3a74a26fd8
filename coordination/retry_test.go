package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabrev-incubator/tabrev/taberr"
)

var fastRetry = RetryConfig{Budget: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestWithRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry, func() error {
		calls++
		return errors.New("connection refused")
	})
	assert.True(t, taberr.IsCoordinationUnavailable(err))
	assert.Equal(t, 4, calls) // first attempt plus the budget
}

func TestWithRetryDoesNotRetryNodeErrors(t *testing.T) {
	for _, sentinel := range []error{ErrNodeExists, ErrNodeNotFound, ErrVersionConflict} {
		calls := 0
		err := WithRetry(context.Background(), fastRetry, func() error {
			calls++
			return errors.Annotate(sentinel, "wrapped")
		})
		assert.Equal(t, sentinel, errors.Cause(err))
		assert.Equal(t, 1, calls)
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, RetryConfig{Budget: 100, Backoff: time.Hour}, func() error {
		return errors.New("connection refused")
	})
	assert.True(t, taberr.IsCoordinationUnavailable(err))
}
