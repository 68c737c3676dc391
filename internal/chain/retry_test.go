package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, Logger: zap.New(core)}

	calls := 0
	err := Retry(context.Background(), policy, "head", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	retries := logs.FilterMessage("retrying").All()
	require.Len(t, retries, 2)
	assert.Equal(t, "head", retries[0].ContextMap()["op"])
	assert.Equal(t, int64(2), retries[1].ContextMap()["attempt"])
}

func TestRetryGivesUp(t *testing.T) {
	want := errors.New("down")
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, "call", func(context.Context) error {
		calls++
		return want
	})
	require.ErrorIs(t, err, want)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	bad := errors.New("malformed response")
	policy := RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Hour,
		Permanent:  func(err error) bool { return errors.Is(err, bad) },
	}

	calls := 0
	err := Retry(context.Background(), policy, "decode", func(context.Context) error {
		calls++
		return bad
	})
	require.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
}

func TestRetryNegativeRetriesMeansOneAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxRetries: -1}, "call", func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}, "call", func(context.Context) error {
		return errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
}
