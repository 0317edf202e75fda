package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  maxAttempts,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0,
	}
}

func TestRetryWithResult_SucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(2), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResult_RetriesTransient(t *testing.T) {
	calls := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(2), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(fmt.Errorf("boom"), "")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestRetryWithResult_StopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastRetryConfig(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewPermanentError(fmt.Errorf("bad request"), "")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResult_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastRetryConfig(1), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransientError(fmt.Errorf("boom"), "")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryWithResult_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := RetryWithResult(ctx, fastRetryConfig(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient marker", NewTransientError(errors.New("x"), ""), true},
		{"permanent marker", NewPermanentError(errors.New("x"), ""), false},
		{"http 503", NewHTTPStatusError(503, "Service Unavailable", ""), true},
		{"http 429", NewHTTPStatusError(429, "Too Many Requests", ""), true},
		{"http 400", NewHTTPStatusError(400, "Bad Request", ""), false},
		{"http 404", NewHTTPStatusError(404, "Not Found", ""), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"plain error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
