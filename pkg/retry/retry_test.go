package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	require.Equal(t, InitialBackoffInterval, p.InitialInterval, "InitialInterval should match constant.")
	require.Equal(t, MaxBackoffInterval, p.MaxInterval, "MaxInterval should match constant.")
	require.Equal(t, DefaultMultiplier, p.Multiplier)
	require.Equal(t, DefaultRandomizationFactor, p.RandomizationFactor)
}

func TestNewBackOffPolicy(t *testing.T) {
	bo := newBackOffPolicy(context.Background(), Policy{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Multiplier:      2,
	}, 5)
	require.NotNil(t, bo)
}

func TestDo(t *testing.T) {
	// テスト用の高速な設定
	fast := Policy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2, RandomizationFactor: 0.5}
	retryable := errors.New("retryable error")

	tests := []struct {
		name          string
		maxAttempts   int
		failures      int // 成功までに失敗する回数 (-1 で常に失敗)
		shouldRetry   ShouldRetryFunc
		wantCalls     int
		wantExhausted bool
		wantErr       bool
	}{
		{name: "初回で成功", maxAttempts: 3, failures: 0, wantCalls: 1},
		{name: "上限内で成功", maxAttempts: 3, failures: 2, wantCalls: 3},
		{name: "すべて失敗", maxAttempts: 3, failures: -1, wantCalls: 3, wantExhausted: true, wantErr: true},
		{name: "試行1回で失敗", maxAttempts: 1, failures: -1, wantCalls: 1, wantExhausted: true, wantErr: true},
		{
			name:        "リトライ対象外のエラー",
			maxAttempts: 5,
			failures:    -1,
			shouldRetry: func(err error) bool { return false },
			wantCalls:   1,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			op := func() error {
				calls++
				if tt.failures < 0 || calls <= tt.failures {
					return retryable
				}
				return nil
			}

			err := Do(context.Background(), fast, tt.maxAttempts, "test_operation", op, tt.shouldRetry)

			require.Equal(t, tt.wantCalls, calls)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.ErrorIs(t, err, retryable)
			require.Equal(t, tt.wantExhausted, errors.Is(err, ErrExhausted))

			if tt.wantExhausted {
				var exhausted *ExhaustedError
				require.ErrorAs(t, err, &exhausted)
				require.Equal(t, tt.maxAttempts, exhausted.Attempts)
				require.Equal(t, "test_operation", exhausted.Operation)
			}
		})
	}
}

func TestDo_NoDelay(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Do(context.Background(), NoDelay(), 5, "no_delay", func() error {
		calls++
		return errors.New("fail")
	}, nil)

	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 5, calls)
	require.Less(t, time.Since(start), time.Second)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2}, 10, "canceled", func() error {
		calls++
		cancel()
		return errors.New("some error")
	}, nil)

	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, ErrExhausted))
	require.Equal(t, 1, calls)
}

func TestDo_InvalidAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), NoDelay(), 0, "invalid", func() error {
		calls++
		return nil
	}, nil)

	require.Error(t, err)
	require.Zero(t, calls)
}
