package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// 試行関連の定数
	DefaultMaxAttempts = 10 // 最大試行回数 (初回を含む)

	// バックオフのカスタム設定
	InitialBackoffInterval     = 500 * time.Millisecond
	MaxBackoffInterval         = 5 * time.Second
	DefaultMultiplier          = 2.0
	DefaultRandomizationFactor = 0.5
)

// ErrExhausted は、すべての試行が失敗したことを示すセンチネルエラーです。
var ErrExhausted = errors.New("retry: 試行回数の上限に到達しました")

// Operation はリトライ可能な処理を表す関数です。成功時は nil を返します。
type Operation func() error

// ShouldRetryFunc はエラーを受け取り、そのエラーがリトライ可能かどうかを判定する関数です。
type ShouldRetryFunc func(error) bool

// Policy は試行間隔の決め方を表すポリシーオブジェクトです。
// 試行回数そのものは呼び出しごとに Do へ渡します。
type Policy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64 // ジッター (0 で無効)
}

// DefaultPolicy は推奨されるデフォルト設定を返します。
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:     InitialBackoffInterval,
		MaxInterval:         MaxBackoffInterval,
		Multiplier:          DefaultMultiplier,
		RandomizationFactor: DefaultRandomizationFactor,
	}
}

// NoDelay は試行間に待機しないポリシーを返します。
func NoDelay() Policy {
	return Policy{Multiplier: 1}
}

// ExhaustedError は試行回数を使い切った場合のエラーです。
type ExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%sに失敗しました: 最大試行回数 (%d回) に到達。最終エラー: %v", e.Operation, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// newBackOffPolicy は Policy と試行回数から backoff.BackOff を組み立てます。
func newBackOffPolicy(ctx context.Context, p Policy, maxAttempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	// 試行回数だけで打ち切るため、経過時間による停止は無効化する
	b.MaxElapsedTime = 0
	b.Reset()

	// WithMaxRetries は「初回以降のリトライ回数」を数える
	bo := backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	return backoff.WithContext(bo, ctx)
}

// Do は指数バックオフとジッターを使用して操作を最大 maxAttempts 回実行します。
// 全試行が失敗した場合は *ExhaustedError を返します。
// shouldRetryFn が false を返したエラーと、コンテキストのエラーはそのまま返します。
func Do(ctx context.Context, p Policy, maxAttempts int, operationName string, op Operation, shouldRetryFn ShouldRetryFunc) error {
	if maxAttempts < 1 {
		return fmt.Errorf("%s: 試行回数は1以上である必要があります (指定値: %d)", operationName, maxAttempts)
	}

	var (
		attempts  int
		lastErr   error
		permanent bool
	)

	retryableOp := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if shouldRetryFn != nil && !shouldRetryFn(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(retryableOp, newBackOffPolicy(ctx, p, maxAttempts))
	if err == nil {
		return nil
	}

	if permanent {
		return lastErr
	}

	// コンテキストキャンセル/タイムアウトのエラー処理
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%sに失敗しました: コンテキストタイムアウト/キャンセル (試行 %d回): %w", operationName, attempts, ctxErr)
	}

	return &ExhaustedError{
		Operation: operationName,
		Attempts:  attempts,
		Last:      lastErr,
	}
}
