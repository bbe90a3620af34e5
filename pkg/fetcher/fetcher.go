package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"

	"github.com/shouni/go-estate-crawl/pkg/retry"
)

// DefaultHTTPTimeout はHTTPリクエスト1回あたりの既定のタイムアウトです。
const DefaultHTTPTimeout = 30 * time.Second

// ErrFetchExhausted は、URL の取得がすべての試行で失敗したことを示します。
var ErrFetchExhausted = errors.New("fetch exhausted")

// Page は取得した生のマークアップと取得元URLです。
type Page struct {
	URL  string
	Body []byte
}

// Fetcher は、ページ取得機能のインターフェースを定義します。
// RecordBuilder とパイプラインはこの抽象に依存します。
type Fetcher interface {
	Fetch(ctx context.Context, url string, maxAttempts int) (*Page, error)
}

// FetchExhaustedError は、全試行が失敗した際に URL と試行回数を保持するエラーです。
type FetchExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("ページ取得に失敗しました (URL: %s, 試行回数: %d): %v", e.URL, e.Attempts, e.Last)
}

func (e *FetchExhaustedError) Unwrap() []error {
	return []error{ErrFetchExhausted, e.Last}
}

// Client は httpkit.Client による1回ずつの GET と、指数バックオフを用いた試行制御を管理します。
// 試行回数は Fetch の呼び出しごとに retry.Do が数え、httpkit 側の再試行は無効にしています。
type Client struct {
	kit    *httpkit.Client
	doer   httpkit.Doer
	policy retry.Policy
}

// ClientOption はClientの設定を行うための関数型です。
type ClientOption func(*Client)

// WithHTTPClient はカスタムのDoerを設定します。
func WithHTTPClient(doer httpkit.Doer) ClientOption {
	return func(c *Client) {
		c.doer = doer
	}
}

// WithPolicy は試行間隔のポリシーを設定します。
func WithPolicy(p retry.Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// New は、新しいClientを生成します。
func New(timeout time.Duration, options ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	c := &Client{policy: retry.DefaultPolicy()}
	for _, opt := range options {
		opt(c)
	}

	// 1回の FetchBytes は GET 1回だけ
	kitOpts := []httpkit.ClientOption{httpkit.WithMaxRetries(0)}
	if c.doer != nil {
		kitOpts = append(kitOpts, httpkit.WithHTTPClient(c.doer))
	}
	c.kit = httpkit.New(timeout, kitOpts...)
	return c
}

// Fetch は URL に対して最大 maxAttempts 回 GET を行い、最初に成功したレスポンスのボディを返します。
// すべて失敗した場合は *FetchExhaustedError を返します。
func (c *Client) Fetch(ctx context.Context, url string, maxAttempts int) (*Page, error) {
	if url == "" {
		return nil, fmt.Errorf("URLが空です")
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("試行回数は1以上である必要があります (URL: %s, 指定値: %d)", url, maxAttempts)
	}

	var body []byte
	op := func() error {
		var fetchErr error
		body, fetchErr = c.kit.FetchBytes(ctx, url)
		return fetchErr
	}

	err := retry.Do(ctx, c.policy, maxAttempts, fmt.Sprintf("URL(%s)のフェッチ", url), op, retryableIn(ctx))
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, &FetchExhaustedError{
				URL:      url,
				Attempts: exhausted.Attempts,
				Last:     exhausted.Last,
			}
		}
		return nil, err
	}

	return &Page{URL: url, Body: body}, nil
}

// retryableIn は、呼び出し元のコンテキストが生きている限りすべての失敗を再試行対象とする判定関数を返します。
// httpkit が非リトライ対象とする 4xx もここでは再試行します。トランスポート自身のタイムアウトも同様です。
func retryableIn(ctx context.Context) retry.ShouldRetryFunc {
	return func(err error) bool {
		return err != nil && ctx.Err() == nil
	}
}
