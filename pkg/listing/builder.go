package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shouni/go-estate-crawl/pkg/extract"
	"github.com/shouni/go-estate-crawl/pkg/fetcher"
)

// ErrRequiredFieldMissing は、タイルに必須項目 (タイトル・価格・リンク) がないことを示します。
var ErrRequiredFieldMissing = errors.New("required field missing")

// RequiredFieldError は欠けていた必須項目名を保持します。
type RequiredFieldError struct {
	Field string
}

func (e *RequiredFieldError) Error() string {
	return fmt.Sprintf("必須項目 %s がタイルに見つかりません", e.Field)
}

func (e *RequiredFieldError) Is(target error) bool {
	return target == ErrRequiredFieldMissing
}

// DetailError は詳細ページ段階 (取得・解析) の失敗を表します。
// 元のエラー (fetcher.ErrFetchExhausted など) は errors.Is/As で参照できます。
type DetailError struct {
	URL string
	Err error
}

func (e *DetailError) Error() string {
	return fmt.Sprintf("詳細ページの処理に失敗しました (URL: %s): %v", e.URL, e.Err)
}

func (e *DetailError) Unwrap() error {
	return e.Err
}

// Builder は一覧タイルと詳細ページから Record を組み立てます。
type Builder struct {
	fetcher fetcher.Fetcher
	schema  *extract.CompiledSchema
	base    *url.URL
	logger  *slog.Logger
}

// BuilderOption は Builder の設定を行うための関数型です。
type BuilderOption func(*Builder)

// WithBaseURL は相対リンクを解決する基準URLを固定します。
func WithBaseURL(base *url.URL) BuilderOption {
	return func(b *Builder) {
		b.base = base
	}
}

// WithLogger はロガーを設定します。
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder は新しい Builder を生成します。
func NewBuilder(f fetcher.Fetcher, schema *extract.CompiledSchema, options ...BuilderOption) (*Builder, error) {
	if f == nil {
		return nil, fmt.Errorf("listing.NewBuilder: Fetcher cannot be nil")
	}
	if schema == nil {
		return nil, fmt.Errorf("listing.NewBuilder: schema cannot be nil")
	}
	b := &Builder{
		fetcher: f,
		schema:  schema,
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

// FetchPage は Builder と同じ Fetcher でページを取得します。
func (b *Builder) FetchPage(ctx context.Context, pageURL string, maxAttempts int) (*fetcher.Page, error) {
	return b.fetcher.Fetch(ctx, pageURL, maxAttempts)
}

// Schema はコンパイル済みスキーマを返します。
func (b *Builder) Schema() *extract.CompiledSchema {
	return b.schema
}

// ForOrigin は、基準URLが未設定の場合に pageURL のオリジンを基準とする Builder のコピーを返します。
func (b *Builder) ForOrigin(pageURL string) (*Builder, error) {
	if b.base != nil {
		return b, nil
	}
	origin, err := Origin(pageURL)
	if err != nil {
		return nil, err
	}
	clone := *b
	clone.base = origin
	return &clone, nil
}

// Origin は URL のスキームとホストのみを残した URL を返します。
func Origin(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("URLのパースエラー: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("絶対URLではありません: %s", rawURL)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// BuildRecord は1つのタイルから基本項目を抽出し、詳細ページを取得して拡張属性を加えた Record を返します。
// 詳細ページの取得失敗 (fetcher.ErrFetchExhausted) はそのまま伝播し、レコード全体が失敗します。
func (b *Builder) BuildRecord(ctx context.Context, tile *goquery.Selection, maxAttempts int) (*Record, error) {
	// 1. 必須項目 (タイトル・価格)
	title, ok := extract.FirstText(tile, b.schema.Title)
	if !ok {
		return nil, &RequiredFieldError{Field: ColListingTitle}
	}
	price, ok := extract.FirstText(tile, b.schema.Price)
	if !ok {
		return nil, &RequiredFieldError{Field: ColListingPrice}
	}

	// 2. タイトル要素内のリンクを絶対URLに解決
	listingURL, err := b.resolveLink(tile)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ListingTitle: title,
		ListingPrice: price,
		ListingURL:   listingURL,
	}

	// 3. 基本属性
	rec.fill(basicAttrs, extract.ExtractLabelValues(tile, b.schema.Basic))

	// 4. 詳細ページの取得
	page, err := b.fetcher.Fetch(ctx, listingURL, maxAttempts)
	if err != nil {
		return nil, &DetailError{URL: listingURL, Err: err}
	}

	// 5. 拡張属性
	doc, err := extract.ParseDocument(page.URL, page.Body)
	if err != nil {
		return nil, &DetailError{URL: listingURL, Err: err}
	}
	rec.fill(extendedAttrs, extract.ExtractLabelValues(doc.Selection, b.schema.Detail))

	b.logger.Debug("レコードを構築しました", slog.String("url", listingURL), slog.String("title", title))
	return rec, nil
}

// resolveLink はタイトル要素内のリンクを基準URLで解決します。
func (b *Builder) resolveLink(tile *goquery.Selection) (string, error) {
	href, ok := tile.FindMatcher(b.schema.Title).First().FindMatcher(b.schema.Link).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return "", &RequiredFieldError{Field: ColListingURL}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("リンクのパースエラー (%q): %w", href, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if b.base == nil {
		return "", fmt.Errorf("相対リンク %q を解決する基準URLがありません", href)
	}
	return b.base.ResolveReference(ref).String(), nil
}
