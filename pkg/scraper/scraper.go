package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shouni/go-estate-crawl/pkg/extract"
	"github.com/shouni/go-estate-crawl/pkg/listing"
)

const (
	// DefaultMaxConcurrency は、詳細ページ取得のデフォルトの最大同時実行数を定義します。
	DefaultMaxConcurrency = 4
	// DefaultScrapeRateLimit は、詳細ページ取得を開始する最小間隔です。
	DefaultScrapeRateLimit = 500 * time.Millisecond
)

// 失敗した処理段階
const (
	StageIndex  = "index"
	StageTile   = "tile"
	StageDetail = "detail"
)

// StageError は、失敗したURLと処理段階を特定できるエラーです。
type StageError struct {
	Stage string
	URL   string
	Tile  int // タイルの位置 (index 段階では -1)
	Err   error
}

func (e *StageError) Error() string {
	if e.Tile >= 0 {
		return fmt.Sprintf("%s段階で失敗しました (URL: %s, タイル #%d): %v", e.Stage, e.URL, e.Tile+1, e.Err)
	}
	return fmt.Sprintf("%s段階で失敗しました (URL: %s): %v", e.Stage, e.URL, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IndexResult は一覧ページ1件分の結果です。
type IndexResult struct {
	Query    listing.Query
	Tiles    int
	Records  []*listing.Record // タイル順
	Failures []*StageError
}

// Scraper は一覧ページ単位のスクレイピング機能を提供するインターフェースです。
type Scraper interface {
	ScrapeIndex(ctx context.Context, q listing.Query) (*IndexResult, error)
}

// ParallelScraper は詳細ページの取得を並列化して Scraper インターフェースを実装します。
type ParallelScraper struct {
	builder        *listing.Builder
	maxConcurrency int           // 最大並列数を保持するフィールド
	rateLimit      time.Duration // 詳細取得の開始間隔
	logger         *slog.Logger
}

// Option は ParallelScraper の設定を行うための関数型です。
type Option func(*ParallelScraper)

// WithRateLimit は詳細取得の開始間隔を設定します。0 以下で無効です。
func WithRateLimit(d time.Duration) Option {
	return func(s *ParallelScraper) {
		s.rateLimit = d
	}
}

// WithLogger はロガーを設定します。
func WithLogger(logger *slog.Logger) Option {
	return func(s *ParallelScraper) {
		s.logger = logger
	}
}

// NewParallelScraper は ParallelScraper を初期化します。
// maxConcurrency が 1 の場合、タイルは逐次処理されます。
func NewParallelScraper(builder *listing.Builder, maxConcurrency int, options ...Option) *ParallelScraper {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	s := &ParallelScraper{
		builder:        builder,
		maxConcurrency: maxConcurrency,
		rateLimit:      DefaultScrapeRateLimit,
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// ScrapeIndex は一覧ページを取得してタイルに分割し、各タイルから Record を構築します。
// 一覧ページ自体の取得・解析に失敗した場合のみエラーを返します。
// タイル単位の失敗は IndexResult.Failures に記録され、他のタイルの処理は継続します。
func (s *ParallelScraper) ScrapeIndex(ctx context.Context, q listing.Query) (*IndexResult, error) {
	log := s.logger.With(slog.String("url", q.IndexURL), slog.String("area", q.Area), slog.String("property_type", q.PropertyType))

	b, err := s.builder.ForOrigin(q.IndexURL)
	if err != nil {
		return nil, &StageError{Stage: StageIndex, URL: q.IndexURL, Tile: -1, Err: err}
	}

	page, err := b.FetchPage(ctx, q.IndexURL, q.MaxFetchAttempts)
	if err != nil {
		return nil, &StageError{Stage: StageIndex, URL: q.IndexURL, Tile: -1, Err: err}
	}
	doc, err := extract.ParseDocument(page.URL, page.Body)
	if err != nil {
		return nil, &StageError{Stage: StageIndex, URL: q.IndexURL, Tile: -1, Err: err}
	}

	tiles := extract.ExtractTiles(doc.Selection, b.Schema().Tile)
	log.Info("一覧ページを取得しました", slog.Int("tiles", len(tiles)))

	type tileResult struct {
		record *listing.Record
		err    error
	}
	results := make([]tileResult, len(tiles))

	var wg sync.WaitGroup
	// バッファ付きチャネルをセマフォとして使用し、同時実行数を制限する
	semaphore := make(chan struct{}, s.maxConcurrency)

	var rateLimiter <-chan time.Time
	if s.rateLimit > 0 && len(tiles) > 1 {
		ticker := time.NewTicker(s.rateLimit)
		defer ticker.Stop()
		rateLimiter = ticker.C
	}

	for i := range tiles {
		if i > 0 && rateLimiter != nil {
			select {
			case <-rateLimiter:
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			results[i] = tileResult{err: ctx.Err()}
			continue
		}

		wg.Add(1)
		// リソース（スロット）の確保。maxConcurrency件実行中の場合はここでブロックして待機。
		semaphore <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			rec, buildErr := b.BuildRecord(ctx, tiles[idx], q.MaxFetchAttempts)
			// 結果はタイル位置に格納するため、完了順に関係なく順序が保たれる
			results[idx] = tileResult{record: rec, err: buildErr}
		}(i)
	}
	wg.Wait()

	out := &IndexResult{Query: q, Tiles: len(tiles)}
	for i, r := range results {
		if r.err == nil {
			out.Records = append(out.Records, r.record)
			continue
		}
		stage, failedURL := StageTile, q.IndexURL
		var detailErr *listing.DetailError
		if errors.As(r.err, &detailErr) {
			stage, failedURL = StageDetail, detailErr.URL
		}
		se := &StageError{Stage: stage, URL: failedURL, Tile: i, Err: r.err}
		out.Failures = append(out.Failures, se)
		log.Warn("タイルの処理に失敗しました", slog.Int("tile", i+1), slog.String("stage", stage), slog.Any("error", r.err))
	}

	log.Info("一覧ページの処理が完了しました", slog.Int("records", len(out.Records)), slog.Int("failures", len(out.Failures)))
	return out, nil
}
