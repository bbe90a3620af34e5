package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shouni/go-estate-crawl/internal/config"
	"github.com/shouni/go-estate-crawl/pkg/dataset"
	"github.com/shouni/go-estate-crawl/pkg/listing"
	"github.com/shouni/go-estate-crawl/pkg/scraper"
)

// FeedSource はフィードから一覧ページURLを得るインターフェースです (feed.Parser が満たします)。
type FeedSource interface {
	IndexURLs(ctx context.Context, feedURL string, maxAttempts int) ([]string, error)
}

// QueryStats は Query 1件分の集計です。
type QueryStats struct {
	Query    listing.Query
	Tiles    int
	Records  int // 構築に成功したレコード数
	Added    int // 重複除外後に Dataset へ追加された件数
	Failures int
	Err      error // 一覧ページ段階の失敗 (nil なら成功)
}

// RunReport は1回の実行結果です。
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Queries    []QueryStats
	Failures   []error // クエリ・タイル単位の失敗 (*scraper.StageError など)
	Dataset    dataset.Dataset
}

// Runner は Query を順に処理し、結果を1つの Dataset に集約します。
type Runner struct {
	scraper scraper.Scraper
	feeds   FeedSource
	now     func() time.Time
	logger  *slog.Logger
}

// Option は Runner の設定を行うための関数型です。
type Option func(*Runner)

// WithFeedSource はフィード展開に使う FeedSource を設定します。
func WithFeedSource(fs FeedSource) Option {
	return func(r *Runner) {
		r.feeds = fs
	}
}

// WithClock は取得時刻の生成元を差し替えます。
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithLogger はロガーを設定します。
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner は新しい Runner を生成します。
func NewRunner(s scraper.Scraper, options ...Option) (*Runner, error) {
	if s == nil {
		return nil, fmt.Errorf("pipeline.NewRunner: Scraper cannot be nil")
	}
	r := &Runner{
		scraper: s,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// ExpandFeeds はフィードに含まれる一覧ページURLを Query に展開します。
// 取得に失敗したフィードはスキップされ、エラーとして返されます。
func (r *Runner) ExpandFeeds(ctx context.Context, fqs []config.FeedQuery, maxAttempts int) ([]listing.Query, []error) {
	if len(fqs) == 0 {
		return nil, nil
	}
	if r.feeds == nil {
		return nil, []error{fmt.Errorf("フィードが指定されていますが FeedSource が設定されていません")}
	}

	var qs []listing.Query
	var errs []error
	for _, fq := range fqs {
		urls, err := r.feeds.IndexURLs(ctx, fq.FeedURL, maxAttempts)
		if err != nil {
			r.logger.Warn("フィードの展開に失敗しました", slog.String("feed", fq.FeedURL), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		for _, u := range urls {
			qs = append(qs, listing.Query{IndexURL: u, MaxFetchAttempts: maxAttempts, Area: fq.Area, PropertyType: fq.PropertyType})
		}
		r.logger.Info("フィードを展開しました", slog.String("feed", fq.FeedURL), slog.Int("urls", len(urls)))
	}
	return qs, errs
}

// Run は queries を順に処理します。
// 一覧ページの失敗はそのクエリの結果だけを欠落させ、他のクエリの処理は継続します。
// 取得時刻はクエリごとに1回決定され、そのバッチの全レコードに付与されます。
// コンテキストが終了した場合は、それまでの結果を含む RunReport とエラーを返します。
func (r *Runner) Run(ctx context.Context, queries []listing.Query) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
	}
	log := r.logger.With(slog.String("run_id", report.RunID))
	log.Info("実行を開始します", slog.Int("queries", len(queries)))

	b := dataset.NewBuilder()
	var runErr error
	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("実行が中断されました (%d/%d 件処理済み): %w", i, len(queries), err)
			break
		}

		stats := QueryStats{Query: q}
		res, err := r.scraper.ScrapeIndex(ctx, q)
		if err != nil {
			stats.Err = err
			report.Failures = append(report.Failures, err)
			report.Queries = append(report.Queries, stats)
			log.Error("クエリの処理に失敗しました", slog.String("url", q.IndexURL), slog.Any("error", err))
			continue
		}

		stats.Tiles = res.Tiles
		stats.Records = len(res.Records)
		stats.Failures = len(res.Failures)
		stats.Added = b.Add(res.Records, q.Area, q.PropertyType, r.now())
		for _, f := range res.Failures {
			report.Failures = append(report.Failures, f)
		}
		report.Queries = append(report.Queries, stats)

		log.Info("クエリを処理しました",
			slog.String("url", q.IndexURL),
			slog.String("area", q.Area),
			slog.String("property_type", q.PropertyType),
			slog.Int("added", stats.Added),
			slog.Int("total", b.Len()),
		)
	}

	report.Dataset = b.Dataset()
	report.FinishedAt = r.now()
	log.Info("実行が完了しました", slog.Int("records", len(report.Dataset)), slog.Int("failures", len(report.Failures)))
	return report, runErr
}
