package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	clibase "github.com/shouni/go-cli-base"
	"github.com/spf13/cobra"

	"github.com/shouni/go-estate-crawl/internal/config"
	"github.com/shouni/go-estate-crawl/internal/logging"
	"github.com/shouni/go-estate-crawl/pkg/extract"
	"github.com/shouni/go-estate-crawl/pkg/fetcher"
	"github.com/shouni/go-estate-crawl/pkg/listing"
	"github.com/shouni/go-estate-crawl/pkg/scraper"
)

// --- グローバル定数 ---

const (
	appName = "estate-crawl"

	// 単発リクエスト (feed) の全体タイムアウト: クライアントタイムアウトの2倍
	overallTimeoutFactor = 2
)

// --- グローバル変数とフラグ構造体 ---

// AppFlags はこのアプリケーション固有の永続フラグを保持
type AppFlags struct {
	TimeoutSec  int  // --timeout HTTPリクエスト1回のタイムアウト
	MaxAttempts int  // --max-attempts URLごとの最大試行回数
	Concurrency int  // --concurrency 詳細ページ取得の最大並列数
	RateMs      int  // --rate-ms 詳細ページ取得の開始間隔
	LogJSON     bool // --log-json
}

var (
	Flags         AppFlags        // アプリケーション固有フラグにアクセスするためのグローバル変数
	env           *config.Env     // 環境変数 (.env) から読み込んだ既定値
	globalFetcher fetcher.Fetcher // PersistentPreRunE で初期化される共有フェッチャー
	logger        *slog.Logger
)

// --- 初期化とロジック (clibaseへのコールバックとして利用) ---

// addAppPersistentFlags は、アプリケーション固有の永続フラグをルートコマンドに追加します。
// 既定値は環境変数 (ESTATE_*) で上書きできます。
func addAppPersistentFlags(rootCmd *cobra.Command) {
	env = config.LoadEnv()

	rootCmd.PersistentFlags().IntVar(&Flags.TimeoutSec, "timeout", env.TimeoutSec, "HTTPリクエストのタイムアウト時間（秒）")
	rootCmd.PersistentFlags().IntVar(&Flags.MaxAttempts, "max-attempts", env.MaxAttempts, "URLごとのHTTPリクエスト最大試行回数")
	rootCmd.PersistentFlags().IntVar(&Flags.Concurrency, "concurrency", env.Concurrency, "詳細ページ取得の最大並列数")
	rootCmd.PersistentFlags().IntVar(&Flags.RateMs, "rate-ms", env.RateMs, "詳細ページ取得の開始間隔（ミリ秒、0で無効）")
	rootCmd.PersistentFlags().BoolVar(&Flags.LogJSON, "log-json", env.LogJSON, "ログをJSON形式で出力")
}

// initAppPreRunE は、clibase共通処理の後に実行される、アプリケーション固有のPersistentPreRunEです。
// NOTE: clibaseの PersistentPreRunE チェーンにより、clibase.Flags.Verbose はこの関数実行前に設定済み
func initAppPreRunE(cmd *cobra.Command, args []string) error {
	logger = logging.Setup(logging.Config{Verbose: clibase.Flags.Verbose, JSON: Flags.LogJSON})

	if Flags.MaxAttempts < 1 {
		return fmt.Errorf("--max-attempts は1以上である必要があります (指定値: %d)", Flags.MaxAttempts)
	}

	timeout := time.Duration(Flags.TimeoutSec) * time.Second
	logger.Debug("HTTPクライアントを設定しました",
		slog.Duration("timeout", timeout),
		slog.Int("max_attempts", Flags.MaxAttempts),
		slog.Int("concurrency", Flags.Concurrency),
		slog.Int("rate_ms", Flags.RateMs),
	)

	// 共有フェッチャーの初期化
	globalFetcher = fetcher.New(timeout)
	return nil
}

// GetGlobalFetcher は、初期化されたフェッチャーを返す関数 (DIの代わり)
func GetGlobalFetcher() (fetcher.Fetcher, error) {
	if globalFetcher == nil {
		return nil, fmt.Errorf("HTTPクライアントが初期化されていません")
	}
	return globalFetcher, nil
}

// newScraper は共有フェッチャーとコンパイル済みスキーマから ParallelScraper を構築します。
func newScraper(schema *extract.CompiledSchema) (*scraper.ParallelScraper, error) {
	f, err := GetGlobalFetcher()
	if err != nil {
		return nil, err
	}
	builder, err := listing.NewBuilder(f, schema, listing.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("RecordBuilderの初期化エラー: %w", err)
	}
	return scraper.NewParallelScraper(builder, Flags.Concurrency,
		scraper.WithRateLimit(time.Duration(Flags.RateMs)*time.Millisecond),
		scraper.WithLogger(logger),
	), nil
}

// signalContext は SIGINT/SIGTERM で終了するコンテキストを返します。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// --- エントリポイント ---

// Execute は、ルートコマンドを実行するメイン関数です。clibaseのExecuteを使用する。
func Execute() {
	clibase.Execute(
		appName,
		addAppPersistentFlags,
		initAppPreRunE,
		scrapeCmd,
		extractCmd,
		feedCmd,
		serveCmd,
	)
	// clibase.Execute() の中で os.Exit(1) が処理されるため、ここでは不要
}
