package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/shouni/go-estate-crawl/internal/config"
	"github.com/shouni/go-estate-crawl/internal/pipeline"
	"github.com/shouni/go-estate-crawl/pkg/feed"
	"github.com/shouni/go-estate-crawl/pkg/storage"
)

// コマンドラインフラグ変数を定義
var (
	queriesPath string // --queries クエリファイル (JSON/YAML)
	csvPath     string // --csv 出力先CSV
	dbDSN       string // --db 保存先データベース
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "クエリファイルの全一覧ページを巡回し、重複を除いた物件データセットを出力します",
	Long: `--queries で指定したファイル (JSON または YAML) の各地域について、Apartment・Villa の一覧ページと
フィードから得た一覧ページを順に処理し、listing_url で重複を除いたデータセットを CSV またはデータベースに出力します。
--csv と --db のどちらも指定しない場合は標準出力に CSV を書き出します。`,
	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. クエリファイルとセレクタースキーマ (起動時に一度だけ検証)
		qf, err := config.LoadQueryFile(queriesPath)
		if err != nil {
			return err
		}
		schema, err := qf.CompileSchema()
		if err != nil {
			return fmt.Errorf("セレクタースキーマが不正です: %w", err)
		}

		// 2. 依存性の初期化 (Fetcher -> Builder -> Scraper -> Runner)
		s, err := newScraper(schema)
		if err != nil {
			return err
		}
		f, err := GetGlobalFetcher()
		if err != nil {
			return err
		}
		runner, err := pipeline.NewRunner(s,
			pipeline.WithFeedSource(feed.NewParser(f)),
			pipeline.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("Runnerの初期化エラー: %w", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		// 3. クエリの展開: Apartment、Villa、フィード由来の順
		queries := qf.Queries(Flags.MaxAttempts)
		feedQueries, feedErrs := runner.ExpandFeeds(ctx, qf.FeedQueries(), Flags.MaxAttempts)
		queries = append(queries, feedQueries...)
		if len(queries) == 0 {
			return fmt.Errorf("処理対象の一覧ページURLが一つもありません")
		}

		// 4. メインロジックの実行
		report, runErr := runner.Run(ctx, queries)
		if report == nil {
			return runErr
		}

		// 5. 結果の出力 (中断された場合もそれまでの結果は出力する)
		if err := writeReport(cmd, report); err != nil {
			return err
		}

		printSummary(cmd, report, len(feedErrs))
		return runErr
	},
}

// writeReport は Dataset を --csv / --db で指定された出力先に書き出します。
func writeReport(cmd *cobra.Command, report *pipeline.RunReport) error {
	if csvPath == "" {
		csvPath = env.CSVPath
	}
	if dbDSN == "" {
		dbDSN = env.DBDSN
	}
	if csvPath == "" && dbDSN == "" {
		return storage.WriteCSV(cmd.OutOrStdout(), report.Dataset)
	}

	if csvPath != "" {
		w, err := storage.NewCSVWriter(csvPath)
		if err != nil {
			return err
		}
		if err := w.Write(report.Dataset); err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		logger.Info("CSVを書き出しました", slog.String("path", csvPath), slog.Int("records", len(report.Dataset)))
	}

	if dbDSN != "" {
		ctx, cancel := signalContext()
		defer cancel()

		store, err := storage.OpenSQLStore(ctx, dbDSN)
		if err != nil {
			return err
		}
		defer store.Close()

		inserted, err := store.Save(ctx, report.RunID, report.Dataset)
		if err != nil {
			return err
		}
		total, err := store.Count(ctx)
		if err != nil {
			return err
		}
		logger.Info("データベースに保存しました",
			slog.Int("inserted", inserted),
			slog.Int("skipped", len(report.Dataset)-inserted),
			slog.Int("total", total),
		)
	}
	return nil
}

func printSummary(cmd *cobra.Command, report *pipeline.RunReport, feedFailures int) {
	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, "--- 実行結果 ---")
	fmt.Fprintf(out, "実行ID: %s\n", report.RunID)
	for i, qs := range report.Queries {
		if qs.Err != nil {
			fmt.Fprintf(out, "❌ [%d] %s (%s/%s)\n     エラー: %v\n", i+1, qs.Query.IndexURL, qs.Query.Area, qs.Query.PropertyType, qs.Err)
			continue
		}
		fmt.Fprintf(out, "✅ [%d] %s (%s/%s) タイル %d 件, 追加 %d 件, 失敗 %d 件\n",
			i+1, qs.Query.IndexURL, qs.Query.Area, qs.Query.PropertyType, qs.Tiles, qs.Added, qs.Failures)
	}
	fmt.Fprintln(out, "----------------")
	fmt.Fprintf(out, "完了: レコード %d 件, 失敗 %d 件, フィード失敗 %d 件 (所要時間: %s)\n",
		len(report.Dataset), len(report.Failures), feedFailures, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
}

func init() {
	scrapeCmd.Flags().StringVarP(&queriesPath, "queries", "q", "url_queries.json", "クエリファイル (JSON または YAML)")
	scrapeCmd.Flags().StringVar(&csvPath, "csv", "", "出力先CSVファイル (既定: $ESTATE_CSV_PATH)")
	scrapeCmd.Flags().StringVar(&dbDSN, "db", "", "保存先データベース (SQLiteのパス または postgres:// DSN、既定: $ESTATE_DB_DSN)")
}
