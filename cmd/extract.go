package cmd

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/shouni/go-estate-crawl/internal/pipeline"
	"github.com/shouni/go-estate-crawl/pkg/extract"
	"github.com/shouni/go-estate-crawl/pkg/listing"
	"github.com/shouni/go-estate-crawl/pkg/storage"
)

var (
	indexURL     string
	area         string
	propertyType string
)

// ensureScheme は、URLのスキームが存在しない場合に https:// を補完します。
// 既にスキームが存在する場合は、それが http または https であるかをチェックします。
func ensureScheme(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("URLのパースエラー: %w", err)
	}

	if parsedURL.Scheme != "" {
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return "", fmt.Errorf("無効なURLスキームです。httpまたはhttpsを指定してください: %s", rawURL)
		}
		return rawURL, nil
	}

	// スキームなしで入力された場合、HTTPSを優先します。HTTPを意図する場合は明示的に http:// を付与する必要があります。
	return "https://" + rawURL, nil
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "一覧ページ1件を処理し、物件レコードをCSVで標準出力に書き出します",
	Long:  `指定された一覧ページのタイルごとに詳細ページを取得してレコードを構築し、area と property_type を付与したCSVを標準出力に書き出します。`,
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. URLのスキーム補完とバリデーション
		processedURL, err := ensureScheme(indexURL)
		if err != nil {
			return fmt.Errorf("URLスキームの処理エラー: %w", err)
		}
		if propertyType != listing.PropertyTypeApartment && propertyType != listing.PropertyTypeVilla {
			return fmt.Errorf("--type は %s または %s を指定してください: %s", listing.PropertyTypeApartment, listing.PropertyTypeVilla, propertyType)
		}

		// 2. 依存性の初期化 (既定のスキーマを使用)
		s, err := newScraper(extract.DefaultSchema().MustCompile())
		if err != nil {
			return err
		}
		runner, err := pipeline.NewRunner(s, pipeline.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("Runnerの初期化エラー: %w", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		// 3. メインロジックの実行
		q := listing.Query{IndexURL: processedURL, MaxFetchAttempts: Flags.MaxAttempts, Area: area, PropertyType: propertyType}
		logger.Info("処理対象URL", slog.String("url", processedURL))
		report, err := runner.Run(ctx, []listing.Query{q})
		if err != nil {
			return err
		}
		if qs := report.Queries[0]; qs.Err != nil {
			return fmt.Errorf("一覧ページの処理エラー: %w", qs.Err)
		}

		// 4. 結果の出力
		return storage.WriteCSV(cmd.OutOrStdout(), report.Dataset)
	},
}

func init() {
	extractCmd.Flags().StringVarP(&indexURL, "url", "u", "", "一覧ページのURL")
	extractCmd.Flags().StringVarP(&area, "area", "a", "", "レコードに付与する地域名")
	extractCmd.Flags().StringVarP(&propertyType, "type", "t", listing.PropertyTypeApartment, "物件種別 (Apartment または Villa)")
	extractCmd.MarkFlagRequired("url")
	extractCmd.MarkFlagRequired("area")
}
