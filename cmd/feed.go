package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/spf13/cobra"

	"github.com/shouni/go-estate-crawl/pkg/feed"
)

// フィードURLを保持するフラグ変数
var feedURL string

// runFeedPipeline は、フィードの取得とパースを実行するメインロジックです。
func runFeedPipeline(url string, parser *feed.Parser, overallTimeout time.Duration) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(context.Background(), overallTimeout)
	defer cancel()

	parsedFeed, err := parser.FetchAndParse(ctx, url, Flags.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得およびパースエラー (URL: %s): %w", url, err)
	}
	return parsedFeed, nil
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "RSS/Atomフィードから一覧ページとして使えるURLを表示します",
	Long:  `指定されたURLからRSSまたはAtomフィードを取得し、クエリファイルの feed_urls で使われるのと同じ規則で一覧ページURLを抽出して表示します。`,
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		// 全体タイムアウト: クライアントタイムアウト × 試行回数 × 2
		overallTimeout := time.Duration(Flags.TimeoutSec*Flags.MaxAttempts*overallTimeoutFactor) * time.Second

		f, err := GetGlobalFetcher()
		if err != nil {
			return err
		}
		parser := feed.NewParser(f)

		parsedFeed, err := runFeedPipeline(feedURL, parser, overallTimeout)
		if err != nil {
			return fmt.Errorf("フィード解析パイプラインの実行エラー: %w", err)
		}

		links := feed.Links(parsedFeed, feedURL)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "--- フィード解析結果 ---\n")
		fmt.Fprintf(out, "フィードタイトル: %s\n", parsedFeed.Title)
		fmt.Fprintf(out, "合計記事数: %d, 一覧ページURL: %d 件\n", len(parsedFeed.Items), len(links))
		fmt.Fprintln(out, "-----------------------")
		for i, link := range links {
			fmt.Fprintf(out, "[%d] %s\n", i+1, link)
		}
		return nil
	},
}

func init() {
	feedCmd.Flags().StringVarP(&feedURL, "url", "u", "", "解析対象のフィード (RSS/Atom) URL")
	feedCmd.MarkFlagRequired("url")
}
