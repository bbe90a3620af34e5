package feed

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/shouni/go-estate-crawl/pkg/fetcher"
)

// Parser は RSS/Atom フィードを取得して解析します。
type Parser struct {
	client fetcher.Fetcher // インターフェースに依存
}

// NewParser は新しい Parser インスタンスを初期化し、依存関係を注入します。
func NewParser(client fetcher.Fetcher) *Parser {
	return &Parser{client: client}
}

// FetchAndParse は指定されたURLからフィードを最大 maxAttempts 回の試行で取得し、パースします。
func (p *Parser) FetchAndParse(ctx context.Context, feedURL string, maxAttempts int) (*gofeed.Feed, error) {
	page, err := p.client.Fetch(ctx, feedURL, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得失敗 (URL: %s): %w", feedURL, err)
	}

	fp := gofeed.NewParser()
	feed, parseErr := fp.Parse(bytes.NewReader(page.Body))
	if parseErr != nil {
		return nil, fmt.Errorf("RSSフィードのパース失敗 (URL: %s): %w", feedURL, parseErr)
	}
	return feed, nil
}

// IndexURLs はフィードを取得し、アイテムのリンクを一覧ページURLとして返します。
func (p *Parser) IndexURLs(ctx context.Context, feedURL string, maxAttempts int) ([]string, error) {
	feed, err := p.FetchAndParse(ctx, feedURL, maxAttempts)
	if err != nil {
		return nil, err
	}
	return Links(feed, feedURL), nil
}
