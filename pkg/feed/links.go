package feed

import (
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/shouni/go-estate-crawl/pkg/extract"
)

// Links はフィードのアイテムから一覧ページとして使えるリンクを文書順に取り出します。
// 相対リンクはフィード自身のURL (feedURL) を基準に解決し、http(s) 以外のリンクと重複は除外します。
func Links(feed *gofeed.Feed, feedURL string) []string {
	if feed == nil || len(feed.Items) == 0 {
		return []string{}
	}

	base, _ := url.Parse(feedURL)
	seen := make(map[string]struct{}, len(feed.Items))
	links := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link, ok := resolve(base, itemLink(item))
		if !ok {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}
	return links
}

// itemLink は Link が空の場合に Links の先頭を使います (Atom の <link href> 対策)。
// どちらもなければ本文 (Content、Description の順) 内の最初の <a href> を使います。
func itemLink(item *gofeed.Item) string {
	if l := strings.TrimSpace(item.Link); l != "" {
		return l
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	for _, markup := range []string{item.Content, item.Description} {
		if href := firstAnchor(markup); href != "" {
			return href
		}
	}
	return ""
}

// firstAnchor は HTML 断片内の最初の <a href> を返します。
func firstAnchor(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	fragment, err := extract.ParseFragment(markup)
	if err != nil {
		return ""
	}
	href, _ := fragment.Find("a[href]").First().Attr("href")
	return strings.TrimSpace(href)
}

func resolve(base *url.URL, raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !ref.IsAbs() {
		if base == nil || !base.IsAbs() {
			return "", false
		}
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	return ref.String(), true
}
