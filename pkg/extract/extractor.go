package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	textUtils "github.com/shouni/go-utils/text"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrExtraction は、フラグメントがマークアップとして解析できなかったことを示します。
var ErrExtraction = errors.New("extraction error")

// LabelValueMap は正規化済みラベルから値テキストへのマップです。
// フラグメントに存在しないラベルは単にキーが存在しません。
type LabelValueMap map[string]string

// Get は値と存在有無を返します。
func (m LabelValueMap) Get(label string) (string, bool) {
	v, ok := m[NormalizeLabel(label)]
	return v, ok
}

// ExtractionError は解析不能なマークアップの発生源を保持します。
type ExtractionError struct {
	Source string // URL または "fragment"
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("HTML解析に失敗しました (%s): %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() []error {
	return []error{ErrExtraction, e.Err}
}

// NormalizeLabel はラベルを小文字化し、空白で分割してアンダースコアで結合します。
// 正規化済みのラベルに再適用しても結果は変わりません。
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), "_")
}

// ParseDocument はページ全体のマークアップを goquery.Document に変換します。
func ParseDocument(source string, body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ExtractionError{Source: source, Err: err}
	}
	return doc, nil
}

// ParseFragment は <body> 文脈でマークアップ断片を解析し、そのルートの Selection を返します。
func ParseFragment(markup string) (*goquery.Selection, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return nil, &ExtractionError{Source: "fragment", Err: err}
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return goquery.NewDocumentFromNode(body).Selection, nil
}

// ExtractTiles は一覧ページを文書順のタイル断片に分割します。
// タイルが見つからない場合は空のスライスを返し、エラーにはなりません。
func ExtractTiles(page *goquery.Selection, tile goquery.Matcher) []*goquery.Selection {
	found := page.FindMatcher(tile)
	tiles := make([]*goquery.Selection, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		tiles = append(tiles, s)
	})
	return tiles
}

// ExtractLabelValues は断片内の各コンテナからラベル/値ペアを1件ずつ抽出します。
// ラベルまたは値の要素が欠けているコンテナは無視されます。
// タイル (基本属性) と詳細ページ (拡張属性) の両方でこの関数を使います。
// 値は改行やインデントを空白1つに詰めたテキストです。
func ExtractLabelValues(fragment *goquery.Selection, pm PairMatcher) LabelValueMap {
	values := make(LabelValueMap)
	fragment.FindMatcher(pm.Container).Each(func(_ int, container *goquery.Selection) {
		labelSel := container.FindMatcher(pm.Label).First()
		valueSel := container.FindMatcher(pm.Value).First()
		if labelSel.Length() == 0 || valueSel.Length() == 0 {
			return
		}

		key := NormalizeLabel(labelSel.Text())
		if key == "" {
			return
		}
		values[key] = textUtils.NormalizeText(valueSel.Text())
	})
	return values
}

// FirstText は m に一致する最初の要素のテキストを返します。一致がなければ false です。
func FirstText(fragment *goquery.Selection, m goquery.Matcher) (string, bool) {
	sel := fragment.FindMatcher(m).First()
	if sel.Length() == 0 {
		return "", false
	}
	return textUtils.NormalizeText(sel.Text()), true
}
