package extract

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// ----------------------------------------------------------------------
// セレクタースキーマ (宣言的定義)
// ----------------------------------------------------------------------

// PairSelector は、ラベル/値ペアを表す (コンテナ, ラベル, 値) の3つ組です。
type PairSelector struct {
	Container string `yaml:"container" json:"container"`
	Label     string `yaml:"label" json:"label"`
	Value     string `yaml:"value" json:"value"`
}

// Schema は、一覧ページのタイルと詳細ページから値を取り出すためのセレクター定義です。
type Schema struct {
	Tile   string       `yaml:"tile" json:"tile"`
	Title  string       `yaml:"title" json:"title"`
	Price  string       `yaml:"price" json:"price"`
	Link   string       `yaml:"link" json:"link"` // Title 要素の内側で評価される
	Basic  PairSelector `yaml:"basic" json:"basic"`
	Detail PairSelector `yaml:"detail" json:"detail"`
}

// DefaultSchema は commonfloor.com のマークアップに合わせた既定のスキーマを返します。
func DefaultSchema() Schema {
	return Schema{
		Tile:  "div.snb-tile-info",
		Title: "div.st_title",
		Price: "span.s_p",
		Link:  "a[href]",
		Basic: PairSelector{
			Container: "div.infodata",
			Label:     "small",
			Value:     "span",
		},
		Detail: PairSelector{
			Container: "div.otherDetails div.infodata",
			Label:     "small",
			Value:     "span",
		},
	}
}

// PairMatcher はコンパイル済みの PairSelector です。
type PairMatcher struct {
	Container goquery.Matcher
	Label     goquery.Matcher
	Value     goquery.Matcher
}

// CompiledSchema は、起動時に一度だけ検証・コンパイルされたスキーマです。
type CompiledSchema struct {
	Tile   goquery.Matcher
	Title  goquery.Matcher
	Price  goquery.Matcher
	Link   goquery.Matcher
	Basic  PairMatcher
	Detail PairMatcher
}

// Compile はすべてのセレクターを検証し、CompiledSchema を返します。
// 1つでも不正なセレクターがあればエラーになります。
func (s Schema) Compile() (*CompiledSchema, error) {
	var firstErr error
	compile := func(field, sel string) goquery.Matcher {
		if firstErr != nil {
			return nil
		}
		if sel == "" {
			firstErr = fmt.Errorf("セレクター %s が空です", field)
			return nil
		}
		m, err := cascadia.Compile(sel)
		if err != nil {
			firstErr = fmt.Errorf("セレクター %s (%q) のコンパイルに失敗しました: %w", field, sel, err)
			return nil
		}
		return m
	}

	cs := &CompiledSchema{
		Tile:  compile("tile", s.Tile),
		Title: compile("title", s.Title),
		Price: compile("price", s.Price),
		Link:  compile("link", s.Link),
		Basic: PairMatcher{
			Container: compile("basic.container", s.Basic.Container),
			Label:     compile("basic.label", s.Basic.Label),
			Value:     compile("basic.value", s.Basic.Value),
		},
		Detail: PairMatcher{
			Container: compile("detail.container", s.Detail.Container),
			Label:     compile("detail.label", s.Detail.Label),
			Value:     compile("detail.value", s.Detail.Value),
		},
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return cs, nil
}

// MustCompile は Compile のパニック版です。既定値やテストで使用します。
func (s Schema) MustCompile() *CompiledSchema {
	cs, err := s.Compile()
	if err != nil {
		panic(err)
	}
	return cs
}
