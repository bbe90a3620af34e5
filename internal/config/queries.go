package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v2"

	"github.com/shouni/go-estate-crawl/pkg/extract"
	"github.com/shouni/go-estate-crawl/pkg/listing"
)

//go:embed query_schema.json
var querySchemaJSON string

// querySchema はクエリファイルの JSON Schema です。パッケージ初期化時に一度だけコンパイルします。
var querySchema = jsonschema.MustCompileString("query_schema.json", querySchemaJSON)

// FeedSource は一覧ページURLを配信する RSS/Atom フィードです。
type FeedSource struct {
	URL          string `json:"url" yaml:"url"`
	PropertyType string `json:"property_type" yaml:"property_type"`
}

// Region は1つの地域の一覧ページURLの定義です。
type Region struct {
	Area          string       `json:"area" yaml:"area"`
	ApartmentURLs []string     `json:"apartment_urls,omitempty" yaml:"apartment_urls"`
	VillaURLs     []string     `json:"villa_urls,omitempty" yaml:"villa_urls"`
	FeedURLs      []FeedSource `json:"feed_urls,omitempty" yaml:"feed_urls"`
}

// QueryFile はクエリファイル全体です。
type QueryFile struct {
	Data      []Region        `json:"data" yaml:"data"`
	Selectors *extract.Schema `json:"selectors,omitempty" yaml:"selectors"`
}

// FeedQuery はフィードから一覧ページURLを得るための入力です。
type FeedQuery struct {
	FeedURL      string
	Area         string
	PropertyType string
}

// LoadQueryFile はクエリファイルを読み込み、検証します。
// 拡張子が .yaml / .yml の場合は YAML、それ以外は JSON として解析します。
func LoadQueryFile(path string) (*QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("クエリファイルの読み込みに失敗しました (%s): %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON は JSON 形式のクエリファイルをスキーマ検証してから解析します。
func ParseJSON(data []byte) (*QueryFile, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	var qf QueryFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("クエリファイルのJSON解析に失敗しました: %w", err)
	}
	return &qf, nil
}

// ParseYAML は YAML 形式のクエリファイルを解析し、JSON に変換してスキーマ検証します。
func ParseYAML(data []byte) (*QueryFile, error) {
	var qf QueryFile
	if err := yaml.UnmarshalStrict(data, &qf); err != nil {
		return nil, fmt.Errorf("クエリファイルのYAML解析に失敗しました: %w", err)
	}
	encoded, err := json.Marshal(&qf)
	if err != nil {
		return nil, fmt.Errorf("クエリファイルの変換に失敗しました: %w", err)
	}
	if err := validate(encoded); err != nil {
		return nil, err
	}
	return &qf, nil
}

func validate(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("クエリファイルが有効なJSONではありません: %w", err)
	}
	if err := querySchema.Validate(v); err != nil {
		return fmt.Errorf("クエリファイルのスキーマ検証に失敗しました: %w", err)
	}
	return nil
}

// Queries は地域ごとに Apartment、Villa の順で Query を展開します。
// フィード由来のURLは含みません (FeedQueries を参照)。
func (f *QueryFile) Queries(maxAttempts int) []listing.Query {
	var qs []listing.Query
	for _, r := range f.Data {
		for _, u := range r.ApartmentURLs {
			qs = append(qs, listing.Query{IndexURL: u, MaxFetchAttempts: maxAttempts, Area: r.Area, PropertyType: listing.PropertyTypeApartment})
		}
		for _, u := range r.VillaURLs {
			qs = append(qs, listing.Query{IndexURL: u, MaxFetchAttempts: maxAttempts, Area: r.Area, PropertyType: listing.PropertyTypeVilla})
		}
	}
	return qs
}

// FeedQueries は地域に定義されたフィードを順序どおりに返します。
func (f *QueryFile) FeedQueries() []FeedQuery {
	var fqs []FeedQuery
	for _, r := range f.Data {
		for _, fs := range r.FeedURLs {
			fqs = append(fqs, FeedQuery{FeedURL: fs.URL, Area: r.Area, PropertyType: fs.PropertyType})
		}
	}
	return fqs
}

// CompileSchema は既定のセレクタースキーマに selectors の指定を上書きしてコンパイルします。
// 不正なセレクターは起動時のエラーになります。
func (f *QueryFile) CompileSchema() (*extract.CompiledSchema, error) {
	s := extract.DefaultSchema()
	if f != nil && f.Selectors != nil {
		s = mergeSchema(s, *f.Selectors)
	}
	return s.Compile()
}

// mergeSchema は override の空でない項目で base を上書きします。
func mergeSchema(base, override extract.Schema) extract.Schema {
	pick := func(b, o string) string {
		if strings.TrimSpace(o) != "" {
			return o
		}
		return b
	}
	pair := func(b, o extract.PairSelector) extract.PairSelector {
		return extract.PairSelector{
			Container: pick(b.Container, o.Container),
			Label:     pick(b.Label, o.Label),
			Value:     pick(b.Value, o.Value),
		}
	}
	return extract.Schema{
		Tile:   pick(base.Tile, override.Tile),
		Title:  pick(base.Title, override.Title),
		Price:  pick(base.Price, override.Price),
		Link:   pick(base.Link, override.Link),
		Basic:  pair(base.Basic, override.Basic),
		Detail: pair(base.Detail, override.Detail),
	}
}
