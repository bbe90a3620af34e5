package dataset

import (
	"time"

	"github.com/shouni/go-estate-crawl/pkg/listing"
)

// Dataset は listing_url で一意な Record の順序付き集合です。
// 要素は値として保持するため、呼び出し元のレコードとメモリを共有しません。
type Dataset []listing.Record

// URLs は Dataset の listing_url を順序どおりに返します。
func (ds Dataset) URLs() []string {
	urls := make([]string, len(ds))
	for i := range ds {
		urls[i] = ds[i].ListingURL
	}
	return urls
}

// AddBatch は records のコピーに area・propertyType・capturedAt を付与して ds に追加し、
// listing_url で重複を除いた新しい Dataset を返します。
// 同じ URL は最初に追加されたものが残り、最初の出現順が保たれます。ds と records は変更されません。
func AddBatch(ds Dataset, records []*listing.Record, area, propertyType string, capturedAt time.Time) Dataset {
	b := NewBuilder()
	b.Merge(ds)
	b.Add(records, area, propertyType, capturedAt)
	return b.Dataset()
}

// Builder は Record を追加専用で蓄積し、挿入ごとに重複を除外します。
// テーブル全体の再コピーは Dataset() 呼び出し時の一度だけです。
type Builder struct {
	records []listing.Record
	index   map[string]int // listing_url -> records 内の位置
}

// NewBuilder は空の Builder を生成します。
func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// Add はバッチにメタデータを付与して追加し、新規に追加された件数を返します。
// nil のレコードは無視されます。
func (b *Builder) Add(records []*listing.Record, area, propertyType string, capturedAt time.Time) int {
	added := 0
	for _, r := range records {
		if r == nil {
			continue
		}
		rec := *r
		rec.Area = area
		rec.PropertyType = propertyType
		rec.CapturedAt = capturedAt
		if b.insert(rec) {
			added++
		}
	}
	return added
}

// Merge は付与済みの Dataset をメタデータを変えずに追加します。
func (b *Builder) Merge(ds Dataset) int {
	added := 0
	for _, rec := range ds {
		if b.insert(rec) {
			added++
		}
	}
	return added
}

func (b *Builder) insert(rec listing.Record) bool {
	if _, dup := b.index[rec.ListingURL]; dup {
		return false
	}
	b.index[rec.ListingURL] = len(b.records)
	b.records = append(b.records, rec)
	return true
}

// Contains は listing_url が既に追加済みかを返します。
func (b *Builder) Contains(listingURL string) bool {
	_, ok := b.index[listingURL]
	return ok
}

// Len は重複除外後の件数です。
func (b *Builder) Len() int {
	return len(b.records)
}

// Dataset は現時点の内容のスナップショットを返します。
// 返り値への変更は Builder に影響しません。
func (b *Builder) Dataset() Dataset {
	out := make(Dataset, len(b.records))
	copy(out, b.records)
	return out
}
