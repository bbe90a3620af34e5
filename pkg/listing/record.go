package listing

import (
	"database/sql"
	"time"

	"github.com/shouni/go-estate-crawl/pkg/extract"
)

// 各列名。CSV のヘッダーと SQL の列名を兼ねます。
const (
	ColListingTitle       = "listing_title"
	ColListingPrice       = "listing_price"
	ColListingURL         = "listing_url"
	ColCarpetArea         = "carpet_area"
	ColPossessionOn       = "possession_on"
	ColFloor              = "floor"
	ColBathrooms          = "bathrooms"
	ColBrokerageTerms     = "brokerage_terms"
	ColDirectionFacing    = "direction_facing"
	ColFlooringType       = "flooring_type"
	ColParking            = "parking"
	ColYearOfConstruction = "year_of_construction"
	ColPropertyOn         = "property_on"
	ColListedOn           = "listed_on"
	ColOwnership          = "ownership"
	ColFurnishingState    = "furnishing_state"
	ColListedBy           = "listed_by"
	ColArea               = "area"
	ColPropertyType       = "property_type"
	ColCapturedAt         = "captured_at"
)

// Record は1件の物件の、スキーマが常に揃った出力単位です。
// 属性が見つからなかった場合は Valid == false の sql.NullString になります。
type Record struct {
	ListingTitle string `db:"listing_title" json:"listing_title"`
	ListingPrice string `db:"listing_price" json:"listing_price"`
	ListingURL   string `db:"listing_url" json:"listing_url"`

	// 一覧タイル由来の基本属性
	CarpetArea   sql.NullString `db:"carpet_area" json:"carpet_area"`
	PossessionOn sql.NullString `db:"possession_on" json:"possession_on"`
	Floor        sql.NullString `db:"floor" json:"floor"`
	Bathrooms    sql.NullString `db:"bathrooms" json:"bathrooms"`

	// 詳細ページ由来の拡張属性
	BrokerageTerms     sql.NullString `db:"brokerage_terms" json:"brokerage_terms"`
	DirectionFacing    sql.NullString `db:"direction_facing" json:"direction_facing"`
	FlooringType       sql.NullString `db:"flooring_type" json:"flooring_type"`
	Parking            sql.NullString `db:"parking" json:"parking"`
	YearOfConstruction sql.NullString `db:"year_of_construction" json:"year_of_construction"`
	PropertyOn         sql.NullString `db:"property_on" json:"property_on"`
	ListedOn           sql.NullString `db:"listed_on" json:"listed_on"`
	Ownership          sql.NullString `db:"ownership" json:"ownership"`
	FurnishingState    sql.NullString `db:"furnishing_state" json:"furnishing_state"`
	ListedBy           sql.NullString `db:"listed_by" json:"listed_by"`

	// 取得メタデータ (Aggregator が付与)
	Area         string    `db:"area" json:"area"`
	PropertyType string    `db:"property_type" json:"property_type"`
	CapturedAt   time.Time `db:"captured_at" json:"captured_at"`
}

type attrField struct {
	column string
	field  func(*Record) *sql.NullString
}

// basicAttrs はタイルから取り出す属性です。
var basicAttrs = []attrField{
	{ColCarpetArea, func(r *Record) *sql.NullString { return &r.CarpetArea }},
	{ColPossessionOn, func(r *Record) *sql.NullString { return &r.PossessionOn }},
	{ColFloor, func(r *Record) *sql.NullString { return &r.Floor }},
	{ColBathrooms, func(r *Record) *sql.NullString { return &r.Bathrooms }},
}

// extendedAttrs は詳細ページから取り出す属性です。
var extendedAttrs = []attrField{
	{ColBrokerageTerms, func(r *Record) *sql.NullString { return &r.BrokerageTerms }},
	{ColDirectionFacing, func(r *Record) *sql.NullString { return &r.DirectionFacing }},
	{ColFlooringType, func(r *Record) *sql.NullString { return &r.FlooringType }},
	{ColParking, func(r *Record) *sql.NullString { return &r.Parking }},
	{ColYearOfConstruction, func(r *Record) *sql.NullString { return &r.YearOfConstruction }},
	{ColPropertyOn, func(r *Record) *sql.NullString { return &r.PropertyOn }},
	{ColListedOn, func(r *Record) *sql.NullString { return &r.ListedOn }},
	{ColOwnership, func(r *Record) *sql.NullString { return &r.Ownership }},
	{ColFurnishingState, func(r *Record) *sql.NullString { return &r.FurnishingState }},
	{ColListedBy, func(r *Record) *sql.NullString { return &r.ListedBy }},
}

// Columns はレコードの全列名を出力順に返します。
func Columns() []string {
	cols := []string{ColListingTitle, ColListingPrice, ColListingURL}
	for _, a := range basicAttrs {
		cols = append(cols, a.column)
	}
	for _, a := range extendedAttrs {
		cols = append(cols, a.column)
	}
	return append(cols, ColArea, ColPropertyType, ColCapturedAt)
}

// AttributeColumns は基本属性・拡張属性の列名を出力順に返します。
func AttributeColumns() []string {
	cols := make([]string, 0, len(basicAttrs)+len(extendedAttrs))
	for _, set := range [][]attrField{basicAttrs, extendedAttrs} {
		for _, a := range set {
			cols = append(cols, a.column)
		}
	}
	return cols
}

// Strings は Columns と同じ順序で値を返します。欠損値は空文字列です。
func (r *Record) Strings() []string {
	row := []string{r.ListingTitle, r.ListingPrice, r.ListingURL}
	for _, a := range basicAttrs {
		row = append(row, a.field(r).String)
	}
	for _, a := range extendedAttrs {
		row = append(row, a.field(r).String)
	}
	captured := ""
	if !r.CapturedAt.IsZero() {
		captured = r.CapturedAt.Format(time.RFC3339)
	}
	return append(row, r.Area, r.PropertyType, captured)
}

// Attr は列名で属性値を返します。属性列以外は Valid == false です。
func (r *Record) Attr(column string) sql.NullString {
	for _, set := range [][]attrField{basicAttrs, extendedAttrs} {
		for _, a := range set {
			if a.column == column {
				return *a.field(r)
			}
		}
	}
	return sql.NullString{}
}

// fill は LabelValueMap から属性を埋めます。マップにない属性は欠損値のままです。
func (r *Record) fill(attrs []attrField, values extract.LabelValueMap) {
	for _, a := range attrs {
		if v, ok := values.Get(a.column); ok {
			*a.field(r) = sql.NullString{String: v, Valid: true}
		} else {
			*a.field(r) = sql.NullString{}
		}
	}
}

// 物件種別
const (
	PropertyTypeApartment = "Apartment"
	PropertyTypeVilla     = "Villa"
)

// Query は1回のパイプライン実行の入力です (一覧URL・試行回数・地域・物件種別)。
type Query struct {
	IndexURL         string
	MaxFetchAttempts int
	Area             string
	PropertyType     string
}
