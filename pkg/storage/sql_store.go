package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/shouni/go-estate-crawl/pkg/dataset"
	"github.com/shouni/go-estate-crawl/pkg/listing"
)

//go:embed schema_sqlite.sql schema_postgres.sql
var schemaFS embed.FS

// ドライバー名
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DefaultListLimit は List の既定の取得件数です。
const DefaultListLimit = 100

// SQLStore は Dataset を SQL データベースに永続化します。
// listing_url が既に存在する行は更新せず、最初に保存された内容を保持します。
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// ListFilter は List の絞り込み条件です。空文字列の条件は無視されます。
type ListFilter struct {
	Area         string
	PropertyType string
	RunID        string
	Limit        int
	Offset       int
}

// listingRow は listings テーブルの1行です。
type listingRow struct {
	ListingTitle       string         `db:"listing_title"`
	ListingPrice       string         `db:"listing_price"`
	ListingURL         string         `db:"listing_url"`
	CarpetArea         sql.NullString `db:"carpet_area"`
	PossessionOn       sql.NullString `db:"possession_on"`
	Floor              sql.NullString `db:"floor"`
	Bathrooms          sql.NullString `db:"bathrooms"`
	BrokerageTerms     sql.NullString `db:"brokerage_terms"`
	DirectionFacing    sql.NullString `db:"direction_facing"`
	FlooringType       sql.NullString `db:"flooring_type"`
	Parking            sql.NullString `db:"parking"`
	YearOfConstruction sql.NullString `db:"year_of_construction"`
	PropertyOn         sql.NullString `db:"property_on"`
	ListedOn           sql.NullString `db:"listed_on"`
	Ownership          sql.NullString `db:"ownership"`
	FurnishingState    sql.NullString `db:"furnishing_state"`
	ListedBy           sql.NullString `db:"listed_by"`
	Area               string         `db:"area"`
	PropertyType       string         `db:"property_type"`
	CapturedAt         string         `db:"captured_at"`
	RunID              string         `db:"run_id"`
}

// DriverFor は DSN からドライバー名と接続文字列を決定します。
// postgres:// または postgresql:// は PostgreSQL、それ以外は SQLite のファイルパスとして扱います。
func DriverFor(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(dsn, "sqlite://")
	default:
		return DriverSQLite, dsn
	}
}

// OpenSQLStore はデータベースに接続し、マイグレーションを実行します。
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("DSNが空です")
	}
	driver, source := DriverFor(dsn)

	if driver == DriverSQLite && !strings.HasPrefix(source, "file:") && source != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
			return nil, fmt.Errorf("データベースディレクトリの作成に失敗しました: %w", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, driver, source)
	if err != nil {
		return nil, fmt.Errorf("データベースへの接続に失敗しました (%s): %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite は単一ライターのため接続を1本に制限する
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗しました: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	schema, err := schemaFS.ReadFile(fmt.Sprintf("schema_%s.sql", s.driver))
	if err != nil {
		return fmt.Errorf("スキーマの読み込みに失敗しました: %w", err)
	}
	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("スキーマの実行に失敗しました: %w", err)
		}
	}
	return nil
}

// Close はデータベース接続を閉じます。
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping は接続を確認します。
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save は Dataset を1トランザクションで保存し、新規に挿入された件数を返します。
// 既存の listing_url は無視されます (ON CONFLICT DO NOTHING)。
func (s *SQLStore) Save(ctx context.Context, runID string, ds dataset.Dataset) (int, error) {
	if len(ds) == 0 {
		return 0, nil
	}

	cols := append(listing.Columns(), "run_id")
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	query := s.db.Rebind(fmt.Sprintf(
		"INSERT INTO listings (%s) VALUES (%s) ON CONFLICT (listing_url) DO NOTHING",
		strings.Join(cols, ", "), placeholders,
	))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("INSERT文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range ds {
		res, err := stmt.ExecContext(ctx, rowArgs(&ds[i], runID)...)
		if err != nil {
			return 0, fmt.Errorf("レコードの保存に失敗しました (URL: %s): %w", ds[i].ListingURL, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("挿入件数の取得に失敗しました: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("コミットに失敗しました: %w", err)
	}
	return inserted, nil
}

// rowArgs は listing.Columns() と run_id の順で値を並べます。欠損値は NULL です。
func rowArgs(r *listing.Record, runID string) []interface{} {
	args := []interface{}{r.ListingTitle, r.ListingPrice, r.ListingURL}
	for _, col := range listing.Columns()[3:] {
		switch col {
		case listing.ColArea:
			args = append(args, r.Area)
		case listing.ColPropertyType:
			args = append(args, r.PropertyType)
		case listing.ColCapturedAt:
			args = append(args, r.CapturedAt.UTC().Format(time.RFC3339Nano))
		default:
			args = append(args, r.Attr(col))
		}
	}
	return append(args, runID)
}

// List は保存順にレコードを返します。
func (s *SQLStore) List(ctx context.Context, f ListFilter) ([]listing.Record, error) {
	query := fmt.Sprintf("SELECT %s, run_id FROM listings WHERE 1=1", strings.Join(listing.Columns(), ", "))
	args := make([]interface{}, 0, 3)

	if f.Area != "" {
		query += " AND area = ?"
		args = append(args, f.Area)
	}
	if f.PropertyType != "" {
		query += " AND property_type = ?"
		args = append(args, f.PropertyType)
	}
	if f.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, f.RunID)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT %d", limit)
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	var rows []listingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("レコードの取得に失敗しました: %w", err)
	}

	records := make([]listing.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Count は保存済みのレコード数を返します。
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM listings"); err != nil {
		return 0, fmt.Errorf("件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func (row listingRow) toRecord() (listing.Record, error) {
	captured, err := time.Parse(time.RFC3339Nano, row.CapturedAt)
	if err != nil {
		return listing.Record{}, fmt.Errorf("captured_at のパースに失敗しました (URL: %s): %w", row.ListingURL, err)
	}
	return listing.Record{
		ListingTitle:       row.ListingTitle,
		ListingPrice:       row.ListingPrice,
		ListingURL:         row.ListingURL,
		CarpetArea:         row.CarpetArea,
		PossessionOn:       row.PossessionOn,
		Floor:              row.Floor,
		Bathrooms:          row.Bathrooms,
		BrokerageTerms:     row.BrokerageTerms,
		DirectionFacing:    row.DirectionFacing,
		FlooringType:       row.FlooringType,
		Parking:            row.Parking,
		YearOfConstruction: row.YearOfConstruction,
		PropertyOn:         row.PropertyOn,
		ListedOn:           row.ListedOn,
		Ownership:          row.Ownership,
		FurnishingState:    row.FurnishingState,
		ListedBy:           row.ListedBy,
		Area:               row.Area,
		PropertyType:       row.PropertyType,
		CapturedAt:         captured,
	}, nil
}
