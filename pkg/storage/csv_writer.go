package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/shouni/go-estate-crawl/pkg/dataset"
	"github.com/shouni/go-estate-crawl/pkg/listing"
)

// CSVWriter は Dataset を CSV ファイルに書き出します。
// ヘッダーは listing.Columns() の順で、欠損値は空文字列になります。並行利用に対して安全です。
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter は path に CSV ファイルを作成 (既存なら切り詰め) してヘッダー行を書き込みます。
// 途中のディレクトリは自動で作成されます。
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("出力ディレクトリの作成に失敗しました: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("CSVファイルの作成に失敗しました (%s): %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(listing.Columns()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("CSVヘッダーの書き込みに失敗しました: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// Write は Dataset のレコードを順に追記します。
func (c *CSVWriter) Write(ds dataset.Dataset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeRows(c.writer, ds); err != nil {
		return err
	}
	c.writer.Flush()
	return c.writer.Error()
}

// Close はバッファをフラッシュしてファイルを閉じます。
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		_ = c.file.Close()
		return fmt.Errorf("CSVのフラッシュに失敗しました: %w", err)
	}
	return c.file.Close()
}

// WriteCSV はヘッダー付きで Dataset を任意の io.Writer に書き出します (標準出力向け)。
func WriteCSV(out io.Writer, ds dataset.Dataset) error {
	w := csv.NewWriter(out)
	if err := w.Write(listing.Columns()); err != nil {
		return fmt.Errorf("CSVヘッダーの書き込みに失敗しました: %w", err)
	}
	if err := writeRows(w, ds); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func writeRows(w *csv.Writer, ds dataset.Dataset) error {
	for i := range ds {
		if err := w.Write(ds[i].Strings()); err != nil {
			return fmt.Errorf("CSV行の書き込みに失敗しました (URL: %s): %w", ds[i].ListingURL, err)
		}
	}
	return nil
}
