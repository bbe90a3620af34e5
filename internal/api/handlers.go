package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shouni/go-estate-crawl/pkg/listing"
	"github.com/shouni/go-estate-crawl/pkg/storage"
)

// ListingStore はハンドラーが依存する読み取り専用のストアです (storage.SQLStore が満たします)。
type ListingStore interface {
	List(ctx context.Context, f storage.ListFilter) ([]listing.Record, error)
	Ping(ctx context.Context) error
}

// Handlers は HTTP ハンドラーとその依存関係を保持します。
type Handlers struct {
	store  ListingStore
	logger *slog.Logger
}

// NewHandlers は新しい Handlers を生成します。
func NewHandlers(store ListingStore, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: store, logger: logger}
}

// listingJSON は API 応答の1件です。欠損属性は null になります。
type listingJSON struct {
	ListingTitle string             `json:"listing_title"`
	ListingPrice string             `json:"listing_price"`
	ListingURL   string             `json:"listing_url"`
	Attributes   map[string]*string `json:"attributes"`
	Area         string             `json:"area"`
	PropertyType string             `json:"property_type"`
	CapturedAt   time.Time          `json:"captured_at"`
}

func toJSON(r *listing.Record) listingJSON {
	attrs := make(map[string]*string)
	for _, col := range listing.AttributeColumns() {
		v := r.Attr(col)
		if v.Valid {
			s := v.String
			attrs[col] = &s
		} else {
			attrs[col] = nil
		}
	}
	return listingJSON{
		ListingTitle: r.ListingTitle,
		ListingPrice: r.ListingPrice,
		ListingURL:   r.ListingURL,
		Attributes:   attrs,
		Area:         r.Area,
		PropertyType: r.PropertyType,
		CapturedAt:   r.CapturedAt,
	}
}

// Health は GET /healthz を処理します。
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListListings は GET /listings を処理します。
// クエリパラメーター: type, run_id, limit, offset
func (h *Handlers) ListListings(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "")
}

// ListByArea は GET /listings/{area} を処理します。
func (h *Handlers) ListByArea(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, chi.URLParam(r, "area"))
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request, area string) {
	q := r.URL.Query()
	filter := storage.ListFilter{
		Area:         area,
		PropertyType: q.Get("type"),
		RunID:        q.Get("run_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	records, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	items := make([]listingJSON, 0, len(records))
	for i := range records {
		items = append(items, toJSON(&records[i]))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"listings": items,
		"count":    len(items),
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("レスポンスの書き込みに失敗しました", slog.Any("error", err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Error("リクエストの処理に失敗しました", slog.Int("status", status), slog.Any("error", err))
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
