package scraper_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-estate-crawl/pkg/extract"
	"github.com/shouni/go-estate-crawl/pkg/fetcher"
	"github.com/shouni/go-estate-crawl/pkg/listing"
	"github.com/shouni/go-estate-crawl/pkg/retry"
	"github.com/shouni/go-estate-crawl/pkg/scraper"
)

// ======================================================================
// フィクスチャ
// ======================================================================

const indexHTML = `<html><body>
<div class="snb-tile-info">
  <div class="st_title"><a href="/listing/1">First</a></div>
  <span class="s_p">10 Lakhs</span>
  <div class="infodata"><small>Floor</small><span>1</span></div>
</div>
<div class="snb-tile-info">
  <span class="s_p">no title</span>
</div>
<div class="snb-tile-info">
  <div class="st_title"><a href="/listing/broken">Broken detail</a></div>
  <span class="s_p">30 Lakhs</span>
</div>
<div class="snb-tile-info">
  <div class="st_title"><a href="/listing/4">Fourth</a></div>
  <span class="s_p">40 Lakhs</span>
</div>
</body></html>`

func detailHTML(listedBy string) string {
	return fmt.Sprintf(`<html><body><div class="otherDetails">
<div class="infodata"><small>Listed By</small><span>%s</span></div>
</div></body></html>`, listedBy)
}

// newSiteServer は一覧ページと詳細ページを返すテストサーバーを生成します。
// 先頭タイルの詳細は遅延させ、完了順とタイル順を入れ替えます。
func newSiteServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var brokenHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexHTML)
	})
	mux.HandleFunc("/listing/1", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, detailHTML("Owner"))
	})
	mux.HandleFunc("/listing/4", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailHTML("Agent"))
	})
	mux.HandleFunc("/listing/broken", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&brokenHits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &brokenHits
}

func newTestScraper(t *testing.T, concurrency int) *scraper.ParallelScraper {
	t.Helper()
	f := fetcher.New(5*time.Second, fetcher.WithPolicy(retry.NoDelay()))
	b, err := listing.NewBuilder(f, extract.DefaultSchema().MustCompile())
	require.NoError(t, err)
	return scraper.NewParallelScraper(b, concurrency, scraper.WithRateLimit(0))
}

// ======================================================================
// テスト関数
// ======================================================================

func TestScrapeIndex(t *testing.T) {
	testCases := []struct {
		name        string
		concurrency int
	}{
		{"逐次", 1},
		{"並列", 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv, brokenHits := newSiteServer(t)
			s := newTestScraper(t, tc.concurrency)

			q := listing.Query{IndexURL: srv.URL + "/index", MaxFetchAttempts: 2, Area: "Koramangala", PropertyType: "Apartment"}
			res, err := s.ScrapeIndex(context.Background(), q)
			require.NoError(t, err)

			assert.Equal(t, q, res.Query)
			assert.Equal(t, 4, res.Tiles)

			// タイル順が保たれる
			require.Len(t, res.Records, 2)
			assert.Equal(t, "First", res.Records[0].ListingTitle)
			assert.Equal(t, srv.URL+"/listing/1", res.Records[0].ListingURL)
			assert.Equal(t, "Owner", res.Records[0].ListedBy.String)
			assert.Equal(t, "1", res.Records[0].Floor.String)
			assert.Equal(t, "Fourth", res.Records[1].ListingTitle)
			assert.Equal(t, "Agent", res.Records[1].ListedBy.String)

			require.Len(t, res.Failures, 2)

			titleFailure := res.Failures[0]
			assert.Equal(t, scraper.StageTile, titleFailure.Stage)
			assert.Equal(t, 1, titleFailure.Tile)
			assert.ErrorIs(t, titleFailure, listing.ErrRequiredFieldMissing)

			detailFailure := res.Failures[1]
			assert.Equal(t, scraper.StageDetail, detailFailure.Stage)
			assert.Equal(t, 2, detailFailure.Tile)
			assert.Equal(t, srv.URL+"/listing/broken", detailFailure.URL)
			assert.ErrorIs(t, detailFailure, fetcher.ErrFetchExhausted)

			assert.Equal(t, int32(2), atomic.LoadInt32(brokenHits), "詳細ページは MaxFetchAttempts 回だけ試行される")
		})
	}
}

func TestScrapeIndex_IndexFailure(t *testing.T) {
	srv, _ := newSiteServer(t)
	s := newTestScraper(t, 2)

	res, err := s.ScrapeIndex(context.Background(), listing.Query{IndexURL: srv.URL + "/down", MaxFetchAttempts: 3})
	assert.Nil(t, res)
	require.Error(t, err)

	var se *scraper.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, scraper.StageIndex, se.Stage)
	assert.Equal(t, srv.URL+"/down", se.URL)
	assert.Equal(t, -1, se.Tile)
	assert.ErrorIs(t, err, fetcher.ErrFetchExhausted)
	assert.Contains(t, err.Error(), "/down")
}

func TestScrapeIndex_EmptyIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>no listings</p></body></html>`)
	}))
	defer srv.Close()
	s := newTestScraper(t, 2)

	res, err := s.ScrapeIndex(context.Background(), listing.Query{IndexURL: srv.URL, MaxFetchAttempts: 1})
	require.NoError(t, err)
	assert.Zero(t, res.Tiles)
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Failures)
}

func TestScrapeIndex_InvalidIndexURL(t *testing.T) {
	s := newTestScraper(t, 1)

	_, err := s.ScrapeIndex(context.Background(), listing.Query{IndexURL: "/relative", MaxFetchAttempts: 1})
	var se *scraper.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, scraper.StageIndex, se.Stage)
}

func TestStageError(t *testing.T) {
	cause := errors.New("boom")
	err := &scraper.StageError{Stage: scraper.StageDetail, URL: "https://example.com/x", Tile: 0, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "detail")
	assert.Contains(t, err.Error(), "#1")
}
