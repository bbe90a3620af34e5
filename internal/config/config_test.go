package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-estate-crawl/pkg/extract"
	"github.com/shouni/go-estate-crawl/pkg/listing"
)

const validJSON = `{
  "data": [
    {
      "area": "Koramangala",
      "apartment_urls": ["https://www.commonfloor.com/koramangala-apartments", "https://www.commonfloor.com/koramangala-apartments?page=2"],
      "villa_urls": ["https://www.commonfloor.com/koramangala-villas"]
    },
    {
      "area": "HSR Layout",
      "villa_urls": ["https://www.commonfloor.com/hsr-villas"],
      "feed_urls": [{"url": "https://www.commonfloor.com/feeds/hsr.xml", "property_type": "Apartment"}]
    }
  ]
}`

const validYAML = `
data:
  - area: Koramangala
    apartment_urls:
      - https://www.commonfloor.com/koramangala-apartments
selectors:
  price: span.price
  detail:
    container: section.details div.row
`

func TestParseJSON(t *testing.T) {
	qf, err := ParseJSON([]byte(validJSON))
	require.NoError(t, err)

	t.Run("Queries は Apartment、Villa の順", func(t *testing.T) {
		qs := qf.Queries(7)
		require.Len(t, qs, 4)

		want := []listing.Query{
			{IndexURL: "https://www.commonfloor.com/koramangala-apartments", MaxFetchAttempts: 7, Area: "Koramangala", PropertyType: listing.PropertyTypeApartment},
			{IndexURL: "https://www.commonfloor.com/koramangala-apartments?page=2", MaxFetchAttempts: 7, Area: "Koramangala", PropertyType: listing.PropertyTypeApartment},
			{IndexURL: "https://www.commonfloor.com/koramangala-villas", MaxFetchAttempts: 7, Area: "Koramangala", PropertyType: listing.PropertyTypeVilla},
			{IndexURL: "https://www.commonfloor.com/hsr-villas", MaxFetchAttempts: 7, Area: "HSR Layout", PropertyType: listing.PropertyTypeVilla},
		}
		assert.Equal(t, want, qs)
	})

	t.Run("FeedQueries", func(t *testing.T) {
		assert.Equal(t, []FeedQuery{
			{FeedURL: "https://www.commonfloor.com/feeds/hsr.xml", Area: "HSR Layout", PropertyType: listing.PropertyTypeApartment},
		}, qf.FeedQueries())
	})
}

func TestParseJSON_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"JSONではない", `{"data": [`},
		{"data がない", `{}`},
		{"data が空", `{"data": []}`},
		{"area がない", `{"data": [{"apartment_urls": ["https://example.com"]}]}`},
		{"area が空", `{"data": [{"area": ""}]}`},
		{"URLでない", `{"data": [{"area": "A", "villa_urls": ["ftp://example.com"]}]}`},
		{"未知のキー", `{"data": [{"area": "A", "plot_urls": []}]}`},
		{"未知の物件種別", `{"data": [{"area": "A", "feed_urls": [{"url": "https://example.com/f", "property_type": "Plot"}]}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			qf, err := ParseJSON([]byte(tc.data))
			assert.Nil(t, qf)
			assert.Error(t, err)
		})
	}
}

func TestParseYAML(t *testing.T) {
	qf, err := ParseYAML([]byte(validYAML))
	require.NoError(t, err)

	qs := qf.Queries(3)
	require.Len(t, qs, 1)
	assert.Equal(t, "Koramangala", qs[0].Area)

	require.NotNil(t, qf.Selectors)
	assert.Equal(t, "span.price", qf.Selectors.Price)

	t.Run("検証エラー", func(t *testing.T) {
		_, err := ParseYAML([]byte("data:\n  - area: \"\"\n"))
		assert.Error(t, err)

		_, err = ParseYAML([]byte("data:\n  - area: A\n    unknown: 1\n"))
		assert.Error(t, err)
	})
}

func TestLoadQueryFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "url_queries.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(validJSON), 0o644))
	yamlPath := filepath.Join(dir, "queries.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(validYAML), 0o644))

	qf, err := LoadQueryFile(jsonPath)
	require.NoError(t, err)
	assert.Len(t, qf.Data, 2)

	qf, err = LoadQueryFile(yamlPath)
	require.NoError(t, err)
	assert.Len(t, qf.Data, 1)

	_, err = LoadQueryFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCompileSchema(t *testing.T) {
	t.Run("selectors なしは既定値", func(t *testing.T) {
		var qf *QueryFile
		cs, err := qf.CompileSchema()
		require.NoError(t, err)
		assert.NotNil(t, cs)
	})

	t.Run("部分的な上書き", func(t *testing.T) {
		merged := mergeSchema(extract.DefaultSchema(), extract.Schema{
			Price:  "span.price",
			Detail: extract.PairSelector{Container: "section.details div.row"},
		})
		assert.Equal(t, "span.price", merged.Price)
		assert.Equal(t, "div.snb-tile-info", merged.Tile)
		assert.Equal(t, "section.details div.row", merged.Detail.Container)
		assert.Equal(t, "small", merged.Detail.Label)
	})

	t.Run("不正なセレクターは起動時エラー", func(t *testing.T) {
		qf := &QueryFile{Selectors: &extract.Schema{Tile: "div[["}}
		_, err := qf.CompileSchema()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tile")
	})
}

func TestLoadEnv(t *testing.T) {
	t.Setenv(EnvMaxAttempts, "3")
	t.Setenv(EnvConcurrency, "not-a-number")
	t.Setenv(EnvDBDSN, "file:estate.db")
	t.Setenv(EnvLogJSON, "true")

	env := LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, 3, env.MaxAttempts)
	assert.Equal(t, DefaultConcurrency, env.Concurrency)
	assert.Equal(t, DefaultTimeoutSec, env.TimeoutSec)
	assert.Equal(t, "file:estate.db", env.DBDSN)
	assert.True(t, env.LogJSON)
	assert.Equal(t, DefaultAddr, env.Addr)
}

func TestLoadEnv_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ESTATE_RATE_MS=1200\nESTATE_CSV_PATH=out.csv\n"), 0o644))
	// godotenv は既存の環境変数を上書きしないため、事前に空にしておく
	t.Setenv(EnvRateMs, "")
	t.Setenv(EnvCSVPath, "")
	require.NoError(t, os.Unsetenv(EnvRateMs))
	require.NoError(t, os.Unsetenv(EnvCSVPath))

	env := LoadEnv(path)
	assert.Equal(t, 1200, env.RateMs)
	assert.Equal(t, "out.csv", env.CSVPath)
}
