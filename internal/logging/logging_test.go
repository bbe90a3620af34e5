package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	testCases := []struct {
		name      string
		cfg       Config
		wantDebug bool
	}{
		{"テキスト/Info", Config{NoColor: true}, false},
		{"テキスト/Debug", Config{NoColor: true, Verbose: true}, true},
		{"JSON/Info", Config{JSON: true}, false},
		{"JSON/Debug", Config{JSON: true, Verbose: true}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			tc.cfg.Writer = &buf
			logger := New(tc.cfg)

			logger.Debug("debug message")
			assert.Equal(t, tc.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug message")))

			logger.Info("info message", "url", "https://example.com")
			assert.Contains(t, buf.String(), "info message")
			assert.Contains(t, buf.String(), "https://example.com")
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Writer: &buf, JSON: true}).Warn("warned", "tile", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "warned", entry["msg"])
	assert.Equal(t, float64(3), entry["tile"])
}
