package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// 環境変数名
const (
	EnvTimeoutSec  = "ESTATE_TIMEOUT_SEC"
	EnvMaxAttempts = "ESTATE_MAX_ATTEMPTS"
	EnvConcurrency = "ESTATE_CONCURRENCY"
	EnvRateMs      = "ESTATE_RATE_MS"
	EnvDBDSN       = "ESTATE_DB_DSN"
	EnvCSVPath     = "ESTATE_CSV_PATH"
	EnvLogJSON     = "ESTATE_LOG_JSON"
	EnvAddr        = "ESTATE_ADDR"
)

// 既定値
const (
	DefaultTimeoutSec  = 30
	DefaultMaxAttempts = 10
	DefaultConcurrency = 4
	DefaultRateMs      = 500
	DefaultAddr        = ":8080"
)

// Env は環境変数 (および .env ファイル) から読み込んだ設定です。
// コマンドラインフラグの既定値として使われます。
type Env struct {
	TimeoutSec  int
	MaxAttempts int
	Concurrency int
	RateMs      int
	DBDSN       string
	CSVPath     string
	LogJSON     bool
	Addr        string
}

// LoadEnv は .env ファイルを読み込み (存在しなければ無視)、Env を返します。
func LoadEnv(files ...string) *Env {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug(".envファイルが見つからないため、システムの環境変数を使用します", slog.Any("error", err))
	}

	return &Env{
		TimeoutSec:  getEnvInt(EnvTimeoutSec, DefaultTimeoutSec),
		MaxAttempts: getEnvInt(EnvMaxAttempts, DefaultMaxAttempts),
		Concurrency: getEnvInt(EnvConcurrency, DefaultConcurrency),
		RateMs:      getEnvInt(EnvRateMs, DefaultRateMs),
		DBDSN:       getEnv(EnvDBDSN, ""),
		CSVPath:     getEnv(EnvCSVPath, ""),
		LogJSON:     getEnvBool(EnvLogJSON, false),
		Addr:        getEnv(EnvAddr, DefaultAddr),
	}
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err == nil {
			return n
		}
		slog.Warn("環境変数の値が整数ではないため既定値を使用します", slog.String("key", key), slog.String("value", val))
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err == nil {
			return b
		}
	}
	return fallback
}
