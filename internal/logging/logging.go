package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Config はロガーの出力設定です。
type Config struct {
	Writer  io.Writer // 既定は os.Stderr
	Verbose bool      // true の場合 Debug レベルまで出力
	JSON    bool      // JSON 形式で出力 (ログ収集向け)
	NoColor bool
}

// New は設定に応じた *slog.Logger を生成します。
// JSON でない場合は tint によるコンソール向けの色付きテキストを出力します。
func New(cfg Config) *slog.Logger {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(cfg.Writer, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(cfg.Writer, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05",
			NoColor:    cfg.NoColor,
		})
	}
	return slog.New(handler)
}

// Setup は New で生成したロガーをデフォルトに設定して返します。
func Setup(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

// Discard は何も出力しないロガーです。テストで使用します。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
