package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/shouni/go-estate-crawl/internal/api"
	"github.com/shouni/go-estate-crawl/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

var (
	serveDSN  string
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "保存済みの物件データを読み取り専用の JSON API として公開します",
	Long:  `GET /listings, GET /listings/{area}, GET /healthz を提供します。データは scrape --db で保存したデータベースから読み込みます。`,
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		if serveDSN == "" {
			serveDSN = env.DBDSN
		}
		if serveAddr == "" {
			serveAddr = env.Addr
		}

		ctx, cancel := signalContext()
		defer cancel()

		store, err := storage.OpenSQLStore(ctx, serveDSN)
		if err != nil {
			return err
		}
		defer store.Close()

		total, err := store.Count(ctx)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           api.NewRouter(store, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("HTTPサーバーを起動します", slog.String("addr", serveAddr), slog.Int("listings", total))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTPサーバーの起動に失敗しました: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("HTTPサーバーを停止します")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveDSN, "db", "", "データベース (SQLiteのパス または postgres:// DSN、既定: $ESTATE_DB_DSN)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "待ち受けアドレス (既定: $ESTATE_ADDR または :8080)")
}
