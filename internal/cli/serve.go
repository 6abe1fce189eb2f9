package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nao1215/pmoji/internal/config"
	"github.com/nao1215/pmoji/internal/logger"
	"github.com/nao1215/pmoji/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "APIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logrus.WithField("component", "main")

	srv, err := server.New(ctx, cfg, logrus.StandardLogger())
	if err != nil {
		return err
	}

	log.WithField("port", cfg.Server.Port).Info("pmoji を起動します")
	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info("pmoji を停止しました")
	return nil
}

// loadConfig は --config を読み込み、ロガーを設定する。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}
