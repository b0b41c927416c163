package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/asuasu0131/parking-monitor/internal/app"
	"github.com/asuasu0131/parking-monitor/internal/config"
	"github.com/asuasu0131/parking-monitor/internal/logutil"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "parking-monitor",
		Short:        "Realtime parking lot layout and presence server",
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
			}
			cfg, err := config.Load(viper.New(), configFile)
			if err != nil {
				return err
			}

			log, err := logutil.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := app.NewServer(ctx, cfg, log)
			if err != nil {
				log.Error("failed on init", zap.Error(err))
				return err
			}
			if err := srv.Run(ctx); err != nil {
				log.Error("server exited", zap.Error(err))
				return err
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration (JSON or YAML)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
