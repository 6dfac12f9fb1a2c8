package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/cleanloom/internal/cleaning"
	"github.com/KaramelBytes/cleanloom/internal/eda"
	"github.com/KaramelBytes/cleanloom/internal/parser"
	"github.com/KaramelBytes/cleanloom/internal/server"
	"github.com/KaramelBytes/cleanloom/internal/session"
	"github.com/KaramelBytes/cleanloom/internal/source"
)

var (
	srvAddr     string
	srvProvider string
	srvModel    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for dashboards",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := srvAddr
		if addr == "" {
			addr = cfg.ServerAddr
		}
		if addr == "" {
			addr = "127.0.0.1:8080"
		}
		rep, _ := eda.ParseRepresentative(cfg.HistogramColumn)
		store := session.NewStore(session.Options{SampleSize: cfg.SampleSize, Representative: rep})

		maxBytes := int64(cfg.MaxUploadMB) << 20
		fetcher := source.NewFetcher(time.Duration(cfg.FetchTimeoutSec)*time.Second, maxBytes, parser.Options{}, logger)

		var cleaner *cleaning.Service
		if svc, err := newCleaningService(srvProvider, srvModel); err != nil {
			logger.Warn("cleaning endpoint disabled", "err", err)
		} else {
			cleaner = svc
			logger.Info("cleaning endpoint enabled", "model", svc.Model())
		}

		srv := server.New(store, fetcher, cleaner, server.Options{
			MaxUploadBytes: maxBytes,
			SessionIdle:    time.Duration(cfg.SessionIdleMinutes) * time.Minute,
			Logger:         logger,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&srvAddr, "addr", "", "listen address (default from config, 127.0.0.1:8080)")
	serveCmd.Flags().StringVar(&srvProvider, "provider", "", "AI provider for /clean (default from config)")
	serveCmd.Flags().StringVar(&srvModel, "model", "", "model for /clean (default from config)")
}
