package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"echochat/handler"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(debug *bool) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /echoChat over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(*debug)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if addr != "" {
				cfg.ListenAddr = addr
			}

			h, closeStore, err := buildHandler(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			e := echo.New()
			e.HideBanner = true
			e.HidePort = true
			handler.RegisterMetrics(e, cfg.MetricsAPIKey)
			handler.Register(e, h)

			errCh := make(chan error, 1)
			go func() {
				log.Infow("listening", "addr", cfg.ListenAddr, "store", cfg.StoreBackend)
				if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
				close(errCh)
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			select {
			case <-ctx.Done():
			case err, ok := <-errCh:
				if ok {
					return err
				}
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides LISTEN_ADDR)")
	return cmd
}
