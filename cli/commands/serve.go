package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/server"
	"github.com/erikhoward/kirogw/telemetry"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the OpenAI-compatible HTTP gateway",
	Long: `Run the HTTP gateway.

Examples:
  kirogw serve --config kirogw.yaml
  KIRO_REFRESH_TOKEN=... kirogw serve --listen 127.0.0.1:8000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	tel := telemetry.NewLogrus(log)
	provider, err := cfg.Provider(tel)
	if err != nil {
		return err
	}
	client := core.NewClient(provider, core.WithTelemetry(tel))

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(server.Options{
		Client:      client,
		Models:      provider,
		APIKey:      cfg.APIKey,
		Logger:      log,
		Diagnostics: tel,
		Health: func() map[string]any {
			return map[string]any{
				"auth":   provider.Session().State().String(),
				"region": cfg.EffectiveRegion(),
			}
		},
	})
	if cfg.APIKey == "" {
		log.Warn("no api_key configured; the gateway accepts unauthenticated requests")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Listen).Info("kirogw listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
