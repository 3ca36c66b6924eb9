package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tutorly/tutorly-go/notify"
)

const defaultServeAddr = ":8080"

var (
	serveAddr     string
	serveDatabase string

	tokenTTL time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification server",
	Long: `Run the notification server:

  /ws                       realtime sessions (token query parameter or bearer header)
  /api/notifications        notification list and read markers
  /webhooks/marketplace     signed marketplace events that create notifications
  /metrics                  Prometheus metrics

Notifications live in memory unless --db names a SQLite file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Server.JWTSecret == "" {
			return fmt.Errorf("server.jwt_secret is required (config or TUTORLY_JWT_SECRET)")
		}
		addr := firstNonEmpty(serveAddr, cfg.Server.Addr, defaultServeAddr)
		dbPath := firstNonEmpty(serveDatabase, cfg.Server.Database)

		logger, err := newServerLogger()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync()

		var store notify.Store = notify.NewMemoryStore()
		if dbPath != "" {
			db, err := notify.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			store = db
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		secret := []byte(cfg.Server.JWTSecret)
		hub := notify.NewHub(secret, notify.WithHubLogger(logger.Named("hub")), notify.WithHubRegisterer(reg))
		dispatcher := notify.NewDispatcher(store, hub, notify.WithLogger(logger.Named("dispatcher")))
		api := notify.NewAPI(store, secret, logger.Named("api"))

		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		mux.Handle("/api/notifications", api)
		mux.Handle("/api/notifications/", api)
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		if cfg.Server.WebhookSecret != "" {
			webhook, err := notify.NewWebhookHandler(cfg.Server.WebhookSecret, dispatcher, logger.Named("webhook"))
			if err != nil {
				return err
			}
			mux.Handle("/webhooks/marketplace", webhook.HTTPHandler())
		} else {
			logger.Warn("webhook_disabled", zap.String("reason", "server.webhook_secret not set"))
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server_listening", zap.String("addr", addr), zap.Bool("sqlite", dbPath != ""))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var serveTokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a session token signed with server.jwt_secret",
	Long:  "Issue a session token for local testing. The token is accepted by 'tutorly serve' started with the same secret.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Server.JWTSecret == "" {
			return fmt.Errorf("server.jwt_secret is required (config or TUTORLY_JWT_SECRET)")
		}
		token, err := notify.IssueToken([]byte(cfg.Server.JWTSecret), args[0], tokenTTL)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default "+defaultServeAddr+")")
	serveCmd.Flags().StringVar(&serveDatabase, "db", "", "SQLite database file for notifications")
	serveTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")

	serveCmd.AddCommand(serveTokenCmd)
	rootCmd.AddCommand(serveCmd)
}

// newServerLogger logs JSON in production and readable lines with --verbose.
func newServerLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
