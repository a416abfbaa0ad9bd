package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/at-ishikawa/phrasebook/internal/bootstrap"
	"github.com/at-ishikawa/phrasebook/internal/config"
	"github.com/at-ishikawa/phrasebook/internal/database"
	"github.com/at-ishikawa/phrasebook/internal/remote"
	"github.com/at-ishikawa/phrasebook/internal/remote/mysqlstore"
	"github.com/at-ishikawa/phrasebook/internal/server"
)

const HealthPath = "/healthz"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("config.LoadDotEnv() > %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loadConfig() > %w", err)
	}

	app := bootstrap.New()
	return app.Run(context.Background(), func(ctx context.Context) error {
		store, err := newDocumentStore(ctx, app, cfg)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newHandler(store, cfg.Server.CORS.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		app.OnShutdown("http server", srv.Shutdown)

		slog.Default().Info("starting server", "addr", srv.Addr, "store", cfg.Server.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ListenAndServe() > %w", err)
		}
		return nil
	})
}

func newHandler(store remote.DocumentStore, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	server.NewSyncHandler(store, allowedOrigins).Register(mux)
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return corsMiddleware(allowedOrigins, h2c.NewHandler(mux, &http2.Server{}))
}

func newDocumentStore(ctx context.Context, app *bootstrap.App, cfg *config.Config) (remote.DocumentStore, error) {
	if cfg.Server.Store != config.RemoteKindMySQL {
		slog.Default().Warn("documents are kept in memory and lost on restart")
		return remote.NewMemoryStore(), nil
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database.Open() > %w", err)
	}
	app.Closer("mysql", db.Close)
	if err := mysqlstore.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("mysqlstore.Migrate() > %w", err)
	}
	return mysqlstore.New(db, cfg.Remote.PollInterval), nil
}

func loadConfig() (*config.Config, error) {
	configFile := os.Getenv("PHRASEBOOK_CONFIG")
	loader, err := config.NewConfigLoader(configFile)
	if err != nil {
		return nil, fmt.Errorf("config.NewConfigLoader() > %w", err)
	}
	return loader.Load()
}

func corsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(allowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
				"Content-Type", "Connect-Protocol-Version", "Connect-Timeout-Ms",
			}, ", "))
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
