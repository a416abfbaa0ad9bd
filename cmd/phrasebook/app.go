package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/at-ishikawa/phrasebook/internal/bootstrap"
	"github.com/at-ishikawa/phrasebook/internal/config"
	"github.com/at-ishikawa/phrasebook/internal/database"
	"github.com/at-ishikawa/phrasebook/internal/errreport"
	"github.com/at-ishikawa/phrasebook/internal/inference/openai"
	"github.com/at-ishikawa/phrasebook/internal/kvstore"
	"github.com/at-ishikawa/phrasebook/internal/learning"
	"github.com/at-ishikawa/phrasebook/internal/migration"
	"github.com/at-ishikawa/phrasebook/internal/remote"
	"github.com/at-ishikawa/phrasebook/internal/remote/connectstore"
	"github.com/at-ishikawa/phrasebook/internal/remote/mysqlstore"
	"github.com/at-ishikawa/phrasebook/internal/retryqueue"
	"github.com/at-ishikawa/phrasebook/internal/storage"
)

const deviceIDKey = "device_id"

// appContext holds everything a command needs once the local data is loaded.
type appContext struct {
	cfg          *config.Config
	local        kvstore.Store
	reporter     *errreport.Reporter
	orchestrator *storage.Orchestrator
	service      *learning.Service
}

type openOptions struct {
	generator bool
}

// runApp loads the data and runs fn. Every resource opened on the way is
// released after fn returns or the process is interrupted.
func runApp(cmd *cobra.Command, opts openOptions, fn func(ctx context.Context, a *appContext) error) error {
	app := bootstrap.New()
	return app.Run(cmd.Context(), func(ctx context.Context) error {
		a, err := openApp(ctx, app, cmd.ErrOrStderr(), opts)
		if err != nil {
			return err
		}
		return fn(ctx, a)
	})
}

// openLocal opens the on-device store without migrating it.
func openLocal(ctx context.Context, app *bootstrap.App) (*config.Config, kvstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loadConfig() > %w", err)
	}
	db, err := database.OpenSQLite(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("database.OpenSQLite() > %w", err)
	}
	app.Closer("sqlite", db.Close)

	local, err := kvstore.NewSQLiteStore(ctx, db, cfg.Storage.Namespace, cfg.Storage.CompressThreshold)
	if err != nil {
		return nil, nil, fmt.Errorf("kvstore.NewSQLiteStore() > %w", err)
	}
	return cfg, local, nil
}

func openApp(ctx context.Context, app *bootstrap.App, errOut io.Writer, opts openOptions) (*appContext, error) {
	cfg, local, err := openLocal(ctx, app)
	if err != nil {
		return nil, err
	}

	reporter := errreport.NewReporter(cfg.Sync.ErrorThrottle, time.Now)
	unsubscribe := reporter.Subscribe(printEvent(errOut))
	app.OnShutdown("error reporter", func(context.Context) error {
		unsubscribe()
		return nil
	})

	if _, err := migration.NewRunner(local, migration.WithReporter(reporter)).Run(ctx); err != nil {
		return nil, fmt.Errorf("migration.Run() > %w", err)
	}

	queue, err := retryqueue.New(ctx, local, retryqueue.WithMaxAttempts(cfg.Sync.RetryMaxAttempts))
	if err != nil {
		return nil, fmt.Errorf("retryqueue.New() > %w", err)
	}
	store, err := newRemote(ctx, app, cfg)
	if err != nil {
		return nil, err
	}
	device, err := deviceID(ctx, local, cfg.Remote.DeviceID)
	if err != nil {
		return nil, err
	}

	orchestrator := storage.New(local,
		storage.WithRemote(store, cfg.Remote.UserID, device),
		storage.WithRetryQueue(queue),
		storage.WithReporter(reporter),
		storage.WithDebounce(cfg.Sync.Debounce),
	)
	app.OnShutdown("orchestrator", func(ctx context.Context) error {
		orchestrator.Flush(ctx)
		orchestrator.Close()
		return nil
	})
	if err := orchestrator.Load(ctx); err != nil {
		return nil, fmt.Errorf("orchestrator.Load() > %w", err)
	}

	serviceOpts := []learning.Option{learning.WithTombstoneTTL(cfg.Scheduler.TombstoneTTL)}
	if opts.generator {
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.RetryAttempts)
		app.Closer("openai", client.Close)
		serviceOpts = append(serviceOpts, learning.WithGenerator(client))
	}

	return &appContext{
		cfg:          cfg,
		local:        local,
		reporter:     reporter,
		orchestrator: orchestrator,
		service:      learning.NewService(orchestrator, serviceOpts...),
	}, nil
}

// newRemote returns nil when syncing is disabled.
func newRemote(ctx context.Context, app *bootstrap.App, cfg *config.Config) (remote.DocumentStore, error) {
	if !cfg.Remote.Enabled() {
		return nil, nil
	}
	switch cfg.Remote.Kind {
	case config.RemoteKindMySQL:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("database.Open() > %w", err)
		}
		app.Closer("mysql", db.Close)
		if err := mysqlstore.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("mysqlstore.Migrate() > %w", err)
		}
		return mysqlstore.New(db, cfg.Remote.PollInterval), nil
	case config.RemoteKindConnect:
		return connectstore.New(&http.Client{Timeout: 30 * time.Second}, cfg.Remote.URL), nil
	}
	return nil, fmt.Errorf("unknown remote kind %q", cfg.Remote.Kind)
}

// deviceID returns the configured id, or one generated on first use and kept in the local store.
func deviceID(ctx context.Context, local kvstore.Store, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	id, ok, err := kvstore.GetJSON[string](ctx, local, deviceIDKey)
	if err != nil {
		return "", fmt.Errorf("kvstore.GetJSON(%s) > %w", deviceIDKey, err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := kvstore.SetJSON(ctx, local, deviceIDKey, id); err != nil {
		return "", fmt.Errorf("kvstore.SetJSON(%s) > %w", deviceIDKey, err)
	}
	return id, nil
}

func printEvent(w io.Writer) func(errreport.Event) {
	red := color.New(color.FgRed)
	return func(event errreport.Event) {
		_, _ = red.Fprintf(w, "⚠ %s\n", event.Error())
	}
}
