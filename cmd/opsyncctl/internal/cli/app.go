package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opsync/opsync"
	"github.com/opsync/opsync/config"
	"github.com/opsync/opsync/internal/telemetry"
	"github.com/opsync/opsync/remote"
	"github.com/opsync/opsync/resolve"
	"github.com/opsync/opsync/storage"
	"github.com/opsync/opsync/syncengine"
)

// app bundles everything a subcommand needs: the loaded config, a logger,
// the storage handle (so the caller can Close it), and a constructed
// Facade wired with the demo widget adapter and a last-write-wins resolver.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  storage.Contract
	facade *opsync.Facade

	shutdownTelemetry func(context.Context) error
}

func newApp(opts *RootOptions) (*app, error) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", opts.ConfigPath, err)
	}

	shutdownTelemetry := func(context.Context) error { return nil }
	if cfg.Telemetry != nil {
		shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			shutdownTelemetry = shutdown
		}
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	if err := store.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	adapters := remote.NewRegistry()
	adapters.Register(newDemoWidgetAdapter())

	resolvers := map[string]resolve.ConflictResolver{
		"widget": resolve.LastWriteWins{},
	}

	facade := opsync.New(opsync.Options{
		Store:    store,
		Adapters: adapters,
		Resolvers: resolvers,
		Engine: syncengine.Config{
			DeviceID:    cfg.DeviceID,
			MaxRetries:  cfg.MaxRetries,
			Reduce:      cfg.Reduce,
			StopOnError: cfg.StopOnError,
		},
		Logger: logger,
	})

	return &app{
		cfg:               cfg,
		logger:            logger,
		store:             store,
		facade:            facade,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

func (a *app) Close() {
	a.facade.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error("closing storage", "error", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTelemetry(flushCtx); err != nil {
		a.logger.Error("telemetry shutdown error", "error", err)
	}
}

func openStorage(cfg config.StorageConfig) (storage.Contract, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		path := cfg.Path
		if path == "" {
			defaultPath, err := storage.DefaultDBPath()
			if err != nil {
				return nil, err
			}
			path = defaultPath
		}
		return storage.OpenSQLite(path)
	}
}
