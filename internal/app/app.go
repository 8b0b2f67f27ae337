// ABOUTME: Startup wiring from config to key, cipher, store, relay, and broadcaster
// ABOUTME: App owns the long-lived components and releases them on Close

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/aethos/internal/config"
	"github.com/2389/aethos/internal/events"
	"github.com/2389/aethos/internal/relay"
	"github.com/2389/aethos/internal/store"
	"github.com/2389/aethos/internal/vault"
)

// App holds the process-lifetime components. It is constructed once at
// startup and passed to whatever serves commands.
type App struct {
	cfg         *config.Config
	resolver    *vault.Resolver
	store       *store.SQLiteStore
	broadcaster *events.Broadcaster
	relay       *relay.Relay
	logger      *slog.Logger
}

// Option configures New.
type Option func(*options)

type options struct {
	platform    vault.KeyBackend
	platformSet bool
	clientOpts  []relay.ClientOption
}

// WithKeyBackend replaces the platform key backend chosen from config. A nil
// backend disables the platform store.
func WithKeyBackend(b vault.KeyBackend) Option {
	return func(o *options) {
		o.platform = b
		o.platformSet = true
	}
}

// WithClientOptions passes extra options to the provider HTTP client.
func WithClientOptions(opts ...relay.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// New resolves the master key and opens every component. A failure here is
// fatal for the process.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	platform := o.platform
	if !o.platformSet && cfg.Keyring.IsEnabled() {
		platform = vault.NewKeyringBackend(cfg.Keyring.Service, cfg.Keyring.Account)
	}
	resolver := vault.NewResolver(platform, vault.NewFileBackend(cfg.Data.KeyFile),
		vault.WithResolverLogger(logger))

	key, err := resolver.ResolveMasterKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving master key: %w", err)
	}
	cipher, err := vault.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Data.DatabasePath, cipher,
		store.WithDriver(cfg.Database.Driver),
		store.WithBusyTimeout(cfg.Database.BusyTimeout),
		store.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	clientOpts := append([]relay.ClientOption{
		relay.WithTimeouts(cfg.Chat.RequestTimeout, cfg.Chat.StreamTimeout),
		relay.WithClientLogger(logger),
	}, o.clientOpts...)
	client := relay.NewClient(cfg.Chat.Providers, clientOpts...)

	broadcaster := events.NewBroadcaster(logger)
	r := relay.New(st, client, broadcaster, relay.Config{
		FallbackModel:  cfg.Chat.FallbackModel,
		TitlePolicy:    cfg.Chat.TitlePolicy,
		TitleMaxLength: cfg.Chat.TitleMaxLength,
	}, logger)

	logger.Info("aethos ready",
		"database", cfg.Data.DatabasePath,
		"driver", cfg.Database.Driver,
		"key_source", resolver.Source())

	return &App{
		cfg:         cfg,
		resolver:    resolver,
		store:       st,
		broadcaster: broadcaster,
		relay:       r,
		logger:      logger.With("component", "app"),
	}, nil
}

// Events returns the broadcaster that receives chat:chunk and
// conversation:title events.
func (a *App) Events() *events.Broadcaster {
	return a.broadcaster
}

// KeySource names where the master key came from.
func (a *App) KeySource() string {
	return a.resolver.Source()
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Close releases the broadcaster and the store.
func (a *App) Close() error {
	a.broadcaster.Close()
	return a.store.Close()
}
