package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/checkout"
	"github.com/hanko-field/storefront/internal/i18n"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/events"
	"github.com/hanko-field/storefront/internal/platform/kv"
	"github.com/hanko-field/storefront/internal/platform/observability"
)

const defaultSession = "local"

type rootOptions struct {
	session string
	envFile string
	// extra config options, used by tests to isolate the environment
	configOpts []config.Option
}

func newRootCommand(configOpts ...config.Option) *cobra.Command {
	opts := &rootOptions{configOpts: configOpts}
	cmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront server and command line shop",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.session, "session", defaultSession, "Cart namespace used by the command line")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file with configuration overrides")

	cmd.AddCommand(
		newServeCommand(opts),
		newCatalogCommand(opts),
		newProductCommand(opts),
		newCartCommand(opts),
		newSearchCommand(opts),
		newCheckoutCommand(opts),
		newOrderCommand(opts),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	opts := append([]config.Option{config.WithEnvFile(o.envFile)}, o.configOpts...)
	return config.Load(opts...)
}

func (o *rootOptions) namespace() (string, error) {
	ns := strings.TrimSpace(o.session)
	if ns == "" {
		return "", errors.New("--session must not be empty")
	}
	return ns, nil
}

// app holds the services shared by every command.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	kv       kv.Store
	bus      *events.Bus
	catalog  *catalog.Client
	carts    *cart.Manager
	checkout *checkout.Service
	bundle   *i18n.Bundle

	closers []func() error
}

// newApp wires storage, catalog and services. Commands other than serve keep their state
// between invocations, so the in-memory backend is swapped for SQLite there.
func newApp(ctx context.Context, cfg config.Config, persistent bool) (*app, error) {
	newLogger := observability.NewLogger
	if persistent {
		newLogger = func(level string) (*zap.Logger, error) {
			return observability.NewLoggerTo(level, "stderr")
		}
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger = logger.Named("storefront")
	hook := observability.EventLogger(logger)

	storage := cfg.Storage
	if persistent && (storage.Backend == "" || storage.Backend == config.StorageBackendMemory) {
		storage.Backend = config.StorageBackendSQLite
	}
	store, err := kv.Open(ctx, storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, kv: store}
	a.closers = append(a.closers, store.Close)

	a.bus = newBus(logger)
	a.catalog = catalog.NewClient(cfg.Catalog.BaseURL,
		catalog.WithHTTPClient(&http.Client{Timeout: cfg.Catalog.Timeout}),
		catalog.WithCacheTTL(cfg.Catalog.CacheTTL),
		catalog.WithLogger(hook),
	)
	if a.carts, err = cart.NewManager(cart.ManagerDeps{KV: store, Bus: a.bus, Logger: hook}); err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.checkout, err = checkout.NewService(checkout.ServiceDeps{
		Carts:           a.carts,
		KV:              store,
		Shipping:        cfg.Checkout.ShippingMethods,
		TaxRate:         &cfg.Checkout.TaxRate,
		ProcessingDelay: cfg.Checkout.ProcessingDelay,
		Logger:          hook,
	}); err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.bundle, err = i18n.Default(cfg.Site.DefaultLocale, cfg.Site.SupportedLocales); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func newBus(logger *zap.Logger) *events.Bus {
	return events.NewBus(events.WithLogger(observability.EventLogger(logger.Named("events"))))
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// lang is the locale used for command line output.
func (a *app) lang() string {
	return a.bundle.Fallback()
}

// withApp loads configuration, builds the app for a one-shot command and runs fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app, ns string) error) error {
	ns, err := opts.namespace()
	if err != nil {
		return err
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("shutdown error", zap.Error(err))
		}
	}()
	return fn(observability.WithLogger(ctx, a.logger), a, ns)
}
