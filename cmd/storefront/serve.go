package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/fragments"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/events"
	"github.com/hanko-field/storefront/internal/platform/kv"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/search"
	"github.com/hanko-field/storefront/internal/web"
	mw "github.com/hanko-field/storefront/internal/web/middleware"
)

const healthNamespace = "_health"

func newServeCommand(opts *rootOptions) *cobra.Command {
	var templatesDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the storefront HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, templatesDir)
		},
	}
	cmd.Flags().StringVar(&templatesDir, "templates", "", "Template directory reparsed on every request in dev mode")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, templatesDir string) error {
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	logger := a.logger
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()
	ctx = observability.WithLogger(ctx, logger)
	hook := observability.EventLogger(logger)

	var wg sync.WaitGroup
	defer wg.Wait()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Events.Enabled() {
		relay, err := startRelay(runCtx, a, &wg)
		if err != nil {
			return err
		}
		defer relay.Stop()
	}

	searches, err := search.NewSessions(func(ns string) (*search.Overlay, error) {
		store, err := a.carts.Store(ns)
		if err != nil {
			return nil, err
		}
		return search.NewOverlay(search.OverlayDeps{
			Catalog:  a.catalog,
			Cart:     store,
			Limit:    cfg.Search.Limit,
			Debounce: cfg.Search.Debounce,
			Logger:   hook,
		})
	}, cfg.Search.IdleTTL, nil)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		searches.Run(runCtx, time.Minute)
	}()

	loader, closeFragments, err := fragments.Open(ctx, cfg.Fragments, cfg.DevMode, fragments.WithLogger(hook))
	if err != nil {
		return err
	}
	a.onClose(closeFragments)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reloadOnSignal(runCtx, hup, logger, a.catalog, loader)
	}()

	sessions, err := mw.NewSessionManager(mw.SessionConfig{
		Secret:     []byte(cfg.Session.Secret),
		CookieName: cfg.Session.CookieName,
		Path:       firstNonEmpty(cfg.Site.Mount, "/"),
		Secure:     cfg.Session.CookieSecure,
		TTL:        cfg.Session.TTL,
	})
	if errors.Is(err, mw.ErrEphemeralKey) {
		logger.Warn("STOREFRONT_SESSION_SECRET is not set; sessions will not survive a restart")
	} else if err != nil {
		return err
	}

	srv, err := web.New(web.Deps{
		Config:       cfg,
		Catalog:      a.catalog,
		Carts:        a.carts,
		Checkout:     a.checkout,
		Searches:     searches,
		Fragments:    loader,
		Bundle:       a.bundle,
		Sessions:     sessions,
		Logger:       logger,
		TemplatesDir: templatesDir,
		Ready:        storageReady(a.kv),
	})
	if err != nil {
		return err
	}
	httpServer := srv.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("storefront listening",
			zap.String("addr", httpServer.Addr),
			zap.String("mount", cfg.Site.Mount),
			zap.String("storage", cfg.Storage.Backend),
			zap.Bool("devMode", cfg.DevMode))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func startRelay(ctx context.Context, a *app, wg *sync.WaitGroup) (*events.PubSubRelay, error) {
	cfg := a.cfg.Events
	client, err := events.NewPubSubClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.onClose(client.Close)
	topic, sub, err := events.EnsureTopology(ctx, client, cfg.Topic, cfg.Subscription)
	if err != nil {
		return nil, err
	}
	relay, err := events.NewPubSubRelay(a.bus, topic, sub, observability.EventLogger(a.logger.Named("relay")))
	if err != nil {
		return nil, err
	}
	if sub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil {
				a.logger.Error("event relay stopped", zap.Error(err))
			}
		}()
	}
	a.logger.Info("event relay enabled", zap.String("topic", cfg.Topic), zap.String("subscription", cfg.Subscription))
	return relay, nil
}

type invalidator interface {
	Invalidate()
}

// reloadOnSignal drops the catalog and fragment caches each time sig fires, so edited
// fragments and catalog changes show up without a restart.
func reloadOnSignal(ctx context.Context, sig <-chan os.Signal, logger *zap.Logger, caches ...invalidator) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			for _, c := range caches {
				c.Invalidate()
			}
			logger.Info("caches invalidated", zap.String("signal", s.String()))
		}
	}
}

// storageReady checks the key/value store. A missing key is a healthy answer.
func storageReady(store kv.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := store.Get(ctx, healthNamespace, "ping")
		if err == nil || kv.IsNotFound(err) {
			return nil
		}
		return err
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
