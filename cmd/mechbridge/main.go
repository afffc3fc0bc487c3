// Command mechbridge pairs WalletConnect peers with a mech and signs their
// requests through the configured upstream signer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/isabella232/mech/api"
	"github.com/isabella232/mech/bridge"
	"github.com/isabella232/mech/config"
	"github.com/isabella232/mech/dispatch"
	"github.com/isabella232/mech/loadbalance"
	"github.com/isabella232/mech/logging"
	"github.com/isabella232/mech/metadata"
	"github.com/isabella232/mech/middleware"
	"github.com/isabella232/mech/registry"
	"github.com/isabella232/mech/relay"
	"github.com/isabella232/mech/session"
	"github.com/isabella232/mech/signer"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "mechbridge.toml", "Path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mechbridge: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, "mechbridge")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Fatal error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	store, err := registry.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()
	reg := registry.New(store, registry.Namespace(cfg.Bridge.ChainID, cfg.Bridge.MechAddress), log)

	balancer, err := loadbalance.New(cfg.Signer.Strategy)
	if err != nil {
		return err
	}
	rpc, err := signer.NewRPCSigner(signer.RPCOptions{
		Endpoints: cfg.SignerEndpoints(),
		Balancer:  balancer,
		From:      cfg.Signer.From,
		Timeout:   cfg.SignerTimeout(),
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	authority := signer.NewHolder(rpc)
	dispatcher := dispatch.New(cfg.Bridge.MechAddress, authority, log)

	self := metadata.New(cfg.SelfMetadata())
	link, err := relay.Dial(ctx, relay.Options{
		URL:          cfg.Relay.URL,
		ProjectID:    cfg.Relay.ProjectID,
		Metadata:     self.Self(),
		PingInterval: cfg.PingInterval(),
		Log:          log,
	})
	if err != nil {
		return err
	}
	defer link.Close()
	modernClient, err := link.Modern(ctx)
	if err != nil {
		return fmt.Errorf("init modern client: %w", err)
	}

	b := bridge.New(bridge.Options{
		ChainID:       cfg.Bridge.ChainID,
		MechAddress:   cfg.Bridge.MechAddress,
		Registry:      reg,
		Dial:          link.Dialer(),
		Modern:        modernClient,
		Handler:       dispatcher.Handle,
		ReconcileSpec: cfg.Modern.Reconcile,
		Log:           log,
	})
	b.Use(middleware.RecoverMiddleware(log))
	b.Use(middleware.LoggingMiddleware(log))
	limiter := middleware.NewSessionLimiter(cfg.Dispatch.RatePerSecond, cfg.Dispatch.Burst)
	b.Use(limiter.Middleware())
	b.Use(middleware.RetryMiddleware(cfg.Dispatch.ReadRetries,
		time.Duration(cfg.Dispatch.RetryBaseDelayMS)*time.Millisecond, log, dispatch.WrappedMethods...))
	b.Use(middleware.SlowRequestMiddleware(time.Duration(cfg.Dispatch.SlowRequestMS)*time.Millisecond, log))

	if err := b.Start(ctx); err != nil {
		return err
	}

	unsubscribe := b.Subscribe(func(list []session.WithMetadata) {
		limiter.Retain(list)
		log.Info().Int("sessions", len(list)).Msg("Session list changed")
	})
	defer unsubscribe()

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewRouter(b, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.API.Addr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case <-link.Done():
		log.Error().Err(link.Err()).Msg("Relay link lost")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("API server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API shutdown")
	}
	if err := b.Shutdown(shutdownTimeout); err != nil {
		return err
	}
	return link.Err()
}
