package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"pricemesh/internal/domain/repository"
	"pricemesh/internal/gossip"
	"pricemesh/pkg/config"
	xhttp "pricemesh/pkg/http"
	applogger "pricemesh/pkg/logger"
)

// App encapsulates the entire node lifecycle: gossip manager, transport
// and admin HTTP server.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	mgr        *gossip.Manager
	transport  repository.Transport
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	mgr *gossip.Manager,
	transport repository.Transport,
	handler xhttp.Handler,
) *App {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	httpServer := xhttp.NewServer(handler,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(log),
	)

	return &App{
		cfg:        cfg,
		log:        log,
		mgr:        mgr,
		transport:  transport,
		httpServer: httpServer,
	}
}

// Run starts the node and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.mgr.Start(ctx); err != nil {
		return err
	}
	a.log.Info("node started",
		applogger.String("node", a.mgr.NodeID()),
		applogger.String("transport", a.cfg.Transport.Type),
		applogger.Int("capacity", a.cfg.Store.Capacity))

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	// Stop gossiping first so no round publishes into a closing transport.
	a.mgr.Stop()

	if err := a.transport.Close(); err != nil {
		a.log.Warn("transport close error", applogger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		return err
	}

	a.log.Info("shutdown complete")
	return nil
}
