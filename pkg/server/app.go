package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	drepo "FinPulse/internal/domain/repository"
	"FinPulse/internal/usecase"
	"FinPulse/pkg/config"
	xhttp "FinPulse/pkg/http"
	applogger "FinPulse/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	store      drepo.Store
	ingestion  *usecase.IngestionEngine
	scoring    *usecase.ScoringEngine
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	store drepo.Store,
	ingestion *usecase.IngestionEngine,
	scoring *usecase.ScoringEngine,
	httpServer *xhttp.Server,
) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{
		cfg:        cfg,
		l:          l,
		store:      store,
		ingestion:  ingestion,
		scoring:    scoring,
		httpServer: httpServer,
	}
}

// Run starts the application and blocks until interrupted or until the
// ingestion engine gives up.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext is Run with an externally controlled lifetime.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("http server start: %w", err)
		}
	}

	var wg sync.WaitGroup
	ingestErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ingestErr <- a.ingestion.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.scoring.Run(runCtx); err != nil {
			a.l.Error("scoring engine stopped", applogger.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.statusLoop(runCtx)
	}()

	a.l.Info("finpulse started",
		applogger.String("environment", a.cfg.Environment),
		applogger.String("storage", a.cfg.Storage.Backend),
		applogger.Int("port", a.cfg.Server.Port),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
	case err := <-ingestErr:
		if errors.Is(err, usecase.ErrReconnectsExhausted) {
			a.l.Error("ingestion gave up, shutting down", applogger.Error(err))
			runErr = err
		} else if err != nil {
			a.l.Error("ingestion stopped", applogger.Error(err))
			runErr = err
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer done()
	if err := a.ingestion.Shutdown(shutdownCtx); err != nil {
		a.l.Warn("ingestion shutdown", applogger.Error(err))
	}
	cancel()
	wg.Wait()

	a.shutdown(shutdownCtx)
	return runErr
}

// shutdown stops the API. Infrastructure clients are released by the
// injector's cleanup once Run returns.
func (a *App) shutdown(ctx context.Context) {
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}
	a.l.Info("shutdown complete")
}

// statusLoop logs a one-line summary of the pipeline at a fixed cadence.
func (a *App) statusLoop(ctx context.Context) {
	every := a.cfg.Ingestion.StatusInterval
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.logStatus(ctx)
		}
	}
}

func (a *App) logStatus(ctx context.Context) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.l.Warn("status: stats unavailable", applogger.Error(err))
		}
		return
	}
	a.l.Info("status",
		applogger.String("state", a.ingestion.State().String()),
		applogger.Bool("connected", a.ingestion.IsConnected()),
		applogger.Int("universe", len(a.ingestion.Symbols())),
		applogger.Int64("symbols", stats.SymbolCount),
		applogger.Int64("klines", stats.CandleCount),
		applogger.Int64("anomalies_24h", stats.Anomalies24h),
	)
}
