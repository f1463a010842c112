// Package runtime wires the config, storage, session, poller and httpapi
// packages into three run modes: combined (poller + HTTP API in one
// process), service (poller only), and api (HTTP API only, read-only
// against an existing database). Grounded in
// original_source/src/app/runtime.rs's run_combined/run_service/run_api.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aj9599/keba-telemetry/internal/charger"
	"github.com/aj9599/keba-telemetry/internal/config"
	"github.com/aj9599/keba-telemetry/internal/httpapi"
	"github.com/aj9599/keba-telemetry/internal/poller"
	"github.com/aj9599/keba-telemetry/internal/session"
	"github.com/aj9599/keba-telemetry/internal/storage"
)

// buildKebaClient selects and constructs the charger.Client adapter named
// by cfg.KebaSource.
func buildKebaClient(cfg config.AppConfig) (charger.Client, error) {
	switch cfg.KebaSource {
	case config.SourceUDP:
		return charger.NewUDPClient(cfg.KebaIP, cfg.KebaUDPPort)
	case config.SourceModbus:
		return charger.NewModbusClient(cfg.KebaIP, cfg.ModbusPort, cfg.ModbusUnitID, cfg.ModbusEnergyWh), nil
	case config.SourceDebugFile:
		return charger.NewReplayClientFromFile(cfg.DebugDataFile)
	default:
		return nil, fmt.Errorf("unrecognized charger source %q", cfg.KebaSource)
	}
}

// runPoller drives Tick in a loop at cfg.PollInterval until ctx is
// cancelled or the debug replay transport signals clean shutdown.
func runPoller(ctx context.Context, cfg config.AppConfig, client charger.Client, commands session.CommandHandler, log zerolog.Logger) {
	p := poller.New(client, poller.SystemClock, commands, cfg.DebounceSamples, poller.Config{
		Source:            string(cfg.KebaSource),
		PollIntervalMs:    cfg.PollInterval.Milliseconds(),
		StationID:         cfg.StationID,
		ResultsOutputFile: cfg.ResultsOutputFile,
	}, log)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("poller stopping: context cancelled")
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				if poller.IsDebugReplayFinished(err) {
					log.Info().Msg("poller stopping: debug replay script exhausted")
					return
				}
				log.Warn().Err(err).Msg("poll tick failed")
				p.NotePollError(err)
			}
		}
	}
}

func runHTTPServer(ctx context.Context, bind string, handler http.Handler, log zerolog.Logger) error {
	server := &http.Server{
		Addr:              bind,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("bind", bind).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// RunService starts only the polling loop against cfg's charger source and
// database. Blocks until ctx is cancelled or the debug replay script is
// exhausted.
func RunService(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) error {
	client, err := buildKebaClient(cfg)
	if err != nil {
		return fmt.Errorf("build charger client: %w", err)
	}

	db, err := storage.OpenWriter(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open writer database: %w", err)
	}
	defer db.Close()

	commands := session.New(db)
	runPoller(ctx, cfg, client, commands, log)
	return nil
}

// RunAPI starts only the read-only HTTP query surface against an existing
// database. Blocks until ctx is cancelled.
func RunAPI(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) error {
	db, err := storage.OpenReader(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open reader database: %w", err)
	}
	defer db.Close()

	queries := session.New(db)
	version, err := queries.GetSchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version == 0 {
		return fmt.Errorf("database %q has no schema: run keba-createdb or start the service first", cfg.DBPath)
	}

	handler := httpapi.Router(queries, log)
	return runHTTPServer(ctx, cfg.HTTPBind, handler, log)
}

// RunCombined starts the poller and the HTTP API in the same process,
// sharing one writer database connection via session.Service. Blocks until
// ctx is cancelled or the HTTP server fails. A poller that stops on its own
// (debug replay script exhausted) leaves the HTTP server running.
func RunCombined(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) error {
	client, err := buildKebaClient(cfg)
	if err != nil {
		return fmt.Errorf("build charger client: %w", err)
	}

	db, err := storage.OpenWriter(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open writer database: %w", err)
	}
	defer db.Close()

	svc := session.New(db)
	handler := httpapi.Router(svc, log)

	pollerCtx, cancelPoller := context.WithCancel(ctx)
	defer cancelPoller()

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		runPoller(pollerCtx, cfg, client, svc, log)
	}()

	httpErr := runHTTPServer(ctx, cfg.HTTPBind, handler, log)
	cancelPoller()
	<-pollerDone

	return httpErr
}
