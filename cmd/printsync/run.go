package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"printsync/internal/config"
	"printsync/internal/httpapi"
	"printsync/internal/manager"
	"printsync/internal/notify"
	"printsync/internal/queue"
	"printsync/internal/store"
	"printsync/internal/store/backends"
	"printsync/internal/syncer"
)

const shutdownTimeout = 5 * time.Second

// run wires the bridge and blocks until ctx ends or the HTTP server fails.
func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := backends.Open(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	mode, err := syncer.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return err
	}
	coord := syncer.New(st, syncer.Options{
		Collection:  cfg.Store.Collection,
		DocumentKey: cfg.Store.DocumentKey,
		Mode:        mode,
		Interval:    cfg.Sync.Interval.Std(),
		Logger:      log,
	})
	mgr, err := manager.NewWithConfig(manager.ManagerConfig{
		MoonrakerURL:    cfg.Moonraker.URL,
		MetadataTimeout: cfg.Moonraker.MetadataTimeout.Std(),
		Coordinator:     coord,
		Publisher:       manager.NewLogPublisher(log),
		Logger:          log,
	})
	if err != nil {
		return err
	}

	var n *queue.Notifier
	if cfg.Notifier.Enabled {
		if n, err = newNotifier(cfg.Notifier, st, log); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Run(ctx)
	}()

	if n != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("queue notifier stopped")
			}
		}()
	}

	var srv *http.Server
	srvErr := make(chan error, 1)
	if cfg.HTTP.Addr != "" {
		httpapi.SetLogger(log)
		httpapi.SetCORSOptions(len(cfg.HTTP.CORSOrigins) > 0, cfg.HTTP.CORSOrigins, nil, nil)
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.NewMux(mgr),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.HTTP.Addr).Msg("ops http listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()
	}

	log.Info().
		Str("moonraker", cfg.Moonraker.URL).
		Str("store", cfg.Store.Backend).
		Str("document", coord.Document()).
		Str("sync_mode", mode.String()).
		Bool("notifier", cfg.Notifier.Enabled).
		Msg("printsync starting")

	runErr := mgr.Run(ctx)

	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown error")
		}
	}
	cancel()
	wg.Wait()
	log.Info().Msg("printsync stopped")

	select {
	case err := <-srvErr:
		return err
	default:
		return runErr
	}
}

func newNotifier(cfg config.NotifierConfig, st store.Store, log zerolog.Logger) (*queue.Notifier, error) {
	sender, err := notify.NewHTTPSender(cfg.Endpoint,
		notify.WithTimeout(cfg.Timeout.Std()),
		notify.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	return queue.NewNotifier(st, sender, queue.Options{
		QueueCollection:  cfg.QueueCollection,
		QueueKey:         cfg.QueueKey,
		UsersCollection:  cfg.UsersCollection,
		PublicStreamLink: cfg.PublicStreamLink,
		MessageTemplate:  cfg.MessageTemplate,
		Logger:           log,
	}), nil
}
