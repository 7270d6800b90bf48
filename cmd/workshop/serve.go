package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/airheartdev/workshop"
	"github.com/airheartdev/workshop/memory"
	"github.com/airheartdev/workshop/postgres"
	"github.com/airheartdev/workshop/shape"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(config.Logging)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openBackend(ctx, config, logger)
		if err != nil {
			return err
		}
		defer store.close()

		events := workshop.NewEvents()
		api := workshop.New(store.backend,
			workshop.WithLogger(logger),
			workshop.WithShapes(store.shapes),
			workshop.WithNotifier(events),
		)

		server := &http.Server{
			Addr:              config.Server.Addr,
			Handler:           api.Routes(),
			ReadHeaderTimeout: config.Server.ReadHeaderTimeout,
		}
		server.RegisterOnShutdown(store.release)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.ListenAndServe()
		}()
		logger.Infof("Listening on %s (%s backend)", config.Server.Addr, config.Backend)

		select {
		case <-ctx.Done():
			logger.Info("Shutting down...")
		case err := <-errChan:
			events.Close()
			return err
		}

		events.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("Server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type openedBackend struct {
	backend workshop.Backend
	shapes  workshop.ShapeSource
	release func() // ends long-lived requests so shutdown can drain
	close   func()
}

// openBackend returns the configured row store and where its shapes are
// served from. The memory backend serves its own shapes; postgres relies on
// the change-stream service.
func openBackend(ctx context.Context, config *Config, logger *logrus.Logger) (*openedBackend, error) {
	switch config.Backend {
	case BackendPostgres:
		backend, err := postgres.Open(ctx, config.Database.URL, config.Database.MaxConns, logger)
		if err != nil {
			return nil, err
		}
		opened := &openedBackend{backend: backend, release: func() {}, close: backend.Close}

		if config.Electric.URL == "" {
			logger.Warn("electric.url is not set, /shape requests will fail")
			return opened, nil
		}
		proxy, err := shape.NewProxy(config.Electric.URL, config.Electric.SourceID, config.Electric.SourceSecret, shape.WithProxyLogger(logger))
		if err != nil {
			backend.Close()
			return nil, err
		}
		opened.shapes = proxy.Handler
		return opened, nil

	default:
		if config.Electric.URL != "" {
			logger.Warn("electric.url is ignored by the memory backend")
		}
		backend := memory.New(memory.WithLogger(logger))
		return &openedBackend{
			backend: backend,
			shapes:  backend.ShapeHandler,
			release: backend.Close,
			close:   func() {},
		}, nil
	}
}
