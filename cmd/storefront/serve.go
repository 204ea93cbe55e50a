package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/handler"
	"storefront/internal/middleware"
)

// runMCP serves the tool surface over stdin/stdout until the client
// disconnects or the process is interrupted.
func runMCP(args []string) error {
	fs := newFlagSet("mcp", "")
	parse(fs, args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := initLogger(slog.LevelInfo)
	s, _, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info("mcp stdio server starting", slog.String("version", version))
	return handler.New(s, logger, version).RunStdio(ctx)
}

// runServe serves the tool surface over streamable HTTP with graceful
// shutdown.
func runServe(args []string) error {
	fs := newFlagSet("serve", "[-port PORT]")
	port := fs.String("port", "", "Listen port (defaults to $PORT or 8080)")
	parse(fs, args)

	logger := initLogger(slog.LevelInfo)

	ctx := context.Background()
	s, cfg, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if *port != "" {
		cfg.Port = *port
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("api_base_url", cfg.Backend.APIBaseURL),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("payment_strategy", cfg.Checkout.Strategy),
		slog.Bool("token_required", cfg.ServeToken != ""),
	)

	h := handler.New(s, logger, version)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Probes stay reachable without the serve token.
	authed := middleware.BearerToken(cfg.ServeToken)(mux)
	routes := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/healthz" {
			mux.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})

	// Recovery must be outermost to catch panics from logging middleware.
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
	)(routes)

	// No WriteTimeout: streamable HTTP holds GET streams open.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}
