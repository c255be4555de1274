package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"triagechat/internal/bootstrap"
	httptransport "triagechat/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.Log.Error("close resources failed", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              app.Config.HTTPAddr(),
		Handler:           httptransport.NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		app.Log.Info("server starting", "addr", server.Addr, "env", app.Config.App.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	// Turns in flight get the generation timeout to finish before the
	// process drops the connection.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.GenerationTimeout()+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.Log.Error("server shutdown failed", "error", err)
	}
	app.Log.Info("server stopped")
	return nil
}
