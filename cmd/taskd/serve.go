package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

const shutdownTimeout = 15 * time.Second

// servers are the two listeners taskd serves on.
type servers struct {
	http    *http.Server
	httpLis net.Listener
	grpc    *grpc.Server
	grpcLis net.Listener
	health  *health.Server
}

// run serves until a signal arrives on stop, ctx is cancelled, or either
// server fails. It returns only after both servers have drained, so callers
// may release the engine afterwards.
func (s *servers) run(ctx context.Context, logger *slog.Logger, stop <-chan os.Signal) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-stop:
			logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		case <-ctx.Done():
		}
		s.health.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", slog.String("error", err.Error()))
		}
		s.grpc.GracefulStop()
	}()

	go func() {
		if err := s.grpc.Serve(s.grpcLis); err != nil {
			logger.Error("grpc server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	go func() {
		if err := s.http.Serve(s.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-done
}
