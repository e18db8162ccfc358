package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"whale_go/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}

	// 2. Pprof Server (for performance profiling)
	if addr := bootstrap.Config.Debug.PprofAddr; addr != "" {
		go func() {
			// Localhost only for security
			slog.Info("Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := bootstrap.Run(ctx)
	if err := bootstrap.Close(); err != nil {
		slog.Error("Failed to close resources", slog.Any("error", err))
	}
	if runErr != nil {
		slog.Error("Tracker stopped", slog.Any("error", runErr))
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
