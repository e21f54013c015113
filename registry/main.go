package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tessera-labs/tessera/internal/app"
	"github.com/tessera-labs/tessera/internal/platform/httpserver"
)

const serviceName = "tessera-registry"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}
	appCfg, err := app.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}
	a, err := app.Build(ctx, appCfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName, a.ReadinessChecks()...))
	mux.Handle("GET /metrics", a.Metrics.Handler())

	api := newRegistryAPI(logger, a.Versions, a.Matcher, a.Controller)
	api.register(mux)

	logger.Info("registry starting", "store", appCfg.Store, "lock_backend", appCfg.LockBackend)
	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
