package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rolling-mean-service/config"
	"rolling-mean-service/handlers"
	"rolling-mean-service/metrics"
	"rolling-mean-service/services"
	"rolling-mean-service/utils"
)

const serviceVersion = "1.0.0"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newServer(cfg *config.Config, svc *services.MeanService) *http.Server {
	r := mux.NewRouter()

	handlers.NewMeanHandler(svc).RegisterRoutes(r)

	// Health check
	r.HandleFunc("/health", healthCheck(svc)).Methods(http.MethodGet)

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.MetricsHandler()).Methods(http.MethodGet)

	// Wrap handler with middlewares (order: rate limit first, then metrics)
	rateLimiter := utils.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	var handler http.Handler = r
	handler = utils.RateLimitMiddleware(rateLimiter)(handler)
	handler = metrics.MetricsMiddleware(handler)

	return &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        handler,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	rc := connectCache(ctx, cfg)

	var seriesCache services.SeriesCache
	if rc != nil {
		defer rc.Close()
		seriesCache = rc
	}

	svc, err := services.NewMeanService(seriesCache, services.Options{
		WindowSize: cfg.WindowSize,
		Precision:  cfg.Precision,
	})
	if err != nil {
		return err
	}
	defer svc.Stop()

	server := newServer(cfg, svc)

	utils.LogInfo("server starting",
		zap.String("addr", cfg.HTTPAddr),
		zap.Int("window_size", cfg.WindowSize),
		zap.String("precision", string(cfg.Precision)),
		zap.Strings("endpoints", []string{
			"POST   /series/{name}/samples",
			"GET    /series/{name}",
			"GET    /series/{name}/samples/{index}",
			"GET    /series/{name}/history",
			"DELETE /series/{name}",
			"GET    /series",
			"POST   /compute",
			"GET    /runs",
			"GET    /health",
			"GET    /metrics",
		}),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	utils.LogInfo("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

// healthCheck returns a health check handler
func healthCheck(svc *services.MeanService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		cacheStatus := svc.CacheHealthy(r.Context())
		if cacheStatus == "unhealthy" {
			status = "degraded"
		}

		response := map[string]interface{}{
			"service": "rolling-mean-service",
			"status":  status,
			"redis":   cacheStatus,
			"series":  len(svc.List()),
			"version": serviceVersion,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			utils.HandleError(err, "health check")
		}
	}
}
