package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"complyd/internal/platform/metrics"
	"complyd/internal/platform/middleware"
	policyhandler "complyd/internal/policy/handler"
	ratelimit "complyd/internal/ratelimit/middleware"
	"complyd/internal/ratelimit/store/bucket"
	validationhandler "complyd/internal/validation/handler"
	"complyd/pkg/platform/httputil"
	"complyd/pkg/platform/middleware/metadata"
	"complyd/pkg/platform/middleware/requesttime"
)

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(metadata.RequestMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recover(a.logger))
	r.Use(middleware.RequestLogger(a.logger))
	r.Use(metrics.New().Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := a.ready(r.Context())
		status := http.StatusOK
		for _, v := range checks {
			if v != "ok" {
				status = http.StatusServiceUnavailable
			}
		}
		httputil.WriteJSON(w, status, checks)
	})
	r.Handle("/metrics", promhttp.Handler())

	limiter := ratelimit.New(a.limiterStore(), a.logger, a.cfg.RateLimit.SubmitLimit, a.cfg.RateLimit.SubmitWindow)
	validationhandler.New(a.validation, a.logger).Register(r, limiter.PerClient("submit"))
	policyhandler.New(a.catalog, a.discovery, a.logger).Register(r)
	return r
}

// limiterStore shares submission budgets across replicas when redis is configured.
func (a *app) limiterStore() ratelimit.Limiter {
	if a.redis != nil {
		return bucket.NewRedisBucketStore(a.redis.Client)
	}
	return bucket.NewInMemoryBucketStore()
}
