// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zapsocial/zapfeed/internal/auth"
	"github.com/zapsocial/zapfeed/internal/config"
	"github.com/zapsocial/zapfeed/internal/metrics"
)

// Router assembles the HTTP surface.
type Router struct {
	handler  *Handler
	verifier *auth.Verifier
	cfg      config.ServerConfig
	security config.SecurityConfig
}

// NewRouter creates the router. verifier may be nil only when
// security.RequireAuth is false.
func NewRouter(handler *Handler, verifier *auth.Verifier, cfg config.ServerConfig, security config.SecurityConfig) *Router {
	return &Router{handler: handler, verifier: verifier, cfg: cfg, security: security}
}

// Setup builds the chi handler tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Probes and metrics stay outside auth and rate limiting. The bare
	// /health paths exist for container orchestrators; the /api/v1 ones
	// are the documented surface.
	r.Get("/health/live", router.handler.HealthLive)
	r.Get("/health/ready", router.handler.HealthReady)
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/", router.handler.HealthReady)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if router.cfg.RateLimit > 0 {
			r.Use(httprate.Limit(router.cfg.RateLimit, router.cfg.RateWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Use(prometheusMetrics)
		if router.verifier != nil {
			mw := auth.NewMiddleware(router.verifier, router.security.RequireAuth, authError)
			r.Use(mw.Handler)
		}

		r.Get("/feed", router.handler.GetFeed)
		r.Get("/shorts", router.handler.GetShorts)
		r.Get("/stories", router.handler.GetStories)
		r.Post("/curated/run", router.handler.RunCurated)
	})

	return r
}

// authError renders auth failures in the standard error envelope.
func authError(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, auth.ErrNoCredentials) {
		respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "credentials required")
		return
	}
	if errors.Is(err, auth.ErrExpiredCredentials) {
		respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "credentials expired")
		return
	}
	respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "invalid credentials")
}

// prometheusMetrics records per-route request counts and latency.
func prometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		metrics.RecordAPIRequest(r.Method, endpoint, ww.Status(), time.Since(start))
	})
}
