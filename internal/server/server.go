// Package server provides the HTTP server setup and wiring.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/wasmproof/internal/auth"
	"github.com/pendergraft/wasmproof/internal/build"
	"github.com/pendergraft/wasmproof/internal/build/soroban"
	"github.com/pendergraft/wasmproof/internal/config"
	"github.com/pendergraft/wasmproof/internal/fetch"
	"github.com/pendergraft/wasmproof/internal/ledger"
	"github.com/pendergraft/wasmproof/internal/middleware/logging"
	"github.com/pendergraft/wasmproof/internal/middleware/ratelimit"
	"github.com/pendergraft/wasmproof/internal/middleware/realip"
	"github.com/pendergraft/wasmproof/internal/middleware/security"
	"github.com/pendergraft/wasmproof/internal/observability/metrics"
	"github.com/pendergraft/wasmproof/internal/storage"
	verificationDomain "github.com/pendergraft/wasmproof/internal/verification/domain"
	verificationTransport "github.com/pendergraft/wasmproof/internal/verification/transport"
)

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	ledger *ledger.Cache
	logger *slog.Logger
	router *chi.Mux

	verificationSvc verificationTransport.Service
}

// New creates a new server. The ledger cache is shared with the caller so the
// serve command can run the initial load and the background refresher.
func New(cfg *config.Config, store storage.Store, ledgerCache *ledger.Cache, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		ledger: ledgerCache,
		logger: logger,
		router: chi.NewRouter(),
	}

	builder := soroban.New(build.ExecRunner{}, cfg.Build.EnvAllowlist)
	svcImpl := verificationDomain.NewService(
		store,
		fetch.NewGitHubFetcher(),
		builder,
		ledgerCache,
		verificationDomain.Options{
			WorkDir:           cfg.Build.WorkDir,
			BuildTimeout:      time.Duration(cfg.Build.TimeoutSeconds) * time.Second,
			VerifyDeterminism: cfg.Build.VerifyDeterminism,
		},
	)
	s.verificationSvc = verificationDomain.LoggingMiddleware(logger)(svcImpl)

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler returns the metrics HTTP handler for separate metrics server
func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler()
}

func (s *Server) setupMiddleware() {
	// Order matters! Security middleware runs first to block malicious requests early.

	// 1. Real IP extraction (must be first to set client IP for other middleware)
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	// 2. Security filter (blocks malicious patterns, bypasses health checks)
	s.router.Use(security.FilterMiddleware(s.cfg.Security.FilterEnabled))

	// 3. Body size limit
	s.router.Use(security.MaxBodySizeMiddleware(s.cfg.Security.MaxBodySizeMB))

	// 4. Rate limiting (bypasses health checks)
	s.router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	}))

	// 5. Standard middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// 6. CORS
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	verificationHandler := verificationTransport.NewHandler(
		s.verificationSvc,
		time.Duration(s.cfg.Server.RequestTimeout)*time.Second,
	)

	// Auth middleware for write operations. With open writes the key is
	// still attached when supplied, so attribution survives either mode.
	requireAuth := func(r chi.Router) {
		if s.cfg.Auth.Type == "api-key" {
			r.Use(auth.Middleware(s.store, writeError))
			return
		}
		r.Use(auth.OptionalMiddleware(s.store))
	}

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/verifications", func(r chi.Router) {
			// Read operations - no auth required
			verificationHandler.RegisterReadRoutes(r)

			// Write operations - auth required (a POST runs a full build)
			r.Group(func(r chi.Router) {
				requireAuth(r)
				verificationHandler.RegisterWriteRoutes(r)
			})
		})

		verificationHandler.RegisterLedgerRoutes(r)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports not-ready until the first ledger snapshot loads, since
// verification requests cannot be answered without one.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	st := s.ledger.Status()
	if !st.Loaded {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "ledger snapshot not loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"ledgerEntries": st.Entries,
	})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
