// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and it decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB (one handle, every repository interface)
//	    → SessionService → AuthService, AdminService
//	    → ContactService (+ mail.Sender)
//	  → handlers → chi routes
//
// This is the "composition root" pattern: all dependencies are wired in one
// place, rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/reviewly/internal/auth"
	"github.com/sakif/reviewly/internal/config"
	"github.com/sakif/reviewly/internal/handler"
	"github.com/sakif/reviewly/internal/mail"
	"github.com/sakif/reviewly/internal/metrics"
	"github.com/sakif/reviewly/internal/middleware"
	sqliteRepo "github.com/sakif/reviewly/internal/repository/sqlite"
	"github.com/sakif/reviewly/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database handle and the background goroutines of its
// middleware. Close releases both; Start calls it on the way out.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	metrics *metrics.Metrics

	sessions *service.SessionService

	// stop cancels background work (rate limiter cleanup).
	stop context.CancelFunc
}

// New creates a Server from a validated configuration.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` so it isn't confused with
// the modernc sqlite driver package.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New(),
		stop:    stop,
	}

	if err := s.setupRoutes(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops background work and closes the database.
func (s *Server) Close() error {
	s.stop()
	return s.db.Close()
}

// mailSender picks SMTP when a relay is configured and a logging stand-in
// otherwise.
func (s *Server) mailSender() mail.Sender {
	if s.config.SMTP.Enabled() {
		return mail.NewSMTPSender(s.config.SMTP.Host, s.config.SMTP.Port, s.config.SMTP.User, s.config.SMTP.Password)
	}
	return mail.NewLogSender(s.logger)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                    → liveness
// GET    /readyz                     → readiness (pings the DB)
// GET    /metrics                    → Prometheus scrape
// GET    /auth/google/login          → start Google sign-in
// GET    /auth/google/callback       → finish Google sign-in
// POST   /auth/logout                → end the session
// POST   /api/contact                → contact form (rate limited)
// GET    /api/me                     → current user          [auth]
// *      /api/admin/...              → admin API             [auth + admin]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns an id the logger picks up
// 2. Recoverer: turns panics into 500s
// 3. Logger and Metrics: observe the final status
// 4. CORS: answers preflights before auth runs
//
// chi's RealIP is not installed: it would let any client choose its own
// rate-limit key through X-Forwarded-For.
func (s *Server) setupRoutes(ctx context.Context) error {
	cfg := s.config

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// === Services ===
	// s.db implements every repository interface; each service only sees
	// the one it asks for.
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	s.sessions = service.NewSessionService(s.db, s.db, tokens, cfg.Auth.AdminEmails, cfg.Auth.SessionTTL, s.metrics, s.logger)
	authService := service.NewAuthService(s.db, s.sessions, s.logger)
	adminService := service.NewAdminService(s.db, s.db, s.sessions, s.metrics, s.logger)
	contactService := service.NewContactService(s.db, s.mailSender(), cfg.SMTP.From, cfg.Contact.AdminEmail, s.metrics, s.logger)

	// === Handlers ===
	// A nil interface (not a typed nil pointer) switches the login routes off.
	var google handler.OAuthProvider
	if cfg.Auth.GoogleEnabled() {
		google = auth.NewGoogleProvider(cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret, cfg.Auth.GoogleCallbackURL)
	}
	authHandler := handler.NewAuthHandler(google, authService, s.sessions, cfg.Auth.SessionTTL, cfg.Server.CookieSecure, s.logger)
	adminHandler := handler.NewAdminHandler(adminService, s.logger)
	contactHandler := handler.NewContactHandler(contactService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	// === Operational routes ===
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Get("/readyz", healthHandler.HandleReady)
	s.router.Handle("/metrics", s.metrics.Handler())

	// === Auth routes ===
	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.HandleGoogleLogin)
		r.Get("/google/callback", authHandler.HandleGoogleCallback)
		r.Post("/logout", authHandler.HandleLogout)
	})

	// === API routes ===
	contactLimit := middleware.RateLimiter(ctx, middleware.RateLimitConfig{
		PerMinute: cfg.Contact.RatePerMinute,
	})

	s.router.Route("/api", func(r chi.Router) {
		r.With(contactLimit).Post("/contact", contactHandler.HandleSubmit)

		// Everything below needs a live session.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.sessions))
			r.Get("/me", authHandler.HandleMe)

			// The admin guard runs before every admin handler.
			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Mount("/", adminHandler.Routes())
			})
		})
	})

	return nil
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM or a fatal
// listen error.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second, // covers a slow SMTP notify
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("database", s.config.Database.Path),
			slog.Bool("googleSignIn", s.config.Auth.GoogleEnabled()),
			slog.Bool("smtp", s.config.SMTP.Enabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
