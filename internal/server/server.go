package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/yofarm-hub/ussd/config"
	"github.com/yofarm-hub/ussd/internal/handlers"
	"github.com/yofarm-hub/ussd/internal/services"
	"github.com/yofarm-hub/ussd/internal/ussd"
)

const requestTimeout = 25 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	deps       *Dependencies
	stop       context.CancelFunc
}

// New connects the configured backends and registers every route.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	deps, err := Build(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	// Background work started by the router outlives New's ctx.
	bg, stop := context.WithCancel(context.WithoutCancel(ctx))
	router := NewRouter(bg, cfg, deps, log)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		deps:       deps,
		stop:       stop,
	}, nil
}

// NewRouter builds the HTTP routes over deps.
func NewRouter(ctx context.Context, cfg config.Config, deps *Dependencies, log *zap.Logger) *chi.Mux {
	users := services.NewUserService(deps.Users)
	payments := services.NewPaymentService(deps.Users, deps.Gateway, deps.Menu, log)
	registration := services.NewRegistrationService(deps.Users, payments, ussd.NewMachine(deps.Menu), log)

	var publisher handlers.NotificationPublisher
	if deps.Queue != nil {
		publisher = deps.Queue
	}
	var archive handlers.PayloadArchiver
	if deps.Archive != nil {
		archive = deps.Archive
	}
	webhook := handlers.NewWebhookHandler(payments, publisher, archive, log)

	auth := handlers.NewAuthHandler(cfg.Auth, log)
	loginLimiter := NewRateLimiter(ctx, cfg.Auth.LoginRPS, cfg.Auth.LoginBurst, log)
	health := handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"store":   deps.Users.Ping,
		"payment": deps.Gateway.Ping,
	})

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		AccessLog(log),
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)
	handlers.HealthRouter(router, health)
	router.Route("/ussd", func(r chi.Router) {
		handlers.USSDRouter(r, registration)
	})
	router.Route("/payment", func(r chi.Router) {
		handlers.WebhookRouter(r, webhook)
	})
	router.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, auth, loginLimiter.Middleware)
		})
		r.Route("/admin", func(r chi.Router) {
			handlers.AdminRouter(r, users, payments, auth.RequireAuth)
		})
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight callbacks, then closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.stop()
	return errors.Join(err, s.deps.Close())
}
