package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"healthmate/internal/auth"
	"healthmate/internal/chat"
	"healthmate/internal/config"
	"healthmate/internal/gateway"
	"healthmate/internal/models"
	"healthmate/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// CheckoutCreator opens hosted checkout sessions.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP API dispatches to.
type Deps struct {
	Ledger    *service.Ledger
	Messages  *service.MessageLog
	Decisions *service.DecisionProcessor
	Intake    *service.Intake
	Checkout  CheckoutCreator
	Hub       *chat.Hub
	Auth      *auth.Issuer
	Health    Pinger
	Payments  config.PaymentsConfig
}

// HTTPServer exposes the public REST API and the chat websocket.
type HTTPServer struct {
	cfg      config.APIConfig
	deps     Deps
	server   *http.Server
	limiter  *rateLimiter
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{
		cfg:     cfg,
		deps:    deps,
		limiter: newRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: l,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(&s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.handleWebsocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/stripe", s.handleStripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.deps.Auth.Authenticate)
			r.Use(s.rateLimit)

			r.With(auth.RequireRole(models.RoleRequester)).
				Post("/checkout-session/{providerID}", s.handleCreateCheckout)

			r.Route("/engagements", func(r chi.Router) {
				r.With(auth.RequireRole(models.RoleProvider)).Get("/pending", s.handlePending)
				r.Get("/accepted", s.handleAccepted)
				r.Get("/{id}", s.handleGetEngagement)
				r.Get("/{id}/messages", s.handleListMessages)
				r.With(auth.RequireRole(models.RoleProvider, models.RoleAdmin)).
					Patch("/{id}/decision", s.handleDecision)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))
				r.Get("/engagements", s.handleAdminEngagements)
				r.Get("/refunds/unreconciled", s.handleUnreconciled)
			})
		})
	})

	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// rateLimit throttles per authenticated subject, falling back to the client address.
func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		key := r.RemoteAddr
		if c, ok := auth.FromContext(r.Context()); ok {
			key = c.Sub
		}
		if !s.limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
