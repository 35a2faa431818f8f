package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petportrait/backend/internal/config"
	"github.com/petportrait/backend/internal/service"
	"github.com/petportrait/backend/internal/storage"
)

// Server exposes the JSON API, the payment webhook and the generation
// callback over one chi router.
type Server struct {
	cfg         config.Config
	log         *slog.Logger
	generations *service.GenerationService
	payments    *service.PaymentService
	uploader    *storage.Uploader
	validate    *validator.Validate
	router      *chi.Mux
}

func New(cfg config.Config, log *slog.Logger, generations *service.GenerationService, payments *service.PaymentService, uploader *storage.Uploader) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		cfg:         cfg,
		log:         log,
		generations: generations,
		payments:    payments,
		uploader:    uploader,
		validate:    validator.New(),
		router:      r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Inbound events authenticate by signature or provider job id, never by
	// session.
	r.Post("/webhook/payments", s.handlePaymentWebhook)
	r.Post("/callback/generation", s.handleGenerationCallback)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authMiddleware)
		api.Post("/upload", s.handleUpload)
		api.Post("/generations", s.handleCreateGeneration)
		api.Get("/generations", s.handleListGenerations)
		api.Get("/generations/{id}", s.handleGetGeneration)
		api.Post("/checkout", s.handleCreateCheckout)
		api.Get("/billing", s.handleBilling)
	})

	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("api server listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

type contextKey string

const (
	userIDKey    contextKey = "userID"
	userEmailKey contextKey = "userEmail"
)

// authMiddleware resolves the current user from a Bearer token and passes
// the identity on explicitly; nothing downstream reads ambient session
// state.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, http.StatusUnauthorized, "authorization required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeJSONError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		userID, email, err := s.validateToken(parts[1])
		if err != nil || userID == "" {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, userEmailKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) validateToken(tokenString string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("unexpected claims type")
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	return sub, email, nil
}

func currentUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func currentUserEmail(r *http.Request) string {
	email, _ := r.Context().Value(userEmailKey).(string)
	return email
}
