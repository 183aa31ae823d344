package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"dmserver/internal/config"
	"dmserver/internal/domain"
	"dmserver/internal/presence"
	"dmserver/internal/security"
	"dmserver/internal/service"
	"dmserver/internal/ws"
)

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(
	cfg *config.Config,
	repos domain.Repositories,
	registry *presence.Registry,
	tokenSvc *security.TokenService,
	passwordHasher *security.PasswordHasher,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Services
	authSvc := service.NewAuthService(repos.Users, tokenSvc, passwordHasher, time.Duration(cfg.RememberMeDays)*24*time.Hour)
	userSvc := service.NewUserService(repos.Users)
	convSvc := service.NewConversationService(repos.Conversations, repos.Messages)
	msgSvc := service.NewMessageService(repos.Messages, repos.Conversations, cfg.HistoryPageSize)
	deliverySvc := service.NewDeliveryService(convSvc, msgSvc, registry, service.NopBlockChecker{})
	typingSvc := service.NewTypingService(convSvc, registry)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"dmserver API","version":"1.0.0"}`))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(authSvc))
			r.Post("/login", handleLogin(authSvc))
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokenSvc, repos.Users))

			// Authenticated auth endpoints
			r.Post("/auth/logout", handleLogout(authSvc))
			r.Get("/auth/me", handleMe())

			// Users
			r.Route("/users", func(r chi.Router) {
				r.Get("/", handleListUsers(userSvc))
				r.Get("/online", handleListOnlineUsers(userSvc))
				r.Get("/{userID}", handleGetUser(userSvc))
			})

			// Conversations
			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleResolveConversation(convSvc))
				r.Get("/", handleListConversations(convSvc))
				r.Get("/{conversationID}", handleGetConversation(convSvc))
				r.Post("/{conversationID}/read", handleMarkConversationRead(deliverySvc))
				r.Post("/{conversationID}/mute", handleToggleMute(convSvc))
				r.Post("/{conversationID}/archive", handleToggleArchive(convSvc))
				r.Get("/{conversationID}/messages", handleListMessages(msgSvc))
			})

			// Messages
			r.Route("/messages", func(r chi.Router) {
				r.Post("/", handleSendMessage(deliverySvc))
				r.Get("/unread", handleUnreadCount(msgSvc))
				r.Patch("/{messageID}", handleEditMessage(deliverySvc))
				r.Delete("/{messageID}", handleDeleteMessage(deliverySvc))
				r.Post("/{messageID}/reactions", handleAddReaction(deliverySvc))
				r.Delete("/{messageID}/reactions", handleRemoveReaction(deliverySvc))
			})

			// Uploads (implementation in separate file)
			r.Mount("/uploads", UploadRoutes(cfg))
		})
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(
		registry,
		tokenSvc,
		repos.Users,
		deliverySvc,
		typingSvc,
		cfg.CORSOrigins,
		rate.Limit(cfg.WSEventRate),
		cfg.WSEventBurst,
	))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
