// Package api assembles the HTTP surface. Two route families share the
// server: /api/rag/* receives machine callbacks authenticated by callback
// token, /api/v1/* serves users behind JWT auth.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/opshift/ragrelay/internal/api/handlers"
	"github.com/opshift/ragrelay/internal/api/middleware"
	"github.com/opshift/ragrelay/internal/auth"
	"github.com/opshift/ragrelay/internal/chat"
	"github.com/opshift/ragrelay/internal/config"
	"github.com/opshift/ragrelay/internal/dispatch"
	"github.com/opshift/ragrelay/internal/notify"
	"github.com/opshift/ragrelay/internal/registry"
	"github.com/opshift/ragrelay/internal/tokens"
	"github.com/opshift/ragrelay/internal/vectorstore"
)

type Deps struct {
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Config   *config.Config
	Registry *registry.Service
	Chats    *chat.Service
	Vectors  vectorstore.Store
	Tokens   *tokens.Store
	Hub      *notify.Hub
	Traffic  dispatch.TrafficRecorder
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.Config.Server.AllowedOrigins))
	r.Use(middleware.NewRateLimiter(50, 100).Limit)

	health := handlers.NewHealthHandler(d.DB, d.Redis)
	callbacks := handlers.NewCallbackHandler(d.Registry, d.Chats, d.Vectors, d.Tokens, d.Traffic)
	documents := handlers.NewDocumentHandler(d.Registry)
	chats := handlers.NewChatHandler(d.Chats, d.Hub)

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Machine-facing callback routes. No JWT; each handler authenticates
	// the tenant's callback token itself.
	r.Route("/api/rag", func(r chi.Router) {
		r.Post("/document-callback/{document_id}", callbacks.DocumentCallback)
		r.Post("/callback/{callback_id}", callbacks.VectorCallback)
		r.Post("/chat-callback/{message_id}", callbacks.ChatCallback)
		r.Post("/vector-search", callbacks.VectorSearch)
	})

	jwt := auth.NewJWTMiddleware(d.Config.Auth.JWTSecret)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jwt.Authenticate)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", documents.Upload)
			r.Get("/", documents.List)
			r.Get("/{id}", documents.Get)
			r.Get("/{id}/status", documents.Status)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Post("/messages", chats.SendMessage)
			r.Get("/conversations/{conversation_id}/stream", chats.Stream)
			r.Get("/exchanges/stuck", chats.ListStuck)
			r.Get("/exchanges/{message_id}", chats.GetExchange)
		})
	})

	return r
}
