// Package router wires the HTTP surface: chi routes, the shared
// middleware chain, and every handler's dependencies.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aurorabench/converge-backend/internal/admin"
	"github.com/aurorabench/converge-backend/internal/agents"
	"github.com/aurorabench/converge-backend/internal/conversation"
	"github.com/aurorabench/converge-backend/internal/docloader"
	"github.com/aurorabench/converge-backend/internal/handler"
	"github.com/aurorabench/converge-backend/internal/ingest"
	mw "github.com/aurorabench/converge-backend/internal/middleware"
	"github.com/aurorabench/converge-backend/internal/query"
	"github.com/aurorabench/converge-backend/internal/realtime"
	"github.com/aurorabench/converge-backend/internal/session"
)

// Deps bundles every component New needs to build the router.
type Deps struct {
	Sessions      *session.Store
	Conv          *conversation.Core
	Coord         *agents.Coordinator
	Hub           *realtime.Hub
	Ingest        *ingest.Core
	Loader        *docloader.Loader
	Query         *query.Core
	Admin         *admin.Service
	Vector        handler.Pinger
	LLM           handler.Pinger
	Registry      *prometheus.Registry
	Metrics       *mw.Metrics
	RateLimiter   *mw.RateLimiter
	AllowedOrigin string
	JWTSecret     string
	StartedAt     time.Time
	Environment   string
	ChunkSize     int
	ChunkOverlap  int
}

// New builds the complete chi.Mux: middleware chain, public chat/query/
// documents routes, admin-only tenant routes, the websocket upgrade, health
// and metrics.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logging)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.CORS(d.AllowedOrigin))
	r.Use(mw.Monitoring(d.Metrics))
	r.Use(mw.RateLimit(d.RateLimiter))

	chatDeps := handler.ChatDeps{Sessions: d.Sessions, Conv: d.Conv, Coord: d.Coord, Hub: d.Hub}
	docDeps := handler.DocumentDeps{Ingest: d.Ingest, Loader: d.Loader, Admin: d.Admin, ChunkSize: d.ChunkSize, ChunkOverlap: d.ChunkOverlap}
	queryDeps := handler.QueryDeps{Query: d.Query}
	tenantDeps := handler.TenantDeps{Admin: d.Admin}

	r.Get("/health", handler.Health(handler.HealthDeps{
		StartedAt:   d.StartedAt,
		Environment: d.Environment,
		Vector:      d.Vector,
		LLM:         d.LLM,
		Sessions:    d.Sessions,
	}))
	r.Get("/metrics", mw.MetricsHandler(d.Registry).ServeHTTP)
	r.Get("/ws", handler.WebsocketUpgrade(d.Hub))

	r.Route("/chat", func(r chi.Router) {
		r.Use(mw.Timeout(30 * time.Second))
		r.Post("/session", handler.StartSession(chatDeps))
		r.Post("/message", handler.PostMessage(chatDeps))
		r.Get("/history/{roomId}", handler.GetHistory(chatDeps))
		r.Get("/conversations/{clientId}", handler.GetConversations(chatDeps))
		r.Post("/escalate", handler.Escalate(chatDeps))
		r.Post("/close", handler.CloseRoom(chatDeps))
		r.Post("/agent/message", handler.PostAgentMessage(chatDeps))
		r.Get("/queue/{roomId}", handler.GetQueuePosition(chatDeps))
	})

	r.Route("/documents", func(r chi.Router) {
		r.Use(mw.Timeout(5 * time.Minute))
		r.Post("/upload", handler.UploadDocument(docDeps))
		r.Post("/batch-upload", handler.BatchUploadDocuments(docDeps))
		r.Get("/stats/{tenant_id}", handler.DocumentStats(docDeps))
		r.Delete("/{tenant_id}", handler.DeleteTenantDocuments(docDeps))
	})

	r.Route("/query", func(r chi.Router) {
		r.Post("/", handler.Query(queryDeps))
		r.Post("/stream", handler.QueryStream(queryDeps)) // no Timeout: SSE is long-lived
		r.Post("/semantic-search", handler.SemanticSearch(queryDeps))
		r.Post("/hybrid", handler.HybridQuery(queryDeps))
	})

	r.Route("/tenants", func(r chi.Router) {
		r.Use(mw.AdminAuth(d.JWTSecret))
		r.Use(mw.Timeout(30 * time.Second))
		r.Get("/", handler.ListTenants(tenantDeps))
		r.Get("/{tenant_id}", handler.GetTenantStats(tenantDeps))
		r.Delete("/{tenant_id}", handler.DeleteTenant(tenantDeps))
	})

	return r
}
