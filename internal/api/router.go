package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/distwiki/internal/wikiservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *wikiservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Use(AuthMiddleware(authEnabled, token))

	// Articles.
	r.Get("/articles", h.ListTitles)
	r.Post("/articles", h.PublishArticle)
	r.Get("/articles/{title}", h.ReadArticle)
	r.Put("/articles/{title}", h.ReviseArticle)
	r.Get("/articles/{title}/history", h.History)

	// Transactions.
	r.Get("/transactions", h.RecentActions)
	r.Post("/transactions/reconcile", h.Reconcile)

	r.Get("/estimate", h.Estimate)
	r.Get("/local", h.LocalArticles)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
