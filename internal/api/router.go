package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/othala/internal/conflictlog"
	"github.com/starford/othala/internal/merge"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// ingestDir is where uploads land; the watcher merges them from there.
func NewRouter(eng *merge.Engine, conflicts *conflictlog.Log, ingestDir string, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(eng, conflicts)
	ih := NewIngestHandler(ingestDir)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Run status.
	r.Get("/stats", h.Stats)
	r.Get("/conflicts", h.Conflicts)

	// Upload into the watched ingest directory (auth-protected).
	r.Post("/ingest", ih.Upload)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
