package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/othala/internal/conflictlog"
	"github.com/starford/othala/internal/merge"
	"github.com/starford/othala/internal/models"
)

const defaultConflictLimit = 50

// Handler holds API route handlers.
type Handler struct {
	eng       *merge.Engine
	conflicts *conflictlog.Log
}

// NewHandler creates a new Handler.
func NewHandler(eng *merge.Engine, conflicts *conflictlog.Log) *Handler {
	return &Handler{eng: eng, conflicts: conflicts}
}

// Stats handles GET /api/stats.
//
//	@Summary		Live counters of the current merge run
//	@Tags			stats
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Summary())
}

// Conflicts handles GET /api/conflicts.
//
//	@Summary		Recent conflict records, newest last
//	@Tags			conflicts
//	@Produce		json
//	@Param			limit	query		int	false	"Max records"
//	@Success		200		{object}	ConflictListResponse
//	@Security		BearerAuth
//	@Router			/conflicts [get]
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultConflictLimit
	}
	recs := h.conflicts.Recent(limit)
	if recs == nil {
		recs = []models.ConflictRecord{} // keep JSON as [], never null
	}
	writeJSON(w, http.StatusOK, ConflictListResponse{
		Conflicts: recs,
		Total:     h.conflicts.Appended(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}
