package api

import "github.com/starford/othala/internal/models"

// StatsResponse is the counters snapshot returned by GET /api/stats
// (aliased from the domain layer).
type StatsResponse = models.Summary

// ConflictListResponse wraps recent conflict records.
type ConflictListResponse struct {
	Conflicts []models.ConflictRecord `json:"conflicts" validate:"required"`
	Total     int                     `json:"total" example:"3" validate:"required"`
}

// IngestResponse is returned after a successful upload. The file is merged
// asynchronously by the watcher, so no destination name is known yet.
type IngestResponse struct {
	Filename string `json:"filename" example:"IMG_2041.jpg" validate:"required"`
	Size     int64  `json:"size" example:"1048576" validate:"required"`
}
