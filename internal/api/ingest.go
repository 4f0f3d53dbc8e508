package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// maxUploadBytes caps a single ingest upload. Videos dominate, so the cap
// is generous; ParseMultipartForm still spills to disk past its own limit.
const maxUploadBytes = 4 << 30

// IngestHandler accepts uploads and drops them into the ingest directory,
// where the watcher picks them up and merges them like any other source file.
type IngestHandler struct {
	dir string
}

// NewIngestHandler creates a handler writing into dir.
func NewIngestHandler(dir string) *IngestHandler {
	return &IngestHandler{dir: dir}
}

// safeName validates that the filename is a plain name (no path separators,
// no traversal) and returns the absolute path under the ingest dir.
func (h *IngestHandler) safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	abs := filepath.Join(h.dir, cleaned)
	// Double-check the resolved path is under the ingest dir.
	if !strings.HasPrefix(abs, h.dir+string(os.PathSeparator)) && abs != h.dir {
		return "", fmt.Errorf("path escapes ingest directory")
	}
	return abs, nil
}

// Upload handles POST /api/ingest (multipart/form-data, field "file").
//
// The upload is written to a hidden temp file and renamed into place so the
// watcher only ever sees complete files. The merge itself happens
// asynchronously, hence 202.
//
//	@Summary		Upload a file into the watched ingest directory
//	@Tags			ingest
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"File to merge"
//	@Success		202		{object}	IngestResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ingest [post]
func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	abs, err := h.safeName(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create ingest dir"))
		return
	}

	tmp, err := os.CreateTemp(h.dir, ".othala-ingest-*")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create file"))
		return
	}
	written, err := io.Copy(tmp, file)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), abs)
	}
	if err != nil {
		os.Remove(tmp.Name())
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		Filename: header.Filename,
		Size:     written,
	})
}
