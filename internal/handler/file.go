package handler

import (
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/reportdesk/internal/storage"
)

type FileHandler struct {
	blobs storage.Store
}

func NewFileHandler(blobs storage.Store) *FileHandler {
	return &FileHandler{blobs: blobs}
}

// Serve streams a stored blob by name.
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := h.blobs.Open(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()
	if ct := storage.ContentTypeByExt(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}
