package web

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/filestage/internal/preview"
)

// handlePreview serves the bytes behind a live preview handle staged in the
// caller's own session. Released handles and other sessions' handles
// answer 404.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if !ws.HasPreview(id) {
		respondError(w, r, preview.ErrNotFound)
		return
	}

	obj, err := s.previews.Open(id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer obj.File.Close()

	// Previewed content is untrusted: no scripts, no same-origin access.
	w.Header().Set("Content-Security-Policy", "sandbox")
	w.Header().Set("Content-Type", obj.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": obj.Name}))
	w.Header().Set("Cache-Control", "private, no-store")

	http.ServeContent(w, r, obj.Name, obj.ModTime, obj.File)
}

// maxHistoryLimit caps ?limit on /api/submissions.
const maxHistoryLimit = 100

// handleSubmissions lists recent submissions, newest first.
func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, r, errHistoryMissing)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxHistoryLimit)
		}
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"submissions": records,
		"count":       len(records),
	})
}

// handleHealth reports liveness and current load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":        "ok",
		"sessions":      s.sessions.Count(),
		"previews":      s.previews.Live(),
		"intake_active": s.intake.Active(),
	})
}
