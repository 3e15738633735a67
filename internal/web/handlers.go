package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/filestage/internal/logging"
	"github.com/JonMunkholm/filestage/internal/session"
	"github.com/JonMunkholm/filestage/internal/staging"
	"github.com/JonMunkholm/filestage/internal/web/templates"
)

// workspace returns the request's workspace, or writes an error and false.
func (s *Server) workspace(w http.ResponseWriter, r *http.Request) (*session.Workspace, bool) {
	ws, ok := workspaceFrom(r.Context())
	if !ok {
		respondError(w, r, errNoSession)
		return nil, false
	}
	return ws, true
}

// done finishes a mutating request: JSON clients get the new view, browsers
// are redirected back to the page.
func (s *Server) done(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	if wantsJSON(r) {
		writeJSON(w, ws.View())
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// indexParam parses the {index} route parameter.
func indexParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadIndex, raw)
	}
	return i, nil
}

// handleIndex renders the staging page. ?replace=<i> starts a replace.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	if raw := r.URL.Query().Get("replace"); raw != "" {
		i, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, r, fmt.Errorf("%w: %q", errBadIndex, raw))
			return
		}
		if err := ws.BeginReplace(i); err != nil {
			respondError(w, r, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	opts := templates.PageOptions{
		MaxFileSize:    s.cfg.Staging.MaxFileSize,
		HistoryEnabled: s.history != nil,
	}
	if err := templates.Page(ws.View(), opts).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render page", "error", err)
	}
}

// handleState returns the workspace view as JSON.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, ws.View())
}

// handleAddFiles stages the multipart "files" field as one batch.
func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	if err := s.intake.acquire(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	files, err := s.readFiles(w, r, "files")
	s.intake.release()
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := ws.Add(files); err != nil {
		// The workspace already shows the limit message; the page picks it up.
		if errors.Is(err, staging.ErrLimitExceeded) && !wantsJSON(r) {
			logging.FromContext(r.Context()).Warn("batch rejected", "error", err)
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("files staged",
		"count", len(files),
		"staged", ws.Store.Len(),
	)
	s.done(w, r, ws)
}

// handleBeginReplace marks the entry at {index} as the replace target.
func (s *Server) handleBeginReplace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	i, err := indexParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := ws.BeginReplace(i); err != nil {
		respondError(w, r, err)
		return
	}
	s.done(w, r, ws)
}

// handleReplace swaps the pending entry for the multipart "file" field.
// Nothing happens when no replace is pending or no file was chosen.
func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	if err := s.intake.acquire(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	f, err := s.readFile(w, r, "file")
	s.intake.release()
	if err != nil {
		respondError(w, r, err)
		return
	}

	replaced, err := ws.CompleteReplace(f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if replaced {
		logging.FromContext(r.Context()).Info("file replaced", "name", f.Name)
	}
	s.done(w, r, ws)
}

func (s *Server) handleCancelReplace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	ws.CancelReplace()
	s.done(w, r, ws)
}

// handleRemove drops the entry at {index} and releases its preview.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	i, err := indexParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := ws.Remove(i); err != nil {
		respondError(w, r, err)
		return
	}
	s.done(w, r, ws)
}

// handleSubmit submits the valid entries. With none valid it changes nothing.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	if n, ok := ws.Submit(); ok {
		logging.FromContext(r.Context()).Info("files submitted", "count", n.Count)
	}
	s.done(w, r, ws)
}

func (s *Server) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	ws.Controller.Dismiss()
	s.done(w, r, ws)
}

func (s *Server) handleDismissError(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	ws.DismissError()
	s.done(w, r, ws)
}
