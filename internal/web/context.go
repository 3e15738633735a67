package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/filestage/internal/logging"
	"github.com/JonMunkholm/filestage/internal/session"
)

type contextKey string

const workspaceKey contextKey = "workspace"

// withSession resolves the session cookie to a workspace, creating one (and
// setting the cookie) for new or expired sessions.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(s.cfg.Session.CookieName); err == nil {
			id = c.Value
		}

		ws, created := s.sessions.Open(id)
		if created {
			http.SetCookie(w, &http.Cookie{
				Name:     s.cfg.Session.CookieName,
				Value:    ws.ID,
				Path:     "/",
				HttpOnly: true,
				Secure:   s.cfg.Security.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), workspaceKey, ws)
		ctx = logging.WithSessionID(ctx, ws.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// workspaceFrom returns the workspace set by withSession.
func workspaceFrom(ctx context.Context) (*session.Workspace, bool) {
	ws, ok := ctx.Value(workspaceKey).(*session.Workspace)
	return ws, ok && ws != nil
}
