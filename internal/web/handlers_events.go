package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/JonMunkholm/filestage/internal/logging"
)

// keepAliveInterval spaces SSE comments so idle proxies keep the stream open.
const keepAliveInterval = 25 * time.Second

// handleEvents streams the workspace view as Server-Sent Events.
// Each change produces one "view" event; a slow client only sees the latest.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	views, stop := ws.Watch()
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Error("streaming not supported", "error", err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case v, ok := <-views:
			if !ok {
				// Workspace torn down
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				rc.Flush()
				return
			}

			data, err := sonic.Marshal(v)
			if err != nil {
				logging.FromContext(r.Context()).Error("encode view", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: view\ndata: %s\n\n", data); err != nil {
				return
			}
			rc.Flush()

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			rc.Flush()

		case <-r.Context().Done():
			// Client disconnected
			return
		}
	}
}
