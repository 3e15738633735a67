package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as user-friendly messages with action suggestions
//   - Formatted as JSON for /api routes and as an HTML page otherwise
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err), or respondErrorStatus to force a status
//  3. Error is mapped via staging.MapError to get user-friendly message
//  4. Technical error + context is logged with request ID for correlation
//  5. User message is rendered in appropriate format for the client

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/filestage/internal/logging"
	"github.com/JonMunkholm/filestage/internal/preview"
	"github.com/JonMunkholm/filestage/internal/staging"
	"github.com/JonMunkholm/filestage/internal/web/templates"
)

// Request-level errors. Their text matches the user message patterns in
// staging.MapError.
var (
	errNoFile         = errors.New("no file provided")
	errRequestTooBig  = errors.New("request too large")
	errInvalidForm    = errors.New("invalid form")
	errRateLimited    = errors.New("rate limit exceeded")
	errIntakeBusy     = errors.New("too many concurrent uploads, please try again later")
	errNoSession      = errors.New("session not found")
	errBadIndex       = errors.New("invalid index")
	errHistoryMissing = errors.New("submission history is not enabled")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, staging.ErrLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, staging.ErrIndexOutOfRange), errors.Is(err, errBadIndex):
		return http.StatusConflict
	case errors.Is(err, staging.ErrPreviewUnavailable), errors.Is(err, errIntakeBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, preview.ErrNotFound), errors.Is(err, errNoSession), errors.Is(err, errHistoryMissing):
		return http.StatusNotFound
	case errors.Is(err, errRequestTooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoFile), errors.Is(err, errInvalidForm):
		return http.StatusBadRequest
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError handles error responses with user-friendly messages, choosing
// the status from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorStatus(w, r, err, statusFor(err))
}

// respondErrorStatus handles error responses with user-friendly messages.
// It logs the technical error server-side and returns an appropriate response
// based on the request type.
func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := staging.MapError(err)

	level := slog.LevelError
	if statusCode < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if wantsJSON(r) {
		respondErrorJSON(w, userMsg, statusCode)
	} else {
		respondErrorHTML(w, r, userMsg, statusCode)
	}
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg staging.UserMessage, statusCode int) {
	writeJSONStatus(w, statusCode, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// respondErrorHTML renders the error page.
func respondErrorHTML(w http.ResponseWriter, r *http.Request, msg staging.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := templates.ErrorPage(msg, statusCode).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render error page", "error", err)
	}
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	// API routes default to JSON
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}

	// Check Accept header
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
