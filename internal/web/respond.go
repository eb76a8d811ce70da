package web

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/outcome"
	"scrubnotes/internal/view"
)

const loginPath = "/login"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// wantsHTML reports whether the client is a browser navigating to a page.
func wantsHTML(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// isForm reports whether the request body is an HTML form post.
func isForm(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data"
}

// requireLogin sends browsers to the login page and API clients a 401 that
// names it.
func requireLogin(w http.ResponseWriter, r *http.Request) {
	if wantsHTML(r) {
		http.Redirect(w, r, loginPath, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"redirect": loginPath})
}

// fail maps an operation error onto a response. Remote failures keep the
// collaborator's message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperr.ErrAuth):
		if msg := apperr.MessageOf(err); msg != "" && msg != "not authenticated" {
			writeError(w, http.StatusUnauthorized, msg)
			return
		}
		requireLogin(w, r)
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, apperr.MessageOf(err))
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, http.StatusBadRequest, apperr.MessageOf(err))
	case errors.Is(err, view.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, apperr.MessageOf(err))
	}
}

// respond writes a screen outcome.
func respond[T any](w http.ResponseWriter, r *http.Request, status int, res outcome.Result[T]) {
	switch res.Status {
	case outcome.StatusOk:
		writeJSON(w, status, res.Value)
	case outcome.StatusRequiresAuth:
		requireLogin(w, r)
	case outcome.StatusNotFound:
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, res.Message)
	}
}
