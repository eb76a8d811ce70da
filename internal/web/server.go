// Package web serves the scrubnotes screens over HTTP. Every screen request
// mounts a view.Controller, so the session check, the scoped load and the
// reload after a mutation all go through the same state machine.
package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"scrubnotes/internal/blob"
	"scrubnotes/internal/identity"
	"scrubnotes/internal/media"
	"scrubnotes/internal/records"
	"scrubnotes/internal/session"
)

const sessionCookie = "scrubnotes_session"

// Deps are the collaborators a Server routes to.
type Deps struct {
	Identity identity.Provider
	Guard    *session.Guard
	Loader   *records.Loader
	Gateway  *records.Gateway
	Uploader *media.Uploader
	Blobs    blob.Store
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
	// RequestTimeout bounds each request's context; zero disables it.
	RequestTimeout time.Duration
	SecureCookies  bool
	MaxUploadBytes int64
}

// Server is the HTTP front end.
type Server struct {
	identity       identity.Provider
	guard          *session.Guard
	loader         *records.Loader
	gateway        *records.Gateway
	uploader       *media.Uploader
	blobs          blob.Store
	gatherer       prometheus.Gatherer
	log            *zap.Logger
	timeout        time.Duration
	secureCookies  bool
	maxUploadBytes int64
}

// New builds a Server. d.Guard must resolve sessions of d.Identity.
func New(d Deps) *Server {
	s := &Server{
		identity:       d.Identity,
		guard:          d.Guard,
		loader:         d.Loader,
		gateway:        d.Gateway,
		uploader:       d.Uploader,
		blobs:          d.Blobs,
		gatherer:       d.Gatherer,
		log:            d.Log,
		timeout:        d.RequestTimeout,
		secureCookies:  d.SecureCookies,
		maxUploadBytes: d.MaxUploadBytes,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = media.DefaultMaxBytes
	}
	return s
}

// Handler returns the routed handler wrapped in the server middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handlePasswordLogin)
	mux.HandleFunc("POST /signup", s.handleSignUp)
	mux.HandleFunc("POST /auth/magic-link", s.handleMagicLink)
	mux.HandleFunc("GET /auth/verify", s.handleVerify)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("POST /surgeons", s.handleCreateSurgeon)

	mux.HandleFunc("GET /s", s.handleSurgeon)
	mux.HandleFunc("GET /surgeons/{id}", s.handleSurgeon)
	mux.HandleFunc("PATCH /surgeons/{id}", s.handleUpdateSurgeon)
	mux.HandleFunc("DELETE /surgeons/{id}", s.handleDeleteSurgeon)
	mux.HandleFunc("POST /surgeons/{id}/photo", s.handleSurgeonPhoto)
	mux.HandleFunc("POST /surgeons/{id}/procedures", s.handleCreateProcedure)

	mux.HandleFunc("GET /s/gloves", s.handleAttire)
	mux.HandleFunc("POST /s/gloves", s.handleSaveAttire)
	mux.HandleFunc("GET /surgeons/{id}/attire", s.handleAttire)
	mux.HandleFunc("PUT /surgeons/{id}/attire", s.handleSaveAttire)
	mux.HandleFunc("POST /surgeons/{id}/attire", s.handleSaveAttire)

	mux.HandleFunc("GET /procedure", s.handleProcedure)
	mux.HandleFunc("GET /surgeons/{surgeonID}/procedures/{id}", s.handleProcedure)
	mux.HandleFunc("PUT /surgeons/{surgeonID}/procedures/{id}", s.handleSaveProcedure)
	mux.HandleFunc("DELETE /surgeons/{surgeonID}/procedures/{id}", s.handleDeleteProcedure)
	mux.HandleFunc("POST /surgeons/{surgeonID}/procedures/{id}/photos", s.handleProcedurePhoto)

	mux.HandleFunc("GET /media/{key...}", s.handleMedia)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return s.logRequests(s.withTimeout(s.withSession(mux)))
}

// withSession moves the session token from the cookie or bearer header into
// the request context.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := requestToken(r); tok != "" {
			r = r.WithContext(session.WithToken(r.Context(), tok))
		}
		next.ServeHTTP(w, r)
	})
}

func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	if s.timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess identity.Session) {
	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(identity.DefaultSessionTTL.Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
}
