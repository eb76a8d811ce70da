package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/identity"
	"scrubnotes/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var loginTemplate = template.Must(template.ParseFS(templateFS, "templates/login.html"))

type loginPage struct {
	AppName     string
	Mode        string
	Email       string
	Error       string
	Notice      string
	MinPassword int
}

func (s *Server) renderLogin(w http.ResponseWriter, status int, p loginPage) {
	if p.AppName == "" {
		p.AppName = "Scrub Notes"
	}
	switch p.Mode {
	case "magic", "signup":
	default:
		p.Mode = "password"
	}
	p.MinPassword = identity.MinPasswordLength
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTemplate.Execute(w, p); err != nil {
		s.log.Error("render login page", zap.Error(err))
	}
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, http.StatusOK, loginPage{Mode: r.URL.Query().Get("mode")})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func readCredentials(r *http.Request) (credentials, error) {
	var c credentials
	if isForm(r) {
		c.Email, c.Password = r.FormValue("email"), r.FormValue("password")
		return c, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return c, apperr.Validation("web.credentials", "invalid JSON")
	}
	return c, nil
}

// signedIn finishes a sign-in: cookie, then a redirect for forms or the
// session for API clients.
func (s *Server) signedIn(w http.ResponseWriter, r *http.Request, sess identity.Session, status int) {
	s.setSessionCookie(w, sess)
	if isForm(r) || r.Method == http.MethodGet {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, status, sess)
}

func (s *Server) authFailed(w http.ResponseWriter, r *http.Request, mode, email string, err error) {
	if !isForm(r) {
		s.fail(w, r, err)
		return
	}
	status := http.StatusBadRequest
	if !isClientError(err) {
		status = http.StatusInternalServerError
	}
	s.renderLogin(w, status, loginPage{Mode: mode, Email: email, Error: apperr.MessageOf(err)})
}

func isClientError(err error) bool {
	k := apperr.KindOf(err)
	return k == apperr.KindValidation || k == apperr.KindAuth
}

func (s *Server) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.identity.SignInWithPassword(r.Context(), c.Email, c.Password)
	if err != nil {
		s.authFailed(w, r, "password", c.Email, err)
		return
	}
	s.signedIn(w, r, sess, http.StatusOK)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.identity.SignUp(r.Context(), c.Email, c.Password)
	if err != nil {
		s.authFailed(w, r, "signup", c.Email, err)
		return
	}
	s.signedIn(w, r, sess, http.StatusCreated)
}

func (s *Server) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.identity.RequestMagicLink(r.Context(), c.Email); err != nil {
		s.authFailed(w, r, "magic", c.Email, err)
		return
	}
	if isForm(r) {
		s.renderLogin(w, http.StatusOK, loginPage{Mode: "magic", Email: c.Email, Notice: "Check your email for a sign-in link."})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		s.renderLogin(w, http.StatusBadRequest, loginPage{Mode: "magic", Error: "Missing token"})
		return
	}
	sess, err := s.identity.VerifyMagicLink(r.Context(), token)
	if err != nil {
		s.log.Info("magic link rejected", zap.Error(err))
		status := http.StatusBadRequest
		if !isClientError(err) {
			status = http.StatusInternalServerError
		}
		s.renderLogin(w, status, loginPage{Mode: "magic", Error: apperr.MessageOf(err)})
		return
	}
	s.signedIn(w, r, sess, http.StatusOK)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if tok := session.TokenFrom(r.Context()); tok != "" {
		if err := s.identity.SignOut(r.Context(), tok); err != nil {
			s.log.Warn("sign out failed", zap.Error(err))
		}
	}
	clearSessionCookie(w)
	if isForm(r) {
		http.Redirect(w, r, loginPath, http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
