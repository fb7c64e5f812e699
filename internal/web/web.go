// Package web serves the standby page, the settings page, the JSON API and
// the OAuth redirect endpoints.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"standby/internal/config"
	"standby/internal/display"
	appLog "standby/internal/log"
	"standby/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Screen is the frame the standby page renders.
type Screen interface {
	Snapshot() display.Frame
	Redraw()
}

// Refresher runs a manual fetch.
type Refresher interface {
	FetchNow(ctx context.Context) (*model.Event, error)
}

// Session is the Google sign-in flow. It is nil in ICS mode.
type Session interface {
	Configured() bool
	Current() (string, bool)
	AuthCodeURL() (string, error)
	Complete(ctx context.Context, state, code string) (string, error)
	SignOut() error
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Screen    Screen
	Refresher Refresher
	Session   Session
	// Metrics, when set, is mounted on /metrics.
	Metrics http.Handler
}

// Server provides the web UI and API.
type Server struct {
	cfg  *config.Config
	deps Deps
	opts display.Options
	mux  *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		opts: display.Options{Location: cfg.Location(), Locale: cfg.MondayLocale()},
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, behind basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Serve listens on cfg.Listen until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="standby", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleStandby)
	s.mux.HandleFunc("GET /settings", s.handleSettings)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /auth/callback", s.handleCallback)
	s.mux.HandleFunc("POST /auth/signout", s.handleSignOut)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type standbyPage struct {
	Frame display.Frame
}

func (s *Server) handleStandby(w http.ResponseWriter, _ *http.Request) {
	s.render(w, "standby.html", standbyPage{Frame: s.deps.Screen.Snapshot()})
}

type settingsPage struct {
	Provider   string
	Account    string
	SignedIn   bool
	Configured bool
	Status     string
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	page := settingsPage{
		Provider: s.cfg.Calendar.Provider,
		Status:   r.URL.Query().Get("status"),
	}
	if s.deps.Session != nil {
		page.Account, page.SignedIn = s.deps.Session.Current()
		page.Configured = s.deps.Session.Configured()
	}
	s.render(w, "settings.html", page)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Screen.Snapshot())
}

// refreshResponse is the JSON shape of POST /api/refresh.
type refreshResponse struct {
	Status string        `json:"status"`
	Event  *eventDTO     `json:"event,omitempty"`
	Frame  display.Frame `json:"frame"`
}

type eventDTO struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Refresher.FetchNow(r.Context())
	status := display.FetchStatus(ev, err, s.opts)
	if err != nil {
		appLog.Error("manual fetch failed", err)
	}
	s.deps.Screen.Redraw()

	resp := refreshResponse{Status: status, Frame: s.deps.Screen.Snapshot()}
	if err == nil && ev != nil {
		resp.Event = &eventDTO{Title: ev.Title, Start: ev.StartTime.In(s.opts.Location)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil || !s.deps.Session.Configured() {
		writeError(w, http.StatusServiceUnavailable, "google sign-in is not configured")
		return
	}
	authURL, err := s.deps.Session.AuthCodeURL()
	if err != nil {
		appLog.Error("auth url failed", err)
		writeError(w, http.StatusInternalServerError, "failed to start sign-in")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.redirectSettings(w, r, "Sign-in cancelled: "+e)
		return
	}

	email, err := s.deps.Session.Complete(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		appLog.Error("sign-in failed", err)
		s.redirectSettings(w, r, "Sign-in failed: "+err.Error())
		return
	}
	s.deps.Screen.Redraw()
	s.redirectSettings(w, r, "Signed in as "+email)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		http.NotFound(w, r)
		return
	}
	if err := s.deps.Session.SignOut(); err != nil {
		appLog.Error("sign-out failed", err)
		s.redirectSettings(w, r, "Sign-out failed: "+err.Error())
		return
	}
	s.deps.Screen.Redraw()
	s.redirectSettings(w, r, "Signed out")
}

func (s *Server) redirectSettings(w http.ResponseWriter, r *http.Request, status string) {
	http.Redirect(w, r, "/settings?status="+url.QueryEscape(status), http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		appLog.Error("template render failed", err, "template", name)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
