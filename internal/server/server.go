// Package server provides the local web view over the picstream client.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bryan-buckman/picstream/internal/api"
	"github.com/bryan-buckman/picstream/internal/dispatch"
	"github.com/bryan-buckman/picstream/internal/model"
	"github.com/bryan-buckman/picstream/internal/notice"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

//go:embed templates/*.html
var templatesFS embed.FS

// maxUpload bounds the multipart form accepted for a new post.
const maxUpload = 64 << 20

// Server renders the session and feed, and turns form posts into intents.
// It only reads state; every change goes through the dispatcher.
type Server struct {
	dispatcher *dispatch.Dispatcher
	notices    *notice.Buffer
	router     chi.Router
	templates  *template.Template
	logger     *slog.Logger
}

// New creates a new server.
func New(d *dispatch.Dispatcher, notices *notice.Buffer, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"timeAgo": timeAgo,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		dispatcher: d,
		notices:    notices,
		templates:  tmpl,
		logger:     logger,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// Pages.
	r.Get("/", s.handleHome)

	// API.
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/logout", s.handleLogout)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/posts", s.handleCreatePost)
		r.Post("/posts/{postID}/like", s.handleLike)
		r.Post("/posts/{postID}/comments", s.handleComment)
		r.Post("/posts/{postID}/comments/{commentID}/delete", s.handleDeleteComment)
		r.Post("/posts/{postID}/delete", s.handleDeletePost)
	})

	s.router = r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start restores the session, then serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	if err := s.dispatcher.Restore(ctx); err != nil {
		s.logger.Warn("initial feed load failed", "error", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// --- Page Handlers ---

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	sess := s.dispatcher.Session()
	data := map[string]interface{}{
		"Session": sess,
		"Posts":   s.dispatcher.Posts(),
		"Loading": s.dispatcher.Loading(),
		"Notices": s.recentNotices(),
	}
	s.render(w, "layout.html", data)
}

// --- API Handlers ---

type sessionView struct {
	Authenticated bool       `json:"authenticated"`
	Email         string     `json:"email,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

type stateView struct {
	Session sessionView    `json:"session"`
	Posts   []model.Post   `json:"posts"`
	Loading bool           `json:"loading"`
	Notices []model.Notice `json:"notices"`
}

func (s *Server) state() stateView {
	sess := s.dispatcher.Session()
	view := sessionView{Authenticated: sess.Authenticated(), Email: sess.Email}
	if !sess.ExpiresAt.IsZero() {
		exp := sess.ExpiresAt
		view.ExpiresAt = &exp
	}
	return stateView{
		Session: view,
		Posts:   s.dispatcher.Posts(),
		Loading: s.dispatcher.Loading(),
		Notices: s.recentNotices(),
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	err := s.dispatcher.Login(r.Context(), r.FormValue("email"), r.FormValue("password"))
	s.respond(w, r, err)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	err := s.dispatcher.Register(r.Context(), r.FormValue("email"), r.FormValue("password"))
	s.respond(w, r, err)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.dispatcher.Logout(r.Context()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.dispatcher.Reload(r.Context()))
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	var media api.Media
	if err := r.ParseMultipartForm(maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.logger.Warn("bad upload form", "error", err)
		http.Error(w, "Invalid upload", http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		media = api.Media{Name: hdr.Filename, ContentType: hdr.Header.Get("Content-Type"), Body: file}
	}
	s.respond(w, r, s.dispatcher.CreatePost(r.Context(), media, r.FormValue("caption")))
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.dispatcher.ToggleLike(r.Context(), chi.URLParam(r, "postID")))
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	err := s.dispatcher.AddComment(r.Context(), chi.URLParam(r, "postID"), r.FormValue("content"))
	s.respond(w, r, err)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	err := s.dispatcher.DeleteComment(r.Context(), chi.URLParam(r, "postID"), chi.URLParam(r, "commentID"))
	s.respond(w, r, err)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	// The page asks the user before submitting and marks the form confirmed.
	confirmed := dispatch.ConfirmFunc(func(context.Context, string) bool {
		return r.FormValue("confirm") == "yes"
	})
	s.respond(w, r, s.dispatcher.DeletePost(r.Context(), chi.URLParam(r, "postID"), confirmed))
}

// --- Helpers ---

// respond redirects browser forms back to the page, and answers JSON
// callers with the new state.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	if !wantsJSON(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	status := statusFor(err)
	body := map[string]interface{}{"state": s.state()}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, dispatch.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, dispatch.ErrPostNotLoaded):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrEmptyComment),
		errors.Is(err, dispatch.ErrNoMedia),
		errors.Is(err, dispatch.ErrNotConfirmed):
		return http.StatusBadRequest
	}
	switch code := api.StatusCode(err); code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return code
	}
	return http.StatusBadGateway
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) recentNotices() []model.Notice {
	if s.notices == nil {
		return nil
	}
	return s.notices.Recent()
}

func (s *Server) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("template error", "template", name, "error", err)
		http.Error(w, "Render error", http.StatusInternalServerError)
	}
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
