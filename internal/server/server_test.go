package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bryan-buckman/picstream/internal/api"
	"github.com/bryan-buckman/picstream/internal/database"
	"github.com/bryan-buckman/picstream/internal/dispatch"
	"github.com/bryan-buckman/picstream/internal/feed"
	"github.com/bryan-buckman/picstream/internal/notice"
	"github.com/bryan-buckman/picstream/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedFor mimics the service: ownership is only reported to the author.
func feedFor(signedIn bool) string {
	return fmt.Sprintf(`{"posts":[
	{"id":"p1","email":"a@x.com","caption":"sunset","url":"http://cdn/p1.jpg","file_type":"image",
	"like_count":2,"is_liked":false,"is_owner":%t,"created_at":"2024-05-01T10:00:00",
	"comments":[{"id":"c1","email":"a@x.com","content":"first","created_at":"2024-05-01T10:05:00"}]},
	{"id":"p2","email":"b@x.com","caption":"harbour","url":"http://cdn/p2.mp4","file_type":"video",
	"like_count":0,"is_liked":false,"is_owner":false,"created_at":"2024-05-01T09:00:00",
	"comments":[{"id":"c2","email":"b@x.com","content":"mine","created_at":"2024-05-01T09:05:00"}]}]}`, signedIn)
}

type fixture struct {
	srv      *Server
	deletes  atomic.Int32
	uploads  atomic.Int32
	sessions *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, feedFor(r.Header.Get("Authorization") == "Bearer tok"))
	})
	mux.HandleFunc("/auth/jwt/login", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"detail":"LOGIN_BAD_CREDENTIALS"}`)
			return
		}
		io.WriteString(w, `{"access_token":"tok","token_type":"bearer"}`)
	})
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail":"Unauthorized"}`)
			return
		}
		io.WriteString(w, `{"id":"u1","email":"a@x.com"}`)
	})
	mux.HandleFunc("/posts/p1/like", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"like_count":3}`)
	})
	mux.HandleFunc("/posts/p1", func(w http.ResponseWriter, r *http.Request) {
		f.deletes.Add(1)
		io.WriteString(w, `{"success":true}`)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		f.uploads.Add(1)
		io.WriteString(w, `{"id":"p2"}`)
	})
	backend := httptest.NewServer(mux)
	t.Cleanup(backend.Close)

	client, err := api.New(backend.URL, api.Options{})
	require.NoError(t, err)
	db, err := database.New(filepath.Join(t.TempDir(), "picstream.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	buf := notice.NewBuffer(0)
	store := feed.NewStore(client, buf, nil)
	f.sessions = session.NewManager(client, db, store, buf, nil)
	d := dispatch.New(client, f.sessions, store, buf, nil)
	require.NoError(t, d.Restore(context.Background()))

	f.srv, err = New(d, buf, nil)
	require.NoError(t, err)
	return f
}

func (f *fixture) post(t *testing.T, path string, form url.Values, asJSON bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if asJSON {
		req.Header.Set("Accept", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	rec := f.post(t, "/api/login", url.Values{"email": {"a@x.com"}, "password": {"secret"}}, false)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.True(t, f.sessions.Authenticated())
}

func TestHomeRendersAnonymousFeed(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "sunset")
	assert.Contains(t, body, `action="/api/login"`)
	assert.NotContains(t, body, "Sign out")
	assert.NotContains(t, body, `/delete"`)
}

func TestDeleteControlsOnlyForOwnContent(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "harbour")
	assert.Contains(t, body, `action="/api/posts/p1/delete"`)
	assert.NotContains(t, body, `action="/api/posts/p2/delete"`)
	assert.Contains(t, body, `action="/api/posts/p1/comments/c1/delete"`)
	assert.NotContains(t, body, `action="/api/posts/p2/comments/c2/delete"`)
}

func TestLoginRedirectsAndShowsUser(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "a@x.com")
	assert.Contains(t, rec.Body.String(), "Sign out")
	assert.Contains(t, rec.Body.String(), "Welcome!")
}

func TestStateDoesNotExposeToken(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"tok"`)

	var state stateView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Session.Authenticated)
	assert.Equal(t, "a@x.com", state.Session.Email)
	require.Len(t, state.Posts, 2)
	assert.True(t, state.Posts[0].IsOwnedByViewer)
	assert.False(t, state.Posts[1].IsOwnedByViewer)
}

func TestGuardErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/api/posts/p1/like", nil, true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.login(t)
	rec = f.post(t, "/api/posts/p1/comments", url.Values{"content": {"   "}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.post(t, "/api/posts/nope/like", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.post(t, "/api/login", url.Values{"email": {"a@x.com"}, "password": {"wrong"}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLikeReturnsPatchedState(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.post(t, "/api/posts/p1/like", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		State stateView `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.State.Posts, 2)
	assert.Equal(t, 3, body.State.Posts[0].LikeCount)
	assert.True(t, body.State.Posts[0].ViewerHasLiked)
}

func TestDeletePostNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.post(t, "/api/posts/p1/delete", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.deletes.Load())

	rec = f.post(t, "/api/posts/p1/delete", url.Values{"confirm": {"yes"}}, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, f.deletes.Load())
	posts := f.srv.dispatcher.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "p2", posts[0].ID)
}

func TestCreatePostWithoutFileIsRejected(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.post(t, "/api/posts", url.Values{"caption": {"hello"}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.uploads.Load())
}

func TestLogoutClearsSession(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.post(t, "/api/logout", nil, false)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.False(t, f.sessions.Authenticated())
}
