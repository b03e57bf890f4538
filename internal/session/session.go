// Package session owns the bearer token and the identity behind it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/picstream/internal/api"
	"github.com/bryan-buckman/picstream/internal/database"
	"github.com/bryan-buckman/picstream/internal/model"
	"github.com/bryan-buckman/picstream/internal/notice"
	"github.com/golang-jwt/jwt/v5"
)

// Authenticator is the part of the API the session needs.
type Authenticator interface {
	Me(ctx context.Context, token string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, email, password string) error
	Logout(ctx context.Context, token string) error
}

// TokenStore persists the token across runs.
type TokenStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	DeleteSetting(key string) error
}

// Reloader refreshes the feed for a token. It is called once on every
// token change.
type Reloader interface {
	Reload(ctx context.Context, token string) error
}

// Manager moves the session between Anonymous and Authenticated.
type Manager struct {
	auth     Authenticator
	store    TokenStore
	reloader Reloader
	notify   notice.Notifier
	logger   *slog.Logger

	mu      sync.RWMutex
	current model.Session
}

// NewManager creates an anonymous session manager.
func NewManager(auth Authenticator, store TokenStore, reloader Reloader, notify notice.Notifier, logger *slog.Logger) *Manager {
	if notify == nil {
		notify = notice.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{auth: auth, store: store, reloader: reloader, notify: notify, logger: logger}
}

// Current returns a snapshot of the session.
func (m *Manager) Current() model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Token returns the bearer token, or "" when anonymous.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Token
}

// Authenticated reports whether a token is held.
func (m *Manager) Authenticated() bool {
	return m.Token() != ""
}

// Restore loads the persisted token and confirms it with the server. Any
// identity failure is taken to mean the token is no longer valid: the
// session is cleared and the persisted token removed. The feed is reloaded
// once for whatever session results.
func (m *Manager) Restore(ctx context.Context) error {
	token, err := m.store.GetSetting(model.SettingAuthToken)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		m.logger.Error("read persisted token", "error", err)
	}

	if token != "" {
		email, err := m.auth.Me(ctx, token)
		if err != nil {
			m.logger.Warn("persisted token rejected, signing out", "error", err)
			if err := m.store.DeleteSetting(model.SettingAuthToken); err != nil {
				m.logger.Error("remove persisted token", "error", err)
			}
			token = ""
		} else {
			m.set(model.Session{Token: token, Email: email, ExpiresAt: expiry(token)})
			m.logger.Info("session restored", "email", email)
		}
	}
	if token == "" {
		m.set(model.Session{})
	}

	return m.reload(ctx)
}

// Login signs in. The session email is the one the caller supplied.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	token, err := m.auth.Login(ctx, email, password)
	if err != nil {
		m.logger.Warn("login failed", "email", email, "error", err)
		if api.StatusCode(err) != 0 {
			notice.Error(m.notify, "Invalid email or password")
		} else {
			notice.Error(m.notify, "Sign-in failed")
		}
		return err
	}
	if err := m.store.SetSetting(model.SettingAuthToken, token); err != nil {
		m.logger.Error("persist token", "error", err)
		notice.Error(m.notify, "Sign-in failed")
		return err
	}
	m.set(model.Session{Token: token, Email: email, ExpiresAt: expiry(token)})
	m.logger.Info("signed in", "email", email)
	notice.Success(m.notify, "Welcome!")

	if err := m.reload(ctx); err != nil {
		m.logger.Warn("feed reload after login failed", "error", err)
	}
	return nil
}

// Register creates an account without signing in.
func (m *Manager) Register(ctx context.Context, email, password string) error {
	if err := m.auth.Register(ctx, email, password); err != nil {
		m.logger.Warn("registration failed", "email", email, "error", err)
		msg := api.Detail(err)
		if msg == "" {
			msg = "Registration failed"
		}
		notice.Error(m.notify, msg)
		return err
	}
	notice.Success(m.notify, "Your account has been created. You can sign in now.")
	return nil
}

// Logout tells the server (best effort) and always clears the local session.
func (m *Manager) Logout(ctx context.Context) error {
	if token := m.Token(); token != "" {
		if err := m.auth.Logout(ctx, token); err != nil {
			m.logger.Warn("server logout failed", "error", err)
		}
	}
	if err := m.store.DeleteSetting(model.SettingAuthToken); err != nil {
		m.logger.Error("remove persisted token", "error", err)
	}
	m.set(model.Session{})
	notice.Success(m.notify, "Signed out")

	if err := m.reload(ctx); err != nil {
		m.logger.Warn("feed reload after logout failed", "error", err)
	}
	return nil
}

func (m *Manager) set(s model.Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

func (m *Manager) reload(ctx context.Context) error {
	if m.reloader == nil {
		return nil
	}
	return m.reloader.Reload(ctx, m.Token())
}

// expiry reads the exp claim of a JWT without verifying it. The server is
// the only authority on validity; this is for display.
func expiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
