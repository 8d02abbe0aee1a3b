package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"github.com/casbin/casbin/v2"
	"golang.org/x/oauth2"

	"go-wiki-engine/internal/auth"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/session"
)

// Authenticator is the part of the OIDC client the login flow uses.
type Authenticator interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Email(ctx context.Context, code string) (string, error)
}

var _ Authenticator = (*auth.Authenticator)(nil)

// AuthHandler holds the dependencies for the authentication handlers.
type AuthHandler struct {
	auth     Authenticator
	sessions session.Manager
	enforcer *casbin.Enforcer
	admins   []string
	log      logger.Logger
}

// NewAuthHandler creates a new AuthHandler. Users whose email is listed in
// admins are granted the admin role on sign in.
func NewAuthHandler(a Authenticator, sm session.Manager, e *casbin.Enforcer, admins []string, log logger.Logger) *AuthHandler {
	return &AuthHandler{auth: a, sessions: sm, enforcer: e, admins: admins, log: log}
}

// handleLogin redirects the user to the OIDC provider to log in.
// It uses a random 'state' string for CSRF protection.
func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randString(16)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	// The state is verified on callback.
	h.sessions.Put(r.Context(), session.KeyState, state)
	http.Redirect(w, r, h.auth.AuthCodeURL(state), http.StatusFound)
}

// handleCallback is the redirect URL for the OIDC provider.
// It handles the code exchange and token verification.
func (h *AuthHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	want := h.sessions.PopString(ctx, session.KeyState)
	if want == "" || r.URL.Query().Get("state") != want {
		http.Error(w, "state did not match", http.StatusBadRequest)
		return
	}

	email, err := h.auth.Email(ctx, r.URL.Query().Get("code"))
	if errors.Is(err, auth.ErrUnverifiedEmail) {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if err != nil {
		h.log.Error(err, "Sign in failed")
		http.Error(w, "Failed to sign in", http.StatusInternalServerError)
		return
	}

	// A new token on privilege change prevents session fixation.
	if err := h.sessions.RenewToken(ctx); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.sessions.Put(ctx, session.KeyEmail, email)
	if err := auth.GrantSignIn(h.enforcer, email, h.admins); err != nil {
		h.log.Error(err, "Failed to grant roles")
	}
	h.log.With(map[string]interface{}{"email": email}).Info("User signed in")

	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout ends the session.
func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context()); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// randString is a helper function to generate a random string for the 'state' parameter.
func randString(nByte int) (string, error) {
	b := make([]byte, nByte)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
