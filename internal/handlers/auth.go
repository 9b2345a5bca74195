package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"family-gallery/internal/database"
	"family-gallery/internal/logging"
	"family-gallery/internal/metrics"
)

// SessionCookieName is the name of the session cookie
const SessionCookieName = "gallery_session"

// LoginRequest carries login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordChangeRequest represents a request to change the password
type PasswordChangeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// AuthResponse represents the response from authentication endpoints
type AuthResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	User      *database.User `json:"user,omitempty"`
	ExpiresIn int            `json:"expiresIn,omitempty"` // seconds until the session expires
}

type userContextKey struct{}

// UserFromContext returns the authenticated user set by AuthMiddleware.
func UserFromContext(ctx context.Context) *database.User {
	u, _ := ctx.Value(userContextKey{}).(*database.User)
	return u
}

func withUser(ctx context.Context, u *database.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// publicPaths are served without a session.
var publicPaths = map[string]bool{
	"/api/auth/login": true,
	"/healthz":        true,
	"/livez":          true,
	"/readyz":         true,
	"/version":        true,
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	h.setSessionCookie(w, "", time.Unix(0, 0))
}

// Login authenticates with email and password and starts a session.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "InvalidRequest", "Email and password are required")
		return
	}

	user, err := h.db.Authenticate(ctx, req.Email, req.Password)
	if errors.Is(err, database.ErrInvalidCredentials) {
		logging.Warn("Failed login attempt for %q", req.Email)
		metrics.AuthAttemptsTotal.WithLabelValues("failure").Inc()
		writeJSONError(w, http.StatusUnauthorized, "InvalidCredentials", "Invalid email or password")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()

	session, err := h.db.CreateSession(ctx, user.ID, h.sessionDuration)
	if err != nil {
		logging.Error("Failed to create session: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "InternalError", "Failed to create session")
		return
	}
	h.setSessionCookie(w, session.Token, session.ExpiresAt)

	logging.Info("User %s logged in, session expires in %v", user.Email, h.sessionDuration)

	writeJSON(w, http.StatusOK, AuthResponse{
		Success:   true,
		User:      user,
		ExpiresIn: int(h.sessionDuration.Seconds()),
	})
}

// Logout ends the current session
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		// Logout succeeds even if the row is already gone.
		if err := h.db.DeleteSession(r.Context(), cookie.Value); err != nil {
			logging.Error("failed to delete session during logout: %v", err)
		}
	}
	h.clearSessionCookie(w)

	writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}

// CheckAuth returns the user owning the current session.
func (h *Handlers) CheckAuth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		User:    UserFromContext(r.Context()),
	})
}

// ChangePassword replaces the caller's password. Every session of the user
// is revoked and a fresh one is issued to this client.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := UserFromContext(ctx)

	var req PasswordChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}

	if _, err := h.db.Authenticate(ctx, user.Email, req.CurrentPassword); err != nil {
		logging.Warn("Failed password change attempt for %s", user.Email)
		writeJSONError(w, http.StatusUnauthorized, "InvalidCredentials", "Current password is incorrect")
		return
	}

	if err := h.db.UpdatePassword(ctx, user.ID, req.NewPassword); err != nil {
		if errors.Is(err, database.ErrPasswordTooShort) {
			writeJSONError(w, http.StatusBadRequest, "PasswordTooShort", err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}

	session, err := h.db.CreateSession(ctx, user.ID, h.sessionDuration)
	if err != nil {
		logging.Error("Failed to create session after password change: %v", err)
		h.clearSessionCookie(w)
	} else {
		h.setSessionCookie(w, session.Token, session.ExpiresAt)
	}

	logging.Info("Password changed for %s", user.Email)
	writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Password updated successfully",
	})
}

// AuthMiddleware rejects requests without a valid session and stores the
// session's user in the request context.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
			return
		}

		user, err := h.db.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, database.ErrSessionInvalid) {
				logging.Error("Session validation failed: %v", err)
			}
			h.clearSessionCookie(w)
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized", "Session expired")
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}
