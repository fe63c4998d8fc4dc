/**
 * @description
 * This file contains the HTTP handlers for the authentication endpoints:
 * registration, login, and the password reset flow. Login is form-encoded
 * (OAuth2 password flow) so stock API clients work unchanged; the other
 * endpoints take JSON bodies.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: Service logic, models, custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/arcforge/generation-service/internal/app"
	"github.com/arcforge/generation-service/internal/domain"
	"github.com/arcforge/generation-service/internal/store"
)

// AuthHandlers holds the auth service that handlers will use.
type AuthHandlers struct {
	auth *app.AuthService
}

// NewAuthHandlers creates a new instance of AuthHandlers.
func NewAuthHandlers(auth *app.AuthService) *AuthHandlers {
	return &AuthHandlers{auth: auth}
}

// RegisterHandler handles POST /auth/register.
func (h *AuthHandlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.auth.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrValidation):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrEmailTaken):
			h.writeError(w, http.StatusBadRequest, "Email already registered")
		case errors.Is(err, app.ErrPasswordTooLong):
			h.writeError(w, http.StatusBadRequest, "Password must be at most 72 bytes")
		default:
			log.Printf("level=error component=api msg=\"registration failed\" err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, user.Public())
}

// LoginHandler handles POST /auth/login. The body is form-encoded with
// `username` carrying the email, per the OAuth2 password flow.
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid form body")
		return
	}

	email := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		h.writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	token, err := h.auth.Login(r.Context(), email, password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, "Incorrect email or password")
			return
		}
		log.Printf("level=error component=api msg=\"login failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, token)
}

// ForgotPasswordHandler handles POST /auth/forgot-password. The response is
// identical whether or not the email exists.
func (h *AuthHandlers) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resetToken, err := h.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		log.Printf("level=error component=api msg=\"forgot-password failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Email delivery is out of scope; the token rides the response so the
	// client can complete the flow.
	resp := map[string]string{
		"message": "If that email exists, a reset link has been generated.",
	}
	if resetToken != "" {
		resp["reset_token"] = resetToken
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ResetPasswordHandler handles POST /auth/reset-password.
func (h *AuthHandlers) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidResetToken):
			h.writeError(w, http.StatusBadRequest, "Invalid or expired reset token")
		case errors.Is(err, app.ErrPasswordTooLong):
			h.writeError(w, http.StatusBadRequest, "Password must be at most 72 bytes")
		case errors.Is(err, app.ErrValidation):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api msg=\"reset-password failed\" err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset."})
}

// writeJSON is a helper for writing JSON responses.
func (h *AuthHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *AuthHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
