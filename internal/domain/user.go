/**
 * @description
 * This file defines the user identity models and the DTOs for the auth
 * endpoints. Emails are unique case-insensitively; the stored hash is a
 * bcrypt digest of the plaintext password.
 *
 * @notes
 * - Using distinct types for API requests and database models keeps the
 *   web layer decoupled from persistence concerns.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// User maps directly to the `users` table.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	Email               string     `json:"email"`
	FullName            *string    `json:"full_name,omitempty"`
	HashedPassword      string     `json:"-"`
	ResetToken          *string    `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
}

// RegisterRequest is the DTO for POST /auth/register.
type RegisterRequest struct {
	Email    string  `json:"email"`
	FullName *string `json:"full_name,omitempty"`
	Password string  `json:"password"`
}

// UserOut is the public representation of a user returned by auth endpoints.
type UserOut struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName *string   `json:"full_name,omitempty"`
}

// Token is the response payload for a successful login.
type Token struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	User        UserOut `json:"user"`
}

// ForgotPasswordRequest is the DTO for POST /auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the DTO for POST /auth/reset-password.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// Public returns the API-facing view of the user.
func (u *User) Public() UserOut {
	return UserOut{ID: u.ID, Email: u.Email, FullName: u.FullName}
}
