/**
 * @description
 * This file implements user registration, login, and the password-reset flow,
 * plus HS256 access-token issuance. Reset tokens are one-hour JWTs of type
 * "password_reset" stored on the user row; the forgot-password endpoint never
 * reveals whether an email is registered.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Token issuance and parsing.
 * - golang.org/x/crypto/bcrypt: Password hashing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/arcforge/generation-service/internal/domain"
	"github.com/arcforge/generation-service/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt rejects inputs longer than 72 bytes; surface that limit explicitly
// instead of silently truncating.
const maxPasswordBytes = 72

const resetTokenType = "password_reset"

// AuthService owns user identity and token issuance.
type AuthService struct {
	repo           store.Repository
	jwtSecret      []byte
	accessTokenTTL time.Duration
	resetTokenTTL  time.Duration
	now            func() time.Time
}

// NewAuthService creates a new auth service instance.
func NewAuthService(repo store.Repository, jwtSecret string, accessTokenTTL, resetTokenTTL time.Duration) *AuthService {
	return &AuthService{
		repo:           repo,
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
		resetTokenTTL:  resetTokenTTL,
		now:            time.Now,
	}
}

// Register creates a new user with a bcrypt-hashed password.
func (a *AuthService) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	if req.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrValidation)
	}
	if len([]byte(req.Password)) > maxPasswordBytes {
		return nil, ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:             uuid.New(),
		Email:          email,
		FullName:       req.FullName,
		HashedPassword: string(hashed),
	}
	if err := a.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	log.Printf("level=info component=auth msg=\"user registered\" user_id=%s", user.ID)
	return user, nil
}

// Login verifies credentials and issues an access token.
func (a *AuthService) Login(ctx context.Context, email, password string) (*domain.Token, error) {
	user, err := a.repo.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	access, err := a.issueAccessToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &domain.Token{AccessToken: access, TokenType: "bearer", User: user.Public()}, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (a *AuthService) issueAccessToken(userID uuid.UUID) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTokenTTL)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// ForgotPassword generates and stores a reset token when the email exists.
// The returned token is empty for unknown emails; callers respond with the
// same message either way so account existence is not leaked.
func (a *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := a.repo.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	now := a.now()
	expiresAt := now.Add(a.resetTokenTTL)
	claims := jwt.MapClaims{
		"sub":  user.Email,
		"exp":  expiresAt.Unix(),
		"type": resetTokenType,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign reset token: %w", err)
	}

	if err := a.repo.SetResetToken(ctx, user.ID, signed, expiresAt); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}
	return signed, nil
}

// ResetPassword consumes a reset token and rotates the password.
func (a *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrValidation)
	}
	if len([]byte(newPassword)) > maxPasswordBytes {
		return ErrPasswordTooLong
	}

	email, err := a.verifyResetToken(token)
	if err != nil {
		return err
	}

	user, err := a.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}
	// The stored token must match the presented one: issuing a newer token
	// invalidates older ones, and a token is single-use.
	if user.ResetToken == nil || *user.ResetToken != token ||
		user.ResetTokenExpiresAt == nil || user.ResetTokenExpiresAt.Before(a.now()) {
		return ErrInvalidResetToken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := a.repo.UpdatePasswordAndClearResetToken(ctx, user.ID, string(hashed)); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	log.Printf("level=info component=auth msg=\"password reset\" user_id=%s", user.ID)
	return nil
}

// verifyResetToken parses and validates a reset token, returning the subject
// email.
func (a *AuthService) verifyResetToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidResetToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidResetToken
	}
	if tokenType, _ := claims["type"].(string); tokenType != resetTokenType {
		return "", ErrInvalidResetToken
	}
	email, _ := claims["sub"].(string)
	if email == "" {
		return "", ErrInvalidResetToken
	}
	return email, nil
}
