// Package reset implements the single-use password reset token flow.
package reset

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/apperr"
	"github.com/dsemenov/market/internal/hash"
	"github.com/dsemenov/market/internal/logging"
	"github.com/dsemenov/market/internal/mailer"
	"github.com/dsemenov/market/internal/models"
)

const tokenBytes = 20

// Window is how long a reset token is honored: now <= issuedAt + Window.
const Window = time.Hour

type Flow struct {
	DB     *gorm.DB
	Mailer mailer.Mailer
	AppURL string

	// RevealNonexistentAccounts makes RequestReset fail with NotFound for
	// unknown emails instead of answering uniformly.
	RevealNonexistentAccounts bool
}

// RequestReset issues a token for the account behind email and mails a reset
// link. The token is never returned to the caller.
func (f *Flow) RequestReset(ctx context.Context, email string) error {
	l := logging.FromContext(ctx).With("flow", "request_reset")
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	if err := f.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if f.RevealNonexistentAccounts {
				return apperr.ErrNotFound
			}
			// Uniform response: don't leak whether the account exists.
			l.Info("reset_requested_unknown_email")
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)
	expiry := time.Now().Add(Window).Unix()

	if err := f.DB.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"reset_token":        token,
		"reset_token_expiry": expiry,
	}).Error; err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	body := fmt.Sprintf(
		`<p>Your password reset token is here.</p><p><a href="%s/reset?resetToken=%s">Click here to reset</a></p>`,
		f.AppURL, token,
	)
	if err := f.Mailer.Send(user.Email, "Your password reset token", body); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}

	l.Info("reset_requested", "user_id", user.ID)
	return nil
}

// ResetPassword consumes a token: the password-confirmation check runs before
// anything else, the token must be unexpired, and a successful reset clears
// the token pair so it cannot be replayed.
func (f *Flow) ResetPassword(ctx context.Context, token, newPassword, confirmPassword string) (*models.User, error) {
	l := logging.FromContext(ctx).With("flow", "reset_password")

	if newPassword != confirmPassword {
		return nil, &apperr.ValidationError{Field: "confirmPassword", Msg: "passwords don't match"}
	}
	if token == "" {
		return nil, apperr.ErrExpiredOrInvalidToken
	}

	now := time.Now().Unix()
	var user models.User
	if err := f.DB.WithContext(ctx).
		Where("reset_token = ? AND reset_token_expiry >= ?", token, now).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrExpiredOrInvalidToken
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	pwHash, err := hash.HashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if err := f.DB.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"password_hash":      pwHash,
		"reset_token":        nil,
		"reset_token_expiry": nil,
	}).Error; err != nil {
		return nil, fmt.Errorf("store password: %w", err)
	}
	user.PasswordHash = pwHash
	user.ResetToken = nil
	user.ResetTokenExpiry = nil

	l.Info("password_reset", "user_id", user.ID)
	return &user, nil
}
