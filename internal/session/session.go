// Package session issues and verifies the signed bearer tokens that carry a
// user's identity. Tokens are stateless: nothing is stored server-side, so a
// sign-out only clears the cookie and an issued token stays valid until its
// natural expiry. Accepted limitation.
package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dsemenov/market/internal/apperr"
)

const CookieName = "token"

// DefaultLifetime matches the long-lived shop session: a year.
const DefaultLifetime = 365 * 24 * time.Hour

type Manager struct {
	Secret   []byte
	Lifetime time.Duration
}

func NewManager(secret []byte) *Manager {
	return &Manager{Secret: secret, Lifetime: DefaultLifetime}
}

func (m *Manager) lifetime() time.Duration {
	if m.Lifetime != 0 {
		return m.Lifetime
	}
	return DefaultLifetime
}

func (m *Manager) Issue(userID uint) (string, time.Time, error) {
	exp := time.Now().Add(m.lifetime())
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": exp.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(m.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (m *Manager) Verify(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.Secret, nil
	})
	if err != nil || !token.Valid {
		return 0, apperr.ErrInvalidSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, apperr.ErrInvalidSession
	}
	subRaw, ok := claims["sub"].(float64)
	if !ok {
		return 0, apperr.ErrInvalidSession
	}

	return uint(subRaw), nil
}

func CreateCookie(value string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func DeleteCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}
