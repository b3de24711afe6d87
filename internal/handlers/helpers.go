package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/apperr"
	"github.com/dsemenov/market/internal/events"
	"github.com/dsemenov/market/internal/logging"
	"github.com/dsemenov/market/internal/models"
	"github.com/dsemenov/market/internal/permission"
	"github.com/dsemenov/market/internal/session"
)

// currentUserID resolves the identity from the session cookie. Returns 0
// with no error when the request simply carries no session.
func currentUserID(c echo.Context, sessions *session.Manager) (uint, error) {
	cookie, err := c.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		return 0, nil
	}
	userID, err := sessions.Verify(cookie.Value)
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// requireUser resolves and loads the acting user, failing when the request
// is unauthenticated.
func requireUser(c echo.Context, sessions *session.Manager, db *gorm.DB) (*models.User, error) {
	userID, err := currentUserID(c, sessions)
	if err != nil {
		return nil, err
	}
	if err := permission.RequireAuthenticated(userID); err != nil {
		return nil, err
	}

	var user models.User
	if err := db.WithContext(c.Request().Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrInvalidSession
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

// httpError translates service-layer errors into echo HTTP errors.
func httpError(err error) error {
	var ve *apperr.ValidationError
	var pe *apperr.PaymentError

	switch {
	case errors.Is(err, apperr.ErrAuthenticationRequired),
		errors.Is(err, apperr.ErrInvalidCredentials),
		errors.Is(err, apperr.ErrInvalidSession):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, apperr.ErrPermissionDenied),
		errors.Is(err, apperr.ErrOwnershipViolation):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrEmptyCart),
		errors.Is(err, apperr.ErrExpiredOrInvalidToken):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.As(err, &pe):
		return echo.NewHTTPError(http.StatusPaymentRequired, pe.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// publish fires a domain event; failures are logged, never surfaced.
func publish(c echo.Context, producer *events.Producer, topic, key string, event map[string]any) {
	if producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), 5*time.Second)
	defer cancel()
	if err := producer.PublishEvent(ctx, topic, key, event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka_publish_failed", "topic", topic, "error", err)
	}
}
