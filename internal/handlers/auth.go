package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/events"
	"github.com/dsemenov/market/internal/hash"
	"github.com/dsemenov/market/internal/logging"
	"github.com/dsemenov/market/internal/models"
	"github.com/dsemenov/market/internal/reset"
	"github.com/dsemenov/market/internal/session"
)

type AuthHandler struct {
	DB       *gorm.DB
	Sessions *session.Manager
	Reset    *reset.Flow
	Producer *events.Producer
}

func (h *AuthHandler) Signup(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "signup")

	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("signup_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		l.Warn("signup_error", "status", 400, "reason", "missing_fields")
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	pwHash, err := hash.HashPassword(req.Password)
	if err != nil {
		l.Error("signup_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	var existing models.User
	if err := h.DB.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			l.Error("signup_error", "status", 500, "reason", "db_error", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	} else {
		l.Warn("signup_failed", "status", 409, "reason", "user_exists")
		return echo.NewHTTPError(http.StatusConflict, "user already exists")
	}

	user := models.User{
		Email:        email,
		Name:         req.Name,
		PasswordHash: pwHash,
		Permissions:  datatypes.NewJSONSlice([]string{models.PermUser}),
	}
	if err := h.DB.WithContext(ctx).Create(&user).Error; err != nil {
		// Concurrent signup for the same email: the existence check above is
		// not atomic, the unique index is.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			l.Warn("signup_failed", "status", 409, "reason", "user_exists")
			return echo.NewHTTPError(http.StatusConflict, "user already exists")
		}
		l.Error("signup_failed", "status", 500, "reason", "db_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	if err := h.setSessionCookie(c, user.ID); err != nil {
		l.Error("signup_failed", "status", 500, "reason", "cannot create token", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot create token")
	}

	publish(c, h.Producer, "user_events", fmt.Sprint(user.ID), map[string]any{
		"type":   "user_signed_up",
		"userID": user.ID,
		"email":  user.Email,
	})

	l.Info("signup_success", "status", 200, "user_id", user.ID)
	return c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) SignIn(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "signin")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("signin_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	var user models.User
	if err := h.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		l.Warn("signin_failed", "status", 401, "reason", "invalid email or password")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
	}

	if !hash.CheckPassword(user.PasswordHash, req.Password) {
		l.Warn("signin_failed", "status", 401, "reason", "invalid email or password")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
	}

	if err := h.setSessionCookie(c, user.ID); err != nil {
		l.Error("signin_failed", "status", 500, "reason", "cannot create token", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot create token")
	}

	publish(c, h.Producer, "user_events", fmt.Sprint(user.ID), map[string]any{
		"type":   "user_signed_in",
		"userID": user.ID,
		"email":  user.Email,
	})

	l.Info("signin_success", "user_id", user.ID)
	return c.JSON(http.StatusOK, user)
}

// SignOut clears the cookie. The token itself stays valid until expiry;
// there is no server-side revocation list.
func (h *AuthHandler) SignOut(c echo.Context) error {
	l := logging.FromContext(c.Request().Context()).With("handler", "signout")

	c.SetCookie(session.DeleteCookie())
	l.Info("signout_success")
	return c.JSON(http.StatusOK, echo.Map{"message": "goodbye"})
}

func (h *AuthHandler) RequestReset(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "request_reset")

	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("request_reset_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Reset.RequestReset(ctx, req.Email); err != nil {
		l.Warn("request_reset_failed", "error", err)
		return httpError(err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "check your mail for a reset link"})
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "reset_password")

	var req struct {
		ResetToken      string `json:"resetToken"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("reset_password_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	user, err := h.Reset.ResetPassword(ctx, req.ResetToken, req.Password, req.ConfirmPassword)
	if err != nil {
		l.Warn("reset_password_failed", "error", err)
		return httpError(err)
	}

	if err := h.setSessionCookie(c, user.ID); err != nil {
		l.Error("reset_password_failed", "status", 500, "reason", "cannot create token", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "cannot create token")
	}

	l.Info("reset_password_success", "user_id", user.ID)
	return c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) setSessionCookie(c echo.Context, userID uint) error {
	token, exp, err := h.Sessions.Issue(userID)
	if err != nil {
		return err
	}
	c.SetCookie(session.CreateCookie(token, exp))
	return nil
}
