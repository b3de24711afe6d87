package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/logging"
	"github.com/dsemenov/market/internal/models"
	"github.com/dsemenov/market/internal/permission"
	"github.com/dsemenov/market/internal/session"
)

type UserHandler struct {
	DB       *gorm.DB
	Sessions *session.Manager
}

var knownPermissions = map[string]bool{
	models.PermUser:             true,
	models.PermAdmin:            true,
	models.PermItemDelete:       true,
	models.PermPermissionUpdate: true,
}

// Me returns the acting user, or null when no session is present. An absent
// session is not an error here: clients probe this to render signed-out
// state.
func (h *UserHandler) Me(c echo.Context) error {
	userID, err := currentUserID(c, h.Sessions)
	if err != nil {
		return httpError(err)
	}
	if userID == 0 {
		return c.JSON(http.StatusOK, nil)
	}

	var user models.User
	if err := h.DB.WithContext(c.Request().Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusOK, nil)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, user)
}

func (h *UserHandler) Users(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "users")

	actor, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}
	if err := permission.RequireAny(actor, models.PermAdmin, models.PermPermissionUpdate); err != nil {
		l.Warn("users_denied", "user_id", actor.ID)
		return httpError(err)
	}

	var users []models.User
	if err := h.DB.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, users)
}

func (h *UserHandler) UpdatePermissions(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "update_permissions")

	actor, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}
	if err := permission.RequireAny(actor, models.PermAdmin, models.PermPermissionUpdate); err != nil {
		l.Warn("update_permissions_denied", "user_id", actor.ID)
		return httpError(err)
	}

	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil || targetID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	for _, p := range req.Permissions {
		if !knownPermissions[p] {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown permission: "+p)
		}
	}

	var target models.User
	if err := h.DB.WithContext(ctx).First(&target, targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	target.Permissions = datatypes.NewJSONSlice(req.Permissions)
	if err := h.DB.WithContext(ctx).Save(&target).Error; err != nil {
		l.Error("update_permissions_failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	l.Info("permissions_updated", "actor_id", actor.ID, "target_id", target.ID, "permissions", req.Permissions)
	return c.JSON(http.StatusOK, target)
}
