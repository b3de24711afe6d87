package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/apperr"
	"github.com/dsemenov/market/internal/checkout"
	"github.com/dsemenov/market/internal/events"
	"github.com/dsemenov/market/internal/logging"
	"github.com/dsemenov/market/internal/models"
	"github.com/dsemenov/market/internal/permission"
	"github.com/dsemenov/market/internal/session"
)

type CheckoutHandler struct {
	DB           *gorm.DB
	Orchestrator *checkout.Orchestrator
	Sessions     *session.Manager
	Producer     *events.Producer
}

func (h *CheckoutHandler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "checkout")

	user, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "payment token is required")
	}

	order, err := h.Orchestrator.Checkout(ctx, user.ID, req.Token)
	if err != nil {
		if errors.Is(err, apperr.ErrReconciliationRequired) {
			// The charge went through; the order will follow. Never phrased
			// as a lost payment.
			return c.JSON(http.StatusAccepted, echo.Map{
				"message": "order pending confirmation",
			})
		}
		l.Warn("checkout_failed", "user_id", user.ID, "error", err)
		return httpError(err)
	}

	publish(c, h.Producer, "order_events", fmt.Sprint(user.ID), map[string]any{
		"type":    "order_created",
		"userID":  user.ID,
		"orderID": order.ID,
		"total":   order.Total,
	})

	l.Info("checkout_success", "user_id", user.ID, "order_id", order.ID, "total", order.Total)
	return c.JSON(http.StatusOK, order)
}

func (h *CheckoutHandler) Orders(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}

	var orders []models.Order
	if err := h.DB.WithContext(ctx).Preload("Items").
		Where("user_id = ?", user.ID).
		Order("id DESC").
		Find(&orders).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, orders)
}

// Order returns one order: its owner or an admin may read it.
func (h *CheckoutHandler) Order(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var order models.Order
	if err := h.DB.WithContext(ctx).Preload("Items").First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	if err := permission.CanModify(user, order.UserID, models.PermAdmin); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, order)
}

// PendingReconciliations lists parked charges for operators.
func (h *CheckoutHandler) PendingReconciliations(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}
	if err := permission.RequireAny(user, models.PermAdmin); err != nil {
		return httpError(err)
	}

	recs, err := h.Orchestrator.Pending(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, recs)
}

// Reconcile retries order materialization for a parked charge.
func (h *CheckoutHandler) Reconcile(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "reconcile")

	user, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}
	if err := permission.RequireAny(user, models.PermAdmin); err != nil {
		return httpError(err)
	}

	chargeID := c.Param("chargeID")
	if chargeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing charge id")
	}

	order, err := h.Orchestrator.Reconcile(ctx, chargeID)
	if err != nil {
		l.Warn("reconcile_failed", "charge_id", chargeID, "error", err)
		return httpError(err)
	}

	l.Info("reconcile_success", "charge_id", chargeID, "order_id", order.ID)
	return c.JSON(http.StatusOK, order)
}
