package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/cartstore"
	"github.com/dsemenov/market/internal/events"
	"github.com/dsemenov/market/internal/logging"
	"github.com/dsemenov/market/internal/session"
)

type CartHandler struct {
	DB       *gorm.DB
	Cart     *cartstore.Store
	Sessions *session.Manager
	Producer *events.Producer
}

func (h *CartHandler) GetCart(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}

	lines, err := h.Cart.Snapshot(ctx, user.ID)
	if err != nil {
		return httpError(err)
	}

	resp := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		resp = append(resp, map[string]any{
			"id":       line.CartItem.ID,
			"item":     line.Item,
			"quantity": line.CartItem.Quantity,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// AddToCart increments the (user, item) row by one, creating it at quantity
// one when absent. Repeated adds never produce duplicate rows.
func (h *CartHandler) AddToCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "add_to_cart")

	user, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}

	var req struct {
		ItemID uint `json:"item_id"`
	}
	if err := c.Bind(&req); err != nil || req.ItemID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	row, err := h.Cart.AddItem(ctx, user.ID, req.ItemID)
	if err != nil {
		l.Warn("add_to_cart_failed", "item_id", req.ItemID, "error", err)
		return httpError(err)
	}

	publish(c, h.Producer, "cart_events", fmt.Sprint(user.ID), map[string]any{
		"type":     "cart_item_added",
		"userID":   user.ID,
		"itemID":   req.ItemID,
		"quantity": row.Quantity,
	})

	return c.JSON(http.StatusOK, row)
}

func (h *CartHandler) RemoveFromCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "remove_from_cart")

	user, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if err := h.Cart.RemoveItem(ctx, user.ID, uint(id)); err != nil {
		l.Warn("remove_from_cart_failed", "cart_item_id", id, "error", err)
		return httpError(err)
	}

	publish(c, h.Producer, "cart_events", fmt.Sprint(user.ID), map[string]any{
		"type":       "cart_item_removed",
		"userID":     user.ID,
		"cartItemID": id,
	})

	return c.JSON(http.StatusOK, map[string]any{"deleted_item": id})
}
