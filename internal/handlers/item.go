package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/events"
	"github.com/dsemenov/market/internal/logging"
	"github.com/dsemenov/market/internal/models"
	"github.com/dsemenov/market/internal/permission"
	"github.com/dsemenov/market/internal/session"
	"github.com/dsemenov/market/internal/util"
)

type ItemHandler struct {
	DB       *gorm.DB
	Sessions *session.Manager
	Producer *events.Producer
}

type itemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Image       string `json:"image"`
	LargeImage  string `json:"large_image"`
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

func (h *ItemHandler) GetItem(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var item models.Item
	if err := h.DB.WithContext(c.Request().Context()).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, item)
}

func (h *ItemHandler) GetItems(c echo.Context) error {
	ctx := c.Request().Context()

	page := parseIntDefault(c.QueryParam("page"), 1)
	size := parseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	var total int64
	if err := h.DB.WithContext(ctx).Model(&models.Item{}).Count(&total).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	var items []models.Item
	if err := h.DB.WithContext(ctx).Order("id ASC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"data": items,
		"meta": map[string]any{
			"page":        page,
			"size":        limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
			"has_prev":    page > 1,
			"has_next":    int64(offset+limit) < total,
		},
	})
}

func (h *ItemHandler) CreateItem(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "create_item")

	actor, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}

	var req itemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Title == "" || req.Price < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required and price must be non-negative")
	}

	item := models.Item{
		UserID:      actor.ID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Image:       req.Image,
		LargeImage:  req.LargeImage,
	}
	if err := h.DB.WithContext(ctx).Create(&item).Error; err != nil {
		l.Error("create_item_failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	publish(c, h.Producer, "item_events", fmt.Sprint(actor.ID), map[string]any{
		"type":   "item_created",
		"itemID": item.ID,
		"userID": actor.ID,
		"title":  item.Title,
	})

	l.Info("item_created", "item_id", item.ID, "user_id", actor.ID)
	return c.JSON(http.StatusCreated, item)
}

func (h *ItemHandler) PatchItem(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "patch_item")

	actor, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var item models.Item
	if err := h.DB.WithContext(ctx).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	if err := permission.CanModify(actor, item.UserID, models.PermAdmin); err != nil {
		l.Warn("patch_item_denied", "item_id", item.ID, "user_id", actor.ID)
		return httpError(err)
	}

	var req itemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	// Editing an item never touches past orders: line items snapshot their
	// fields at checkout time.
	if req.Title != "" {
		item.Title = req.Title
	}
	if req.Description != "" {
		item.Description = req.Description
	}
	if req.Price > 0 {
		item.Price = req.Price
	}
	if req.Image != "" {
		item.Image = req.Image
	}
	if req.LargeImage != "" {
		item.LargeImage = req.LargeImage
	}

	if err := h.DB.WithContext(ctx).Save(&item).Error; err != nil {
		l.Error("patch_item_failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	publish(c, h.Producer, "item_events", fmt.Sprint(actor.ID), map[string]any{
		"type":   "item_updated",
		"itemID": item.ID,
		"userID": actor.ID,
	})

	return c.JSON(http.StatusOK, item)
}

// DeleteItem is allowed for the item's owner or anyone holding an elevated
// permission; never requires both.
func (h *ItemHandler) DeleteItem(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "delete_item")

	actor, err := requireUser(c, h.Sessions, h.DB)
	if err != nil {
		return httpError(err)
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var item models.Item
	if err := h.DB.WithContext(ctx).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	if err := permission.CanModify(actor, item.UserID, models.PermAdmin, models.PermItemDelete); err != nil {
		l.Warn("delete_item_denied", "item_id", item.ID, "user_id", actor.ID)
		return httpError(err)
	}

	if err := h.DB.WithContext(ctx).Delete(&item).Error; err != nil {
		l.Error("delete_item_failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	publish(c, h.Producer, "item_events", fmt.Sprint(actor.ID), map[string]any{
		"type":   "item_deleted",
		"itemID": id,
		"userID": actor.ID,
	})

	l.Info("item_deleted", "item_id", id, "user_id", actor.ID)
	return c.NoContent(http.StatusNoContent)
}
