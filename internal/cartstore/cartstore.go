// Package cartstore maintains per-user cart rows. All mutations go through
// the database so concurrent requests, possibly on different instances, stay
// consistent without process-level locks.
package cartstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dsemenov/market/internal/apperr"
	"github.com/dsemenov/market/internal/models"
)

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Line pairs a cart row with the item it references, as read by Snapshot.
type Line struct {
	CartItem models.CartItem
	Item     models.Item
}

// AddItem upserts the (userID, itemID) row in a single conditional statement:
// a new row starts at quantity 1, an existing row is incremented. Safe
// against concurrent adds for the same pair.
func (s *Store) AddItem(ctx context.Context, userID, itemID uint) (models.CartItem, error) {
	var item models.Item
	if err := s.DB.WithContext(ctx).First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.CartItem{}, apperr.ErrNotFound
		}
		return models.CartItem{}, fmt.Errorf("load item: %w", err)
	}

	row := models.CartItem{UserID: userID, ItemID: itemID, Quantity: 1}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity": gorm.Expr("cart_items.quantity + 1"),
		}),
	}).Create(&row).Error
	if err != nil {
		return models.CartItem{}, fmt.Errorf("upsert cart item: %w", err)
	}

	// Re-read: on the conflict path Create does not report the incremented
	// quantity.
	var current models.CartItem
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		First(&current).Error; err != nil {
		return models.CartItem{}, fmt.Errorf("read cart item: %w", err)
	}
	return current, nil
}

// RemoveItem deletes the cart row outright. Quantity never reaches 0.
func (s *Store) RemoveItem(ctx context.Context, userID, cartItemID uint) error {
	var row models.CartItem
	if err := s.DB.WithContext(ctx).First(&row, cartItemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("load cart item: %w", err)
	}
	if row.UserID != userID {
		return apperr.ErrOwnershipViolation
	}
	if err := s.DB.WithContext(ctx).Delete(&row).Error; err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

// Snapshot reads the user's cart joined with current item details. An empty
// slice is a valid result; checkout decides what to do with it.
func (s *Store) Snapshot(ctx context.Context, userID uint) ([]Line, error) {
	var rows []models.CartItem
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	itemIDs := make([]uint, 0, len(rows))
	for _, r := range rows {
		itemIDs = append(itemIDs, r.ItemID)
	}
	var items []models.Item
	if err := s.DB.WithContext(ctx).Find(&items, itemIDs).Error; err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	byID := make(map[uint]models.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	lines := make([]Line, 0, len(rows))
	for _, r := range rows {
		it, ok := byID[r.ItemID]
		if !ok {
			// Item deleted out from under the cart row; skip rather than
			// charge for a phantom.
			continue
		}
		lines = append(lines, Line{CartItem: r, Item: it})
	}
	return lines, nil
}

// Clear removes exactly the listed rows for the user. Rows added after the
// caller took its snapshot are untouched.
func (s *Store) Clear(ctx context.Context, userID uint, cartItemIDs []uint) error {
	if len(cartItemIDs) == 0 {
		return nil
	}
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, cartItemIDs).
		Delete(&models.CartItem{}).Error; err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
