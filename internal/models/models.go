package models

import (
	"gorm.io/datatypes"
)

const (
	PermUser             = "USER"
	PermAdmin            = "ADMIN"
	PermItemDelete       = "ITEMDELETE"
	PermPermissionUpdate = "PERMISSIONUPDATE"
)

type User struct {
	ID               uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	Email            string                      `gorm:"uniqueIndex;not null"     json:"email"`
	Name             string                      `json:"name"`
	PasswordHash     string                      `gorm:"not null"                 json:"-"`
	Permissions      datatypes.JSONSlice[string] `json:"permissions"`
	ResetToken       *string                     `gorm:"index"                    json:"-"`
	ResetTokenExpiry *int64                      `json:"-"`
}

// HasAny reports whether the user holds at least one of the given permissions.
func (u *User) HasAny(perms ...string) bool {
	for _, want := range perms {
		for _, have := range u.Permissions {
			if have == want {
				return true
			}
		}
	}
	return false
}

type Item struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint   `gorm:"index"                    json:"user_id"`
	Title       string `gorm:"not null"                 json:"title"`
	Description string `json:"description"`
	Price       int64  `gorm:"not null"                 json:"price"`
	Image       string `json:"image"`
	LargeImage  string `json:"large_image"`
}

type CartItem struct {
	ID       uint `gorm:"primaryKey;autoIncrement"                json:"id"`
	UserID   uint `gorm:"not null;uniqueIndex:idx_cart_user_item" json:"user_id"`
	ItemID   uint `gorm:"not null;uniqueIndex:idx_cart_user_item" json:"item_id"`
	Quantity uint `gorm:"not null;default:1;check:quantity>0"     json:"quantity"`
}

type Order struct {
	ID        uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint            `gorm:"index;not null"           json:"user_id"`
	Total     int64           `gorm:"not null"                 json:"total"`
	ChargeID  string          `gorm:"uniqueIndex;not null"     json:"charge_id"`
	CreatedAt int64           `gorm:"not null"                 json:"created_at"`
	Items     []OrderLineItem `gorm:"foreignKey:OrderID"       json:"items"`
}

// OrderLineItem is a snapshot of an Item taken at checkout time. It never
// changes after creation, even if the source Item is edited or deleted.
type OrderLineItem struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     uint   `gorm:"index;not null"           json:"order_id"`
	ItemID      uint   `gorm:"not null"                 json:"item_id"`
	Title       string `gorm:"not null"                 json:"title"`
	Description string `json:"description"`
	Price       int64  `gorm:"not null"                 json:"price"`
	Image       string `json:"image"`
	Quantity    uint   `gorm:"not null"                 json:"quantity"`
}

// PendingReconciliation marks a charge that succeeded at the gateway but whose
// order was not recorded. A retry materializes the order from the stored
// snapshot, keyed by charge id so the order is created at most once.
// CartRowIDs holds the charged cart rows so the retry can also finish the
// cart-clear step the original attempt rolled back.
type PendingReconciliation struct {
	ID         uint                      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChargeID   string                    `gorm:"uniqueIndex;not null"     json:"charge_id"`
	UserID     uint                      `gorm:"index;not null"           json:"user_id"`
	Total      int64                     `gorm:"not null"                 json:"total"`
	Items      datatypes.JSON            `json:"items"`
	CartRowIDs datatypes.JSONSlice[uint] `json:"cart_row_ids"`
	CreatedAt  int64                     `gorm:"not null"                 json:"created_at"`
}
