package cartstore

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/apperr"
	"github.com/dsemenov/market/internal/models"
)

func initTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to in-memory db: %v", err)
	}
	// One pooled connection, or each would see its own :memory: database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.User{}, &models.Item{}, &models.CartItem{}); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}
	return db
}

func seedItem(t *testing.T, db *gorm.DB, price int64) models.Item {
	item := models.Item{Title: "widget", Price: price}
	require.NoError(t, db.Create(&item).Error)
	return item
}

func TestAddItemMergesDuplicates(t *testing.T) {
	db := initTestDB(t)
	store := New(db)
	ctx := context.Background()
	item := seedItem(t, db, 500)

	const n = 5
	for i := 0; i < n; i++ {
		_, err := store.AddItem(ctx, 1, item.ID)
		require.NoError(t, err)
	}

	var rows []models.CartItem
	require.NoError(t, db.Where("user_id = ? AND item_id = ?", 1, item.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, uint(n), rows[0].Quantity)
}

func TestAddItemConcurrent(t *testing.T) {
	db := initTestDB(t)
	store := New(db)
	ctx := context.Background()
	item := seedItem(t, db, 500)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AddItem(ctx, 1, item.ID)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	var rows []models.CartItem
	require.NoError(t, db.Where("user_id = ?", 1).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, uint(n), rows[0].Quantity)
}

func TestAddItemUnknownItem(t *testing.T) {
	db := initTestDB(t)
	store := New(db)

	_, err := store.AddItem(context.Background(), 1, 999)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemoveItem(t *testing.T) {
	db := initTestDB(t)
	store := New(db)
	ctx := context.Background()
	item := seedItem(t, db, 500)

	row, err := store.AddItem(ctx, 1, item.ID)
	require.NoError(t, err)

	require.NoError(t, store.RemoveItem(ctx, 1, row.ID))

	var count int64
	require.NoError(t, db.Model(&models.CartItem{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRemoveItemNotFound(t *testing.T) {
	db := initTestDB(t)
	store := New(db)

	err := store.RemoveItem(context.Background(), 1, 999)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemoveItemNonOwner(t *testing.T) {
	db := initTestDB(t)
	store := New(db)
	ctx := context.Background()
	item := seedItem(t, db, 500)

	row, err := store.AddItem(ctx, 1, item.ID)
	require.NoError(t, err)

	err = store.RemoveItem(ctx, 2, row.ID)
	require.ErrorIs(t, err, apperr.ErrOwnershipViolation)

	// The row is untouched.
	var kept models.CartItem
	require.NoError(t, db.First(&kept, row.ID).Error)
	require.Equal(t, uint(1), kept.UserID)
}

func TestSnapshot(t *testing.T) {
	db := initTestDB(t)
	store := New(db)
	ctx := context.Background()

	a := seedItem(t, db, 500)
	b := seedItem(t, db, 300)

	_, err := store.AddItem(ctx, 1, a.ID)
	require.NoError(t, err)
	_, err = store.AddItem(ctx, 1, a.ID)
	require.NoError(t, err)
	_, err = store.AddItem(ctx, 1, b.ID)
	require.NoError(t, err)

	// Another user's cart stays out of the snapshot.
	_, err = store.AddItem(ctx, 2, b.ID)
	require.NoError(t, err)

	lines, err := store.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, a.ID, lines[0].Item.ID)
	require.Equal(t, uint(2), lines[0].CartItem.Quantity)
	require.Equal(t, int64(500), lines[0].Item.Price)
	require.Equal(t, b.ID, lines[1].Item.ID)
	require.Equal(t, uint(1), lines[1].CartItem.Quantity)
}

func TestSnapshotEmptyCart(t *testing.T) {
	db := initTestDB(t)
	store := New(db)

	lines, err := store.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestClearOnlyListedRows(t *testing.T) {
	db := initTestDB(t)
	store := New(db)
	ctx := context.Background()

	a := seedItem(t, db, 500)
	b := seedItem(t, db, 300)

	rowA, err := store.AddItem(ctx, 1, a.ID)
	require.NoError(t, err)
	rowB, err := store.AddItem(ctx, 1, b.ID)
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, 1, []uint{rowA.ID}))

	var remaining []models.CartItem
	require.NoError(t, db.Where("user_id = ?", 1).Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, rowB.ID, remaining[0].ID)
}
