// Package checkout drives the payment/order saga. The charge at the gateway
// and the order row in our store cannot share a transaction, so the saga
// fails fast before the charge and reconciles forward after it: once money
// moved, every local failure becomes a durable reconciliation record instead
// of a dropped error.
package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/apperr"
	"github.com/dsemenov/market/internal/cartstore"
	"github.com/dsemenov/market/internal/logging"
	"github.com/dsemenov/market/internal/models"
	"github.com/dsemenov/market/internal/payment"
)

// unconfirmedPrefix marks reconciliation records whose charge outcome is
// still unknown; the stored suffix is the idempotency key to reconfirm with.
const unconfirmedPrefix = "unconfirmed:"

const chargeTimeout = 30 * time.Second

type Orchestrator struct {
	DB       *gorm.DB
	Cart     *cartstore.Store
	Gateway  payment.Gateway
	Currency string
}

// Checkout runs one attempt of the saga for userID, charging paymentToken.
//
// The gateway call runs on a context detached from the client: a disconnect
// mid-checkout never aborts an in-flight charge. A gateway timeout is
// ambiguous and is reconfirmed by idempotency key, never blindly retried.
func (o *Orchestrator) Checkout(ctx context.Context, userID uint, paymentToken string) (*models.Order, error) {
	l := logging.FromContext(ctx).With("saga", "checkout", "user_id", userID)

	lines, err := o.Cart.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperr.ErrEmptyCart
	}

	var total int64
	for _, line := range lines {
		total += line.Item.Price * int64(line.CartItem.Quantity)
	}

	attemptID := uuid.NewString()
	idemKey := idempotencyKey(userID, lines, attemptID)
	l = l.With("attempt_id", attemptID)

	// Detach from the client before the irreversible step.
	chargeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chargeTimeout)
	defer cancel()

	charge, err := o.Gateway.Charge(chargeCtx, total, o.Currency, paymentToken, idemKey)
	if err != nil {
		if errors.Is(err, payment.ErrAmbiguous) {
			return o.resolveAmbiguousCharge(ctx, l, userID, total, lines, idemKey)
		}
		l.Warn("charge_failed", "error", err)
		return nil, &apperr.PaymentError{Reason: "charge declined", Err: err}
	}
	if charge.Status != payment.StatusSucceeded {
		l.Warn("charge_failed", "status", charge.Status)
		return nil, &apperr.PaymentError{Reason: "charge status " + charge.Status}
	}
	l.Info("charged", "charge_id", charge.ChargeID, "amount", total)

	order, err := o.recordOrder(context.WithoutCancel(ctx), userID, total, charge.ChargeID, lines)
	if err != nil {
		// Money moved but the order didn't land. Park it for reconciliation
		// rather than returning an error that forgets the charge.
		return nil, o.parkForReconciliation(context.WithoutCancel(ctx), l, userID, total, charge.ChargeID, lines, err)
	}

	l.Info("order_recorded", "order_id", order.ID, "total", order.Total)
	return order, nil
}

// resolveAmbiguousCharge reconfirms a timed-out charge by idempotency key.
func (o *Orchestrator) resolveAmbiguousCharge(ctx context.Context, l *slog.Logger, userID uint, total int64, lines []cartstore.Line, idemKey string) (*models.Order, error) {
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chargeTimeout)
	defer cancel()

	for attempt := 0; attempt < 3; attempt++ {
		charge, err := o.Gateway.Status(statusCtx, idemKey)
		if err != nil {
			l.Warn("status_lookup_failed", "error", err)
			time.Sleep(time.Duration(attempt+1) * time.Second)
			continue
		}
		switch charge.Status {
		case payment.StatusSucceeded:
			l.Info("charge_confirmed_after_timeout", "charge_id", charge.ChargeID)
			order, err := o.recordOrder(context.WithoutCancel(ctx), userID, total, charge.ChargeID, lines)
			if err != nil {
				return nil, o.parkForReconciliation(context.WithoutCancel(ctx), l, userID, total, charge.ChargeID, lines, err)
			}
			return order, nil
		case payment.StatusNotFound, payment.StatusFailed:
			// Confirmed: no money moved.
			return nil, &apperr.PaymentError{Reason: "charge not completed"}
		}
	}

	// Still unknown. Park the attempt keyed by its idempotency key so the
	// reconciler can settle it later.
	return nil, o.parkForReconciliation(context.WithoutCancel(ctx), l, userID, total, unconfirmedPrefix+idemKey, lines, payment.ErrAmbiguous)
}

// recordOrder materializes the order and clears exactly the snapshotted cart
// rows in one local transaction. Cart rows added after the snapshot survive.
func (o *Orchestrator) recordOrder(ctx context.Context, userID uint, total int64, chargeID string, lines []cartstore.Line) (*models.Order, error) {
	order := models.Order{
		UserID:    userID,
		Total:     total,
		ChargeID:  chargeID,
		CreatedAt: time.Now().Unix(),
		Items:     snapshotLines(lines),
	}

	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		txCart := &cartstore.Store{DB: tx}
		if err := txCart.Clear(ctx, userID, cartRowIDs(lines)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (o *Orchestrator) parkForReconciliation(ctx context.Context, l *slog.Logger, userID uint, total int64, chargeID string, lines []cartstore.Line, cause error) error {
	snapshot, err := json.Marshal(snapshotLines(lines))
	if err != nil {
		l.Error("reconciliation_snapshot_failed", "charge_id", chargeID, "error", err)
		return apperr.ErrReconciliationRequired
	}

	rec := models.PendingReconciliation{
		ChargeID:   chargeID,
		UserID:     userID,
		Total:      total,
		Items:      datatypes.JSON(snapshot),
		CartRowIDs: datatypes.NewJSONSlice(cartRowIDs(lines)),
		CreatedAt:  time.Now().Unix(),
	}
	if err := o.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		// Worst case: charge confirmed, no order, no record. Scream.
		l.Error("reconciliation_record_failed", "charge_id", chargeID, "cause", fmt.Sprint(cause), "error", err)
		return apperr.ErrReconciliationRequired
	}

	l.Error("reconciliation_pending", "charge_id", chargeID, "cause", fmt.Sprint(cause))
	return apperr.ErrReconciliationRequired
}

// Reconcile retries order materialization for a parked charge. Safe to call
// repeatedly: the unique index on orders.charge_id guarantees at most one
// order per charge, and a record whose order already exists is just cleaned
// up.
func (o *Orchestrator) Reconcile(ctx context.Context, chargeID string) (*models.Order, error) {
	l := logging.FromContext(ctx).With("saga", "reconcile", "charge_id", chargeID)

	var rec models.PendingReconciliation
	if err := o.DB.WithContext(ctx).Where("charge_id = ?", chargeID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Maybe a previous retry already settled it.
			var existing models.Order
			if err := o.DB.WithContext(ctx).Preload("Items").
				Where("charge_id = ?", chargeID).First(&existing).Error; err == nil {
				return &existing, nil
			}
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("load reconciliation: %w", err)
	}

	realChargeID := rec.ChargeID
	if key, ok := cutUnconfirmed(rec.ChargeID); ok {
		charge, err := o.Gateway.Status(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("reconfirm charge: %w", err)
		}
		switch charge.Status {
		case payment.StatusSucceeded:
			realChargeID = charge.ChargeID
		case payment.StatusNotFound, payment.StatusFailed:
			// Charge never happened; nothing to materialize.
			if err := o.DB.WithContext(ctx).Delete(&rec).Error; err != nil {
				return nil, fmt.Errorf("drop stale reconciliation: %w", err)
			}
			l.Info("reconciliation_dropped", "status", charge.Status)
			return nil, &apperr.PaymentError{Reason: "charge not completed"}
		default:
			return nil, fmt.Errorf("charge still unconfirmed")
		}
	}

	var items []models.OrderLineItem
	if err := json.Unmarshal(rec.Items, &items); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	var order models.Order
	err := o.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Order
		if err := tx.Preload("Items").Where("charge_id = ?", realChargeID).First(&existing).Error; err == nil {
			order = existing
			return tx.Delete(&rec).Error
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing order: %w", err)
		}

		order = models.Order{
			UserID:    rec.UserID,
			Total:     rec.Total,
			ChargeID:  realChargeID,
			CreatedAt: time.Now().Unix(),
			Items:     items,
		}
		if err := tx.Create(&order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		// Finish what the failed attempt started: the charged cart rows are
		// still there because the original transaction rolled back.
		txCart := &cartstore.Store{DB: tx}
		if err := txCart.Clear(ctx, rec.UserID, rec.CartRowIDs); err != nil {
			return err
		}
		return tx.Delete(&rec).Error
	})
	if err != nil {
		return nil, err
	}

	l.Info("reconciled", "order_id", order.ID)
	return &order, nil
}

// Pending lists parked charges awaiting reconciliation.
func (o *Orchestrator) Pending(ctx context.Context) ([]models.PendingReconciliation, error) {
	var recs []models.PendingReconciliation
	if err := o.DB.WithContext(ctx).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load reconciliations: %w", err)
	}
	return recs, nil
}

func cartRowIDs(lines []cartstore.Line) []uint {
	ids := make([]uint, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.CartItem.ID)
	}
	return ids
}

func snapshotLines(lines []cartstore.Line) []models.OrderLineItem {
	out := make([]models.OrderLineItem, 0, len(lines))
	for _, line := range lines {
		out = append(out, models.OrderLineItem{
			ItemID:      line.Item.ID,
			Title:       line.Item.Title,
			Description: line.Item.Description,
			Price:       line.Item.Price,
			Image:       line.Item.Image,
			Quantity:    line.CartItem.Quantity,
		})
	}
	return out
}

// idempotencyKey ties a charge attempt to (user, cart contents, attempt) so
// the gateway can collapse transport-level retries of the same attempt.
func idempotencyKey(userID uint, lines []cartstore.Line, attemptID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "user:%d;", userID)
	for _, line := range lines {
		fmt.Fprintf(h, "item:%d,qty:%d,price:%d;", line.Item.ID, line.CartItem.Quantity, line.Item.Price)
	}
	fmt.Fprintf(h, "attempt:%s", attemptID)
	return hex.EncodeToString(h.Sum(nil))
}

func cutUnconfirmed(chargeID string) (string, bool) {
	if len(chargeID) > len(unconfirmedPrefix) && chargeID[:len(unconfirmedPrefix)] == unconfirmedPrefix {
		return chargeID[len(unconfirmedPrefix):], true
	}
	return "", false
}
