package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tandoor-pos/api/internal/database"
	"github.com/tandoor-pos/api/internal/enum"
)

// UpdateStatus moves an order one step along the lifecycle. The write is a
// compare-and-swap against the status the caller read; a concurrent move
// surfaces as ErrStaleState so the terminal can re-fetch instead of
// silently jumping states.
func (s *OrderService) UpdateStatus(ctx context.Context, branchID, orderID, actorID uuid.UUID, next string) (database.Order, error) {
	if !isValidOrderStatus(next) {
		return database.Order{}, &InvalidTransitionError{From: "?", To: next}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrder(ctx, database.GetOrderParams{ID: orderID, BranchID: branchID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.IsDeleted {
		return database.Order{}, ErrOrderNotFound
	}
	if err := validateTransition(order.Status, order.PaymentStatus, next); err != nil {
		return database.Order{}, err
	}
	if next == enum.OrderStatusVoided || next == enum.OrderStatusCancelled {
		if heldByOther(order, actorID, s.lockTTL) {
			return database.Order{}, ErrOrderLocked
		}
	}

	updated, err := store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:         orderID,
		BranchID:   branchID,
		Status:     next,
		PrevStatus: order.Status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrStaleState
		}
		return database.Order{}, fmt.Errorf("update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("order status changed",
		zap.String("order_id", orderID.String()),
		zap.String("from", order.Status),
		zap.String("to", next),
		zap.String("by", actorID.String()))

	return updated, nil
}

// Refund reverses a settled order: every completed payment is voided, the
// payment status goes VOIDED, the order goes REFUNDED, and any loyalty
// accrual is unwound. Only a PAID order in SERVED or CLOSED qualifies.
func (s *OrderService) Refund(ctx context.Context, branchID, orderID, actorID uuid.UUID, reason string) (database.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{
		ID:       orderID,
		BranchID: branchID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.IsDeleted {
		return database.Order{}, ErrOrderNotFound
	}
	if order.PaymentStatus != enum.PaymentStatusPaid {
		return database.Order{}, ErrRefundNotAllowed
	}
	if order.Status != enum.OrderStatusServed && order.Status != enum.OrderStatusClosed {
		return database.Order{}, ErrRefundNotAllowed
	}

	if err := store.VoidPaymentsByOrder(ctx, orderID); err != nil {
		return database.Order{}, fmt.Errorf("void payments: %w", err)
	}
	if _, err := store.SetOrderPaymentStatus(ctx, database.SetOrderPaymentStatusParams{
		ID:            orderID,
		PaymentStatus: enum.PaymentStatusVoided,
	}); err != nil {
		return database.Order{}, fmt.Errorf("set payment status: %w", err)
	}

	updated, err := store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:         orderID,
		BranchID:   branchID,
		Status:     enum.OrderStatusRefunded,
		PrevStatus: order.Status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrStaleState
		}
		return database.Order{}, fmt.Errorf("update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}

	// Loyalty reversal is outside the order transaction. A refund must
	// not fail because the loyalty backend is down; the reversal is
	// retriable from the log.
	if err := s.loyalty.Reverse(ctx, orderID); err != nil {
		s.log.Error("loyalty reversal failed, needs manual retry",
			zap.String("order_id", orderID.String()),
			zap.Error(err))
	}

	s.log.Info("order refunded",
		zap.String("order_id", orderID.String()),
		zap.String("by", actorID.String()),
		zap.String("reason", reason))

	return updated, nil
}

// SoftDelete hides an order from listings without destroying it. Deleted
// orders remain readable by ID and their payments stay on the books.
func (s *OrderService) SoftDelete(ctx context.Context, branchID, orderID, actorID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	_, err = store.SoftDeleteOrder(ctx, database.SoftDeleteOrderParams{
		ID:        orderID,
		BranchID:  branchID,
		DeletedBy: actorID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No such order, or it is already deleted.
			return ErrOrderNotFound
		}
		return fmt.Errorf("soft delete order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("order deleted",
		zap.String("order_id", orderID.String()),
		zap.String("deleted_by", actorID.String()))

	return nil
}

// OrderDetail is an order with its full item set (voided lines included)
// and captured variations.
type OrderDetail struct {
	Order database.Order
	Items []OrderItemResult
}

// GetOrder loads an order with all its items. Soft-deleted orders are
// returned too; hiding them is the listing's job.
func (s *OrderService) GetOrder(ctx context.Context, branchID, orderID uuid.UUID) (*OrderDetail, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrder(ctx, database.GetOrderParams{ID: orderID, BranchID: branchID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	detail := &OrderDetail{Order: order}
	for _, item := range items {
		variations, err := store.ListVariationsByOrderItem(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("list item variations: %w", err)
		}
		detail.Items = append(detail.Items, OrderItemResult{Item: item, Variations: variations})
	}
	return detail, nil
}

// ListOrders returns the branch's non-deleted orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	return s.newStore(tx).ListOrders(ctx, arg)
}
