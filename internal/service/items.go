package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tandoor-pos/api/internal/database"
	"github.com/tandoor-pos/api/internal/pricing"
)

// AddItemRequest adds one line to an existing order.
type AddItemRequest struct {
	BranchID uuid.UUID
	OrderID  uuid.UUID
	ActorID  uuid.UUID
	Item     CreateOrderItemRequest
}

// AddItem appends a priced line to an open order and recalculates the
// order totals in the same transaction.
func (s *OrderService) AddItem(ctx context.Context, req AddItemRequest) (*CreateOrderResult, error) {
	if req.Item.Quantity <= 0 {
		return nil, pricing.ErrInvalidQuantity
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := s.lockModifiableOrder(ctx, store, req.BranchID, req.OrderID, req.ActorID)
	if err != nil {
		return nil, err
	}

	snap, input, err := s.buildLineInput(ctx, store, req.BranchID, req.Item)
	if err != nil {
		return nil, err
	}
	line, warns, err := composeAndLog(s.log, req.BranchID, snap, input)
	if err != nil {
		return nil, err
	}

	item, variations, err := insertLine(ctx, store, order.ID, line)
	if err != nil {
		return nil, err
	}

	updated, err := s.recalculateTx(ctx, store, order)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{
		Order:    updated,
		Items:    []OrderItemResult{{Item: item, Variations: variations}},
		Warnings: warns,
	}, nil
}

// VoidItemRequest marks one line voided.
type VoidItemRequest struct {
	BranchID uuid.UUID
	OrderID  uuid.UUID
	ItemID   uuid.UUID
	ActorID  uuid.UUID
	Reason   string
}

// VoidItem voids a line and recalculates totals from the remaining active
// lines. The row is kept for audit; it just stops counting.
func (s *OrderService) VoidItem(ctx context.Context, req VoidItemRequest) (database.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := s.lockModifiableOrder(ctx, store, req.BranchID, req.OrderID, req.ActorID)
	if err != nil {
		return database.Order{}, err
	}

	_, err = store.VoidOrderItem(ctx, database.VoidOrderItemParams{
		ID:      req.ItemID,
		OrderID: order.ID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrItemNotFound
		}
		return database.Order{}, fmt.Errorf("void order item: %w", err)
	}

	updated, err := s.recalculateTx(ctx, store, order)
	if err != nil {
		return database.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("order item voided",
		zap.String("order_id", order.ID.String()),
		zap.String("item_id", req.ItemID.String()),
		zap.String("voided_by", req.ActorID.String()),
		zap.String("reason", req.Reason))

	return updated, nil
}

// lockModifiableOrder row-locks the order and verifies it can still be
// changed: not terminal, not paid, not soft-deleted, and not held by
// another actor's live payment lease.
func (s *OrderService) lockModifiableOrder(ctx context.Context, store OrderStore, branchID, orderID, actorID uuid.UUID) (database.Order, error) {
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
	if !CanModify(order) {
		return database.Order{}, ErrOrderNotModifiable
	}
	if heldByOther(order, actorID, s.lockTTL) {
		return database.Order{}, ErrOrderLocked
	}
	return order, nil
}
