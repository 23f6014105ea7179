package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tandoor-pos/api/internal/database"
)

// AcquirePaymentLock takes the settlement lease for actorID. The lock is a
// lease, not a mutex: a holder that disappears mid-settlement blocks other
// terminals only until lockTTL elapses, after which the lease can be
// stolen. Re-acquiring a lease you already hold renews it.
func (s *OrderService) AcquirePaymentLock(ctx context.Context, branchID, orderID, actorID uuid.UUID) (database.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.AcquirePaymentLock(ctx, database.AcquirePaymentLockParams{
		ID:            orderID,
		BranchID:      branchID,
		LockedBy:      actorID,
		ExpiredBefore: time.Now().Add(-s.lockTTL),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, s.classifyLockFailure(ctx, store, branchID, orderID)
		}
		return database.Order{}, fmt.Errorf("acquire payment lock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("payment lock acquired",
		zap.String("order_id", orderID.String()),
		zap.String("locked_by", actorID.String()))

	return order, nil
}

// classifyLockFailure distinguishes "no such order" from "someone else
// holds a live lease" after the conditional UPDATE matched zero rows.
func (s *OrderService) classifyLockFailure(ctx context.Context, store OrderStore, branchID, orderID uuid.UUID) error {
	order, err := store.GetOrder(ctx, database.GetOrderParams{ID: orderID, BranchID: branchID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("get order: %w", err)
	}
	if order.IsDeleted {
		return ErrOrderNotFound
	}
	return ErrOrderLocked
}

// ReleasePaymentLock releases the lease if actorID holds it. Releasing a
// lease held by someone else (or none at all) is ErrLockNotHeld.
func (s *OrderService) ReleasePaymentLock(ctx context.Context, branchID, orderID, actorID uuid.UUID) (database.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.ReleasePaymentLock(ctx, database.ReleasePaymentLockParams{
		ID:       orderID,
		BranchID: branchID,
		LockedBy: actorID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrLockNotHeld
		}
		return database.Order{}, fmt.Errorf("release payment lock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}

	return order, nil
}

// heldByOther reports whether a live payment lease held by a different
// actor blocks this operation. Expired leases do not block.
func heldByOther(order database.Order, actorID uuid.UUID, ttl time.Duration) bool {
	if !order.PaymentLocked {
		return false
	}
	if order.LockedBy.Valid && uuid.UUID(order.LockedBy.Bytes) == actorID {
		return false
	}
	if order.LockedAt.Valid && time.Since(order.LockedAt.Time) > ttl {
		return false
	}
	return true
}
