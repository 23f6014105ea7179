package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tandoor-pos/api/internal/database"
	"github.com/tandoor-pos/api/internal/enum"
)

// Payment input errors.
var (
	ErrInvalidPaymentMethod = errors.New("invalid payment_method")
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")
	ErrInsufficientCash     = errors.New("amount_received is less than the amount due")
)

// AddPaymentRequest records one tender against an order.
type AddPaymentRequest struct {
	BranchID        uuid.UUID
	OrderID         uuid.UUID
	ActorID         uuid.UUID
	PaymentMethod   string
	Amount          string
	AmountReceived  string // cash only
	ReferenceNumber string
}

// AddPaymentResult is the recorded payment with the updated order and, for
// cash tenders, the change due.
type AddPaymentResult struct {
	Order        database.Order
	Payment      database.Payment
	ChangeAmount decimal.Decimal
}

// AddPayment records a payment inside the settlement lease. The lease is
// acquired (or renewed) as part of the same transaction, so two terminals
// can never both settle the order. Split payments accumulate: the order
// goes PARTIAL until the completed sum covers the total, then PAID. A
// fully paid SERVED order is closed automatically.
func (s *OrderService) AddPayment(ctx context.Context, req AddPaymentRequest) (*AddPaymentResult, error) {
	if !isValidPaymentMethod(req.PaymentMethod) {
		return nil, ErrInvalidPaymentMethod
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, ErrInvalidPaymentAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{
		ID:       req.OrderID,
		BranchID: req.BranchID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.IsDeleted {
		return nil, ErrOrderNotFound
	}
	// CLOSED is still payable: a floor manager can close an unpaid order
	// and settle it after the fact. Voided, cancelled, and refunded
	// orders are not.
	if terminalStatuses[order.Status] && order.Status != enum.OrderStatusClosed {
		return nil, ErrOrderNotModifiable
	}
	if order.PaymentStatus == enum.PaymentStatusPaid {
		return nil, ErrAlreadyPaid
	}

	// Take the lease inside the same transaction. The row lock above
	// serializes concurrent attempts; the lease keeps the exclusivity
	// across the cashier's whole settlement session.
	order, err = store.AcquirePaymentLock(ctx, database.AcquirePaymentLockParams{
		ID:            req.OrderID,
		BranchID:      req.BranchID,
		LockedBy:      req.ActorID,
		ExpiredBefore: time.Now().Add(-s.lockTTL),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderLocked
		}
		return nil, fmt.Errorf("acquire payment lock: %w", err)
	}

	paidSum, err := store.SumPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}
	total := numericToDecimal(order.TotalAmount)
	remaining := total.Sub(numericToDecimal(paidSum))
	if amount.GreaterThan(remaining) {
		return nil, ErrOverpayment
	}

	params := database.CreatePaymentParams{
		OrderID:       order.ID,
		PaymentMethod: req.PaymentMethod,
		Amount:        decimalToNumeric(amount),
		Status:        "COMPLETED",
		ProcessedBy:   req.ActorID,
	}
	if req.ReferenceNumber != "" {
		params.ReferenceNumber = pgtype.Text{String: req.ReferenceNumber, Valid: true}
	}

	change := decimal.Zero
	if req.PaymentMethod == enum.PaymentMethodCash && req.AmountReceived != "" {
		received, err := decimal.NewFromString(req.AmountReceived)
		if err != nil || received.IsNegative() {
			return nil, ErrInvalidPaymentAmount
		}
		if received.LessThan(amount) {
			return nil, ErrInsufficientCash
		}
		change = received.Sub(amount)
		params.AmountReceived = decimalToNumeric(received)
		params.ChangeAmount = decimalToNumeric(change)
	}

	payment, err := store.CreatePayment(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	paymentStatus := enum.PaymentStatusPartial
	if amount.Equal(remaining) {
		paymentStatus = enum.PaymentStatusPaid
	}
	order, err = store.SetOrderPaymentStatus(ctx, database.SetOrderPaymentStatusParams{
		ID:            order.ID,
		PaymentStatus: paymentStatus,
		PaymentMethod: pgtype.Text{String: req.PaymentMethod, Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("set payment status: %w", err)
	}

	// Fully settling a served order closes it; the floor never has to
	// issue a second request for the common case.
	if paymentStatus == enum.PaymentStatusPaid && order.Status == enum.OrderStatusServed {
		order, err = store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
			ID:         order.ID,
			BranchID:   req.BranchID,
			Status:     enum.OrderStatusClosed,
			PrevStatus: enum.OrderStatusServed,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrStaleState
			}
			return nil, fmt.Errorf("close order: %w", err)
		}
	}

	// Settlement over: drop the lease. Failing here is harmless, the
	// lease expires on its own.
	if paymentStatus == enum.PaymentStatusPaid {
		if released, err := store.ReleasePaymentLock(ctx, database.ReleasePaymentLockParams{
			ID:       order.ID,
			BranchID: req.BranchID,
			LockedBy: req.ActorID,
		}); err == nil {
			order = released
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("payment recorded",
		zap.String("order_id", order.ID.String()),
		zap.String("method", req.PaymentMethod),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("payment_status", paymentStatus))

	return &AddPaymentResult{Order: order, Payment: payment, ChangeAmount: change}, nil
}

// ListPayments returns every payment row for an order, voided included.
func (s *OrderService) ListPayments(ctx context.Context, branchID, orderID uuid.UUID) ([]database.Payment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if _, err := store.GetOrder(ctx, database.GetOrderParams{ID: orderID, BranchID: branchID}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return store.ListPaymentsByOrder(ctx, orderID)
}

func isValidPaymentMethod(s string) bool {
	switch s {
	case enum.PaymentMethodCash, enum.PaymentMethodCard,
		enum.PaymentMethodQR, enum.PaymentMethodTransfer:
		return true
	}
	return false
}
