package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tandoor-pos/api/internal/database"
	"github.com/tandoor-pos/api/internal/enum"
)

func openOrder(branchID uuid.UUID) database.Order {
	return database.Order{
		ID:            uuid.New(),
		BranchID:      branchID,
		Status:        enum.OrderStatusOpen,
		PaymentStatus: enum.PaymentStatusUnpaid,
		TotalAmount:   makeNumeric("575.00"),
		Currency:      "INR",
	}
}

func storeWithOrder(order database.Order) *mockOrderStore {
	return &mockOrderStore{
		getOrderFn: func(ctx context.Context, arg database.GetOrderParams) (database.Order, error) {
			if arg.ID == order.ID && arg.BranchID == order.BranchID {
				return order, nil
			}
			return database.Order{}, pgx.ErrNoRows
		},
		getOrderForUpdateFn: func(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
			if arg.ID == order.ID && arg.BranchID == order.BranchID {
				return order, nil
			}
			return database.Order{}, pgx.ErrNoRows
		},
		updateOrderStatusFn: func(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
			updated := order
			updated.Status = arg.Status
			return updated, nil
		},
	}
}

// =====================
// Status updates
// =====================

func TestUpdateStatus_ValidStep(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	svc, tx := newTestService(storeWithOrder(order))

	updated, err := svc.UpdateStatus(context.Background(), branchID, order.ID, uuid.New(), enum.OrderStatusSent)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != enum.OrderStatusSent {
		t.Errorf("status = %q, want SENT", updated.Status)
	}
	if !tx.committed {
		t.Fatal("transaction was not committed")
	}
}

func TestUpdateStatus_InvalidStep(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	svc, _ := newTestService(storeWithOrder(order))

	_, err := svc.UpdateStatus(context.Background(), branchID, order.ID, uuid.New(), enum.OrderStatusClosed)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got: %v", err)
	}
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	svc, _ := newTestService(storeWithOrder(order))

	_, err := svc.UpdateStatus(context.Background(), branchID, order.ID, uuid.New(), "EXPLODED")
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got: %v", err)
	}
}

func TestUpdateStatus_StaleState(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	store := storeWithOrder(order)
	// The CAS write finds zero rows: someone moved the order first.
	store.updateOrderStatusFn = func(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}
	svc, _ := newTestService(store)

	_, err := svc.UpdateStatus(context.Background(), branchID, order.ID, uuid.New(), enum.OrderStatusSent)
	if !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got: %v", err)
	}
}

func TestUpdateStatus_DeletedOrderNotFound(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.IsDeleted = true
	svc, _ := newTestService(storeWithOrder(order))

	_, err := svc.UpdateStatus(context.Background(), branchID, order.ID, uuid.New(), enum.OrderStatusSent)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got: %v", err)
	}
}

func TestUpdateStatus_VoidBlockedByForeignLease(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.PaymentLocked = true
	order.LockedBy = pgtype.UUID{Bytes: uuid.New(), Valid: true}
	order.LockedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	svc, _ := newTestService(storeWithOrder(order))

	_, err := svc.UpdateStatus(context.Background(), branchID, order.ID, uuid.New(), enum.OrderStatusVoided)
	if !errors.Is(err, ErrOrderLocked) {
		t.Fatalf("expected ErrOrderLocked, got: %v", err)
	}
}

// =====================
// Payment lease
// =====================

func TestAcquirePaymentLock_HeldByOther(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.PaymentLocked = true
	store := storeWithOrder(order)
	// Conditional UPDATE matches zero rows while the order itself exists.
	store.acquirePaymentLockFn = func(ctx context.Context, arg database.AcquirePaymentLockParams) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}
	svc, _ := newTestService(store)

	_, err := svc.AcquirePaymentLock(context.Background(), branchID, order.ID, uuid.New())
	if !errors.Is(err, ErrOrderLocked) {
		t.Fatalf("expected ErrOrderLocked, got: %v", err)
	}
}

func TestAcquirePaymentLock_Succeeds(t *testing.T) {
	branchID, actorID := uuid.New(), uuid.New()
	order := openOrder(branchID)
	store := storeWithOrder(order)
	store.acquirePaymentLockFn = func(ctx context.Context, arg database.AcquirePaymentLockParams) (database.Order, error) {
		if arg.LockedBy != actorID {
			t.Errorf("locked_by = %s, want %s", arg.LockedBy, actorID)
		}
		// The TTL cutoff must be in the past.
		if !arg.ExpiredBefore.Before(time.Now()) {
			t.Error("ExpiredBefore should be a past instant")
		}
		locked := order
		locked.PaymentLocked = true
		locked.LockedBy = pgtype.UUID{Bytes: actorID, Valid: true}
		return locked, nil
	}
	svc, _ := newTestService(store)

	locked, err := svc.AcquirePaymentLock(context.Background(), branchID, order.ID, actorID)
	if err != nil {
		t.Fatalf("AcquirePaymentLock failed: %v", err)
	}
	if !locked.PaymentLocked {
		t.Error("order should report payment_locked")
	}
}

func TestAcquirePaymentLock_OrderNotFound(t *testing.T) {
	branchID := uuid.New()
	store := storeWithOrder(openOrder(branchID))
	store.acquirePaymentLockFn = func(ctx context.Context, arg database.AcquirePaymentLockParams) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}
	svc, _ := newTestService(store)

	_, err := svc.AcquirePaymentLock(context.Background(), branchID, uuid.New(), uuid.New())
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got: %v", err)
	}
}

func TestReleasePaymentLock_NotHolder(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	store := storeWithOrder(order)
	store.releasePaymentLockFn = func(ctx context.Context, arg database.ReleasePaymentLockParams) (database.Order, error) {
		return database.Order{}, pgx.ErrNoRows
	}
	svc, _ := newTestService(store)

	_, err := svc.ReleasePaymentLock(context.Background(), branchID, order.ID, uuid.New())
	if !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("expected ErrLockNotHeld, got: %v", err)
	}
}

func TestHeldByOther(t *testing.T) {
	me, other := uuid.New(), uuid.New()
	ttl := 2 * time.Minute

	unlocked := database.Order{}
	if heldByOther(unlocked, me, ttl) {
		t.Error("unlocked order should not block")
	}

	mine := database.Order{
		PaymentLocked: true,
		LockedBy:      pgtype.UUID{Bytes: me, Valid: true},
		LockedAt:      pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	if heldByOther(mine, me, ttl) {
		t.Error("own lease should not block")
	}

	theirs := mine
	theirs.LockedBy = pgtype.UUID{Bytes: other, Valid: true}
	if !heldByOther(theirs, me, ttl) {
		t.Error("live foreign lease should block")
	}

	expired := theirs
	expired.LockedAt = pgtype.Timestamptz{Time: time.Now().Add(-5 * time.Minute), Valid: true}
	if heldByOther(expired, me, ttl) {
		t.Error("expired foreign lease should not block")
	}
}

// =====================
// Payments
// =====================

func paymentStore(order database.Order) *mockOrderStore {
	store := storeWithOrder(order)
	store.acquirePaymentLockFn = func(ctx context.Context, arg database.AcquirePaymentLockParams) (database.Order, error) {
		locked := order
		locked.PaymentLocked = true
		locked.LockedBy = pgtype.UUID{Bytes: arg.LockedBy, Valid: true}
		return locked, nil
	}
	store.sumPaymentsByOrderFn = func(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error) {
		return makeNumeric("0"), nil
	}
	store.createPaymentFn = func(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error) {
		return database.Payment{
			ID:            uuid.New(),
			OrderID:       arg.OrderID,
			PaymentMethod: arg.PaymentMethod,
			Amount:        arg.Amount,
			Status:        arg.Status,
			ChangeAmount:  arg.ChangeAmount,
		}, nil
	}
	store.setOrderPaymentStatusFn = func(ctx context.Context, arg database.SetOrderPaymentStatusParams) (database.Order, error) {
		updated := order
		updated.PaymentStatus = arg.PaymentStatus
		return updated, nil
	}
	store.releasePaymentLockFn = func(ctx context.Context, arg database.ReleasePaymentLockParams) (database.Order, error) {
		released := order
		released.PaymentStatus = enum.PaymentStatusPaid
		return released, nil
	}
	return store
}

func TestAddPayment_FullPaymentMarksPaid(t *testing.T) {
	branchID, actorID := uuid.New(), uuid.New()
	order := openOrder(branchID)
	store := paymentStore(order)

	var setStatus string
	inner := store.setOrderPaymentStatusFn
	store.setOrderPaymentStatusFn = func(ctx context.Context, arg database.SetOrderPaymentStatusParams) (database.Order, error) {
		setStatus = arg.PaymentStatus
		return inner(ctx, arg)
	}

	svc, _ := newTestService(store)
	res, err := svc.AddPayment(context.Background(), AddPaymentRequest{
		BranchID:      branchID,
		OrderID:       order.ID,
		ActorID:       actorID,
		PaymentMethod: enum.PaymentMethodCard,
		Amount:        "575.00",
	})
	if err != nil {
		t.Fatalf("AddPayment failed: %v", err)
	}
	if setStatus != enum.PaymentStatusPaid {
		t.Errorf("payment status = %q, want PAID", setStatus)
	}
	if res.Payment.Status != "COMPLETED" {
		t.Errorf("payment row status = %q, want COMPLETED", res.Payment.Status)
	}
}

func TestAddPayment_PartialPayment(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	store := paymentStore(order)

	var setStatus string
	inner := store.setOrderPaymentStatusFn
	store.setOrderPaymentStatusFn = func(ctx context.Context, arg database.SetOrderPaymentStatusParams) (database.Order, error) {
		setStatus = arg.PaymentStatus
		return inner(ctx, arg)
	}

	svc, _ := newTestService(store)
	_, err := svc.AddPayment(context.Background(), AddPaymentRequest{
		BranchID:      branchID,
		OrderID:       order.ID,
		ActorID:       uuid.New(),
		PaymentMethod: enum.PaymentMethodCash,
		Amount:        "200.00",
	})
	if err != nil {
		t.Fatalf("AddPayment failed: %v", err)
	}
	if setStatus != enum.PaymentStatusPartial {
		t.Errorf("payment status = %q, want PARTIAL", setStatus)
	}
}

func TestAddPayment_SplitAccumulates(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	store := paymentStore(order)
	// A prior 200.00 tender already completed.
	store.sumPaymentsByOrderFn = func(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error) {
		return makeNumeric("200.00"), nil
	}

	var setStatus string
	inner := store.setOrderPaymentStatusFn
	store.setOrderPaymentStatusFn = func(ctx context.Context, arg database.SetOrderPaymentStatusParams) (database.Order, error) {
		setStatus = arg.PaymentStatus
		return inner(ctx, arg)
	}

	svc, _ := newTestService(store)
	_, err := svc.AddPayment(context.Background(), AddPaymentRequest{
		BranchID:      branchID,
		OrderID:       order.ID,
		ActorID:       uuid.New(),
		PaymentMethod: enum.PaymentMethodCard,
		Amount:        "375.00",
	})
	if err != nil {
		t.Fatalf("AddPayment failed: %v", err)
	}
	if setStatus != enum.PaymentStatusPaid {
		t.Errorf("payment status = %q, want PAID after covering the remainder", setStatus)
	}
}

func TestAddPayment_Overpayment(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	svc, _ := newTestService(paymentStore(order))

	_, err := svc.AddPayment(context.Background(), AddPaymentRequest{
		BranchID:      branchID,
		OrderID:       order.ID,
		ActorID:       uuid.New(),
		PaymentMethod: enum.PaymentMethodCard,
		Amount:        "600.00",
	})
	if !errors.Is(err, ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got: %v", err)
	}
}

func TestAddPayment_CashChange(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	svc, _ := newTestService(paymentStore(order))

	res, err := svc.AddPayment(context.Background(), AddPaymentRequest{
		BranchID:       branchID,
		OrderID:        order.ID,
		ActorID:        uuid.New(),
		PaymentMethod:  enum.PaymentMethodCash,
		Amount:         "575.00",
		AmountReceived: "600.00",
	})
	if err != nil {
		t.Fatalf("AddPayment failed: %v", err)
	}
	if got := res.ChangeAmount.StringFixed(2); got != "25.00" {
		t.Errorf("change = %s, want 25.00", got)
	}
}

func TestAddPayment_InsufficientCash(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	svc, _ := newTestService(paymentStore(order))

	_, err := svc.AddPayment(context.Background(), AddPaymentRequest{
		BranchID:       branchID,
		OrderID:        order.ID,
		ActorID:        uuid.New(),
		PaymentMethod:  enum.PaymentMethodCash,
		Amount:         "575.00",
		AmountReceived: "500.00",
	})
	if !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got: %v", err)
	}
}

func TestAddPayment_AlreadyPaid(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.PaymentStatus = enum.PaymentStatusPaid
	svc, _ := newTestService(paymentStore(order))

	_, err := svc.AddPayment(context.Background(), AddPaymentRequest{
		BranchID:      branchID,
		OrderID:       order.ID,
		ActorID:       uuid.New(),
		PaymentMethod: enum.PaymentMethodCard,
		Amount:        "10.00",
	})
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got: %v", err)
	}
}

func TestAddPayment_InvalidMethod(t *testing.T) {
	svc, _ := newTestService(&mockOrderStore{})

	_, err := svc.AddPayment(context.Background(), AddPaymentRequest{
		PaymentMethod: "BARTER",
		Amount:        "10.00",
	})
	if !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got: %v", err)
	}
}

func TestAddPayment_ClosedUnpaidOrderStillPayable(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.Status = enum.OrderStatusClosed
	svc, _ := newTestService(paymentStore(order))

	if _, err := svc.AddPayment(context.Background(), AddPaymentRequest{
		BranchID:      branchID,
		OrderID:       order.ID,
		ActorID:       uuid.New(),
		PaymentMethod: enum.PaymentMethodCard,
		Amount:        "575.00",
	}); err != nil {
		t.Fatalf("AddPayment on closed unpaid order failed: %v", err)
	}
}

func TestAddPayment_AutoClosesServedOrder(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.Status = enum.OrderStatusServed
	store := paymentStore(order)
	store.setOrderPaymentStatusFn = func(ctx context.Context, arg database.SetOrderPaymentStatusParams) (database.Order, error) {
		updated := order
		updated.PaymentStatus = arg.PaymentStatus
		return updated, nil
	}

	var closed bool
	store.updateOrderStatusFn = func(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
		if arg.Status == enum.OrderStatusClosed && arg.PrevStatus == enum.OrderStatusServed {
			closed = true
		}
		updated := order
		updated.Status = arg.Status
		return updated, nil
	}

	svc, _ := newTestService(store)
	if _, err := svc.AddPayment(context.Background(), AddPaymentRequest{
		BranchID:      branchID,
		OrderID:       order.ID,
		ActorID:       uuid.New(),
		PaymentMethod: enum.PaymentMethodCard,
		Amount:        "575.00",
	}); err != nil {
		t.Fatalf("AddPayment failed: %v", err)
	}
	if !closed {
		t.Error("fully paid served order should auto-close")
	}
}

// =====================
// Refund
// =====================

type recordingLoyalty struct {
	reversed []uuid.UUID
	err      error
}

func (r *recordingLoyalty) Reverse(ctx context.Context, orderID uuid.UUID) error {
	r.reversed = append(r.reversed, orderID)
	return r.err
}

func refundableStore(order database.Order) (*mockOrderStore, *bool) {
	store := storeWithOrder(order)
	voided := false
	store.voidPaymentsByOrderFn = func(ctx context.Context, orderID uuid.UUID) error {
		voided = true
		return nil
	}
	store.setOrderPaymentStatusFn = func(ctx context.Context, arg database.SetOrderPaymentStatusParams) (database.Order, error) {
		updated := order
		updated.PaymentStatus = arg.PaymentStatus
		return updated, nil
	}
	return store, &voided
}

func TestRefund_PaidClosedOrder(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.Status = enum.OrderStatusClosed
	order.PaymentStatus = enum.PaymentStatusPaid
	store, paymentsVoided := refundableStore(order)

	loyalty := &recordingLoyalty{}
	tx := &mockTx{}
	svc := NewOrderService(&mockTxBeginner{tx: tx}, func(db database.DBTX) OrderStore { return store }, testLockTTL, loyalty, nil)

	updated, err := svc.Refund(context.Background(), branchID, order.ID, uuid.New(), "guest complaint")
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if updated.Status != enum.OrderStatusRefunded {
		t.Errorf("status = %q, want REFUNDED", updated.Status)
	}
	if !*paymentsVoided {
		t.Error("payments should be voided")
	}
	if len(loyalty.reversed) != 1 || loyalty.reversed[0] != order.ID {
		t.Error("loyalty accrual should be reversed")
	}
}

func TestRefund_UnpaidOrderRejected(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.Status = enum.OrderStatusClosed
	store, _ := refundableStore(order)
	svc, _ := newTestService(store)

	_, err := svc.Refund(context.Background(), branchID, order.ID, uuid.New(), "")
	if !errors.Is(err, ErrRefundNotAllowed) {
		t.Fatalf("expected ErrRefundNotAllowed, got: %v", err)
	}
}

func TestRefund_WrongStatusRejected(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.Status = enum.OrderStatusPreparing
	order.PaymentStatus = enum.PaymentStatusPaid
	store, _ := refundableStore(order)
	svc, _ := newTestService(store)

	_, err := svc.Refund(context.Background(), branchID, order.ID, uuid.New(), "")
	if !errors.Is(err, ErrRefundNotAllowed) {
		t.Fatalf("expected ErrRefundNotAllowed, got: %v", err)
	}
}

func TestRefund_LoyaltyFailureDoesNotFailRefund(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.Status = enum.OrderStatusServed
	order.PaymentStatus = enum.PaymentStatusPaid
	store, _ := refundableStore(order)

	loyalty := &recordingLoyalty{err: errors.New("loyalty backend down")}
	tx := &mockTx{}
	svc := NewOrderService(&mockTxBeginner{tx: tx}, func(db database.DBTX) OrderStore { return store }, testLockTTL, loyalty, nil)

	if _, err := svc.Refund(context.Background(), branchID, order.ID, uuid.New(), ""); err != nil {
		t.Fatalf("Refund should survive a loyalty failure: %v", err)
	}
}

// =====================
// Soft delete
// =====================

func TestSoftDelete(t *testing.T) {
	branchID, actorID := uuid.New(), uuid.New()
	order := openOrder(branchID)
	store := storeWithOrder(order)

	var deletedBy uuid.UUID
	store.softDeleteOrderFn = func(ctx context.Context, arg database.SoftDeleteOrderParams) (uuid.UUID, error) {
		deletedBy = arg.DeletedBy
		return arg.ID, nil
	}

	svc, tx := newTestService(store)
	if err := svc.SoftDelete(context.Background(), branchID, order.ID, actorID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if deletedBy != actorID {
		t.Errorf("deleted_by = %s, want %s", deletedBy, actorID)
	}
	if !tx.committed {
		t.Fatal("transaction was not committed")
	}
}

func TestSoftDelete_AlreadyDeleted(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	store := storeWithOrder(order)
	store.softDeleteOrderFn = func(ctx context.Context, arg database.SoftDeleteOrderParams) (uuid.UUID, error) {
		return uuid.Nil, pgx.ErrNoRows
	}
	svc, _ := newTestService(store)

	err := svc.SoftDelete(context.Background(), branchID, order.ID, uuid.New())
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got: %v", err)
	}
}

// =====================
// Items and recalculation
// =====================

func TestVoidItem_RecalculatesTotals(t *testing.T) {
	branchID, itemID := uuid.New(), uuid.New()
	order := openOrder(branchID)
	store := storeWithOrder(order)

	store.voidOrderItemFn = func(ctx context.Context, arg database.VoidOrderItemParams) (database.OrderItem, error) {
		if arg.ID != itemID {
			return database.OrderItem{}, pgx.ErrNoRows
		}
		return database.OrderItem{ID: itemID, IsVoided: true}, nil
	}
	// One surviving 250.00 x 1 line.
	store.listActiveOrderItemsFn = func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
		return []database.OrderItem{{
			ID:        uuid.New(),
			OrderID:   orderID,
			Quantity:  1,
			UnitPrice: makeNumeric("250.00"),
		}}, nil
	}
	store.listVariationsByItemFn = func(ctx context.Context, orderItemID uuid.UUID) ([]database.OrderItemVariation, error) {
		return nil, nil
	}

	var written database.UpdateOrderTotalsParams
	store.updateOrderTotalsFn = func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
		written = arg
		updated := order
		updated.Subtotal = arg.Subtotal
		updated.TotalAmount = arg.TotalAmount
		return updated, nil
	}

	svc, _ := newTestService(store)
	_, err := svc.VoidItem(context.Background(), VoidItemRequest{
		BranchID: branchID,
		OrderID:  order.ID,
		ItemID:   itemID,
		ActorID:  uuid.New(),
		Reason:   "spilled",
	})
	if err != nil {
		t.Fatalf("VoidItem failed: %v", err)
	}
	// Order carries no frozen tax/service percents, so total == subtotal.
	if !numericEquals(written.Subtotal, "250.00") {
		t.Errorf("subtotal = %s, want 250.00", numericToDecimal(written.Subtotal))
	}
	if !numericEquals(written.TotalAmount, "250.00") {
		t.Errorf("total = %s, want 250.00", numericToDecimal(written.TotalAmount))
	}
}

func TestVoidItem_UnknownItem(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	store := storeWithOrder(order)
	store.voidOrderItemFn = func(ctx context.Context, arg database.VoidOrderItemParams) (database.OrderItem, error) {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	svc, _ := newTestService(store)

	_, err := svc.VoidItem(context.Background(), VoidItemRequest{
		BranchID: branchID,
		OrderID:  order.ID,
		ItemID:   uuid.New(),
		ActorID:  uuid.New(),
	})
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got: %v", err)
	}
}

func TestVoidItem_PaidOrderRejected(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.PaymentStatus = enum.PaymentStatusPaid
	svc, _ := newTestService(storeWithOrder(order))

	_, err := svc.VoidItem(context.Background(), VoidItemRequest{
		BranchID: branchID,
		OrderID:  order.ID,
		ItemID:   uuid.New(),
		ActorID:  uuid.New(),
	})
	if !errors.Is(err, ErrOrderNotModifiable) {
		t.Fatalf("expected ErrOrderNotModifiable, got: %v", err)
	}
}

func TestRecalculate_UsesFrozenPercents(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.OrderType = enum.OrderTypeDineIn
	order.TaxPercent = makeNumeric("10")
	order.ServicePercent = makeNumeric("5")
	store := storeWithOrder(order)

	store.listActiveOrderItemsFn = func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
		return []database.OrderItem{{
			ID:        uuid.New(),
			OrderID:   orderID,
			Quantity:  2,
			UnitPrice: makeNumeric("250.00"),
		}}, nil
	}
	store.listVariationsByItemFn = func(ctx context.Context, orderItemID uuid.UUID) ([]database.OrderItemVariation, error) {
		return nil, nil
	}

	var written database.UpdateOrderTotalsParams
	store.updateOrderTotalsFn = func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
		written = arg
		updated := order
		updated.TotalAmount = arg.TotalAmount
		return updated, nil
	}

	svc, _ := newTestService(store)
	if _, err := svc.Recalculate(context.Background(), branchID, order.ID, uuid.New()); err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}
	// 500 + 5% service + 10% tax = 575, from the order's own percents.
	if !numericEquals(written.TotalAmount, "575.00") {
		t.Errorf("total = %s, want 575.00", numericToDecimal(written.TotalAmount))
	}
}

func TestRecalculate_RepricesVariationDeltas(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.OrderType = enum.OrderTypeTakeaway
	store := storeWithOrder(order)

	itemID := uuid.New()
	store.listActiveOrderItemsFn = func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
		return []database.OrderItem{{
			ID:        itemID,
			OrderID:   orderID,
			Quantity:  2,
			UnitPrice: makeNumeric("250.00"),
			// Stored subtotal is stale on purpose; recalc must ignore it.
			LineSubtotal: makeNumeric("999.99"),
		}}, nil
	}
	store.listVariationsByItemFn = func(ctx context.Context, oid uuid.UUID) ([]database.OrderItemVariation, error) {
		return []database.OrderItemVariation{{
			OrderItemID: itemID,
			GroupName:   "Size",
			ValueName:   "Large",
			PriceDelta:  makeNumeric("50.00"),
		}}, nil
	}

	var written database.UpdateOrderTotalsParams
	store.updateOrderTotalsFn = func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
		written = arg
		return order, nil
	}
	var itemWrites []database.UpdateOrderItemSubtotalParams
	store.updateItemSubtotalFn = func(ctx context.Context, arg database.UpdateOrderItemSubtotalParams) error {
		itemWrites = append(itemWrites, arg)
		return nil
	}

	svc, _ := newTestService(store)
	if _, err := svc.Recalculate(context.Background(), branchID, order.ID, uuid.New()); err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}
	// (250 + 50) x 2 = 600, not the stale 999.99.
	if !numericEquals(written.Subtotal, "600.00") {
		t.Errorf("subtotal = %s, want 600.00", numericToDecimal(written.Subtotal))
	}
	// The corrected line value is written back, not just folded into the
	// order totals.
	if len(itemWrites) != 1 {
		t.Fatalf("expected 1 line subtotal write, got %d", len(itemWrites))
	}
	if itemWrites[0].ID != itemID || !numericEquals(itemWrites[0].LineSubtotal, "600.00") {
		t.Errorf("line write = item %s subtotal %s, want item %s subtotal 600.00",
			itemWrites[0].ID, numericToDecimal(itemWrites[0].LineSubtotal), itemID)
	}
}

func TestRecalculate_SkipsLineWriteWhenStoredValueCorrect(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.OrderType = enum.OrderTypeTakeaway
	store := storeWithOrder(order)

	store.listActiveOrderItemsFn = func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
		return []database.OrderItem{{
			ID:           uuid.New(),
			OrderID:      orderID,
			Quantity:     2,
			UnitPrice:    makeNumeric("250.00"),
			LineSubtotal: makeNumeric("500.00"),
		}}, nil
	}
	store.listVariationsByItemFn = func(ctx context.Context, orderItemID uuid.UUID) ([]database.OrderItemVariation, error) {
		return nil, nil
	}
	store.updateOrderTotalsFn = func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
		return order, nil
	}
	store.updateItemSubtotalFn = func(ctx context.Context, arg database.UpdateOrderItemSubtotalParams) error {
		t.Errorf("unexpected line subtotal write for item %s", arg.ID)
		return nil
	}

	svc, _ := newTestService(store)
	if _, err := svc.Recalculate(context.Background(), branchID, order.ID, uuid.New()); err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}
}

func TestRecalculate_Idempotent(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.OrderType = enum.OrderTypeDineIn
	order.TaxPercent = makeNumeric("10")
	order.ServicePercent = makeNumeric("5")
	store := storeWithOrder(order)

	store.listActiveOrderItemsFn = func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
		return []database.OrderItem{{
			ID:        uuid.New(),
			OrderID:   orderID,
			Quantity:  3,
			UnitPrice: makeNumeric("33.33"),
		}}, nil
	}
	store.listVariationsByItemFn = func(ctx context.Context, orderItemID uuid.UUID) ([]database.OrderItemVariation, error) {
		return nil, nil
	}

	var writes []database.UpdateOrderTotalsParams
	store.updateOrderTotalsFn = func(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error) {
		writes = append(writes, arg)
		return order, nil
	}

	svc, _ := newTestService(store)
	for i := 0; i < 2; i++ {
		if _, err := svc.Recalculate(context.Background(), branchID, order.ID, uuid.New()); err != nil {
			t.Fatalf("Recalculate run %d failed: %v", i+1, err)
		}
	}

	if len(writes) != 2 {
		t.Fatalf("expected 2 totals writes, got %d", len(writes))
	}
	first, second := writes[0], writes[1]
	pairs := []struct {
		name string
		a, b pgtype.Numeric
	}{
		{"subtotal", first.Subtotal, second.Subtotal},
		{"discount", first.DiscountAmount, second.DiscountAmount},
		{"tax", first.TaxAmount, second.TaxAmount},
		{"service", first.ServiceAmount, second.ServiceAmount},
		{"commission", first.CommissionAmount, second.CommissionAmount},
		{"total", first.TotalAmount, second.TotalAmount},
	}
	for _, p := range pairs {
		if !numericToDecimal(p.a).Equal(numericToDecimal(p.b)) {
			t.Errorf("%s drifted between runs: %s then %s", p.name, numericToDecimal(p.a), numericToDecimal(p.b))
		}
	}
}

func TestAddItem_PaidOrderRejected(t *testing.T) {
	branchID := uuid.New()
	order := openOrder(branchID)
	order.PaymentStatus = enum.PaymentStatusPaid
	svc, _ := newTestService(storeWithOrder(order))

	_, err := svc.AddItem(context.Background(), AddItemRequest{
		BranchID: branchID,
		OrderID:  order.ID,
		ActorID:  uuid.New(),
		Item: CreateOrderItemRequest{
			ProductID: uuid.New().String(),
			Quantity:  1,
		},
	})
	if !errors.Is(err, ErrOrderNotModifiable) {
		t.Fatalf("expected ErrOrderNotModifiable, got: %v", err)
	}
}
