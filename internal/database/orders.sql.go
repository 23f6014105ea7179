package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, branch_id, order_number, order_type, status, payment_status, payment_method,
	customer_id, table_id, guest_count, aggregator_id, external_order_ref, notes,
	subtotal, discount_amount, tax_percent, tax_inclusive, tax_amount,
	service_percent, service_amount, commission_percent, commission_amount, total_amount, currency,
	payment_locked, locked_by, locked_at, is_deleted, deleted_by, deleted_at,
	created_by, created_at, updated_at, closed_at, voided_at`

// scanOrder scans a full orders row in column order. Works for both
// pgx.Row and pgx.Rows.
func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID, &i.BranchID, &i.OrderNumber, &i.OrderType, &i.Status, &i.PaymentStatus, &i.PaymentMethod,
		&i.CustomerID, &i.TableID, &i.GuestCount, &i.AggregatorID, &i.ExternalOrderRef, &i.Notes,
		&i.Subtotal, &i.DiscountAmount, &i.TaxPercent, &i.TaxInclusive, &i.TaxAmount,
		&i.ServicePercent, &i.ServiceAmount, &i.CommissionPercent, &i.CommissionAmount, &i.TotalAmount, &i.Currency,
		&i.PaymentLocked, &i.LockedBy, &i.LockedAt, &i.IsDeleted, &i.DeletedBy, &i.DeletedAt,
		&i.CreatedBy, &i.CreatedAt, &i.UpdatedAt, &i.ClosedAt, &i.VoidedAt,
	)
	return i, err
}

const getNextOrderNumber = `-- name: GetNextOrderNumber :one
SELECT COALESCE(MAX(CAST(SUBSTRING(order_number FROM '[0-9]+$') AS INT)), 0) + 1
FROM orders
WHERE branch_id = $1
`

func (q *Queries) GetNextOrderNumber(ctx context.Context, branchID uuid.UUID) (int32, error) {
	row := q.db.QueryRow(ctx, getNextOrderNumber, branchID)
	var n int32
	err := row.Scan(&n)
	return n, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
	branch_id, order_number, order_type, status, payment_status,
	customer_id, table_id, guest_count, aggregator_id, external_order_ref, notes,
	subtotal, discount_amount, tax_percent, tax_inclusive, tax_amount,
	service_percent, service_amount, commission_percent, commission_amount, total_amount, currency,
	created_by
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
	$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	BranchID          uuid.UUID
	OrderNumber       string
	OrderType         string
	Status            string
	PaymentStatus     string
	CustomerID        pgtype.UUID
	TableID           pgtype.UUID
	GuestCount        pgtype.Int4
	AggregatorID      pgtype.UUID
	ExternalOrderRef  pgtype.Text
	Notes             pgtype.Text
	Subtotal          pgtype.Numeric
	DiscountAmount    pgtype.Numeric
	TaxPercent        pgtype.Numeric
	TaxInclusive      bool
	TaxAmount         pgtype.Numeric
	ServicePercent    pgtype.Numeric
	ServiceAmount     pgtype.Numeric
	CommissionPercent pgtype.Numeric
	CommissionAmount  pgtype.Numeric
	TotalAmount       pgtype.Numeric
	Currency          string
	CreatedBy         uuid.UUID
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.BranchID, arg.OrderNumber, arg.OrderType, arg.Status, arg.PaymentStatus,
		arg.CustomerID, arg.TableID, arg.GuestCount, arg.AggregatorID, arg.ExternalOrderRef, arg.Notes,
		arg.Subtotal, arg.DiscountAmount, arg.TaxPercent, arg.TaxInclusive, arg.TaxAmount,
		arg.ServicePercent, arg.ServiceAmount, arg.CommissionPercent, arg.CommissionAmount, arg.TotalAmount, arg.Currency,
		arg.CreatedBy,
	)
	return scanOrder(row)
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1 AND branch_id = $2
`

type GetOrderParams struct {
	ID       uuid.UUID
	BranchID uuid.UUID
}

// GetOrder returns the order even when soft-deleted; deleted orders stay
// addressable by ID for audit. Listings filter them out instead.
func (q *Queries) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, getOrder, arg.ID, arg.BranchID)
	return scanOrder(row)
}

const getOrderForUpdate = `-- name: GetOrderForUpdate :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1 AND branch_id = $2
FOR NO KEY UPDATE
`

type GetOrderForUpdateParams struct {
	ID       uuid.UUID
	BranchID uuid.UUID
}

func (q *Queries) GetOrderForUpdate(ctx context.Context, arg GetOrderForUpdateParams) (Order, error) {
	row := q.db.QueryRow(ctx, getOrderForUpdate, arg.ID, arg.BranchID)
	return scanOrder(row)
}

const listOrders = `-- name: ListOrders :many
SELECT ` + orderColumns + `
FROM orders
WHERE branch_id = $1
  AND is_deleted = false
  AND ($2::text IS NULL OR status = $2)
  AND ($3::text IS NULL OR order_type = $3)
  AND ($4::timestamptz IS NULL OR created_at >= $4)
  AND ($5::timestamptz IS NULL OR created_at < $5)
ORDER BY created_at DESC
LIMIT $6 OFFSET $7
`

type ListOrdersParams struct {
	BranchID  uuid.UUID
	Status    pgtype.Text
	OrderType pgtype.Text
	StartDate pgtype.Timestamptz
	EndDate   pgtype.Timestamptz
	Limit     int32
	Offset    int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders,
		arg.BranchID, arg.Status, arg.OrderType, arg.StartDate, arg.EndDate, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		i, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const updateOrderStatus = `-- name: UpdateOrderStatus :one
UPDATE orders
SET status = $3,
	closed_at = CASE WHEN $3 = 'CLOSED' THEN now() ELSE closed_at END,
	voided_at = CASE WHEN $3 IN ('VOIDED', 'CANCELLED') THEN now() ELSE voided_at END,
	updated_at = now()
WHERE id = $1 AND branch_id = $2 AND status = $4
RETURNING ` + orderColumns

type UpdateOrderStatusParams struct {
	ID         uuid.UUID
	BranchID   uuid.UUID
	Status     string
	PrevStatus string
}

// UpdateOrderStatus is a compare-and-swap on status: zero rows means the
// order moved between read and write and the caller must re-fetch.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.BranchID, arg.Status, arg.PrevStatus)
	return scanOrder(row)
}

const updateOrderTotals = `-- name: UpdateOrderTotals :one
UPDATE orders
SET subtotal = $2,
	discount_amount = $3,
	tax_amount = $4,
	service_amount = $5,
	commission_amount = $6,
	total_amount = $7,
	updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderTotalsParams struct {
	ID               uuid.UUID
	Subtotal         pgtype.Numeric
	DiscountAmount   pgtype.Numeric
	TaxAmount        pgtype.Numeric
	ServiceAmount    pgtype.Numeric
	CommissionAmount pgtype.Numeric
	TotalAmount      pgtype.Numeric
}

// UpdateOrderTotals writes all six monetary fields in one statement so a
// partial set of totals can never be observed.
func (q *Queries) UpdateOrderTotals(ctx context.Context, arg UpdateOrderTotalsParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderTotals,
		arg.ID, arg.Subtotal, arg.DiscountAmount, arg.TaxAmount,
		arg.ServiceAmount, arg.CommissionAmount, arg.TotalAmount,
	)
	return scanOrder(row)
}

const setOrderPaymentStatus = `-- name: SetOrderPaymentStatus :one
UPDATE orders
SET payment_status = $2,
	payment_method = COALESCE($3, payment_method),
	updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

type SetOrderPaymentStatusParams struct {
	ID            uuid.UUID
	PaymentStatus string
	PaymentMethod pgtype.Text
}

func (q *Queries) SetOrderPaymentStatus(ctx context.Context, arg SetOrderPaymentStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, setOrderPaymentStatus, arg.ID, arg.PaymentStatus, arg.PaymentMethod)
	return scanOrder(row)
}

const acquirePaymentLock = `-- name: AcquirePaymentLock :one
UPDATE orders
SET payment_locked = true,
	locked_by = $3,
	locked_at = now(),
	updated_at = now()
WHERE id = $1 AND branch_id = $2
  AND (payment_locked = false OR locked_by = $3 OR locked_at < $4)
RETURNING ` + orderColumns

type AcquirePaymentLockParams struct {
	ID            uuid.UUID
	BranchID      uuid.UUID
	LockedBy      uuid.UUID
	ExpiredBefore time.Time
}

// AcquirePaymentLock takes the settlement lease in a single conditional
// UPDATE: it succeeds when the order is unlocked, already held by the same
// actor (renewal), or the previous holder's lease is older than
// ExpiredBefore. Zero rows means another actor holds a live lease.
func (q *Queries) AcquirePaymentLock(ctx context.Context, arg AcquirePaymentLockParams) (Order, error) {
	row := q.db.QueryRow(ctx, acquirePaymentLock, arg.ID, arg.BranchID, arg.LockedBy, arg.ExpiredBefore)
	return scanOrder(row)
}

const releasePaymentLock = `-- name: ReleasePaymentLock :one
UPDATE orders
SET payment_locked = false,
	locked_by = NULL,
	locked_at = NULL,
	updated_at = now()
WHERE id = $1 AND branch_id = $2 AND locked_by = $3
RETURNING ` + orderColumns

type ReleasePaymentLockParams struct {
	ID       uuid.UUID
	BranchID uuid.UUID
	LockedBy uuid.UUID
}

func (q *Queries) ReleasePaymentLock(ctx context.Context, arg ReleasePaymentLockParams) (Order, error) {
	row := q.db.QueryRow(ctx, releasePaymentLock, arg.ID, arg.BranchID, arg.LockedBy)
	return scanOrder(row)
}

const softDeleteOrder = `-- name: SoftDeleteOrder :one
UPDATE orders
SET is_deleted = true,
	deleted_by = $3,
	deleted_at = now(),
	updated_at = now()
WHERE id = $1 AND branch_id = $2 AND is_deleted = false
RETURNING id
`

type SoftDeleteOrderParams struct {
	ID        uuid.UUID
	BranchID  uuid.UUID
	DeletedBy uuid.UUID
}

func (q *Queries) SoftDeleteOrder(ctx context.Context, arg SoftDeleteOrderParams) (uuid.UUID, error) {
	row := q.db.QueryRow(ctx, softDeleteOrder, arg.ID, arg.BranchID, arg.DeletedBy)
	var id uuid.UUID
	err := row.Scan(&id)
	return id, err
}

const createOrderDiscount = `-- name: CreateOrderDiscount :one
INSERT INTO order_discounts (order_id, promo_code, rule_name, amount_applied)
VALUES ($1, $2, $3, $4)
RETURNING id, order_id, promo_code, rule_name, amount_applied, created_at
`

type CreateOrderDiscountParams struct {
	OrderID       uuid.UUID
	PromoCode     pgtype.Text
	RuleName      pgtype.Text
	AmountApplied pgtype.Numeric
}

func (q *Queries) CreateOrderDiscount(ctx context.Context, arg CreateOrderDiscountParams) (OrderDiscount, error) {
	row := q.db.QueryRow(ctx, createOrderDiscount, arg.OrderID, arg.PromoCode, arg.RuleName, arg.AmountApplied)
	var i OrderDiscount
	err := row.Scan(&i.ID, &i.OrderID, &i.PromoCode, &i.RuleName, &i.AmountApplied, &i.CreatedAt)
	return i, err
}
