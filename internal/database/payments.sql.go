package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, order_id, payment_method, amount, status,
	reference_number, amount_received, change_amount, processed_by, processed_at`

func scanPayment(row interface{ Scan(dest ...any) error }) (Payment, error) {
	var i Payment
	err := row.Scan(
		&i.ID, &i.OrderID, &i.PaymentMethod, &i.Amount, &i.Status,
		&i.ReferenceNumber, &i.AmountReceived, &i.ChangeAmount, &i.ProcessedBy, &i.ProcessedAt,
	)
	return i, err
}

const createPayment = `-- name: CreatePayment :one
INSERT INTO payments (
	order_id, payment_method, amount, status,
	reference_number, amount_received, change_amount, processed_by
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + paymentColumns

type CreatePaymentParams struct {
	OrderID         uuid.UUID
	PaymentMethod   string
	Amount          pgtype.Numeric
	Status          string
	ReferenceNumber pgtype.Text
	AmountReceived  pgtype.Numeric
	ChangeAmount    pgtype.Numeric
	ProcessedBy     uuid.UUID
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	row := q.db.QueryRow(ctx, createPayment,
		arg.OrderID, arg.PaymentMethod, arg.Amount, arg.Status,
		arg.ReferenceNumber, arg.AmountReceived, arg.ChangeAmount, arg.ProcessedBy,
	)
	return scanPayment(row)
}

const listPaymentsByOrder = `-- name: ListPaymentsByOrder :many
SELECT ` + paymentColumns + `
FROM payments
WHERE order_id = $1
ORDER BY processed_at
`

func (q *Queries) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	rows, err := q.db.Query(ctx, listPaymentsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Payment
	for rows.Next() {
		i, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const sumPaymentsByOrder = `-- name: SumPaymentsByOrder :one
SELECT COALESCE(SUM(amount), 0)
FROM payments
WHERE order_id = $1 AND status = 'COMPLETED'
`

func (q *Queries) SumPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error) {
	row := q.db.QueryRow(ctx, sumPaymentsByOrder, orderID)
	var sum pgtype.Numeric
	err := row.Scan(&sum)
	return sum, err
}

const voidPaymentsByOrder = `-- name: VoidPaymentsByOrder :exec
UPDATE payments
SET status = 'VOIDED'
WHERE order_id = $1 AND status = 'COMPLETED'
`

// VoidPaymentsByOrder marks completed payments voided during a refund.
func (q *Queries) VoidPaymentsByOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := q.db.Exec(ctx, voidPaymentsByOrder, orderID)
	return err
}
