package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderItemColumns = `id, order_id, product_id, product_name, quantity, unit_price,
	discount_percent, line_subtotal, notes, fire_status, is_voided, created_at`

func scanOrderItem(row interface{ Scan(dest ...any) error }) (OrderItem, error) {
	var i OrderItem
	err := row.Scan(
		&i.ID, &i.OrderID, &i.ProductID, &i.ProductName, &i.Quantity, &i.UnitPrice,
		&i.DiscountPercent, &i.LineSubtotal, &i.Notes, &i.FireStatus, &i.IsVoided, &i.CreatedAt,
	)
	return i, err
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (
	order_id, product_id, product_name, quantity, unit_price,
	discount_percent, line_subtotal, notes, fire_status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + orderItemColumns

type CreateOrderItemParams struct {
	OrderID         uuid.UUID
	ProductID       uuid.UUID
	ProductName     string
	Quantity        int32
	UnitPrice       pgtype.Numeric
	DiscountPercent pgtype.Numeric
	LineSubtotal    pgtype.Numeric
	Notes           pgtype.Text
	FireStatus      string
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID, arg.ProductID, arg.ProductName, arg.Quantity, arg.UnitPrice,
		arg.DiscountPercent, arg.LineSubtotal, arg.Notes, arg.FireStatus,
	)
	return scanOrderItem(row)
}

const createOrderItemVariation = `-- name: CreateOrderItemVariation :one
INSERT INTO order_item_variations (order_item_id, group_id, group_name, value_id, value_name, price_delta)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, order_item_id, group_id, group_name, value_id, value_name, price_delta
`

type CreateOrderItemVariationParams struct {
	OrderItemID uuid.UUID
	GroupID     pgtype.UUID
	GroupName   string
	ValueID     pgtype.UUID
	ValueName   string
	PriceDelta  pgtype.Numeric
}

func (q *Queries) CreateOrderItemVariation(ctx context.Context, arg CreateOrderItemVariationParams) (OrderItemVariation, error) {
	row := q.db.QueryRow(ctx, createOrderItemVariation,
		arg.OrderItemID, arg.GroupID, arg.GroupName, arg.ValueID, arg.ValueName, arg.PriceDelta,
	)
	var i OrderItemVariation
	err := row.Scan(&i.ID, &i.OrderItemID, &i.GroupID, &i.GroupName, &i.ValueID, &i.ValueName, &i.PriceDelta)
	return i, err
}

const listOrderItemsByOrder = `-- name: ListOrderItemsByOrder :many
SELECT ` + orderItemColumns + `
FROM order_items
WHERE order_id = $1
ORDER BY created_at
`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		i, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listActiveOrderItemsByOrder = `-- name: ListActiveOrderItemsByOrder :many
SELECT ` + orderItemColumns + `
FROM order_items
WHERE order_id = $1 AND is_voided = false
ORDER BY created_at
`

// ListActiveOrderItemsByOrder returns only non-voided items; this is the
// set the reconciler prices.
func (q *Queries) ListActiveOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listActiveOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		i, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listVariationsByOrderItem = `-- name: ListVariationsByOrderItem :many
SELECT id, order_item_id, group_id, group_name, value_id, value_name, price_delta
FROM order_item_variations
WHERE order_item_id = $1
ORDER BY group_name, value_name
`

func (q *Queries) ListVariationsByOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]OrderItemVariation, error) {
	rows, err := q.db.Query(ctx, listVariationsByOrderItem, orderItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItemVariation
	for rows.Next() {
		var i OrderItemVariation
		if err := rows.Scan(&i.ID, &i.OrderItemID, &i.GroupID, &i.GroupName, &i.ValueID, &i.ValueName, &i.PriceDelta); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const updateOrderItemSubtotal = `-- name: UpdateOrderItemSubtotal :exec
UPDATE order_items
SET line_subtotal = $2
WHERE id = $1
`

type UpdateOrderItemSubtotalParams struct {
	ID           uuid.UUID
	LineSubtotal pgtype.Numeric
}

func (q *Queries) UpdateOrderItemSubtotal(ctx context.Context, arg UpdateOrderItemSubtotalParams) error {
	_, err := q.db.Exec(ctx, updateOrderItemSubtotal, arg.ID, arg.LineSubtotal)
	return err
}

const voidOrderItem = `-- name: VoidOrderItem :one
UPDATE order_items
SET is_voided = true, fire_status = 'VOIDED'
WHERE id = $1 AND order_id = $2 AND is_voided = false
RETURNING ` + orderItemColumns

type VoidOrderItemParams struct {
	ID      uuid.UUID
	OrderID uuid.UUID
}

func (q *Queries) VoidOrderItem(ctx context.Context, arg VoidOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, voidOrderItem, arg.ID, arg.OrderID)
	return scanOrderItem(row)
}
