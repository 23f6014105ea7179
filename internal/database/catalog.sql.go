package database

import (
	"context"

	"github.com/google/uuid"
)

const getProductForOrder = `-- name: GetProductForOrder :one
SELECT id, branch_id, name, base_price, is_open_price, is_inventory_tracked,
	inventory_unit, available_stock, is_active
FROM products
WHERE id = $1 AND branch_id = $2 AND is_active = true
`

type GetProductForOrderParams struct {
	ID       uuid.UUID
	BranchID uuid.UUID
}

func (q *Queries) GetProductForOrder(ctx context.Context, arg GetProductForOrderParams) (Product, error) {
	row := q.db.QueryRow(ctx, getProductForOrder, arg.ID, arg.BranchID)
	var i Product
	err := row.Scan(
		&i.ID, &i.BranchID, &i.Name, &i.BasePrice, &i.IsOpenPrice, &i.IsInventoryTracked,
		&i.InventoryUnit, &i.AvailableStock, &i.IsActive,
	)
	return i, err
}

const listModifierGroupsByProduct = `-- name: ListModifierGroupsByProduct :many
SELECT id, product_id, name, is_required, min_select, max_select, sort_order, is_active
FROM modifier_groups
WHERE product_id = $1 AND is_active = true
ORDER BY sort_order, name
`

func (q *Queries) ListModifierGroupsByProduct(ctx context.Context, productID uuid.UUID) ([]ModifierGroup, error) {
	rows, err := q.db.Query(ctx, listModifierGroupsByProduct, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ModifierGroup
	for rows.Next() {
		var i ModifierGroup
		if err := rows.Scan(&i.ID, &i.ProductID, &i.Name, &i.IsRequired, &i.MinSelect, &i.MaxSelect, &i.SortOrder, &i.IsActive); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listModifiersByGroup = `-- name: ListModifiersByGroup :many
SELECT id, modifier_group_id, name, price_delta, sort_order, is_active
FROM modifiers
WHERE modifier_group_id = $1 AND is_active = true
ORDER BY sort_order, name
`

func (q *Queries) ListModifiersByGroup(ctx context.Context, modifierGroupID uuid.UUID) ([]Modifier, error) {
	rows, err := q.db.Query(ctx, listModifiersByGroup, modifierGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Modifier
	for rows.Next() {
		var i Modifier
		if err := rows.Scan(&i.ID, &i.ModifierGroupID, &i.Name, &i.PriceDelta, &i.SortOrder, &i.IsActive); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getBranchSettings = `-- name: GetBranchSettings :one
SELECT branch_id, currency, tax_percent, service_percent, tax_inclusive, updated_at
FROM branch_settings
WHERE branch_id = $1
`

func (q *Queries) GetBranchSettings(ctx context.Context, branchID uuid.UUID) (BranchSettings, error) {
	row := q.db.QueryRow(ctx, getBranchSettings, branchID)
	var i BranchSettings
	err := row.Scan(&i.BranchID, &i.Currency, &i.TaxPercent, &i.ServicePercent, &i.TaxInclusive, &i.UpdatedAt)
	return i, err
}

const getAggregator = `-- name: GetAggregator :one
SELECT id, name, commission_percent, is_active
FROM aggregators
WHERE id = $1 AND is_active = true
`

func (q *Queries) GetAggregator(ctx context.Context, id uuid.UUID) (Aggregator, error) {
	row := q.db.QueryRow(ctx, getAggregator, id)
	var i Aggregator
	err := row.Scan(&i.ID, &i.Name, &i.CommissionPercent, &i.IsActive)
	return i, err
}
