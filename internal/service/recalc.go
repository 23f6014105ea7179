package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tandoor-pos/api/internal/database"
	"github.com/tandoor-pos/api/internal/pricing"
)

// Recalculate re-derives all six monetary fields from the order's active
// (non-voided) items and its frozen percent fields, then writes them back
// atomically. It never re-reads the catalog: prices, deltas, and rates
// were captured when each line was composed, so a menu edit after the
// order was opened cannot change what the guest owes.
func (s *OrderService) Recalculate(ctx context.Context, branchID, orderID, actorID uuid.UUID) (database.Order, error) {
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
	if heldByOther(order, actorID, s.lockTTL) {
		return database.Order{}, ErrOrderLocked
	}

	updated, err := s.recalculateTx(ctx, store, order)
	if err != nil {
		return database.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Info("order recalculated",
		zap.String("order_id", order.ID.String()),
		zap.String("total", numericToDecimal(updated.TotalAmount).StringFixed(2)))

	return updated, nil
}

// recalculateTx rebuilds pricing lines from the persisted items and writes
// the six totals in one statement. Caller owns the transaction and must
// already hold the order row lock.
func (s *OrderService) recalculateTx(ctx context.Context, store OrderStore, order database.Order) (database.Order, error) {
	items, err := store.ListActiveOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		return database.Order{}, fmt.Errorf("list order items: %w", err)
	}

	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		variations, err := store.ListVariationsByOrderItem(ctx, item.ID)
		if err != nil {
			return database.Order{}, fmt.Errorf("list item variations: %w", err)
		}
		line := lineFromStored(item, variations)
		if !line.Subtotal.Equal(numericToDecimal(item.LineSubtotal)) {
			err := store.UpdateOrderItemSubtotal(ctx, database.UpdateOrderItemSubtotalParams{
				ID:           item.ID,
				LineSubtotal: decimalToNumeric(line.Subtotal),
			})
			if err != nil {
				return database.Order{}, fmt.Errorf("update item subtotal: %w", err)
			}
		}
		lines = append(lines, line)
	}

	totals := pricing.Calculate(lines, pricing.CalcConfig{
		OrderType:         order.OrderType,
		DiscountAmount:    numericToDecimal(order.DiscountAmount),
		TaxPercent:        numericToDecimal(order.TaxPercent),
		TaxInclusive:      order.TaxInclusive,
		ServicePercent:    numericToDecimal(order.ServicePercent),
		CommissionPercent: numericToDecimal(order.CommissionPercent),
	})

	updated, err := store.UpdateOrderTotals(ctx, database.UpdateOrderTotalsParams{
		ID:               order.ID,
		Subtotal:         decimalToNumeric(totals.Subtotal),
		DiscountAmount:   decimalToNumeric(totals.Discount),
		TaxAmount:        decimalToNumeric(totals.Tax),
		ServiceAmount:    decimalToNumeric(totals.Service),
		CommissionAmount: decimalToNumeric(totals.Commission),
		TotalAmount:      decimalToNumeric(totals.Total),
	})
	if err != nil {
		return database.Order{}, fmt.Errorf("update order totals: %w", err)
	}
	return updated, nil
}

// lineFromStored reconstructs a pricing line from its persisted state.
// The captured unit price, discount, and deltas are authoritative; the
// stored line_subtotal is recomputed from them, which also corrects any
// drift from a historical pricing bug.
func lineFromStored(item database.OrderItem, variations []database.OrderItemVariation) pricing.Line {
	unitPrice := numericToDecimal(item.UnitPrice)

	linePrice := unitPrice
	lineVars := make([]pricing.LineVariation, 0, len(variations))
	for _, v := range variations {
		delta := numericToDecimal(v.PriceDelta)
		linePrice = linePrice.Add(delta)
		lv := pricing.LineVariation{
			GroupName:  v.GroupName,
			ValueName:  v.ValueName,
			PriceDelta: delta,
		}
		if v.GroupID.Valid {
			lv.GroupID = uuid.UUID(v.GroupID.Bytes)
		}
		if v.ValueID.Valid {
			lv.ValueID = uuid.UUID(v.ValueID.Bytes)
		}
		lineVars = append(lineVars, lv)
	}
	if linePrice.IsNegative() {
		linePrice = decimal.Zero
	}

	discountPct := numericToDecimal(item.DiscountPercent)
	factor := decimal.NewFromInt(1).Sub(discountPct.Div(hundredD))
	subtotal := linePrice.
		Mul(decimal.NewFromInt(int64(item.Quantity))).
		Mul(factor).
		Round(2)

	return pricing.Line{
		ProductID:       item.ProductID,
		ProductName:     item.ProductName,
		Quantity:        item.Quantity,
		UnitPrice:       unitPrice,
		DiscountPercent: discountPct,
		Variations:      lineVars,
		Subtotal:        subtotal,
	}
}

var hundredD = decimal.NewFromInt(100)

// composeAndLog runs line composition and logs any capped-selection
// warnings so audits can see what was dropped.
func composeAndLog(log *zap.Logger, branchID uuid.UUID, snap pricing.ProductSnapshot, input pricing.LineInput) (pricing.Line, []pricing.Warning, error) {
	line, warns, err := pricing.ComposeLine(snap, input)
	if err != nil {
		return pricing.Line{}, nil, err
	}
	for _, w := range warns {
		log.Warn("modifier selection capped",
			zap.String("branch_id", branchID.String()),
			zap.String("product", snap.Name),
			zap.String("group", w.GroupName))
	}
	return line, warns, nil
}
