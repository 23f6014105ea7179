package pricing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ComposeLine binds a product snapshot, quantity, modifier selections and a
// per-line discount into a priced line.
//
// Selection-count rules follow the POS UI: a required group must reach its
// minimum or composition fails; selections beyond a group's maximum are
// dropped (the UI caps client-side) and reported as warnings rather than
// rejected.
func ComposeLine(snap ProductSnapshot, in LineInput) (Line, []Warning, error) {
	if in.Quantity <= 0 {
		return Line{}, nil, ErrInvalidQuantity
	}
	if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(hundred) {
		return Line{}, nil, ErrInvalidDiscountPercent
	}
	if snap.IsInventoryTracked && decimal.NewFromInt32(in.Quantity).GreaterThan(snap.AvailableStock) {
		unit := snap.InventoryUnit
		if unit == "" {
			unit = "unit(s)"
		}
		return Line{}, nil, fmt.Errorf("product %q: %d requested, %s %s left: %w",
			snap.Name, in.Quantity, snap.AvailableStock, unit, ErrInsufficientStock)
	}

	unitPrice := snap.Price
	if snap.IsOpenPrice {
		// No catalog price exists; the caller supplies it at order time.
		if in.UnitPrice.IsNegative() {
			return Line{}, nil, ErrNegativeUnitPrice
		}
		unitPrice = in.UnitPrice
	}

	// Bucket selections by group, preserving request order within a group.
	byGroup := make(map[string][]Selection, len(snap.Groups))
	for _, sel := range in.Selections {
		g := findGroup(snap.Groups, sel)
		if g == nil {
			return Line{}, nil, fmt.Errorf("group %s: %w", sel.GroupID, ErrUnknownGroup)
		}
		byGroup[g.ID.String()] = append(byGroup[g.ID.String()], sel)
	}

	var (
		variations []LineVariation
		warnings   []Warning
	)
	for _, g := range snap.Groups {
		sels := byGroup[g.ID.String()]

		// Cap over-selection at max_select, keeping the earliest picks.
		if g.MaxSelect > 0 && len(sels) > int(g.MaxSelect) {
			dropped := len(sels) - int(g.MaxSelect)
			sels = sels[:g.MaxSelect]
			warnings = append(warnings, Warning{
				Code:      WarnSelectionCapped,
				GroupName: g.Name,
				Message:   fmt.Sprintf("group %q allows at most %d selection(s); %d dropped", g.Name, g.MaxSelect, dropped),
			})
		}

		if g.IsRequired {
			min := g.MinSelect
			if min < 1 {
				min = 1
			}
			if len(sels) < int(min) {
				return Line{}, nil, &ModifierConstraintError{GroupName: g.Name, MinSelect: min, Selected: len(sels)}
			}
		}

		for _, sel := range sels {
			v := findValue(g.Values, sel.ValueID)
			if v == nil {
				return Line{}, nil, fmt.Errorf("group %q value %s: %w", g.Name, sel.ValueID, ErrUnknownValue)
			}
			variations = append(variations, LineVariation{
				GroupID:    g.ID,
				GroupName:  g.Name,
				ValueID:    v.ID,
				ValueName:  v.Name,
				PriceDelta: v.PriceDelta,
			})
		}
	}

	// line price = unit price + sum of selected deltas; deltas are signed
	// so the result is clamped at zero.
	linePrice := unitPrice
	for _, v := range variations {
		linePrice = linePrice.Add(v.PriceDelta)
	}
	if linePrice.IsNegative() {
		linePrice = decimal.Zero
	}

	// Round half-up at the line level; order totals sum rounded lines.
	qty := decimal.NewFromInt32(in.Quantity)
	factor := hundred.Sub(in.DiscountPercent).Div(hundred)
	subtotal := linePrice.Mul(qty).Mul(factor).Round(2)

	return Line{
		ProductID:       snap.ID,
		ProductName:     snap.Name,
		Quantity:        in.Quantity,
		UnitPrice:       unitPrice,
		DiscountPercent: in.DiscountPercent,
		Variations:      variations,
		Notes:           in.Notes,
		Subtotal:        subtotal,
	}, warnings, nil
}

func findGroup(groups []VariationGroup, sel Selection) *VariationGroup {
	for i := range groups {
		if groups[i].ID == sel.GroupID {
			return &groups[i]
		}
	}
	return nil
}

func findValue(values []VariationValue, id uuid.UUID) *VariationValue {
	for i := range values {
		if values[i].ID == id {
			return &values[i]
		}
	}
	return nil
}
