// Package pricing turns a cart of product snapshots and modifier selections
// into priced order lines and financially consistent order totals. Every
// function here is pure: the same inputs always produce the same output and
// nothing is persisted, so the preview endpoint and the commit path share
// one implementation and can never disagree.
package pricing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Errors returned by line composition.
var (
	ErrInvalidQuantity        = errors.New("quantity must be > 0")
	ErrInvalidDiscountPercent = errors.New("discount_percent must be between 0 and 100")
	ErrOpenPriceRequired      = errors.New("unit_price is required for open-price products")
	ErrNegativeUnitPrice      = errors.New("unit_price must not be negative")
	ErrUnknownGroup           = errors.New("modifier group not found on product")
	ErrUnknownValue           = errors.New("modifier value not found in group")
	ErrInsufficientStock      = errors.New("quantity exceeds available stock")
)

// ModifierConstraintError reports a required modifier group whose selection
// count is below its minimum.
type ModifierConstraintError struct {
	GroupName string
	MinSelect int32
	Selected  int
}

func (e *ModifierConstraintError) Error() string {
	return fmt.Sprintf("group %q requires at least %d selection(s), got %d", e.GroupName, e.MinSelect, e.Selected)
}

// VariationValue is one selectable option inside a group, with its signed
// price delta.
type VariationValue struct {
	ID         uuid.UUID
	Name       string
	PriceDelta decimal.Decimal
}

// VariationGroup is a named option set on a product with selection-count
// constraints. MaxSelect = 0 means unlimited.
type VariationGroup struct {
	ID         uuid.UUID
	Name       string
	IsRequired bool
	MinSelect  int32
	MaxSelect  int32
	Values     []VariationValue
}

// ProductSnapshot is the catalog view of a product at order-build time.
// Prices are copied from it onto the line; later catalog edits never touch
// existing orders. AvailableStock is only consulted when IsInventoryTracked
// is set.
type ProductSnapshot struct {
	ID                 uuid.UUID
	Name               string
	Price              decimal.Decimal
	IsOpenPrice        bool
	IsInventoryTracked bool
	InventoryUnit      string
	AvailableStock     decimal.Decimal
	Groups             []VariationGroup
}

// Selection is one (group, value) pick on a line.
type Selection struct {
	GroupID uuid.UUID
	ValueID uuid.UUID
}

// LineInput is the caller's request for one order line.
type LineInput struct {
	Quantity        int32
	UnitPrice       decimal.Decimal // used only for open-price products
	DiscountPercent decimal.Decimal
	Selections      []Selection
	Notes           string
}

// LineVariation is a kept selection with its captured names and delta.
type LineVariation struct {
	GroupID    uuid.UUID
	GroupName  string
	ValueID    uuid.UUID
	ValueName  string
	PriceDelta decimal.Decimal
}

// Line is a priced order line. Subtotal is rounded to 2 decimals at the
// line level; order totals sum the rounded line values.
type Line struct {
	ProductID       uuid.UUID
	ProductName     string
	Quantity        int32
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	Variations      []LineVariation
	Notes           string
	Subtotal        decimal.Decimal
}

// Warning surfaces a non-fatal composition event, currently only capped
// over-selection. Callers should log these for audit.
type Warning struct {
	Code      string
	GroupName string
	Message   string
}

// WarnSelectionCapped is the Warning code for selections dropped beyond a
// group's max_select.
const WarnSelectionCapped = "modifier_selection_capped"

var hundred = decimal.NewFromInt(100)
