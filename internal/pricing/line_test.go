package pricing

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sizeGroup() VariationGroup {
	return VariationGroup{
		ID:         uuid.New(),
		Name:       "Size",
		IsRequired: true,
		MinSelect:  1,
		MaxSelect:  1,
		Values: []VariationValue{
			{ID: uuid.New(), Name: "Regular", PriceDelta: decimal.Zero},
			{ID: uuid.New(), Name: "Large", PriceDelta: dec("5000")},
		},
	}
}

func toppingGroup() VariationGroup {
	return VariationGroup{
		ID:        uuid.New(),
		Name:      "Toppings",
		MaxSelect: 2,
		Values: []VariationValue{
			{ID: uuid.New(), Name: "Egg", PriceDelta: dec("3000")},
			{ID: uuid.New(), Name: "Cheese", PriceDelta: dec("4000")},
			{ID: uuid.New(), Name: "Chili", PriceDelta: dec("1000")},
		},
	}
}

func TestComposeLine_ZeroQuantity(t *testing.T) {
	snap := ProductSnapshot{ID: uuid.New(), Name: "Fried Rice", Price: dec("25000")}
	_, _, err := ComposeLine(snap, LineInput{Quantity: 0})
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got: %v", err)
	}
}

func TestComposeLine_DiscountOutOfRange(t *testing.T) {
	snap := ProductSnapshot{ID: uuid.New(), Name: "Fried Rice", Price: dec("25000")}

	_, _, err := ComposeLine(snap, LineInput{Quantity: 1, DiscountPercent: dec("101")})
	if !errors.Is(err, ErrInvalidDiscountPercent) {
		t.Fatalf("expected ErrInvalidDiscountPercent for 101, got: %v", err)
	}

	_, _, err = ComposeLine(snap, LineInput{Quantity: 1, DiscountPercent: dec("-1")})
	if !errors.Is(err, ErrInvalidDiscountPercent) {
		t.Fatalf("expected ErrInvalidDiscountPercent for -1, got: %v", err)
	}
}

func TestComposeLine_InsufficientStock(t *testing.T) {
	snap := ProductSnapshot{
		ID:                 uuid.New(),
		Name:               "Iced Tea",
		Price:              dec("8000"),
		IsInventoryTracked: true,
		InventoryUnit:      "bottle",
		AvailableStock:     dec("3"),
	}

	_, _, err := ComposeLine(snap, LineInput{Quantity: 4})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	line, _, err := ComposeLine(snap, LineInput{Quantity: 3})
	if err != nil {
		t.Fatalf("quantity at stock level should pass, got: %v", err)
	}
	if !line.Subtotal.Equal(dec("24000")) {
		t.Errorf("subtotal: got %s, want 24000", line.Subtotal)
	}
}

func TestComposeLine_UntrackedProductIgnoresStock(t *testing.T) {
	snap := ProductSnapshot{ID: uuid.New(), Name: "Fried Rice", Price: dec("25000")}

	if _, _, err := ComposeLine(snap, LineInput{Quantity: 50}); err != nil {
		t.Fatalf("untracked product should not be stock-checked, got: %v", err)
	}
}

func TestComposeLine_BasicSubtotal(t *testing.T) {
	snap := ProductSnapshot{ID: uuid.New(), Name: "Fried Rice", Price: dec("25000")}

	line, warns, err := ComposeLine(snap, LineInput{Quantity: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warns) != 0 {
		t.Fatalf("unexpected warnings: %v", warns)
	}
	if !line.Subtotal.Equal(dec("50000")) {
		t.Errorf("subtotal: got %s, want 50000", line.Subtotal)
	}
	if !line.UnitPrice.Equal(dec("25000")) {
		t.Errorf("unit price: got %s, want 25000", line.UnitPrice)
	}
}

func TestComposeLine_OpenPrice(t *testing.T) {
	snap := ProductSnapshot{ID: uuid.New(), Name: "Custom Platter", IsOpenPrice: true}

	line, _, err := ComposeLine(snap, LineInput{Quantity: 1, UnitPrice: dec("75000")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !line.UnitPrice.Equal(dec("75000")) {
		t.Errorf("unit price: got %s, want caller-supplied 75000", line.UnitPrice)
	}

	_, _, err = ComposeLine(snap, LineInput{Quantity: 1, UnitPrice: dec("-1")})
	if !errors.Is(err, ErrNegativeUnitPrice) {
		t.Fatalf("expected ErrNegativeUnitPrice, got: %v", err)
	}
}

func TestComposeLine_ModifierDeltas(t *testing.T) {
	size := sizeGroup()
	snap := ProductSnapshot{
		ID: uuid.New(), Name: "Fried Rice", Price: dec("25000"),
		Groups: []VariationGroup{size},
	}

	line, _, err := ComposeLine(snap, LineInput{
		Quantity:   2,
		Selections: []Selection{{GroupID: size.ID, ValueID: size.Values[1].ID}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (25000 + 5000) * 2
	if !line.Subtotal.Equal(dec("60000")) {
		t.Errorf("subtotal: got %s, want 60000", line.Subtotal)
	}
	if len(line.Variations) != 1 || line.Variations[0].ValueName != "Large" {
		t.Errorf("variations: got %+v", line.Variations)
	}
}

func TestComposeLine_RequiredGroupUnselected(t *testing.T) {
	size := sizeGroup()
	snap := ProductSnapshot{
		ID: uuid.New(), Name: "Fried Rice", Price: dec("25000"),
		Groups: []VariationGroup{size},
	}

	_, _, err := ComposeLine(snap, LineInput{Quantity: 1})
	var mce *ModifierConstraintError
	if !errors.As(err, &mce) {
		t.Fatalf("expected ModifierConstraintError, got: %v", err)
	}
	if mce.GroupName != "Size" || mce.Selected != 0 {
		t.Errorf("unexpected error detail: %+v", mce)
	}
}

func TestComposeLine_RequiredGroupZeroMinDefaultsToOne(t *testing.T) {
	g := sizeGroup()
	g.MinSelect = 0 // required still means at least one
	snap := ProductSnapshot{ID: uuid.New(), Name: "Fried Rice", Price: dec("25000"), Groups: []VariationGroup{g}}

	_, _, err := ComposeLine(snap, LineInput{Quantity: 1})
	var mce *ModifierConstraintError
	if !errors.As(err, &mce) {
		t.Fatalf("expected ModifierConstraintError, got: %v", err)
	}
	if mce.MinSelect != 1 {
		t.Errorf("min select: got %d, want 1", mce.MinSelect)
	}
}

func TestComposeLine_OverSelectionCappedWithWarning(t *testing.T) {
	toppings := toppingGroup()
	snap := ProductSnapshot{
		ID: uuid.New(), Name: "Fried Rice", Price: dec("25000"),
		Groups: []VariationGroup{toppings},
	}

	line, warns, err := ComposeLine(snap, LineInput{
		Quantity: 1,
		Selections: []Selection{
			{GroupID: toppings.ID, ValueID: toppings.Values[0].ID}, // Egg 3000
			{GroupID: toppings.ID, ValueID: toppings.Values[1].ID}, // Cheese 4000
			{GroupID: toppings.ID, ValueID: toppings.Values[2].ID}, // Chili, dropped
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warns) != 1 || warns[0].Code != WarnSelectionCapped {
		t.Fatalf("expected one capped-selection warning, got: %v", warns)
	}
	if len(line.Variations) != 2 {
		t.Fatalf("expected 2 kept variations, got %d", len(line.Variations))
	}
	// 25000 + 3000 + 4000, chili excess dropped not priced
	if !line.Subtotal.Equal(dec("32000")) {
		t.Errorf("subtotal: got %s, want 32000", line.Subtotal)
	}
}

func TestComposeLine_UnknownSelection(t *testing.T) {
	toppings := toppingGroup()
	snap := ProductSnapshot{ID: uuid.New(), Name: "Fried Rice", Price: dec("25000"), Groups: []VariationGroup{toppings}}

	_, _, err := ComposeLine(snap, LineInput{
		Quantity:   1,
		Selections: []Selection{{GroupID: uuid.New(), ValueID: uuid.New()}},
	})
	if !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got: %v", err)
	}

	_, _, err = ComposeLine(snap, LineInput{
		Quantity:   1,
		Selections: []Selection{{GroupID: toppings.ID, ValueID: uuid.New()}},
	})
	if !errors.Is(err, ErrUnknownValue) {
		t.Fatalf("expected ErrUnknownValue, got: %v", err)
	}
}

func TestComposeLine_PerLineRoundingHalfUp(t *testing.T) {
	// 1 * 33.33 * 0.5 = 16.665 -> 16.67 (half-up), not 16.66.
	snap := ProductSnapshot{ID: uuid.New(), Name: "Iced Tea", Price: dec("33.33")}
	line, _, err := ComposeLine(snap, LineInput{Quantity: 1, DiscountPercent: dec("50")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !line.Subtotal.Equal(dec("16.67")) {
		t.Errorf("subtotal: got %s, want 16.67 (half-up at line level)", line.Subtotal)
	}
}

func TestComposeLine_NegativeDeltaClampedAtZero(t *testing.T) {
	g := VariationGroup{
		ID: uuid.New(), Name: "Promo",
		Values: []VariationValue{{ID: uuid.New(), Name: "Mega discount", PriceDelta: dec("-30000")}},
	}
	snap := ProductSnapshot{ID: uuid.New(), Name: "Fried Rice", Price: dec("25000"), Groups: []VariationGroup{g}}

	line, _, err := ComposeLine(snap, LineInput{
		Quantity:   3,
		Selections: []Selection{{GroupID: g.ID, ValueID: g.Values[0].ID}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !line.Subtotal.Equal(decimal.Zero.Round(2)) {
		t.Errorf("subtotal: got %s, want 0 (line price clamped)", line.Subtotal)
	}
}

func TestComposeLine_SubtotalNeverNegative(t *testing.T) {
	prices := []string{"0", "0.01", "9.99", "12345.67"}
	quantities := []int32{1, 3, 100}
	discounts := []string{"0", "33.33", "100"}

	for _, p := range prices {
		for _, q := range quantities {
			for _, d := range discounts {
				snap := ProductSnapshot{ID: uuid.New(), Name: "X", Price: dec(p)}
				line, _, err := ComposeLine(snap, LineInput{Quantity: q, DiscountPercent: dec(d)})
				if err != nil {
					t.Fatalf("price=%s qty=%d disc=%s: unexpected error: %v", p, q, d, err)
				}
				if line.Subtotal.IsNegative() {
					t.Errorf("price=%s qty=%d disc=%s: negative subtotal %s", p, q, d, line.Subtotal)
				}
			}
		}
	}
}
