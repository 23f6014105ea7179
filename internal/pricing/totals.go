package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/tandoor-pos/api/internal/enum"
)

// CalcConfig carries the order-level settings the calculator needs. Tax and
// service rates come from the branch settings frozen onto the order at
// creation; the commission rate comes from the order's aggregator.
type CalcConfig struct {
	OrderType         string
	DiscountAmount    decimal.Decimal
	TaxPercent        decimal.Decimal
	TaxInclusive      bool
	ServicePercent    decimal.Decimal
	CommissionPercent decimal.Decimal
}

// Totals is the full monetary breakdown of an order. Service and
// commission are reported as zero (not omitted) when they don't apply, so
// downstream reconciliation is order-type agnostic.
type Totals struct {
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Tax        decimal.Decimal
	Service    decimal.Decimal
	Commission decimal.Decimal
	Total      decimal.Decimal
}

// Calculate aggregates priced lines into order totals. Both the preview
// endpoint and the persisting commit path call this same function.
//
// Each component is rounded to 2 decimals independently rather than derived
// by subtraction, so subtotal - discount + tax + service + commission may
// differ from total by one cent under extreme inputs. That tolerance is
// accepted; re-deriving components from a rounded total would be worse.
func Calculate(lines []Line, cfg CalcConfig) Totals {
	subtotal := decimal.Zero
	for _, ln := range lines {
		subtotal = subtotal.Add(ln.Subtotal)
	}

	// The order-level discount cannot drive the base negative.
	discount := cfg.DiscountAmount
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	base := subtotal.Sub(discount)

	var tax decimal.Decimal
	if cfg.TaxPercent.IsPositive() {
		if cfg.TaxInclusive {
			// Back the tax out of a tax-included base.
			divisor := decimal.NewFromInt(1).Add(cfg.TaxPercent.Div(hundred))
			tax = base.Sub(base.DivRound(divisor, 8))
		} else {
			tax = base.Mul(cfg.TaxPercent).Div(hundred)
		}
	}

	service := decimal.Zero
	if cfg.OrderType == enum.OrderTypeDineIn && cfg.ServicePercent.IsPositive() {
		service = base.Mul(cfg.ServicePercent).Div(hundred)
	}

	commission := decimal.Zero
	if cfg.OrderType == enum.OrderTypeDelivery && cfg.CommissionPercent.IsPositive() {
		commission = base.Mul(cfg.CommissionPercent).Div(hundred)
	}

	// Inclusive tax is already inside the base, so it is reported but not
	// added again. The total rounds the unrounded components, so it may
	// drift from the sum of the rounded fields by one cent.
	total := base.Add(service).Add(commission)
	if !cfg.TaxInclusive {
		total = total.Add(tax)
	}

	return Totals{
		Subtotal:   subtotal.Round(2),
		Discount:   discount.Round(2),
		Tax:        tax.Round(2),
		Service:    service.Round(2),
		Commission: commission.Round(2),
		Total:      total.Round(2),
	}
}
