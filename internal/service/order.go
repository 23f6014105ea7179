package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tandoor-pos/api/internal/database"
	"github.com/tandoor-pos/api/internal/enum"
	"github.com/tandoor-pos/api/internal/pricing"
)

const maxOrderNumberRetries = 3

// Errors returned by the order service.
var (
	ErrEmptyItems            = errors.New("items are required")
	ErrInvalidOrderType      = errors.New("invalid order_type")
	ErrProductNotFound       = errors.New("product not found in branch")
	ErrAggregatorRequired    = errors.New("aggregator_id is required for DELIVERY orders")
	ErrAggregatorNotFound    = errors.New("aggregator not found")
	ErrTableDineInOnly       = errors.New("table_id and guest_count are only valid for DINE_IN orders")
	ErrAggregatorDeliveryOnly = errors.New("aggregator_id and external_order_ref are only valid for DELIVERY orders")
	ErrInvalidProductID      = errors.New("invalid product_id")
	ErrInvalidGroupID        = errors.New("invalid group_id")
	ErrInvalidValueID        = errors.New("invalid value_id")
	ErrInvalidTableID        = errors.New("invalid table_id")
	ErrInvalidCustomerID     = errors.New("invalid customer_id")
	ErrInvalidAggregatorID   = errors.New("invalid aggregator_id")
	ErrInvalidUnitPrice      = errors.New("invalid unit_price")
	ErrInvalidDiscountAmount = errors.New("invalid discount_amount")
	ErrInvalidDiscountPct    = errors.New("invalid discount_percent")

	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotModifiable = errors.New("order can no longer be modified")
	ErrOrderLocked        = errors.New("order is locked by another settlement session")
	ErrStaleState         = errors.New("order state changed, please re-fetch and retry")
	ErrItemNotFound       = errors.New("order item not found")
	ErrLockNotHeld        = errors.New("payment lock not held by this actor")
	ErrRefundNotAllowed   = errors.New("refund requires a paid order in SERVED or CLOSED status")
	ErrAlreadyPaid        = errors.New("order is already fully paid")
	ErrOverpayment        = errors.New("payment exceeds remaining balance")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods the order engine needs.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetBranchSettings(ctx context.Context, branchID uuid.UUID) (database.BranchSettings, error)
	GetAggregator(ctx context.Context, id uuid.UUID) (database.Aggregator, error)
	GetProductForOrder(ctx context.Context, arg database.GetProductForOrderParams) (database.Product, error)
	ListModifierGroupsByProduct(ctx context.Context, productID uuid.UUID) ([]database.ModifierGroup, error)
	ListModifiersByGroup(ctx context.Context, modifierGroupID uuid.UUID) ([]database.Modifier, error)

	GetNextOrderNumber(ctx context.Context, branchID uuid.UUID) (int32, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	CreateOrderItemVariation(ctx context.Context, arg database.CreateOrderItemVariationParams) (database.OrderItemVariation, error)
	CreateOrderDiscount(ctx context.Context, arg database.CreateOrderDiscountParams) (database.OrderDiscount, error)

	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListActiveOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListVariationsByOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]database.OrderItemVariation, error)
	UpdateOrderItemSubtotal(ctx context.Context, arg database.UpdateOrderItemSubtotalParams) error
	UpdateOrderTotals(ctx context.Context, arg database.UpdateOrderTotalsParams) (database.Order, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	SetOrderPaymentStatus(ctx context.Context, arg database.SetOrderPaymentStatusParams) (database.Order, error)
	VoidOrderItem(ctx context.Context, arg database.VoidOrderItemParams) (database.OrderItem, error)
	SoftDeleteOrder(ctx context.Context, arg database.SoftDeleteOrderParams) (uuid.UUID, error)

	AcquirePaymentLock(ctx context.Context, arg database.AcquirePaymentLockParams) (database.Order, error)
	ReleasePaymentLock(ctx context.Context, arg database.ReleasePaymentLockParams) (database.Order, error)

	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
	SumPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error)
	VoidPaymentsByOrder(ctx context.Context, orderID uuid.UUID) error
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// LoyaltyReverser undoes loyalty accruals when an order is refunded. The
// loyalty program itself lives outside this service.
type LoyaltyReverser interface {
	Reverse(ctx context.Context, orderID uuid.UUID) error
}

// NoopLoyaltyReverser is used when no loyalty integration is configured.
type NoopLoyaltyReverser struct{}

func (NoopLoyaltyReverser) Reverse(ctx context.Context, orderID uuid.UUID) error { return nil }

// OrderService handles order pricing and lifecycle business logic.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
	lockTTL  time.Duration
	loyalty  LoyaltyReverser
	log      *zap.Logger
}

// NewOrderService creates a new OrderService. lockTTL bounds how long an
// abandoned payment lease stays exclusive.
func NewOrderService(pool TxBeginner, newStore NewOrderStore, lockTTL time.Duration, loyalty LoyaltyReverser, log *zap.Logger) *OrderService {
	if loyalty == nil {
		loyalty = NoopLoyaltyReverser{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderService{pool: pool, newStore: newStore, lockTTL: lockTTL, loyalty: loyalty, log: log}
}

// ModifierSelectionRequest is one (group, value) pick on an item.
type ModifierSelectionRequest struct {
	GroupID string
	ValueID string
}

// CreateOrderItemRequest is a single item in the order.
type CreateOrderItemRequest struct {
	ProductID       string
	Quantity        int32
	UnitPrice       string // open-price products only
	DiscountPercent string
	Notes           string
	Modifiers       []ModifierSelectionRequest
}

// CreateOrderRequest is the validated input for creating an order.
type CreateOrderRequest struct {
	BranchID         uuid.UUID
	CreatedBy        uuid.UUID
	OrderType        string
	TableID          string
	GuestCount       int32
	CustomerID       string
	AggregatorID     string
	ExternalOrderRef string
	Notes            string
	DiscountAmount   string
	PromoCode        string
	Items            []CreateOrderItemRequest
}

// OrderItemResult is an item with its captured modifier selections.
type OrderItemResult struct {
	Item       database.OrderItem
	Variations []database.OrderItemVariation
}

// CreateOrderResult is the full created order with items and any
// composition warnings (capped modifier over-selection).
type CreateOrderResult struct {
	Order    database.Order
	Items    []OrderItemResult
	Warnings []pricing.Warning
}

// PreviewResult carries the computed totals without any persistence.
type PreviewResult struct {
	Lines    []pricing.Line
	Totals   pricing.Totals
	Warnings []pricing.Warning
	Currency string
}

// CreateOrder validates, prices, and creates an order atomically.
// Retries up to maxOrderNumberRetries times on order_number unique
// constraint violations (concurrent transactions reading the same MAX).
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := validateOrderShape(req); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		result, err := s.createOrderTx(ctx, req)
		if err == nil {
			return result, nil
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// Preview prices the same request without writing anything. It runs the
// exact compose/calculate code the commit path runs, so the preview a
// cashier sees always matches what will be stored.
func (s *OrderService) Preview(ctx context.Context, req CreateOrderRequest) (*PreviewResult, error) {
	if err := validateOrderShape(req); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	// Read-only: always rolled back.
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	priced, err := s.priceRequest(ctx, store, req)
	if err != nil {
		return nil, err
	}

	return &PreviewResult{
		Lines:    priced.lines,
		Totals:   priced.totals,
		Warnings: priced.warnings,
		Currency: priced.settings.Currency,
	}, nil
}

// pricedRequest is the shared output of the preview and commit pricing
// paths.
type pricedRequest struct {
	lines          []pricing.Line
	lineInputs     []CreateOrderItemRequest
	totals         pricing.Totals
	warnings       []pricing.Warning
	settings       database.BranchSettings
	commissionPct  decimal.Decimal
	discountAmount decimal.Decimal
	aggregatorID   pgtype.UUID
}

// priceRequest resolves branch settings, the aggregator, and the catalog
// snapshots, composes every line, and calculates totals. Pure apart from
// catalog reads; both Preview and CreateOrder go through it.
func (s *OrderService) priceRequest(ctx context.Context, store OrderStore, req CreateOrderRequest) (*pricedRequest, error) {
	settings, err := store.GetBranchSettings(ctx, req.BranchID)
	if err != nil {
		return nil, fmt.Errorf("get branch settings: %w", err)
	}

	commissionPct := decimal.Zero
	aggregatorID := pgtype.UUID{}
	if req.OrderType == enum.OrderTypeDelivery {
		aid, err := uuid.Parse(req.AggregatorID)
		if err != nil {
			return nil, ErrInvalidAggregatorID
		}
		agg, err := store.GetAggregator(ctx, aid)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrAggregatorNotFound
			}
			return nil, fmt.Errorf("get aggregator: %w", err)
		}
		commissionPct = numericToDecimal(agg.CommissionPercent)
		aggregatorID = pgtype.UUID{Bytes: aid, Valid: true}
	}

	discountAmount := decimal.Zero
	if req.DiscountAmount != "" {
		discountAmount, err = decimal.NewFromString(req.DiscountAmount)
		if err != nil || discountAmount.IsNegative() {
			return nil, ErrInvalidDiscountAmount
		}
	}

	var (
		lines    []pricing.Line
		warnings []pricing.Warning
	)
	for i, item := range req.Items {
		snap, input, err := s.buildLineInput(ctx, store, req.BranchID, item)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		line, warns, err := composeAndLog(s.log, req.BranchID, snap, input)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		lines = append(lines, line)
		warnings = append(warnings, warns...)
	}

	totals := pricing.Calculate(lines, pricing.CalcConfig{
		OrderType:         req.OrderType,
		DiscountAmount:    discountAmount,
		TaxPercent:        numericToDecimal(settings.TaxPercent),
		TaxInclusive:      settings.TaxInclusive,
		ServicePercent:    numericToDecimal(settings.ServicePercent),
		CommissionPercent: commissionPct,
	})

	return &pricedRequest{
		lines:          lines,
		lineInputs:     req.Items,
		totals:         totals,
		warnings:       warnings,
		settings:       settings,
		commissionPct:  commissionPct,
		discountAmount: discountAmount,
		aggregatorID:   aggregatorID,
	}, nil
}

// buildLineInput loads the product's catalog snapshot and converts the raw
// item request into pricing inputs.
func (s *OrderService) buildLineInput(ctx context.Context, store OrderStore, branchID uuid.UUID, item CreateOrderItemRequest) (pricing.ProductSnapshot, pricing.LineInput, error) {
	var zeroSnap pricing.ProductSnapshot
	var zeroIn pricing.LineInput

	productID, err := uuid.Parse(item.ProductID)
	if err != nil {
		return zeroSnap, zeroIn, ErrInvalidProductID
	}

	product, err := store.GetProductForOrder(ctx, database.GetProductForOrderParams{
		ID:       productID,
		BranchID: branchID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zeroSnap, zeroIn, ErrProductNotFound
		}
		return zeroSnap, zeroIn, fmt.Errorf("get product: %w", err)
	}

	groups, err := store.ListModifierGroupsByProduct(ctx, productID)
	if err != nil {
		return zeroSnap, zeroIn, fmt.Errorf("list modifier groups: %w", err)
	}

	snap := pricing.ProductSnapshot{
		ID:                 product.ID,
		Name:               product.Name,
		Price:              numericToDecimal(product.BasePrice),
		IsOpenPrice:        product.IsOpenPrice,
		IsInventoryTracked: product.IsInventoryTracked,
		InventoryUnit:      product.InventoryUnit.String,
		AvailableStock:     numericToDecimal(product.AvailableStock),
	}
	for _, g := range groups {
		values, err := store.ListModifiersByGroup(ctx, g.ID)
		if err != nil {
			return zeroSnap, zeroIn, fmt.Errorf("list modifiers: %w", err)
		}
		vg := pricing.VariationGroup{
			ID:         g.ID,
			Name:       g.Name,
			IsRequired: g.IsRequired,
			MinSelect:  g.MinSelect,
		}
		if g.MaxSelect.Valid {
			vg.MaxSelect = g.MaxSelect.Int32
		}
		for _, v := range values {
			vg.Values = append(vg.Values, pricing.VariationValue{
				ID:         v.ID,
				Name:       v.Name,
				PriceDelta: numericToDecimal(v.PriceDelta),
			})
		}
		snap.Groups = append(snap.Groups, vg)
	}

	input := pricing.LineInput{
		Quantity: item.Quantity,
		Notes:    item.Notes,
	}
	if item.UnitPrice != "" {
		input.UnitPrice, err = decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return zeroSnap, zeroIn, ErrInvalidUnitPrice
		}
	} else if product.IsOpenPrice {
		return zeroSnap, zeroIn, pricing.ErrOpenPriceRequired
	}
	if item.DiscountPercent != "" {
		input.DiscountPercent, err = decimal.NewFromString(item.DiscountPercent)
		if err != nil {
			return zeroSnap, zeroIn, ErrInvalidDiscountPct
		}
	}
	for _, m := range item.Modifiers {
		gid, err := uuid.Parse(m.GroupID)
		if err != nil {
			return zeroSnap, zeroIn, ErrInvalidGroupID
		}
		vid, err := uuid.Parse(m.ValueID)
		if err != nil {
			return zeroSnap, zeroIn, ErrInvalidValueID
		}
		input.Selections = append(input.Selections, pricing.Selection{GroupID: gid, ValueID: vid})
	}
	return snap, input, nil
}

// createOrderTx executes the full order creation in a single transaction.
func (s *OrderService) createOrderTx(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	priced, err := s.priceRequest(ctx, store, req)
	if err != nil {
		return nil, err
	}

	nextNum, err := store.GetNextOrderNumber(ctx, req.BranchID)
	if err != nil {
		return nil, fmt.Errorf("get next order number: %w", err)
	}
	orderNumber := fmt.Sprintf("TND-%03d", nextNum)

	params := database.CreateOrderParams{
		BranchID:          req.BranchID,
		OrderNumber:       orderNumber,
		OrderType:         req.OrderType,
		Status:            enum.OrderStatusOpen,
		PaymentStatus:     enum.PaymentStatusUnpaid,
		AggregatorID:      priced.aggregatorID,
		Subtotal:          decimalToNumeric(priced.totals.Subtotal),
		DiscountAmount:    decimalToNumeric(priced.totals.Discount),
		TaxPercent:        priced.settings.TaxPercent,
		TaxInclusive:      priced.settings.TaxInclusive,
		TaxAmount:         decimalToNumeric(priced.totals.Tax),
		ServicePercent:    priced.settings.ServicePercent,
		ServiceAmount:     decimalToNumeric(priced.totals.Service),
		CommissionPercent: decimalToNumeric(priced.commissionPct),
		CommissionAmount:  decimalToNumeric(priced.totals.Commission),
		TotalAmount:       decimalToNumeric(priced.totals.Total),
		Currency:          priced.settings.Currency,
		CreatedBy:         req.CreatedBy,
	}

	if req.CustomerID != "" {
		cid, err := uuid.Parse(req.CustomerID)
		if err != nil {
			return nil, ErrInvalidCustomerID
		}
		params.CustomerID = pgtype.UUID{Bytes: cid, Valid: true}
	}
	if req.TableID != "" {
		tid, err := uuid.Parse(req.TableID)
		if err != nil {
			return nil, ErrInvalidTableID
		}
		params.TableID = pgtype.UUID{Bytes: tid, Valid: true}
	}
	if req.GuestCount > 0 {
		params.GuestCount = pgtype.Int4{Int32: req.GuestCount, Valid: true}
	}
	if req.ExternalOrderRef != "" {
		params.ExternalOrderRef = pgtype.Text{String: req.ExternalOrderRef, Valid: true}
	}
	if req.Notes != "" {
		params.Notes = pgtype.Text{String: req.Notes, Valid: true}
	}

	order, err := store.CreateOrder(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	var itemResults []OrderItemResult
	for _, line := range priced.lines {
		item, variations, err := insertLine(ctx, store, order.ID, line)
		if err != nil {
			return nil, err
		}
		itemResults = append(itemResults, OrderItemResult{Item: item, Variations: variations})
	}

	if req.PromoCode != "" {
		_, err := store.CreateOrderDiscount(ctx, database.CreateOrderDiscountParams{
			OrderID:       order.ID,
			PromoCode:     pgtype.Text{String: req.PromoCode, Valid: true},
			AmountApplied: decimalToNumeric(priced.totals.Discount),
		})
		if err != nil {
			return nil, fmt.Errorf("create order discount: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{
		Order:    order,
		Items:    itemResults,
		Warnings: priced.warnings,
	}, nil
}

// insertLine persists one priced line and its captured variations.
func insertLine(ctx context.Context, store OrderStore, orderID uuid.UUID, line pricing.Line) (database.OrderItem, []database.OrderItemVariation, error) {
	itemNotes := pgtype.Text{}
	if line.Notes != "" {
		itemNotes = pgtype.Text{String: line.Notes, Valid: true}
	}

	item, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
		OrderID:         orderID,
		ProductID:       line.ProductID,
		ProductName:     line.ProductName,
		Quantity:        line.Quantity,
		UnitPrice:       decimalToNumeric(line.UnitPrice),
		DiscountPercent: decimalToNumeric(line.DiscountPercent),
		LineSubtotal:    decimalToNumeric(line.Subtotal),
		Notes:           itemNotes,
		FireStatus:      enum.ItemFireStatusHeld,
	})
	if err != nil {
		return database.OrderItem{}, nil, fmt.Errorf("create order item: %w", err)
	}

	var variations []database.OrderItemVariation
	for _, v := range line.Variations {
		oiv, err := store.CreateOrderItemVariation(ctx, database.CreateOrderItemVariationParams{
			OrderItemID: item.ID,
			GroupID:     pgtype.UUID{Bytes: v.GroupID, Valid: true},
			GroupName:   v.GroupName,
			ValueID:     pgtype.UUID{Bytes: v.ValueID, Valid: true},
			ValueName:   v.ValueName,
			PriceDelta:  decimalToNumeric(v.PriceDelta),
		})
		if err != nil {
			return database.OrderItem{}, nil, fmt.Errorf("create order item variation: %w", err)
		}
		variations = append(variations, oiv)
	}
	return item, variations, nil
}

// --- Validation helpers ---

// validateOrderShape checks the type-conditional field rules before any
// catalog reads.
func validateOrderShape(req CreateOrderRequest) error {
	if !isValidOrderType(req.OrderType) {
		return ErrInvalidOrderType
	}
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("items[%d]: %w", i, pricing.ErrInvalidQuantity)
		}
	}
	if req.OrderType != enum.OrderTypeDineIn && (req.TableID != "" || req.GuestCount > 0) {
		return ErrTableDineInOnly
	}
	if req.OrderType != enum.OrderTypeDelivery && (req.AggregatorID != "" || req.ExternalOrderRef != "") {
		return ErrAggregatorDeliveryOnly
	}
	if req.OrderType == enum.OrderTypeDelivery && req.AggregatorID == "" {
		return ErrAggregatorRequired
	}
	return nil
}

func isValidOrderType(s string) bool {
	switch s {
	case enum.OrderTypeDineIn, enum.OrderTypeTakeaway,
		enum.OrderTypeDelivery, enum.OrderTypePickup:
		return true
	}
	return false
}

// isOrderNumberConflict checks if the error is a unique constraint
// violation on the order number (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_branch_id_order_number_key"
	}
	return false
}

// --- Numeric helpers ---

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
