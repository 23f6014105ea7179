package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID             uuid.UUID
	BranchID       uuid.UUID
	FullName       string
	Email          string
	HashedPassword string
	Role           string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BranchSettings holds the tenant-level pricing configuration. Values are
// copied onto each order at creation time; later edits never touch
// historical orders.
type BranchSettings struct {
	BranchID       uuid.UUID
	Currency       string
	TaxPercent     pgtype.Numeric
	ServicePercent pgtype.Numeric
	TaxInclusive   bool
	UpdatedAt      time.Time
}

type Aggregator struct {
	ID                uuid.UUID
	Name              string
	CommissionPercent pgtype.Numeric
	IsActive          bool
}

type Product struct {
	ID                 uuid.UUID
	BranchID           uuid.UUID
	Name               string
	BasePrice          pgtype.Numeric
	IsOpenPrice        bool
	IsInventoryTracked bool
	InventoryUnit      pgtype.Text
	AvailableStock     pgtype.Numeric
	IsActive           bool
}

type ModifierGroup struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	Name       string
	IsRequired bool
	MinSelect  int32
	MaxSelect  pgtype.Int4
	SortOrder  int32
	IsActive   bool
}

type Modifier struct {
	ID              uuid.UUID
	ModifierGroupID uuid.UUID
	Name            string
	PriceDelta      pgtype.Numeric
	SortOrder       int32
	IsActive        bool
}

type Order struct {
	ID                uuid.UUID
	BranchID          uuid.UUID
	OrderNumber       string
	OrderType         string
	Status            string
	PaymentStatus     string
	PaymentMethod     pgtype.Text
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
	PaymentLocked     bool
	LockedBy          pgtype.UUID
	LockedAt          pgtype.Timestamptz
	IsDeleted         bool
	DeletedBy         pgtype.UUID
	DeletedAt         pgtype.Timestamptz
	CreatedBy         uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ClosedAt          pgtype.Timestamptz
	VoidedAt          pgtype.Timestamptz
}

type OrderItem struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	ProductID       uuid.UUID
	ProductName     string
	Quantity        int32
	UnitPrice       pgtype.Numeric
	DiscountPercent pgtype.Numeric
	LineSubtotal    pgtype.Numeric
	Notes           pgtype.Text
	FireStatus      string
	IsVoided        bool
	CreatedAt       time.Time
}

// OrderItemVariation is a modifier selection captured at composition time.
// Group/value names and the price delta are copied, never re-read from the
// live catalog.
type OrderItemVariation struct {
	ID          uuid.UUID
	OrderItemID uuid.UUID
	GroupID     pgtype.UUID
	GroupName   string
	ValueID     pgtype.UUID
	ValueName   string
	PriceDelta  pgtype.Numeric
}

// OrderDiscount records which rule or promo code produced the order-level
// discount. Informational; the calculator only reads the order's
// discount_amount.
type OrderDiscount struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	PromoCode     pgtype.Text
	RuleName      pgtype.Text
	AmountApplied pgtype.Numeric
	CreatedAt     time.Time
}

type Payment struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	PaymentMethod   string
	Amount          pgtype.Numeric
	Status          string
	ReferenceNumber pgtype.Text
	AmountReceived  pgtype.Numeric
	ChangeAmount    pgtype.Numeric
	ProcessedBy     uuid.UUID
	ProcessedAt     time.Time
}
