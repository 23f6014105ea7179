package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/tandoor-pos/api/internal/auth"
	"github.com/tandoor-pos/api/internal/cache"
	"github.com/tandoor-pos/api/internal/database"
	"github.com/tandoor-pos/api/internal/enum"
	"github.com/tandoor-pos/api/internal/middleware"
	"github.com/tandoor-pos/api/internal/pricing"
	"github.com/tandoor-pos/api/internal/service"
	"github.com/tandoor-pos/api/internal/ws"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
	Preview(ctx context.Context, req service.CreateOrderRequest) (*service.PreviewResult, error)
	GetOrder(ctx context.Context, branchID, orderID uuid.UUID) (*service.OrderDetail, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	UpdateStatus(ctx context.Context, branchID, orderID, actorID uuid.UUID, next string) (database.Order, error)
	AddItem(ctx context.Context, req service.AddItemRequest) (*service.CreateOrderResult, error)
	VoidItem(ctx context.Context, req service.VoidItemRequest) (database.Order, error)
	Recalculate(ctx context.Context, branchID, orderID, actorID uuid.UUID) (database.Order, error)
	AcquirePaymentLock(ctx context.Context, branchID, orderID, actorID uuid.UUID) (database.Order, error)
	ReleasePaymentLock(ctx context.Context, branchID, orderID, actorID uuid.UUID) (database.Order, error)
	AddPayment(ctx context.Context, req service.AddPaymentRequest) (*service.AddPaymentResult, error)
	ListPayments(ctx context.Context, branchID, orderID uuid.UUID) ([]database.Payment, error)
	Refund(ctx context.Context, branchID, orderID, actorID uuid.UUID, reason string) (database.Order, error)
	SoftDelete(ctx context.Context, branchID, orderID, actorID uuid.UUID) error
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc   OrderServicer
	hub   *ws.Hub
	idemp cache.IdempotencyStore
}

// NewOrderHandler creates a new OrderHandler. hub and idemp may be nil
// (no event fan-out, no retry deduplication).
func NewOrderHandler(svc OrderServicer, hub *ws.Hub, idemp cache.IdempotencyStore) *OrderHandler {
	return &OrderHandler{svc: svc, hub: hub, idemp: idemp}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside a branch-scoped subrouter: /branches/{bid}/orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Post("/preview", h.Preview)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}/status", h.UpdateStatus)
	r.Post("/{id}/items", h.AddItem)
	r.Delete("/{id}/items/{iid}", h.VoidItem)
	r.Post("/{id}/recalculate", h.Recalculate)
	r.Post("/{id}/lock", h.Lock)
	r.Delete("/{id}/lock", h.Unlock)
	r.Post("/{id}/payments", h.AddPayment)
	r.Get("/{id}/payments", h.ListPayments)
	r.Post("/{id}/void", h.Void)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/refund", h.Refund)
	r.Delete("/{id}", h.Delete)
}

// --- Request / Response types ---

type createOrderRequest struct {
	OrderType        string                   `json:"order_type"`
	TableID          string                   `json:"table_id"`
	GuestCount       int32                    `json:"guest_count"`
	CustomerID       string                   `json:"customer_id"`
	AggregatorID     string                   `json:"aggregator_id"`
	ExternalOrderRef string                   `json:"external_order_ref"`
	Notes            string                   `json:"notes"`
	DiscountAmount   string                   `json:"discount_amount"`
	PromoCode        string                   `json:"promo_code"`
	Items            []createOrderItemRequest `json:"items"`
}

type createOrderItemRequest struct {
	ProductID       string                     `json:"product_id"`
	Quantity        int32                      `json:"quantity"`
	UnitPrice       string                     `json:"unit_price"`
	DiscountPercent string                     `json:"discount_percent"`
	Notes           string                     `json:"notes"`
	Modifiers       []modifierSelectionRequest `json:"modifiers"`
}

type modifierSelectionRequest struct {
	GroupID string `json:"group_id"`
	ValueID string `json:"value_id"`
}

type orderResponse struct {
	ID                   uuid.UUID           `json:"id"`
	BranchID             uuid.UUID           `json:"branch_id"`
	OrderNumber          string              `json:"order_number"`
	OrderType            string              `json:"order_type"`
	Status               string              `json:"status"`
	PaymentStatus        string              `json:"payment_status"`
	PaymentMethod        *string             `json:"payment_method"`
	CustomerID           *string             `json:"customer_id"`
	TableID              *string             `json:"table_id"`
	GuestCount           *int32              `json:"guest_count"`
	AggregatorID         *string             `json:"aggregator_id"`
	ExternalOrderRef     *string             `json:"external_order_ref"`
	Notes                *string             `json:"notes"`
	Subtotal             string              `json:"subtotal"`
	DiscountAmount       string              `json:"discount_amount"`
	TaxPercent           string              `json:"tax_percent"`
	TaxInclusive         bool                `json:"tax_inclusive"`
	TaxAmount            string              `json:"tax_amount"`
	ServicePercent       string              `json:"service_percent"`
	ServiceAmount        string              `json:"service_amount"`
	CommissionPercent    string              `json:"commission_percent"`
	CommissionAmount     string              `json:"commission_amount"`
	TotalAmount          string              `json:"total_amount"`
	Currency             string              `json:"currency"`
	PaymentLocked        bool                `json:"payment_locked"`
	LockedBy             *string             `json:"locked_by"`
	IsDeleted            bool                `json:"is_deleted"`
	AvailableTransitions []string            `json:"available_transitions"`
	CreatedBy            uuid.UUID           `json:"created_by"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	Items                []orderItemResponse `json:"items,omitempty"`
	Warnings             []warningResponse   `json:"warnings,omitempty"`
}

type orderItemResponse struct {
	ID              uuid.UUID           `json:"id"`
	ProductID       uuid.UUID           `json:"product_id"`
	ProductName     string              `json:"product_name"`
	Quantity        int32               `json:"quantity"`
	UnitPrice       string              `json:"unit_price"`
	DiscountPercent string              `json:"discount_percent"`
	LineSubtotal    string              `json:"line_subtotal"`
	Notes           *string             `json:"notes"`
	FireStatus      string              `json:"fire_status"`
	IsVoided        bool                `json:"is_voided"`
	Modifiers       []variationResponse `json:"modifiers"`
}

type variationResponse struct {
	GroupName  string `json:"group_name"`
	ValueName  string `json:"value_name"`
	PriceDelta string `json:"price_delta"`
}

type warningResponse struct {
	Code      string `json:"code"`
	GroupName string `json:"group_name"`
	Message   string `json:"message"`
}

type paymentResponse struct {
	ID              uuid.UUID `json:"id"`
	OrderID         uuid.UUID `json:"order_id"`
	PaymentMethod   string    `json:"payment_method"`
	Amount          string    `json:"amount"`
	Status          string    `json:"status"`
	ReferenceNumber *string   `json:"reference_number"`
	AmountReceived  *string   `json:"amount_received"`
	ChangeAmount    *string   `json:"change_amount"`
	ProcessedBy     uuid.UUID `json:"processed_by"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// previewResponse mirrors the monetary part of orderResponse without any
// identity fields: nothing was persisted.
type previewResponse struct {
	Subtotal       string            `json:"subtotal"`
	DiscountAmount string            `json:"discount_amount"`
	TaxAmount      string            `json:"tax_amount"`
	ServiceAmount  string            `json:"service_amount"`
	CommissionAmt  string            `json:"commission_amount"`
	TotalAmount    string            `json:"total_amount"`
	Currency       string            `json:"currency"`
	Lines          []previewLine     `json:"lines"`
	Warnings       []warningResponse `json:"warnings,omitempty"`
}

type previewLine struct {
	ProductName  string `json:"product_name"`
	Quantity     int32  `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	LineSubtotal string `json:"line_subtotal"`
}

// orderDetailResponse extends orderResponse with payments for the GET detail endpoint.
type orderDetailResponse struct {
	orderResponse
	Payments []paymentResponse `json:"payments"`
}

// orderListResponse wraps a list of orders with pagination metadata.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type voidRequest struct {
	Reason string `json:"reason"`
}

type addPaymentRequest struct {
	PaymentMethod   string `json:"payment_method"`
	Amount          string `json:"amount"`
	AmountReceived  string `json:"amount_received"`
	ReferenceNumber string `json:"reference_number"`
}

type addPaymentResponse struct {
	Order        orderResponse   `json:"order"`
	Payment      paymentResponse `json:"payment"`
	ChangeAmount string          `json:"change_amount"`
}

// --- Handlers ---

// Create handles POST /branches/{bid}/orders. An Idempotency-Key header
// makes retries safe: the first attempt creates the order, retries get the
// original order back.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	branchID, claims, ok := h.branchAndClaims(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.OrderType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order_type is required"})
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idemp != nil {
		won, err := h.idemp.TryLock(r.Context(), "order-create", idemKey)
		if err != nil {
			log.Printf("ERROR: idempotency lock: %v", err)
		} else if !won {
			h.replayIdempotent(w, r, branchID, idemKey)
			return
		}
	}

	result, err := h.svc.CreateOrder(r.Context(), toServiceRequest(branchID, claims.UserID, req))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if idemKey != "" && h.idemp != nil {
		if err := h.idemp.Remember(r.Context(), "order-create", idemKey, result.Order.ID.String()); err != nil {
			log.Printf("ERROR: idempotency remember: %v", err)
		}
	}

	h.broadcast(branchID, ws.EventOrderCreated, map[string]string{
		"order_id":     result.Order.ID.String(),
		"order_number": result.Order.OrderNumber,
		"total_amount": numericToString(result.Order.TotalAmount),
	})

	writeJSON(w, http.StatusCreated, toOrderResponse(result))
}

// replayIdempotent serves a retried create by returning the order the
// first attempt produced. If the mapping is not recorded yet (first
// attempt still in flight) the client gets a conflict and should retry
// after a moment.
func (h *OrderHandler) replayIdempotent(w http.ResponseWriter, r *http.Request, branchID uuid.UUID, key string) {
	orderIDStr, found, err := h.idemp.Recall(r.Context(), "order-create", key)
	if err != nil || !found {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "duplicate request, original still processing"})
		return
	}
	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "duplicate request"})
		return
	}
	detail, err := h.svc.GetOrder(r.Context(), branchID, orderID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(detail, nil))
}

// Preview handles POST /branches/{bid}/orders/preview. Same request shape
// as Create; nothing is written.
func (h *OrderHandler) Preview(w http.ResponseWriter, r *http.Request) {
	branchID, claims, ok := h.branchAndClaims(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.OrderType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order_type is required"})
		return
	}

	result, err := h.svc.Preview(r.Context(), toServiceRequest(branchID, claims.UserID, req))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := previewResponse{
		Subtotal:       result.Totals.Subtotal.StringFixed(2),
		DiscountAmount: result.Totals.Discount.StringFixed(2),
		TaxAmount:      result.Totals.Tax.StringFixed(2),
		ServiceAmount:  result.Totals.Service.StringFixed(2),
		CommissionAmt:  result.Totals.Commission.StringFixed(2),
		TotalAmount:    result.Totals.Total.StringFixed(2),
		Currency:       result.Currency,
		Warnings:       toWarningResponses(result.Warnings),
	}
	for _, line := range result.Lines {
		resp.Lines = append(resp.Lines, previewLine{
			ProductName:  line.ProductName,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice.StringFixed(2),
			LineSubtotal: line.Subtotal.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// List handles GET /branches/{bid}/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	branchID, _, ok := h.branchAndClaims(w, r)
	if !ok {
		return
	}

	// Parse pagination
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	params := database.ListOrdersParams{
		BranchID: branchID,
		Limit:    int32(limit),
		Offset:   int32(offset),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		params.Status = pgtype.Text{String: s, Valid: true}
	}
	if s := r.URL.Query().Get("type"); s != "" {
		params.OrderType = pgtype.Text{String: s, Valid: true}
	}
	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start_date format, use YYYY-MM-DD"})
			return
		}
		params.StartDate = pgtype.Timestamptz{Time: t, Valid: true}
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end_date format, use YYYY-MM-DD"})
			return
		}
		params.EndDate = pgtype.Timestamptz{Time: t, Valid: true}
	}

	orders, err := h.svc.ListOrders(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: list orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = dbOrderToResponse(o)
	}
	writeJSON(w, http.StatusOK, orderListResponse{Orders: resp, Limit: limit, Offset: offset})
}

// Get handles GET /branches/{bid}/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, _, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	detail, err := h.svc.GetOrder(r.Context(), branchID, orderID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	payments, err := h.svc.ListPayments(r.Context(), branchID, orderID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(detail, payments))
}

// UpdateStatus handles PATCH /branches/{bid}/orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, claims, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	updated, err := h.svc.UpdateStatus(r.Context(), branchID, orderID, claims.UserID, req.Status)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.broadcast(branchID, ws.EventOrderStatusChange, map[string]string{
		"order_id": updated.ID.String(),
		"status":   updated.Status,
	})
	writeJSON(w, http.StatusOK, dbOrderToResponse(updated))
}

// AddItem handles POST /branches/{bid}/orders/{id}/items.
func (h *OrderHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, claims, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	var req createOrderItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "product_id is required"})
		return
	}

	result, err := h.svc.AddItem(r.Context(), service.AddItemRequest{
		BranchID: branchID,
		OrderID:  orderID,
		ActorID:  claims.UserID,
		Item:     toServiceItem(req),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.broadcast(branchID, ws.EventOrderRecalculated, map[string]string{
		"order_id":     result.Order.ID.String(),
		"total_amount": numericToString(result.Order.TotalAmount),
	})
	writeJSON(w, http.StatusCreated, toOrderResponse(result))
}

// VoidItem handles DELETE /branches/{bid}/orders/{id}/items/{iid}.
func (h *OrderHandler) VoidItem(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, claims, ok := h.orderScope(w, r)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "iid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item ID"})
		return
	}

	var req voidRequest
	// Body optional for item void.
	_ = json.NewDecoder(r.Body).Decode(&req)

	updated, err := h.svc.VoidItem(r.Context(), service.VoidItemRequest{
		BranchID: branchID,
		OrderID:  orderID,
		ItemID:   itemID,
		ActorID:  claims.UserID,
		Reason:   req.Reason,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.broadcast(branchID, ws.EventOrderRecalculated, map[string]string{
		"order_id":     updated.ID.String(),
		"total_amount": numericToString(updated.TotalAmount),
	})
	writeJSON(w, http.StatusOK, dbOrderToResponse(updated))
}

// Recalculate handles POST /branches/{bid}/orders/{id}/recalculate.
func (h *OrderHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, claims, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	updated, err := h.svc.Recalculate(r.Context(), branchID, orderID, claims.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.broadcast(branchID, ws.EventOrderRecalculated, map[string]string{
		"order_id":     updated.ID.String(),
		"total_amount": numericToString(updated.TotalAmount),
	})
	writeJSON(w, http.StatusOK, dbOrderToResponse(updated))
}

// Lock handles POST /branches/{bid}/orders/{id}/lock.
func (h *OrderHandler) Lock(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, claims, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	locked, err := h.svc.AcquirePaymentLock(r.Context(), branchID, orderID, claims.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dbOrderToResponse(locked))
}

// Unlock handles DELETE /branches/{bid}/orders/{id}/lock.
func (h *OrderHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, claims, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	released, err := h.svc.ReleasePaymentLock(r.Context(), branchID, orderID, claims.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dbOrderToResponse(released))
}

// AddPayment handles POST /branches/{bid}/orders/{id}/payments.
func (h *OrderHandler) AddPayment(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, claims, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	var req addPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.PaymentMethod == "" || req.Amount == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payment_method and amount are required"})
		return
	}

	result, err := h.svc.AddPayment(r.Context(), service.AddPaymentRequest{
		BranchID:        branchID,
		OrderID:         orderID,
		ActorID:         claims.UserID,
		PaymentMethod:   req.PaymentMethod,
		Amount:          req.Amount,
		AmountReceived:  req.AmountReceived,
		ReferenceNumber: req.ReferenceNumber,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.broadcast(branchID, ws.EventOrderPaid, map[string]string{
		"order_id":       result.Order.ID.String(),
		"payment_status": result.Order.PaymentStatus,
		"amount":         numericToString(result.Payment.Amount),
	})
	writeJSON(w, http.StatusCreated, addPaymentResponse{
		Order:        dbOrderToResponse(result.Order),
		Payment:      dbPaymentToResponse(result.Payment),
		ChangeAmount: result.ChangeAmount.StringFixed(2),
	})
}

// ListPayments handles GET /branches/{bid}/orders/{id}/payments.
func (h *OrderHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, _, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	payments, err := h.svc.ListPayments(r.Context(), branchID, orderID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	resp := make([]paymentResponse, len(payments))
	for i, p := range payments {
		resp[i] = dbPaymentToResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Void handles POST /branches/{bid}/orders/{id}/void.
func (h *OrderHandler) Void(w http.ResponseWriter, r *http.Request) {
	h.transitionEndpoint(w, r, enum.OrderStatusVoided)
}

// Cancel handles POST /branches/{bid}/orders/{id}/cancel.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transitionEndpoint(w, r, enum.OrderStatusCancelled)
}

// transitionEndpoint is the shared body of Void and Cancel: both are
// plain transitions with the state machine doing the gating.
func (h *OrderHandler) transitionEndpoint(w http.ResponseWriter, r *http.Request, target string) {
	branchID, orderID, claims, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	updated, err := h.svc.UpdateStatus(r.Context(), branchID, orderID, claims.UserID, target)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.broadcast(branchID, ws.EventOrderStatusChange, map[string]string{
		"order_id": updated.ID.String(),
		"status":   updated.Status,
	})
	writeJSON(w, http.StatusOK, dbOrderToResponse(updated))
}

// Refund handles POST /branches/{bid}/orders/{id}/refund.
func (h *OrderHandler) Refund(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, claims, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	var req voidRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	updated, err := h.svc.Refund(r.Context(), branchID, orderID, claims.UserID, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.broadcast(branchID, ws.EventOrderStatusChange, map[string]string{
		"order_id": updated.ID.String(),
		"status":   updated.Status,
	})
	writeJSON(w, http.StatusOK, dbOrderToResponse(updated))
}

// Delete handles DELETE /branches/{bid}/orders/{id}.
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	branchID, orderID, claims, ok := h.orderScope(w, r)
	if !ok {
		return
	}

	if err := h.svc.SoftDelete(r.Context(), branchID, orderID, claims.UserID); err != nil {
		respondServiceError(w, err)
		return
	}

	h.broadcast(branchID, ws.EventOrderDeleted, map[string]string{
		"order_id": orderID.String(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (h *OrderHandler) branchAndClaims(w http.ResponseWriter, r *http.Request) (uuid.UUID, *auth.Claims, bool) {
	branchID, err := uuid.Parse(chi.URLParam(r, "bid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid branch ID"})
		return uuid.Nil, nil, false
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return uuid.Nil, nil, false
	}
	return branchID, claims, true
}

func (h *OrderHandler) orderScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, *auth.Claims, bool) {
	branchID, claims, ok := h.branchAndClaims(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return uuid.Nil, uuid.Nil, nil, false
	}
	return branchID, orderID, claims, true
}

func (h *OrderHandler) broadcast(branchID uuid.UUID, eventType string, payload any) {
	if h.hub == nil {
		return
	}
	h.hub.BroadcastToBranch(branchID, ws.NewEvent(eventType, payload))
}

func toServiceRequest(branchID, userID uuid.UUID, req createOrderRequest) service.CreateOrderRequest {
	items := make([]service.CreateOrderItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = toServiceItem(item)
	}
	return service.CreateOrderRequest{
		BranchID:         branchID,
		CreatedBy:        userID,
		OrderType:        req.OrderType,
		TableID:          req.TableID,
		GuestCount:       req.GuestCount,
		CustomerID:       req.CustomerID,
		AggregatorID:     req.AggregatorID,
		ExternalOrderRef: req.ExternalOrderRef,
		Notes:            req.Notes,
		DiscountAmount:   req.DiscountAmount,
		PromoCode:        req.PromoCode,
		Items:            items,
	}
}

func toServiceItem(item createOrderItemRequest) service.CreateOrderItemRequest {
	mods := make([]service.ModifierSelectionRequest, len(item.Modifiers))
	for j, mod := range item.Modifiers {
		mods[j] = service.ModifierSelectionRequest{
			GroupID: mod.GroupID,
			ValueID: mod.ValueID,
		}
	}
	return service.CreateOrderItemRequest{
		ProductID:       item.ProductID,
		Quantity:        item.Quantity,
		UnitPrice:       item.UnitPrice,
		DiscountPercent: item.DiscountPercent,
		Notes:           item.Notes,
		Modifiers:       mods,
	}
}

// respondServiceError maps service sentinel errors to HTTP status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	var ite *service.InvalidTransitionError
	if errors.As(err, &ite) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":                 ite.Error(),
			"available_transitions": service.AvailableTransitions(ite.From, ite.PaymentStatus),
		})
		return
	}
	var mce *pricing.ModifierConstraintError
	if errors.As(err, &mce) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": mce.Error()})
		return
	}

	switch {
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrItemNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrOrderLocked):
		writeJSON(w, http.StatusLocked, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrStaleState),
		errors.Is(err, service.ErrOrderNotModifiable),
		errors.Is(err, service.ErrAlreadyPaid),
		errors.Is(err, service.ErrOverpayment),
		errors.Is(err, service.ErrRefundNotAllowed),
		errors.Is(err, service.ErrLockNotHeld):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case isValidationError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: order handler: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// isValidationError checks if the error is a known validation error
// from the service or pricing layer that should result in 400 Bad Request.
func isValidationError(err error) bool {
	return errors.Is(err, service.ErrEmptyItems) ||
		errors.Is(err, service.ErrInvalidOrderType) ||
		errors.Is(err, service.ErrProductNotFound) ||
		errors.Is(err, service.ErrAggregatorRequired) ||
		errors.Is(err, service.ErrAggregatorNotFound) ||
		errors.Is(err, service.ErrTableDineInOnly) ||
		errors.Is(err, service.ErrAggregatorDeliveryOnly) ||
		errors.Is(err, service.ErrInvalidProductID) ||
		errors.Is(err, service.ErrInvalidGroupID) ||
		errors.Is(err, service.ErrInvalidValueID) ||
		errors.Is(err, service.ErrInvalidTableID) ||
		errors.Is(err, service.ErrInvalidCustomerID) ||
		errors.Is(err, service.ErrInvalidAggregatorID) ||
		errors.Is(err, service.ErrInvalidUnitPrice) ||
		errors.Is(err, service.ErrInvalidDiscountAmount) ||
		errors.Is(err, service.ErrInvalidDiscountPct) ||
		errors.Is(err, service.ErrInvalidPaymentMethod) ||
		errors.Is(err, service.ErrInvalidPaymentAmount) ||
		errors.Is(err, service.ErrInsufficientCash) ||
		errors.Is(err, pricing.ErrInvalidQuantity) ||
		errors.Is(err, pricing.ErrInvalidDiscountPercent) ||
		errors.Is(err, pricing.ErrOpenPriceRequired) ||
		errors.Is(err, pricing.ErrNegativeUnitPrice) ||
		errors.Is(err, pricing.ErrUnknownGroup) ||
		errors.Is(err, pricing.ErrUnknownValue) ||
		errors.Is(err, pricing.ErrInsufficientStock)
}

// --- Response mapping ---

func toOrderResponse(result *service.CreateOrderResult) orderResponse {
	resp := dbOrderToResponse(result.Order)
	resp.Items = make([]orderItemResponse, len(result.Items))
	for i, ir := range result.Items {
		resp.Items[i] = toOrderItemResponse(ir)
	}
	resp.Warnings = toWarningResponses(result.Warnings)
	return resp
}

func toDetailResponse(detail *service.OrderDetail, payments []database.Payment) orderDetailResponse {
	resp := dbOrderToResponse(detail.Order)
	resp.Items = make([]orderItemResponse, len(detail.Items))
	for i, ir := range detail.Items {
		resp.Items[i] = toOrderItemResponse(ir)
	}
	paymentResps := make([]paymentResponse, len(payments))
	for i, p := range payments {
		paymentResps[i] = dbPaymentToResponse(p)
	}
	return orderDetailResponse{orderResponse: resp, Payments: paymentResps}
}

func toWarningResponses(warnings []pricing.Warning) []warningResponse {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]warningResponse, len(warnings))
	for i, w := range warnings {
		out[i] = warningResponse{Code: w.Code, GroupName: w.GroupName, Message: w.Message}
	}
	return out
}

func toOrderItemResponse(ir service.OrderItemResult) orderItemResponse {
	item := ir.Item
	resp := orderItemResponse{
		ID:              item.ID,
		ProductID:       item.ProductID,
		ProductName:     item.ProductName,
		Quantity:        item.Quantity,
		UnitPrice:       numericToString(item.UnitPrice),
		DiscountPercent: numericToString(item.DiscountPercent),
		LineSubtotal:    numericToString(item.LineSubtotal),
		FireStatus:      item.FireStatus,
		IsVoided:        item.IsVoided,
	}
	if item.Notes.Valid {
		resp.Notes = &item.Notes.String
	}
	resp.Modifiers = make([]variationResponse, len(ir.Variations))
	for j, v := range ir.Variations {
		resp.Modifiers[j] = variationResponse{
			GroupName:  v.GroupName,
			ValueName:  v.ValueName,
			PriceDelta: numericToString(v.PriceDelta),
		}
	}
	return resp
}

// dbOrderToResponse converts a database.Order to an orderResponse. Items
// are attached by the callers that have them.
func dbOrderToResponse(o database.Order) orderResponse {
	resp := orderResponse{
		ID:                   o.ID,
		BranchID:             o.BranchID,
		OrderNumber:          o.OrderNumber,
		OrderType:            o.OrderType,
		Status:               o.Status,
		PaymentStatus:        o.PaymentStatus,
		Subtotal:             numericToString(o.Subtotal),
		DiscountAmount:       numericToString(o.DiscountAmount),
		TaxPercent:           numericToString(o.TaxPercent),
		TaxInclusive:         o.TaxInclusive,
		TaxAmount:            numericToString(o.TaxAmount),
		ServicePercent:       numericToString(o.ServicePercent),
		ServiceAmount:        numericToString(o.ServiceAmount),
		CommissionPercent:    numericToString(o.CommissionPercent),
		CommissionAmount:     numericToString(o.CommissionAmount),
		TotalAmount:          numericToString(o.TotalAmount),
		Currency:             o.Currency,
		PaymentLocked:        o.PaymentLocked,
		IsDeleted:            o.IsDeleted,
		AvailableTransitions: service.AvailableTransitions(o.Status, o.PaymentStatus),
		CreatedBy:            o.CreatedBy,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}

	if o.PaymentMethod.Valid {
		resp.PaymentMethod = &o.PaymentMethod.String
	}
	if o.CustomerID.Valid {
		s := uuid.UUID(o.CustomerID.Bytes).String()
		resp.CustomerID = &s
	}
	if o.TableID.Valid {
		s := uuid.UUID(o.TableID.Bytes).String()
		resp.TableID = &s
	}
	if o.GuestCount.Valid {
		resp.GuestCount = &o.GuestCount.Int32
	}
	if o.AggregatorID.Valid {
		s := uuid.UUID(o.AggregatorID.Bytes).String()
		resp.AggregatorID = &s
	}
	if o.ExternalOrderRef.Valid {
		resp.ExternalOrderRef = &o.ExternalOrderRef.String
	}
	if o.Notes.Valid {
		resp.Notes = &o.Notes.String
	}
	if o.LockedBy.Valid {
		s := uuid.UUID(o.LockedBy.Bytes).String()
		resp.LockedBy = &s
	}
	return resp
}

// dbPaymentToResponse converts a database.Payment to a paymentResponse.
func dbPaymentToResponse(p database.Payment) paymentResponse {
	resp := paymentResponse{
		ID:            p.ID,
		OrderID:       p.OrderID,
		PaymentMethod: p.PaymentMethod,
		Amount:        numericToString(p.Amount),
		Status:        p.Status,
		ProcessedBy:   p.ProcessedBy,
		ProcessedAt:   p.ProcessedAt,
	}
	if p.ReferenceNumber.Valid {
		resp.ReferenceNumber = &p.ReferenceNumber.String
	}
	if p.AmountReceived.Valid {
		s := numericToString(p.AmountReceived)
		resp.AmountReceived = &s
	}
	if p.ChangeAmount.Valid {
		s := numericToString(p.ChangeAmount)
		resp.ChangeAmount = &s
	}
	return resp
}

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}
