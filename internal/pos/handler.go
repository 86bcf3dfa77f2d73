// Package pos exposes the POS operations over HTTP.
package pos

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-pos/odyssey-pos/internal/billing"
	"github.com/odyssey-pos/odyssey-pos/internal/floor"
	"github.com/odyssey-pos/odyssey-pos/internal/inventory"
	"github.com/odyssey-pos/odyssey-pos/internal/kitchen"
	"github.com/odyssey-pos/odyssey-pos/internal/pricing"
	"github.com/odyssey-pos/odyssey-pos/internal/rbac"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
	"github.com/odyssey-pos/odyssey-pos/internal/variants"
)

// Floor guards tables and orders.
type Floor interface {
	CreateOrder(ctx context.Context, in floor.CreateOrderInput) (floor.Order, error)
	GetOrder(ctx context.Context, id string) (floor.Order, error)
	ClaimOrder(ctx context.Context, id string) (floor.Order, error)
	ReleaseClaim(ctx context.Context, id string) (floor.Order, error)
	AddLine(ctx context.Context, orderID string, line floor.Line) (floor.Line, error)
	UpdateLineQty(ctx context.Context, orderID, lineID string, qty float64) (floor.Line, error)
	UpdateLineRate(ctx context.Context, orderID, lineID string, rate decimal.Decimal) (floor.Line, error)
	RequestBill(ctx context.Context, id string) (floor.Order, error)
	ReleaseTableIfDone(ctx context.Context, id string) (floor.ReleaseResult, error)
	MergeOrders(ctx context.Context, targetID string, sourceIDs []string) (floor.Order, error)
	ListTables(ctx context.Context, branch string) ([]floor.Table, error)
	SetTableStatus(ctx context.Context, name string, to floor.TableStatus, order string) (floor.Table, error)
	AssignTable(ctx context.Context, orderID, table string) (floor.Table, error)
	NextQueueNumber(ctx context.Context, branch string, now time.Time) (int64, error)
}

// Variants swaps template lines for variants.
type Variants interface {
	ChooseVariantForOrderItem(ctx context.Context, req variants.ChooseRequest) (floor.Line, error)
}

// Billing generates invoices and records payments.
type Billing interface {
	GenerateInvoice(ctx context.Context, req billing.GenerateRequest) (billing.Invoice, error)
	ProcessPayment(ctx context.Context, invoiceID, mode, amount string) (billing.PaymentResult, error)
	GetInvoice(ctx context.Context, id string) (billing.Invoice, error)
}

// Kitchen tracks KOT tickets.
type Kitchen interface {
	CreateTickets(ctx context.Context, order floor.Order) ([]kitchen.Ticket, error)
	ListTickets(ctx context.Context, filter kitchen.TicketFilter) ([]kitchen.Ticket, error)
	UpdateKOTItemState(ctx context.Context, itemID string, to kitchen.State) (kitchen.Item, error)
	BulkUpdateKOTItems(ctx context.Context, ids []string, to kitchen.State) kitchen.BulkResult
	UpdateKOTTicketState(ctx context.Context, ticketID string, to kitchen.State) (kitchen.Ticket, error)
}

// Stock reads sellable quantities.
type Stock interface {
	GetItemsWithStock(ctx context.Context, filter inventory.ItemStockFilter) ([]inventory.ItemStock, int, error)
	Capacity() *inventory.CapacityEngine
	PostInbound(ctx context.Context, input inventory.InboundInput) (inventory.StockCardEntry, error)
	PostAdjustment(ctx context.Context, input inventory.AdjustmentInput) (inventory.StockCardEntry, error)
	GetStockCard(ctx context.Context, filter inventory.StockCardFilter) ([]inventory.StockCardEntry, error)
}

// Pricing resolves item rates.
type Pricing interface {
	ResolveRate(ctx context.Context, item, priceList, basePriceList string) (pricing.Rate, error)
}

// Settings resolves per-request configuration.
type Settings interface {
	Context(ctx context.Context, profile string) (settings.Context, error)
	Restaurant(ctx context.Context) (settings.Restaurant, error)
	Invalidate(ctx context.Context, name string) error
}

// Deps groups the services behind the handler.
type Deps struct {
	Floor    Floor
	Variants Variants
	Billing  Billing
	Kitchen  Kitchen
	Stock    Stock
	Pricing  Pricing
	Settings Settings
	RBAC     rbac.Middleware
	Realtime http.Handler
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Handler serves the POS JSON API.
type Handler struct {
	floor     Floor
	variants  Variants
	billing   Billing
	kitchen   Kitchen
	stock     Stock
	pricing   Pricing
	settings  Settings
	rbac      rbac.Middleware
	realtime  http.Handler
	logger    *slog.Logger
	now       func() time.Time
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		floor:     d.Floor,
		variants:  d.Variants,
		billing:   d.Billing,
		kitchen:   d.Kitchen,
		stock:     d.Stock,
		pricing:   d.Pricing,
		settings:  d.Settings,
		rbac:      d.RBAC,
		realtime:  d.Realtime,
		logger:    d.Logger,
		now:       d.Clock,
		validator: validator.New(),
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// MountRoutes registers POS routes.
func (h *Handler) MountRoutes(r chi.Router) {
	if h.realtime != nil {
		r.Get("/ws/{branch}", h.realtime.ServeHTTP)
	}
	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermOrderView))
			r.Get("/orders/{id}", h.getOrder)
			r.Get("/tables", h.listTables)
			r.Get("/queue-number", h.nextQueueNumber)
			r.Get("/items/{code}/price", h.itemPrice)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermOrderEdit))
			r.Post("/orders", h.createOrder)
			r.Post("/orders/{id}/lines", h.addLine)
			r.Patch("/orders/{id}/lines/{line}", h.updateLine)
			r.Post("/orders/{id}/lines/{line}/variant", h.chooseVariant)
			r.Post("/orders/{id}/request-bill", h.requestBill)
			r.Post("/orders/{id}/kot", h.sendToKitchen)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermOrderClaim))
			r.Post("/orders/{id}/claim", h.claimOrder)
			r.Post("/orders/{id}/release-claim", h.releaseClaim)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermOrderMerge))
			r.Post("/orders/{id}/merge", h.mergeOrders)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermTableManage))
			r.Post("/orders/{id}/table", h.assignTable)
			r.Post("/orders/{id}/release-table", h.releaseTable)
			r.Post("/tables/{name}/status", h.setTableStatus)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermInvoiceCreate))
			r.Post("/orders/{id}/invoice", h.generateInvoice)
			r.Get("/invoices/{id}", h.getInvoice)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermPaymentRecord))
			r.Post("/invoices/{id}/payments", h.processPayment)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermKitchenUpdate, shared.PermOrderView))
			r.Get("/kot", h.listTickets)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermKitchenUpdate))
			r.Post("/kot/items/{id}/state", h.updateKOTItem)
			r.Post("/kot/items/state", h.bulkUpdateKOTItems)
			r.Post("/kot/tickets/{id}/state", h.updateKOTTicket)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermStockView))
			r.Get("/items/stock", h.itemsWithStock)
			r.Get("/items/{code}/capacity", h.itemCapacity)
			r.Get("/stock/card", h.stockCard)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermStockAdjust))
			r.Post("/stock/receipts", h.postReceipt)
			r.Post("/stock/adjustments", h.postAdjustment)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermSettingsEdit))
			r.Post("/settings/{name}/invalidate", h.invalidateSettings)
		})
	})
}
