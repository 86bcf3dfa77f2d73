package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-pos/odyssey-pos/internal/customization"
	"github.com/odyssey-pos/odyssey-pos/internal/floor"
	"github.com/odyssey-pos/odyssey-pos/internal/inventory"
	"github.com/odyssey-pos/odyssey-pos/internal/masterdata/items"
	"github.com/odyssey-pos/odyssey-pos/internal/realtime"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// OrderStore reads orders and links invoices onto them.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (floor.Order, error)
	LinkInvoice(ctx context.Context, orderID, invoiceID string) error
}

// ItemStore reads the item master and BOMs.
type ItemStore interface {
	GetItem(ctx context.Context, code string) (items.Item, error)
	DefaultBOM(ctx context.Context, code string) (items.BOM, error)
}

// Customizer resolves line customizations.
type Customizer interface {
	Resolve(ctx context.Context, itemCode string, selections []customization.Selection) (customization.Resolution, error)
}

// InvoiceStore persists invoices.
type InvoiceStore interface {
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id string) (Invoice, error)
	InvoiceForOrder(ctx context.Context, orderID string) (Invoice, error)
	AddPayment(ctx context.Context, inv Invoice, p Payment) error
}

// InvoiceRepository is an InvoiceStore that can run writes atomically.
type InvoiceRepository interface {
	InvoiceStore
	WithTx(ctx context.Context, fn func(context.Context, InvoiceStore) error) error
}

// StockLedger posts and reads stock.
type StockLedger interface {
	PostConsumption(ctx context.Context, input inventory.ConsumptionInput) ([]string, error)
	CheckSufficiency(ctx context.Context, reqs []inventory.Requirement) error
	ActualQty(ctx context.Context, itemCode, warehouse string) (float64, error)
}

// SettingsProvider resolves the configuration of a profile.
type SettingsProvider interface {
	Context(ctx context.Context, profile string) (settings.Context, error)
}

// SessionChecker validates that the actor has an open session on the profile.
type SessionChecker interface {
	ValidateSession(ctx context.Context, profile settings.Profile, actor string) error
}

// Locker serialises invoice generation per order.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// TxRunner runs fn in one database transaction carried by the context it
// receives. Stores called with that context join the transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(context.Context) error) error
}

type directTx struct{}

func (directTx) InTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

// StockNotifier retries stock notifications that could not be published.
type StockNotifier interface {
	EnqueueStockNotify(ctx context.Context, branch string, payloads []realtime.StockPayload) error
}

// Metrics records invoice outcomes.
type Metrics interface {
	InvoiceResult(result string)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Deps groups the collaborators of Service.
type Deps struct {
	Orders     OrderStore
	Items      ItemStore
	Invoices   InvoiceRepository
	Stock      StockLedger
	Tx         TxRunner
	Settings   SettingsProvider
	Customizer Customizer
	Totals     TotalsHook
	Sessions   SessionChecker
	Locker     Locker
	Publisher  realtime.Publisher
	Fallback   StockNotifier
	Metrics    Metrics
	Audit      AuditPort
	Logger     *slog.Logger
	Clock      func() time.Time
	// Tolerance applies when the profile sets none.
	Tolerance decimal.Decimal
}

// Service generates invoices and records payments.
type Service struct {
	orders     OrderStore
	items      ItemStore
	invoices   InvoiceRepository
	stock      StockLedger
	tx         TxRunner
	settings   SettingsProvider
	customizer Customizer
	totals     TotalsHook
	sessions   SessionChecker
	locker     Locker
	publisher  realtime.Publisher
	fallback   StockNotifier
	metrics    Metrics
	audit      AuditPort
	logger     *slog.Logger
	now        func() time.Time
	tolerance  decimal.Decimal
}

// NewService builds Service.
func NewService(d Deps) *Service {
	s := &Service{
		orders:     d.Orders,
		items:      d.Items,
		invoices:   d.Invoices,
		stock:      d.Stock,
		tx:         d.Tx,
		settings:   d.Settings,
		customizer: d.Customizer,
		totals:     d.Totals,
		sessions:   d.Sessions,
		locker:     d.Locker,
		publisher:  d.Publisher,
		fallback:   d.Fallback,
		metrics:    d.Metrics,
		audit:      d.Audit,
		logger:     d.Logger,
		now:        d.Clock,
		tolerance:  d.Tolerance,
	}
	if s.tx == nil {
		s.tx = directTx{}
	}
	if s.customizer == nil {
		s.customizer = customization.NewResolver(nil)
	}
	if s.totals == nil {
		s.totals = NewTaxCalculator(nil)
	}
	if s.publisher == nil {
		s.publisher = realtime.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// GenerateInvoice creates the invoice of an order, consumes BOM stock and
// records the first payment. An order that already has an invoice returns
// it unchanged.
func (s *Service) GenerateInvoice(ctx context.Context, req GenerateRequest) (Invoice, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.ModeOfPayment = strings.TrimSpace(req.ModeOfPayment)
	req.Amount = strings.TrimSpace(req.Amount)
	if req.OrderID == "" {
		return Invoice{}, shared.Validationf("pos order is required")
	}
	if req.ModeOfPayment == "" || req.Amount == "" {
		return Invoice{}, shared.Validationf("mode of payment and amount are required")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		return Invoice{}, shared.Validationf("invalid payment amount %q", req.Amount)
	}
	actor, ok := shared.ActorFromContext(ctx)
	if !ok {
		return Invoice{}, shared.Permissionf("no acting user on request")
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.InvoiceLockKey(req.OrderID))
		if errors.Is(err, shared.ErrLockHeld) {
			return Invoice{}, shared.Validationf("invoice for order %s is already being generated", req.OrderID)
		}
		if err != nil {
			return Invoice{}, err
		}
		defer release()
	}

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if errors.Is(err, floor.ErrOrderNotFound) {
		return Invoice{}, shared.Validationf("pos order %s does not exist", req.OrderID)
	}
	if err != nil {
		return Invoice{}, err
	}
	if existing, ok, err := s.existingInvoice(ctx, order); err != nil || ok {
		if ok {
			s.observe("existing")
		}
		return existing, err
	}
	if order.Status == floor.OrderMerged {
		return Invoice{}, shared.Validationf("order %s was merged into another order", order.ID)
	}
	if order.ClaimedByOther(actor.ID) {
		return Invoice{}, shared.Permissionf("order %s is claimed by %s", order.ID, order.ClaimedBy)
	}

	cfg, err := s.settings.Context(ctx, order.Profile)
	if err != nil {
		return Invoice{}, err
	}
	if cfg.Profile.RequireOpening && s.sessions != nil {
		if err := s.sessions.ValidateSession(ctx, cfg.Profile, actor.ID); err != nil {
			return Invoice{}, err
		}
	}

	inv, err := s.BuildInvoiceItems(ctx, order, cfg)
	if err != nil {
		return Invoice{}, err
	}
	if len(inv.Items) == 0 {
		return Invoice{}, shared.Validationf("order %s has no billable items", order.ID)
	}
	inv.ID = uuid.NewString()
	inv.CreatedBy = actor.ID
	inv.CreatedAt = s.now().UTC()

	if err := s.totals.SetMissingValues(ctx, &inv, cfg); err != nil {
		return Invoice{}, s.failed(err)
	}
	if err := s.totals.CalculateTaxesAndTotals(ctx, &inv, cfg); err != nil {
		return Invoice{}, s.failed(err)
	}
	inv.Packed = MergePacked(inv.Packed)

	if inv.UpdateStock {
		if err := s.stock.CheckSufficiency(ctx, requirements(inv)); err != nil {
			return Invoice{}, err
		}
	}

	grand := amount
	if inv.GrandTotal.Valid {
		grand = inv.GrandTotal.Decimal
	}
	tolerance := cfg.Profile.PaymentTolerance
	if !tolerance.IsPositive() {
		tolerance = s.tolerance
	}
	inv.Payments = []Payment{{Mode: req.ModeOfPayment, Amount: amount, RawAmount: req.Amount, At: inv.CreatedAt}}
	inv.PaidAmount = amount
	inv.OutstandingAmount = Outstanding(grand, amount, inv.WriteOffAmount, tolerance)
	inv.Status = statusFor(inv.PaidAmount, inv.OutstandingAmount)

	// consumption, the invoice and the order link commit together
	var saved Invoice
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if inv.UpdateStock {
			entries, err := s.stock.PostConsumption(ctx, inventory.ConsumptionInput{
				RefModule: "pos_order",
				RefID:     order.ID,
				Rows:      consumptionRows(inv),
				ActorID:   actor.ID,
				Note:      "POS order " + order.ID,
			})
			if err != nil {
				return err
			}
			inv.ManufactureEntries = entries
		}
		var err error
		if saved, err = s.invoices.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		return s.orders.LinkInvoice(ctx, order.ID, saved.ID)
	})
	switch {
	case err == nil:
	case shared.IsValidation(err):
		return Invoice{}, err
	case shared.IsConflict(err):
		return Invoice{}, shared.Validationf("order %s changed while invoicing, reload and retry", order.ID)
	default:
		return Invoice{}, s.failed(err)
	}
	s.observe("created")
	s.record(ctx, actor.ID, "sales_invoice:create", saved.ID, map[string]any{
		"pos_order":   order.ID,
		"grand_total": grand.String(),
		"status":      saved.Status,
	})
	s.announce(ctx, saved)
	return saved, nil
}

// existingInvoice finds an invoice already generated for the order and
// relinks it when a previous attempt stopped before linking.
func (s *Service) existingInvoice(ctx context.Context, order floor.Order) (Invoice, bool, error) {
	if order.Invoice != "" {
		inv, err := s.invoices.GetInvoice(ctx, order.Invoice)
		if err == nil {
			return inv, true, nil
		}
		if !errors.Is(err, ErrInvoiceNotFound) {
			return Invoice{}, false, err
		}
	}
	inv, err := s.invoices.InvoiceForOrder(ctx, order.ID)
	if errors.Is(err, ErrInvoiceNotFound) {
		return Invoice{}, false, nil
	}
	if err != nil {
		return Invoice{}, false, err
	}
	if order.Invoice != inv.ID {
		if err := s.orders.LinkInvoice(ctx, order.ID, inv.ID); err != nil {
			return Invoice{}, false, s.failed(err)
		}
	}
	return inv, true, nil
}

// ProcessPayment records a payment. A fully paid invoice succeeds without
// a new payment row.
func (s *Service) ProcessPayment(ctx context.Context, invoiceID, mode, amount string) (PaymentResult, error) {
	mode = strings.TrimSpace(mode)
	amount = strings.TrimSpace(amount)
	var result PaymentResult
	err := s.invoices.WithTx(ctx, func(ctx context.Context, store InvoiceStore) error {
		inv, err := store.GetInvoiceForUpdate(ctx, invoiceID)
		if errors.Is(err, ErrInvoiceNotFound) {
			return shared.NotFoundf("sales invoice %s", invoiceID)
		}
		if err != nil {
			return err
		}
		if inv.Status == StatusPaid || inv.OutstandingAmount.IsZero() {
			result = PaymentResult{Invoice: inv, AlreadyPaid: true, Message: "already paid"}
			return nil
		}
		if mode == "" || amount == "" {
			return shared.Validationf("mode of payment and amount are required")
		}
		value, err := decimal.NewFromString(amount)
		if err != nil || !value.IsPositive() {
			return shared.Validationf("invalid payment amount %q", amount)
		}
		tolerance := s.tolerance
		if cfg, err := s.settings.Context(ctx, inv.Profile); err == nil && cfg.Profile.PaymentTolerance.IsPositive() {
			tolerance = cfg.Profile.PaymentTolerance
		}
		grand := inv.GrandTotal.Decimal
		if !inv.GrandTotal.Valid {
			grand = inv.PaidAmount.Add(inv.OutstandingAmount)
		}
		p := Payment{Mode: mode, Amount: value, RawAmount: amount, At: s.now().UTC()}
		inv.Payments = append(inv.Payments, p)
		inv.PaidAmount = inv.PaidAmount.Add(value)
		inv.OutstandingAmount = Outstanding(grand, inv.PaidAmount, inv.WriteOffAmount, tolerance)
		inv.Status = statusFor(inv.PaidAmount, inv.OutstandingAmount)
		if err := store.AddPayment(ctx, inv, p); err != nil {
			return err
		}
		result = PaymentResult{Invoice: inv, Message: "payment recorded"}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	if !result.AlreadyPaid {
		actor, _ := shared.ActorFromContext(ctx)
		s.record(ctx, actor.ID, "sales_invoice:payment", invoiceID, map[string]any{"mode": mode, "amount": amount})
	}
	return result, nil
}

// GetInvoice returns a stored invoice.
func (s *Service) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	inv, err := s.invoices.GetInvoice(ctx, id)
	if errors.Is(err, ErrInvoiceNotFound) {
		return Invoice{}, shared.NotFoundf("sales invoice %s", id)
	}
	return inv, err
}

func (s *Service) failed(err error) error {
	s.observe("failed")
	return fmt.Errorf("%w: %w", ErrInvoiceFailed, err)
}

func (s *Service) observe(result string) {
	if s.metrics == nil {
		return
	}
	shared.BestEffort(s.logger, "billing.metrics", func() error {
		s.metrics.InvoiceResult(result)
		return nil
	})
}

func (s *Service) record(ctx context.Context, actor, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	shared.BestEffort(s.logger, "billing.audit", func() error {
		return s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   action,
			Entity:   "sales_invoice",
			EntityID: id,
			Meta:     meta,
		})
	})
}

// announce publishes the invoice and one stock event per touched item code.
// Stock events that cannot be published are handed to the fallback queue.
func (s *Service) announce(ctx context.Context, inv Invoice) {
	shared.BestEffort(s.logger, "billing.publish_invoice", func() error {
		evt, err := realtime.NewEvent(realtime.EventInvoiceCreated, inv.Branch, map[string]any{
			"name":      inv.ID,
			"pos_order": inv.Order,
			"status":    inv.Status,
		})
		if err != nil {
			return err
		}
		return s.publisher.Publish(ctx, evt)
	})

	var pending []realtime.StockPayload
	for _, t := range touched(inv) {
		payload := realtime.StockPayload{ItemCode: t.item, Warehouse: t.warehouse}
		shared.BestEffort(s.logger, "billing.publish_stock", func() error {
			qty, err := s.stock.ActualQty(ctx, t.item, t.warehouse)
			if err != nil {
				return err
			}
			payload.ActualQty = qty
			evt, err := realtime.NewEvent(realtime.EventStockUpdated, inv.Branch, payload)
			if err != nil {
				return err
			}
			if err := s.publisher.Publish(ctx, evt); err != nil {
				pending = append(pending, payload)
				return err
			}
			return nil
		})
	}
	if len(pending) > 0 && s.fallback != nil {
		shared.BestEffort(s.logger, "billing.enqueue_stock_notify", func() error {
			return s.fallback.EnqueueStockNotify(ctx, inv.Branch, pending)
		})
	}
}

type touchedItem struct{ item, warehouse string }

// touched lists item codes of lines and packed rows once each, sorted.
func touched(inv Invoice) []touchedItem {
	seen := map[string]touchedItem{}
	for _, it := range inv.Items {
		if _, ok := seen[it.ItemCode]; !ok {
			seen[it.ItemCode] = touchedItem{it.ItemCode, it.Warehouse}
		}
	}
	for _, p := range inv.Packed {
		if _, ok := seen[p.ItemCode]; !ok {
			seen[p.ItemCode] = touchedItem{p.ItemCode, p.Warehouse}
		}
	}
	out := make([]touchedItem, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].item < out[j].item })
	return out
}

// requirements lists what must be on hand: packed components, and stock
// lines that are not produced from a BOM.
func requirements(inv Invoice) []inventory.Requirement {
	var reqs []inventory.Requirement
	for _, it := range inv.Items {
		if it.IsStockItem && !it.HasBOM {
			reqs = append(reqs, inventory.Requirement{ItemCode: it.ItemCode, Warehouse: it.Warehouse, Qty: it.Qty})
		}
	}
	for _, p := range inv.Packed {
		reqs = append(reqs, inventory.Requirement{ItemCode: p.ItemCode, Warehouse: p.Warehouse, Qty: p.Qty})
	}
	return reqs
}

// consumptionRows lists packed components and the stock lines sold as is.
func consumptionRows(inv Invoice) []inventory.ConsumptionRow {
	rows := make([]inventory.ConsumptionRow, 0, len(inv.Packed)+len(inv.Items))
	for _, it := range inv.Items {
		if it.IsStockItem && !it.HasBOM {
			rows = append(rows, inventory.ConsumptionRow{ItemCode: it.ItemCode, ParentItem: it.ItemCode, Warehouse: it.Warehouse, Qty: it.Qty})
		}
	}
	for _, p := range inv.Packed {
		rows = append(rows, inventory.ConsumptionRow{ItemCode: p.ItemCode, ParentItem: p.ParentItem, Warehouse: p.Warehouse, Qty: p.Qty})
	}
	return rows
}
