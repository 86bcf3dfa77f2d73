package billing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-pos/odyssey-pos/internal/customization"
	"github.com/odyssey-pos/odyssey-pos/internal/floor"
	"github.com/odyssey-pos/odyssey-pos/internal/inventory"
	"github.com/odyssey-pos/odyssey-pos/internal/masterdata/items"
	"github.com/odyssey-pos/odyssey-pos/internal/realtime"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeOrders struct {
	orders map[string]floor.Order
	links  int
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (floor.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return floor.Order{}, floor.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) LinkInvoice(_ context.Context, orderID, invoiceID string) error {
	o := f.orders[orderID]
	o.Invoice = invoiceID
	f.orders[orderID] = o
	f.links++
	return nil
}

type memoryItems struct {
	items map[string]items.Item
	boms  map[string]items.BOM
}

func (m memoryItems) GetItem(_ context.Context, code string) (items.Item, error) {
	it, ok := m.items[code]
	if !ok {
		return items.Item{}, items.ErrItemNotFound
	}
	return it, nil
}

func (m memoryItems) DefaultBOM(_ context.Context, code string) (items.BOM, error) {
	b, ok := m.boms[code]
	if !ok {
		return items.BOM{}, items.ErrBOMNotFound
	}
	return b, nil
}

type memoryInvoices struct {
	mu        sync.Mutex
	invoices  map[string]Invoice
	insertErr error
}

func newMemoryInvoices() *memoryInvoices {
	return &memoryInvoices{invoices: map[string]Invoice{}}
}

func (m *memoryInvoices) WithTx(ctx context.Context, fn func(context.Context, InvoiceStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m)
}

func (m *memoryInvoices) InsertInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	if m.insertErr != nil {
		return Invoice{}, m.insertErr
	}
	m.invoices[inv.ID] = inv
	return inv, nil
}

func (m *memoryInvoices) GetInvoice(_ context.Context, id string) (Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (m *memoryInvoices) GetInvoiceForUpdate(ctx context.Context, id string) (Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *memoryInvoices) InvoiceForOrder(_ context.Context, orderID string) (Invoice, error) {
	for _, inv := range m.invoices {
		if inv.Order == orderID {
			return inv, nil
		}
	}
	return Invoice{}, ErrInvoiceNotFound
}

func (m *memoryInvoices) AddPayment(_ context.Context, inv Invoice, _ Payment) error {
	m.invoices[inv.ID] = inv
	return nil
}

type fakeLedger struct {
	stock    map[string]float64
	consumed []inventory.ConsumptionInput
}

func (f *fakeLedger) PostConsumption(_ context.Context, in inventory.ConsumptionInput) ([]string, error) {
	f.consumed = append(f.consumed, in)
	for _, r := range in.Rows {
		f.stock[r.ItemCode] -= r.Qty
	}
	return []string{"MC-" + in.RefID + "-1"}, nil
}

func (f *fakeLedger) CheckSufficiency(_ context.Context, reqs []inventory.Requirement) error {
	for _, r := range reqs {
		if f.stock[r.ItemCode] < r.Qty {
			return shared.Validationf("insufficient stock for %s in %s", r.ItemCode, r.Warehouse)
		}
	}
	return nil
}

func (f *fakeLedger) ActualQty(_ context.Context, item, _ string) (float64, error) {
	return f.stock[item], nil
}

// stagedTx restores the ledger, invoices and orders when the unit of work fails.
type stagedTx struct {
	f *fixture
}

func (s stagedTx) InTx(ctx context.Context, fn func(context.Context) error) error {
	stock := make(map[string]float64, len(s.f.ledger.stock))
	for k, v := range s.f.ledger.stock {
		stock[k] = v
	}
	consumed := append([]inventory.ConsumptionInput(nil), s.f.ledger.consumed...)
	invoices := make(map[string]Invoice, len(s.f.invoices.invoices))
	for k, v := range s.f.invoices.invoices {
		invoices[k] = v
	}
	orders := make(map[string]floor.Order, len(s.f.orders.orders))
	for k, v := range s.f.orders.orders {
		orders[k] = v
	}
	if err := fn(ctx); err != nil {
		s.f.ledger.stock, s.f.ledger.consumed = stock, consumed
		s.f.invoices.invoices = invoices
		s.f.orders.orders = orders
		return err
	}
	return nil
}

type staticSettings settings.Context

func (s staticSettings) Context(context.Context, string) (settings.Context, error) {
	return settings.Context(s), nil
}

type optionSource map[string]customization.Catalog

func (o optionSource) ItemCatalog(_ context.Context, code string) (customization.Catalog, error) {
	c, ok := o[code]
	if !ok {
		return customization.Catalog{}, customization.ErrCatalogNotFound
	}
	return c, nil
}

type recordingPublisher struct {
	fail   bool
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt realtime.Event) error {
	if p.fail && evt.Type == realtime.EventStockUpdated {
		return errors.New("redis down")
	}
	p.events = append(p.events, evt)
	return nil
}

type recordingFallback struct {
	payloads []realtime.StockPayload
}

func (r *recordingFallback) EnqueueStockNotify(_ context.Context, _ string, payloads []realtime.StockPayload) error {
	r.payloads = append(r.payloads, payloads...)
	return nil
}

type fixture struct {
	svc       *Service
	orders    *fakeOrders
	invoices  *memoryInvoices
	ledger    *fakeLedger
	publisher *recordingPublisher
	fallback  *recordingFallback
	redis     *miniredis.Miniredis
}

func profile() settings.Context {
	return settings.Context{Profile: settings.Profile{
		Name:             "Main",
		Branch:           "BR-1",
		Company:          "Odyssey Coffee",
		Warehouse:        "Stores",
		Currency:         "IDR",
		UpdateStock:      true,
		TaxRate:          dec("10"),
		PaymentTolerance: dec("0.05"),
	}}
}

func newFixture(t *testing.T, cfg settings.Context) *fixture {
	t.Helper()
	factor := 1.5
	catalog := memoryItems{
		items: map[string]items.Item{
			"LATTE":   {Code: "LATTE", Name: "Cafe Latte", IsSalesItem: true, IsStockItem: true, UOM: "Cup"},
			"WATER":   {Code: "WATER", Name: "Mineral Water", IsSalesItem: true, IsStockItem: true, UOM: "Nos"},
			"NAPKIN":  {Code: "NAPKIN", Name: "Napkin", IsStockItem: true},
			"TSHIRT":  {Code: "TSHIRT", HasVariants: true, IsSalesItem: true},
			"SERVICE": {Code: "SERVICE", Name: "Corkage", IsSalesItem: true},
		},
		boms: map[string]items.BOM{"LATTE": {Name: "BOM-LATTE", Item: "LATTE", Quantity: 1, Components: []items.BOMComponent{
			{ItemCode: "ESPRESSO_SHOT", ItemName: "Espresso Shot", UOM: "Nos", Qty: 1},
			{ItemCode: "MILK", ItemName: "Fresh Milk", UOM: "ml", Qty: 100},
		}}},
	}
	options := optionSource{"LATTE": {ItemCode: "LATTE", Groups: []customization.Group{
		{Name: "size", Label: "Size", Options: []customization.Option{
			{Name: "Large", PriceDelta: dec("5000"), Modifiers: []customization.Modifier{{QtyFactor: &factor}}},
		}},
	}}}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		orders: &fakeOrders{orders: map[string]floor.Order{
			"ORD-1": {
				ID: "ORD-1", Branch: "BR-1", Profile: "Main", Status: floor.OrderClaimed, ClaimedBy: "cashier@odyssey",
				Lines: []floor.Line{
					{ID: "L1", ItemCode: "LATTE", Qty: 2, Rate: dec("30000"), Notes: "less sugar", Customizations: []byte(`{"size":"Large"}`)},
					{ID: "L2", ItemCode: "WATER", Qty: 1, Rate: dec("5000")},
				},
			},
		}},
		invoices:  newMemoryInvoices(),
		ledger:    &fakeLedger{stock: map[string]float64{"ESPRESSO_SHOT": 10, "MILK": 1000, "WATER": 5}},
		publisher: &recordingPublisher{},
		fallback:  &recordingFallback{},
		redis:     mr,
	}
	f.svc = NewService(Deps{
		Orders:     f.orders,
		Items:      catalog,
		Invoices:   f.invoices,
		Stock:      f.ledger,
		Tx:         stagedTx{f: f},
		Settings:   staticSettings(cfg),
		Customizer: customization.NewResolver(options),
		Locker:     shared.NewRedisLocker(client, 0),
		Publisher:  f.publisher,
		Fallback:   f.fallback,
	})
	return f
}

func cashier() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: "cashier@odyssey", Branch: "BR-1"})
}

func TestOutstandingTolerance(t *testing.T) {
	assert.True(t, Outstanding(dec("10"), dec("9.97"), decimal.Zero, dec("0.05")).IsZero())
	assert.True(t, Outstanding(dec("10"), dec("9.90"), decimal.Zero, dec("0.05")).Equal(dec("0.1")))
	assert.True(t, Outstanding(dec("10"), dec("12"), decimal.Zero, dec("0.05")).IsZero())
	assert.True(t, Outstanding(dec("10"), dec("5"), dec("2"), decimal.Zero).Equal(dec("3")))
}

func TestGenerateInvoiceRequiresInputs(t *testing.T) {
	f := newFixture(t, profile())
	for _, req := range []GenerateRequest{
		{ModeOfPayment: "Cash", Amount: "10"},
		{OrderID: "ORD-1", Amount: "10"},
		{OrderID: "ORD-1", ModeOfPayment: "Cash"},
		{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "ten"},
		{OrderID: "ORD-404", ModeOfPayment: "Cash", Amount: "10"},
	} {
		_, err := f.svc.GenerateInvoice(cashier(), req)
		require.True(t, shared.IsValidation(err), "%+v: %v", req, err)
	}
}

func TestBuildInvoiceItems(t *testing.T) {
	f := newFixture(t, profile())
	order := f.orders.orders["ORD-1"]
	inv, err := f.svc.BuildInvoiceItems(context.Background(), order, profile())
	require.NoError(t, err)
	require.Len(t, inv.Items, 2)

	latte := inv.Items[0]
	require.Equal(t, "Cafe Latte\nless sugar", latte.Description)
	require.True(t, latte.HasNotes)
	require.True(t, latte.CustomizationsDelta.Equal(dec("5000")))
	require.True(t, latte.Rate.Equal(dec("35000")))
	require.True(t, latte.Amount.Equal(dec("70000")))
	require.Equal(t, "Size: Large", latte.DisplayDetails)
	require.Equal(t, "Stores", latte.Warehouse)
	require.False(t, inv.Items[1].HasNotes)
	require.Equal(t, "Mineral Water", inv.Items[1].Description)

	require.Len(t, inv.Packed, 2)
	require.Equal(t, "ESPRESSO_SHOT", inv.Packed[0].ItemCode)
	require.InDelta(t, 3.0, inv.Packed[0].Qty, 1e-9)
	require.InDelta(t, 300.0, inv.Packed[1].Qty, 1e-9)
	require.Equal(t, "Fresh Milk", inv.Packed[1].ItemName)
}

func TestBuildInvoiceItemsMergesPackedRowsPerParent(t *testing.T) {
	f := newFixture(t, profile())
	order := floor.Order{ID: "ORD-2", Lines: []floor.Line{
		{ID: "L1", ItemCode: "LATTE", Qty: 1, Rate: dec("30000")},
		{ID: "L2", ItemCode: "LATTE", Qty: 1, Rate: dec("30000"), Customizations: []byte(`{"size":"Large"}`)},
		{ID: "L3", ItemCode: "LATTE", Qty: 1, Rate: dec("30000")},
	}}

	inv, err := f.svc.BuildInvoiceItems(context.Background(), order, profile())
	require.NoError(t, err)
	require.Len(t, inv.Items, 3)
	require.Len(t, inv.Packed, 2)
	require.Equal(t, "ESPRESSO_SHOT", inv.Packed[0].ItemCode)
	require.Equal(t, "LATTE", inv.Packed[0].ParentItem)
	require.InDelta(t, 3.5, inv.Packed[0].Qty, 1e-9)
	require.Equal(t, "MILK", inv.Packed[1].ItemCode)
	require.InDelta(t, 350.0, inv.Packed[1].Qty, 1e-9)
}

func TestBuildInvoiceItemsNonSalesItems(t *testing.T) {
	f := newFixture(t, profile())
	order := floor.Order{ID: "ORD-2", Lines: []floor.Line{
		{ID: "L1", ItemCode: "WATER", Qty: 1, Rate: dec("5000")},
		{ID: "L2", ItemCode: "NAPKIN", Qty: 3},
	}}

	_, err := f.svc.BuildInvoiceItems(context.Background(), order, profile())
	require.True(t, shared.IsValidation(err))
	require.ErrorContains(t, err, "Napkin is not a sales item")

	lenient := profile()
	lenient.Profile.AllowNonSalesItems = true
	inv, err := f.svc.BuildInvoiceItems(context.Background(), order, lenient)
	require.NoError(t, err)
	require.Len(t, inv.Items, 1)
	require.Equal(t, "WATER", inv.Items[0].ItemCode)

	_, err = f.svc.BuildInvoiceItems(context.Background(), floor.Order{Lines: []floor.Line{{ItemCode: "TSHIRT", Qty: 1}}}, profile())
	require.ErrorContains(t, err, "choose a variant")
}

func TestGenerateInvoice(t *testing.T) {
	f := newFixture(t, profile())
	ctx := cashier()

	inv, err := f.svc.GenerateInvoice(ctx, GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "82500.00"})
	require.NoError(t, err)
	require.True(t, inv.NetTotal.Equal(dec("75000")))
	require.True(t, inv.TaxAmount.Equal(dec("7500")))
	require.True(t, inv.GrandTotal.Valid)
	require.True(t, inv.GrandTotal.Decimal.Equal(dec("82500")))
	require.True(t, inv.OutstandingAmount.IsZero())
	require.Equal(t, StatusPaid, inv.Status)
	require.Equal(t, "82500.00", inv.Payments[0].RawAmount)
	require.Equal(t, []string{"MC-ORD-1-1"}, inv.ManufactureEntries)
	require.Equal(t, inv.ID, f.orders.orders["ORD-1"].Invoice)

	require.Len(t, f.ledger.consumed, 1)
	require.Len(t, f.ledger.consumed[0].Rows, 3)
	require.InDelta(t, 700, f.ledger.stock["MILK"], 1e-9)

	var stockItems []string
	for _, evt := range f.publisher.events {
		if evt.Type == realtime.EventStockUpdated {
			var p realtime.StockPayload
			require.NoError(t, json.Unmarshal(evt.Payload, &p))
			stockItems = append(stockItems, p.ItemCode)
			require.Equal(t, "Stores", p.Warehouse)
		}
	}
	require.Equal(t, []string{"ESPRESSO_SHOT", "LATTE", "MILK", "WATER"}, stockItems)

	again, err := f.svc.GenerateInvoice(ctx, GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "82500"})
	require.NoError(t, err)
	require.Equal(t, inv.ID, again.ID)
	require.Len(t, f.ledger.consumed, 1)
	require.Len(t, f.invoices.invoices, 1)
}

func TestGenerateInvoiceStopsOnShortStock(t *testing.T) {
	f := newFixture(t, profile())
	f.ledger.stock["MILK"] = 100

	_, err := f.svc.GenerateInvoice(cashier(), GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "82500"})
	require.True(t, shared.IsValidation(err))
	require.ErrorContains(t, err, "MILK")
	require.Empty(t, f.invoices.invoices)
	require.Empty(t, f.ledger.consumed)
}

func TestGenerateInvoiceWrapsInsertFailure(t *testing.T) {
	f := newFixture(t, profile())
	f.invoices.insertErr = errors.New("duplicate key value violates unique constraint")

	_, err := f.svc.GenerateInvoice(cashier(), GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "82500"})
	require.ErrorIs(t, err, ErrInvoiceFailed)
	require.EqualError(t, err, "failed to generate invoice: duplicate key value violates unique constraint")
	require.Empty(t, f.orders.orders["ORD-1"].Invoice)
}

func TestFailedInvoiceLeavesStockUntouched(t *testing.T) {
	f := newFixture(t, profile())
	f.invoices.insertErr = errors.New("insert boom")

	_, err := f.svc.GenerateInvoice(cashier(), GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "82500"})
	require.ErrorIs(t, err, ErrInvoiceFailed)
	require.Empty(t, f.ledger.consumed)
	require.InDelta(t, 10.0, f.ledger.stock["ESPRESSO_SHOT"], 1e-9)
	require.InDelta(t, 5.0, f.ledger.stock["WATER"], 1e-9)

	f.invoices.insertErr = nil
	inv, err := f.svc.GenerateInvoice(cashier(), GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "82500"})
	require.NoError(t, err)
	require.Len(t, f.ledger.consumed, 1)
	require.InDelta(t, 7.0, f.ledger.stock["ESPRESSO_SHOT"], 1e-9)
	require.Equal(t, inv.ID, f.orders.orders["ORD-1"].Invoice)
}

func TestInvoiceConflictIsValidationError(t *testing.T) {
	f := newFixture(t, profile())
	f.invoices.insertErr = shared.Conflictf("concurrent update (sqlstate 40001)")

	_, err := f.svc.GenerateInvoice(cashier(), GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "82500"})
	require.True(t, shared.IsValidation(err))
	require.NotErrorIs(t, err, ErrInvoiceFailed)
	require.Empty(t, f.ledger.consumed)
}

func TestGenerateInvoiceRejectsConcurrentAttempt(t *testing.T) {
	f := newFixture(t, profile())
	require.NoError(t, f.redis.Set(shared.InvoiceLockKey("ORD-1"), "other"))

	_, err := f.svc.GenerateInvoice(cashier(), GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "82500"})
	require.True(t, shared.IsValidation(err))
	require.ErrorContains(t, err, "already being generated")
}

type noGrandTotal struct{}

func (noGrandTotal) SetMissingValues(context.Context, *Invoice, settings.Context) error { return nil }
func (noGrandTotal) CalculateTaxesAndTotals(context.Context, *Invoice, settings.Context) error {
	return nil
}

func TestGenerateInvoiceFallsBackToPaymentAmount(t *testing.T) {
	cfg := profile()
	cfg.Profile.UpdateStock = false
	f := newFixture(t, cfg)
	f.svc.totals = noGrandTotal{}

	inv, err := f.svc.GenerateInvoice(cashier(), GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Card", Amount: "50000"})
	require.NoError(t, err)
	require.False(t, inv.GrandTotal.Valid)
	require.True(t, inv.OutstandingAmount.IsZero())
	require.Equal(t, StatusPaid, inv.Status)
	require.Empty(t, f.ledger.consumed)
}

func TestStockPublishFailureIsQueued(t *testing.T) {
	f := newFixture(t, profile())
	f.publisher.fail = true

	inv, err := f.svc.GenerateInvoice(cashier(), GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "82500"})
	require.NoError(t, err)
	require.NotEmpty(t, inv.ID)
	require.Len(t, f.fallback.payloads, 4)
	require.InDelta(t, 4, f.fallback.payloads[3].ActualQty, 1e-9)
}

func TestProcessPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t, profile())
	ctx := cashier()

	inv, err := f.svc.GenerateInvoice(ctx, GenerateRequest{OrderID: "ORD-1", ModeOfPayment: "Cash", Amount: "50000"})
	require.NoError(t, err)
	require.Equal(t, StatusPartlyPaid, inv.Status)
	require.True(t, inv.OutstandingAmount.Equal(dec("32500")))

	res, err := f.svc.ProcessPayment(ctx, inv.ID, "Card", "32499.97")
	require.NoError(t, err)
	require.False(t, res.AlreadyPaid)
	require.Equal(t, StatusPaid, res.Invoice.Status)
	require.Len(t, res.Invoice.Payments, 2)

	res, err = f.svc.ProcessPayment(ctx, inv.ID, "Card", "32499.97")
	require.NoError(t, err)
	require.True(t, res.AlreadyPaid)
	require.Equal(t, "already paid", res.Message)
	stored, _ := f.invoices.GetInvoice(ctx, inv.ID)
	require.Len(t, stored.Payments, 2)

	_, err = f.svc.ProcessPayment(ctx, "missing", "Cash", "1")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
