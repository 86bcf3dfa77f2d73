package pos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-pos/odyssey-pos/internal/billing"
	"github.com/odyssey-pos/odyssey-pos/internal/floor"
	"github.com/odyssey-pos/odyssey-pos/internal/inventory"
	"github.com/odyssey-pos/odyssey-pos/internal/kitchen"
	"github.com/odyssey-pos/odyssey-pos/internal/pricing"
	"github.com/odyssey-pos/odyssey-pos/internal/rbac"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

type grantStore map[string][]string

func (g grantStore) EffectivePermissions(_ context.Context, user string) ([]string, error) {
	return g[user], nil
}
func (grantStore) ListPermissions(context.Context) ([]rbac.Permission, error) { return nil, nil }
func (grantStore) EnsurePermission(_ context.Context, name, _ string) (rbac.Permission, error) {
	return rbac.Permission{Name: name}, nil
}

// fakeFloor implements the calls under test; anything else panics on the
// nil embedded interface.
type fakeFloor struct {
	Floor
	orders   map[string]floor.Order
	released []string
	created  floor.CreateOrderInput
}

func (f *fakeFloor) GetOrder(_ context.Context, id string) (floor.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return floor.Order{}, shared.NotFoundf("order %s", id)
	}
	return o, nil
}

func (f *fakeFloor) ReleaseTableIfDone(_ context.Context, id string) (floor.ReleaseResult, error) {
	f.released = append(f.released, id)
	return floor.ReleaseResult{Table: "T1", Message: "table released"}, nil
}

func (f *fakeFloor) CreateOrder(_ context.Context, in floor.CreateOrderInput) (floor.Order, error) {
	f.created = in
	return floor.Order{ID: "ORD-9", Branch: in.Branch, Profile: in.Profile, Type: in.Type, Lines: in.Lines}, nil
}

func (f *fakeFloor) SetTableStatus(_ context.Context, name string, to floor.TableStatus, _ string) (floor.Table, error) {
	return floor.Table{Name: name, Status: to}, nil
}

type fakeBilling struct {
	req     billing.GenerateRequest
	err     error
	status  string
	payment billing.PaymentResult
}

func (f *fakeBilling) GenerateInvoice(_ context.Context, req billing.GenerateRequest) (billing.Invoice, error) {
	f.req = req
	if f.err != nil {
		return billing.Invoice{}, f.err
	}
	return billing.Invoice{ID: "SI-1", Order: req.OrderID, Status: f.status}, nil
}

func (f *fakeBilling) ProcessPayment(context.Context, string, string, string) (billing.PaymentResult, error) {
	return f.payment, nil
}

func (f *fakeBilling) GetInvoice(_ context.Context, id string) (billing.Invoice, error) {
	return billing.Invoice{}, shared.NotFoundf("sales invoice %s", id)
}

type fakeSettings struct {
	restaurant settings.Restaurant
	profile    settings.Profile
}

func (f fakeSettings) Context(_ context.Context, name string) (settings.Context, error) {
	if name != f.profile.Name {
		return settings.Context{}, settings.ErrProfileNotFound
	}
	return settings.Context{Profile: f.profile, Restaurant: f.restaurant}, nil
}

func (f fakeSettings) Restaurant(context.Context) (settings.Restaurant, error) {
	return f.restaurant, nil
}

func (fakeSettings) Invalidate(context.Context, string) error { return nil }

type fakePricing map[string]string

func (f fakePricing) ResolveRate(_ context.Context, item, list, _ string) (pricing.Rate, error) {
	v, ok := f[item+"@"+list]
	if !ok {
		return pricing.Rate{}, pricing.ErrPriceNotFound
	}
	return pricing.Rate{Rate: decimal.RequireFromString(v), Source: pricing.SourcePriceList}, nil
}

type fakeKitchen struct{ Kitchen }

type fakeStock struct {
	Stock
	receipts []inventory.InboundInput
}

func (s *fakeStock) PostInbound(_ context.Context, in inventory.InboundInput) (inventory.StockCardEntry, error) {
	if in.Qty <= 0 {
		return inventory.StockCardEntry{}, inventory.ErrInvalidQuantity
	}
	s.receipts = append(s.receipts, in)
	return inventory.StockCardEntry{ItemCode: in.ItemCode, Warehouse: in.Warehouse, QtyIn: in.Qty, BalanceQty: in.Qty}, nil
}

type env struct {
	router  chi.Router
	floor   *fakeFloor
	billing *fakeBilling
	stock   *fakeStock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		floor:   &fakeFloor{orders: map[string]floor.Order{"ORD-1": {ID: "ORD-1", Profile: "Main"}}},
		billing: &fakeBilling{status: billing.StatusPaid},
		stock:   &fakeStock{},
	}
	grants := grantStore{
		"cashier@odyssey": shared.POSScopes(),
		"waiter@odyssey":  {shared.PermOrderView, shared.PermOrderEdit},
	}
	h := NewHandler(Deps{
		Floor:   e.floor,
		Billing: e.billing,
		Kitchen: fakeKitchen{},
		Stock:   e.stock,
		Pricing: fakePricing{"LATTE@Retail": "30000", "LATTE@Online": "32000"},
		Settings: fakeSettings{
			restaurant: settings.Restaurant{AutoReleaseTable: true},
			profile: settings.Profile{Name: "Main", PriceList: "Retail",
				ChannelPriceLists: map[string]string{"online": "Online"}},
		},
		RBAC: rbac.Middleware{Service: rbac.NewService(grants)},
	})
	r := chi.NewRouter()
	r.Route("/api/pos", h.MountRoutes)
	e.router = r
	return e
}

func (e *env) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUser, user)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestRequestsNeedAnActor(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/pos/orders/ORD-1", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/pos/orders/ORD-1", "waiter@odyssey", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateInvoiceReleasesTableWhenPaid(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/pos/orders/ORD-1/invoice", "cashier@odyssey",
		`{"mode_of_payment":"Cash","amount":82500.50}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "82500.50", e.billing.req.Amount)
	require.Equal(t, "ORD-1", e.billing.req.OrderID)
	require.Equal(t, []string{"ORD-1"}, e.floor.released)

	var body struct {
		Invoice      billing.Invoice     `json:"invoice"`
		TableRelease floor.ReleaseResult `json:"table_release"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "SI-1", body.Invoice.ID)
	require.Equal(t, "T1", body.TableRelease.Table)
}

func TestPartlyPaidInvoiceKeepsTable(t *testing.T) {
	e := newEnv(t)
	e.billing.status = billing.StatusPartlyPaid
	rec := e.do(t, http.MethodPost, "/api/pos/orders/ORD-1/invoice", "cashier@odyssey",
		`{"mode_of_payment":"Cash","amount":"1000"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Empty(t, e.floor.released)
}

func TestAlreadyPaidPaymentDoesNotReleaseAgain(t *testing.T) {
	e := newEnv(t)
	e.billing.payment = billing.PaymentResult{
		Invoice:     billing.Invoice{ID: "SI-1", Order: "ORD-1", Status: billing.StatusPaid},
		AlreadyPaid: true,
		Message:     "already paid",
	}
	rec := e.do(t, http.MethodPost, "/api/pos/invoices/SI-1/payments", "cashier@odyssey",
		`{"mode_of_payment":"Card","amount":"10"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"already_paid":true`)
	require.Empty(t, e.floor.released)
}

func TestInvoiceErrorsMapToStatus(t *testing.T) {
	e := newEnv(t)

	e.billing.err = fmt.Errorf("%w: %w", billing.ErrInvoiceFailed, fmt.Errorf("insert: deadlock detected"))
	rec := e.do(t, http.MethodPost, "/api/pos/orders/ORD-1/invoice", "cashier@odyssey",
		`{"mode_of_payment":"Cash","amount":"10"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to generate invoice: insert: deadlock detected")

	e.billing.err = shared.Validationf("insufficient stock for MILK in Stores")
	rec = e.do(t, http.MethodPost, "/api/pos/orders/ORD-1/invoice", "cashier@odyssey",
		`{"mode_of_payment":"Cash","amount":"10"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "MILK")

	rec = e.do(t, http.MethodPost, "/api/pos/orders/ORD-1/invoice", "cashier@odyssey", `{"amount":"10"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/pos/invoices/SI-404", "cashier@odyssey", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissionsGuardRoutes(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/pos/tables/T1/status", "waiter@odyssey", `{"status":"Reserved"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/pos/tables/T1/status", "cashier@odyssey", `{"status":"Reserved"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/pos/tables/T1/status", "cashier@odyssey", `{"status":"Dirty"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderPricesLinesFromChannel(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/pos/orders", "waiter@odyssey", `{
		"branch": "BR-1", "pos_profile": "Main", "order_type": "Take Away", "channel": "Online",
		"items": [
			{"item_code": "LATTE", "qty": 2, "pos_customizations": {"size": "Large"}},
			{"item_code": "WATER", "qty": 1, "rate": "5000"}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, floor.OrderTakeAway, e.floor.created.Type)
	require.Len(t, e.floor.created.Lines, 2)
	require.True(t, e.floor.created.Lines[0].Rate.Equal(decimal.RequireFromString("32000")))
	require.JSONEq(t, `{"size":"Large"}`, string(e.floor.created.Lines[0].Customizations))
	require.True(t, e.floor.created.Lines[1].Rate.Equal(decimal.RequireFromString("5000")))

	rec = e.do(t, http.MethodPost, "/api/pos/orders", "waiter@odyssey",
		`{"branch":"BR-1","pos_profile":"Main","order_type":"Drive Thru"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/pos/orders", "waiter@odyssey",
		`{"branch":"BR-1","pos_profile":"Ghost"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/pos/orders", "waiter@odyssey",
		`{"branch":"BR-1","pos_profile":"Main","items":[{"item_code":"LATTE","qty":0}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderAcceptsCounterAndKiosk(t *testing.T) {
	e := newEnv(t)
	for _, typ := range []floor.OrderType{floor.OrderCounter, floor.OrderKiosk} {
		rec := e.do(t, http.MethodPost, "/api/pos/orders", "waiter@odyssey",
			`{"branch":"BR-1","pos_profile":"Main","order_type":"`+string(typ)+`","items":[{"item_code":"WATER","qty":1,"rate":"5000"}]}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		require.Equal(t, typ, e.floor.created.Type)
	}
}

func TestKitchenStateIsValidated(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/pos/kot/items/state", "cashier@odyssey",
		`{"items":["KI-1"],"state":"Burnt"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown kitchen state")

	_, err := parseState(string(kitchen.StateReady))
	require.NoError(t, err)
}

func TestStockReceiptRecordsActor(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/pos/stock/receipts", "cashier@odyssey",
		`{"warehouse":"Stores","item_code":"MILK","qty":1000,"unit_cost":18}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, e.stock.receipts, 1)
	require.Equal(t, "cashier@odyssey", e.stock.receipts[0].ActorID)
	require.Equal(t, "pos_stock", e.stock.receipts[0].RefModule)

	rec = e.do(t, http.MethodPost, "/api/pos/stock/receipts", "cashier@odyssey",
		`{"warehouse":"Stores","item_code":"MILK","qty":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/pos/stock/receipts", "waiter@odyssey",
		`{"warehouse":"Stores","item_code":"MILK","qty":5}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
