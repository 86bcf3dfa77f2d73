package floor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	tables map[string]Table
	orders map[string]Order

	// saveOrderErr fails every SaveOrder when set.
	saveOrderErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{tables: map[string]Table{}, orders: map[string]Order{}}
}

func copyOrder(o Order) Order {
	o.Lines = append([]Line(nil), o.Lines...)
	return o
}

// WithTx restores tables and orders when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	r.mu.Lock()
	tables := make(map[string]Table, len(r.tables))
	for k, v := range r.tables {
		tables[k] = v
	}
	orders := make(map[string]Order, len(r.orders))
	for k, v := range r.orders {
		orders[k] = copyOrder(v)
	}
	r.mu.Unlock()
	if err := fn(ctx, r); err != nil {
		r.mu.Lock()
		r.tables, r.orders = tables, orders
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memoryRepo) GetTable(_ context.Context, name string) (Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[name]
	if !ok {
		return Table{}, ErrTableNotFound
	}
	return t, nil
}

func (r *memoryRepo) SaveTable(_ context.Context, t Table) (Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tables[t.Name]
	if !ok {
		return Table{}, ErrTableNotFound
	}
	if cur.Version != t.Version {
		return Table{}, shared.Conflictf("table %s changed since version %d", t.Name, t.Version)
	}
	t.Version++
	r.tables[t.Name] = t
	return t, nil
}

func (r *memoryRepo) ListTables(_ context.Context, branch string) ([]Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Table
	for _, t := range r.tables {
		if branch == "" || t.Branch == branch {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetOrder(_ context.Context, id string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r *memoryRepo) InsertOrder(_ context.Context, o Order) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.Version = 1
	r.orders[o.ID] = copyOrder(o)
	return o, nil
}

func (r *memoryRepo) SaveOrder(_ context.Context, o Order) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveOrderErr != nil {
		return Order{}, r.saveOrderErr
	}
	cur, ok := r.orders[o.ID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if cur.Version != o.Version {
		return Order{}, shared.Conflictf("order %s changed since version %d", o.ID, o.Version)
	}
	o.Version++
	r.orders[o.ID] = copyOrder(o)
	return copyOrder(o), nil
}

type panicHandler struct{}

func (panicHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (panicHandler) Handle(context.Context, slog.Record) error { panic("log sink down") }
func (h panicHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h panicHandler) WithGroup(string) slog.Handler           { return h }

func as(actor string) context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: actor, Branch: "BR-1"})
}

func seededService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	repo.tables["T1"] = Table{Name: "T1", Branch: "BR-1", Status: TableAvailable, Version: 1}
	repo.tables["T2"] = Table{Name: "T2", Branch: "BR-1", Status: TableAvailable, Version: 1}
	repo.orders["ORD-1"] = Order{
		ID: "ORD-1", Branch: "BR-1", Profile: "Main", Type: OrderDineIn, Status: OrderDraft, Version: 1,
		Lines: []Line{{ID: "L1", ItemCode: "LATTE", Qty: 2, Rate: decimal.NewFromInt(25000), Amount: decimal.NewFromInt(50000)}},
	}
	return NewService(repo, nil, ServiceConfig{}), repo
}

func TestStaleTableCopyIsRejected(t *testing.T) {
	svc, repo := seededService(t)
	ctx := context.Background()

	first, err := repo.GetTable(ctx, "T1")
	require.NoError(t, err)
	second, err := repo.GetTable(ctx, "T1")
	require.NoError(t, err)

	_, err = svc.ApplyTableStatus(ctx, first, TableOccupied, "ORD-1")
	require.NoError(t, err)

	_, err = svc.ApplyTableStatus(ctx, second, TableReserved, "")
	require.Error(t, err)
	require.True(t, shared.IsValidation(err))
	require.False(t, shared.IsConflict(err))
	require.Contains(t, err.Error(), "table T1 is already occupied")

	stored, err := repo.GetTable(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, TableOccupied, stored.Status)
	require.Equal(t, "ORD-1", stored.CurrentOrder)
	require.Equal(t, int64(2), stored.Version)
}

func TestConflictLoggingFailureKeepsDomainError(t *testing.T) {
	repo := newMemoryRepo()
	repo.tables["T1"] = Table{Name: "T1", Status: TableAvailable, Version: 1}
	svc := NewService(repo, nil, ServiceConfig{Logger: slog.New(panicHandler{})})
	ctx := context.Background()

	stale, _ := repo.GetTable(ctx, "T1")
	_, err := svc.SetTableStatus(ctx, "T1", TableReserved, "")
	require.NoError(t, err)

	_, err = svc.ApplyTableStatus(ctx, stale, TableOccupied, "ORD-9")
	require.Error(t, err)
	require.True(t, shared.IsValidation(err))
	require.Contains(t, err.Error(), "modified by another user")
}

func TestTableTransitionInvariant(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	_, err := svc.SetTableStatus(ctx, "T1", TableOccupied, "")
	require.True(t, shared.IsValidation(err))

	occupied, err := svc.SetTableStatus(ctx, "T1", TableOccupied, "ORD-1")
	require.NoError(t, err)
	require.Equal(t, "ORD-1", occupied.CurrentOrder)

	_, err = svc.SetTableStatus(ctx, "T1", TableOccupied, "ORD-2")
	require.ErrorContains(t, err, "table T1 is already occupied")

	freed, err := svc.SetTableStatus(ctx, "T1", TableAvailable, "")
	require.NoError(t, err)
	require.Empty(t, freed.CurrentOrder)

	_, err = svc.SetTableStatus(ctx, "missing", TableAvailable, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestClaimIsSingleWriter(t *testing.T) {
	svc, _ := seededService(t)

	claimed, err := svc.ClaimOrder(as("alice"), "ORD-1")
	require.NoError(t, err)
	require.Equal(t, OrderClaimed, claimed.Status)
	require.Equal(t, "alice", claimed.ClaimedBy)

	_, err = svc.ClaimOrder(as("bob"), "ORD-1")
	require.True(t, shared.IsPermission(err))

	_, err = svc.UpdateLineQty(as("bob"), "ORD-1", "L1", 5)
	require.True(t, shared.IsPermission(err))

	again, err := svc.ClaimOrder(as("alice"), "ORD-1")
	require.NoError(t, err)
	require.Equal(t, "alice", again.ClaimedBy)

	_, err = svc.ClaimOrder(context.Background(), "ORD-1")
	require.True(t, shared.IsPermission(err))
}

func TestLineMutationsKeepAmountInvariant(t *testing.T) {
	svc, repo := seededService(t)
	ctx := as("alice")

	line, err := svc.UpdateLineQty(ctx, "ORD-1", "L1", 3)
	require.NoError(t, err)
	require.True(t, line.Amount.Equal(decimal.NewFromInt(75000)))

	line, err = svc.UpdateLineRate(ctx, "ORD-1", "L1", decimal.RequireFromString("30000.50"))
	require.NoError(t, err)
	require.True(t, line.Amount.Equal(decimal.RequireFromString("90001.5")))

	added, err := svc.AddLine(ctx, "ORD-1", Line{ItemCode: "CROISSANT", Qty: 2, Rate: decimal.NewFromInt(18000)})
	require.NoError(t, err)
	require.True(t, added.Amount.Equal(decimal.NewFromInt(36000)))

	stored, _ := repo.GetOrder(context.Background(), "ORD-1")
	for _, l := range stored.Lines {
		require.True(t, l.Amount.Equal(l.Rate.Mul(decimal.NewFromFloat(l.Qty))), l.ItemCode)
	}

	_, err = svc.UpdateLineQty(ctx, "ORD-1", "L1", 0)
	require.True(t, shared.IsValidation(err))
	_, err = svc.UpdateLineQty(ctx, "ORD-1", "nope", 1)
	require.True(t, shared.IsValidation(err))
}

func TestRequestBillClaimsUnclaimedOrder(t *testing.T) {
	svc, _ := seededService(t)

	order, err := svc.RequestBill(as("alice"), "ORD-1")
	require.NoError(t, err)
	require.True(t, order.BillRequested)
	require.Equal(t, "alice", order.ClaimedBy)

	_, err = svc.RequestBill(as("bob"), "ORD-1")
	require.True(t, shared.IsPermission(err))
}

func TestReleaseTableIfDoneIsIdempotent(t *testing.T) {
	svc, repo := seededService(t)
	ctx := as("alice")

	_, err := svc.AssignTable(ctx, "ORD-1", "T1")
	require.NoError(t, err)

	_, err = svc.ReleaseTableIfDone(ctx, "ORD-1")
	require.True(t, shared.IsValidation(err))

	order := repo.orders["ORD-1"]
	order.Invoice = "SINV-0001"
	order.InvoiceStatus = InvoicePaid
	repo.orders["ORD-1"] = order

	res, err := svc.ReleaseTableIfDone(ctx, "ORD-1")
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, "T1", res.Table)

	table, _ := repo.GetTable(ctx, "T1")
	require.Equal(t, TableAvailable, table.Status)
	closed, _ := repo.GetOrder(ctx, "ORD-1")
	require.Equal(t, OrderClosed, closed.Status)

	res, err = svc.ReleaseTableIfDone(ctx, "ORD-1")
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestCreateOrderSeatsAndMerge(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	repo.tables["T1"] = Table{Name: "T1", Branch: "BR-1", Status: TableAvailable, Version: 1}
	repo.tables["T2"] = Table{Name: "T2", Branch: "BR-1", Status: TableAvailable, Version: 1}
	svc := NewService(repo, NewQueueNumbers(client), ServiceConfig{})
	ctx := as("alice")

	a, err := svc.CreateOrder(ctx, CreateOrderInput{Branch: "BR-1", Profile: "Main", Table: "T1",
		Lines: []Line{{ItemCode: "LATTE", Qty: 1, Rate: decimal.NewFromInt(25000)}}})
	require.NoError(t, err)
	require.Equal(t, int64(1), a.QueueNumber)
	require.Equal(t, "T1", a.Table)

	b, err := svc.CreateOrder(ctx, CreateOrderInput{Branch: "BR-1", Profile: "Main", Table: "T2",
		Lines: []Line{{ItemCode: "TEA", Qty: 2, Rate: decimal.NewFromInt(10000)}}})
	require.NoError(t, err)
	require.Equal(t, int64(2), b.QueueNumber)

	_, err = svc.CreateOrder(ctx, CreateOrderInput{Branch: "BR-1", Profile: "Main", Table: "T1"})
	require.ErrorContains(t, err, "table T1 is already occupied")

	merged, err := svc.MergeOrders(ctx, a.ID, []string{b.ID})
	require.NoError(t, err)
	require.Len(t, merged.Lines, 2)
	require.True(t, merged.Total().Equal(decimal.NewFromInt(45000)))

	source, _ := repo.GetOrder(ctx, b.ID)
	require.Equal(t, OrderMerged, source.Status)
	t2, _ := repo.GetTable(ctx, "T2")
	require.Equal(t, TableAvailable, t2.Status)

	_, err = svc.UpdateLineQty(ctx, b.ID, b.Lines[0].ID, 3)
	require.True(t, shared.IsValidation(err))
}

func TestAssignTableRollsBackWhenOrderSaveFails(t *testing.T) {
	svc, repo := seededService(t)
	ctx := as("alice")
	repo.saveOrderErr = shared.Conflictf("order ORD-1 changed since version 1")

	_, err := svc.AssignTable(ctx, "ORD-1", "T1")
	require.True(t, shared.IsValidation(err))

	t1, _ := repo.GetTable(ctx, "T1")
	require.Equal(t, TableAvailable, t1.Status)
	require.Empty(t, t1.CurrentOrder)
	order, _ := repo.GetOrder(ctx, "ORD-1")
	require.Empty(t, order.Table)

	repo.saveOrderErr = nil
	seated, err := svc.AssignTable(ctx, "ORD-1", "T1")
	require.NoError(t, err)
	require.Equal(t, "ORD-1", seated.CurrentOrder)
	order, _ = repo.GetOrder(ctx, "ORD-1")
	require.Equal(t, "T1", order.Table)
}

func TestCreateOrderLeavesNothingWhenSeatingFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.tables["T1"] = Table{Name: "T1", Branch: "BR-1", Status: TableAvailable, Version: 1}
	repo.saveOrderErr = shared.Conflictf("order changed")
	svc := NewService(repo, nil, ServiceConfig{})

	_, err := svc.CreateOrder(as("alice"), CreateOrderInput{Branch: "BR-1", Profile: "Main", Table: "T1",
		Lines: []Line{{ItemCode: "LATTE", Qty: 1, Rate: decimal.NewFromInt(25000)}}})
	require.Error(t, err)
	require.Empty(t, repo.orders)
	require.Equal(t, TableAvailable, repo.tables["T1"].Status)
}

func TestCreateOrderAcceptsEveryServiceMode(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, ServiceConfig{})
	for _, typ := range []OrderType{OrderDineIn, OrderTakeAway, OrderCounter, OrderKiosk, OrderDelivery} {
		order, err := svc.CreateOrder(as("alice"), CreateOrderInput{Branch: "BR-1", Profile: "Main", Type: typ,
			Lines: []Line{{ItemCode: "TEA", Qty: 1, Rate: decimal.NewFromInt(10000)}}})
		require.NoError(t, err, typ)
		require.Equal(t, typ, order.Type)
		require.True(t, typ.Valid())
	}
	require.False(t, OrderType("Drive Thru").Valid())
}

func TestQueueNumberResetsDaily(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(newMemoryRepo(), NewQueueNumbers(client), ServiceConfig{})
	ctx := context.Background()

	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	n, err := svc.NextQueueNumber(ctx, "BR-1", day)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = svc.NextQueueNumber(ctx, "BR-1", day.Add(3*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	other, err := svc.NextQueueNumber(ctx, "BR-2", day)
	require.NoError(t, err)
	require.Equal(t, int64(1), other)

	n, err = svc.NextQueueNumber(ctx, "BR-1", day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.Equal(t, queueKeyTTL, mr.TTL(QueueKey("BR-1", day)))
}
