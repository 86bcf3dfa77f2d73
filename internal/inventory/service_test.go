package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

type memoryRepo struct {
	balances map[string]Balance
	cards    []StockCardEntry
	headers  []Transaction
	lines    []TransactionLine
	lockErr  error
}

type memoryTx struct {
	repo     *memoryRepo
	balances map[string]Balance
	cards    []StockCardEntry
	headers  []Transaction
	lines    []TransactionLine
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[string]Balance)}
}

func key(warehouse, item string) string {
	return warehouse + "|" + item
}

// WithTx stages writes and only applies them when fn succeeds.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, balances: map[string]Balance{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for k, v := range tx.balances {
		r.balances[k] = v
	}
	r.cards = append(r.cards, tx.cards...)
	r.headers = append(r.headers, tx.headers...)
	r.lines = append(r.lines, tx.lines...)
	return nil
}

func (r *memoryRepo) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	var out []StockCardEntry
	for _, c := range r.cards {
		if c.Warehouse == filter.Warehouse && c.ItemCode == filter.ItemCode {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetBalance(ctx context.Context, warehouse, item string) (Balance, error) {
	if bal, ok := r.balances[key(warehouse, item)]; ok {
		return bal, nil
	}
	return Balance{Warehouse: warehouse, ItemCode: item}, ErrBalanceNotFound
}

func (r *memoryRepo) set(warehouse, item string, qty float64) {
	r.balances[key(warehouse, item)] = Balance{Warehouse: warehouse, ItemCode: item, Qty: qty}
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, h Transaction) error {
	tx.headers = append(tx.headers, h)
	return nil
}

func (tx *memoryTx) InsertTransactionLines(ctx context.Context, txID string, lines []TransactionLine) error {
	tx.lines = append(tx.lines, lines...)
	return nil
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, warehouse, item string) (Balance, error) {
	if tx.repo.lockErr != nil {
		return Balance{}, tx.repo.lockErr
	}
	if bal, ok := tx.balances[key(warehouse, item)]; ok {
		return bal, nil
	}
	return tx.repo.GetBalance(ctx, warehouse, item)
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance Balance) error {
	tx.balances[key(balance.Warehouse, balance.ItemCode)] = balance
	return nil
}

func (tx *memoryTx) InsertCardEntry(ctx context.Context, card StockCardEntry, txID string) error {
	tx.cards = append(tx.cards, card)
	return nil
}

func (tx *memoryTx) FindByReference(ctx context.Context, txType TransactionType, refID, warehouse string) (Transaction, error) {
	for _, h := range append(tx.repo.headers, tx.headers...) {
		if h.Type == txType && h.RefID == refID && h.Warehouse == warehouse {
			return h, nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

type recordingNotifier struct {
	events []MovementPostedEvent
}

func (n *recordingNotifier) MovementPosted(_ context.Context, evt MovementPostedEvent) {
	n.events = append(n.events, evt)
}

func TestAverageMovingCost(t *testing.T) {
	repo := newMemoryRepo()
	notifier := &recordingNotifier{}
	svc := NewService(repo, nil, nil, ServiceConfig{Notifier: notifier})
	ctx := context.Background()

	entry, err := svc.PostInbound(ctx, InboundInput{Warehouse: "Stores", ItemCode: "BEANS", Qty: 10, UnitCost: 100000, Note: "PR#1"})
	require.NoError(t, err)
	require.InDelta(t, 10.0, entry.BalanceQty, 0.0001)
	require.InDelta(t, 100000.0, entry.BalanceCost, 0.01)

	entry, err = svc.PostInbound(ctx, InboundInput{Warehouse: "Stores", ItemCode: "BEANS", Qty: 5, UnitCost: 120000, Note: "PR#2"})
	require.NoError(t, err)
	require.InDelta(t, 15.0, entry.BalanceQty, 0.0001)
	require.InDelta(t, 106666.6667, entry.BalanceCost, 0.1)

	entry, err = svc.PostAdjustment(ctx, AdjustmentInput{Warehouse: "Stores", ItemCode: "BEANS", Qty: -8, Note: "Spill"})
	require.NoError(t, err)
	require.InDelta(t, 7.0, entry.BalanceQty, 0.0001)
	require.InDelta(t, 106666.6667, entry.UnitCost, 0.1)

	require.Len(t, notifier.events, 3)
	require.InDelta(t, 7.0, notifier.events[2].BalanceQty, 0.0001)
}

func TestTransfer(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.PostInbound(ctx, InboundInput{Warehouse: "Stores", ItemCode: "MILK", Qty: 20, UnitCost: 50000})
	require.NoError(t, err)

	out, in, err := svc.PostTransfer(ctx, TransferInput{SrcWarehouse: "Stores", DstWarehouse: "Bar", ItemCode: "MILK", Qty: 5, UnitCost: 50000, Note: "Move"})
	require.NoError(t, err)
	require.InDelta(t, 15, out.BalanceQty, 0.0001)
	require.InDelta(t, 5, in.BalanceQty, 0.0001)

	_, _, err = svc.PostTransfer(ctx, TransferInput{SrcWarehouse: "Stores", DstWarehouse: "Bar", ItemCode: "MILK", Qty: 50, Note: "Too much"})
	require.Error(t, err)
	require.True(t, shared.IsValidation(err))
}

func TestNegativeStockGuard(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, ServiceConfig{})
	_, err := svc.PostAdjustment(context.Background(), AdjustmentInput{Warehouse: "Stores", ItemCode: "MILK", Qty: -1})
	require.ErrorIs(t, err, ErrNegativeStock)
	require.ErrorContains(t, err, "MILK")
}

func TestPostConsumptionBatchesPerWarehouse(t *testing.T) {
	repo := newMemoryRepo()
	repo.set("Kitchen", "MILK", 1000)
	repo.set("Kitchen", "ESPRESSO_SHOT", 10)
	repo.set("Bar", "SYRUP", 5)
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	input := ConsumptionInput{RefModule: "sales_invoice", RefID: "SINV-0001", Rows: []ConsumptionRow{
		{ItemCode: "MILK", Warehouse: "Kitchen", Qty: 150},
		{ItemCode: "ESPRESSO_SHOT", Warehouse: "Kitchen", Qty: 5},
		{ItemCode: "SYRUP", Warehouse: "Bar", Qty: 1},
		{ItemCode: "MILK", Warehouse: "Kitchen", Qty: 50},
		{ItemCode: "ICE", Warehouse: "Bar", Qty: 0},
	}}
	codes, err := svc.PostConsumption(ctx, input)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	require.Len(t, repo.headers, 2)
	for _, h := range repo.headers {
		require.Equal(t, TransactionTypeConsumption, h.Type)
	}

	qty, err := svc.ActualQty(ctx, "MILK", "Kitchen")
	require.NoError(t, err)
	require.InDelta(t, 800, qty, 1e-9)

	again, err := svc.PostConsumption(ctx, input)
	require.NoError(t, err)
	require.Equal(t, codes, again)
	require.Len(t, repo.headers, 2)
	qty, _ = svc.ActualQty(ctx, "MILK", "Kitchen")
	require.InDelta(t, 800, qty, 1e-9)
}

func TestPostConsumptionIsAtomic(t *testing.T) {
	repo := newMemoryRepo()
	repo.set("Bar", "SYRUP", 5)
	repo.set("Kitchen", "MILK", 10)
	svc := NewService(repo, nil, nil, ServiceConfig{})

	_, err := svc.PostConsumption(context.Background(), ConsumptionInput{RefID: "SINV-0002", Rows: []ConsumptionRow{
		{ItemCode: "SYRUP", Warehouse: "Bar", Qty: 1},
		{ItemCode: "MILK", Warehouse: "Kitchen", Qty: 200},
	}})
	require.True(t, shared.IsValidation(err))
	require.ErrorContains(t, err, "MILK")
	require.Empty(t, repo.headers)
	require.InDelta(t, 5, repo.balances[key("Bar", "SYRUP")].Qty, 1e-9)
}

func TestConcurrentPostingIsValidationError(t *testing.T) {
	repo := newMemoryRepo()
	repo.set("Kitchen", "MILK", 10)
	repo.lockErr = shared.Conflictf("concurrent update (sqlstate 40001)")
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.PostConsumption(ctx, ConsumptionInput{RefID: "ORD-9", Rows: []ConsumptionRow{
		{ItemCode: "MILK", Warehouse: "Kitchen", Qty: 1},
	}})
	require.True(t, shared.IsValidation(err))
	require.False(t, shared.IsConflict(err))
	require.Empty(t, repo.headers)

	_, err = svc.PostAdjustment(ctx, AdjustmentInput{Warehouse: "Kitchen", ItemCode: "MILK", Qty: -1})
	require.True(t, shared.IsValidation(err))
}

func TestCheckSufficiencyNamesFirstShortItem(t *testing.T) {
	repo := newMemoryRepo()
	repo.set("Kitchen", "MILK", 100)
	repo.set("Kitchen", "BEANS", 1)
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	require.NoError(t, svc.CheckSufficiency(ctx, []Requirement{{ItemCode: "MILK", Warehouse: "Kitchen", Qty: 60}}))

	err := svc.CheckSufficiency(ctx, []Requirement{
		{ItemCode: "MILK", Warehouse: "Kitchen", Qty: 60},
		{ItemCode: "BEANS", Warehouse: "Kitchen", Qty: 2},
		{ItemCode: "MILK", Warehouse: "Kitchen", Qty: 60},
	})
	require.True(t, shared.IsValidation(err))
	require.ErrorContains(t, err, "MILK")
}
