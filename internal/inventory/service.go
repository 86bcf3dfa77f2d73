package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error)
	GetBalance(ctx context.Context, warehouse, itemCode string) (Balance, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	allowNeg    bool
	notifier    MovementNotifier
	boms        BOMSource
	items       ItemLister
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	Notifier           MovementNotifier
	BOMs               BOMSource
	Items              ItemLister
	Logger             *slog.Logger
	Clock              func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		allowNeg:    cfg.AllowNegativeStock,
		notifier:    cfg.Notifier,
		boms:        cfg.BOMs,
		items:       cfg.Items,
		logger:      logger,
		now:         now,
	}
}

// ActualQty returns the bin quantity of the item, zero when no bin exists.
func (s *Service) ActualQty(ctx context.Context, itemCode, warehouse string) (float64, error) {
	if itemCode == "" || warehouse == "" {
		return 0, nil
	}
	bal, err := s.repo.GetBalance(ctx, warehouse, itemCode)
	if errors.Is(err, ErrBalanceNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal.Qty, nil
}

// PostInbound posts an inbound movement (e.g. purchase receipt).
func (s *Service) PostInbound(ctx context.Context, input InboundInput) (StockCardEntry, error) {
	if input.Warehouse == "" || input.ItemCode == "" {
		return StockCardEntry{}, shared.Validationf("warehouse and item required")
	}
	if input.Qty <= 0 {
		return StockCardEntry{}, ErrInvalidQuantity
	}
	if input.UnitCost < 0 {
		return StockCardEntry{}, ErrInvalidUnitCost
	}
	return s.postSingle(ctx, movementParams{
		Code:      input.Code,
		Warehouse: input.Warehouse,
		ItemCode:  input.ItemCode,
		QtyChange: input.Qty,
		UnitCost:  input.UnitCost,
		TxType:    TransactionTypeReceipt,
		Note:      input.Note,
		ActorID:   input.ActorID,
		RefModule: input.RefModule,
		RefID:     input.RefID,
	})
}

// PostAdjustment posts an adjustment which may be positive or negative.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (StockCardEntry, error) {
	if input.Warehouse == "" || input.ItemCode == "" {
		return StockCardEntry{}, shared.Validationf("warehouse and item required")
	}
	if math.Abs(input.Qty) < 1e-9 {
		return StockCardEntry{}, ErrInvalidQuantity
	}
	if input.Qty > 0 && input.UnitCost < 0 {
		return StockCardEntry{}, ErrInvalidUnitCost
	}
	return s.postSingle(ctx, movementParams{
		Code:      input.Code,
		Warehouse: input.Warehouse,
		ItemCode:  input.ItemCode,
		QtyChange: input.Qty,
		UnitCost:  input.UnitCost,
		TxType:    TransactionTypeAdjust,
		Note:      input.Note,
		ActorID:   input.ActorID,
		RefModule: input.RefModule,
		RefID:     input.RefID,
	})
}

// PostTransfer moves stock between warehouses using OUT + IN legs.
func (s *Service) PostTransfer(ctx context.Context, input TransferInput) (StockCardEntry, StockCardEntry, error) {
	if input.SrcWarehouse == "" || input.DstWarehouse == "" || input.ItemCode == "" {
		return StockCardEntry{}, StockCardEntry{}, shared.Validationf("warehouse and item required")
	}
	if input.SrcWarehouse == input.DstWarehouse {
		return StockCardEntry{}, StockCardEntry{}, shared.Validationf("source and destination warehouse must differ")
	}
	if input.Qty <= 0 {
		return StockCardEntry{}, StockCardEntry{}, ErrInvalidQuantity
	}
	if input.UnitCost < 0 {
		return StockCardEntry{}, StockCardEntry{}, ErrInvalidUnitCost
	}
	code := input.Code
	if code == "" {
		code = fmt.Sprintf("TRF-%d", s.now().UnixNano())
	}
	outCard, err := s.postSingle(ctx, movementParams{
		Code:      code + "-OUT",
		Warehouse: input.SrcWarehouse,
		ItemCode:  input.ItemCode,
		QtyChange: -input.Qty,
		UnitCost:  input.UnitCost,
		TxType:    TransactionTypeTransfer,
		Note:      fmt.Sprintf("Transfer to %s: %s", input.DstWarehouse, input.Note),
		ActorID:   input.ActorID,
		RefModule: input.RefModule,
		RefID:     input.RefID,
	})
	if err != nil {
		return StockCardEntry{}, StockCardEntry{}, err
	}
	inCard, err := s.postSingle(ctx, movementParams{
		Code:      code + "-IN",
		Warehouse: input.DstWarehouse,
		ItemCode:  input.ItemCode,
		QtyChange: input.Qty,
		UnitCost:  outCard.UnitCost,
		TxType:    TransactionTypeTransfer,
		Note:      fmt.Sprintf("Transfer from %s: %s", input.SrcWarehouse, input.Note),
		ActorID:   input.ActorID,
		RefModule: input.RefModule,
		RefID:     input.RefID,
	})
	if err != nil {
		return StockCardEntry{}, StockCardEntry{}, err
	}
	return outCard, inCard, nil
}

// PostConsumption posts one consumption document per source warehouse with
// every row of that warehouse. All documents commit together or not at all.
// A reference already consumed from a warehouse returns the existing code.
func (s *Service) PostConsumption(ctx context.Context, input ConsumptionInput) ([]string, error) {
	if input.RefID == "" {
		return nil, shared.Validationf("consumption reference required")
	}
	groups := map[string][]ConsumptionRow{}
	var warehouses []string
	for _, row := range input.Rows {
		if row.Qty <= 0 || row.ItemCode == "" {
			continue
		}
		if row.Warehouse == "" {
			return nil, shared.Validationf("no source warehouse for component %s", row.ItemCode)
		}
		if _, ok := groups[row.Warehouse]; !ok {
			warehouses = append(warehouses, row.Warehouse)
		}
		groups[row.Warehouse] = append(groups[row.Warehouse], row)
	}
	if len(warehouses) == 0 {
		return nil, nil
	}
	sort.Strings(warehouses)

	now := s.now().UTC()
	var codes []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, wh := range warehouses {
			existing, err := tx.FindByReference(ctx, TransactionTypeConsumption, input.RefID, wh)
			if err == nil {
				codes = append(codes, existing.Code)
				continue
			}
			if !errors.Is(err, ErrTransactionNotFound) {
				return err
			}
			header := Transaction{
				ID:        uuid.NewString(),
				Code:      fmt.Sprintf("MC-%s-%d", input.RefID, i+1),
				Type:      TransactionTypeConsumption,
				Warehouse: wh,
				RefModule: input.RefModule,
				RefID:     input.RefID,
				Note:      input.Note,
				PostedAt:  now,
				CreatedBy: input.ActorID,
			}
			if err := s.applyDocument(ctx, tx, header, mergeRows(groups[wh])); err != nil {
				return err
			}
			codes = append(codes, header.Code)
		}
		return nil
	})
	if err != nil {
		return nil, concurrentStock(err)
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "inventory:consumption",
		Entity:   input.RefModule,
		EntityID: input.RefID,
		Meta:     map[string]any{"entries": codes},
	})
	return codes, nil
}

// GetStockCard lists stock card entries.
func (s *Service) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if filter.Warehouse == "" || filter.ItemCode == "" {
		return nil, shared.Validationf("warehouse and item required")
	}
	return s.repo.GetStockCard(ctx, filter)
}

// CheckSufficiency verifies every requirement, summed per item and
// warehouse, is covered by bin quantity. The first short item in input
// order is named in the validation error.
func (s *Service) CheckSufficiency(ctx context.Context, reqs []Requirement) error {
	if s.allowNeg {
		return nil
	}
	type key struct{ item, wh string }
	totals := map[key]float64{}
	var order []key
	for _, r := range reqs {
		if r.Qty <= 0 {
			continue
		}
		k := key{r.ItemCode, r.Warehouse}
		if _, ok := totals[k]; !ok {
			order = append(order, k)
		}
		totals[k] += r.Qty
	}
	for _, k := range order {
		available, err := s.ActualQty(ctx, k.item, k.wh)
		if err != nil {
			return err
		}
		if available+1e-9 < totals[k] {
			return insufficient(k.item, k.wh, totals[k], available)
		}
	}
	return nil
}

func insufficient(item, warehouse string, required, available float64) error {
	return fmt.Errorf("%w: %w: insufficient stock for %s in %s: required %g, available %g",
		shared.ErrValidation, ErrNegativeStock, item, warehouse, required, available)
}

type movementParams struct {
	Code      string
	Warehouse string
	ItemCode  string
	QtyChange float64
	UnitCost  float64
	TxType    TransactionType
	Note      string
	ActorID   string
	RefModule string
	RefID     string
}

func (s *Service) postSingle(ctx context.Context, params movementParams) (StockCardEntry, error) {
	if params.QtyChange == 0 {
		return StockCardEntry{}, ErrInvalidQuantity
	}
	now := s.now().UTC()
	code := params.Code
	if code == "" {
		code = fmt.Sprintf("STE-%d", now.UnixNano())
	}
	key := fmt.Sprintf("%s:%s:%s:%s", params.TxType, code, params.Warehouse, params.ItemCode)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return StockCardEntry{}, err
		}
		insertedKey = true
	}

	header := Transaction{
		ID:        uuid.NewString(),
		Code:      code,
		Type:      params.TxType,
		Warehouse: params.Warehouse,
		RefModule: params.RefModule,
		RefID:     params.RefID,
		Note:      params.Note,
		PostedAt:  now,
		CreatedBy: params.ActorID,
	}
	var card StockCardEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertTransaction(ctx, header); err != nil {
			return err
		}
		var err error
		card, err = s.applyLine(ctx, tx, header, params.ItemCode, params.QtyChange, params.UnitCost)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return StockCardEntry{}, concurrentStock(err)
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  params.ActorID,
		Action:   fmt.Sprintf("inventory:%s", params.TxType),
		Entity:   "stock_entry",
		EntityID: code,
		Meta: map[string]any{
			"warehouse": params.Warehouse,
			"item_code": params.ItemCode,
			"qty":       params.QtyChange,
			"note":      params.Note,
		},
	})
	if s.notifier != nil {
		shared.BestEffort(s.logger, "inventory.notify", func() error {
			s.notifier.MovementPosted(ctx, MovementPostedEvent{
				Code:       code,
				Type:       params.TxType,
				Warehouse:  params.Warehouse,
				ItemCode:   params.ItemCode,
				Qty:        params.QtyChange,
				BalanceQty: card.BalanceQty,
				PostedAt:   now,
			})
			return nil
		})
	}
	return card, nil
}

// concurrentStock reports a bin write lost to a concurrent posting as a
// validation failure the caller can retry.
func concurrentStock(err error) error {
	if shared.IsConflict(err) {
		return shared.Validationf("stock changed by a concurrent posting, reload and retry")
	}
	return err
}

func (s *Service) applyDocument(ctx context.Context, tx TxRepository, header Transaction, rows []ConsumptionRow) error {
	if err := tx.InsertTransaction(ctx, header); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := s.applyLine(ctx, tx, header, row.ItemCode, -row.Qty, 0); err != nil {
			return err
		}
	}
	return nil
}

// applyLine moves one item inside an open transaction using moving average
// cost and writes the line, the bin and the ledger entry.
func (s *Service) applyLine(ctx context.Context, tx TxRepository, header Transaction, item string, qtyChange, cost float64) (StockCardEntry, error) {
	balance, err := tx.GetBalanceForUpdate(ctx, header.Warehouse, item)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return StockCardEntry{}, err
	}
	if errors.Is(err, ErrBalanceNotFound) {
		balance = Balance{Warehouse: header.Warehouse, ItemCode: item}
	}
	newQty := balance.Qty + qtyChange
	if !s.allowNeg && newQty < -0.0001 {
		return StockCardEntry{}, insufficient(item, header.Warehouse, -qtyChange, balance.Qty)
	}
	var unitCost, newAvg float64
	if qtyChange > 0 {
		unitCost = cost
		totalCost := balance.Qty*balance.AvgCost + qtyChange*unitCost
		if newQty != 0 {
			newAvg = totalCost / newQty
		}
	} else {
		unitCost = balance.AvgCost
		if math.Abs(newQty) < 0.0001 {
			newQty = 0
		}
		if newQty > 0 {
			newAvg = balance.AvgCost
		}
	}
	line := TransactionLine{TransactionID: header.ID, ItemCode: item, Qty: qtyChange, UnitCost: unitCost}
	if qtyChange < 0 {
		line.SrcWarehouse = header.Warehouse
	} else {
		line.DstWarehouse = header.Warehouse
	}
	if err := tx.InsertTransactionLines(ctx, header.ID, []TransactionLine{line}); err != nil {
		return StockCardEntry{}, err
	}
	balance.Qty = newQty
	balance.AvgCost = newAvg
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return StockCardEntry{}, err
	}
	card := StockCardEntry{
		TxCode:      header.Code,
		TxType:      header.Type,
		ItemCode:    item,
		Warehouse:   header.Warehouse,
		PostedAt:    header.PostedAt,
		QtyIn:       math.Max(qtyChange, 0),
		QtyOut:      math.Max(-qtyChange, 0),
		BalanceQty:  newQty,
		UnitCost:    unitCost,
		BalanceCost: newAvg,
		Note:        header.Note,
	}
	if err := tx.InsertCardEntry(ctx, card, header.ID); err != nil {
		return StockCardEntry{}, err
	}
	return card, nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	shared.BestEffort(s.logger, "inventory.audit", func() error {
		return s.audit.Record(ctx, log)
	})
}

// mergeRows sums rows of the same item, keeping first-seen order.
func mergeRows(rows []ConsumptionRow) []ConsumptionRow {
	index := map[string]int{}
	out := make([]ConsumptionRow, 0, len(rows))
	for _, r := range rows {
		if i, ok := index[r.ItemCode]; ok {
			out[i].Qty += r.Qty
			continue
		}
		index[r.ItemCode] = len(out)
		out = append(out, r)
	}
	return out
}
