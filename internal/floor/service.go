package floor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-pos/odyssey-pos/internal/realtime"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// Store reads and writes tables and orders. Save methods compare the
// version of the passed document and return shared.ErrConflict when the
// stored copy has moved on.
type Store interface {
	GetTable(ctx context.Context, name string) (Table, error)
	SaveTable(ctx context.Context, table Table) (Table, error)
	ListTables(ctx context.Context, branch string) ([]Table, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	InsertOrder(ctx context.Context, order Order) (Order, error)
	SaveOrder(ctx context.Context, order Order) (Order, error)
}

// Repository is a Store that can run several writes atomically.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ConflictRecorder counts rejected stale writes.
type ConflictRecorder interface {
	StaleConflict(entity string)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Publisher realtime.Publisher
	Audit     AuditPort
	Metrics   ConflictRecorder
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Service guards table and order state.
type Service struct {
	repo      Repository
	queue     *QueueNumbers
	publisher realtime.Publisher
	audit     AuditPort
	metrics   ConflictRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo Repository, queue *QueueNumbers, cfg ServiceConfig) *Service {
	s := &Service{
		repo:      repo,
		queue:     queue,
		publisher: cfg.Publisher,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Clock,
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

// CreateOrderInput describes a new order.
type CreateOrderInput struct {
	Branch   string
	Profile  string
	Type     OrderType
	Table    string
	Customer string
	Lines    []Line
}

// CreateOrder stores a draft order with today's queue number and occupies
// the table for dine-in orders.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	actor, err := actorID(ctx)
	if err != nil {
		return Order{}, err
	}
	if strings.TrimSpace(in.Branch) == "" || strings.TrimSpace(in.Profile) == "" {
		return Order{}, shared.Validationf("branch and pos profile are required")
	}
	if in.Type == "" {
		in.Type = OrderDineIn
	}
	if !in.Type.Valid() {
		return Order{}, shared.Validationf("unknown order type %q", in.Type)
	}
	if in.Table != "" && in.Type != OrderDineIn {
		return Order{}, shared.Validationf("only dine-in orders can be seated at a table")
	}
	lines, err := prepareLines(in.Lines)
	if err != nil {
		return Order{}, err
	}
	if in.Table != "" {
		table, err := s.getTable(ctx, s.repo, in.Table)
		if err != nil {
			return Order{}, err
		}
		if table.Status == TableOccupied {
			return Order{}, shared.Validationf("table %s is already occupied", table.Name)
		}
	}
	now := s.now()
	queue, err := s.NextQueueNumber(ctx, in.Branch, now)
	if err != nil {
		return Order{}, err
	}
	var (
		order   Order
		changed []Table
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		inserted, err := store.InsertOrder(ctx, Order{
			ID:          uuid.NewString(),
			Branch:      in.Branch,
			Profile:     in.Profile,
			Type:        in.Type,
			Customer:    in.Customer,
			Status:      OrderDraft,
			QueueNumber: queue,
			Lines:       lines,
			CreatedAt:   now,
			ModifiedAt:  now,
		})
		if err != nil {
			return err
		}
		if in.Table == "" {
			order = inserted
			return nil
		}
		if changed, err = s.seat(ctx, store, inserted, in.Table); err != nil {
			return err
		}
		order, err = s.getOrder(ctx, store, inserted.ID)
		return err
	})
	if err != nil {
		return Order{}, concurrentWrite(err)
	}
	s.publishTables(ctx, changed)
	s.record(ctx, actor, "pos_order:create", order.ID, map[string]any{"queue_number": queue, "table": in.Table})
	s.publish(ctx, realtime.EventOrderUpdated, order.Branch, order)
	return order, nil
}

func prepareLines(in []Line) ([]Line, error) {
	lines := make([]Line, 0, len(in))
	for _, l := range in {
		if strings.TrimSpace(l.ItemCode) == "" {
			return nil, shared.Validationf("item code is required on every line")
		}
		if l.Qty <= 0 {
			return nil, shared.Validationf("quantity for %s must be positive", l.ItemCode)
		}
		if l.Rate.IsNegative() {
			return nil, shared.Validationf("rate for %s cannot be negative", l.ItemCode)
		}
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		l.Recalculate()
		lines = append(lines, l)
	}
	return lines, nil
}

// GetOrder returns a stored order.
func (s *Service) GetOrder(ctx context.Context, id string) (Order, error) {
	return s.getOrder(ctx, s.repo, id)
}

// NextQueueNumber returns the next queue number of the branch for the day of now.
func (s *Service) NextQueueNumber(ctx context.Context, branch string, now time.Time) (int64, error) {
	return s.queue.Next(ctx, branch, now)
}

// ListTables lists the tables of a branch.
func (s *Service) ListTables(ctx context.Context, branch string) ([]Table, error) {
	return s.repo.ListTables(ctx, branch)
}

// SetTableStatus re-fetches the table and applies the transition.
func (s *Service) SetTableStatus(ctx context.Context, name string, to TableStatus, order string) (Table, error) {
	table, err := s.getTable(ctx, s.repo, name)
	if err != nil {
		return Table{}, err
	}
	return s.ApplyTableStatus(ctx, table, to, order)
}

// ApplyTableStatus transitions a fetched table and saves it. A snapshot that
// is no longer current is rejected, never written over the stored table.
func (s *Service) ApplyTableStatus(ctx context.Context, snapshot Table, to TableStatus, order string) (Table, error) {
	saved, err := s.applyTableStatus(ctx, s.repo, snapshot, to, order)
	if err != nil {
		return Table{}, err
	}
	if saved.Version != snapshot.Version {
		s.publish(ctx, realtime.EventTableUpdated, saved.Branch, saved)
	}
	return saved, nil
}

func (s *Service) applyTableStatus(ctx context.Context, store Store, snapshot Table, to TableStatus, order string) (Table, error) {
	table := snapshot
	if err := table.Transition(to, order); err != nil {
		switch {
		case errors.Is(err, ErrTableOccupied):
			return Table{}, shared.Validationf("table %s is already occupied", table.Name)
		case errors.Is(err, ErrOrderRequired):
			return Table{}, shared.Validationf("table %s cannot be occupied without an order", table.Name)
		default:
			return Table{}, shared.Validationf("table %s: invalid status %q", table.Name, to)
		}
	}
	if table.Status == snapshot.Status && table.CurrentOrder == snapshot.CurrentOrder {
		return snapshot, nil
	}
	saved, err := store.SaveTable(ctx, table)
	if err != nil {
		if shared.IsConflict(err) {
			return Table{}, s.tableConflict(ctx, store, table.Name, err)
		}
		return Table{}, err
	}
	return saved, nil
}

func (s *Service) tableConflict(ctx context.Context, store Store, name string, cause error) error {
	shared.BestEffort(s.logger, "floor.table_conflict", func() error {
		if s.metrics != nil {
			s.metrics.StaleConflict("table")
		}
		s.logger.Warn("stale table write rejected", slog.String("table", name), slog.Any("error", cause))
		return nil
	})
	current, err := store.GetTable(ctx, name)
	if err == nil && current.Status == TableOccupied {
		return shared.Validationf("table %s is already occupied", name)
	}
	return shared.Validationf("table %s was modified by another user, reload and retry", name)
}

// AssignTable seats a dine-in order at a table. The table and the order are
// written in one transaction.
func (s *Service) AssignTable(ctx context.Context, orderID, tableName string) (Table, error) {
	var changed []Table
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		order, err := s.getOrder(ctx, store, orderID)
		if err != nil {
			return err
		}
		changed, err = s.seat(ctx, store, order, tableName)
		return err
	})
	if err != nil {
		return Table{}, concurrentWrite(err)
	}
	s.publishTables(ctx, changed)
	return changed[0], nil
}

// seat occupies the table with the order, points the order at it and frees
// the table the order held before. The first returned table is the new seat.
func (s *Service) seat(ctx context.Context, store Store, order Order, tableName string) ([]Table, error) {
	if order.Type != OrderDineIn {
		return nil, shared.Validationf("order %s is %s and cannot be seated", order.ID, order.Type)
	}
	if order.Status.Terminal() {
		return nil, shared.Validationf("order %s is %s", order.ID, order.Status)
	}
	table, err := s.getTable(ctx, store, tableName)
	if err != nil {
		return nil, err
	}
	if table, err = s.applyTableStatus(ctx, store, table, TableOccupied, order.ID); err != nil {
		return nil, err
	}
	changed := []Table{table}
	if order.Table == table.Name {
		return changed, nil
	}
	previous := order.Table
	order.Table = table.Name
	if _, err := s.saveOrder(ctx, store, order); err != nil {
		return nil, err
	}
	if previous != "" {
		if freed, ok := s.releaseTable(ctx, store, previous, order.ID); ok {
			changed = append(changed, freed)
		}
	}
	return changed, nil
}

// EnsureEditable rejects mutations of closed orders and of orders claimed by
// another actor.
func EnsureEditable(order Order, actor string) error {
	if order.Status.Terminal() {
		return shared.Validationf("order %s is %s and can no longer be edited", order.ID, order.Status)
	}
	if order.ClaimedByOther(actor) {
		return shared.Permissionf("order %s is locked by %s", order.ID, order.ClaimedBy)
	}
	return nil
}

// ClaimOrder gives the acting user exclusive edit and payment rights.
func (s *Service) ClaimOrder(ctx context.Context, orderID string) (Order, error) {
	actor, err := actorID(ctx)
	if err != nil {
		return Order{}, err
	}
	order, err := s.getOrder(ctx, s.repo, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status.Terminal() {
		return Order{}, shared.Validationf("order %s is %s", order.ID, order.Status)
	}
	if order.ClaimedByOther(actor) {
		return Order{}, shared.Permissionf("order %s is already claimed by %s", order.ID, order.ClaimedBy)
	}
	claim(&order, actor, s.now())
	saved, err := s.saveOrder(ctx, s.repo, order)
	if err != nil {
		return Order{}, err
	}
	s.record(ctx, actor, "pos_order:claim", saved.ID, nil)
	s.publish(ctx, realtime.EventOrderUpdated, saved.Branch, saved)
	return saved, nil
}

// ReleaseClaim drops the acting user's claim.
func (s *Service) ReleaseClaim(ctx context.Context, orderID string) (Order, error) {
	actor, err := actorID(ctx)
	if err != nil {
		return Order{}, err
	}
	order, err := s.getOrder(ctx, s.repo, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.ClaimedBy == "" {
		return order, nil
	}
	if order.ClaimedByOther(actor) {
		return Order{}, shared.Permissionf("order %s is claimed by %s", order.ID, order.ClaimedBy)
	}
	order.ClaimedBy = ""
	order.ClaimedAt = nil
	if order.Status == OrderClaimed {
		order.Status = OrderDraft
	}
	return s.saveOrder(ctx, s.repo, order)
}

func claim(order *Order, actor string, now time.Time) {
	order.ClaimedBy = actor
	order.ClaimedAt = &now
	order.Status = OrderClaimed
}

// UpdateLine re-fetches the order, checks the claim, applies mutate to the
// line and saves the order with amount = qty * rate restored.
func (s *Service) UpdateLine(ctx context.Context, orderID, lineID string, mutate func(*Line) error) (Line, error) {
	actor, err := actorID(ctx)
	if err != nil {
		return Line{}, err
	}
	order, err := s.getOrder(ctx, s.repo, orderID)
	if err != nil {
		return Line{}, err
	}
	if err := EnsureEditable(order, actor); err != nil {
		return Line{}, err
	}
	line, ok := order.Line(lineID)
	if !ok {
		return Line{}, shared.Validationf("line %s not found on order %s", lineID, orderID)
	}
	if err := mutate(line); err != nil {
		return Line{}, err
	}
	line.Recalculate()
	saved, err := s.saveOrder(ctx, s.repo, order)
	if err != nil {
		return Line{}, err
	}
	s.publish(ctx, realtime.EventOrderUpdated, saved.Branch, saved)
	updated, _ := saved.Line(lineID)
	if updated == nil {
		return *line, nil
	}
	return *updated, nil
}

// UpdateLineQty changes the quantity of a line.
func (s *Service) UpdateLineQty(ctx context.Context, orderID, lineID string, qty float64) (Line, error) {
	if qty <= 0 {
		return Line{}, shared.Validationf("quantity must be positive")
	}
	return s.UpdateLine(ctx, orderID, lineID, func(l *Line) error {
		l.Qty = qty
		return nil
	})
}

// UpdateLineRate changes the unit rate of a line.
func (s *Service) UpdateLineRate(ctx context.Context, orderID, lineID string, rate decimal.Decimal) (Line, error) {
	if rate.IsNegative() {
		return Line{}, shared.Validationf("rate cannot be negative")
	}
	return s.UpdateLine(ctx, orderID, lineID, func(l *Line) error {
		l.Rate = rate
		return nil
	})
}

// AddLine appends a line to an editable order.
func (s *Service) AddLine(ctx context.Context, orderID string, line Line) (Line, error) {
	actor, err := actorID(ctx)
	if err != nil {
		return Line{}, err
	}
	prepared, err := prepareLines([]Line{line})
	if err != nil {
		return Line{}, err
	}
	order, err := s.getOrder(ctx, s.repo, orderID)
	if err != nil {
		return Line{}, err
	}
	if err := EnsureEditable(order, actor); err != nil {
		return Line{}, err
	}
	order.Lines = append(order.Lines, prepared[0])
	saved, err := s.saveOrder(ctx, s.repo, order)
	if err != nil {
		return Line{}, err
	}
	s.publish(ctx, realtime.EventOrderUpdated, saved.Branch, saved)
	return prepared[0], nil
}

// RequestBill flags the order for billing, claiming it when unclaimed.
func (s *Service) RequestBill(ctx context.Context, orderID string) (Order, error) {
	actor, err := actorID(ctx)
	if err != nil {
		return Order{}, err
	}
	order, err := s.getOrder(ctx, s.repo, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := EnsureEditable(order, actor); err != nil {
		return Order{}, err
	}
	if len(order.Lines) == 0 {
		return Order{}, shared.Validationf("order %s has no items to bill", order.ID)
	}
	if order.ClaimedBy == "" {
		claim(&order, actor, s.now())
	}
	order.BillRequested = true
	saved, err := s.saveOrder(ctx, s.repo, order)
	if err != nil {
		return Order{}, err
	}
	s.record(ctx, actor, "pos_order:request_bill", saved.ID, nil)
	s.publish(ctx, realtime.EventOrderUpdated, saved.Branch, saved)
	return saved, nil
}

// ReleaseResult reports what ReleaseTableIfDone did.
type ReleaseResult struct {
	Skipped bool   `json:"skipped"`
	Table   string `json:"table,omitempty"`
	Message string `json:"message"`
}

// ReleaseTableIfDone closes a paid order and frees its table. Calling it
// again on the closed order reports Skipped.
func (s *Service) ReleaseTableIfDone(ctx context.Context, orderID string) (ReleaseResult, error) {
	order, err := s.getOrder(ctx, s.repo, orderID)
	if err != nil {
		return ReleaseResult{}, err
	}
	if !order.Status.Terminal() && !order.Paid() {
		return ReleaseResult{}, shared.Validationf("order %s has no paid invoice yet", order.ID)
	}

	released := false
	if order.Table != "" {
		table, err := s.getTable(ctx, s.repo, order.Table)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return ReleaseResult{}, err
		}
		if err == nil && table.CurrentOrder == order.ID {
			if _, err := s.ApplyTableStatus(ctx, table, TableAvailable, ""); err != nil {
				return ReleaseResult{}, err
			}
			released = true
		}
	}

	if order.Status.Terminal() {
		if !released {
			return ReleaseResult{Skipped: true, Message: fmt.Sprintf("order %s already %s", order.ID, strings.ToLower(string(order.Status)))}, nil
		}
		return ReleaseResult{Table: order.Table, Message: "table released"}, nil
	}

	order.Status = OrderClosed
	order.ClaimedBy = ""
	order.ClaimedAt = nil
	saved, err := s.saveOrder(ctx, s.repo, order)
	if err != nil {
		return ReleaseResult{}, err
	}
	actor, _ := shared.ActorFromContext(ctx)
	s.record(ctx, actor.ID, "pos_order:close", saved.ID, map[string]any{"table": saved.Table})
	s.publish(ctx, realtime.EventOrderUpdated, saved.Branch, saved)
	if released {
		return ReleaseResult{Table: saved.Table, Message: "order closed, table released"}, nil
	}
	return ReleaseResult{Message: "order closed"}, nil
}

// MergeOrders moves the lines of the source orders into target. Sources end
// Merged and their tables are released.
func (s *Service) MergeOrders(ctx context.Context, targetID string, sourceIDs []string) (Order, error) {
	actor, err := actorID(ctx)
	if err != nil {
		return Order{}, err
	}
	if len(sourceIDs) == 0 {
		return Order{}, shared.Validationf("at least one order to merge is required")
	}
	var (
		merged Order
		freed  []Table
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		target, err := s.getOrder(ctx, store, targetID)
		if err != nil {
			return err
		}
		if err := EnsureEditable(target, actor); err != nil {
			return err
		}
		for _, id := range sourceIDs {
			if id == targetID {
				return shared.Validationf("order %s cannot be merged into itself", id)
			}
			source, err := s.getOrder(ctx, store, id)
			if err != nil {
				return err
			}
			if err := EnsureEditable(source, actor); err != nil {
				return err
			}
			if source.Invoice != "" {
				return shared.Validationf("order %s is already invoiced", source.ID)
			}
			target.Lines = append(target.Lines, source.Lines...)
			source.Lines = nil
			source.Status = OrderMerged
			if _, err := s.saveOrder(ctx, store, source); err != nil {
				return err
			}
			if source.Table != "" && source.Table != target.Table {
				if table, ok := s.releaseTable(ctx, store, source.Table, source.ID); ok {
					freed = append(freed, table)
				}
			}
		}
		saved, err := s.saveOrder(ctx, store, target)
		if err != nil {
			return err
		}
		merged = saved
		return nil
	})
	if err != nil {
		return Order{}, concurrentWrite(err)
	}
	s.publishTables(ctx, freed)
	s.record(ctx, actor, "pos_order:merge", merged.ID, map[string]any{"sources": sourceIDs})
	s.publish(ctx, realtime.EventOrderUpdated, merged.Branch, merged)
	return merged, nil
}

func (s *Service) releaseTable(ctx context.Context, store Store, name, orderID string) (Table, bool) {
	table, err := s.getTable(ctx, store, name)
	if err != nil || table.CurrentOrder != orderID {
		return Table{}, false
	}
	saved, err := s.applyTableStatus(ctx, store, table, TableAvailable, "")
	if err != nil {
		shared.BestEffort(s.logger, "floor.release_table", func() error { return err })
		return Table{}, false
	}
	return saved, true
}

func (s *Service) publishTables(ctx context.Context, tables []Table) {
	for _, t := range tables {
		s.publish(ctx, realtime.EventTableUpdated, t.Branch, t)
	}
}

// concurrentWrite reports a transaction lost to a concurrent writer as a
// validation failure the caller can retry.
func concurrentWrite(err error) error {
	if shared.IsConflict(err) {
		return shared.Validationf("records were modified concurrently, reload and retry")
	}
	return err
}

func (s *Service) getTable(ctx context.Context, store Store, name string) (Table, error) {
	if strings.TrimSpace(name) == "" {
		return Table{}, shared.Validationf("table is required")
	}
	table, err := store.GetTable(ctx, name)
	if errors.Is(err, ErrTableNotFound) {
		return Table{}, shared.NotFoundf("table %s", name)
	}
	return table, err
}

func (s *Service) getOrder(ctx context.Context, store Store, id string) (Order, error) {
	if strings.TrimSpace(id) == "" {
		return Order{}, shared.Validationf("order id is required")
	}
	order, err := store.GetOrder(ctx, id)
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, shared.NotFoundf("order %s", id)
	}
	return order, err
}

func (s *Service) saveOrder(ctx context.Context, store Store, order Order) (Order, error) {
	order.ModifiedAt = s.now()
	saved, err := store.SaveOrder(ctx, order)
	if err == nil {
		return saved, nil
	}
	if !shared.IsConflict(err) {
		return Order{}, err
	}
	shared.BestEffort(s.logger, "floor.order_conflict", func() error {
		if s.metrics != nil {
			s.metrics.StaleConflict("order")
		}
		s.logger.Warn("stale order write rejected", slog.String("order", order.ID), slog.Any("error", err))
		return nil
	})
	actor, _ := shared.ActorFromContext(ctx)
	if current, gerr := store.GetOrder(ctx, order.ID); gerr == nil && current.ClaimedByOther(actor.ID) {
		return Order{}, shared.Permissionf("order %s is already claimed by %s", order.ID, current.ClaimedBy)
	}
	return Order{}, shared.Validationf("order %s was modified concurrently, reload and retry", order.ID)
}

func (s *Service) record(ctx context.Context, actor, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	shared.BestEffort(s.logger, "floor.audit", func() error {
		return s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   action,
			Entity:   "pos_order",
			EntityID: id,
			Meta:     meta,
			At:       s.now(),
		})
	})
}

func (s *Service) publish(ctx context.Context, eventType, branch string, payload any) {
	shared.BestEffort(s.logger, "floor.publish", func() error {
		evt, err := realtime.NewEvent(eventType, branch, payload)
		if err != nil {
			return err
		}
		return s.publisher.Publish(ctx, evt)
	})
}

func actorID(ctx context.Context) (string, error) {
	actor, ok := shared.ActorFromContext(ctx)
	if !ok {
		return "", shared.Permissionf("no acting user on request")
	}
	return actor.ID, nil
}
