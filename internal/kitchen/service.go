package kitchen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-pos/odyssey-pos/internal/customization"
	"github.com/odyssey-pos/odyssey-pos/internal/floor"
	"github.com/odyssey-pos/odyssey-pos/internal/masterdata/items"
	"github.com/odyssey-pos/odyssey-pos/internal/realtime"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// Store reads and writes tickets. Save methods compare versions and return
// shared.ErrConflict for stale copies.
type Store interface {
	GetTicket(ctx context.Context, id string) (Ticket, error)
	GetItem(ctx context.Context, id string) (Item, error)
	SaveItem(ctx context.Context, item Item) (Item, error)
	SaveTicket(ctx context.Context, ticket Ticket) (Ticket, error)
	InsertTicket(ctx context.Context, ticket Ticket) (Ticket, error)
	TicketedLines(ctx context.Context, orderID string) (map[string]bool, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]Ticket, error)
}

// Repository is a Store that can run several writes atomically.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// Catalog reads the item master.
type Catalog interface {
	GetItem(ctx context.Context, code string) (items.Item, error)
}

// DetailsResolver renders the customization summary printed on tickets.
type DetailsResolver interface {
	Resolve(ctx context.Context, itemCode string, selections []customization.Selection) (customization.Resolution, error)
}

// Metrics records kitchen outcomes.
type Metrics interface {
	KOTTransition(state string, ok bool)
	StaleConflict(entity string)
}

// TicketFilter narrows the kitchen display.
type TicketFilter struct {
	Branch  string
	Station string
	States  []State
	Order   string
}

// BulkResult reports a bulk item update per id.
type BulkResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// Locker serialises kitchen sends per order.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	DefaultStation string
	Details        DetailsResolver
	Publisher      realtime.Publisher
	Metrics        Metrics
	Locker         Locker
	Logger         *slog.Logger
	Clock          func() time.Time
}

// Service runs the KOT workflow.
type Service struct {
	repo           Repository
	catalog        Catalog
	details        DetailsResolver
	defaultStation string
	publisher      realtime.Publisher
	metrics        Metrics
	locker         Locker
	logger         *slog.Logger
	now            func() time.Time
}

// NewService builds Service.
func NewService(repo Repository, catalog Catalog, cfg ServiceConfig) *Service {
	s := &Service{
		repo:           repo,
		catalog:        catalog,
		details:        cfg.Details,
		defaultStation: cfg.DefaultStation,
		publisher:      cfg.Publisher,
		metrics:        cfg.Metrics,
		locker:         cfg.Locker,
		logger:         cfg.Logger,
		now:            cfg.Clock,
	}
	if s.defaultStation == "" {
		s.defaultStation = "Kitchen"
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

// CreateTickets sends the order lines not yet in the kitchen, one ticket per
// station. Lines still pointing at a template item are rejected.
func (s *Service) CreateTickets(ctx context.Context, order floor.Order) ([]Ticket, error) {
	if order.Status.Terminal() {
		return nil, shared.Validationf("order %s is %s", order.ID, order.Status)
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.KitchenLockKey(order.ID))
		if errors.Is(err, shared.ErrLockHeld) {
			return nil, shared.Validationf("order %s is already being sent to the kitchen", order.ID)
		}
		if err != nil {
			return nil, err
		}
		defer release()
	}

	var created []Ticket
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		// lines ticketed by a send that committed first are skipped here
		sent, err := store.TicketedLines(ctx, order.ID)
		if err != nil {
			return err
		}
		tickets, err := s.buildTickets(ctx, order, sent)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			t, err = store.InsertTicket(ctx, t)
			if err != nil {
				return err
			}
			created = append(created, t)
		}
		return nil
	})
	if shared.IsConflict(err) {
		return nil, shared.Validationf("order %s was sent to the kitchen concurrently, reload and retry", order.ID)
	}
	if err != nil {
		return nil, err
	}
	for _, t := range created {
		s.publish(ctx, t)
	}
	return created, nil
}

// buildTickets groups the unsent lines of order by station, ordered by
// station name.
func (s *Service) buildTickets(ctx context.Context, order floor.Order, sent map[string]bool) ([]Ticket, error) {
	now := s.now()
	byStation := map[string]*Ticket{}
	for _, line := range order.Lines {
		if sent[line.ID] || line.Qty <= 0 {
			continue
		}
		item, err := s.catalog.GetItem(ctx, line.ItemCode)
		if errors.Is(err, items.ErrItemNotFound) {
			return nil, shared.Validationf("item %s does not exist", line.ItemCode)
		}
		if err != nil {
			return nil, err
		}
		if item.IsTemplate() {
			return nil, fmt.Errorf("%w: %w: choose a variant of %s before sending to the kitchen",
				shared.ErrValidation, ErrUnresolvedTemplate, item.DisplayName())
		}
		station := firstNonEmpty(line.Station, item.Station, s.defaultStation)
		t, ok := byStation[station]
		if !ok {
			t = &Ticket{
				ID:         uuid.NewString(),
				Order:      order.ID,
				Branch:     order.Branch,
				Station:    station,
				Table:      order.Table,
				State:      StateQueued,
				CreatedAt:  now,
				ModifiedAt: now,
			}
			byStation[station] = t
		}
		t.Items = append(t.Items, Item{
			ID:         uuid.NewString(),
			TicketID:   t.ID,
			OrderLine:  line.ID,
			ItemCode:   line.ItemCode,
			ItemName:   firstNonEmpty(line.ItemName, item.DisplayName()),
			Qty:        line.Qty,
			Notes:      line.Notes,
			Details:    s.describe(ctx, line),
			State:      StateQueued,
			ModifiedAt: now,
		})
	}
	if len(byStation) == 0 {
		return nil, shared.Validationf("order %s has no new items for the kitchen", order.ID)
	}
	stations := make([]string, 0, len(byStation))
	for st := range byStation {
		stations = append(stations, st)
	}
	sort.Strings(stations)
	out := make([]Ticket, 0, len(stations))
	for _, st := range stations {
		out = append(out, *byStation[st])
	}
	return out, nil
}

func (s *Service) describe(ctx context.Context, line floor.Line) string {
	if s.details == nil || len(line.Customizations) == 0 {
		return ""
	}
	var out string
	shared.BestEffort(s.logger, "kitchen.details", func() error {
		res, err := s.details.Resolve(ctx, line.ItemCode, customization.Normalize(line.Customizations))
		if err != nil {
			return err
		}
		out = res.Details.String()
		return nil
	})
	return out
}

// ListTickets returns tickets for the kitchen display.
func (s *Service) ListTickets(ctx context.Context, filter TicketFilter) ([]Ticket, error) {
	return s.repo.ListTickets(ctx, filter)
}

// UpdateKOTItemState moves one item a single step forward and refreshes the
// ticket state to the least advanced item.
func (s *Service) UpdateKOTItemState(ctx context.Context, itemID string, to State) (Item, error) {
	if !to.Valid() {
		return Item{}, shared.Validationf("unknown kitchen state %q", to)
	}
	var (
		saved  Item
		ticket Ticket
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		item, err := store.GetItem(ctx, itemID)
		if errors.Is(err, ErrItemNotFound) {
			return shared.NotFoundf("kitchen item %s", itemID)
		}
		if err != nil {
			return err
		}
		if err := item.Advance(to); err != nil {
			return fmt.Errorf("%w: %w", shared.ErrValidation, err)
		}
		item.ModifiedAt = s.now()
		if saved, err = s.saveItem(ctx, store, item); err != nil {
			return err
		}
		if ticket, err = store.GetTicket(ctx, item.TicketID); err != nil {
			return err
		}
		ticket.State = ticket.Aggregate()
		ticket, err = s.saveTicket(ctx, store, ticket)
		return err
	})
	s.observe(to, err)
	if err != nil {
		return Item{}, err
	}
	s.publish(ctx, ticket)
	return saved, nil
}

// BulkUpdateKOTItems applies UpdateKOTItemState to every id independently.
func (s *Service) BulkUpdateKOTItems(ctx context.Context, ids []string, to State) BulkResult {
	res := BulkResult{Succeeded: []string{}, Failed: map[string]string{}}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.UpdateKOTItemState(ctx, id, to); err != nil {
			res.Failed[id] = err.Error()
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}

// UpdateKOTTicketState moves the ticket and all of its items one step
// forward together. Every item must share the ticket's current state.
func (s *Service) UpdateKOTTicketState(ctx context.Context, ticketID string, to State) (Ticket, error) {
	if !to.Valid() {
		return Ticket{}, shared.Validationf("unknown kitchen state %q", to)
	}
	var saved Ticket
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		ticket, err := store.GetTicket(ctx, ticketID)
		if errors.Is(err, ErrTicketNotFound) {
			return shared.NotFoundf("kitchen ticket %s", ticketID)
		}
		if err != nil {
			return err
		}
		current := ticket.Aggregate()
		for _, it := range ticket.Items {
			if it.State != current {
				return fmt.Errorf("%w: %w: update items individually", shared.ErrValidation, ErrMixedTicketState)
			}
		}
		if next, ok := current.Next(); !ok || next != to {
			return fmt.Errorf("%w: %w: ticket cannot move from %s to %s", shared.ErrValidation, ErrInvalidTransition, current, to)
		}
		now := s.now()
		for i := range ticket.Items {
			it := ticket.Items[i]
			if err := it.Advance(to); err != nil {
				return fmt.Errorf("%w: %w", shared.ErrValidation, err)
			}
			it.ModifiedAt = now
			if ticket.Items[i], err = s.saveItem(ctx, store, it); err != nil {
				return err
			}
		}
		ticket.State = to
		ticket.ModifiedAt = now
		saved, err = s.saveTicket(ctx, store, ticket)
		return err
	})
	s.observe(to, err)
	if err != nil {
		return Ticket{}, err
	}
	s.publish(ctx, saved)
	return saved, nil
}

func (s *Service) saveItem(ctx context.Context, store Store, item Item) (Item, error) {
	saved, err := store.SaveItem(ctx, item)
	if shared.IsConflict(err) {
		s.conflict("kot_item", item.ID, err)
		return Item{}, shared.Validationf("kitchen item %s was modified concurrently, reload and retry", item.ItemName)
	}
	return saved, err
}

func (s *Service) saveTicket(ctx context.Context, store Store, ticket Ticket) (Ticket, error) {
	saved, err := store.SaveTicket(ctx, ticket)
	if shared.IsConflict(err) {
		s.conflict("kot", ticket.ID, err)
		return Ticket{}, shared.Validationf("kitchen ticket %s was modified concurrently, reload and retry", ticket.ID)
	}
	return saved, err
}

func (s *Service) conflict(entity, id string, cause error) {
	shared.BestEffort(s.logger, "kitchen.conflict", func() error {
		if s.metrics != nil {
			s.metrics.StaleConflict(entity)
		}
		s.logger.Warn("stale kitchen write rejected", slog.String("entity", entity), slog.String("id", id), slog.Any("error", cause))
		return nil
	})
}

func (s *Service) observe(to State, err error) {
	if s.metrics == nil {
		return
	}
	shared.BestEffort(s.logger, "kitchen.metrics", func() error {
		s.metrics.KOTTransition(string(to), err == nil)
		return nil
	})
}

func (s *Service) publish(ctx context.Context, ticket Ticket) {
	shared.BestEffort(s.logger, "kitchen.publish", func() error {
		evt, err := realtime.NewEvent(realtime.EventKOTUpdated, ticket.Branch, ticket)
		if err != nil {
			return err
		}
		return s.publisher.Publish(ctx, evt)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
