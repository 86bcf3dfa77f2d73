package jobs

import (
	"context"
	"log/slog"

	"github.com/odyssey-pos/odyssey-pos/internal/inventory"
	"github.com/odyssey-pos/odyssey-pos/internal/realtime"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// StockNotifier queues stock events for a later retry.
type StockNotifier interface {
	EnqueueStockNotify(ctx context.Context, branch string, payloads []realtime.StockPayload) error
}

// MovementRelay turns posted stock movements into stock.updated events.
// Events that cannot be published are queued for the worker.
type MovementRelay struct {
	publisher realtime.Publisher
	fallback  StockNotifier
	branch    string
	logger    *slog.Logger
}

// NewMovementRelay builds a relay publishing on the given branch channel.
func NewMovementRelay(publisher realtime.Publisher, fallback StockNotifier, branch string, logger *slog.Logger) *MovementRelay {
	if publisher == nil {
		publisher = realtime.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MovementRelay{publisher: publisher, fallback: fallback, branch: branch, logger: logger}
}

// MovementPosted implements inventory.MovementNotifier.
func (r *MovementRelay) MovementPosted(ctx context.Context, evt inventory.MovementPostedEvent) {
	payload := realtime.StockPayload{ItemCode: evt.ItemCode, ActualQty: evt.BalanceQty, Warehouse: evt.Warehouse}
	shared.BestEffort(r.logger, "jobs.relay_movement", func() error {
		msg, err := realtime.NewEvent(realtime.EventStockUpdated, r.branch, payload)
		if err != nil {
			return err
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			if r.fallback == nil {
				return err
			}
			return r.fallback.EnqueueStockNotify(ctx, r.branch, []realtime.StockPayload{payload})
		}
		return nil
	})
}

var _ inventory.MovementNotifier = (*MovementRelay)(nil)
