package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-pos/odyssey-pos/internal/inventory"
	jobmetrics "github.com/odyssey-pos/odyssey-pos/internal/jobs"
	"github.com/odyssey-pos/odyssey-pos/internal/realtime"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
)

// ProfileSource lists and resolves POS profiles.
type ProfileSource interface {
	ActiveProfiles(ctx context.Context) ([]string, error)
}

// ContextLoader assembles a profile's request configuration.
type ContextLoader interface {
	Context(ctx context.Context, profile string) (settings.Context, error)
}

// StockLister lists sellable items with their achievable quantity.
type StockLister interface {
	GetItemsWithStock(ctx context.Context, filter inventory.ItemStockFilter) ([]inventory.ItemStock, int, error)
}

// KeyPruner deletes idempotency keys older than the retention.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// LowStockItem is one entry of a stock.low event.
type LowStockItem struct {
	ItemCode            string                   `json:"item_code"`
	ItemName            string                   `json:"item_name"`
	ActualQty           float64                  `json:"actual_qty"`
	IsComponentShortage bool                     `json:"is_component_shortage"`
	LowComponents       []inventory.LowComponent `json:"low_components,omitempty"`
}

// LowStockEvent is the payload of a stock.low event.
type LowStockEvent struct {
	Profile   string         `json:"pos_profile"`
	Warehouse string         `json:"warehouse"`
	Threshold float64        `json:"threshold"`
	Items     []LowStockItem `json:"items"`
}

// TaskDeps wires the POS task handlers.
type TaskDeps struct {
	Profiles             ProfileSource
	Settings             ContextLoader
	Stock                StockLister
	Publisher            realtime.Publisher
	Keys                 KeyPruner
	Metrics              *jobmetrics.Metrics
	Logger               *slog.Logger
	LowStockThreshold    float64
	IdempotencyRetention time.Duration
	PageSize             int
}

// Tasks hosts the POS task handlers.
type Tasks struct {
	deps TaskDeps
}

// NewTasks builds Tasks with defaults applied.
func NewTasks(deps TaskDeps) *Tasks {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = realtime.Nop{}
	}
	if deps.PageSize <= 0 {
		deps.PageSize = 200
	}
	if deps.IdempotencyRetention <= 0 {
		deps.IdempotencyRetention = 7 * 24 * time.Hour
	}
	return &Tasks{deps: deps}
}

// Handlers lists the task handlers for NewWorker.
func (t *Tasks) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLowStockScan, Handler: t.HandleLowStockScan},
		{Type: TaskStockNotify, Handler: t.HandleStockNotify},
		{Type: TaskIdempotencyCleanup, Handler: t.HandleIdempotencyCleanup},
	}
}

// HandleLowStockScan publishes a stock.low event per profile with items at
// or below the threshold. A failing profile is logged and skipped.
func (t *Tasks) HandleLowStockScan(ctx context.Context, task *asynq.Task) error {
	var payload LowStockScanPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	tracker := t.deps.Metrics.Track(TaskLowStockScan)
	threshold := payload.Threshold
	if threshold <= 0 {
		threshold = t.deps.LowStockThreshold
	}
	profiles := payload.Profiles
	if len(profiles) == 0 {
		var err error
		profiles, err = t.deps.Profiles.ActiveProfiles(ctx)
		if err != nil {
			return tracker.End(fmt.Errorf("list profiles: %w", err))
		}
	}
	for _, name := range profiles {
		if err := t.scanProfile(ctx, name, threshold); err != nil {
			t.deps.Logger.Warn("low stock scan failed", slog.String("pos_profile", name), slog.Any("error", err))
		}
	}
	return tracker.End(nil)
}

func (t *Tasks) scanProfile(ctx context.Context, name string, threshold float64) error {
	cfg, err := t.deps.Settings.Context(ctx, name)
	if err != nil {
		return err
	}
	p := cfg.Profile
	evt := LowStockEvent{Profile: p.Name, Warehouse: p.Warehouse, Threshold: threshold}
	for page := 1; ; page++ {
		rows, total, err := t.deps.Stock.GetItemsWithStock(ctx, inventory.ItemStockFilter{
			Warehouse:              p.Warehouse,
			FinishedGoodsWarehouse: p.FinishedGoodsWarehouse,
			Page:                   page,
			Limit:                  t.deps.PageSize,
		})
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.HasVariants || (!row.IsStockItem && !row.HasBOM) {
				continue
			}
			if row.ActualQty <= threshold {
				evt.Items = append(evt.Items, LowStockItem{
					ItemCode:            row.ItemCode,
					ItemName:            row.ItemName,
					ActualQty:           row.ActualQty,
					IsComponentShortage: row.IsComponentShortage,
					LowComponents:       row.LowComponents,
				})
			}
		}
		if len(rows) == 0 || page*t.deps.PageSize >= total {
			break
		}
	}
	t.deps.Metrics.SetLowStock(p.Name, len(evt.Items))
	if len(evt.Items) == 0 {
		return nil
	}
	msg, err := realtime.NewEvent(realtime.EventStockLow, p.Branch, evt)
	if err != nil {
		return err
	}
	return t.deps.Publisher.Publish(ctx, msg)
}

// HandleStockNotify republishes queued stock events. Any failure is returned
// so asynq retries the whole batch.
func (t *Tasks) HandleStockNotify(ctx context.Context, task *asynq.Task) error {
	var payload StockNotifyPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	tracker := t.deps.Metrics.Track(TaskStockNotify)
	for _, item := range payload.Items {
		msg, err := realtime.NewEvent(realtime.EventStockUpdated, payload.Branch, item)
		if err != nil {
			return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
		}
		if err := t.deps.Publisher.Publish(ctx, msg); err != nil {
			return tracker.End(err)
		}
	}
	t.deps.Metrics.AddNotified(payload.Branch, len(payload.Items))
	return tracker.End(nil)
}

// HandleIdempotencyCleanup prunes idempotency keys past the retention.
func (t *Tasks) HandleIdempotencyCleanup(ctx context.Context, task *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	if t.deps.Keys == nil {
		return nil
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = t.deps.IdempotencyRetention
	}
	tracker := t.deps.Metrics.Track(TaskIdempotencyCleanup)
	return tracker.End(t.deps.Keys.Cleanup(ctx, retention))
}
