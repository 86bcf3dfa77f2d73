package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-pos/odyssey-pos/internal/realtime"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan scans every active profile for items running low.
	TaskLowStockScan = "pos:low_stock_scan"
	// TaskStockNotify republishes stock.updated events that failed to publish.
	TaskStockNotify = "pos:stock_notify"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "pos:idempotency_cleanup"
)

// LowStockScanPayload narrows a scan. Empty profiles means every active one.
type LowStockScanPayload struct {
	Profiles  []string `json:"profiles,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
}

// StockNotifyPayload carries the stock events of one branch.
type StockNotifyPayload struct {
	Branch string                  `json:"branch"`
	Items  []realtime.StockPayload `json:"items"`
}

// IdempotencyCleanupPayload overrides the configured retention.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewLowStockScanTask builds a TaskLowStockScan task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	return newTask(TaskLowStockScan, payload)
}

// NewStockNotifyTask builds a TaskStockNotify task.
func NewStockNotifyTask(payload StockNotifyPayload) (*asynq.Task, error) {
	return newTask(TaskStockNotify, payload)
}

// NewIdempotencyCleanupTask builds a TaskIdempotencyCleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, payload)
}

func newTask(kind string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(kind, data), nil
}

func decode(t *asynq.Task, dest any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), dest); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
