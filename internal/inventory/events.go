package inventory

import (
	"context"
	"time"
)

// MovementPostedEvent announces a manual stock movement.
type MovementPostedEvent struct {
	Code       string
	Type       TransactionType
	Warehouse  string
	ItemCode   string
	Qty        float64
	BalanceQty float64
	PostedAt   time.Time
}

// MovementNotifier receives posted movements. Consumption movements are
// announced by the document that caused them.
type MovementNotifier interface {
	MovementPosted(ctx context.Context, evt MovementPostedEvent)
}
