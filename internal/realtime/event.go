package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Event types delivered to POS terminals.
const (
	EventStockUpdated   = "stock.updated"
	EventStockLow       = "stock.low"
	EventKOTUpdated     = "kot.updated"
	EventTableUpdated   = "table.updated"
	EventOrderUpdated   = "order.updated"
	EventInvoiceCreated = "invoice.created"
)

const channelPrefix = "pos:events:"

// Event is a realtime notification scoped to a branch.
type Event struct {
	Type    string          `json:"type"`
	Branch  string          `json:"branch"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// StockPayload carries the on-hand quantity of one item after a movement.
type StockPayload struct {
	ItemCode  string  `json:"item_code"`
	ActualQty float64 `json:"actual_qty"`
	Warehouse string  `json:"warehouse"`
}

// NewEvent marshals the payload into an event.
func NewEvent(eventType, branch string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Branch: branch, Payload: raw, At: time.Now().UTC()}, nil
}

// Channel returns the pub/sub channel of a branch.
func Channel(branch string) string {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		branch = "all"
	}
	return channelPrefix + branch
}

func branchFromChannel(channel string) string {
	return strings.TrimPrefix(channel, channelPrefix)
}

// Publisher delivers events fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }
