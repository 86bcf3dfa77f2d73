package kitchen

import (
	"errors"
	"fmt"
	"time"
)

// State is the preparation state of a KOT item.
type State string

const (
	StateQueued     State = "Queued"
	StateInProgress State = "In Progress"
	StateReady      State = "Ready"
	StateServed     State = "Served"
)

var stateOrder = []State{StateQueued, StateInProgress, StateReady, StateServed}

func (s State) rank() int {
	for i, st := range stateOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known state.
func (s State) Valid() bool { return s.rank() >= 0 }

// Next returns the following state, false for Served.
func (s State) Next() (State, bool) {
	r := s.rank()
	if r < 0 || r == len(stateOrder)-1 {
		return "", false
	}
	return stateOrder[r+1], true
}

// Ticket is a kitchen order ticket for one station of an order.
type Ticket struct {
	ID         string    `json:"id"`
	Order      string    `json:"pos_order"`
	Branch     string    `json:"branch"`
	Station    string    `json:"station"`
	Table      string    `json:"table,omitempty"`
	State      State     `json:"workflow_state"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Items      []Item    `json:"items"`
}

// Item is one order line routed to a kitchen station.
type Item struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"kot"`
	OrderLine  string    `json:"pos_order_item"`
	ItemCode   string    `json:"item_code"`
	ItemName   string    `json:"item_name"`
	Qty        float64   `json:"qty"`
	Notes      string    `json:"notes,omitempty"`
	Details    string    `json:"customization_details,omitempty"`
	State      State     `json:"status"`
	Version    int64     `json:"version"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Advance moves the item exactly one step forward. The item is left
// untouched when to is not the next state.
func (i *Item) Advance(to State) error {
	next, ok := i.State.Next()
	if !ok || next != to {
		return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidTransition, i.ItemName, i.State, to)
	}
	i.State = to
	return nil
}

// Aggregate returns the least advanced item state.
func (t Ticket) Aggregate() State {
	if len(t.Items) == 0 {
		return t.State
	}
	least := t.Items[0].State
	for _, it := range t.Items[1:] {
		if it.State.rank() < least.rank() {
			least = it.State
		}
	}
	return least
}

// Errors returned by the kitchen package.
var (
	ErrTicketNotFound     = errors.New("kitchen: ticket not found")
	ErrItemNotFound       = errors.New("kitchen: item not found")
	ErrInvalidTransition  = errors.New("kitchen: invalid state transition")
	ErrMixedTicketState   = errors.New("kitchen: ticket items are in different states")
	ErrUnresolvedTemplate = errors.New("kitchen: template item has no variant")
)
