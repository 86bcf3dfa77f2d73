package floor

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TableStatus enumerates restaurant table states.
type TableStatus string

const (
	TableAvailable TableStatus = "Available"
	TableOccupied  TableStatus = "Occupied"
	TableReserved  TableStatus = "Reserved"
)

// Table is a restaurant table. Version increases on every saved transition.
type Table struct {
	Name         string      `json:"name"`
	Branch       string      `json:"branch"`
	Floor        string      `json:"floor"`
	Seats        int         `json:"seats"`
	Status       TableStatus `json:"status"`
	CurrentOrder string      `json:"current_pos_order,omitempty"`
	Version      int64       `json:"version"`
	ModifiedAt   time.Time   `json:"modified"`
}

// Transition moves the table to status. Occupied requires an order and every
// other status clears it.
func (t *Table) Transition(to TableStatus, order string) error {
	switch to {
	case TableAvailable, TableReserved:
		if t.Status == to {
			return nil
		}
		t.Status = to
		t.CurrentOrder = ""
		return nil
	case TableOccupied:
		if order == "" {
			return ErrOrderRequired
		}
		if t.Status == TableOccupied && t.CurrentOrder != order {
			return ErrTableOccupied
		}
		t.Status = TableOccupied
		t.CurrentOrder = order
		return nil
	default:
		return ErrInvalidTableStatus
	}
}

// OrderStatus enumerates POS order states.
type OrderStatus string

const (
	OrderDraft   OrderStatus = "Draft"
	OrderClaimed OrderStatus = "Claimed"
	OrderClosed  OrderStatus = "Closed"
	OrderMerged  OrderStatus = "Merged"
)

// Terminal reports whether no further mutation is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderClosed || s == OrderMerged
}

// OrderType distinguishes service modes.
type OrderType string

const (
	OrderDineIn   OrderType = "Dine In"
	OrderTakeAway OrderType = "Take Away"
	OrderCounter  OrderType = "Counter"
	OrderKiosk    OrderType = "Kiosk"
	// OrderDelivery covers orders handed to a courier.
	OrderDelivery OrderType = "Delivery"
)

// Valid reports whether t is a known service mode.
func (t OrderType) Valid() bool {
	switch t {
	case OrderDineIn, OrderTakeAway, OrderCounter, OrderKiosk, OrderDelivery:
		return true
	}
	return false
}

// Order is a POS order with its lines.
type Order struct {
	ID              string          `json:"name"`
	Branch          string          `json:"branch"`
	Profile         string          `json:"pos_profile"`
	Type            OrderType       `json:"order_type"`
	Table           string          `json:"table,omitempty"`
	Customer        string          `json:"customer"`
	Status          OrderStatus     `json:"workflow_state"`
	ClaimedBy       string          `json:"claimed_by,omitempty"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	QueueNumber     int64           `json:"queue_number"`
	BillRequested   bool            `json:"bill_requested"`
	Invoice         string          `json:"sales_invoice,omitempty"`
	InvoiceStatus   string          `json:"invoice_status,omitempty"`
	DiscountPercent decimal.Decimal `json:"discount_percentage"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	Lines           []Line          `json:"items"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"creation"`
	ModifiedAt      time.Time       `json:"modified"`
}

// Line is one order item.
type Line struct {
	ID             string          `json:"name"`
	ItemCode       string          `json:"item_code"`
	ItemName       string          `json:"item_name"`
	Description    string          `json:"description"`
	UOM            string          `json:"uom"`
	Qty            float64         `json:"qty"`
	Rate           decimal.Decimal `json:"rate"`
	Amount         decimal.Decimal `json:"amount"`
	Notes          string          `json:"notes"`
	Customizations json.RawMessage `json:"pos_customizations,omitempty"`
	Station        string          `json:"kitchen_station,omitempty"`
	Warehouse      string          `json:"warehouse,omitempty"`
}

// Recalculate restores amount = qty * rate.
func (l *Line) Recalculate() {
	l.Amount = l.Rate.Mul(decimal.NewFromFloat(l.Qty))
}

// Line returns the line with the id.
func (o *Order) Line(id string) (*Line, bool) {
	for i := range o.Lines {
		if o.Lines[i].ID == id {
			return &o.Lines[i], true
		}
	}
	return nil, false
}

// Total sums the line amounts.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Paid reports whether the linked invoice is fully paid.
func (o Order) Paid() bool {
	return o.Invoice != "" && o.InvoiceStatus == InvoicePaid
}

// InvoicePaid is the invoice status of a fully paid invoice.
const InvoicePaid = "Paid"

// ClaimedByOther reports whether another actor holds the claim.
func (o Order) ClaimedByOther(actor string) bool {
	return o.ClaimedBy != "" && o.ClaimedBy != actor
}

var (
	// ErrTableNotFound indicates the table does not exist.
	ErrTableNotFound = errors.New("floor: table not found")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("floor: order not found")
	// ErrTableOccupied indicates the table holds another order.
	ErrTableOccupied = errors.New("floor: table already occupied")
	// ErrOrderRequired indicates an occupied table without an order.
	ErrOrderRequired = errors.New("floor: occupied table requires an order")
	// ErrInvalidTableStatus indicates an unknown status.
	ErrInvalidTableStatus = errors.New("floor: invalid table status")
)
