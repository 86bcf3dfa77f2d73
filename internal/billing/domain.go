package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice statuses.
const (
	StatusUnpaid     = "Unpaid"
	StatusPartlyPaid = "Partly Paid"
	StatusPaid       = "Paid"
)

// Invoice is a POS sales invoice generated from an order.
type Invoice struct {
	ID                 string              `json:"name"`
	Order              string              `json:"pos_order"`
	Branch             string              `json:"branch"`
	Profile            string              `json:"pos_profile"`
	Company            string              `json:"company"`
	Customer           string              `json:"customer"`
	Currency           string              `json:"currency"`
	PostingDate        time.Time           `json:"posting_date"`
	UpdateStock        bool                `json:"update_stock"`
	Items              []Item              `json:"items"`
	Packed             []PackedItem        `json:"packed_items"`
	Payments           []Payment           `json:"payments"`
	DiscountPercent    decimal.Decimal     `json:"additional_discount_percentage"`
	DiscountAmount     decimal.Decimal     `json:"discount_amount"`
	NetTotal           decimal.Decimal     `json:"net_total"`
	TaxRate            decimal.Decimal     `json:"tax_rate"`
	TaxAmount          decimal.Decimal     `json:"total_taxes_and_charges"`
	GrandTotal         decimal.NullDecimal `json:"grand_total"`
	WriteOffAmount     decimal.Decimal     `json:"write_off_amount"`
	PaidAmount         decimal.Decimal     `json:"paid_amount"`
	OutstandingAmount  decimal.Decimal     `json:"outstanding_amount"`
	Status             string              `json:"status"`
	ManufactureEntries []string            `json:"manufacture_entries"`
	CreatedBy          string              `json:"owner"`
	CreatedAt          time.Time           `json:"creation"`
}

// Item is an invoice line.
type Item struct {
	OrderLine           string          `json:"pos_order_item"`
	ItemCode            string          `json:"item_code"`
	ItemName            string          `json:"item_name"`
	Description         string          `json:"description"`
	UOM                 string          `json:"uom"`
	Qty                 float64         `json:"qty"`
	OriginalRate        decimal.Decimal `json:"original_rate"`
	CustomizationsDelta decimal.Decimal `json:"pos_customizations_delta"`
	Rate                decimal.Decimal `json:"rate"`
	Amount              decimal.Decimal `json:"amount"`
	HasNotes            bool            `json:"has_notes"`
	DisplayDetails      string          `json:"pos_display_details,omitempty"`
	Warehouse           string          `json:"warehouse"`
	IsStockItem         bool            `json:"is_stock_item"`
	HasBOM              bool            `json:"has_bom"`
}

// PackedItem is a component consumed by an invoice line.
type PackedItem struct {
	ParentItem string  `json:"parent_item"`
	ItemCode   string  `json:"item_code"`
	ItemName   string  `json:"item_name"`
	UOM        string  `json:"uom"`
	Warehouse  string  `json:"warehouse"`
	Qty        float64 `json:"qty"`
}

// Payment is one payment row. RawAmount keeps the caller's string.
type Payment struct {
	Mode      string          `json:"mode_of_payment"`
	Amount    decimal.Decimal `json:"amount"`
	RawAmount string          `json:"raw_amount,omitempty"`
	At        time.Time       `json:"at"`
}

// GenerateRequest asks for the invoice of an order.
type GenerateRequest struct {
	OrderID       string `json:"pos_order" validate:"required"`
	ModeOfPayment string `json:"mode_of_payment" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
}

// PaymentResult reports a payment attempt.
type PaymentResult struct {
	Invoice     Invoice `json:"invoice"`
	AlreadyPaid bool    `json:"already_paid"`
	Message     string  `json:"message"`
}

// Errors returned by the billing package.
var (
	ErrInvoiceFailed   = errors.New("failed to generate invoice")
	ErrInvoiceNotFound = errors.New("billing: invoice not found")
)

// Outstanding returns max(grandTotal - paid - discount, 0) with anything
// at or below tolerance forced to exactly zero.
func Outstanding(grandTotal, paid, discount, tolerance decimal.Decimal) decimal.Decimal {
	out := grandTotal.Sub(paid).Sub(discount)
	if !out.IsPositive() {
		return decimal.Zero
	}
	if tolerance.IsPositive() && out.LessThanOrEqual(tolerance) {
		return decimal.Zero
	}
	return out
}

// statusFor derives the invoice status from its amounts.
func statusFor(paid, outstanding decimal.Decimal) string {
	switch {
	case outstanding.IsZero():
		return StatusPaid
	case paid.IsPositive():
		return StatusPartlyPaid
	default:
		return StatusUnpaid
	}
}
