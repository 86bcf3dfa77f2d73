package inventory

import (
	"errors"
	"time"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TransactionTypeReceipt represents an inbound movement.
	TransactionTypeReceipt TransactionType = "Material Receipt"
	// TransactionTypeTransfer used for transfer legs.
	TransactionTypeTransfer TransactionType = "Material Transfer"
	// TransactionTypeAdjust indicates manual adjustments.
	TransactionTypeAdjust TransactionType = "Stock Adjustment"
	// TransactionTypeConsumption consumes BOM components for sold items.
	TransactionTypeConsumption TransactionType = "Material Consumption for Manufacture"
)

// Transaction models the header of a stock movement document.
type Transaction struct {
	ID        string
	Code      string
	Type      TransactionType
	Warehouse string
	RefModule string
	RefID     string
	Note      string
	PostedAt  time.Time
	CreatedBy string
}

// TransactionLine models each item movement line.
type TransactionLine struct {
	TransactionID string
	ItemCode      string
	Qty           float64
	UnitCost      float64
	SrcWarehouse  string
	DstWarehouse  string
}

// Balance summarises stock of an item in a warehouse (the bin).
type Balance struct {
	Warehouse string
	ItemCode  string
	Qty       float64
	AvgCost   float64
	UpdatedAt time.Time
}

// StockCardEntry describes a stock ledger entry.
type StockCardEntry struct {
	TxCode      string          `json:"tx_code"`
	TxType      TransactionType `json:"tx_type"`
	ItemCode    string          `json:"item_code"`
	Warehouse   string          `json:"warehouse"`
	PostedAt    time.Time       `json:"posted_at"`
	QtyIn       float64         `json:"qty_in"`
	QtyOut      float64         `json:"qty_out"`
	BalanceQty  float64         `json:"balance_qty"`
	UnitCost    float64         `json:"unit_cost"`
	BalanceCost float64         `json:"balance_cost"`
	Note        string          `json:"note,omitempty"`
}

// AdjustmentInput describes request to adjust stock.
type AdjustmentInput struct {
	Code      string  `json:"code"`
	Warehouse string  `json:"warehouse" validate:"required"`
	ItemCode  string  `json:"item_code" validate:"required"`
	Qty       float64 `json:"qty" validate:"required"`
	UnitCost  float64 `json:"unit_cost" validate:"gte=0"`
	Note      string  `json:"note"`
	ActorID   string  `json:"-"`
	RefModule string  `json:"ref_module"`
	RefID     string  `json:"ref_id"`
}

// TransferInput describes transfer request between warehouses.
type TransferInput struct {
	Code         string  `json:"code"`
	ItemCode     string  `json:"item_code" validate:"required"`
	Qty          float64 `json:"qty" validate:"gt=0"`
	SrcWarehouse string  `json:"src_warehouse" validate:"required"`
	DstWarehouse string  `json:"dst_warehouse" validate:"required"`
	UnitCost     float64 `json:"unit_cost" validate:"gte=0"`
	Note         string  `json:"note"`
	ActorID      string  `json:"-"`
	RefModule    string  `json:"ref_module"`
	RefID        string  `json:"ref_id"`
}

// InboundInput is used for purchase receipts.
type InboundInput struct {
	Code      string  `json:"code"`
	Warehouse string  `json:"warehouse" validate:"required"`
	ItemCode  string  `json:"item_code" validate:"required"`
	Qty       float64 `json:"qty" validate:"gt=0"`
	UnitCost  float64 `json:"unit_cost" validate:"gte=0"`
	Note      string  `json:"note"`
	ActorID   string  `json:"-"`
	RefModule string  `json:"ref_module"`
	RefID     string  `json:"ref_id"`
}

// ConsumptionRow is one component consumed from a warehouse.
type ConsumptionRow struct {
	ItemCode   string
	ParentItem string
	Warehouse  string
	Qty        float64
}

// ConsumptionInput posts the components consumed by one reference document.
type ConsumptionInput struct {
	RefModule string
	RefID     string
	Rows      []ConsumptionRow
	ActorID   string
	Note      string
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	Warehouse string
	ItemCode  string
	From      time.Time
	To        time.Time
	Limit     int
}

// Requirement is a quantity that must be available before committing.
type Requirement struct {
	ItemCode  string
	Warehouse string
	Qty       float64
}

// ErrNegativeStock triggered when movement would result negative qty.
var ErrNegativeStock = errors.New("inventory: negative stock not allowed")

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")

// ErrInvalidUnitCost indicates invalid cost value.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")

// ErrBOMCycle is returned when a BOM consumes, directly or not, its own item.
var ErrBOMCycle = errors.New("inventory: bom cycle detected")
