package items

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Item is a row of the item master.
type Item struct {
	Code         string          `json:"item_code"`
	Name         string          `json:"item_name"`
	Description  string          `json:"description"`
	ItemGroup    string          `json:"item_group"`
	UOM          string          `json:"stock_uom"`
	IsSalesItem  bool            `json:"is_sales_item"`
	IsStockItem  bool            `json:"is_stock_item"`
	HasVariants  bool            `json:"has_variants"`
	VariantOf    string          `json:"variant_of,omitempty"`
	Disabled     bool            `json:"disabled"`
	StandardRate decimal.Decimal `json:"standard_rate"`
	Station      string          `json:"kitchen_station,omitempty"`
	Attributes   []Attribute     `json:"attributes,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Attribute is a template attribute declaration (Value empty) or a variant
// attribute value.
type Attribute struct {
	Name  string `json:"attribute"`
	Value string `json:"attribute_value,omitempty"`
}

// DisplayName prefers the item name and falls back to the code.
func (i Item) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Code
}

// IsTemplate reports whether the item has variants.
func (i Item) IsTemplate() bool {
	return i.HasVariants
}

// BOM is the default bill of materials for a produced item.
type BOM struct {
	Name       string         `json:"name"`
	Item       string         `json:"item"`
	Quantity   float64        `json:"quantity"`
	Components []BOMComponent `json:"items"`
}

// BOMComponent is one input of a BOM, expressed per BOM quantity.
type BOMComponent struct {
	ItemCode string  `json:"item_code"`
	ItemName string  `json:"item_name"`
	UOM      string  `json:"stock_uom"`
	Qty      float64 `json:"qty"`
}

// Yield returns the BOM quantity, treating non-positive values as one.
func (b BOM) Yield() float64 {
	if b.Quantity <= 0 {
		return 1
	}
	return b.Quantity
}

// ListFilters narrows item listings.
type ListFilters struct {
	Page       int
	Limit      int
	Search     string
	SortBy     string
	SortDir    string
	ItemGroup  string
	SalesOnly  bool
	IncludeAll bool
}

var (
	// ErrItemNotFound is returned when no item has the code.
	ErrItemNotFound = errors.New("items: item not found")
	// ErrBOMNotFound is returned when an item has no active default BOM.
	ErrBOMNotFound = errors.New("items: bom not found")
)
