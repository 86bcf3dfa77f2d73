package inventory

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/odyssey-pos/odyssey-pos/internal/masterdata/items"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// ItemLister lists item master rows.
type ItemLister interface {
	List(ctx context.Context, filters items.ListFilters) ([]items.Item, int, error)
}

// ItemStockFilter selects the items shown on a POS menu.
type ItemStockFilter struct {
	Warehouse              string
	FinishedGoodsWarehouse string
	ItemGroup              string
	Search                 string
	Page                   int
	Limit                  int
}

// ItemStock is a sellable item with its achievable quantity.
type ItemStock struct {
	ItemCode            string          `json:"item_code"`
	ItemName            string          `json:"item_name"`
	ItemGroup           string          `json:"item_group"`
	UOM                 string          `json:"uom"`
	StandardRate        decimal.Decimal `json:"standard_rate"`
	HasVariants         bool            `json:"has_variants"`
	IsStockItem         bool            `json:"is_stock_item"`
	HasBOM              bool            `json:"has_bom"`
	ActualQty           float64         `json:"actual_qty"`
	IsComponentShortage bool            `json:"is_component_shortage"`
	LowComponents       []LowComponent  `json:"low_components"`
}

// Capacity returns an engine reading this service's bins.
func (s *Service) Capacity() *CapacityEngine {
	return NewCapacityEngine(s.boms, s)
}

// GetItemsWithStock lists sales items of the warehouse with their sellable
// quantity recomputed on every call.
func (s *Service) GetItemsWithStock(ctx context.Context, filter ItemStockFilter) ([]ItemStock, int, error) {
	if filter.Warehouse == "" {
		return nil, 0, shared.Validationf("warehouse required")
	}
	if s.items == nil || s.boms == nil {
		return nil, 0, errors.New("inventory: item catalog not configured")
	}
	list, total, err := s.items.List(ctx, items.ListFilters{
		Page:      filter.Page,
		Limit:     filter.Limit,
		Search:    filter.Search,
		ItemGroup: filter.ItemGroup,
		SalesOnly: true,
	})
	if err != nil {
		return nil, 0, err
	}
	engine := s.Capacity().WithFinishedGoods(filter.FinishedGoodsWarehouse)
	out := make([]ItemStock, 0, len(list))
	for _, it := range list {
		row := ItemStock{
			ItemCode:      it.Code,
			ItemName:      it.DisplayName(),
			ItemGroup:     it.ItemGroup,
			UOM:           it.UOM,
			StandardRate:  it.StandardRate,
			HasVariants:   it.HasVariants,
			IsStockItem:   it.IsStockItem,
			LowComponents: []LowComponent{},
		}
		if it.IsTemplate() {
			out = append(out, row)
			continue
		}
		c, err := engine.MaxSellable(ctx, it.Code, filter.Warehouse)
		if err != nil {
			return nil, 0, err
		}
		row.HasBOM = c.HasBOM
		row.ActualQty = c.AchievableQty
		row.IsComponentShortage = c.IsComponentShortage
		row.LowComponents = c.LowComponents
		out = append(out, row)
	}
	return out, total, nil
}
