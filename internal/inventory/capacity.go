package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/odyssey-pos/odyssey-pos/internal/masterdata/items"
)

// BOMSource reads the default bill of materials of an item.
type BOMSource interface {
	DefaultBOM(ctx context.Context, itemCode string) (items.BOM, error)
}

// StockReader reads bin quantities.
type StockReader interface {
	ActualQty(ctx context.Context, itemCode, warehouse string) (float64, error)
}

// LowComponent is a component that cannot cover one more full yield.
type LowComponent struct {
	ItemCode  string  `json:"item_code"`
	ItemName  string  `json:"item_name"`
	UOM       string  `json:"uom"`
	Available float64 `json:"available"`
	Required  float64 `json:"required"`
}

// Capacity is the sellable quantity of an item in a warehouse.
type Capacity struct {
	ItemCode            string         `json:"item_code"`
	Warehouse           string         `json:"warehouse"`
	AchievableQty       float64        `json:"actual_qty"`
	DirectQty           float64        `json:"direct_qty"`
	FinishedGoodsQty    float64        `json:"finished_goods_qty"`
	ComponentCapacity   float64        `json:"component_capacity"`
	HasBOM              bool           `json:"has_bom"`
	IsComponentShortage bool           `json:"is_component_shortage"`
	LowComponents       []LowComponent `json:"low_components"`
}

// CapacityEngine derives sellable quantities from bins and BOMs. It holds
// no cached state: every call reads current stock.
type CapacityEngine struct {
	boms          BOMSource
	stock         StockReader
	finishedGoods string
}

// NewCapacityEngine builds CapacityEngine.
func NewCapacityEngine(boms BOMSource, stock StockReader) *CapacityEngine {
	return &CapacityEngine{boms: boms, stock: stock}
}

// WithFinishedGoods returns an engine that also reads produced items from
// the given finished-goods warehouse.
func (e *CapacityEngine) WithFinishedGoods(warehouse string) *CapacityEngine {
	cp := *e
	cp.finishedGoods = warehouse
	return &cp
}

// MaxSellable returns the achievable quantity of item in warehouse.
//
// Without a BOM it is the bin quantity. With a BOM it is the minimum of the
// component capacity and the direct and finished-goods quantities that are
// stocked (positive); an unstocked figure means "produce from components".
// Components with their own BOM add what they can produce to their stock.
func (e *CapacityEngine) MaxSellable(ctx context.Context, item, warehouse string) (Capacity, error) {
	return e.maxSellable(ctx, item, warehouse, nil)
}

func (e *CapacityEngine) maxSellable(ctx context.Context, item, warehouse string, path []string) (Capacity, error) {
	for _, seen := range path {
		if seen == item {
			return Capacity{}, fmt.Errorf("%w: %s", ErrBOMCycle, strings.Join(append(path, item), " -> "))
		}
	}
	path = append(path, item)

	res := Capacity{ItemCode: item, Warehouse: warehouse, LowComponents: []LowComponent{}}
	direct, err := e.stock.ActualQty(ctx, item, warehouse)
	if err != nil {
		return Capacity{}, err
	}
	res.DirectQty = direct

	bom, err := e.boms.DefaultBOM(ctx, item)
	if errors.Is(err, items.ErrBOMNotFound) || (err == nil && len(bom.Components) == 0) {
		res.AchievableQty = math.Max(direct, 0)
		return res, nil
	}
	if err != nil {
		return Capacity{}, err
	}
	res.HasBOM = true

	yield := bom.Yield()
	components := math.Inf(1)
	for _, c := range bom.Components {
		if c.Qty <= 0 {
			continue
		}
		available, err := e.stock.ActualQty(ctx, c.ItemCode, warehouse)
		if err != nil {
			return Capacity{}, err
		}
		sub, err := e.maxSellable(ctx, c.ItemCode, warehouse, path)
		if err != nil {
			return Capacity{}, err
		}
		if sub.HasBOM {
			available += sub.ComponentCapacity
		}
		available = math.Max(available, 0)
		units := math.Floor(available/c.Qty+1e-9) * yield
		components = math.Min(components, units)
		if available+1e-9 < c.Qty {
			res.LowComponents = append(res.LowComponents, LowComponent{
				ItemCode:  c.ItemCode,
				ItemName:  c.ItemName,
				UOM:       c.UOM,
				Available: available,
				Required:  c.Qty,
			})
		}
	}
	if math.IsInf(components, 1) {
		components = 0
	}
	res.ComponentCapacity = components

	fgKnown := e.finishedGoods != "" && e.finishedGoods != warehouse
	if fgKnown {
		fg, err := e.stock.ActualQty(ctx, item, e.finishedGoods)
		if err != nil {
			return Capacity{}, err
		}
		res.FinishedGoodsQty = fg
	}

	others := math.Inf(1)
	if direct > 0 {
		others = math.Min(others, direct)
	}
	if fgKnown && res.FinishedGoodsQty > 0 {
		others = math.Min(others, res.FinishedGoodsQty)
	}
	res.AchievableQty = math.Max(math.Min(components, others), 0)

	res.IsComponentShortage = !math.IsInf(others, 1) && components < others &&
		(!fgKnown || components < res.FinishedGoodsQty)
	return res, nil
}
