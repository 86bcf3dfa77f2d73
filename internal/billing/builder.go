package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-pos/odyssey-pos/internal/customization"
	"github.com/odyssey-pos/odyssey-pos/internal/floor"
	"github.com/odyssey-pos/odyssey-pos/internal/masterdata/items"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// BuildInvoiceItems turns order lines into invoice lines and packed rows.
// Non-sales items fail the build unless the profile lets them through, in
// which case they are dropped.
func (s *Service) BuildInvoiceItems(ctx context.Context, order floor.Order, cfg settings.Context) (Invoice, error) {
	inv := Invoice{
		Order:           order.ID,
		Branch:          order.Branch,
		Profile:         cfg.Profile.Name,
		Company:         cfg.Profile.Company,
		Customer:        order.Customer,
		Currency:        cfg.Profile.Currency,
		UpdateStock:     cfg.Profile.UpdateStock,
		DiscountPercent: order.DiscountPercent,
		DiscountAmount:  order.DiscountAmount,
		TaxRate:         cfg.Profile.TaxRate,
	}
	for _, line := range order.Lines {
		if line.Qty <= 0 {
			continue
		}
		item, err := s.items.GetItem(ctx, line.ItemCode)
		if errors.Is(err, items.ErrItemNotFound) {
			return Invoice{}, shared.Validationf("item %s does not exist", line.ItemCode)
		}
		if err != nil {
			return Invoice{}, err
		}
		if item.IsTemplate() {
			return Invoice{}, shared.Validationf("item %s is a template, choose a variant first", item.DisplayName())
		}
		if !item.IsSalesItem {
			if cfg.Profile.AllowNonSalesItems {
				continue
			}
			return Invoice{}, shared.Validationf("item %s is not a sales item", item.DisplayName())
		}

		res, err := s.customizer.Resolve(ctx, item.Code, customization.Normalize(line.Customizations))
		if err != nil {
			return Invoice{}, err
		}
		warehouse := line.Warehouse
		if warehouse == "" {
			warehouse = cfg.Profile.StockWarehouse()
		}
		row := Item{
			OrderLine:           line.ID,
			ItemCode:            item.Code,
			ItemName:            item.DisplayName(),
			Description:         item.DisplayName(),
			UOM:                 firstNonEmpty(line.UOM, item.UOM),
			Qty:                 line.Qty,
			OriginalRate:        line.Rate,
			CustomizationsDelta: res.PriceDelta,
			Rate:                line.Rate.Add(res.PriceDelta),
			DisplayDetails:      res.Details.String(),
			Warehouse:           warehouse,
			IsStockItem:         item.IsStockItem,
		}
		if line.Notes != "" {
			row.Description += "\n" + line.Notes
			row.HasNotes = true
		}
		row.Amount = row.Rate.Mul(decimal.NewFromFloat(row.Qty))

		packed, hasBOM, err := s.packedRows(ctx, item.Code, line.Qty, warehouse, res)
		if err != nil {
			return Invoice{}, err
		}
		row.HasBOM = hasBOM
		inv.Items = append(inv.Items, row)
		inv.Packed = append(inv.Packed, packed...)
	}
	inv.Packed = MergePacked(inv.Packed)
	return inv, nil
}

// MergePacked folds rows sharing parent item, component and warehouse into
// the first of them, so a parent carries one row per component.
func MergePacked(rows []PackedItem) []PackedItem {
	type key struct{ parent, item, warehouse string }
	out := make([]PackedItem, 0, len(rows))
	position := make(map[key]int, len(rows))
	for _, r := range rows {
		k := key{r.ParentItem, r.ItemCode, r.Warehouse}
		if i, ok := position[k]; ok {
			out[i].Qty += r.Qty
			continue
		}
		position[k] = len(out)
		out = append(out, r)
	}
	return out
}

// packedRows scales the default BOM to the ordered quantity and merges the
// customization component deltas.
func (s *Service) packedRows(ctx context.Context, itemCode string, qty float64, warehouse string, res customization.Resolution) ([]PackedItem, bool, error) {
	var rows []customization.PackedRow
	names := map[string][2]string{}
	bom, err := s.items.DefaultBOM(ctx, itemCode)
	hasBOM := err == nil && len(bom.Components) > 0
	switch {
	case err == nil:
		scale := qty / bom.Yield()
		for _, c := range bom.Components {
			rows = append(rows, customization.PackedRow{ParentItem: itemCode, ItemCode: c.ItemCode, Qty: c.Qty * scale})
			names[c.ItemCode] = [2]string{c.ItemName, c.UOM}
		}
	case errors.Is(err, items.ErrBOMNotFound):
	default:
		return nil, false, fmt.Errorf("billing: bom of %s: %w", itemCode, err)
	}
	if !res.IsIdentity() {
		rows = customization.ApplyToPacked(rows, itemCode, qty, res)
	}
	out := make([]PackedItem, 0, len(rows))
	for _, r := range rows {
		if r.Qty <= 0 {
			continue
		}
		meta := names[r.ItemCode]
		out = append(out, PackedItem{
			ParentItem: itemCode,
			ItemCode:   r.ItemCode,
			ItemName:   firstNonEmpty(meta[0], r.ItemCode),
			UOM:        meta[1],
			Warehouse:  warehouse,
			Qty:        r.Qty,
		})
	}
	return out, hasBOM, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
