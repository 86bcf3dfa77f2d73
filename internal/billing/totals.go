package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-pos/odyssey-pos/internal/masterdata/items"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
)

// TotalsHook fills defaults and computes totals before an invoice is
// stored. GrandTotal may be left unset.
type TotalsHook interface {
	SetMissingValues(ctx context.Context, inv *Invoice, cfg settings.Context) error
	CalculateTaxesAndTotals(ctx context.Context, inv *Invoice, cfg settings.Context) error
}

// BundleSource reads product bundles.
type BundleSource interface {
	ProductBundle(ctx context.Context, itemCode string) ([]items.BOMComponent, error)
}

// TaxCalculator is the default TotalsHook: a single profile tax rate on the
// discounted net total.
type TaxCalculator struct {
	bundles BundleSource
	now     func() time.Time
}

// NewTaxCalculator builds TaxCalculator. bundles may be nil.
func NewTaxCalculator(bundles BundleSource) *TaxCalculator {
	return &TaxCalculator{bundles: bundles, now: time.Now}
}

// SetMissingValues fills currency, company and posting date and expands
// product bundles into packed rows.
func (c *TaxCalculator) SetMissingValues(ctx context.Context, inv *Invoice, cfg settings.Context) error {
	if inv.Currency == "" {
		inv.Currency = cfg.Profile.Currency
	}
	if inv.Company == "" {
		inv.Company = cfg.Profile.Company
	}
	if inv.PostingDate.IsZero() {
		inv.PostingDate = c.now().UTC()
	}
	if c.bundles == nil {
		return nil
	}
	for _, it := range inv.Items {
		if it.HasBOM {
			continue
		}
		components, err := c.bundles.ProductBundle(ctx, it.ItemCode)
		if errors.Is(err, items.ErrBOMNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		for _, comp := range components {
			inv.Packed = append(inv.Packed, PackedItem{
				ParentItem: it.ItemCode,
				ItemCode:   comp.ItemCode,
				ItemName:   firstNonEmpty(comp.ItemName, comp.ItemCode),
				UOM:        comp.UOM,
				Warehouse:  it.Warehouse,
				Qty:        comp.Qty * it.Qty,
			})
		}
	}
	inv.Packed = MergePacked(inv.Packed)
	return nil
}

// CalculateTaxesAndTotals sets net, discount, tax and grand totals rounded
// to the currency's precision.
func (c *TaxCalculator) CalculateTaxesAndTotals(_ context.Context, inv *Invoice, _ settings.Context) error {
	scale := currencyScale(inv.Currency)
	net := decimal.Zero
	for i := range inv.Items {
		it := &inv.Items[i]
		it.Amount = it.Rate.Mul(decimal.NewFromFloat(it.Qty))
		net = net.Add(it.Amount)
	}
	inv.NetTotal = net.Round(scale)

	discount := inv.DiscountAmount
	if !discount.IsPositive() && inv.DiscountPercent.IsPositive() {
		discount = net.Mul(inv.DiscountPercent).Div(decimal.NewFromInt(100))
	}
	discount = decimal.Min(discount.Round(scale), inv.NetTotal)
	inv.DiscountAmount = discount

	taxable := inv.NetTotal.Sub(discount)
	inv.TaxAmount = taxable.Mul(inv.TaxRate).Div(decimal.NewFromInt(100)).Round(scale)
	inv.GrandTotal = decimal.NewNullDecimal(taxable.Add(inv.TaxAmount).Round(scale))
	return nil
}

func currencyScale(code string) int32 {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}
