package pricing

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-pos/odyssey-pos/internal/settings"
)

// AdjustmentKind enumerates price list adjustments.
type AdjustmentKind string

const (
	AdjustPercent AdjustmentKind = "percent"
	AdjustFlat    AdjustmentKind = "flat"
)

// Adjustment is applied on top of the resolved base rate.
type Adjustment struct {
	Kind  AdjustmentKind  `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

// Apply returns the adjusted rate, never below zero.
func (a Adjustment) Apply(rate decimal.Decimal) decimal.Decimal {
	var out decimal.Decimal
	switch a.Kind {
	case AdjustPercent:
		out = rate.Mul(decimal.NewFromInt(1).Add(a.Value.Div(decimal.NewFromInt(100))))
	case AdjustFlat:
		out = rate.Add(a.Value)
	default:
		return rate
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// ItemPrice is an explicit price list entry.
type ItemPrice struct {
	Rate     decimal.Decimal
	Currency string
}

// Store reads price data. HasAdjustmentColumn reports whether the price list
// adjustment feature is installed in the schema.
type Store interface {
	ItemPrice(ctx context.Context, item, priceList string) (ItemPrice, error)
	StandardRate(ctx context.Context, item string) (decimal.Decimal, error)
	PriceListAdjustment(ctx context.Context, priceList string) (Adjustment, error)
	HasAdjustmentColumn(ctx context.Context) (bool, error)
}

var (
	// ErrPriceNotFound is returned by stores for missing prices.
	ErrPriceNotFound = errors.New("pricing: price not found")
	// ErrNoAdjustment is returned by stores for price lists without adjustment.
	ErrNoAdjustment = errors.New("pricing: no adjustment")
)

// Rate sources.
const (
	SourcePriceList     = "price_list"
	SourceBasePriceList = "base_price_list"
	SourceStandardRate  = "standard_rate"
	SourceNone          = "none"
)

// Rate is the resolved selling rate of an item.
type Rate struct {
	Rate              decimal.Decimal `json:"rate"`
	Currency          string          `json:"currency"`
	IsExplicit        bool            `json:"is_explicit"`
	AdjustmentApplied bool            `json:"adjustment_applied"`
	Source            string          `json:"source"`
}

// Resolver layers price list, base price list and standard rate.
type Resolver struct {
	store           Store
	defaultCurrency currency.Unit
}

// NewResolver builds Resolver. An unknown default currency falls back to IDR.
func NewResolver(store Store, defaultCurrency string) *Resolver {
	unit, err := currency.ParseISO(strings.TrimSpace(defaultCurrency))
	if err != nil {
		unit = currency.IDR
	}
	return &Resolver{store: store, defaultCurrency: unit}
}

// ResolveRate returns the most specific rate of the item. The adjustment of
// priceList is applied when the schema carries it.
func (r *Resolver) ResolveRate(ctx context.Context, item, priceList, basePriceList string) (Rate, error) {
	res := Rate{Rate: decimal.Zero, Currency: r.defaultCurrency.String(), Source: SourceNone}

	found := false
	for _, tier := range []struct {
		list   string
		source string
	}{{priceList, SourcePriceList}, {basePriceList, SourceBasePriceList}} {
		if tier.list == "" {
			continue
		}
		price, err := r.store.ItemPrice(ctx, item, tier.list)
		if errors.Is(err, ErrPriceNotFound) {
			continue
		}
		if err != nil {
			return Rate{}, err
		}
		if !price.Rate.IsPositive() {
			continue
		}
		res.Rate = price.Rate
		res.Currency = r.currency(price.Currency).String()
		res.IsExplicit = tier.source == SourcePriceList
		res.Source = tier.source
		found = true
		break
	}
	if !found {
		std, err := r.store.StandardRate(ctx, item)
		if err != nil && !errors.Is(err, ErrPriceNotFound) {
			return Rate{}, err
		}
		if err == nil && std.IsPositive() {
			res.Rate = std
			res.Source = SourceStandardRate
		}
	}

	// an adjustment never invents a price for an unpriced item
	if priceList == "" || res.Source == SourceNone {
		return res, nil
	}
	installed, err := r.store.HasAdjustmentColumn(ctx)
	if err != nil {
		return Rate{}, err
	}
	if !installed {
		return res, nil
	}
	adj, err := r.store.PriceListAdjustment(ctx, priceList)
	if errors.Is(err, ErrNoAdjustment) {
		return res, nil
	}
	if err != nil {
		return Rate{}, err
	}
	if adj.Value.IsZero() || (adj.Kind != AdjustPercent && adj.Kind != AdjustFlat) {
		return res, nil
	}
	unit := r.currency(res.Currency)
	scale, _ := currency.Standard.Rounding(unit)
	res.Rate = adj.Apply(res.Rate).Round(int32(scale))
	res.AdjustmentApplied = true
	return res, nil
}

func (r *Resolver) currency(code string) currency.Unit {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return r.defaultCurrency
	}
	return unit
}

// Channels a price list can be chosen for.
const (
	ChannelPOS       = "pos"
	ChannelSelfOrder = "self_order"
)

// ApplyChannel returns the price list of the profile for a menu channel,
// falling back to the profile's default price list.
func ApplyChannel(profile settings.Profile, channel string) string {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if list, ok := profile.ChannelPriceLists[channel]; ok && strings.TrimSpace(list) != "" {
		return list
	}
	return profile.PriceList
}
