package customization

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// CatalogSource reads item option catalogs.
type CatalogSource interface {
	ItemCatalog(ctx context.Context, itemCode string) (Catalog, error)
}

// ErrCatalogNotFound is returned by sources for items without options.
var ErrCatalogNotFound = errors.New("customization: catalog not found")

// Resolver composes modifiers for an order line.
type Resolver struct {
	source CatalogSource
}

// NewResolver builds Resolver.
func NewResolver(source CatalogSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve loads the item catalog and resolves the selections against it.
// Items without a catalog resolve to the identity.
func (r *Resolver) Resolve(ctx context.Context, itemCode string, selections []Selection) (Resolution, error) {
	if len(selections) == 0 || r.source == nil {
		return identity(), nil
	}
	catalog, err := r.source.ItemCatalog(ctx, itemCode)
	if err != nil {
		if errors.Is(err, ErrCatalogNotFound) {
			return identity(), nil
		}
		return Resolution{}, err
	}
	return ResolveCatalog(catalog, selections), nil
}

func identity() Resolution {
	return Resolution{QtyFactor: 1, PriceDelta: decimal.Zero}
}

// ResolveCatalog matches selections case-insensitively on option label, name
// or value. Quantity factors multiply, component deltas and price deltas
// add. Selections without a matching option are ignored.
func ResolveCatalog(catalog Catalog, selections []Selection) Resolution {
	res := identity()
	index := map[string]int{}
	details := map[int][]string{}

	for _, sel := range selections {
		gi, opt, ok := matchSelection(catalog, sel)
		if !ok {
			continue
		}
		res.PriceDelta = res.PriceDelta.Add(opt.PriceDelta)
		for _, m := range opt.Modifiers {
			if m.QtyFactor != nil {
				res.QtyFactor *= *m.QtyFactor
			}
			for _, d := range m.ComponentDeltas {
				if d.ItemCode == "" {
					continue
				}
				if i, seen := index[d.ItemCode]; seen {
					res.ComponentDeltas[i].Qty += d.Qty
					continue
				}
				index[d.ItemCode] = len(res.ComponentDeltas)
				res.ComponentDeltas = append(res.ComponentDeltas, d)
			}
		}
		if opt.LinkedItem != "" {
			res.LinkedItems = append(res.LinkedItems, opt.LinkedItem)
		}
		details[gi] = append(details[gi], opt.DisplayName())
	}

	for gi, g := range catalog.Groups {
		if values, ok := details[gi]; ok {
			res.Details = append(res.Details, DetailEntry{Group: g.DisplayName(), Values: values})
		}
	}
	return res
}

func matchSelection(catalog Catalog, sel Selection) (int, Option, bool) {
	group := fold(sel.Group)
	groupKnown := false
	for gi, g := range catalog.Groups {
		if fold(g.Name) != group && fold(g.Label) != group {
			continue
		}
		groupKnown = true
		if opt, ok := matchOption(g, sel); ok {
			return gi, opt, true
		}
	}
	if groupKnown {
		return 0, Option{}, false
	}
	// legacy payloads sometimes carry a stale group key
	for gi, g := range catalog.Groups {
		if opt, ok := matchOption(g, sel); ok {
			return gi, opt, true
		}
	}
	return 0, Option{}, false
}

func matchOption(g Group, sel Selection) (Option, bool) {
	tokens := sel.tokens()
	for _, opt := range g.Options {
		for _, candidate := range []string{opt.Label, opt.Name, opt.Value} {
			if strings.TrimSpace(candidate) == "" {
				continue
			}
			c := fold(candidate)
			for _, t := range tokens {
				if fold(t) == c {
					return opt, true
				}
			}
		}
	}
	return Option{}, false
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
