package customization

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func factor(f float64) *float64 { return &f }

func latteCatalog() Catalog {
	return Catalog{
		ItemCode: "LATTE",
		Groups: []Group{
			{Name: "size", Label: "Size", Options: []Option{
				{Name: "Regular", Label: "Regular"},
				{Name: "Large", Label: "Large", PriceDelta: decimal.RequireFromString("5000"),
					Modifiers: []Modifier{{QtyFactor: factor(1.5)}}},
			}},
			{Name: "extras", Label: "Extras", Options: []Option{
				{Name: "Extra Shot", Label: "Extra Shot", PriceDelta: decimal.RequireFromString("4000"),
					Modifiers: []Modifier{{ComponentDeltas: []ComponentDelta{{ItemCode: "ESPRESSO_SHOT", Qty: 1}}}}},
			}},
			{Name: "topping", Label: "Topping", Options: []Option{
				{Name: "Cinnamon", Value: "cinnamon",
					Modifiers: []Modifier{{ComponentDeltas: []ComponentDelta{{ItemCode: "CINNAMON", Qty: 0.2}}}}},
			}},
		},
	}
}

type staticSource map[string]Catalog

func (s staticSource) ItemCatalog(_ context.Context, item string) (Catalog, error) {
	c, ok := s[item]
	if !ok {
		return Catalog{}, ErrCatalogNotFound
	}
	return c, nil
}

func TestResolveComposesFactorsAndDeltas(t *testing.T) {
	catalog := Catalog{Groups: []Group{
		{Name: "size", Options: []Option{{Name: "Large", Modifiers: []Modifier{{QtyFactor: factor(1.5)}}}}},
		{Name: "strength", Options: []Option{{Name: "Strong", Modifiers: []Modifier{
			{QtyFactor: factor(1.2), ComponentDeltas: []ComponentDelta{{ItemCode: "BEANS", Qty: 2}}},
		}}}},
		{Name: "extra", Options: []Option{{Name: "Beans", Modifiers: []Modifier{
			{ComponentDeltas: []ComponentDelta{{ItemCode: "BEANS", Qty: 0.5}}},
		}}}},
	}}
	res := ResolveCatalog(catalog, []Selection{
		{Group: "size", Value: "large"},
		{Group: "strength", Value: "STRONG"},
		{Group: "extra", Value: "beans"},
	})
	require.InDelta(t, 1.8, res.QtyFactor, 1e-9)
	delta, ok := res.Delta("BEANS")
	require.True(t, ok)
	require.InDelta(t, 2.5, delta, 1e-9)
}

func TestResolveIgnoresUnknownSelections(t *testing.T) {
	res := ResolveCatalog(latteCatalog(), []Selection{
		{Group: "size", Value: "Gigantic"},
		{Group: "unknown", Value: "whatever"},
	})
	require.True(t, res.IsIdentity())
	require.True(t, res.PriceDelta.IsZero())
	require.Empty(t, res.Details)
}

func TestResolveMatchesLabelNameOrValue(t *testing.T) {
	res := ResolveCatalog(latteCatalog(), []Selection{{Group: "Topping", Value: "CINNAMON"}})
	delta, ok := res.Delta("CINNAMON")
	require.True(t, ok)
	require.InDelta(t, 0.2, delta, 1e-9)

	res = ResolveCatalog(latteCatalog(), []Selection{{Group: "stale-group", Name: "large"}})
	require.InDelta(t, 1.5, res.QtyFactor, 1e-9)
}

func TestResolvePriceDeltaAndDetails(t *testing.T) {
	res := ResolveCatalog(latteCatalog(), Normalize(map[string]any{
		"size":   "Large",
		"extras": []any{"Extra Shot"},
	}))
	require.True(t, res.PriceDelta.Equal(decimal.RequireFromString("9000")))
	require.Equal(t, "Size: Large | Extras: Extra Shot", res.Details.String())
}

func TestResolverWithoutCatalogIsIdentity(t *testing.T) {
	r := NewResolver(staticSource{})
	res, err := r.Resolve(context.Background(), "WATER", []Selection{{Group: "size", Value: "Large"}})
	require.NoError(t, err)
	require.True(t, res.IsIdentity())
}

func TestApplyToPackedLatteExample(t *testing.T) {
	r := NewResolver(staticSource{"LATTE": latteCatalog()})
	res, err := r.Resolve(context.Background(), "LATTE", Normalize(map[string]any{
		"size":    "Large",
		"extras":  map[string]any{"name": "Extra Shot"},
		"topping": "Cinnamon",
	}))
	require.NoError(t, err)

	rows := []PackedRow{
		{ParentItem: "LATTE", ItemCode: "ESPRESSO_SHOT", Qty: 2},
		{ParentItem: "LATTE", ItemCode: "MILK", Qty: 100},
		{ParentItem: "CROISSANT", ItemCode: "BUTTER", Qty: 1},
	}
	out := ApplyToPacked(rows, "LATTE", 2, res)
	require.Len(t, out, 4)

	byCode := map[string]PackedRow{}
	for _, row := range out {
		byCode[row.ItemCode] = row
	}
	require.InDelta(t, 5.0, byCode["ESPRESSO_SHOT"].Qty, 1e-9)
	require.InDelta(t, 150.0, byCode["MILK"].Qty, 1e-9)
	require.InDelta(t, 0.4, byCode["CINNAMON"].Qty, 1e-9)
	require.Equal(t, "LATTE", byCode["CINNAMON"].ParentItem)
	require.InDelta(t, 1.0, byCode["BUTTER"].Qty, 1e-9)
	require.Equal(t, "CINNAMON", out[3].ItemCode)
}

func TestApplyToPackedSkipsZeroDeltasAndMergesDuplicates(t *testing.T) {
	res := Resolution{QtyFactor: 1, ComponentDeltas: []ComponentDelta{{ItemCode: "SUGAR", Qty: 0}}}
	rows := []PackedRow{
		{ParentItem: "TEA", ItemCode: "LEAVES", Qty: 1},
		{ParentItem: "TEA", ItemCode: "LEAVES", Qty: 2},
	}
	out := ApplyToPacked(rows, "TEA", 3, res)
	require.Len(t, out, 1)
	require.InDelta(t, 3.0, out[0].Qty, 1e-9)
	require.True(t, res.IsIdentity())
}
