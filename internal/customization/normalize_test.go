package customization

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMapShapes(t *testing.T) {
	got := Normalize(map[string]any{
		"toppings": []any{"Cheese", map[string]any{"name": "Olives", "value": "olive"}, []any{"Onion"}},
		"size":     "Large",
		"spice":    nil,
	})
	require.Equal(t, []Selection{
		{Group: "size", Value: "Large"},
		{Group: "toppings", Value: "Cheese"},
		{Group: "toppings", Value: "olive", Name: "Olives"},
		{Group: "toppings", Value: "Onion"},
	}, got)
}

func TestNormalizeListAndJSONString(t *testing.T) {
	got := Normalize(`[{"group":"sugar","value":"50%"},{"option_group":"ice","selected":["Less"]},{"value":"orphan"}]`)
	require.Equal(t, []Selection{
		{Group: "ice", Value: "Less"},
		{Group: "sugar", Value: "50%"},
	}, got)

	require.Empty(t, Normalize("plain text"))
	require.Empty(t, Normalize(nil))
}

func TestParseComponentDeltasForms(t *testing.T) {
	want := []ComponentDelta{{ItemCode: "MILK", Qty: 20}, {ItemCode: "SYRUP", Qty: 1}}

	require.Equal(t, want, ParseComponentDeltas(map[string]any{"SYRUP": 1.0, "MILK": 20.0}))
	require.Equal(t, want, ParseComponentDeltas([]any{
		map[string]any{"item_code": "MILK", "qty": 20.0},
		map[string]any{"item_code": "SYRUP", "qty": "1"},
	}))
	require.Equal(t, want, ParseComponentDeltas([]any{[]any{"MILK", 20.0}, []any{"SYRUP", 1.0}}))
}

func TestParseModifiersSingleOrList(t *testing.T) {
	mods := ParseModifiers(`{"qty_factor": 1.5}`)
	require.Len(t, mods, 1)
	require.InDelta(t, 1.5, *mods[0].QtyFactor, 1e-9)

	mods = ParseModifiers(`[{"qty_factor": 2}, {"components": {"SHOT": 1}}, {"ignored": true}]`)
	require.Len(t, mods, 2)
	require.Equal(t, []ComponentDelta{{ItemCode: "SHOT", Qty: 1}}, mods[1].ComponentDeltas)
}
