// Package customization resolves the modifier options chosen on an order line
// into a price delta, a quantity factor and per-component quantity deltas.
package customization

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ComponentDelta is an additive per-unit quantity of another item.
type ComponentDelta struct {
	ItemCode string  `json:"item_code"`
	Qty      float64 `json:"qty"`
}

// Modifier is the effect a selected option has on the line's components.
type Modifier struct {
	QtyFactor       *float64         `json:"qty_factor,omitempty"`
	ComponentDeltas []ComponentDelta `json:"component_deltas,omitempty"`
}

// Option is a single cataloged choice inside a group.
type Option struct {
	Name       string          `json:"name"`
	Label      string          `json:"label"`
	Value      string          `json:"value"`
	LinkedItem string          `json:"linked_item,omitempty"`
	PriceDelta decimal.Decimal `json:"price_delta"`
	Modifiers  []Modifier      `json:"modifiers,omitempty"`
}

// DisplayName returns the label shown to staff.
func (o Option) DisplayName() string {
	for _, s := range []string{o.Label, o.Name, o.Value} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// Group is an option group such as size, spice or toppings.
type Group struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Options []Option `json:"options"`
}

// DisplayName returns the group label shown to staff.
func (g Group) DisplayName() string {
	if strings.TrimSpace(g.Label) != "" {
		return g.Label
	}
	return g.Name
}

// Catalog lists the option groups declared for an item, in declaration order.
type Catalog struct {
	ItemCode string  `json:"item_code"`
	Groups   []Group `json:"groups"`
}

// Selection is one canonical (group, value) pair chosen by the client.
// Name and Label carry alternative spellings from object payloads.
type Selection struct {
	Group string
	Value string
	Name  string
	Label string
}

func (s Selection) tokens() []string {
	out := make([]string, 0, 3)
	for _, v := range []string{s.Value, s.Name, s.Label} {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// DetailEntry is one group line of the human readable summary.
type DetailEntry struct {
	Group  string   `json:"group"`
	Values []string `json:"values"`
}

// Details renders as "Size: Large | Toppings: Cheese, Olives".
type Details []DetailEntry

func (d Details) String() string {
	parts := make([]string, 0, len(d))
	for _, e := range d {
		if len(e.Values) == 0 {
			continue
		}
		parts = append(parts, e.Group+": "+strings.Join(e.Values, ", "))
	}
	return strings.Join(parts, " | ")
}

// Resolution is the composed effect of all matched selections.
type Resolution struct {
	QtyFactor       float64
	ComponentDeltas []ComponentDelta
	PriceDelta      decimal.Decimal
	Details         Details
	LinkedItems     []string
}

// IsIdentity reports whether applying the resolution changes nothing.
func (r Resolution) IsIdentity() bool {
	if r.QtyFactor != 1 {
		return false
	}
	for _, d := range r.ComponentDeltas {
		if d.Qty != 0 {
			return false
		}
	}
	return true
}

// Delta returns the accumulated delta for a component code.
func (r Resolution) Delta(itemCode string) (float64, bool) {
	for _, d := range r.ComponentDeltas {
		if d.ItemCode == itemCode {
			return d.Qty, true
		}
	}
	return 0, false
}

// PackedRow is a component line belonging to a parent item on a document.
type PackedRow struct {
	ParentItem string  `json:"parent_item"`
	ItemCode   string  `json:"item_code"`
	ItemName   string  `json:"item_name,omitempty"`
	UOM        string  `json:"uom,omitempty"`
	Warehouse  string  `json:"warehouse,omitempty"`
	Qty        float64 `json:"qty"`
}
