package customization

// ApplyToPacked applies a resolution to the packed rows of one parent item.
// Existing rows of the parent are scaled by the quantity factor; components
// named in the deltas receive baseQty*delta, added to the existing row or
// appended as a new row. Zero deltas never create a row. Rows of other
// parents pass through untouched. The returned slice is a new slice.
func ApplyToPacked(rows []PackedRow, parent string, baseQty float64, res Resolution) []PackedRow {
	factor := res.QtyFactor
	out := make([]PackedRow, 0, len(rows)+len(res.ComponentDeltas))
	position := map[string]int{}
	handled := map[string]bool{}

	for _, row := range rows {
		if row.ParentItem != parent {
			out = append(out, row)
			continue
		}
		row.Qty *= factor
		if i, dup := position[row.ItemCode]; dup {
			out[i].Qty += row.Qty
			continue
		}
		position[row.ItemCode] = len(out)
		out = append(out, row)
	}

	for code, i := range position {
		if delta, ok := res.Delta(code); ok {
			out[i].Qty += baseQty * delta
			handled[code] = true
		}
	}

	for _, d := range res.ComponentDeltas {
		if handled[d.ItemCode] || d.Qty == 0 {
			continue
		}
		handled[d.ItemCode] = true
		out = append(out, PackedRow{
			ParentItem: parent,
			ItemCode:   d.ItemCode,
			Qty:        baseQty * d.Qty,
		})
	}
	return out
}
