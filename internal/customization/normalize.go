package customization

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Normalize flattens a client customization payload into canonical
// selections. Accepted shapes: a map of group to scalar, list or
// {name,value,label} object; a list of {group,value} objects; or either of
// those encoded as a JSON string. Output is sorted by group, keeping input
// order inside a group.
func Normalize(raw any) []Selection {
	raw = decodeJSONString(raw)
	var out []Selection
	switch v := raw.(type) {
	case map[string]any:
		groups := make([]string, 0, len(v))
		for g := range v {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		for _, g := range groups {
			out = appendFlattened(out, g, v[g])
		}
	case []any:
		for _, el := range v {
			obj, ok := el.(map[string]any)
			if !ok {
				continue
			}
			group := firstString(obj, "group", "option_group", "group_name", "attribute")
			if group == "" {
				continue
			}
			if sel, ok := obj["selected"]; ok {
				out = appendFlattened(out, group, sel)
				continue
			}
			if opts, ok := obj["options"]; ok {
				out = appendFlattened(out, group, opts)
				continue
			}
			out = appendFlattened(out, group, withoutKeys(obj, "group", "option_group", "group_name", "attribute"))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

func appendFlattened(out []Selection, group string, v any) []Selection {
	v = decodeJSONString(v)
	switch val := v.(type) {
	case nil:
		return out
	case string:
		if strings.TrimSpace(val) == "" {
			return out
		}
		return append(out, Selection{Group: group, Value: strings.TrimSpace(val)})
	case float64:
		return append(out, Selection{Group: group, Value: strconv.FormatFloat(val, 'f', -1, 64)})
	case int:
		return append(out, Selection{Group: group, Value: strconv.Itoa(val)})
	case json.Number:
		return append(out, Selection{Group: group, Value: val.String()})
	case bool:
		// checkbox style groups send true for "selected"; the group name is the option
		if val {
			return append(out, Selection{Group: group, Value: group})
		}
		return out
	case []any:
		for _, el := range val {
			out = appendFlattened(out, group, el)
		}
		return out
	case []string:
		for _, el := range val {
			out = appendFlattened(out, group, el)
		}
		return out
	case map[string]any:
		if nested, ok := val["options"]; ok {
			return appendFlattened(out, group, nested)
		}
		if nested, ok := val["selected"]; ok {
			return appendFlattened(out, group, nested)
		}
		sel := Selection{
			Group: group,
			Value: firstString(val, "value"),
			Name:  firstString(val, "name", "option"),
			Label: firstString(val, "label"),
		}
		if len(sel.tokens()) == 0 {
			return out
		}
		return append(out, sel)
	}
	return out
}

func decodeJSONString(v any) any {
	var text string
	switch val := v.(type) {
	case string:
		text = strings.TrimSpace(val)
	case []byte:
		text = strings.TrimSpace(string(val))
	case json.RawMessage:
		text = strings.TrimSpace(string(val))
	default:
		return v
	}
	if text == "" || (text[0] != '{' && text[0] != '[') {
		if s, ok := v.(string); ok {
			return s
		}
		return text
	}
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return text
	}
	return decoded
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func withoutKeys(obj map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// ParseModifiers accepts a single modifier object or a list of them.
func ParseModifiers(raw any) []Modifier {
	raw = decodeJSONString(raw)
	switch v := raw.(type) {
	case map[string]any:
		if m, ok := parseModifier(v); ok {
			return []Modifier{m}
		}
	case []any:
		var out []Modifier
		for _, el := range v {
			obj, ok := el.(map[string]any)
			if !ok {
				continue
			}
			if m, ok := parseModifier(obj); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func parseModifier(obj map[string]any) (Modifier, bool) {
	var m Modifier
	for _, key := range []string{"qty_factor", "quantity_factor", "factor"} {
		if f, ok := toFloat(obj[key]); ok {
			m.QtyFactor = &f
			break
		}
	}
	for _, key := range []string{"component_deltas", "components", "deltas"} {
		if raw, ok := obj[key]; ok {
			m.ComponentDeltas = ParseComponentDeltas(raw)
			break
		}
	}
	return m, m.QtyFactor != nil || len(m.ComponentDeltas) > 0
}

// ParseComponentDeltas accepts a map of item code to qty, a list of
// {item_code, qty} objects, or a list of [code, qty] pairs.
func ParseComponentDeltas(raw any) []ComponentDelta {
	raw = decodeJSONString(raw)
	var out []ComponentDelta
	switch v := raw.(type) {
	case map[string]any:
		codes := make([]string, 0, len(v))
		for code := range v {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			if qty, ok := toFloat(v[code]); ok {
				out = append(out, ComponentDelta{ItemCode: code, Qty: qty})
			}
		}
	case []any:
		for _, el := range v {
			switch item := el.(type) {
			case map[string]any:
				code := firstString(item, "item_code", "item", "code")
				qty, ok := toFloat(firstPresent(item, "qty", "quantity", "delta"))
				if code != "" && ok {
					out = append(out, ComponentDelta{ItemCode: code, Qty: qty})
				}
			case []any:
				if len(item) != 2 {
					continue
				}
				code, _ := item[0].(string)
				qty, ok := toFloat(item[1])
				if code != "" && ok {
					out = append(out, ComponentDelta{ItemCode: code, Qty: qty})
				}
			}
		}
	}
	return out
}

func firstPresent(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
