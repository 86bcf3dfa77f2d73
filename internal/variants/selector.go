package variants

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-pos/odyssey-pos/internal/masterdata/items"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// Catalog reads templates and their variants.
type Catalog interface {
	GetItem(ctx context.Context, code string) (items.Item, error)
	ListVariantsByAttribute(ctx context.Context, template, attribute, value string) ([]string, error)
}

// ErrNoVariant is returned when no enabled variant carries the selection.
var ErrNoVariant = errors.New("variants: no variant found with the selected attributes")

// Selector resolves a template and a selection to a concrete variant.
type Selector struct {
	catalog Catalog
}

// NewSelector builds Selector.
func NewSelector(catalog Catalog) *Selector {
	return &Selector{catalog: catalog}
}

// Choose returns the variant of template named by explicit, or the one
// carrying every selected attribute value when explicit is empty.
func (s *Selector) Choose(ctx context.Context, template string, attrs map[string]string, explicit string) (items.Item, error) {
	tmpl, err := s.item(ctx, template)
	if err != nil {
		return items.Item{}, err
	}
	if !tmpl.IsTemplate() {
		return items.Item{}, shared.Validationf("item %s is not a template", template)
	}

	if explicit = strings.TrimSpace(explicit); explicit != "" {
		variant, err := s.item(ctx, explicit)
		if err != nil {
			return items.Item{}, err
		}
		if variant.VariantOf != tmpl.Code {
			return items.Item{}, shared.Validationf("item %s is not a variant of %s", variant.Code, tmpl.Code)
		}
		if variant.Disabled {
			return items.Item{}, shared.Validationf("variant %s is disabled", variant.Code)
		}
		return variant, nil
	}

	selected := make([]items.Attribute, 0, len(tmpl.Attributes))
	for _, attr := range tmpl.Attributes {
		value, ok := lookup(attrs, attr.Name)
		if !ok {
			return items.Item{}, shared.Validationf("missing attribute: %s", attr.Name)
		}
		selected = append(selected, items.Attribute{Name: attr.Name, Value: value})
	}

	var candidates map[string]bool
	for _, attr := range selected {
		codes, err := s.catalog.ListVariantsByAttribute(ctx, tmpl.Code, attr.Name, attr.Value)
		if err != nil {
			return items.Item{}, err
		}
		next := make(map[string]bool, len(codes))
		for _, code := range codes {
			if candidates == nil || candidates[code] {
				next[code] = true
			}
		}
		candidates = next
		if len(candidates) == 0 {
			return items.Item{}, noVariant()
		}
	}

	codes := make([]string, 0, len(candidates))
	for code := range candidates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		variant, err := s.catalog.GetItem(ctx, code)
		if errors.Is(err, items.ErrItemNotFound) {
			continue
		}
		if err != nil {
			return items.Item{}, err
		}
		if variant.VariantOf == tmpl.Code && !variant.Disabled {
			return variant, nil
		}
	}
	return items.Item{}, noVariant()
}

func (s *Selector) item(ctx context.Context, code string) (items.Item, error) {
	if strings.TrimSpace(code) == "" {
		return items.Item{}, shared.Validationf("item code is required")
	}
	it, err := s.catalog.GetItem(ctx, code)
	if errors.Is(err, items.ErrItemNotFound) {
		return items.Item{}, shared.Validationf("item %s not found", code)
	}
	return it, err
}

func noVariant() error {
	return fmt.Errorf("%w: %w", shared.ErrValidation, ErrNoVariant)
}

// lookup finds the selected value, matching the attribute name exactly and
// then case-insensitively.
func lookup(attrs map[string]string, name string) (string, bool) {
	if v, ok := attrs[name]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	for k, v := range attrs {
		if strings.EqualFold(strings.TrimSpace(k), name) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}
