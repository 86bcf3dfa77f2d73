package variants

import (
	"context"
	"errors"
	"strings"

	"github.com/odyssey-pos/odyssey-pos/internal/floor"
	"github.com/odyssey-pos/odyssey-pos/internal/masterdata/items"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// LineEditor applies a guarded mutation to an order line.
type LineEditor interface {
	UpdateLine(ctx context.Context, orderID, lineID string, mutate func(*floor.Line) error) (floor.Line, error)
}

// Service swaps template lines for concrete variants.
type Service struct {
	catalog  Catalog
	selector *Selector
	orders   LineEditor
}

// NewService builds Service.
func NewService(catalog Catalog, orders LineEditor) *Service {
	return &Service{catalog: catalog, selector: NewSelector(catalog), orders: orders}
}

// ChooseRequest selects a variant by attributes or by explicit item code.
type ChooseRequest struct {
	OrderID    string            `json:"order_id" validate:"required"`
	LineID     string            `json:"line_id" validate:"required"`
	Attributes map[string]string `json:"selected_attributes"`
	Variant    string            `json:"variant_item"`
}

// ChooseVariantForOrderItem resolves the variant and rewrites the line in
// place. Quantity and notes are kept; the rate follows the variant standard
// rate when it has one.
func (s *Service) ChooseVariantForOrderItem(ctx context.Context, req ChooseRequest) (floor.Line, error) {
	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.LineID) == "" {
		return floor.Line{}, shared.Validationf("order id and line id are required")
	}
	if len(req.Attributes) == 0 && strings.TrimSpace(req.Variant) == "" {
		return floor.Line{}, shared.Validationf("selected attributes or a variant item are required")
	}
	return s.orders.UpdateLine(ctx, req.OrderID, req.LineID, func(line *floor.Line) error {
		template, err := s.templateOf(ctx, line.ItemCode)
		if err != nil {
			return err
		}
		variant, err := s.selector.Choose(ctx, template, req.Attributes, req.Variant)
		if err != nil {
			return err
		}
		applyVariant(line, variant)
		return nil
	})
}

// templateOf lets a line that already carries a variant be switched again.
func (s *Service) templateOf(ctx context.Context, code string) (string, error) {
	it, err := s.catalog.GetItem(ctx, code)
	if errors.Is(err, items.ErrItemNotFound) {
		return "", shared.Validationf("item %s not found", code)
	}
	if err != nil {
		return "", err
	}
	if !it.HasVariants && it.VariantOf != "" {
		return it.VariantOf, nil
	}
	return it.Code, nil
}

func applyVariant(line *floor.Line, variant items.Item) {
	line.ItemCode = variant.Code
	line.ItemName = variant.DisplayName()
	line.Description = variant.DisplayName()
	if variant.Description != "" {
		line.Description = variant.Description
	}
	if variant.UOM != "" {
		line.UOM = variant.UOM
	}
	if variant.StandardRate.IsPositive() {
		line.Rate = variant.StandardRate
	}
	if variant.Station != "" {
		line.Station = variant.Station
	}
	line.Recalculate()
}
