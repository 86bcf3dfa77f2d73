package items

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-pos/odyssey-pos/internal/platform/db"
)

// Repository reads the item master, attributes and BOMs.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const itemColumns = `item_code, item_name, COALESCE(description, ''), COALESCE(item_group, ''), COALESCE(stock_uom, ''),
	is_sales_item, is_stock_item, has_variants, COALESCE(variant_of, ''), disabled, standard_rate,
	COALESCE(kitchen_station, ''), updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var (
		it   Item
		rate pgtype.Numeric
	)
	err := row.Scan(&it.Code, &it.Name, &it.Description, &it.ItemGroup, &it.UOM,
		&it.IsSalesItem, &it.IsStockItem, &it.HasVariants, &it.VariantOf, &it.Disabled, &rate,
		&it.Station, &it.UpdatedAt)
	if err != nil {
		return Item{}, err
	}
	it.StandardRate = db.Decimal(rate)
	return it, nil
}

// GetItem loads one item with its attribute rows.
func (r *Repository) GetItem(ctx context.Context, code string) (Item, error) {
	it, err := scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE item_code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT attribute, COALESCE(attribute_value, '')
		FROM item_attributes WHERE item_code = $1 ORDER BY idx`, code)
	if err != nil {
		return Item{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var attr Attribute
		if err := rows.Scan(&attr.Name, &attr.Value); err != nil {
			return Item{}, err
		}
		it.Attributes = append(it.Attributes, attr)
	}
	return it, rows.Err()
}

// List returns items matching the filters and the total count.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Item, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if !filters.IncludeAll {
		where += ` AND disabled = FALSE AND has_variants = FALSE`
	}
	if filters.SalesOnly {
		where += ` AND is_sales_item = TRUE`
	}
	if filters.ItemGroup != "" {
		args = append(args, filters.ItemGroup)
		where += ` AND item_group = $` + strconv.Itoa(len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where += ` AND (item_name ILIKE $` + strconv.Itoa(len(args)) + ` OR item_code ILIKE $` + strconv.Itoa(len(args)) + `)`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + itemColumns + ` FROM items` + where + ` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)
	if filters.Limit > 0 {
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, filters.Limit, offset)
		query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, it)
	}
	return out, total, rows.Err()
}

// ListVariantsByAttribute returns variant codes of the template carrying the
// exact attribute value.
func (r *Repository) ListVariantsByAttribute(ctx context.Context, template, attribute, value string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT a.item_code
		FROM item_attributes a
		JOIN items i ON i.item_code = a.item_code
		WHERE i.variant_of = $1 AND a.attribute = $2 AND a.attribute_value = $3
		ORDER BY a.item_code`, template, attribute, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// DefaultBOM returns the active default BOM of the item.
func (r *Repository) DefaultBOM(ctx context.Context, code string) (BOM, error) {
	var bom BOM
	err := r.db.QueryRow(ctx, `SELECT name, item, quantity FROM boms
		WHERE item = $1 AND is_active AND is_default
		ORDER BY modified_at DESC LIMIT 1`, code).Scan(&bom.Name, &bom.Item, &bom.Quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BOM{}, ErrBOMNotFound
		}
		return BOM{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT b.item_code, COALESCE(i.item_name, b.item_code), COALESCE(i.stock_uom, ''), b.qty
		FROM bom_items b
		LEFT JOIN items i ON i.item_code = b.item_code
		WHERE b.bom = $1 ORDER BY b.idx`, bom.Name)
	if err != nil {
		return BOM{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c BOMComponent
		if err := rows.Scan(&c.ItemCode, &c.ItemName, &c.UOM, &c.Qty); err != nil {
			return BOM{}, err
		}
		bom.Components = append(bom.Components, c)
	}
	return bom, rows.Err()
}

// ProductBundle returns the items packed with a bundle item, per one
// bundle. ErrBOMNotFound when the item is not a bundle.
func (r *Repository) ProductBundle(ctx context.Context, code string) ([]BOMComponent, error) {
	rows, err := r.db.Query(ctx, `SELECT b.item_code, COALESCE(i.item_name, b.item_code), COALESCE(i.stock_uom, ''), b.qty
		FROM product_bundle_items b
		LEFT JOIN items i ON i.item_code = b.item_code
		WHERE b.parent_item = $1 ORDER BY b.idx`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BOMComponent
	for rows.Next() {
		var c BOMComponent
		if err := rows.Scan(&c.ItemCode, &c.ItemName, &c.UOM, &c.Qty); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrBOMNotFound
	}
	return out, nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "item_code " + dir
	case "rate":
		return "standard_rate " + dir
	case "group":
		return "item_group " + dir + ", item_name " + dir
	default:
		return "item_name " + dir
	}
}
