package customization

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-pos/odyssey-pos/internal/platform/db"
)

// Repository reads option catalogs from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ItemCatalog returns the options declared for the item or, when the item is
// a variant, for its template.
func (r *Repository) ItemCatalog(ctx context.Context, itemCode string) (Catalog, error) {
	const query = `
		SELECT o.group_name, o.group_label, o.option_name, o.label, o.value,
		       COALESCE(o.linked_item, ''), o.price_delta, o.modifiers
		FROM item_options o
		WHERE o.item_code = $1
		   OR o.item_code = (SELECT variant_of FROM items WHERE item_code = $1 AND variant_of IS NOT NULL)
		ORDER BY o.group_idx, o.option_idx
	`
	rows, err := r.pool.Query(ctx, query, itemCode)
	if err != nil {
		return Catalog{}, err
	}
	defer rows.Close()

	catalog := Catalog{ItemCode: itemCode}
	groupIdx := map[string]int{}
	for rows.Next() {
		var (
			groupName, groupLabel string
			opt                   Option
			price                 pgtype.Numeric
			modifiers             []byte
		)
		if err := rows.Scan(&groupName, &groupLabel, &opt.Name, &opt.Label, &opt.Value, &opt.LinkedItem, &price, &modifiers); err != nil {
			return Catalog{}, err
		}
		opt.PriceDelta = db.Decimal(price)
		if len(modifiers) > 0 {
			opt.Modifiers = ParseModifiers(json.RawMessage(modifiers))
		}
		i, ok := groupIdx[groupName]
		if !ok {
			i = len(catalog.Groups)
			groupIdx[groupName] = i
			catalog.Groups = append(catalog.Groups, Group{Name: groupName, Label: groupLabel})
		}
		catalog.Groups[i].Options = append(catalog.Groups[i].Options, opt)
	}
	if err := rows.Err(); err != nil {
		return Catalog{}, err
	}
	if len(catalog.Groups) == 0 {
		return Catalog{}, ErrCatalogNotFound
	}
	return catalog, nil
}
