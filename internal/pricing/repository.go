package pricing

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-pos/odyssey-pos/internal/platform/db"
)

// Repository reads prices from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool

	mu        sync.Mutex
	checked   bool
	installed bool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ItemPrice implements Store.
func (r *Repository) ItemPrice(ctx context.Context, item, priceList string) (ItemPrice, error) {
	var (
		rate pgtype.Numeric
		p    ItemPrice
	)
	err := r.pool.QueryRow(ctx, `SELECT ip.price_list_rate, COALESCE(NULLIF(ip.currency, ''), pl.currency, '')
		FROM item_prices ip
		LEFT JOIN price_lists pl ON pl.name = ip.price_list
		WHERE ip.item_code = $1 AND ip.price_list = $2
		  AND (ip.valid_from IS NULL OR ip.valid_from <= CURRENT_DATE)
		  AND (ip.valid_upto IS NULL OR ip.valid_upto >= CURRENT_DATE)
		ORDER BY ip.valid_from DESC NULLS LAST
		LIMIT 1`, item, priceList).Scan(&rate, &p.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return ItemPrice{}, ErrPriceNotFound
	}
	if err != nil {
		return ItemPrice{}, err
	}
	p.Rate = db.Decimal(rate)
	return p, nil
}

// StandardRate implements Store.
func (r *Repository) StandardRate(ctx context.Context, item string) (decimal.Decimal, error) {
	var rate pgtype.Numeric
	err := r.pool.QueryRow(ctx, `SELECT standard_rate FROM items WHERE item_code = $1`, item).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrPriceNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return db.Decimal(rate), nil
}

// HasAdjustmentColumn checks information_schema once per process.
func (r *Repository) HasAdjustmentColumn(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.checked {
		return r.installed, nil
	}
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM information_schema.columns
		WHERE table_name = 'price_lists' AND column_name IN ('adjustment_type', 'adjustment_value')`).Scan(&n)
	if err != nil {
		return false, err
	}
	r.checked = true
	r.installed = n == 2
	return r.installed, nil
}

// PriceListAdjustment implements Store. Only call after HasAdjustmentColumn.
func (r *Repository) PriceListAdjustment(ctx context.Context, priceList string) (Adjustment, error) {
	var (
		kind  string
		value pgtype.Numeric
	)
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(adjustment_type, ''), adjustment_value
		FROM price_lists WHERE name = $1`, priceList).Scan(&kind, &value)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && kind == "") {
		return Adjustment{}, ErrNoAdjustment
	}
	if err != nil {
		return Adjustment{}, err
	}
	return Adjustment{Kind: AdjustmentKind(kind), Value: db.Decimal(value)}, nil
}
