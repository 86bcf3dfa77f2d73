package settings

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-pos/odyssey-pos/internal/platform/db"
)

// Repository reads POS profiles and restaurant settings from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Profile implements Source.
func (r *Repository) Profile(ctx context.Context, name string) (Profile, error) {
	var (
		p                 Profile
		channels          []byte
		tolerance, taxPct pgtype.Numeric
	)
	err := r.pool.QueryRow(ctx, `SELECT name, COALESCE(branch, ''), COALESCE(company, ''), COALESCE(warehouse, ''),
			COALESCE(consumption_warehouse, ''), COALESCE(finished_goods_warehouse, ''),
			COALESCE(selling_price_list, ''), COALESCE(base_price_list, ''), channel_price_lists,
			COALESCE(currency, ''), update_stock, allow_non_sales_items, payment_tolerance, tax_rate,
			require_opening_entry, disabled
		FROM pos_profiles WHERE name = $1`, name).
		Scan(&p.Name, &p.Branch, &p.Company, &p.Warehouse, &p.ConsumptionWarehouse, &p.FinishedGoodsWarehouse,
			&p.PriceList, &p.BasePriceList, &channels, &p.Currency, &p.UpdateStock, &p.AllowNonSalesItems,
			&tolerance, &taxPct, &p.RequireOpening, &p.Disabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	p.PaymentTolerance = db.Decimal(tolerance)
	p.TaxRate = db.Decimal(taxPct)
	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &p.ChannelPriceLists); err != nil {
			return Profile{}, err
		}
	}
	return p, nil
}

// Restaurant implements Source. A missing row yields the defaults.
func (r *Repository) Restaurant(ctx context.Context) (Restaurant, error) {
	var (
		rs       Restaurant
		stations []string
	)
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(default_branch, ''), enable_table_management, COALESCE(default_floor, ''),
			auto_release_table, enable_kot, kot_stations, COALESCE(default_kitchen_station, ''), enable_self_order
		FROM restaurant_settings WHERE id = 1`).
		Scan(&rs.DefaultBranch, &rs.EnableTables, &rs.DefaultFloor, &rs.AutoReleaseTable, &rs.EnableKOT,
			&stations, &rs.DefaultStation, &rs.EnableSelfOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return Restaurant{EnableTables: true, EnableKOT: true, AutoReleaseTable: true}, nil
	}
	if err != nil {
		return Restaurant{}, err
	}
	rs.KOTStations = stations
	return rs, nil
}

// ActiveProfiles lists the names of enabled POS profiles.
func (r *Repository) ActiveProfiles(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT name FROM pos_profiles WHERE NOT disabled ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
