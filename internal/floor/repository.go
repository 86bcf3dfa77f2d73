package floor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-pos/odyssey-pos/internal/platform/db"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository persists tables and orders in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgStore{q: tx})
	})
}

func (r *PgRepository) store() *pgStore {
	return &pgStore{q: r.pool, pool: r.pool}
}

func (r *PgRepository) GetTable(ctx context.Context, name string) (Table, error) {
	return r.store().GetTable(ctx, name)
}

func (r *PgRepository) SaveTable(ctx context.Context, table Table) (Table, error) {
	return r.store().SaveTable(ctx, table)
}

func (r *PgRepository) ListTables(ctx context.Context, branch string) ([]Table, error) {
	return r.store().ListTables(ctx, branch)
}

func (r *PgRepository) GetOrder(ctx context.Context, id string) (Order, error) {
	return r.store().GetOrder(ctx, id)
}

func (r *PgRepository) InsertOrder(ctx context.Context, order Order) (Order, error) {
	return r.store().InsertOrder(ctx, order)
}

func (r *PgRepository) SaveOrder(ctx context.Context, order Order) (Order, error) {
	return r.store().SaveOrder(ctx, order)
}

// LinkInvoice records the invoice generated for an order. It joins the
// transaction carried by ctx when there is one.
func (r *PgRepository) LinkInvoice(ctx context.Context, orderID, invoiceID string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return (&pgStore{q: tx}).LinkInvoice(ctx, orderID, invoiceID)
	})
}

type pgStore struct {
	q    querier
	pool *pgxpool.Pool
}

const tableColumns = `name, branch, COALESCE(floor, ''), seats, status, COALESCE(current_pos_order, ''), version, modified_at`

func scanTable(row pgx.Row) (Table, error) {
	var t Table
	err := row.Scan(&t.Name, &t.Branch, &t.Floor, &t.Seats, &t.Status, &t.CurrentOrder, &t.Version, &t.ModifiedAt)
	return t, err
}

func (s *pgStore) GetTable(ctx context.Context, name string) (Table, error) {
	t, err := scanTable(s.q.QueryRow(ctx, `SELECT `+tableColumns+` FROM restaurant_tables WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return Table{}, ErrTableNotFound
	}
	return t, err
}

func (s *pgStore) SaveTable(ctx context.Context, table Table) (Table, error) {
	err := s.q.QueryRow(ctx, `UPDATE restaurant_tables
		SET status = $2, current_pos_order = $3, version = version + 1, modified_at = NOW()
		WHERE name = $1 AND version = $4
		RETURNING version, modified_at`,
		table.Name, string(table.Status), db.NullString(table.CurrentOrder), table.Version).
		Scan(&table.Version, &table.ModifiedAt)
	err = db.TranslateError(err)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.GetTable(ctx, table.Name); errors.Is(gerr, ErrTableNotFound) {
			return Table{}, ErrTableNotFound
		}
		return Table{}, shared.Conflictf("table %s changed since version %d", table.Name, table.Version)
	}
	return table, err
}

func (s *pgStore) ListTables(ctx context.Context, branch string) ([]Table, error) {
	rows, err := s.q.Query(ctx, `SELECT `+tableColumns+` FROM restaurant_tables
		WHERE ($1 = '' OR branch = $1) ORDER BY floor, name`, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (s *pgStore) GetOrder(ctx context.Context, id string) (Order, error) {
	var (
		o                Order
		discPct, discAmt pgtype.Numeric
		claimedAt        pgtype.Timestamptz
	)
	err := s.q.QueryRow(ctx, `SELECT o.name, o.branch, o.pos_profile, o.order_type, COALESCE(o.table_name, ''),
			COALESCE(o.customer, ''), o.workflow_state, COALESCE(o.claimed_by, ''), o.claimed_at, o.queue_number,
			o.bill_requested, COALESCE(o.sales_invoice, ''), COALESCE(si.status, ''),
			o.discount_percentage, o.discount_amount, o.version, o.created_at, o.modified_at
		FROM pos_orders o
		LEFT JOIN sales_invoices si ON si.id::text = o.sales_invoice
		WHERE o.name = $1`, id).
		Scan(&o.ID, &o.Branch, &o.Profile, &o.Type, &o.Table, &o.Customer, &o.Status, &o.ClaimedBy, &claimedAt,
			&o.QueueNumber, &o.BillRequested, &o.Invoice, &o.InvoiceStatus, &discPct, &discAmt, &o.Version,
			&o.CreatedAt, &o.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		o.ClaimedAt = &t
	}
	o.DiscountPercent = db.Decimal(discPct)
	o.DiscountAmount = db.Decimal(discAmt)

	rows, err := s.q.Query(ctx, `SELECT name, item_code, COALESCE(item_name, ''), COALESCE(description, ''),
			COALESCE(uom, ''), qty, rate, amount, COALESCE(notes, ''), pos_customizations,
			COALESCE(kitchen_station, ''), COALESCE(warehouse, '')
		FROM pos_order_items WHERE pos_order = $1 ORDER BY idx`, id)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l         Line
			rate, amt pgtype.Numeric
			custom    []byte
		)
		if err := rows.Scan(&l.ID, &l.ItemCode, &l.ItemName, &l.Description, &l.UOM, &l.Qty, &rate, &amt,
			&l.Notes, &custom, &l.Station, &l.Warehouse); err != nil {
			return Order{}, err
		}
		l.Rate = db.Decimal(rate)
		l.Amount = db.Decimal(amt)
		if len(custom) > 0 {
			l.Customizations = custom
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (s *pgStore) InsertOrder(ctx context.Context, order Order) (Order, error) {
	err := s.inTx(ctx, func(q *pgStore) error {
		err := q.q.QueryRow(ctx, `INSERT INTO pos_orders (name, branch, pos_profile, order_type, table_name, customer,
				workflow_state, queue_number, bill_requested, discount_percentage, discount_amount, version, created_at, modified_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,$12,$12)
			RETURNING version`,
			order.ID, order.Branch, order.Profile, string(order.Type), db.NullString(order.Table), db.NullString(order.Customer),
			string(order.Status), order.QueueNumber, order.BillRequested, order.DiscountPercent.String(),
			order.DiscountAmount.String(), order.CreatedAt).Scan(&order.Version)
		if err != nil {
			return err
		}
		return q.replaceLines(ctx, order)
	})
	return order, err
}

func (s *pgStore) SaveOrder(ctx context.Context, order Order) (Order, error) {
	err := s.inTx(ctx, func(q *pgStore) error {
		err := q.q.QueryRow(ctx, `UPDATE pos_orders SET table_name = $3, customer = $4, workflow_state = $5,
				claimed_by = $6, claimed_at = $7, bill_requested = $8, sales_invoice = $9,
				discount_percentage = $10, discount_amount = $11, version = version + 1, modified_at = $12
			WHERE name = $1 AND version = $2
			RETURNING version`,
			order.ID, order.Version, db.NullString(order.Table), db.NullString(order.Customer), string(order.Status),
			db.NullString(order.ClaimedBy), order.ClaimedAt, order.BillRequested, db.NullString(order.Invoice),
			order.DiscountPercent.String(), order.DiscountAmount.String(), order.ModifiedAt).Scan(&order.Version)
		err = db.TranslateError(err)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.Conflictf("order %s changed since version %d", order.ID, order.Version)
		}
		if err != nil {
			return err
		}
		return q.replaceLines(ctx, order)
	})
	return order, err
}

// LinkInvoice sets the invoice of an order. The order version moves so
// stale editors reload before changing a billed order.
func (s *pgStore) LinkInvoice(ctx context.Context, orderID, invoiceID string) error {
	tag, err := s.q.Exec(ctx, `UPDATE pos_orders
		SET sales_invoice = $2, version = version + 1, modified_at = NOW()
		WHERE name = $1`, orderID, invoiceID)
	if err != nil {
		return db.TranslateError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *pgStore) replaceLines(ctx context.Context, order Order) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM pos_order_items WHERE pos_order = $1`, order.ID); err != nil {
		return err
	}
	for i, l := range order.Lines {
		var custom any
		if len(l.Customizations) > 0 {
			custom = []byte(l.Customizations)
		}
		if _, err := s.q.Exec(ctx, `INSERT INTO pos_order_items (name, pos_order, idx, item_code, item_name, description,
				uom, qty, rate, amount, notes, pos_customizations, kitchen_station, warehouse)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			l.ID, order.ID, i+1, l.ItemCode, l.ItemName, l.Description, l.UOM, l.Qty, l.Rate.String(),
			l.Amount.String(), l.Notes, custom, db.NullString(l.Station), db.NullString(l.Warehouse)); err != nil {
			return fmt.Errorf("floor: insert line %s: %w", l.ID, err)
		}
	}
	return nil
}

func (s *pgStore) inTx(ctx context.Context, fn func(*pgStore) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgStore{q: tx})
	})
}
