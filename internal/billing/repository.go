package billing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-pos/odyssey-pos/internal/platform/db"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists invoices in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, InvoiceStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgStore{q: tx})
	})
}

func (r *Repository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	var out Invoice
	err := r.WithTx(ctx, func(ctx context.Context, s InvoiceStore) error {
		var err error
		out, err = s.InsertInvoice(ctx, inv)
		return err
	})
	return out, err
}

func (r *Repository) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return (&pgStore{q: r.pool}).GetInvoice(ctx, id)
}

func (r *Repository) GetInvoiceForUpdate(ctx context.Context, id string) (Invoice, error) {
	return (&pgStore{q: r.pool}).GetInvoice(ctx, id)
}

func (r *Repository) InvoiceForOrder(ctx context.Context, orderID string) (Invoice, error) {
	return (&pgStore{q: r.pool}).InvoiceForOrder(ctx, orderID)
}

func (r *Repository) AddPayment(ctx context.Context, inv Invoice, p Payment) error {
	return r.WithTx(ctx, func(ctx context.Context, s InvoiceStore) error {
		return s.AddPayment(ctx, inv, p)
	})
}

type pgStore struct {
	q querier
}

const invoiceColumns = `id::text, pos_order, branch, pos_profile, company, COALESCE(customer, ''), currency, posting_date,
	update_stock, additional_discount_percentage, discount_amount, net_total, tax_rate, total_taxes_and_charges,
	grand_total, write_off_amount, paid_amount, outstanding_amount, status, manufacture_entries, owner, creation`

func (s *pgStore) scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv                                         Invoice
		discPct, disc, net, taxRate, tax, grand, wo pgtype.Numeric
		paid, outstanding                           pgtype.Numeric
	)
	err := row.Scan(&inv.ID, &inv.Order, &inv.Branch, &inv.Profile, &inv.Company, &inv.Customer, &inv.Currency, &inv.PostingDate,
		&inv.UpdateStock, &discPct, &disc, &net, &taxRate, &tax,
		&grand, &wo, &paid, &outstanding, &inv.Status, &inv.ManufactureEntries, &inv.CreatedBy, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	inv.DiscountPercent = db.Decimal(discPct)
	inv.DiscountAmount = db.Decimal(disc)
	inv.NetTotal = db.Decimal(net)
	inv.TaxRate = db.Decimal(taxRate)
	inv.TaxAmount = db.Decimal(tax)
	if grand.Valid {
		inv.GrandTotal.Decimal = db.Decimal(grand)
		inv.GrandTotal.Valid = true
	}
	inv.WriteOffAmount = db.Decimal(wo)
	inv.PaidAmount = db.Decimal(paid)
	inv.OutstandingAmount = db.Decimal(outstanding)
	return inv, nil
}

func (s *pgStore) load(ctx context.Context, inv Invoice) (Invoice, error) {
	rows, err := s.q.Query(ctx, `SELECT pos_order_item, item_code, item_name, description, uom, qty, original_rate,
		pos_customizations_delta, rate, amount, has_notes, COALESCE(pos_display_details, ''), warehouse, is_stock_item, has_bom
		FROM sales_invoice_items WHERE parent = $1 ORDER BY idx`, inv.ID)
	if err != nil {
		return Invoice{}, err
	}
	for rows.Next() {
		var (
			it                          Item
			original, delta, rate, amt pgtype.Numeric
		)
		if err := rows.Scan(&it.OrderLine, &it.ItemCode, &it.ItemName, &it.Description, &it.UOM, &it.Qty, &original,
			&delta, &rate, &amt, &it.HasNotes, &it.DisplayDetails, &it.Warehouse, &it.IsStockItem, &it.HasBOM); err != nil {
			rows.Close()
			return Invoice{}, err
		}
		it.OriginalRate = db.Decimal(original)
		it.CustomizationsDelta = db.Decimal(delta)
		it.Rate = db.Decimal(rate)
		it.Amount = db.Decimal(amt)
		inv.Items = append(inv.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Invoice{}, err
	}

	rows, err = s.q.Query(ctx, `SELECT parent_item, item_code, item_name, COALESCE(uom, ''), warehouse, qty
		FROM packed_items WHERE parent = $1 ORDER BY idx`, inv.ID)
	if err != nil {
		return Invoice{}, err
	}
	for rows.Next() {
		var p PackedItem
		if err := rows.Scan(&p.ParentItem, &p.ItemCode, &p.ItemName, &p.UOM, &p.Warehouse, &p.Qty); err != nil {
			rows.Close()
			return Invoice{}, err
		}
		inv.Packed = append(inv.Packed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Invoice{}, err
	}

	rows, err = s.q.Query(ctx, `SELECT mode_of_payment, amount, COALESCE(raw_amount, ''), created_at
		FROM sales_invoice_payments WHERE parent = $1 ORDER BY idx`, inv.ID)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p   Payment
			amt pgtype.Numeric
		)
		if err := rows.Scan(&p.Mode, &amt, &p.RawAmount, &p.At); err != nil {
			return Invoice{}, err
		}
		p.Amount = db.Decimal(amt)
		inv.Payments = append(inv.Payments, p)
	}
	return inv, rows.Err()
}

func (s *pgStore) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	inv, err := s.scanInvoice(s.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices WHERE id = $1`, id))
	if err != nil {
		return Invoice{}, err
	}
	return s.load(ctx, inv)
}

func (s *pgStore) GetInvoiceForUpdate(ctx context.Context, id string) (Invoice, error) {
	inv, err := s.scanInvoice(s.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Invoice{}, err
	}
	return s.load(ctx, inv)
}

func (s *pgStore) InvoiceForOrder(ctx context.Context, orderID string) (Invoice, error) {
	inv, err := s.scanInvoice(s.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices
		WHERE pos_order = $1 AND status <> 'Cancelled' ORDER BY creation DESC LIMIT 1`, orderID))
	if err != nil {
		return Invoice{}, err
	}
	return s.load(ctx, inv)
}

func (s *pgStore) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	var grand any
	if inv.GrandTotal.Valid {
		grand = inv.GrandTotal.Decimal.String()
	}
	if inv.ManufactureEntries == nil {
		inv.ManufactureEntries = []string{}
	}
	if _, err := s.q.Exec(ctx, `INSERT INTO sales_invoices (id, pos_order, branch, pos_profile, company, customer, currency, posting_date,
		update_stock, additional_discount_percentage, discount_amount, net_total, tax_rate, total_taxes_and_charges,
		grand_total, write_off_amount, paid_amount, outstanding_amount, status, manufacture_entries, owner, creation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		inv.ID, inv.Order, inv.Branch, inv.Profile, inv.Company, db.NullString(inv.Customer), inv.Currency, inv.PostingDate,
		inv.UpdateStock, inv.DiscountPercent.String(), inv.DiscountAmount.String(), inv.NetTotal.String(), inv.TaxRate.String(), inv.TaxAmount.String(),
		grand, inv.WriteOffAmount.String(), inv.PaidAmount.String(), inv.OutstandingAmount.String(), inv.Status, inv.ManufactureEntries, inv.CreatedBy, inv.CreatedAt); err != nil {
		return Invoice{}, err
	}
	for i, it := range inv.Items {
		if _, err := s.q.Exec(ctx, `INSERT INTO sales_invoice_items (parent, idx, pos_order_item, item_code, item_name, description, uom, qty,
			original_rate, pos_customizations_delta, rate, amount, has_notes, pos_display_details, warehouse, is_stock_item, has_bom)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			inv.ID, i+1, it.OrderLine, it.ItemCode, it.ItemName, it.Description, it.UOM, it.Qty,
			it.OriginalRate.String(), it.CustomizationsDelta.String(), it.Rate.String(), it.Amount.String(), it.HasNotes,
			db.NullString(it.DisplayDetails), it.Warehouse, it.IsStockItem, it.HasBOM); err != nil {
			return Invoice{}, err
		}
	}
	for i, p := range inv.Packed {
		if _, err := s.q.Exec(ctx, `INSERT INTO packed_items (parent, idx, parent_item, item_code, item_name, uom, warehouse, qty)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			inv.ID, i+1, p.ParentItem, p.ItemCode, p.ItemName, db.NullString(p.UOM), p.Warehouse, p.Qty); err != nil {
			return Invoice{}, err
		}
	}
	for i, p := range inv.Payments {
		if err := s.insertPayment(ctx, inv.ID, i+1, p); err != nil {
			return Invoice{}, err
		}
	}
	return inv, nil
}

func (s *pgStore) insertPayment(ctx context.Context, invoiceID string, idx int, p Payment) error {
	_, err := s.q.Exec(ctx, `INSERT INTO sales_invoice_payments (parent, idx, mode_of_payment, amount, raw_amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`, invoiceID, idx, p.Mode, p.Amount.String(), db.NullString(p.RawAmount), p.At)
	return err
}

func (s *pgStore) AddPayment(ctx context.Context, inv Invoice, p Payment) error {
	if err := s.insertPayment(ctx, inv.ID, len(inv.Payments), p); err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `UPDATE sales_invoices SET paid_amount = $2, outstanding_amount = $3, status = $4 WHERE id = $1`,
		inv.ID, inv.PaidAmount.String(), inv.OutstandingAmount.String(), inv.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// OpeningEntries validates POS sessions against open opening entries.
type OpeningEntries struct {
	pool *pgxpool.Pool
}

// NewOpeningEntries constructs OpeningEntries.
func NewOpeningEntries(pool *pgxpool.Pool) *OpeningEntries {
	return &OpeningEntries{pool: pool}
}

// ValidateSession implements SessionChecker.
func (o *OpeningEntries) ValidateSession(ctx context.Context, profile settings.Profile, actor string) error {
	var open bool
	err := o.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pos_opening_entries
		WHERE pos_profile = $1 AND "user" = $2 AND status = 'Open')`, profile.Name, actor).Scan(&open)
	if err != nil {
		return err
	}
	if !open {
		return shared.Validationf("no open POS session for %s on %s, create an opening entry first", actor, profile.Name)
	}
	return nil
}
