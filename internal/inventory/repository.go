package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-pos/odyssey-pos/internal/platform/db"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertTransaction(ctx context.Context, tx Transaction) error
	InsertTransactionLines(ctx context.Context, txID string, lines []TransactionLine) error
	GetBalanceForUpdate(ctx context.Context, warehouse, itemCode string) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertCardEntry(ctx context.Context, card StockCardEntry, txID string) error
	FindByReference(ctx context.Context, txType TransactionType, refID, warehouse string) (Transaction, error)
}

type txRepository struct {
	tx pgx.Tx
}

var (
	// ErrBalanceNotFound indicates missing bin row.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
	// ErrTransactionNotFound indicates no movement matches the lookup.
	ErrTransactionNotFound = errors.New("inventory: transaction not found")
)

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetBalance reads the bin of an item without locking.
func (r *Repository) GetBalance(ctx context.Context, warehouse, itemCode string) (Balance, error) {
	var bal Balance
	err := r.pool.QueryRow(ctx, `SELECT warehouse, item_code, actual_qty, valuation_rate, updated_at
FROM bins WHERE warehouse=$1 AND item_code=$2`, warehouse, itemCode).
		Scan(&bal.Warehouse, &bal.ItemCode, &bal.Qty, &bal.AvgCost, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{Warehouse: warehouse, ItemCode: itemCode}, ErrBalanceNotFound
	}
	return bal, err
}

// GetStockCard lists ledger entries of one item in one warehouse.
func (r *Repository) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT tx_code, tx_type, item_code, warehouse, posted_at, qty_in, qty_out, balance_qty, unit_cost, balance_cost, note
FROM stock_ledger_entries
WHERE warehouse=$1 AND item_code=$2 AND posted_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY posted_at ASC, id ASC
LIMIT $5`, filter.Warehouse, filter.ItemCode, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cards := []StockCardEntry{}
	for rows.Next() {
		var entry StockCardEntry
		if err := rows.Scan(&entry.TxCode, &entry.TxType, &entry.ItemCode, &entry.Warehouse, &entry.PostedAt, &entry.QtyIn, &entry.QtyOut, &entry.BalanceQty, &entry.UnitCost, &entry.BalanceCost, &entry.Note); err != nil {
			return nil, err
		}
		cards = append(cards, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cards, nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, tx Transaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_entries (id, code, entry_type, warehouse, ref_module, ref_id, note, posted_at, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())`, tx.ID, tx.Code, string(tx.Type), tx.Warehouse, tx.RefModule, db.NullString(tx.RefID), tx.Note, tx.PostedAt, db.NullString(tx.CreatedBy))
	return err
}

func (r *txRepository) InsertTransactionLines(ctx context.Context, txID string, lines []TransactionLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_entry_details (entry_id, item_code, qty, unit_cost, s_warehouse, t_warehouse)
VALUES ($1,$2,$3,$4,$5,$6)`, txID, line.ItemCode, line.Qty, line.UnitCost, db.NullString(line.SrcWarehouse), db.NullString(line.DstWarehouse)); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, warehouse, itemCode string) (Balance, error) {
	var bal Balance
	err := r.tx.QueryRow(ctx, `SELECT warehouse, item_code, actual_qty, valuation_rate, updated_at FROM bins WHERE warehouse=$1 AND item_code=$2 FOR UPDATE`, warehouse, itemCode).
		Scan(&bal.Warehouse, &bal.ItemCode, &bal.Qty, &bal.AvgCost, &bal.UpdatedAt)
	if err != nil {
		err = db.TranslateError(err)
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{Warehouse: warehouse, ItemCode: itemCode}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO bins (warehouse, item_code, actual_qty, valuation_rate, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (warehouse, item_code) DO UPDATE SET actual_qty=EXCLUDED.actual_qty, valuation_rate=EXCLUDED.valuation_rate, updated_at=NOW()`, balance.Warehouse, balance.ItemCode, balance.Qty, balance.AvgCost)
	return db.TranslateError(err)
}

func (r *txRepository) InsertCardEntry(ctx context.Context, card StockCardEntry, txID string) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_ledger_entries (warehouse, item_code, entry_id, tx_code, tx_type, qty_in, qty_out, balance_qty, unit_cost, balance_cost, posted_at, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, card.Warehouse, card.ItemCode, txID, card.TxCode, string(card.TxType), card.QtyIn, card.QtyOut, card.BalanceQty, card.UnitCost, card.BalanceCost, card.PostedAt, card.Note)
	return err
}

func (r *txRepository) FindByReference(ctx context.Context, txType TransactionType, refID, warehouse string) (Transaction, error) {
	var tx Transaction
	err := r.tx.QueryRow(ctx, `SELECT id::text, code, entry_type, warehouse, ref_module, COALESCE(ref_id, ''), note, posted_at, COALESCE(created_by, '')
FROM stock_entries WHERE entry_type=$1 AND ref_id=$2 AND warehouse=$3
LIMIT 1`, string(txType), refID, warehouse).
		Scan(&tx.ID, &tx.Code, &tx.Type, &tx.Warehouse, &tx.RefModule, &tx.RefID, &tx.Note, &tx.PostedAt, &tx.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
