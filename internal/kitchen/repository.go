package kitchen

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-pos/odyssey-pos/internal/platform/db"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository persists kitchen tickets in PostgreSQL.
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

func (r *PgRepository) store() *pgStore { return &pgStore{q: r.pool} }

func (r *PgRepository) GetTicket(ctx context.Context, id string) (Ticket, error) {
	return r.store().GetTicket(ctx, id)
}

func (r *PgRepository) GetItem(ctx context.Context, id string) (Item, error) {
	return r.store().GetItem(ctx, id)
}

func (r *PgRepository) SaveItem(ctx context.Context, item Item) (Item, error) {
	return r.store().SaveItem(ctx, item)
}

func (r *PgRepository) SaveTicket(ctx context.Context, ticket Ticket) (Ticket, error) {
	return r.store().SaveTicket(ctx, ticket)
}

func (r *PgRepository) InsertTicket(ctx context.Context, ticket Ticket) (Ticket, error) {
	var out Ticket
	err := r.WithTx(ctx, func(ctx context.Context, s Store) error {
		var err error
		out, err = s.InsertTicket(ctx, ticket)
		return err
	})
	return out, err
}

func (r *PgRepository) TicketedLines(ctx context.Context, orderID string) (map[string]bool, error) {
	return r.store().TicketedLines(ctx, orderID)
}

func (r *PgRepository) ListTickets(ctx context.Context, filter TicketFilter) ([]Ticket, error) {
	return r.store().ListTickets(ctx, filter)
}

type pgStore struct {
	q querier
}

const (
	ticketColumns = `id::text, pos_order, branch, station, COALESCE(table_name, ''), workflow_state, version, created_at, modified_at`
	itemColumns   = `id::text, kot::text, pos_order_item, item_code, item_name, qty, COALESCE(notes, ''), COALESCE(details, ''), status, version, modified_at`
)

func scanTicket(row pgx.Row) (Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.Order, &t.Branch, &t.Station, &t.Table, &t.State, &t.Version, &t.CreatedAt, &t.ModifiedAt)
	return t, err
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.TicketID, &it.OrderLine, &it.ItemCode, &it.ItemName, &it.Qty, &it.Notes, &it.Details, &it.State, &it.Version, &it.ModifiedAt)
	return it, err
}

func (s *pgStore) GetTicket(ctx context.Context, id string) (Ticket, error) {
	t, err := scanTicket(s.q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM kot_tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, ErrTicketNotFound
	}
	if err != nil {
		return Ticket{}, err
	}
	t.Items, err = s.items(ctx, `WHERE kot = $1`, id)
	return t, err
}

func (s *pgStore) items(ctx context.Context, where string, args ...any) ([]Item, error) {
	rows, err := s.q.Query(ctx, `SELECT `+itemColumns+` FROM kot_items `+where+` ORDER BY idx`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *pgStore) GetItem(ctx context.Context, id string) (Item, error) {
	it, err := scanItem(s.q.QueryRow(ctx, `SELECT `+itemColumns+` FROM kot_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, err
}

func (s *pgStore) SaveItem(ctx context.Context, item Item) (Item, error) {
	err := s.q.QueryRow(ctx, `UPDATE kot_items
		SET status = $2, version = version + 1, modified_at = $4
		WHERE id = $1 AND version = $3
		RETURNING version`, item.ID, string(item.State), item.Version, item.ModifiedAt).Scan(&item.Version)
	err = db.TranslateError(err)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.GetItem(ctx, item.ID); errors.Is(gerr, ErrItemNotFound) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, shared.Conflictf("kitchen item %s changed since version %d", item.ID, item.Version)
	}
	return item, err
}

func (s *pgStore) SaveTicket(ctx context.Context, ticket Ticket) (Ticket, error) {
	err := s.q.QueryRow(ctx, `UPDATE kot_tickets
		SET workflow_state = $2, version = version + 1, modified_at = NOW()
		WHERE id = $1 AND version = $3
		RETURNING version, modified_at`, ticket.ID, string(ticket.State), ticket.Version).Scan(&ticket.Version, &ticket.ModifiedAt)
	err = db.TranslateError(err)
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, shared.Conflictf("kitchen ticket %s changed since version %d", ticket.ID, ticket.Version)
	}
	return ticket, err
}

func (s *pgStore) InsertTicket(ctx context.Context, t Ticket) (Ticket, error) {
	t.Version = 1
	if _, err := s.q.Exec(ctx, `INSERT INTO kot_tickets (id, pos_order, branch, station, table_name, workflow_state, version, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.Order, t.Branch, t.Station, db.NullString(t.Table), string(t.State), t.Version, t.CreatedAt, t.ModifiedAt); err != nil {
		return Ticket{}, err
	}
	for i := range t.Items {
		it := &t.Items[i]
		it.Version = 1
		if _, err := s.q.Exec(ctx, `INSERT INTO kot_items (id, kot, idx, pos_order_item, item_code, item_name, qty, notes, details, status, version, modified_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			it.ID, t.ID, i+1, it.OrderLine, it.ItemCode, it.ItemName, it.Qty, db.NullString(it.Notes), db.NullString(it.Details), string(it.State), it.Version, it.ModifiedAt); err != nil {
			return Ticket{}, err
		}
	}
	return t, nil
}

func (s *pgStore) TicketedLines(ctx context.Context, orderID string) (map[string]bool, error) {
	rows, err := s.q.Query(ctx, `SELECT i.pos_order_item FROM kot_items i
		JOIN kot_tickets t ON t.id = i.kot WHERE t.pos_order = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out[line] = true
	}
	return out, rows.Err()
}

func (s *pgStore) ListTickets(ctx context.Context, filter TicketFilter) ([]Ticket, error) {
	states := make([]string, 0, len(filter.States))
	for _, st := range filter.States {
		states = append(states, string(st))
	}
	rows, err := s.q.Query(ctx, `SELECT `+ticketColumns+` FROM kot_tickets
		WHERE ($1 = '' OR branch = $1) AND ($2 = '' OR station = $2) AND ($3 = '' OR pos_order = $3)
		  AND (cardinality($4::text[]) = 0 OR workflow_state = ANY($4))
		ORDER BY created_at`, filter.Branch, filter.Station, filter.Order, states)
	if err != nil {
		return nil, err
	}
	var tickets []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tickets = append(tickets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range tickets {
		if tickets[i].Items, err = s.items(ctx, `WHERE kot = $1`, tickets[i].ID); err != nil {
			return nil, err
		}
	}
	return tickets, nil
}
