package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"restaurant-sync/internal/domain"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrRequestNotFound = errors.New("request not found")
)

// DB is the subset of pgxpool.Pool the repository needs; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the authoritative persistence for orders and table requests.
type Store struct {
	db DB
}

func NewStore(db DB) *Store { return &Store{db: db} }

func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
            id BIGSERIAL PRIMARY KEY,
            order_number TEXT UNIQUE NOT NULL,
            table_id BIGINT NOT NULL,
            table_number TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'PENDING',
            total_amount DOUBLE PRECISION NOT NULL,
            note TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS order_items (
            id BIGSERIAL PRIMARY KEY,
            order_id BIGINT NOT NULL REFERENCES orders(id),
            product_id BIGINT NOT NULL,
            name TEXT NOT NULL,
            quantity INT NOT NULL,
            unit_price DOUBLE PRECISION NOT NULL,
            note TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS table_requests (
            id BIGSERIAL PRIMARY KEY,
            table_id BIGINT NOT NULL,
            table_number TEXT NOT NULL DEFAULT '',
            request_type TEXT NOT NULL,
            message TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'PENDING',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            resolved_at TIMESTAMPTZ
        )`,
		`CREATE INDEX IF NOT EXISTS idx_orders_table ON orders(table_id)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON table_requests(status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// CreateOrder inserts the order and its items in one transaction and returns
// the stored representation.
func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
INSERT INTO orders (order_number, table_id, table_number, status, total_amount, note)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at
`, order.OrderNumber, order.TableID, order.TableNumber, string(order.Status), order.TotalAmount, order.Note).
		Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := tx.Exec(ctx, `
INSERT INTO order_items (order_id, product_id, name, quantity, unit_price, note)
VALUES ($1, $2, $3, $4, $5, $6)
`, order.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice, item.Note); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	var order domain.Order
	var status string
	err := s.db.QueryRow(ctx, `
SELECT id, order_number, table_id, table_number, status, total_amount, note, created_at
FROM orders WHERE id = $1
`, id).Scan(&order.ID, &order.OrderNumber, &order.TableID, &order.TableNumber,
		&status, &order.TotalAmount, &order.Note, &order.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)

	items, err := s.itemsFor(ctx, []int64{id})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[id]
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.listOrders(ctx, `
SELECT id, order_number, table_id, table_number, status, total_amount, note, created_at
FROM orders ORDER BY created_at DESC, id DESC
`)
}

func (s *Store) ListOrdersByTable(ctx context.Context, tableID int64) ([]domain.Order, error) {
	return s.listOrders(ctx, `
SELECT id, order_number, table_id, table_number, status, total_amount, note, created_at
FROM orders WHERE table_id = $1 ORDER BY created_at DESC, id DESC
`, tableID)
}

func (s *Store) listOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	var ids []int64
	for rows.Next() {
		var order domain.Order
		var status string
		if err := rows.Scan(&order.ID, &order.OrderNumber, &order.TableID, &order.TableNumber,
			&status, &order.TotalAmount, &order.Note, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.Status = domain.OrderStatus(status)
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := s.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) itemsFor(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	rows, err := s.db.Query(ctx, `
SELECT order_id, product_id, name, quantity, unit_price, note
FROM order_items WHERE order_id = ANY($1) ORDER BY id
`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.OrderItem)
	for rows.Next() {
		var orderID int64
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice, &item.Note); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], item)
	}
	return out, rows.Err()
}

// UpdateOrderStatus stores the new status; transition validity is the
// service's responsibility.
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	tag, err := s.db.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *Store) CreateRequest(ctx context.Context, req domain.TableRequest) (domain.TableRequest, error) {
	err := s.db.QueryRow(ctx, `
INSERT INTO table_requests (table_id, table_number, request_type, message, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at
`, req.TableID, req.TableNumber, req.RequestType, req.Message, string(req.Status)).
		Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return domain.TableRequest{}, fmt.Errorf("insert request: %w", err)
	}
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id int64) (domain.TableRequest, error) {
	req, err := scanRequest(s.db.QueryRow(ctx, `
SELECT id, table_id, table_number, request_type, message, status, created_at, resolved_at
FROM table_requests WHERE id = $1
`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TableRequest{}, ErrRequestNotFound
	}
	return req, err
}

func (s *Store) ListRequests(ctx context.Context) ([]domain.TableRequest, error) {
	return s.listRequests(ctx, `
SELECT id, table_id, table_number, request_type, message, status, created_at, resolved_at
FROM table_requests ORDER BY created_at DESC, id DESC
`)
}

func (s *Store) ListPendingRequests(ctx context.Context) ([]domain.TableRequest, error) {
	return s.listRequests(ctx, `
SELECT id, table_id, table_number, request_type, message, status, created_at, resolved_at
FROM table_requests WHERE status = 'PENDING' ORDER BY created_at ASC, id ASC
`)
}

func (s *Store) listRequests(ctx context.Context, query string) ([]domain.TableRequest, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TableRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// UpdateRequestStatus stores the new status. resolved_at is set exactly when
// the request becomes RESOLVED and cleared otherwise.
func (s *Store) UpdateRequestStatus(ctx context.Context, id int64, status domain.RequestStatus) error {
	var resolvedAt *time.Time
	if status == domain.RequestResolved {
		now := time.Now().UTC()
		resolvedAt = &now
	}
	tag, err := s.db.Exec(ctx, `
UPDATE table_requests SET status = $2, resolved_at = $3 WHERE id = $1
`, id, string(status), resolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// NextOrderSequence returns the next per-day order counter used to build
// order numbers (ORD_YYYYMMDD_NNN).
func (s *Store) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*) + 1 FROM orders WHERE created_at::date = $1::date
`, day).Scan(&n)
	return n, err
}

func scanRequest(row pgx.Row) (domain.TableRequest, error) {
	var req domain.TableRequest
	var status string
	if err := row.Scan(&req.ID, &req.TableID, &req.TableNumber, &req.RequestType,
		&req.Message, &status, &req.CreatedAt, &req.ResolvedAt); err != nil {
		return domain.TableRequest{}, err
	}
	req.Status = domain.RequestStatus(status)
	return req, nil
}
