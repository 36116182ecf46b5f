package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

const orderColumns = `id, product_id, quantity, total_price, user_id, status, created_at, updated_at`

// orderSortColumns сопоставляет поле сортировки с колонкой; в SQL попадают только значения из этой карты.
var orderSortColumns = map[string]string{
	"id":          "id",
	"product_id":  "product_id",
	"quantity":    "quantity",
	"total_price": "total_price",
	"status":      "status",
	"created_at":  "created_at",
	"updated_at":  "updated_at",
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		order.ID, order.ProductID, order.Quantity, order.TotalPrice,
		order.UserID, string(order.Status), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return wrapQueryError("insert order", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, wrapQueryError("select order", err)
	}
	return order, nil
}

// Update блокирует строку через SELECT ... FOR UPDATE, так что конкурентные
// обновления одного заказа проходят последовательно. Мутация читает каталог
// в той же транзакции и второго соединения из пула не берёт.
func (r *orderRepository) Update(ctx context.Context, id string, mutate domain.OrderMutation) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var updated domain.Order
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := scanOrder(tx.QueryRowContext(ctx, `
			SELECT `+orderColumns+`
			FROM orders
			WHERE id = $1
			FOR UPDATE
		`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrOrderNotFound
			}
			return wrapQueryError("select order for update", err)
		}

		next := current
		if err := mutate(&next, txProductReader{tx: tx}); err != nil {
			return err
		}
		next.ID = current.ID

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET product_id = $2,
			    quantity = $3,
			    total_price = $4,
			    user_id = $5,
			    status = $6,
			    updated_at = $7
			WHERE id = $1
		`,
			next.ID, next.ProductID, next.Quantity, next.TotalPrice,
			next.UserID, string(next.Status), next.UpdatedAt,
		); err != nil {
			return wrapQueryError("update order", err)
		}

		updated = next
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return wrapQueryError("delete order", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) List(ctx context.Context, query domain.ListQuery) ([]domain.Order, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		where string
		args  []any
	)
	if query.Status != "" {
		where = "WHERE status = $1"
		args = append(args, string(query.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapQueryError("count orders", err)
	}

	orderBy, err := orderByClause(query.Sort, orderSortColumns, "created_at")
	if err != nil {
		return nil, 0, err
	}

	sqlQuery := `SELECT ` + orderColumns + ` FROM orders ` + where + ` ` + orderBy
	sqlQuery, args = appendWindow(sqlQuery, args, query.Offset, query.Limit)

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, wrapQueryError("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	if err := row.Scan(
		&order.ID, &order.ProductID, &order.Quantity, &order.TotalPrice,
		&order.UserID, &status, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

// orderByClause строит ORDER BY с обязательным tiebreaker по id.
func orderByClause(sort domain.Sort, columns map[string]string, fallback string) (string, error) {
	field := sort.Field
	if field == "" {
		field = fallback
	}
	column, ok := columns[field]
	if !ok {
		return "", domain.FieldError("sort", fmt.Sprintf("unknown field %q", field))
	}

	direction := "ASC"
	if sort.Desc {
		direction = "DESC"
	}

	var b strings.Builder
	b.WriteString("ORDER BY ")
	b.WriteString(column)
	b.WriteString(" ")
	b.WriteString(direction)
	if column != "id" {
		b.WriteString(", id ASC")
	}
	return b.String(), nil
}

func appendWindow(query string, args []any, offset, limit int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

var _ domain.OrderRepository = (*orderRepository)(nil)
