package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

const productColumns = `id, name, description, price, created_at, updated_at`

var productSortColumns = map[string]string{
	"id":         "id",
	"name":       "name",
	"price":      "price",
	"created_at": "created_at",
}

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию каталога.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = product.CreatedAt
	}

	var row *sql.Row
	if product.ID == 0 {
		row = r.db.QueryRowContext(ctx, `
			INSERT INTO products (name, description, price, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING `+productColumns,
			product.Name, product.Description, product.Price, product.CreatedAt, product.UpdatedAt,
		)
	} else {
		row = r.db.QueryRowContext(ctx, `
			INSERT INTO products (id, name, description, price, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING `+productColumns,
			product.ID, product.Name, product.Description, product.Price, product.CreatedAt, product.UpdatedAt,
		)
	}

	created, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, wrapQueryError("insert product", err)
	}

	if product.ID != 0 {
		// Явный ID не двигает BIGSERIAL, подтягиваем последовательность вручную.
		if _, err := r.db.ExecContext(ctx, `
			SELECT setval(pg_get_serial_sequence('products', 'id'), (SELECT MAX(id) FROM products))
		`); err != nil {
			return domain.Product{}, fmt.Errorf("sync products sequence: %w", err)
		}
	}
	return created, nil
}

func (r *productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return selectProduct(ctx, r.db, id)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func selectProduct(ctx context.Context, q rowQuerier, id int64) (domain.Product, error) {
	product, err := scanProduct(q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, wrapQueryError("select product", err)
	}
	return product, nil
}

// txProductReader читает каталог внутри уже открытой транзакции.
type txProductReader struct {
	tx *sql.Tx
}

func (r txProductReader) Get(ctx context.Context, id int64) (domain.Product, error) {
	return selectProduct(ctx, r.tx, id)
}

func (r *productRepository) List(ctx context.Context, query domain.ListQuery) ([]domain.Product, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total); err != nil {
		return nil, 0, wrapQueryError("count products", err)
	}

	orderBy, err := orderByClause(query.Sort, productSortColumns, "id")
	if err != nil {
		return nil, 0, err
	}

	sqlQuery, args := appendWindow(`SELECT `+productColumns+` FROM products `+orderBy, nil, query.Offset, query.Limit)
	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, wrapQueryError("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, total, nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	if err := row.Scan(
		&product.ID, &product.Name, &product.Description, &product.Price,
		&product.CreatedAt, &product.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
