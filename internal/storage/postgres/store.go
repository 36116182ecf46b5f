// Package postgres хранит каталог, заказы, outbox и ключи идемпотентности в PostgreSQL.
//
// Доступ идёт через database/sql с драйвером pgx; схема поставляется
// встроенными миграциями (см. MigrateUp).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

// opTimeout ограничивает один запрос репозитория.
const opTimeout = 5 * time.Second

const (
	sqlstateUniqueViolation = "23505"
	sqlstateDataException   = "22"
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

type poolSettings struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
	pingTimeout time.Duration
}

// Store оборачивает пул соединений database/sql поверх драйвера pgx.
type Store struct {
	db  *sql.DB
	now func() time.Time

	pool poolSettings
}

// StoreOption настраивает Store.
type StoreOption func(*Store)

// WithStoreClock подменяет источник времени для created_at, updated_at и TTL.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPoolSize ограничивает число открытых и простаивающих соединений.
func WithPoolSize(maxOpen, maxIdle int) StoreOption {
	return func(s *Store) {
		if maxOpen > 0 {
			s.pool.maxOpen = maxOpen
		}
		if maxIdle >= 0 {
			s.pool.maxIdle = min(maxIdle, s.pool.maxOpen)
		}
	}
}

// Open открывает пул и проверяет, что база отвечает.
func Open(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		now: func() time.Time { return time.Now().UTC() },
		pool: poolSettings{
			maxOpen:     25,
			maxIdle:     25,
			maxLifetime: 30 * time.Minute,
			maxIdleTime: 5 * time.Minute,
			pingTimeout: 5 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	db.SetMaxOpenConns(s.pool.maxOpen)
	db.SetMaxIdleConns(s.pool.maxIdle)
	db.SetConnMaxLifetime(s.pool.maxLifetime)
	db.SetConnMaxIdleTime(s.pool.maxIdleTime)
	s.db = db

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

// withTimeout ограничивает один запрос к базе.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

// DB отдаёт пул для миграций и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется readiness-проверкой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, s.pool.pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema доводит схему до последней встроенной миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// inTx коммитит транзакцию, только если fn вернула nil. Паника внутри fn
// откатывает транзакцию и пробрасывается дальше.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func sqlstate(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlstate(err) == sqlstateUniqueViolation
}

// isDataException ловит класс 22: переполнение numeric, битый JSON, неверный формат.
func isDataException(err error) bool {
	return strings.HasPrefix(sqlstate(err), sqlstateDataException)
}

// wrapQueryError помечает ошибки данных как ErrMalformedInput.
func wrapQueryError(op string, err error) error {
	if isDataException(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrMalformedInput, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
