package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

const (
	migrationsDir = "sql/migrations"

	// Один ключ на все экземпляры orderdesk: миграции не идут параллельно.
	migrationLockKey = int64(0x6f72646573) // "ordes"

	schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

// migration - пара up/down скриптов одной версии.
type migration struct {
	version  int64
	name     string
	up       string
	down     string
	checksum string
}

func (m migration) label() string {
	return fmt.Sprintf("%04d_%s", m.version, m.name)
}

// MigrationState описывает схему относительно встроенных миграций.
type MigrationState struct {
	// Version - старшая применённая версия, 0 для пустой базы.
	Version int64
	Applied int
	Pending int
	// Drifted - применённые версии, чей up-скрипт с тех пор изменился.
	Drifted []int64
}

// MigrateUp применяет неприменённые миграции по возрастанию версии.
// steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает steps последних миграций, минимум одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationDown, max(steps, 1))
}

// MigrationStatus сверяет schema_migrations со встроенными файлами.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	set, err := readMigrations(embeddedMigrations)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedMigrations(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}
	return set.state(applied), nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	set, err := readMigrations(embeddedMigrations)
	if err != nil {
		return err
	}

	return s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}
		applied, err := appliedMigrations(ctx, conn)
		if err != nil {
			return err
		}

		var plan []migration
		switch direction {
		case migrationUp:
			plan = set.forward(applied, steps)
		case migrationDown:
			plan, err = set.backward(applied, steps)
		default:
			err = fmt.Errorf("unsupported migration direction %q", direction)
		}
		if err != nil {
			return err
		}

		for _, m := range plan {
			if err := runMigration(ctx, conn, m, direction); err != nil {
				return err
			}
		}
		return nil
	})
}

// withMigrationLock держит session-level advisory lock на выделенном соединении.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for migrations: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	return fn(conn)
}

func runMigration(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) error {
	return inConnTx(ctx, conn, func(tx *sql.Tx) error {
		script, bookkeeping, args := m.up, `INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`, []any{m.version, m.name, m.checksum}
		if direction == migrationDown {
			script, bookkeeping, args = m.down, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.version}
		}

		if _, err := tx.ExecContext(ctx, script); err != nil {
			return fmt.Errorf("migration %s %s: %w", m.label(), direction, err)
		}
		if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
			return fmt.Errorf("record migration %s %s: %w", m.label(), direction, err)
		}
		return nil
	})
}

func inConnTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

type rowsQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// appliedMigrations возвращает version -> checksum.
func appliedMigrations(ctx context.Context, q rowsQuerier) (map[int64]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	return applied, nil
}

// migrationSet отсортирован по возрастанию версии.
type migrationSet []migration

func (set migrationSet) forward(applied map[int64]string, steps int) []migration {
	var plan []migration
	for _, m := range set {
		if _, done := applied[m.version]; done {
			continue
		}
		plan = append(plan, m)
		if steps > 0 && len(plan) == steps {
			break
		}
	}
	return plan
}

func (set migrationSet) backward(applied map[int64]string, steps int) ([]migration, error) {
	versions := make([]int64, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	if steps > 0 && len(versions) > steps {
		versions = versions[:steps]
	}

	plan := make([]migration, 0, len(versions))
	for _, v := range versions {
		m, ok := set.find(v)
		if !ok {
			return nil, fmt.Errorf("applied migration %d has no embedded down script", v)
		}
		plan = append(plan, m)
	}
	return plan, nil
}

func (set migrationSet) find(version int64) (migration, bool) {
	i := sort.Search(len(set), func(i int) bool { return set[i].version >= version })
	if i < len(set) && set[i].version == version {
		return set[i], true
	}
	return migration{}, false
}

func (set migrationSet) state(applied map[int64]string) MigrationState {
	st := MigrationState{Applied: len(applied)}
	for v := range applied {
		st.Version = max(st.Version, v)
	}
	for _, m := range set {
		checksum, done := applied[m.version]
		switch {
		case !done:
			st.Pending++
		case checksum != m.checksum:
			st.Drifted = append(st.Drifted, m.version)
		}
	}
	return st
}

// parseMigrationFile разбирает имя вида 0003_add_index.up.sql.
func parseMigrationFile(base string) (int64, string, migrationDirection, error) {
	stem, ok := strings.CutSuffix(base, ".sql")
	if !ok {
		return 0, "", "", fmt.Errorf("migration %s: not an .sql file", base)
	}
	dot := strings.LastIndexByte(stem, '.')
	if dot < 0 {
		return 0, "", "", fmt.Errorf("migration %s: missing .up/.down suffix", base)
	}
	direction := migrationDirection(stem[dot+1:])
	if direction != migrationUp && direction != migrationDown {
		return 0, "", "", fmt.Errorf("migration %s: unknown direction %q", base, direction)
	}

	rawVersion, name, ok := strings.Cut(stem[:dot], "_")
	if !ok || name == "" {
		return 0, "", "", fmt.Errorf("migration %s: expected <version>_<name>", base)
	}
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("migration %s: bad version %q", base, rawVersion)
	}
	return version, name, direction, nil
}

func readMigrations(fsys fs.FS) (migrationSet, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, direction, err := parseMigrationFile(entry.Name())
		if err != nil {
			return nil, err
		}
		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		script := strings.TrimSpace(string(raw))
		if script == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{version: version, name: name}
			byVersion[version] = m
		}
		if m.name != name {
			return nil, fmt.Errorf("migration %d is named both %s and %s", version, m.name, name)
		}
		slot := &m.up
		if direction == migrationDown {
			slot = &m.down
		}
		if *slot != "" {
			return nil, fmt.Errorf("migration %s has two %s scripts", m.label(), direction)
		}
		*slot = script
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no embedded migrations")
	}

	set := make(migrationSet, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down scripts", m.label())
		}
		sum := sha256.Sum256([]byte(m.up))
		m.checksum = hex.EncodeToString(sum[:])
		set = append(set, *m)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].version < set[j].version })
	return set, nil
}
