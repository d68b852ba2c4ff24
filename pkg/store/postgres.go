package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds Postgres connection configuration, following the teacher's
// pkg/database.Config shape exactly.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PostgresStore is the production DurableStore, a single kv_store table
// (key, value, updated_at) plus an in-process lock registry mirroring
// MemoryStore's BlockConcurrencyWhile semantics — Postgres gives runcore
// durability, but the serialized-closure contract is still enforced
// in-process per spec.md §5 ("a run-scoped mutual-exclusion primitive");
// a future multi-replica deployment would promote this to
// pg_advisory_lock, noted but not built here since runcore is specified as
// a single orchestrating process per run.
type PostgresStore struct {
	db *sql.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewPostgresStore opens a pooled connection, runs embedded migrations, and
// returns a ready PostgresStore. Grounded in the teacher's
// pkg/database/client.go NewClient/runMigrations, minus the ent driver wiring.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// DB exposes the underlying *sql.DB for health checks.
func (p *PostgresStore) DB() *sql.DB { return p.db }

// Close closes the underlying connection pool.
func (p *PostgresStore) Close() error { return p.db.Close() }

// runMigrations applies embedded SQL migrations using golang-migrate. Note:
// we must not call m.Close() — that closes the shared *sql.DB via the
// postgres driver instance, exactly the caveat the teacher documents in
// pkg/database/client.go.
func runMigrations(db *sql.DB, databaseName string) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (p *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, opts ListOptions) (map[string][]byte, error) {
	query := `SELECT key, value FROM kv_store WHERE key LIKE $1`
	pattern := opts.Prefix + "%"
	args := []any{pattern}
	if opts.Start != "" {
		query += fmt.Sprintf(" AND key >= $%d", len(args)+1)
		args = append(args, opts.Start)
	}
	if opts.End != "" {
		query += fmt.Sprintf(" AND key < $%d", len(args)+1)
		args = append(args, opts.End)
	}
	query += " ORDER BY key"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", opts.Prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan list row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (p *PostgresStore) lockFor(key string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}

func (p *PostgresStore) BlockConcurrencyWhile(ctx context.Context, lockKey string, fn func(ctx context.Context) error) error {
	l := p.lockFor(lockKey)
	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}
