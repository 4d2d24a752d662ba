package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// timeLayout is fixed-width so text timestamps sort chronologically.
const (
	timeLayout = "2006-01-02T15:04:05.000000000Z"
	dateLayout = "2006-01-02"
)

// DB wraps *sql.DB so repositories can write '?' placeholders for either
// backend.
type DB struct {
	*sql.DB
	dialect Dialect
}

func (db *DB) Dialect() Dialect { return db.dialect }

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, dialect: db.dialect}, nil
}

type Tx struct {
	*sql.Tx
	dialect Dialect
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, tx.dialect.rebind(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.Tx.QueryRowContext(ctx, tx.dialect.rebind(query), args...)
}

func (tx *Tx) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return tx.Tx.PrepareContext(ctx, tx.dialect.rebind(query))
}

// rebind turns '?' placeholders into $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InitDB opens the database for the given driver and ensures all tables
// exist. For sqlite pass ":memory:" or a file path; for postgres a pgx DSN.
func InitDB(ctx context.Context, driver, dsn string) (*DB, error) {
	var (
		sqlDB *sql.DB
		err   error
	)
	dialect := Dialect(driver)
	switch dialect {
	case DialectSQLite:
		sqlDB, err = sql.Open("sqlite", dsn)
	case DialectPostgres:
		sqlDB, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db := &DB{DB: sqlDB, dialect: dialect}

	if dialect == DialectSQLite {
		// One connection: sqlite serializes writers anyway, and ":memory:"
		// is per-connection.
		sqlDB.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
				sqlDB.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := createTables(ctx, db); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

// The schema sticks to TEXT/INTEGER so the same DDL runs on both backends.
// Decimals are stored as their exact string form.
func createTables(ctx context.Context, db *DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS expected_trades (
			id TEXT PRIMARY KEY,
			source_file TEXT NOT NULL,
			trade_id TEXT NOT NULL,
			account TEXT NOT NULL,
			instrument TEXT NOT NULL,
			isin TEXT,
			side TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			currency TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			settlement_date TEXT NOT NULL,
			cash_amount TEXT,
			fees TEXT,
			status TEXT NOT NULL,
			matched_settlement_id TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expected_trades_status ON expected_trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_expected_trades_account_date ON expected_trades(account, settlement_date)`,
		`CREATE INDEX IF NOT EXISTS idx_expected_trades_trade_id ON expected_trades(trade_id)`,

		`CREATE TABLE IF NOT EXISTS actual_settlements (
			id TEXT PRIMARY KEY,
			source_file TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			account TEXT NOT NULL,
			instrument TEXT NOT NULL,
			quantity TEXT NOT NULL,
			cash_amount TEXT,
			settlement_date TEXT NOT NULL,
			currency TEXT NOT NULL,
			side TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actual_settlements_key ON actual_settlements(account, instrument, settlement_date, side)`,
		`CREATE INDEX IF NOT EXISTS idx_expected_trades_matched ON expected_trades(matched_settlement_id)`,

		`CREATE TABLE IF NOT EXISTS breaks (
			id TEXT PRIMARY KEY,
			break_type TEXT NOT NULL,
			expected_trade_id TEXT NOT NULL REFERENCES expected_trades(id),
			actual_settlement_id TEXT REFERENCES actual_settlements(id),
			actual_reference TEXT,
			trade_ref TEXT NOT NULL,
			account TEXT NOT NULL,
			instrument TEXT NOT NULL,
			expected_value TEXT NOT NULL,
			actual_value TEXT,
			difference TEXT,
			severity TEXT NOT NULL,
			reason TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			status TEXT NOT NULL,
			assigned_to TEXT,
			resolution_code TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		// At most one unresolved break per fingerprint, even across
		// concurrent runs.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_breaks_unresolved_fingerprint ON breaks(fingerprint) WHERE status <> 'RESOLVED'`,
		`CREATE INDEX IF NOT EXISTS idx_breaks_status ON breaks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_breaks_type ON breaks(break_type)`,
		`CREATE INDEX IF NOT EXISTS idx_breaks_severity ON breaks(severity)`,
		`CREATE INDEX IF NOT EXISTS idx_breaks_created_at ON breaks(created_at)`,

		`CREATE TABLE IF NOT EXISTS break_history (
			id TEXT PRIMARY KEY,
			break_id TEXT NOT NULL REFERENCES breaks(id),
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			comment TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_break_history_break ON break_history(break_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS tolerance_policies (
			id TEXT PRIMARY KEY,
			cash_tolerance TEXT NOT NULL,
			date_tolerance_days INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tolerance_policies_updated ON tolerance_policies(updated_at)`,

		`CREATE TABLE IF NOT EXISTS uploads (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			uploader TEXT NOT NULL,
			kind TEXT NOT NULL,
			hash TEXT NOT NULL,
			rows_processed INTEGER NOT NULL,
			processing_errors TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_uploads_hash ON uploads(hash)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// uniqueKey names one unique index the way each backend reports it: postgres
// by index name, SQLite by its table.column list.
type uniqueKey struct {
	index   string
	columns string
}

var (
	breaksUnresolvedFingerprint = uniqueKey{index: "ux_breaks_unresolved_fingerprint", columns: "breaks.fingerprint"}
	uploadsHash                 = uniqueKey{index: "ux_uploads_hash", columns: "uploads.hash"}
)

// isUniqueViolation reports whether err is a violation of key. Primary key
// collisions and other unique indexes do not count.
func isUniqueViolation(err error, key uniqueKey) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == key.index
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: "+key.columns)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
