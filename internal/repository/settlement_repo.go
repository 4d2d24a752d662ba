package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tlmsim/reconciler/internal/domain"
)

type SettlementRepo struct {
	db *DB
}

func NewSettlementRepo(db *DB) *SettlementRepo {
	return &SettlementRepo{db: db}
}

const settlementColumns = `id, source_file, reference_id, account, instrument, quantity, cash_amount,
	settlement_date, currency, side, created_at`

func (r *SettlementRepo) BulkInsert(ctx context.Context, records []*domain.ActualSettlement) (int, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO actual_settlements (`+settlementColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO NOTHING`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i, a := range records {
		res, err := stmt.ExecContext(ctx,
			a.ID, a.SourceFile, a.ReferenceID, a.Account, a.Instrument,
			a.Quantity.String(), nullDecimal(a.CashAmount), formatDate(a.SettlementDate),
			a.Currency, nullString(string(a.Side)), formatTime(a.CreatedAt),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert record %d: %w", i, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// ListUnconsumed returns, in ingestion order, every settlement no MATCHED
// trade has claimed. Consumed settlements stay out of later runs.
func (r *SettlementRepo) ListUnconsumed(ctx context.Context) ([]*domain.ActualSettlement, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+settlementColumns+` FROM actual_settlements a
		WHERE NOT EXISTS (
			SELECT 1 FROM expected_trades t
			WHERE t.matched_settlement_id = a.id AND t.status = ?
		)
		ORDER BY a.created_at, a.id`,
		string(domain.TradeMatched),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSettlements(rows)
}

func (r *SettlementRepo) GetByID(ctx context.Context, id string) (*domain.ActualSettlement, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+settlementColumns+" FROM actual_settlements WHERE id = ?", id)
	a, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func (r *SettlementRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM actual_settlements").Scan(&count)
	return count, err
}

type SettlementFilter struct {
	Account    string
	Instrument string
	From       *time.Time
	To         *time.Time
	Page       int
	Limit      int
}

func (r *SettlementRepo) List(ctx context.Context, f SettlementFilter) ([]*domain.ActualSettlement, int, error) {
	where, args := buildSettlementWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM actual_settlements"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(f.Page, f.Limit)
	q := "SELECT " + settlementColumns + " FROM actual_settlements" + where + " ORDER BY settlement_date DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records, err := scanSettlements(rows)
	return records, total, err
}

func buildSettlementWhere(f SettlementFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Account != "" {
		clauses = append(clauses, "account = ?")
		args = append(args, f.Account)
	}
	if f.Instrument != "" {
		clauses = append(clauses, "instrument = ?")
		args = append(args, f.Instrument)
	}
	if f.From != nil {
		clauses = append(clauses, "settlement_date >= ?")
		args = append(args, formatDate(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "settlement_date <= ?")
		args = append(args, formatDate(*f.To))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanSettlement(row rowScanner) (*domain.ActualSettlement, error) {
	var a domain.ActualSettlement
	var settleDate, createdAt string
	var side sql.NullString

	err := row.Scan(
		&a.ID, &a.SourceFile, &a.ReferenceID, &a.Account, &a.Instrument,
		&a.Quantity, &a.CashAmount, &settleDate, &a.Currency, &side, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.Side = domain.Side(side.String)
	a.SettlementDate = parseDate(settleDate)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func scanSettlements(rows *sql.Rows) ([]*domain.ActualSettlement, error) {
	var records []*domain.ActualSettlement
	for rows.Next() {
		a, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
