package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tlmsim/reconciler/internal/domain"
)

type TradeRepo struct {
	db *DB
}

func NewTradeRepo(db *DB) *TradeRepo {
	return &TradeRepo{db: db}
}

const tradeColumns = `id, source_file, trade_id, account, instrument, isin, side, quantity, price,
	currency, trade_date, settlement_date, cash_amount, fees, status, matched_settlement_id, created_at`

func (r *TradeRepo) BulkInsert(ctx context.Context, trades []*domain.ExpectedTrade) (int, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO expected_trades (`+tradeColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO NOTHING`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i, t := range trades {
		status := t.Status
		if status == "" {
			status = domain.TradeUnmatched
		}
		res, err := stmt.ExecContext(ctx,
			t.ID, t.SourceFile, t.TradeID, t.Account, t.Instrument, nullString(t.ISIN),
			string(t.Side), t.Quantity.String(), t.Price.String(), t.Currency,
			formatDate(t.TradeDate), formatDate(t.SettlementDate),
			nullDecimal(t.CashAmount), nullDecimal(t.Fees), string(status), nullString(t.MatchedSettlementID),
			formatTime(t.CreatedAt),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert row %d: %w", i, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func (r *TradeRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM expected_trades").Scan(&count)
	return count, err
}

func (r *TradeRepo) GetByID(ctx context.Context, id string) (*domain.ExpectedTrade, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+tradeColumns+" FROM expected_trades WHERE id = ?", id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

// ListUnmatched returns every trade not yet MATCHED in ingestion order.
func (r *TradeRepo) ListUnmatched(ctx context.Context) ([]*domain.ExpectedTrade, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+tradeColumns+" FROM expected_trades WHERE status <> ? ORDER BY created_at, id",
		string(domain.TradeMatched),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// MarkMatched records that the trade consumed settlementID. It is the only
// write the engine makes to ingested trades.
func (r *TradeRepo) MarkMatched(ctx context.Context, id, settlementID string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE expected_trades SET status = ?, matched_settlement_id = ? WHERE id = ?",
		string(domain.TradeMatched), settlementID, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type TradeFilter struct {
	Account string
	Status  string
	From    *time.Time
	To      *time.Time
	Page    int
	Limit   int
}

func (r *TradeRepo) List(ctx context.Context, f TradeFilter) ([]*domain.ExpectedTrade, int, error) {
	where, args := buildTradeWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM expected_trades"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	limit, offset := pageBounds(f.Page, f.Limit)
	q := "SELECT " + tradeColumns + " FROM expected_trades" + where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	return trades, total, err
}

func buildTradeWhere(f TradeFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Account != "" {
		clauses = append(clauses, "account = ?")
		args = append(args, f.Account)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*domain.ExpectedTrade, error) {
	var t domain.ExpectedTrade
	var isin, matched sql.NullString
	var side, status, tradeDate, settleDate, createdAt string

	err := row.Scan(
		&t.ID, &t.SourceFile, &t.TradeID, &t.Account, &t.Instrument, &isin, &side,
		&t.Quantity, &t.Price, &t.Currency, &tradeDate, &settleDate,
		&t.CashAmount, &t.Fees, &status, &matched, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	t.ISIN = isin.String
	t.MatchedSettlementID = matched.String
	t.Side = domain.Side(side)
	t.Status = domain.TradeStatus(status)
	t.TradeDate = parseDate(tradeDate)
	t.SettlementDate = parseDate(settleDate)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]*domain.ExpectedTrade, error) {
	var trades []*domain.ExpectedTrade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func pageBounds(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}
