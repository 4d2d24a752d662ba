package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tlmsim/reconciler/internal/domain"
)

// BreakRepo is the break lifecycle store. Every state change and its history
// entry are written in one transaction.
type BreakRepo struct {
	db  *DB
	now func() time.Time
}

func NewBreakRepo(db *DB) *BreakRepo {
	return &BreakRepo{db: db, now: time.Now}
}

const breakColumns = `id, break_type, expected_trade_id, actual_settlement_id, actual_reference,
	trade_ref, account, instrument, expected_value, actual_value, difference, severity, reason,
	fingerprint, status, assigned_to, resolution_code, created_at, updated_at`

// Create inserts a break with its AUTO_CREATED history entry. A concurrent
// insert of the same unresolved fingerprint yields ErrDuplicateFingerprint.
func (r *BreakRepo) Create(ctx context.Context, b *domain.Break, h *domain.BreakHistory) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO breaks (`+breakColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, string(b.Type), b.ExpectedTradeID, nullString(b.ActualSettlementID), nullString(b.ActualReference),
		b.TradeRef, b.Account, b.Instrument, b.ExpectedValue.String(), nullDecimal(b.ActualValue),
		nullDecimal(b.Difference), string(b.Severity), b.Reason, b.Fingerprint, string(b.Status),
		nullString(b.AssignedTo), nullString(b.ResolutionCode), formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, breaksUnresolvedFingerprint) {
			return domain.ErrDuplicateFingerprint
		}
		return fmt.Errorf("insert break: %w", err)
	}

	if h != nil {
		h.BreakID = b.ID
		if err := insertHistory(ctx, tx, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FindUnresolvedByFingerprint returns nil, nil when no OPEN or ASSIGNED break
// carries the fingerprint.
func (r *BreakRepo) FindUnresolvedByFingerprint(ctx context.Context, fingerprint string) (*domain.Break, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+breakColumns+" FROM breaks WHERE fingerprint = ? AND status <> ?",
		fingerprint, string(domain.BreakResolved),
	)
	b, err := scanBreak(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (r *BreakRepo) Get(ctx context.Context, id string) (*domain.Break, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+breakColumns+" FROM breaks WHERE id = ?", id)
	b, err := scanBreak(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return b, err
}

// History returns the entries for a break, oldest first.
func (r *BreakRepo) History(ctx context.Context, breakID string) ([]domain.BreakHistory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, break_id, action, actor, comment, created_at
		FROM break_history WHERE break_id = ? ORDER BY created_at, id`,
		breakID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BreakHistory
	for rows.Next() {
		var h domain.BreakHistory
		var action, createdAt string
		var comment sql.NullString
		if err := rows.Scan(&h.ID, &h.BreakID, &action, &h.User, &comment, &createdAt); err != nil {
			return nil, err
		}
		h.Action = domain.HistoryAction(action)
		h.Comment = comment.String
		h.Timestamp = parseTime(createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *BreakRepo) Assign(ctx context.Context, id, assignee, actor string) (*domain.Break, error) {
	if strings.TrimSpace(assignee) == "" {
		return nil, &domain.ValidationError{Record: "assignment", ID: id, Field: "assignee", Reason: "is required"}
	}
	return r.transition(ctx, id, domain.BreakAssigned, actor, "Assigned to "+assignee,
		"assigned_to = ?", assignee)
}

// Resolve closes a break. Both the resolution code and a comment are
// mandatory; they are recorded together in history.
func (r *BreakRepo) Resolve(ctx context.Context, id, code, comment, actor string) (*domain.Break, error) {
	if strings.TrimSpace(code) == "" {
		return nil, &domain.ValidationError{Record: "resolution", ID: id, Field: "resolution_code", Reason: "is required"}
	}
	if strings.TrimSpace(comment) == "" {
		return nil, &domain.ValidationError{Record: "resolution", ID: id, Field: "comment", Reason: "is required"}
	}
	return r.transition(ctx, id, domain.BreakResolved, actor, code+": "+comment,
		"resolution_code = ?", code)
}

// Comment appends a note without touching the break's status.
func (r *BreakRepo) Comment(ctx context.Context, id, text, actor string) (*domain.BreakHistory, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Record: "comment", ID: id, Field: "comment", Reason: "is required"}
	}
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := currentStatus(ctx, tx, id); err != nil {
		return nil, err
	}
	now := r.now().UTC()
	if _, err := tx.ExecContext(ctx, "UPDATE breaks SET updated_at = ? WHERE id = ?", formatTime(now), id); err != nil {
		return nil, fmt.Errorf("touch break: %w", err)
	}
	h := &domain.BreakHistory{
		ID:        uuid.NewString(),
		BreakID:   id,
		Action:    domain.ActionComment,
		User:      actorOrSystem(actor),
		Comment:   text,
		Timestamp: now,
	}
	if err := insertHistory(ctx, tx, h); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return h, nil
}

func (r *BreakRepo) transition(ctx context.Context, id string, to domain.BreakStatus, actor, note, setClause string, setArg any) (*domain.Break, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, from, to)
	}

	now := r.now().UTC()
	if _, err := tx.ExecContext(ctx,
		"UPDATE breaks SET status = ?, "+setClause+", updated_at = ? WHERE id = ?",
		string(to), setArg, formatTime(now), id,
	); err != nil {
		return nil, fmt.Errorf("update break: %w", err)
	}

	action := domain.ActionAssigned
	if to == domain.BreakResolved {
		action = domain.ActionResolved
	}
	h := &domain.BreakHistory{
		ID:        uuid.NewString(),
		BreakID:   id,
		Action:    action,
		User:      actorOrSystem(actor),
		Comment:   note,
		Timestamp: now,
	}
	if err := insertHistory(ctx, tx, h); err != nil {
		return nil, err
	}

	b, err := scanBreak(tx.QueryRowContext(ctx, "SELECT "+breakColumns+" FROM breaks WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("reload break: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return b, nil
}

func currentStatus(ctx context.Context, tx *Tx, id string) (domain.BreakStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM breaks WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return domain.BreakStatus(status), nil
}

func insertHistory(ctx context.Context, tx *Tx, h *domain.BreakHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO break_history (id, break_id, action, actor, comment, created_at)
		VALUES (?,?,?,?,?,?)`,
		h.ID, h.BreakID, string(h.Action), h.User, nullString(h.Comment), formatTime(h.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return domain.SystemActor
	}
	return actor
}

type BreakFilter struct {
	Type     string
	Status   string
	Severity string
	Page     int
	Limit    int
}

func (r *BreakRepo) List(ctx context.Context, f BreakFilter) ([]*domain.Break, int, error) {
	where, args := buildBreakWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM breaks"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(f.Page, f.Limit)
	q := "SELECT " + breakColumns + " FROM breaks" + where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	breaks, err := scanBreaks(rows)
	return breaks, total, err
}

// ListAll ignores paging; it feeds the CSV export.
func (r *BreakRepo) ListAll(ctx context.Context, f BreakFilter) ([]*domain.Break, error) {
	where, args := buildBreakWhere(f)
	rows, err := r.db.QueryContext(ctx, "SELECT "+breakColumns+" FROM breaks"+where+" ORDER BY created_at DESC, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBreaks(rows)
}

type BreakStats struct {
	ByStatus      map[string]int `json:"by_status"`
	ByType        map[string]int `json:"by_type"`
	BySeverity    map[string]int `json:"by_severity"`
	TotalOpen     int            `json:"total_open"`
	TotalHigh     int            `json:"total_high_severity"`
	ResolvedToday int            `json:"resolved_today"`
}

// Stats summarises the break population for the dashboard. TotalOpen and
// TotalHigh count unresolved breaks only.
func (r *BreakRepo) Stats(ctx context.Context) (*BreakStats, error) {
	s := &BreakStats{
		ByStatus:   make(map[string]int),
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
	}
	for col, m := range map[string]map[string]int{"status": s.ByStatus, "break_type": s.ByType, "severity": s.BySeverity} {
		if err := r.groupCount(ctx, col, m); err != nil {
			return nil, err
		}
	}

	resolved := string(domain.BreakResolved)
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM breaks WHERE status <> ?", resolved,
	).Scan(&s.TotalOpen); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM breaks WHERE status <> ? AND severity = ?", resolved, string(domain.SeverityHigh),
	).Scan(&s.TotalHigh); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM break_history WHERE action = ? AND created_at >= ?",
		string(domain.ActionResolved), formatTime(midnight),
	).Scan(&s.ResolvedToday); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *BreakRepo) groupCount(ctx context.Context, col string, m map[string]int) error {
	rows, err := r.db.QueryContext(ctx, "SELECT "+col+", COUNT(*) FROM breaks GROUP BY "+col)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		m[k] = v
	}
	return rows.Err()
}

type DailyCount struct {
	Date     string `json:"date"`
	Created  int    `json:"created"`
	Resolved int    `json:"resolved"`
}

// DailyReport returns break creations and resolutions per UTC day for the
// last days days, oldest first. Days with no activity are included.
func (r *BreakRepo) DailyReport(ctx context.Context, days int) ([]DailyCount, error) {
	if days <= 0 {
		days = 7
	}
	now := r.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := today.AddDate(0, 0, -(days - 1))

	report := make([]DailyCount, days)
	pos := make(map[string]int, days)
	for i := range report {
		d := formatDate(start.AddDate(0, 0, i))
		report[i].Date = d
		pos[d] = i
	}

	created, err := r.countByDay(ctx,
		"SELECT SUBSTR(created_at, 1, 10), COUNT(*) FROM breaks WHERE created_at >= ? GROUP BY SUBSTR(created_at, 1, 10)",
		formatTime(start),
	)
	if err != nil {
		return nil, fmt.Errorf("created per day: %w", err)
	}
	resolved, err := r.countByDay(ctx,
		"SELECT SUBSTR(created_at, 1, 10), COUNT(*) FROM break_history WHERE action = ? AND created_at >= ? GROUP BY SUBSTR(created_at, 1, 10)",
		string(domain.ActionResolved), formatTime(start),
	)
	if err != nil {
		return nil, fmt.Errorf("resolved per day: %w", err)
	}

	for d, n := range created {
		if i, ok := pos[d]; ok {
			report[i].Created = n
		}
	}
	for d, n := range resolved {
		if i, ok := pos[d]; ok {
			report[i].Resolved = n
		}
	}
	return report, nil
}

func (r *BreakRepo) countByDay(ctx context.Context, q string, args ...any) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		out[day] = n
	}
	return out, rows.Err()
}

// --- helpers ---

func buildBreakWhere(f BreakFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Type != "" {
		clauses = append(clauses, "break_type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, f.Severity)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanBreak(row rowScanner) (*domain.Break, error) {
	var b domain.Break
	var btype, sev, status, createdAt, updatedAt string
	var settlementID, actualRef, assignedTo, resolutionCode sql.NullString

	err := row.Scan(
		&b.ID, &btype, &b.ExpectedTradeID, &settlementID, &actualRef,
		&b.TradeRef, &b.Account, &b.Instrument, &b.ExpectedValue, &b.ActualValue,
		&b.Difference, &sev, &b.Reason, &b.Fingerprint, &status,
		&assignedTo, &resolutionCode, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Type = domain.BreakType(btype)
	b.Severity = domain.Severity(sev)
	b.Status = domain.BreakStatus(status)
	b.ActualSettlementID = settlementID.String
	b.ActualReference = actualRef.String
	b.AssignedTo = assignedTo.String
	b.ResolutionCode = resolutionCode.String
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func scanBreaks(rows *sql.Rows) ([]*domain.Break, error) {
	var breaks []*domain.Break
	for rows.Next() {
		b, err := scanBreak(rows)
		if err != nil {
			return nil, err
		}
		breaks = append(breaks, b)
	}
	return breaks, rows.Err()
}
