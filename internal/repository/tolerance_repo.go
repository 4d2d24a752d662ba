package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tlmsim/reconciler/internal/domain"
)

// TolerancePolicyRepo stores tolerance versions. Updates never overwrite; the
// most recently updated row is the active policy.
type TolerancePolicyRepo struct {
	db       *DB
	fallback domain.TolerancePolicy
}

func NewTolerancePolicyRepo(db *DB, fallback domain.TolerancePolicy) *TolerancePolicyRepo {
	return &TolerancePolicyRepo{db: db, fallback: fallback}
}

// Latest returns the newest stored version, or the configured default when
// nothing has been stored yet.
func (r *TolerancePolicyRepo) Latest(ctx context.Context) (domain.TolerancePolicy, error) {
	var p domain.TolerancePolicy
	var cash, updatedAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, cash_tolerance, date_tolerance_days, updated_at
		FROM tolerance_policies ORDER BY updated_at DESC, id DESC LIMIT 1`,
	).Scan(&p.ID, &cash, &p.DateToleranceDays, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r.fallback, nil
	}
	if err != nil {
		return domain.TolerancePolicy{}, err
	}

	p.CashTolerance, err = decimal.NewFromString(cash)
	if err != nil {
		return domain.TolerancePolicy{}, &domain.ToleranceConfigError{Field: "cash_tolerance", Reason: "is not a decimal: " + cash}
	}
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// Insert validates and stores p as the new active version.
func (r *TolerancePolicyRepo) Insert(ctx context.Context, p *domain.TolerancePolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tolerance_policies (id, cash_tolerance, date_tolerance_days, updated_at)
		VALUES (?,?,?,?)`,
		p.ID, p.CashTolerance.String(), p.DateToleranceDays, formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert tolerance policy: %w", err)
	}
	return nil
}
