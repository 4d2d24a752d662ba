package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tlmsim/reconciler/internal/domain"
)

type UploadRepo struct {
	db *DB
}

func NewUploadRepo(db *DB) *UploadRepo {
	return &UploadRepo{db: db}
}

// ExistsByHash reports whether a file with this content hash was already
// ingested.
func (r *UploadRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM uploads WHERE hash = ?", hash).Scan(&n)
	return n > 0, err
}

func (r *UploadRepo) Insert(ctx context.Context, u *domain.Upload) error {
	errs := u.ProcessingErrors
	if errs == nil {
		errs = []string{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode processing errors: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO uploads (id, filename, uploader, kind, hash, rows_processed, processing_errors, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Filename, u.Uploader, string(u.Kind), u.Hash, u.RowsProcessed, string(encoded), formatTime(u.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, uploadsHash) {
			return fmt.Errorf("upload %s: %w", u.Filename, ErrDuplicateUpload)
		}
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (r *UploadRepo) Get(ctx context.Context, id string) (*domain.Upload, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, filename, uploader, kind, hash, rows_processed, processing_errors, created_at
		FROM uploads WHERE id = ?`, id)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return u, err
}

// List returns the most recent uploads first.
func (r *UploadRepo) List(ctx context.Context, limit int) ([]*domain.Upload, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, filename, uploader, kind, hash, rows_processed, processing_errors, created_at
		FROM uploads ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ErrDuplicateUpload is returned when two uploads of the same file race.
var ErrDuplicateUpload = errors.New("file already ingested")

func scanUpload(row rowScanner) (*domain.Upload, error) {
	var u domain.Upload
	var kind, errs, createdAt string
	if err := row.Scan(&u.ID, &u.Filename, &u.Uploader, &kind, &u.Hash, &u.RowsProcessed, &errs, &createdAt); err != nil {
		return nil, err
	}
	u.Kind = domain.UploadKind(kind)
	u.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(errs), &u.ProcessingErrors); err != nil {
		return nil, fmt.Errorf("decode processing errors: %w", err)
	}
	return &u, nil
}
