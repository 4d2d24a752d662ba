package ingestion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tlmsim/reconciler/internal/domain"
	"github.com/tlmsim/reconciler/internal/metrics"
	"github.com/tlmsim/reconciler/internal/reconciliation"
)

type TradeWriter interface {
	BulkInsert(ctx context.Context, trades []*domain.ExpectedTrade) (int, error)
}

type SettlementWriter interface {
	BulkInsert(ctx context.Context, records []*domain.ActualSettlement) (int, error)
}

type UploadStore interface {
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Insert(ctx context.Context, u *domain.Upload) error
}

// Reconciler is triggered after every successful ingestion.
type Reconciler interface {
	RunFullReconciliation(ctx context.Context) *reconciliation.RunSummary
}

// IngestRequest is one uploaded file.
type IngestRequest struct {
	Filename string
	Uploader string
	Kind     domain.UploadKind
	Data     []byte
}

// IngestResult is returned from a successful ingestion.
type IngestResult struct {
	Message          string                     `json:"message"`
	UploadID         string                     `json:"upload_id,omitempty"`
	RowsProcessed    int                        `json:"rows_processed"`
	RowsRejected     int                        `json:"rows_rejected"`
	ProcessingErrors []string                   `json:"processing_errors,omitempty"`
	AlreadyIngested  bool                       `json:"already_ingested"`
	MatchResult      *reconciliation.RunSummary `json:"match_result,omitempty"`
}

// Service handles ingestion of expected-trade and actual-settlement files.
type Service struct {
	trades      TradeWriter
	settlements SettlementWriter
	uploads     UploadStore
	reconciler  Reconciler
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(trades TradeWriter, settlements SettlementWriter, uploads UploadStore, reconciler Reconciler, m *metrics.Metrics) *Service {
	return &Service{
		trades:      trades,
		settlements: settlements,
		uploads:     uploads,
		reconciler:  reconciler,
		metrics:     m,
		now:         time.Now,
	}
}

// Ingest parses a CSV or JSON file, stores its valid rows and then runs a
// full reconciliation. Rows that fail to parse or validate are skipped and
// reported back; a file already ingested (same content hash) is a no-op.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	logger := log.WithFields(log.Fields{"component": "ingestion", "file": req.Filename, "type": req.Kind})

	if req.Kind != domain.UploadExpected && req.Kind != domain.UploadActual {
		return nil, &domain.ValidationError{Record: "upload", Field: "type", Reason: "must be EXPECTED or ACTUAL"}
	}
	if len(bytes.TrimSpace(req.Data)) == 0 {
		return nil, &domain.ValidationError{Record: "upload", ID: req.Filename, Field: "file", Reason: "is empty"}
	}

	// Idempotency check via file hash.
	hash := fmt.Sprintf("%x", sha256.Sum256(req.Data))
	exists, err := s.uploads.ExistsByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if exists {
		logger.Info("File already ingested, skipping")
		return &IngestResult{Message: "File already ingested", AlreadyIngested: true}, nil
	}

	rows, err := readRows(req.Filename, req.Data)
	if err != nil {
		return nil, &domain.ValidationError{Record: "upload", ID: req.Filename, Field: "file", Reason: err.Error()}
	}

	base := s.now().UTC()
	var processingErrors []string
	var inserted int
	switch req.Kind {
	case domain.UploadExpected:
		var trades []*domain.ExpectedTrade
		for i, row := range rows {
			// Rows in one file keep their file order through created_at.
			t, err := mapTrade(row, req.Filename, base.Add(time.Duration(i)))
			if err != nil {
				processingErrors = append(processingErrors, fmt.Sprintf("row %d: %v", row.line, err))
				continue
			}
			trades = append(trades, t)
		}
		inserted, err = s.trades.BulkInsert(ctx, trades)
	case domain.UploadActual:
		var records []*domain.ActualSettlement
		for i, row := range rows {
			a, err := mapSettlement(row, req.Filename, base.Add(time.Duration(i)))
			if err != nil {
				processingErrors = append(processingErrors, fmt.Sprintf("row %d: %v", row.line, err))
				continue
			}
			records = append(records, a)
		}
		inserted, err = s.settlements.BulkInsert(ctx, records)
	}
	if err != nil {
		return nil, fmt.Errorf("insert rows: %w", err)
	}

	upload := &domain.Upload{
		ID:               uuid.NewString(),
		Filename:         req.Filename,
		Uploader:         req.Uploader,
		Kind:             req.Kind,
		Hash:             hash,
		RowsProcessed:    inserted,
		ProcessingErrors: processingErrors,
		CreatedAt:        base,
	}
	if upload.Uploader == "" {
		upload.Uploader = domain.SystemActor
	}
	if err := s.uploads.Insert(ctx, upload); err != nil {
		return nil, fmt.Errorf("insert upload: %w", err)
	}
	s.metrics.AddIngested(req.Kind, inserted)

	logger.WithFields(log.Fields{
		"rows":     len(rows),
		"inserted": inserted,
		"rejected": len(processingErrors),
	}).Info("Ingested file")

	result := &IngestResult{
		Message:          "Upload processed successfully",
		UploadID:         upload.ID,
		RowsProcessed:    inserted,
		RowsRejected:     len(processingErrors),
		ProcessingErrors: processingErrors,
	}
	if s.reconciler != nil {
		// A failed run does not fail the upload; its summary says why.
		result.MatchResult = s.reconciler.RunFullReconciliation(ctx)
		if result.MatchResult.Err != nil {
			logger.WithError(result.MatchResult.Err).Warn("Reconciliation after ingest failed")
		}
	}
	return result, nil
}

func readRows(filename string, data []byte) ([]rawRow, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	first := bytes.TrimSpace(data)
	if ext == ".json" || (ext != ".csv" && len(first) > 0 && (first[0] == '[' || first[0] == '{')) {
		return readJSONRows(data)
	}
	return readCSVRows(bytes.NewReader(data))
}
