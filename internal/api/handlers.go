package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/tlmsim/reconciler/internal/domain"
	"github.com/tlmsim/reconciler/internal/export"
	"github.com/tlmsim/reconciler/internal/ingestion"
	"github.com/tlmsim/reconciler/internal/reconciliation"
	"github.com/tlmsim/reconciler/internal/repository"
)

// userHeader names the acting user on review actions and uploads.
const userHeader = "X-User"

const maxUploadBytes = 32 << 20

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	db          *repository.DB
	trades      *repository.TradeRepo
	settlements *repository.SettlementRepo
	breaks      *repository.BreakRepo
	policies    *repository.TolerancePolicyRepo
	uploads     *repository.UploadRepo
	ingestion   *ingestion.Service
	recon       *reconciliation.Service
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("component", "api").WithError(err).Error("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var cfgErr *domain.ToleranceConfigError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &verr), errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.WithField("component", "api").WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func actor(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(userHeader)); u != "" {
		return u
	}
	return domain.SystemActor
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Record: "request", Field: "body", Reason: err.Error()}
	}
	return nil
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Upload ---

func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	// Accept multipart form.
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	kind := domain.UploadKind(strings.ToUpper(r.FormValue("type")))
	if kind != domain.UploadExpected && kind != domain.UploadActual {
		writeError(w, http.StatusBadRequest, "type must be EXPECTED or ACTUAL")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}

	result, err := h.ingestion.Ingest(r.Context(), ingestion.IngestRequest{
		Filename: header.Filename,
		Uploader: actor(r),
		Kind:     kind,
		Data:     data,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) ListUploads(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.uploads.List(r.Context(), parseIntDefault(r.URL.Query().Get("limit"), 50))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

// --- Reconcile ---

func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	summary := h.recon.RunFullReconciliation(r.Context())
	if summary.Err != nil {
		status := http.StatusInternalServerError
		var cfgErr *domain.ToleranceConfigError
		if errors.As(summary.Err, &cfgErr) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, summary)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- Source data ---

func (h *Handlers) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TradeFilter{
		Account: q.Get("account"),
		Status:  q.Get("status"),
		From:    parseTime(q.Get("from")),
		To:      parseTime(q.Get("to")),
		Page:    parseIntDefault(q.Get("page"), 1),
		Limit:   parseIntDefault(q.Get("limit"), 50),
	}

	trades, total, err := h.trades.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"total":  total,
		"page":   filter.Page,
		"limit":  filter.Limit,
	})
}

func (h *Handlers) ListSettlements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.SettlementFilter{
		Account:    q.Get("account"),
		Instrument: q.Get("instrument"),
		From:       parseTime(q.Get("from")),
		To:         parseTime(q.Get("to")),
		Page:       parseIntDefault(q.Get("page"), 1),
		Limit:      parseIntDefault(q.Get("limit"), 50),
	}

	records, total, err := h.settlements.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"settlements": records,
		"total":       total,
		"page":        filter.Page,
		"limit":       filter.Limit,
	})
}

// --- Breaks ---

func breakFilter(r *http.Request) repository.BreakFilter {
	q := r.URL.Query()
	return repository.BreakFilter{
		Type:     strings.ToUpper(q.Get("type")),
		Status:   strings.ToUpper(q.Get("status")),
		Severity: strings.ToUpper(q.Get("severity")),
		Page:     parseIntDefault(q.Get("page"), 1),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}
}

func (h *Handlers) ListBreaks(w http.ResponseWriter, r *http.Request) {
	filter := breakFilter(r)
	breaks, total, err := h.breaks.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if breaks == nil {
		breaks = []*domain.Break{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"breaks": breaks,
		"total":  total,
		"page":   filter.Page,
		"limit":  filter.Limit,
	})
}

func (h *Handlers) GetBreak(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := h.breaks.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	history, err := h.breaks.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"break":   b,
		"history": history,
	})
}

type assignRequest struct {
	Assignee string `json:"assignee"`
}

func (h *Handlers) AssignBreak(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	b, err := h.breaks.Assign(r.Context(), chi.URLParam(r, "id"), req.Assignee, actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type resolveRequest struct {
	ResolutionCode string `json:"resolution_code"`
	Comment        string `json:"comment"`
}

func (h *Handlers) ResolveBreak(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	b, err := h.breaks.Resolve(r.Context(), chi.URLParam(r, "id"), req.ResolutionCode, req.Comment, actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type commentRequest struct {
	Comment string `json:"comment"`
}

func (h *Handlers) CommentBreak(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	entry, err := h.breaks.Comment(r.Context(), chi.URLParam(r, "id"), req.Comment, actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handlers) ExportBreaks(w http.ResponseWriter, r *http.Request) {
	breaks, err := h.breaks.ListAll(r.Context(), breakFilter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="breaks_export.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteBreaksCSV(w, breaks); err != nil {
		log.WithField("component", "api").WithError(err).Error("export breaks")
	}
}

// --- Settings ---

func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	p, err := h.policies.Latest(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// settingsRequest fields are optional; an omitted field keeps the current
// value.
type settingsRequest struct {
	CashTolerance     *float64 `json:"cash_tolerance"`
	DateToleranceDays *int     `json:"date_tolerance_days"`
}

func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	current, err := h.policies.Latest(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	cash := current.CashTolerance.InexactFloat64()
	if req.CashTolerance != nil {
		cash = *req.CashTolerance
	}
	days := current.DateToleranceDays
	if req.DateToleranceDays != nil {
		days = *req.DateToleranceDays
	}

	p, err := domain.NewTolerancePolicy(cash, days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	p.UpdatedAt = time.Now().UTC()
	if err := h.policies.Insert(r.Context(), &p); err != nil {
		writeServiceError(w, fmt.Errorf("save settings: %w", err))
		return
	}
	log.WithFields(log.Fields{
		"component":      "api",
		"user":           actor(r),
		"cash_tolerance": p.CashTolerance.String(),
		"date_tolerance": p.DateToleranceDays,
	}).Info("Tolerance settings updated")

	writeJSON(w, http.StatusOK, p)
}

// --- Dashboard ---

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.breaks.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) DailyReport(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), 7)
	if days > 366 {
		days = 366
	}
	report, err := h.breaks.DailyReport(r.Context(), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": report})
}
