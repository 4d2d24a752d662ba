package reconciliation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tlmsim/reconciler/internal/domain"
)

const (
	noActualSentinel     = "<none>"
	noDifferenceSentinel = "<null>"
)

// Fingerprint derives the stable identity of a break from its type, trade,
// counterpart reference and difference rounded to places. Lifecycle fields
// never contribute.
func Fingerprint(b *domain.Break, places int32) string {
	actual := b.ActualReference
	if actual == "" {
		actual = noActualSentinel
	}
	diff := noDifferenceSentinel
	if b.Difference.Valid {
		diff = b.Difference.Decimal.StringFixed(places)
	}

	raw := strings.Join([]string{string(b.Type), b.ExpectedTradeID, actual, diff}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// BreakStore is the slice of the break lifecycle store the engine writes to.
type BreakStore interface {
	FindUnresolvedByFingerprint(ctx context.Context, fingerprint string) (*domain.Break, error)
	Create(ctx context.Context, b *domain.Break, h *domain.BreakHistory) error
}

// DedupGate persists a candidate break unless an unresolved break with the
// same fingerprint already exists. The store's unique index backs the check
// against concurrent runs.
type DedupGate struct {
	store BreakStore
	now   func() time.Time
}

func NewDedupGate(store BreakStore) *DedupGate {
	return &DedupGate{store: store, now: time.Now}
}

// Admit returns domain.ErrDuplicateFingerprint when the candidate is already
// open. On success b carries its new id and timestamps.
func (g *DedupGate) Admit(ctx context.Context, b *domain.Break) error {
	if b.Fingerprint == "" {
		return fmt.Errorf("break for trade %s has no fingerprint", b.TradeRef)
	}

	existing, err := g.store.FindUnresolvedByFingerprint(ctx, b.Fingerprint)
	if err != nil {
		return fmt.Errorf("lookup fingerprint: %w", err)
	}
	if existing != nil {
		return domain.ErrDuplicateFingerprint
	}

	now := g.now().UTC()
	b.ID = uuid.NewString()
	b.Status = domain.BreakOpen
	b.CreatedAt = now
	b.UpdatedAt = now

	h := &domain.BreakHistory{
		ID:        uuid.NewString(),
		BreakID:   b.ID,
		Action:    domain.ActionAutoCreated,
		User:      domain.SystemActor,
		Comment:   "Break created: " + b.Reason,
		Timestamp: now,
	}
	return g.store.Create(ctx, b, h)
}
