package reconciliation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlmsim/reconciler/internal/domain"
)

func refs(as []*domain.ActualSettlement) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.ReferenceID)
	}
	return out
}

func TestCandidateIndex_WindowIsInclusive(t *testing.T) {
	idx := NewCandidateIndex([]*domain.ActualSettlement{
		actual("R4", "1", "2024-01-13"),
		actual("R1", "1", "2024-01-09"),
		actual("R3", "1", "2024-01-11"),
		actual("R2", "1", "2024-01-10"),
		actual("R0", "1", "2024-01-08"),
	})
	key := BucketKey{Account: "A1", Instrument: "AAPL"}

	assert.Equal(t, []string{"R1", "R2", "R3"}, refs(idx.Window(key, day("2024-01-10"), 1)))
	assert.Equal(t, []string{"R2"}, refs(idx.Window(key, day("2024-01-10"), 0)))
	assert.Equal(t, []string{"R0", "R1", "R2", "R3", "R4"}, refs(idx.Window(key, day("2024-01-10"), 3)))
	assert.Empty(t, idx.Window(key, day("2024-02-01"), 2))
	assert.Empty(t, idx.Window(BucketKey{Account: "A2", Instrument: "AAPL"}, day("2024-01-10"), 5))
}

func TestCandidateIndex_BucketOrder(t *testing.T) {
	a := actual("R2", "1", "2024-01-10")
	b := actual("R1", "1", "2024-01-10")
	c := actual("R1", "1", "2024-01-10")
	c.ID = "row-R1-dup"
	d := actual("R9", "1", "2024-01-09")
	other := actual("X1", "1", "2024-01-10")
	other.Instrument = "MSFT"

	input := []*domain.ActualSettlement{a, b, c, d, other}
	idx := NewCandidateIndex(input)

	bucket := idx.Window(BucketKey{Account: "A1", Instrument: "AAPL"}, day("2024-01-10"), 1)
	require.Len(t, bucket, 4)
	assert.Equal(t, []*domain.ActualSettlement{d, b, c, a}, bucket)
	assert.Same(t, a, input[0], "input slice must not be reordered")
	assert.Equal(t, []*domain.ActualSettlement{other},
		idx.Window(BucketKey{Account: "A1", Instrument: "MSFT"}, day("2024-01-10"), 0))
}

func TestDayOffset(t *testing.T) {
	assert.Equal(t, 0, dayOffset(day("2024-01-10").Add(23*time.Hour), day("2024-01-10")))
	assert.Equal(t, 2, dayOffset(day("2024-01-08"), day("2024-01-10")))
	assert.Equal(t, 2, dayOffset(day("2024-01-10"), day("2024-01-08")))
}
