package reconciliation

import (
	"sort"
	"time"

	"github.com/tlmsim/reconciler/internal/domain"
)

// BucketKey partitions both populations. Candidates never cross buckets.
type BucketKey struct {
	Account    string
	Instrument string
}

func tradeKey(t *domain.ExpectedTrade) BucketKey {
	return BucketKey{Account: t.Account, Instrument: t.Instrument}
}

func settlementKey(a *domain.ActualSettlement) BucketKey {
	return BucketKey{Account: a.Account, Instrument: a.Instrument}
}

// CandidateIndex groups actual settlements by (account, instrument), each
// bucket sorted by settlement date, then reference id, then row id.
type CandidateIndex struct {
	buckets map[BucketKey][]*domain.ActualSettlement
}

// NewCandidateIndex builds the index. The input slice is not modified.
func NewCandidateIndex(actuals []*domain.ActualSettlement) *CandidateIndex {
	idx := &CandidateIndex{buckets: make(map[BucketKey][]*domain.ActualSettlement)}
	for _, a := range actuals {
		k := settlementKey(a)
		idx.buckets[k] = append(idx.buckets[k], a)
	}
	for _, bucket := range idx.buckets {
		sort.SliceStable(bucket, func(i, j int) bool {
			return settlementLess(bucket[i], bucket[j])
		})
	}
	return idx
}

func settlementLess(a, b *domain.ActualSettlement) bool {
	da, db := civilDate(a.SettlementDate), civilDate(b.SettlementDate)
	if !da.Equal(db) {
		return da.Before(db)
	}
	if a.ReferenceID != b.ReferenceID {
		return a.ReferenceID < b.ReferenceID
	}
	return a.ID < b.ID
}

// bucket returns every actual sharing key, ordered by settlement date.
func (idx *CandidateIndex) bucket(key BucketKey) []*domain.ActualSettlement {
	return idx.buckets[key]
}

// Window returns the actuals in key whose settlement date lies within days of
// date, inclusive on both ends.
func (idx *CandidateIndex) Window(key BucketKey, date time.Time, days int) []*domain.ActualSettlement {
	bucket := idx.bucket(key)
	if len(bucket) == 0 {
		return nil
	}
	d := civilDate(date)
	lo := d.AddDate(0, 0, -days)
	hi := d.AddDate(0, 0, days)

	start := sort.Search(len(bucket), func(i int) bool {
		return !civilDate(bucket[i].SettlementDate).Before(lo)
	})
	end := sort.Search(len(bucket), func(i int) bool {
		return civilDate(bucket[i].SettlementDate).After(hi)
	})
	if start >= end {
		return nil
	}
	return bucket[start:end]
}

// civilDate drops the time of day so offsets are counted in calendar days.
func civilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dayOffset is the absolute number of calendar days between a and b.
func dayOffset(a, b time.Time) int {
	diff := civilDate(a).Sub(civilDate(b))
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}
