package ingestion

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlmsim/reconciler/internal/domain"
	"github.com/tlmsim/reconciler/internal/reconciliation"
)

const tradesCSV = `trade_id,account,instrument,isin,side,quantity,price,currency,trade_date,settlement_date,cash_amount,status,fees
T1000,ACC001,AAPL,US0378331005,buy,100,150.25,usd,2024-03-01,2024-03-03,15025.00,SETTLED,4.50
T1001,ACC002,MSFT,,SELL,50,410.10,USD,2024-03-01,2024-03-03,,SETTLED,
T1002,ACC002,MSFT,,HOLD,50,410.10,USD,2024-03-01,2024-03-03,,SETTLED,
`

func TestReadCSVRows_Aliases(t *testing.T) {
	rows, err := readCSVRows(strings.NewReader("TradeId,Account\nT1,ACC1\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "T1", rows[0].get("trade_id"))
	assert.Equal(t, "ACC1", rows[0].get("account"))
	assert.Equal(t, 2, rows[0].line)
}

func TestReadCSVRows_Empty(t *testing.T) {
	_, err := readCSVRows(strings.NewReader(""))
	assert.Error(t, err)
}

func TestReadJSONRows(t *testing.T) {
	rows, err := readJSONRows([]byte(`[{"reference_id":"R1","quantity":100.10,"cash_amount":null}]`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "100.10", rows[0].get("quantity"))
	assert.Equal(t, "", rows[0].get("cash_amount"))

	rows, err = readJSONRows([]byte(`{"records":[{"ReferenceId":"R1"},{"ReferenceId":"R2"}]}`))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "R2", rows[1].get("reference_id"))
}

func TestMapTrade(t *testing.T) {
	rows, err := readCSVRows(strings.NewReader(tradesCSV))
	require.NoError(t, err)
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tr, err := mapTrade(rows[0], "trades.csv", created)
	require.NoError(t, err)
	assert.Equal(t, "T1000", tr.TradeID)
	assert.Equal(t, domain.SideBuy, tr.Side)
	assert.Equal(t, "USD", tr.Currency)
	assert.Equal(t, domain.TradeUnmatched, tr.Status)
	assert.Equal(t, "15025", tr.CashAmount.Decimal.String())
	assert.Equal(t, "4.5", tr.Fees.Decimal.String())

	tr, err = mapTrade(rows[1], "trades.csv", created)
	require.NoError(t, err)
	assert.False(t, tr.CashAmount.Valid)
	assert.False(t, tr.Fees.Valid)

	_, err = mapTrade(rows[2], "trades.csv", created)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "side", verr.Field)
}

func TestMapSettlement_ReferenceFallsBackToTradeID(t *testing.T) {
	rows, err := readCSVRows(strings.NewReader(
		"trade_id,account,instrument,quantity,settlement_date,currency\nT9,ACC1,AAPL,10,2024-03-03,EUR\n"))
	require.NoError(t, err)

	a, err := mapSettlement(rows[0], "actuals.csv", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "T9", a.ReferenceID)
	assert.Equal(t, domain.Side(""), a.Side)
	assert.False(t, a.CashAmount.Valid)
}

func TestMapSettlement_BadNumber(t *testing.T) {
	rows, err := readCSVRows(strings.NewReader(
		"reference_id,account,instrument,quantity,settlement_date,currency\nR1,ACC1,AAPL,ten,2024-03-03,USD\n"))
	require.NoError(t, err)

	_, err = mapSettlement(rows[0], "actuals.csv", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantity")
}

type fakeTrades struct{ got []*domain.ExpectedTrade }

func (f *fakeTrades) BulkInsert(_ context.Context, trades []*domain.ExpectedTrade) (int, error) {
	f.got = append(f.got, trades...)
	return len(trades), nil
}

type fakeSettlements struct{ got []*domain.ActualSettlement }

func (f *fakeSettlements) BulkInsert(_ context.Context, records []*domain.ActualSettlement) (int, error) {
	f.got = append(f.got, records...)
	return len(records), nil
}

type fakeUploads struct{ byHash map[string]*domain.Upload }

func (f *fakeUploads) ExistsByHash(_ context.Context, hash string) (bool, error) {
	_, ok := f.byHash[hash]
	return ok, nil
}

func (f *fakeUploads) Insert(_ context.Context, u *domain.Upload) error {
	f.byHash[u.Hash] = u
	return nil
}

type fakeReconciler struct{ runs int }

func (f *fakeReconciler) RunFullReconciliation(context.Context) *reconciliation.RunSummary {
	f.runs++
	return &reconciliation.RunSummary{Message: "Matching completed"}
}

func newTestService() (*Service, *fakeTrades, *fakeSettlements, *fakeUploads, *fakeReconciler) {
	tr := &fakeTrades{}
	st := &fakeSettlements{}
	up := &fakeUploads{byHash: map[string]*domain.Upload{}}
	rc := &fakeReconciler{}
	return NewService(tr, st, up, rc, nil), tr, st, up, rc
}

func TestIngest_ExpectedTrades(t *testing.T) {
	svc, trades, _, uploads, rec := newTestService()

	res, err := svc.Ingest(context.Background(), IngestRequest{
		Filename: "trades.csv", Uploader: "alice", Kind: domain.UploadExpected, Data: []byte(tradesCSV),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsProcessed)
	assert.Equal(t, 1, res.RowsRejected)
	require.Len(t, res.ProcessingErrors, 1)
	assert.Contains(t, res.ProcessingErrors[0], "row 4")
	require.NotNil(t, res.MatchResult)
	assert.Equal(t, 1, rec.runs)

	require.Len(t, trades.got, 2)
	assert.True(t, trades.got[0].CreatedAt.Before(trades.got[1].CreatedAt))
	require.Len(t, uploads.byHash, 1)
	for _, u := range uploads.byHash {
		assert.Equal(t, "alice", u.Uploader)
		assert.Equal(t, 2, u.RowsProcessed)
	}
}

func TestIngest_DuplicateFileIsNoop(t *testing.T) {
	svc, trades, _, _, rec := newTestService()
	req := IngestRequest{Filename: "trades.csv", Kind: domain.UploadExpected, Data: []byte(tradesCSV)}

	_, err := svc.Ingest(context.Background(), req)
	require.NoError(t, err)

	res, err := svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.AlreadyIngested)
	assert.Len(t, trades.got, 2)
	assert.Equal(t, 1, rec.runs)
}

func TestIngest_ActualJSON(t *testing.T) {
	svc, _, settlements, _, _ := newTestService()
	data := `{"records":[{"reference_id":"R1","account":"ACC1","instrument":"AAPL","quantity":100,"cash_amount":"15025.00","settlement_date":"2024-03-03","currency":"USD","side":"buy"}]}`

	res, err := svc.Ingest(context.Background(), IngestRequest{Filename: "actuals.json", Kind: domain.UploadActual, Data: []byte(data)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsProcessed)
	require.Len(t, settlements.got, 1)
	assert.Equal(t, domain.SideBuy, settlements.got[0].Side)
}

func TestIngest_RejectsBadRequests(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	var verr *domain.ValidationError

	_, err := svc.Ingest(context.Background(), IngestRequest{Filename: "x.csv", Kind: "OTHER", Data: []byte("a\n1\n")})
	assert.ErrorAs(t, err, &verr)

	_, err = svc.Ingest(context.Background(), IngestRequest{Filename: "x.csv", Kind: domain.UploadActual, Data: []byte("  ")})
	assert.ErrorAs(t, err, &verr)
}
