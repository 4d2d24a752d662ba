package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

type trade struct {
	id         string
	account    string
	instrument string
	isin       string
	side       string
	qty        int64
	price      decimal.Decimal
	currency   string
	tradeDate  time.Time
	settleDate time.Time
	fees       decimal.Decimal
}

func (t trade) cash() decimal.Decimal {
	return t.price.Mul(decimal.NewFromInt(t.qty)).Round(2)
}

var instruments = []struct {
	symbol string
	isin   string
	price  float64
}{
	{"AAPL", "US0378331005", 180},
	{"GOOGL", "US02079K3059", 140},
	{"MSFT", "US5949181045", 410},
	{"TSLA", "US88160R1014", 200},
}

func main() {
	count := flag.Int("n", 40, "number of expected trades")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	baseDir := findTestdataDir()

	accounts := []string{"ACC001", "ACC002", "ACC003"}
	tradeDate := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	trades := make([]trade, *count)
	for i := range trades {
		inst := instruments[rng.Intn(len(instruments))]
		side := "BUY"
		if rng.Intn(2) == 1 {
			side = "SELL"
		}
		price := decimal.NewFromFloat(inst.price * (0.9 + rng.Float64()*0.2)).Round(2)
		trades[i] = trade{
			id:         fmt.Sprintf("T%d", 1000+i),
			account:    accounts[rng.Intn(len(accounts))],
			instrument: inst.symbol,
			isin:       inst.isin,
			side:       side,
			qty:        int64(10 + rng.Intn(991)),
			price:      price,
			currency:   "USD",
			tradeDate:  tradeDate,
			settleDate: tradeDate.AddDate(0, 0, 2),
			fees:       decimal.NewFromFloat(1 + rng.Float64()*9).Round(2),
		}
	}

	writeTrades(filepath.Join(baseDir, "expected_trades.csv"), trades)
	fmt.Printf("Generated %d trades -> expected_trades.csv\n", len(trades))

	n := writeActuals(rng, filepath.Join(baseDir, "actual_settlements.csv"), trades)
	fmt.Printf("Generated %d settlements -> actual_settlements.csv\n", n)

	fmt.Println("Test data generation complete.")
}

func writeTrades(path string, trades []trade) {
	rows := [][]string{{"trade_id", "account", "instrument", "isin", "side", "quantity", "price",
		"currency", "trade_date", "settlement_date", "cash_amount", "status", "fees"}}
	for _, t := range trades {
		rows = append(rows, []string{
			t.id, t.account, t.instrument, t.isin, t.side,
			fmt.Sprint(t.qty), t.price.StringFixed(2), t.currency,
			t.tradeDate.Format("2006-01-02"), t.settleDate.Format("2006-01-02"),
			t.cash().StringFixed(2), "SETTLED", t.fees.StringFixed(2),
		})
	}
	writeCSVFile(path, rows)
}

// writeActuals mirrors the trades with a realistic mix of breaks: most
// settle exactly, some off by cents, some short on quantity with no cash
// reported, some a day late and a few never settle.
func writeActuals(rng *rand.Rand, path string, trades []trade) int {
	rows := [][]string{{"reference_id", "account", "instrument", "quantity", "cash_amount",
		"settlement_date", "currency", "side"}}
	for i, t := range trades {
		ref := fmt.Sprintf("S%d", 5000+i)
		qty := t.qty
		cash := t.cash().StringFixed(2)
		date := t.settleDate

		roll := rng.Float64()
		switch {
		case roll < 0.70:
		case roll < 0.80:
			// Off by 1 to 99 cents.
			delta := decimal.New(int64(1+rng.Intn(99)), -2)
			if rng.Intn(2) == 0 {
				delta = delta.Neg()
			}
			cash = t.cash().Add(delta).StringFixed(2)
		case roll < 0.87:
			qty = t.qty - int64(1+rng.Intn(5))
			cash = ""
		case roll < 0.94:
			date = date.AddDate(0, 0, 1)
		default:
			continue
		}

		rows = append(rows, []string{
			ref, t.account, t.instrument, fmt.Sprint(qty), cash,
			date.Format("2006-01-02"), t.currency, t.side,
		})
	}
	writeCSVFile(path, rows)
	return len(rows) - 1
}

func writeCSVFile(path string, rows [][]string) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", path, err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
		os.Exit(1)
	}
}

func findTestdataDir() string {
	// Look for the testdata directory relative to common locations.
	candidates := []string{
		"testdata",
		"./testdata",
		"../",
	}
	for _, c := range candidates {
		if info, err := os.Stat(filepath.Join(c, "generate")); err == nil && info.IsDir() {
			return c
		}
	}
	// Fallback.
	return "testdata"
}
