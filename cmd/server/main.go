package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/tlmsim/reconciler/internal/api"
	"github.com/tlmsim/reconciler/internal/config"
	"github.com/tlmsim/reconciler/internal/domain"
	"github.com/tlmsim/reconciler/internal/ingestion"
	"github.com/tlmsim/reconciler/internal/logging"
	"github.com/tlmsim/reconciler/internal/metrics"
	"github.com/tlmsim/reconciler/internal/reconciliation"
	"github.com/tlmsim/reconciler/internal/repository"
)

// Seed files looked up under the configured seed directory.
const (
	seedActuals = "actual_settlements.csv"
	seedTrades  = "expected_trades.csv"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx := context.Background()

	log.WithField("driver", cfg.Database.Driver).Info("Initializing database")
	db, err := repository.InitDB(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	m := metrics.New()

	defaultPolicy, err := domain.NewTolerancePolicy(cfg.Reconciliation.DefaultCashTolerance, cfg.Reconciliation.DefaultDateTolerance)
	if err != nil {
		log.Fatalf("Invalid default tolerance: %v", err)
	}

	// Create repositories.
	tradeRepo := repository.NewTradeRepo(db)
	settlementRepo := repository.NewSettlementRepo(db)
	breakRepo := repository.NewBreakRepo(db)
	policyRepo := repository.NewTolerancePolicyRepo(db, defaultPolicy)
	uploadRepo := repository.NewUploadRepo(db)

	// Create services.
	engine := reconciliation.NewEngine(breakRepo, tradeRepo, reconciliation.Options{
		Workers: cfg.Reconciliation.Workers,
		Severity: reconciliation.SeverityPolicy{
			LowMultiplier:    decimal.NewFromFloat(cfg.Reconciliation.Severity.LowMultiplier),
			MediumMultiplier: decimal.NewFromFloat(cfg.Reconciliation.Severity.MediumMultiplier),
			Epsilon:          decimal.NewFromFloat(cfg.Reconciliation.Severity.Epsilon),
		},
	}, m)
	reconSvc := reconciliation.NewService(tradeRepo, settlementRepo, policyRepo, engine)
	ingestionSvc := ingestion.NewService(tradeRepo, settlementRepo, uploadRepo, reconSvc, m)

	// Seed if DB is empty.
	if cfg.Seed.Enabled {
		count, err := tradeRepo.Count(ctx)
		if err != nil {
			log.Fatalf("Failed to count trades: %v", err)
		}
		if count == 0 {
			log.WithField("dir", cfg.Seed.Dir).Info("Database is empty, seeding from testdata")
			if err := seed(ctx, ingestionSvc, cfg.Seed.Dir); err != nil {
				log.WithError(err).Warn("Failed to seed")
			}
		} else {
			log.Infof("Database already has %d trades, skipping seed", count)
		}
	}

	router := api.NewRouter(api.Deps{
		DB:             db,
		Trades:         tradeRepo,
		Settlements:    settlementRepo,
		Breaks:         breakRepo,
		Policies:       policyRepo,
		Uploads:        uploadRepo,
		Ingestion:      ingestionSvc,
		Reconciliation: reconSvc,
		Metrics:        m,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Infof("Trade settlement reconciler listening on http://localhost:%d", cfg.Server.Port)
		log.Infof("API base: http://localhost:%d/api/v1", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	log.Info("Server exited")
}

// seed ingests the sample settlement and trade files, settlements first so
// the reconciliation triggered by the trade file has counterparts to match.
func seed(ctx context.Context, svc *ingestion.Service, dir string) error {
	candidates := []string{dir}
	// Also try to find relative to the executable.
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, dir),
			filepath.Join(exeDir, "..", "..", dir),
		)
	}

	var root string
	for _, c := range candidates {
		if _, err := os.Stat(filepath.Join(c, seedTrades)); err == nil {
			root = c
			break
		}
	}
	if root == "" {
		return fmt.Errorf("could not find %s in any candidate path", seedTrades)
	}

	files := []struct {
		name string
		kind domain.UploadKind
	}{
		{seedActuals, domain.UploadActual},
		{seedTrades, domain.UploadExpected},
	}
	for _, f := range files {
		path := filepath.Join(root, f.name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := svc.Ingest(ctx, ingestion.IngestRequest{
			Filename: f.name,
			Uploader: domain.SystemActor,
			Kind:     f.kind,
			Data:     data,
		})
		if err != nil {
			return fmt.Errorf("ingest %s: %w", f.name, err)
		}
		log.WithFields(log.Fields{
			"file":     f.name,
			"rows":     res.RowsProcessed,
			"rejected": res.RowsRejected,
		}).Info("Seeded")
	}
	return nil
}
