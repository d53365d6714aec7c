package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"depvet/config"
	"depvet/depsdev"
	"depvet/fetch"
	"depvet/health"
	"depvet/license"
	"depvet/metrics"
	"depvet/model"
	"depvet/osv"
	"depvet/registry"
	"depvet/storage"
	"depvet/version"
	"depvet/vetting"
	"depvet/vuln"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// app is the fully wired set of components one command invocation works with.
type app struct {
	cfg config.Config
	log *logrus.Logger

	metrics  *metrics.Metrics
	db       *sql.DB
	history  *storage.Storage
	registry *registry.Store
	depsdev  *depsdev.DepsDevClient
	analyzer *version.Analyzer
	service  *vetting.Service
	monitor  *health.Monitor
}

func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger) (*app, error) {
	m := metrics.NewMetrics()

	fetcher := fetch.New(cfg.Feeds.Timeout, cfg.Feeds.Retries, cfg.Feeds.RequestsPerSecond)
	client := depsdev.NewClient(cfg.Feeds.DepsDevURL, fetcher)
	osvClient := osv.NewOSVClient(cfg.Feeds.OSVURL, fetcher)

	scanner := &vuln.Scanner{
		Sources: []vuln.Source{osvClient, &depsdev.AdvisorySource{Client: client}},
		Timeout: cfg.Feeds.Timeout,
		Log:     log,
		Metrics: m,
	}

	evaluator, err := license.NewEvaluator(license.Policy{Allowed: cfg.License.Allowed, Blocked: cfg.License.Blocked})
	if err != nil {
		return nil, fmt.Errorf("invalid license policy: %w", err)
	}

	minSeverity, err := model.ParseSeverity(cfg.Security.MinSeverity)
	if err != nil {
		return nil, err
	}

	store := registry.NewStore(cfg.Registry.Path, log)
	store.Metrics = m
	store.RecreateCorrupt = cfg.Registry.RecreateCorrupt

	db, history, err := openHistory(ctx, cfg.History.Path)
	if err != nil {
		return nil, err
	}

	security := &health.SecurityChecker{Scanner: scanner, MinSeverity: minSeverity}
	maintenance := &health.MaintenanceChecker{
		Feed:       client,
		StaleAfter: time.Duration(cfg.Maintenance.StaleAfterDays) * 24 * time.Hour,
	}
	performance := &health.PerformanceChecker{}
	if cfg.Monitoring.BenchmarksFile != "" {
		feed, err := health.LoadBenchmarks(cfg.Monitoring.BenchmarksFile)
		if err != nil {
			log.WithError(err).Warn("Performance checks disabled")
		} else {
			performance.Feed = feed
		}
	}
	licenseChecker := &health.LicenseChecker{Feed: client, Evaluator: evaluator}

	frequency, err := health.ParseFrequency(cfg.Monitoring.Frequency)
	if err != nil {
		log.WithError(err).Warn("Using the default monitoring frequency")
		frequency = health.DefaultFrequency
	}

	weights := make(map[model.StageName]float64, len(model.StageOrder))
	for _, stage := range model.StageOrder {
		weights[stage] = cfg.Weight(string(stage))
	}

	orchestrator := &vetting.Orchestrator{
		Stages: []vetting.Stage{
			&vetting.ScreeningStage{Feed: client, Policy: cfg.Screening},
			&vetting.SecurityStage{Scanner: scanner, Policy: cfg.Security},
			&vetting.LicenseStage{Evaluator: evaluator, Feed: client},
			&vetting.MaintenanceStage{Checker: maintenance},
			&vetting.PerformanceStage{Checker: performance},
			&vetting.IntegrationStage{Graph: client, Policy: cfg.Integration},
			&vetting.ArchitectureStage{Registry: store},
		},
		Weights:     weights,
		Metrics:     m,
		Log:         log,
		Concurrency: cfg.Vetting.Concurrency,
	}

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		db:       db,
		history:  history,
		registry: store,
		depsdev:  client,
		analyzer: &version.Analyzer{Feed: client},
		service: &vetting.Service{
			Orchestrator: orchestrator,
			Registry:     store,
			History:      history,
			ApprovedBy:   cfg.Vetting.ApprovedBy,
			Frequency:    cfg.Monitoring.Frequency,
			Log:          log,
		},
		monitor: &health.Monitor{
			Store:       store,
			Security:    security,
			Maintenance: maintenance,
			Performance: performance,
			License:     licenseChecker,
			History:     history,
			Metrics:     m,
			Log:         log,
			Concurrency: cfg.Monitoring.Concurrency,
			Frequency:   frequency,
		},
	}, nil
}

func openHistory(ctx context.Context, path string) (*sql.DB, *storage.Storage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history DB: %w", err)
	}
	db.SetMaxOpenConns(1)

	history := &storage.Storage{DB: db}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := history.InitSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, history, nil
}

func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close history DB")
		}
	}
}

// withApp wires the components for one command and closes them afterwards.
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, o.cfg, o.log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
