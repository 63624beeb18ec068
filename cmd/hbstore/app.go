package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
	"github.com/fabiocdo/hb-store-cdn/internal/config"
	"github.com/fabiocdo/hb-store-cdn/internal/export"
	"github.com/fabiocdo/hb-store-cdn/internal/ingest"
	"github.com/fabiocdo/hb-store-cdn/internal/logging"
	"github.com/fabiocdo/hb-store-cdn/internal/pkgstore"
	"github.com/fabiocdo/hb-store-cdn/internal/probe/execprobe"
	"github.com/fabiocdo/hb-store-cdn/internal/reconcile"
	"github.com/fabiocdo/hb-store-cdn/internal/scheduler"
	"github.com/fabiocdo/hb-store-cdn/internal/snapshot"
)

// app bundles every wired component a serve/reconcile-once run needs,
// along with the teardown functions its caller must run on exit.
type app struct {
	Config config.Config
	Log    logr.Logger

	Store     *pkgstore.Store
	Repo      *catalog.Repository
	Cycle     *reconcile.Cycle
	Publisher export.URLPublisher

	StoreDBPath string

	close func()
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store := pkgstore.New(filepath.Join(cfg.DataDir, "share", "pkg"))
	if err := store.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("ensure pkg store layout: %w", err)
	}

	catalogDBPath := filepath.Join(cfg.DataDir, "internal", "catalog", "catalog.db")
	repo, err := catalog.Open(catalogDBPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	snapshotPath := filepath.Join(cfg.DataDir, "internal", "catalog", "pkgs-snapshot.json")
	snapshots := snapshot.New(snapshotPath)

	prober := execprobe.New(cfg.PkgtoolPath)
	prober.Timeout = time.Duration(cfg.PkgtoolTimeoutSeconds) * time.Second

	worker := &ingest.Worker{
		Store: store,
		Probe: prober,
		Repo:  repo,
		Log:   log.WithName("ingest"),
	}

	publisher := export.URLPublisher{DataRoot: cfg.DataDir, BaseURL: cfg.BaseURL}
	storeDBPath := filepath.Join(cfg.DataDir, "share", "hb-store", "store.db")
	fpkgiDir := filepath.Join(cfg.DataDir, "share", "fpkgi")

	storeDBExporter := &export.StoreDBExporter{Path: storeDBPath, Publisher: publisher}
	fpkgiExporter := &export.FpkgiExporter{OutputDir: fpkgiDir, Publisher: publisher}
	allTargets := []export.Exporter{storeDBExporter, fpkgiExporter}

	var enabled []export.Exporter
	for _, target := range cfg.OutputTargets {
		for _, exporter := range allTargets {
			if exporter.Target() == string(target) {
				enabled = append(enabled, exporter)
			}
		}
	}

	lockPath := filepath.Join(cfg.DataDir, "internal", "catalog", "reconcile.lock")
	fileLock, err := scheduler.NewFileLock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("create file lock: %w", err)
	}

	cycle := &reconcile.Cycle{
		Store:       store,
		Snapshots:   snapshots,
		Repo:        repo,
		Worker:      worker,
		Lock:        fileLock,
		WorkerCount: cfg.WatcherPkgPreprocessWorkers,
		Exporters:   enabled,
		AllTargets:  allTargets,
		Log:         log.WithName("reconcile"),
	}

	return &app{
		Config:      cfg,
		Log:         log,
		Store:       store,
		Repo:        repo,
		Cycle:       cycle,
		Publisher:   publisher,
		StoreDBPath: storeDBPath,
		close:       func() { _ = repo.Close() },
	}, nil
}

func (a *app) Close() {
	if a.close != nil {
		a.close()
	}
}
