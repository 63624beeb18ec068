// Package reconcile orchestrates one reconciliation cycle: acquire the
// lock, diff the persisted snapshot against the live tree, ingest changed
// candidates through a bounded worker pool, prune stale catalog rows, run
// the configured exporters, persist the new snapshot, then release the
// lock.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
	"github.com/fabiocdo/hb-store-cdn/internal/export"
	"github.com/fabiocdo/hb-store-cdn/internal/ingest"
	"github.com/fabiocdo/hb-store-cdn/internal/metrics"
	"github.com/fabiocdo/hb-store-cdn/internal/pkgstore"
	"github.com/fabiocdo/hb-store-cdn/internal/snapshot"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Result reports the outcome of one cycle.
type Result struct {
	Added         int
	Updated       int
	Removed       int
	Failed        int
	ExportedFiles int
	Skipped       bool // true when the lock could not be acquired
}

// Locker is a non-blocking, process-wide advisory lock.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// Cycle wires together every component a reconcile cycle needs.
type Cycle struct {
	Store       *pkgstore.Store
	Snapshots   *snapshot.Store
	Repo        *catalog.Repository
	Worker      *ingest.Worker
	Lock        Locker
	WorkerCount int
	Exporters   []export.Exporter // enabled, in configured priority order
	AllTargets  []export.Exporter // every known exporter, enabled or not
	Log         logr.Logger
}

// Run executes exactly one cycle. A zero Result with Skipped=true means
// another cycle already holds the lock.
func (c *Cycle) Run(ctx context.Context) (Result, error) {
	acquired, err := c.Lock.TryLock()
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		c.Log.Info("reconcile cycle skipped: lock unavailable")
		metrics.CycleSkippedTotal.Inc()
		return Result{Skipped: true}, nil
	}
	defer func() {
		if err := c.Lock.Unlock(); err != nil {
			c.Log.Error(err, "failed to release reconcile lock")
		}
	}()

	start := time.Now()
	metrics.CycleTotal.Inc()
	result, err := c.run(ctx)
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CycleErrorsTotal.Inc()
		return result, err
	}

	metrics.ItemsAdded.Add(float64(result.Added))
	metrics.ItemsUpdated.Add(float64(result.Updated))
	metrics.ItemsRemoved.Add(float64(result.Removed))
	metrics.ItemsFailed.Add(float64(result.Failed))
	metrics.LastCycleTimestamp.Set(float64(time.Now().Unix()))

	c.Log.Info("reconcile cycle complete",
		"added", result.Added, "updated", result.Updated, "removed", result.Removed,
		"failed", result.Failed, "exported_files", result.ExportedFiles,
	)
	return result, nil
}

func (c *Cycle) run(ctx context.Context) (Result, error) {
	previous, err := c.Snapshots.Load()
	if err != nil {
		return Result{}, fmt.Errorf("load snapshot: %w", err)
	}

	current, err := c.buildSnapshot()
	if err != nil {
		return Result{}, fmt.Errorf("build snapshot: %w", err)
	}

	delta := snapshot.Diff(previous, current)
	candidates := mergeSorted(delta.Added, delta.Updated)

	added, updated, failed := c.ingestAll(ctx, candidates)

	postIngest, err := c.buildSnapshot()
	if err != nil {
		return Result{}, fmt.Errorf("rebuild snapshot post-ingest: %w", err)
	}

	present := make(map[string]struct{}, len(postIngest))
	for path := range postIngest {
		present[path] = struct{}{}
	}

	removedCount, err := c.prune(ctx, present)
	if err != nil {
		return Result{}, fmt.Errorf("prune: %w", err)
	}

	exportedFiles, exportErr := c.export(ctx)
	if exportErr != nil {
		c.Log.Error(exportErr, "export step failed; snapshot will not be persisted this cycle")
		return Result{
			Added: added, Updated: updated, Removed: removedCount, Failed: failed,
		}, exportErr
	}

	if err := c.Snapshots.Save(postIngest); err != nil {
		return Result{}, fmt.Errorf("save snapshot: %w", err)
	}

	return Result{
		Added:         added,
		Updated:       updated,
		Removed:       removedCount,
		Failed:        failed,
		ExportedFiles: exportedFiles,
	}, nil
}

func (c *Cycle) buildSnapshot() (snapshot.Snapshot, error) {
	paths, err := c.Store.ScanPkgFiles()
	if err != nil {
		return nil, err
	}
	snap := make(snapshot.Snapshot, len(paths))
	for _, path := range paths {
		size, mtimeNS, err := pkgstore.Stat(path)
		if err != nil {
			continue // vanished mid-scan; skip it this cycle
		}
		snap[path] = snapshot.Entry{Size: size, MtimeNS: mtimeNS}
	}
	return snap, nil
}

// ingestAll dispatches candidates through a bounded worker pool and
// returns (added, updated, failed) counts. "added" is a fresh catalog
// insert; "updated" is an existing row whose content changed; neither
// counts candidates the repository judged unchanged.
func (c *Cycle) ingestAll(ctx context.Context, candidates []string) (added, updated, failed int) {
	workers := c.WorkerCount
	if workers < 1 {
		workers = 1
	}

	results := make([]ingest.Result, len(candidates))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range candidates {
		i, path := i, path
		g.Go(func() error {
			results[i] = c.Worker.Ingest(gCtx, path)
			return nil
		})
	}
	_ = g.Wait() // Worker.Ingest never returns an error; it reports via Result

	for _, r := range results {
		switch {
		case r.Outcome == ingest.OutcomeQuarantined:
			failed++
		case r.CatalogChange == catalog.UpsertInserted:
			added++
		case r.CatalogChange == catalog.UpsertUpdated:
			updated++
		}
	}
	return added, updated, failed
}

func (c *Cycle) prune(ctx context.Context, present map[string]struct{}) (int, error) {
	tx, err := c.Repo.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	deleted, err := catalog.DeleteByPkgPathsNotIn(ctx, tx, present)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(deleted), nil
}

// export runs every enabled exporter in configured order, then calls
// Cleanup on every other known target — so disabling a target removes
// its stale outputs on the very next cycle.
func (c *Cycle) export(ctx context.Context) (int, error) {
	items, err := c.Repo.ListItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("list items for export: %w", err)
	}

	enabled := make(map[string]struct{}, len(c.Exporters))
	total := 0
	for _, exporter := range c.Exporters {
		enabled[exporter.Target()] = struct{}{}
		written, err := exporter.Export(items)
		if err != nil {
			return total, fmt.Errorf("export %s: %w", exporter.Target(), err)
		}
		total += len(written)
	}

	for _, exporter := range c.AllTargets {
		if _, ok := enabled[exporter.Target()]; ok {
			continue
		}
		removed, err := exporter.Cleanup()
		if err != nil {
			c.Log.Error(err, "cleanup of disabled exporter failed", "target", exporter.Target())
			continue
		}
		if len(removed) > 0 {
			c.Log.Info("removed stale outputs for disabled target", "target", exporter.Target(), "files", removed)
		}
	}

	return total, nil
}

func mergeSorted(a, b []string) []string {
	merged := make([]string, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sort.Strings(merged)
	return merged
}
