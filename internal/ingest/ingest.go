// Package ingest implements the Ingest Worker: a pure function from
// one candidate PKG path to an upsert-or-quarantine decision, using the
// package store, the probe and the catalog repository under a per-call
// unit of work. It is deliberately free of any knowledge of the snapshot
// store or the exporters.
package ingest

import (
	"context"
	"fmt"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
	"github.com/fabiocdo/hb-store-cdn/internal/pkgstore"
	"github.com/fabiocdo/hb-store-cdn/internal/probe"
	"github.com/go-logr/logr"
)

// Outcome is the closed set of results one ingest call can produce.
type Outcome string

const (
	OutcomeUpserted    Outcome = "upserted"
	OutcomeQuarantined Outcome = "quarantined"
	OutcomeUnchanged   Outcome = "unchanged"
)

// Result reports what happened to one candidate path.
type Result struct {
	Path           string
	Outcome        Outcome
	QuarantineInto string               // set when Outcome == OutcomeQuarantined
	Reason         string               // set when Outcome == OutcomeQuarantined
	ContentID      string               // set on Upserted/Unchanged
	CatalogChange  catalog.UpsertOutcome // distinguishes a fresh insert from a content update
	Err            error                // underlying cause, always non-nil for Quarantined
}

// Worker consumes one candidate path per call.
type Worker struct {
	Store *pkgstore.Store
	Probe probe.Probe
	Repo  *catalog.Repository
	Log   logr.Logger
}

// Ingest runs the full per-candidate pipeline:
// stat, probe, derive identity, fingerprint, canonicalize, upsert, commit.
// A panic recovered here is reported as Quarantined("worker_error") so one
// bad candidate never aborts the worker pool.
func (w *Worker) Ingest(ctx context.Context, path string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			w.Log.Error(fmt.Errorf("panic: %v", r), "ingest worker recovered from panic", "path", path)
			result = w.quarantine(path, "worker_error", fmt.Errorf("panic: %v", r))
		}
	}()

	result, err := w.ingest(ctx, path)
	if err != nil {
		w.Log.Error(err, "ingest worker failed", "path", path)
		return w.quarantine(path, "worker_error", err)
	}
	return result
}

func (w *Worker) ingest(ctx context.Context, path string) (Result, error) {
	size, mtimeNS, err := pkgstore.Stat(path)
	if err != nil {
		return w.quarantine(path, "vanished", err), nil
	}

	probeResult, err := w.Probe.Probe(ctx, path, w.Store.MediaDir())
	if err != nil {
		probeErr := probe.AsProbeError(err)
		return w.quarantine(path, probeErr.Kind.QuarantineReason(), probeErr), nil
	}

	contentID, err := catalog.ParseContentID(probeResult.Fields["CONTENT_ID"])
	if err != nil {
		return w.quarantine(path, "invalid_metadata", err), nil
	}
	appType := catalog.AppTypeFromCategory(probeResult.Fields["CATEGORY"])

	fingerprint, err := pkgstore.Fingerprint(path, size, mtimeNS)
	if err != nil {
		return Result{}, fmt.Errorf("fingerprint %q: %w", path, err)
	}

	target, moveErr := w.Store.MoveToCanonical(path, appType, contentID)
	if moveErr != nil {
		var conflict *pkgstore.ConflictError
		if asConflictError(moveErr, &conflict) {
			existingFingerprint, statErr := fingerprintAt(conflict.Target)
			if statErr == nil && existingFingerprint == fingerprint {
				return w.quarantine(path, "duplicate", moveErr), nil
			}
			return w.quarantine(path, "conflict", moveErr), nil
		}
		return Result{}, fmt.Errorf("move to canonical: %w", moveErr)
	}

	item := catalog.Item{
		ContentID:      contentID,
		AppType:        appType,
		Version:        probeResult.Fields["VERSION"],
		TitleID:        probeResult.Fields["TITLE_ID"],
		Title:          probeResult.Fields["TITLE"],
		Category:       probeResult.Fields["CATEGORY"],
		PubToolInfo:    probeResult.Fields["PUBTOOLINFO"],
		SystemVer:      probeResult.Fields["SYSTEM_VER"],
		ReleaseDate:    probeResult.Fields["release_date"],
		PkgPath:        target,
		PkgSize:        size,
		PkgMtimeNS:     mtimeNS,
		PkgFingerprint: fingerprint,
		Icon0Path:      probeResult.Icon0Path,
		Pic0Path:       probeResult.Pic0Path,
		Pic1Path:       probeResult.Pic1Path,
		SFO:            catalog.NewParamSfoSnapshot(probeResult.Fields, probeResult.Raw),
	}

	tx, err := w.Repo.BeginTx(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	upsertOutcome, err := catalog.Upsert(ctx, tx, item)
	if err != nil {
		return Result{}, fmt.Errorf("upsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}

	outcome := OutcomeUnchanged
	if upsertOutcome != catalog.UpsertSkipped {
		outcome = OutcomeUpserted
	}
	return Result{Path: target, Outcome: outcome, ContentID: contentID.String(), CatalogChange: upsertOutcome}, nil
}

func (w *Worker) quarantine(path, reason string, cause error) Result {
	quarantinedPath, err := w.Store.MoveToErrors(path, reason)
	if err != nil {
		w.Log.Error(err, "failed to quarantine candidate", "path", path, "reason", reason)
		return Result{Path: path, Outcome: OutcomeQuarantined, Reason: reason, Err: cause}
	}
	return Result{Path: path, Outcome: OutcomeQuarantined, QuarantineInto: quarantinedPath, Reason: reason, Err: cause}
}

func asConflictError(err error, target **pkgstore.ConflictError) bool {
	if ce, ok := err.(*pkgstore.ConflictError); ok {
		*target = ce
		return true
	}
	return false
}

func fingerprintAt(path string) (string, error) {
	size, mtimeNS, err := pkgstore.Stat(path)
	if err != nil {
		return "", err
	}
	return pkgstore.Fingerprint(path, size, mtimeNS)
}
