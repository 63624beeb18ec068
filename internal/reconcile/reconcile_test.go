package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
	"github.com/fabiocdo/hb-store-cdn/internal/export"
	"github.com/fabiocdo/hb-store-cdn/internal/ingest"
	"github.com/fabiocdo/hb-store-cdn/internal/pkgstore"
	"github.com/fabiocdo/hb-store-cdn/internal/probe"
	"github.com/fabiocdo/hb-store-cdn/internal/snapshot"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct{}

func (fakeProbe) Probe(ctx context.Context, path, mediaDir string) (probe.Result, error) {
	base := filepath.Base(path)
	contentID := "UP0001-TEST" + padDigits(base) + "_00-0000000000000001"
	return probe.Result{
		Fields: map[string]string{
			"CONTENT_ID": contentID,
			"CATEGORY":   "GD",
			"VERSION":    "01.00",
			"TITLE_ID":   "CUSA" + padDigits(base),
			"TITLE":      "Example",
		},
		Raw: []byte("sfo-" + base),
	}, nil
}

// padDigits derives a stable 5-digit numeral from a filename so distinct
// source files map to distinct content ids.
func padDigits(name string) string {
	sum := 0
	for _, r := range name {
		sum = (sum*31 + int(r)) % 100000
	}
	return padInt(sum)
}

func padInt(n int) string {
	s := "00000" + itoa(n)
	return s[len(s)-5:]
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

type memLock struct{ locked bool }

func (m *memLock) TryLock() (bool, error) {
	if m.locked {
		return false, nil
	}
	m.locked = true
	return true, nil
}
func (m *memLock) Unlock() error { m.locked = false; return nil }

func newTestCycle(t *testing.T) (*Cycle, *pkgstore.Store, string) {
	t.Helper()
	dataRoot := t.TempDir()
	pkgRoot := filepath.Join(dataRoot, "share", "pkg")
	store := pkgstore.New(pkgRoot)
	require.NoError(t, store.EnsureLayout())

	repo, err := catalog.Open(filepath.Join(dataRoot, "internal", "catalog", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	snapStore := snapshot.New(filepath.Join(dataRoot, "internal", "catalog", "snapshot.json"))

	worker := &ingest.Worker{Store: store, Probe: fakeProbe{}, Repo: repo, Log: logr.Discard()}

	storeDB := &export.StoreDBExporter{
		Path:      filepath.Join(dataRoot, "share", "hb-store", "store.db"),
		Publisher: export.URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example"},
	}
	fpkgi := &export.FpkgiExporter{
		OutputDir: filepath.Join(dataRoot, "share", "fpkgi"),
		Publisher: export.URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example"},
	}

	cycle := &Cycle{
		Store:       store,
		Snapshots:   snapStore,
		Repo:        repo,
		Worker:      worker,
		Lock:        &memLock{},
		WorkerCount: 2,
		Exporters:   []export.Exporter{storeDB, fpkgi},
		AllTargets:  []export.Exporter{storeDB, fpkgi},
		Log:         logr.Discard(),
	}
	return cycle, store, dataRoot
}

func writePkgFile(t *testing.T, store *pkgstore.Store, name string, data []byte) {
	t.Helper()
	path := filepath.Join(store.Root, "_unknown", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestCycleIngestsNewFilesAndExports(t *testing.T) {
	cycle, store, dataRoot := newTestCycle(t)
	writePkgFile(t, store, "a.pkg", []byte("payload a"))
	writePkgFile(t, store, "b.pkg", []byte("payload b"))

	result, err := cycle.Run(context.Background())
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, 2, result.Added)
	require.Equal(t, 0, result.Updated)
	require.Equal(t, 0, result.Failed)
	require.Greater(t, result.ExportedFiles, 0)

	items, err := cycle.Repo.ListItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	_, err = os.Stat(filepath.Join(dataRoot, "share", "hb-store", "store.db"))
	require.NoError(t, err)
}

func TestCycleIsIdempotentOnRepeatedRuns(t *testing.T) {
	cycle, store, _ := newTestCycle(t)
	writePkgFile(t, store, "a.pkg", []byte("payload a"))

	_, err := cycle.Run(context.Background())
	require.NoError(t, err)

	result, err := cycle.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Added)
	require.Equal(t, 0, result.Updated)
	require.Equal(t, 0, result.Failed)
}

func TestCyclePrunesRemovedFiles(t *testing.T) {
	cycle, store, _ := newTestCycle(t)
	writePkgFile(t, store, "a.pkg", []byte("payload a"))

	first, err := cycle.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Added)

	items, err := cycle.Repo.ListItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, os.Remove(items[0].PkgPath))

	second, err := cycle.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, second.Removed)

	remaining, err := cycle.Repo.ListItems(context.Background())
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestCycleSkipsWhenLockUnavailable(t *testing.T) {
	cycle, store, _ := newTestCycle(t)
	writePkgFile(t, store, "a.pkg", []byte("payload a"))
	cycle.Lock.(*memLock).locked = true

	result, err := cycle.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Skipped)

	items, err := cycle.Repo.ListItems(context.Background())
	require.NoError(t, err)
	require.Empty(t, items, "no ingest should happen while the lock is held")
}

func TestCycleCleansUpDisabledTargetOutputs(t *testing.T) {
	cycle, store, dataRoot := newTestCycle(t)
	writePkgFile(t, store, "a.pkg", []byte("payload a"))

	_, err := cycle.Run(context.Background())
	require.NoError(t, err)
	storeDBPath := filepath.Join(dataRoot, "share", "hb-store", "store.db")
	_, err = os.Stat(storeDBPath)
	require.NoError(t, err)

	// Disable the store-db target for the next cycle.
	cycle.Exporters = cycle.Exporters[1:] // keep only fpkgi enabled
	_, err = cycle.Run(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(storeDBPath)
	require.True(t, os.IsNotExist(err), "disabling a target must remove its stale output on the next cycle")
}
