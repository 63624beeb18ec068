package export

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestStoreDBExportWritesRowsAndPublishesURLs(t *testing.T) {
	dataRoot := t.TempDir()
	pkgPath := filepath.Join(dataRoot, "share", "pkg", "game", "UP0001-TEST00001_00-0000000000000001.pkg")
	dbPath := filepath.Join(dataRoot, "share", "hb-store", "store.db")

	exporter := &StoreDBExporter{Path: dbPath, Publisher: URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example"}}
	item := newTestItem(t, "UP0001-TEST00001_00-0000000000000001", catalog.AppTypeGame, pkgPath, 2048)

	written, err := exporter.Export([]catalog.Item{item})
	require.NoError(t, err)
	require.Equal(t, []string{dbPath}, written)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var pkg, version string
	var md5 sql.NullString
	row := db.QueryRow(`SELECT package, version, md5 FROM homebrews WHERE content_id = ?`, item.ContentID.String())
	require.NoError(t, row.Scan(&pkg, &version, &md5))
	require.Equal(t, "https://cdn.example/share/pkg/game/UP0001-TEST00001_00-0000000000000001.pkg", pkg)
	require.Equal(t, "01.00", version)
	require.False(t, md5.Valid, "md5 column must remain NULL")
}

func TestStoreDBExportSizeReflectsOnDiskFileAtExportTime(t *testing.T) {
	dataRoot := t.TempDir()
	pkgPath := filepath.Join(dataRoot, "share", "pkg", "game", "UP0001-TEST00001_00-0000000000000001.pkg")
	require.NoError(t, os.MkdirAll(filepath.Dir(pkgPath), 0o755))
	require.NoError(t, os.WriteFile(pkgPath, make([]byte, 4096), 0o644))

	dbPath := filepath.Join(dataRoot, "share", "hb-store", "store.db")
	exporter := &StoreDBExporter{Path: dbPath, Publisher: URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example"}}

	// item.PkgSize (stale, from ingest time) deliberately disagrees with
	// the file's actual current size.
	item := newTestItem(t, "UP0001-TEST00001_00-0000000000000001", catalog.AppTypeGame, pkgPath, 2048)
	_, err := exporter.Export([]catalog.Item{item})
	require.NoError(t, err)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var size int64
	row := db.QueryRow(`SELECT Size FROM homebrews WHERE content_id = ?`, item.ContentID.String())
	require.NoError(t, row.Scan(&size))
	require.Equal(t, int64(4096), size, "Size must reflect the on-disk file at export time, not the stale ingest-time PkgSize")
}

func TestStoreDBExportFallsBackToRecordedSizeWhenFileMissing(t *testing.T) {
	dataRoot := t.TempDir()
	pkgPath := filepath.Join(dataRoot, "share", "pkg", "game", "UP0001-TEST00001_00-0000000000000001.pkg")
	dbPath := filepath.Join(dataRoot, "share", "hb-store", "store.db")
	exporter := &StoreDBExporter{Path: dbPath, Publisher: URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example"}}

	item := newTestItem(t, "UP0001-TEST00001_00-0000000000000001", catalog.AppTypeGame, pkgPath, 2048)
	_, err := exporter.Export([]catalog.Item{item})
	require.NoError(t, err)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var size int64
	row := db.QueryRow(`SELECT Size FROM homebrews WHERE content_id = ?`, item.ContentID.String())
	require.NoError(t, row.Scan(&size))
	require.Equal(t, int64(2048), size)
}

func TestStoreDBExportDeletesRowsNotInItemsList(t *testing.T) {
	dataRoot := t.TempDir()
	dbPath := filepath.Join(dataRoot, "store.db")
	exporter := &StoreDBExporter{Path: dbPath, Publisher: URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example"}}

	first := newTestItem(t, "UP0001-TEST00001_00-0000000000000001", catalog.AppTypeGame, filepath.Join(dataRoot, "a.pkg"), 10)
	_, err := exporter.Export([]catalog.Item{first})
	require.NoError(t, err)

	_, err = exporter.Export(nil)
	require.NoError(t, err)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM homebrews`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestStoreDBHashEmptyWhenFileAbsent(t *testing.T) {
	exporter := &StoreDBExporter{Path: filepath.Join(t.TempDir(), "missing.db")}
	hash, err := exporter.Hash()
	require.NoError(t, err)
	require.Equal(t, "", hash)
}

func TestStoreDBCleanupRemovesFile(t *testing.T) {
	dataRoot := t.TempDir()
	dbPath := filepath.Join(dataRoot, "store.db")
	exporter := &StoreDBExporter{Path: dbPath, Publisher: URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example"}}

	_, err := exporter.Export(nil)
	require.NoError(t, err)

	removed, err := exporter.Cleanup()
	require.NoError(t, err)
	require.Equal(t, []string{dbPath}, removed)
}

func TestURLPublisherFallsBackToRawPathOutsideDataRoot(t *testing.T) {
	p := URLPublisher{DataRoot: "/data", BaseURL: "https://cdn.example"}
	require.Equal(t, "/outside/file.pkg", p.PublishURL("/outside/file.pkg"))
	require.Equal(t, "https://cdn.example/share/pkg/a.pkg", p.PublishURL("/data/share/pkg/a.pkg"))
}
