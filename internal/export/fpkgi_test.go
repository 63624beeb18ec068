package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
	"github.com/stretchr/testify/require"
)

func newTestItem(t *testing.T, contentID string, appType catalog.AppType, pkgPath string, size int64) catalog.Item {
	t.Helper()
	cid, err := catalog.ParseContentID(contentID)
	require.NoError(t, err)
	return catalog.Item{
		ContentID:   cid,
		AppType:     appType,
		Version:     "01.00",
		TitleID:     "CUSA00001",
		Title:       "Example Game",
		ReleaseDate: "2023-04-15",
		SystemVer:   "04050010",
		PkgPath:     pkgPath,
		PkgSize:     size,
		Icon0Path:   filepath.Join(filepath.Dir(pkgPath), "..", "_media", contentID+"_icon0.png"),
	}
}

func TestFpkgiExportWritesAllStemsEvenWhenEmpty(t *testing.T) {
	dataRoot := t.TempDir()
	outDir := filepath.Join(dataRoot, "share", "fpkgi")
	exporter := &FpkgiExporter{OutputDir: outDir, Publisher: URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example/"}}

	written, err := exporter.Export(nil)
	require.NoError(t, err)
	require.Len(t, written, len(managedStems))

	for _, stem := range managedStems {
		raw, err := os.ReadFile(filepath.Join(outDir, stem+".json"))
		require.NoError(t, err)
		var doc fpkgiDocument
		require.NoError(t, json.Unmarshal(raw, &doc))
		require.Empty(t, doc.Data)
	}
}

func TestFpkgiExportGroupsByAppType(t *testing.T) {
	dataRoot := t.TempDir()
	pkgPath := filepath.Join(dataRoot, "share", "pkg", "game", "UP0001-TEST00001_00-0000000000000001.pkg")
	outDir := filepath.Join(dataRoot, "share", "fpkgi")
	exporter := &FpkgiExporter{OutputDir: outDir, Publisher: URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example"}}

	item := newTestItem(t, "UP0001-TEST00001_00-0000000000000001", catalog.AppTypeGame, pkgPath, 500)
	_, err := exporter.Export([]catalog.Item{item})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(outDir, "GAMES.json"))
	require.NoError(t, err)
	var doc fpkgiDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Data, 1)

	for _, entry := range doc.Data {
		require.Equal(t, "USA", entry.Region)
		require.Equal(t, "04-15-2023", entry.Release)
		require.Equal(t, "500 B", entry.Size)
	}
}

func TestFpkgiExportEntriesHaveSortedKeys(t *testing.T) {
	dataRoot := t.TempDir()
	pkgPath := filepath.Join(dataRoot, "share", "pkg", "game", "UP0001-TEST00001_00-0000000000000001.pkg")
	outDir := filepath.Join(dataRoot, "share", "fpkgi")
	exporter := &FpkgiExporter{OutputDir: outDir, Publisher: URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example"}}

	item := newTestItem(t, "UP0001-TEST00001_00-0000000000000001", catalog.AppTypeGame, pkgPath, 500)
	_, err := exporter.Export([]catalog.Item{item})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(outDir, "GAMES.json"))
	require.NoError(t, err)

	// Keys within an entry object must appear alphabetically, not in
	// fpkgiEntry's field-declaration order.
	coverIdx := indexOf(t, raw, `"cover_url"`)
	minFWIdx := indexOf(t, raw, `"min_fw"`)
	nameIdx := indexOf(t, raw, `"name"`)
	regionIdx := indexOf(t, raw, `"region"`)
	releaseIdx := indexOf(t, raw, `"release"`)
	sizeIdx := indexOf(t, raw, `"size"`)
	titleIDIdx := indexOf(t, raw, `"title_id"`)
	versionIdx := indexOf(t, raw, `"version"`)

	require.True(t, coverIdx < minFWIdx)
	require.True(t, minFWIdx < nameIdx)
	require.True(t, nameIdx < regionIdx)
	require.True(t, regionIdx < releaseIdx)
	require.True(t, releaseIdx < sizeIdx)
	require.True(t, sizeIdx < titleIDIdx)
	require.True(t, titleIDIdx < versionIdx)
}

func indexOf(t *testing.T, haystack []byte, needle string) int {
	t.Helper()
	idx := -1
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == needle {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0, "expected to find %q", needle)
	return idx
}

func TestFpkgiCleanupRemovesEveryExistingManagedFile(t *testing.T) {
	// Export always rewrites every stem, so stale-file removal inside Export
	// is not reachable here; this verifies Cleanup removes every managed file.
	dataRoot := t.TempDir()
	outDir := filepath.Join(dataRoot, "share", "fpkgi")
	exporter := &FpkgiExporter{OutputDir: outDir, Publisher: URLPublisher{DataRoot: dataRoot, BaseURL: "https://cdn.example"}}

	_, err := exporter.Export(nil)
	require.NoError(t, err)

	removed, err := exporter.Cleanup()
	require.NoError(t, err)
	require.Len(t, removed, len(managedStems))

	for _, f := range exporter.ManagedFiles() {
		_, err := os.Stat(f)
		require.True(t, os.IsNotExist(err))
	}
}

func TestFormatSizeBoundaries(t *testing.T) {
	require.Equal(t, "1023 B", formatSize(catalog.Item{PkgSize: 1023}))
	require.Equal(t, "1.00 MB", formatSize(catalog.Item{PkgSize: bytesPerMB}))
	require.Equal(t, "1.00 GB", formatSize(catalog.Item{PkgSize: bytesPerGB}))
	require.Equal(t, "512.00 MB", formatSize(catalog.Item{PkgSize: bytesPerGB / 2}))
}

func TestFormatRelease(t *testing.T) {
	require.Equal(t, "04-15-2023", formatRelease("2023-04-15"))
	require.Equal(t, "", formatRelease(""))
	require.Equal(t, "", formatRelease("garbage"))
}

func TestNormalizeMinFW(t *testing.T) {
	require.Equal(t, "", normalizeMinFW(""))
	require.Equal(t, "4.50", normalizeMinFW("4.50"))
	require.Equal(t, "4.50.1", normalizeMinFW("4.50.1"))
	require.Equal(t, "4.05", normalizeMinFW("04050000"))
	require.Equal(t, "4.50.10", normalizeMinFW("04501000"))
	require.Equal(t, "9.00", normalizeMinFW("0x09000000"))
	require.Equal(t, "10.10", normalizeMinFW("0A0A0000")) // nibble > 9 forces hex-byte interpretation
}

func TestByteToDecimalFallsBackToHexWhenNibbleExceedsNine(t *testing.T) {
	// 0x0A is not <=9 on either nibble pairing where one nibble exceeds 9,
	// so it falls back to hex interpretation of the full byte pair.
	require.Equal(t, 10, byteToDecimal("0A"))
	require.Equal(t, 45, byteToDecimal("45"))
	require.Equal(t, 0x1A, byteToDecimal("1A"))
}
