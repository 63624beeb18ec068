package pkgstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir())
	require.NoError(t, s.EnsureLayout())
	return s
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestEnsureLayoutCreatesAllDirs(t *testing.T) {
	s := newTestStore(t)
	for _, dir := range []string{"app", "game", "dlc", "update", "save", "_unknown", "_media", "_cache", "_errors", "_logs"} {
		info, err := os.Stat(filepath.Join(s.Root, dir))
		require.NoError(t, err, dir)
		require.True(t, info.IsDir())
	}
}

func TestScanPkgFilesExcludesMediaAndSortsDeterministically(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, filepath.Join(s.Root, "game", "b.pkg"), []byte("b"))
	writeFile(t, filepath.Join(s.Root, "app", "a.PKG"), []byte("a"))
	writeFile(t, filepath.Join(s.Root, "_media", "ignored_icon0.png"), []byte("x"))
	writeFile(t, filepath.Join(s.Root, "game", "note.txt"), []byte("not a pkg"))

	paths, err := s.ScanPkgFiles()
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for i := 1; i < len(paths); i++ {
		require.True(t, paths[i-1] < paths[i], "paths must be sorted")
	}
}

func TestMoveToCanonicalIsIdempotentAndDetectsConflict(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(s.Root, "_unknown", "source.pkg")
	writeFile(t, src, []byte("payload"))
	cid, err := catalog.ParseContentID("UP0001-TEST00001_00-0000000000000001")
	require.NoError(t, err)

	target, err := s.MoveToCanonical(src, catalog.AppTypeGame, cid)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.Root, "game", cid.String()+".pkg"), target)
	_, err = os.Stat(target)
	require.NoError(t, err)

	again, err := s.MoveToCanonical(target, catalog.AppTypeGame, cid)
	require.NoError(t, err)
	require.Equal(t, target, again)

	other := filepath.Join(s.Root, "_unknown", "other.pkg")
	writeFile(t, other, []byte("different payload"))
	_, err = s.MoveToCanonical(other, catalog.AppTypeGame, cid)
	require.Error(t, err)
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
}

func TestMoveToErrorsSanitizesReasonAndNeverOverwrites(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(s.Root, "_unknown", "bad.pkg")
	writeFile(t, src, []byte("bad"))

	quarantined, err := s.MoveToErrors(src, "SFO Missing!!")
	require.NoError(t, err)
	require.Contains(t, filepath.Base(quarantined), "bad.sfo_missing.")
	require.True(t, filepath.Dir(quarantined) == s.ErrorsDir())

	src2 := filepath.Join(s.Root, "_unknown", "bad.pkg")
	writeFile(t, src2, []byte("bad again"))
	quarantined2, err := s.MoveToErrors(src2, "sfo_missing")
	require.NoError(t, err)
	require.NotEqual(t, quarantined, quarantined2, "second quarantine must not collide with the first")
}

func TestSanitizeReason(t *testing.T) {
	require.Equal(t, "sfo_missing", SanitizeReason("SFO Missing!!"))
	require.Equal(t, "conflict", SanitizeReason("conflict"))
	require.Equal(t, "unknown", SanitizeReason("###"))
}

func TestFingerprintStableAcrossCallsAndSensitiveToMtime(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Root, "_unknown", "fp.pkg")
	writeFile(t, path, []byte("small payload"))
	size, mtimeNS, err := Stat(path)
	require.NoError(t, err)

	fp1, err := Fingerprint(path, size, mtimeNS)
	require.NoError(t, err)
	fp2, err := Fingerprint(path, size, mtimeNS)
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)

	fp3, err := Fingerprint(path, size, mtimeNS+1)
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp3)
}

func TestFingerprintHandlesLargeFiles(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Root, "_unknown", "large.pkg")
	data := make([]byte, fingerprintChunk*2+17)
	for i := range data {
		data[i] = byte(i % 251)
	}
	writeFile(t, path, data)
	size, mtimeNS, err := Stat(path)
	require.NoError(t, err)

	fp, err := Fingerprint(path, size, mtimeNS)
	require.NoError(t, err)
	require.Len(t, fp, 32) // 16 bytes hex-encoded
}
