// Package pkgstore owns the on-disk PKG tree: enumeration, stat, canonical
// placement, and quarantine. Placement and quarantine are single renames
// within the tree, so a reader never observes a partially written file.
package pkgstore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
	"golang.org/x/crypto/blake2b"
)

// dirForAppType binds each AppType to its canonical subdirectory name.
var dirForAppType = map[catalog.AppType]string{
	catalog.AppTypeApp:     "app",
	catalog.AppTypeGame:    "game",
	catalog.AppTypeDLC:     "dlc",
	catalog.AppTypeUpdate:  "update",
	catalog.AppTypeSave:    "save",
	catalog.AppTypeUnknown: "_unknown",
}

const mediaDir = "_media"

// internalDirs are bootstrapped alongside the app-type directories. Of
// these, only _media is skipped by ScanPkgFiles; .pkg files under _cache,
// _errors and _logs are enumerated like any other.
var internalDirs = []string{"_cache", "_errors", "_logs", mediaDir}

// Store is the root of the managed PKG tree.
type Store struct {
	Root string
}

// New wraps an existing root directory; call EnsureLayout before use.
func New(root string) *Store {
	return &Store{Root: filepath.Clean(root)}
}

// EnsureLayout idempotently creates every known subdirectory.
func (s *Store) EnsureLayout() error {
	dirs := make([]string, 0, len(dirForAppType)+len(internalDirs))
	for _, d := range dirForAppType {
		dirs = append(dirs, d)
	}
	dirs = append(dirs, internalDirs...)
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(s.Root, d), 0o755); err != nil {
			return fmt.Errorf("ensure layout %q: %w", d, err)
		}
	}
	return nil
}

// MediaDir returns the absolute path of the _media directory.
func (s *Store) MediaDir() string { return filepath.Join(s.Root, mediaDir) }

// ErrorsDir returns the absolute path of the _errors directory.
func (s *Store) ErrorsDir() string { return filepath.Join(s.Root, "_errors") }

// DirForAppType returns the absolute canonical directory for an app type.
func (s *Store) DirForAppType(appType catalog.AppType) string {
	name, ok := dirForAppType[appType]
	if !ok {
		name = dirForAppType[catalog.AppTypeUnknown]
	}
	return filepath.Join(s.Root, name)
}

// ScanPkgFiles walks the PKG root and returns every ".pkg" file (case
// insensitive), excluding anything under _media/, sorted by absolute path.
func (s *Store) ScanPkgFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == mediaDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".pkg") {
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			paths = append(paths, abs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pkg files: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Stat returns (size, mtime_ns) for a path, erroring if it is missing.
func Stat(path string) (size int64, mtimeNS int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("stat %q: %w", path, err)
	}
	return info.Size(), info.ModTime().UnixNano(), nil
}

// ConflictError is raised by MoveToCanonical when the target already
// exists and is not the source file.
type ConflictError struct {
	Target string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("canonical target already exists: %s", e.Target)
}

// MoveToCanonical relocates source to the canonical path for its
// (app_type, content_id) and returns the resulting absolute path. A no-op
// rename (source already canonical) is a cheap equality check, not a
// filesystem operation.
func (s *Store) MoveToCanonical(source string, appType catalog.AppType, contentID catalog.ContentId) (string, error) {
	target := filepath.Join(s.DirForAppType(appType), contentID.String()+".pkg")
	sourceAbs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolve source: %w", err)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve target: %w", err)
	}
	if sourceAbs == targetAbs {
		return targetAbs, nil
	}

	if _, err := os.Stat(targetAbs); err == nil {
		return "", &ConflictError{Target: targetAbs}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat target %q: %w", targetAbs, err)
	}

	if err := os.MkdirAll(filepath.Dir(targetAbs), 0o755); err != nil {
		return "", fmt.Errorf("create target directory: %w", err)
	}
	if err := os.Rename(sourceAbs, targetAbs); err != nil {
		return "", fmt.Errorf("rename %q -> %q: %w", sourceAbs, targetAbs, err)
	}
	return targetAbs, nil
}

var reasonSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// SanitizeReason lowercases reason and collapses every run of characters
// outside [a-z0-9_] to a single underscore.
func SanitizeReason(reason string) string {
	lower := strings.ToLower(reason)
	sanitized := reasonSanitizer.ReplaceAllString(lower, "_")
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "unknown"
	}
	return sanitized
}

// MoveToErrors quarantines source into _errors/ as
// "<stem>.<reason>.<8-char-rand>.pkg". Quarantine never overwrites: the
// random suffix makes collision astronomically unlikely, and a retry loop
// guards the remaining sliver.
func (s *Store) MoveToErrors(source, reason string) (string, error) {
	sourceAbs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolve source: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(sourceAbs), filepath.Ext(sourceAbs))
	sanitized := SanitizeReason(reason)

	errorsDir := s.ErrorsDir()
	if err := os.MkdirAll(errorsDir, 0o755); err != nil {
		return "", fmt.Errorf("create errors directory: %w", err)
	}

	for attempt := 0; attempt < 8; attempt++ {
		suffix, err := randomHexSuffix(4)
		if err != nil {
			return "", err
		}
		target := filepath.Join(errorsDir, fmt.Sprintf("%s.%s.%s.pkg", stem, sanitized, suffix))
		if _, statErr := os.Lstat(target); statErr == nil {
			continue // os.Rename would silently replace an existing file
		}
		if err := os.Rename(sourceAbs, target); err != nil {
			if os.IsExist(err) {
				continue
			}
			if _, statErr := os.Stat(target); statErr == nil {
				continue
			}
			return "", fmt.Errorf("quarantine %q: %w", sourceAbs, err)
		}
		return target, nil
	}
	return "", fmt.Errorf("quarantine %q: exhausted unique suffix attempts", sourceAbs)
}

func randomHexSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

const fingerprintChunk = 64 * 1024

// Fingerprint computes the 16-byte BLAKE2b digest over
// "{size}:{mtime_ns}" concatenated with the first 64KiB of the file and,
// if the file exceeds 64KiB, its last 64KiB too. It is a tamper/shortcut
// check only, never the primary change detector (the snapshot's
// size+mtime pair is).
func Fingerprint(path string, size, mtimeNS int64) (string, error) {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return "", fmt.Errorf("init blake2b: %w", err)
	}
	fmt.Fprintf(h, "%d:%d", size, mtimeNS)

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q for fingerprint: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, fingerprintChunk)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read head of %q: %w", path, err)
	}
	h.Write(head[:n])

	if size > fingerprintChunk {
		if _, err := f.Seek(-fingerprintChunk, io.SeekEnd); err != nil {
			return "", fmt.Errorf("seek tail of %q: %w", path, err)
		}
		tail := make([]byte, fingerprintChunk)
		if _, err := io.ReadFull(f, tail); err != nil {
			return "", fmt.Errorf("read tail of %q: %w", path, err)
		}
		h.Write(tail)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
