// Package export implements the output exporters: a SQLite store-db
// mirror and a set of category-partitioned FPKGi JSON files, each
// following the common export/cleanup/managed-files contract.
package export

import (
	"path/filepath"
	"strings"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
)

// Exporter is the common contract every output target implements.
type Exporter interface {
	// Target names this exporter for logging and configuration.
	Target() string
	// Export (re)writes this exporter's output from the given items,
	// atomically, and returns every file it wrote.
	Export(items []catalog.Item) ([]string, error)
	// Cleanup deletes every currently-existing file from ManagedFiles.
	Cleanup() ([]string, error)
	// ManagedFiles is this exporter's closed, enumerated file set.
	ManagedFiles() []string
}

// URLPublisher builds the absolute CDN URL for a path relative to the
// data root, falling back to the raw path if it lies outside that root.
type URLPublisher struct {
	DataRoot string
	BaseURL  string
}

// PublishURL joins BaseURL with path's location relative to DataRoot. If
// path does not lie under DataRoot, the raw path string is returned
// unchanged.
func (u URLPublisher) PublishURL(path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(u.DataRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	base := strings.TrimRight(u.BaseURL, "/")
	return base + "/" + filepath.ToSlash(rel)
}
