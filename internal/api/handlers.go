// Package api implements the read-only download API: a store-db hash
// endpoint and a download-resolution endpoint.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
	"github.com/fabiocdo/hb-store-cdn/internal/export"
)

// Dependencies wires the handlers to the catalog repository and the
// published store-db/FPKGi output locations.
type Dependencies struct {
	Repo        *catalog.Repository
	StoreDBPath string
	Publisher   export.URLPublisher
	Log         logr.Logger

	hashGroup singleflight.Group
}

// NewMux builds the API handler: /api.php plus the two forms of
// /download.php, on two routes. Every response carries
// Cache-Control: no-store — none of this data should ever be cached by
// an intermediary.
func NewMux(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api.php", deps.handleHash)
	mux.HandleFunc("/download.php", deps.handleDownload)
	return noStoreMiddleware(mux)
}

func noStoreMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleHash serves GET /api.php, returning the lowercase hex MD5 of the
// store-db file. Concurrent requests for the same file share one hash
// computation via singleflight so a burst of clients doesn't each hash
// the file independently.
func (d *Dependencies) handleHash(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	v, err, _ := d.hashGroup.Do(d.StoreDBPath, func() (any, error) {
		return (&export.StoreDBExporter{Path: d.StoreDBPath}).Hash()
	})
	if err != nil {
		d.Log.Error(err, "compute store-db hash")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": v.(string)})
}

// handleDownload serves both forms of GET /download.php, distinguished by
// the check query parameter.
func (d *Dependencies) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	titleID := r.URL.Query().Get("tid")
	if titleID == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "title_id_not_found"})
		return
	}

	if r.URL.Query().Get("check") == "true" {
		d.handleDownloadCount(w, r, titleID)
		return
	}
	d.handleDownloadRedirect(w, r, titleID)
}

func (d *Dependencies) handleDownloadCount(w http.ResponseWriter, r *http.Request, titleID string) {
	count, err := d.Repo.GetDownloadCount(r.Context(), titleID)
	if err != nil {
		d.Log.Error(err, "get download count", "title_id", titleID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"number_of_downloads": strconv.FormatInt(count, 10)})
}

func (d *Dependencies) handleDownloadRedirect(w http.ResponseWriter, r *http.Request, titleID string) {
	ctx := r.Context()

	items, err := d.Repo.ItemsByTitleID(ctx, titleID)
	if err != nil {
		d.Log.Error(err, "lookup items by title_id", "title_id", titleID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if best, ok := bestItem(items); ok {
		if _, err := d.Repo.IncrementDownloadCount(ctx, titleID); err != nil {
			d.Log.Error(err, "increment download count", "title_id", titleID)
		}
		http.Redirect(w, r, d.Publisher.PublishURL(best.PkgPath), http.StatusFound)
		return
	}

	location, err := d.fallbackStoreDBPackageURL(ctx, titleID)
	if err != nil {
		d.Log.Error(err, "store-db fallback lookup", "title_id", titleID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if location == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "title_id_not_found"})
		return
	}

	if _, err := d.Repo.IncrementDownloadCount(ctx, titleID); err != nil {
		d.Log.Error(err, "increment download count", "title_id", titleID)
	}
	http.Redirect(w, r, location, http.StatusFound)
}

// bestItem picks the row with the highest version for a title_id, tied by
// updated_at desc, then app_type asc, then content_id asc.
func bestItem(items []catalog.Item) (catalog.Item, bool) {
	if len(items) == 0 {
		return catalog.Item{}, false
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if cmp := compareVersions(a.Version, b.Version); cmp != 0 {
			return cmp > 0
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if a.AppType != b.AppType {
			return a.AppType < b.AppType
		}
		return a.ContentID.String() < b.ContentID.String()
	})
	return items[0], true
}

// fallbackStoreDBPackageURL reads the published package URL straight out of
// the store-db file when the catalog has no row for titleID — the db's
// package column is already an absolute CDN URL (StoreDBExporter publishes
// it that way), so no further joining is needed.
func (d *Dependencies) fallbackStoreDBPackageURL(ctx context.Context, titleID string) (string, error) {
	if _, err := os.Stat(d.StoreDBPath); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat store-db: %w", err)
	}

	db, err := sql.Open("sqlite", d.StoreDBPath)
	if err != nil {
		return "", fmt.Errorf("open store-db: %w", err)
	}
	defer db.Close()

	var pkg sql.NullString
	err = db.QueryRowContext(ctx, `
		SELECT package FROM homebrews WHERE id = ? ORDER BY content_id LIMIT 1
	`, titleID).Scan(&pkg)
	switch {
	case err == sql.ErrNoRows:
		return "", nil
	case err != nil:
		return "", fmt.Errorf("query store-db package column: %w", err)
	}
	return pkg.String, nil
}
