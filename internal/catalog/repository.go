package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS catalog_items (
    content_id       TEXT NOT NULL,
    app_type         TEXT NOT NULL,
    version          TEXT NOT NULL,
    title_id         TEXT,
    title            TEXT,
    category         TEXT,
    pubtoolinfo      TEXT,
    system_ver       TEXT,
    release_date     TEXT,
    pkg_path         TEXT NOT NULL,
    pkg_size         INTEGER NOT NULL,
    pkg_mtime_ns     INTEGER NOT NULL,
    pkg_fingerprint  TEXT,
    icon0_path       TEXT,
    pic0_path        TEXT,
    pic1_path        TEXT,
    sfo_json         TEXT,
    sfo_raw          BLOB,
    sfo_hash         TEXT,
    row_md5          TEXT NOT NULL,
    number_of_downloads INTEGER NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL,
    PRIMARY KEY (content_id, app_type, version)
);

CREATE INDEX IF NOT EXISTS idx_catalog_items_pkg_path ON catalog_items(pkg_path);
CREATE INDEX IF NOT EXISTS idx_catalog_items_title_id ON catalog_items(title_id);
`

// Repository is the transactional store of canonical catalog rows.
type Repository struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the catalog database in WAL mode with
// foreign keys enabled.
func Open(path string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create catalog db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &Repository{db: db, path: path}
	if err := r.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// InitSchema is idempotent.
func (r *Repository) InitSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("init catalog schema: %w", err)
	}
	return nil
}

func (r *Repository) Close() error { return r.db.Close() }

// columnsFor projects an Item into the column map hashed for row_md5. It
// leaves out row_md5, created_at, updated_at and number_of_downloads, and
// stands in sfo_hash for the sfo_json/sfo_raw payload columns.
func columnsFor(item Item) map[string]any {
	return map[string]any{
		"content_id":      item.ContentID.String(),
		"app_type":        string(item.AppType),
		"version":         item.Version,
		"title_id":        item.TitleID,
		"title":           item.Title,
		"category":        item.Category,
		"pubtoolinfo":     item.PubToolInfo,
		"system_ver":      item.SystemVer,
		"release_date":    item.ReleaseDate,
		"pkg_path":        item.PkgPath,
		"pkg_size":        item.PkgSize,
		"pkg_mtime_ns":    item.PkgMtimeNS,
		"pkg_fingerprint": item.PkgFingerprint,
		"icon0_path":      item.Icon0Path,
		"pic0_path":       item.Pic0Path,
		"pic1_path":       item.Pic1Path,
		"sfo_hash":        item.SFO.Hash,
	}
}

// UpsertOutcome reports what Upsert actually did to a row.
type UpsertOutcome int

const (
	// UpsertSkipped means an existing row's row_md5 already matched.
	UpsertSkipped UpsertOutcome = iota
	// UpsertInserted means no row existed for this identity before.
	UpsertInserted
	// UpsertUpdated means an existing row's content changed.
	UpsertUpdated
)

// Upsert runs inside the caller's transaction (tx must already be open).
// It computes row_md5 over the canonical-JSON projection of the row's
// exported columns and skips the write entirely if an existing row has the
// same row_md5.
func Upsert(ctx context.Context, tx *sql.Tx, item Item) (outcome UpsertOutcome, err error) {
	hash, err := rowMD5(columnsFor(item))
	if err != nil {
		return UpsertSkipped, err
	}

	var existingHash string
	existed := true
	err = tx.QueryRowContext(ctx, `
		SELECT row_md5 FROM catalog_items WHERE content_id = ? AND app_type = ? AND version = ?
	`, item.ContentID.String(), string(item.AppType), item.Version).Scan(&existingHash)
	switch {
	case err == sql.ErrNoRows:
		existed = false
	case err != nil:
		return UpsertSkipped, fmt.Errorf("lookup existing row: %w", err)
	case existingHash == hash:
		return UpsertSkipped, nil
	}

	now := time.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
	sfoJSON, err := canonicalJSON(stringMapToAny(item.SFO.Fields))
	if err != nil {
		return UpsertSkipped, fmt.Errorf("marshal sfo fields: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO catalog_items (
			content_id, app_type, version, title_id, title, category,
			pubtoolinfo, system_ver, release_date, pkg_path, pkg_size,
			pkg_mtime_ns, pkg_fingerprint, icon0_path, pic0_path, pic1_path,
			sfo_json, sfo_raw, sfo_hash, row_md5, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id, app_type, version) DO UPDATE SET
			title_id=excluded.title_id,
			title=excluded.title,
			category=excluded.category,
			pubtoolinfo=excluded.pubtoolinfo,
			system_ver=excluded.system_ver,
			release_date=excluded.release_date,
			pkg_path=excluded.pkg_path,
			pkg_size=excluded.pkg_size,
			pkg_mtime_ns=excluded.pkg_mtime_ns,
			pkg_fingerprint=excluded.pkg_fingerprint,
			icon0_path=excluded.icon0_path,
			pic0_path=excluded.pic0_path,
			pic1_path=excluded.pic1_path,
			sfo_json=excluded.sfo_json,
			sfo_raw=excluded.sfo_raw,
			sfo_hash=excluded.sfo_hash,
			row_md5=excluded.row_md5,
			updated_at=excluded.updated_at
	`,
		item.ContentID.String(), string(item.AppType), item.Version, item.TitleID, item.Title, item.Category,
		item.PubToolInfo, item.SystemVer, item.ReleaseDate, item.PkgPath, item.PkgSize,
		item.PkgMtimeNS, item.PkgFingerprint, nullableString(item.Icon0Path), nullableString(item.Pic0Path), nullableString(item.Pic1Path),
		string(sfoJSON), item.SFO.Raw, item.SFO.Hash, hash, now, now,
	)
	if err != nil {
		return UpsertSkipped, fmt.Errorf("upsert catalog row: %w", err)
	}
	if existed {
		return UpsertUpdated, nil
	}
	return UpsertInserted, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ListItems returns every row ordered by (app_type, content_id, version).
func (r *Repository) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT content_id, app_type, version, title_id, title, category,
		       pubtoolinfo, system_ver, release_date, pkg_path, pkg_size,
		       pkg_mtime_ns, pkg_fingerprint, icon0_path, pic0_path, pic1_path,
		       sfo_hash, created_at, updated_at, number_of_downloads
		FROM catalog_items
		ORDER BY app_type, content_id, version
	`)
	if err != nil {
		return nil, fmt.Errorf("list catalog items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item                                 Item
			contentID, appType                   string
			icon0, pic0, pic1                    sql.NullString
		)
		if err := rows.Scan(
			&contentID, &appType, &item.Version, &item.TitleID, &item.Title, &item.Category,
			&item.PubToolInfo, &item.SystemVer, &item.ReleaseDate, &item.PkgPath, &item.PkgSize,
			&item.PkgMtimeNS, &item.PkgFingerprint, &icon0, &pic0, &pic1,
			&item.SFO.Hash, &item.CreatedAt, &item.UpdatedAt, &item.DownloadCount,
		); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		cid, err := ParseContentID(contentID)
		if err != nil {
			continue
		}
		item.ContentID = cid
		item.AppType = AppType(appType)
		item.Icon0Path = icon0.String
		item.Pic0Path = pic0.String
		item.Pic1Path = pic1.String
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteByPkgPathsNotIn deletes every row whose pkg_path is absent from
// present. If present is empty, every row is deleted.
func DeleteByPkgPathsNotIn(ctx context.Context, tx *sql.Tx, present map[string]struct{}) (int64, error) {
	if len(present) == 0 {
		res, err := tx.ExecContext(ctx, `DELETE FROM catalog_items`)
		if err != nil {
			return 0, fmt.Errorf("delete all catalog rows: %w", err)
		}
		return res.RowsAffected()
	}

	paths, err := tx.QueryContext(ctx, `SELECT DISTINCT pkg_path FROM catalog_items`)
	if err != nil {
		return 0, fmt.Errorf("list pkg paths: %w", err)
	}
	var stale []string
	for paths.Next() {
		var p string
		if err := paths.Scan(&p); err != nil {
			paths.Close()
			return 0, err
		}
		if _, ok := present[p]; !ok {
			stale = append(stale, p)
		}
	}
	if err := paths.Err(); err != nil {
		paths.Close()
		return 0, err
	}
	paths.Close()

	var deleted int64
	for _, p := range stale {
		res, err := tx.ExecContext(ctx, `DELETE FROM catalog_items WHERE pkg_path = ?`, p)
		if err != nil {
			return deleted, fmt.Errorf("delete stale row %q: %w", p, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

// BeginTx starts a transaction for the caller's unit of work.
func (r *Repository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

// IncrementDownloadCount bumps and returns the new download count for a
// title_id. Used only by the download API.
func (r *Repository) IncrementDownloadCount(ctx context.Context, titleID string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		UPDATE catalog_items SET number_of_downloads = number_of_downloads + 1 WHERE title_id = ?
	`, titleID); err != nil {
		return 0, fmt.Errorf("increment download count: %w", err)
	}

	var count int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(number_of_downloads), 0) FROM catalog_items WHERE title_id = ?
	`, titleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("read download count: %w", err)
	}
	return count, tx.Commit()
}

// GetDownloadCount reads the current download count for a title_id.
func (r *Repository) GetDownloadCount(ctx context.Context, titleID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(number_of_downloads), 0) FROM catalog_items WHERE title_id = ?
	`, titleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("get download count: %w", err)
	}
	return count, nil
}

// ItemsByTitleID returns every row for a title_id, used by the download API
// to resolve the highest-version package.
func (r *Repository) ItemsByTitleID(ctx context.Context, titleID string) ([]Item, error) {
	items, err := r.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	var matched []Item
	for _, item := range items {
		if item.TitleID == titleID {
			matched = append(matched, item)
		}
	}
	return matched, nil
}
