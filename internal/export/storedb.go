package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
	_ "modernc.org/sqlite"
)

const storeDBSchema = `
CREATE TABLE IF NOT EXISTS homebrews (
    content_id          TEXT PRIMARY KEY,
    id                  TEXT,
    name                TEXT,
    desc                TEXT,
    image               TEXT,
    package             TEXT,
    version             TEXT,
    picpath             TEXT,
    desc_1              TEXT,
    desc_2              TEXT,
    ReviewStars         TEXT,
    Size                INTEGER,
    Author              TEXT,
    apptype             TEXT,
    pv                  TEXT,
    main_icon_path      TEXT,
    main_menu_pic       TEXT,
    releaseddate        TEXT,
    number_of_downloads INTEGER,
    github              TEXT,
    video               TEXT,
    twitter             TEXT,
    md5                 TEXT,
    row_md5             TEXT
);
`

// StoreDBExporter publishes the catalog as a single SQLite file
// (target=hb-store), using an open-or-create, delete-then-insert rewrite
// on every export so the file is never left half-written.
type StoreDBExporter struct {
	Path      string
	Publisher URLPublisher
}

var _ Exporter = (*StoreDBExporter)(nil)

func (e *StoreDBExporter) Target() string { return "hb-store" }

func (e *StoreDBExporter) ManagedFiles() []string { return []string{e.Path} }

// Export opens (creating if absent) the store-db file and, in a single
// transaction, deletes every existing row and re-inserts one row per
// item. Every path column is published as an absolute CDN URL via
// Publisher; md5 is left NULL; row_md5 uses the same canonicalization the
// catalog package uses for its own content hash.
func (e *StoreDBExporter) Export(items []catalog.Item) ([]string, error) {
	if err := os.MkdirAll(filepath.Dir(e.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create store-db directory: %w", err)
	}

	db, err := sql.Open("sqlite", e.Path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open store-db: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, storeDBSchema); err != nil {
		return nil, fmt.Errorf("init store-db schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin store-db transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM homebrews`); err != nil {
		return nil, fmt.Errorf("clear homebrews: %w", err)
	}

	for _, item := range items {
		if err := e.upsertRow(ctx, tx, item); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit store-db transaction: %w", err)
	}
	return []string{e.Path}, nil
}

func (e *StoreDBExporter) upsertRow(ctx context.Context, tx *sql.Tx, item catalog.Item) error {
	row := map[string]any{
		"content_id":          item.ContentID.String(),
		"id":                  item.TitleID,
		"name":                item.Title,
		"desc":                "",
		"image":               e.Publisher.PublishURL(item.Icon0Path),
		"package":             e.Publisher.PublishURL(item.PkgPath),
		"version":             item.Version,
		"picpath":             e.Publisher.PublishURL(item.Pic0Path),
		"desc_1":              "",
		"desc_2":              "",
		"ReviewStars":         "",
		"Size":                e.resolveSize(item),
		"Author":              "",
		"apptype":             string(item.AppType),
		"pv":                  item.PubToolInfo,
		"main_icon_path":      e.Publisher.PublishURL(item.Icon0Path),
		"main_menu_pic":       e.Publisher.PublishURL(item.Pic1Path),
		"releaseddate":        item.ReleaseDate,
		"number_of_downloads": item.DownloadCount,
		"github":              "",
		"video":               "",
		"twitter":             "",
	}
	rowMD5, err := storeRowMD5(row)
	if err != nil {
		return fmt.Errorf("hash store-db row for %s: %w", item.ContentID.String(), err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO homebrews (
			content_id, id, name, desc, image, package, version, picpath,
			desc_1, desc_2, ReviewStars, Size, Author, apptype, pv,
			main_icon_path, main_menu_pic, releaseddate, number_of_downloads,
			github, video, twitter, md5, row_md5
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(content_id) DO UPDATE SET
			id=excluded.id, name=excluded.name, desc=excluded.desc,
			image=excluded.image, package=excluded.package, version=excluded.version,
			picpath=excluded.picpath, desc_1=excluded.desc_1, desc_2=excluded.desc_2,
			ReviewStars=excluded.ReviewStars, Size=excluded.Size, Author=excluded.Author,
			apptype=excluded.apptype, pv=excluded.pv, main_icon_path=excluded.main_icon_path,
			main_menu_pic=excluded.main_menu_pic, releaseddate=excluded.releaseddate,
			number_of_downloads=excluded.number_of_downloads, github=excluded.github,
			video=excluded.video, twitter=excluded.twitter, row_md5=excluded.row_md5
	`,
		row["content_id"], row["id"], row["name"], row["desc"], row["image"], row["package"], row["version"], row["picpath"],
		row["desc_1"], row["desc_2"], row["ReviewStars"], row["Size"], row["Author"], row["apptype"], row["pv"],
		row["main_icon_path"], row["main_menu_pic"], row["releaseddate"], row["number_of_downloads"],
		row["github"], row["video"], row["twitter"], rowMD5,
	)
	if err != nil {
		return fmt.Errorf("upsert store-db row for %s: %w", item.ContentID.String(), err)
	}
	return nil
}

// resolveSize stats the published PKG file to get its current on-disk
// size rather than trusting the size recorded at ingest time, which may be
// stale if the file was replaced since. It falls back to the catalog row's
// recorded PkgSize if the file can't be stat'd (e.g. a transient removal
// between the prune step and export within the same cycle).
func (e *StoreDBExporter) resolveSize(item catalog.Item) int64 {
	info, err := os.Stat(item.PkgPath)
	if err != nil {
		return item.PkgSize
	}
	return info.Size()
}

// Cleanup deletes the store-db file if it exists.
func (e *StoreDBExporter) Cleanup() ([]string, error) {
	if _, err := os.Stat(e.Path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat store-db: %w", err)
	}
	if err := os.Remove(e.Path); err != nil {
		return nil, fmt.Errorf("remove store-db: %w", err)
	}
	return []string{e.Path}, nil
}

// Hash returns the lowercase hex MD5 of the store-db file, or "" if the
// file does not exist — the value the download API's /api.php serves.
func (e *StoreDBExporter) Hash() (string, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read store-db: %w", err)
	}
	return md5Hex(data), nil
}
