package catalog

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Sumatoshi-tech/addongit/internal/sqlitepool"
)

// Schema creates the catalog tables.
const Schema = `
CREATE TABLE IF NOT EXISTS addons (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	addon_type TEXT NOT NULL DEFAULT 'extension'
);

CREATE TABLE IF NOT EXISTS versions (
	id                INTEGER PRIMARY KEY,
	addon_id          INTEGER NOT NULL,
	version           TEXT NOT NULL,
	channel           TEXT NOT NULL,
	deleted           INTEGER NOT NULL DEFAULT 0,
	git_hash          TEXT NOT NULL DEFAULT '',
	uploaded_by_id    INTEGER,
	uploaded_by_email TEXT NOT NULL DEFAULT '',
	created           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS versions_addon_id ON versions (addon_id, id);

CREATE TABLE IF NOT EXISTS files (
	id              INTEGER PRIMARY KEY,
	version_id      INTEGER NOT NULL UNIQUE,
	filename        TEXT NOT NULL,
	path            TEXT NOT NULL,
	is_webextension INTEGER NOT NULL DEFAULT 1
);
`

const selectVersion = `
SELECT v.id, v.addon_id, v.version, v.channel, v.deleted, v.git_hash,
       v.uploaded_by_id, v.uploaded_by_email, v.created,
       f.id, f.filename, f.path, f.is_webextension
FROM versions v
LEFT JOIN files f ON f.version_id = v.id
`

// Store reads and writes catalog rows.
type Store struct {
	pool *sqlitepool.Pool
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store on a pool opened with Schema.
func New(pool *sqlitepool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// PutAddon inserts or updates an add-on.
func (s *Store) PutAddon(ctx context.Context, addon Addon) error {
	if addon.ID <= 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidAddon, addon.ID)
	}

	if addon.Type == "" {
		addon.Type = AddonTypeExtension
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO addons (id, name, addon_type) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, addon_type = excluded.addon_type`,
		&sqlitex.ExecOptions{Args: []any{addon.ID, addon.Name, string(addon.Type)}})
	if err != nil {
		return fmt.Errorf("put addon %d: %w", addon.ID, err)
	}

	return nil
}

// GetAddon returns the add-on or ErrNotFound.
func (s *Store) GetAddon(ctx context.Context, id int64) (Addon, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Addon{}, err
	}
	defer s.pool.Put(conn)

	var (
		addon Addon
		found bool
	)

	err = sqlitex.Execute(conn, `SELECT id, name, addon_type FROM addons WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			addon = Addon{ID: stmt.ColumnInt64(0), Name: stmt.ColumnText(1), Type: AddonType(stmt.ColumnText(2))}

			return nil
		},
	})
	if err != nil {
		return Addon{}, fmt.Errorf("get addon %d: %w", id, err)
	}

	if !found {
		return Addon{}, fmt.Errorf("%w: addon %d", ErrNotFound, id)
	}

	return addon, nil
}

// CreateVersion inserts a version and its file. A zero Version.ID is
// assigned by the database. The stored version is returned.
func (s *Store) CreateVersion(ctx context.Context, v Version) (_ Version, err error) {
	if _, err := ParseChannel(string(v.Channel)); err != nil {
		return Version{}, err
	}

	if v.Created.IsZero() {
		v.Created = s.now()
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Version{}, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return Version{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var uploaderID, uploaderEmail any = nil, ""
	if v.UploadedBy != nil {
		uploaderID, uploaderEmail = v.UploadedBy.ID, v.UploadedBy.Email
	}

	var id any
	if v.ID > 0 {
		id = v.ID
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO versions (id, addon_id, version, channel, deleted, git_hash,
		                      uploaded_by_id, uploaded_by_email, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			id, v.AddonID, v.Number, string(v.Channel), v.Deleted, v.GitHash,
			uploaderID, uploaderEmail, v.Created.UnixNano(),
		}})
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}

	v.ID = conn.LastInsertRowID()

	err = sqlitex.Execute(conn, `
		INSERT INTO files (version_id, filename, path, is_webextension) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{v.ID, v.File.Filename, v.File.Path, v.File.IsWebExtension}})
	if err != nil {
		return Version{}, fmt.Errorf("insert file: %w", err)
	}

	v.File.ID = conn.LastInsertRowID()

	return v, nil
}

// GetVersion returns a version with its file or ErrNotFound.
func (s *Store) GetVersion(ctx context.Context, id int64) (Version, error) {
	versions, err := s.queryVersions(ctx, selectVersion+`WHERE v.id = ?`, id)
	if err != nil {
		return Version{}, fmt.Errorf("get version %d: %w", id, err)
	}

	if len(versions) == 0 {
		return Version{}, fmt.Errorf("%w: version %d", ErrNotFound, id)
	}

	return versions[0], nil
}

// ListVersions returns every version of an add-on, soft-deleted ones
// included, ordered by id.
func (s *Store) ListVersions(ctx context.Context, addonID int64) ([]Version, error) {
	versions, err := s.queryVersions(ctx, selectVersion+`WHERE v.addon_id = ? ORDER BY v.id`, addonID)
	if err != nil {
		return nil, fmt.Errorf("list versions of %d: %w", addonID, err)
	}

	return versions, nil
}

// VersionsToExtract returns ids of versions of an add-on that have no commit
// pointer, ordered by id. Soft-deleted versions are included; versions whose
// file is not a web extension are not.
func (s *Store) VersionsToExtract(ctx context.Context, addonID int64) ([]int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var ids []int64

	err = sqlitex.Execute(conn, `
		SELECT v.id FROM versions v
		JOIN files f ON f.version_id = v.id
		WHERE v.addon_id = ? AND v.git_hash = '' AND f.is_webextension = 1
		ORDER BY v.id`,
		&sqlitex.ExecOptions{
			Args: []any{addonID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ids = append(ids, stmt.ColumnInt64(0))

				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("versions to extract for %d: %w", addonID, err)
	}

	return ids, nil
}

// SetGitHash records the commit a version was extracted to.
func (s *Store) SetGitHash(ctx context.Context, versionID int64, hash string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE versions SET git_hash = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{hash, versionID}})
	if err != nil {
		return fmt.Errorf("set git hash of %d: %w", versionID, err)
	}

	if conn.Changes() == 0 {
		return fmt.Errorf("%w: version %d", ErrNotFound, versionID)
	}

	return nil
}

// ResetGitHashes clears the commit pointer of every version of an add-on
// and returns how many rows changed.
func (s *Store) ResetGitHashes(ctx context.Context, addonID int64) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE versions SET git_hash = '' WHERE addon_id = ? AND git_hash != ''`,
		&sqlitex.ExecOptions{Args: []any{addonID}})
	if err != nil {
		return 0, fmt.Errorf("reset git hashes of %d: %w", addonID, err)
	}

	return conn.Changes(), nil
}

// SetDeleted soft-deletes or restores a version.
func (s *Store) SetDeleted(ctx context.Context, versionID int64, deleted bool) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE versions SET deleted = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{deleted, versionID}})
	if err != nil {
		return fmt.Errorf("set deleted of %d: %w", versionID, err)
	}

	if conn.Changes() == 0 {
		return fmt.Errorf("%w: version %d", ErrNotFound, versionID)
	}

	return nil
}

func (s *Store) queryVersions(ctx context.Context, query string, args ...any) ([]Version, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var versions []Version

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			versions = append(versions, scanVersion(stmt))

			return nil
		},
	})

	return versions, err
}

func scanVersion(stmt *sqlite.Stmt) Version {
	v := Version{
		ID:      stmt.ColumnInt64(0),
		AddonID: stmt.ColumnInt64(1),
		Number:  stmt.ColumnText(2),
		Channel: Channel(stmt.ColumnText(3)),
		Deleted: stmt.ColumnInt64(4) != 0,
		GitHash: stmt.ColumnText(5),
		Created: time.Unix(0, stmt.ColumnInt64(8)),
	}

	if !stmt.ColumnIsNull(6) {
		v.UploadedBy = &User{ID: stmt.ColumnInt64(6), Email: stmt.ColumnText(7)}
	}

	if !stmt.ColumnIsNull(9) {
		v.File = File{
			ID:             stmt.ColumnInt64(9),
			Filename:       stmt.ColumnText(10),
			Path:           stmt.ColumnText(11),
			IsWebExtension: stmt.ColumnInt64(12) != 0,
		}
	}

	return v
}
