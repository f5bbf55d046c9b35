// Package manifest opens the relational manifest snapshot downloaded from the
// patch host and runs the derived queries over it. The snapshot is never
// mutated.
package manifest

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed queries/*.sql
var queries embed.FS

var (
	sqlFullManifest      = mustQuery("full-manifest.sql")
	sqlFullManifestCount = mustQuery("full-manifest-count.sql")
	sqlUpdateManifest    = mustQuery("update-manifest.sql")
	sqlFilePaths         = mustQuery("file-paths.sql")
	sqlLatestVersion     = mustQuery("latest-version.sql")
)

func mustQuery(name string) string {
	b, err := queries.ReadFile("queries/" + name)
	if err != nil {
		panic("manifest: missing query " + name + ": " + err.Error())
	}
	return string(b)
}

// ErrUndecodable says the file at rest is not a manifest.
var ErrUndecodable = errors.New("manifest: undecodable snapshot")

var requiredTables = []string{"file_info", "file_size", "file_version", "version_info"}

// Store is a read-only connection to one manifest snapshot.
type Store struct {
	db *sql.DB
}

// Open opens the snapshot at path and checks the schema is there.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("manifest: required path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("manifest: stat: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.checkSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) checkSchema(ctx context.Context) error {
	for _, table := range requiredTables {
		var n int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: table %s missing", ErrUndecodable, table)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LatestVersion is the highest version listed in version_info, 0 if none.
func (s *Store) LatestVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, sqlLatestVersion).Scan(&v); err != nil {
		return 0, fmt.Errorf("manifest: latest version: %w", err)
	}
	return v, nil
}

// FullManifest returns every id at its latest version.
func (s *Store) FullManifest(ctx context.Context) ([]*core.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlFullManifest)
	if err != nil {
		return nil, fmt.Errorf("manifest: full manifest: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// FullManifestCount is len(FullManifest) without materializing it.
func (s *Store) FullManifestCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, sqlFullManifestCount).Scan(&n); err != nil {
		return 0, fmt.Errorf("manifest: full manifest count: %w", err)
	}
	return n, nil
}

// UpdateManifest returns every id whose latest version lies in
// (current, LatestVersion].
func (s *Store) UpdateManifest(ctx context.Context, current int64) ([]*core.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlUpdateManifest, current)
	if err != nil {
		return nil, fmt.Errorf("manifest: update manifest: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Paths returns every file path of the manifest, normalized.
func (s *Store) Paths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlFilePaths)
	if err != nil {
		return nil, fmt.Errorf("manifest: file paths: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var p sql.NullString
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("manifest: scan path: %w", err)
		}
		if n := core.NormalizePath(p.String); n != "" {
			res = append(res, n)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: iterate paths: %w", err)
	}
	return res, nil
}

func scanRecords(rows *sql.Rows) ([]*core.FileRecord, error) {
	var res []*core.FileRecord
	for rows.Next() {
		var (
			r    core.FileRecord
			path sql.NullString
			hash sql.NullString
		)
		if err := rows.Scan(&r.ID, &path, &r.Version, &r.CompressedSize, &r.DecompressedSize, &hash); err != nil {
			return nil, fmt.Errorf("manifest: scan record: %w", err)
		}
		r.Path = core.NormalizePath(path.String)
		r.Hash = hash.String
		if r.Path == "" {
			return nil, fmt.Errorf("manifest: record %d has an empty path", r.ID)
		}
		res = append(res, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: iterate records: %w", err)
	}
	return res, nil
}
