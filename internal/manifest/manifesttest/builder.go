// Package manifesttest builds manifest snapshots for tests.
package manifesttest

import (
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE file_info (id INTEGER NOT NULL, unique_path TEXT, path TEXT NOT NULL);
CREATE TABLE file_size (id INTEGER NOT NULL, org_ver INTEGER NOT NULL, new_ver INTEGER NOT NULL, size INTEGER NOT NULL);
CREATE TABLE file_version (id INTEGER NOT NULL, version INTEGER NOT NULL, size INTEGER NOT NULL, hash TEXT NOT NULL);
CREATE TABLE version_info (version INTEGER NOT NULL, version_path TEXT, reg_date TEXT);
`

type sizeRow struct {
	id, orgVer, newVer, size int64
}

type versionRow struct {
	id, version, size int64
	hash              string
}

// Builder collects manifest rows and writes them into a SQLite file.
type Builder struct {
	files    map[int64]string
	order    []int64
	sizes    []sizeRow
	versions []versionRow
	releases []int64
}

func NewBuilder() *Builder {
	return &Builder{files: map[int64]string{}}
}

// File adds a file_info row. path uses backslashes like the live manifests.
func (b *Builder) File(id int64, path string) *Builder {
	if _, ok := b.files[id]; !ok {
		b.order = append(b.order, id)
	}
	b.files[id] = path
	return b
}

// Size adds a file_size row; size is the compressed byte count.
func (b *Builder) Size(id, orgVer, newVer, size int64) *Builder {
	b.sizes = append(b.sizes, sizeRow{id, orgVer, newVer, size})
	return b
}

// Version adds a file_version row; size is the decompressed byte count.
func (b *Builder) Version(id, version, size int64, hash string) *Builder {
	b.versions = append(b.versions, versionRow{id, version, size, hash})
	return b
}

// Release adds a version_info row.
func (b *Builder) Release(version int64) *Builder {
	b.releases = append(b.releases, version)
	return b
}

// Revision is a shortcut for one published version of one file.
func (b *Builder) Revision(id, orgVer, newVer, compressed, decompressed int64, hash string) *Builder {
	return b.Size(id, orgVer, newVer, compressed).Version(id, newVer, decompressed, hash)
}

// Write stores the snapshot at path.
func (b *Builder) Write(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	for _, id := range b.order {
		if _, err := db.Exec("INSERT INTO file_info (id, unique_path, path) VALUES (?, ?, ?)",
			id, fmt.Sprintf("u%d", id), b.files[id]); err != nil {
			return err
		}
	}
	for _, r := range b.sizes {
		if _, err := db.Exec("INSERT INTO file_size (id, org_ver, new_ver, size) VALUES (?, ?, ?, ?)",
			r.id, r.orgVer, r.newVer, r.size); err != nil {
			return err
		}
	}
	for _, r := range b.versions {
		if _, err := db.Exec("INSERT INTO file_version (id, version, size, hash) VALUES (?, ?, ?, ?)",
			r.id, r.version, r.size, r.hash); err != nil {
			return err
		}
	}
	for _, v := range b.releases {
		if _, err := db.Exec("INSERT INTO version_info (version, version_path, reg_date) VALUES (?, ?, ?)",
			v, fmt.Sprintf("v%d", v), "2024-01-01"); err != nil {
			return err
		}
	}
	return nil
}

// MustWrite is Write that fails the test on error.
func (b *Builder) MustWrite(t testing.TB, path string) {
	t.Helper()
	if err := b.Write(path); err != nil {
		t.Fatalf("manifesttest: write %s: %v", path, err)
	}
}
