// Package patchtest serves a complete fake patch host: the remote version
// descriptor, the manifest cabinet and one cabinet per file revision.
package patchtest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/codec/codectest"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/manifest/manifesttest"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/version"
	"github.com/stretchr/testify/require"
)

const DownloadRoot = "patch"

type revision struct {
	id, orgVer, newVer int64
	path, content      string
}

// Host is an httptest patch server. Call Publish after adding revisions.
type Host struct {
	t   testing.TB
	srv *httptest.Server

	mu       sync.Mutex
	objects  map[string][]byte
	hits     map[string]int
	failures map[string]int

	Version   int64
	Retry     int
	revisions []revision
}

func NewHost(t testing.TB, ver int64) *Host {
	t.Helper()
	h := &Host{
		t:        t,
		objects:  map[string][]byte{},
		hits:     map[string]int{},
		failures: map[string]int{},
		Version:  ver,
		Retry:    2,
	}
	h.srv = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *Host) serve(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.hits[r.URL.Path]++
	fail := h.failures[r.URL.Path] >= h.hits[r.URL.Path]
	body, ok := h.objects[r.URL.Path]
	h.mu.Unlock()

	if fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(body)
}

func (h *Host) URL() string {
	return h.srv.URL
}

func (h *Host) Client() *http.Client {
	return h.srv.Client()
}

// Add records a revision of a file. path uses backslashes like live data.
func (h *Host) Add(id, orgVer, newVer int64, path, content string) *Host {
	h.revisions = append(h.revisions, revision{id, orgVer, newVer, path, content})
	return h
}

func (h *Host) ManifestPath() string {
	return fmt.Sprintf("db/server.db.%d.cab", h.Version)
}

// Descriptor is the remote version.ini body.
func (h *Host) Descriptor() []byte {
	return Descriptor(h.Version, h.Retry, h.ManifestPath())
}

// Publish builds the manifest and file cabinets and serves them.
func (h *Host) Publish() {
	h.t.Helper()

	b := manifesttest.NewBuilder()
	for v := int64(1); v <= h.Version; v++ {
		b.Release(v)
	}
	objects := map[string][]byte{}
	for _, r := range h.revisions {
		cab := codectest.Cabinet(h.t, []byte(r.content))
		b.File(r.id, r.path).
			Revision(r.id, r.orgVer, r.newVer, int64(len(cab)), int64(len(r.content)), Hash(r.content))
		objects[fmt.Sprintf("/%s/%d-%d.cab", DownloadRoot, r.id, r.newVer)] = cab
	}

	dbPath := filepath.Join(h.t.TempDir(), "server.db")
	b.MustWrite(h.t, dbPath)
	db, err := os.ReadFile(dbPath)
	require.NoError(h.t, err)

	objects["/"+h.ManifestPath()] = codectest.Cabinet(h.t, db)
	objects["/"+version.FileName] = h.Descriptor()

	h.mu.Lock()
	h.objects = objects
	h.mu.Unlock()
}

// Set replaces the object served at p.
func (h *Host) Set(p string, body []byte) {
	h.mu.Lock()
	h.objects[p] = body
	h.mu.Unlock()
}

// Delete stops serving p.
func (h *Host) Delete(p string) {
	h.mu.Lock()
	delete(h.objects, p)
	h.mu.Unlock()
}

// Fail answers the first n requests for p with 503.
func (h *Host) Fail(p string, n int) {
	h.mu.Lock()
	h.failures[p] = n
	h.mu.Unlock()
}

func (h *Host) Hits(p string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[p]
}

// PayloadHits counts requests for per-file cabinets.
func (h *Host) PayloadHits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for p, c := range h.hits {
		if strings.HasPrefix(p, "/"+DownloadRoot+"/") {
			n += c
		}
	}
	return n
}

// ResetHits forgets all request counts.
func (h *Host) ResetHits() {
	h.mu.Lock()
	h.hits = map[string]int{}
	h.mu.Unlock()
}

// Descriptor renders a version.ini body.
func Descriptor(ver int64, retry int, manifestPath string) []byte {
	return []byte(fmt.Sprintf("[Download]\nRetry = %d\nWait = %d\nVersion = %d\nDB file = %s\nDL root = %s\n",
		retry, (10 * time.Millisecond).Milliseconds(), ver, manifestPath, DownloadRoot))
}

// WriteLocal stores a local descriptor claiming ver in stateDir.
func WriteLocal(t testing.TB, stateDir string, ver int64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	body := Descriptor(ver, 2, fmt.Sprintf("db/server.db.%d.cab", ver))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, version.FileName), body, 0o644))
}

// Install writes content at rel under root, like a previously placed file.
func Install(t testing.TB, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func Hash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
