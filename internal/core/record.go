package core

import (
	"path"
	"strconv"
	"strings"
	"time"
)

// Mode selects how a task set is resolved.
type Mode string

const (
	ModeUpdate Mode = "update"
	ModeRepair Mode = "repair"
)

// FileRecord is one entry of the effective manifest: the latest version of a
// logical file.
type FileRecord struct {
	ID      int64  `json:"id"`
	Path    string `json:"path"`
	Version int64  `json:"version"`

	CompressedSize   int64  `json:"compressed_size"`
	DecompressedSize int64  `json:"decompressed_size"`
	Hash             string `json:"hash"`
	URL              string `json:"url"`
}

// ObjectName is the remote object name for this version of the file.
func (r FileRecord) ObjectName() string {
	return strconv.FormatInt(r.ID, 10) + "-" + strconv.FormatInt(r.Version, 10) + ".cab"
}

// BuildURL joins the patch root, the download root fragment and the object name.
func (r FileRecord) BuildURL(patchRoot, downloadRoot string) string {
	return JoinURL(patchRoot, downloadRoot, r.ObjectName())
}

// UpdateTask is the ordered set of files a batch must fetch.
type UpdateTask struct {
	Mode  Mode          `json:"mode"`
	Files []*FileRecord `json:"files"`
	// Directories is every directory implied by the manifest, not only by Files.
	Directories []string `json:"directories"`

	FromVersion   int64  `json:"from_version"`
	ToVersion     int64  `json:"to_version"`
	RequiredBytes uint64 `json:"required_bytes"`

	// RetryLimit and RetryDelay come from the remote descriptor.
	RetryLimit int           `json:"retry_limit"`
	RetryDelay time.Duration `json:"retry_delay"`
	// Descriptor is the raw remote descriptor, stored locally once the task
	// has been applied in full.
	Descriptor []byte `json:"-"`
}

func (t *UpdateTask) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Files)
}

func (t *UpdateTask) Empty() bool {
	return t.Len() == 0
}

// NormalizePath converts a manifest path to a clean '/'-separated path
// relative to the install root. Empty or root-only paths come back "".
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// JoinURL joins URL parts with exactly one '/' between them.
func JoinURL(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('/')
			p = strings.TrimLeft(p, "/")
		}
		b.WriteString(strings.TrimRight(p, "/"))
	}
	return b.String()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
