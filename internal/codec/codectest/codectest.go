// Package codectest builds compressed fixtures for codec consumers.
package codectest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

type Layer string

const (
	LayerNone Layer = "none"
	LayerZstd Layer = "zstd"
	LayerLZ4  Layer = "lz4"
	LayerXZ   Layer = "xz"
	LayerLZMA Layer = "lzma"
	LayerGzip Layer = "gzip"
)

// Compress returns data wrapped in the given layer.
func Compress(t testing.TB, layer Layer, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch layer {
	case LayerNone:
		return append([]byte(nil), data...)
	case LayerZstd:
		w, err = zstd.NewWriter(&buf)
	case LayerLZ4:
		w = lz4.NewWriter(&buf)
	case LayerXZ:
		w, err = xz.NewWriter(&buf)
	case LayerLZMA:
		w, err = lzma.NewWriter(&buf)
	case LayerGzip:
		w = gzip.NewWriter(&buf)
	default:
		t.Fatalf("codectest: unknown layer %q", layer)
	}
	if err != nil {
		t.Fatalf("codectest: %s writer: %v", layer, err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("codectest: %s write: %v", layer, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("codectest: %s close: %v", layer, err)
	}
	return buf.Bytes()
}

// Cabinet is Compress with the default cabinet layer.
func Cabinet(t testing.TB, data []byte) []byte {
	return Compress(t, LayerZstd, data)
}

// Entry is one tar member. A trailing '/' in Name makes a directory.
type Entry struct {
	Name string
	Body string
	Link string
}

// Tar builds a tar stream from entries and wraps it in layer.
func Tar(t testing.TB, layer Layer, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, Mode: 0o644}
		switch {
		case e.Link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Link
			hdr.Mode = 0o777
		case len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/':
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("codectest: tar header %s: %v", e.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.Body)); err != nil {
				t.Fatalf("codectest: tar body %s: %v", e.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("codectest: tar close: %v", err)
	}
	return Compress(t, layer, buf.Bytes())
}
