package codec

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Archive extracts tar streams, optionally wrapped in gzip, zstd, lz4 or xz.
type Archive struct {
	// StripComponents drops that many leading path elements from every entry.
	StripComponents int
}

func NewArchive(strip int) *Archive {
	if strip < 0 {
		strip = 0
	}
	return &Archive{StripComponents: strip}
}

func (a *Archive) Count(ctx context.Context, src string) (int, error) {
	n := 0
	err := a.walk(ctx, src, func(_ *tar.Header, _ io.Reader, rel string) error {
		if rel != "" {
			n++
		}
		return nil
	})
	return n, err
}

func (a *Archive) ExtractAll(ctx context.Context, src, root string, onEntry EntryFunc) (int, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, fmt.Errorf("codec: mkdir root: %w", err)
	}
	n := 0
	err := a.walk(ctx, src, func(hdr *tar.Header, body io.Reader, rel string) error {
		if rel == "" {
			return nil
		}
		if err := writeEntry(ctx, root, rel, hdr, body); err != nil {
			return fmt.Errorf("codec: entry %s: %w", hdr.Name, err)
		}
		n++
		if onEntry != nil {
			onEntry(n, rel)
		}
		return nil
	})
	return n, err
}

type entryFunc func(hdr *tar.Header, body io.Reader, rel string) error

func (a *Archive) walk(ctx context.Context, src string, fn entryFunc) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("codec: open archive: %w", err)
	}
	defer f.Close()

	r, release, err := openLayer(f)
	if err != nil {
		return err
	}
	defer release()

	tr := tar.NewReader(&contextReader{r: r, ctx: ctx})
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}
		if err != nil {
			return fmt.Errorf("codec: read archive: %w", err)
		}
		rel, err := a.relPath(hdr.Name)
		if err != nil {
			return err
		}
		if err := fn(hdr, tr, rel); err != nil {
			return err
		}
	}
}

// relPath strips leading components. An empty result means the entry is
// dropped, like the archive root directory itself.
func (a *Archive) relPath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) <= a.StripComponents {
		return "", nil
	}
	rel := path.Clean(strings.Join(parts[a.StripComponents:], "/"))
	if rel == "." || rel == "" {
		return "", nil
	}
	if escapesRoot(rel) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return rel, nil
}

// escapesRoot reports whether a cleaned, root-relative slash path climbs
// above the root.
func escapesRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, "../")
}

func openLayer(f io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(f)
	switch format := Detect(peek(br, len(magicXZ))); format {
	case FormatGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, func() {}, fmt.Errorf("codec: gzip: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case FormatZstd, FormatLZ4, FormatXZ:
		return decoder(format, br)
	default:
		// Plain tar. LZMA-alone is not probed here: a tar header can start
		// with any byte.
		return br, func() {}, nil
	}
}

func writeEntry(ctx context.Context, root, rel string, hdr *tar.Header, body io.Reader) error {
	dst, err := securejoin.SecureJoin(root, rel)
	if err != nil {
		return err
	}
	mode := hdr.FileInfo().Mode().Perm()

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dst, 0o755)
	case tar.TypeReg:
		if mode == 0 {
			mode = 0o644
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return writeRegular(ctx, dst, mode, body)
	case tar.TypeSymlink:
		target := hdr.Linkname
		if filepath.IsAbs(target) {
			return fmt.Errorf("%w: absolute link %s", ErrUnsafePath, target)
		}
		// SecureJoin clamps ".." at the root, so the target is checked lexically.
		if escapesRoot(path.Clean(path.Join(path.Dir(rel), filepath.ToSlash(target)))) {
			return fmt.Errorf("%w: link %s -> %s", ErrUnsafePath, rel, target)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		_ = os.Remove(dst)
		return os.Symlink(target, dst)
	default:
		// Devices, fifos and hard links never appear in game archives.
		return nil
	}
}

func writeRegular(ctx context.Context, dst string, mode os.FileMode, body io.Reader) error {
	if fi, err := os.Lstat(dst); err == nil && !fi.Mode().IsRegular() {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, &contextReader{r: body, ctx: ctx})
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dst)
		return copyErr
	}
	return closeErr
}
