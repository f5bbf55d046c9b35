package codec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Cabinet extracts single-file cabinets compressed with zstd, lz4, xz or
// LZMA-alone.
type Cabinet struct{}

func NewCabinet() *Cabinet {
	return &Cabinet{}
}

func (c *Cabinet) Extract(ctx context.Context, src, dst string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("codec: open cabinet: %w", err)
	}
	n, err := c.decode(ctx, in, dst)
	closeErr := in.Close()
	if err != nil {
		return n, err
	}
	if closeErr != nil {
		_ = os.Remove(dst)
		return n, fmt.Errorf("codec: close cabinet: %w", closeErr)
	}
	if err := os.Remove(src); err != nil {
		return n, fmt.Errorf("codec: remove cabinet: %w", err)
	}
	return n, nil
}

func (c *Cabinet) decode(ctx context.Context, in io.Reader, dst string) (int64, error) {
	br := bufio.NewReader(in)
	format := Detect(peek(br, len(magicXZ)))
	if format == FormatUnknown || format == FormatGzip {
		return 0, fmt.Errorf("%w: cabinet", ErrUnknownFormat)
	}
	r, release, err := decoder(format, br)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("codec: mkdir: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("codec: create output: %w", err)
	}

	n, copyErr := io.Copy(out, &contextReader{r: r, ctx: ctx})
	syncErr := out.Sync()
	closeErr := out.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(dst)
		return n, fmt.Errorf("codec: decode %s: %w", format, copyErr)
	case syncErr != nil:
		_ = os.Remove(dst)
		return n, fmt.Errorf("codec: sync output: %w", syncErr)
	case closeErr != nil:
		_ = os.Remove(dst)
		return n, fmt.Errorf("codec: close output: %w", closeErr)
	}
	return n, nil
}
