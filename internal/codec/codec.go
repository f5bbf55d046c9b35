// Package codec holds the two archive adapters: the single-file cabinet
// extractor used per manifest file, and the bulk tar-stream extractor used by
// the bootstrap path.
package codec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Extractor decodes one cabinet into one file. Extract consumes src: it is
// removed once dst is fully written, and kept on any failure.
type Extractor interface {
	Extract(ctx context.Context, src, dst string) (int64, error)
}

// EntryFunc is called after every extracted bulk archive entry. index starts
// at 1.
type EntryFunc func(index int, name string)

// BulkExtractor unpacks a multi-entry archive into a directory.
type BulkExtractor interface {
	// Count lists the archive without writing anything.
	Count(ctx context.Context, src string) (int, error)
	ExtractAll(ctx context.Context, src, root string, onEntry EntryFunc) (int, error)
}

// Format is a compression layer recognized by its magic bytes.
type Format int

const (
	FormatUnknown Format = iota
	FormatZstd
	FormatLZ4
	FormatXZ
	FormatLZMA
	FormatGzip
)

func (f Format) String() string {
	switch f {
	case FormatZstd:
		return "zstd"
	case FormatLZ4:
		return "lz4"
	case FormatXZ:
		return "xz"
	case FormatLZMA:
		return "lzma"
	case FormatGzip:
		return "gzip"
	}
	return "unknown"
}

var (
	ErrUnknownFormat = errors.New("codec: unknown compression format")
	ErrUnsafePath    = errors.New("codec: archive entry escapes the destination")
)

var (
	magicZstd = []byte{0x28, 0xB5, 0x2F, 0xFD}
	magicLZ4  = []byte{0x04, 0x22, 0x4D, 0x18}
	magicXZ   = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
	magicGzip = []byte{0x1F, 0x8B}
)

// lzmaProps is the usual properties byte of LZMA-alone streams (lc=3 lp=0 pb=2).
const lzmaProps = 0x5D

// Detect inspects the leading bytes of a stream.
func Detect(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, magicZstd):
		return FormatZstd
	case bytes.HasPrefix(head, magicLZ4):
		return FormatLZ4
	case bytes.HasPrefix(head, magicXZ):
		return FormatXZ
	case bytes.HasPrefix(head, magicGzip):
		return FormatGzip
	case len(head) > 0 && head[0] == lzmaProps:
		return FormatLZMA
	}
	return FormatUnknown
}

// decoder wraps r in a decompressing reader for f. The returned release func
// frees decoder resources and must be called once.
func decoder(f Format, r io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	switch f {
	case FormatZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("codec: zstd: %w", err)
		}
		return d, d.Close, nil
	case FormatLZ4:
		return lz4.NewReader(r), noop, nil
	case FormatXZ:
		d, err := xz.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("codec: xz: %w", err)
		}
		return d, noop, nil
	case FormatLZMA:
		d, err := lzma.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("codec: lzma: %w", err)
		}
		return d, noop, nil
	}
	return nil, noop, ErrUnknownFormat
}

func peek(br *bufio.Reader, n int) []byte {
	head, _ := br.Peek(n)
	return head
}

type contextReader struct {
	r   io.Reader
	ctx context.Context
}

func (cr *contextReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
		return cr.r.Read(p)
	}
}
