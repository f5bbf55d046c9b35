// Package dirtree derives the directory set implied by manifest paths and
// makes it exist under the install root.
package dirtree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"
)

// Directories returns every distinct non-empty directory prefix of paths,
// sorted so parents come before children. Paths are normalized first.
func Directories(paths []string) []string {
	set := make(map[string]struct{})
	for _, p := range paths {
		p = core.NormalizePath(p)
		for i := 0; i < len(p); i++ {
			if p[i] == '/' {
				set[p[:i]] = struct{}{}
			}
		}
	}
	res := make([]string, 0, len(set))
	for d := range set {
		if d != "" {
			res = append(res, d)
		}
	}
	sort.Strings(res)
	return res
}

// Builder creates directories under root.
type Builder struct {
	root   string
	logger *zap.Logger
}

func NewBuilder(root string, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{root: root, logger: logger}
}

// Reconcile makes every dir exist as a directory. A non-directory found at a
// directory path is removed first. The first failure aborts the whole call.
func (b *Builder) Reconcile(ctx context.Context, dirs []string, sink core.ProgressSink) error {
	const op = "dirtree.Builder.Reconcile"

	sink = core.SinkOrNop(sink)
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return core.NewResourceError("cannot create install directory", err, op)
	}

	total := len(dirs)
	for i, d := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		sink.Report(float64(i)/float64(max(total, 1)),
			fmt.Sprintf("Checking directory %d of %d: %s", i+1, total, d))

		if err := b.ensure(d); err != nil {
			b.logger.Error("directory reconcile failed", zap.String("dir", d), zap.Error(err))
			return core.NewResourceError("cannot create directory "+d, err, op)
		}
	}
	sink.Report(1, fmt.Sprintf("Checked %d directories.", total))
	return nil
}

func (b *Builder) ensure(dir string) error {
	p, err := securejoin.SecureJoin(b.root, dir)
	if err != nil {
		return err
	}
	st, err := os.Stat(p)
	switch {
	case err == nil && st.IsDir():
		return nil
	case err == nil:
		b.logger.Warn("removing file in place of directory", zap.String("path", p))
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("remove occupant: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	return os.MkdirAll(p, 0o755)
}
