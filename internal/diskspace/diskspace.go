// Package diskspace answers whether a payload fits on the filesystem that
// holds the install directory.
package diskspace

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/bits"
	"os"
	"path/filepath"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
)

const (
	DefaultUpdateMargin    = 1.1
	DefaultBootstrapMargin = 2.5
)

// FreeSpaceFunc reports bytes available to the current user on the
// filesystem containing path.
type FreeSpaceFunc func(path string) (uint64, error)

// Free is the platform probe.
func Free(path string) (uint64, error) {
	p, err := existingAncestor(path)
	if err != nil {
		return 0, err
	}
	return freeBytes(p)
}

// existingAncestor walks up until it finds a path that exists, so a fresh
// install directory can be probed before it is created.
func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("diskspace: no existing ancestor of %s", path)
		}
		p = parent
	}
}

// Required applies margin to bytes, rounding up. The margin is taken to
// three decimals so 1000 bytes at 1.1 is exactly 1100.
func Required(bytes uint64, margin float64) uint64 {
	if margin < 1 {
		margin = 1
	}
	perMille := uint64(math.Round(margin * 1000))
	hi, lo := bits.Mul64(bytes, perMille)
	lo, carry := bits.Add64(lo, 999, 0)
	hi += carry
	if hi >= 1000 {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, 1000)
	return q
}

// Admission refuses payloads that do not fit with a safety margin.
type Admission struct {
	free   FreeSpaceFunc
	margin float64
}

func NewAdmission(free FreeSpaceFunc, margin float64) *Admission {
	if free == nil {
		free = Free
	}
	if margin <= 0 {
		margin = DefaultUpdateMargin
	}
	return &Admission{free: free, margin: margin}
}

// Admit checks that payload bytes times the margin fit under path. It returns
// the required byte count it compared against.
func (a *Admission) Admit(path string, payload uint64) (uint64, error) {
	const op = "diskspace.Admission.Admit"

	required := Required(payload, a.margin)
	if payload == 0 {
		return 0, nil
	}
	free, err := a.free(path)
	if err != nil {
		return required, core.NewResourceError("cannot determine free disk space", err, op)
	}
	if required > free {
		return required, core.NewInsufficientSpaceError(required, free, op)
	}
	return required, nil
}
