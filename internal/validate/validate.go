// Package validate checks decompressed artifacts and installed files against
// the manifest size and digest.
package validate

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

type Algorithm string

const (
	AlgorithmMD5    Algorithm = "md5"
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmBLAKE3 Algorithm = "blake3"
)

var (
	ErrSizeMismatch = errors.New("validate: size mismatch")
	ErrHashMismatch = errors.New("validate: hash mismatch")
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return AlgorithmMD5, nil
	case AlgorithmMD5, AlgorithmSHA256, AlgorithmBLAKE3:
		return a, nil
	default:
		return "", fmt.Errorf("validate: unknown hash algorithm %q", s)
	}
}

func (a Algorithm) newHash() hash.Hash {
	switch a {
	case AlgorithmSHA256:
		return sha256.New()
	case AlgorithmBLAKE3:
		return blake3.New()
	default:
		return md5.New()
	}
}

// Validator computes digests with one algorithm. It holds no state between
// calls and is safe for concurrent use.
type Validator struct {
	algo Algorithm
}

func New(algo Algorithm) *Validator {
	if algo == "" {
		algo = AlgorithmMD5
	}
	return &Validator{algo: algo}
}

// Digest returns the lowercase hex digest of r and the number of bytes read.
func (v *Validator) Digest(r io.Reader) (string, int64, error) {
	h := v.algo.newHash()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashFile digests the file at path.
func (v *Validator) HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return v.Digest(f)
}

// Verify fails with ErrSizeMismatch or ErrHashMismatch when the file at path
// is not the expected artifact. The size is checked first, without reading
// the content.
func (v *Validator) Verify(path string, size int64, want string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("validate: stat: %w", err)
	}
	if st.Size() != size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, st.Size(), size)
	}
	got, n, err := v.HashFile(path)
	if err != nil {
		return fmt.Errorf("validate: read: %w", err)
	}
	if n != size {
		return fmt.Errorf("%w: read %d bytes, want %d", ErrSizeMismatch, n, size)
	}
	if !EqualDigest(got, want) {
		return fmt.Errorf("%w: got %s, want %s", ErrHashMismatch, got, strings.ToLower(want))
	}
	return nil
}

// EqualDigest compares two hex digests ignoring case and surrounding space.
func EqualDigest(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Condition is the state of an installed file relative to its record.
type Condition int

const (
	ConditionValid Condition = iota
	ConditionMissing
	ConditionSizeMismatch
	ConditionHashMismatch
	// ConditionNotRegular means something other than a file sits at the path.
	ConditionNotRegular
)

func (c Condition) String() string {
	switch c {
	case ConditionValid:
		return "valid"
	case ConditionMissing:
		return "missing"
	case ConditionSizeMismatch:
		return "size mismatch"
	case ConditionHashMismatch:
		return "hash mismatch"
	case ConditionNotRegular:
		return "not a regular file"
	}
	return "unknown"
}

// NeedsFetch is true for every condition except ConditionValid.
func (c Condition) NeedsFetch() bool {
	return c != ConditionValid
}

// Inspect classifies the installed file at path. A digest mismatch wins over
// a size mismatch so callers can tell stale content apart from truncation.
func (v *Validator) Inspect(path string, size int64, want string) (Condition, error) {
	st, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ConditionMissing, nil
	}
	if err != nil {
		return ConditionMissing, fmt.Errorf("validate: stat: %w", err)
	}
	if !st.Mode().IsRegular() {
		return ConditionNotRegular, nil
	}

	got, _, err := v.HashFile(path)
	if err != nil {
		return ConditionMissing, fmt.Errorf("validate: read: %w", err)
	}
	if !EqualDigest(got, want) {
		return ConditionHashMismatch, nil
	}
	if st.Size() != size {
		return ConditionSizeMismatch, nil
	}
	return ConditionValid, nil
}
