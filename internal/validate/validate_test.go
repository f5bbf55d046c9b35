package validate

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func md5Hex(b []byte) string {
	s := md5.Sum(b)
	return hex.EncodeToString(s[:])
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	require.Equal(t, AlgorithmMD5, a)

	a, err = ParseAlgorithm(" SHA256 ")
	require.NoError(t, err)
	require.Equal(t, AlgorithmSHA256, a)

	_, err = ParseAlgorithm("crc32")
	require.Error(t, err)
}

func TestDigestAlgorithms(t *testing.T) {
	t.Parallel()

	data := []byte("S1Engine.ini contents")

	got, n, err := New("").Digest(strings.NewReader(string(data)))
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), n)
	require.Equal(t, md5Hex(data), got)

	sum := sha256.Sum256(data)
	got, _, err = New(AlgorithmSHA256).Digest(strings.NewReader(string(data)))
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(sum[:]), got)

	got, _, err = New(AlgorithmBLAKE3).Digest(strings.NewReader(string(data)))
	require.NoError(t, err)
	require.Len(t, got, 64)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	data := []byte("payload")
	p := writeFile(t, "f.bin", data)
	v := New(AlgorithmMD5)

	require.NoError(t, v.Verify(p, int64(len(data)), strings.ToUpper(md5Hex(data))))
	require.ErrorIs(t, v.Verify(p, int64(len(data))+1, md5Hex(data)), ErrSizeMismatch)
	require.ErrorIs(t, v.Verify(p, int64(len(data)), md5Hex([]byte("other"))), ErrHashMismatch)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	data := []byte("TERA.exe")
	v := New(AlgorithmMD5)
	dir := t.TempDir()

	good := filepath.Join(dir, "good")
	require.NoError(t, os.WriteFile(good, data, 0o644))

	testCases := []struct {
		name string
		path string
		size int64
		hash string
		want Condition
	}{
		{name: "valid", path: good, size: int64(len(data)), hash: md5Hex(data), want: ConditionValid},
		{name: "missing", path: filepath.Join(dir, "nope"), size: 1, hash: "x", want: ConditionMissing},
		{name: "hash", path: good, size: int64(len(data)), hash: md5Hex([]byte("stale")), want: ConditionHashMismatch},
		{name: "size", path: good, size: 99, hash: md5Hex(data), want: ConditionSizeMismatch},
		{name: "directory", path: dir, size: 1, hash: "x", want: ConditionNotRegular},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := v.Inspect(tc.path, tc.size, tc.hash)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.want != ConditionValid, got.NeedsFetch())
		})
	}
}
