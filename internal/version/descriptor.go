// Package version reads and writes the version descriptor (version.ini)
// that carries the retry policy, the installed version and the remote path
// fragments of the patch host.
package version

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/utils"
	"gopkg.in/ini.v1"
)

// FileName is the descriptor name both on the patch host and at rest.
const FileName = "version.ini"

const (
	sectionDownload = "Download"

	keyRetry        = "Retry"
	keyWait         = "Wait"
	keyVersion      = "Version"
	keyManifestPath = "DB file"
	keyDownloadRoot = "DL root"
)

var ErrMissing = errors.New("version: descriptor missing")

type Descriptor struct {
	RetryLimit     int
	RetryDelay     time.Duration
	CurrentVersion int64
	// ManifestPath is the remote manifest object path, relative to the patch root.
	ManifestPath string
	// DownloadRoot is the remote path fragment for per-file objects.
	DownloadRoot string
}

// Parse decodes a descriptor. Every key of the Download section is required.
func Parse(data []byte) (*Descriptor, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("version: parse: %w", err)
	}
	sec, err := f.GetSection(sectionDownload)
	if err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}

	d := &Descriptor{}
	retry, err := intKey(sec, keyRetry)
	if err != nil {
		return nil, err
	}
	wait, err := intKey(sec, keyWait)
	if err != nil {
		return nil, err
	}
	d.CurrentVersion, err = intKey(sec, keyVersion)
	if err != nil {
		return nil, err
	}
	if d.ManifestPath, err = stringKey(sec, keyManifestPath); err != nil {
		return nil, err
	}
	if d.DownloadRoot, err = stringKey(sec, keyDownloadRoot); err != nil {
		return nil, err
	}
	if retry < 0 || wait < 0 {
		return nil, errors.New("version: negative retry policy")
	}
	d.RetryLimit = int(retry)
	d.RetryDelay = time.Duration(wait) * time.Millisecond
	return d, nil
}

func intKey(sec *ini.Section, name string) (int64, error) {
	k, err := sec.GetKey(name)
	if err != nil {
		return 0, fmt.Errorf("version: %w", err)
	}
	v, err := k.Int64()
	if err != nil {
		return 0, fmt.Errorf("version: key %q: %w", name, err)
	}
	return v, nil
}

func stringKey(sec *ini.Section, name string) (string, error) {
	k, err := sec.GetKey(name)
	if err != nil {
		return "", fmt.Errorf("version: %w", err)
	}
	v := strings.TrimSpace(k.String())
	if v == "" {
		return "", fmt.Errorf("version: key %q is empty", name)
	}
	return v, nil
}

// Load reads the descriptor at rest. A missing file yields ErrMissing.
func Load(p string) (*Descriptor, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("version: read: %w", err)
	}
	return Parse(data)
}

// Save replaces the descriptor at rest with raw, the bytes that were fetched
// and parsed successfully.
func Save(ctx context.Context, p string, raw []byte) error {
	if _, err := Parse(raw); err != nil {
		return err
	}
	return utils.WriteFileAtomic(ctx, p, raw)
}

// Encode renders d in the descriptor format.
func (d *Descriptor) Encode() ([]byte, error) {
	f := ini.Empty()
	sec, err := f.NewSection(sectionDownload)
	if err != nil {
		return nil, fmt.Errorf("version: encode: %w", err)
	}
	pairs := [][2]string{
		{keyRetry, strconv.Itoa(d.RetryLimit)},
		{keyWait, strconv.FormatInt(d.RetryDelay.Milliseconds(), 10)},
		{keyVersion, strconv.FormatInt(d.CurrentVersion, 10)},
		{keyManifestPath, d.ManifestPath},
		{keyDownloadRoot, d.DownloadRoot},
	}
	for _, kv := range pairs {
		if _, err := sec.NewKey(kv[0], kv[1]); err != nil {
			return nil, fmt.Errorf("version: encode %q: %w", kv[0], err)
		}
	}
	buf := &bytes.Buffer{}
	if _, err := f.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("version: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// ManifestName is the at-rest name of the decoded manifest: the basename of
// ManifestPath without a trailing ".{version}.cab".
func (d *Descriptor) ManifestName() string {
	name := path.Base(strings.ReplaceAll(d.ManifestPath, "\\", "/"))
	suffix := "." + strconv.FormatInt(d.CurrentVersion, 10) + ".cab"
	if trimmed := strings.TrimSuffix(name, suffix); trimmed != "" {
		return trimmed
	}
	return name
}
