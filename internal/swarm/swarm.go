// Package swarm adapts a BitTorrent client to the bulk bootstrap path: one
// metadata query and one whole-content transfer per call.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"go.uber.org/zap"
)

// Meta describes swarm content before anything is saved.
type Meta struct {
	Name  string
	Total int64
}

// Status is one poll of a running transfer. Percent is negative once the
// transfer has failed.
type Status struct {
	Percent    float64
	Downloaded int64
	Total      int64
	Rate       float64
}

func (s Status) Done() bool {
	return s.Total > 0 && s.Downloaded == s.Total
}

func (s Status) Failed() bool {
	return s.Percent < 0
}

type Transfer interface {
	Status() Status
	// Name is the top-level file name of the content inside the save dir.
	Name() string
	Close() error
}

type Swarm interface {
	Metadata(ctx context.Context, id string) (Meta, error)
	Start(ctx context.Context, id, saveDir string) (Transfer, error)
}

var ErrClosed = errors.New("swarm: transfer closed")

// Client is the Swarm backed by github.com/anacrolix/torrent. id is a magnet
// URI or a path to a .torrent file.
type Client struct {
	logger *zap.Logger
}

func NewClient(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{logger: logger}
}

func (c *Client) newTorrentClient(dataDir string) (*torrent.Client, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cl, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("swarm: new client: %w", err)
	}
	return cl, nil
}

func add(cl *torrent.Client, id string) (*torrent.Torrent, error) {
	if strings.HasPrefix(id, "magnet:") {
		return cl.AddMagnet(id)
	}
	mi, err := metainfo.LoadFromFile(id)
	if err != nil {
		return nil, fmt.Errorf("swarm: load torrent file: %w", err)
	}
	return cl.AddTorrent(mi)
}

func awaitInfo(ctx context.Context, t *torrent.Torrent) error {
	select {
	case <-t.GotInfo():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metadata joins the swarm only long enough to learn the content size. No
// payload is written.
func (c *Client) Metadata(ctx context.Context, id string) (Meta, error) {
	dir, err := os.MkdirTemp("", "swarm-meta-")
	if err != nil {
		return Meta{}, fmt.Errorf("swarm: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	cl, err := c.newTorrentClient(dir)
	if err != nil {
		return Meta{}, err
	}
	defer cl.Close()

	t, err := add(cl, id)
	if err != nil {
		return Meta{}, fmt.Errorf("swarm: add: %w", err)
	}
	defer t.Drop()

	if err := awaitInfo(ctx, t); err != nil {
		return Meta{}, fmt.Errorf("swarm: metadata: %w", err)
	}
	meta := Meta{Name: t.Name(), Total: t.Length()}
	c.logger.Info("swarm metadata", zap.String("name", meta.Name), zap.Int64("total", meta.Total))
	return meta, nil
}

func (c *Client) Start(ctx context.Context, id, saveDir string) (Transfer, error) {
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return nil, fmt.Errorf("swarm: save dir: %w", err)
	}
	cl, err := c.newTorrentClient(saveDir)
	if err != nil {
		return nil, err
	}
	t, err := add(cl, id)
	if err != nil {
		cl.Close()
		return nil, fmt.Errorf("swarm: add: %w", err)
	}
	if err := awaitInfo(ctx, t); err != nil {
		t.Drop()
		cl.Close()
		return nil, fmt.Errorf("swarm: metadata: %w", err)
	}
	t.DownloadAll()
	c.logger.Info("swarm transfer started", zap.String("name", t.Name()), zap.Int64("total", t.Length()))

	return &transfer{client: cl, t: t, name: t.Name(), lastAt: time.Now()}, nil
}

type transfer struct {
	client *torrent.Client
	t      *torrent.Torrent
	name   string

	mu      sync.Mutex
	closed  bool
	last    int64
	lastAt  time.Time
	lastBps float64
}

func (tr *transfer) Name() string {
	return tr.name
}

func (tr *transfer) Status() Status {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed {
		return Status{Percent: -1}
	}

	total := tr.t.Length()
	done := tr.t.BytesCompleted()
	now := time.Now()
	if dt := now.Sub(tr.lastAt).Seconds(); dt >= 1 {
		tr.lastBps = float64(done-tr.last) / dt
		tr.last, tr.lastAt = done, now
	}

	st := Status{Downloaded: done, Total: total, Rate: tr.lastBps}
	if total > 0 {
		st.Percent = 100 * float64(done) / float64(total)
	}
	return st
}

func (tr *transfer) Close() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed {
		return nil
	}
	tr.closed = true
	tr.t.Drop()
	tr.client.Close()
	return nil
}
