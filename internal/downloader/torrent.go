package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"github.com/kusitorrent/kusitorrent/internal/logging"
	"github.com/kusitorrent/kusitorrent/internal/session"
)

const (
	dirPerm = 0o755

	// speedSamples is the moving average window for the download rate.
	speedSamples = 10

	// minBurst is one standard peer request. The client refuses requests
	// larger than the upload limiter's burst.
	minBurst = 16 << 10
)

// TorrentEngine runs a single torrent on an anacrolix client. It implements
// session.Engine and is driven from one goroutine.
type TorrentEngine struct {
	opts   Options
	logger *slog.Logger

	client      *torrent.Client
	completion  storage.PieceCompletion
	t           *torrent.Torrent
	downloadDir string

	completed chan struct{}
	notified  bool

	// For accurate speed calculation
	lastBytesRead int64
	lastStatsTime time.Time
	speedHistory  []int64
	rate          int64
}

var _ session.Engine = (*TorrentEngine)(nil)

func NewTorrentEngine(opts Options) *TorrentEngine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &TorrentEngine{
		opts:         opts,
		logger:       logger,
		completed:    make(chan struct{}),
		speedHistory: make([]int64, 0, speedSamples),
	}
}

// Listen creates the client, which binds TCP and uTP on port.
func (e *TorrentEngine) Listen(port uint16) error {
	if e.client != nil {
		return errors.New("torrent client already listening")
	}

	completion, err := storage.NewDefaultPieceCompletionForDir(e.opts.StagingDir)
	if err != nil {
		return fmt.Errorf("failed to open piece completion: %w", err)
	}

	cfg := torrent.NewDefaultClientConfig()
	cfg.ListenPort = int(port)
	cfg.DataDir = e.opts.StagingDir
	cfg.DefaultStorage = storage.NewFileWithCompletion(e.opts.StagingDir, completion)
	cfg.NoDHT = e.opts.NoDHT
	cfg.DisableTrackers = e.opts.NoTrackers

	if e.opts.UploadLimit > 0 {
		cfg.UploadRateLimiter = newLimiter(e.opts.UploadLimit)
	}
	if e.opts.DownloadLimit > 0 {
		cfg.DownloadRateLimiter = newLimiter(e.opts.DownloadLimit)
	}

	client, err := torrent.NewClient(cfg)
	if err != nil {
		completion.Close()
		return fmt.Errorf("failed to create torrent client: %w", err)
	}

	e.client = client
	e.completion = completion
	e.logger.Debug("torrent client listening", "port", client.LocalPort())

	return nil
}

// newLimiter returns a token bucket allowing limit bytes per second. The
// burst never drops below one block so slow limits still serve peers.
func newLimiter(limit int64) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(limit), int(max(limit, minBurst)))
}

// Port returns the port the client is bound to, or 0 before Listen.
func (e *TorrentEngine) Port() int {
	if e.client == nil {
		return 0
	}
	return e.client.LocalPort()
}

// Initialize adds the descriptor to the client, storing content in the
// download directory.
func (e *TorrentEngine) Initialize(ctx context.Context, d session.Descriptor) error {
	if e.client == nil {
		return errors.New("torrent client not listening")
	}

	mi, err := metainfo.Load(bytes.NewReader(d.Data))
	if err != nil {
		return fmt.Errorf("failed to parse torrent: %w", err)
	}

	spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
	if err != nil {
		return fmt.Errorf("failed to parse torrent info: %w", err)
	}
	spec.Storage = storage.NewFileWithCompletion(d.DownloadDir, e.completion)

	t, _, err := e.client.AddTorrentSpec(spec)
	if err != nil {
		return fmt.Errorf("failed to add torrent: %w", err)
	}

	e.t = t
	e.downloadDir = d.DownloadDir
	e.logger.InfoContext(ctx, "torrent loaded",
		"name", t.Name(),
		"info_hash", t.InfoHash().HexString(),
		"origin", d.Origin,
	)

	return nil
}

// CreateFiles creates the directory tree of the content inside the download
// directory.
func (e *TorrentEngine) CreateFiles() error {
	if e.t == nil || e.t.Info() == nil {
		return errors.New("failed to get torrent info")
	}

	for _, f := range e.t.Files() {
		path := filepath.Join(e.downloadDir, filepath.FromSlash(f.Path()))
		rel, err := filepath.Rel(e.downloadDir, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("file %q escapes the download directory", f.Path())
		}

		if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
			return fmt.Errorf("failed to create directory for %q: %w", f.Path(), err)
		}
	}

	return nil
}

// Start begins the transfer.
func (e *TorrentEngine) Start() error {
	if e.t == nil {
		return errors.New("no torrent loaded")
	}

	if e.opts.Sequential {
		e.advanceSequential()
		return nil
	}

	e.t.DownloadAll()
	for _, f := range e.t.Files() {
		f.SetPriority(torrent.PiecePriorityNormal)
	}

	return nil
}

// advanceSequential wants the first incomplete file only, so files finish in
// descriptor order.
func (e *TorrentEngine) advanceSequential() {
	current := false
	for _, f := range e.t.Files() {
		switch {
		case f.BytesCompleted() >= f.Length():
		case !current:
			current = true
			if f.Priority() != torrent.PiecePriorityNow {
				e.logger.Debug("downloading file", "path", f.Path())
				f.SetPriority(torrent.PiecePriorityNow)
			}
		default:
			f.SetPriority(torrent.PiecePriorityNone)
		}
	}
}

// Tick samples the transfer rate, moves sequential downloads along and
// reports completion. The client does its network work on its own
// goroutines, so this never blocks.
func (e *TorrentEngine) Tick(ctx context.Context) error {
	if e.t == nil {
		return fmt.Errorf("no torrent loaded: %w", session.ErrEngineFatal)
	}

	select {
	case <-e.t.Closed():
		return fmt.Errorf("torrent closed unexpectedly: %w", session.ErrEngineFatal)
	default:
	}

	e.sampleRate(time.Now())

	if e.opts.Sequential {
		e.advanceSequential()
	}

	if !e.notified && e.complete() {
		e.notified = true
		e.logger.InfoContext(ctx, "torrent complete", "name", e.t.Name())
		close(e.completed)
	}

	return nil
}

func (e *TorrentEngine) complete() bool {
	info := e.t.Info()
	if info == nil {
		return false
	}
	total := info.TotalLength()
	return total > 0 && e.t.BytesCompleted() >= total
}

// sampleRate updates the smoothed download rate from the cumulative
// useful-bytes counter.
func (e *TorrentEngine) sampleRate(now time.Time) {
	ts := e.t.Stats()
	read := ts.BytesReadUsefulData.Int64()

	elapsed := now.Sub(e.lastStatsTime).Seconds()
	if !e.lastStatsTime.IsZero() && elapsed > 0 {
		// Counters only grow; a negative delta keeps the last rate.
		if delta := read - e.lastBytesRead; delta >= 0 {
			e.speedHistory = append(e.speedHistory, int64(float64(delta)/elapsed))
			if len(e.speedHistory) > speedSamples {
				e.speedHistory = e.speedHistory[1:]
			}

			var sum int64
			for _, s := range e.speedHistory {
				sum += s
			}
			e.rate = sum / int64(len(e.speedHistory))
		}
	}

	e.lastBytesRead = read
	e.lastStatsTime = now
}

func (e *TorrentEngine) Stats() session.Stats {
	if e.t == nil {
		return session.Stats{}
	}

	s := session.Stats{Name: e.t.Name(), Rate: e.rate}
	if info := e.t.Info(); info != nil {
		s.Total = info.TotalLength()
		s.Downloaded = e.t.BytesCompleted()
	}

	ts := e.t.Stats()
	s.Peers = ts.ActivePeers
	s.Seeders = ts.ConnectedSeeders

	return s
}

func (e *TorrentEngine) Completed() <-chan struct{} {
	return e.completed
}

// Stop drops the torrent, closing its peer connections and storage. The
// returned channel is closed once that finished.
func (e *TorrentEngine) Stop() <-chan struct{} {
	ack := make(chan struct{})
	if e.t == nil {
		close(ack)
		return ack
	}

	t := e.t
	go func() {
		defer close(ack)
		t.Drop()
	}()

	return ack
}

// Close shuts the client down, releasing its TCP and uTP listeners.
func (e *TorrentEngine) Close() error {
	if e.client == nil {
		return nil
	}

	errs := e.client.Close()
	if err := e.completion.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close piece completion: %w", err))
	}
	e.client = nil

	return errors.Join(errs...)
}
