package session

import (
	"context"

	"github.com/kusitorrent/kusitorrent/internal/progress"
)

// Descriptor is everything the engine needs to load one torrent.
type Descriptor struct {
	Data        []byte // Raw torrent metainfo
	StagingDir  string // Process-scoped scratch space
	DownloadDir string // Destination of the content
	Origin      string // Where the descriptor was loaded from, as a URL
}

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	Name       string
	Total      int64
	Downloaded int64
	Rate       int64 // Smoothed download rate in bytes per second
	Peers      int
	Seeders    int
}

// Sample returns the progress part of the snapshot.
func (s Stats) Sample() progress.Sample {
	return progress.Sample{Total: s.Total, Downloaded: s.Downloaded}
}

// Engine performs the actual transfer. The Controller calls every method from
// a single goroutine.
type Engine interface {
	// Listen opens the process-wide TCP and UDP transports on port.
	Listen(port uint16) error
	// Initialize loads the descriptor.
	Initialize(ctx context.Context, d Descriptor) error
	// CreateFiles prepares the on-disk layout of the content.
	CreateFiles() error
	// Start begins the active transfer.
	Start() error
	// Tick advances one unit of engine work. It must return promptly. Errors
	// wrapping ErrEngineFatal stop the session.
	Tick(ctx context.Context) error
	// Stats returns a snapshot no older than the last completed Tick.
	Stats() Stats
	// Completed is closed once the transfer finishes.
	Completed() <-chan struct{}
	// Stop asks the engine to stop and returns a channel closed on
	// acknowledgment. The caller bounds the wait.
	Stop() <-chan struct{}
	// Close releases the transports opened by Listen.
	Close() error
}
