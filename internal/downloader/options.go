package downloader

import "log/slog"

// Options contains all engine options
type Options struct {
	StagingDir    string // Holds the piece completion database
	DownloadLimit int64  // Bytes per second, 0 for unlimited
	UploadLimit   int64  // Bytes per second, 0 for unlimited
	Sequential    bool   // Download files one by one, in descriptor order
	NoDHT         bool
	NoTrackers    bool
	Logger        *slog.Logger
}
