package utils

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseBytes parses a byte size string like "4MB", "500KiB" or "2G".
// An empty string parses as zero, meaning "no limit" for rate settings.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %s", s)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size out of range: %s", s)
	}

	return int64(n), nil
}

// HumanBytes converts bytes to human-readable format
func HumanBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// IsTorrentFile reports whether path carries the .torrent extension.
func IsTorrentFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".torrent")
}
