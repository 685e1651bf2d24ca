package downloader

import (
	"fmt"
	"os"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

// Summary describes the content of a torrent descriptor.
type Summary struct {
	Name        string      `json:"name"`
	InfoHash    string      `json:"infoHash"`
	PieceLength int64       `json:"pieceLength"`
	Pieces      int         `json:"pieces"`
	TotalSize   int64       `json:"totalSize"`
	Trackers    []string    `json:"trackers,omitempty"`
	Comment     string      `json:"comment,omitempty"`
	CreatedBy   string      `json:"createdBy,omitempty"`
	Files       []FileEntry `json:"files"`
}

type FileEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Inspect reads the descriptor at path without touching the network.
func Inspect(path string) (*Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open torrent file: %w", err)
	}
	defer file.Close()

	mi, err := metainfo.Load(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent: %w", err)
	}

	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal torrent info: %w", err)
	}

	s := &Summary{
		Name:        info.Name,
		InfoHash:    mi.HashInfoBytes().HexString(),
		PieceLength: info.PieceLength,
		Pieces:      info.NumPieces(),
		Comment:     mi.Comment,
		CreatedBy:   mi.CreatedBy,
	}

	for _, tier := range mi.UpvertedAnnounceList() {
		s.Trackers = append(s.Trackers, tier...)
	}

	if info.IsDir() {
		for _, f := range info.Files {
			s.Files = append(s.Files, FileEntry{Path: strings.Join(f.Path, "/"), Size: f.Length})
			s.TotalSize += f.Length
		}
	} else {
		// Single file torrent
		s.Files = []FileEntry{{Path: info.Name, Size: info.Length}}
		s.TotalSize = info.Length
	}

	return s, nil
}
