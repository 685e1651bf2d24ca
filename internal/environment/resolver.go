// Package environment turns user supplied arguments into a concrete RunConfig.
package environment

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kusitorrent/kusitorrent/internal/utils"
)

// AppName names the process-scoped staging directory under the temp root.
const AppName = "KusiTorrent"

const dirPerm = 0o755

// DefaultPortRange is the auto-assign range used when the port argument is "0".
var DefaultPortRange = PortRange{Min: 6881, Max: 6999}

// PortRange is a half-open range [Min, Max) of listen ports.
type PortRange struct {
	Min, Max int
}

func (r PortRange) valid() bool {
	return r.Min > 0 && r.Min < r.Max && r.Max <= 1<<16
}

// Contains reports whether port lies in [Min, Max).
func (r PortRange) Contains(port uint16) bool {
	return int(port) >= r.Min && int(port) < r.Max
}

// RunConfig is the fully resolved configuration of one session. Every path is
// absolute and exists, and ListenPort is never zero.
type RunConfig struct {
	ListenPort  uint16
	DownloadDir string
	StagingDir  string
	Quiet       bool
	InputFile   string
}

// Input is the raw, unvalidated configuration as given on the command line.
type Input struct {
	Port  string
	Dir   string
	Quiet bool
	Files []string
}

// Resolver validates and normalizes Input.
type Resolver struct {
	Ports PortRange
	// TempDir returns the platform temp root. Defaults to os.TempDir.
	TempDir func() string
	// IntN returns a pseudo-random number in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

// NewResolver creates a resolver drawing auto-assigned ports from ports.
func NewResolver(ports PortRange) *Resolver {
	return &Resolver{
		Ports:   ports,
		TempDir: os.TempDir,
		IntN:    rand.IntN,
	}
}

// Resolve produces a RunConfig from in. Resolution stops at the first failure.
// Only the first input file is carried into the RunConfig.
func (r *Resolver) Resolve(in Input) (RunConfig, error) {
	port, err := r.Port(in.Port)
	if err != nil {
		return RunConfig{}, err
	}

	dir := in.Dir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return RunConfig{}, &DirectoryError{Path: in.Dir, Reason: "invalid directory", Err: err}
		}
	}

	downloadDir, err := Directory(dir)
	if err != nil {
		return RunConfig{}, err
	}

	stagingDir, err := r.StagingDirectory()
	if err != nil {
		return RunConfig{}, err
	}

	files, err := InputFiles(in.Files)
	if err != nil {
		return RunConfig{}, err
	}

	return RunConfig{
		ListenPort:  port,
		DownloadDir: downloadDir,
		StagingDir:  stagingDir,
		Quiet:       in.Quiet,
		InputFile:   files[0],
	}, nil
}

// Port parses input as an unsigned 16-bit port. "0" draws a port from the
// auto-assign range instead.
func (r *Resolver) Port(input string) (uint16, error) {
	n, err := strconv.ParseUint(input, 10, 16)
	if err != nil {
		return 0, &PortError{Input: input, Err: err}
	}

	if n != 0 {
		return uint16(n), nil
	}

	if !r.Ports.valid() {
		return 0, &PortRangeError{Min: r.Ports.Min, Max: r.Ports.Max}
	}

	return uint16(r.Ports.Min + r.IntN(r.Ports.Max-r.Ports.Min)), nil
}

// StagingDirectory returns the process-scoped staging directory under the
// temp root, creating it if needed.
func (r *Resolver) StagingDirectory() (string, error) {
	return Directory(filepath.Join(r.TempDir(), AppName))
}

// Directory converts path to an absolute path and creates it recursively when
// missing. Resolving an existing directory is not an error.
func Directory(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &DirectoryError{Path: path, Reason: "invalid directory", Err: err}
	}

	info, err := os.Stat(abs)
	switch {
	case err == nil && info.IsDir():
		return abs, nil
	case err == nil:
		return "", &DirectoryError{Path: path, Reason: "not a directory"}
	case !errors.Is(err, os.ErrNotExist):
		return "", &DirectoryError{Path: path, Reason: "invalid directory", Err: err}
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return "", &DirectoryError{Path: path, Reason: "couldn't create directory", Err: err}
	}

	return abs, nil
}

// InputFiles checks that paths is non-empty and every entry is an existing
// regular file. The returned paths are absolute.
func InputFiles(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, ErrNoFilesGiven
	}

	files := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, &FileError{Path: p, Err: err}
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, &FileError{Path: p, Err: err}
		}
		if !info.Mode().IsRegular() {
			return nil, &FileError{Path: p}
		}

		files = append(files, abs)
	}

	return files, nil
}

// Rate parses a bytes-per-second limit such as "2MiB". An empty input means
// no limit and yields zero.
func Rate(name, input string) (int64, error) {
	n, err := utils.ParseBytes(input)
	if err != nil {
		return 0, &RateError{Name: name, Input: input, Err: err}
	}
	return n, nil
}
