package environment

import (
	"errors"
	"fmt"
)

// ErrConfiguration classifies every resolution failure. All of them are fatal
// to startup and are never retried.
var ErrConfiguration = errors.New("configuration error")

// ErrNoFilesGiven is returned when no torrent descriptor was supplied.
var ErrNoFilesGiven error = noFilesError{}

type noFilesError struct{}

func (noFilesError) Error() string { return "no files given" }

func (noFilesError) Is(target error) bool { return target == ErrConfiguration }

// PortError represents a listen port argument that is not an unsigned 16-bit integer.
type PortError struct {
	Input string // The raw argument as supplied
	Err   error  // Underlying parse error, if any
}

func (e *PortError) Error() string {
	return fmt.Sprintf("invalid port '%s'", e.Input)
}

func (e *PortError) Unwrap() error { return e.Err }

func (e *PortError) Is(target error) bool { return target == ErrConfiguration }

// PortRangeError represents an auto-assign range that cannot yield a port.
type PortRangeError struct {
	Min, Max int
}

func (e *PortRangeError) Error() string {
	return fmt.Sprintf("invalid port range [%d, %d)", e.Min, e.Max)
}

func (e *PortRangeError) Is(target error) bool { return target == ErrConfiguration }

// DirectoryError represents a directory that could not be made absolute or created.
type DirectoryError struct {
	Path   string // The directory as supplied
	Reason string // Human-readable explanation
	Err    error  // Underlying error, if any
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("%s '%s'", e.Reason, e.Path)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

func (e *DirectoryError) Is(target error) bool { return target == ErrConfiguration }

// FileError represents an input path that does not exist or is not a regular file.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("invalid file '%s'", e.Path)
}

func (e *FileError) Unwrap() error { return e.Err }

func (e *FileError) Is(target error) bool { return target == ErrConfiguration }

// RateError represents a transfer rate limit that is not a byte size.
type RateError struct {
	Name  string // Flag or setting the value came from
	Input string
	Err   error
}

func (e *RateError) Error() string {
	return fmt.Sprintf("invalid %s '%s'", e.Name, e.Input)
}

func (e *RateError) Unwrap() error { return e.Err }

func (e *RateError) Is(target error) bool { return target == ErrConfiguration }
