package session

import (
	"errors"
	"fmt"
)

// ErrEngineInit classifies failures that abort a session before it runs.
var ErrEngineInit = errors.New("engine initialization failed")

// ErrEngineFatal is wrapped by an engine into a Tick error that should end
// the session.
var ErrEngineFatal = errors.New("fatal engine error")

// PortBindError represents a listen port the engine could not bind.
type PortBindError struct {
	Port uint16
	Err  error
}

func (e *PortBindError) Error() string {
	return fmt.Sprintf("failed to use port '%d'", e.Port)
}

func (e *PortBindError) Unwrap() error { return e.Err }

func (e *PortBindError) Is(target error) bool { return target == ErrEngineInit }

// InitError represents a failed startup step after the port was bound.
type InitError struct {
	Op  string // The step that failed (e.g., "load descriptor", "create files")
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool { return target == ErrEngineInit }
