package domain

import "errors"

var ErrUnsupported = errors.New("unsupported operation")

var (
	// ErrCannotResolveContent is returned when a descriptor cannot be parsed or
	// its metadata cannot be fetched from the swarm.
	ErrCannotResolveContent = errors.New("cannot resolve content")

	// ErrSession reports a terminal condition of the swarm session or attachment.
	ErrSession = errors.New("swarm session error")

	// ErrTimeout is returned when a piece is not available within the configured bound.
	ErrTimeout = errors.New("piece fetch timed out")

	// ErrIO covers short reads and piece size mismatches.
	ErrIO = errors.New("i/o error")

	ErrReadOnly = errors.New("content is read-only")
	ErrClosed   = errors.New("handle is closed")
)
