package ring

import "errors"

var (
	// ErrConnect means the switch does not exist or refused the requested
	// ring capacities. Fatal at startup.
	ErrConnect = errors.New("cannot connect to switch")

	// ErrNotReady is an API ordering violation (map before open, skip of a
	// stale frame, commit without allocate). Unreachable in correct use.
	ErrNotReady = errors.New("ring interface not ready")

	// ErrOutOfSpace means the send ring cannot hold the frame right now.
	// Recoverable: drop the frame and continue.
	ErrOutOfSpace = errors.New("send ring full")

	// ErrFrameSize rejects zero-length or oversized frame allocations.
	ErrFrameSize = errors.New("invalid frame size")

	// ErrCorrupt means the peer violated the ring record format. Fatal for
	// the session.
	ErrCorrupt = errors.New("ring corrupted")

	// ErrClosed is returned once the handle has been closed.
	ErrClosed = errors.New("ring handle closed")
)
