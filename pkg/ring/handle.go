package ring

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openvnet/vnetdhcpd/pkg/logger"
)

// Activity is the outcome of WaitForActivity.
type Activity int

const (
	// Signalled means frames may be ready; the caller re-checks the receive
	// queue. Spurious wakes (including interrupted waits) report Signalled.
	Signalled Activity = iota + 1
	// TimedOut means the wait expired with no doorbell.
	TimedOut
)

// State tracks the handle lifecycle. Transitions only move forward; Closed
// is reachable from every state and terminal.
type State int32

const (
	StateUnopened State = iota
	StateOpened
	StateMapped
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpened:
		return "opened"
	case StateMapped:
		return "mapped"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options control the attach negotiation.
type Options struct {
	ControlSocket string
	SendCapacity  uint32
	RecvCapacity  uint32
}

const (
	DefaultSendCapacity = 128 * 1024
	DefaultRecvCapacity = 256 * 1024
)

// transport abstracts the wait/doorbell mechanism and region mapping so a
// handle can be backed by the switch's shared mapping or by an in-process
// pair.
type transport interface {
	mapRegion() ([]byte, error)
	wait(timeout time.Duration) (Activity, error)
	signal() error
	close() error
}

// Handle is one attachment to a virtual switch.
type Handle struct {
	state atomic.Int32

	mu     sync.Mutex
	tr     transport
	region []byte
	hdr    *regionHeader
	send   *SendRegion
	recv   *RecvRegion

	log *slog.Logger
}

// Open attaches to the named switch and negotiates ring capacities.
// Zero capacities pick the defaults (128 KiB send, 256 KiB receive).
func Open(switchName, uplink string, opts Options) (*Handle, error) {
	if opts.SendCapacity == 0 {
		opts.SendCapacity = DefaultSendCapacity
	}
	if opts.RecvCapacity == 0 {
		opts.RecvCapacity = DefaultRecvCapacity
	}
	if opts.ControlSocket == "" {
		opts.ControlSocket = fmt.Sprintf("/run/vnet/%s.ctl", switchName)
	}

	tr, err := attachShm(switchName, uplink, opts)
	if err != nil {
		return nil, err
	}

	h := newHandle(tr)
	h.log.Info("Attached to switch",
		"switch", switchName,
		"send_capacity", opts.SendCapacity,
		"recv_capacity", opts.RecvCapacity,
	)
	return h, nil
}

func newHandle(tr transport) *Handle {
	h := &Handle{
		tr:  tr,
		log: logger.Component(logger.ComponentRing),
	}
	h.state.Store(int32(StateOpened))
	return h
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

// MapBuffers maps the shared region and returns the frame-level views.
// Must be called exactly once, after Open and before Activate.
func (h *Handle) MapBuffers() (*SendRegion, *RecvRegion, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if State(h.state.Load()) != StateOpened {
		return nil, nil, fmt.Errorf("%w: map buffers in state %s", ErrNotReady, h.State())
	}

	buf, err := h.tr.mapRegion()
	if err != nil {
		return nil, nil, err
	}
	hdr, err := mapRegion(buf)
	if err != nil {
		return nil, nil, err
	}

	// The region is laid out from the switch's point of view: its send
	// arena is our receive arena.
	sendCur, sendArena := arenaAt(buf, hdr.RecvOffset, hdr.RecvCapacity)
	recvCur, recvArena := arenaAt(buf, hdr.SendOffset, hdr.SendCapacity)

	h.region = buf
	h.hdr = hdr
	h.send = newSendRegion(sendCur, sendArena, h.tr.signal)
	h.recv = newRecvRegion(recvCur, recvArena)
	h.state.Store(int32(StateMapped))
	return h.send, h.recv, nil
}

// Activate marks the interface eligible to receive. Idempotent.
func (h *Handle) Activate() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch State(h.state.Load()) {
	case StateActive:
		return nil
	case StateMapped:
		for {
			old := atomic.LoadUint32(&h.hdr.Flags)
			if atomic.CompareAndSwapUint32(&h.hdr.Flags, old, old|flagActive) {
				break
			}
		}
		h.state.Store(int32(StateActive))
		return nil
	default:
		return fmt.Errorf("%w: activate in state %s", ErrNotReady, h.State())
	}
}

// WaitForActivity blocks until the switch rings the receive doorbell, the
// timeout expires, or the handle is closed. This is the only blocking call
// in the system. An interrupted wait reports Signalled so the caller
// re-checks the queue.
func (h *Handle) WaitForActivity(timeout time.Duration) (Activity, error) {
	switch State(h.state.Load()) {
	case StateActive:
	case StateClosed:
		return 0, ErrClosed
	default:
		return 0, fmt.Errorf("%w: wait in state %s", ErrNotReady, h.State())
	}

	act, err := h.tr.wait(timeout)
	if err != nil && State(h.state.Load()) == StateClosed {
		return 0, ErrClosed
	}
	return act, err
}

// Flush publishes committed send frames to the switch.
func (h *Handle) Flush() error {
	if h.send == nil {
		return fmt.Errorf("%w: flush in state %s", ErrNotReady, h.State())
	}
	return h.send.Flush()
}

// Close releases the handle. Best-effort, idempotent, callable from any
// state and from any goroutine; a blocked WaitForActivity returns
// ErrClosed.
func (h *Handle) Close() {
	prev := State(h.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.tr.close(); err != nil {
		h.log.Warn("Error releasing switch attachment", "error", err)
	}
	h.region = nil
	h.hdr = nil
}
