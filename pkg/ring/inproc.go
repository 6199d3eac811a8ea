package ring

import (
	"sync"
	"time"
)

// OpenInproc builds a handle backed by process memory together with a Peer
// standing in for the switch side. Used by tests and by embedding a switch
// in the same process; multiple independent pairs can coexist.
func OpenInproc(sendCap, recvCap uint32) (*Handle, *Peer, error) {
	if sendCap == 0 {
		sendCap = DefaultSendCapacity
	}
	if recvCap == 0 {
		recvCap = DefaultRecvCapacity
	}

	buf := make([]byte, regionSize(recvCap, sendCap))
	// From the switch's point of view its send arena is the service's
	// receive arena, so the region is laid out with recvCap first.
	if err := initRegion(buf, recvCap, sendCap); err != nil {
		return nil, nil, err
	}

	tr := &inprocTransport{
		region:   buf,
		recvBell: make(chan struct{}, 1),
		sendBell: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}

	hdr, err := mapRegion(buf)
	if err != nil {
		return nil, nil, err
	}

	peerSendCur, peerSendArena := arenaAt(buf, hdr.SendOffset, hdr.SendCapacity)
	peerRecvCur, peerRecvArena := arenaAt(buf, hdr.RecvOffset, hdr.RecvCapacity)

	peer := &Peer{
		send: newSendRegion(peerSendCur, peerSendArena, tr.ringRecvBell),
		recv: newRecvRegion(peerRecvCur, peerRecvArena),
	}

	return newHandle(tr), peer, nil
}

type inprocTransport struct {
	region   []byte
	recvBell chan struct{} // switch → service
	sendBell chan struct{} // service → switch

	closeOnce sync.Once
	closed    chan struct{}
}

func (t *inprocTransport) mapRegion() ([]byte, error) {
	return t.region, nil
}

func (t *inprocTransport) wait(timeout time.Duration) (Activity, error) {
	if timeout < 0 {
		select {
		case <-t.recvBell:
			return Signalled, nil
		case <-t.closed:
			return 0, ErrClosed
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.recvBell:
		return Signalled, nil
	case <-t.closed:
		return 0, ErrClosed
	case <-timer.C:
		return TimedOut, nil
	}
}

func (t *inprocTransport) signal() error {
	select {
	case t.sendBell <- struct{}{}:
	default:
	}
	return nil
}

func (t *inprocTransport) ringRecvBell() error {
	select {
	case t.recvBell <- struct{}{}:
	default:
	}
	return nil
}

func (t *inprocTransport) close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Peer drives the switch side of an in-process pair.
type Peer struct {
	send *SendRegion
	recv *RecvRegion
}

// Inject places one frame in the service's receive ring and rings its
// doorbell.
func (p *Peer) Inject(kind Kind, payload []byte) error {
	wf, err := p.send.Allocate(kind, len(payload))
	if err != nil {
		return err
	}
	copy(wf.Bytes, payload)
	if err := p.send.Commit(wf); err != nil {
		return err
	}
	return p.send.Flush()
}

// SentFrame is a frame the service committed and flushed, copied out of
// the arena.
type SentFrame struct {
	Kind    Kind
	Payload []byte
}

// Drain consumes everything the service has flushed to its send ring.
func (p *Peer) Drain() ([]SentFrame, error) {
	var out []SentFrame
	for {
		f, err := p.recv.Next()
		if err != nil {
			return out, err
		}
		if f == nil {
			return out, nil
		}
		out = append(out, SentFrame{Kind: f.Kind, Payload: append([]byte(nil), f.Payload...)})
		if err := p.recv.Skip(f); err != nil {
			return out, err
		}
	}
}
