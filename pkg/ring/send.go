package ring

// SendRegion is the producer side of the ring the service writes and the
// switch reads. Single-writer: the pump goroutine owns it.
type SendRegion struct {
	cur      cursors
	arena    []byte
	capacity uint64

	head    uint64 // committed but possibly unpublished
	pending uint64 // span of the outstanding allocation, 0 if none

	doorbell func() error
}

func newSendRegion(cur cursors, arena []byte, doorbell func() error) *SendRegion {
	return &SendRegion{
		cur:      cur,
		arena:    arena,
		capacity: uint64(len(arena)),
		head:     cur.loadHead(),
		doorbell: doorbell,
	}
}

// WritableFrame is an allocated, not yet committed frame. Callers fill
// Bytes and then Commit. Bytes is a direct arena view unless the payload
// wraps the arena end, in which case Commit copies it across the seam.
type WritableFrame struct {
	Kind  Kind
	Bytes []byte

	span   uint64
	staged bool
	start  uint64 // payload start position, staged case only
}

// Allocate reserves space for one frame. It fails with ErrOutOfSpace when
// the peer has not drained enough of the ring, in which case the caller
// drops the frame; it must not wait for space.
func (s *SendRegion) Allocate(kind Kind, size int) (*WritableFrame, error) {
	if s.pending != 0 {
		return nil, ErrNotReady
	}
	if size <= 0 || size > MaxFramePayload {
		return nil, ErrFrameSize
	}

	span := frameHeaderSize + align4(uint64(size))
	if span > s.capacity {
		return nil, ErrFrameSize
	}

	free := s.capacity - (s.head - s.cur.loadTail())
	if span > free {
		return nil, ErrOutOfSpace
	}

	pos := s.head % s.capacity
	putRecordHeader(s.arena, pos, kind, uint16(size))
	s.pending = span

	start := (pos + frameHeaderSize) % s.capacity
	if start+uint64(size) <= s.capacity {
		return &WritableFrame{
			Kind:  kind,
			Bytes: s.arena[start : start+uint64(size) : start+uint64(size)],
			span:  span,
		}, nil
	}

	// Payload wraps the arena end; stage it and copy on commit.
	return &WritableFrame{
		Kind:   kind,
		Bytes:  make([]byte, size),
		span:   span,
		staged: true,
		start:  start,
	}, nil
}

// Commit finalizes the outstanding allocation. The frame becomes visible
// to the switch on the next Flush.
func (s *SendRegion) Commit(f *WritableFrame) error {
	if f == nil || s.pending == 0 || f.span != s.pending {
		return ErrNotReady
	}
	if f.staged {
		n := copy(s.arena[f.start:], f.Bytes)
		copy(s.arena, f.Bytes[n:])
	}
	s.head += f.span
	s.pending = 0
	return nil
}

// Flush publishes every committed frame and rings the switch doorbell once
// per quiet period. Call after each commit batch.
func (s *SendRegion) Flush() error {
	s.cur.storeHead(s.head)
	if s.cur.casDoorbell(0, 1) {
		return s.doorbell()
	}
	return nil
}

// Free reports the bytes available for new records, pending allocation
// included.
func (s *SendRegion) Free() uint64 {
	return s.capacity - (s.head + s.pending - s.cur.loadTail())
}
