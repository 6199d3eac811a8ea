package ring

// RecvRegion is the consumer side of the ring the switch writes and the
// service reads. Single-reader: the pump goroutine owns it.
type RecvRegion struct {
	cur      cursors
	arena    []byte
	capacity uint64

	tail uint64
}

func newRecvRegion(cur cursors, arena []byte) *RecvRegion {
	return &RecvRegion{
		cur:      cur,
		arena:    arena,
		capacity: uint64(len(arena)),
		tail:     cur.loadTail(),
	}
}

// Next returns the oldest unconsumed frame without advancing the cursor,
// or (nil, nil) when the ring is drained. Calling Next again before Skip
// returns the same frame. A structurally invalid record is session-fatal.
func (r *RecvRegion) Next() (*Frame, error) {
	head := r.cur.loadHead()
	if r.tail == head {
		// Drained; re-arm the producer's doorbell so the next frame wakes
		// us.
		r.cur.storeDoorbell(0)
		return nil, nil
	}

	pos := r.tail % r.capacity
	kind, size := recordHeader(r.arena, pos)

	span := frameHeaderSize + align4(uint64(size))
	if size == 0 || span > r.capacity || r.tail+span > head {
		return nil, ErrCorrupt
	}

	start := (pos + frameHeaderSize) % r.capacity
	var payload []byte
	if start+uint64(size) <= r.capacity {
		payload = r.arena[start : start+uint64(size) : start+uint64(size)]
	} else {
		// Payload wraps the arena end; reassemble a copy.
		payload = make([]byte, size)
		n := copy(payload, r.arena[start:])
		copy(payload[n:], r.arena)
	}

	return &Frame{
		Kind:    kind,
		Payload: payload,
		off:     r.tail,
		span:    span,
	}, nil
}

// Skip acknowledges consumption of the frame Next returned and advances
// the read cursor exactly once, whether processing succeeded or not.
func (r *RecvRegion) Skip(f *Frame) error {
	if f == nil || f.off != r.tail {
		return ErrNotReady
	}
	r.tail += f.span
	r.cur.storeTail(r.tail)
	return nil
}

// Pending reports the unconsumed bytes, records included.
func (r *RecvRegion) Pending() uint64 {
	return r.cur.loadHead() - r.tail
}
