package netstack

import "sync"

const defaultPoolBuffers = 512

// bufferPool is the stack's fixed-size buffer pool. Exhaustion is the
// stack's backpressure signal; callers drop and count, they never wait.
type bufferPool struct {
	mu      sync.Mutex
	bufSize int
	free    [][]byte
}

func newBufferPool(count, bufSize int) *bufferPool {
	p := &bufferPool{
		bufSize: bufSize,
		free:    make([][]byte, count),
	}
	for i := range p.free {
		p.free[i] = make([]byte, bufSize)
	}
	return p
}

// get returns a buffer sliced to n bytes, or ErrAllocation when the pool
// is empty or n exceeds the pool's buffer size.
func (p *bufferPool) get(n int) ([]byte, error) {
	if n > p.bufSize {
		return nil, ErrAllocation
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, ErrAllocation
	}
	buf := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return buf[:n], nil
}

func (p *bufferPool) put(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf[:cap(buf)])
}
