package lease

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"
)

var (
	ErrPoolExhausted   = errors.New("pool exhausted")
	ErrAlreadyReserved = errors.New("address already reserved")
	ErrNotInPool       = errors.New("address not in pool range")
)

type binding struct {
	key     string
	expires time.Time
}

// Pool hands out IPv4 addresses from [rangeStart, rangeEnd], skipping
// excluded addresses. Bindings are sticky: the same client key gets its
// previous address back while the binding lives, and expired bindings are
// reclaimed lazily on the next pass over the range.
type Pool struct {
	rangeStart netip.Addr
	rangeEnd   netip.Addr
	excluded   map[netip.Addr]bool
	bindings   map[netip.Addr]binding
	byClient   map[string]netip.Addr
	mu         sync.Mutex
}

func NewPool(rangeStart, rangeEnd netip.Addr, excludeAddrs []netip.Addr) *Pool {
	excluded := make(map[netip.Addr]bool, len(excludeAddrs))
	for _, addr := range excludeAddrs {
		excluded[addr.Unmap()] = true
	}
	return &Pool{
		rangeStart: rangeStart.Unmap(),
		rangeEnd:   rangeEnd.Unmap(),
		excluded:   excluded,
		bindings:   make(map[netip.Addr]binding),
		byClient:   make(map[string]netip.Addr),
	}
}

// Allocate returns the client's existing address when one is bound,
// otherwise the first free address in the range. The binding is renewed
// to expire at the given deadline either way.
func (p *Pool) Allocate(key string, now, expires time.Time) (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if addr, ok := p.byClient[key]; ok {
		p.bind(addr, key, expires)
		return net.IP(addr.AsSlice()), nil
	}

	for addr := p.rangeStart; addr.Compare(p.rangeEnd) <= 0; addr = addr.Next() {
		if p.excluded[addr] {
			continue
		}
		if b, used := p.bindings[addr]; used && b.expires.After(now) {
			continue
		}
		p.bind(addr, key, expires)
		return net.IP(addr.AsSlice()), nil
	}
	return nil, ErrPoolExhausted
}

// Reserve binds a specific address to the client, failing when another
// client holds a live binding on it.
func (p *Pool) Reserve(ip net.IP, key string, now, expires time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	addr, ok := addrOf(ip)
	if !ok || !p.contains(addr) {
		return ErrNotInPool
	}
	if b, exists := p.bindings[addr]; exists && b.key != key && b.expires.After(now) {
		return ErrAlreadyReserved
	}
	p.bind(addr, key, expires)
	return nil
}

// Release drops the client's binding on the address, if it holds one.
func (p *Pool) Release(ip net.IP, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	addr, ok := addrOf(ip)
	if !ok {
		return
	}
	if b, exists := p.bindings[addr]; exists && b.key == key {
		p.unbind(addr)
	}
}

// Exclude takes the address out of circulation, breaking any binding on
// it. Used for DHCPDECLINE: the client claims the address is in use by
// someone the pool doesn't know about.
func (p *Pool) Exclude(ip net.IP) {
	p.mu.Lock()
	defer p.mu.Unlock()

	addr, ok := addrOf(ip)
	if !ok {
		return
	}
	p.unbind(addr)
	p.excluded[addr] = true
}

// Contains reports whether the address falls inside the pool range,
// excluded or not.
func (p *Pool) Contains(ip net.IP) bool {
	addr, ok := addrOf(ip)
	if !ok {
		return false
	}
	return p.contains(addr)
}

func (p *Pool) contains(addr netip.Addr) bool {
	return addr.Compare(p.rangeStart) >= 0 && addr.Compare(p.rangeEnd) <= 0
}

// Lookup reports the address currently bound to the client.
func (p *Pool) Lookup(key string, now time.Time) (net.IP, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	addr, ok := p.byClient[key]
	if !ok {
		return nil, false
	}
	if b := p.bindings[addr]; !b.expires.After(now) {
		return nil, false
	}
	return net.IP(addr.AsSlice()), true
}

// Available counts free addresses in the range.
func (p *Pool) Available(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for addr := p.rangeStart; addr.Compare(p.rangeEnd) <= 0; addr = addr.Next() {
		if p.excluded[addr] {
			continue
		}
		if b, used := p.bindings[addr]; used && b.expires.After(now) {
			continue
		}
		count++
	}
	return count
}

func (p *Pool) bind(addr netip.Addr, key string, expires time.Time) {
	if prev, ok := p.byClient[key]; ok && prev != addr {
		delete(p.bindings, prev)
	}
	if old, ok := p.bindings[addr]; ok && old.key != key {
		delete(p.byClient, old.key)
	}
	p.bindings[addr] = binding{key: key, expires: expires}
	p.byClient[key] = addr
}

func (p *Pool) unbind(addr netip.Addr) {
	if b, ok := p.bindings[addr]; ok {
		delete(p.byClient, b.key)
		delete(p.bindings, addr)
	}
}

func addrOf(ip net.IP) (netip.Addr, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(v4)
	return addr.Unmap(), ok
}
