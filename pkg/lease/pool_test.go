package lease

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"
)

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func newTestPool(start, end string, exclude ...string) *Pool {
	var excl []netip.Addr
	for _, e := range exclude {
		excl = append(excl, netip.MustParseAddr(e))
	}
	return NewPool(netip.MustParseAddr(start), netip.MustParseAddr(end), excl)
}

func TestPoolAllocateFirst(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.10")
	ip, err := p.Allocate("c1", t0, t1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ip.Equal(net.ParseIP("10.0.0.1")) {
		t.Fatalf("got %v, want 10.0.0.1", ip)
	}
}

func TestPoolAllocateSticky(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.10")
	ip1, _ := p.Allocate("c1", t0, t1)
	ip2, err := p.Allocate("c1", t0, t1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ip2.Equal(ip1) {
		t.Fatalf("repeat allocate got %v, want sticky %v", ip2, ip1)
	}
}

func TestPoolAllocateSequential(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.10")
	ip1, _ := p.Allocate("c1", t0, t1)
	ip2, _ := p.Allocate("c2", t0, t1)
	if !ip1.Equal(net.ParseIP("10.0.0.1")) {
		t.Fatalf("first got %v, want 10.0.0.1", ip1)
	}
	if !ip2.Equal(net.ParseIP("10.0.0.2")) {
		t.Fatalf("second got %v, want 10.0.0.2", ip2)
	}
}

func TestPoolAllocateExhausted(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.2")
	p.Allocate("c1", t0, t1)
	p.Allocate("c2", t0, t1)
	_, err := p.Allocate("c3", t0, t1)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("got %v, want ErrPoolExhausted", err)
	}
}

func TestPoolReclaimsExpired(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.1")
	ip1, _ := p.Allocate("c1", t0, t0.Add(time.Minute))
	later := t0.Add(2 * time.Minute)
	ip2, err := p.Allocate("c2", later, later.Add(time.Minute))
	if err != nil {
		t.Fatalf("expired binding not reclaimed: %v", err)
	}
	if !ip2.Equal(ip1) {
		t.Fatalf("got %v, want reclaimed %v", ip2, ip1)
	}
}

func TestPoolReleaseAndReallocate(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.2")
	ip1, _ := p.Allocate("c1", t0, t1)
	p.Allocate("c2", t0, t1)
	p.Release(ip1, "c1")
	ip3, err := p.Allocate("c3", t0, t1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ip3.Equal(ip1) {
		t.Fatalf("got %v, want %v", ip3, ip1)
	}
}

func TestPoolReleaseWrongClientIgnored(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.5")
	ip, _ := p.Allocate("c1", t0, t1)
	p.Release(ip, "c2")
	if got, ok := p.Lookup("c1", t0); !ok || !got.Equal(ip) {
		t.Fatalf("binding lost to foreign release: got %v ok=%v", got, ok)
	}
}

func TestPoolReserveFreshAddress(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.5")
	before := p.Available(t0)
	if err := p.Reserve(net.ParseIP("10.0.0.3"), "c1", t0, t1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after := p.Available(t0); after != before-1 {
		t.Fatalf("available = %d, want %d", after, before-1)
	}
}

func TestPoolReserveSameClient(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.5")
	p.Reserve(net.ParseIP("10.0.0.3"), "c1", t0, t1)
	if err := p.Reserve(net.ParseIP("10.0.0.3"), "c1", t0, t1); err != nil {
		t.Fatalf("re-reserve same client should be nil, got %v", err)
	}
}

func TestPoolReserveConflict(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.5")
	p.Reserve(net.ParseIP("10.0.0.3"), "c1", t0, t1)
	err := p.Reserve(net.ParseIP("10.0.0.3"), "c2", t0, t1)
	if !errors.Is(err, ErrAlreadyReserved) {
		t.Fatalf("got %v, want ErrAlreadyReserved", err)
	}
}

func TestPoolReserveOutOfRange(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.5")
	err := p.Reserve(net.ParseIP("10.0.1.1"), "c1", t0, t1)
	if !errors.Is(err, ErrNotInPool) {
		t.Fatalf("got %v, want ErrNotInPool", err)
	}
}

func TestPoolContains(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.10")
	if !p.Contains(net.ParseIP("10.0.0.1")) || !p.Contains(net.ParseIP("10.0.0.10")) {
		t.Fatal("range boundaries must be contained")
	}
	if p.Contains(net.ParseIP("10.0.0.0")) || p.Contains(net.ParseIP("10.0.0.11")) {
		t.Fatal("addresses outside the range must not be contained")
	}
	if p.Contains(nil) {
		t.Fatal("nil IP must not be contained")
	}
}

func TestPoolExcludeAddresses(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.5", "10.0.0.2", "10.0.0.4")
	if p.Available(t0) != 3 {
		t.Fatalf("available = %d, want 3", p.Available(t0))
	}
	ip1, _ := p.Allocate("c1", t0, t1)
	ip2, _ := p.Allocate("c2", t0, t1)
	ip3, _ := p.Allocate("c3", t0, t1)
	if !ip1.Equal(net.ParseIP("10.0.0.1")) || !ip2.Equal(net.ParseIP("10.0.0.3")) || !ip3.Equal(net.ParseIP("10.0.0.5")) {
		t.Fatalf("got %v %v %v, want 10.0.0.1 10.0.0.3 10.0.0.5", ip1, ip2, ip3)
	}
	if _, err := p.Allocate("c4", t0, t1); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("got %v, want ErrPoolExhausted", err)
	}
}

func TestPoolDeclineExcludes(t *testing.T) {
	p := newTestPool("10.0.0.1", "10.0.0.2")
	ip1, _ := p.Allocate("c1", t0, t1)
	p.Exclude(ip1)
	if _, ok := p.Lookup("c1", t0); ok {
		t.Fatal("exclusion should break the binding")
	}
	ip2, err := p.Allocate("c1", t0, t1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip2.Equal(ip1) {
		t.Fatalf("excluded address %v handed out again", ip1)
	}
}
