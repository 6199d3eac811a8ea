// Package ring attaches to a virtual switch through a pair of
// single-producer/single-consumer byte rings in a shared memory region.
//
// Each ring is a fixed-capacity byte arena. Frames are stored as a 4-byte
// record header (kind, payload length) followed by the payload, padded to
// 4-byte alignment. Record headers are always contiguous; a payload may
// wrap the arena end and is copied across the seam. Cursors are
// free-running 64-bit counters; position is cursor modulo capacity.
// Frames are exposed to callers as bounds-checked views into the arena,
// never as raw pointers.
package ring

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	regionMagic   = 0x564e455452494e47 // "VNETRING"
	regionVersion = 1

	flagActive = 1 << 0

	frameHeaderSize = 4
	frameAlign      = 4

	// MaxFramePayload is the largest single frame the record format can
	// carry.
	MaxFramePayload = 65535
)

// Kind tags a frame record in the ring.
type Kind uint16

const (
	// KindData is a raw Ethernet frame.
	KindData Kind = 0x0001
	// KindGSO is a segmentation descriptor followed by a template header
	// and a bulk payload.
	KindGSO Kind = 0x0002
)

type regionHeader struct {
	Magic        uint64
	Version      uint32
	Flags        uint32
	SendOffset   uint32
	SendCapacity uint32
	RecvOffset   uint32
	RecvCapacity uint32
	Reserved     [32]byte
}

type ringHeader struct {
	Head            uint64
	Tail            uint64
	DoorbellPending uint32
	Reserved        [44]byte
}

var (
	_ [64]byte = [unsafe.Sizeof(regionHeader{})]byte{}
	_ [64]byte = [unsafe.Sizeof(ringHeader{})]byte{}
)

// cursors wraps a shared ring header with atomic access. The switch and the
// service each own exactly one side of every cursor.
type cursors struct {
	hdr *ringHeader
}

func (c cursors) loadHead() uint64  { return atomic.LoadUint64(&c.hdr.Head) }
func (c cursors) loadTail() uint64  { return atomic.LoadUint64(&c.hdr.Tail) }
func (c cursors) storeHead(v uint64) { atomic.StoreUint64(&c.hdr.Head, v) }
func (c cursors) storeTail(v uint64) { atomic.StoreUint64(&c.hdr.Tail, v) }

func (c cursors) storeDoorbell(v uint32) { atomic.StoreUint32(&c.hdr.DoorbellPending, v) }
func (c cursors) casDoorbell(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&c.hdr.DoorbellPending, old, new)
}

// Frame is one received frame: a view into the receive arena, valid until
// the frame is skipped.
type Frame struct {
	Kind    Kind
	Payload []byte

	off  uint64
	span uint64
}

func align4(n uint64) uint64 {
	return (n + frameAlign - 1) &^ (frameAlign - 1)
}

func putRecordHeader(arena []byte, pos uint64, kind Kind, size uint16) {
	binary.LittleEndian.PutUint16(arena[pos:], uint16(kind))
	binary.LittleEndian.PutUint16(arena[pos+2:], size)
}

func recordHeader(arena []byte, pos uint64) (Kind, uint16) {
	return Kind(binary.LittleEndian.Uint16(arena[pos:])), binary.LittleEndian.Uint16(arena[pos+2:])
}

// regionSize is the shared mapping size for the given arena capacities.
func regionSize(sendCap, recvCap uint32) int {
	return int(unsafe.Sizeof(regionHeader{})) +
		2*int(unsafe.Sizeof(ringHeader{})) +
		int(sendCap) + int(recvCap)
}

// initRegion lays out headers and arenas in buf. Only the switch side (or
// the in-process pair) initializes a region; a client maps and validates.
func initRegion(buf []byte, sendCap, recvCap uint32) error {
	if len(buf) < regionSize(sendCap, recvCap) {
		return fmt.Errorf("%w: region buffer too small", ErrConnect)
	}
	hdr := (*regionHeader)(unsafe.Pointer(&buf[0]))
	*hdr = regionHeader{
		Magic:        regionMagic,
		Version:      regionVersion,
		SendOffset:   uint32(unsafe.Sizeof(regionHeader{})),
		SendCapacity: sendCap,
		RecvOffset:   uint32(unsafe.Sizeof(regionHeader{})) + uint32(unsafe.Sizeof(ringHeader{})) + sendCap,
		RecvCapacity: recvCap,
	}
	*(*ringHeader)(unsafe.Pointer(&buf[hdr.SendOffset])) = ringHeader{}
	*(*ringHeader)(unsafe.Pointer(&buf[hdr.RecvOffset])) = ringHeader{}
	return nil
}

// mapRegion validates a shared region and returns its header. The caller
// picks which arena is its send side.
func mapRegion(buf []byte) (*regionHeader, error) {
	if len(buf) < int(unsafe.Sizeof(regionHeader{})) {
		return nil, fmt.Errorf("%w: region too small (%d bytes)", ErrConnect, len(buf))
	}
	hdr := (*regionHeader)(unsafe.Pointer(&buf[0]))
	if hdr.Magic != regionMagic {
		return nil, fmt.Errorf("%w: bad region magic %#x", ErrConnect, hdr.Magic)
	}
	if hdr.Version != regionVersion {
		return nil, fmt.Errorf("%w: region version %d, want %d", ErrConnect, hdr.Version, regionVersion)
	}
	if hdr.SendCapacity%frameAlign != 0 || hdr.RecvCapacity%frameAlign != 0 ||
		hdr.SendCapacity < 2*frameHeaderSize || hdr.RecvCapacity < 2*frameHeaderSize {
		return nil, fmt.Errorf("%w: bad arena capacities %d/%d", ErrConnect, hdr.SendCapacity, hdr.RecvCapacity)
	}
	if regionSize(hdr.SendCapacity, hdr.RecvCapacity) > len(buf) {
		return nil, fmt.Errorf("%w: arenas exceed mapping", ErrConnect)
	}
	return hdr, nil
}

// arenaAt returns the ring header and arena for one side of the region.
func arenaAt(buf []byte, off, capacity uint32) (cursors, []byte) {
	hdr := (*ringHeader)(unsafe.Pointer(&buf[off]))
	start := uint64(off) + uint64(unsafe.Sizeof(ringHeader{}))
	return cursors{hdr: hdr}, buf[start : start+uint64(capacity) : start+uint64(capacity)]
}
