// Package gso expands offloaded super-frames into the standards-sized
// Ethernet frames they describe.
//
// An offloaded frame starts with a fixed 12-byte descriptor, followed by
// one template header and the bulk payload:
//
//	 0      2      4      6        8            12
//	+------+------+------+--------+------------+----------+---------+
//	| type | hdr  | max  | rsvd   | payload    | template | payload |
//	|      | len  | seg  |        | length     | (hdrlen) | bytes   |
//	+------+------+------+--------+------------+----------+---------+
//
// All descriptor fields are big-endian.
package gso

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/openvnet/vnetdhcpd/pkg/ethernet"
)

// ErrMalformed rejects a descriptor whose geometry is inconsistent with
// the frame that carries it. No segments are produced for such frames.
var ErrMalformed = errors.New("malformed gso frame")

// Type selects which per-segment header fields get patched.
type Type uint16

const (
	// TypeRaw carves the payload without touching the template.
	TypeRaw Type = 0
	// TypeIPv4UDP patches the IPv4 total length, identification and header
	// checksum plus the UDP length of every segment.
	TypeIPv4UDP Type = 1
	// TypeIPv4TCP patches the IPv4 fields plus the TCP sequence number,
	// and masks FIN/PSH on every segment but the last.
	TypeIPv4TCP Type = 2
)

const (
	// DescriptorSize is the fixed descriptor record length.
	DescriptorSize = 12

	// maxSegments bounds the expansion of a single super-frame.
	maxSegments = 256

	maxTemplateLen = 256
)

// Descriptor describes how a super-frame decomposes into segments.
type Descriptor struct {
	Proto      Type
	HdrLen     uint16
	MaxSegSize uint16
	PayloadLen uint32
}

// SegmentCount is ceil(PayloadLen / MaxSegSize).
func (d Descriptor) SegmentCount() int {
	return int((d.PayloadLen + uint32(d.MaxSegSize) - 1) / uint32(d.MaxSegSize))
}

// Marshal appends the wire form of the descriptor. Used by tests and by
// switch-side tooling.
func (d Descriptor) Marshal(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(d.Proto))
	b = binary.BigEndian.AppendUint16(b, d.HdrLen)
	b = binary.BigEndian.AppendUint16(b, d.MaxSegSize)
	b = binary.BigEndian.AppendUint16(b, 0)
	b = binary.BigEndian.AppendUint32(b, d.PayloadLen)
	return b
}

// parse validates the descriptor against the frame carrying it and splits
// off the template and payload.
func parse(frame []byte) (Descriptor, []byte, []byte, error) {
	if len(frame) < DescriptorSize {
		return Descriptor{}, nil, nil, fmt.Errorf("%w: %d bytes, need %d for descriptor", ErrMalformed, len(frame), DescriptorSize)
	}
	d := Descriptor{
		Proto:      Type(binary.BigEndian.Uint16(frame[0:2])),
		HdrLen:     binary.BigEndian.Uint16(frame[2:4]),
		MaxSegSize: binary.BigEndian.Uint16(frame[4:6]),
		PayloadLen: binary.BigEndian.Uint32(frame[8:12]),
	}

	switch {
	case d.Proto > TypeIPv4TCP:
		return d, nil, nil, fmt.Errorf("%w: unknown gso type %d", ErrMalformed, d.Proto)
	case d.HdrLen < ethernet.HeaderSize || d.HdrLen > maxTemplateLen:
		return d, nil, nil, fmt.Errorf("%w: template length %d", ErrMalformed, d.HdrLen)
	case d.MaxSegSize == 0:
		return d, nil, nil, fmt.Errorf("%w: zero segment size", ErrMalformed)
	case int(d.HdrLen)+int(d.MaxSegSize) > ethernet.MaxFrameSize:
		return d, nil, nil, fmt.Errorf("%w: segment frame %d exceeds %d", ErrMalformed, int(d.HdrLen)+int(d.MaxSegSize), ethernet.MaxFrameSize)
	case d.PayloadLen == 0:
		return d, nil, nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	case d.SegmentCount() > maxSegments:
		return d, nil, nil, fmt.Errorf("%w: %d segments exceeds %d", ErrMalformed, d.SegmentCount(), maxSegments)
	}

	want := DescriptorSize + int(d.HdrLen) + int(d.PayloadLen)
	if len(frame) != want {
		return d, nil, nil, fmt.Errorf("%w: frame is %d bytes, descriptor declares %d", ErrMalformed, len(frame), want)
	}

	template := frame[DescriptorSize : DescriptorSize+int(d.HdrLen)]
	payload := frame[DescriptorSize+int(d.HdrLen):]
	return d, template, payload, nil
}

// Expand reconstructs the individual Ethernet frames a super-frame
// represents. Expansion is deterministic: the same input always yields the
// same output. A malformed frame yields no segments at all.
func Expand(frame []byte) ([][]byte, error) {
	d, template, payload, err := parse(frame)
	if err != nil {
		return nil, err
	}

	segs := make([][]byte, 0, d.SegmentCount())
	remaining := payload
	var offset uint32
	for i := 0; len(remaining) > 0; i++ {
		n := int(d.MaxSegSize)
		if n > len(remaining) {
			n = len(remaining)
		}

		seg := make([]byte, 0, int(d.HdrLen)+n)
		seg = append(seg, template...)
		seg = append(seg, remaining[:n]...)
		patchSegment(d, seg, i, offset, len(remaining) == n)
		segs = append(segs, seg)

		remaining = remaining[n:]
		offset += uint32(n)
	}
	return segs, nil
}

// patchSegment stamps the per-segment header fields the template cannot
// carry. Patches are best-effort against a template too short for the
// declared protocol; bounds are re-checked so a lying descriptor cannot
// read outside the segment.
func patchSegment(d Descriptor, seg []byte, index int, offset uint32, last bool) {
	if d.Proto == TypeRaw {
		return
	}

	ipOff := ethernet.HeaderSize
	if len(seg) < ipOff+20 {
		return
	}
	ip := seg[ipOff:]
	ihl := int(ip[0]&0x0f) * 4
	if ihl < 20 || len(seg) < ipOff+ihl {
		return
	}

	// Total length covers the IP header through the end of this segment.
	binary.BigEndian.PutUint16(ip[2:4], uint16(len(seg)-ipOff))
	// Each segment gets a distinct identification.
	id := binary.BigEndian.Uint16(ip[4:6])
	binary.BigEndian.PutUint16(ip[4:6], id+uint16(index))
	ip[10], ip[11] = 0, 0
	binary.BigEndian.PutUint16(ip[10:12], ipv4Checksum(ip[:ihl]))

	l4 := seg[ipOff+ihl:]
	switch d.Proto {
	case TypeIPv4UDP:
		if len(l4) >= 8 {
			binary.BigEndian.PutUint16(l4[4:6], uint16(len(l4)))
			// The template's checksum covered the whole super-frame and is
			// wrong for every segment; zero means "no checksum" for UDP
			// over IPv4.
			l4[6], l4[7] = 0, 0
		}
	case TypeIPv4TCP:
		if len(l4) >= 20 {
			seq := binary.BigEndian.Uint32(l4[4:8])
			binary.BigEndian.PutUint32(l4[4:8], seq+offset)
			if !last {
				// FIN and PSH belong to the final segment only.
				l4[13] &^= 0x09
			}
		}
	}
}

func ipv4Checksum(hdr []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(hdr[i])<<8 | uint32(hdr[i+1])
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
