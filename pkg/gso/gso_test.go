package gso

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildFrame(t *testing.T, d Descriptor, template, payload []byte) []byte {
	t.Helper()
	frame := d.Marshal(nil)
	frame = append(frame, template...)
	frame = append(frame, payload...)
	return frame
}

func rawTemplate() []byte {
	tmpl := make([]byte, 14)
	copy(tmpl[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(tmpl[6:12], []byte{0x52, 0x54, 0x00, 0x01, 0x02, 0x03})
	binary.BigEndian.PutUint16(tmpl[12:14], 0x0800)
	return tmpl
}

func patternPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func TestExpandExactMultiple(t *testing.T) {
	payload := patternPayload(3000)
	frame := buildFrame(t, Descriptor{Proto: TypeRaw, HdrLen: 14, MaxSegSize: 1500, PayloadLen: 3000}, rawTemplate(), payload)

	segs, err := Expand(frame)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Len(t, segs[0], 14+1500)
	require.Len(t, segs[1], 14+1500)
}

func TestExpandWithRemainder(t *testing.T) {
	payload := patternPayload(3001)
	frame := buildFrame(t, Descriptor{Proto: TypeRaw, HdrLen: 14, MaxSegSize: 1500, PayloadLen: 3001}, rawTemplate(), payload)

	segs, err := Expand(frame)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	require.Len(t, segs[0], 14+1500)
	require.Len(t, segs[1], 14+1500)
	require.Len(t, segs[2], 14+1)
}

func TestExpandRoundTrip(t *testing.T) {
	payload := patternPayload(4242)
	frame := buildFrame(t, Descriptor{Proto: TypeRaw, HdrLen: 14, MaxSegSize: 999, PayloadLen: 4242}, rawTemplate(), payload)

	segs, err := Expand(frame)
	require.NoError(t, err)

	var joined []byte
	for _, seg := range segs {
		require.True(t, bytes.Equal(seg[:14], rawTemplate()), "template must prefix every segment")
		require.LessOrEqual(t, len(seg), 14+999)
		joined = append(joined, seg[14:]...)
	}
	require.True(t, bytes.Equal(joined, payload), "concatenated segments must reproduce the payload")
}

func TestExpandIsDeterministic(t *testing.T) {
	frame := buildFrame(t, Descriptor{Proto: TypeRaw, HdrLen: 14, MaxSegSize: 100, PayloadLen: 512}, rawTemplate(), patternPayload(512))

	a, err := Expand(frame)
	require.NoError(t, err)
	b, err := Expand(frame)
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestExpandRejectsMalformed(t *testing.T) {
	tmpl := rawTemplate()
	cases := map[string][]byte{
		"truncated descriptor": {0, 1, 0, 14},
		"declared length exceeds frame": buildFrame(t,
			Descriptor{Proto: TypeRaw, HdrLen: 14, MaxSegSize: 1500, PayloadLen: 9000}, tmpl, patternPayload(100)),
		"frame longer than declared": buildFrame(t,
			Descriptor{Proto: TypeRaw, HdrLen: 14, MaxSegSize: 1500, PayloadLen: 10}, tmpl, patternPayload(100)),
		"template does not fit": buildFrame(t,
			Descriptor{Proto: TypeRaw, HdrLen: 300, MaxSegSize: 100, PayloadLen: 10}, tmpl, patternPayload(10)),
		"zero segment size": buildFrame(t,
			Descriptor{Proto: TypeRaw, HdrLen: 14, MaxSegSize: 0, PayloadLen: 10}, tmpl, patternPayload(10)),
		"unknown type": buildFrame(t,
			Descriptor{Proto: Type(9), HdrLen: 14, MaxSegSize: 100, PayloadLen: 10}, tmpl, patternPayload(10)),
		"oversized segment frame": buildFrame(t,
			Descriptor{Proto: TypeRaw, HdrLen: 100, MaxSegSize: 1500, PayloadLen: 10}, tmpl, patternPayload(10)),
	}

	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			segs, err := Expand(frame)
			require.ErrorIs(t, err, ErrMalformed)
			require.Empty(t, segs, "malformed frames must yield zero segments")
		})
	}
}

// udpTemplate is an Ethernet+IPv4+UDP header whose length fields describe
// the super-frame, to be re-stamped per segment.
func udpTemplate() []byte {
	tmpl := make([]byte, 42)
	copy(tmpl, rawTemplate())
	ip := tmpl[14:]
	ip[0] = 0x45
	ip[8] = 64
	ip[9] = 17
	copy(ip[12:16], []byte{10, 0, 2, 15})
	copy(ip[16:20], []byte{10, 0, 2, 2})
	udp := tmpl[34:]
	binary.BigEndian.PutUint16(udp[0:2], 5000)
	binary.BigEndian.PutUint16(udp[2:4], 5001)
	// Stale checksum computed over the original super-frame.
	binary.BigEndian.PutUint16(udp[6:8], 0xbeef)
	return tmpl
}

func TestExpandPatchesIPv4UDPHeaders(t *testing.T) {
	payload := patternPayload(2000)
	frame := buildFrame(t, Descriptor{Proto: TypeIPv4UDP, HdrLen: 42, MaxSegSize: 1200, PayloadLen: 2000}, udpTemplate(), payload)

	segs, err := Expand(frame)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	for i, seg := range segs {
		ip := seg[14:]
		wantTotal := uint16(len(seg) - 14)
		require.Equal(t, wantTotal, binary.BigEndian.Uint16(ip[2:4]), "segment %d IPv4 total length", i)
		require.Equal(t, uint16(i), binary.BigEndian.Uint16(ip[4:6]), "segment %d IPv4 identification", i)

		// Header checksum must validate.
		require.Equal(t, uint16(0xffff), checksumOK(ip[:20]), "segment %d IPv4 checksum", i)

		udp := seg[34:]
		require.Equal(t, uint16(len(seg)-34), binary.BigEndian.Uint16(udp[4:6]), "segment %d UDP length", i)
		// The template checksum covered the super-frame; segments must
		// carry the UDP/IPv4 "no checksum" marker instead of a stale one.
		require.Equal(t, uint16(0), binary.BigEndian.Uint16(udp[6:8]), "segment %d UDP checksum", i)
	}
}

// checksumOK returns 0xffff when the ones-complement sum over the header
// (checksum field included) is valid.
func checksumOK(hdr []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(hdr[i])<<8 | uint32(hdr[i+1])
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}
