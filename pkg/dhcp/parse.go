package dhcp

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/openvnet/vnetdhcpd/pkg/ethernet"
)

// Parse decodes one UDP payload into a structured request. wasBroadcast
// records how the packet was delivered; it does not change parsing.
// Every failure wraps ErrMalformed and must be handled by dropping the
// packet, never by aborting the service.
func Parse(payload []byte, wasBroadcast bool) (*RequestMessage, error) {
	if len(payload) < MinMessageSize+4 {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrMalformed, len(payload), MinMessageSize+4)
	}

	op := payload[0]
	if op != OpRequest && op != OpReply {
		return nil, fmt.Errorf("%w: opcode %d", ErrMalformed, op)
	}
	htype, hlen := payload[1], payload[2]
	if htype != 1 || hlen != ethernet.AddrLen {
		return nil, fmt.Errorf("%w: hardware type %d/%d", ErrMalformed, htype, hlen)
	}

	if cookie := binary.BigEndian.Uint32(payload[236:240]); cookie != MagicCookie {
		return nil, fmt.Errorf("%w: magic cookie %#x", ErrMalformed, cookie)
	}

	m := &RequestMessage{
		Op:           op,
		XID:          binary.BigEndian.Uint32(payload[4:8]),
		Secs:         binary.BigEndian.Uint16(payload[8:10]),
		Flags:        binary.BigEndian.Uint16(payload[10:12]),
		ClientIP:     ipv4At(payload, 12),
		YourIP:       ipv4At(payload, 16),
		ServerIP:     ipv4At(payload, 20),
		RelayIP:      ipv4At(payload, 24),
		HardwareAddr: append(net.HardwareAddr(nil), payload[28:28+ethernet.AddrLen]...),
		Options:      make(map[uint8][]byte),
		WasBroadcast: wasBroadcast,
	}

	if err := parseOptions(payload[240:], m.Options); err != nil {
		return nil, err
	}

	if v, ok := m.Options[OptMessageType]; ok && len(v) == 1 {
		m.Type = MessageType(v[0])
	}
	if v, ok := m.Options[OptRequestedIP]; ok && len(v) == 4 {
		m.RequestedIP = append(net.IP(nil), v...)
	}
	if v, ok := m.Options[OptServerID]; ok && len(v) == 4 {
		m.ServerID = append(net.IP(nil), v...)
	}
	if v, ok := m.Options[OptHostname]; ok {
		m.Hostname = string(v)
	}

	m.Identity = NewClientID(m.Options[OptClientID], m.HardwareAddr)

	return m, nil
}

// parseOptions walks the TLV region. Truncated options are malformed; a
// duplicated code keeps its first value.
func parseOptions(b []byte, out map[uint8][]byte) error {
	i := 0
	for i < len(b) {
		code := b[i]
		switch code {
		case OptPad:
			i++
			continue
		case OptEnd:
			return nil
		}
		if i+1 >= len(b) {
			return fmt.Errorf("%w: option %d missing length", ErrMalformed, code)
		}
		length := int(b[i+1])
		if i+2+length > len(b) {
			return fmt.Errorf("%w: option %d truncated", ErrMalformed, code)
		}
		if _, dup := out[code]; !dup {
			out[code] = append([]byte(nil), b[i+2:i+2+length]...)
		}
		i += 2 + length
	}
	return fmt.Errorf("%w: options not terminated", ErrMalformed)
}

func ipv4At(b []byte, off int) net.IP {
	return append(net.IP(nil), b[off:off+4]...)
}
