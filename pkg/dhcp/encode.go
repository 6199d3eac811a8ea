package dhcp

import (
	"encoding/binary"
	"net"
	"sort"

	"github.com/openvnet/vnetdhcpd/pkg/ethernet"
)

// Encode serializes a reply into a well-formed, minimum-padded DHCP
// message: fixed BOOTREPLY header, magic cookie, options in a fixed order
// (message type, server id, lease, netmask, routers, dns, extras by
// ascending code), end marker, padded to 300 bytes.
func Encode(r *ReplyMessage) []byte {
	buf := make([]byte, MinMessageSize, MinEncodedSize)

	buf[0] = OpReply
	buf[1] = 1 // Ethernet
	buf[2] = ethernet.AddrLen
	binary.BigEndian.PutUint32(buf[4:8], r.XID)
	binary.BigEndian.PutUint16(buf[10:12], r.Flags)
	putIPv4(buf[16:20], r.YourIP)
	putIPv4(buf[20:24], r.ServerID)
	copy(buf[28:28+ethernet.AddrLen], r.HardwareAddr)

	buf = binary.BigEndian.AppendUint32(buf, MagicCookie)

	if r.Type != 0 {
		buf = appendOption(buf, OptMessageType, []byte{byte(r.Type)})
	}
	if ip := r.ServerID.To4(); ip != nil {
		buf = appendOption(buf, OptServerID, ip)
	}
	if r.LeaseTime > 0 {
		var lease [4]byte
		binary.BigEndian.PutUint32(lease[:], uint32(r.LeaseTime.Seconds()))
		buf = appendOption(buf, OptLeaseTime, lease[:])
	}
	if len(r.Netmask) == 4 {
		buf = appendOption(buf, OptSubnetMask, r.Netmask)
	}
	if v := packIPv4s(r.Routers); v != nil {
		buf = appendOption(buf, OptRouter, v)
	}
	if v := packIPv4s(r.DNS); v != nil {
		buf = appendOption(buf, OptDNS, v)
	}

	codes := make([]int, 0, len(r.Extra))
	for code := range r.Extra {
		codes = append(codes, int(code))
	}
	sort.Ints(codes)
	for _, code := range codes {
		buf = appendOption(buf, uint8(code), r.Extra[uint8(code)])
	}

	buf = append(buf, OptEnd)
	for len(buf) < MinEncodedSize {
		buf = append(buf, OptPad)
	}
	return buf
}

func appendOption(buf []byte, code uint8, value []byte) []byte {
	if len(value) > 255 {
		value = value[:255]
	}
	buf = append(buf, code, byte(len(value)))
	return append(buf, value...)
}

func putIPv4(dst []byte, ip net.IP) {
	if v4 := ip.To4(); v4 != nil {
		copy(dst, v4)
	}
}

func packIPv4s(ips []net.IP) []byte {
	var out []byte
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			out = append(out, v4...)
		}
	}
	return out
}

// LimitedBroadcast is the all-subnets broadcast destination.
var LimitedBroadcast = net.IPv4bcast.To4()

// ReplyDestination picks the IP and link-layer destination for a reply,
// following RFC 2131 section 4.1. A reply is never left without a
// destination: an unspecified target falls back to broadcast.
func ReplyDestination(req *RequestMessage, r *ReplyMessage) (net.IP, net.HardwareAddr, uint16) {
	if req != nil {
		if relay := req.RelayIP.To4(); relay != nil && !relay.IsUnspecified() {
			return relay, req.HardwareAddr, ServerPort
		}
		if r.Type == Nak {
			return LimitedBroadcast, ethernet.Broadcast, ClientPort
		}
		if ci := req.ClientIP.To4(); ci != nil && !ci.IsUnspecified() {
			return ci, req.HardwareAddr, ClientPort
		}
		if req.BroadcastRequested() {
			return LimitedBroadcast, ethernet.Broadcast, ClientPort
		}
	}
	if your := r.YourIP.To4(); your != nil && !your.IsUnspecified() {
		return your, r.HardwareAddr, ClientPort
	}
	return LimitedBroadcast, ethernet.Broadcast, ClientPort
}
