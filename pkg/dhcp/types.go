// Package dhcp implements the DHCPv4 wire codec: parsing untrusted client
// messages into structured requests and serializing server responses.
package dhcp

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrMalformed rejects bad wire bytes. Always per-packet: the caller drops
// the packet and continues.
var ErrMalformed = errors.New("malformed dhcp message")

const (
	// MinMessageSize is the fixed BOOTP header without the magic cookie.
	MinMessageSize = 236

	// MinEncodedSize pads every emitted reply to the classic BOOTP floor.
	MinEncodedSize = 300

	MagicCookie = 0x63825363

	OpRequest = 1
	OpReply   = 2

	// ServerPort is BOOTPS, ClientPort is BOOTPC.
	ServerPort = 67
	ClientPort = 68
)

type MessageType uint8

const (
	Discover MessageType = 1
	Offer    MessageType = 2
	Request  MessageType = 3
	Decline  MessageType = 4
	Ack      MessageType = 5
	Nak      MessageType = 6
	Release  MessageType = 7
	Inform   MessageType = 8
)

func (mt MessageType) String() string {
	switch mt {
	case Discover:
		return "DHCPDISCOVER"
	case Offer:
		return "DHCPOFFER"
	case Request:
		return "DHCPREQUEST"
	case Decline:
		return "DHCPDECLINE"
	case Ack:
		return "DHCPACK"
	case Nak:
		return "DHCPNAK"
	case Release:
		return "DHCPRELEASE"
	case Inform:
		return "DHCPINFORM"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(mt))
	}
}

// Option codes used directly by the codec and the lease engine.
const (
	OptPad           = 0
	OptSubnetMask    = 1
	OptRouter        = 3
	OptDNS           = 6
	OptHostname      = 12
	OptRequestedIP   = 50
	OptLeaseTime     = 51
	OptMessageType   = 53
	OptServerID      = 54
	OptParamRequest  = 55
	OptMaxMessageLen = 57
	OptClientID      = 61
	OptEnd           = 255
)

// FlagBroadcast in the BOOTP flags field asks for a broadcast reply.
const FlagBroadcast = 0x8000

// RequestMessage is a parsed inbound message. Constructed per packet,
// never retained across packets.
type RequestMessage struct {
	Op    uint8
	XID   uint32
	Secs  uint16
	Flags uint16

	ClientIP net.IP // ciaddr
	YourIP   net.IP // yiaddr
	ServerIP net.IP // siaddr
	RelayIP  net.IP // giaddr

	HardwareAddr net.HardwareAddr

	Type        MessageType
	RequestedIP net.IP
	ServerID    net.IP
	Hostname    string

	// Options holds the raw option values, keys unique (first wins).
	Options map[uint8][]byte

	// Identity keys per-client state: option 61 when present, the source
	// hardware address otherwise.
	Identity ClientID

	// WasBroadcast records whether the message arrived on the link-layer
	// or limited-broadcast path. Recorded only; delivery validation is the
	// caller's business.
	WasBroadcast bool
}

// BroadcastRequested reports the BOOTP broadcast flag.
func (m *RequestMessage) BroadcastRequested() bool {
	return m.Flags&FlagBroadcast != 0
}

// ReplyMessage is a structured server response to be serialized.
type ReplyMessage struct {
	Type  MessageType
	XID   uint32
	Flags uint16

	HardwareAddr net.HardwareAddr

	YourIP   net.IP // offered address
	ServerID net.IP

	Netmask   net.IPMask
	Routers   []net.IP
	DNS       []net.IP
	LeaseTime time.Duration

	// Extra carries additional options, serialized in ascending code
	// order so encoding is deterministic.
	Extra map[uint8][]byte
}
