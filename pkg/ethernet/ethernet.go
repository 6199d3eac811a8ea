// Package ethernet holds the link-layer constants shared by the ring,
// segmentation and stack packages.
package ethernet

import "net"

const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeVLAN uint16 = 0x8100
	EtherTypeQinQ uint16 = 0x88A8
	EtherTypeIPv6 uint16 = 0x86DD
)

const (
	// HeaderSize is dst MAC + src MAC + ethertype, untagged.
	HeaderSize = 14

	// MinFrameSize is the smallest frame the switch will put on the wire
	// (padding excluded FCS).
	MinFrameSize = 60

	// MaxFrameSize is an untagged 1500-byte MTU frame.
	MaxFrameSize = 1514

	AddrLen = 6
)

// Broadcast is the all-ones link-layer destination.
var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsBroadcast reports whether hw is the all-ones address.
func IsBroadcast(hw net.HardwareAddr) bool {
	if len(hw) != AddrLen {
		return false
	}
	for _, b := range hw {
		if b != 0xff {
			return false
		}
	}
	return true
}
