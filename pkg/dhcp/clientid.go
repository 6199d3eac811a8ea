package dhcp

import (
	"bytes"
	"encoding/hex"
	"net"

	"github.com/openvnet/vnetdhcpd/pkg/ethernet"
)

// ClientID is the canonical key identifying a DHCP client: the opaque
// client-identifier option when the client sent one, the link-layer
// address otherwise. Immutable once built.
type ClientID struct {
	id    []byte
	hw    [ethernet.AddrLen]byte
	hasID bool
}

// NewClientID builds an identity from an optional client-identifier value
// and the client hardware address. Both inputs are copied.
func NewClientID(optID []byte, hw net.HardwareAddr) ClientID {
	var c ClientID
	copy(c.hw[:], hw)
	if optID != nil {
		c.id = append([]byte(nil), optID...)
		c.hasID = true
	}
	return c
}

// HasExplicitID reports whether the client supplied option 61.
func (c ClientID) HasExplicitID() bool {
	return c.hasID
}

// ID returns a copy of the explicit identifier, nil if absent.
func (c ClientID) ID() []byte {
	if !c.hasID {
		return nil
	}
	return append([]byte(nil), c.id...)
}

// HardwareAddr returns the link-layer address the identity was built with.
func (c ClientID) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(c.hw[:])
}

// Compare is a strict total order: explicit identifiers compare bytewise
// among themselves, hardware addresses likewise, and any identity carrying
// an explicit identifier sorts after every identity without one, keeping
// the two populations in disjoint bands.
func (c ClientID) Compare(o ClientID) int {
	switch {
	case c.hasID && o.hasID:
		return bytes.Compare(c.id, o.id)
	case c.hasID:
		return 1
	case o.hasID:
		return -1
	default:
		return bytes.Compare(c.hw[:], o.hw[:])
	}
}

// Equal reports whether the comparison keys match.
func (c ClientID) Equal(o ClientID) bool {
	return c.Compare(o) == 0
}

// Key returns a compact string usable as a map key. Distinct identities
// map to distinct keys.
func (c ClientID) Key() string {
	if c.hasID {
		return "id:" + hex.EncodeToString(c.id)
	}
	return "hw:" + hex.EncodeToString(c.hw[:])
}

func (c ClientID) String() string {
	if c.hasID {
		return "id:" + hex.EncodeToString(c.id)
	}
	return net.HardwareAddr(c.hw[:]).String()
}
