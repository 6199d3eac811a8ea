package dhcp

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openvnet/vnetdhcpd/pkg/ethernet"
)

// buildRequest assembles a minimal BOOTREQUEST with the given options.
func buildRequest(t *testing.T, xid uint32, hw net.HardwareAddr, opts map[uint8][]byte) []byte {
	t.Helper()
	buf := make([]byte, MinMessageSize)
	buf[0] = OpRequest
	buf[1] = 1
	buf[2] = 6
	binary.BigEndian.PutUint32(buf[4:8], xid)
	copy(buf[28:34], hw)
	buf = binary.BigEndian.AppendUint32(buf, MagicCookie)
	for code := uint8(1); code != 0; code++ {
		if v, ok := opts[code]; ok {
			buf = append(buf, code, byte(len(v)))
			buf = append(buf, v...)
		}
		if code == 254 {
			break
		}
	}
	buf = append(buf, OptEnd)
	return buf
}

func TestParseDiscoverWithClientID(t *testing.T) {
	hw, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	raw := buildRequest(t, 0x12345678, hw, map[uint8][]byte{
		OptMessageType: {byte(Discover)},
		OptClientID:    {0x01, 0x02, 0x03},
	})

	m, err := Parse(raw, true)
	require.NoError(t, err)
	require.Equal(t, Discover, m.Type)
	require.Equal(t, uint32(0x12345678), m.XID)
	require.Equal(t, hw, m.HardwareAddr)
	require.True(t, m.WasBroadcast)

	// Option 61 keys the identity, not the MAC.
	require.True(t, m.Identity.HasExplicitID())
	require.Equal(t, []byte{0x01, 0x02, 0x03}, m.Identity.ID())
	require.Equal(t, "id:010203", m.Identity.Key())
}

func TestParseFallsBackToMACIdentity(t *testing.T) {
	hw, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	raw := buildRequest(t, 1, hw, map[uint8][]byte{
		OptMessageType: {byte(Discover)},
	})

	m, err := Parse(raw, false)
	require.NoError(t, err)
	require.False(t, m.Identity.HasExplicitID())
	require.Equal(t, hw, m.Identity.HardwareAddr())
	require.False(t, m.WasBroadcast)
}

func TestParseMalformed(t *testing.T) {
	hw, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	good := buildRequest(t, 1, hw, map[uint8][]byte{OptMessageType: {byte(Discover)}})

	short := good[:100]
	if _, err := Parse(short, false); err == nil {
		t.Fatal("short packet must be rejected")
	}

	badCookie := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(badCookie[236:240], 0xdeadbeef)
	_, err := Parse(badCookie, false)
	require.ErrorIs(t, err, ErrMalformed)

	badOp := append([]byte(nil), good...)
	badOp[0] = 9
	_, err = Parse(badOp, false)
	require.ErrorIs(t, err, ErrMalformed)

	truncatedOpt := append([]byte(nil), good[:len(good)-1]...) // drop the end marker
	truncatedOpt = append(truncatedOpt, OptHostname, 200)      // length past the end
	_, err = Parse(truncatedOpt, false)
	require.ErrorIs(t, err, ErrMalformed)

	unterminated := good[:len(good)-1]
	_, err = Parse(unterminated, false)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseKeepsFirstDuplicateOption(t *testing.T) {
	hw, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	raw := buildRequest(t, 1, hw, map[uint8][]byte{OptMessageType: {byte(Discover)}})
	// Append a second, conflicting message type before the end marker.
	raw = raw[:len(raw)-1]
	raw = append(raw, OptMessageType, 1, byte(Release), OptEnd)

	m, err := Parse(raw, false)
	require.NoError(t, err)
	require.Equal(t, Discover, m.Type)
}

func TestEncodeDecodeConsistency(t *testing.T) {
	hw, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	reply := &ReplyMessage{
		Type:         Offer,
		XID:          0xcafe0001,
		HardwareAddr: hw,
		YourIP:       net.IPv4(10, 0, 2, 100),
		ServerID:     net.IPv4(10, 0, 2, 2),
		Netmask:      net.IPMask{255, 255, 255, 0},
		Routers:      []net.IP{net.IPv4(10, 0, 2, 2)},
		DNS:          []net.IP{net.IPv4(10, 0, 2, 3)},
		LeaseTime:    90 * time.Minute,
		Extra:        map[uint8][]byte{OptHostname: []byte("client-1")},
	}

	raw := Encode(reply)
	require.GreaterOrEqual(t, len(raw), MinEncodedSize, "reply must be padded to the BOOTP floor")

	back, err := Parse(raw, false)
	require.NoError(t, err)
	require.Equal(t, uint8(OpReply), back.Op)
	require.Equal(t, reply.XID, back.XID)
	require.Equal(t, Offer, back.Type)
	require.True(t, back.YourIP.Equal(reply.YourIP), "offered address must survive the round trip")
	require.True(t, back.ServerID.Equal(reply.ServerID))
	require.Equal(t, hw, back.HardwareAddr)
	require.Equal(t, []byte("client-1"), back.Options[OptHostname])

	lease := binary.BigEndian.Uint32(back.Options[OptLeaseTime])
	require.Equal(t, uint32(5400), lease)
}

func TestEncodeIsDeterministic(t *testing.T) {
	reply := &ReplyMessage{
		Type:   Ack,
		XID:    7,
		YourIP: net.IPv4(10, 0, 2, 5),
		Extra:  map[uint8][]byte{42: {1}, 7: {2}, 120: {3}},
	}
	if !bytes.Equal(Encode(reply), Encode(reply)) {
		t.Fatal("encoding the same reply twice must be byte-identical")
	}
}

func TestReplyDestinationPolicy(t *testing.T) {
	hw, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")

	t.Run("unspecified target falls back to broadcast", func(t *testing.T) {
		ip, mac, port := ReplyDestination(nil, &ReplyMessage{Type: Offer})
		require.True(t, ip.Equal(LimitedBroadcast))
		require.Equal(t, ethernet.Broadcast, mac)
		require.Equal(t, uint16(ClientPort), port)
	})

	t.Run("renewing client with ciaddr gets unicast", func(t *testing.T) {
		req := &RequestMessage{
			ClientIP:     net.IPv4(10, 0, 2, 50),
			RelayIP:      net.IPv4zero,
			HardwareAddr: hw,
		}
		ip, mac, port := ReplyDestination(req, &ReplyMessage{Type: Ack, YourIP: net.IPv4(10, 0, 2, 50)})
		require.True(t, ip.Equal(net.IPv4(10, 0, 2, 50)))
		require.Equal(t, hw, mac)
		require.Equal(t, uint16(ClientPort), port)
	})

	t.Run("broadcast flag honored", func(t *testing.T) {
		req := &RequestMessage{
			Flags:        FlagBroadcast,
			ClientIP:     net.IPv4zero,
			RelayIP:      net.IPv4zero,
			HardwareAddr: hw,
		}
		ip, mac, _ := ReplyDestination(req, &ReplyMessage{Type: Offer, YourIP: net.IPv4(10, 0, 2, 60)})
		require.True(t, ip.Equal(LimitedBroadcast))
		require.Equal(t, ethernet.Broadcast, mac)
	})

	t.Run("nak always broadcast", func(t *testing.T) {
		req := &RequestMessage{
			ClientIP:     net.IPv4(10, 0, 2, 50),
			RelayIP:      net.IPv4zero,
			HardwareAddr: hw,
		}
		ip, _, _ := ReplyDestination(req, &ReplyMessage{Type: Nak})
		require.True(t, ip.Equal(LimitedBroadcast))
	})

	t.Run("relayed request goes to the relay", func(t *testing.T) {
		req := &RequestMessage{
			RelayIP:      net.IPv4(10, 9, 9, 9),
			ClientIP:     net.IPv4zero,
			HardwareAddr: hw,
		}
		ip, _, port := ReplyDestination(req, &ReplyMessage{Type: Offer, YourIP: net.IPv4(10, 0, 2, 60)})
		require.True(t, ip.Equal(net.IPv4(10, 9, 9, 9)))
		require.Equal(t, uint16(ServerPort), port)
	})
}
