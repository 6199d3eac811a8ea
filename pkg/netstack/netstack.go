// Package netstack is the minimal embedded IP stack this service links:
// one Ethernet interface, ARP for the interface address, IPv4/UDP demux to
// bound ports, and UDP/IPv4/Ethernet serialization for replies. It is not
// a general TCP/IP stack; it exists so the DHCP service can live entirely
// on the switch ring without touching the host stack.
package netstack

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/openvnet/vnetdhcpd/pkg/ethernet"
	"github.com/openvnet/vnetdhcpd/pkg/logger"
	"github.com/openvnet/vnetdhcpd/pkg/metrics"
)

var (
	// ErrInvalidFrame rejects link output shorter than an Ethernet header.
	ErrInvalidFrame = errors.New("frame shorter than ethernet header")

	// ErrAllocation means the stack buffer pool is exhausted. Expected
	// backpressure: drop and count, never fatal.
	ErrAllocation = errors.New("stack buffer pool exhausted")

	// ErrNoDevice means no link device has been registered yet.
	ErrNoDevice = errors.New("no link device registered")

	// ErrPortBound rejects a second handler for the same UDP port.
	ErrPortBound = errors.New("udp port already bound")
)

// LinkPad is the number of leading bytes every stack-owned buffer carries
// before the Ethernet header, so the IPv4 header lands 4-byte aligned.
const LinkPad = 2

// LinkDevice is the narrow capability the stack drives to transmit.
// Buffers handed to TransmitLink are stack-owned and padded with LinkPad
// leading bytes; the device must not retain them past the call.
type LinkDevice interface {
	TransmitLink(buf []byte) error
}

// Config fixes the interface identity at registration time.
type Config struct {
	HardwareAddr net.HardwareAddr
	Address      net.IP
	Netmask      net.IPMask
	MTU          uint32
}

// UDPMeta describes how a datagram was delivered.
type UDPMeta struct {
	SrcMAC  net.HardwareAddr
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16

	// WasBroadcast is true for link-layer or IP broadcast delivery, false
	// for unicast to the interface address.
	WasBroadcast bool
}

// UDPHandler receives demultiplexed datagrams. Invoked synchronously from
// LinkInput on the pump goroutine.
type UDPHandler func(payload []byte, meta UDPMeta)

// Stack is one registered interface plus the protocol handling above it.
// Single-threaded by construction: everything runs on the caller of
// LinkInput.
type Stack struct {
	cfg       Config
	addr      net.IP // 4-byte form
	subnetBC  net.IP
	pool      *bufferPool
	dev       LinkDevice
	udpBinds  map[uint16]UDPHandler
	serialOpt gopacket.SerializeOptions

	log *slog.Logger
}

// New validates the interface identity. The interface is fixed as
// broadcast- and ARP-capable and is the stack's only (default) route
// target.
func New(cfg Config) (*Stack, error) {
	if len(cfg.HardwareAddr) != ethernet.AddrLen {
		return nil, fmt.Errorf("hardware address must be %d bytes", ethernet.AddrLen)
	}
	addr := cfg.Address.To4()
	if addr == nil {
		return nil, fmt.Errorf("interface address must be IPv4, got %v", cfg.Address)
	}
	if len(cfg.Netmask) != 4 {
		return nil, fmt.Errorf("netmask must be 4 bytes")
	}
	if cfg.MTU == 0 {
		cfg.MTU = 1500
	}

	bc := make(net.IP, 4)
	for i := range bc {
		bc[i] = addr[i] | ^cfg.Netmask[i]
	}

	return &Stack{
		cfg:      cfg,
		addr:     addr,
		subnetBC: bc,
		pool:     newBufferPool(defaultPoolBuffers, LinkPad+ethernet.MaxFrameSize),
		udpBinds: make(map[uint16]UDPHandler),
		serialOpt: gopacket.SerializeOptions{
			FixLengths:       true,
			ComputeChecksums: true,
		},
		log: logger.Component(logger.ComponentStack),
	}, nil
}

// RegisterInterface attaches the link device the stack transmits through.
func (s *Stack) RegisterInterface(dev LinkDevice) error {
	if s.dev != nil {
		return fmt.Errorf("interface already registered")
	}
	s.dev = dev
	s.log.Info("Interface registered",
		"mac", s.cfg.HardwareAddr.String(),
		"address", s.addr.String(),
		"mtu", s.cfg.MTU,
	)
	return nil
}

// BindUDP installs the receive handler for a local port.
func (s *Stack) BindUDP(port uint16, h UDPHandler) error {
	if _, ok := s.udpBinds[port]; ok {
		return fmt.Errorf("%w: %d", ErrPortBound, port)
	}
	s.udpBinds[port] = h
	return nil
}

// AllocLinkBuffer takes a padded buffer from the stack pool, sized for a
// frame of frameLen bytes. The caller fills buf[LinkPad:] and hands the
// buffer to LinkInput, which releases it.
func (s *Stack) AllocLinkBuffer(frameLen int) ([]byte, error) {
	return s.pool.get(LinkPad + frameLen)
}

// LinkInput is the link-input entry point: it consumes one padded,
// stack-owned buffer, demultiplexes it and releases the buffer. Errors
// are per-frame: counted, logged at debug, never propagated.
func (s *Stack) LinkInput(buf []byte) {
	defer s.pool.put(buf)

	frame := buf[LinkPad:]
	if len(frame) < ethernet.HeaderSize {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformed).Inc()
		return
	}

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformed).Inc()
		return
	}
	eth := ethLayer.(*layers.Ethernet)

	linkBroadcast := ethernet.IsBroadcast(eth.DstMAC)
	if !linkBroadcast && !macEqual(eth.DstMAC, s.cfg.HardwareAddr) {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonNotForUs).Inc()
		return
	}

	switch eth.EthernetType {
	case layers.EthernetTypeARP:
		s.handleARP(pkt, eth)
	case layers.EthernetTypeIPv4:
		s.handleIPv4(pkt, eth, linkBroadcast)
	default:
		// Not ours; the switch floods every protocol at us.
	}
}

func (s *Stack) handleIPv4(pkt gopacket.Packet, eth *layers.Ethernet, linkBroadcast bool) {
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformed).Inc()
		return
	}
	ip := ipLayer.(*layers.IPv4)

	dst := ip.DstIP.To4()
	if dst == nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformed).Inc()
		return
	}

	ipBroadcast := dst.Equal(net.IPv4bcast) || dst.Equal(s.subnetBC)
	// A unicast destination that is not the interface address is someone
	// else's traffic; reject it here, before any payload parsing.
	if !ipBroadcast && !dst.Equal(s.addr) {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonNotForUs).Inc()
		return
	}

	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return
	}
	udp := udpLayer.(*layers.UDP)

	h, ok := s.udpBinds[uint16(udp.DstPort)]
	if !ok {
		return
	}

	h(udp.Payload, UDPMeta{
		SrcMAC:       eth.SrcMAC,
		SrcIP:        ip.SrcIP.To4(),
		DstIP:        dst,
		SrcPort:      uint16(udp.SrcPort),
		DstPort:      uint16(udp.DstPort),
		WasBroadcast: linkBroadcast || ipBroadcast,
	})
}

// SendUDP serializes a datagram from the interface address and transmits
// it through the registered link device.
func (s *Stack) SendUDP(dstIP net.IP, dstMAC net.HardwareAddr, srcPort, dstPort uint16, payload []byte) error {
	if s.dev == nil {
		return ErrNoDevice
	}

	ethLayer := &layers.Ethernet{
		SrcMAC:       s.cfg.HardwareAddr,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    s.addr,
		DstIP:    dstIP.To4(),
	}
	udpLayer := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udpLayer.SetNetworkLayerForChecksum(ipLayer); err != nil {
		return fmt.Errorf("udp checksum context: %w", err)
	}

	sb := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(sb, s.serialOpt, ethLayer, ipLayer, udpLayer, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize udp frame: %w", err)
	}

	return s.transmitFrame(sb.Bytes())
}

// transmitFrame copies a raw frame into a padded stack buffer and hands it
// to the link device.
func (s *Stack) transmitFrame(frame []byte) error {
	buf, err := s.pool.get(LinkPad + len(frame))
	if err != nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonAllocation).Inc()
		return err
	}
	defer s.pool.put(buf)

	copy(buf[LinkPad:], frame)
	if err := s.dev.TransmitLink(buf); err != nil {
		return err
	}
	metrics.FramesTotal.WithLabelValues("tx").Inc()
	return nil
}

func macEqual(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
