package netstack

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/openvnet/vnetdhcpd/pkg/metrics"
)

// handleARP answers who-has queries for the interface address so clients
// can reach the server once they hold a unicast lease.
func (s *Stack) handleARP(pkt gopacket.Packet, eth *layers.Ethernet) {
	arpLayer := pkt.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformed).Inc()
		return
	}
	arp := arpLayer.(*layers.ARP)

	if arp.Operation != layers.ARPRequest || !s.addr.Equal(arp.DstProtAddress) {
		return
	}
	if s.dev == nil {
		return
	}

	reply := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   s.cfg.HardwareAddr,
		SourceProtAddress: s.addr,
		DstHwAddress:      arp.SourceHwAddress,
		DstProtAddress:    arp.SourceProtAddress,
	}
	ethReply := &layers.Ethernet{
		SrcMAC:       s.cfg.HardwareAddr,
		DstMAC:       eth.SrcMAC,
		EthernetType: layers.EthernetTypeARP,
	}

	sb := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(sb, s.serialOpt, ethReply, reply); err != nil {
		s.log.Debug("Failed to serialize ARP reply", "error", err)
		return
	}
	if err := s.transmitFrame(sb.Bytes()); err != nil {
		s.log.Debug("Failed to transmit ARP reply", "error", err)
	}
}
