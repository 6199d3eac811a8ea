// Package metrics carries the service counters. Every dropped frame or
// packet must be visible here instead of surfacing through control flow.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Registry = prometheus.NewRegistry()

	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vnetdhcpd_frames_total",
		Help: "Ethernet frames moved between the switch ring and the stack",
	}, []string{"direction"})

	DropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vnetdhcpd_drops_total",
		Help: "Frames or packets dropped, by reason",
	}, []string{"reason"})

	GSOExpandedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vnetdhcpd_gso_segments_total",
		Help: "Ethernet frames reconstructed from offloaded super-frames",
	})

	DHCPMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vnetdhcpd_dhcp_messages_total",
		Help: "DHCP messages processed, by message type",
	}, []string{"type"})
)

// Drop reasons.
const (
	ReasonMalformed   = "malformed"
	ReasonAllocation  = "allocation"
	ReasonRingFull    = "ring_full"
	ReasonUnknownKind = "unknown_kind"
	ReasonNoResponse  = "no_response"
	ReasonNotForUs    = "not_for_us"
)

func init() {
	Registry.MustRegister(FramesTotal, DropsTotal, GSOExpandedTotal, DHCPMessagesTotal)
}
