package netstack

import (
	"errors"
	"log/slog"

	"github.com/openvnet/vnetdhcpd/pkg/ethernet"
	"github.com/openvnet/vnetdhcpd/pkg/logger"
	"github.com/openvnet/vnetdhcpd/pkg/metrics"
	"github.com/openvnet/vnetdhcpd/pkg/ring"
)

// Bridge adapts between the ring's raw Ethernet frames and the stack's
// padded buffer convention. It is the stack's link device: frames the
// stack transmits land in the send ring, frames drained from the receive
// ring are injected into the stack.
type Bridge struct {
	stack *Stack
	send  *ring.SendRegion
	log   *slog.Logger
}

// NewBridge wires a stack to a send region and registers itself as the
// stack's link device.
func NewBridge(stack *Stack, send *ring.SendRegion) (*Bridge, error) {
	b := &Bridge{
		stack: stack,
		send:  send,
		log:   logger.Component(logger.ComponentStack),
	}
	if err := stack.RegisterInterface(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Inject copies one received frame into a stack-owned padded buffer and
// delivers it through the link-input entry point. Pool exhaustion drops
// the frame and counts it; it is backpressure, not an error.
func (b *Bridge) Inject(frame []byte) {
	if len(frame) < ethernet.HeaderSize {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformed).Inc()
		return
	}

	buf, err := b.stack.AllocLinkBuffer(len(frame))
	if err != nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonAllocation).Inc()
		b.log.Debug("Dropping frame, stack pool exhausted", "size", len(frame))
		return
	}
	copy(buf[LinkPad:], frame)

	metrics.FramesTotal.WithLabelValues("rx").Inc()
	b.stack.LinkInput(buf)
}

// TransmitLink strips the stack padding, commits the frame to the send
// ring and flushes. A full ring drops the frame; the client's own
// retransmission is the recovery mechanism.
func (b *Bridge) TransmitLink(buf []byte) error {
	if len(buf) < LinkPad+ethernet.HeaderSize {
		return ErrInvalidFrame
	}
	frame := buf[LinkPad:]

	wf, err := b.send.Allocate(ring.KindData, len(frame))
	if err != nil {
		if errors.Is(err, ring.ErrOutOfSpace) {
			metrics.DropsTotal.WithLabelValues(metrics.ReasonRingFull).Inc()
			b.log.Debug("Dropping frame, send ring full", "size", len(frame))
		}
		return err
	}
	copy(wf.Bytes, frame)
	if err := b.send.Commit(wf); err != nil {
		return err
	}
	return b.send.Flush()
}
