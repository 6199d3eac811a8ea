// Package pump runs the single service loop: wait on the receive ring,
// drain it frame by frame, reconstruct offloaded super-frames and hand
// everything to the embedded stack. All per-frame failures are counted
// and dropped; only a structurally broken ring stops the loop.
package pump

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openvnet/vnetdhcpd/pkg/component"
	"github.com/openvnet/vnetdhcpd/pkg/gso"
	"github.com/openvnet/vnetdhcpd/pkg/logger"
	"github.com/openvnet/vnetdhcpd/pkg/metrics"
	"github.com/openvnet/vnetdhcpd/pkg/ring"
)

// waitSlice bounds each blocking wait so the loop notices shutdown even
// when the switch stops signalling.
const waitSlice = 500 * time.Millisecond

// activitySource is the blocking side of the ring attachment.
type activitySource interface {
	WaitForActivity(timeout time.Duration) (ring.Activity, error)
}

// frameSource is the receive ring's consumer interface.
type frameSource interface {
	Next() (*ring.Frame, error)
	Skip(f *ring.Frame) error
}

// injector accepts one Ethernet frame for input processing.
type injector interface {
	Inject(frame []byte)
}

// Pump is the component driving frames from the switch into the stack.
type Pump struct {
	*component.Base

	waiter activitySource
	recv   frameSource
	sink   injector

	log *slog.Logger
}

func New(waiter activitySource, recv frameSource, sink injector) *Pump {
	return &Pump{
		Base:   component.NewBase("pump"),
		waiter: waiter,
		recv:   recv,
		sink:   sink,
		log:    logger.Component(logger.ComponentPump),
	}
}

func (p *Pump) Start(ctx context.Context) error {
	p.StartContext(ctx)
	p.Go(p.run)
	p.log.Info("Service pump started")
	return nil
}

func (p *Pump) Stop(ctx context.Context) error {
	p.StopContext()
	p.log.Info("Service pump stopped")
	return nil
}

func (p *Pump) run() {
	for {
		if p.Ctx.Err() != nil {
			return
		}

		activity, err := p.waiter.WaitForActivity(waitSlice)
		if err != nil {
			if errors.Is(err, ring.ErrClosed) {
				p.log.Info("Ring closed, pump exiting")
				return
			}
			p.log.Error("Wait on ring failed", "error", err)
			return
		}
		if activity == ring.TimedOut {
			continue
		}

		if !p.drain() {
			return
		}
	}
}

// drain consumes every pending frame. Returns false when the ring is no
// longer usable.
func (p *Pump) drain() bool {
	for {
		if p.Ctx.Err() != nil {
			return false
		}

		frame, err := p.recv.Next()
		if err != nil {
			if errors.Is(err, ring.ErrClosed) {
				return false
			}
			// A corrupt ring means the shared cursors can no longer be
			// trusted; there is no per-frame recovery from that.
			p.log.Error("Receive ring unusable", "error", err)
			return false
		}
		if frame == nil {
			return true
		}

		p.process(frame)

		if err := p.recv.Skip(frame); err != nil {
			p.log.Error("Ring cursor advance failed", "error", err)
			return false
		}
	}
}

// process dispatches one frame. Never fails: a bad frame is a counter
// bump and a debug line, and the caller still advances past it.
func (p *Pump) process(frame *ring.Frame) {
	switch frame.Kind {
	case ring.KindData:
		p.sink.Inject(frame.Payload)

	case ring.KindGSO:
		segments, err := gso.Expand(frame.Payload)
		if err != nil {
			metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformed).Inc()
			p.log.Debug("Dropping malformed super-frame",
				"length", len(frame.Payload),
				"error", err,
			)
			return
		}
		for _, seg := range segments {
			p.sink.Inject(seg)
		}
		metrics.GSOExpandedTotal.Add(float64(len(segments)))

	default:
		metrics.DropsTotal.WithLabelValues(metrics.ReasonUnknownKind).Inc()
		p.log.Debug("Dropping frame of unknown kind",
			"kind", uint16(frame.Kind),
			"length", len(frame.Payload),
		)
	}
}
