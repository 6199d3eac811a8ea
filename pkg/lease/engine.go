// Package lease implements the DHCP server side: an address pool with
// sticky client bindings and the message state machine that turns parsed
// requests into replies.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/openvnet/vnetdhcpd/pkg/config"
	"github.com/openvnet/vnetdhcpd/pkg/dhcp"
	"github.com/openvnet/vnetdhcpd/pkg/logger"
)

// Engine turns a parsed client message into a reply. A nil reply with a
// nil error means the message was handled but produces no response (the
// packet is for another server, or the message type is fire-and-forget).
type Engine interface {
	Process(ctx context.Context, req *dhcp.RequestMessage) (*dhcp.ReplyMessage, error)
}

// Lease is the server's record of one client binding.
type Lease struct {
	ID       uuid.UUID
	Identity dhcp.ClientID
	Addr     net.IP
	Hostname string
	Expires  time.Time
}

// PoolEngine serves addresses from a single contiguous pool on one
// subnet. It is driven from the pump goroutine; the pool's own lock
// covers the monitor endpoint reading Available.
type PoolEngine struct {
	pool      *Pool
	serverID  net.IP
	netmask   net.IPMask
	routers   []net.IP
	dns       []net.IP
	leaseTime time.Duration

	leases map[string]*Lease
	now    func() time.Time

	log *slog.Logger
}

// NewPoolEngine builds the engine from the lease section of the daemon
// configuration plus the server identity.
func NewPoolEngine(cfg config.LeaseConfig, serverID net.IP, netmask net.IPMask) (*PoolEngine, error) {
	start, err := netip.ParseAddr(cfg.RangeStart)
	if err != nil {
		return nil, fmt.Errorf("lease range start: %w", err)
	}
	end, err := netip.ParseAddr(cfg.RangeEnd)
	if err != nil {
		return nil, fmt.Errorf("lease range end: %w", err)
	}
	if start.Compare(end) > 0 {
		return nil, fmt.Errorf("lease range start %s is above end %s", start, end)
	}

	var excluded []netip.Addr
	for _, s := range cfg.Exclude {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("lease exclude %q: %w", s, err)
		}
		excluded = append(excluded, addr)
	}

	e := &PoolEngine{
		pool:      NewPool(start, end, excluded),
		serverID:  serverID.To4(),
		netmask:   netmask,
		leaseTime: cfg.Time.Std(),
		leases:    make(map[string]*Lease),
		now:       time.Now,
		log:       logger.Component(logger.ComponentLease),
	}
	if cfg.Router != "" {
		router := net.ParseIP(cfg.Router)
		if router == nil || router.To4() == nil {
			return nil, fmt.Errorf("lease router: invalid IPv4 address %q", cfg.Router)
		}
		e.routers = []net.IP{router.To4()}
	}
	for _, s := range cfg.DNS {
		ip := net.ParseIP(s)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("lease dns: invalid IPv4 address %q", s)
		}
		e.dns = append(e.dns, ip.To4())
	}
	return e, nil
}

// Available reports how many pool addresses are currently free.
func (e *PoolEngine) Available() int {
	return e.pool.Available(e.now())
}

// Process implements Engine.
func (e *PoolEngine) Process(ctx context.Context, req *dhcp.RequestMessage) (*dhcp.ReplyMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch req.Type {
	case dhcp.Discover:
		return e.handleDiscover(req)
	case dhcp.Request:
		return e.handleRequest(req)
	case dhcp.Release:
		e.handleRelease(req)
		return nil, nil
	case dhcp.Decline:
		e.handleDecline(req)
		return nil, nil
	case dhcp.Inform:
		return e.handleInform(req)
	default:
		// Server-originated types (OFFER/ACK/NAK) arriving from a client
		// are nonsense; drop silently.
		return nil, nil
	}
}

func (e *PoolEngine) handleDiscover(req *dhcp.RequestMessage) (*dhcp.ReplyMessage, error) {
	now := e.now()
	key := req.Identity.Key()

	// Honor a requested address when the client asks for one it may have.
	if req.RequestedIP != nil {
		if err := e.pool.Reserve(req.RequestedIP, key, now, now.Add(e.leaseTime)); err == nil {
			return e.record(req, req.RequestedIP, dhcp.Offer, now), nil
		}
	}

	addr, err := e.pool.Allocate(key, now, now.Add(e.leaseTime))
	if err != nil {
		e.log.Warn("Pool exhausted, discover goes unanswered",
			"client", req.Identity.String(),
			"xid", fmt.Sprintf("%#08x", req.XID),
		)
		return nil, nil
	}
	return e.record(req, addr, dhcp.Offer, now), nil
}

func (e *PoolEngine) handleRequest(req *dhcp.RequestMessage) (*dhcp.ReplyMessage, error) {
	// A REQUEST naming another server is the client accepting someone
	// else's offer. Not an error; just not our conversation.
	if req.ServerID != nil && !req.ServerID.Equal(e.serverID) {
		e.log.Debug("Request addressed to another server",
			"client", req.Identity.String(),
			"server_id", req.ServerID.String(),
		)
		return nil, nil
	}

	now := e.now()
	key := req.Identity.Key()

	// SELECTING/INIT-REBOOT carry option 50; RENEWING/REBINDING carry the
	// address in ciaddr instead.
	want := req.RequestedIP
	if want == nil {
		want = req.ClientIP
	}
	if want == nil || want.IsUnspecified() {
		return e.nak(req), nil
	}

	if err := e.pool.Reserve(want, key, now, now.Add(e.leaseTime)); err != nil {
		e.log.Info("Requested address unavailable",
			"client", req.Identity.String(),
			"address", want.String(),
		)
		return e.nak(req), nil
	}
	return e.record(req, want, dhcp.Ack, now), nil
}

func (e *PoolEngine) handleRelease(req *dhcp.RequestMessage) {
	key := req.Identity.Key()
	if req.ClientIP != nil && !req.ClientIP.IsUnspecified() {
		e.pool.Release(req.ClientIP, key)
	}
	delete(e.leases, key)
	e.log.Info("Lease released",
		"client", req.Identity.String(),
		"address", req.ClientIP.String(),
	)
}

func (e *PoolEngine) handleDecline(req *dhcp.RequestMessage) {
	addr := req.RequestedIP
	if addr == nil {
		return
	}
	e.pool.Exclude(addr)
	delete(e.leases, req.Identity.Key())
	e.log.Warn("Address declined by client, excluded from pool",
		"client", req.Identity.String(),
		"address", addr.String(),
	)
}

// handleInform answers configuration-only queries: the client already has
// an address, so the reply carries parameters but no lease.
func (e *PoolEngine) handleInform(req *dhcp.RequestMessage) (*dhcp.ReplyMessage, error) {
	return &dhcp.ReplyMessage{
		Type:         dhcp.Ack,
		XID:          req.XID,
		Flags:        req.Flags,
		HardwareAddr: req.HardwareAddr,
		ServerID:     e.serverID,
		Netmask:      e.netmask,
		Routers:      e.routers,
		DNS:          e.dns,
	}, nil
}

func (e *PoolEngine) record(req *dhcp.RequestMessage, addr net.IP, t dhcp.MessageType, now time.Time) *dhcp.ReplyMessage {
	key := req.Identity.Key()
	l, ok := e.leases[key]
	if !ok {
		l = &Lease{ID: uuid.New(), Identity: req.Identity}
		e.leases[key] = l
	}
	l.Addr = addr
	l.Hostname = req.Hostname
	l.Expires = now.Add(e.leaseTime)

	e.log.Info("Lease "+t.String(),
		"lease_id", l.ID.String(),
		"client", req.Identity.String(),
		"address", addr.String(),
		"expires", l.Expires.Format(time.RFC3339),
	)

	return &dhcp.ReplyMessage{
		Type:         t,
		XID:          req.XID,
		Flags:        req.Flags,
		HardwareAddr: req.HardwareAddr,
		YourIP:       addr,
		ServerID:     e.serverID,
		Netmask:      e.netmask,
		Routers:      e.routers,
		DNS:          e.dns,
		LeaseTime:    e.leaseTime,
	}
}

func (e *PoolEngine) nak(req *dhcp.RequestMessage) *dhcp.ReplyMessage {
	return &dhcp.ReplyMessage{
		Type:         dhcp.Nak,
		XID:          req.XID,
		Flags:        req.Flags,
		HardwareAddr: req.HardwareAddr,
		ServerID:     e.serverID,
	}
}
