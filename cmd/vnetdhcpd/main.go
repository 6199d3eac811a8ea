package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openvnet/vnetdhcpd/internal/monitor"
	"github.com/openvnet/vnetdhcpd/internal/pump"
	"github.com/openvnet/vnetdhcpd/pkg/component"
	"github.com/openvnet/vnetdhcpd/pkg/config"
	"github.com/openvnet/vnetdhcpd/pkg/dhcp"
	"github.com/openvnet/vnetdhcpd/pkg/lease"
	"github.com/openvnet/vnetdhcpd/pkg/logger"
	"github.com/openvnet/vnetdhcpd/pkg/metrics"
	"github.com/openvnet/vnetdhcpd/pkg/netstack"
	"github.com/openvnet/vnetdhcpd/pkg/ring"
)

const (
	attachAttempts = 10
	attachBackoff  = time.Second
)

func main() {
	configPath := flag.String("config", "configs/vnetdhcpd.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Configure(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Components)

	mainLog := logger.Component(logger.ComponentMain)
	mainLog.Info("Starting vnetdhcpd", "switch", cfg.Switch.Name, "uplink", cfg.Switch.Uplink)

	serverIP, _ := cfg.ServerAddress()
	netmask, _ := cfg.ServerNetmask()
	serverMAC, _ := cfg.ServerMAC()

	handle, err := attach(cfg)
	if err != nil {
		log.Fatalf("Failed to attach to switch %s: %v", cfg.Switch.Name, err)
	}
	defer handle.Close()

	send, recv, err := handle.MapBuffers()
	if err != nil {
		log.Fatalf("Failed to map ring buffers: %v", err)
	}
	mainLog.Info("Ring buffers mapped",
		"send_capacity", cfg.Switch.SendRing,
		"recv_capacity", cfg.Switch.RecvRing,
	)

	stack, err := netstack.New(netstack.Config{
		HardwareAddr: serverMAC,
		Address:      serverIP,
		Netmask:      netmask,
		MTU:          cfg.Server.MTU,
	})
	if err != nil {
		log.Fatalf("Failed to create network stack: %v", err)
	}

	bridge, err := netstack.NewBridge(stack, send)
	if err != nil {
		log.Fatalf("Failed to bridge stack to ring: %v", err)
	}

	engine, err := lease.NewPoolEngine(cfg.Lease, serverIP, netmask)
	if err != nil {
		log.Fatalf("Failed to create lease engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := stack.BindUDP(dhcp.ServerPort, dhcpHandler(ctx, stack, engine)); err != nil {
		log.Fatalf("Failed to bind DHCP port: %v", err)
	}

	orchestrator := component.NewOrchestrator()
	orchestrator.Register(pump.New(handle, recv, bridge))
	if cfg.Monitor.Enabled {
		orchestrator.Register(monitor.New(monitor.Config{
			Listen:             cfg.Monitor.Listen,
			AvailableAddresses: engine.Available,
		}))
	}

	if err := handle.Activate(); err != nil {
		log.Fatalf("Failed to activate ring attachment: %v", err)
	}

	if err := orchestrator.Start(ctx); err != nil {
		log.Fatalf("Failed to start components: %v", err)
	}
	mainLog.Info("vnetdhcpd running", "address", serverIP.String())

	<-ctx.Done()
	mainLog.Info("Shutting down")

	// Stop the pump before closing the handle: Close unmaps the shared
	// region, so no goroutine may still hold ring views when it runs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopErr := orchestrator.Stop(shutdownCtx)
	handle.Close()
	if stopErr != nil {
		mainLog.Error("Shutdown incomplete", "error", stopErr)
		os.Exit(1)
	}
}

// attach connects to the switch control socket, retrying while the switch
// comes up.
func attach(cfg *config.Config) (*ring.Handle, error) {
	opts := ring.Options{
		ControlSocket: cfg.Switch.ControlSocket,
		SendCapacity:  cfg.Switch.SendRing,
		RecvCapacity:  cfg.Switch.RecvRing,
	}

	var lastErr error
	for attempt := 1; attempt <= attachAttempts; attempt++ {
		handle, err := ring.Open(cfg.Switch.Name, cfg.Switch.Uplink, opts)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		logger.Component(logger.ComponentMain).Warn("Switch attach failed, retrying",
			"attempt", attempt,
			"error", err,
		)
		time.Sleep(attachBackoff)
	}
	return nil, fmt.Errorf("after %d attempts: %w", attachAttempts, lastErr)
}

// dhcpHandler runs on the pump goroutine for every datagram delivered to
// the server port. Every outcome that produces no reply bumps a drop
// counter; nothing propagates.
func dhcpHandler(ctx context.Context, stack *netstack.Stack, engine lease.Engine) netstack.UDPHandler {
	dhcpLog := logger.Component(logger.ComponentDHCP)

	return func(payload []byte, meta netstack.UDPMeta) {
		req, err := dhcp.Parse(payload, meta.WasBroadcast)
		if err != nil {
			metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformed).Inc()
			dhcpLog.Debug("Dropping malformed message",
				"source", meta.SrcMAC.String(),
				"length", len(payload),
				"error", err,
			)
			return
		}
		metrics.DHCPMessagesTotal.WithLabelValues(req.Type.String()).Inc()

		reply, err := engine.Process(ctx, req)
		if err != nil {
			dhcpLog.Error("Lease engine failed",
				"client", req.Identity.String(),
				"type", req.Type.String(),
				"error", err,
			)
			return
		}
		if reply == nil {
			metrics.DropsTotal.WithLabelValues(metrics.ReasonNoResponse).Inc()
			return
		}

		dstIP, dstMAC, dstPort := dhcp.ReplyDestination(req, reply)
		if err := stack.SendUDP(dstIP, dstMAC, dhcp.ServerPort, dstPort, dhcp.Encode(reply)); err != nil {
			dhcpLog.Warn("Reply transmit failed",
				"client", req.Identity.String(),
				"type", reply.Type.String(),
				"error", err,
			)
		}
	}
}
