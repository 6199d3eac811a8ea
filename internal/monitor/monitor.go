// Package monitor serves the Prometheus scrape endpoint.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openvnet/vnetdhcpd/pkg/component"
	"github.com/openvnet/vnetdhcpd/pkg/logger"
	"github.com/openvnet/vnetdhcpd/pkg/metrics"
)

type Component struct {
	*component.Base

	listen string
	server *http.Server

	log *slog.Logger
}

type Config struct {
	Listen string

	// AvailableAddresses, when set, is exported as the pool availability
	// gauge.
	AvailableAddresses func() int
}

func New(cfg Config) *Component {
	if cfg.AvailableAddresses != nil {
		metrics.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "vnetdhcpd_pool_available_addresses",
			Help: "Free addresses in the lease pool",
		}, func() float64 { return float64(cfg.AvailableAddresses()) }))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return &Component{
		Base:   component.NewBase("monitor"),
		listen: cfg.Listen,
		server: &http.Server{
			Addr:              cfg.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger.Component(logger.ComponentMonitor),
	}
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.Go(func() {
		c.log.Info("Metrics endpoint up", "listen", c.listen)
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("Metrics endpoint failed", "error", err)
		}
	})
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.server.Shutdown(shutdownCtx); err != nil {
		c.log.Warn("Metrics endpoint shutdown failed", "error", err)
	}
	c.StopContext()
	return nil
}
