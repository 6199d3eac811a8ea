// Package config loads and validates the daemon configuration.
package config

import (
	"fmt"
	"net"
	"time"
)

type Config struct {
	Switch  SwitchConfig  `yaml:"switch"`
	Server  ServerConfig  `yaml:"server"`
	Lease   LeaseConfig   `yaml:"lease"`
	Logging LoggingConfig `yaml:"logging"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// SwitchConfig selects the virtual switch to attach to and the ring
// capacities negotiated at open time.
type SwitchConfig struct {
	Name          string `yaml:"name"`
	Uplink        string `yaml:"uplink"`
	ControlSocket string `yaml:"control_socket"`
	SendRing      uint32 `yaml:"send_ring"`
	RecvRing      uint32 `yaml:"recv_ring"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
	Netmask string `yaml:"netmask"`
	MAC     string `yaml:"mac"`
	MTU     uint32 `yaml:"mtu"`
}

type LeaseConfig struct {
	RangeStart string   `yaml:"range_start"`
	RangeEnd   string   `yaml:"range_end"`
	Exclude    []string `yaml:"exclude"`
	Time       Duration `yaml:"time"`
	Router     string   `yaml:"router"`
	DNS        []string `yaml:"dns"`
}

// Duration accepts Go duration strings ("90s", "1h") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type LoggingConfig struct {
	Format     string            `yaml:"format"`
	Level      string            `yaml:"level"`
	Components map[string]string `yaml:"components"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

const (
	DefaultSendRing = 128 * 1024
	DefaultRecvRing = 256 * 1024
	DefaultMTU      = 1500
	DefaultLease    = Duration(time.Hour)
)

func (c *Config) applyDefaults() {
	if c.Switch.ControlSocket == "" {
		c.Switch.ControlSocket = fmt.Sprintf("/run/vnet/%s.ctl", c.Switch.Name)
	}
	if c.Switch.SendRing == 0 {
		c.Switch.SendRing = DefaultSendRing
	}
	if c.Switch.RecvRing == 0 {
		c.Switch.RecvRing = DefaultRecvRing
	}
	if c.Server.MTU == 0 {
		c.Server.MTU = DefaultMTU
	}
	if c.Server.Netmask == "" {
		c.Server.Netmask = "255.255.255.0"
	}
	if c.Lease.Time == 0 {
		c.Lease.Time = DefaultLease
	}
	if c.Monitor.Listen == "" {
		c.Monitor.Listen = ":9812"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) Validate() error {
	if c.Switch.Name == "" {
		return fmt.Errorf("switch.name is required")
	}
	if c.Switch.SendRing%4 != 0 || c.Switch.RecvRing%4 != 0 {
		return fmt.Errorf("ring capacities must be 4-byte aligned")
	}
	if _, err := c.ServerAddress(); err != nil {
		return fmt.Errorf("server.address: %w", err)
	}
	if _, err := c.ServerNetmask(); err != nil {
		return fmt.Errorf("server.netmask: %w", err)
	}
	if _, err := c.ServerMAC(); err != nil {
		return fmt.Errorf("server.mac: %w", err)
	}
	if c.Lease.RangeStart != "" {
		if ip := net.ParseIP(c.Lease.RangeStart); ip == nil || ip.To4() == nil {
			return fmt.Errorf("lease.range_start: invalid IPv4 address %q", c.Lease.RangeStart)
		}
		if ip := net.ParseIP(c.Lease.RangeEnd); ip == nil || ip.To4() == nil {
			return fmt.Errorf("lease.range_end: invalid IPv4 address %q", c.Lease.RangeEnd)
		}
	}
	return nil
}

func (c *Config) ServerAddress() (net.IP, error) {
	ip := net.ParseIP(c.Server.Address)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid IPv4 address %q", c.Server.Address)
	}
	return ip.To4(), nil
}

func (c *Config) ServerNetmask() (net.IPMask, error) {
	ip := net.ParseIP(c.Server.Netmask)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("invalid netmask %q", c.Server.Netmask)
	}
	return net.IPMask(ip.To4()), nil
}

func (c *Config) ServerMAC() (net.HardwareAddr, error) {
	hw, err := net.ParseMAC(c.Server.MAC)
	if err != nil {
		return nil, err
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("mac must be 6 bytes, got %d", len(hw))
	}
	return hw, nil
}
