// Package config holds validated, CLI-framework-independent configuration
// structs for the three tsunamigo subcommands (dir, get, serve). Populating
// one of these is the sole job of cmd/tsunami; every other package accepts
// plain values rather than reaching into a config struct, so nothing here
// leaks into internal/session, internal/sender, or internal/receiver.
package config

import (
	"net"
	"time"

	"github.com/flowline-labs/tsunamigo/internal/errs"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

// Endpoint is the client-side configuration shared by the dir and get
// subcommands: where to reach the server's control channel and whether to
// wrap it in the Noise transport.
type Endpoint struct {
	Host       string
	Port       int
	Secure     bool
	SecretFile string
	IPv6       bool
}

func (e Endpoint) validate() error {
	if e.Host == "" {
		return errs.New(errs.Config, "host must not be empty")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return errs.New(errs.Config, "port out of range")
	}
	return nil
}

// DirConfig configures the "dir" subcommand: list the files a server shares.
type DirConfig struct {
	Endpoint
	Timeout time.Duration
}

// Validate rejects malformed DirConfig values, returning a CONFIG-kind
// error.
func (c DirConfig) Validate() error {
	if err := c.Endpoint.validate(); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return errs.New(errs.Config, "timeout must be positive")
	}
	return nil
}

// GetConfig configures the "get" subcommand: download one or more files.
// Fields mirror wire.FileRequest plus the UDP discovery method and local
// output directory, so a populated GetConfig maps 1:1 onto the FileRequest
// the client sends.
type GetConfig struct {
	Endpoint
	Paths        []string
	OutputDir    string
	BlockSize    uint32
	TargetRate   uint64
	ErrorRate    uint32
	Slowdown     wire.Fraction
	Speedup      wire.Fraction
	UdpMethod    wire.UdpMethod
	RingMultiple int
	Timeout      time.Duration
}

// Validate rejects malformed GetConfig values, returning a CONFIG-kind
// error. It does not touch the network or filesystem.
func (c GetConfig) Validate() error {
	if err := c.Endpoint.validate(); err != nil {
		return err
	}
	if len(c.Paths) == 0 {
		return errs.New(errs.Config, "at least one file path is required")
	}
	if c.OutputDir == "" {
		return errs.New(errs.Config, "output directory must not be empty")
	}
	if c.BlockSize == 0 {
		return errs.New(errs.Config, "block_size must be non-zero")
	}
	if c.TargetRate == 0 {
		return errs.New(errs.Config, "target_rate must be non-zero")
	}
	if c.Slowdown.Den == 0 {
		return errs.New(errs.Config, "slowdown denominator must be non-zero")
	}
	if c.Speedup.Den == 0 {
		return errs.New(errs.Config, "speedup denominator must be non-zero")
	}
	if c.UdpMethod.Kind == wire.UdpMethodStaticPort && c.UdpMethod.Port == 0 {
		return errs.New(errs.Config, "static udp port must be non-zero")
	}
	if c.RingMultiple <= 0 {
		return errs.New(errs.Config, "ring_multiple must be positive")
	}
	if c.Timeout <= 0 {
		return errs.New(errs.Config, "timeout must be positive")
	}
	return nil
}

// ServeConfig configures the "serve" subcommand: the set of shareable files
// and the binding behavior for control and metrics listeners.
type ServeConfig struct {
	BindHost     string
	BindPort     int
	IPv6         bool
	Secure       bool
	SecretFile   string
	ShareDir     string
	MetricsAddr  string // empty disables the /metrics listener
	RingMultiple int
}

// Validate rejects malformed ServeConfig values, returning a CONFIG-kind
// error.
func (c ServeConfig) Validate() error {
	if c.BindHost == "" {
		return errs.New(errs.Config, "bind host must not be empty")
	}
	if c.BindPort <= 0 || c.BindPort > 65535 {
		return errs.New(errs.Config, "bind port out of range")
	}
	if c.ShareDir == "" {
		return errs.New(errs.Config, "share directory must not be empty")
	}
	if c.RingMultiple <= 0 {
		return errs.New(errs.Config, "ring_multiple must be positive")
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return errs.Wrap(errs.Config, "metrics_addr must be host:port", err)
		}
	}
	return nil
}
