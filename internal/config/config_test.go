package config

import (
	"testing"
	"time"

	"github.com/flowline-labs/tsunamigo/internal/errs"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

func validGetConfig() GetConfig {
	return GetConfig{
		Endpoint:     Endpoint{Host: "example.org", Port: 7000},
		Paths:        []string{"a.bin"},
		OutputDir:    "/tmp/out",
		BlockSize:    1024,
		TargetRate:   1_000_000,
		ErrorRate:    1000,
		Slowdown:     wire.Fraction{Num: 2, Den: 1},
		Speedup:      wire.Fraction{Num: 9, Den: 10},
		UdpMethod:    wire.UdpMethod{Kind: wire.UdpMethodDiscovery},
		RingMultiple: 4,
		Timeout:      5 * time.Second,
	}
}

func TestGetConfigValid(t *testing.T) {
	if err := validGetConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestGetConfigRejectsZeroBlockSize(t *testing.T) {
	c := validGetConfig()
	c.BlockSize = 0
	assertConfigErr(t, c.Validate())
}

func TestGetConfigRejectsZeroTargetRate(t *testing.T) {
	c := validGetConfig()
	c.TargetRate = 0
	assertConfigErr(t, c.Validate())
}

func TestGetConfigRejectsZeroSlowdownDenominator(t *testing.T) {
	c := validGetConfig()
	c.Slowdown.Den = 0
	assertConfigErr(t, c.Validate())
}

func TestGetConfigRejectsZeroSpeedupDenominator(t *testing.T) {
	c := validGetConfig()
	c.Speedup.Den = 0
	assertConfigErr(t, c.Validate())
}

func TestGetConfigRejectsStaticPortZero(t *testing.T) {
	c := validGetConfig()
	c.UdpMethod = wire.UdpMethod{Kind: wire.UdpMethodStaticPort, Port: 0}
	assertConfigErr(t, c.Validate())
}

func TestGetConfigRejectsNoPaths(t *testing.T) {
	c := validGetConfig()
	c.Paths = nil
	assertConfigErr(t, c.Validate())
}

func TestGetConfigRejectsBadPort(t *testing.T) {
	c := validGetConfig()
	c.Port = 0
	assertConfigErr(t, c.Validate())
}

func validServeConfig() ServeConfig {
	return ServeConfig{
		BindHost:     "0.0.0.0",
		BindPort:     7000,
		ShareDir:     "/srv/share",
		RingMultiple: 4,
	}
}

func TestServeConfigValid(t *testing.T) {
	if err := validServeConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestServeConfigRejectsEmptyShareDir(t *testing.T) {
	c := validServeConfig()
	c.ShareDir = ""
	assertConfigErr(t, c.Validate())
}

func TestServeConfigRejectsBadMetricsAddr(t *testing.T) {
	c := validServeConfig()
	c.MetricsAddr = "not-a-host-port"
	assertConfigErr(t, c.Validate())
}

func TestServeConfigAllowsEmptyMetricsAddr(t *testing.T) {
	c := validServeConfig()
	c.MetricsAddr = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("empty metrics_addr should disable the listener, not fail validation: %v", err)
	}
}

func TestDirConfigValid(t *testing.T) {
	c := DirConfig{Endpoint: Endpoint{Host: "example.org", Port: 7000}, Timeout: time.Second}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestDirConfigRejectsZeroTimeout(t *testing.T) {
	c := DirConfig{Endpoint: Endpoint{Host: "example.org", Port: 7000}}
	assertConfigErr(t, c.Validate())
}

func assertConfigErr(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected a validation error, got nil")
	}
	if errs.KindOf(err) != errs.Config {
		t.Fatalf("err kind = %v, want Config", errs.KindOf(err))
	}
}
