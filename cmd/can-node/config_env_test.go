package main

import (
	"io"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()
	t.Setenv("CAN_NODE_ROLE", "engine-bay")
	t.Setenv("CAN_NODE_BAUD", "230400")
	t.Setenv("CAN_NODE_MDNS_ENABLE", "true")
	t.Setenv("CAN_NODE_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("CAN_NODE_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("CAN_NODE_INBOUND_QUEUE", "0")
	t.Setenv("CAN_NODE_METRICS", ":9100")

	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.role != "engine-bay" {
		t.Fatalf("expected role override, got %s", base.role)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected metrics interval 5s got %v", base.logMetricsEvery)
	}
	if base.metricsAddr != ":9100" {
		t.Fatalf("expected metrics addr got %q", base.metricsAddr)
	}
}

func TestApplyEnvOverrides_FlagWins(t *testing.T) {
	base := baseConfig()
	base.backend = "slcan"
	t.Setenv("CAN_NODE_BACKEND", "socketcan")
	t.Setenv("CAN_NODE_LOG_LEVEL", "debug")
	if err := applyEnvOverrides(base, map[string]struct{}{"backend": {}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.backend != "slcan" {
		t.Fatalf("flag should win, got %s", base.backend)
	}
	if base.logLevel != "debug" {
		t.Fatalf("env should apply to unset flag, got %s", base.logLevel)
	}
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	base := baseConfig()
	t.Setenv("CAN_NODE_BAUD", "fast")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatal("expected error for bad baud")
	}
	if base.baud != 115200 {
		t.Fatalf("bad value must not apply, got %d", base.baud)
	}
}

func TestParseFlags_EnvThroughFlags(t *testing.T) {
	t.Setenv("CAN_NODE_ROLE", "output-test")
	cfg, _, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.role != "output-test" {
		t.Fatalf("env role not applied: %s", cfg.role)
	}
	cfg, _, err = parseFlags([]string{"-role", "dashboard"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.role != "dashboard" {
		t.Fatalf("flag should win: %s", cfg.role)
	}
}
