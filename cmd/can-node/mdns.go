package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_can-node._tcp"

// startMDNS advertises the metrics endpoint and returns a cleanup function.
// It is safe to call even if disabled (no-op).
func startMDNS(ctx context.Context, cfg *appConfig, nodeID uint32, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("can-node-%s-%s", cfg.role, host)
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, mdnsMeta(cfg, nodeID), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}

func mdnsMeta(cfg *appConfig, nodeID uint32) []string {
	return []string{
		"role=" + cfg.role,
		fmt.Sprintf("node_id=0x%03X", nodeID),
		"backend=" + cfg.backend,
		"version=" + version,
		"commit=" + commit,
	}
}

// portOf extracts the numeric port from host:port or :port; 0 if absent.
func portOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
