package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-can-node/internal/metrics"
	"github.com/kstaniek/go-can-node/internal/node"
)

func main() { os.Exit(run(os.Args[1:])) }

func run(args []string) int {
	cfg, showVersion, err := parseFlags(args, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if showVersion {
		fmt.Printf("can-node %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel, cfg.role)
	prof, err := cfg.profile()
	if err != nil {
		l.Error("profile_error", "error", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	sc, rig, err := initSensors(cfg.sensors)
	if err != nil {
		l.Error("sensors_init_error", "error", err)
		return 1
	}
	wg.Add(1)
	go func() { defer wg.Done(); rig.Play(ctx, sc, l) }()

	ctl, err := initBackend(cfg, prof.Role != node.RoleOutputTest, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return 1
	}
	if ctl != nil {
		defer func() { _ = ctl.Close() }()
	}

	n, err := node.New(prof, ctl, peripherals(rig), l)
	if err != nil {
		l.Error("node_init_error", "error", err)
		return 1
	}

	metrics.SetReadinessFunc(func() bool { return n.Ready() && ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date, string(prof.Role))
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()

		if port := portOf(cfg.metricsAddr); cfg.mdnsEnable && port == 0 {
			l.Warn("mdns_start_failed", "error", "metrics-addr has no port", "addr", cfg.metricsAddr)
		} else if cfg.mdnsEnable {
			cleanupMDNS, err := startMDNS(ctx, cfg, prof.NodeID, port)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
			} else {
				l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
				defer cleanupMDNS()
			}
		}
	} else if cfg.mdnsEnable {
		l.Warn("mdns_start_failed", "error", "mdns advertises the metrics endpoint; set -metrics-addr")
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case s := <-sigCh:
			l.Info("shutdown_signal", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	err = n.Run(ctx)
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		l.Error("node_error", "error", err)
		return 1
	}
	return 0
}
