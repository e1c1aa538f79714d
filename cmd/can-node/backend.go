package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-can-node/internal/bus"
	"github.com/kstaniek/go-can-node/internal/slcan"
	"github.com/kstaniek/go-can-node/internal/socketcan"
)

// openSocketCAN is a hook for tests (overridden in unit tests).
var openSocketCAN = func(iface string) (bus.Controller, error) {
	dev, err := socketcan.Open(iface)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = slcan.OpenPort

// initBackend opens the configured CAN controller. Roles without bus traffic
// get a nil controller. It returns an error instead of exiting the process to
// allow graceful handling by the caller.
func initBackend(cfg *appConfig, usesBus bool, l *slog.Logger) (bus.Controller, error) {
	if !usesBus {
		return nil, nil
	}
	switch cfg.backend {
	case "socketcan":
		ctl, err := openSocketCAN(cfg.canIf)
		if err != nil {
			return nil, fmt.Errorf("open socketcan %s: %w", cfg.canIf, err)
		}
		l.Info("socketcan_open", "if", cfg.canIf)
		return ctl, nil
	case "slcan":
		sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, fmt.Errorf("open serial: %w", err)
		}
		l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
		ctl := slcan.NewController(sp, slcan.DefaultRxDepth, l)
		if err := ctl.Init(cfg.slcanBitrate); err != nil {
			_ = ctl.Close()
			return nil, err
		}
		return ctl, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use socketcan|slcan)", cfg.backend)
	}
}
