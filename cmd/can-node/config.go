package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/node"
	"github.com/kstaniek/go-can-node/internal/queue"
)

type appConfig struct {
	role            string
	nodeID          string // empty = role default
	backend         string
	canIf           string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	slcanBitrate    int
	queuePolicy     string
	inboundQueue    int // 0 = role default
	outboundQueue   int // 0 = role default
	sensors         string
	metricsAddr     string
	mdnsEnable      bool
	mdnsName        string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
}

func parseFlags(args []string, stderr io.Writer) (*appConfig, bool, error) {
	cfg := &appConfig{}
	fs := flag.NewFlagSet("can-node", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.role, "role", string(node.RoleDashboard), "Node role: engine-bay|dashboard|diagnostic|output-test")
	fs.StringVar(&cfg.nodeID, "node-id", "", "Override the role's CAN node id (e.g. 0x310); empty keeps the default")
	fs.StringVar(&cfg.backend, "backend", "socketcan", "CAN backend: socketcan|slcan")
	fs.StringVar(&cfg.canIf, "can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyACM0", "SLCAN serial device (when --backend=slcan)")
	fs.IntVar(&cfg.baud, "baud", 115200, "SLCAN serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "SLCAN serial read timeout")
	fs.IntVar(&cfg.slcanBitrate, "slcan-bitrate", 500000, "CAN bitrate programmed into the SLCAN adapter")
	fs.StringVar(&cfg.queuePolicy, "queue-policy", queue.DropOldest.String(), "Full queue policy: drop-oldest|drop-newest")
	fs.IntVar(&cfg.inboundQueue, "inbound-queue", 0, "Inbound queue depth (0 = role default)")
	fs.IntVar(&cfg.outboundQueue, "outbound-queue", 0, "Outbound queue depth (0 = role default)")
	fs.StringVar(&cfg.sensors, "sensors", "", "YAML scenario for the simulated peripherals; empty uses defaults")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the metrics endpoint via mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default can-node-<role>-<hostname>)")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, false, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if _, err := node.ParseRole(c.role); err != nil {
		return err
	}
	switch c.backend {
	case "socketcan", "slcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if _, err := queue.ParsePolicy(c.queuePolicy); err != nil {
		return err
	}
	if _, err := c.parseNodeID(); err != nil {
		return err
	}
	if c.inboundQueue < 0 || c.outboundQueue < 0 {
		return fmt.Errorf("queue depths must be >= 0")
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.slcanBitrate <= 0 {
		return fmt.Errorf("slcan-bitrate must be > 0 (got %d)", c.slcanBitrate)
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// parseNodeID returns 0 when the role default applies.
func (c *appConfig) parseNodeID() (uint32, error) {
	if c.nodeID == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(c.nodeID, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node-id %q: %w", c.nodeID, err)
	}
	if v == 0 || v > can.CAN_SFF_MASK {
		return 0, fmt.Errorf("node-id 0x%X outside 0x001..0x7FF", v)
	}
	return uint32(v), nil
}

// profile resolves the compiled-in role profile with the command line
// plumbing overrides applied.
func (c *appConfig) profile() (node.Profile, error) {
	role, err := node.ParseRole(c.role)
	if err != nil {
		return node.Profile{}, err
	}
	p, err := node.DefaultProfile(role)
	if err != nil {
		return node.Profile{}, err
	}
	if id, err := c.parseNodeID(); err != nil {
		return node.Profile{}, err
	} else if id != 0 {
		p.NodeID = id
	}
	if p.QueuePolicy, err = queue.ParsePolicy(c.queuePolicy); err != nil {
		return node.Profile{}, err
	}
	if c.inboundQueue > 0 {
		p.InboundDepth = c.inboundQueue
	}
	if c.outboundQueue > 0 {
		p.OutboundDepth = c.outboundQueue
	}
	return p, p.Validate()
}

// applyEnvOverrides maps CAN_NODE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Durations accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(flagName, key string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(flagName, key string, dst *string) {
		if v, ok := get(flagName, key); ok {
			*dst = v
		}
	}
	num := func(flagName, key string, min int, dst *int) {
		if v, ok := get(flagName, key); ok {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %q", key, v)
			}
		}
	}
	dur := func(flagName, key string, dst *time.Duration) {
		if v, ok := get(flagName, key); ok {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				*dst = d
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %q", key, v)
			}
		}
	}

	str("role", "CAN_NODE_ROLE", &c.role)
	str("node-id", "CAN_NODE_ID", &c.nodeID)
	str("backend", "CAN_NODE_BACKEND", &c.backend)
	str("can-if", "CAN_NODE_IF", &c.canIf)
	str("serial", "CAN_NODE_SERIAL", &c.serialDev)
	num("baud", "CAN_NODE_BAUD", 1, &c.baud)
	dur("serial-read-timeout", "CAN_NODE_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	num("slcan-bitrate", "CAN_NODE_SLCAN_BITRATE", 1, &c.slcanBitrate)
	str("queue-policy", "CAN_NODE_QUEUE_POLICY", &c.queuePolicy)
	num("inbound-queue", "CAN_NODE_INBOUND_QUEUE", 0, &c.inboundQueue)
	num("outbound-queue", "CAN_NODE_OUTBOUND_QUEUE", 0, &c.outboundQueue)
	str("sensors", "CAN_NODE_SENSORS", &c.sensors)
	if _, ok := set["metrics-addr"]; !ok {
		// an explicitly empty value disables metrics
		if v, ok := os.LookupEnv("CAN_NODE_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	if v, ok := get("mdns-enable", "CAN_NODE_MDNS_ENABLE"); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.mdnsEnable = true
		case "0", "false", "no", "off":
			c.mdnsEnable = false
		}
	}
	str("mdns-name", "CAN_NODE_MDNS_NAME", &c.mdnsName)
	str("log-format", "CAN_NODE_LOG_FORMAT", &c.logFormat)
	str("log-level", "CAN_NODE_LOG_LEVEL", &c.logLevel)
	dur("log-metrics-interval", "CAN_NODE_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	return firstErr
}
