package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/spf13/cobra"

	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/kstaniek/go-can-node/internal/ota"
)

const mdnsServiceType = "_can-ota._tcp"

var (
	version = "dev"
	commit  = "none"
)

type serveOptions struct {
	dir       string
	listen    string
	mdns      bool
	mdnsName  string
	logFormat string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ota-server",
		Short:         "Firmware file server for CAN nodes",
		Version:       fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve firmware images over HTTP",
		Long: `Serve every regular file in --dir as GET /<filename>.

Nodes fetch their image by plain file name; responses carry Content-Length and
the server logs a CRC32 of every image it sends.

Examples:
  ota-server serve --dir ./firmware
  ota-server serve --dir /srv/fw --listen :8080 --mdns`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.dir, "dir", "d", ".", "Directory holding firmware images")
	f.StringVarP(&o.listen, "listen", "l", ":8266", "HTTP listen address")
	f.BoolVar(&o.mdns, "mdns", false, "Advertise the server via mDNS")
	f.StringVar(&o.mdnsName, "mdns-name", "", "mDNS instance name (default ota-server-<hostname>)")
	f.StringVar(&o.logFormat, "log-format", "text", "Log format: text|json")
	f.StringVar(&o.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	return cmd
}

func serve(ctx context.Context, o *serveOptions) error {
	st, err := os.Stat(o.dir)
	if err != nil {
		return fmt.Errorf("firmware dir: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("firmware dir %s: not a directory", o.dir)
	}
	l := logging.New(o.logFormat, logging.ParseLevel(o.logLevel), os.Stderr).With("app", "ota-server")
	logging.Set(l)

	ln, err := net.Listen("tcp", o.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", o.listen, err)
	}
	return serveListener(ctx, ln, o, l)
}

func serveListener(ctx context.Context, ln net.Listener, o *serveOptions, l *slog.Logger) error {
	srv := &http.Server{Handler: ota.Handler(o.dir, l), ReadHeaderTimeout: 5 * time.Second}
	l.Info("ota_listen", "addr", ln.Addr().String(), "dir", o.dir)

	if o.mdns {
		port := ln.Addr().(*net.TCPAddr).Port
		if svc, err := registerMDNS(o.mdnsName, port); err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else {
			l.Info("mdns_started", "service", mdnsServiceType, "port", port)
			defer svc.Shutdown()
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	l.Info("shutdown_signal")
	shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shCtx)
}

func registerMDNS(instance string, port int) (*zeroconf.Server, error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = "ota-server-" + host
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, []string{"version=" + version}, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	return svc, nil
}
