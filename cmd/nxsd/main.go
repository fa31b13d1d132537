// Command nxsd is the stream fabric daemon.
//
// It loads a board description, registers the board's nodes with the
// resource manager, builds the board's kernel functions and serves the
// control plane on a unix socket (and optionally TCP).
//
// Usage:
//
//	nxsd [flags]
//
// Flags:
//
//	-board string        Board description file (default "/etc/nxs/board.yaml")
//	-socket string       Unix socket path (default "/run/nxs/nxsd.sock")
//	-socket-mode int     Unix socket permissions (default 0660)
//	-tcp string          Also listen on this TCP address, e.g. ":7341"
//	-mdns                Advertise the TCP endpoint via mDNS
//	-mdns-iface string   Restrict mDNS to one interface
//	-metrics string      Serve Prometheus metrics on this address
//	-trace string        Write a CBOR event trace to this file
//	-log-level string    Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Run with the shipped evaluation board
//	nxsd -board boards/s5p6818-evb.yaml -socket /tmp/nxsd.sock
//
//	# Expose the control plane to the network and advertise it
//	nxsd -tcp :7341 -mdns -metrics :9371
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/nxs-stream/nxs-go/pkg/transport"
)

// Config holds the daemon configuration.
type Config struct {
	BoardFile  string
	SocketPath string
	SocketMode uint
	TCPAddress string
	MDNS       bool
	MDNSIface  string
	Metrics    string
	TraceFile  string
	LogLevel   string
}

var config Config

func init() {
	flag.StringVar(&config.BoardFile, "board", "/etc/nxs/board.yaml", "Board description file")
	flag.StringVar(&config.SocketPath, "socket", transport.DefaultSocketPath, "Unix socket path")
	flag.UintVar(&config.SocketMode, "socket-mode", uint(transport.DefaultSocketMode), "Unix socket permissions")
	flag.StringVar(&config.TCPAddress, "tcp", "", "Also listen on this TCP address")
	flag.BoolVar(&config.MDNS, "mdns", false, "Advertise the TCP endpoint via mDNS")
	flag.StringVar(&config.MDNSIface, "mdns-iface", "", "Restrict mDNS to one interface")
	flag.StringVar(&config.Metrics, "metrics", "", "Serve Prometheus metrics on this address")
	flag.StringVar(&config.TraceFile, "trace", "", "Write a CBOR event trace to this file")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	if err := validateConfig(&config); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	level, _ := parseLevel(config.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := &daemon{cfg: config, fs: afero.NewOsFs(), logger: logger}
	if err := d.run(ctx); err != nil {
		logger.Error("nxsd failed", "error", err)
		os.Exit(1)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.BoardFile == "" {
		return fmt.Errorf("-board is required")
	}
	if cfg.SocketPath == "" && cfg.TCPAddress == "" {
		return fmt.Errorf("need -socket or -tcp")
	}
	if cfg.MDNS && cfg.TCPAddress == "" {
		return fmt.Errorf("-mdns requires -tcp")
	}
	if cfg.SocketMode > 0o777 {
		return fmt.Errorf("-socket-mode %o out of range", cfg.SocketMode)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
