// Command nxsctl drives nxsd over its control socket.
//
// Usage:
//
//	nxsctl [flags] <command> [args]
//	nxsctl [flags] shell
//
// Flags:
//
//	-socket string     Unix socket path (default "/run/nxs/nxsd.sock")
//	-tcp string        Connect over TCP instead, e.g. "evb.local:7341"
//	-mdns              Find the daemon via mDNS (optionally -instance)
//	-instance string   mDNS instance name to connect to
//	-timeout duration  Per-request timeout (default 10s)
//	-retries int       Connection attempts before giving up (default 5)
//
// Commands:
//
//	discover                       List daemons advertised via mDNS
//	ping                           Show daemon version and board
//	nodes                          List registered nodes
//	functions                      List functions
//	request <name> <elements> ...  Request a function, prints its handle
//	remove|connect|start|stop|disconnect|up <handle>
//	get <handle> <pos> <control>   Read a node control
//	set <handle> <pos> <control> <yaml>
//	query <handle> devinfo|state   Query the nodes of a function
//	watch <handle> [count]         Print frame ticks
//	shell                          Interactive mode
//
// Examples:
//
//	# Build and start a capture path
//	h=$(nxsctl request capture dmar:0,cropper:0,scaler:0,dmaw:0)
//	nxsctl up $h
//	nxsctl set $h 1 crop "{left: 0, top: 0, width: 640, height: 480}"
//	nxsctl watch $h 10
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nxs-stream/nxs-go/pkg/discovery"
	"github.com/nxs-stream/nxs-go/pkg/service"
	"github.com/nxs-stream/nxs-go/pkg/transport"
)

// Config holds the client configuration.
type Config struct {
	SocketPath string
	TCPAddress string
	MDNS       bool
	Instance   string
	Timeout    time.Duration
	Retries    int
}

var config Config

func init() {
	flag.StringVar(&config.SocketPath, "socket", transport.DefaultSocketPath, "Unix socket path")
	flag.StringVar(&config.TCPAddress, "tcp", "", "Connect over TCP instead")
	flag.BoolVar(&config.MDNS, "mdns", false, "Find the daemon via mDNS")
	flag.StringVar(&config.Instance, "instance", "", "mDNS instance name to connect to")
	flag.DurationVar(&config.Timeout, "timeout", service.DefaultRequestTimeout, "Per-request timeout")
	flag.IntVar(&config.Retries, "retries", 5, "Connection attempts before giving up")
}

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "nxsctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	if args[0] == "discover" {
		return discover(ctx, cfg, out)
	}

	cc, err := clientConfig(ctx, cfg)
	if err != nil {
		return err
	}
	c, err := service.Dial(ctx, cc)
	if err != nil {
		return err
	}
	defer c.Close()
	c.SetTimeout(cfg.Timeout)

	if _, err := c.Handshake(ctx); err != nil {
		return err
	}

	t := &ctl{c: c, out: out}
	if args[0] != "shell" {
		if args[0] == "watch" {
			// Ctrl-C ends the watch and unsubscribes cleanly.
			var stop context.CancelFunc
			ctx, stop = signal.NotifyContext(ctx, os.Interrupt)
			defer stop()
		}
		return t.exec(ctx, args)
	}

	home, _ := os.UserHomeDir()
	sh, err := newShell(t, filepath.Join(home, ".nxsctl_history"))
	if err != nil {
		return err
	}
	sh.Run(ctx)
	return nil
}

func clientConfig(ctx context.Context, cfg Config) (transport.ClientConfig, error) {
	cc := transport.ClientConfig{
		Network:     transport.NetworkUnix,
		Address:     cfg.SocketPath,
		MaxAttempts: cfg.Retries,
	}
	switch {
	case cfg.TCPAddress != "":
		cc.Network = transport.NetworkTCP
		cc.Address = cfg.TCPAddress
	case cfg.MDNS:
		fctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		svc, err := discovery.NewBrowser(discovery.BrowserConfig{}).Find(fctx, cfg.Instance)
		if err != nil {
			return cc, fmt.Errorf("mdns: %w", err)
		}
		cc.Network = transport.NetworkTCP
		cc.Address = svc.Endpoint()
	}
	return cc, nil
}

func discover(ctx context.Context, cfg Config, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	found, err := discovery.NewBrowser(discovery.BrowserConfig{}).Collect(ctx)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return errors.New("no daemons found")
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tENDPOINT\tBOARD\tVERSION")
	for _, s := range found {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Instance, s.Endpoint(), s.Board, s.Version)
	}
	return w.Flush()
}
