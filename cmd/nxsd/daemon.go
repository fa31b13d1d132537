package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/nxs-stream/nxs-go/pkg/board"
	"github.com/nxs-stream/nxs-go/pkg/discovery"
	"github.com/nxs-stream/nxs-go/pkg/hw"
	"github.com/nxs-stream/nxs-go/pkg/log"
	"github.com/nxs-stream/nxs-go/pkg/metrics"
	"github.com/nxs-stream/nxs-go/pkg/resource"
	"github.com/nxs-stream/nxs-go/pkg/service"
	"github.com/nxs-stream/nxs-go/pkg/transport"
	"github.com/nxs-stream/nxs-go/pkg/version"
)

const shutdownTimeout = 5 * time.Second

type daemon struct {
	cfg    Config
	fs     afero.Fs
	logger *slog.Logger

	// ready is closed once every listener is up. Optional.
	ready chan struct{}

	svc         *service.Service
	metricsAddr net.Addr
}

// run serves until ctx is done, then tears everything down.
func (d *daemon) run(ctx context.Context) error {
	b, err := board.Load(d.fs, d.cfg.BoardFile)
	if err != nil {
		return err
	}
	d.logger.Info("nxsd starting", "version", version.Build, "protocol", version.Protocol, "board", b.Name)

	trace, closeTrace, err := d.openTrace()
	if err != nil {
		return err
	}
	defer closeTrace()

	chip := hw.NewChip(hw.ChipConfig{Lines: b.IRQLines, Logger: d.logger})
	m := resource.NewManager(resource.Config{Logger: d.logger, Trace: trace})

	if _, err := board.Apply(b, board.Env{Manager: m, Chip: chip, Logger: d.logger}); err != nil {
		return fmt.Errorf("apply board %s: %w", b.Name, err)
	}
	defer func() {
		if err := m.Shutdown(); err != nil {
			d.logger.Warn("manager shutdown incomplete", "error", err)
		}
	}()

	svc, err := service.New(service.Config{
		Manager: m,
		Version: version.Build,
		Board:   b.Name,
		Logger:  d.logger,
		Trace:   trace,
	})
	if err != nil {
		return err
	}
	d.svc = svc

	var metricsListener net.Listener
	if d.cfg.Metrics != "" {
		if metricsListener, err = net.Listen("tcp", d.cfg.Metrics); err != nil {
			return fmt.Errorf("metrics: could not listen: %w", err)
		}
		d.metricsAddr = metricsListener.Addr()
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := svc.Start(ctx, d.listeners(trace)...); err != nil {
		closeListener(metricsListener)
		return err
	}
	var adv *discovery.Advertiser
	if d.cfg.MDNS {
		if adv, err = d.advertise(ctx, b.Name, svc.Addrs()); err != nil {
			closeListener(metricsListener)
			_ = svc.Stop()
			return err
		}
	}

	g.Go(func() error {
		err := chip.Run(ctx, b.VSync)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		if adv != nil {
			adv.Stop()
		}
		return svc.Stop()
	})

	if metricsListener != nil {
		d.serveMetrics(ctx, g, metricsListener, metrics.Config{Manager: m, Service: svc, Frames: chip})
	}

	if d.ready != nil {
		close(d.ready)
	}

	err = g.Wait()
	d.logger.Info("nxsd stopped", "error", err)
	return err
}

func (d *daemon) openTrace() (log.Logger, func(), error) {
	if d.cfg.TraceFile == "" {
		return nil, func() {}, nil
	}
	fl, err := log.NewFileLoggerFs(d.fs, d.cfg.TraceFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace: %w", err)
	}
	var trace log.Logger = fl
	if d.logger.Enabled(context.Background(), slog.LevelDebug) {
		trace = log.NewMultiLogger(fl, log.NewSlogAdapter(d.logger))
	}
	return trace, func() {
		if err := fl.Close(); err != nil {
			d.logger.Warn("close trace", "error", err)
		}
	}, nil
}

func (d *daemon) listeners(trace log.Logger) []transport.ServerConfig {
	var out []transport.ServerConfig
	if d.cfg.SocketPath != "" {
		out = append(out, transport.ServerConfig{
			Network:    transport.NetworkUnix,
			Address:    d.cfg.SocketPath,
			SocketMode: os.FileMode(d.cfg.SocketMode),
			Logger:     trace,
		})
	}
	if d.cfg.TCPAddress != "" {
		out = append(out, transport.ServerConfig{
			Network: transport.NetworkTCP,
			Address: d.cfg.TCPAddress,
			Logger:  trace,
		})
	}
	return out
}

func (d *daemon) serveMetrics(ctx context.Context, g *errgroup.Group, l net.Listener, cfg metrics.Config) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(metrics.NewRegistry(metrics.NewCollector(cfg))))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	g.Go(func() error {
		if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	d.logger.Info("metrics listening", "address", l.Addr().String())
}

func closeListener(l net.Listener) {
	if l != nil {
		_ = l.Close()
	}
}

func (d *daemon) advertise(ctx context.Context, boardName string, addrs []net.Addr) (*discovery.Advertiser, error) {
	var port int
	for _, a := range addrs {
		if tcp, ok := a.(*net.TCPAddr); ok {
			port = tcp.Port
		}
	}
	if port == 0 {
		return nil, errors.New("mdns: no TCP listener to advertise")
	}

	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Interface: d.cfg.MDNSIface, Logger: d.logger})
	err := adv.Advertise(ctx, discovery.Info{
		Port:       uint16(port),
		Board:      boardName,
		Version:    version.Build,
		SocketPath: d.cfg.SocketPath,
	})
	if err != nil {
		return nil, err
	}
	return adv, nil
}
