package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
	"github.com/nxs-stream/nxs-go/pkg/resource"
	"github.com/nxs-stream/nxs-go/pkg/service"
	"github.com/nxs-stream/nxs-go/pkg/wire"
)

var errUsage = errors.New("usage")

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, t *ctl, args []string) error
}

var commands = map[string]command{
	"ping":       {"ping", "Show daemon version and board", cmdPing},
	"nodes":      {"nodes", "List registered nodes", cmdNodes},
	"functions":  {"functions", "List functions", cmdFunctions},
	"request":    {"request <name> <elements> [flags=f] [sibling=h] [display=id] [bottom=id] [nobuilder]", "Request a function", cmdRequest},
	"remove":     {"remove <handle>", "Remove a function", cmdRemove},
	"connect":    {"connect <handle>", "Program the routing of a function", lifecycle(opConnect)},
	"start":      {"start <handle>", "Start a function", lifecycle(opStart)},
	"stop":       {"stop <handle>", "Stop a function", lifecycle(opStop)},
	"disconnect": {"disconnect <handle>", "Clear the routing of a function", lifecycle(opDisconnect)},
	"up":         {"up <handle>", "Connect and start a function", cmdUp},
	"get":        {"get <handle> <position> <control>", "Read a node control", cmdGet},
	"set":        {"set <handle> <position> <control> <yaml>", "Write a node control", cmdSet},
	"query":      {"query <handle> devinfo|state", "Query the nodes of a function", cmdQuery},
	"watch":      {"watch <handle> [count]", "Print frame ticks of a function", cmdWatch},
}

// ctl runs commands against one daemon connection.
type ctl struct {
	c   *service.Client
	out io.Writer
}

// exec runs one command line split into words.
func (t *ctl) exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd, ok := commands[strings.ToLower(args[0])]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	err := cmd.run(ctx, t, args[1:])
	if errors.Is(err, errUsage) {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return err
}

func handleArg(args []string, i int) (int, error) {
	if len(args) <= i {
		return 0, errUsage
	}
	h, err := strconv.Atoi(args[i])
	if err != nil || h <= 0 {
		return 0, fmt.Errorf("invalid handle %q", args[i])
	}
	return h, nil
}

func cmdPing(ctx context.Context, t *ctl, _ []string) error {
	p, err := t.c.Ping(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "nxsd %s (protocol %s) board %s\n", p.Version, p.Protocol, p.Board)
	return nil
}

func cmdNodes(ctx context.Context, t *ctl, _ []string) error {
	nodes, err := t.c.ListNodes(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tREF\tOPEN\tCONN\tSTARTED\tTID\tIRQ\tCONTROLS")
	for _, n := range nodes {
		tid := fmt.Sprintf("%#x", n.TID1)
		if n.TID2 != 0 {
			tid += fmt.Sprintf(",%#x", n.TID2)
		}
		irq := "-"
		if n.IRQ != "" {
			irq = fmt.Sprintf("%s (%d)", n.IRQ, n.IRQCount)
		}
		fmt.Fprintf(w, "%s\t%d/%d\t%d\t%d\t%t\t%s\t%s\t%s\n",
			n.Name, n.Refcount, n.MaxRefcount, n.OpenCount, n.ConnectCount,
			n.Started, tid, irq, strings.Join(n.Controls, ","))
	}
	return w.Flush()
}

func cmdFunctions(ctx context.Context, t *ctl, _ []string) error {
	fns, err := t.c.ListFunctions(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tNAME\tSTATE\tREQUESTER\tDISPLAY\tNODES")
	for _, f := range fns {
		owner := f.Requester
		if f.Owned {
			owner += "*"
		}
		display := "-"
		if f.Display != 0 {
			display = strconv.Itoa(f.Display)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			f.Handle, f.Name, f.State, owner, display, strings.Join(f.Nodes, ","))
	}
	return w.Flush()
}

func cmdRequest(ctx context.Context, t *ctl, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	req, useBuilder, err := parseRequest(args[1], args[2:])
	if err != nil {
		return err
	}
	h, err := t.c.RequestFunction(ctx, args[0], req, useBuilder)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "%d\n", h)
	return nil
}

// parseRequest turns "dmar:0,dmaw:0" and key=value options into a request.
func parseRequest(elements string, opts []string) (function.Request, bool, error) {
	var req function.Request
	var err error
	if req.Elements, err = function.ParseElements(elements); err != nil {
		return req, false, err
	}

	useBuilder := true
	for _, opt := range opts {
		key, val, _ := strings.Cut(opt, "=")
		switch key {
		case "flags":
			req.Flags, err = function.ParseFlags(val)
		case "sibling":
			req.SiblingHandle, err = strconv.Atoi(val)
		case "display":
			req.DisplayID, err = strconv.Atoi(val)
		case "bottom":
			req.BottomID, err = strconv.Atoi(val)
		case "nobuilder":
			useBuilder = false
		default:
			err = fmt.Errorf("unknown option %q", opt)
		}
		if err != nil {
			return req, false, fmt.Errorf("%s: %w", key, err)
		}
	}
	return req, useBuilder, nil
}

func cmdRemove(ctx context.Context, t *ctl, args []string) error {
	h, err := handleArg(args, 0)
	if err != nil {
		return err
	}
	return t.c.RemoveFunction(ctx, h)
}

type lifecycleOp int

const (
	opConnect lifecycleOp = iota
	opStart
	opStop
	opDisconnect
)

func (t *ctl) lifecycle(ctx context.Context, op lifecycleOp, h int) error {
	switch op {
	case opConnect:
		return t.c.Connect(ctx, h)
	case opStart:
		return t.c.Start(ctx, h)
	case opStop:
		return t.c.Stop(ctx, h)
	default:
		return t.c.Disconnect(ctx, h)
	}
}

func lifecycle(op lifecycleOp) func(context.Context, *ctl, []string) error {
	return func(ctx context.Context, t *ctl, args []string) error {
		h, err := handleArg(args, 0)
		if err != nil {
			return err
		}
		return t.lifecycle(ctx, op, h)
	}
}

func cmdUp(ctx context.Context, t *ctl, args []string) error {
	h, err := handleArg(args, 0)
	if err != nil {
		return err
	}
	if err := t.c.Connect(ctx, h); err != nil {
		return err
	}
	return t.c.Start(ctx, h)
}

func controlArgs(args []string) (int, int, nxs.ControlType, error) {
	if len(args) < 3 {
		return 0, 0, nxs.ControlNone, errUsage
	}
	h, err := handleArg(args, 0)
	if err != nil {
		return 0, 0, nxs.ControlNone, err
	}
	pos, err := strconv.Atoi(args[1])
	if err != nil || pos < 0 {
		return 0, 0, nxs.ControlNone, fmt.Errorf("invalid position %q", args[1])
	}
	ct, err := nxs.ParseControlType(args[2])
	if err != nil {
		return 0, 0, nxs.ControlNone, err
	}
	return h, pos, ct, nil
}

func cmdGet(ctx context.Context, t *ctl, args []string) error {
	h, pos, ct, err := controlArgs(args)
	if err != nil {
		return err
	}
	ctrl, err := t.c.GetControl(ctx, h, pos, ct)
	if err != nil {
		return err
	}
	text, err := formatControl(ctrl)
	if err != nil {
		return err
	}
	fmt.Fprint(t.out, text)
	return nil
}

func cmdSet(ctx context.Context, t *ctl, args []string) error {
	h, pos, ct, err := controlArgs(args)
	if err != nil {
		return err
	}
	if len(args) < 4 {
		return errUsage
	}
	ctrl, err := parseControl(ct, strings.Join(args[3:], " "))
	if err != nil {
		return err
	}
	return t.c.SetControl(ctx, h, pos, ctrl)
}

func cmdQuery(ctx context.Context, t *ctl, args []string) error {
	h, err := handleArg(args, 0)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errUsage
	}
	kind, err := resource.ParseQueryKind(args[1])
	if err != nil {
		return err
	}
	lines, err := t.c.Query(ctx, h, kind)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(t.out, l)
	}
	return nil
}

// cmdWatch prints frame ticks until count ticks arrived or ctx is done.
// A count of zero watches until ctx is done.
func cmdWatch(ctx context.Context, t *ctl, args []string) error {
	h, err := handleArg(args, 0)
	if err != nil {
		return err
	}
	count := 0
	if len(args) > 1 {
		if count, err = strconv.Atoi(args[1]); err != nil || count < 0 {
			return fmt.Errorf("invalid count %q", args[1])
		}
	}

	ticks := make(chan *wire.Notification, 16)
	t.c.OnNotification(func(n *wire.Notification) {
		select {
		case ticks <- n:
		default:
		}
	})
	defer t.c.OnNotification(nil)

	id, err := t.c.Subscribe(ctx, h)
	if err != nil {
		return err
	}
	defer func() {
		// ctx may already be done; the unsubscribe gets its own deadline.
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), service.DefaultRequestTimeout)
		defer cancel()
		_ = t.c.Unsubscribe(uctx, id)
	}()

	for seen := 0; count == 0 || seen < count; {
		select {
		case n := <-ticks:
			if n.SubscriptionID != id {
				continue
			}
			seen++
			fmt.Fprintf(t.out, "function %d frame %d\n", n.Handle, n.Frame)
		case <-t.c.Done():
			return service.ErrClientClosed
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
