// Package commands implements the nxs-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/nxs-stream/nxs-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Node      string
	Handle    *int
}

func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
		Node:      f.Node,
		Handle:    f.Handle,
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [subject] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	fmt.Fprintf(w, "%s [%s] %-3s %s %s\n", ts, subject(event), direction(event), event.Layer.String(), typeLabel(event))

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Claim != nil:
		formatClaimDetails(w, event.Claim)
	case event.IRQ != nil:
		formatIRQDetails(w, event.IRQ)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// subject names what the event is about: a node, a function or a session.
func subject(event log.Event) string {
	switch {
	case event.Node != "":
		if event.Handle != 0 {
			return fmt.Sprintf("%s fn:%d", event.Node, event.Handle)
		}
		return event.Node
	case event.Handle != 0:
		return fmt.Sprintf("fn:%d", event.Handle)
	case event.SessionID != "":
		return "sess:" + shortenSessionID(event.SessionID)
	default:
		return "-"
	}
}

// direction only means something for transport and wire events.
func direction(event log.Event) string {
	if event.Layer == log.LayerTransport || event.Layer == log.LayerWire {
		return event.Direction.String()
	}
	return "-"
}

func typeLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.StateChange != nil:
		return "State"
	case event.Claim != nil:
		return "Claim"
	case event.IRQ != nil:
		return "IRQ"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  MessageID: %d\n", msg.MessageID)

	switch msg.Type {
	case log.MessageTypeRequest:
		if msg.Operation != nil {
			fmt.Fprintf(w, "  Operation: %s\n", msg.Operation.String())
		}
	case log.MessageTypeResponse:
		if msg.Status != nil {
			fmt.Fprintf(w, "  Status: %s (%d)\n", msg.Status.String(), *msg.Status)
		}
		if msg.ProcessingTime != nil {
			fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*msg.ProcessingTime))
		}
	case log.MessageTypeNotification:
		if msg.SubscriptionID != nil {
			fmt.Fprintf(w, "  SubscriptionID: %d\n", *msg.SubscriptionID)
		}
	}

	if len(msg.Payload) > 0 {
		fmt.Fprintf(w, "  Payload: %d bytes\n", len(msg.Payload))
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatClaimDetails(w io.Writer, c *log.ClaimEvent) {
	fmt.Fprintf(w, "  %s by %s", c.Action.String(), c.Requester)
	if c.Follow {
		fmt.Fprint(w, " (follow)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Refcount: %d/%d\n", c.Refcount, c.MaxRefcount)
}

func formatIRQDetails(w io.Writer, irq *log.IRQEvent) {
	fmt.Fprintf(w, "  Frame: %d\n", irq.Frame)
	if irq.Committed > 0 {
		fmt.Fprintf(w, "  Committed: %d nodes\n", irq.Committed)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "service":
		return log.LayerService, nil
	case "graph":
		return log.LayerGraph, nil
	case "node":
		return log.LayerNode, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, service, graph or node)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "claim":
		return log.CategoryClaim, nil
	case "state":
		return log.CategoryState, nil
	case "irq":
		return log.CategoryIRQ, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, claim, state, irq or error)", s)
	}
}

// forEach streams the events of path matching filter into fn.
func forEach(fs afero.Fs, path string, filter log.Filter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReaderFs(fs, path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// RunView executes the view command.
func RunView(fs afero.Fs, path string, filter ViewFilter, output io.Writer) error {
	return forEach(fs, path, filter.logFilter(), func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}
