package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/nxs-stream/nxs-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Sessions          map[string]*SessionStats
	Nodes             map[string]*NodeStats
	Functions         map[int]*FunctionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single control-plane session.
type SessionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	RemoteAddr string
}

// NodeStats counts claim traffic on one node.
type NodeStats struct {
	Gets    int
	Puts    int
	Rejects int
}

// FunctionStats tracks one function handle.
type FunctionStats struct {
	LastState string
	Frames    uint64
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Sessions:          make(map[string]*SessionStats),
		Nodes:             make(map[string]*NodeStats),
		Functions:         make(map[int]*FunctionStats),
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	if event.Layer == log.LayerTransport || event.Layer == log.LayerWire {
		s.EventsByDirection[event.Direction]++
	}

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.SessionID != "" {
		sess, ok := s.Sessions[event.SessionID]
		if !ok {
			sess = &SessionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			s.Sessions[event.SessionID] = sess
		}
		sess.Events++
		if event.Timestamp.After(sess.LastSeen) {
			sess.LastSeen = event.Timestamp
		}
		if event.RemoteAddr != "" && sess.RemoteAddr == "" {
			sess.RemoteAddr = event.RemoteAddr
		}
	}

	if event.Claim != nil && event.Node != "" {
		n, ok := s.Nodes[event.Node]
		if !ok {
			n = &NodeStats{}
			s.Nodes[event.Node] = n
		}
		switch event.Claim.Action {
		case log.ClaimActionGet:
			n.Gets++
		case log.ClaimActionPut:
			n.Puts++
		case log.ClaimActionReject:
			n.Rejects++
		}
	}

	if event.Handle != 0 && (event.IRQ != nil || event.StateChange != nil) {
		f, ok := s.Functions[event.Handle]
		if !ok {
			f = &FunctionStats{}
			s.Functions[event.Handle] = f
		}
		if event.IRQ != nil && event.IRQ.Frame > f.Frames {
			f.Frames = event.IRQ.Frame
		}
		if event.StateChange != nil && event.StateChange.Entity == log.StateEntityFunction {
			f.LastState = event.StateChange.NewState
		}
	}

	if event.Error != nil {
		s.Errors++
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(fs afero.Fs, path string, w io.Writer) error {
	stats := newStats()
	err := forEach(fs, path, log.Filter{}, func(event log.Event) error {
		stats.add(event)
		return nil
	})
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== NXS Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerService, log.LayerGraph, log.LayerNode} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryClaim, log.CategoryState, log.CategoryIRQ, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.EventsByDirection) > 0 {
		fmt.Fprintln(w, "Events by Direction:")
		for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
			if count := stats.EventsByDirection[dir]; count > 0 {
				fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		ids := make([]string, 0, len(stats.Sessions))
		for id := range stats.Sessions {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return stats.Sessions[ids[i]].FirstSeen.Before(stats.Sessions[ids[j]].FirstSeen)
		})
		for _, id := range ids {
			s := stats.Sessions[id]
			duration := s.LastSeen.Sub(s.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenSessionID(id), s.Events, duration)
			if s.RemoteAddr != "" {
				fmt.Fprintf(w, "           Peer: %s\n", s.RemoteAddr)
			}
		}
	}

	if len(stats.Nodes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Claims by Node:")
		names := make([]string, 0, len(stats.Nodes))
		for name := range stats.Nodes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			n := stats.Nodes[name]
			fmt.Fprintf(w, "  %-14s get=%d put=%d reject=%d\n", name+":", n.Gets, n.Puts, n.Rejects)
		}
	}

	if len(stats.Functions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Functions:")
		handles := make([]int, 0, len(stats.Functions))
		for h := range stats.Functions {
			handles = append(handles, h)
		}
		sort.Ints(handles)
		for _, h := range handles {
			f := stats.Functions[h]
			state := f.LastState
			if state == "" {
				state = "-"
			}
			fmt.Fprintf(w, "  [%d] state %s, %d frames\n", h, state, f.Frames)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
