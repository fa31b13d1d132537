package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/afero"

	"github.com/nxs-stream/nxs-go/pkg/log"
)

// RunExport exports the log file to the specified format. An empty output
// writes to stdout.
func RunExport(fs afero.Fs, path, format, output string, stdout io.Writer) error {
	var write func(io.Writer) error
	switch format {
	case "jsonl":
		write = func(w io.Writer) error { return exportJSONL(fs, path, w) }
	case "csv":
		write = func(w io.Writer) error { return exportCSV(fs, path, w) }
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	if output == "" {
		return write(stdout)
	}
	f, err := fs.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()
	return write(f)
}

func exportJSONL(fs afero.Fs, path string, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return forEach(fs, path, log.Filter{}, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

func exportCSV(fs afero.Fs, path string, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "session_id", "direction", "layer", "category", "node", "handle", "type", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := forEach(fs, path, log.Filter{}, func(event log.Event) error {
		handle := ""
		if event.Handle != 0 {
			handle = strconv.Itoa(event.Handle)
		}
		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.SessionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.Node,
			handle,
			typeLabel(event),
			detail(event),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// detail is a one-cell summary of the event payload.
func detail(event log.Event) string {
	switch {
	case event.Message != nil:
		if event.Message.Operation != nil {
			return event.Message.Operation.String()
		}
		if event.Message.Status != nil {
			return event.Message.Status.String()
		}
		return strconv.FormatUint(uint64(event.Message.MessageID), 10)
	case event.StateChange != nil:
		return event.StateChange.OldState + "->" + event.StateChange.NewState
	case event.Claim != nil:
		return fmt.Sprintf("%s %d/%d", event.Claim.Action, event.Claim.Refcount, event.Claim.MaxRefcount)
	case event.IRQ != nil:
		return strconv.FormatUint(event.IRQ.Frame, 10)
	case event.Error != nil:
		return event.Error.Message
	case event.Frame != nil:
		return strconv.Itoa(event.Frame.Size)
	}
	return ""
}
