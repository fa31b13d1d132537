package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/nxs-stream/nxs-go/pkg/log"
	"github.com/nxs-stream/nxs-go/pkg/wire"
)

var testTime = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

// createTestLogFile writes events to an in-memory trace file.
func createTestLogFile(t *testing.T, events []log.Event) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	path := "/trace/test.nlog"

	logger, err := log.NewFileLoggerFs(fs, path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return fs, path
}

func TestFormatFrameEvent(t *testing.T) {
	event := log.Event{
		Timestamp: testTime,
		SessionID: "abc12345-6789-0123-4567-890abcdef012",
		Direction: log.DirectionOut,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size: 128,
			Data: []byte{0xa1, 0x01, 0x02, 0x03},
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{"2026-01-28T10:15:32.123456Z", "[sess:abc12345]", "OUT", "TRANSPORT", "Frame", "128 bytes", "a1010203"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestFormatMessageEventRequest(t *testing.T) {
	op := wire.OpRequestFunction
	event := log.Event{
		Timestamp: testTime,
		SessionID: "abc12345",
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeRequest,
			MessageID: 42,
			Operation: &op,
			Payload:   []byte{0xa0},
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{"REQUEST", "MessageID: 42", "Operation: RequestFunction", "Payload: 1 bytes"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestFormatMessageEventResponse(t *testing.T) {
	status := wire.StatusBusy
	elapsed := 1500 * time.Microsecond
	event := log.Event{
		Timestamp: testTime,
		SessionID: "abc12345",
		Direction: log.DirectionOut,
		Layer:     log.LayerWire,
		Message: &log.MessageEvent{
			Type:           log.MessageTypeResponse,
			MessageID:      42,
			Status:         &status,
			ProcessingTime: &elapsed,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "RESPONSE") {
		t.Errorf("expected RESPONSE, got: %s", output)
	}
	if !strings.Contains(output, "Status: "+status.String()+" (2)") {
		t.Errorf("expected status line, got: %s", output)
	}
	if !strings.Contains(output, "Duration: 1.500ms") {
		t.Errorf("expected duration, got: %s", output)
	}
}

func TestFormatStateChangeEvent(t *testing.T) {
	event := log.Event{
		Timestamp: testTime,
		Layer:     log.LayerGraph,
		Category:  log.CategoryState,
		Handle:    3,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityFunction,
			OldState: "connected",
			NewState: "started",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{"[fn:3]", " - ", "GRAPH State", "Entity: FUNCTION", "connected -> started"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestFormatClaimEvent(t *testing.T) {
	event := log.Event{
		Timestamp: testTime,
		Layer:     log.LayerNode,
		Category:  log.CategoryClaim,
		Node:      "multitap.0",
		Claim: &log.ClaimEvent{
			Action:      log.ClaimActionGet,
			Requester:   "user",
			Follow:      true,
			Refcount:    2,
			MaxRefcount: 4,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{"[multitap.0]", "NODE Claim", "GET by user (follow)", "Refcount: 2/4"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestFormatIRQEvent(t *testing.T) {
	event := log.Event{
		Timestamp: testTime,
		Layer:     log.LayerNode,
		Category:  log.CategoryIRQ,
		Node:      "dmaw.0",
		Handle:    1,
		IRQ:       &log.IRQEvent{Frame: 17, Committed: 2},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{"[dmaw.0 fn:1]", "Frame: 17", "Committed: 2 nodes"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestFormatErrorEvent(t *testing.T) {
	code := 3
	event := log.Event{
		Timestamp: testTime,
		Layer:     log.LayerService,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: "function not found",
			Code:    &code,
			Context: "Start",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{"[-]", "Error", "Message: function not found", "Code: 3", "Context: Start"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestRunViewFilters(t *testing.T) {
	irq := log.CategoryIRQ
	handle := 2
	fs, path := createTestLogFile(t, []log.Event{
		{Timestamp: testTime, Layer: log.LayerNode, Category: log.CategoryIRQ, Node: "dmaw.0", Handle: 1, IRQ: &log.IRQEvent{Frame: 1}},
		{Timestamp: testTime, Layer: log.LayerNode, Category: log.CategoryIRQ, Node: "dmaw.1", Handle: 2, IRQ: &log.IRQEvent{Frame: 1}},
		{Timestamp: testTime, Layer: log.LayerNode, Category: log.CategoryClaim, Node: "dmaw.1", Claim: &log.ClaimEvent{Requester: "kernel"}},
	})

	var buf bytes.Buffer
	if err := RunView(fs, path, ViewFilter{Category: &irq, Handle: &handle}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	if strings.Count(output, "IRQ\n") != 1 {
		t.Errorf("expected one IRQ event, got: %s", output)
	}
	if !strings.Contains(output, "dmaw.1 fn:2") {
		t.Errorf("expected function 2 event, got: %s", output)
	}
	if strings.Contains(output, "Claim") {
		t.Errorf("claim should be filtered out, got: %s", output)
	}
}

func TestRunViewMissingFile(t *testing.T) {
	err := RunView(afero.NewMemMapFs(), "/none.nlog", ViewFilter{}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseLayer(t *testing.T) {
	tests := []struct {
		input   string
		want    log.Layer
		wantErr bool
	}{
		{"transport", log.LayerTransport, false},
		{"WIRE", log.LayerWire, false},
		{"Service", log.LayerService, false},
		{"graph", log.LayerGraph, false},
		{"node", log.LayerNode, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLayerFlag(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLayerFlag(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLayerFlag(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		input   string
		want    log.Direction
		wantErr bool
	}{
		{"in", log.DirectionIn, false},
		{"OUT", log.DirectionOut, false},
		{"sideways", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDirectionFlag(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDirectionFlag(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDirectionFlag(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input   string
		want    log.Category
		wantErr bool
	}{
		{"message", log.CategoryMessage, false},
		{"Claim", log.CategoryClaim, false},
		{"state", log.CategoryState, false},
		{"IRQ", log.CategoryIRQ, false},
		{"error", log.CategoryError, false},
		{"snapshot", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCategoryFlag(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCategoryFlag(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseCategoryFlag(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
