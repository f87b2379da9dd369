package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/hookpay/clearnode-go/pkg/log"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// createTestLogFile writes events to a trace file and returns its path.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.clog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

func ptr[T any](v T) *T { return &v }

// sessionEvents is a short authenticated session with one request and one
// rejected request.
func sessionEvents() []log.Event {
	base := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	conn := "3f2a9c1e-5b7d-4e0f-9a61-2c8d4b0e7f13"
	return []log.Event{
		{
			Timestamp: base, Layer: log.LayerClient, Category: log.CategoryState,
			URL: "ws://node.test/ws",
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntityConnection, OldState: "DISCONNECTED", NewState: "CONNECTING",
			},
		},
		{
			Timestamp: base.Add(10 * time.Millisecond), ConnectionID: conn,
			Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryMessage,
			Wallet: "0xabc",
			Message: &log.MessageEvent{
				Type: log.MessageTypeRequest, RequestID: 7, Method: "get_channels",
				Params: []byte(`{"participant":"0xabc"}`), Signatures: 1,
			},
		},
		{
			Timestamp: base.Add(30 * time.Millisecond), ConnectionID: conn,
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{
				Type: log.MessageTypeResponse, RequestID: 7, Method: "get_channels",
				Params: []byte(`{"channels":[]}`), Latency: ptr(20 * time.Millisecond),
			},
		},
		{
			Timestamp: base.Add(40 * time.Millisecond), ConnectionID: conn,
			Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: log.MessageTypeRequest, RequestID: 8, Method: "get_config"},
		},
		{
			Timestamp: base.Add(100 * time.Millisecond), ConnectionID: conn,
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{
				Type: log.MessageTypeError, RequestID: 8, Method: "error",
				Params: []byte(`{"error":"boom"}`), Latency: ptr(60 * time.Millisecond),
			},
		},
		{
			Timestamp: base.Add(110 * time.Millisecond), ConnectionID: conn,
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: log.MessageTypePush, Method: "bu"},
		},
		{
			Timestamp: base.Add(2 * time.Second), ConnectionID: conn,
			Direction: log.DirectionIn, Layer: log.LayerTransport, Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgClose, CloseCode: ptr(1000), CloseReason: "User initiated disconnect"},
		},
		{
			Timestamp: base.Add(2 * time.Second), ConnectionID: conn,
			Layer: log.LayerClient, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerClient, Message: "connection closed", Context: "request"},
		},
	}
}
