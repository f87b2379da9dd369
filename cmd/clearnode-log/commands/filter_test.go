package commands

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/hookpay/clearnode-go/pkg/log"
)

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()

	var events []log.Event
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		events = append(events, event)
	}
}

func TestFilterByMethod(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	outPath := filepath.Join(t.TempDir(), "filtered.clog")

	count, err := RunFilter(path, outPath, Criteria{Method: "get_channels"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}

	events := readAll(t, outPath)
	if len(events) != 2 {
		t.Fatalf("expected 2 events in output, got %d", len(events))
	}
	for _, e := range events {
		if e.Message == nil || e.Message.Method != "get_channels" {
			t.Errorf("unexpected event: %+v", e)
		}
	}
}

func TestFilterByTimeRange(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	outPath := filepath.Join(t.TempDir(), "filtered.clog")

	count, err := RunFilter(path, outPath, Criteria{TimeStart: "2026-01-28T10:00:01Z"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 late events, got %d", count)
	}
}

func TestFilterByConnectionAndLayer(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	outPath := filepath.Join(t.TempDir(), "filtered.clog")

	count, err := RunFilter(path, outPath, Criteria{
		ConnID: "3f2a9c1e-5b7d-4e0f-9a61-2c8d4b0e7f13",
		Layer:  "transport",
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 event, got %d", count)
	}
	events := readAll(t, outPath)
	if len(events) != 1 || events[0].ControlMsg == nil {
		t.Errorf("expected the close event, got %+v", events)
	}
}

func TestFilterInvalidCriteria(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	outPath := filepath.Join(t.TempDir(), "filtered.clog")

	if _, err := RunFilter(path, outPath, Criteria{Direction: "up"}); err == nil {
		t.Error("expected error for invalid direction")
	}
}
