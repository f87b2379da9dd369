package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/hookpay/clearnode-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	Methods           map[string]*MethodStats
	Pushes            map[string]int
	Errors            int
	Disconnects       int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	URL       string
	Wallet    string
}

// MethodStats holds request statistics for one RPC method.
type MethodStats struct {
	Requests    int
	Responses   int
	RPCErrors   int
	LatencySum  time.Duration
	LatencyMax  time.Duration
	LatencySeen int
}

// MeanLatency returns the average latency of answered requests.
func (m *MethodStats) MeanLatency() time.Duration {
	if m.LatencySeen == 0 {
		return 0
	}
	return m.LatencySum / time.Duration(m.LatencySeen)
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := collectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func collectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		Methods:           make(map[string]*MethodStats),
		Pushes:            make(map[string]int),
	}

	// Requests answered by an error envelope are attributed to the request
	// method through its id.
	methodByID := make(map[uint64]string)

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		if event.ConnectionID != "" {
			conn, ok := stats.Connections[event.ConnectionID]
			if !ok {
				conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
				stats.Connections[event.ConnectionID] = conn
			}
			conn.Events++
			if event.Timestamp.After(conn.LastSeen) {
				conn.LastSeen = event.Timestamp
			}
			if conn.URL == "" {
				conn.URL = event.URL
			}
			if conn.Wallet == "" {
				conn.Wallet = event.Wallet
			}
		}

		if msg := event.Message; msg != nil && event.Layer == log.LayerWire {
			switch msg.Type {
			case log.MessageTypeRequest:
				methodStats(stats, msg.Method).Requests++
				methodByID[msg.RequestID] = msg.Method
			case log.MessageTypeResponse:
				m := methodStats(stats, msg.Method)
				m.Responses++
				recordLatency(m, msg.Latency)
			case log.MessageTypeError:
				if name, ok := methodByID[msg.RequestID]; ok {
					m := methodStats(stats, name)
					m.RPCErrors++
					recordLatency(m, msg.Latency)
				}
			case log.MessageTypePush:
				stats.Pushes[msg.Method]++
			}
		}

		if event.ControlMsg != nil && event.ControlMsg.Type == log.ControlMsgClose {
			stats.Disconnects++
		}
		if event.Error != nil {
			stats.Errors++
		}
	}
	return stats, nil
}

func methodStats(stats *Stats, method string) *MethodStats {
	m, ok := stats.Methods[method]
	if !ok {
		m = &MethodStats{}
		stats.Methods[method] = m
	}
	return m
}

func recordLatency(m *MethodStats, latency *time.Duration) {
	if latency == nil {
		return
	}
	m.LatencySeen++
	m.LatencySum += *latency
	if *latency > m.LatencyMax {
		m.LatencyMax = *latency
	}
}

func printStats(w io.Writer, stats *Stats) {
	heading := color.New(color.Bold)

	heading.Fprintln(w, "=== ClearNode Protocol Trace Statistics ===")
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

	heading.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerClient} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	heading.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	heading.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Methods) > 0 {
		heading.Fprintln(w, "Methods:")
		for _, name := range sortedKeys(stats.Methods) {
			m := stats.Methods[name]
			fmt.Fprintf(w, "  %-22s req=%d ok=%d err=%d", name, m.Requests, m.Responses, m.RPCErrors)
			if m.LatencySeen > 0 {
				fmt.Fprintf(w, " mean=%s max=%s", formatDuration(m.MeanLatency()), formatDuration(m.LatencyMax))
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	if len(stats.Pushes) > 0 {
		heading.Fprintln(w, "Pushes:")
		for _, name := range sortedKeys(stats.Pushes) {
			fmt.Fprintf(w, "  %-22s %d\n", name, stats.Pushes[name])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(c.id), c.stats.Events, duration)
			if c.stats.URL != "" {
				fmt.Fprintf(w, "           URL: %s\n", c.stats.URL)
			}
			if c.stats.Wallet != "" {
				fmt.Fprintf(w, "           Wallet: %s\n", c.stats.Wallet)
			}
		}
	}

	if stats.Disconnects > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Disconnects: %d\n", stats.Disconnects)
	}
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		color.New(color.FgRed).Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
