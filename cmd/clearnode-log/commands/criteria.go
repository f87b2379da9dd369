// Package commands implements the clearnode-log CLI commands.
package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hookpay/clearnode-go/pkg/log"
)

// Criteria holds the textual selection flags shared by view and filter.
type Criteria struct {
	ConnID    string
	Method    string
	RequestID string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// Filter parses the criteria into a log.Filter.
func (c Criteria) Filter() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: c.ConnID,
		Method:       c.Method,
	}

	if c.RequestID != "" {
		id, err := strconv.ParseUint(c.RequestID, 10, 64)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid request-id: %w", err)
		}
		filter.RequestID = &id
	}

	if c.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, c.TimeStart)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if c.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, c.TimeEnd)
		if err != nil {
			return log.Filter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	if c.Layer != "" {
		l, err := parseLayer(c.Layer)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Layer = &l
	}

	if c.Direction != "" {
		d, err := parseDirection(c.Direction)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Direction = &d
	}

	if c.Category != "" {
		cat, err := parseCategory(c.Category)
		if err != nil {
			return log.Filter{}, err
		}
		filter.Category = &cat
	}

	return filter, nil
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "client":
		return log.LayerClient, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or client)", s)
	}
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, or error)", s)
	}
}
