package log

import (
	"time"
)

// Event is one protocol trace record.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`

	// URL of the node the connection was opened to.
	URL string `cbor:"6,keyasint,omitempty"`

	// Wallet address the client acts for.
	Wallet string `cbor:"7,keyasint,omitempty"`

	// Exactly one of these is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer is where an event was captured.
type Layer uint8

const (
	// LayerTransport sees raw WebSocket text frames.
	LayerTransport Layer = 0
	// LayerWire sees decoded RPC envelopes.
	LayerWire Layer = 1
	// LayerClient sees connection and authentication state.
	LayerClient Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies an event.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryControl Category = 1
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw frame.
type FrameEvent struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MaxFrameData bounds the bytes kept per frame event.
const MaxFrameData = 4096

// NewFrameEvent builds a frame record, truncating data to MaxFrameData.
func NewFrameEvent(data []byte) *FrameEvent {
	f := &FrameEvent{Size: len(data), Data: data}
	if len(data) > MaxFrameData {
		f.Data = data[:MaxFrameData]
		f.Truncated = true
	}
	return f
}

// MessageEvent captures a decoded RPC envelope.
type MessageEvent struct {
	Type      MessageType `cbor:"1,keyasint"`
	RequestID uint64      `cbor:"2,keyasint"`
	Method    string      `cbor:"3,keyasint"`

	// Params is the raw JSON params.
	Params []byte `cbor:"4,keyasint,omitempty"`

	// Signatures counts the entries of the sig array.
	Signatures int `cbor:"5,keyasint,omitempty"`

	// Latency from request to response, set on responses that settled a
	// pending request.
	Latency *time.Duration `cbor:"6,keyasint,omitempty"`
}

// MessageType distinguishes envelope kinds.
type MessageType uint8

const (
	MessageTypeRequest  MessageType = 0
	MessageTypeResponse MessageType = 1
	MessageTypePush     MessageType = 2
	MessageTypeError    MessageType = 3
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypePush:
		return "PUSH"
	case MessageTypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures a lifecycle transition.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity is what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntityAuth       StateEntity = 1
	StateEntityReconnect  StateEntity = 2
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityAuth:
		return "AUTH"
	case StateEntityReconnect:
		return "RECONNECT"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures WebSocket control traffic.
type ControlMsgEvent struct {
	Type ControlMsgType `cbor:"1,keyasint"`

	// CloseCode and CloseReason are set for close frames.
	CloseCode   *int   `cbor:"2,keyasint,omitempty"`
	CloseReason string `cbor:"3,keyasint,omitempty"`

	// RTT is the ping round trip, set on pongs.
	RTT *time.Duration `cbor:"4,keyasint,omitempty"`
}

// ControlMsgType is the kind of control frame.
type ControlMsgType uint8

const (
	ControlMsgPing  ControlMsgType = 0
	ControlMsgPong  ControlMsgType = 1
	ControlMsgClose ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures an error.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Code    *int   `cbor:"3,keyasint,omitempty"`

	// Context names the operation that failed.
	Context string `cbor:"4,keyasint,omitempty"`
}
