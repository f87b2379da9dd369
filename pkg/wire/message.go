package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// Method is an RPC method name.
type Method string

// Methods used by the client.
const (
	MethodAuthRequest       Method = "auth_request"
	MethodAuthChallenge     Method = "auth_challenge"
	MethodAuthVerify        Method = "auth_verify"
	MethodError             Method = "error"
	MethodPing              Method = "ping"
	MethodPong              Method = "pong"
	MethodGetConfig         Method = "get_config"
	MethodGetChannels       Method = "get_channels"
	MethodGetLedgerBalances Method = "get_ledger_balances"

	// Server pushes. These arrive without a matching request.
	MethodAssets         Method = "assets"
	MethodBalanceUpdate  Method = "bu"
	MethodChannelsUpdate Method = "channels"
	MethodChannelUpdate  Method = "cu"
)

// IsHandshake reports whether messages with this method take part in the
// authentication exchange.
func (m Method) IsHandshake() bool {
	switch m {
	case MethodAuthChallenge, MethodAuthVerify, MethodError:
		return true
	default:
		return false
	}
}

// IsPush reports whether the method is a server-initiated notification.
func (m Method) IsPush() bool {
	switch m {
	case MethodAssets, MethodBalanceUpdate, MethodChannelsUpdate, MethodChannelUpdate:
		return true
	default:
		return false
	}
}

// Payload is the positional [requestId, method, params, timestamp] tuple
// shared by requests and responses.
type Payload struct {
	RequestID uint64
	Method    Method
	Params    json.RawMessage
	Timestamp uint64
}

// MarshalJSON encodes the payload as a four-element array.
func (p Payload) MarshalJSON() ([]byte, error) {
	params := p.Params
	if len(params) == 0 {
		params = json.RawMessage("[]")
	}
	return json.Marshal([]any{p.RequestID, p.Method, params, p.Timestamp})
}

// UnmarshalJSON decodes a four-element array. Missing trailing elements are
// left at their zero value.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("payload is not an array: %w", err)
	}
	if len(parts) < 2 {
		return fmt.Errorf("payload has %d elements, want at least 2", len(parts))
	}

	var out Payload
	if err := json.Unmarshal(parts[0], &out.RequestID); err != nil {
		return fmt.Errorf("invalid request id: %w", err)
	}
	var method string
	if err := json.Unmarshal(parts[1], &method); err != nil {
		return fmt.Errorf("invalid method: %w", err)
	}
	out.Method = Method(method)
	if len(parts) > 2 {
		out.Params = append(json.RawMessage(nil), parts[2]...)
	}
	if len(parts) > 3 {
		if err := json.Unmarshal(parts[3], &out.Timestamp); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
	}

	*p = out
	return nil
}

// Request is an outbound RPC envelope.
type Request struct {
	Req Payload  `json:"req"`
	Sig []string `json:"sig"`
}

// PayloadSigner signs the canonical bytes of a request and returns the
// hex-encoded signature.
type PayloadSigner func(data []byte) (string, error)

// NewRequest builds an unsigned request. params may be nil, a
// json.RawMessage, or any value encoding/json can marshal.
func NewRequest(id uint64, method Method, params any, ts time.Time) (*Request, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return &Request{
		Req: Payload{
			RequestID: id,
			Method:    method,
			Params:    raw,
			Timestamp: Timestamp(ts),
		},
		Sig: []string{},
	}, nil
}

// ID returns the request id.
func (r *Request) ID() uint64 {
	return r.Req.RequestID
}

// SigningBytes returns the bytes covered by the request signature.
func (r *Request) SigningBytes() ([]byte, error) {
	return json.Marshal(struct {
		Req Payload `json:"req"`
	}{Req: r.Req})
}

// Sign replaces the signature list with a signature from sign.
func (r *Request) Sign(sign PayloadSigner) error {
	data, err := r.SigningBytes()
	if err != nil {
		return err
	}
	sig, err := sign(data)
	if err != nil {
		return fmt.Errorf("sign %s request: %w", r.Req.Method, err)
	}
	r.Sig = []string{sig}
	return nil
}

// Encode serializes the request to JSON text.
func (r *Request) Encode() ([]byte, error) {
	if r.Sig == nil {
		r.Sig = []string{}
	}
	return json.Marshal(r)
}

// DecodeRequest parses a request envelope.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if req.Req.Method == "" {
		return nil, fmt.Errorf("failed to decode request: missing req payload")
	}
	return &req, nil
}

// Response is a decoded inbound envelope.
type Response struct {
	RequestID  uint64
	Method     Method
	Params     json.RawMessage
	Timestamp  uint64
	Signatures []string
}

// DecodeResponse parses an inbound envelope. Envelopes carrying "err"
// instead of "res" are decoded with Method set to MethodError.
func DecodeResponse(data []byte) (*Response, error) {
	var env struct {
		Res *Payload `json:"res"`
		Err *Payload `json:"err"`
		Sig []string `json:"sig"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	p := env.Res
	if p == nil {
		p = env.Err
		if p == nil {
			return nil, fmt.Errorf("failed to decode response: missing res payload")
		}
		p.Method = MethodError
	}
	return &Response{
		RequestID:  p.RequestID,
		Method:     p.Method,
		Params:     p.Params,
		Timestamp:  p.Timestamp,
		Signatures: env.Sig,
	}, nil
}

// IsError reports whether the node answered with an error.
func (r *Response) IsError() bool {
	return r.Method == MethodError
}

// Err returns the RPC error carried by an error response, or nil.
func (r *Response) Err() error {
	if !r.IsError() {
		return nil
	}
	return r.ParseError()
}

// DecodeParams unmarshals the params into v, unwrapping a single-element
// array when v expects an object.
func (r *Response) DecodeParams(v any) error {
	raw := unwrapSingle(r.Params)
	if len(raw) == 0 {
		return fmt.Errorf("%s: empty params", r.Method)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: decode params: %w", r.Method, err)
	}
	return nil
}

// Timestamp converts t to the millisecond timestamps used on the wire.
func Timestamp(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}

// IDSource produces request ids that are unique for the lifetime of a
// client. Ids start at a time-derived seed so that ids from a restarted
// process are unlikely to collide with late responses to a previous one.
type IDSource struct {
	next atomic.Uint64
}

// NewIDSource creates an id source seeded from seed.
func NewIDSource(seed time.Time) *IDSource {
	s := &IDSource{}
	s.next.Store(uint64(seed.UnixMilli()))
	return s
}

// Next returns the next request id.
func (s *IDSource) Next() uint64 {
	return s.next.Add(1)
}

func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage("[]"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("[]"), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid raw JSON")
		}
		return p, nil
	default:
		return json.Marshal(params)
	}
}

// unwrapSingle turns [x] into x when x is an object; anything else is
// returned unchanged.
func unwrapSingle(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return trimmed
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil || len(items) != 1 {
		return trimmed
	}
	inner := bytes.TrimSpace(items[0])
	if len(inner) > 0 && inner[0] == '{' {
		return inner
	}
	return trimmed
}

// firstString returns the first string element of a JSON array, or the
// string itself.
func firstString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, true
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return "", false
	}
	for _, item := range items {
		if err := json.Unmarshal(item, &s); err == nil {
			return s, true
		}
	}
	return "", false
}
