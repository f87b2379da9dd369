package wire

import (
	"encoding/json"
	"fmt"
)

// RPCError is an application error reported by the node.
type RPCError struct {
	RequestID uint64
	Code      int
	Message   string
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	}
	return "rpc error: " + e.Message
}

// ParseError extracts the error carried by an error response. Unknown
// shapes produce an RPCError holding the raw params.
func (r *Response) ParseError() *RPCError {
	e := &RPCError{RequestID: r.RequestID}

	var obj struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	if err := json.Unmarshal(unwrapSingle(r.Params), &obj); err == nil {
		e.Code = obj.Code
		e.Message = obj.Error
		if e.Message == "" {
			e.Message = obj.Message
		}
		if e.Message != "" {
			return e
		}
	}
	if s, ok := firstString(r.Params); ok {
		e.Message = s
		return e
	}
	e.Message = string(r.Params)
	return e
}
