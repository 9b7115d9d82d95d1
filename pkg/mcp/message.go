// Package mcp implements a Model Context Protocol bridge: a JSON-RPC
// 2.0 server exposing the local registry over pluggable transports,
// and a client that can adopt a remote server's tools into the local
// registry as first-class proxies.
package mcp

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol revision spoken on both sides.
const Version = "2024-11-05"

// JSON-RPC error codes. The negative 32xxx range follows the JSON-RPC
// 2.0 reserved block; the -320xx codes are protocol-specific.
const (
	ParseError       = -32700
	InvalidRequest   = -32600
	MethodNotFound   = -32601
	InvalidParams    = -32602
	InternalError    = -32603
	ResourceNotFound = -32001
	ToolNotFound     = -32002
	PromptNotFound   = -32003
	Unauthorized     = -32005
)

// Message is the single JSON-RPC envelope used for requests,
// responses, and notifications. A request has Method and ID; a
// notification has Method and no ID; a response has ID and exactly one
// of Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsRequest reports whether the message is a request (method + id).
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification reports whether the message is a notification.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// IsResponse reports whether the message is a response.
func (m *Message) IsResponse() bool { return m.Method == "" && m.ID != nil }

// NewRequest builds a request message. Params must be JSON-encodable.
func NewRequest(id interface{}, method string, params interface{}) (*Message, error) {
	msg := &Message{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params for %s: %w", method, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// NewNotification builds a notification message.
func NewNotification(method string, params interface{}) (*Message, error) {
	msg, err := NewRequest(nil, method, params)
	if err != nil {
		return nil, err
	}
	msg.ID = nil
	return msg, nil
}

// NewResponse builds a success response for a request id.
func NewResponse(id interface{}, result interface{}) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Message{JSONRPC: "2.0", ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response for a request id.
func NewErrorResponse(id interface{}, code int, message string, data interface{}) *Message {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

// DecodeMessage parses and validates one JSON-RPC envelope. Malformed
// JSON yields a ParseError-coded *ProtocolError; a structurally
// invalid envelope yields InvalidRequest.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ProtocolError{Code: ParseError, Message: "parse error", Err: err}
	}
	if msg.JSONRPC != "2.0" {
		return nil, &ProtocolError{Code: InvalidRequest, Message: fmt.Sprintf("unsupported jsonrpc version %q", msg.JSONRPC)}
	}
	if msg.Method == "" && msg.ID == nil {
		return nil, &ProtocolError{Code: InvalidRequest, Message: "message is neither request, notification, nor response"}
	}
	if msg.Method == "" && msg.Result != nil && msg.Error != nil {
		return nil, &ProtocolError{Code: InvalidRequest, Message: "response carries both result and error"}
	}
	return &msg, nil
}

// EncodeMessage renders one envelope as a single JSON line without a
// trailing newline.
func EncodeMessage(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}
