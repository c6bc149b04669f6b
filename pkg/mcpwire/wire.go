// Package mcpwire defines the JSON-RPC 2.0 message layer shared by every MCP
// transport in this module. It deliberately knows nothing about connections or
// capabilities: transports move mcpwire.Message values, the endpoint layer
// decodes them into Envelope values and correlates responses by request ID.
package mcpwire

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Version is the only JSON-RPC protocol version MCP speaks.
const Version = "2.0"

// MCP method names exchanged between endpoints.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
	MethodPromptsGet    = "prompts/get"
	MethodComplete      = "completion/complete"
	MethodRootsList     = "roots/list"

	NotificationInitialized      = "notifications/initialized"
	NotificationToolsChanged     = "notifications/tools/list_changed"
	NotificationResourcesChanged = "notifications/resources/list_changed"
	NotificationPromptsChanged   = "notifications/prompts/list_changed"
	NotificationRootsChanged     = "notifications/roots/list_changed"
)

// ErrorCode is a JSON-RPC error code.
type ErrorCode int

const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603
)

// Message is one framed JSON-RPC message as carried by a transport.
type Message []byte

// Error is the JSON-RPC error object reported by a peer.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// Envelope is a decoded JSON-RPC message of any shape: request, notification,
// or response. Exactly one interpretation applies; use Type to branch.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      *RequestID      `json:"id,omitempty"`
}

// MessageType classifies a decoded envelope.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeNotification MessageType = "notification"
	TypeResponse     MessageType = "response"
)

// Type reports whether the envelope is a request, notification, or response.
func (e *Envelope) Type() MessageType {
	if e.Method != "" {
		if e.ID.IsNil() {
			return TypeNotification
		}
		return TypeRequest
	}
	return TypeResponse
}

// Decode parses and validates one wire message.
func Decode(msg Message) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, errors.Wrap(err, "mcpwire: malformed message")
	}
	if env.JSONRPC != Version {
		return nil, errors.Newf("mcpwire: unsupported jsonrpc version %q", env.JSONRPC)
	}
	hasResult := len(env.Result) > 0
	hasError := env.Error != nil
	if env.Method != "" {
		if hasResult || hasError {
			return nil, errors.New("mcpwire: request carries result or error")
		}
		return &env, nil
	}
	if hasResult && hasError {
		return nil, errors.New("mcpwire: response carries both result and error")
	}
	if !hasResult && !hasError {
		return nil, errors.New("mcpwire: response carries neither result nor error")
	}
	if env.ID.IsNil() {
		return nil, errors.New("mcpwire: response without id")
	}
	return &env, nil
}

// NewRequest builds a correlated request message.
func NewRequest(id string, method string, params any) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
		ID:      NewRequestID(id),
	})
}

// NewNotification builds an uncorrelated notification message.
func NewNotification(method string, params any) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	})
}

// NewResultResponse builds a success response for the given request id.
func NewResultResponse(id *RequestID, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "mcpwire: marshal result")
	}
	return json.Marshal(&Envelope{
		JSONRPC: Version,
		Result:  raw,
		ID:      id,
	})
}

// NewErrorResponse builds an error response for the given request id.
func NewErrorResponse(id *RequestID, code ErrorCode, message string) (Message, error) {
	return json.Marshal(&Envelope{
		JSONRPC: Version,
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "mcpwire: marshal params")
	}
	return raw, nil
}
