package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// RequestID holds a JSON-RPC request id exactly as the client sent it. The protocol allows
// either a string or a number, and the response must carry back the same value, so the raw
// JSON token is kept instead of being normalized. An empty RequestID means the message has
// no id, which makes it a notification.
type RequestID []byte

// JSONRPCMessage represents a JSON-RPC 2.0 message used for communication in the MCP protocol.
// It can represent either a request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number
	ID RequestID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
// It follows the standard error object format defined in the JSON-RPC 2.0 specification.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	// Must use standard JSON-RPC error codes or custom codes outside the reserved range.
	Code int `json:"code"`

	// Message provides a short description of the error.
	// Should be limited to a concise single sentence.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// MessageKind classifies a JSONRPCMessage by the fields it carries.
type MessageKind int

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute
	Name string `json:"name"`

	// Arguments is a JSON object of argument name-value pairs
	Arguments ToolArguments `json:"arguments"`
}

// ToolArguments is the decoded arguments object of a tools/call request.
type ToolArguments map[string]any

// CallToolResult represents the outcome of a tool invocation via tools/call.
// IsError indicates whether the operation failed, with details in Content.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// ListToolsResult is the result of a tools/list request.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// ServerCapabilities represents server capabilities. This server only ever declares tools.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability represents tools-specific capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ClientCapabilities represents client capabilities. They are accepted during initialization
// but not acted upon.
type ClientCapabilities struct {
	Roots    json.RawMessage `json:"roots,omitempty"`
	Sampling json.RawMessage `json:"sampling,omitempty"`
}

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Content represents a message content with its type.
type Content struct {
	Type ContentType `json:"type"`

	// For ContentTypeText
	Text string `json:"text,omitempty"`
}

// ContentType represents the type of content in messages.
type ContentType string

// Tool defines a callable tool with its input schema.
// InputSchema defines the expected format of arguments for tools/call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// MessageKind values.
const (
	KindInvalid MessageKind = iota
	KindRequest
	KindNotification
	KindResponse
)

// ContentType represents the type of content in messages.
const (
	ContentTypeText ContentType = "text"
)

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the MCP protocol revision announced in the initialize result.
	ProtocolVersion = "2024-11-05"

	// DefaultMaxMessageBytes bounds the size of a single POSTed message.
	DefaultMaxMessageBytes = 4 << 20

	jsonRPCParseErrorCode     = -32700
	jsonRPCInvalidRequestCode = -32600
	jsonRPCMethodNotFoundCode = -32601
	jsonRPCInvalidParamsCode  = -32602
	jsonRPCInternalErrorCode  = -32603
)

var (
	errInvalidJSON    = errors.New("invalid json")
	errInvalidRequest = errors.New("invalid request")
)

// ReadMessage decodes exactly one JSON-RPC message from r. It rejects anything that is not a
// JSON object with jsonrpc "2.0" carrying at least a method or an id.
func ReadMessage(r io.Reader) (JSONRPCMessage, error) {
	decoder := json.NewDecoder(r)
	var msg JSONRPCMessage

	if err := decoder.Decode(&msg); err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if decoder.More() {
		return JSONRPCMessage{}, fmt.Errorf("%w: trailing data after message", errInvalidJSON)
	}

	if msg.JSONRPC != JSONRPCVersion {
		return JSONRPCMessage{}, fmt.Errorf("%w: invalid jsonrpc version: %q", errInvalidRequest, msg.JSONRPC)
	}

	if msg.Kind() == KindInvalid {
		return JSONRPCMessage{}, fmt.Errorf("%w: message has neither method nor id", errInvalidRequest)
	}

	return msg, nil
}

// Kind reports whether the message is a request, a notification or a response.
func (m JSONRPCMessage) Kind() MessageKind {
	switch {
	case m.Method != "" && !m.ID.IsZero():
		return KindRequest
	case m.Method != "":
		return KindNotification
	case !m.ID.IsZero():
		return KindResponse
	default:
		return KindInvalid
	}
}

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// NewRequestID builds a RequestID from a string value.
func NewRequestID(id string) RequestID {
	bs, _ := json.Marshal(id)
	return RequestID(bs)
}

// IsZero reports whether the id is absent.
func (id RequestID) IsZero() bool {
	return len(id) == 0
}

// String returns the id without JSON quoting, for logs and map keys.
func (id RequestID) String() string {
	if id.IsZero() {
		return ""
	}
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

// UnmarshalJSON implements json.Unmarshaler. It accepts strings and numbers, and treats null
// as an absent id.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = nil
		return nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v.(type) {
	case string, float64:
		*id = append((*id)[:0], data...)
	default:
		return fmt.Errorf("invalid id type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler, writing the id token back verbatim.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return id, nil
}

// String returns the argument stored under key when it is a string, and "" otherwise.
func (a ToolArguments) String(key string) string {
	v, ok := a[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// TextResult wraps text into a single-block CallToolResult.
func TextResult(text string) CallToolResult {
	return CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: text}},
	}
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}
