package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Method is the closed set of RPC methods the Dispatcher understands. Every wire method
// string maps to exactly one value, with MethodUnknown covering everything else, so the
// switch in Dispatch stays total.
type Method int

// Dispatcher maps one inbound protocol message to at most one outbound message. It holds no
// per-session state: the same Dispatcher serves every session and every transport.
//
// Instances should be created using NewDispatcher.
type Dispatcher struct {
	info         Info
	instructions string
	registry     ToolRegistry

	logger  *slog.Logger
	metrics *Metrics
}

// DispatcherOption represents the options for the Dispatcher.
type DispatcherOption func(*Dispatcher)

// Method values.
const (
	MethodUnknown Method = iota
	MethodInitialize
	MethodNotificationsInitialized
	MethodToolsList
	MethodToolsCall
	MethodPing
)

const (
	methodInitialize               = "initialize"
	methodNotificationsInitialized = "notifications/initialized"
	methodToolsList                = "tools/list"
	methodToolsCall                = "tools/call"
	methodPing                     = "ping"
)

// NewDispatcher creates a Dispatcher that identifies itself with info and serves the tools
// in registry.
func NewDispatcher(info Info, registry ToolRegistry, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		info:     info,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// WithDispatcherLogger sets the logger for the dispatcher.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger.With(
			slog.String("package", "textutils-mcp"),
			slog.String("component", "dispatcher"),
		)
	}
}

// WithDispatcherMetrics sets the metrics the dispatcher reports to.
func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithInstructions sets the instructions returned to clients in the initialize result.
func WithInstructions(instructions string) DispatcherOption {
	return func(d *Dispatcher) {
		d.instructions = instructions
	}
}

// ParseMethod maps a wire method name to its Method.
func ParseMethod(name string) Method {
	switch name {
	case methodInitialize:
		return MethodInitialize
	case methodNotificationsInitialized:
		return MethodNotificationsInitialized
	case methodToolsList:
		return MethodToolsList
	case methodToolsCall:
		return MethodToolsCall
	case methodPing:
		return MethodPing
	default:
		return MethodUnknown
	}
}

func (m Method) String() string {
	switch m {
	case MethodInitialize:
		return methodInitialize
	case MethodNotificationsInitialized:
		return methodNotificationsInitialized
	case MethodToolsList:
		return methodToolsList
	case MethodToolsCall:
		return methodToolsCall
	case MethodPing:
		return methodPing
	default:
		return "unknown"
	}
}

// Info returns the server identity announced during initialization.
func (d *Dispatcher) Info() Info { return d.info }

// Registry returns the tool registry the dispatcher serves.
func (d *Dispatcher) Registry() ToolRegistry { return d.registry }

// Dispatch computes the response for msg. The boolean is false when no response must be sent,
// which is the case for notifications and for responses sent by the client. Every request
// yields exactly one response carrying the request's id.
func (d *Dispatcher) Dispatch(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, bool) {
	kind := msg.Kind()
	if kind == KindResponse {
		// The server never issues requests, so there is nothing waiting for this.
		d.logger.Debug("ignoring response from client", slog.String("id", msg.ID.String()))
		return JSONRPCMessage{}, false
	}

	method := ParseMethod(msg.Method)
	d.metrics.methodDispatched(method)

	if kind == KindNotification {
		d.logger.Debug("received notification", slog.String("method", msg.Method))
		return JSONRPCMessage{}, false
	}

	switch method {
	case MethodInitialize:
		return d.handleInitialize(msg), true
	case MethodNotificationsInitialized:
		// Sent with an id, so it is a request and still owes a response.
		return resultMessage(msg.ID, struct{}{}), true
	case MethodToolsList:
		return resultMessage(msg.ID, ListToolsResult{Tools: d.registry.Tools()}), true
	case MethodToolsCall:
		return d.handleToolsCall(ctx, msg), true
	case MethodPing:
		return resultMessage(msg.ID, struct{}{}), true
	case MethodUnknown:
		fallthrough
	default:
		return errorMessage(msg.ID, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: fmt.Sprintf("Method not found: %s", msg.Method),
		}), true
	}
}

func (d *Dispatcher) handleInitialize(msg JSONRPCMessage) JSONRPCMessage {
	if len(msg.Params) > 0 {
		var params initializeParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorMessage(msg.ID, JSONRPCError{
				Code:    jsonRPCInvalidParamsCode,
				Message: fmt.Sprintf("failed to unmarshal params: %s", err.Error()),
			})
		}
		d.logger.Info("client initializing",
			slog.String("client", params.ClientInfo.Name),
			slog.String("clientVersion", params.ClientInfo.Version),
			slog.String("protocolVersion", params.ProtocolVersion))
	}

	return resultMessage(msg.ID, initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		ServerInfo:      d.info,
		Instructions:    d.instructions,
	})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, msg JSONRPCMessage) JSONRPCMessage {
	var params CallToolParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorMessage(msg.ID, JSONRPCError{
				Code:    jsonRPCInvalidParamsCode,
				Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
			})
		}
	}

	handler, ok := d.registry.Tool(params.Name)
	if !ok {
		d.logger.Info("unknown tool requested", slog.String("tool", params.Name))
		result := TextResult(fmt.Sprintf("Unknown tool: %s", params.Name))
		result.IsError = true
		return resultMessage(msg.ID, result)
	}

	args := params.Arguments
	if args == nil {
		args = ToolArguments{}
	}

	result, err := handler(ctx, args)
	if err != nil {
		d.logger.Error("failed to call tool",
			slog.String("tool", params.Name),
			slog.String("err", err.Error()))
		return errorMessage(msg.ID, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: err.Error(),
		})
	}

	return resultMessage(msg.ID, result)
}

func resultMessage(id RequestID, result any) JSONRPCMessage {
	resBs, err := json.Marshal(result)
	if err != nil {
		return errorMessage(id, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: fmt.Sprintf("failed to marshal result: %s", err.Error()),
		})
	}
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	}
}

func errorMessage(id RequestID, err JSONRPCError) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &err,
	}
}
