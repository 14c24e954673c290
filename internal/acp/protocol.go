// Package acp implements the Agent Client Protocol: JSON-RPC 2.0 over a
// WebSocket, as spoken by Claude Code, Codex and compatible coding agents.
//
// The wire helpers are separated from the connection-owning Client so the
// message construction and classification logic can be tested without a
// WebSocket server.
package acp

import (
	"encoding/json"
	"fmt"

	"github.com/mtzanidakis/agentdeck/internal/agent"
)

// ProtocolVersion is the ACP revision this client speaks.
const ProtocolVersion = "0.1"

// ClientName identifies us in the initialize handshake.
const ClientName = "agentdeck"

// Request is an outgoing JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params,omitempty"`
}

// Response is an incoming JSON-RPC 2.0 response, success or error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ServerInfo is the result of the initialize handshake.
type ServerInfo struct {
	Kind    agent.Kind
	Version string
}

// NewInitializeRequest builds the initialize handshake request.
func NewInitializeRequest(id uint64, clientVersion string) Request {
	return Request{
		JSONRPC: "2.0",
		Method:  "initialize",
		ID:      id,
		Params: map[string]any{
			"protocolVersion": ProtocolVersion,
			"clientInfo": map[string]string{
				"name":    ClientName,
				"version": clientVersion,
			},
		},
	}
}

// NewSessionRequest builds a session/new request.
func NewSessionRequest(id uint64) Request {
	return Request{
		JSONRPC: "2.0",
		Method:  "session/new",
		ID:      id,
		Params:  map[string]any{},
	}
}

// NewPromptRequest builds a session/prompt request.
func NewPromptRequest(id uint64, sessionID, text string) Request {
	return Request{
		JSONRPC: "2.0",
		Method:  "session/prompt",
		ID:      id,
		Params: map[string]string{
			"sessionId": sessionID,
			"text":      text,
		},
	}
}

// NewCancelRequest builds a session/cancel request.
func NewCancelRequest(id uint64, sessionID string) Request {
	return Request{
		JSONRPC: "2.0",
		Method:  "session/cancel",
		ID:      id,
		Params:  map[string]string{"sessionId": sessionID},
	}
}

// frame is the minimal shape needed to classify an incoming message as a
// response (has an id) or a notification (no id).
type frame struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// ParseEvent classifies a raw frame and converts it to an agent.Event.
//
// Returns false for frames that map to no event: malformed JSON and
// unrecognized notifications are transport noise and must not crash the
// poll loop, and success responses are consumed by the blocking handshake
// calls rather than the event stream.
func ParseEvent(raw []byte) (agent.Event, bool) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return agent.Event{}, false
	}

	if f.ID == nil {
		return parseNotification(f)
	}

	// Response: only errors surface as events.
	if f.Error != nil {
		msg := f.Error.Message
		if msg == "" {
			msg = "unknown ACP error"
		}
		return agent.ErrorEvent(msg), true
	}
	return agent.Event{}, false
}

func parseNotification(f frame) (agent.Event, bool) {
	switch f.Method {
	case "message":
		return parseMessageNotification(f.Params)
	case "session/done":
		return agent.Done(), true
	case "session/error":
		var params struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(f.Params, &params)
		if params.Message == "" {
			params.Message = "session error"
		}
		return agent.ErrorEvent(params.Message), true
	default:
		return agent.Event{}, false
	}
}

func parseMessageNotification(raw json.RawMessage) (agent.Event, bool) {
	var params struct {
		Type    string          `json:"type"`
		Content string          `json:"content"`
		ID      string          `json:"id"`
		Name    string          `json:"name"`
		Input   json.RawMessage `json:"input"`
		Output  string          `json:"output"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return agent.Event{}, false
	}

	switch params.Type {
	case "text":
		return agent.TextDelta(params.Content), true
	case "tool_use":
		// id and name are required; malformed tool frames are dropped.
		if params.ID == "" || params.Name == "" {
			return agent.Event{}, false
		}
		input := params.Input
		if len(input) == 0 {
			input = json.RawMessage("null")
		}
		return agent.ToolCall(params.ID, params.Name, input), true
	case "tool_result":
		if params.ID == "" {
			return agent.Event{}, false
		}
		return agent.ToolResult(params.ID, params.Output), true
	default:
		return agent.Event{}, false
	}
}

// ParseInitializeResult extracts the server identity from an initialize
// response.
func ParseInitializeResult(resp Response) (ServerInfo, error) {
	if resp.Error != nil {
		return ServerInfo{}, fmt.Errorf("initialize failed: %s", resp.Error.Message)
	}
	if len(resp.Result) == 0 {
		return ServerInfo{}, fmt.Errorf("initialize response has no result")
	}

	var result struct {
		ServerInfo *struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ServerInfo{}, fmt.Errorf("parse initialize result: %w", err)
	}
	if result.ServerInfo == nil {
		return ServerInfo{}, fmt.Errorf("initialize result missing serverInfo")
	}

	name := result.ServerInfo.Name
	if name == "" {
		name = "unknown"
	}
	version := result.ServerInfo.Version
	if version == "" {
		version = "0.0.0"
	}
	return ServerInfo{Kind: agent.KindFromServerName(name), Version: version}, nil
}

// ParseNewSessionResult extracts the session id from a session/new
// response.
func ParseNewSessionResult(resp Response) (string, error) {
	if resp.Error != nil {
		return "", fmt.Errorf("session/new failed: %s", resp.Error.Message)
	}
	if len(resp.Result) == 0 {
		return "", fmt.Errorf("session/new response has no result")
	}

	var result struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("parse session/new result: %w", err)
	}
	if result.SessionID == "" {
		return "", fmt.Errorf("session/new result missing sessionId")
	}
	return result.SessionID, nil
}
