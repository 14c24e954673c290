package agent

import (
	"encoding/json"
	"strings"
)

// Protocol identifies how an agent is driven: structured JSON-RPC over a
// WebSocket (ACP) or a raw pseudo-terminal byte stream.
type Protocol string

const (
	ProtocolACP Protocol = "acp"
	ProtocolPTY Protocol = "pty"
)

// Kind is the agent product behind a connection. Unknown kinds carry the
// raw server name so nothing is lost for display.
type Kind struct {
	Name string `json:"name"`
}

var (
	KindClaudeCode = Kind{Name: "claude-code"}
	KindCodex      = Kind{Name: "codex"}
)

// KindUnknown wraps a server name we could not classify.
func KindUnknown(raw string) Kind {
	return Kind{Name: raw}
}

// Known reports whether the kind is one of the recognized products.
func (k Kind) Known() bool {
	return k == KindClaudeCode || k == KindCodex
}

func (k Kind) String() string {
	return k.Name
}

// KindFromServerName classifies the serverInfo.name field returned by the
// ACP initialize handshake. Matching is by case-insensitive substring.
func KindFromServerName(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "claude"):
		return KindClaudeCode
	case strings.Contains(lower, "codex"):
		return KindCodex
	default:
		return KindUnknown(name)
	}
}

// Origin records whether we launched the agent process ourselves or found
// it running externally (lockfile scan or port probe).
type Origin string

const (
	OriginLaunched Origin = "launched"
	OriginExternal Origin = "external"
)

// Status is the agent liveness state machine:
// Idle -> Thinking -> WaitingForInput, and any state -> Disconnected.
// Disconnected is terminal until the agent re-registers.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusThinking        Status = "thinking"
	StatusWaitingForInput Status = "waiting_for_input"
	StatusDisconnected    Status = "disconnected"
)

// Info is a snapshot of one registered agent. Values are copied in and out
// of the registry, so holding an Info never observes concurrent mutation.
type Info struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Kind       Kind     `json:"kind"`
	Protocol   Protocol `json:"protocol"`
	Origin     Origin   `json:"origin"`
	Status     Status   `json:"status"`
	SessionIDs []string `json:"session_ids"`
	// ACPURL is set for ACP agents only.
	ACPURL string `json:"acp_url,omitempty"`
	// PTYPID is set for PTY agents only.
	PTYPID int `json:"pty_pid,omitempty"`
}

// Clone returns a deep copy, so registry readers never share the session
// slice with the stored record.
func (i Info) Clone() Info {
	out := i
	out.SessionIDs = append([]string(nil), i.SessionIDs...)
	return out
}

// EventType discriminates the Event union.
type EventType string

const (
	EventTextDelta    EventType = "text_delta"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventDone         EventType = "done"
	EventError        EventType = "error"
	EventDisconnected EventType = "disconnected"
)

// Event is the unified vocabulary emitted by both the ACP client and the
// PTY adapter. Exactly the fields for the given Type are set:
//
//	TextDelta    -> Text
//	ToolCall     -> ToolID, ToolName, ToolInput
//	ToolResult   -> ToolID, ToolOutput
//	Error        -> Message
//	Done         -> (none)
//	Disconnected -> (none)
type Event struct {
	Type       EventType       `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput string          `json:"tool_output,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// TextDelta builds a streaming-text event.
func TextDelta(text string) Event {
	return Event{Type: EventTextDelta, Text: text}
}

// ToolCall builds a tool-invocation event.
func ToolCall(id, name string, input json.RawMessage) Event {
	return Event{Type: EventToolCall, ToolID: id, ToolName: name, ToolInput: input}
}

// ToolResult builds a tool-output event.
func ToolResult(id, output string) Event {
	return Event{Type: EventToolResult, ToolID: id, ToolOutput: output}
}

// Done marks the end of an agent turn.
func Done() Event {
	return Event{Type: EventDone}
}

// ErrorEvent carries a non-fatal error message from the agent.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Disconnected signals that the connection or process terminated.
func Disconnected() Event {
	return Event{Type: EventDisconnected}
}
