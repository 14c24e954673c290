package acp

import (
	"encoding/json"
	"testing"

	"github.com/mtzanidakis/agentdeck/internal/agent"
)

func TestInitializeRequestShape(t *testing.T) {
	data, err := json.Marshal(NewInitializeRequest(1, "0.3.0"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var req struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		ID      uint64 `json:"id"`
		Params  struct {
			ProtocolVersion string `json:"protocolVersion"`
			ClientInfo      struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"clientInfo"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.JSONRPC != "2.0" || req.Method != "initialize" || req.ID != 1 {
		t.Errorf("unexpected envelope: %+v", req)
	}
	if req.Params.ProtocolVersion != "0.1" {
		t.Errorf("unexpected protocol version %q", req.Params.ProtocolVersion)
	}
	if req.Params.ClientInfo.Name != "agentdeck" || req.Params.ClientInfo.Version != "0.3.0" {
		t.Errorf("unexpected client info: %+v", req.Params.ClientInfo)
	}
}

func TestPromptRequestCarriesSession(t *testing.T) {
	data, err := json.Marshal(NewPromptRequest(7, "sess-1", "fix the bug"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params map[string]string `json:"params"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Method != "session/prompt" || req.ID != 7 {
		t.Errorf("unexpected envelope: %+v", req)
	}
	if req.Params["sessionId"] != "sess-1" || req.Params["text"] != "fix the bug" {
		t.Errorf("unexpected params: %v", req.Params)
	}
}

func TestParseEventTextDelta(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"message","params":{"type":"text","content":"hello"}}`
	ev, ok := ParseEvent([]byte(raw))
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Type != agent.EventTextDelta || ev.Text != "hello" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseEventTextDeltaMissingContent(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"message","params":{"type":"text"}}`
	ev, ok := ParseEvent([]byte(raw))
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Text != "" {
		t.Errorf("expected empty text, got %q", ev.Text)
	}
}

func TestParseEventToolUse(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"message","params":{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}}`
	ev, ok := ParseEvent([]byte(raw))
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Type != agent.EventToolCall || ev.ToolID != "toolu_1" || ev.ToolName != "Bash" {
		t.Errorf("unexpected event: %+v", ev)
	}
	var input map[string]string
	if err := json.Unmarshal(ev.ToolInput, &input); err != nil || input["command"] != "ls" {
		t.Errorf("unexpected input: %s", ev.ToolInput)
	}
}

func TestParseEventToolUseMissingName(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"message","params":{"type":"tool_use","id":"toolu_1"}}`
	if _, ok := ParseEvent([]byte(raw)); ok {
		t.Error("tool_use without a name should be dropped")
	}
}

func TestParseEventToolUseDefaultsInput(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"message","params":{"type":"tool_use","id":"toolu_1","name":"Read"}}`
	ev, ok := ParseEvent([]byte(raw))
	if !ok {
		t.Fatal("expected an event")
	}
	if string(ev.ToolInput) != "null" {
		t.Errorf("expected null input, got %s", ev.ToolInput)
	}
}

func TestParseEventToolResult(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"message","params":{"type":"tool_result","id":"toolu_1","output":"file1.txt"}}`
	ev, ok := ParseEvent([]byte(raw))
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Type != agent.EventToolResult || ev.ToolID != "toolu_1" || ev.ToolOutput != "file1.txt" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseEventSessionDone(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"session/done","params":{}}`
	ev, ok := ParseEvent([]byte(raw))
	if !ok || ev.Type != agent.EventDone {
		t.Errorf("expected done event, got %+v (ok=%v)", ev, ok)
	}
}

func TestParseEventSessionError(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"session/error","params":{"message":"model overloaded"}}`
	ev, ok := ParseEvent([]byte(raw))
	if !ok || ev.Type != agent.EventError || ev.Message != "model overloaded" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseEventSessionErrorDefaultMessage(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"session/error","params":{}}`
	ev, ok := ParseEvent([]byte(raw))
	if !ok || ev.Message != "session error" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseEventErrorResponse(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":3,"error":{"code":-32000,"message":"session not found"}}`
	ev, ok := ParseEvent([]byte(raw))
	if !ok || ev.Type != agent.EventError || ev.Message != "session not found" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseEventSuccessResponseIsNotAnEvent(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":3,"result":{}}`
	if _, ok := ParseEvent([]byte(raw)); ok {
		t.Error("success responses should not surface as events")
	}
}

func TestParseEventUnknownMethod(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"telemetry/ping","params":{}}`
	if _, ok := ParseEvent([]byte(raw)); ok {
		t.Error("unknown notifications should be dropped")
	}
}

func TestParseEventUnknownMessageType(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"message","params":{"type":"thinking","content":"hmm"}}`
	if _, ok := ParseEvent([]byte(raw)); ok {
		t.Error("unknown message types should be dropped")
	}
}

func TestParseEventInvalidJSON(t *testing.T) {
	if _, ok := ParseEvent([]byte("not json{")); ok {
		t.Error("malformed frames should be dropped")
	}
}

func TestParseInitializeResult(t *testing.T) {
	resp := Response{
		ID:     1,
		Result: json.RawMessage(`{"protocolVersion":"0.1","serverInfo":{"name":"claude-code","version":"1.2.3"}}`),
	}
	info, err := ParseInitializeResult(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Kind != agent.KindClaudeCode || info.Version != "1.2.3" {
		t.Errorf("unexpected server info: %+v", info)
	}
}

func TestParseInitializeResultUnknownServer(t *testing.T) {
	resp := Response{
		ID:     1,
		Result: json.RawMessage(`{"serverInfo":{"name":"gemini-cli","version":"0.9"}}`),
	}
	info, err := ParseInitializeResult(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Kind.Known() {
		t.Errorf("expected unknown kind, got %+v", info.Kind)
	}
}

func TestParseInitializeResultMissingServerInfo(t *testing.T) {
	resp := Response{ID: 1, Result: json.RawMessage(`{}`)}
	if _, err := ParseInitializeResult(resp); err == nil {
		t.Error("expected an error for a result without serverInfo")
	}
}

func TestParseNewSessionResult(t *testing.T) {
	resp := Response{ID: 2, Result: json.RawMessage(`{"sessionId":"sess-abc"}`)}
	sessionID, err := ParseNewSessionResult(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sessionID != "sess-abc" {
		t.Errorf("unexpected session id %q", sessionID)
	}
}

func TestParseNewSessionResultError(t *testing.T) {
	resp := Response{ID: 2, Error: &RPCError{Code: -32000, Message: "too many sessions"}}
	if _, err := ParseNewSessionResult(resp); err == nil {
		t.Error("expected an error response to fail")
	}
}
