package agent

import (
	"encoding/json"
	"testing"
)

func TestKindFromServerName(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"claude-code", KindClaudeCode},
		{"Claude Code", KindClaudeCode},
		{"anthropic-claude", KindClaudeCode},
		{"codex", KindCodex},
		{"openai-codex", KindCodex},
		{"gemini-cli", KindUnknown("gemini-cli")},
	}
	for _, tt := range tests {
		if got := KindFromServerName(tt.name); got != tt.want {
			t.Errorf("KindFromServerName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestKindKnown(t *testing.T) {
	if !KindClaudeCode.Known() {
		t.Error("claude-code should be a known kind")
	}
	if KindUnknown("gemini-cli").Known() {
		t.Error("gemini-cli should be unknown")
	}
}

func TestInfoCloneIsolatesSessions(t *testing.T) {
	info := Info{
		ID:         "a1",
		SessionIDs: []string{"sess-1"},
	}
	cp := info.Clone()
	cp.SessionIDs[0] = "mutated"
	if info.SessionIDs[0] != "sess-1" {
		t.Error("clone shares the session slice with the original")
	}
}

func TestInfoSerializationRoundTrip(t *testing.T) {
	info := Info{
		ID:         "abc123",
		Name:       "claude-code",
		Kind:       KindClaudeCode,
		Protocol:   ProtocolACP,
		Origin:     OriginLaunched,
		Status:     StatusIdle,
		SessionIDs: []string{"sess-1"},
		ACPURL:     "ws://localhost:8765",
	}
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Info
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != info.ID || decoded.Kind != KindClaudeCode || decoded.Protocol != ProtocolACP {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
	if decoded.ACPURL != "ws://localhost:8765" {
		t.Errorf("acp_url lost in round trip: %q", decoded.ACPURL)
	}
}

func TestEventConstructors(t *testing.T) {
	ev := TextDelta("hello")
	if ev.Type != EventTextDelta || ev.Text != "hello" {
		t.Errorf("unexpected text delta: %+v", ev)
	}

	ev = ToolCall("toolu_1", "Bash", json.RawMessage(`{"command":"ls"}`))
	if ev.Type != EventToolCall || ev.ToolID != "toolu_1" || ev.ToolName != "Bash" {
		t.Errorf("unexpected tool call: %+v", ev)
	}

	ev = ToolResult("toolu_1", "file1.txt")
	if ev.Type != EventToolResult || ev.ToolOutput != "file1.txt" {
		t.Errorf("unexpected tool result: %+v", ev)
	}

	if Done().Type != EventDone {
		t.Error("Done() should produce a done event")
	}
	if ErrorEvent("oops").Message != "oops" {
		t.Error("ErrorEvent should carry the message")
	}
	if Disconnected().Type != EventDisconnected {
		t.Error("Disconnected() should produce a disconnected event")
	}
}
