package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/mtzanidakis/agentdeck/internal/agent"
)

func makeInfo(id string, protocol agent.Protocol) agent.Info {
	return agent.Info{
		ID:       id,
		Name:     "agent-" + id,
		Kind:     agent.KindClaudeCode,
		Protocol: protocol,
		Origin:   agent.OriginLaunched,
		Status:   agent.StatusIdle,
	}
}

func makeACPInfo(id, url string) agent.Info {
	info := makeInfo(id, agent.ProtocolACP)
	info.ACPURL = url
	return info
}

func TestRegisterAndGet(t *testing.T) {
	reg := New()
	reg.Register(makeInfo("agent-1", agent.ProtocolACP))

	got, ok := reg.Get("agent-1")
	if !ok {
		t.Fatal("expected agent-1 to be registered")
	}
	if got.Name != "agent-agent-1" {
		t.Errorf("unexpected name: %q", got.Name)
	}
}

func TestGetNonexistent(t *testing.T) {
	reg := New()
	if _, ok := reg.Get("nope"); ok {
		t.Error("expected lookup miss")
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	reg := New()
	reg.Register(makeInfo("a", agent.ProtocolACP))

	updated := makeInfo("a", agent.ProtocolPTY)
	updated.Name = "updated-name"
	reg.Register(updated)

	got, _ := reg.Get("a")
	if got.Name != "updated-name" {
		t.Errorf("expected replacement, got name %q", got.Name)
	}
	if got.Protocol != agent.ProtocolPTY {
		t.Errorf("expected protocol pty, got %v", got.Protocol)
	}
}

func TestRegisterReturnsID(t *testing.T) {
	reg := New()
	if id := reg.Register(makeInfo("agent-42", agent.ProtocolACP)); id != "agent-42" {
		t.Errorf("expected id agent-42, got %q", id)
	}
}

func TestAll(t *testing.T) {
	reg := New()
	if len(reg.All()) != 0 {
		t.Error("expected empty registry")
	}

	reg.Register(makeInfo("a", agent.ProtocolACP))
	reg.Register(makeInfo("b", agent.ProtocolPTY))
	reg.Register(makeInfo("c", agent.ProtocolACP))

	if got := len(reg.All()); got != 3 {
		t.Errorf("expected 3 agents, got %d", got)
	}
}

func TestRemove(t *testing.T) {
	reg := New()
	reg.Register(makeInfo("x", agent.ProtocolACP))
	reg.Remove("x")
	if _, ok := reg.Get("x"); ok {
		t.Error("expected x to be removed")
	}

	reg.Remove("ghost") // no-op, must not panic
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestUpdateStatus(t *testing.T) {
	reg := New()
	reg.Register(makeInfo("a", agent.ProtocolACP))

	reg.UpdateStatus("a", agent.StatusThinking)
	if got, _ := reg.Get("a"); got.Status != agent.StatusThinking {
		t.Errorf("expected thinking, got %v", got.Status)
	}

	reg.UpdateStatus("ghost", agent.StatusThinking) // no-op, must not panic
}

func TestAddSession(t *testing.T) {
	reg := New()
	reg.Register(makeInfo("a", agent.ProtocolACP))

	reg.AddSession("a", "sess-1")
	reg.AddSession("a", "sess-2")
	reg.AddSession("a", "sess-1") // duplicate

	got, _ := reg.Get("a")
	if len(got.SessionIDs) != 2 {
		t.Fatalf("expected 2 sessions, got %v", got.SessionIDs)
	}
	if got.SessionIDs[0] != "sess-1" || got.SessionIDs[1] != "sess-2" {
		t.Errorf("expected insertion order preserved, got %v", got.SessionIDs)
	}

	reg.AddSession("ghost", "sess-1") // no-op
}

func TestRemoveSession(t *testing.T) {
	reg := New()
	reg.Register(makeInfo("a", agent.ProtocolACP))
	reg.AddSession("a", "sess-1")
	reg.AddSession("a", "sess-2")

	reg.RemoveSession("a", "sess-1")
	got, _ := reg.Get("a")
	if len(got.SessionIDs) != 1 || got.SessionIDs[0] != "sess-2" {
		t.Errorf("unexpected sessions: %v", got.SessionIDs)
	}

	reg.RemoveSession("ghost", "sess-1") // no-op
}

func TestSnapshotIsolation(t *testing.T) {
	reg := New()
	reg.Register(makeInfo("a", agent.ProtocolACP))
	reg.AddSession("a", "sess-1")

	snap, _ := reg.Get("a")
	snap.SessionIDs[0] = "mutated"

	got, _ := reg.Get("a")
	if got.SessionIDs[0] != "sess-1" {
		t.Error("mutating a snapshot leaked into the registry")
	}
}

func TestHasURL(t *testing.T) {
	reg := New()
	if reg.HasURL("ws://localhost:8765") {
		t.Error("empty registry should have no URLs")
	}

	reg.Register(makeACPInfo("a", "ws://localhost:8765"))
	if !reg.HasURL("ws://localhost:8765") {
		t.Error("expected URL to be found")
	}
	if reg.HasURL("ws://localhost:9999") {
		t.Error("unexpected URL match")
	}
}

func TestConnected(t *testing.T) {
	reg := New()
	reg.Register(makeInfo("idle", agent.ProtocolACP))

	thinking := makeInfo("thinking", agent.ProtocolACP)
	thinking.Status = agent.StatusThinking
	reg.Register(thinking)

	waiting := makeInfo("waiting", agent.ProtocolACP)
	waiting.Status = agent.StatusWaitingForInput
	reg.Register(waiting)

	gone := makeInfo("gone", agent.ProtocolACP)
	gone.Status = agent.StatusDisconnected
	reg.Register(gone)

	connected := reg.Connected()
	if len(connected) != 3 {
		t.Fatalf("expected 3 connected agents, got %d", len(connected))
	}
	for _, info := range connected {
		if info.ID == "gone" {
			t.Error("disconnected agent included in Connected()")
		}
	}
}

func TestByProtocol(t *testing.T) {
	reg := New()
	reg.Register(makeInfo("acp-1", agent.ProtocolACP))
	reg.Register(makeInfo("pty-1", agent.ProtocolPTY))
	reg.Register(makeInfo("acp-2", agent.ProtocolACP))

	acp := reg.ByProtocol(agent.ProtocolACP)
	if len(acp) != 2 {
		t.Errorf("expected 2 acp agents, got %d", len(acp))
	}

	pty := reg.ByProtocol(agent.ProtocolPTY)
	if len(pty) != 1 || pty[0].ID != "pty-1" {
		t.Errorf("unexpected pty agents: %v", pty)
	}
}

func TestCopySharesState(t *testing.T) {
	reg1 := New()
	reg2 := reg1 // second handle, same state

	reg1.Register(makeInfo("shared", agent.ProtocolACP))
	if _, ok := reg2.Get("shared"); !ok {
		t.Error("copy does not observe writes through the original handle")
	}
}

func TestConcurrentRegistrations(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Register(makeInfo(fmt.Sprintf("agent-%d", i), agent.ProtocolACP))
		}(i)
	}
	wg.Wait()

	if reg.Len() != 20 {
		t.Errorf("expected 20 agents, got %d", reg.Len())
	}
}
