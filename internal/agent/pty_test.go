package agent

import (
	"testing"
	"time"
)

func newTestPTY() (*PTYClient, chan string, chan string) {
	in := make(chan string, 16)
	out := make(chan string, 16)
	return NewPTYClient("pty-1", in, out), in, out
}

func TestPTYSendPromptAppendsNewline(t *testing.T) {
	c, in, _ := newTestPTY()

	if err := c.SendPrompt("hello"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	if got := <-in; got != "hello\n" {
		t.Errorf("expected %q, got %q", "hello\n", got)
	}
}

func TestPTYSendPromptWaitsForSlowWriter(t *testing.T) {
	in := make(chan string)
	out := make(chan string)
	c := NewPTYClient("pty-1", in, out)

	got := make(chan string, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		got <- <-in
	}()

	if err := c.SendPrompt("still alive"); err != nil {
		t.Fatalf("send to busy writer: %v", err)
	}
	if line := <-got; line != "still alive\n" {
		t.Errorf("expected %q, got %q", "still alive\n", line)
	}
}

func TestPTYSendPromptFailsAfterSentinel(t *testing.T) {
	c, in, out := newTestPTY()

	out <- "claude CLI exited with status 1"
	c.DrainEvents()

	if err := c.SendPrompt("hello"); err != ErrPTYClosed {
		t.Errorf("expected ErrPTYClosed after sentinel, got %v", err)
	}
	select {
	case line := <-in:
		t.Errorf("prompt %q reached a dead session", line)
	default:
	}
}

func TestPTYSendPromptFailsWhenClosed(t *testing.T) {
	in := make(chan string, 1)
	out := make(chan string)
	c := NewPTYClient("pty-1", in, out)

	close(in)
	if err := c.SendPrompt("hello"); err != ErrPTYClosed {
		t.Errorf("expected ErrPTYClosed, got %v", err)
	}
}

func TestPTYDrainEventsTextDeltas(t *testing.T) {
	c, _, out := newTestPTY()

	out <- "chunk1"
	out <- "chunk2"

	events := c.DrainEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventTextDelta || events[0].Text != "chunk1" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Text != "chunk2" {
		t.Errorf("unexpected second event: %+v", events[1])
	}
}

func TestPTYDrainEventsExitSentinel(t *testing.T) {
	c, _, out := newTestPTY()

	out <- "Claude CLI exited with status 0"
	out <- "stale chunk after exit"

	events := c.DrainEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventDisconnected {
		t.Errorf("expected disconnected, got %+v", events[0])
	}
	// The adapter is done after a sentinel; later drains return nothing.
	if more := c.DrainEvents(); len(more) != 0 {
		t.Errorf("expected no events after sentinel, got %d", len(more))
	}
}

func TestPTYDrainEventsClosedChannel(t *testing.T) {
	c, _, out := newTestPTY()

	close(out)

	events := c.DrainEvents()
	if len(events) != 1 || events[0].Type != EventDisconnected {
		t.Fatalf("expected single disconnected event, got %+v", events)
	}
}

func TestPTYDrainEmpty(t *testing.T) {
	c, _, _ := newTestPTY()
	if events := c.DrainEvents(); len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestPTYDrainTextThenSentinel(t *testing.T) {
	c, _, out := newTestPTY()

	out <- "final output"
	out <- "codex CLI exited with status 1"

	events := c.DrainEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventTextDelta {
		t.Errorf("expected text delta first, got %+v", events[0])
	}
	if events[1].Type != EventDisconnected {
		t.Errorf("expected disconnected second, got %+v", events[1])
	}
}
