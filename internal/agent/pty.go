package agent

import (
	"errors"
	"strings"
)

// ExitSentinel is the substring the PTY spawn loop writes into the output
// stream when the underlying CLI process exits. A chunk containing it is a
// disconnect signal, not conversational text.
const ExitSentinel = "CLI exited with status"

// ErrPTYClosed is returned by SendPrompt when the PTY writer is gone.
var ErrPTYClosed = errors.New("pty input channel closed")

// PTYClient adapts a spawned interactive CLI session to the unified Event
// vocabulary. The PTY read/write loops run on dedicated goroutines owned by
// the process launcher; this client only holds their channel endpoints.
type PTYClient struct {
	// AgentID is the registry key for this session.
	AgentID string

	in  chan<- string
	out <-chan string

	closed bool
}

// NewPTYClient wraps the input/output channels of an already-spawned PTY
// session.
func NewPTYClient(agentID string, in chan<- string, out <-chan string) *PTYClient {
	return &PTYClient{AgentID: agentID, in: in, out: out}
}

// SendPrompt writes the prompt followed by a newline to the PTY. The send
// blocks until the writer loop accepts the line; a full buffer only means
// the writer is momentarily behind, so the session must not be declared
// dead for it. Only a closed input channel, or a sentinel seen earlier by
// DrainEvents, is surfaced as ErrPTYClosed.
func (c *PTYClient) SendPrompt(prompt string) (err error) {
	if c.closed {
		return ErrPTYClosed
	}
	defer func() {
		if recover() != nil {
			err = ErrPTYClosed
		}
	}()
	c.in <- prompt + "\n"
	return nil
}

// DrainEvents drains all currently available output chunks without
// blocking. Each chunk becomes a TextDelta. A chunk containing the exit
// sentinel emits Disconnected instead and stops the drain; the process is
// gone, so chunks still buffered behind it are discarded. A closed output
// channel emits one terminal Disconnected.
func (c *PTYClient) DrainEvents() []Event {
	if c.closed {
		return nil
	}
	var events []Event
	for {
		select {
		case chunk, ok := <-c.out:
			if !ok {
				c.closed = true
				events = append(events, Disconnected())
				return events
			}
			if strings.Contains(chunk, ExitSentinel) {
				c.closed = true
				events = append(events, Disconnected())
				return events
			}
			events = append(events, TextDelta(chunk))
		default:
			return events
		}
	}
}
