package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtzanidakis/agentdeck/internal/agent"
)

var (
	// ErrNotConnected is returned when the WebSocket is gone.
	ErrNotConnected = errors.New("acp: not connected")
	// ErrNoSession is returned by prompt and cancel before session/new.
	ErrNoSession = errors.New("acp: no active session")
	// ErrTimeout is returned when the server does not answer a request in
	// time.
	ErrTimeout = errors.New("acp: request timed out")
)

// DefaultInitTimeout bounds the initialize and session/new handshakes.
const DefaultInitTimeout = 5 * time.Second

// inboundBuffer sizes the channel between the read loop and consumers.
const inboundBuffer = 256

// State tracks the client's position in the connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateInitialized
	StateSessionActive
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateInitialized:
		return "initialized"
	case StateSessionActive:
		return "session_active"
	default:
		return "disconnected"
	}
}

// Client is a single-agent ACP connection. The blocking handshake calls
// (Initialize, NewSession) and the non-blocking event poll (TryRecvEvent)
// share one inbound stream: frames that arrive while a handshake is
// waiting for its response are buffered and replayed to TryRecvEvent in
// arrival order, so no event is ever lost to a concurrent request.
//
// A Client is safe for one goroutine issuing requests plus any number of
// goroutines polling events, which matches how the orchestrator drives it.
type Client struct {
	url           string
	clientVersion string

	conn   *websocket.Conn
	nextID atomic.Uint64

	outbound  chan []byte
	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu             sync.Mutex
	state          State
	serverInfo     ServerInfo
	sessionID      string
	buffered       [][]byte
	sawDisconnect  bool
	emittedDisconn bool
}

// Dial connects to an ACP server. The returned client is in StateConnected;
// call Initialize before anything else.
func Dial(ctx context.Context, url, clientVersion string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		url:           url,
		clientVersion: clientVersion,
		conn:          conn,
		outbound:      make(chan []byte, 64),
		inbound:       make(chan []byte, inboundBuffer),
		done:          make(chan struct{}),
		state:         StateConnected,
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.inbound)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.inbound <- data:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case data := <-c.outbound:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
	})
	return nil
}

// URL returns the server address this client dialed.
func (c *Client) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the active session id, or "" before session/new.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerInfo returns the identity learned during Initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// allocID hands out request ids. Ids are strictly increasing for the
// lifetime of the connection, starting at 1.
func (c *Client) allocID() uint64 {
	return c.nextID.Add(1)
}

func (c *Client) send(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", req.Method, err)
	}
	select {
	case c.outbound <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	}
}

// awaitResponse blocks until a frame carrying the given id arrives. Every
// other frame received while waiting is queued for TryRecvEvent.
func (c *Client) awaitResponse(id uint64, timeout time.Duration) (Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case data, ok := <-c.inbound:
			if !ok {
				c.markDisconnected()
				return Response{}, ErrNotConnected
			}
			var f frame
			if err := json.Unmarshal(data, &f); err == nil && f.ID != nil && *f.ID == id {
				return Response{ID: id, Result: f.Result, Error: f.Error}, nil
			}
			c.mu.Lock()
			c.buffered = append(c.buffered, data)
			c.mu.Unlock()
		case <-timer.C:
			return Response{}, ErrTimeout
		}
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.sawDisconnect = true
	c.mu.Unlock()
}

// Initialize performs the protocol handshake and records the server's
// identity.
func (c *Client) Initialize(timeout time.Duration) (ServerInfo, error) {
	id := c.allocID()
	if err := c.send(NewInitializeRequest(id, c.clientVersion)); err != nil {
		return ServerInfo{}, err
	}
	resp, err := c.awaitResponse(id, timeout)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("initialize: %w", err)
	}
	info, err := ParseInitializeResult(resp)
	if err != nil {
		return ServerInfo{}, err
	}

	c.mu.Lock()
	c.serverInfo = info
	c.state = StateInitialized
	c.mu.Unlock()
	return info, nil
}

// NewSession opens a session and records its id.
func (c *Client) NewSession(timeout time.Duration) (string, error) {
	id := c.allocID()
	if err := c.send(NewSessionRequest(id)); err != nil {
		return "", err
	}
	resp, err := c.awaitResponse(id, timeout)
	if err != nil {
		return "", fmt.Errorf("session/new: %w", err)
	}
	sessionID, err := ParseNewSessionResult(resp)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.state = StateSessionActive
	c.mu.Unlock()
	return sessionID, nil
}

// SendPrompt submits a prompt on the active session. The call does not
// wait for any response; the agent's work streams back as notifications.
func (c *Client) SendPrompt(text string) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return ErrNoSession
	}
	return c.send(NewPromptRequest(c.allocID(), sessionID, text))
}

// Cancel asks the agent to stop the current turn. Fire and forget, like
// SendPrompt.
func (c *Client) Cancel() error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return ErrNoSession
	}
	return c.send(NewCancelRequest(c.allocID(), sessionID))
}

// TryRecvEvent returns the next agent event without blocking. Frames
// buffered during a handshake are drained first, oldest first, then the
// live inbound stream. Frames that map to no event are skipped. When the
// connection drops, a single Disconnected event is emitted after the
// remaining frames; after that the poll always reports no event.
func (c *Client) TryRecvEvent() (agent.Event, bool) {
	for {
		data, ok := c.nextFrame()
		if !ok {
			if c.takeDisconnect() {
				return agent.Disconnected(), true
			}
			return agent.Event{}, false
		}
		if ev, ok := ParseEvent(data); ok {
			return ev, true
		}
	}
}

func (c *Client) nextFrame() ([]byte, bool) {
	c.mu.Lock()
	if len(c.buffered) > 0 {
		data := c.buffered[0]
		c.buffered = c.buffered[1:]
		c.mu.Unlock()
		return data, true
	}
	c.mu.Unlock()

	select {
	case data, ok := <-c.inbound:
		if !ok {
			c.markDisconnected()
			return nil, false
		}
		return data, true
	default:
		return nil, false
	}
}

// takeDisconnect reports whether a Disconnected event is owed, at most
// once per connection.
func (c *Client) takeDisconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sawDisconnect && !c.emittedDisconn {
		c.emittedDisconn = true
		return true
	}
	return false
}
