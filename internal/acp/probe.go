package acp

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtzanidakis/agentdeck/internal/agent"
)

// ProbeStatus classifies what a probe found at a URL.
type ProbeStatus int

const (
	// ProbeACP means the endpoint completed an initialize handshake.
	ProbeACP ProbeStatus = iota
	// ProbeNotACP means something accepted the WebSocket but did not
	// answer the handshake.
	ProbeNotACP
	// ProbeUnreachable means no WebSocket could be established.
	ProbeUnreachable
)

// ProbeResult is the outcome of probing a candidate agent endpoint.
type ProbeResult struct {
	Status  ProbeStatus
	Kind    agent.Kind
	Version string
}

// Probe dials a URL, attempts an initialize handshake, and closes the
// connection. The full exchange is bounded by timeout. Used by the port
// sweep to tell agents apart from other local services.
func Probe(url, clientVersion string, timeout time.Duration) ProbeResult {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return ProbeResult{Status: ProbeUnreachable}
	}
	defer conn.Close()

	req := NewInitializeRequest(1, clientVersion)
	data, err := json.Marshal(req)
	if err != nil {
		return ProbeResult{Status: ProbeNotACP}
	}
	deadline := time.Now().Add(timeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return ProbeResult{Status: ProbeNotACP}
	}

	// Read until the handshake response or the deadline. Notifications a
	// chatty server sends first are skipped.
	conn.SetReadDeadline(deadline)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return ProbeResult{Status: ProbeNotACP}
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil || f.ID == nil || *f.ID != 1 {
			continue
		}
		info, err := ParseInitializeResult(Response{ID: 1, Result: f.Result, Error: f.Error})
		if err != nil {
			return ProbeResult{Status: ProbeNotACP}
		}
		return ProbeResult{Status: ProbeACP, Kind: info.Kind, Version: info.Version}
	}
}
