// Package natsbus runs the embedded NATS server that carries agent
// events, task results and the control-CLI request/reply surface.
package natsbus

import (
	"fmt"
	"os"
	"time"

	"github.com/mtzanidakis/agentdeck/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// readyTimeout bounds how long startup waits for the server to accept
// connections.
const readyTimeout = 5 * time.Second

// Bus owns the embedded server. All in-process consumers connect to it
// through ClientURL, the same way an external dtask process does.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "agentdeck",
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
		JetStream:  true,
		StoreDir:   cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	return &Bus{server: ns, cfg: cfg}, nil
}

// ClientURL returns the address clients dial, reflecting the actual
// bound port when the configured one was random.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Port() int {
	return b.cfg.Port
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
