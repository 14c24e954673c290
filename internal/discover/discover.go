// Package discover finds running coding agents on the local machine by
// scanning their lockfiles and probing well-known ACP ports.
//
// Claude Code writes ~/.claude/claude_server_<pid>.lock containing a JSON
// object with at least {"port": 8765} when it starts an ACP server. Codex
// follows the same convention in ~/.codex/. Agents without lockfiles are
// found by probing localhost ports 8765-8770.
package discover

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mtzanidakis/agentdeck/internal/acp"
	"github.com/mtzanidakis/agentdeck/internal/agent"
)

// DefaultPorts are the localhost ports swept for agents that do not
// write lockfiles. 8765 is the common stdio-to-ws default.
var DefaultPorts = []int{8765, 8766, 8767, 8768, 8769, 8770}

// DefaultProbeTimeout bounds each port probe so a sweep cannot stall
// startup.
const DefaultProbeTimeout = 500 * time.Millisecond

// Detected describes one agent found on the machine.
type Detected struct {
	Kind     agent.Kind
	Protocol agent.Protocol
	ACPURL   string
	PID      int
	Lockfile string
}

// lockfileData is the JSON payload agents write to their lockfiles.
type lockfileData struct {
	Port int `json:"port"`
	PID  int `json:"pid"`
}

// Scanner discovers agents. The zero value is not usable; create one
// with New.
type Scanner struct {
	home    string
	ports   []int
	timeout time.Duration
	version string
	probe   func(url, clientVersion string, timeout time.Duration) acp.ProbeResult
	logger  *slog.Logger
}

// Options configures a Scanner. Zero values pick defaults.
type Options struct {
	// Home overrides the user home directory, for tests.
	Home string
	// Ports overrides the swept port list.
	Ports []int
	// ProbeTimeout bounds each individual probe.
	ProbeTimeout time.Duration
	// ClientVersion is reported in probe handshakes.
	ClientVersion string
	Logger        *slog.Logger
}

// New creates a scanner.
func New(opts Options) *Scanner {
	if opts.Home == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.Home = home
		} else {
			opts.Home = "."
		}
	}
	if len(opts.Ports) == 0 {
		opts.Ports = DefaultPorts
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scanner{
		home:    opts.Home,
		ports:   opts.Ports,
		timeout: opts.ProbeTimeout,
		version: opts.ClientVersion,
		probe:   acp.Probe,
		logger:  opts.Logger,
	}
}

// ClaudeLockfilePatterns returns the glob patterns for Claude Code
// lockfiles.
func (s *Scanner) ClaudeLockfilePatterns() []string {
	return []string{
		filepath.Join(s.home, ".claude", "claude_server*.lock"),
		filepath.Join(s.home, ".claude", "*.lock"),
	}
}

// CodexLockfilePatterns returns the glob patterns for Codex lockfiles.
func (s *Scanner) CodexLockfilePatterns() []string {
	return []string{
		filepath.Join(s.home, ".codex", "codex_server*.lock"),
	}
}

// ParseLockfile reads one lockfile. Returns false when the file cannot
// be read or carries no port; a stale or garbled lockfile is not an
// error, just not an agent.
func ParseLockfile(path string, kind agent.Kind) (Detected, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Detected{}, false
	}
	var data lockfileData
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &data); err != nil {
		return Detected{}, false
	}
	if data.Port <= 0 {
		return Detected{}, false
	}
	return Detected{
		Kind:     kind,
		Protocol: agent.ProtocolACP,
		ACPURL:   fmt.Sprintf("ws://127.0.0.1:%d", data.Port),
		PID:      data.PID,
		Lockfile: path,
	}, true
}

// ScanLockfiles walks all known lockfile locations. Best effort:
// unreadable files are skipped silently.
func (s *Scanner) ScanLockfiles() []Detected {
	var found []Detected
	seen := make(map[string]struct{})

	scan := func(patterns []string, kind agent.Kind) {
		for _, pattern := range patterns {
			paths, err := filepath.Glob(pattern)
			if err != nil {
				continue
			}
			for _, path := range paths {
				if _, dup := seen[path]; dup {
					continue
				}
				seen[path] = struct{}{}
				if det, ok := ParseLockfile(path, kind); ok {
					found = append(found, det)
				}
			}
		}
	}

	scan(s.ClaudeLockfilePatterns(), agent.KindClaudeCode)
	scan(s.CodexLockfilePatterns(), agent.KindCodex)
	return found
}

// ScanPorts probes the configured localhost ports for agents without
// lockfiles.
func (s *Scanner) ScanPorts() []Detected {
	var found []Detected
	for _, port := range s.ports {
		url := fmt.Sprintf("ws://127.0.0.1:%d", port)
		res := s.probe(url, s.version, s.timeout)
		if res.Status != acp.ProbeACP {
			continue
		}
		s.logger.Debug("agent found by port sweep", "url", url, "kind", res.Kind.Name)
		found = append(found, Detected{
			Kind:     res.Kind,
			Protocol: agent.ProtocolACP,
			ACPURL:   url,
			Lockfile: fmt.Sprintf("<port-scan:%d>", port),
		})
	}
	return found
}

// Scan combines the lockfile scan and the port sweep, deduplicating by
// URL: a lockfile hit wins over a port hit for the same endpoint because
// it carries the pid.
func (s *Scanner) Scan() []Detected {
	found := s.ScanLockfiles()
	byURL := make(map[string]struct{}, len(found))
	for _, det := range found {
		byURL[det.ACPURL] = struct{}{}
	}
	for _, det := range s.ScanPorts() {
		if _, dup := byURL[det.ACPURL]; dup {
			continue
		}
		byURL[det.ACPURL] = struct{}{}
		found = append(found, det)
	}
	return found
}
