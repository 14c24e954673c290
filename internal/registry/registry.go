// Package registry holds the in-memory directory of every known agent.
//
// The registry is advisory bookkeeping, not a transactional store: all
// operations on an absent id are silent no-ops, and readers always get
// copies so nobody can observe a half-applied update or hold a lock across
// a blocking call.
package registry

import (
	"sync"

	"github.com/mtzanidakis/agentdeck/internal/agent"
)

// Registry is a thread-safe agent directory. The zero value is not usable;
// create one with New. Copying a Registry value yields a second handle to
// the same underlying state, so it can be handed to every subsystem that
// needs agent visibility.
type Registry struct {
	inner *registryState
}

type registryState struct {
	mu     sync.RWMutex
	agents map[string]agent.Info
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{inner: &registryState{agents: make(map[string]agent.Info)}}
}

// Register upserts an agent by id and returns the id. An existing record
// under the same id is replaced wholesale; no partial update is ever
// visible.
func (r *Registry) Register(info agent.Info) string {
	r.inner.mu.Lock()
	defer r.inner.mu.Unlock()
	r.inner.agents[info.ID] = info.Clone()
	return info.ID
}

// Get returns a copy of the agent record, or false if the id is unknown.
func (r *Registry) Get(id string) (agent.Info, bool) {
	r.inner.mu.RLock()
	defer r.inner.mu.RUnlock()
	info, ok := r.inner.agents[id]
	if !ok {
		return agent.Info{}, false
	}
	return info.Clone(), true
}

// All returns copies of every registered agent.
func (r *Registry) All() []agent.Info {
	r.inner.mu.RLock()
	defer r.inner.mu.RUnlock()
	out := make([]agent.Info, 0, len(r.inner.agents))
	for _, info := range r.inner.agents {
		out = append(out, info.Clone())
	}
	return out
}

// UpdateStatus sets the status of an agent. Unknown ids are ignored.
func (r *Registry) UpdateStatus(id string, status agent.Status) {
	r.inner.mu.Lock()
	defer r.inner.mu.Unlock()
	if info, ok := r.inner.agents[id]; ok {
		info.Status = status
		r.inner.agents[id] = info
	}
}

// AddSession appends a session id to an agent's session list,
// deduplicating. Unknown agent ids are ignored.
func (r *Registry) AddSession(id, sessionID string) {
	r.inner.mu.Lock()
	defer r.inner.mu.Unlock()
	info, ok := r.inner.agents[id]
	if !ok {
		return
	}
	for _, s := range info.SessionIDs {
		if s == sessionID {
			return
		}
	}
	info.SessionIDs = append(info.SessionIDs, sessionID)
	r.inner.agents[id] = info
}

// RemoveSession removes a session id from an agent's session list. Unknown
// agent or session ids are ignored.
func (r *Registry) RemoveSession(id, sessionID string) {
	r.inner.mu.Lock()
	defer r.inner.mu.Unlock()
	info, ok := r.inner.agents[id]
	if !ok {
		return
	}
	var kept []string
	for _, s := range info.SessionIDs {
		if s != sessionID {
			kept = append(kept, s)
		}
	}
	info.SessionIDs = kept
	r.inner.agents[id] = info
}

// Remove deletes an agent. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.inner.mu.Lock()
	defer r.inner.mu.Unlock()
	delete(r.inner.agents, id)
}

// HasURL reports whether any registered agent uses the given ACP URL.
// Discovery uses this to avoid double-registering an externally found
// agent.
func (r *Registry) HasURL(url string) bool {
	r.inner.mu.RLock()
	defer r.inner.mu.RUnlock()
	for _, info := range r.inner.agents {
		if info.ACPURL != "" && info.ACPURL == url {
			return true
		}
	}
	return false
}

// Connected returns copies of all agents whose status is not Disconnected.
func (r *Registry) Connected() []agent.Info {
	r.inner.mu.RLock()
	defer r.inner.mu.RUnlock()
	var out []agent.Info
	for _, info := range r.inner.agents {
		if info.Status != agent.StatusDisconnected {
			out = append(out, info.Clone())
		}
	}
	return out
}

// ByProtocol returns copies of all agents using the given protocol.
func (r *Registry) ByProtocol(p agent.Protocol) []agent.Info {
	r.inner.mu.RLock()
	defer r.inner.mu.RUnlock()
	var out []agent.Info
	for _, info := range r.inner.agents {
		if info.Protocol == p {
			out = append(out, info.Clone())
		}
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.inner.mu.RLock()
	defer r.inner.mu.RUnlock()
	return len(r.inner.agents)
}
