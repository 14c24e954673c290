package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mtzanidakis/agentdeck/internal/agent"
)

// Agent is the persisted record of an observed agent, so the web UI can
// show history across restarts of both agentdeck and the agents.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Protocol  string    `json:"protocol"`
	Origin    string    `json:"origin"`
	Status    string    `json:"status"`
	ACPURL    string    `json:"acp_url,omitempty"`
	PID       int       `json:"pid,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// AgentFromInfo converts a registry snapshot into its persisted form.
func AgentFromInfo(info agent.Info) *Agent {
	return &Agent{
		ID:       info.ID,
		Name:     info.Name,
		Kind:     info.Kind.Name,
		Protocol: string(info.Protocol),
		Origin:   string(info.Origin),
		Status:   string(info.Status),
		ACPURL:   info.ACPURL,
		PID:      info.PTYPID,
	}
}

func (s *Store) SaveAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, kind, protocol, origin, status, acp_url, pid, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			protocol = excluded.protocol,
			origin = excluded.origin,
			status = excluded.status,
			acp_url = excluded.acp_url,
			pid = excluded.pid,
			last_seen = CURRENT_TIMESTAMP`,
		a.ID, a.Name, a.Kind, a.Protocol, a.Origin, a.Status, a.ACPURL, a.PID)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	a := &Agent{}
	var acpURL sql.NullString
	var pid sql.NullInt64
	err := s.db.QueryRow(`
		SELECT id, name, kind, protocol, origin, status, acp_url, pid, first_seen, last_seen
		FROM agents WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Kind, &a.Protocol, &a.Origin, &a.Status, &acpURL, &pid, &a.FirstSeen, &a.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.ACPURL = acpURL.String
	a.PID = int(pid.Int64)
	return a, nil
}

func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`
		SELECT id, name, kind, protocol, origin, status, acp_url, pid, first_seen, last_seen
		FROM agents ORDER BY first_seen`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var acpURL sql.NullString
		var pid sql.NullInt64
		if err := rows.Scan(&a.ID, &a.Name, &a.Kind, &a.Protocol, &a.Origin, &a.Status, &acpURL, &pid, &a.FirstSeen, &a.LastSeen); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.ACPURL = acpURL.String
		a.PID = int(pid.Int64)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgentStatus records a status transition without touching the rest
// of the row.
func (s *Store) UpdateAgentStatus(id, status string) error {
	_, err := s.db.Exec(`
		UPDATE agents SET status = ?, last_seen = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	return err
}

func (s *Store) DeleteAgent(id string) error {
	_, err := s.db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	return err
}

// DeleteAgentsNotIn prunes records for agents that no longer exist.
func (s *Store) DeleteAgentsNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM agents`)
		return err
	}
	query := `DELETE FROM agents WHERE id NOT IN (`
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = id
	}
	query += ")"
	_, err := s.db.Exec(query, args...)
	return err
}
