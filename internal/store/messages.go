package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is one transcript entry: a prompt sent to an agent or a piece
// of output it streamed back.
type Message struct {
	ID        int64           `json:"id"`
	AgentID   string          `json:"agent_id"`
	SessionID string          `json:"session_id,omitempty"`
	Sender    string          `json:"sender"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) SaveMessage(msg *Message) error {
	result, err := s.db.Exec(`
		INSERT INTO messages (agent_id, session_id, sender, content, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		msg.AgentID, msg.SessionID, msg.Sender, msg.Content, msg.Metadata)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	msg.ID, _ = result.LastInsertId()
	return nil
}

func (s *Store) GetMessages(agentID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, agent_id, session_id, sender, content, metadata, created_at
		FROM messages
		WHERE agent_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func (s *Store) GetRecentMessages(limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, agent_id, session_id, sender, content, metadata, created_at
		FROM messages
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return messages, rows.Err()
}

func scanMessages(rows interface {
	Next() bool
	Scan(dest ...any) error
}) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		var sessionID, metadata *string
		if err := rows.Scan(&m.ID, &m.AgentID, &sessionID, &m.Sender, &m.Content, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if sessionID != nil {
			m.SessionID = *sessionID
		}
		if metadata != nil {
			m.Metadata = json.RawMessage(*metadata)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

type AgentMessageStats struct {
	AgentID      string
	MessageCount int
	LastActive   time.Time
}

func (s *Store) GetAgentMessageStats() (map[string]AgentMessageStats, error) {
	rows, err := s.db.Query(`
		SELECT agent_id, COUNT(*) as cnt, COALESCE(MAX(created_at), '') as last_active
		FROM messages
		GROUP BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("get agent message stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]AgentMessageStats)
	for rows.Next() {
		var as AgentMessageStats
		var lastActive string
		if err := rows.Scan(&as.AgentID, &as.MessageCount, &lastActive); err != nil {
			return nil, fmt.Errorf("scan agent stats: %w", err)
		}
		if lastActive != "" {
			as.LastActive, _ = time.Parse("2006-01-02 15:04:05", lastActive)
		}
		stats[as.AgentID] = as
	}
	return stats, rows.Err()
}
