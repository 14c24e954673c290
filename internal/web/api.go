package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/agentdeck/internal/schedule"
	"github.com/mtzanidakis/agentdeck/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agents (live registry, history from DB)
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)
	mux.HandleFunc("GET /api/agents/{id}/messages", s.getAgentMessages)
	mux.HandleFunc("POST /api/agents/{id}/message", s.sendAgentMessage)
	mux.HandleFunc("POST /api/agents/{id}/main", s.promoteMainAgent)
	mux.HandleFunc("POST /api/agents/launch", s.launchAgent)

	// Discovery
	mux.HandleFunc("POST /api/discovery/rescan", s.rescan)

	// Work submission and results
	mux.HandleFunc("POST /api/work", s.submitWork)
	mux.HandleFunc("GET /api/results", s.listResults)
	mux.HandleFunc("GET /api/results/{id}", s.getResult)

	// Scheduled tasks
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/tasks/completed", s.deleteCompletedTasks)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("GET /api/secrets/{id}", s.getSecret)
	mux.HandleFunc("PUT /api/secrets/{id}", s.updateSecret)
	mux.HandleFunc("DELETE /api/secrets/{id}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.registry.All()
	msgStats, _ := s.store.GetAgentMessageStats()
	mainID := s.orch.MainAgent()

	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		entry := map[string]any{
			"id":       a.ID,
			"name":     a.Name,
			"kind":     a.Kind.Name,
			"protocol": string(a.Protocol),
			"origin":   string(a.Origin),
			"status":   string(a.Status),
			"main":     a.ID == mainID,
		}
		if a.ACPURL != "" {
			entry["acp_url"] = a.ACPURL
		}
		if stats, ok := msgStats[a.ID]; ok {
			entry["message_count"] = stats.MessageCount
			entry["last_active"] = formatMessageTime(stats.LastActive)
		} else {
			entry["message_count"] = 0
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if info, ok := s.registry.Get(id); ok {
		jsonResponse(w, info)
		return
	}

	// Fall back to persisted history for agents seen in earlier runs.
	a, err := s.store.GetAgent(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if a == nil {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, a)
}

func (s *Server) getAgentMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages, err := s.store.GetMessages(id, 100)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Transform to frontend Message interface: {id, role, text, time}
	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]string{
			"id":   fmt.Sprintf("%d", m.ID),
			"role": mapSenderToRole(m.Sender),
			"text": m.Content,
			"time": formatMessageTime(m.CreatedAt),
		})
	}
	jsonResponse(w, out)
}

func (s *Server) sendAgentMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Text == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}
	if err := s.orch.SendUserMessage(r.Context(), id, body.Text); err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	jsonResponse(w, map[string]string{"status": "sent"})
}

func (s *Server) promoteMainAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.registry.Get(id); !ok {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	s.orch.SetMainAgent(id)
	jsonResponse(w, map[string]string{"status": "ok", "main": id})
}

func (s *Server) launchAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string   `json:"name"`
		Args []string `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	env, err := s.secretEnv()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id, err := s.orch.LaunchPTY(body.Name, body.Args, env)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	jsonResponse(w, map[string]string{"status": "launched", "agent_id": id})
}

// secretEnv decrypts every stored secret into NAME=value pairs for a
// launched CLI. No vault configured means no extra environment.
func (s *Server) secretEnv() ([]string, error) {
	if s.vault == nil {
		return nil, nil
	}
	metas, err := s.store.ListSecrets()
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	env := make([]string, 0, len(metas))
	for _, meta := range metas {
		sec, err := s.store.GetSecret(meta.ID)
		if err != nil || sec == nil {
			return nil, fmt.Errorf("load secret %s: %w", meta.Name, err)
		}
		value, err := s.vault.DecryptString(sec.Value, sec.Nonce)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret %s: %w", meta.Name, err)
		}
		env = append(env, sec.Name+"="+value)
	}
	return env, nil
}

func (s *Server) rescan(w http.ResponseWriter, r *http.Request) {
	s.orch.Rescan(r.Context())
	jsonResponse(w, map[string]any{"status": "ok", "agents": s.registry.Len()})
}

func (s *Server) submitWork(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Prompt == "" {
		jsonError(w, "prompt is required", http.StatusBadRequest)
		return
	}
	taskID := s.orch.SubmitTask(r.Context(), body.Prompt)
	jsonResponse(w, map[string]string{"task_id": taskID, "status": "submitted"})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.ListTaskResults(50)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []store.TaskResult{}
	}
	jsonResponse(w, results)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.store.GetTaskResult(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if res == nil {
		jsonError(w, "result not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, res)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	agentNames := s.agentNameMap()
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToAPI(t, agentNames))
	}
	jsonResponse(w, out)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID  string `json:"agent_id"`
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Prompt   string `json:"prompt"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Schedule == "" || body.Prompt == "" {
		jsonError(w, "name, schedule, and prompt are required", http.StatusBadRequest)
		return
	}
	if body.AgentID == "" {
		body.AgentID = s.orch.MainAgent()
	}

	// Normalize schedule (handles plain cron strings)
	normalized, err := schedule.NormalizeSchedule(body.Schedule)
	if err != nil {
		jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
		return
	}

	status := "active"
	if body.Enabled != nil && !*body.Enabled {
		status = "paused"
	}

	t := store.ScheduledTask{
		ID:       uuid.New().String(),
		AgentID:  body.AgentID,
		Name:     body.Name,
		Schedule: normalized,
		Prompt:   body.Prompt,
		Status:   status,
	}

	// Calculate initial next_run_at
	if status == "active" {
		t.NextRunAt = schedule.CalculateNextRun(normalized)
	}

	if err := s.store.SaveTask(&t); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, taskToAPI(t, s.agentNameMap()))
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := s.store.GetTask(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name     *string `json:"name"`
		Schedule *string `json:"schedule"`
		Prompt   *string `json:"prompt"`
		AgentID  *string `json:"agent_id"`
		Enabled  *bool   `json:"enabled"`
		Status   *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Apply updates
	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.Prompt != nil {
		existing.Prompt = *body.Prompt
	}
	if body.AgentID != nil {
		existing.AgentID = *body.AgentID
	}

	// Handle enabled bool → status mapping
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = "active"
		} else if existing.Status != "completed" {
			existing.Status = "paused"
		}
	} else if body.Status != nil {
		existing.Status = *body.Status
	}

	// Handle schedule change
	if body.Schedule != nil {
		normalized, err := schedule.NormalizeSchedule(*body.Schedule)
		if err != nil {
			jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
	}

	// Recalculate next_run_at
	if existing.Status == "active" {
		existing.NextRunAt = schedule.CalculateNextRun(existing.Schedule)
	} else {
		existing.NextRunAt = nil
	}

	if err := s.store.SaveTask(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, taskToAPI(*existing, s.agentNameMap()))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteTask(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) deleteCompletedTasks(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.DeleteCompletedTasks()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"status": "deleted", "count": count})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	agents := s.registry.All()
	connected := s.registry.Connected()
	tasks, _ := s.store.ListTasks()

	pendingTasks := 0
	for _, t := range tasks {
		if t.Status == "active" {
			pendingTasks++
		}
	}

	// Build agent ID → name lookup
	agentNames := make(map[string]string, len(agents))
	for _, a := range agents {
		agentNames[a.ID] = a.Name
	}

	// Format uptime
	uptime := formatUptime(time.Since(s.startedAt))

	// Recent messages
	recentMsgs, _ := s.store.GetRecentMessages(10)
	recentOut := make([]map[string]string, 0, len(recentMsgs))
	for _, m := range recentMsgs {
		agentName := agentNames[m.AgentID]
		if agentName == "" {
			agentName = m.AgentID
		}
		recentOut = append(recentOut, map[string]string{
			"id":    fmt.Sprintf("%d", m.ID),
			"agent": agentName,
			"role":  mapSenderToRole(m.Sender),
			"text":  m.Content,
			"time":  formatMessageTime(m.CreatedAt),
		})
	}

	status := map[string]any{
		"status":               "ok",
		"agents_count":         len(agents),
		"connected_agents":     len(connected),
		"main_agent":           s.orch.MainAgent(),
		"main_queue_pending":   s.dispatcher.MainPending(),
		"main_queue_active":    s.dispatcher.MainIsActive(),
		"background_in_flight": s.dispatcher.BackgroundInFlight(),
		"scheduled_active":     pendingTasks,
		"uptime":               uptime,
		"recent_messages":      recentOut,
		"nats":                 "ok",
		"timestamp":            time.Now().UTC(),
		"version":              s.version,
	}

	jsonResponse(w, status)
}

func (s *Server) agentNameMap() map[string]string {
	m := make(map[string]string)
	for _, a := range s.registry.All() {
		m[a.ID] = a.Name
	}
	// Include agents only known from earlier runs.
	if persisted, err := s.store.ListAgents(); err == nil {
		for _, a := range persisted {
			if _, ok := m[a.ID]; !ok {
				m[a.ID] = a.Name
			}
		}
	}
	return m
}

func taskToAPI(t store.ScheduledTask, agentNames map[string]string) map[string]any {
	m := map[string]any{
		"id":               t.ID,
		"name":             t.Name,
		"schedule":         t.Schedule,
		"schedule_display": schedule.FormatSchedule(t.Schedule),
		"agent_id":         t.AgentID,
		"prompt":           t.Prompt,
		"enabled":          t.Status == "active",
		"status":           t.Status,
	}
	if name, ok := agentNames[t.AgentID]; ok {
		m["agent_name"] = name
	}
	if t.LastRunAt != nil {
		m["last_run"] = formatMessageTime(*t.LastRunAt)
	}
	if t.NextRunAt != nil {
		m["next_run"] = formatMessageTime(*t.NextRunAt)
	}
	return m
}

func mapSenderToRole(sender string) string {
	if sender == "agent" {
		return "assistant"
	}
	return "user"
}

func formatMessageTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
