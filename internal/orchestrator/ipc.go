package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mtzanidakis/agentdeck/internal/natsbus"
	"github.com/mtzanidakis/agentdeck/internal/schedule"
	"github.com/mtzanidakis/agentdeck/internal/store"
	"github.com/nats-io/nats.go"
)

// IPCCommand is the request envelope for the deck.ipc request/reply
// surface used by the dtask CLI.
type IPCCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (o *Orchestrator) subscribeIPC() {
	if o.client == nil {
		return
	}
	_, err := o.client.Subscribe(natsbus.TopicIPC, func(msg *nats.Msg) {
		o.handleIPC(msg)
	})
	if err != nil {
		o.logger.Error("ipc subscription failed", "error", err)
	}
}

func (o *Orchestrator) handleIPC(msg *nats.Msg) {
	var cmd IPCCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		o.logger.Warn("invalid IPC command", "error", err)
		o.respondIPC(msg, map[string]any{"error": "invalid command"})
		return
	}

	o.logger.Info("IPC command received", "type", cmd.Type)

	switch cmd.Type {
	case "submit_work":
		o.ipcSubmitWork(msg, cmd.Payload)
	case "create_task":
		o.ipcCreateTask(msg, cmd.Payload)
	case "list_tasks":
		o.ipcListTasks(msg)
	case "delete_task":
		o.ipcDeleteTask(msg, cmd.Payload)
	case "list_results":
		o.ipcListResults(msg)
	default:
		o.logger.Warn("unknown IPC command", "type", cmd.Type)
		o.respondIPC(msg, map[string]any{"error": "unknown command: " + cmd.Type})
	}
}

func (o *Orchestrator) respondIPC(msg *nats.Msg, data any) {
	resp, err := json.Marshal(data)
	if err != nil {
		o.logger.Error("failed to marshal IPC response", "error", err)
		return
	}
	if err := msg.Respond(resp); err != nil {
		o.logger.Error("failed to respond to IPC", "error", err)
	}
}

func (o *Orchestrator) ipcSubmitWork(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Prompt == "" {
		o.respondIPC(msg, map[string]any{"error": "prompt is required"})
		return
	}

	taskID := o.SubmitTask(context.Background(), req.Prompt)
	o.respondIPC(msg, map[string]any{"ok": true, "id": taskID})
}

func (o *Orchestrator) ipcCreateTask(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Prompt   string `json:"prompt"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		o.respondIPC(msg, map[string]any{"error": "invalid payload"})
		return
	}
	if req.Name == "" || req.Schedule == "" || req.Prompt == "" {
		o.respondIPC(msg, map[string]any{"error": "name, schedule, and prompt are required"})
		return
	}

	normalized, err := schedule.NormalizeSchedule(req.Schedule)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": fmt.Sprintf("invalid schedule: %v", err)})
		return
	}

	t := &store.ScheduledTask{
		ID:        uuid.New().String(),
		AgentID:   o.MainAgent(),
		Name:      req.Name,
		Schedule:  normalized,
		Prompt:    req.Prompt,
		Status:    "active",
		NextRunAt: schedule.CalculateNextRun(normalized),
	}

	if err := o.store.SaveTask(t); err != nil {
		o.respondIPC(msg, map[string]any{"error": fmt.Sprintf("save failed: %v", err)})
		return
	}

	o.logger.Info("task created via IPC", "id", t.ID, "name", t.Name)
	o.respondIPC(msg, map[string]any{"ok": true, "id": t.ID})
}

func (o *Orchestrator) ipcListTasks(msg *nats.Msg) {
	tasks, err := o.store.ListTasks()
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": fmt.Sprintf("list failed: %v", err)})
		return
	}

	type taskEntry struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Prompt   string `json:"prompt"`
		Status   string `json:"status"`
	}
	out := make([]taskEntry, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskEntry{
			ID:       t.ID,
			Name:     t.Name,
			Schedule: t.Schedule,
			Prompt:   t.Prompt,
			Status:   t.Status,
		})
	}
	o.respondIPC(msg, map[string]any{"ok": true, "tasks": out})
}

func (o *Orchestrator) ipcDeleteTask(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		o.respondIPC(msg, map[string]any{"error": "id is required"})
		return
	}
	if err := o.store.DeleteTask(req.ID); err != nil {
		o.respondIPC(msg, map[string]any{"error": fmt.Sprintf("delete failed: %v", err)})
		return
	}
	o.logger.Info("task deleted via IPC", "id", req.ID)
	o.respondIPC(msg, map[string]any{"ok": true})
}

func (o *Orchestrator) ipcListResults(msg *nats.Msg) {
	results, err := o.store.ListTaskResults(20)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": fmt.Sprintf("list failed: %v", err)})
		return
	}
	o.respondIPC(msg, map[string]any{"ok": true, "results": results})
}
