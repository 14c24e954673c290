// Package orchestrator wires discovery, the agent registry, protocol
// clients and the dispatcher into one event-driven loop.
//
// The orchestrator owns every live agent connection. A single goroutine
// runs the tick loop: it drains agent events, advances dispatcher
// routing, starts queued main-agent work and records finished task
// results. All connection maps are guarded by one mutex so helper
// methods can be called from the web layer as well.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/agentdeck/internal/acp"
	"github.com/mtzanidakis/agentdeck/internal/agent"
	"github.com/mtzanidakis/agentdeck/internal/config"
	"github.com/mtzanidakis/agentdeck/internal/discover"
	"github.com/mtzanidakis/agentdeck/internal/dispatch"
	"github.com/mtzanidakis/agentdeck/internal/launch"
	"github.com/mtzanidakis/agentdeck/internal/natsbus"
	"github.com/mtzanidakis/agentdeck/internal/registry"
	"github.com/mtzanidakis/agentdeck/internal/store"
)

// DefaultTickInterval paces the event pump.
const DefaultTickInterval = 100 * time.Millisecond

// conn abstracts a driveable agent connection so the tick loop treats
// ACP and PTY agents uniformly.
type conn interface {
	SendPrompt(text string) error
	PollEvents() []agent.Event
}

type acpConn struct {
	client *acp.Client
}

func (c acpConn) SendPrompt(text string) error { return c.client.SendPrompt(text) }

func (c acpConn) PollEvents() []agent.Event {
	var events []agent.Event
	for {
		ev, ok := c.client.TryRecvEvent()
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

type ptyConn struct {
	client *agent.PTYClient
}

func (c ptyConn) SendPrompt(text string) error { return c.client.SendPrompt(text) }
func (c ptyConn) PollEvents() []agent.Event    { return c.client.DrainEvents() }

// Options configures an Orchestrator. Registry, Dispatcher and Store are
// required; Scanner and Bus are optional (nil disables discovery and
// event publication respectively).
type Options struct {
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Store      *store.Store
	Scanner    *discover.Scanner
	Bus        *natsbus.Bus
	Config     config.Config
	Version    string
	Logger     *slog.Logger
}

type Orchestrator struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	store      *store.Store
	scanner    *discover.Scanner
	client     *natsbus.Client
	version    string
	logger     *slog.Logger

	mu       sync.Mutex
	cfg      config.Config
	conns    map[string]conn
	acp      map[string]*acp.Client
	launched map[string]*launch.Process
	prompts  map[string]string
	mainID   string
	mainBuf  strings.Builder
}

func New(opts Options) *Orchestrator {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	o := &Orchestrator{
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		scanner:    opts.Scanner,
		version:    opts.Version,
		logger:     opts.Logger,
		cfg:        opts.Config,
		conns:      make(map[string]conn),
		acp:        make(map[string]*acp.Client),
		launched:   make(map[string]*launch.Process),
		prompts:    make(map[string]string),
	}

	if opts.Bus != nil {
		client, err := natsbus.NewClient(opts.Bus)
		if err != nil {
			opts.Logger.Error("orchestrator nats client failed", "error", err)
		} else {
			o.client = client
			o.subscribeIPC()
		}
	}

	return o
}

// UpdateConfig swaps in reloaded settings. Connection-level settings
// apply to future connects only.
func (o *Orchestrator) UpdateConfig(cfg config.Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
}

// MainAgent returns the id of the interactive main agent, or "".
func (o *Orchestrator) MainAgent() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mainID
}

// SetMainAgent designates which agent receives main-queue work.
func (o *Orchestrator) SetMainAgent(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mainID = id
}

// Rescan runs one discovery pass and connects to any ACP endpoint not
// already registered.
func (o *Orchestrator) Rescan(ctx context.Context) {
	if o.scanner == nil {
		return
	}
	for _, det := range o.scanner.Scan() {
		if det.Protocol != agent.ProtocolACP || o.registry.HasURL(det.ACPURL) {
			continue
		}
		if _, err := o.ConnectACP(ctx, det); err != nil {
			o.logger.Warn("agent connect failed", "url", det.ACPURL, "error", err)
		}
	}
}

// ConnectACP dials a discovered ACP endpoint, performs the handshake and
// registers the agent. The first agent to register becomes the main
// agent.
func (o *Orchestrator) ConnectACP(ctx context.Context, det discover.Detected) (string, error) {
	o.mu.Lock()
	initTimeout := o.cfg.Agent.InitTimeout
	o.mu.Unlock()
	if initTimeout == 0 {
		initTimeout = acp.DefaultInitTimeout
	}

	client, err := acp.Dial(ctx, det.ACPURL, o.version)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", det.ACPURL, err)
	}

	srv, err := client.Initialize(initTimeout)
	if err != nil {
		client.Close()
		return "", fmt.Errorf("initialize %s: %w", det.ACPURL, err)
	}
	sessionID, err := client.NewSession(initTimeout)
	if err != nil {
		client.Close()
		return "", fmt.Errorf("new session %s: %w", det.ACPURL, err)
	}

	info := agent.Info{
		ID:       uuid.NewString(),
		Name:     srv.Kind.Name,
		Kind:     srv.Kind,
		Protocol: agent.ProtocolACP,
		Origin:   agent.OriginExternal,
		Status:   agent.StatusIdle,
		ACPURL:   det.ACPURL,
	}
	o.registry.Register(info)
	o.registry.AddSession(info.ID, sessionID)

	rec := store.AgentFromInfo(info)
	rec.PID = det.PID
	if err := o.store.SaveAgent(rec); err != nil {
		o.logger.Error("persist agent failed", "agent", info.ID, "error", err)
	}

	o.mu.Lock()
	o.conns[info.ID] = acpConn{client: client}
	o.acp[info.ID] = client
	if o.mainID == "" {
		o.mainID = info.ID
	}
	o.mu.Unlock()

	o.publishDiscovery(info, det)
	o.logger.Info("agent connected",
		"agent", info.ID, "kind", srv.Kind.Name, "version", srv.Version,
		"url", det.ACPURL, "session", sessionID)
	return info.ID, nil
}

// LaunchPTY spawns the configured agent CLI under a pseudo-terminal,
// bridges its streams and registers the session. Extra env entries carry
// decrypted vault secrets to the CLI. The launched process is owned by
// the orchestrator and killed on disconnect or shutdown.
func (o *Orchestrator) LaunchPTY(name string, args, extraEnv []string) (string, error) {
	o.mu.Lock()
	binary := o.cfg.Agent.CLIBinary
	o.mu.Unlock()
	if binary == "" {
		binary = "claude"
	}
	if name == "" {
		name = binary
	}

	proc, err := launch.Start(binary, args, extraEnv)
	if err != nil {
		return "", fmt.Errorf("launch %s: %w", binary, err)
	}

	id := o.RegisterPTY(name, proc.PID, proc.In, proc.Out)
	o.mu.Lock()
	o.launched[id] = proc
	o.mu.Unlock()
	return id, nil
}

// RegisterPTY registers an already-spawned interactive CLI session. The
// channel endpoints belong to the process launcher's read/write loops.
func (o *Orchestrator) RegisterPTY(name string, pid int, in chan<- string, out <-chan string) string {
	info := agent.Info{
		ID:       uuid.NewString(),
		Name:     name,
		Kind:     agent.KindFromServerName(name),
		Protocol: agent.ProtocolPTY,
		Origin:   agent.OriginLaunched,
		Status:   agent.StatusIdle,
		PTYPID:   pid,
	}
	o.registry.Register(info)

	if err := o.store.SaveAgent(store.AgentFromInfo(info)); err != nil {
		o.logger.Error("persist agent failed", "agent", info.ID, "error", err)
	}

	o.mu.Lock()
	o.conns[info.ID] = ptyConn{client: agent.NewPTYClient(info.ID, in, out)}
	if o.mainID == "" {
		o.mainID = info.ID
	}
	o.mu.Unlock()

	o.logger.Info("pty agent registered", "agent", info.ID, "name", name, "pid", pid)
	return info.ID
}

// SendUserMessage delivers a direct user message to an agent, outside
// the dispatcher queue. Used for interactive chat from the web UI.
func (o *Orchestrator) SendUserMessage(ctx context.Context, agentID, text string) error {
	o.mu.Lock()
	c := o.conns[agentID]
	o.mu.Unlock()
	if c == nil {
		return fmt.Errorf("agent %s is not connected", agentID)
	}
	if err := c.SendPrompt(text); err != nil {
		return fmt.Errorf("send to agent %s: %w", agentID, err)
	}

	o.registry.UpdateStatus(agentID, agent.StatusThinking)
	o.publishStatus(agentID, agent.StatusThinking)
	o.saveMessage(agentID, "user", text, nil)
	return nil
}

// SubmitTask hands a prompt to the dispatcher and returns the generated
// task id. Routing happens asynchronously across subsequent ticks.
func (o *Orchestrator) SubmitTask(ctx context.Context, prompt string) string {
	item := dispatch.WorkItem{
		TaskID:     uuid.NewString(),
		ReceivedAt: time.Now(),
		Kind:       dispatch.WorkMarkTask,
		Prompt:     prompt,
	}
	o.submit(ctx, item)
	return item.TaskID
}

// SubmitScheduled implements the scheduler sink: a due scheduled task
// becomes a regular work item.
func (o *Orchestrator) SubmitScheduled(ctx context.Context, task store.ScheduledTask) error {
	o.mu.Lock()
	mainID := o.mainID
	o.mu.Unlock()
	if mainID == "" {
		return fmt.Errorf("no main agent available for task %s", task.ID)
	}

	item := dispatch.WorkItem{
		TaskID:     uuid.NewString(),
		ReceivedAt: time.Now(),
		Kind:       dispatch.WorkMarkTask,
		Prompt:     task.Prompt,
	}
	o.submit(ctx, item)
	o.publishRouted(task, item.TaskID)
	return nil
}

func (o *Orchestrator) submit(ctx context.Context, item dispatch.WorkItem) {
	o.mu.Lock()
	o.prompts[item.TaskID] = item.Prompt
	o.mu.Unlock()

	mainBusy := o.dispatcher.MainIsActive() || o.mainIsThinking()
	o.dispatcher.Submit(ctx, item, mainBusy)
}

func (o *Orchestrator) mainIsThinking() bool {
	o.mu.Lock()
	mainID := o.mainID
	o.mu.Unlock()
	if mainID == "" {
		return false
	}
	info, ok := o.registry.Get(mainID)
	return ok && info.Status == agent.StatusThinking
}

// Run drives the orchestrator until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.Rescan(ctx)

	o.mu.Lock()
	rescanInterval := o.cfg.Discovery.RescanInterval
	o.mu.Unlock()
	if rescanInterval == 0 {
		rescanInterval = 30 * time.Second
	}

	tick := time.NewTicker(DefaultTickInterval)
	defer tick.Stop()
	rescan := time.NewTicker(rescanInterval)
	defer rescan.Stop()

	o.logger.Info("orchestrator started", "rescan_interval", rescanInterval)

	for {
		select {
		case <-ctx.Done():
			o.Close()
			o.logger.Info("orchestrator stopped")
			return
		case <-tick.C:
			o.Tick(ctx)
		case <-rescan.C:
			o.Rescan(ctx)
		}
	}
}

// Tick runs one orchestration pass: drain agent events, advance
// dispatcher routing, reap background results, finalize abandoned main
// work and start the next queued main task.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.pumpEvents(ctx)

	o.dispatcher.PollTriageResults(ctx)

	for _, res := range o.dispatcher.PollBackgroundResults() {
		o.recordResult(res.TaskID, dispatch.TargetBackground, res.Success, res.Output)
	}

	if o.dispatcher.TakeMainNeedsFinalize() {
		if taskID, ok := o.dispatcher.CompleteMain(); ok {
			o.recordResult(taskID, dispatch.TargetMain, false, "agent disconnected before the task finished")
		}
	}

	o.startNextMain(ctx)
}

func (o *Orchestrator) pumpEvents(ctx context.Context) {
	o.mu.Lock()
	snapshot := make(map[string]conn, len(o.conns))
	for id, c := range o.conns {
		snapshot[id] = c
	}
	o.mu.Unlock()

	for id, c := range snapshot {
		for _, ev := range c.PollEvents() {
			o.handleEvent(ctx, id, ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, agentID string, ev agent.Event) {
	if o.client != nil {
		if err := o.client.PublishEvent(agentID, ev); err != nil {
			o.logger.Debug("event publish failed", "agent", agentID, "error", err)
		}
	}

	isMain := agentID == o.MainAgent()

	switch ev.Type {
	case agent.EventTextDelta:
		o.registry.UpdateStatus(agentID, agent.StatusThinking)
		o.saveMessage(agentID, "agent", ev.Text, nil)
		if isMain && o.dispatcher.MainIsActive() {
			o.mu.Lock()
			o.mainBuf.WriteString(ev.Text)
			o.mu.Unlock()
		}

	case agent.EventToolCall:
		meta, _ := json.Marshal(ev)
		o.saveMessage(agentID, "agent", "tool: "+ev.ToolName, meta)

	case agent.EventToolResult:
		meta, _ := json.Marshal(ev)
		o.saveMessage(agentID, "agent", ev.ToolOutput, meta)

	case agent.EventDone:
		o.registry.UpdateStatus(agentID, agent.StatusIdle)
		o.publishStatus(agentID, agent.StatusIdle)
		if isMain {
			if taskID, ok := o.dispatcher.CompleteMain(); ok {
				o.recordResult(taskID, dispatch.TargetMain, true, o.takeMainBuf())
			}
		}

	case agent.EventError:
		o.saveMessage(agentID, "agent", ev.Message, nil)
		o.registry.UpdateStatus(agentID, agent.StatusIdle)
		o.publishStatus(agentID, agent.StatusIdle)
		if isMain {
			if taskID, ok := o.dispatcher.CompleteMain(); ok {
				o.recordResult(taskID, dispatch.TargetMain, false, ev.Message)
			}
		}

	case agent.EventDisconnected:
		o.handleDisconnect(agentID, isMain)
	}
}

func (o *Orchestrator) handleDisconnect(agentID string, isMain bool) {
	o.logger.Warn("agent disconnected", "agent", agentID)

	o.registry.UpdateStatus(agentID, agent.StatusDisconnected)
	if err := o.store.UpdateAgentStatus(agentID, string(agent.StatusDisconnected)); err != nil {
		o.logger.Error("persist agent status failed", "agent", agentID, "error", err)
	}
	o.publishStatus(agentID, agent.StatusDisconnected)

	o.mu.Lock()
	delete(o.conns, agentID)
	cl := o.acp[agentID]
	delete(o.acp, agentID)
	proc := o.launched[agentID]
	delete(o.launched, agentID)
	o.mu.Unlock()
	if cl != nil {
		cl.Close()
	}
	if proc != nil {
		proc.Stop()
	}

	// The active main task can never complete now; flag it so the next
	// tick records the failure and unblocks the queue.
	if isMain && o.dispatcher.MainIsActive() {
		o.dispatcher.SetMainNeedsFinalize()
	}
}

func (o *Orchestrator) startNextMain(ctx context.Context) {
	if o.dispatcher.MainIsActive() {
		return
	}

	o.mu.Lock()
	mainID := o.mainID
	o.mu.Unlock()
	if mainID == "" {
		return
	}
	if info, ok := o.registry.Get(mainID); !ok || info.Status != agent.StatusIdle {
		return
	}

	taskID, ok := o.dispatcher.NextForMain()
	if !ok {
		return
	}

	o.mu.Lock()
	prompt := o.prompts[taskID]
	c := o.conns[mainID]
	o.mainBuf.Reset()
	o.mu.Unlock()

	if c == nil {
		if id, ok := o.dispatcher.CompleteMain(); ok {
			o.recordResult(id, dispatch.TargetMain, false, "main agent is not connected")
		}
		return
	}
	if err := c.SendPrompt(prompt); err != nil {
		o.logger.Error("main prompt failed", "task", taskID, "error", err)
		if id, ok := o.dispatcher.CompleteMain(); ok {
			o.recordResult(id, dispatch.TargetMain, false, err.Error())
		}
		return
	}

	o.registry.UpdateStatus(mainID, agent.StatusThinking)
	o.publishStatus(mainID, agent.StatusThinking)
	o.saveMessage(mainID, "user", prompt, nil)
	o.logger.Info("main task started", "task", taskID, "agent", mainID)
}

func (o *Orchestrator) takeMainBuf() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.mainBuf.String()
	o.mainBuf.Reset()
	return out
}

func (o *Orchestrator) recordResult(taskID string, target dispatch.ExecTarget, success bool, output string) {
	o.mu.Lock()
	delete(o.prompts, taskID)
	o.mu.Unlock()

	res := &store.TaskResult{
		TaskID:  taskID,
		Target:  target.String(),
		Success: success,
		Output:  output,
	}
	if err := o.store.SaveTaskResult(res); err != nil {
		o.logger.Error("persist task result failed", "task", taskID, "error", err)
	}

	if o.client != nil {
		_ = o.client.PublishJSON(natsbus.TopicTaskResult(taskID), res)
	}

	o.logger.Info("task finished",
		"task", taskID, "target", target.String(), "success", success)
}

func (o *Orchestrator) saveMessage(agentID, sender, content string, metadata json.RawMessage) {
	if content == "" {
		return
	}
	msg := &store.Message{
		AgentID:  agentID,
		Sender:   sender,
		Content:  content,
		Metadata: metadata,
	}
	if info, ok := o.registry.Get(agentID); ok && len(info.SessionIDs) > 0 {
		msg.SessionID = info.SessionIDs[len(info.SessionIDs)-1]
	}
	if err := o.store.SaveMessage(msg); err != nil {
		o.logger.Error("persist message failed", "agent", agentID, "error", err)
	}
}

func (o *Orchestrator) publishStatus(agentID string, status agent.Status) {
	if o.client == nil {
		return
	}
	_ = o.client.PublishJSON(natsbus.TopicAgentStatus(agentID), map[string]string{
		"agent_id": agentID,
		"status":   string(status),
	})
}

func (o *Orchestrator) publishDiscovery(info agent.Info, det discover.Detected) {
	if o.client == nil {
		return
	}
	_ = o.client.PublishJSON(natsbus.TopicDiscovery, map[string]any{
		"agent_id": info.ID,
		"kind":     info.Kind.Name,
		"url":      det.ACPURL,
		"pid":      det.PID,
		"lockfile": det.Lockfile,
	})
}

func (o *Orchestrator) publishRouted(task store.ScheduledTask, workID string) {
	if o.client == nil {
		return
	}
	_ = o.client.PublishJSON(natsbus.TopicTaskRouted, map[string]string{
		"scheduled_task": task.ID,
		"work_id":        workID,
		"name":           task.Name,
	})
}

// Close shuts down every live ACP connection, kills launched PTY agents
// and closes the bus client.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	clients := make([]*acp.Client, 0, len(o.acp))
	for _, c := range o.acp {
		clients = append(clients, c)
	}
	procs := make([]*launch.Process, 0, len(o.launched))
	for _, p := range o.launched {
		procs = append(procs, p)
	}
	o.acp = make(map[string]*acp.Client)
	o.launched = make(map[string]*launch.Process)
	o.conns = make(map[string]conn)
	o.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	for _, p := range procs {
		p.Stop()
	}
	if o.client != nil {
		o.client.Close()
	}
}
