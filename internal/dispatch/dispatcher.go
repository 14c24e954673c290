package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// DefaultMaxBackground is the background execution capacity.
const DefaultMaxBackground = 2

// ExecTarget is a routing decision.
type ExecTarget int

const (
	// TargetMain routes to the interactive agent's serial queue.
	TargetMain ExecTarget = iota
	// TargetBackground routes to a one-shot CLI execution.
	TargetBackground
)

func (t ExecTarget) String() string {
	if t == TargetBackground {
		return "background"
	}
	return "main"
}

// WorkKind names the origin of a work item.
type WorkKind string

// WorkMarkTask is a task handed over from the task board.
const WorkMarkTask WorkKind = "mark_task"

// WorkItem is a unit of orchestration work.
type WorkItem struct {
	TaskID     string
	ReceivedAt time.Time
	Kind       WorkKind
	Prompt     string
}

// BackgroundResult is the outcome of a completed background execution.
type BackgroundResult struct {
	TaskID  string
	Success bool
	Output  string
}

// Runner executes a work item outside the interactive session.
type Runner interface {
	Run(ctx context.Context, item WorkItem) (success bool, output string)
}

// CLIRunner runs the item's full prompt through a one-shot agent CLI
// invocation.
type CLIRunner struct {
	Binary string
}

// Run invokes the CLI and captures its output. A spawn failure is
// reported as an unsuccessful result, not an error, so it flows through
// the same result channel as agent-reported failures.
func (r *CLIRunner) Run(ctx context.Context, item WorkItem) (bool, string) {
	cmd := exec.CommandContext(ctx, r.Binary,
		"-p", item.Prompt,
		"--output-format", "json",
	)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			msg := string(out)
			// Stderr carries the CLI's own failure diagnostics.
			if len(exitErr.Stderr) > 0 {
				if msg != "" {
					msg += "\n"
				}
				msg += string(exitErr.Stderr)
			}
			return false, msg
		}
		return false, fmt.Sprintf("failed to run background agent: %v", err)
	}
	return true, string(out)
}

type triageVerdict struct {
	item   WorkItem
	target ExecTarget
}

// Options configures a Dispatcher. Zero values pick defaults.
type Options struct {
	MaxBackground int
	Classifier    Classifier
	Runner        Runner
	Logger        *slog.Logger
}

// Dispatcher routes work items between the serial main queue and a
// bounded set of background executions.
//
// Submission is synchronous and non-blocking: the caller's tick loop
// calls Submit, then periodically PollTriageResults and
// PollBackgroundResults to advance routing and reap finished work.
// Triage calls and background runs happen on their own goroutines and
// report back over internal channels.
type Dispatcher struct {
	classifier Classifier
	runner     Runner
	logger     *slog.Logger

	bgResults chan BackgroundResult
	verdicts  chan triageVerdict

	mu            sync.Mutex
	main          TaskQueue
	inFlight      map[string]struct{}
	maxBackground int
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	if opts.MaxBackground <= 0 {
		opts.MaxBackground = DefaultMaxBackground
	}
	if opts.Classifier == nil {
		opts.Classifier = NewCLIClassifier("claude")
	}
	if opts.Runner == nil {
		opts.Runner = &CLIRunner{Binary: "claude"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		classifier:    opts.Classifier,
		runner:        opts.Runner,
		logger:        opts.Logger,
		bgResults:     make(chan BackgroundResult, 64),
		verdicts:      make(chan triageVerdict, 64),
		inFlight:      make(map[string]struct{}),
		maxBackground: opts.MaxBackground,
	}
}

// Submit routes a work item. Rules, in order: an idle main agent takes
// the item directly; exhausted background capacity queues it for main;
// otherwise the classifier decides asynchronously.
func (d *Dispatcher) Submit(ctx context.Context, item WorkItem, mainBusy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !mainBusy {
		d.main.Enqueue(item.TaskID)
		d.logger.Debug("task routed to idle main", "task", item.TaskID)
		return
	}
	if len(d.inFlight) >= d.maxBackground {
		d.main.Enqueue(item.TaskID)
		d.logger.Debug("background capacity exhausted, task queued for main", "task", item.TaskID)
		return
	}

	d.logger.Debug("task sent to triage", "task", item.TaskID)
	go func() {
		target := d.classifier.Classify(ctx, item)
		d.verdicts <- triageVerdict{item: item, target: target}
	}()
}

// NextForMain pops the next task for the main agent and marks it active.
func (d *Dispatcher) NextForMain() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.main.StartNext()
}

// CompleteMain finishes the active main task, returning its id.
func (d *Dispatcher) CompleteMain() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.main.CompleteActive()
}

// MainIsActive reports whether the main agent has an active task.
func (d *Dispatcher) MainIsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.main.IsBusy()
}

// MainPending returns the number of tasks waiting for the main agent.
func (d *Dispatcher) MainPending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.main.PendingCount()
}

// SetMainNeedsFinalize flags the active main task for deferred
// finalization.
func (d *Dispatcher) SetMainNeedsFinalize() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.main.SetNeedsFinalize()
}

// TakeMainNeedsFinalize consumes the finalize flag.
func (d *Dispatcher) TakeMainNeedsFinalize() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.main.TakeNeedsFinalize()
}

// BackgroundInFlight returns the number of running background tasks.
func (d *Dispatcher) BackgroundInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// PollBackgroundResults drains finished background executions, freeing
// their capacity slots.
func (d *Dispatcher) PollBackgroundResults() []BackgroundResult {
	var results []BackgroundResult
	for {
		select {
		case r := <-d.bgResults:
			d.mu.Lock()
			delete(d.inFlight, r.TaskID)
			d.mu.Unlock()
			results = append(results, r)
		default:
			return results
		}
	}
}

// PollTriageResults drains classifier verdicts and routes the items.
// Background verdicts re-check capacity: slots may have filled while the
// classifier ran, in which case the item falls back to the main queue.
func (d *Dispatcher) PollTriageResults(ctx context.Context) {
	for {
		select {
		case v := <-d.verdicts:
			d.route(ctx, v)
		default:
			return
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, v triageVerdict) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v.target == TargetBackground && len(d.inFlight) < d.maxBackground {
		d.inFlight[v.item.TaskID] = struct{}{}
		d.logger.Info("task dispatched to background", "task", v.item.TaskID)
		go func(item WorkItem) {
			success, output := d.runner.Run(ctx, item)
			d.bgResults <- BackgroundResult{TaskID: item.TaskID, Success: success, Output: output}
		}(v.item)
		return
	}

	d.main.Enqueue(v.item.TaskID)
	d.logger.Debug("task routed to main", "task", v.item.TaskID, "verdict", v.target.String())
}
