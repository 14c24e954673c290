package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// stubClassifier always answers with a fixed target.
type stubClassifier struct {
	target ExecTarget
}

func (s stubClassifier) Classify(ctx context.Context, item WorkItem) ExecTarget {
	return s.target
}

// failClassifier marks the test failed if it is ever consulted.
type failClassifier struct {
	t *testing.T
}

func (f failClassifier) Classify(ctx context.Context, item WorkItem) ExecTarget {
	f.t.Error("classifier consulted for a fast-path submission")
	return TargetMain
}

// blockingRunner holds background executions until released.
type blockingRunner struct {
	release chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, item WorkItem) (bool, string) {
	<-r.release
	return true, "done: " + item.TaskID
}

func makeItem(id string) WorkItem {
	return WorkItem{
		TaskID:     id,
		ReceivedAt: time.Now(),
		Kind:       WorkMarkTask,
		Prompt:     "test prompt",
	}
}

// settle pumps the triage poll until cond holds or the deadline passes.
func settle(t *testing.T, d *Dispatcher, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.PollTriageResults(context.Background())
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestSubmitWhenIdleRoutesToMain(t *testing.T) {
	d := New(Options{Classifier: failClassifier{t}})

	d.Submit(context.Background(), makeItem("t1"), false)

	id, ok := d.NextForMain()
	if !ok || id != "t1" {
		t.Errorf("expected t1 from main queue, got %q (ok=%v)", id, ok)
	}
}

func TestSubmitWhenBusyNoSlotsRoutesToMain(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	defer close(runner.release)
	d := New(Options{
		MaxBackground: 2,
		Classifier:    stubClassifier{TargetBackground},
		Runner:        runner,
	})

	// Fill both background slots.
	d.Submit(context.Background(), makeItem("bg1"), true)
	d.Submit(context.Background(), makeItem("bg2"), true)
	settle(t, d, func() bool { return d.BackgroundInFlight() == 2 })

	d.Submit(context.Background(), makeItem("t2"), true)

	id, ok := d.NextForMain()
	if !ok || id != "t2" {
		t.Errorf("expected t2 queued for main, got %q (ok=%v)", id, ok)
	}
}

func TestSubmitWhenBusyWithSlotsGoesToTriage(t *testing.T) {
	d := New(Options{Classifier: stubClassifier{TargetBackground}, Runner: &blockingRunner{release: make(chan struct{})}})

	d.Submit(context.Background(), makeItem("t3"), true)

	// The item went to triage, not the main queue.
	if _, ok := d.NextForMain(); ok {
		t.Error("triaged item must not appear in the main queue before a verdict")
	}
}

func TestTriageVerdictMainRoutesToQueue(t *testing.T) {
	d := New(Options{Classifier: stubClassifier{TargetMain}})

	d.Submit(context.Background(), makeItem("t4"), true)
	settle(t, d, func() bool { return d.MainPending() == 1 })

	id, ok := d.NextForMain()
	if !ok || id != "t4" {
		t.Errorf("expected t4 after a main verdict, got %q (ok=%v)", id, ok)
	}
}

func TestTriageVerdictBackgroundSpawnsRun(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	d := New(Options{Classifier: stubClassifier{TargetBackground}, Runner: runner})

	d.Submit(context.Background(), makeItem("t5"), true)
	settle(t, d, func() bool { return d.BackgroundInFlight() == 1 })

	if _, ok := d.NextForMain(); ok {
		t.Error("background item must not appear in the main queue")
	}

	close(runner.release)
	var results []BackgroundResult
	settle(t, d, func() bool {
		results = append(results, d.PollBackgroundResults()...)
		return len(results) == 1
	})
	if results[0].TaskID != "t5" || !results[0].Success {
		t.Errorf("unexpected result: %+v", results[0])
	}
	if d.BackgroundInFlight() != 0 {
		t.Error("completed background task still holds a capacity slot")
	}
}

func TestBackgroundCapacityNeverExceeded(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	defer close(runner.release)
	d := New(Options{
		MaxBackground: 2,
		Classifier:    stubClassifier{TargetBackground},
		Runner:        runner,
	})

	for i := 0; i < 10; i++ {
		d.Submit(context.Background(), makeItem(fmt.Sprintf("t%d", i)), true)
		d.PollTriageResults(context.Background())
		if n := d.BackgroundInFlight(); n > 2 {
			t.Fatalf("background in-flight count %d exceeds capacity", n)
		}
	}
	settle(t, d, func() bool { return d.BackgroundInFlight()+d.MainPending() == 10 })

	if n := d.BackgroundInFlight(); n != 2 {
		t.Errorf("expected both slots filled, got %d", n)
	}
	if n := d.MainPending(); n != 8 {
		t.Errorf("expected 8 tasks queued for main, got %d", n)
	}
}

func TestVerdictAfterSlotsFilledFallsBackToMain(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	defer close(runner.release)
	d := New(Options{
		MaxBackground: 1,
		Classifier:    stubClassifier{TargetBackground},
		Runner:        runner,
	})

	// Two items triaged while the single slot is free: both verdicts say
	// background, but only one can take the slot.
	d.Submit(context.Background(), makeItem("a"), true)
	d.Submit(context.Background(), makeItem("b"), true)
	settle(t, d, func() bool { return d.BackgroundInFlight() == 1 && d.MainPending() == 1 })
}

func TestCompleteMainLifecycle(t *testing.T) {
	d := New(Options{Classifier: failClassifier{t}})

	d.Submit(context.Background(), makeItem("t6"), false)
	if _, ok := d.NextForMain(); !ok {
		t.Fatal("expected a task to start")
	}
	if !d.MainIsActive() {
		t.Error("main should be active")
	}

	id, ok := d.CompleteMain()
	if !ok || id != "t6" {
		t.Errorf("expected to complete t6, got %q", id)
	}
	if d.MainIsActive() {
		t.Error("main should be idle after completion")
	}
}

func TestFinalizeFlagLifecycle(t *testing.T) {
	d := New(Options{Classifier: failClassifier{t}})

	d.SetMainNeedsFinalize()
	if d.TakeMainNeedsFinalize() {
		t.Error("finalize flag set without an active task")
	}

	d.Submit(context.Background(), makeItem("t7"), false)
	d.NextForMain()
	d.SetMainNeedsFinalize()
	if !d.TakeMainNeedsFinalize() {
		t.Error("finalize flag should be set")
	}
	if d.TakeMainNeedsFinalize() {
		t.Error("finalize flag must be consumed")
	}
}

func TestCLIRunnerFailureIncludesStderr(t *testing.T) {
	script := filepath.Join(t.TempDir(), "failing-agent")
	body := "#!/bin/sh\necho partial output\necho 'model quota exceeded' >&2\nexit 1\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	r := &CLIRunner{Binary: script}
	success, output := r.Run(context.Background(), makeItem("task-stderr"))
	if success {
		t.Fatal("expected failure for exit status 1")
	}
	if !strings.Contains(output, "partial output") {
		t.Errorf("stdout missing from failure output: %q", output)
	}
	if !strings.Contains(output, "model quota exceeded") {
		t.Errorf("stderr missing from failure output: %q", output)
	}
}

func TestCLIRunnerMissingBinary(t *testing.T) {
	r := &CLIRunner{Binary: filepath.Join(t.TempDir(), "no-such-cli")}
	success, output := r.Run(context.Background(), makeItem("task-missing"))
	if success {
		t.Fatal("expected failure for missing binary")
	}
	if !strings.Contains(output, "failed to run background agent") {
		t.Errorf("unexpected output: %q", output)
	}
}
