package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/mtzanidakis/agentdeck/internal/config"
	"github.com/mtzanidakis/agentdeck/internal/store"
)

type recordingSink struct {
	tasks []store.ScheduledTask
	err   error
}

func (r *recordingSink) SubmitScheduled(ctx context.Context, task store.ScheduledTask) error {
	r.tasks = append(r.tasks, task)
	return r.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveDueTask(t *testing.T, s *store.Store, id, scheduleJSON string) {
	t.Helper()
	due := time.Now().Add(-time.Minute).UTC()
	err := s.SaveTask(&store.ScheduledTask{
		ID:        id,
		AgentID:   "a1",
		Name:      "task " + id,
		Schedule:  scheduleJSON,
		Prompt:    "do the thing",
		Status:    "active",
		NextRunAt: &due,
	})
	if err != nil {
		t.Fatalf("save task: %v", err)
	}
}

func TestPollSubmitsDueTasks(t *testing.T) {
	s := newTestStore(t)
	sink := &recordingSink{}
	sched := New(s, sink, nil, config.SchedulerConfig{PollInterval: time.Minute})

	saveDueTask(t, s, "st1", `{"kind":"interval","interval_ms":60000}`)

	sched.Poll(context.Background())

	if len(sink.tasks) != 1 || sink.tasks[0].ID != "st1" {
		t.Fatalf("expected st1 submitted, got %+v", sink.tasks)
	}

	// The task is rescheduled, not due again.
	got, _ := s.GetTask("st1")
	if got.LastStatus != "success" {
		t.Errorf("expected success, got %q", got.LastStatus)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now().Add(30*time.Second)) {
		t.Errorf("expected next run ~1m away, got %v", got.NextRunAt)
	}
}

func TestPollRecordsSubmissionError(t *testing.T) {
	s := newTestStore(t)
	sink := &recordingSink{err: errors.New("agent unavailable")}
	sched := New(s, sink, nil, config.SchedulerConfig{PollInterval: time.Minute})

	saveDueTask(t, s, "st1", `{"kind":"interval","interval_ms":60000}`)
	sched.Poll(context.Background())

	got, _ := s.GetTask("st1")
	if got.LastStatus != "error" || got.LastError != "agent unavailable" {
		t.Errorf("submission error not recorded: %+v", got)
	}
}

func TestPollCompletesOneOffTasks(t *testing.T) {
	s := newTestStore(t)
	sink := &recordingSink{}
	sched := New(s, sink, nil, config.SchedulerConfig{PollInterval: time.Minute})

	// A "once" schedule in the past yields no next run.
	past := time.Now().Add(-time.Hour).UnixMilli()
	saveDueTask(t, s, "st1", `{"kind":"once","at_ms":`+strconv.FormatInt(past, 10)+`}`)
	sched.Poll(context.Background())

	got, _ := s.GetTask("st1")
	if got.Status != "completed" {
		t.Errorf("one-off task should be completed, got %q", got.Status)
	}

	// Completed tasks are not submitted again.
	sched.Poll(context.Background())
	if len(sink.tasks) != 1 {
		t.Errorf("completed task submitted again: %d submissions", len(sink.tasks))
	}
}

func TestPollSkipsFutureTasks(t *testing.T) {
	s := newTestStore(t)
	sink := &recordingSink{}
	sched := New(s, sink, nil, config.SchedulerConfig{PollInterval: time.Minute})

	future := time.Now().Add(time.Hour).UTC()
	err := s.SaveTask(&store.ScheduledTask{
		ID:        "later",
		AgentID:   "a1",
		Name:      "later",
		Schedule:  `{"kind":"interval","interval_ms":60000}`,
		Prompt:    "not yet",
		Status:    "active",
		NextRunAt: &future,
	})
	if err != nil {
		t.Fatal(err)
	}

	sched.Poll(context.Background())
	if len(sink.tasks) != 0 {
		t.Errorf("future task submitted early: %+v", sink.tasks)
	}
}
