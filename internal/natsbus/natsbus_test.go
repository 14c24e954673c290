package natsbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/agentdeck/internal/agent"
	"github.com/mtzanidakis/agentdeck/internal/config"
)

func TestBusStartStop(t *testing.T) {
	dir := t.TempDir()
	bus, err := New(config.NATSConfig{
		Port:    0, // Random port
		DataDir: dir,
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	url := bus.ClientURL()
	if url == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPubSub(t *testing.T) {
	dir := t.TempDir()
	bus, err := New(config.NATSConfig{
		Port:    0,
		DataDir: dir,
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.topic", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish("test.topic", []byte("hello")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "hello" {
			t.Errorf("expected 'hello', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishJSON(t *testing.T) {
	dir := t.TempDir()
	bus, err := New(config.NATSConfig{
		Port:    0,
		DataDir: dir,
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.json", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	payload := map[string]string{"key": "value"}
	if err := client.PublishJSON("test.json", payload); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != `{"key":"value"}` {
			t.Errorf("expected json, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicAgentEvents("a1"); got != "agent.a1.events" {
		t.Errorf("expected agent.a1.events, got %s", got)
	}
	if got := TopicAgentStatus("a1"); got != "agent.a1.status" {
		t.Errorf("expected agent.a1.status, got %s", got)
	}
	if got := TopicTaskResult("t1"); got != "task.t1.result" {
		t.Errorf("expected task.t1.result, got %s", got)
	}
}

func TestPublishEvent(t *testing.T) {
	dir := t.TempDir()
	bus, err := New(config.NATSConfig{
		Port:    0,
		DataDir: dir,
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan EventEnvelope, 1)
	_, err = client.Subscribe(TopicAgentEvents("a1"), func(msg *nats.Msg) {
		var env EventEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.Errorf("unmarshal envelope: %v", err)
			return
		}
		received <- env
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.PublishEvent("a1", agent.TextDelta("hello")); err != nil {
		t.Fatalf("publish event error: %v", err)
	}
	client.Flush()

	select {
	case env := <-received:
		if env.AgentID != "a1" || env.Event.Type != agent.EventTextDelta || env.Event.Text != "hello" {
			t.Errorf("unexpected envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}
