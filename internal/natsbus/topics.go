package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicAgentEvents(agentID string) string {
	return fmt.Sprintf("agent.%s.events", agentID)
}

func TopicAgentStatus(agentID string) string {
	return fmt.Sprintf("agent.%s.status", agentID)
}

func TopicTaskResult(taskID string) string {
	return fmt.Sprintf("task.%s.result", taskID)
}

const (
	TopicAgentsAll    = "agent.>"
	TopicTasksAll     = "task.>"
	TopicDiscovery    = "discovery.found"
	TopicTaskRouted   = "task.routed"
	TopicTaskExecuted = "task.executed"
	// TopicIPC is the request/reply subject for the deck control CLI.
	TopicIPC = "deck.ipc"
)
