// dtask is a small control CLI for a running agentdeck gateway. It talks
// to the gateway over the NATS request/reply IPC surface, so it works
// without web credentials from the same host.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

const ipcTopic = "deck.ipc"

type ipcRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type ipcResponse struct {
	OK      bool     `json:"ok,omitempty"`
	Error   string   `json:"error,omitempty"`
	ID      string   `json:"id,omitempty"`
	Tasks   []task   `json:"tasks,omitempty"`
	Results []result `json:"results,omitempty"`
}

type task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
	Status   string `json:"status"`
}

type result struct {
	TaskID  string `json:"task_id"`
	Target  string `json:"target"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

func sendIPC(natsURL, reqType string, payload map[string]any) (*ipcResponse, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(ipcRequest{Type: reqType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(ipcTopic, data, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}

	var resp ipcResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  dtask submit --prompt "..."`)
	fmt.Fprintln(os.Stderr, `  dtask create --name "..." --schedule "..." --prompt "..."`)
	fmt.Fprintln(os.Stderr, "  dtask list")
	fmt.Fprintln(os.Stderr, `  dtask delete --id "..."`)
	fmt.Fprintln(os.Stderr, "  dtask results")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "submit":
		args := parseArgs(rest)
		if args["prompt"] == "" {
			fatal("--prompt is required")
		}
		resp, err := sendIPC(natsURL, "submit_work", map[string]any{
			"prompt": args["prompt"],
		})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Printf("Work submitted: %s\n", resp.ID)

	case "create":
		args := parseArgs(rest)
		if args["name"] == "" || args["schedule"] == "" || args["prompt"] == "" {
			fatal("--name, --schedule, and --prompt are required")
		}
		resp, err := sendIPC(natsURL, "create_task", map[string]any{
			"name":     args["name"],
			"schedule": args["schedule"],
			"prompt":   args["prompt"],
		})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Printf("Task created: %s\n", resp.ID)

	case "list":
		resp, err := sendIPC(natsURL, "list_tasks", map[string]any{})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		if len(resp.Tasks) == 0 {
			fmt.Println("No tasks found.")
		} else {
			for _, t := range resp.Tasks {
				fmt.Printf("  %s  %s  %s  [%s]\n", t.ID, t.Status, t.Name, t.Schedule)
			}
		}

	case "delete":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		resp, err := sendIPC(natsURL, "delete_task", map[string]any{
			"id": args["id"],
		})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Println("Task deleted.")

	case "results":
		resp, err := sendIPC(natsURL, "list_results", map[string]any{})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		if len(resp.Results) == 0 {
			fmt.Println("No results yet.")
		} else {
			for _, r := range resp.Results {
				state := "ok"
				if !r.Success {
					state = "failed"
				}
				fmt.Printf("  %s  %s  %s\n", r.TaskID, r.Target, state)
			}
		}

	default:
		fatal("unknown command: %s", command)
	}
}
