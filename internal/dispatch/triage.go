package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultTriagePromptLimit bounds how much of the task prompt is shown to
// the classifier.
const DefaultTriagePromptLimit = 500

// Classifier decides where an ambiguous work item should run.
//
// Implementations must never fail: any internal error resolves to
// TargetMain so work is never dropped.
type Classifier interface {
	Classify(ctx context.Context, item WorkItem) ExecTarget
}

// CLIClassifier triages by asking a cheap model through the agent CLI,
// one-shot, JSON output.
type CLIClassifier struct {
	Binary      string
	Model       string
	PromptLimit int
}

// NewCLIClassifier returns a classifier invoking the given binary with
// the default model and prompt limit.
func NewCLIClassifier(binary string) *CLIClassifier {
	return &CLIClassifier{Binary: binary, Model: "haiku", PromptLimit: DefaultTriagePromptLimit}
}

// Classify invokes the CLI once and parses its verdict. Spawn failures,
// garbage output and missing verdicts all resolve to TargetMain.
func (c *CLIClassifier) Classify(ctx context.Context, item WorkItem) ExecTarget {
	limit := c.PromptLimit
	if limit <= 0 {
		limit = DefaultTriagePromptLimit
	}
	prompt := BuildTriagePrompt(item.Prompt, limit)

	cmd := exec.CommandContext(ctx, c.Binary,
		"-p", prompt,
		"--model", c.Model,
		"--max-turns", "1",
		"--output-format", "json",
	)
	out, err := cmd.Output()
	if err != nil {
		return TargetMain
	}
	return ParseTriageResponse(string(out))
}

// BuildTriagePrompt renders the routing question for the classifier. The
// task prompt is truncated to limit characters.
func BuildTriagePrompt(taskPrompt string, limit int) string {
	return fmt.Sprintf(
		"You are a task router. Given the following task prompt, decide whether it should run on "+
			"MAIN (interactive agent session, best for tasks that modify files, need the "+
			"full project context, or require multi-turn interaction) or BACKGROUND (one-shot CLI, "+
			"best for simple read-only queries, summaries, or quick lookups).\n\n"+
			"Task prompt (first %d chars):\n%s\n\n"+
			`Respond with ONLY a JSON object: {"target": "MAIN"} or {"target": "BACKGROUND"}`,
		limit, truncateRunes(taskPrompt, limit),
	)
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// ParseTriageResponse extracts the verdict from classifier output. The
// first balanced {...} substring is parsed as JSON; only a target field
// matching "BACKGROUND" case-insensitively routes to background.
// Everything else, including unparseable output, resolves to TargetMain.
func ParseTriageResponse(text string) ExecTarget {
	obj, ok := firstJSONObject(text)
	if !ok {
		return TargetMain
	}
	var verdict struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal([]byte(obj), &verdict); err != nil {
		return TargetMain
	}
	if strings.EqualFold(verdict.Target, "BACKGROUND") {
		return TargetBackground
	}
	return TargetMain
}

// firstJSONObject returns the first balanced brace-delimited substring.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
