// Package schedule defines when a stored task is due. Three kinds are
// supported: cron expressions, fixed intervals, and one-off timestamps.
// Schedules are persisted as JSON strings on the scheduled_tasks table.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule is the stored JSON shape. Exactly one of the value fields is
// meaningful for a given Kind.
type Schedule struct {
	Kind       string `json:"kind"`        // "cron", "interval", "once"
	CronExpr   string `json:"cron_expr"`   // kind=cron
	IntervalMs int64  `json:"interval_ms"` // kind=interval
	AtMs       int64  `json:"at_ms"`       // kind=once, unix ms
}

func ParseSchedule(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CalculateNextRun returns the next due time, or nil when the schedule
// will never fire again (spent one-offs, unparseable input). The
// scheduler treats nil as "complete the task".
func CalculateNextRun(scheduleJSON string) *time.Time {
	s, err := ParseSchedule(scheduleJSON)
	if err != nil {
		return nil
	}

	now := time.Now()
	var next time.Time

	switch s.Kind {
	case "cron":
		tick, err := gronx.NextTick(s.CronExpr, false)
		if err != nil {
			return nil
		}
		next = tick
	case "interval":
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case "once":
		at := time.UnixMilli(s.AtMs)
		if !at.After(now) {
			return nil
		}
		next = at
	default:
		return nil
	}

	return &next
}

// FormatSchedule renders a schedule for task listings. Unparseable input
// is shown as-is rather than hidden.
func FormatSchedule(scheduleJSON string) string {
	s, err := ParseSchedule(scheduleJSON)
	if err != nil {
		return scheduleJSON
	}

	switch s.Kind {
	case "cron":
		if strings.HasPrefix(s.CronExpr, "@") {
			return s.CronExpr
		}
		switch len(strings.Fields(s.CronExpr)) {
		case 7:
			return "Every tick: " + s.CronExpr
		case 6:
			return "Once: " + s.CronExpr
		}
		return s.CronExpr
	case "interval":
		return describeInterval(time.Duration(s.IntervalMs) * time.Millisecond)
	case "once":
		return "Once at " + time.UnixMilli(s.AtMs).Format("Jan 2 15:04")
	default:
		return scheduleJSON
	}
}

func describeInterval(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		h := int(d.Hours())
		if h == 1 {
			return "Every hour"
		}
		return fmt.Sprintf("Every %d hours", h)
	case d%time.Minute == 0:
		m := int(d.Minutes())
		if m == 1 {
			return "Every minute"
		}
		return fmt.Sprintf("Every %d minutes", m)
	default:
		return fmt.Sprintf("Every %d seconds", int(d.Seconds()))
	}
}

// NormalizeSchedule accepts either the stored JSON shape or a bare cron
// line as typed by an operator, validates it, and returns the JSON form.
func NormalizeSchedule(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		switch s.Kind {
		case "cron":
			if !gronx.New().IsValid(s.CronExpr) {
				return "", fmt.Errorf("invalid cron expression: %s", s.CronExpr)
			}
		case "interval":
			if s.IntervalMs <= 0 {
				return "", fmt.Errorf("interval_ms must be positive")
			}
		case "once":
			if s.AtMs <= 0 {
				return "", fmt.Errorf("at_ms must be positive")
			}
		default:
			return "", fmt.Errorf("unknown schedule kind: %s", s.Kind)
		}
		return raw, nil
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not valid JSON or cron expression: %s", raw)
	}

	data, err := json.Marshal(Schedule{Kind: "cron", CronExpr: raw})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
