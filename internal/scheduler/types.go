// Package scheduler runs the maintenance tasks that keep the dispatch
// platform tidy: orphaned tenant cleanup, dead-letter republishing and
// stale lease reporting.
//
// Tasks run either from the in-process cron runner inside the dispatch
// worker or from the maintenance Lambda. Both paths go through Runner,
// which takes an hourly job lock so that a task runs once per hour slot no
// matter how many instances fire it.
package scheduler

import (
	"fmt"
	"time"
)

// TaskType identifies a maintenance task.
type TaskType string

const (
	TaskReconcileOrphans  TaskType = "reconcile_orphans"
	TaskDeadLetterSummary TaskType = "deadletter_summary"
	TaskStaleLeases       TaskType = "stale_leases"
)

// AllTasks lists every task in a stable order.
var AllTasks = []TaskType{TaskReconcileOrphans, TaskDeadLetterSummary, TaskStaleLeases}

// ParseTask validates a task name.
func ParseTask(s string) (TaskType, error) {
	for _, t := range AllTasks {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown maintenance task %q", s)
}

// MaintenancePayload is the event body for the maintenance Lambda:
//
//	{"task": "deadletter_summary", "reference_time": "2026-03-01T14:00:00Z"}
//
// ReferenceTime is optional and only affects the lock slot.
type MaintenancePayload struct {
	Task          TaskType   `json:"task"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
