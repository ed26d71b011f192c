package queue

import (
	"strings"

	"github.com/taskfair/taskfair"
)

// Stats is the derived per-queue summary returned by the read surface.
// It is computed on demand, never stored.
type Stats struct {
	// Total counts all jobs ever submitted to the queue that still have
	// a record, regardless of status.
	Total int64 `json:"total"`
	// Pending counts jobs currently open for lease.
	Pending int64 `json:"pending"`
}

// ValidateName checks a queue name against the configured length cap.
// Names must be non-empty, within the cap, and free of whitespace and the
// ':' separator (reserved by key-structured backends).
func ValidateName(name string, maxLen int) error {
	if name == "" || len(name) > maxLen {
		return taskfair.ErrInvalidQueueName
	}
	if strings.ContainsAny(name, " \t\n:") {
		return taskfair.ErrInvalidQueueName
	}
	return nil
}
