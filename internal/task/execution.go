package task

import (
	"time"

	"github.com/google/uuid"
	"agenda/internal/models"
)

// ExecutionRecord is one timestamped outcome of a scheduled task run. Records
// are append-only: the aggregate creates them and never mutates them after a
// terminal status. Only a retrying record is superseded by a later attempt.
type ExecutionRecord struct {
	ID            string
	TaskID        string
	ExecutionTime time.Time
	Status        models.ExecutionStatus
	Duration      time.Duration
	Result        string
	Error         string
	RetryCount    int
}

func newExecutionRecord(taskID string, at time.Time, status models.ExecutionStatus, duration time.Duration, result, errMsg string, retryCount int) ExecutionRecord {
	return ExecutionRecord{
		ID:            uuid.New().String(),
		TaskID:        taskID,
		ExecutionTime: at,
		Status:        status,
		Duration:      duration,
		Result:        result,
		Error:         errMsg,
		RetryCount:    retryCount,
	}
}

// Terminal reports whether this record's status can no longer change
func (r ExecutionRecord) Terminal() bool {
	return r.Status.Terminal()
}
