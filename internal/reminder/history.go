package reminder

import (
	"time"

	"github.com/google/uuid"
	"agenda/internal/models"
)

// HistoryEntry is one trigger outcome for a template. Skips are recorded the
// same way as real triggers so the audit trail stays complete.
type HistoryEntry struct {
	ID          string
	TemplateID  string
	AccountID   string
	TriggerTime time.Time
	Status      models.ExecutionStatus
	Reason      string
	Error       string
}

// NewHistoryEntry creates a history entry for a template trigger outcome
func NewHistoryEntry(tpl *Template, triggerTime time.Time, status models.ExecutionStatus, reason, errMsg string) HistoryEntry {
	return HistoryEntry{
		ID:          uuid.New().String(),
		TemplateID:  tpl.ID(),
		AccountID:   tpl.AccountID(),
		TriggerTime: triggerTime,
		Status:      status,
		Reason:      reason,
		Error:       errMsg,
	}
}
