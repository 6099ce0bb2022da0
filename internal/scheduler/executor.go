package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"agenda/internal/events"
	"agenda/internal/models"
	"agenda/internal/reminder"
	"agenda/internal/stats"
)

const (
	// SkipReasonDisabled is recorded when a trigger hits an effectively
	// disabled template
	SkipReasonDisabled = "disabled"
	// SkipReasonOverdue is recorded when the overdue policy skips a lapsed
	// trigger
	SkipReasonOverdue = "overdue skip"

	statsSaveAttempts = 3
)

// TriggerResult is the outcome of processing a single template
type TriggerResult struct {
	TemplateID string
	Status     models.ExecutionStatus
	Reason     string
	Error      string
}

// TriggerRequest is one item of a trigger batch. A nil TriggerTime means the
// template's own due time (falling back to now).
type TriggerRequest struct {
	Template    *reminder.Template
	TriggerTime *time.Time
	Reason      string
}

// BatchResult accumulates per-item outcomes. SuccessCount + FailedCount +
// SkippedCount always equals TotalCount.
type BatchResult struct {
	SuccessCount int
	FailedCount  int
	SkippedCount int
	TotalCount   int
	Details      []TriggerResult
}

func (b *BatchResult) add(r TriggerResult) {
	b.TotalCount++
	switch r.Status {
	case models.ExecSuccess:
		b.SuccessCount++
	case models.ExecSkipped:
		b.SkippedCount++
	default:
		b.FailedCount++
	}
	b.Details = append(b.Details, r)
}

// TriggerExecutor fires single reminder triggers: it resolves effective
// enablement, appends trigger history, advances the template's next trigger
// time and keeps the account statistics up to date.
type TriggerExecutor struct {
	templates  TemplateRepository
	statistics StatisticsRepository
	resolver   *reminder.ControlResolver
	publisher  events.Publisher // optional
}

// NewTriggerExecutor creates an executor. The publisher may be nil, in which
// case drained events are dropped.
func NewTriggerExecutor(templates TemplateRepository, statistics StatisticsRepository, resolver *reminder.ControlResolver, publisher events.Publisher) *TriggerExecutor {
	return &TriggerExecutor{
		templates:  templates,
		statistics: statistics,
		resolver:   resolver,
		publisher:  publisher,
	}
}

// Trigger fires one reminder at the given time. Disabled templates record a
// skipped outcome and return without touching the template itself.
func (e *TriggerExecutor) Trigger(ctx context.Context, tpl *reminder.Template, triggerTime time.Time) (TriggerResult, error) {
	enabled, err := e.resolver.IsEffectivelyEnabled(ctx, tpl)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("could not resolve effective status for template %s: %w", tpl.ID(), err)
	}

	if !enabled {
		entry := reminder.NewHistoryEntry(tpl, triggerTime, models.ExecSkipped, SkipReasonDisabled, "")
		if err := e.templates.AppendHistory(ctx, entry); err != nil {
			return TriggerResult{}, err
		}
		e.bumpStatistics(ctx, tpl.AccountID(), models.ExecSkipped)
		return TriggerResult{TemplateID: tpl.ID(), Status: models.ExecSkipped, Reason: SkipReasonDisabled}, nil
	}

	tpl.MarkTriggered(triggerTime)
	if err := e.templates.AppendHistory(ctx, reminder.NewHistoryEntry(tpl, triggerTime, models.ExecSuccess, "", "")); err != nil {
		return TriggerResult{}, err
	}
	if err := e.templates.Save(ctx, tpl); err != nil {
		return TriggerResult{}, err
	}

	e.bumpStatistics(ctx, tpl.AccountID(), models.ExecSuccess)
	return TriggerResult{TemplateID: tpl.ID(), Status: models.ExecSuccess}, nil
}

// RecordFailure appends a failed trigger outcome and updates statistics. It
// does not retry: retry policy belongs to the task-driven path.
func (e *TriggerExecutor) RecordFailure(ctx context.Context, tpl *reminder.Template, triggerTime time.Time, cause string) (TriggerResult, error) {
	entry := reminder.NewHistoryEntry(tpl, triggerTime, models.ExecFailed, "", cause)
	if err := e.templates.AppendHistory(ctx, entry); err != nil {
		return TriggerResult{}, err
	}

	e.bumpStatistics(ctx, tpl.AccountID(), models.ExecFailed)
	return TriggerResult{TemplateID: tpl.ID(), Status: models.ExecFailed, Error: cause}, nil
}

// TriggerBatch processes the requests sequentially. It never returns an
// error: per-item failures (including panics) become failed results so one
// bad item cannot abort the batch.
func (e *TriggerExecutor) TriggerBatch(ctx context.Context, requests []TriggerRequest) BatchResult {
	var batch BatchResult
	for _, req := range requests {
		batch.add(e.SafeTrigger(ctx, req))
	}
	return batch
}

// SafeTrigger runs one request, converting any error or panic into a failed
// result
func (e *TriggerExecutor) SafeTrigger(ctx context.Context, req TriggerRequest) (result TriggerResult) {
	tpl := req.Template
	defer func() {
		if rcv := recover(); rcv != nil {
			log.Error().Interface("panic", rcv).Str("template_id", tpl.ID()).Msg("Trigger panicked")
			result = TriggerResult{TemplateID: tpl.ID(), Status: models.ExecFailed, Error: fmt.Sprintf("panic: %v", rcv)}
		}
	}()

	triggerTime := time.Now()
	if req.TriggerTime != nil {
		triggerTime = *req.TriggerTime
	} else if due := tpl.NextTriggerTime(); due != nil {
		triggerTime = *due
	}

	result, err := e.Trigger(ctx, tpl, triggerTime)
	if err != nil {
		log.Error().Err(err).Str("template_id", tpl.ID()).Msg("Trigger failed")
		return TriggerResult{TemplateID: tpl.ID(), Status: models.ExecFailed, Error: err.Error()}
	}
	if req.Reason != "" && result.Reason == "" {
		result.Reason = req.Reason
	}
	return result
}

// bumpStatistics applies one execution outcome to the account rollup.
// Best-effort: a statistics failure never rolls back the trigger write that
// caused it, so errors are logged and swallowed.
func (e *TriggerExecutor) bumpStatistics(ctx context.Context, accountID string, status models.ExecutionStatus) {
	err := updateStatistics(ctx, e.statistics, e.publisher, accountID, func(s *stats.AccountStatistics) {
		s.OnExecution(models.ModuleReminder, status)
	})
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("Could not update statistics")
	}
}

// updateStatistics loads, mutates and saves an account's statistics,
// retrying on optimistic version conflicts
func updateStatistics(ctx context.Context, repo StatisticsRepository, publisher events.Publisher, accountID string, mutate func(*stats.AccountStatistics)) error {
	var lastErr error
	for attempt := 0; attempt < statsSaveAttempts; attempt++ {
		s, err := repo.GetOrCreate(ctx, accountID)
		if err != nil {
			return err
		}

		mutate(s)
		if err := repo.Save(ctx, s); err != nil {
			if errors.Is(err, stats.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}

		publishEvents(ctx, publisher, s.TakeEvents())
		return nil
	}
	return fmt.Errorf("statistics save kept conflicting after %d attempts: %w", statsSaveAttempts, lastErr)
}

// publishEvents ships drained outbox events. Delivery is best-effort and
// decoupled from the aggregate write.
func publishEvents(ctx context.Context, publisher events.Publisher, evts []events.Event) {
	if publisher == nil || len(evts) == 0 {
		return
	}
	if err := publisher.Publish(ctx, evts...); err != nil {
		log.Error().Err(err).Int("count", len(evts)).Msg("Could not publish domain events")
	}
}
