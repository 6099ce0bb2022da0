package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"agenda/internal/events"
	"agenda/internal/models"
	"agenda/internal/reminder"
	"agenda/internal/stats"
)

const (
	DefaultMaxCount    = 100
	DefaultConcurrency = 10
	DefaultGraceWindow = 30 * time.Minute
)

// RunOptions scopes one scan-and-dispatch pass
type RunOptions struct {
	AccountID   string    // empty scans every account
	BeforeTime  time.Time // zero means now
	MaxCount    int       // defaults to DefaultMaxCount
	Concurrency int       // chunk size, defaults to DefaultConcurrency
}

// RunReport summarises one pass. The counts cover the processed subset, not
// the full backlog when MaxCount truncated it.
type RunReport struct {
	SuccessCount int
	FailedCount  int
	SkippedCount int
	TotalCount   int
	Details      []TriggerResult
	Duration     time.Duration
}

// Loop scans for due reminders, filters them down to the effectively enabled
// ones and dispatches triggers in bounded chunks. It can run as a one-shot
// pass or as a ticker-driven daemon.
type Loop struct {
	templates  TemplateRepository
	statistics StatisticsRepository
	resolver   *reminder.ControlResolver
	executor   *TriggerExecutor
	publisher  events.Publisher

	// Used for the daemon mode
	isRunning  bool
	ticker     *time.Ticker
	context    context.Context
	cancelFunc context.CancelFunc
}

// NewLoop creates a scheduler loop
func NewLoop(templates TemplateRepository, statistics StatisticsRepository, resolver *reminder.ControlResolver, executor *TriggerExecutor, publisher events.Publisher) *Loop {
	return &Loop{
		templates:  templates,
		statistics: statistics,
		resolver:   resolver,
		executor:   executor,
		publisher:  publisher,
	}
}

// Run executes one scan-and-dispatch pass
func (l *Loop) Run(ctx context.Context, opts RunOptions) (RunReport, error) {
	started := time.Now()

	before := opts.BeforeTime
	if before.IsZero() {
		before = started
	}
	maxCount := opts.MaxCount
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	due, err := l.templates.FindDueBefore(ctx, before, opts.AccountID)
	if err != nil {
		return RunReport{}, fmt.Errorf("could not fetch due reminders: %w", err)
	}

	enabled, err := l.filterEnabled(ctx, due)
	if err != nil {
		return RunReport{}, err
	}

	// Oldest-due-first ordering is the repository's contract; truncation
	// keeps the head of the backlog
	if len(enabled) > maxCount {
		enabled = enabled[:maxCount]
	}

	report := l.dispatch(ctx, enabled, concurrency)
	report.Duration = time.Since(started)

	log.Info().
		Int("total", report.TotalCount).
		Int("success", report.SuccessCount).
		Int("failed", report.FailedCount).
		Int("skipped", report.SkippedCount).
		Dur("duration", report.Duration).
		Msg("Scheduler pass complete")
	return report, nil
}

// filterEnabled keeps only the effectively enabled templates, resolving
// group control in one batched lookup
func (l *Loop) filterEnabled(ctx context.Context, tpls []*reminder.Template) ([]*reminder.Template, error) {
	if len(tpls) == 0 {
		return nil, nil
	}

	statuses, err := l.resolver.EffectiveBatch(ctx, tpls)
	if err != nil {
		return nil, fmt.Errorf("could not resolve effective statuses: %w", err)
	}

	enabled := tpls[:0]
	for _, tpl := range tpls {
		if statuses[tpl.ID()] == models.ReminderActive {
			enabled = append(enabled, tpl)
		}
	}
	return enabled, nil
}

// dispatch processes the templates in chunks of the given size. Each chunk's
// triggers run together and the chunk is awaited before the next one starts,
// so at most `concurrency` triggers are in flight. Order within a chunk is
// unspecified; every trigger targets a distinct template.
func (l *Loop) dispatch(ctx context.Context, tpls []*reminder.Template, concurrency int) RunReport {
	var report RunReport

	for start := 0; start < len(tpls); start += concurrency {
		end := min(start+concurrency, len(tpls))
		chunk := tpls[start:end]

		results := make([]TriggerResult, len(chunk))
		var wg sync.WaitGroup
		for i, tpl := range chunk {
			wg.Add(1)
			go func(i int, tpl *reminder.Template) {
				defer wg.Done()
				results[i] = l.executor.SafeTrigger(ctx, TriggerRequest{Template: tpl})
			}(i, tpl)
		}
		wg.Wait()

		for _, r := range results {
			report.TotalCount++
			switch r.Status {
			case models.ExecSuccess:
				report.SuccessCount++
			case models.ExecSkipped:
				report.SkippedCount++
			default:
				report.FailedCount++
			}
			report.Details = append(report.Details, r)
		}
	}
	return report
}

// HandleOverdue applies one policy to every reminder overdue by more than the
// grace window: trigger it immediately, skip it with an audit entry, or just
// advance its next trigger time.
func (l *Loop) HandleOverdue(ctx context.Context, accountID string, action models.OverdueAction, grace time.Duration) (RunReport, error) {
	started := time.Now()
	if grace <= 0 {
		grace = DefaultGraceWindow
	}

	due, err := l.templates.FindDueBefore(ctx, started.Add(-grace), accountID)
	if err != nil {
		return RunReport{}, fmt.Errorf("could not fetch overdue reminders: %w", err)
	}

	var report RunReport
	for _, tpl := range due {
		if !tpl.Overdue(started, grace) {
			continue
		}

		var result TriggerResult
		switch action {
		case models.OverdueTrigger:
			result = l.executor.SafeTrigger(ctx, TriggerRequest{Template: tpl})

		case models.OverdueSkip:
			result = l.skipOverdue(ctx, tpl, started)

		case models.OverdueReschedule:
			tpl.AdvanceNextTrigger(started)
			if err := l.templates.Save(ctx, tpl); err != nil {
				result = TriggerResult{TemplateID: tpl.ID(), Status: models.ExecFailed, Error: err.Error()}
			} else {
				// No trigger outcome is recorded for a plain reschedule
				result = TriggerResult{TemplateID: tpl.ID(), Status: models.ExecSkipped, Reason: "rescheduled"}
			}

		default:
			return RunReport{}, fmt.Errorf("unknown overdue action %q", action)
		}

		report.TotalCount++
		switch result.Status {
		case models.ExecSuccess:
			report.SuccessCount++
		case models.ExecSkipped:
			report.SkippedCount++
		default:
			report.FailedCount++
		}
		report.Details = append(report.Details, result)
	}

	report.Duration = time.Since(started)
	return report, nil
}

// skipOverdue records a skipped outcome and advances the next trigger so the
// backlog does not repeat indefinitely
func (l *Loop) skipOverdue(ctx context.Context, tpl *reminder.Template, now time.Time) TriggerResult {
	due := now
	if next := tpl.NextTriggerTime(); next != nil {
		due = *next
	}

	entry := reminder.NewHistoryEntry(tpl, due, models.ExecSkipped, SkipReasonOverdue, "")
	if err := l.templates.AppendHistory(ctx, entry); err != nil {
		return TriggerResult{TemplateID: tpl.ID(), Status: models.ExecFailed, Error: err.Error()}
	}

	tpl.AdvanceNextTrigger(now)
	if err := l.templates.Save(ctx, tpl); err != nil {
		return TriggerResult{TemplateID: tpl.ID(), Status: models.ExecFailed, Error: err.Error()}
	}

	l.bumpSkip(ctx, tpl.AccountID())
	return TriggerResult{TemplateID: tpl.ID(), Status: models.ExecSkipped, Reason: SkipReasonOverdue}
}

func (l *Loop) bumpSkip(ctx context.Context, accountID string) {
	err := updateStatistics(ctx, l.statistics, l.publisher, accountID, func(s *stats.AccountStatistics) {
		s.OnExecution(models.ModuleReminder, models.ExecSkipped)
	})
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("Could not update statistics")
	}
}

// RecalculateStatistics rebuilds the reminder-module counters for one account
// from the persisted templates and their trigger history. Repair/backfill
// path, not the hot path.
func (l *Loop) RecalculateStatistics(ctx context.Context, accountID string) error {
	tpls, err := l.templates.FindByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("could not load templates for account %s: %w", accountID, err)
	}

	taskStatuses := make([]models.TaskStatus, 0, len(tpls))
	var execStatuses []models.ExecutionStatus
	for _, tpl := range tpls {
		if tpl.SelfEnabled() {
			taskStatuses = append(taskStatuses, models.TaskActive)
		} else {
			taskStatuses = append(taskStatuses, models.TaskPaused)
		}

		history, err := l.templates.ListHistory(ctx, tpl.ID())
		if err != nil {
			return fmt.Errorf("could not load history for template %s: %w", tpl.ID(), err)
		}
		for _, entry := range history {
			execStatuses = append(execStatuses, entry.Status)
		}
	}

	counters := stats.RecomputeModule(taskStatuses, execStatuses)
	return updateStatistics(ctx, l.statistics, l.publisher, accountID, func(s *stats.AccountStatistics) {
		s.ReplaceModule(models.ModuleReminder, counters)
	})
}

// Start runs the loop as a daemon, executing one pass per tick with the given
// options. A pass still in flight when the next tick fires is not doubled up.
func (l *Loop) Start(ctx context.Context, interval time.Duration, opts RunOptions) {
	if l.isRunning {
		return
	}

	l.isRunning = true
	l.ticker = time.NewTicker(interval)
	l.context, l.cancelFunc = context.WithCancel(ctx)

	go func() {
		var passRunning atomic.Bool
		for {
			select {
			case <-l.context.Done():
				return
			case <-l.ticker.C:
				if !passRunning.CompareAndSwap(false, true) {
					continue
				}

				go func() {
					defer passRunning.Store(false)
					if _, err := l.Run(l.context, opts); err != nil {
						log.Error().Err(err).Msg("Scheduler pass failed")
					}
				}()
			}
		}
	}()
}

// Stop halts the daemon
func (l *Loop) Stop() {
	if !l.isRunning {
		return
	}

	l.cancelFunc()
	if l.ticker != nil {
		l.ticker.Stop()
	}
	l.isRunning = false
}
