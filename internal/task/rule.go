package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrInvalidTimezone       = errors.New("invalid timezone")
	ErrInvalidWindow         = errors.New("trigger window start must be before window end")
	ErrInvalidMaxExecutions  = errors.New("max executions must be positive")
)

// ruleParser accepts standard 5-field expressions plus an optional seconds
// field, same precision the rest of the system schedules at
var ruleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TriggerRule is an immutable value describing a cron-like recurrence: the
// expression, the timezone it is evaluated in, an optional validity window
// and an optional cap on total occurrences. Replace it wholesale via
// NewTriggerRule; there are no mutators.
type TriggerRule struct {
	cronExpression string
	timezone       string
	windowStart    *time.Time
	windowEnd      *time.Time
	maxExecutions  *int64

	sched cron.Schedule
}

// RuleOption configures optional TriggerRule fields at construction
type RuleOption func(*TriggerRule)

// WithWindow bounds the rule to [start, end). A zero time leaves that side
// open.
func WithWindow(start, end time.Time) RuleOption {
	return func(r *TriggerRule) {
		if !start.IsZero() {
			r.windowStart = &start
		}
		if !end.IsZero() {
			r.windowEnd = &end
		}
	}
}

// WithMaxExecutions caps the total number of occurrences
func WithMaxExecutions(n int64) RuleOption {
	return func(r *TriggerRule) {
		r.maxExecutions = &n
	}
}

// NewTriggerRule parses and validates a recurrence rule. The timezone is an
// IANA name ("Asia/Singapore"); empty defaults to UTC.
func NewTriggerRule(cronExpression, timezone string, opts ...RuleOption) (TriggerRule, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return TriggerRule{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}

	// Bind the timezone the same way cron expressions are stored elsewhere
	sched, err := ruleParser.Parse(fmt.Sprintf("CRON_TZ=%s %s", timezone, cronExpression))
	if err != nil {
		return TriggerRule{}, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, cronExpression, err)
	}

	rule := TriggerRule{
		cronExpression: cronExpression,
		timezone:       timezone,
		sched:          sched,
	}
	for _, opt := range opts {
		opt(&rule)
	}

	if rule.windowStart != nil && rule.windowEnd != nil && !rule.windowStart.Before(*rule.windowEnd) {
		return TriggerRule{}, ErrInvalidWindow
	}
	if rule.maxExecutions != nil && *rule.maxExecutions <= 0 {
		return TriggerRule{}, ErrInvalidMaxExecutions
	}

	return rule, nil
}

func (r TriggerRule) CronExpression() string { return r.cronExpression }
func (r TriggerRule) Timezone() string       { return r.timezone }

// Window returns the validity bounds; a nil side is unbounded
func (r TriggerRule) Window() (start, end *time.Time) {
	return r.windowStart, r.windowEnd
}

// MaxExecutions returns the occurrence cap, or nil when uncapped
func (r TriggerRule) MaxExecutions() *int64 {
	return r.maxExecutions
}

// NextRun computes the first occurrence strictly after the given time, given
// how many executions have already happened. The second return is false when
// the rule has no further occurrences (window closed or cap reached).
func (r TriggerRule) NextRun(after time.Time, executionCount int64) (time.Time, bool) {
	if r.sched == nil {
		return time.Time{}, false
	}
	if r.maxExecutions != nil && executionCount >= *r.maxExecutions {
		return time.Time{}, false
	}
	if r.windowStart != nil && after.Before(*r.windowStart) {
		// First occurrence at or after the window opens
		after = r.windowStart.Add(-time.Second)
	}

	next := r.sched.Next(after)
	if next.IsZero() {
		return time.Time{}, false
	}
	if r.windowEnd != nil && !next.Before(*r.windowEnd) {
		return time.Time{}, false
	}
	return next, true
}

// Expired reports whether the rule can never fire again
func (r TriggerRule) Expired(now time.Time, executionCount int64) bool {
	_, ok := r.NextRun(now, executionCount)
	return !ok
}
