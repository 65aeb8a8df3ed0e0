package domain

import (
	"time"
)

// ScheduleType selects the recurrence rule of a scheduled task.
type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "once"
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleMonthly  ScheduleType = "monthly"
	ScheduleCron     ScheduleType = "cron"
)

func (s ScheduleType) IsValid() bool {
	switch s {
	case ScheduleOnce, ScheduleInterval, ScheduleDaily, ScheduleWeekly, ScheduleMonthly, ScheduleCron:
		return true
	}
	return false
}

// ScheduleConfig is the tagged union of schedule variants. Exactly the
// fields for the task's ScheduleType are consulted; the rest stay zero.
type ScheduleConfig struct {
	// Once
	RunAt *time.Time `json:"run_at,omitempty"`

	// Interval
	IntervalSeconds int `json:"interval_seconds,omitempty"`

	// Daily / Weekly / Monthly
	Hour      int   `json:"hour,omitempty"`
	Minute    int   `json:"minute,omitempty"`
	Weekdays  []int `json:"weekdays,omitempty"`   // 0 = Monday
	MonthDays []int `json:"month_days,omitempty"` // 1-31, clamped to month length

	// Cron
	Expression string `json:"expression,omitempty"`

	// Timezone applies to daily/weekly/monthly/cron. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// TaskType selects the payload variant and therefore the executor.
type TaskType string

const (
	TaskHTTP         TaskType = "http"
	TaskFunction     TaskType = "function"
	TaskCommand      TaskType = "command"
	TaskGoal         TaskType = "goal"
	TaskNotification TaskType = "notification"
)

func (t TaskType) IsValid() bool {
	switch t {
	case TaskHTTP, TaskFunction, TaskCommand, TaskGoal, TaskNotification:
		return true
	}
	return false
}

// TaskPayload is the tagged union of task payloads. The http variant is
// handled by the built-in executor; every other variant needs a registered
// handler for its TaskType.
type TaskPayload struct {
	Type TaskType `json:"type"`

	// http
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`

	// function
	Function string         `json:"function,omitempty"`
	Args     map[string]any `json:"args,omitempty"`

	// command
	Command string `json:"command,omitempty"`

	// goal
	GoalID string `json:"goal_id,omitempty"`
	Action string `json:"action,omitempty"`

	// notification
	NotificationID string `json:"notification_id,omitempty"`
}

// TaskStatus tracks the scheduler lifecycle of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskRunning   TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// ExecutionStatus is the outcome class of a single task run.
type ExecutionStatus string

const (
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimeout   ExecutionStatus = "timeout"
	ExecutionSkipped   ExecutionStatus = "skipped"
)

// Execution is one scheduler-driven run of a task.
type Execution struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id"`
	ScheduledTime time.Time       `json:"scheduled_time"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Status        ExecutionStatus `json:"status"`
	Result        string          `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	DurationMS    int64           `json:"duration_ms"`
}

// MaxExecutionHistory bounds the per-task execution log.
const MaxExecutionHistory = 50

// Task is a time-scheduled unit of work.
type Task struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ScheduleType ScheduleType   `json:"schedule_type"`
	Schedule     ScheduleConfig `json:"schedule"`
	Payload      TaskPayload    `json:"payload"`
	Status       TaskStatus     `json:"status"`
	NextRunAt    *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt    *time.Time     `json:"last_run_at,omitempty"`
	StartDate    *time.Time     `json:"start_date,omitempty"`
	EndDate      *time.Time     `json:"end_date,omitempty"`

	TimeoutSeconds    int  `json:"timeout_seconds"`
	MaxRetries        int  `json:"max_retries"`
	RetryDelaySeconds int  `json:"retry_delay_seconds"`
	AllowOverlap      bool `json:"allow_overlap"`

	TotalRuns      int `json:"total_runs"`
	SuccessfulRuns int `json:"successful_runs"`
	FailedRuns     int `json:"failed_runs"`

	Executions []Execution `json:"executions,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	OwnerID    string      `json:"owner_id,omitempty"`
	TenantID   string      `json:"tenant_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// InWindow reports whether now is admitted by the optional
// [start_date, end_date] window.
func (t *Task) InWindow(now time.Time) bool {
	if t.StartDate != nil && now.Before(*t.StartDate) {
		return false
	}
	if t.EndDate != nil && now.After(*t.EndDate) {
		return false
	}
	return true
}

// AppendExecution appends e and trims the log to the newest
// MaxExecutionHistory entries.
func (t *Task) AppendExecution(e Execution) {
	t.Executions = append(t.Executions, e)
	if len(t.Executions) > MaxExecutionHistory {
		t.Executions = t.Executions[len(t.Executions)-MaxExecutionHistory:]
	}
}

// Validate checks the schedule variant invariants.
func (t *Task) Validate() error {
	if !t.ScheduleType.IsValid() || !t.Payload.Type.IsValid() {
		return ErrInvalidSchedule
	}
	switch t.ScheduleType {
	case ScheduleOnce:
		if t.Schedule.RunAt == nil {
			return ErrInvalidSchedule
		}
	case ScheduleInterval:
		if t.Schedule.IntervalSeconds < 1 {
			return ErrInvalidSchedule
		}
	case ScheduleDaily, ScheduleWeekly, ScheduleMonthly:
		if t.Schedule.Hour < 0 || t.Schedule.Hour > 23 {
			return ErrInvalidSchedule
		}
		if t.Schedule.Minute < 0 || t.Schedule.Minute > 59 {
			return ErrInvalidSchedule
		}
		for _, d := range t.Schedule.Weekdays {
			if d < 0 || d > 6 {
				return ErrInvalidSchedule
			}
		}
		for _, d := range t.Schedule.MonthDays {
			if d < 1 || d > 31 {
				return ErrInvalidSchedule
			}
		}
	case ScheduleCron:
		if t.Schedule.Expression == "" {
			return ErrInvalidSchedule
		}
	}
	return nil
}
