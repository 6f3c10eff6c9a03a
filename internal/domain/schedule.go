package domain

import "time"

// ScheduledTask is a Task template the Scheduler arms to fire once at a
// wall-clock time or repeatedly on a cron expression. The Scheduler
// exclusively owns ScheduledTask records; it enqueues copies of Task into
// the Task Queue when a record fires.
type ScheduledTask struct {
	ID             string     `json:"id"`
	Task           *Task      `json:"task"`
	IsRecurring    bool       `json:"is_recurring"`
	CronExpr       string     `json:"cron_expr,omitempty"`
	ExecuteAt      *time.Time `json:"execute_at,omitempty"`
	NextFireAt     *time.Time `json:"next_fire_at,omitempty"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
	Enabled        bool       `json:"enabled"`
}
