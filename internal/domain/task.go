// Package domain holds the entities shared across the Task Queue,
// Scheduler, Bot, Coordinator, and Campaign packages, so those packages can
// depend on a common vocabulary without importing one another.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TaskType bounds the orchestrator's task surface. The core is not a
// general job runner — these five are the only task types it schedules.
type TaskType string

const (
	TaskSwap          TaskType = "swap"
	TaskTransfer      TaskType = "transfer"
	TaskBalance       TaskType = "balance"
	TaskMigratePool   TaskType = "migrate-pool"
	TaskConsolidate   TaskType = "consolidate"
)

// Priority is one of four dispatch classes, highest first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskRetry      TaskStatus = "retry"
)

// Task is the unit of work the Task Queue dispatches to a Worker.
type Task struct {
	ID          string                 `json:"id"`
	Type        TaskType               `json:"type"`
	Payload     map[string]interface{} `json:"payload"`
	Priority    Priority               `json:"priority"`
	Status      TaskStatus             `json:"status"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
	TimeoutMS   int64                  `json:"timeout_ms"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	WalletID    string                 `json:"wallet_id,omitempty"`
	BotID       string                 `json:"bot_id,omitempty"`
	CampaignID  string                 `json:"campaign_id,omitempty"`

	// seq preserves enqueue order within a priority class; assigned by the
	// queue at enqueue time, not by callers.
	seq uint64
}

// Seq returns the queue-assigned enqueue sequence number (0 if unassigned).
func (t *Task) Seq() uint64 { return t.seq }

// SetSeq is used only by the Task Queue to stamp FIFO ordering within a
// priority class.
func (t *Task) SetSeq(s uint64) { t.seq = s }

// NewTask constructs a Task with a fresh ID and sane defaults, mirroring
// the teacher's SubmitOrder default-filling.
func NewTask(typ TaskType, priority Priority, payload map[string]interface{}) *Task {
	return &Task{
		ID:         uuid.New().String(),
		Type:       typ,
		Payload:    payload,
		Priority:   priority,
		Status:     TaskPending,
		MaxRetries: 3,
		TimeoutMS:  30_000,
		CreatedAt:  time.Now().UTC(),
	}
}

// TradeSide is buy or sell.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// TradeRecord is an append-only record of a completed (or failed) swap
// attempt, created on worker completion.
type TradeRecord struct {
	ID           string          `json:"id"`
	BotID        string          `json:"bot_id"`
	WalletID     string          `json:"wallet_id"`
	CampaignID   string          `json:"campaign_id,omitempty"`
	TokenMint    string          `json:"token_mint"`
	Side         TradeSide       `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	Fees         decimal.Decimal `json:"fees"`
	Signature    string          `json:"signature"`
	Timestamp    time.Time       `json:"timestamp"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// NewTradeRecord stamps a new trade record with a fresh ID and timestamp.
func NewTradeRecord() *TradeRecord {
	return &TradeRecord{ID: uuid.New().String(), Timestamp: time.Now().UTC()}
}
