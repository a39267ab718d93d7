// Package notifyqueue implements the notification task store: the
// durable record of every reminder/escalation decision the agent has made,
// so a tick can tell "already notified" from "newly due" and enforce the
// one-Pending-task-per-key invariant.
package notifyqueue

import "time"

// Type distinguishes the two escalation tiers.
type Type string

const (
	TypeReminder   Type = "Reminder"
	TypeEscalation Type = "Escalation"
)

// Status is a NotificationTask's lifecycle state.
type Status string

const (
	StatusPending Status = "Pending"
	StatusSent    Status = "Sent"
	StatusFailed  Status = "Failed"
)

// Task is one notification decision: either still waiting to be sent, or a
// record of the outcome of trying.
type Task struct {
	ID             string
	LogicalOrderID string // order number, or "ESCALATION_<org>" for an org-level aggregate
	OrgName        string
	Type           Type
	Status         Status
	DueTime        time.Time
	Message        string
	SentAt         *time.Time
	CreatedRunID   string
	SentRunID      string
	RetryCount     int
	MaxRetryCount  int
	Cooldown       time.Duration
	LastSentAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EscalationLogicalID builds the aggregate dedup key used for org-level
// escalation notifications, "ESCALATION_" + orgName, distinct from the
// per-order key reminders use.
func EscalationLogicalID(orgName string) string {
	return "ESCALATION_" + orgName
}

// CanRetry reports whether a Failed task is still eligible for another
// send attempt under the configured retry cap.
func (t Task) CanRetry() bool {
	return t.Status == StatusFailed && t.RetryCount < t.MaxRetryCount
}

// InCooldown reports whether t was sent recently enough that a new
// notification for the same key should be suppressed.
func (t Task) InCooldown(now time.Time) bool {
	if t.LastSentAt == nil {
		return false
	}
	return now.Sub(*t.LastSentAt) < t.Cooldown
}

// ShouldSendNow is the execute-phase eligibility test: a task is due iff
// it is Pending, not in cooldown, and hasn't exhausted its retry budget.
func (t Task) ShouldSendNow(now time.Time) bool {
	return t.Status == StatusPending && !t.InCooldown(now) && t.RetryCount < t.MaxRetryCount
}
