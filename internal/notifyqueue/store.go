package notifyqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
)

// Store persists Tasks in the notification_tasks table. All methods take a
// context and the shared *sqlx.DB handle rather than holding a transaction
// open across a tick, since the orchestrator already serializes ticks
// and per-call transactions keep the store's own invariants local.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db for notification task persistence.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type taskRow struct {
	ID             string     `db:"id"`
	LogicalOrderID string     `db:"logical_order_id"`
	OrgName        string     `db:"org_name"`
	Type           string     `db:"type"`
	Status         string     `db:"status"`
	DueTime        time.Time  `db:"due_time"`
	Message        string     `db:"message"`
	SentAt         *time.Time `db:"sent_at"`
	CreatedRunID   string     `db:"created_run_id"`
	SentRunID      string     `db:"sent_run_id"`
	RetryCount     int        `db:"retry_count"`
	MaxRetryCount  int        `db:"max_retry_count"`
	CooldownHours  float64    `db:"cooldown_hours"`
	LastSentAt     *time.Time `db:"last_sent_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r taskRow) toTask() Task {
	return Task{
		ID:             r.ID,
		LogicalOrderID: r.LogicalOrderID,
		OrgName:        r.OrgName,
		Type:           Type(r.Type),
		Status:         Status(r.Status),
		DueTime:        r.DueTime,
		Message:        r.Message,
		SentAt:         r.SentAt,
		CreatedRunID:   r.CreatedRunID,
		SentRunID:      r.SentRunID,
		RetryCount:     r.RetryCount,
		MaxRetryCount:  r.MaxRetryCount,
		Cooldown:       time.Duration(r.CooldownHours * float64(time.Hour)),
		LastSentAt:     r.LastSentAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromTask(t Task) taskRow {
	return taskRow{
		ID:             t.ID,
		LogicalOrderID: t.LogicalOrderID,
		OrgName:        t.OrgName,
		Type:           string(t.Type),
		Status:         string(t.Status),
		DueTime:        t.DueTime,
		Message:        t.Message,
		SentAt:         t.SentAt,
		CreatedRunID:   t.CreatedRunID,
		SentRunID:      t.SentRunID,
		RetryCount:     t.RetryCount,
		MaxRetryCount:  t.MaxRetryCount,
		CooldownHours:  t.Cooldown.Hours(),
		LastSentAt:     t.LastSentAt,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// Save inserts a new task, assigning an ID if the caller left it blank. It
// returns agenterrors.ErrTaskAlreadyPending if a Pending task already
// exists for (LogicalOrderID, Type). This check alone holds the
// one-open-task-per-key invariant: the (logical_order_id, type) index is not
// unique, and the check is not raced because ticks never run concurrently.
func (s *Store) Save(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := t.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	existing, err := s.FindByLogicalIDAndType(ctx, t.LogicalOrderID, t.Type)
	if err != nil && !errors.Is(err, agenterrors.ErrTaskNotFound) {
		return Task{}, fmt.Errorf("failed to check existing task: %w", err)
	}
	if err == nil && existing.Status == StatusPending {
		return Task{}, fmt.Errorf("%w: logicalOrderId=%s type=%s",
			agenterrors.ErrTaskAlreadyPending, t.LogicalOrderID, t.Type)
	}

	row := fromTask(t)
	const insert = `
		INSERT INTO notification_tasks (
			id, logical_order_id, org_name, type, status, due_time, message,
			sent_at, created_run_id, sent_run_id, retry_count, max_retry_count,
			cooldown_hours, last_sent_at, created_at, updated_at
		) VALUES (
			:id, :logical_order_id, :org_name, :type, :status, :due_time, :message,
			:sent_at, :created_run_id, :sent_run_id, :retry_count, :max_retry_count,
			:cooldown_hours, :last_sent_at, :created_at, :updated_at
		)`
	if _, err := s.db.NamedExecContext(ctx, insert, row); err != nil {
		return Task{}, fmt.Errorf("failed to save notification task: %w", err)
	}
	return t, nil
}

// FindByLogicalIDAndType returns the most recently created task for a key,
// or agenterrors.ErrTaskNotFound if none exists; the plan phase's
// dedup/cooldown decision reads this.
func (s *Store) FindByLogicalIDAndType(ctx context.Context, logicalOrderID string, typ Type) (Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM notification_tasks
		WHERE logical_order_id = ? AND type = ?
		ORDER BY created_at DESC LIMIT 1
	`, logicalOrderID, string(typ))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("%w: %s/%s", agenterrors.ErrTaskNotFound, logicalOrderID, typ)
	}
	if err != nil {
		return Task{}, fmt.Errorf("failed to find task %s/%s: %w", logicalOrderID, typ, err)
	}
	return row.toTask(), nil
}

// FindPending returns every task awaiting dispatch, oldest due first, for
// the execute phase to walk.
func (s *Store) FindPending(ctx context.Context) ([]Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM notification_tasks WHERE status = ? ORDER BY due_time ASC`,
		string(StatusPending),
	); err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	out := make([]Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTask())
	}
	return out, nil
}

// FindOpenReminderTasksForOrg returns every Pending or Sent Reminder task
// for orgName, oldest due first. No plan or execute step calls it.
func (s *Store) FindOpenReminderTasksForOrg(ctx context.Context, orgName string) ([]Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM notification_tasks
		WHERE org_name = ? AND type = ? AND status IN (?, ?)
		ORDER BY due_time ASC
	`, orgName, string(TypeReminder), string(StatusPending), string(StatusSent)); err != nil {
		return nil, fmt.Errorf("failed to list reminder tasks for org %s: %w", orgName, err)
	}
	out := make([]Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTask())
	}
	return out, nil
}

// FindOpenEscalationTasksForOrg returns every Pending or Sent Escalation
// task for orgName, regardless of its logicalOrderId — used by the plan
// phase's legacy-escalation cleanup step to find per-order
// escalation rows left over from before the per-org aggregate existed.
func (s *Store) FindOpenEscalationTasksForOrg(ctx context.Context, orgName string) ([]Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM notification_tasks
		WHERE org_name = ? AND type = ? AND status IN (?, ?)
		ORDER BY due_time ASC
	`, orgName, string(TypeEscalation), string(StatusPending), string(StatusSent)); err != nil {
		return nil, fmt.Errorf("failed to list escalation tasks for org %s: %w", orgName, err)
	}
	out := make([]Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTask())
	}
	return out, nil
}

// UpdateStatus transitions a task to a new status, stamping SentAt/SentRunID
// when moving to Sent and bumping RetryCount when moving to Failed.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, runID string, now time.Time) error {
	switch status {
	case StatusSent:
		_, err := s.db.ExecContext(ctx, `
			UPDATE notification_tasks
			SET status = ?, sent_at = ?, sent_run_id = ?, last_sent_at = ?, updated_at = ?
			WHERE id = ?
		`, string(status), now, runID, now, now, id)
		if err != nil {
			return fmt.Errorf("failed to mark task %s sent: %w", id, err)
		}
	case StatusFailed:
		// A failed attempt still stamps last_sent_at: the cooldown clock
		// runs from the last attempt, so a failing webhook is retried once
		// per cooldown window rather than on every tick.
		_, err := s.db.ExecContext(ctx, `
			UPDATE notification_tasks
			SET status = ?, retry_count = retry_count + 1, last_sent_at = ?, updated_at = ?
			WHERE id = ?
		`, string(status), now, now, id)
		if err != nil {
			return fmt.Errorf("failed to mark task %s failed: %w", id, err)
		}
	default:
		_, err := s.db.ExecContext(ctx, `
			UPDATE notification_tasks SET status = ?, updated_at = ? WHERE id = ?
		`, string(status), now, id)
		if err != nil {
			return fmt.Errorf("failed to update task %s status: %w", id, err)
		}
	}
	return nil
}

// UpdateMessage records a task's rendered message. Callers only set it on
// the first successful render — a non-empty message is never overwritten,
// so retries reuse the original text.
func (s *Store) UpdateMessage(ctx context.Context, id string, message string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_tasks SET message = ?, updated_at = ? WHERE id = ?`,
		message, now, id)
	if err != nil {
		return fmt.Errorf("failed to update task %s message: %w", id, err)
	}
	return nil
}

// UpdateLastSent stamps LastSentAt without changing Status, which restarts
// the task's cooldown clock. No plan or execute step calls it.
func (s *Store) UpdateLastSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_tasks SET last_sent_at = ?, updated_at = ? WHERE id = ?`,
		sentAt, sentAt, id)
	if err != nil {
		return fmt.Errorf("failed to update task %s last_sent_at: %w", id, err)
	}
	return nil
}
