// Package runtracker implements the run tracker: it opens and closes one
// Run record per tick and records per-step timing, inputs, outputs and
// errors in RunStep rows, so every tick leaves a full audit trail behind.
package runtracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
)

// Status is a Run's lifecycle state.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Run is one tick's audit header.
type Run struct {
	ID                     string
	TriggerTime            time.Time
	EndTime                *time.Time
	Status                 Status
	OpportunitiesProcessed int
	NotificationsSent      int
	Context                map[string]interface{}
	Errors                 []string
}

// Step is one RunStep row.
type Step struct {
	RunID           string
	StepName        string
	InputSummary    string
	OutputSummary   string
	Timestamp       time.Time
	DurationSeconds float64
	ErrorMessage    string
}

// Tracker persists Run/RunStep rows.
type Tracker struct {
	db *sqlx.DB
}

// New builds a Tracker.
func New(db *sqlx.DB) *Tracker {
	return &Tracker{db: db}
}

type runRow struct {
	ID                     string     `db:"id"`
	TriggerTime            time.Time  `db:"trigger_time"`
	EndTime                *time.Time `db:"end_time"`
	Status                 string     `db:"status"`
	Context                string     `db:"context"`
	OpportunitiesProcessed int        `db:"opportunities_processed"`
	NotificationsSent      int        `db:"notifications_sent"`
	Errors                 string     `db:"errors"`
}

// StartRun opens a new Run, stamping triggerTime and status Running.
// runContext is an opaque stats bag serialized as JSON.
func (t *Tracker) StartRun(ctx context.Context, triggerTime time.Time, runContext map[string]interface{}) (string, error) {
	id := uuid.NewString()
	contextJSON, err := json.Marshal(runContext)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run context: %w", err)
	}

	row := runRow{
		ID: id, TriggerTime: triggerTime, Status: string(StatusRunning),
		Context: string(contextJSON), Errors: "[]",
	}
	const insert = `
		INSERT INTO agent_runs (
			id, trigger_time, end_time, status, context,
			opportunities_processed, notifications_sent, errors
		) VALUES (
			:id, :trigger_time, :end_time, :status, :context,
			:opportunities_processed, :notifications_sent, :errors
		)`
	if _, err := t.db.NamedExecContext(ctx, insert, row); err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// FinishRun closes runID with a final status, stats, and the accumulated
// list of step error messages.
func (t *Tracker) FinishRun(ctx context.Context, runID string, endTime time.Time, status Status, opportunitiesProcessed, notificationsSent int, errs []string) error {
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to marshal run errors: %w", err)
	}
	_, err = t.db.ExecContext(ctx, `
		UPDATE agent_runs
		SET end_time = ?, status = ?, opportunities_processed = ?, notifications_sent = ?, errors = ?
		WHERE id = ?
	`, endTime, string(status), opportunitiesProcessed, notificationsSent, string(errsJSON), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// LogStep persists one RunStep row.
func (t *Tracker) LogStep(ctx context.Context, s Step) error {
	id := uuid.NewString()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO agent_history (
			id, run_id, step_name, input_data, output_data, timestamp, duration_seconds, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, s.RunID, s.StepName, s.InputSummary, s.OutputSummary, s.Timestamp, s.DurationSeconds, s.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to log step %s for run %s: %w", s.StepName, s.RunID, err)
	}
	return nil
}

// StepsForRun loads every RunStep recorded for runID, oldest first.
func (t *Tracker) StepsForRun(ctx context.Context, runID string) ([]Step, error) {
	type stepRow struct {
		ID              string    `db:"id"`
		RunID           string    `db:"run_id"`
		StepName        string    `db:"step_name"`
		InputData       string    `db:"input_data"`
		OutputData      string    `db:"output_data"`
		Timestamp       time.Time `db:"timestamp"`
		DurationSeconds float64   `db:"duration_seconds"`
		ErrorMessage    *string   `db:"error_message"`
	}
	var rows []stepRow
	if err := t.db.SelectContext(ctx, &rows,
		`SELECT * FROM agent_history WHERE run_id = ? ORDER BY timestamp ASC`, runID,
	); err != nil {
		return nil, fmt.Errorf("failed to list steps for run %s: %w", runID, err)
	}
	out := make([]Step, 0, len(rows))
	for _, r := range rows {
		s := Step{
			RunID: r.RunID, StepName: r.StepName, InputSummary: r.InputData,
			OutputSummary: r.OutputData, Timestamp: r.Timestamp, DurationSeconds: r.DurationSeconds,
		}
		if r.ErrorMessage != nil {
			s.ErrorMessage = *r.ErrorMessage
		}
		out = append(out, s)
	}
	return out, nil
}

// GetRun loads a Run by ID, for diagnostics.
func (t *Tracker) GetRun(ctx context.Context, runID string) (Run, error) {
	var row runRow
	if err := t.db.GetContext(ctx, &row, `SELECT * FROM agent_runs WHERE id = ?`, runID); err != nil {
		return Run{}, fmt.Errorf("%w: %s", agenterrors.ErrRunNotFound, runID)
	}
	return row.toRun(), nil
}

func (r runRow) toRun() Run {
	run := Run{
		ID: r.ID, TriggerTime: r.TriggerTime, EndTime: r.EndTime, Status: Status(r.Status),
		OpportunitiesProcessed: r.OpportunitiesProcessed, NotificationsSent: r.NotificationsSent,
	}
	_ = json.Unmarshal([]byte(r.Context), &run.Context)
	_ = json.Unmarshal([]byte(r.Errors), &run.Errors)
	return run
}

// StepScope is a scoped step logger: acquired at the start of a step, it
// writes its RunStep row on Close
// regardless of whether the step errored, attaching the error message if
// one was recorded via Fail.
type StepScope struct {
	tracker  *Tracker
	runID    string
	stepName string
	started  time.Time
	input    string
	output   string
	errMsg   string
}

// BeginStep opens a StepScope for stepName. Callers must defer scope.Close(ctx).
func (t *Tracker) BeginStep(runID, stepName, inputSummary string) *StepScope {
	return &StepScope{tracker: t, runID: runID, stepName: stepName, started: time.Now().UTC(), input: inputSummary}
}

// SetOutput records the step's output summary, written on Close.
func (s *StepScope) SetOutput(output string) {
	s.output = output
}

// Fail records that the step errored; Close still fires and persists err's
// message alongside whatever output was set before the failure.
func (s *StepScope) Fail(err error) {
	if err != nil {
		s.errMsg = err.Error()
	}
}

// Close persists the RunStep row. It is safe — and required — to call on
// every exit path, success or failure, mirroring a deferred scope exit.
func (s *StepScope) Close(ctx context.Context) error {
	duration := time.Since(s.started).Seconds()
	return s.tracker.LogStep(ctx, Step{
		RunID: s.runID, StepName: s.stepName, InputSummary: s.input, OutputSummary: s.output,
		Timestamp: time.Now().UTC(), DurationSeconds: duration, ErrorMessage: s.errMsg,
	})
}
